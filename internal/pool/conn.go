package pool

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // registers the "sqlite" driver
)

const (
	connectionSetupTimeout = 5 * time.Second
	busyTimeoutMillis      = 5000
)

// connHandle pairs a single-connection *sql.DB with its own bounded
// statement cache — spec §9: "caches live with connections, not with the
// Database", because prepared statements are not safe to share across
// connections.
type connHandle struct {
	db    *sql.DB
	cache *stmtCache
}

func (c *connHandle) close() error {
	c.cache.close()
	return c.db.Close()
}

// openWriter opens the single writer connection. It applies WAL (when
// requested), synchronous=NORMAL, foreign_keys=ON, and a busy timeout —
// spec §3 "Connection pool state".
func openWriter(ctx context.Context, path string, walMode bool) (*connHandle, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open writer connection: %w", err)
	}
	// A single physical connection: writes must be serialized onto one
	// SQLite connection regardless of how many goroutines call in.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	pragmas := []string{
		"PRAGMA synchronous = NORMAL",
		"PRAGMA foreign_keys = ON",
		fmt.Sprintf("PRAGMA busy_timeout = %d", busyTimeoutMillis),
	}
	if walMode {
		pragmas = append([]string{"PRAGMA journal_mode = WAL"}, pragmas...)
	}

	pctx, cancel := context.WithTimeout(ctx, connectionSetupTimeout)
	defer cancel()
	for _, p := range pragmas {
		if _, err := db.ExecContext(pctx, p); err != nil {
			db.Close()
			return nil, fmt.Errorf("apply writer pragma %q: %w", p, err)
		}
	}

	return &connHandle{db: db, cache: newStmtCache(defaultStmtCacheSize)}, nil
}

// openReader opens one read-only reader connection. Readers never set
// journal_mode (it is a database-wide setting the writer already applied)
// but do enable foreign_keys, per spec §3: "Pragmas applied on open: ...
// foreign_keys=ON (all)."
func openReader(ctx context.Context, path string) (*connHandle, error) {
	dsn := fmt.Sprintf("file:%s?mode=ro", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open reader connection: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	pragmas := []string{
		"PRAGMA foreign_keys = ON",
		fmt.Sprintf("PRAGMA busy_timeout = %d", busyTimeoutMillis),
	}

	pctx, cancel := context.WithTimeout(ctx, connectionSetupTimeout)
	defer cancel()
	for _, p := range pragmas {
		if _, err := db.ExecContext(pctx, p); err != nil {
			db.Close()
			return nil, fmt.Errorf("apply reader pragma %q: %w", p, err)
		}
	}

	return &connHandle{db: db, cache: newStmtCache(defaultStmtCacheSize)}, nil
}
