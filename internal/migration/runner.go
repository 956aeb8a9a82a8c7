package migration

import (
	"context"
	"time"

	"github.com/assetcorp/sirannon/internal/pool"
	"github.com/assetcorp/sirannon/internal/sirannonerr"
)

const defaultMigrationsTable = "_sirannon_migrations"

// Record is one applied migration's tracking row — spec §4.6.
type Record struct {
	Version   int
	Name      string
	AppliedAt time.Time
}

// Result is Migrate's return value — spec §4.6.
type Result struct {
	Applied []Record
	Skipped int
}

// RunnerOptions configures a Runner.
type RunnerOptions struct {
	TableName string // defaults to _sirannon_migrations
}

// Runner discovers, orders, validates, and applies migrations against a
// pool's writer connection, tracking the applied set in a dedicated table —
// spec §4.6.
type Runner struct {
	pool  *pool.ConnectionPool
	table string
}

// NewRunner builds a Runner bound to p.
func NewRunner(p *pool.ConnectionPool, opts RunnerOptions) *Runner {
	if opts.TableName == "" {
		opts.TableName = defaultMigrationsTable
	}
	return &Runner{pool: p, table: opts.TableName}
}

// Migrate applies every migration file in dir not already recorded as
// applied, in a single transaction. Re-invoking against the same directory
// applies zero migrations on the second call — spec §4.6.
func (r *Runner) Migrate(ctx context.Context, dir string) (Result, error) {
	if r.pool.ReadOnly() {
		return Result{}, sirannonerr.New(sirannonerr.CodeReadOnly, "cannot run migrations against a read-only database")
	}

	candidates, err := discover(dir)
	if err != nil {
		return Result{}, err
	}

	writer, err := r.pool.AcquireWriter()
	if err != nil {
		return Result{}, err
	}

	var result Result

	txErr := pool.RunInTransaction(ctx, writer, func(tx *pool.Transaction) error {
		if err := r.ensureTable(ctx, tx); err != nil {
			return err
		}

		applied, err := r.appliedVersions(ctx, tx)
		if err != nil {
			return err
		}

		for _, c := range candidates {
			if applied[c.version] {
				result.Skipped++
				continue
			}

			script, err := readScript(c.path)
			if err != nil {
				return err
			}

			if _, err := tx.Execute(ctx, script, nil); err != nil {
				return sirannonerr.MigrationError(c.version, "execute migration "+c.name, err)
			}

			appliedAt := time.Now().UTC()
			insertSQL := "INSERT INTO " + quoteIdent(r.table) + " (version, name, applied_at) VALUES (?, ?, ?)"
			if _, err := tx.Execute(ctx, insertSQL, []any{c.version, c.name, appliedAt.Format(time.RFC3339Nano)}); err != nil {
				return sirannonerr.MigrationError(c.version, "record migration "+c.name, err)
			}

			result.Applied = append(result.Applied, Record{Version: c.version, Name: c.name, AppliedAt: appliedAt})
		}
		return nil
	})
	if txErr != nil {
		return Result{}, txErr
	}

	return result, nil
}

func (r *Runner) ensureTable(ctx context.Context, tx *pool.Transaction) error {
	ddl := "CREATE TABLE IF NOT EXISTS " + quoteIdent(r.table) + ` (
	version INTEGER PRIMARY KEY,
	name TEXT NOT NULL,
	applied_at TEXT NOT NULL
)`
	_, err := tx.Execute(ctx, ddl, nil)
	if err != nil {
		return sirannonerr.Wrap(sirannonerr.CodeMigrationError, "create migrations table", err)
	}
	return nil
}

func (r *Runner) appliedVersions(ctx context.Context, tx *pool.Transaction) (map[int]bool, error) {
	rows, err := tx.Query(ctx, "SELECT version FROM "+quoteIdent(r.table), nil)
	if err != nil {
		return nil, sirannonerr.Wrap(sirannonerr.CodeMigrationError, "read applied migrations", err)
	}
	applied := make(map[int]bool, len(rows))
	for _, row := range rows {
		switch v := row["version"].(type) {
		case int64:
			applied[int(v)] = true
		case float64:
			applied[int(v)] = true
		}
	}
	return applied, nil
}

func quoteIdent(name string) string {
	return `"` + name + `"`
}
