// Package pool implements the ConnectionPool, QueryExecutor, and Transaction
// components of spec §4.1–§4.3: one writer connection plus a fixed-size ring
// of reader connections, a stateless query-execution layer shared by both,
// and a scoped writer transaction.
//
// The statement-caching and single-writer-connection shape is grounded on
// the teacher's internal/database/db.go: a dedicated write *sql.Conn, a
// bounded LRU of prepared statements per connection, and explicit pragma
// application on open.
package pool

import (
	"context"
	"database/sql"
	"fmt"
	"reflect"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/assetcorp/sirannon/internal/sirannonerr"
)

// Row is a single result row keyed by column name, the shape spec §4.1
// requires QueryExecutor.query to return.
type Row map[string]any

// ExecResult is the result of a mutation (spec §4.1 execute()).
type ExecResult struct {
	Changes         int64
	LastInsertRowID int64
}

// sqlExecutor is satisfied by *sql.DB, *sql.Conn, and *sql.Tx — every scope
// QueryExecutor runs against.
type sqlExecutor interface {
	PrepareContext(ctx context.Context, query string) (*sql.Stmt, error)
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

const defaultStmtCacheSize = 128

// stmtCache is a bounded LRU of prepared statements for a single connection.
// Capacity overflow evicts (and closes) the oldest entry, per spec §4.1.
type stmtCache struct {
	cache *lru.Cache[string, *sql.Stmt]
}

func newStmtCache(size int) *stmtCache {
	if size <= 0 {
		size = defaultStmtCacheSize
	}
	c, _ := lru.NewWithEvict[string, *sql.Stmt](size, func(_ string, stmt *sql.Stmt) {
		_ = stmt.Close()
	})
	return &stmtCache{cache: c}
}

func (sc *stmtCache) get(ctx context.Context, raw sqlExecutor, query string) (*sql.Stmt, error) {
	if stmt, ok := sc.cache.Get(query); ok {
		return stmt, nil
	}
	stmt, err := raw.PrepareContext(ctx, query)
	if err != nil {
		return nil, err
	}
	sc.cache.Add(query, stmt)
	return stmt, nil
}

func (sc *stmtCache) close() {
	for _, key := range sc.cache.Keys() {
		if stmt, ok := sc.cache.Peek(key); ok {
			_ = stmt.Close()
		}
	}
	sc.cache.Purge()
}

// toArgs normalizes spec §4.1's positional ([]any) or named (map[string]any)
// parameter forms into driver arguments.
func toArgs(params any) ([]any, error) {
	switch p := params.(type) {
	case nil:
		return nil, nil
	case []any:
		return p, nil
	case map[string]any:
		args := make([]any, 0, len(p))
		for k, v := range p {
			args = append(args, sql.Named(k, v))
		}
		return args, nil
	default:
		// Accept any other slice/map shape reflectively so callers that
		// decode JSON into concrete types aren't forced through []any.
		rv := reflect.ValueOf(params)
		switch rv.Kind() {
		case reflect.Slice, reflect.Array:
			args := make([]any, rv.Len())
			for i := 0; i < rv.Len(); i++ {
				args[i] = rv.Index(i).Interface()
			}
			return args, nil
		case reflect.Map:
			args := make([]any, 0, rv.Len())
			for _, key := range rv.MapKeys() {
				args = append(args, sql.Named(fmt.Sprint(key.Interface()), rv.MapIndex(key).Interface()))
			}
			return args, nil
		default:
			return nil, fmt.Errorf("unsupported parameter shape %T", params)
		}
	}
}

func scanRows(rows *sql.Rows) ([]Row, error) {
	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	out := make([]Row, 0)
	for rows.Next() {
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		row := make(Row, len(cols))
		for i, col := range cols {
			row[col] = normalizeValue(values[i])
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// normalizeValue turns driver []byte (TEXT/BLOB columns the sqlite driver
// hands back as []byte) into string so JSON encoding of rows doesn't base64
// every text column by accident.
func normalizeValue(v any) any {
	if b, ok := v.([]byte); ok {
		return string(b)
	}
	return v
}

func toExecResult(res sql.Result) (ExecResult, error) {
	changes, err := res.RowsAffected()
	if err != nil {
		return ExecResult{}, err
	}
	lastID, err := res.LastInsertId()
	if err != nil {
		// Not every statement produces a rowid (e.g. UPDATE); that's fine.
		lastID = 0
	}
	return ExecResult{Changes: changes, LastInsertRowID: lastID}, nil
}

// Query runs sqlText against raw, returning every matching row (empty slice
// for no matches, never nil) — spec §4.1.
func query(ctx context.Context, raw sqlExecutor, cache *stmtCache, sqlText string, params any) ([]Row, error) {
	args, err := toArgs(params)
	if err != nil {
		return nil, sirannonerr.QueryError(sqlText, err)
	}

	stmt, stmtErr := cache.get(ctx, raw, sqlText)
	var rows *sql.Rows
	if stmtErr != nil {
		rows, err = raw.QueryContext(ctx, sqlText, args...)
	} else {
		rows, err = stmt.QueryContext(ctx, args...)
	}
	if err != nil {
		return nil, sirannonerr.QueryError(sqlText, err)
	}
	defer rows.Close()

	result, err := scanRows(rows)
	if err != nil {
		return nil, sirannonerr.QueryError(sqlText, err)
	}
	return result, nil
}

// queryOne returns the first row, or (nil, false, nil) when there are none.
func queryOne(ctx context.Context, raw sqlExecutor, cache *stmtCache, sqlText string, params any) (Row, bool, error) {
	rows, err := query(ctx, raw, cache, sqlText, params)
	if err != nil {
		return nil, false, err
	}
	if len(rows) == 0 {
		return nil, false, nil
	}
	return rows[0], true, nil
}

// execute runs a mutation, returning rows-changed and last-insert-rowid —
// spec §4.1. lastInsertRowId is preserved as int64 so callers may exceed 32
// bits without loss; JSON stringification for values beyond 2^53-1 is the
// transport layer's concern, not this one's.
func execute(ctx context.Context, raw sqlExecutor, cache *stmtCache, sqlText string, params any) (ExecResult, error) {
	args, err := toArgs(params)
	if err != nil {
		return ExecResult{}, sirannonerr.QueryError(sqlText, err)
	}

	stmt, stmtErr := cache.get(ctx, raw, sqlText)
	var res sql.Result
	if stmtErr != nil {
		res, err = raw.ExecContext(ctx, sqlText, args...)
	} else {
		res, err = stmt.ExecContext(ctx, args...)
	}
	if err != nil {
		return ExecResult{}, sirannonerr.QueryError(sqlText, err)
	}
	return toExecResult(res)
}

// executeBatch prepares sqlText once and runs it once per params row — spec
// §4.1. An empty batch returns an empty (non-nil) slice.
func executeBatch(ctx context.Context, raw sqlExecutor, cache *stmtCache, sqlText string, paramsBatch []any) ([]ExecResult, error) {
	results := make([]ExecResult, 0, len(paramsBatch))
	if len(paramsBatch) == 0 {
		return results, nil
	}

	stmt, err := cache.get(ctx, raw, sqlText)
	if err != nil {
		return nil, sirannonerr.QueryError(sqlText, err)
	}

	for _, params := range paramsBatch {
		args, err := toArgs(params)
		if err != nil {
			return nil, sirannonerr.QueryError(sqlText, err)
		}
		res, err := stmt.ExecContext(ctx, args...)
		if err != nil {
			return nil, sirannonerr.QueryError(sqlText, err)
		}
		execRes, err := toExecResult(res)
		if err != nil {
			return nil, sirannonerr.QueryError(sqlText, err)
		}
		results = append(results, execRes)
	}
	return results, nil
}
