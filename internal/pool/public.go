package pool

import (
	"context"
	"database/sql"
)

// Query runs sql against this connection — spec §4.1 QueryExecutor.query.
func (c *connHandle) Query(ctx context.Context, sqlText string, params any) ([]Row, error) {
	return query(ctx, c.db, c.cache, sqlText, params)
}

// QueryOne returns the first matching row, or false when there are none —
// spec §4.1 QueryExecutor.queryOne.
func (c *connHandle) QueryOne(ctx context.Context, sqlText string, params any) (Row, bool, error) {
	return queryOne(ctx, c.db, c.cache, sqlText, params)
}

// Execute runs a mutation — spec §4.1 QueryExecutor.execute.
func (c *connHandle) Execute(ctx context.Context, sqlText string, params any) (ExecResult, error) {
	return execute(ctx, c.db, c.cache, sqlText, params)
}

// ExecuteBatch runs sqlText once per row in paramsBatch — spec §4.1
// QueryExecutor.executeBatch.
func (c *connHandle) ExecuteBatch(ctx context.Context, sqlText string, paramsBatch []any) ([]ExecResult, error) {
	return executeBatch(ctx, c.db, c.cache, sqlText, paramsBatch)
}

// DB exposes the underlying *sql.DB for subsystems that need driver-level
// access the QueryExecutor surface doesn't cover: transaction begin, DDL for
// trigger installation, and the online backup API.
func (c *connHandle) DB() *sql.DB {
	return c.db
}

// Conn is the public handle type returned by AcquireReader/AcquireWriter.
type Conn = connHandle
