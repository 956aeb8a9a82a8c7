package pool

import (
	"context"
	"database/sql"

	"github.com/assetcorp/sirannon/internal/sirannonerr"
)

// Transaction is a scoped writer session — spec §4.3. It is obtained via
// RunInTransaction (which Database.transaction wraps) and exposes query,
// execute, executeBatch, and the last-insert-rowid of the most recent
// execute call within the transaction.
type Transaction struct {
	tx              *sql.Tx
	cache           *stmtCache
	lastInsertRowID int64
}

func beginTransaction(ctx context.Context, writer *Conn) (*Transaction, error) {
	tx, err := writer.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, sirannonerr.Wrap(sirannonerr.CodeTransactionError, "begin transaction", err)
	}
	// A small, transaction-scoped cache: statements prepared here are only
	// valid for this transaction's lifetime and are closed when it ends.
	return &Transaction{tx: tx, cache: newStmtCache(32)}, nil
}

func (t *Transaction) Query(ctx context.Context, sqlText string, params any) ([]Row, error) {
	return query(ctx, t.tx, t.cache, sqlText, params)
}

func (t *Transaction) QueryOne(ctx context.Context, sqlText string, params any) (Row, bool, error) {
	return queryOne(ctx, t.tx, t.cache, sqlText, params)
}

func (t *Transaction) Execute(ctx context.Context, sqlText string, params any) (ExecResult, error) {
	res, err := execute(ctx, t.tx, t.cache, sqlText, params)
	if err != nil {
		return ExecResult{}, err
	}
	t.lastInsertRowID = res.LastInsertRowID
	return res, nil
}

func (t *Transaction) ExecuteBatch(ctx context.Context, sqlText string, paramsBatch []any) ([]ExecResult, error) {
	results, err := executeBatch(ctx, t.tx, t.cache, sqlText, paramsBatch)
	if err != nil {
		return nil, err
	}
	if len(results) > 0 {
		t.lastInsertRowID = results[len(results)-1].LastInsertRowID
	}
	return results, nil
}

// LastInsertRowID is the read-only rowid of the most recent execute call —
// spec §4.3.
func (t *Transaction) LastInsertRowID() int64 {
	return t.lastInsertRowID
}

func (t *Transaction) commit() error {
	t.cache.close()
	return t.tx.Commit()
}

func (t *Transaction) rollback() error {
	t.cache.close()
	return t.tx.Rollback()
}

// RunInTransaction implements spec §4.3's commit-on-success /
// rollback-on-error semantics: BEGIN on entry, COMMIT when fn returns nil,
// ROLLBACK (and propagate) otherwise. Nested transactions are not supported:
// fn must not call RunInTransaction again on the same pool — doing so would
// deadlock waiting on the writer connection's single in-flight transaction.
func RunInTransaction(ctx context.Context, writer *Conn, fn func(*Transaction) error) error {
	txn, err := beginTransaction(ctx, writer)
	if err != nil {
		return err
	}

	if err := fn(txn); err != nil {
		if rbErr := txn.rollback(); rbErr != nil {
			return sirannonerr.Wrap(sirannonerr.CodeTransactionError, "rollback after error: "+rbErr.Error(), err)
		}
		if se, ok := err.(*sirannonerr.Error); ok {
			return se
		}
		return sirannonerr.Wrap(sirannonerr.CodeTransactionError, "transaction failed", err)
	}

	if err := txn.commit(); err != nil {
		return sirannonerr.Wrap(sirannonerr.CodeTransactionError, "commit transaction", err)
	}
	return nil
}
