// Package database implements the Database facade — spec §4.9. It composes
// a connection pool, CDC tracker/subscriptions, the migration runner,
// backup manager/scheduler, hook registries, and a metrics collector into
// one per-tenant handle.
package database

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/assetcorp/sirannon/internal/backup"
	"github.com/assetcorp/sirannon/internal/cdc"
	"github.com/assetcorp/sirannon/internal/hooks"
	"github.com/assetcorp/sirannon/internal/metrics"
	"github.com/assetcorp/sirannon/internal/migration"
	"github.com/assetcorp/sirannon/internal/pool"
	"github.com/assetcorp/sirannon/internal/sirannonerr"
	"github.com/rs/zerolog/log"
)

const defaultCDCPollInterval = 50 * time.Millisecond
const maxConsecutivePollFailures = 10

// Options configures a Database at construction — spec §4.9.
type Options struct {
	Path            string
	GlobalHooks     *hooks.Registry
	Metrics         *metrics.Collector
	CDCPollInterval time.Duration
	ChangeRetention time.Duration
	PollBatchSize   int
}

// Database is one tenant's handle onto a pool plus its cross-cutting
// subsystems — spec §4.9.
type Database struct {
	id   string
	path string
	pool *pool.ConnectionPool

	globalHooks *hooks.Registry
	localHooks  *hooks.Registry
	metrics     *metrics.Collector

	migrations *migration.Runner
	backupMgr  *backup.Manager

	cdcOpts TrackerConfig

	mu            sync.Mutex
	tracker       *cdc.ChangeTracker
	subs          *cdc.SubscriptionManager
	cdcCancel     context.CancelFunc
	backupCancels []func()

	closeListeners []func() error
	closed         atomic.Bool
}

// TrackerConfig carries the CDC tuning knobs from Options into the lazily
// constructed ChangeTracker.
type TrackerConfig struct {
	PollInterval time.Duration
	Retention    time.Duration
	BatchSize    int
}

// New builds a Database bound to an already-open pool.
func New(id string, p *pool.ConnectionPool, opts Options) *Database {
	if opts.CDCPollInterval <= 0 {
		opts.CDCPollInterval = defaultCDCPollInterval
	}
	return &Database{
		id:          id,
		path:        opts.Path,
		pool:        p,
		globalHooks: opts.GlobalHooks,
		localHooks:  hooks.New(),
		metrics:     opts.Metrics,
		migrations:  migration.NewRunner(p, migration.RunnerOptions{}),
		backupMgr:   backup.NewManager(opts.Path),
		cdcOpts: TrackerConfig{
			PollInterval: opts.CDCPollInterval,
			Retention:    opts.ChangeRetention,
			BatchSize:    opts.PollBatchSize,
		},
	}
}

// ID returns this database's registry identifier.
func (d *Database) ID() string { return d.id }

// ReadOnly reports whether this database's pool has no writer.
func (d *Database) ReadOnly() bool { return d.pool.ReadOnly() }

// Closed reports whether Close has completed.
func (d *Database) Closed() bool { return d.closed.Load() }

// IsMemory reports whether this database is backed by an in-memory
// SQLite connection rather than a file — CDC triggers would only ever be
// visible to the single connection that created them, so CDC is
// unsupported on these databases — spec §6 (WS subscribe: "Memory-backed
// DB ⇒ CDC_UNSUPPORTED").
func (d *Database) IsMemory() bool {
	return d.path == ":memory:" || strings.HasPrefix(d.path, "file::memory:")
}

func (d *Database) checkOpen() error {
	if d.closed.Load() {
		return sirannonerr.New(sirannonerr.CodeDatabaseClosed, "database "+d.id+" is closed")
	}
	return nil
}

// Query runs a read — spec §4.9 cross-cutting wrapping.
func (d *Database) Query(ctx context.Context, sqlText string, params any) ([]pool.Row, error) {
	if err := d.checkOpen(); err != nil {
		return nil, err
	}
	if err := d.fireBeforeQuery(ctx, sqlText, params); err != nil {
		return nil, err
	}
	reader, err := d.pool.AcquireReader()
	if err != nil {
		return nil, err
	}
	start := time.Now()
	rows, qErr := reader.Query(ctx, sqlText, params)
	d.finishQuery(ctx, sqlText, params, start, qErr)
	return rows, qErr
}

// QueryOne runs a read expecting at most one row.
func (d *Database) QueryOne(ctx context.Context, sqlText string, params any) (pool.Row, bool, error) {
	if err := d.checkOpen(); err != nil {
		return nil, false, err
	}
	if err := d.fireBeforeQuery(ctx, sqlText, params); err != nil {
		return nil, false, err
	}
	reader, err := d.pool.AcquireReader()
	if err != nil {
		return nil, false, err
	}
	start := time.Now()
	row, found, qErr := reader.QueryOne(ctx, sqlText, params)
	d.finishQuery(ctx, sqlText, params, start, qErr)
	return row, found, qErr
}

// Execute runs a mutation against the writer connection.
func (d *Database) Execute(ctx context.Context, sqlText string, params any) (pool.ExecResult, error) {
	if err := d.checkOpen(); err != nil {
		return pool.ExecResult{}, err
	}
	if err := d.fireBeforeQuery(ctx, sqlText, params); err != nil {
		return pool.ExecResult{}, err
	}
	writer, err := d.pool.AcquireWriter()
	if err != nil {
		return pool.ExecResult{}, err
	}
	start := time.Now()
	res, qErr := writer.Execute(ctx, sqlText, params)
	d.finishQuery(ctx, sqlText, params, start, qErr)
	return res, qErr
}

// ExecuteBatch runs sqlText once per row in paramsBatch against the writer
// connection.
func (d *Database) ExecuteBatch(ctx context.Context, sqlText string, paramsBatch []any) ([]pool.ExecResult, error) {
	if err := d.checkOpen(); err != nil {
		return nil, err
	}
	if err := d.fireBeforeQuery(ctx, sqlText, paramsBatch); err != nil {
		return nil, err
	}
	writer, err := d.pool.AcquireWriter()
	if err != nil {
		return nil, err
	}
	start := time.Now()
	res, qErr := writer.ExecuteBatch(ctx, sqlText, paramsBatch)
	d.finishQuery(ctx, sqlText, paramsBatch, start, qErr)
	return res, qErr
}

// Transaction runs fn inside a scoped writer transaction — spec §4.9/§4.3.
func (d *Database) Transaction(ctx context.Context, fn func(*pool.Transaction) error) error {
	if err := d.checkOpen(); err != nil {
		return err
	}
	if err := d.fireBeforeQuery(ctx, "<transaction>", nil); err != nil {
		return err
	}
	writer, err := d.pool.AcquireWriter()
	if err != nil {
		return err
	}
	start := time.Now()
	txErr := pool.RunInTransaction(ctx, writer, fn)
	d.finishQuery(ctx, "<transaction>", nil, start, txErr)
	return txErr
}

func (d *Database) fireBeforeQuery(ctx context.Context, sqlText string, params any) error {
	return hooks.FireDenying(ctx, d.globalHooks, d.localHooks, hooks.EventBeforeQuery,
		hooks.QueryPayload{DatabaseID: d.id, SQL: sqlText, Params: params})
}

func (d *Database) finishQuery(ctx context.Context, sqlText string, params any, start time.Time, err error) {
	duration := time.Since(start)
	if d.metrics != nil {
		d.metrics.RecordQuery(metrics.QueryEvent{DatabaseID: d.id, Duration: duration, Err: err})
	}
	hooks.FireSwallowing(ctx, d.globalHooks, d.localHooks, hooks.EventAfterQuery,
		hooks.AfterQueryPayload{DatabaseID: d.id, SQL: sqlText, Params: params, Duration: duration, Err: err})
}

// OnBeforeQuery registers a local beforeQuery listener.
func (d *Database) OnBeforeQuery(l hooks.Listener) (unsubscribe func()) {
	return d.localHooks.On(hooks.EventBeforeQuery, l)
}

// OnAfterQuery registers a local afterQuery listener.
func (d *Database) OnAfterQuery(l hooks.Listener) (unsubscribe func()) {
	return d.localHooks.On(hooks.EventAfterQuery, l)
}

// AddCloseListener registers fn to run during Close, after the pool has
// been closed. Errors are swallowed — spec §4.9.
func (d *Database) AddCloseListener(fn func() error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closeListeners = append(d.closeListeners, fn)
}

// Close stops CDC polling, cancels scheduled backups, closes the pool, and
// runs close listeners. Idempotent — spec §4.9.
func (d *Database) Close() error {
	if !d.closed.CompareAndSwap(false, true) {
		return nil
	}

	d.mu.Lock()
	if d.cdcCancel != nil {
		d.cdcCancel()
	}
	for _, cancel := range d.backupCancels {
		cancel()
	}
	listeners := d.closeListeners
	d.mu.Unlock()

	poolErr := d.pool.Close()

	for _, fn := range listeners {
		invokeCloseListener(fn)
	}

	if poolErr != nil {
		return sirannonerr.Wrap(sirannonerr.CodeInternalError, "close pool for database "+d.id, poolErr)
	}
	return nil
}

func invokeCloseListener(fn func() error) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Msg("close listener panicked")
		}
	}()
	if err := fn(); err != nil {
		log.Error().Err(err).Msg("close listener failed")
	}
}
