// Package registry implements the Sirannon entry point: a multi-tenant map
// of id -> Database, an optional lifecycle manager for auto-open/idle
// eviction, and a tenant-id resolver — spec §4.10-§4.12.
package registry

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/assetcorp/sirannon/internal/database"
	"github.com/assetcorp/sirannon/internal/hooks"
	"github.com/assetcorp/sirannon/internal/metrics"
	"github.com/assetcorp/sirannon/internal/pool"
	"github.com/assetcorp/sirannon/internal/sirannonerr"
)

// OpenOptions configures one call to Open — spec §4.10.
type OpenOptions struct {
	ReadOnly        bool
	ReadPoolSize    int
	WALMode         bool
	CDCPollInterval int64 // nanoseconds; zero uses the database package default
	ChangeRetention int64
	PollBatchSize   int
}

// Sirannon is the registry of live Database instances — spec §4.10.
type Sirannon struct {
	hooks   *hooks.Registry
	metrics *metrics.Collector

	mu        sync.Mutex
	databases map[string]*database.Database
	lifecycle *LifecycleManager
	shutdown  bool
}

// New builds an empty Sirannon registry.
func New(globalHooks *hooks.Registry, collector *metrics.Collector) *Sirannon {
	return &Sirannon{
		hooks:     globalHooks,
		metrics:   collector,
		databases: make(map[string]*database.Database),
	}
}

// SetLifecycle attaches a LifecycleManager used by Get to auto-open
// databases that aren't currently registered.
func (s *Sirannon) SetLifecycle(lm *LifecycleManager) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lifecycle = lm
}

// LifecycleCallbacks returns the {open, close, count, has} callback set a
// LifecycleManager needs to drive this registry — spec §4.11.
func (s *Sirannon) LifecycleCallbacks() LifecycleCallbacks {
	return LifecycleCallbacks{
		Open:  s.Open,
		Close: s.Close,
		Count: func() int {
			s.mu.Lock()
			defer s.mu.Unlock()
			return len(s.databases)
		},
		Has: func(id string) bool {
			s.mu.Lock()
			defer s.mu.Unlock()
			_, ok := s.databases[id]
			return ok
		},
	}
}

// Hooks exposes the registry's global hook registry, for wiring into
// externally constructed Databases (e.g. during tests).
func (s *Sirannon) Hooks() *hooks.Registry { return s.hooks }

// Open constructs and registers a new Database under id — spec §4.10.
func (s *Sirannon) Open(ctx context.Context, id, path string, opts OpenOptions) (*database.Database, error) {
	s.mu.Lock()
	if s.shutdown {
		s.mu.Unlock()
		return nil, sirannonerr.New(sirannonerr.CodeShutdown, "registry is shut down")
	}
	if _, exists := s.databases[id]; exists {
		s.mu.Unlock()
		return nil, sirannonerr.New(sirannonerr.CodeDatabaseAlreadyExists, "database already exists: "+id)
	}
	s.mu.Unlock()

	if err := hooks.FireDenying(ctx, s.hooks, nil, hooks.EventBeforeConnect,
		hooks.ConnectPayload{DatabaseID: id, Path: path, ReadOnly: opts.ReadOnly}); err != nil {
		return nil, err
	}

	db, err := s.construct(ctx, id, path, opts)
	if err != nil {
		if se, ok := err.(*sirannonerr.Error); ok {
			return nil, se
		}
		return nil, sirannonerr.Wrap(sirannonerr.CodeDatabaseOpenFailed, "open database "+id, err)
	}

	s.mu.Lock()
	s.databases[id] = db
	s.mu.Unlock()

	db.AddCloseListener(func() error {
		s.mu.Lock()
		delete(s.databases, id)
		lm := s.lifecycle
		s.mu.Unlock()
		if lm != nil {
			lm.untrack(id)
		}
		return nil
	})

	hooks.FireSwallowing(ctx, s.hooks, nil, hooks.EventDatabaseOpen, hooks.DatabasePayload{DatabaseID: id})
	if s.metrics != nil {
		s.metrics.RecordConnectionOpen(id)
	}

	return db, nil
}

func (s *Sirannon) construct(ctx context.Context, id, path string, opts OpenOptions) (*database.Database, error) {
	p, err := pool.Open(ctx, pool.Options{
		Path: path, ReadOnly: opts.ReadOnly, ReadPoolSize: opts.ReadPoolSize, WALMode: opts.WALMode,
	})
	if err != nil {
		return nil, err
	}
	return database.New(id, p, database.Options{
		Path:            path,
		GlobalHooks:     s.hooks,
		Metrics:         s.metrics,
		CDCPollInterval: time.Duration(opts.CDCPollInterval),
		ChangeRetention: time.Duration(opts.ChangeRetention),
		PollBatchSize:   opts.PollBatchSize,
	}), nil
}

// Close looks up and closes the database registered under id, triggering
// its close-listener chain (which deregisters it here) — spec §4.10.
func (s *Sirannon) Close(id string) error {
	s.mu.Lock()
	if s.shutdown {
		s.mu.Unlock()
		return sirannonerr.New(sirannonerr.CodeShutdown, "registry is shut down")
	}
	db, ok := s.databases[id]
	s.mu.Unlock()
	if !ok {
		return sirannonerr.New(sirannonerr.CodeDatabaseNotFound, "database not found: "+id)
	}

	err := db.Close()
	hooks.FireSwallowing(context.Background(), s.hooks, nil, hooks.EventDatabaseClose, hooks.DatabasePayload{DatabaseID: id})
	if s.metrics != nil {
		s.metrics.RecordConnectionClose(id)
	}
	return err
}

// List returns every currently open database, in no particular order —
// used by the transport layer's GET /health/ready — spec §6.
func (s *Sirannon) List() []*database.Database {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*database.Database, 0, len(s.databases))
	for _, db := range s.databases {
		out = append(out, db)
	}
	return out
}

// Get returns the live database for id if registered; otherwise, if a
// lifecycle manager is configured and the registry isn't shut down, it
// consults the resolver to auto-open one — spec §4.10.
func (s *Sirannon) Get(ctx context.Context, id string) (*database.Database, error) {
	s.mu.Lock()
	if db, ok := s.databases[id]; ok {
		lm := s.lifecycle
		s.mu.Unlock()
		if lm != nil {
			lm.markActive(id)
		}
		return db, nil
	}
	shutdown := s.shutdown
	lm := s.lifecycle
	s.mu.Unlock()

	if shutdown || lm == nil {
		return nil, sirannonerr.New(sirannonerr.CodeDatabaseNotFound, "database not found: "+id)
	}
	return lm.resolve(ctx, id)
}

// Shutdown disposes the lifecycle manager and closes every database,
// aggregating errors into a single SHUTDOWN_ERROR. Idempotent — spec
// §4.10.
func (s *Sirannon) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if s.shutdown {
		s.mu.Unlock()
		return nil
	}
	s.shutdown = true
	lm := s.lifecycle
	ids := make([]string, 0, len(s.databases))
	for id := range s.databases {
		ids = append(ids, id)
	}
	s.mu.Unlock()

	if lm != nil {
		lm.dispose()
	}

	var g errgroup.Group
	var errsMu sync.Mutex
	var errs []error
	for _, id := range ids {
		id := id
		g.Go(func() error {
			s.mu.Lock()
			db, ok := s.databases[id]
			s.mu.Unlock()
			if !ok {
				return nil
			}
			if err := db.Close(); err != nil {
				errsMu.Lock()
				errs = append(errs, err)
				errsMu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	s.mu.Lock()
	s.databases = make(map[string]*database.Database)
	s.mu.Unlock()

	if len(errs) == 0 {
		return nil
	}
	return sirannonerr.Wrap(sirannonerr.CodeShutdownError, "errors during shutdown", joinErrors(errs))
}

func joinErrors(errs []error) error {
	if len(errs) == 1 {
		return errs[0]
	}
	msg := ""
	for i, err := range errs {
		if i > 0 {
			msg += "; "
		}
		msg += err.Error()
	}
	return sirannonerr.New(sirannonerr.CodeShutdownError, msg)
}
