package registry

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/assetcorp/sirannon/internal/database"
	"github.com/assetcorp/sirannon/internal/sirannonerr"
	"github.com/rs/zerolog/log"
)

const (
	minSweepInterval = 100 * time.Millisecond
	maxSweepInterval = 60 * time.Second
)

// LifecycleCallbacks lets LifecycleManager drive a Sirannon registry
// without importing it back — spec §4.11 constructor "callbacks
// {open, close, count, has}".
type LifecycleCallbacks struct {
	Open  func(ctx context.Context, id, path string, opts OpenOptions) (*database.Database, error)
	Close func(id string) error
	Count func() int
	Has   func(id string) bool
}

// LifecycleConfig configures a LifecycleManager — spec §4.11.
type LifecycleConfig struct {
	IdleTimeout time.Duration
	MaxOpen     int // negative means unlimited
	Resolver    TenantResolver
}

// LifecycleManager auto-opens databases via a TenantResolver and evicts
// idle ones on a periodic sweep — spec §4.11.
type LifecycleManager struct {
	cfg       LifecycleConfig
	callbacks LifecycleCallbacks

	mu         sync.Mutex
	lastAccess map[string]time.Time

	disposed atomic.Bool
	stop     context.CancelFunc
}

// NewLifecycleManager builds a LifecycleManager and starts its idle
// sweeper if IdleTimeout > 0 — spec §4.11.
func NewLifecycleManager(cfg LifecycleConfig, callbacks LifecycleCallbacks) *LifecycleManager {
	lm := &LifecycleManager{cfg: cfg, callbacks: callbacks, lastAccess: make(map[string]time.Time)}
	if cfg.IdleTimeout > 0 {
		lm.startSweeper()
	}
	return lm
}

func (lm *LifecycleManager) startSweeper() {
	interval := lm.cfg.IdleTimeout / 2
	if interval < minSweepInterval {
		interval = minSweepInterval
	}
	if interval > maxSweepInterval {
		interval = maxSweepInterval
	}

	ctx, cancel := context.WithCancel(context.Background())
	lm.stop = cancel

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				lm.checkIdle()
			}
		}
	}()
}

// resolve implements spec §4.11 resolve(id): no resolver or a resolver
// miss both return "none" (reported here as DATABASE_NOT_FOUND so Get can
// treat auto-open and a plain lookup miss the same way). markActive is
// only recorded after a successful open.
func (lm *LifecycleManager) resolve(ctx context.Context, id string) (*database.Database, error) {
	if lm.cfg.Resolver == nil {
		return nil, sirannonerr.New(sirannonerr.CodeDatabaseNotFound, "no tenant resolver configured")
	}
	path, opts, ok := lm.cfg.Resolver(id)
	if !ok {
		return nil, sirannonerr.New(sirannonerr.CodeDatabaseNotFound, "tenant resolver declined: "+id)
	}

	if lm.cfg.MaxOpen >= 0 && lm.callbacks.Count() >= lm.cfg.MaxOpen {
		lm.evict()
		if lm.callbacks.Count() >= lm.cfg.MaxOpen {
			return nil, sirannonerr.New(sirannonerr.CodeMaxDatabases, "maximum open databases reached")
		}
	}

	db, err := lm.callbacks.Open(ctx, id, path, opts)
	if err != nil {
		return nil, err
	}
	lm.markActive(id)
	return db, nil
}

func (lm *LifecycleManager) markActive(id string) {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	lm.lastAccess[id] = time.Now()
}

// checkIdle drops tracking for databases the registry no longer has, and
// closes (swallowing errors) any whose idle time has elapsed — spec §4.11.
func (lm *LifecycleManager) checkIdle() {
	lm.mu.Lock()
	snapshot := make(map[string]time.Time, len(lm.lastAccess))
	for id, t := range lm.lastAccess {
		snapshot[id] = t
	}
	lm.mu.Unlock()

	now := time.Now()
	for id, last := range snapshot {
		if !lm.callbacks.Has(id) {
			lm.untrack(id)
			continue
		}
		if now.Sub(last) >= lm.cfg.IdleTimeout {
			if err := lm.callbacks.Close(id); err != nil {
				log.Error().Err(err).Str("database", id).Msg("idle close failed")
			}
			lm.untrack(id)
		}
	}
}

// evict drops stale tracking entries, then closes the least-recently-used
// remaining database — spec §4.11.
func (lm *LifecycleManager) evict() {
	lm.mu.Lock()
	ids := make([]string, 0, len(lm.lastAccess))
	for id := range lm.lastAccess {
		ids = append(ids, id)
	}
	lm.mu.Unlock()

	for _, id := range ids {
		if !lm.callbacks.Has(id) {
			lm.untrack(id)
		}
	}

	lm.mu.Lock()
	var oldestID string
	var oldest time.Time
	first := true
	for id, last := range lm.lastAccess {
		if first || last.Before(oldest) {
			oldestID, oldest = id, last
			first = false
		}
	}
	lm.mu.Unlock()

	if oldestID == "" {
		return
	}
	if err := lm.callbacks.Close(oldestID); err != nil {
		log.Error().Err(err).Str("database", oldestID).Msg("eviction close failed")
	}
	lm.untrack(oldestID)
}

// untrack drops id's tracking entry. Idempotent.
func (lm *LifecycleManager) untrack(id string) {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	delete(lm.lastAccess, id)
}

// dispose stops the idle sweeper. Idempotent.
func (lm *LifecycleManager) dispose() {
	if !lm.disposed.CompareAndSwap(false, true) {
		return
	}
	if lm.stop != nil {
		lm.stop()
	}
}
