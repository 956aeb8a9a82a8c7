package database

import (
	"context"
	"time"

	"github.com/assetcorp/sirannon/internal/cdc"
	"github.com/assetcorp/sirannon/internal/sirannonerr"
	"github.com/rs/zerolog/log"
)

// Watch installs CDC triggers for table and, if no poll loop is running
// yet, starts one. Forbidden on read-only databases — spec §4.9.
func (d *Database) Watch(ctx context.Context, table string) error {
	if err := d.checkOpen(); err != nil {
		return err
	}
	if d.pool.ReadOnly() {
		return sirannonerr.New(sirannonerr.CodeReadOnly, "cannot watch a read-only database")
	}
	if d.IsMemory() {
		return sirannonerr.New(sirannonerr.CodeCDCUnsupported, "change data capture is unsupported on memory-backed databases")
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.tracker == nil {
		d.tracker = cdc.NewChangeTracker(d.pool, cdc.TrackerOptions{
			PollBatchSize: d.cdcOpts.BatchSize,
			Retention:     d.cdcOpts.Retention,
		})
		if err := d.tracker.EnsureSchema(ctx); err != nil {
			d.tracker = nil
			return err
		}
		d.subs = cdc.NewSubscriptionManager()
	}

	if err := d.tracker.Watch(ctx, table); err != nil {
		return err
	}

	if d.cdcCancel == nil {
		d.startPollLoopLocked()
	}
	return nil
}

// Unwatch drops table's triggers and stops the poll loop once no tables
// remain watched — spec §4.9.
func (d *Database) Unwatch(ctx context.Context, table string) error {
	if err := d.checkOpen(); err != nil {
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.tracker == nil {
		return nil
	}
	if err := d.tracker.Unwatch(ctx, table); err != nil {
		return err
	}
	if d.tracker.WatchedCount() == 0 && d.cdcCancel != nil {
		d.cdcCancel()
		d.cdcCancel = nil
	}
	return nil
}

// SubscriptionBuilder is the fluent handle returned by On — spec §4.9.
type SubscriptionBuilder struct {
	db     *Database
	table  string
	filter map[string]any
}

// On begins building a subscription for table.
func (d *Database) On(table string) *SubscriptionBuilder {
	return &SubscriptionBuilder{db: d, table: table}
}

// Filter restricts delivered events to those whose row (or, for deletes,
// oldRow) matches every key/value pair.
func (b *SubscriptionBuilder) Filter(filter map[string]any) *SubscriptionBuilder {
	b.filter = filter
	return b
}

// Subscribe registers cb and returns a handle the caller can unsubscribe.
// Callers must Watch the table first for events to be delivered.
func (b *SubscriptionBuilder) Subscribe(cb cdc.Callback) (*cdc.Handle, error) {
	b.db.mu.Lock()
	defer b.db.mu.Unlock()
	if b.db.subs == nil {
		b.db.subs = cdc.NewSubscriptionManager()
	}
	return b.db.subs.Subscribe(b.table, b.filter, cb), nil
}

// startPollLoopLocked starts the CDC poll loop. Callers must hold d.mu.
func (d *Database) startPollLoopLocked() {
	ctx, cancel := context.WithCancel(context.Background())
	d.cdcCancel = cancel

	interval := d.cdcOpts.PollInterval
	tracker := d.tracker
	subs := d.subs
	databaseID := d.id
	collector := d.metrics

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		failures := 0
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				events, err := tracker.Poll(ctx)
				if err != nil {
					failures++
					log.Error().Err(err).Str("database", databaseID).Msg("cdc poll failed")
					if failures >= maxConsecutivePollFailures {
						log.Error().Str("database", databaseID).Msg("cdc poll loop stopping after repeated failures")
						// Clear the loop handle so a later Watch starts a
						// fresh loop. While ctx is live, d.cdcCancel is
						// still this loop's cancel function.
						d.mu.Lock()
						if ctx.Err() == nil {
							d.cdcCancel = nil
						}
						d.mu.Unlock()
						cancel()
						return
					}
					continue
				}
				failures = 0
				if len(events) == 0 {
					continue
				}
				subs.Dispatch(events)
				if collector != nil {
					collector.RecordCDCDispatch(databaseID, len(events))
				}
			}
		}
	}()
}
