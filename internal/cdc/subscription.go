package cdc

import (
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Callback receives one matching ChangeEvent. Panics inside a callback are
// recovered and logged so one misbehaving subscriber cannot take down
// dispatch to its siblings — spec §4.5.
type Callback func(ChangeEvent)

type subscription struct {
	id       uuid.UUID
	table    string
	filter   map[string]any
	callback Callback
}

// Handle lets a caller cancel a subscription it holds.
type Handle struct {
	id    uuid.UUID
	table string
	mgr   *SubscriptionManager
}

// Unsubscribe removes the subscription. Idempotent.
func (h *Handle) Unsubscribe() {
	h.mgr.unsubscribe(h.table, h.id)
}

// SubscriptionManager indexes subscriptions by table and dispatches matching
// ChangeEvents to their callbacks — spec §4.5.
type SubscriptionManager struct {
	mu      sync.RWMutex
	byTable map[string]map[uuid.UUID]*subscription
}

// NewSubscriptionManager builds an empty SubscriptionManager.
func NewSubscriptionManager() *SubscriptionManager {
	return &SubscriptionManager{byTable: make(map[string]map[uuid.UUID]*subscription)}
}

// Subscribe registers cb to receive events for table whose row (on
// insert/update) or oldRow (on delete) matches every key/value pair in
// filter. A nil or empty filter matches every event on table — spec §4.5.
func (m *SubscriptionManager) Subscribe(table string, filter map[string]any, cb Callback) *Handle {
	m.mu.Lock()
	defer m.mu.Unlock()

	sub := &subscription{id: uuid.New(), table: table, filter: filter, callback: cb}
	if m.byTable[table] == nil {
		m.byTable[table] = make(map[uuid.UUID]*subscription)
	}
	m.byTable[table][sub.id] = sub
	return &Handle{id: sub.id, table: table, mgr: m}
}

func (m *SubscriptionManager) unsubscribe(table string, id uuid.UUID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if subs, ok := m.byTable[table]; ok {
		delete(subs, id)
		if len(subs) == 0 {
			delete(m.byTable, table)
		}
	}
}

// Count returns the number of live subscriptions across all tables.
func (m *SubscriptionManager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, subs := range m.byTable {
		n += len(subs)
	}
	return n
}

// Dispatch fans each event out to every matching subscriber on its table.
// Dispatch order across subscribers is unspecified — spec §4.5.
func (m *SubscriptionManager) Dispatch(events []ChangeEvent) {
	for _, ev := range events {
		m.dispatchOne(ev)
	}
}

func (m *SubscriptionManager) dispatchOne(ev ChangeEvent) {
	m.mu.RLock()
	subs := m.byTable[ev.Table]
	matched := make([]*subscription, 0, len(subs))
	for _, sub := range subs {
		if filterMatches(sub.filter, ev) {
			matched = append(matched, sub)
		}
	}
	m.mu.RUnlock()

	for _, sub := range matched {
		invoke(sub, ev)
	}
}

func invoke(sub *subscription, ev ChangeEvent) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().
				Str("table", ev.Table).
				Str("subscription", sub.id.String()).
				Interface("panic", r).
				Msg("cdc subscriber callback panicked")
		}
	}()
	sub.callback(ev)
}

// filterMatches applies equality-AND semantics: every key in filter must be
// present with an equal value in the event's row (row for insert/update,
// oldRow for delete) — spec §4.5.
func filterMatches(filter map[string]any, ev ChangeEvent) bool {
	if len(filter) == 0 {
		return true
	}
	subject := ev.Row
	if ev.Type == "delete" {
		subject = ev.OldRow
	}
	if subject == nil {
		return false
	}
	for k, want := range filter {
		got, ok := subject[k]
		if !ok || !valuesEqual(got, want) {
			return false
		}
	}
	return true
}

func valuesEqual(a, b any) bool {
	an, aIsNum := toFloat(a)
	bn, bIsNum := toFloat(b)
	if aIsNum && bIsNum {
		return an == bn
	}
	return a == b
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int64:
		return float64(n), true
	case int:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}
