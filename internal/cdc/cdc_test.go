package cdc

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/assetcorp/sirannon/internal/pool"
	"github.com/stretchr/testify/require"
)

func newTestTracker(t *testing.T) (*pool.ConnectionPool, *ChangeTracker) {
	t.Helper()
	dir := t.TempDir()
	p, err := pool.Open(context.Background(), pool.Options{
		Path: filepath.Join(dir, "test.db"), ReadPoolSize: 2, WALMode: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { p.Close() })

	tracker := NewChangeTracker(p, TrackerOptions{})
	require.NoError(t, tracker.EnsureSchema(context.Background()))
	return p, tracker
}

func createUsersTable(t *testing.T, p *pool.ConnectionPool) {
	t.Helper()
	writer, err := p.AcquireWriter()
	require.NoError(t, err)
	_, err = writer.Execute(context.Background(),
		"CREATE TABLE users (id INTEGER PRIMARY KEY, name TEXT, age INTEGER)", nil)
	require.NoError(t, err)
}

func TestWatchRejectsInvalidIdentifier(t *testing.T) {
	_, tracker := newTestTracker(t)
	err := tracker.Watch(context.Background(), "bad name")
	require.Error(t, err)
}

func TestWatchMissingTableErrors(t *testing.T) {
	_, tracker := newTestTracker(t)
	err := tracker.Watch(context.Background(), "nope")
	require.Error(t, err)
}

func TestWatchRejectsInvalidColumnName(t *testing.T) {
	p, tracker := newTestTracker(t)
	writer, err := p.AcquireWriter()
	require.NoError(t, err)
	_, err = writer.Execute(context.Background(),
		`CREATE TABLE odd (id INTEGER PRIMARY KEY, "bad col" TEXT)`, nil)
	require.NoError(t, err)

	err = tracker.Watch(context.Background(), "odd")
	require.Error(t, err)
	require.False(t, tracker.Watching("odd"))
}

func TestInsertProducesChangeEvent(t *testing.T) {
	p, tracker := newTestTracker(t)
	ctx := context.Background()
	createUsersTable(t, p)
	require.NoError(t, tracker.Watch(ctx, "users"))

	writer, err := p.AcquireWriter()
	require.NoError(t, err)
	_, err = writer.Execute(ctx, "INSERT INTO users (name, age) VALUES (?, ?)", []any{"ada", 30})
	require.NoError(t, err)

	events, err := tracker.Poll(ctx)
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.Equal(t, "insert", events[0].Type)
	require.Equal(t, "users", events[0].Table)
	require.Nil(t, events[0].OldRow)
	require.Equal(t, "ada", events[0].Row["name"])
}

func TestUpdateProducesOldAndNewRow(t *testing.T) {
	p, tracker := newTestTracker(t)
	ctx := context.Background()
	createUsersTable(t, p)
	require.NoError(t, tracker.Watch(ctx, "users"))

	writer, err := p.AcquireWriter()
	require.NoError(t, err)
	_, err = writer.Execute(ctx, "INSERT INTO users (name, age) VALUES (?, ?)", []any{"ada", 30})
	require.NoError(t, err)
	_, _ = tracker.Poll(ctx) // drain the insert

	_, err = writer.Execute(ctx, "UPDATE users SET age = ? WHERE name = ?", []any{31, "ada"})
	require.NoError(t, err)

	events, err := tracker.Poll(ctx)
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.Equal(t, "update", events[0].Type)
	require.Equal(t, int64(30), events[0].OldRow["age"])
	require.Equal(t, int64(31), events[0].Row["age"])
}

func TestDeleteRowIsEmptyMap(t *testing.T) {
	p, tracker := newTestTracker(t)
	ctx := context.Background()
	createUsersTable(t, p)
	require.NoError(t, tracker.Watch(ctx, "users"))

	writer, err := p.AcquireWriter()
	require.NoError(t, err)
	_, err = writer.Execute(ctx, "INSERT INTO users (name, age) VALUES (?, ?)", []any{"ada", 30})
	require.NoError(t, err)
	_, _ = tracker.Poll(ctx)

	_, err = writer.Execute(ctx, "DELETE FROM users WHERE name = ?", []any{"ada"})
	require.NoError(t, err)

	events, err := tracker.Poll(ctx)
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.Equal(t, "delete", events[0].Type)
	require.Empty(t, events[0].Row)
	require.Equal(t, "ada", events[0].OldRow["name"])
}

func TestPollCursorAdvancesAndDoesNotRepeat(t *testing.T) {
	p, tracker := newTestTracker(t)
	ctx := context.Background()
	createUsersTable(t, p)
	require.NoError(t, tracker.Watch(ctx, "users"))

	writer, err := p.AcquireWriter()
	require.NoError(t, err)
	_, err = writer.Execute(ctx, "INSERT INTO users (name, age) VALUES (?, ?)", []any{"ada", 30})
	require.NoError(t, err)

	first, err := tracker.Poll(ctx)
	require.NoError(t, err)
	require.Len(t, first, 1)

	second, err := tracker.Poll(ctx)
	require.NoError(t, err)
	require.Len(t, second, 0)
}

func TestUnwatchStopsFurtherEvents(t *testing.T) {
	p, tracker := newTestTracker(t)
	ctx := context.Background()
	createUsersTable(t, p)
	require.NoError(t, tracker.Watch(ctx, "users"))
	require.NoError(t, tracker.Unwatch(ctx, "users"))

	writer, err := p.AcquireWriter()
	require.NoError(t, err)
	_, err = writer.Execute(ctx, "INSERT INTO users (name, age) VALUES (?, ?)", []any{"ada", 30})
	require.NoError(t, err)

	events, err := tracker.Poll(ctx)
	require.NoError(t, err)
	require.Len(t, events, 0)
}

func TestCompositePrimaryKeyRowID(t *testing.T) {
	p, tracker := newTestTracker(t)
	ctx := context.Background()

	writer, err := p.AcquireWriter()
	require.NoError(t, err)
	_, err = writer.Execute(ctx,
		"CREATE TABLE memberships (org TEXT, user TEXT, role TEXT, PRIMARY KEY (org, user))", nil)
	require.NoError(t, err)

	require.NoError(t, tracker.Watch(ctx, "memberships"))
	_, err = writer.Execute(ctx, "INSERT INTO memberships (org, user, role) VALUES (?, ?, ?)",
		[]any{"acme", "ada", "admin"})
	require.NoError(t, err)

	events, err := tracker.Poll(ctx)
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.Equal(t, "admin", events[0].Row["role"])
}

func TestSubscriptionDispatchFiltersByEquality(t *testing.T) {
	mgr := NewSubscriptionManager()
	var received []ChangeEvent
	mgr.Subscribe("users", map[string]any{"name": "ada"}, func(ev ChangeEvent) {
		received = append(received, ev)
	})

	mgr.Dispatch([]ChangeEvent{
		{Type: "insert", Table: "users", Row: map[string]any{"name": "ada", "age": int64(30)}},
		{Type: "insert", Table: "users", Row: map[string]any{"name": "grace", "age": int64(40)}},
	})

	require.Len(t, received, 1)
	require.Equal(t, "ada", received[0].Row["name"])
}

func TestSubscriptionUnsubscribeStopsDelivery(t *testing.T) {
	mgr := NewSubscriptionManager()
	calls := 0
	handle := mgr.Subscribe("users", nil, func(ev ChangeEvent) { calls++ })
	mgr.Dispatch([]ChangeEvent{{Type: "insert", Table: "users", Row: map[string]any{}}})
	require.Equal(t, 1, calls)

	handle.Unsubscribe()
	mgr.Dispatch([]ChangeEvent{{Type: "insert", Table: "users", Row: map[string]any{}}})
	require.Equal(t, 1, calls)
}

func TestSubscriptionPanicIsIsolated(t *testing.T) {
	mgr := NewSubscriptionManager()
	calledSecond := false
	mgr.Subscribe("users", nil, func(ev ChangeEvent) { panic("boom") })
	mgr.Subscribe("users", nil, func(ev ChangeEvent) { calledSecond = true })

	require.NotPanics(t, func() {
		mgr.Dispatch([]ChangeEvent{{Type: "insert", Table: "users", Row: map[string]any{}}})
	})
	require.True(t, calledSecond)
}

func TestDeleteFilterMatchesOldRow(t *testing.T) {
	mgr := NewSubscriptionManager()
	matched := false
	mgr.Subscribe("users", map[string]any{"name": "ada"}, func(ev ChangeEvent) { matched = true })

	mgr.Dispatch([]ChangeEvent{
		{Type: "delete", Table: "users", Row: map[string]any{}, OldRow: map[string]any{"name": "ada"}},
	})
	require.True(t, matched)
}
