package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRecordQueryInvokesSinks(t *testing.T) {
	c := New()
	var received QueryEvent
	c.OnQuery(func(ev QueryEvent) { received = ev })

	c.RecordQuery(QueryEvent{DatabaseID: "tenant-a", Duration: 5 * time.Millisecond, Err: errors.New("boom")})

	require.Equal(t, "tenant-a", received.DatabaseID)
	require.Error(t, received.Err)
}

func TestRecordConnectionInvokesSinks(t *testing.T) {
	c := New()
	var events []ConnectionEvent
	c.OnConnection(func(ev ConnectionEvent) { events = append(events, ev) })

	c.RecordConnectionOpen("tenant-a")
	c.RecordConnectionClose("tenant-a")

	require.Len(t, events, 2)
	require.True(t, events[0].Opened)
	require.False(t, events[1].Opened)
}

func TestRecordCDCDispatchInvokesSinks(t *testing.T) {
	c := New()
	var received CDCDispatchEvent
	c.OnCDCDispatch(func(ev CDCDispatchEvent) { received = ev })

	c.RecordCDCDispatch("tenant-a", 3)

	require.Equal(t, 3, received.EventCount)
}

func TestPanickingSinkIsIsolated(t *testing.T) {
	c := New()
	c.OnQuery(func(ev QueryEvent) { panic("boom") })
	secondCalled := false
	c.OnQuery(func(ev QueryEvent) { secondCalled = true })

	require.NotPanics(t, func() {
		c.RecordQuery(QueryEvent{DatabaseID: "tenant-a", Duration: time.Millisecond})
	})
	require.True(t, secondCalled)
}

func TestNoSinksIsNoop(t *testing.T) {
	c := New()
	require.NotPanics(t, func() {
		c.RecordQuery(QueryEvent{DatabaseID: "tenant-a", Duration: time.Millisecond})
		c.RecordConnectionOpen("tenant-a")
		c.RecordCDCDispatch("tenant-a", 0)
	})
}
