// Package ws implements the WebSocket wire protocol — spec §6: one
// connection per /db/:id, carrying query/execute requests and CDC
// subscribe/unsubscribe management plus server-pushed change events.
package ws

import (
	"strconv"

	"github.com/assetcorp/sirannon/internal/cdc"
	"github.com/assetcorp/sirannon/internal/pool"
)

func formatSeq(seq uint64) string {
	return strconv.FormatUint(seq, 10)
}

// clientMessage is the envelope for every inbound frame. Only the fields
// relevant to Type are populated.
type clientMessage struct {
	ID     string         `json:"id"`
	Type   string         `json:"type"`
	SQL    string         `json:"sql,omitempty"`
	Params any            `json:"params,omitempty"`
	Table  string         `json:"table,omitempty"`
	Filter map[string]any `json:"filter,omitempty"`
}

const (
	typeQuery       = "query"
	typeExecute     = "execute"
	typeSubscribe   = "subscribe"
	typeUnsubscribe = "unsubscribe"

	typeResult       = "result"
	typeError        = "error"
	typeSubscribed   = "subscribed"
	typeUnsubscribed = "unsubscribed"
	typeChange       = "change"
)

type serverMessage struct {
	Type  string      `json:"type"`
	ID    string      `json:"id,omitempty"`
	Data  any         `json:"data,omitempty"`
	Error *errorBody  `json:"error,omitempty"`
	Event *changeWire `json:"event,omitempty"`
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// changeWire is ChangeEvent with Seq transmitted as a decimal string to
// avoid JSON-number precision loss — spec §6.
type changeWire struct {
	Type      string         `json:"type"`
	Table     string         `json:"table"`
	Row       map[string]any `json:"row"`
	OldRow    map[string]any `json:"oldRow,omitempty"`
	Seq       string         `json:"seq"`
	Timestamp float64        `json:"timestamp"`
}

func newChangeWire(ev cdc.ChangeEvent) *changeWire {
	return &changeWire{
		Type:      ev.Type,
		Table:     ev.Table,
		Row:       ev.Row,
		OldRow:    ev.OldRow,
		Seq:       formatSeq(ev.Seq),
		Timestamp: ev.Timestamp,
	}
}

type resultData struct {
	Rows            []pool.Row `json:"rows,omitempty"`
	Changes         int64      `json:"changes,omitempty"`
	LastInsertRowID any        `json:"lastInsertRowId,omitempty"`
}

const maxLosslessJSONInt = int64(1)<<53 - 1

// jsonSafeInt stringifies values that would lose precision as a JSON
// number (|v| > 2^53-1) — spec §6, same rule as the HTTP transport.
func jsonSafeInt(v int64) any {
	if v > maxLosslessJSONInt || v < -maxLosslessJSONInt {
		return strconv.FormatInt(v, 10)
	}
	return v
}
