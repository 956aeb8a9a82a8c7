package cdc

// ChangeEvent is the normalized shape of one row mutation, as read back off
// the change log — spec §4.4 data model: { type, table, row, oldRow?, seq,
// timestamp }.
type ChangeEvent struct {
	Type      string // "insert", "update", or "delete"
	Table     string
	Row       map[string]any // {} for delete
	OldRow    map[string]any // nil for insert, populated for update/delete
	Seq       uint64
	Timestamp float64 // fractional seconds since the Unix epoch
}

const (
	opInsert = "INSERT"
	opUpdate = "UPDATE"
	opDelete = "DELETE"
)
