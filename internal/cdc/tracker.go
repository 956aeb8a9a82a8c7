package cdc

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/assetcorp/sirannon/internal/pool"
	"github.com/assetcorp/sirannon/internal/sirannonerr"
)

const defaultChangeLogTable = "_sirannon_changes"

// tableDescriptor is what Watch() discovers about a table via
// PRAGMA table_info — spec §4.4: "the ordered column list and primary key
// columns are introspected at watch time, not supplied by the caller."
type tableDescriptor struct {
	columns    []string
	primaryKey []string
}

// TrackerOptions configures a ChangeTracker — spec §4.4.
type TrackerOptions struct {
	ChangeLogTable string        // defaults to _sirannon_changes
	PollBatchSize  int           // defaults to 256
	Retention      time.Duration // 0 makes Cleanup a no-op
}

// ChangeTracker installs per-table triggers that append to an ordered change
// log table, and polls that log into ChangeEvents — spec §4.4. Every
// ChangeTracker keeps its own cursor; two trackers over the same database
// file observe the same log independently.
type ChangeTracker struct {
	pool           *pool.ConnectionPool
	changeLogTable string
	pollBatchSize  int
	retention      time.Duration

	watched map[string]tableDescriptor
	cursor  uint64
}

// NewChangeTracker builds a tracker bound to p. EnsureSchema must be called
// once before Watch/Poll/Cleanup are used.
func NewChangeTracker(p *pool.ConnectionPool, opts TrackerOptions) *ChangeTracker {
	if opts.ChangeLogTable == "" {
		opts.ChangeLogTable = defaultChangeLogTable
	}
	if opts.PollBatchSize <= 0 {
		opts.PollBatchSize = 256
	}
	return &ChangeTracker{
		pool:           p,
		changeLogTable: opts.ChangeLogTable,
		pollBatchSize:  opts.PollBatchSize,
		retention:      opts.Retention,
		watched:        make(map[string]tableDescriptor),
	}
}

// EnsureSchema creates the change log table and its changed_at index if they
// do not already exist — spec §4.4.
func (t *ChangeTracker) EnsureSchema(ctx context.Context) error {
	writer, err := t.pool.AcquireWriter()
	if err != nil {
		return err
	}

	ddl := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	seq INTEGER PRIMARY KEY AUTOINCREMENT,
	table_name TEXT NOT NULL,
	operation TEXT NOT NULL,
	row_id TEXT NOT NULL,
	changed_at REAL NOT NULL,
	old_data TEXT,
	new_data TEXT
)`, quoteIdent(t.changeLogTable))
	if _, err := writer.Execute(ctx, ddl, nil); err != nil {
		return sirannonerr.Wrap(sirannonerr.CodeCDCError, "create change log table", err)
	}

	idx := fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s ON %s (changed_at)`,
		quoteIdent("idx_"+t.changeLogTable+"_changed_at"), quoteIdent(t.changeLogTable))
	if _, err := writer.Execute(ctx, idx, nil); err != nil {
		return sirannonerr.Wrap(sirannonerr.CodeCDCError, "create change log index", err)
	}
	return nil
}

// Watch installs INSERT/UPDATE/DELETE triggers for table. Re-watching a
// table whose column set has changed drops and reinstalls the triggers
// against the current schema — spec §4.4.
func (t *ChangeTracker) Watch(ctx context.Context, table string) error {
	if err := validateIdentifier(table); err != nil {
		return err
	}

	writer, err := t.pool.AcquireWriter()
	if err != nil {
		return err
	}

	desc, err := introspectTable(ctx, writer, table)
	if err != nil {
		return err
	}
	if len(desc.columns) == 0 {
		return sirannonerr.New(sirannonerr.CodeCDCError, "table not found: "+table)
	}
	for _, col := range desc.columns {
		if err := validateIdentifier(col); err != nil {
			return err
		}
	}
	for _, col := range desc.primaryKey {
		if err := validateIdentifier(col); err != nil {
			return err
		}
	}

	if existing, ok := t.watched[table]; ok && sameDescriptor(existing, desc) {
		return nil // already watching with the same schema
	}

	if err := t.dropTriggers(ctx, writer, table); err != nil {
		return err
	}
	if err := t.installTriggers(ctx, writer, table, desc); err != nil {
		return err
	}

	t.watched[table] = desc
	return nil
}

// Unwatch removes table's triggers. A no-op if the table isn't watched —
// spec §4.4.
func (t *ChangeTracker) Unwatch(ctx context.Context, table string) error {
	if err := validateIdentifier(table); err != nil {
		return err
	}
	writer, err := t.pool.AcquireWriter()
	if err != nil {
		return err
	}
	if err := t.dropTriggers(ctx, writer, table); err != nil {
		return err
	}
	delete(t.watched, table)
	return nil
}

// Watching reports whether table currently has triggers installed.
func (t *ChangeTracker) Watching(table string) bool {
	_, ok := t.watched[table]
	return ok
}

func sameDescriptor(a, b tableDescriptor) bool {
	if len(a.columns) != len(b.columns) || len(a.primaryKey) != len(b.primaryKey) {
		return false
	}
	for i := range a.columns {
		if a.columns[i] != b.columns[i] {
			return false
		}
	}
	for i := range a.primaryKey {
		if a.primaryKey[i] != b.primaryKey[i] {
			return false
		}
	}
	return true
}

// introspectTable reads PRAGMA table_info(table) to recover the column list
// (in declared order) and the primary key columns (ordered by their position
// within a composite key) — spec §4.4.
func introspectTable(ctx context.Context, conn *pool.Conn, table string) (tableDescriptor, error) {
	rows, err := conn.Query(ctx, "PRAGMA table_info("+quoteIdent(table)+")", nil)
	if err != nil {
		return tableDescriptor{}, sirannonerr.Wrap(sirannonerr.CodeCDCError, "introspect table "+table, err)
	}

	type pkCol struct {
		name string
		pos  int64
	}
	var desc tableDescriptor
	var pkCols []pkCol

	for _, r := range rows {
		name, _ := r["name"].(string)
		desc.columns = append(desc.columns, name)

		var pk int64
		switch v := r["pk"].(type) {
		case int64:
			pk = v
		case float64:
			pk = int64(v)
		}
		if pk > 0 {
			pkCols = append(pkCols, pkCol{name: name, pos: pk})
		}
	}

	sort.Slice(pkCols, func(i, j int) bool { return pkCols[i].pos < pkCols[j].pos })
	for _, c := range pkCols {
		desc.primaryKey = append(desc.primaryKey, c.name)
	}
	return desc, nil
}

func (t *ChangeTracker) dropTriggers(ctx context.Context, writer *pool.Conn, table string) error {
	for _, kind := range []string{"insert", "update", "delete"} {
		stmt := "DROP TRIGGER IF EXISTS " + quoteIdent(triggerName(kind, table))
		if _, err := writer.Execute(ctx, stmt, nil); err != nil {
			return sirannonerr.Wrap(sirannonerr.CodeCDCError, "drop trigger for "+table, err)
		}
	}
	return nil
}

func (t *ChangeTracker) installTriggers(ctx context.Context, writer *pool.Conn, table string, desc tableDescriptor) error {
	changedAtExpr := "((julianday('now') - 2440587.5) * 86400.0)"
	tableLit := "'" + escapeLiteral(table) + "'"

	insertSQL := fmt.Sprintf(
		`CREATE TRIGGER %s AFTER INSERT ON %s BEGIN
	INSERT INTO %s (table_name, operation, row_id, changed_at, old_data, new_data)
	VALUES (%s, 'INSERT', %s, %s, NULL, %s);
END`,
		quoteIdent(triggerName("insert", table)), quoteIdent(table), quoteIdent(t.changeLogTable),
		tableLit, rowKeyExpr("NEW", desc.primaryKey), changedAtExpr, jsonObjectExpr("NEW", desc.columns))

	updateSQL := fmt.Sprintf(
		`CREATE TRIGGER %s AFTER UPDATE ON %s BEGIN
	INSERT INTO %s (table_name, operation, row_id, changed_at, old_data, new_data)
	VALUES (%s, 'UPDATE', %s, %s, %s, %s);
END`,
		quoteIdent(triggerName("update", table)), quoteIdent(table), quoteIdent(t.changeLogTable),
		tableLit, rowKeyExpr("NEW", desc.primaryKey), changedAtExpr,
		jsonObjectExpr("OLD", desc.columns), jsonObjectExpr("NEW", desc.columns))

	deleteSQL := fmt.Sprintf(
		`CREATE TRIGGER %s AFTER DELETE ON %s BEGIN
	INSERT INTO %s (table_name, operation, row_id, changed_at, old_data, new_data)
	VALUES (%s, 'DELETE', %s, %s, %s, NULL);
END`,
		quoteIdent(triggerName("delete", table)), quoteIdent(table), quoteIdent(t.changeLogTable),
		tableLit, rowKeyExpr("OLD", desc.primaryKey), changedAtExpr, jsonObjectExpr("OLD", desc.columns))

	for _, stmt := range []string{insertSQL, updateSQL, deleteSQL} {
		if _, err := writer.Execute(ctx, stmt, nil); err != nil {
			return sirannonerr.Wrap(sirannonerr.CodeCDCError, "install trigger for "+table, err)
		}
	}
	return nil
}

func triggerName(kind, table string) string {
	return "_sirannon_cdc_" + kind + "_" + table
}

func rowKeyExpr(prefix string, pk []string) string {
	if len(pk) == 0 {
		return prefix + ".rowid"
	}
	if len(pk) == 1 {
		return prefix + "." + quoteIdent(pk[0])
	}
	parts := make([]string, len(pk))
	for i, c := range pk {
		parts[i] = prefix + "." + quoteIdent(c)
	}
	return strings.Join(parts, " || '-' || ")
}

func jsonObjectExpr(prefix string, columns []string) string {
	parts := make([]string, 0, len(columns)*2)
	for _, c := range columns {
		parts = append(parts, "'"+escapeLiteral(c)+"'", prefix+"."+quoteIdent(c))
	}
	return "json_object(" + strings.Join(parts, ", ") + ")"
}

// Poll reads up to pollBatchSize rows past the tracker's cursor, in seq
// order, and advances the cursor to the last seq returned — spec §4.4.
func (t *ChangeTracker) Poll(ctx context.Context) ([]ChangeEvent, error) {
	reader, err := t.pool.AcquireReader()
	if err != nil {
		return nil, err
	}

	sqlText := fmt.Sprintf(
		`SELECT seq, table_name, operation, row_id, changed_at, old_data, new_data
FROM %s WHERE seq > ? ORDER BY seq ASC LIMIT ?`, quoteIdent(t.changeLogTable))
	rows, err := reader.Query(ctx, sqlText, []any{t.cursor, t.pollBatchSize})
	if err != nil {
		return nil, sirannonerr.Wrap(sirannonerr.CodeCDCError, "poll change log", err)
	}

	events := make([]ChangeEvent, 0, len(rows))
	for _, r := range rows {
		ev, err := rowToEvent(r)
		if err != nil {
			return nil, err
		}
		events = append(events, ev)
		t.cursor = ev.Seq
	}
	return events, nil
}

// Cursor returns this tracker's current position in the change log.
func (t *ChangeTracker) Cursor() uint64 {
	return t.cursor
}

// WatchedCount reports how many tables currently have triggers installed.
func (t *ChangeTracker) WatchedCount() int {
	return len(t.watched)
}

func rowToEvent(r pool.Row) (ChangeEvent, error) {
	var ev ChangeEvent

	switch v := r["seq"].(type) {
	case int64:
		ev.Seq = uint64(v)
	case float64:
		ev.Seq = uint64(v)
	}

	ev.Table, _ = r["table_name"].(string)
	operation, _ := r["operation"].(string)
	ev.Type = strings.ToLower(operation)

	switch v := r["changed_at"].(type) {
	case float64:
		ev.Timestamp = v
	case int64:
		ev.Timestamp = float64(v)
	}

	newData, _ := r["new_data"].(string)
	oldData, _ := r["old_data"].(string)

	switch operation {
	case opInsert:
		row, err := decodeJSONObject(newData)
		if err != nil {
			return ev, err
		}
		ev.Row = row
	case opUpdate:
		row, err := decodeJSONObject(newData)
		if err != nil {
			return ev, err
		}
		old, err := decodeJSONObject(oldData)
		if err != nil {
			return ev, err
		}
		ev.Row = row
		ev.OldRow = old
	case opDelete:
		old, err := decodeJSONObject(oldData)
		if err != nil {
			return ev, err
		}
		ev.Row = map[string]any{}
		ev.OldRow = old
	}
	return ev, nil
}

func decodeJSONObject(s string) (map[string]any, error) {
	if s == "" {
		return nil, nil
	}
	dec := json.NewDecoder(strings.NewReader(s))
	dec.UseNumber()
	var m map[string]any
	if err := dec.Decode(&m); err != nil {
		return nil, sirannonerr.Wrap(sirannonerr.CodeCDCError, "decode change log payload", err)
	}
	// Integers come back as int64 and other numbers as float64, matching
	// the value types rows read through the pool carry.
	for k, v := range m {
		n, ok := v.(json.Number)
		if !ok {
			continue
		}
		if i, err := n.Int64(); err == nil {
			m[k] = i
		} else if f, err := n.Float64(); err == nil {
			m[k] = f
		}
	}
	return m, nil
}

// Cleanup deletes change log rows that are both older than retention and at
// or before this tracker's own cursor, so rows it has not yet polled are
// kept. The cursors of other trackers over the same file are not
// consulted; callers that run several trackers over one file coordinate
// retention externally — spec §4.4.
func (t *ChangeTracker) Cleanup(ctx context.Context) (int64, error) {
	if t.retention <= 0 {
		return 0, nil
	}
	writer, err := t.pool.AcquireWriter()
	if err != nil {
		return 0, err
	}

	cutoff := float64(time.Now().Add(-t.retention).Unix())
	sqlText := fmt.Sprintf(`DELETE FROM %s WHERE changed_at < ? AND seq <= ?`, quoteIdent(t.changeLogTable))
	res, err := writer.Execute(ctx, sqlText, []any{cutoff, t.cursor})
	if err != nil {
		return 0, sirannonerr.Wrap(sirannonerr.CodeCDCError, "clean up change log", err)
	}
	return res.Changes, nil
}
