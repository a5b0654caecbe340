// Package sqlitemat mirrors a CRDT-backed table into a SQLite file, one
// table per workspace table, rebuilding on structural drift. Grounded on
// estuary-flow's SQL materialize driver (schema-derived DDL, prepared
// insert/update statements) and on the teacher's pkg/storage/boltdb.go for
// the open/close connection-lifecycle idiom, applied here to
// database/sql + modernc.org/sqlite instead of BoltDB.
package sqlitemat

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/epicenterlabs/epicenter/pkg/bus"
	"github.com/epicenterlabs/epicenter/pkg/crdt"
	"github.com/epicenterlabs/epicenter/pkg/epierr"
	"github.com/epicenterlabs/epicenter/pkg/field"
	"github.com/epicenterlabs/epicenter/pkg/log"
	"github.com/epicenterlabs/epicenter/pkg/materialize"
	"github.com/epicenterlabs/epicenter/pkg/schema"
	"github.com/epicenterlabs/epicenter/pkg/table"

	_ "modernc.org/sqlite"
)

// Materializer mirrors a set of workspace tables into one SQLite file.
type Materializer struct {
	workspaceID string
	path        string
	db          *sql.DB
	doc         *crdt.Document
	tables      map[string]schema.TableSchema
	handles     map[string]*table.Table
	unregister  func()
}

// Open opens (creating if absent) the SQLite file at path and derives a
// relational schema for every table in ws. A structural mismatch between
// the on-disk schema and the declared schema triggers a drop-and-recreate
// rebuild of the affected table followed by a full pull.
func Open(workspaceID, path string, ws schema.WorkspaceSchema, doc *crdt.Document, handles map[string]*table.Table) (*Materializer, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, epierr.Wrap(epierr.CodeProviderFailed, "open sqlite database", err, map[string]any{"path": path})
	}

	m := &Materializer{
		workspaceID: workspaceID,
		path:        path,
		db:          db,
		doc:         doc,
		tables:      ws.Tables,
		handles:     handles,
	}

	for name, ts := range ws.Tables {
		if err := m.ensureTable(name, ts); err != nil {
			db.Close()
			return nil, err
		}
	}
	if err := m.Pull(); err != nil {
		db.Close()
		return nil, err
	}
	return m, nil
}

func (m *Materializer) Name() string { return "sqlite:" + m.path }

// Register installs add/update/delete handlers for every mirrored table on
// the Observer Bus.
func (m *Materializer) Register(b *bus.Bus) (unregisterAll func()) {
	unregs := make([]func(), 0, len(m.tables))
	for name := range m.tables {
		tableName := name
		unregs = append(unregs, b.Register(tableName, m.Name(), tableHandler{m: m, table: tableName}))
	}
	m.unregister = func() {
		for _, u := range unregs {
			u()
		}
	}
	return m.unregister
}

type tableHandler struct {
	m     *Materializer
	table string
}

func (h tableHandler) OnAdd(table string, row crdt.Row) error    { return h.m.upsertRow(table, row) }
func (h tableHandler) OnUpdate(table string, row crdt.Row) error { return h.m.upsertRow(table, row) }
func (h tableHandler) OnDelete(table, id string) error           { return h.m.deleteRow(table, id) }

// columnDef describes one derived SQLite column.
type columnDef struct {
	name    string
	sqlType string
	primary bool
}

func columnsFor(ts schema.TableSchema) []columnDef {
	cols := make([]columnDef, 0, len(ts.Fields))
	for _, name := range ts.FieldNames() {
		d := ts.Fields[name]
		cols = append(cols, columnDef{name: name, sqlType: sqlType(d.Kind), primary: d.Kind == field.KindID})
	}
	return cols
}

func sqlType(k field.Kind) string {
	switch k {
	case field.KindID:
		return "TEXT PRIMARY KEY"
	case field.KindInteger:
		return "INTEGER"
	case field.KindBoolean:
		return "INTEGER"
	case field.KindDate, field.KindSelect, field.KindTags, field.KindJSON, field.KindText, field.KindRichText:
		return "TEXT"
	default:
		return "TEXT"
	}
}

// ensureTable checks the on-disk schema against the declared one and
// rebuilds (drop + recreate) on drift, per spec.md §4.7.
func (m *Materializer) ensureTable(name string, ts schema.TableSchema) error {
	existing, err := m.existingColumns(name)
	if err != nil {
		return epierr.Wrap(epierr.CodeSchemaDrift, "inspect existing sqlite schema", err, map[string]any{"table": name})
	}

	wanted := columnsFor(ts)
	if existing != nil && sameColumns(existing, wanted) {
		return nil
	}

	if existing != nil {
		log.WithMaterializer(m.workspaceID, m.Name()).Warn().
			Str("table", name).
			Msg("sqlite schema drift detected, rebuilding table")
		if _, err := m.db.Exec(fmt.Sprintf(`DROP TABLE IF EXISTS "%s"`, name)); err != nil {
			return epierr.Wrap(epierr.CodeSchemaDrift, "drop drifted table", err, map[string]any{"table": name})
		}
	}

	ddl := buildCreateTable(name, wanted)
	if _, err := m.db.Exec(ddl); err != nil {
		return epierr.Wrap(epierr.CodeSchemaDrift, "create table", err, map[string]any{"table": name})
	}
	return nil
}

func buildCreateTable(name string, cols []columnDef) string {
	parts := make([]string, 0, len(cols))
	for _, c := range cols {
		parts = append(parts, fmt.Sprintf(`"%s" %s`, c.name, c.sqlType))
	}
	return fmt.Sprintf(`CREATE TABLE "%s" (%s)`, name, strings.Join(parts, ", "))
}

func (m *Materializer) existingColumns(name string) ([]columnDef, error) {
	rows, err := m.db.Query(fmt.Sprintf(`PRAGMA table_info("%s")`, name))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var cols []columnDef
	for rows.Next() {
		var cid int
		var colName, colType string
		var notNull, pk int
		var dflt sql.NullString
		if err := rows.Scan(&cid, &colName, &colType, &notNull, &dflt, &pk); err != nil {
			return nil, err
		}
		cols = append(cols, columnDef{name: colName, sqlType: colType, primary: pk == 1})
	}
	if len(cols) == 0 {
		return nil, nil // table does not exist yet
	}
	return cols, nil
}

func sameColumns(existing, wanted []columnDef) bool {
	if len(existing) != len(wanted) {
		return false
	}
	byName := make(map[string]columnDef, len(existing))
	for _, c := range existing {
		byName[c.name] = c
	}
	for _, w := range wanted {
		e, ok := byName[w.name]
		if !ok {
			return false
		}
		// PRAGMA table_info reports bare types ("TEXT"), not our
		// "TEXT PRIMARY KEY" composite, so compare the base type only.
		if baseType(e.sqlType) != baseType(w.sqlType) {
			return false
		}
	}
	return true
}

func baseType(t string) string {
	return strings.ToUpper(strings.Fields(t)[0])
}

// Pull drains the CRDT into the SQLite file, replacing any content for
// rows it manages. Idempotent: calling it twice produces the same on-disk
// state as calling it once.
func (m *Materializer) Pull() error {
	for name, ts := range m.tables {
		rows := m.handles[name].GetAllValid()
		if _, err := m.db.Exec(fmt.Sprintf(`DELETE FROM "%s"`, name)); err != nil {
			return epierr.Wrap(epierr.CodeMaterializerFail, "clear table before pull", err, map[string]any{"table": name})
		}
		for _, row := range rows {
			if err := m.insertRow(name, ts, row); err != nil {
				return err
			}
		}
	}
	return nil
}

// Push reads every row back from SQLite and upserts it into the CRDT via
// the Table API. Materializers declare deletion-of-vanished-rows as
// optional; this implementation does not delete, matching spec.md §4.6's
// "optional, declared by the materializer."
func (m *Materializer) Push() (materialize.PushReport, error) {
	report := materialize.PushReport{}
	for name, ts := range m.tables {
		cols := columnsFor(ts)
		colNames := make([]string, len(cols))
		for i, c := range cols {
			colNames[i] = fmt.Sprintf(`"%s"`, c.name)
		}
		query := fmt.Sprintf(`SELECT %s FROM "%s"`, strings.Join(colNames, ", "), name)
		rows, err := m.db.Query(query)
		if err != nil {
			return report, epierr.Wrap(epierr.CodeMaterializerFail, "query table for push", err, map[string]any{"table": name})
		}
		for rows.Next() {
			scanTargets := make([]any, len(cols))
			scanVals := make([]sql.NullString, len(cols))
			for i := range scanVals {
				scanTargets[i] = &scanVals[i]
			}
			if err := rows.Scan(scanTargets...); err != nil {
				rows.Close()
				return report, err
			}
			row := decodeRow(ts, cols, scanVals)
			if err := m.handles[name].Upsert(row); err != nil {
				report.Warnings = append(report.Warnings, fmt.Sprintf("%s: %v", name, err))
				continue
			}
			report.Upserted++
		}
		rows.Close()
	}
	return report, nil
}

func (m *Materializer) insertRow(table string, ts schema.TableSchema, row crdt.Row) error {
	cols := columnsFor(ts)
	colNames := make([]string, len(cols))
	placeholders := make([]string, len(cols))
	values := make([]any, len(cols))
	for i, c := range cols {
		colNames[i] = fmt.Sprintf(`"%s"`, c.name)
		placeholders[i] = "?"
		values[i] = encodeValue(ts.Fields[c.name].Kind, row[c.name])
	}
	stmt := fmt.Sprintf(`INSERT INTO "%s" (%s) VALUES (%s)`, table, strings.Join(colNames, ", "), strings.Join(placeholders, ", "))
	_, err := m.db.Exec(stmt, values...)
	if err != nil {
		return epierr.Wrap(epierr.CodeMaterializerFail, "insert row", err, map[string]any{"table": table, "id": row[ts.IDField()]})
	}
	return nil
}

func (m *Materializer) upsertRow(tableName string, row crdt.Row) error {
	ts, ok := m.tables[tableName]
	if !ok {
		return nil
	}
	idField := ts.IDField()
	id, _ := row[idField].(string)
	if _, err := m.db.Exec(fmt.Sprintf(`DELETE FROM "%s" WHERE "%s" = ?`, tableName, idField), id); err != nil {
		return epierr.Wrap(epierr.CodeMaterializerFail, "replace existing row", err, map[string]any{"table": tableName, "id": id})
	}
	return m.insertRow(tableName, ts, row)
}

func (m *Materializer) deleteRow(tableName, id string) error {
	ts, ok := m.tables[tableName]
	if !ok {
		return nil
	}
	idField := ts.IDField()
	_, err := m.db.Exec(fmt.Sprintf(`DELETE FROM "%s" WHERE "%s" = ?`, tableName, idField), id)
	if err != nil {
		return epierr.Wrap(epierr.CodeMaterializerFail, "delete row", err, map[string]any{"table": tableName, "id": id})
	}
	return nil
}

func encodeValue(k field.Kind, v any) any {
	if v == nil {
		return nil
	}
	switch k {
	case field.KindBoolean:
		if b, ok := v.(bool); ok {
			if b {
				return 1
			}
			return 0
		}
		return 0
	case field.KindTags:
		if tags, ok := v.([]string); ok {
			b, _ := json.Marshal(tags)
			return string(b)
		}
		b, _ := json.Marshal(v)
		return string(b)
	case field.KindJSON:
		b, _ := json.Marshal(v)
		return string(b)
	default:
		return v
	}
}

func decodeRow(ts schema.TableSchema, cols []columnDef, vals []sql.NullString) crdt.Row {
	row := make(crdt.Row, len(cols))
	for i, c := range cols {
		if !vals[i].Valid {
			continue
		}
		d := ts.Fields[c.name]
		row[c.name] = decodeValue(d.Kind, vals[i].String)
	}
	return row
}

func decodeValue(k field.Kind, s string) any {
	switch k {
	case field.KindInteger:
		var n int64
		fmt.Sscanf(s, "%d", &n)
		return n
	case field.KindBoolean:
		return s == "1"
	case field.KindTags:
		var tags []string
		if err := json.Unmarshal([]byte(s), &tags); err == nil {
			return tags
		}
		return []string{}
	case field.KindJSON:
		var v any
		if err := json.Unmarshal([]byte(s), &v); err == nil {
			return v
		}
		return nil
	default:
		return s
	}
}

// Close releases the underlying SQLite connection and unregisters bus
// handlers.
func (m *Materializer) Close() error {
	if m.unregister != nil {
		m.unregister()
	}
	return m.db.Close()
}
