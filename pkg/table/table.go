// Package table provides the typed read/write handle bound to one
// workspace table: insert, upsert, update, delete, deleteMany, get, getAll,
// getAllValid, observe, and filter. Every write routes through the CRDT;
// no write path touches a materializer directly (spec.md §4.4).
package table

import (
	"fmt"

	"github.com/epicenterlabs/epicenter/pkg/crdt"
	"github.com/epicenterlabs/epicenter/pkg/epierr"
	"github.com/epicenterlabs/epicenter/pkg/schema"
)

// RowStatus is the outcome of a Get or an entry in GetAll.
type RowStatus string

const (
	StatusValid   RowStatus = "valid"
	StatusInvalid RowStatus = "invalid"
	StatusAbsent  RowStatus = "absent"
)

// GetResult is the result of Get: exactly one of Row (status valid) or
// Reason (status invalid) is populated; neither is for status absent.
type GetResult struct {
	Status RowStatus
	Row    crdt.Row
	Reason string
}

// Entry pairs a row id with its validation status for GetAll.
type Entry struct {
	ID     string
	Status RowStatus
	Row    crdt.Row // nil if invalid/absent
	Reason string
}

// Table is the typed CRUD handle for one table.
type Table struct {
	name   string
	schema schema.TableSchema
	doc    *crdt.Document

	fullValidator    schema.Validator
	partialValidator schema.Validator
}

// New binds a Table handle to a table schema and the workspace's CRDT
// document.
func New(name string, ts schema.TableSchema, doc *crdt.Document) *Table {
	return &Table{
		name:             name,
		schema:           ts,
		doc:              doc,
		fullValidator:    ts.TableValidator(),
		partialValidator: ts.PartialValidator(),
	}
}

func (t *Table) idField() string { return t.schema.IDField() }

func rowID(row map[string]any, idField string) (string, error) {
	v, ok := row[idField]
	if !ok {
		return "", epierr.New(epierr.CodeBadID, "row is missing its id field", map[string]any{"field": idField})
	}
	id, ok := v.(string)
	if !ok || id == "" {
		return "", epierr.New(epierr.CodeBadID, "id must be a non-empty string", nil)
	}
	return id, nil
}

// Insert requires the id not to already exist.
func (t *Table) Insert(row map[string]any) error {
	id, err := rowID(row, t.idField())
	if err != nil {
		return err
	}
	row = withDefaults(t.schema, row)
	if err := t.fullValidator.Validate(row); err != nil {
		return err
	}
	if _, exists := t.doc.Get(t.name, id); exists {
		return epierr.New(epierr.CodeIDConflict, fmt.Sprintf("row %q already exists", id), map[string]any{"table": t.name, "id": id})
	}
	return t.doc.Txn(func(tx *crdt.Txn) error {
		tx.Insert(t.name, id, crdt.Row(row))
		return nil
	})
}

// Upsert is unconditional: it inserts or overwrites without an
// id-conflict check.
func (t *Table) Upsert(row map[string]any) error {
	id, err := rowID(row, t.idField())
	if err != nil {
		return err
	}
	row = withDefaults(t.schema, row)
	if err := t.fullValidator.Validate(row); err != nil {
		return err
	}
	return t.doc.Txn(func(tx *crdt.Txn) error {
		tx.Insert(t.name, id, crdt.Row(row))
		return nil
	})
}

// Update requires the id to exist and applies only the provided fields;
// fields omitted are unchanged.
func (t *Table) Update(patch map[string]any) error {
	id, err := rowID(patch, t.idField())
	if err != nil {
		return err
	}
	if _, exists := t.doc.Get(t.name, id); !exists {
		return epierr.New(epierr.CodeRowNotFound, fmt.Sprintf("row %q not found", id), map[string]any{"table": t.name, "id": id})
	}
	if err := t.partialValidator.Validate(patch); err != nil {
		return err
	}
	return t.doc.Txn(func(tx *crdt.Txn) error {
		tx.Update(t.name, id, patch)
		return nil
	})
}

// Delete is idempotent: deleting an absent id never fails.
func (t *Table) Delete(id string) error {
	return t.doc.Txn(func(tx *crdt.Txn) error {
		tx.Delete(t.name, id)
		return nil
	})
}

// DeleteMany deletes every id in one transaction, coalescing events per
// row the same way a hand-written multi-delete transaction would.
func (t *Table) DeleteMany(ids []string) error {
	return t.doc.Txn(func(tx *crdt.Txn) error {
		for _, id := range ids {
			tx.Delete(t.name, id)
		}
		return nil
	})
}

// Get returns the row's status: valid (with the row), invalid (with a
// reason), or absent.
func (t *Table) Get(id string) GetResult {
	row, ok := t.doc.Get(t.name, id)
	if !ok {
		return GetResult{Status: StatusAbsent}
	}
	if err := t.fullValidator.Validate(row); err != nil {
		return GetResult{Status: StatusInvalid, Reason: err.Error()}
	}
	return GetResult{Status: StatusValid, Row: row}
}

// GetAll returns every row id paired with its validation status, so repair
// tooling can inspect invalid rows that getAllValid hides.
func (t *Table) GetAll() []Entry {
	rows := t.doc.GetAll(t.name)
	out := make([]Entry, 0, len(rows))
	for id, row := range rows {
		if err := t.fullValidator.Validate(row); err != nil {
			out = append(out, Entry{ID: id, Status: StatusInvalid, Reason: err.Error()})
			continue
		}
		out = append(out, Entry{ID: id, Status: StatusValid, Row: row})
	}
	return out
}

// GetAllValid returns only rows that pass validation.
func (t *Table) GetAllValid() []crdt.Row {
	rows := t.doc.GetAll(t.name)
	out := make([]crdt.Row, 0, len(rows))
	for _, row := range rows {
		if err := t.fullValidator.Validate(row); err != nil {
			continue
		}
		out = append(out, row)
	}
	return out
}

// Filter returns every valid row passing predicate.
func (t *Table) Filter(predicate func(crdt.Row) bool) []crdt.Row {
	out := make([]crdt.Row, 0)
	for _, row := range t.GetAllValid() {
		if predicate(row) {
			out = append(out, row)
		}
	}
	return out
}

func withDefaults(ts schema.TableSchema, row map[string]any) map[string]any {
	out := make(map[string]any, len(row))
	for k, v := range row {
		out[k] = v
	}
	for name, d := range ts.Fields {
		if _, present := out[name]; present {
			continue
		}
		if d.Default != nil {
			out[name] = d.Default()
		}
	}
	return out
}
