package table

import (
	"testing"

	"github.com/epicenterlabs/epicenter/pkg/crdt"
	"github.com/epicenterlabs/epicenter/pkg/epierr"
	"github.com/epicenterlabs/epicenter/pkg/field"
	"github.com/epicenterlabs/epicenter/pkg/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func notesTable() *Table {
	ts := schema.TableSchema{
		Name: "notes",
		Fields: schema.FieldMap{
			"id":    field.ID(),
			"title": field.Text(),
			"views": field.Integer(field.WithDefault(func() any { return int64(0) })),
		},
	}
	return New("notes", ts, crdt.New("site-a"))
}

func TestInsertThenGetAll(t *testing.T) {
	tbl := notesTable()
	require.NoError(t, tbl.Insert(map[string]any{"id": "n1", "title": "Hello"}))

	entries := tbl.GetAll()
	require.Len(t, entries, 1)
	assert.Equal(t, StatusValid, entries[0].Status)
	assert.Equal(t, "Hello", entries[0].Row["title"])
	assert.Equal(t, int64(0), entries[0].Row["views"])
}

func TestInsertConflict(t *testing.T) {
	tbl := notesTable()
	require.NoError(t, tbl.Insert(map[string]any{"id": "n1", "title": "Hello"}))

	err := tbl.Insert(map[string]any{"id": "n1", "title": "Again"})
	require.Error(t, err)
	assert.True(t, epierr.HasCode(err, epierr.CodeIDConflict))
}

func TestUpdateMissingRow(t *testing.T) {
	tbl := notesTable()
	err := tbl.Update(map[string]any{"id": "ghost", "title": "x"})
	require.Error(t, err)
	assert.True(t, epierr.HasCode(err, epierr.CodeRowNotFound))
}

func TestUpdateAppliesOnlyProvidedFields(t *testing.T) {
	tbl := notesTable()
	require.NoError(t, tbl.Insert(map[string]any{"id": "n1", "title": "Hello", "views": int64(5)}))
	require.NoError(t, tbl.Update(map[string]any{"id": "n1", "views": int64(6)}))

	res := tbl.Get("n1")
	assert.Equal(t, StatusValid, res.Status)
	assert.Equal(t, "Hello", res.Row["title"])
	assert.Equal(t, int64(6), res.Row["views"])
}

func TestDeleteIsIdempotent(t *testing.T) {
	tbl := notesTable()
	assert.NoError(t, tbl.Delete("ghost"))
	require.NoError(t, tbl.Insert(map[string]any{"id": "n1", "title": "Hello"}))
	assert.NoError(t, tbl.Delete("n1"))
	assert.NoError(t, tbl.Delete("n1"))

	res := tbl.Get("n1")
	assert.Equal(t, StatusAbsent, res.Status)
}

func TestGetAllValidHidesInvalidRows(t *testing.T) {
	tbl := notesTable()
	require.NoError(t, tbl.Upsert(map[string]any{"id": "n1", "title": "ok", "views": int64(0)}))
	// force an invalid row directly through the CRDT, bypassing validation,
	// the way a materializer push or a remote merge could.
	_ = tbl.doc.Txn(func(tx *crdt.Txn) error {
		tx.Insert("notes", "n2", crdt.Row{"id": "n2", "views": "not-an-integer"})
		return nil
	})

	valid := tbl.GetAllValid()
	assert.Len(t, valid, 1)
	assert.Equal(t, "n1", valid[0]["id"])

	all := tbl.GetAll()
	assert.Len(t, all, 2)
}

func TestFilter(t *testing.T) {
	tbl := notesTable()
	require.NoError(t, tbl.Insert(map[string]any{"id": "n1", "title": "keep", "views": int64(10)}))
	require.NoError(t, tbl.Insert(map[string]any{"id": "n2", "title": "drop", "views": int64(1)}))

	kept := tbl.Filter(func(r crdt.Row) bool { return r["views"].(int64) > 5 })
	require.Len(t, kept, 1)
	assert.Equal(t, "n1", kept[0]["id"])
}
