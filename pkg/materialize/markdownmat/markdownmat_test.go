package markdownmat

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/epicenterlabs/epicenter/pkg/crdt"
	"github.com/epicenterlabs/epicenter/pkg/field"
	"github.com/epicenterlabs/epicenter/pkg/schema"
	"github.com/epicenterlabs/epicenter/pkg/table"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func notesWorkspace() (schema.WorkspaceSchema, *crdt.Document, map[string]*table.Table) {
	ts := schema.TableSchema{
		Name: "notes",
		Fields: schema.FieldMap{
			"id":    field.ID(),
			"title": field.Text(),
			"views": field.Integer(field.WithDefault(func() any { return int64(0) })),
		},
		BodyField: "title",
	}
	doc := crdt.New("site-a")
	handles := map[string]*table.Table{"notes": table.New("notes", ts, doc)}
	ws := schema.WorkspaceSchema{Tables: map[string]schema.TableSchema{"notes": ts}}
	return ws, doc, handles
}

func TestInsertWritesMarkdownFileWithFrontmatter(t *testing.T) {
	ws, doc, handles := notesWorkspace()
	require.NoError(t, handles["notes"].Insert(map[string]any{"id": "n1", "title": "Hello", "views": int64(0)}))

	root := t.TempDir()
	mat, err := Open("notes-ws", root, ws, doc, handles, nil)
	require.NoError(t, err)
	defer mat.Close()

	path := filepath.Join(root, "notes-ws", "notes", "n1.md")
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "views: 0")
}

func TestPullIsIdempotent(t *testing.T) {
	ws, doc, handles := notesWorkspace()
	require.NoError(t, handles["notes"].Insert(map[string]any{"id": "n1", "title": "Hello"}))

	root := t.TempDir()
	mat, err := Open("notes-ws", root, ws, doc, handles, nil)
	require.NoError(t, err)
	defer mat.Close()

	require.NoError(t, mat.Pull())
	require.NoError(t, mat.Pull())

	entries, err := os.ReadDir(filepath.Join(root, "notes-ws", "notes"))
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestPushSkipsMalformedFileAndUpsertsValidOnes(t *testing.T) {
	ws, doc, handles := notesWorkspace()
	root := t.TempDir()
	mat, err := Open("notes-ws", root, ws, doc, handles, nil)
	require.NoError(t, err)
	defer mat.Close()

	dir := filepath.Join(root, "notes-ws", "notes")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "good.md"), []byte("---\nid: g1\nviews: 3\n---\nHello"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "bad.md"), []byte("not even frontmatter"), 0o644))

	report, err := mat.Push()
	require.NoError(t, err)
	assert.Equal(t, 1, report.Upserted)
	assert.Equal(t, 1, report.Skipped)
	assert.Len(t, report.Warnings, 1)

	res := handles["notes"].Get("g1")
	assert.Equal(t, table.StatusValid, res.Status)
}

func TestDeleteRemovesFile(t *testing.T) {
	ws, doc, handles := notesWorkspace()
	require.NoError(t, handles["notes"].Insert(map[string]any{"id": "n1", "title": "Hello"}))

	root := t.TempDir()
	mat, err := Open("notes-ws", root, ws, doc, handles, nil)
	require.NoError(t, err)
	defer mat.Close()

	path := filepath.Join(root, "notes-ws", "notes", "n1.md")
	_, err = os.Stat(path)
	require.NoError(t, err)

	require.NoError(t, mat.deleteRow("notes", "n1"))
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}
