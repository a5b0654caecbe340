package provider

import (
	"path/filepath"
	"testing"

	"github.com/epicenterlabs/epicenter/pkg/crdt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPersistenceRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "notes.db")

	doc1 := crdt.New("site-a")
	p1, err := OpenPersistence("notes", path)
	require.NoError(t, err)
	require.NoError(t, p1.Attach(doc1))

	require.NoError(t, doc1.Txn(func(tx *crdt.Txn) error {
		tx.Insert("notes", "n1", crdt.Row{"id": "n1", "title": "Hello"})
		return nil
	}))
	require.NoError(t, p1.Close())

	doc2 := crdt.New("site-b")
	var added []crdt.Row
	doc2.Subscribe(func(commits []crdt.Commit) {
		for _, c := range commits {
			if c.Kind == crdt.EventAdd {
				added = append(added, c.Row)
			}
		}
	})

	p2, err := OpenPersistence("notes", path)
	require.NoError(t, err)
	require.NoError(t, p2.Attach(doc2))
	defer p2.Close()

	row, ok := doc2.Get("notes", "n1")
	require.True(t, ok)
	assert.Equal(t, "Hello", row["title"])
	require.Len(t, added, 1)
	assert.Equal(t, "Hello", added[0]["title"])
}

func TestPersistenceSavesAfterCommit(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "notes.db")

	doc := crdt.New("site-a")
	p, err := OpenPersistence("notes", path)
	require.NoError(t, err)
	require.NoError(t, p.Attach(doc))

	require.NoError(t, doc.Txn(func(tx *crdt.Txn) error {
		tx.Insert("notes", "n1", crdt.Row{"id": "n1", "title": "Hello"})
		return nil
	}))
	require.NoError(t, p.Close())

	reopened, err := OpenPersistence("notes", path)
	require.NoError(t, err)
	defer reopened.Close()
	data, err := reopened.load()
	require.NoError(t, err)
	assert.NotEmpty(t, data)
}
