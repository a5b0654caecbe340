package crdt

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInsertFiresAddEvent(t *testing.T) {
	doc := New("site-a")
	var got []Commit
	doc.Subscribe(func(c []Commit) { got = append(got, c...) })

	err := doc.Txn(func(tx *Txn) error {
		tx.Insert("notes", "n1", Row{"id": "n1", "title": "Hello", "views": int64(0)})
		return nil
	})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, EventAdd, got[0].Kind)
	assert.Equal(t, "Hello", got[0].Row["title"])

	row, ok := doc.Get("notes", "n1")
	require.True(t, ok)
	assert.Equal(t, "Hello", row["title"])
}

func TestInsertThenDeleteCoalescesToNothing(t *testing.T) {
	doc := New("site-a")
	var got []Commit
	doc.Subscribe(func(c []Commit) { got = append(got, c...) })

	err := doc.Txn(func(tx *Txn) error {
		tx.Insert("notes", "n1", Row{"id": "n1"})
		tx.Delete("notes", "n1")
		return nil
	})
	require.NoError(t, err)
	assert.Empty(t, got)

	_, ok := doc.Get("notes", "n1")
	assert.False(t, ok)
}

func TestInsertThenMultipleUpdatesFiresOneAddWithFinalState(t *testing.T) {
	doc := New("site-a")
	var got []Commit
	doc.Subscribe(func(c []Commit) { got = append(got, c...) })

	err := doc.Txn(func(tx *Txn) error {
		tx.Insert("notes", "n1", Row{"id": "n1", "title": "first", "views": int64(0)})
		tx.Update("notes", "n1", map[string]any{"views": int64(1)})
		tx.Update("notes", "n1", map[string]any{"views": int64(2)})
		return nil
	})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, EventAdd, got[0].Kind)
	assert.Equal(t, int64(2), got[0].Row["views"])
}

func TestDeleteOfNonexistentRowFiresNothing(t *testing.T) {
	doc := New("site-a")
	var got []Commit
	doc.Subscribe(func(c []Commit) { got = append(got, c...) })

	err := doc.Txn(func(tx *Txn) error {
		tx.Delete("notes", "ghost")
		return nil
	})
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestUpdateAfterCommitFiresUpdateEvent(t *testing.T) {
	doc := New("site-a")
	_ = doc.Txn(func(tx *Txn) error {
		tx.Insert("notes", "n1", Row{"id": "n1", "title": "Hello"})
		return nil
	})

	var got []Commit
	doc.Subscribe(func(c []Commit) { got = append(got, c...) })

	err := doc.Txn(func(tx *Txn) error {
		tx.Update("notes", "n1", map[string]any{"title": "Updated"})
		return nil
	})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, EventUpdate, got[0].Kind)
	assert.Equal(t, "Updated", got[0].Row["title"])
}

func TestMergeLastWriterWinsPerField(t *testing.T) {
	a := New("site-a")
	_ = a.Txn(func(tx *Txn) error {
		tx.Insert("notes", "n1", Row{"id": "n1", "title": "from-a", "views": int64(5)})
		return nil
	})

	b := New("site-b")
	_ = b.Txn(func(tx *Txn) error {
		tx.Insert("notes", "n1", Row{"id": "n1", "title": "from-b", "views": int64(9)})
		return nil
	})
	// Give b's views write a counter strictly greater than a's, so that field
	// is won on counter order. title stays tied at counter 1 on both sides and
	// is won by the site-id tiebreak in fieldStamp.after ("site-b" > "site-a").
	_ = b.Txn(func(tx *Txn) error {
		tx.Update("notes", "n1", map[string]any{"views": int64(9)})
		return nil
	})

	update, ok := b.Export("notes", "n1")
	require.True(t, ok)

	commit, changed := a.Merge(update)
	require.True(t, changed)
	assert.Equal(t, EventUpdate, commit.Kind)

	row, _ := a.Get("notes", "n1")
	assert.Equal(t, "from-b", row["title"])
}

func TestMergeConcurrentUpdateWithHigherStampSurvivesStaleDelete(t *testing.T) {
	a := New("site-a")
	_ = a.Txn(func(tx *Txn) error {
		tx.Insert("notes", "n1", Row{"id": "n1", "title": "original", "views": int64(0)})
		return nil
	})
	_ = a.Txn(func(tx *Txn) error {
		tx.Delete("notes", "n1")
		return nil
	})
	deleteUpdate, ok := a.Export("notes", "n1")
	require.True(t, ok)

	b := New("site-b")
	_ = b.Txn(func(tx *Txn) error {
		tx.Insert("notes", "n1", Row{"id": "n1", "title": "original", "views": int64(0)})
		return nil
	})
	// Advance b's clock with unrelated local writes before the conflicting
	// edit, so its views stamp ends up strictly ahead of a's delete stamp.
	for i := 0; i < 3; i++ {
		_ = b.Txn(func(tx *Txn) error {
			tx.Insert("notes", "scratch", Row{"id": "scratch"})
			return nil
		})
	}
	_ = b.Txn(func(tx *Txn) error {
		tx.Update("notes", "n1", map[string]any{"views": int64(9)})
		return nil
	})

	_, changed := b.Merge(deleteUpdate)
	assert.False(t, changed)

	row, ok := b.Get("notes", "n1")
	require.True(t, ok)
	assert.Equal(t, int64(9), row["views"])
}

func TestMergeDeleteWinsOverOlderConcurrentUpdate(t *testing.T) {
	a := New("site-a")
	_ = a.Txn(func(tx *Txn) error {
		tx.Insert("notes", "n1", Row{"id": "n1", "title": "original", "views": int64(0)})
		return nil
	})
	for i := 0; i < 3; i++ {
		_ = a.Txn(func(tx *Txn) error {
			tx.Insert("notes", "scratch", Row{"id": "scratch"})
			return nil
		})
	}
	_ = a.Txn(func(tx *Txn) error {
		tx.Delete("notes", "n1")
		return nil
	})
	deleteUpdate, ok := a.Export("notes", "n1")
	require.True(t, ok)

	b := New("site-b")
	_ = b.Txn(func(tx *Txn) error {
		tx.Insert("notes", "n1", Row{"id": "n1", "title": "original", "views": int64(0)})
		return nil
	})
	_ = b.Txn(func(tx *Txn) error {
		tx.Update("notes", "n1", map[string]any{"views": int64(1)})
		return nil
	})

	commit, changed := b.Merge(deleteUpdate)
	require.True(t, changed)
	assert.Equal(t, EventDelete, commit.Kind)

	_, exists := b.Get("notes", "n1")
	assert.False(t, exists)
}

func TestMergeAdvancesLocalClockPastRemoteStamps(t *testing.T) {
	a := New("site-a")
	for i := 0; i < 5; i++ {
		_ = a.Txn(func(tx *Txn) error {
			tx.Insert("notes", "scratch", Row{"id": "scratch"})
			return nil
		})
	}
	_ = a.Txn(func(tx *Txn) error {
		tx.Insert("notes", "n1", Row{"id": "n1", "title": "from-a"})
		return nil
	})
	update, ok := a.Export("notes", "n1")
	require.True(t, ok)

	b := New("site-b")
	_, changed := b.Merge(update)
	require.True(t, changed)

	// A subsequent local write on b must carry a stamp strictly after the
	// one it just merged in, even though b never made a local write before.
	_ = b.Txn(func(tx *Txn) error {
		tx.Update("notes", "n1", map[string]any{"title": "from-b"})
		return nil
	})
	localUpdate, ok := b.Export("notes", "n1")
	require.True(t, ok)
	remoteStamp := fieldStamp{Site: update.Fields["title"].Site, Counter: update.Fields["title"].Counter}
	localStamp := fieldStamp{Site: localUpdate.Fields["title"].Site, Counter: localUpdate.Fields["title"].Counter}
	assert.True(t, localStamp.after(remoteStamp))
}

func TestSnapshotRoundTrip(t *testing.T) {
	doc := New("site-a")
	_ = doc.Txn(func(tx *Txn) error {
		tx.Insert("notes", "n1", Row{"id": "n1", "title": "Hello", "views": int64(3)})
		tx.KVSet("lastSeen", "2025-01-01")
		return nil
	})

	data, err := doc.Serialize()
	require.NoError(t, err)

	restored := New("site-b")
	require.NoError(t, restored.Restore(data))

	row, ok := restored.Get("notes", "n1")
	require.True(t, ok)
	assert.Equal(t, "Hello", row["title"])
	assert.Equal(t, int64(3), row["views"])

	v, ok := restored.KVGet("lastSeen")
	require.True(t, ok)
	assert.Equal(t, "2025-01-01", v)
}
