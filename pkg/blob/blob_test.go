package blob

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPutGetDeleteList(t *testing.T) {
	store, err := Open(t.TempDir(), "ws", "notes")
	require.NoError(t, err)

	require.NoError(t, store.Put("a.png", []byte("one")))
	require.NoError(t, store.Put("b.png", []byte("two")))

	data, ok, err := store.Get("a.png")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("one"), data)

	names, err := store.List()
	require.NoError(t, err)
	assert.Equal(t, []string{"a.png", "b.png"}, names)

	require.NoError(t, store.Delete("a.png"))
	_, ok, err = store.Get("a.png")
	require.NoError(t, err)
	assert.False(t, ok)

	names, err = store.List()
	require.NoError(t, err)
	assert.Equal(t, []string{"b.png"}, names)
}

func TestGetMissingReturnsFalseNotError(t *testing.T) {
	store, err := Open(t.TempDir(), "ws", "notes")
	require.NoError(t, err)

	_, ok, err := store.Get("missing.png")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestDeleteMissingIsNoop(t *testing.T) {
	store, err := Open(t.TempDir(), "ws", "notes")
	require.NoError(t, err)
	assert.NoError(t, store.Delete("missing.png"))
}
