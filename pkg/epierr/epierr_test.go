package epierr

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorFormatting(t *testing.T) {
	t.Run("without cause", func(t *testing.T) {
		e := New(CodeRowNotFound, "row n1 not found", map[string]any{"id": "n1"})
		assert.Equal(t, "row-not-found: row n1 not found", e.Error())
	})

	t.Run("with cause", func(t *testing.T) {
		cause := errors.New("disk full")
		e := Wrap(CodeMaterializerFail, "pull failed", cause, nil)
		assert.Contains(t, e.Error(), "disk full")
		assert.ErrorIs(t, e, cause)
	})
}

func TestHasCode(t *testing.T) {
	e := New(CodeIDConflict, "already exists", nil)
	assert.True(t, HasCode(e, CodeIDConflict))
	assert.False(t, HasCode(e, CodeRowNotFound))
	assert.False(t, HasCode(errors.New("plain"), CodeIDConflict))
}

func TestErrorIsBySentinel(t *testing.T) {
	e := New(CodeBadDateFormat, "bad date", nil)
	sentinel := New(CodeBadDateFormat, "", nil)
	assert.True(t, errors.Is(e, sentinel))
}

func TestWithContext(t *testing.T) {
	base := New(CodeValidationFailed, "invalid", map[string]any{"field": "title"})
	merged := base.WithContext(map[string]any{"table": "notes"})

	require.Len(t, merged.Context, 2)
	assert.Equal(t, "title", merged.Context["field"])
	assert.Equal(t, "notes", merged.Context["table"])
	// original untouched
	assert.Len(t, base.Context, 1)
}

func TestResult(t *testing.T) {
	ok := Ok(42)
	v, isOk := ok.Value()
	assert.True(t, isOk)
	assert.Equal(t, 42, v)
	assert.Nil(t, ok.Error())

	failed := Err[int](New(CodeRowNotFound, "nope", nil))
	_, isOk = failed.Value()
	assert.False(t, isOk)
	assert.Equal(t, CodeRowNotFound, failed.Error().Code)
}
