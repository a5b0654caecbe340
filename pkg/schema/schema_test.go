package schema

import (
	"testing"

	"github.com/epicenterlabs/epicenter/pkg/epierr"
	"github.com/epicenterlabs/epicenter/pkg/field"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func notesSchema() TableSchema {
	return TableSchema{
		Name: "notes",
		Fields: FieldMap{
			"id":    field.ID(),
			"title": field.Text(),
			"views": field.Integer(field.WithDefault(func() any { return int64(0) })),
		},
		BodyField: "title",
	}
}

func TestTableValidatorFullRow(t *testing.T) {
	v := notesSchema().TableValidator()

	err := v.Validate(map[string]any{"id": "n1", "title": "Hello", "views": int64(0)})
	assert.NoError(t, err)

	err = v.Validate(map[string]any{"id": "n1", "views": int64(0)})
	require.Error(t, err)
	assert.True(t, epierr.HasCode(err, epierr.CodeMissingRequired))
}

func TestPartialValidatorOmitsUnsetFields(t *testing.T) {
	v := notesSchema().PartialValidator()

	err := v.Validate(map[string]any{"id": "n1", "title": "Updated"})
	assert.NoError(t, err)

	err = v.Validate(map[string]any{"title": "no id"})
	require.Error(t, err)
	assert.True(t, epierr.HasCode(err, epierr.CodeBadID))
}

func TestFrontmatterValidatorExcludesBody(t *testing.T) {
	v := notesSchema().FrontmatterValidator()
	err := v.Validate(map[string]any{"id": "n1", "views": int64(0)})
	assert.NoError(t, err)
}

func TestFieldNamesSorted(t *testing.T) {
	names := notesSchema().FieldNames()
	assert.Equal(t, []string{"id", "title", "views"}, names)
}
