package epicenter

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/epicenterlabs/epicenter/pkg/action"
	"github.com/epicenterlabs/epicenter/pkg/crdt"
	"github.com/epicenterlabs/epicenter/pkg/epierr"
	"github.com/epicenterlabs/epicenter/pkg/field"
	"github.com/epicenterlabs/epicenter/pkg/materialize"
	"github.com/epicenterlabs/epicenter/pkg/materialize/sqlitemat"
	"github.com/epicenterlabs/epicenter/pkg/schema"
	"github.com/epicenterlabs/epicenter/pkg/table"
	"github.com/epicenterlabs/epicenter/pkg/workspace"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func tableSchema(name string) schema.TableSchema {
	return schema.TableSchema{
		Name: name,
		Fields: schema.FieldMap{
			"id":    field.ID(),
			"title": field.Text(),
		},
	}
}

func sqliteMat(tableName string) workspace.MaterializerFactory {
	return func(workspaceID, root string, ws schema.WorkspaceSchema, doc *crdt.Document, handles map[string]*table.Table) (materialize.Materializer, error) {
		return sqlitemat.Open(workspaceID, filepath.Join(root, tableName+".db"), ws, doc, handles)
	}
}

func TestNewBuildsWorkspacesInDependencyOrder(t *testing.T) {
	dir := t.TempDir()

	authors := workspace.Def{
		ID:     "authors",
		Schema: schema.WorkspaceSchema{Tables: map[string]schema.TableSchema{"authors": tableSchema("authors")}},
		Materializers: []workspace.MaterializerFactory{sqliteMat("authors")},
		Actions: func(actx action.Context) map[string]action.Action {
			return map[string]action.Action{
				"list": action.DefineQuery("list", func(ctx context.Context, actx action.Context, input map[string]any) epierr.Result[any] {
					return epierr.Ok[any](actx.Tables["authors"].GetAllValid())
				}),
			}
		},
	}

	notes := workspace.Def{
		ID:            "notes",
		DependsOn:     []string{"authors"},
		Schema:        schema.WorkspaceSchema{Tables: map[string]schema.TableSchema{"notes": tableSchema("notes")}},
		Materializers: []workspace.MaterializerFactory{sqliteMat("notes")},
		Actions: func(actx action.Context) map[string]action.Action {
			_, hasAuthors := actx.Workspaces["authors"]
			require.True(t, hasAuthors)
			return map[string]action.Action{
				"create": action.DefineMutation("create", func(ctx context.Context, actx action.Context, input map[string]any) epierr.Result[any] {
					return epierr.Ok[any](input)
				}),
			}
		},
	}

	ep, err := New(Config{ConfigRoot: dir}, notes, authors)
	require.NoError(t, err)
	defer ep.Close()

	ids := make([]string, 0, len(ep.Workspaces()))
	for _, w := range ep.Workspaces() {
		ids = append(ids, w.ID)
	}
	assert.Equal(t, []string{"authors", "notes"}, ids)

	c := ep.Client()
	assert.Contains(t, c, "authors")
	assert.Contains(t, c["notes"], "create")
}

func TestNewDetectsDependencyCycle(t *testing.T) {
	dir := t.TempDir()
	a := workspace.Def{ID: "a", DependsOn: []string{"b"}, Schema: schema.WorkspaceSchema{}}
	b := workspace.Def{ID: "b", DependsOn: []string{"a"}, Schema: schema.WorkspaceSchema{}}

	_, err := New(Config{ConfigRoot: dir}, a, b)
	require.Error(t, err)
	assert.True(t, epierr.HasCode(err, epierr.CodeDependencyCycle))
}

func TestNewRejectsDuplicateIDs(t *testing.T) {
	dir := t.TempDir()
	a := workspace.Def{ID: "a", Schema: schema.WorkspaceSchema{}}
	dup := workspace.Def{ID: "a", Schema: schema.WorkspaceSchema{}}

	_, err := New(Config{ConfigRoot: dir}, a, dup)
	require.Error(t, err)
}
