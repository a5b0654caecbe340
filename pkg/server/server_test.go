package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/epicenterlabs/epicenter/pkg/action"
	"github.com/epicenterlabs/epicenter/pkg/crdt"
	"github.com/epicenterlabs/epicenter/pkg/epicenter"
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

func testEpicenter(t *testing.T) *epicenter.Epicenter {
	t.Helper()
	dir := t.TempDir()

	notesSchema := schema.WorkspaceSchema{
		Tables: map[string]schema.TableSchema{
			"notes": {Name: "notes", Fields: schema.FieldMap{"id": field.ID(), "title": field.Text()}},
		},
	}

	def := workspace.Def{
		ID:     "notes",
		Schema: notesSchema,
		Materializers: []workspace.MaterializerFactory{
			func(workspaceID, root string, ws schema.WorkspaceSchema, doc *crdt.Document, handles map[string]*table.Table) (materialize.Materializer, error) {
				return sqlitemat.Open(workspaceID, filepath.Join(root, "notes.db"), ws, doc, handles)
			},
		},
		Actions: func(actx action.Context) map[string]action.Action {
			create := action.DefineMutation("create", func(ctx context.Context, actx action.Context, input map[string]any) epierr.Result[any] {
				if err := actx.Tables["notes"].Insert(input); err != nil {
					return epierr.Err[any](err.(*epierr.Error))
				}
				return epierr.Ok[any](input)
			}, action.WithInputSchema(notesSchema.Tables["notes"].Fields))

			list := action.DefineQuery("list", func(ctx context.Context, actx action.Context, input map[string]any) epierr.Result[any] {
				return epierr.Ok[any](actx.Tables["notes"].GetAllValid())
			})
			return map[string]action.Action{"create": create, "list": list}
		},
	}

	ep, err := epicenter.New(epicenter.Config{ConfigRoot: dir}, def)
	require.NoError(t, err)
	t.Cleanup(func() { ep.Close() })
	return ep
}

func TestHandleRoot(t *testing.T) {
	ep := testEpicenter(t)
	srv := New(ep)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
}

func TestHandleInvokeMutationAndQuery(t *testing.T) {
	ep := testEpicenter(t)
	srv := New(ep)

	body, _ := json.Marshal(map[string]any{"id": "n1", "title": "Hello"})
	req := httptest.NewRequest(http.MethodPost, "/workspaces/notes/create", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)

	var res resultDTO
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	assert.True(t, res.Ok)

	req2 := httptest.NewRequest(http.MethodGet, "/workspaces/notes/list", nil)
	w2 := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w2, req2)
	assert.Equal(t, http.StatusOK, w2.Code)
}

func TestHandleInvokeUnknownWorkspace(t *testing.T) {
	ep := testEpicenter(t)
	srv := New(ep)

	req := httptest.NewRequest(http.MethodGet, "/workspaces/missing/list", nil)
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHandleOpenAPIListsActions(t *testing.T) {
	ep := testEpicenter(t)
	srv := New(ep)

	req := httptest.NewRequest(http.MethodGet, "/openapi", nil)
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)

	var doc openAPIDoc
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &doc))
	assert.Contains(t, doc.Paths, "/workspaces/notes/create")
	assert.Contains(t, doc.Paths, "/workspaces/notes/list")
}
