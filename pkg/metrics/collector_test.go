package metrics

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/epicenterlabs/epicenter/pkg/crdt"
	"github.com/epicenterlabs/epicenter/pkg/epicenter"
	"github.com/epicenterlabs/epicenter/pkg/field"
	"github.com/epicenterlabs/epicenter/pkg/materialize"
	"github.com/epicenterlabs/epicenter/pkg/materialize/sqlitemat"
	"github.com/epicenterlabs/epicenter/pkg/schema"
	"github.com/epicenterlabs/epicenter/pkg/table"
	"github.com/epicenterlabs/epicenter/pkg/workspace"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestCollectorUpdatesGauges(t *testing.T) {
	dir := t.TempDir()

	notes := workspace.Def{
		ID: "notes",
		Schema: schema.WorkspaceSchema{
			Tables: map[string]schema.TableSchema{
				"notes": {Name: "notes", Fields: schema.FieldMap{"id": field.ID(), "title": field.Text()}},
			},
		},
		Materializers: []workspace.MaterializerFactory{
			func(workspaceID, root string, ws schema.WorkspaceSchema, doc *crdt.Document, handles map[string]*table.Table) (materialize.Materializer, error) {
				return sqlitemat.Open(workspaceID, filepath.Join(root, "notes.db"), ws, doc, handles)
			},
		},
	}

	ep, err := epicenter.New(epicenter.Config{ConfigRoot: dir}, notes)
	require.NoError(t, err)
	defer ep.Close()

	c := NewCollector(ep, time.Hour)
	c.collect()

	require.Equal(t, float64(1), testutil.ToFloat64(WorkspacesTotal))
}
