// Command epicenter is a thin host binary wiring a small example
// Epicenter (a single "notes" workspace, mirrored to both SQLite and a
// markdown tree, persisted via bbolt) and exposing it through the
// generated CLI command tree and, with --serve, the REST+WebSocket server
// surface. Grounded on the teacher's cmd/warren/main.go: a cobra root
// command plus persistent logging flags, nothing more.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/epicenterlabs/epicenter/pkg/action"
	"github.com/epicenterlabs/epicenter/pkg/cli"
	"github.com/epicenterlabs/epicenter/pkg/crdt"
	"github.com/epicenterlabs/epicenter/pkg/epicenter"
	"github.com/epicenterlabs/epicenter/pkg/epierr"
	"github.com/epicenterlabs/epicenter/pkg/field"
	"github.com/epicenterlabs/epicenter/pkg/log"
	"github.com/epicenterlabs/epicenter/pkg/materialize"
	"github.com/epicenterlabs/epicenter/pkg/materialize/markdownmat"
	"github.com/epicenterlabs/epicenter/pkg/materialize/sqlitemat"
	"github.com/epicenterlabs/epicenter/pkg/metrics"
	"github.com/epicenterlabs/epicenter/pkg/provider"
	"github.com/epicenterlabs/epicenter/pkg/schema"
	"github.com/epicenterlabs/epicenter/pkg/server"
	"github.com/epicenterlabs/epicenter/pkg/table"
	"github.com/epicenterlabs/epicenter/pkg/workspace"
)

// notesWorkspace is the example workspace from spec.md's S1/S2 testable
// properties: one table, mirrored to both SQLite and a markdown tree,
// persisted to bbolt across restarts.
func notesWorkspace() workspace.Def {
	notes := schema.TableSchema{
		Name: "notes",
		Fields: schema.FieldMap{
			"id":    field.ID(),
			"title": field.Text(),
			"views": field.Integer(field.WithDefault(func() any { return int64(0) })),
		},
	}
	ws := schema.WorkspaceSchema{Tables: map[string]schema.TableSchema{"notes": notes}}

	return workspace.Def{
		ID:     "notes",
		Schema: ws,
		Materializers: []workspace.MaterializerFactory{
			func(workspaceID, root string, ws schema.WorkspaceSchema, doc *crdt.Document, handles map[string]*table.Table) (materialize.Materializer, error) {
				return sqlitemat.Open(workspaceID, filepath.Join(root, "notes.db"), ws, doc, handles)
			},
			func(workspaceID, root string, ws schema.WorkspaceSchema, doc *crdt.Document, handles map[string]*table.Table) (materialize.Materializer, error) {
				return markdownmat.Open(workspaceID, root, ws, doc, handles, nil)
			},
		},
		Providers: []workspace.ProviderFactory{
			func(workspaceID, root string) (workspace.Provider, error) {
				return provider.OpenPersistence(workspaceID, filepath.Join(root, "snapshot.bolt"))
			},
		},
		Actions: notesActions,
	}
}

func notesActions(actx action.Context) map[string]action.Action {
	create := action.DefineMutation("create", func(ctx context.Context, a action.Context, input map[string]any) epierr.Result[any] {
		if err := a.Tables["notes"].Insert(input); err != nil {
			return epierr.Err[any](err.(*epierr.Error))
		}
		return epierr.Ok[any](input)
	}, action.WithInputSchema(schema.FieldMap{
		"id":    field.ID(),
		"title": field.Text(),
	}), action.WithDescription("create a note"))

	list := action.DefineQuery("list", func(ctx context.Context, a action.Context, input map[string]any) epierr.Result[any] {
		return epierr.Ok[any](a.Tables["notes"].GetAllValid())
	}, action.WithDescription("list every valid note"))

	return map[string]action.Action{"create": create, "list": list}
}

func buildEpicenter(configRoot string) (*epicenter.Epicenter, error) {
	return epicenter.New(epicenter.Config{ConfigRoot: configRoot}, notesWorkspace())
}

func main() {
	configRoot := flag.String("config-root", "./epicenter-data", "root directory for workspace state")
	serve := flag.Bool("serve", false, "start the REST+WebSocket server instead of running a CLI command")
	addr := flag.String("addr", "127.0.0.1:8080", "address to serve on, with --serve")
	logLevel := flag.String("log-level", "info", "log level (debug, info, warn, error)")
	logJSON := flag.Bool("log-json", false, "output logs in JSON format")
	flag.Parse()

	log.Init(log.Config{Level: log.Level(*logLevel), JSONOutput: *logJSON})

	ep, err := buildEpicenter(*configRoot)
	if err != nil {
		fmt.Fprintf(os.Stderr, "epicenter: %v\n", err)
		os.Exit(1)
	}
	defer ep.Close()

	if *serve {
		collector := metrics.NewCollector(ep, 15*time.Second)
		collector.Start()
		defer collector.Stop()

		srv := server.New(ep)
		log.Info(fmt.Sprintf("listening on %s", *addr))
		if err := http.ListenAndServe(*addr, srv.Handler()); err != nil {
			fmt.Fprintf(os.Stderr, "epicenter: %v\n", err)
			os.Exit(1)
		}
		return
	}

	tree := cli.Build(ep, "epicenter", "epicenter — a local-first collaborative workspace runtime")
	tree.SetArgs(flag.Args())
	execErr := tree.Execute()
	os.Exit(cli.ExitCode(execErr))
}
