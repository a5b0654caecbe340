// Package workspace implements one workspace's lifecycle: construct its
// CRDT document and table handles, let every materializer complete its
// initial pull and register on the Observer Bus, attach the bus, assemble
// the action.Context, build the workspace's actions, and only then attach
// its providers (so a persistence provider's restored snapshot and a sync
// provider's initial burst both flow through the bus as ordinary add
// events, never racing a materializer's own pull). Grounded on the
// teacher's pkg/manager/manager.go startup/shutdown ordering (Raft -> FSM
// -> reconciler, reversed on shutdown), applied here to
// CRDT -> materializers -> bus -> providers.
package workspace

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/epicenterlabs/epicenter/pkg/action"
	"github.com/epicenterlabs/epicenter/pkg/blob"
	"github.com/epicenterlabs/epicenter/pkg/bus"
	"github.com/epicenterlabs/epicenter/pkg/crdt"
	"github.com/epicenterlabs/epicenter/pkg/epierr"
	"github.com/epicenterlabs/epicenter/pkg/log"
	"github.com/epicenterlabs/epicenter/pkg/materialize"
	"github.com/epicenterlabs/epicenter/pkg/schema"
	"github.com/epicenterlabs/epicenter/pkg/table"
)

// MaterializerFactory builds one materializer bound to this workspace's
// document and table handles. Implementations close over their own
// destination (a sqlite path, a markdown root) and call the matching
// package's Open, which performs the materializer's initial pull as part
// of construction.
type MaterializerFactory func(workspaceID, root string, ws schema.WorkspaceSchema, doc *crdt.Document, handles map[string]*table.Table) (materialize.Materializer, error)

// ProviderFactory builds one provider (persistence, sync) bound to this
// workspace's root directory. Attach is called separately, after every
// materializer has pulled and registered.
type ProviderFactory func(workspaceID, root string) (Provider, error)

// Provider mirrors pkg/provider.Provider, restated here to avoid an import
// cycle risk should pkg/provider ever need workspace-level types; the two
// interfaces are structurally identical by construction.
type Provider interface {
	Name() string
	Attach(doc *crdt.Document) error
	Close() error
}

// Def declares one workspace: its schema, its materializers and providers,
// its dependency ids, and a factory for its action set. Actions receives
// the already-constructed Context (including this workspace's own tables
// and the action maps of its dependencies) and returns the named actions
// this workspace exposes.
type Def struct {
	ID            string
	DependsOn     []string
	Schema        schema.WorkspaceSchema
	Materializers []MaterializerFactory
	Providers     []ProviderFactory
	Actions       func(actx action.Context) map[string]action.Action
	BlobTables    []string
}

// Workspace is one running workspace: its document, bus, table handles,
// materializers, providers, and resolved actions.
type Workspace struct {
	ID      string
	doc     *crdt.Document
	bus     *bus.Bus
	tables  map[string]*table.Table
	blobs   map[string]*blob.Store
	mats    []materialize.Materializer
	provs   []Provider
	actions map[string]action.Action
	actx    action.Context
}

// New constructs and fully starts a workspace: every materializer has
// pulled and registered, the bus is attached, actions are built, and every
// provider has attached, in that order. deps is the map of already
// constructed dependency workspaces' action sets, keyed by workspace id,
// exactly as pkg/epicenter's topological build assembles it.
func New(def Def, configRoot string, deps map[string]map[string]action.Action) (*Workspace, error) {
	if def.ID == "" {
		return nil, epierr.New(epierr.CodeValidationFailed, "workspace id must not be empty", nil)
	}
	root := filepath.Join(configRoot, def.ID)
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, epierr.Wrap(epierr.CodeInternal, "create workspace root", err, map[string]any{"workspace": def.ID})
	}

	doc := crdt.New(def.ID)
	b := bus.New(def.ID)

	tables := make(map[string]*table.Table, len(def.Schema.Tables))
	for name, ts := range def.Schema.Tables {
		tables[name] = table.New(name, ts, doc)
	}

	logger := log.WithWorkspace(def.ID)

	w := &Workspace{ID: def.ID, doc: doc, bus: b, tables: tables}

	for _, factory := range def.Materializers {
		m, err := factory(def.ID, root, def.Schema, doc, tables)
		if err != nil {
			w.closeMaterializers()
			return nil, epierr.Wrap(epierr.CodeMaterializerFail, "open materializer", err, map[string]any{"workspace": def.ID})
		}
		w.mats = append(w.mats, m)
		if r, ok := m.(materialize.Registerer); ok {
			r.Register(b)
		}
		logger.Info().Str("materializer", m.Name()).Msg("materializer attached")
	}

	b.Attach(doc)

	blobs := make(map[string]*blob.Store, len(def.BlobTables))
	for _, tbl := range def.BlobTables {
		store, err := blob.Open(configRoot, def.ID, tbl)
		if err != nil {
			w.closeMaterializers()
			return nil, err
		}
		blobs[tbl] = store
	}
	w.blobs = blobs

	validators := make(map[string]schema.Validator, len(def.Schema.Tables))
	for name, ts := range def.Schema.Tables {
		validators[name] = ts.TableValidator()
	}

	actx := action.Context{
		Tables:     tables,
		Schema:     def.Schema,
		Validators: validators,
		Workspaces: deps,
		Providers:  materializersByName(w.mats),
		Blobs:      blobs,
		Paths:      action.Paths{ConfigRoot: configRoot, WorkspaceRoot: root},
	}

	w.actx = actx
	w.actions = map[string]action.Action{}
	if def.Actions != nil {
		w.actions = def.Actions(actx)
	}

	for _, factory := range def.Providers {
		p, err := factory(def.ID, root)
		if err != nil {
			w.Close()
			return nil, epierr.Wrap(epierr.CodeProviderFailed, "open provider", err, map[string]any{"workspace": def.ID})
		}
		if err := p.Attach(doc); err != nil {
			w.Close()
			return nil, epierr.Wrap(epierr.CodeProviderFailed, "attach provider", err, map[string]any{"workspace": def.ID, "provider": p.Name()})
		}
		w.provs = append(w.provs, p)
		logger.Info().Str("provider", p.Name()).Msg("provider attached")
	}

	return w, nil
}

// Actions returns the workspace's named actions, for pkg/epicenter to
// assemble the typed client and for pkg/server/pkg/cli to dispatch by name.
func (w *Workspace) Actions() map[string]action.Action { return w.actions }

// Context returns the action.Context this workspace's actions were built
// with, so pkg/server and pkg/cli can invoke an action by name without
// reconstructing its table/validator/blob bindings.
func (w *Workspace) Context() action.Context { return w.actx }

// Document exposes the workspace's CRDT document, primarily for
// pkg/provider.Sync to attach against at server-accept time.
func (w *Workspace) Document() *crdt.Document { return w.doc }

// Bus exposes the workspace's Observer Bus, primarily for pkg/metrics to
// poll materializer failure counts.
func (w *Workspace) Bus() *bus.Bus { return w.bus }

// Materializers returns the workspace's materializers, for pkg/metrics to
// enumerate by name.
func (w *Workspace) Materializers() []materialize.Materializer { return w.mats }

func materializersByName(mats []materialize.Materializer) map[string]materialize.Materializer {
	out := make(map[string]materialize.Materializer, len(mats))
	for _, m := range mats {
		out[m.Name()] = m
	}
	return out
}

// Close shuts the workspace down in the reverse of startup order: providers
// first (stop accepting remote input), then materializers (stop mirroring),
// detaching the bus in between.
func (w *Workspace) Close() error {
	var firstErr error
	for i := len(w.provs) - 1; i >= 0; i-- {
		if err := w.provs[i].Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("close provider %s: %w", w.provs[i].Name(), err)
		}
	}
	w.bus.Detach()
	w.closeMaterializers()
	if firstErr != nil {
		return firstErr
	}
	return nil
}

func (w *Workspace) closeMaterializers() {
	logger := log.WithWorkspace(w.ID)
	for i := len(w.mats) - 1; i >= 0; i-- {
		if err := w.mats[i].Close(); err != nil {
			logger.Error().Err(err).Str("materializer", w.mats[i].Name()).Msg("close materializer failed")
		}
	}
}
