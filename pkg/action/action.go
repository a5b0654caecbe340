// Package action implements the Action System: defineQuery/defineMutation,
// input validators, and the metadata (Describe) that lets the CLI and HTTP
// surfaces discover every registered action without hand-written glue per
// workspace. Grounded on the teacher's pkg/api/server.go RPC-handler
// registration pattern, generalized from fixed gRPC methods to
// workspace-declared named actions.
package action

import (
	"context"

	"github.com/epicenterlabs/epicenter/pkg/blob"
	"github.com/epicenterlabs/epicenter/pkg/epierr"
	"github.com/epicenterlabs/epicenter/pkg/materialize"
	"github.com/epicenterlabs/epicenter/pkg/schema"
	"github.com/epicenterlabs/epicenter/pkg/table"
)

// Kind distinguishes a read-only query from a mutation.
type Kind string

const (
	KindQuery    Kind = "query"
	KindMutation Kind = "mutation"
)

// Paths are the filesystem roots an action may need (e.g. to hand a path
// to a host-provided exporter). Resolved once at Epicenter construction,
// per the Design Note on immutable global configuration.
type Paths struct {
	ConfigRoot    string
	WorkspaceRoot string
}

// Context is what a workspace's actions() callback receives: its own
// tables and schema, the action sets of its already-constructed
// dependencies, its materializers (for actions that trigger an explicit
// Pull/Push), its blob namespaces, and its resolved paths.
type Context struct {
	Tables     map[string]*table.Table
	Schema     schema.WorkspaceSchema
	Validators map[string]schema.Validator
	Workspaces map[string]map[string]Action
	Providers  map[string]materialize.Materializer
	Blobs      map[string]*blob.Store
	Paths      Paths
}

// Handler is an action's implementation. ctx carries the caller's
// cancellation signal (HTTP disconnect, CLI interrupt); input is the
// validated request body. Handlers return a typed Result, never panic or
// return a bare error across the action boundary.
type Handler func(ctx context.Context, actx Context, input map[string]any) epierr.Result[any]

// Action is a named query or mutation exposed by a workspace.
type Action struct {
	Name           string
	Kind           Kind
	Description    string
	InputSchema    schema.FieldMap // nil if the action takes no structured input
	InputValidator func(input map[string]any) error
	Run            Handler
}

// Option customizes an Action built by DefineQuery/DefineMutation.
type Option func(*Action)

// WithDescription attaches human-readable documentation surfaced by the
// CLI help text and the OpenAPI document.
func WithDescription(d string) Option {
	return func(a *Action) { a.Description = d }
}

// WithInputSchema attaches field metadata used to derive CLI flags and the
// OpenAPI request schema, and builds a schema-driven validator from it
// unless WithValidator overrides it explicitly.
func WithInputSchema(fields schema.FieldMap) Option {
	return func(a *Action) {
		a.InputSchema = fields
		if a.InputValidator == nil {
			ts := schema.TableSchema{Name: a.Name, Fields: fields}
			v := ts.TableValidator()
			a.InputValidator = v.Validate
		}
	}
}

// WithValidator attaches a custom input validator, overriding any
// schema-derived one from WithInputSchema.
func WithValidator(v func(map[string]any) error) Option {
	return func(a *Action) { a.InputValidator = v }
}

func define(kind Kind, name string, run Handler, opts []Option) Action {
	a := Action{Name: name, Kind: kind, Run: run}
	for _, opt := range opts {
		opt(&a)
	}
	return a
}

// DefineQuery declares a read-only action.
func DefineQuery(name string, run Handler, opts ...Option) Action {
	return define(KindQuery, name, run, opts)
}

// DefineMutation declares a state-changing action.
func DefineMutation(name string, run Handler, opts ...Option) Action {
	return define(KindMutation, name, run, opts)
}

// MigrationContext is what a migration action receives: its workspace's own
// Context plus the legacy data directory it should read from. Migrations are
// the "dual-read/single-write" escape hatch — a one-off mutation a host
// invokes directly (never over the CLI's generated flag surface) to backfill
// a workspace's tables from a source the ambient schema doesn't know about.
type MigrationContext struct {
	Context
	LegacyRoot string
}

// MigrationReport summarizes a migration run: rows seen, rows written, and
// any non-fatal warnings (a record skipped for bad data, a field dropped).
type MigrationReport struct {
	RowsRead     int
	RowsUpserted int
	Warnings     []string
}

// MigrationHandler is the implementation of a migration action.
type MigrationHandler func(ctx context.Context, mctx MigrationContext) epierr.Result[MigrationReport]

// DefineMigration declares a migration action: a mutation-shaped action
// whose Run adapts a MigrationHandler, so cmd/epicenter-migrate can invoke
// it through the same Action/Invoke path as any other mutation while the
// handler itself gets the extra LegacyRoot it needs.
func DefineMigration(name string, legacyRoot string, run MigrationHandler, opts ...Option) Action {
	handler := func(ctx context.Context, actx Context, input map[string]any) epierr.Result[any] {
		res := run(ctx, MigrationContext{Context: actx, LegacyRoot: legacyRoot})
		if !res.IsOk() {
			return epierr.Err[any](res.Error())
		}
		return epierr.Ok[any](res.Unwrap())
	}
	return define(KindMutation, name, handler, opts)
}

// Invoke validates input (if the action declares a validator) and runs the
// handler, returning a validation-failed Result without ever calling Run on
// bad input.
func (a Action) Invoke(ctx context.Context, actx Context, input map[string]any) epierr.Result[any] {
	if a.InputValidator != nil {
		if err := a.InputValidator(input); err != nil {
			if e, ok := err.(*epierr.Error); ok {
				return epierr.Err[any](e)
			}
			return epierr.Err[any](epierr.Wrap(epierr.CodeValidationFailed, "invalid action input", err, map[string]any{"action": a.Name}))
		}
	}
	return a.Run(ctx, actx, input)
}

// FieldDescribe is one input field's metadata, as surfaced to the CLI
// (flag derivation) and the OpenAPI document (JSON schema property).
type FieldDescribe struct {
	Name     string
	Kind     string
	Required bool
	Options  []string // select/tags option lists, if any
}

// Describe is the machine-readable description of one action: spec.md
// §4.12's "machine readable description of every action" that the CLI and
// HTTP /openapi surfaces both render from.
type Describe struct {
	Name        string
	Kind        Kind
	Description string
	Fields      []FieldDescribe
}

// Describe returns a's metadata for CLI/OpenAPI generation.
func (a Action) Describe() Describe {
	d := Describe{Name: a.Name, Kind: a.Kind, Description: a.Description}
	for _, name := range sortedFieldNames(a.InputSchema) {
		fd := a.InputSchema[name]
		opts := fd.SelectOptions
		if len(fd.TagOptions) > 0 {
			opts = fd.TagOptions
		}
		d.Fields = append(d.Fields, FieldDescribe{
			Name:     name,
			Kind:     string(fd.Kind),
			Required: !fd.Nullable,
			Options:  opts,
		})
	}
	return d
}

func sortedFieldNames(fm schema.FieldMap) []string {
	if len(fm) == 0 {
		return nil
	}
	names := make([]string, 0, len(fm))
	for n := range fm {
		names = append(names, n)
	}
	for i := 1; i < len(names); i++ {
		for j := i; j > 0 && names[j-1] > names[j]; j-- {
			names[j-1], names[j] = names[j], names[j-1]
		}
	}
	return names
}
