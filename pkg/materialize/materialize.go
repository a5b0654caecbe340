// Package materialize defines the contract a materializer implements:
// on_add/on_update/on_delete handlers installed on the Observer Bus, plus
// pull-from and push-to operations against its own external store.
// Materializers never read from another materializer; they read from the
// CRDT and write to their backing store, with push_from_X as the sole
// exception (it writes back through the Table API). Grounded on the
// Target/TargetTransaction store abstraction in estuary-flow's materialize
// driver, generalized from "one SQL sink" to "any external store the CRDT
// can be mirrored into."
package materialize

import "github.com/epicenterlabs/epicenter/pkg/bus"

// Context is what a materializer factory receives at construction.
type Context struct {
	WorkspaceID string
	RootPath    string // filesystem root for file-backed materializers
}

// Materializer is satisfied by every external-store mirror. Pull drains the
// CRDT into the external store, replacing any content for rows it manages.
// Push reads the external store and applies the contents back into the
// CRDT via the Table API. Close releases any resources (connections, file
// watchers).
type Materializer interface {
	Name() string
	Pull() error
	Push() (PushReport, error)
	Close() error
}

// PushReport summarizes one Push call for S5-style reporting.
type PushReport struct {
	Upserted int
	Skipped  int
	Warnings []string
}

// Registerer is implemented by materializers that install handlers on the
// Observer Bus for one or more tables (as opposed to push/pull-only
// materializers, if any are added later).
type Registerer interface {
	Register(b *bus.Bus) (unregisterAll func())
}
