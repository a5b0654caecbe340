// Package crdt implements the authoritative replicated state of a
// workspace: one sub-map per table (row id -> row), plus a kv map. Rows are
// merged field-by-field, last writer wins, each field carrying a
// (site, counter) stamp from a per-document Lamport counter, so that
// concurrent edits to different fields of the same row never clobber each
// other and CRDT merges never fail outright (see Merge and observeCounter
// in merge.go).
package crdt

import (
	"sync"

	"github.com/epicenterlabs/epicenter/pkg/log"
)

// Row is a mapping from field name to value, the form used in application
// code and handed to observers.
type Row map[string]any

// Clone returns a shallow copy of the row, safe for a caller to mutate.
func (r Row) Clone() Row {
	out := make(Row, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// EventKind identifies the kind of change an observer receives.
type EventKind string

const (
	EventAdd    EventKind = "add"
	EventUpdate EventKind = "update"
	EventDelete EventKind = "delete"
)

// Commit describes one row's net effect from a transaction, in the order
// the Observer Bus (pkg/bus) should see it.
type Commit struct {
	Table string
	ID    string
	Kind  EventKind
	Row   Row // nil for EventDelete
}

// fieldStamp is the (site, counter) pair a single field's last write carries,
// used to resolve conflicting concurrent field writes during merge.
type fieldStamp struct {
	Site    string
	Counter uint64
}

func (a fieldStamp) after(b fieldStamp) bool {
	if a.Counter != b.Counter {
		return a.Counter > b.Counter
	}
	return a.Site > b.Site
}

// rowState is the document's internal representation of one row: its
// fields, a per-field write stamp, and tombstone state (kept rather than
// removed, so a concurrent delete vs. update can be resolved by stamp
// comparison instead of simply losing one side).
type rowState struct {
	fields      map[string]fieldValue
	deleted     bool
	deleteStamp fieldStamp
}

type fieldValue struct {
	value any
	stamp fieldStamp
}

func (rs *rowState) toRow() Row {
	if rs == nil || rs.deleted {
		return nil
	}
	row := make(Row, len(rs.fields))
	for k, fv := range rs.fields {
		row[k] = fv.value
	}
	return row
}

func (rs *rowState) exists() bool {
	return rs != nil && !rs.deleted
}

// Document is the authoritative replicated state for one workspace.
type Document struct {
	mu sync.Mutex

	siteID  string
	counter uint64

	tables map[string]map[string]*rowState
	kv     map[string]fieldValue

	listeners   []func([]Commit)
	listenersMu sync.RWMutex
}

// New creates an empty Document. siteID identifies this replica in the
// vector clock used to resolve concurrent field writes during merge; it
// must be unique per replica (a random id or a configured peer name).
func New(siteID string) *Document {
	return &Document{
		siteID: siteID,
		tables: make(map[string]map[string]*rowState),
		kv:     make(map[string]fieldValue),
	}
}

// Subscribe registers a handler invoked with every transaction's commits,
// in commit order. Returns an unsubscribe function. The Observer Bus is the
// typical subscriber; persistence and sync providers may also subscribe.
func (d *Document) Subscribe(handler func([]Commit)) (unsubscribe func()) {
	d.listenersMu.Lock()
	defer d.listenersMu.Unlock()
	idx := len(d.listeners)
	d.listeners = append(d.listeners, handler)
	return func() {
		d.listenersMu.Lock()
		defer d.listenersMu.Unlock()
		d.listeners[idx] = nil
	}
}

func (d *Document) notify(commits []Commit) {
	if len(commits) == 0 {
		return
	}
	d.listenersMu.RLock()
	handlers := make([]func([]Commit), 0, len(d.listeners))
	for _, h := range d.listeners {
		if h != nil {
			handlers = append(handlers, h)
		}
	}
	d.listenersMu.RUnlock()

	for _, h := range handlers {
		h(commits)
	}
}

func (d *Document) nextStamp() fieldStamp {
	d.counter++
	return fieldStamp{Site: d.siteID, Counter: d.counter}
}

// Get returns the row's current state: (row, true) if it exists and is not
// tombstoned, (nil, false) otherwise.
func (d *Document) Get(table, id string) (Row, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	rs := d.tables[table][id]
	if !rs.exists() {
		return nil, false
	}
	return rs.toRow(), true
}

// GetAll returns every live (not tombstoned) row in the table, keyed by row
// id. Tombstoned rows are omitted.
func (d *Document) GetAll(table string) map[string]Row {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make(map[string]Row)
	for id, rs := range d.tables[table] {
		if rs.exists() {
			out[id] = rs.toRow()
		}
	}
	return out
}

// TableNames returns every table the document currently holds state for,
// whether or not it still has any live rows.
func (d *Document) TableNames() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]string, 0, len(d.tables))
	for name := range d.tables {
		out = append(out, name)
	}
	return out
}

// KVGet returns a kv entry's current value.
func (d *Document) KVGet(key string) (any, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	fv, ok := d.kv[key]
	if !ok {
		return nil, false
	}
	return fv.value, true
}

var logger = log.WithComponent("crdt")
