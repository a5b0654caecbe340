// Package bus implements the Observer Bus: the single-threaded dispatcher
// that turns CRDT commits into ordered add/update/delete events for every
// materializer registered against a table. Adapted from the teacher's
// pkg/events Broker (subscribe/publish over channels) but reworked from
// pub-sub fan-out into per-row-serialized, failure-isolated dispatch, since
// materializers must see events for one row in strict commit order while
// never blocking the bus on another materializer's failure.
package bus

import (
	"sync"
	"sync/atomic"

	"github.com/epicenterlabs/epicenter/pkg/crdt"
	"github.com/epicenterlabs/epicenter/pkg/log"
)

// Handler is what a materializer installs against a table. Errors are
// captured by the bus, never propagated to the CRDT; the bus logs them
// tagged with (table, id, materializer) and continues to the next handler.
type Handler interface {
	OnAdd(table string, row crdt.Row) error
	OnUpdate(table string, row crdt.Row) error
	OnDelete(table, id string) error
}

type registration struct {
	name    string
	table   string
	handler Handler
}

type rowKey struct{ table, id string }

// Bus is the Observer Bus for one workspace.
type Bus struct {
	workspaceID string

	mu   sync.RWMutex
	regs []registration

	rowsMu sync.Mutex
	rows   map[rowKey]chan func()

	failuresMu sync.Mutex
	failures   map[string]*int64 // materializer name -> failure count

	unsubscribe func()
}

// New creates an Observer Bus for the named workspace.
func New(workspaceID string) *Bus {
	return &Bus{
		workspaceID: workspaceID,
		rows:        make(map[rowKey]chan func()),
		failures:    make(map[string]*int64),
	}
}

// Attach subscribes the bus to a CRDT document's commit stream. Call once,
// after every materializer has registered its handlers (and before any
// provider attaches, so materializers complete their initial pull before
// remote updates can race them).
func (b *Bus) Attach(doc *crdt.Document) {
	b.unsubscribe = doc.Subscribe(b.handleCommits)
}

// Detach stops receiving commits.
func (b *Bus) Detach() {
	if b.unsubscribe != nil {
		b.unsubscribe()
	}
}

// Register installs a materializer's Handler against a table. Handlers for
// a table fire in registration order. Returns an unregister function.
func (b *Bus) Register(table, name string, handler Handler) (unregister func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.regs = append(b.regs, registration{name: name, table: table, handler: handler})

	b.failuresMu.Lock()
	if _, ok := b.failures[name]; !ok {
		var n int64
		b.failures[name] = &n
	}
	b.failuresMu.Unlock()

	idx := len(b.regs) - 1
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		b.regs[idx].handler = nil
	}
}

// FailureCount returns how many handler errors a named materializer has
// produced since registration, for pkg/metrics to poll.
func (b *Bus) FailureCount(name string) int64 {
	b.failuresMu.Lock()
	defer b.failuresMu.Unlock()
	n, ok := b.failures[name]
	if !ok {
		return 0
	}
	return atomic.LoadInt64(n)
}

func (b *Bus) handlersFor(table string) []registration {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]registration, 0, len(b.regs))
	for _, r := range b.regs {
		if r.table == table && r.handler != nil {
			out = append(out, r)
		}
	}
	return out
}

// handleCommits is the CRDT subscription callback. Each commit is handed to
// its row's worker queue, so dispatch for a given (table, id) is always in
// commit order even though the bus does not block on handler completion
// before moving to the next row.
func (b *Bus) handleCommits(commits []crdt.Commit) {
	for _, c := range commits {
		commit := c
		b.enqueue(rowKey{commit.Table, commit.ID}, func() { b.dispatch(commit) })
	}
}

// enqueue lazily starts one worker goroutine per row ever touched and keeps
// it for the workspace's lifetime. Row cardinality is bounded by table
// contents, so this trades a small steady-state goroutine count for
// simplicity over a pool with idle eviction.
func (b *Bus) enqueue(k rowKey, task func()) {
	b.rowsMu.Lock()
	ch, ok := b.rows[k]
	if !ok {
		ch = make(chan func(), 64)
		b.rows[k] = ch
		go b.runRowWorker(ch)
	}
	b.rowsMu.Unlock()
	ch <- task
}

func (b *Bus) runRowWorker(ch chan func()) {
	for task := range ch {
		task()
	}
}

func (b *Bus) dispatch(c crdt.Commit) {
	for _, r := range b.handlersFor(c.Table) {
		if r.handler == nil {
			continue
		}
		var err error
		switch c.Kind {
		case crdt.EventAdd:
			err = r.handler.OnAdd(c.Table, c.Row)
		case crdt.EventUpdate:
			err = r.handler.OnUpdate(c.Table, c.Row)
		case crdt.EventDelete:
			err = r.handler.OnDelete(c.Table, c.ID)
		}
		if err != nil {
			b.recordFailure(r.name)
			log.WithMaterializer(b.workspaceID, r.name).Error().
				Err(err).
				Str("table", c.Table).
				Str("id", c.ID).
				Str("kind", string(c.Kind)).
				Msg("materializer handler failed")
		}
	}
}

func (b *Bus) recordFailure(name string) {
	b.failuresMu.Lock()
	defer b.failuresMu.Unlock()
	n, ok := b.failures[name]
	if !ok {
		var zero int64
		n = &zero
		b.failures[name] = n
	}
	atomic.AddInt64(n, 1)
}
