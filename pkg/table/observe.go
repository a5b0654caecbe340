package table

import (
	"github.com/epicenterlabs/epicenter/pkg/bus"
	"github.com/epicenterlabs/epicenter/pkg/crdt"
)

// Observers is the callback set a caller passes to Observe; any of the
// three may be nil.
type Observers struct {
	OnAdd    func(row crdt.Row)
	OnUpdate func(row crdt.Row)
	OnDelete func(id string)
}

type funcHandler struct {
	name string
	obs  Observers
}

func (h funcHandler) OnAdd(table string, row crdt.Row) error {
	if h.obs.OnAdd != nil {
		h.obs.OnAdd(row)
	}
	return nil
}

func (h funcHandler) OnUpdate(table string, row crdt.Row) error {
	if h.obs.OnUpdate != nil {
		h.obs.OnUpdate(row)
	}
	return nil
}

func (h funcHandler) OnDelete(table, id string) error {
	if h.obs.OnDelete != nil {
		h.obs.OnDelete(id)
	}
	return nil
}

// Observe registers ad hoc callbacks against the table through the
// workspace's Observer Bus, alongside materializer handlers. Returns an
// unsubscribe handle.
func (t *Table) Observe(b *bus.Bus, name string, obs Observers) (unsubscribe func()) {
	return b.Register(t.name, name, funcHandler{name: name, obs: obs})
}
