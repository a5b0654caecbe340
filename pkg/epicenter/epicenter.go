// Package epicenter assembles an ordered collection of workspaces into one
// running runtime: it resolves the dependency graph declared by each
// workspace.Def.DependsOn, constructs workspaces in topological order so a
// workspace's actions() callback only ever sees its already-constructed
// dependencies, and exposes the resulting typed client. Grounded on the
// teacher's pkg/manager/manager.go top-level orchestration role,
// generalized from "one cluster" to "N workspaces with a dependency graph
// between them."
package epicenter

import (
	"fmt"
	"sort"

	"github.com/epicenterlabs/epicenter/pkg/action"
	"github.com/epicenterlabs/epicenter/pkg/client"
	"github.com/epicenterlabs/epicenter/pkg/epierr"
	"github.com/epicenterlabs/epicenter/pkg/log"
	"github.com/epicenterlabs/epicenter/pkg/workspace"
)

// Config is the runtime's single immutable configuration, resolved once at
// construction and handed to every workspace by value.
type Config struct {
	ConfigRoot string
}

// Epicenter holds every constructed workspace, in the topological order
// they were built in.
type Epicenter struct {
	cfg        Config
	workspaces []*workspace.Workspace
	byID       map[string]*workspace.Workspace
}

// New validates workspace id uniqueness, topologically sorts defs by
// DependsOn (Kahn's algorithm; a cycle fails with CodeDependencyCycle
// naming its members), and constructs each workspace in that order,
// passing it only the action sets of its already-built dependencies.
func New(cfg Config, defs ...workspace.Def) (*Epicenter, error) {
	if err := checkUniqueIDs(defs); err != nil {
		return nil, err
	}
	order, err := topoSort(defs)
	if err != nil {
		return nil, err
	}

	byName := make(map[string]workspace.Def, len(defs))
	for _, d := range defs {
		byName[d.ID] = d
	}

	ep := &Epicenter{cfg: cfg, byID: make(map[string]*workspace.Workspace, len(defs))}
	logger := log.WithComponent("epicenter")

	for _, id := range order {
		def := byName[id]
		deps := make(map[string]map[string]action.Action, len(def.DependsOn))
		for _, dep := range def.DependsOn {
			deps[dep] = ep.byID[dep].Actions()
		}
		w, err := workspace.New(def, cfg.ConfigRoot, deps)
		if err != nil {
			ep.Close()
			return nil, epierr.Wrap(epierr.CodeInternal, "construct workspace", err, map[string]any{"workspace": id})
		}
		ep.workspaces = append(ep.workspaces, w)
		ep.byID[id] = w
		logger.Info().Str("workspace", id).Msg("workspace constructed")
	}

	return ep, nil
}

// Client returns the typed in-process client: every workspace's actions,
// keyed first by workspace id then by action name.
func (ep *Epicenter) Client() client.Client {
	c := make(client.Client, len(ep.workspaces))
	for id, w := range ep.byID {
		c[id] = w.Actions()
	}
	return c
}

// Workspace returns the named workspace, or nil if it was never declared.
func (ep *Epicenter) Workspace(id string) *workspace.Workspace {
	return ep.byID[id]
}

// Workspaces returns every workspace in construction (dependency) order.
func (ep *Epicenter) Workspaces() []*workspace.Workspace {
	return ep.workspaces
}

// Close shuts down every workspace in reverse construction order, so a
// workspace is never closed while one of its dependents is still running.
func (ep *Epicenter) Close() error {
	var firstErr error
	for i := len(ep.workspaces) - 1; i >= 0; i-- {
		if err := ep.workspaces[i].Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func checkUniqueIDs(defs []workspace.Def) error {
	seen := make(map[string]bool, len(defs))
	for _, d := range defs {
		if d.ID == "" {
			return epierr.New(epierr.CodeValidationFailed, "workspace id must not be empty", nil)
		}
		if seen[d.ID] {
			return epierr.New(epierr.CodeValidationFailed, fmt.Sprintf("duplicate workspace id %q", d.ID), map[string]any{"workspace": d.ID})
		}
		seen[d.ID] = true
	}
	return nil
}

// topoSort returns workspace ids in an order where every dependency
// precedes its dependents, using Kahn's algorithm for a deterministic
// result (ids are visited in sorted order at each step, so equal-priority
// workspaces always come out in the same order).
func topoSort(defs []workspace.Def) ([]string, error) {
	byID := make(map[string]workspace.Def, len(defs))
	indegree := make(map[string]int, len(defs))
	dependents := make(map[string][]string, len(defs))

	for _, d := range defs {
		byID[d.ID] = d
		if _, ok := indegree[d.ID]; !ok {
			indegree[d.ID] = 0
		}
	}
	for _, d := range defs {
		for _, dep := range d.DependsOn {
			if _, ok := byID[dep]; !ok {
				return nil, epierr.New(epierr.CodeValidationFailed,
					fmt.Sprintf("workspace %q depends on undeclared workspace %q", d.ID, dep),
					map[string]any{"workspace": d.ID, "dependsOn": dep})
			}
			dependents[dep] = append(dependents[dep], d.ID)
			indegree[d.ID]++
		}
	}

	var ready []string
	for id, n := range indegree {
		if n == 0 {
			ready = append(ready, id)
		}
	}
	sort.Strings(ready)

	var order []string
	for len(ready) > 0 {
		sort.Strings(ready)
		id := ready[0]
		ready = ready[1:]
		order = append(order, id)

		next := append([]string(nil), dependents[id]...)
		sort.Strings(next)
		for _, dep := range next {
			indegree[dep]--
			if indegree[dep] == 0 {
				ready = append(ready, dep)
			}
		}
	}

	if len(order) != len(defs) {
		var cycle []string
		for id, n := range indegree {
			if n > 0 {
				cycle = append(cycle, id)
			}
		}
		sort.Strings(cycle)
		return nil, epierr.New(epierr.CodeDependencyCycle,
			fmt.Sprintf("dependency cycle among workspaces: %v", cycle),
			map[string]any{"cycle": cycle})
	}

	return order, nil
}
