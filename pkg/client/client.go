// Package client is the typed in-process client: every workspace's named
// actions, reachable by workspace id then action name, with no network
// transport since actions run in the same process as the caller. Grounded
// on the teacher's pkg/client/client.go typed-wrapper style, stripped of
// its gRPC dial/connection machinery.
package client

import (
	"context"

	"github.com/epicenterlabs/epicenter/pkg/action"
	"github.com/epicenterlabs/epicenter/pkg/epierr"
)

// Client maps workspace id -> action name -> Action.
type Client map[string]map[string]action.Action

// Invoke looks up workspaceID/actionName and runs it against input,
// returning a not-found error as an ordinary failed Result instead of a
// panic, so callers (pkg/server, pkg/cli) never need a type switch before
// dispatching a caller-supplied name.
func (c Client) Invoke(ctx context.Context, workspaceID, actionName string, actx action.Context, input map[string]any) epierr.Result[any] {
	ws, ok := c[workspaceID]
	if !ok {
		return epierr.Err[any](epierr.New(epierr.CodeRowNotFound,
			"workspace not found", map[string]any{"workspace": workspaceID}))
	}
	a, ok := ws[actionName]
	if !ok {
		return epierr.Err[any](epierr.New(epierr.CodeRowNotFound,
			"action not found", map[string]any{"workspace": workspaceID, "action": actionName}))
	}
	return a.Invoke(ctx, actx, input)
}

// Action looks up one action without invoking it, for introspection
// (CLI help text, OpenAPI generation).
func (c Client) Action(workspaceID, actionName string) (action.Action, bool) {
	ws, ok := c[workspaceID]
	if !ok {
		return action.Action{}, false
	}
	a, ok := ws[actionName]
	return a, ok
}
