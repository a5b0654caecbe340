package client

import (
	"context"
	"testing"

	"github.com/epicenterlabs/epicenter/pkg/action"
	"github.com/epicenterlabs/epicenter/pkg/epierr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClientInvokeDispatchesToAction(t *testing.T) {
	c := Client{
		"notes": {
			"ping": action.DefineQuery("ping", func(ctx context.Context, actx action.Context, input map[string]any) epierr.Result[any] {
				return epierr.Ok[any]("pong")
			}),
		},
	}

	res := c.Invoke(context.Background(), "notes", "ping", action.Context{}, nil)
	require.True(t, res.IsOk())
	assert.Equal(t, "pong", res.Unwrap())
}

func TestClientInvokeUnknownWorkspaceOrAction(t *testing.T) {
	c := Client{"notes": {}}

	res := c.Invoke(context.Background(), "missing", "ping", action.Context{}, nil)
	assert.False(t, res.IsOk())
	assert.Equal(t, epierr.CodeRowNotFound, res.Error().Code)

	res = c.Invoke(context.Background(), "notes", "missing", action.Context{}, nil)
	assert.False(t, res.IsOk())
	assert.Equal(t, epierr.CodeRowNotFound, res.Error().Code)
}
