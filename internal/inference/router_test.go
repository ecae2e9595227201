package inference

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/orion-homelab/orion/internal/bus"
	"github.com/orion-homelab/orion/internal/messages"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRouter(t *testing.T) (*Router, *bus.Bus, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	b, err := bus.New(context.Background(), bus.Options{RedisURL: "redis://" + mr.Addr()})
	require.NoError(t, err)
	t.Cleanup(func() { b.Close() })

	registry := NewRegistry(b.Client(), Thresholds{}, nil)
	return NewRouter(b, registry, nil), b, mr
}

func TestRouteIsStickyToTheNodeAlreadyServingTheModel(t *testing.T) {
	r, b, _ := newTestRouter(t)
	require.NoError(t, r.registry.Publish(context.Background(), messages.NodeHealth{
		NodeID: "node-a", RAMPercent: 10, TempCelsius: 40, Available: true, Models: []string{"llama3"},
	}))
	require.NoError(t, r.registry.Publish(context.Background(), messages.NodeHealth{
		NodeID: "node-b", RAMPercent: 5, TempCelsius: 40, Available: true, Models: []string{"mistral"},
	}))

	req := messages.InferenceRequest{RequestID: "req-1", Model: "llama3"}
	require.NoError(t, r.Route(context.Background(), req))

	assert.Equal(t, int64(1), r.Stats().StickyHits)
	assert.Equal(t, int64(0), r.Stats().Fallbacks)

	id, err := b.Client().XLen(context.Background(), b.StreamName("requests:node-a")).Result()
	require.NoError(t, err)
	assert.Equal(t, int64(1), id)
}

func TestRouteFallsBackToLowestRAMNodeWhenNoModelMatch(t *testing.T) {
	r, b, _ := newTestRouter(t)
	require.NoError(t, r.registry.Publish(context.Background(), messages.NodeHealth{
		NodeID: "busy", RAMPercent: 80, TempCelsius: 40, Available: true, Models: []string{"mistral"},
	}))
	require.NoError(t, r.registry.Publish(context.Background(), messages.NodeHealth{
		NodeID: "idle", RAMPercent: 5, TempCelsius: 40, Available: true, Models: []string{"mistral"},
	}))

	req := messages.InferenceRequest{RequestID: "req-1", Model: "llama3"}
	require.NoError(t, r.Route(context.Background(), req))

	assert.Equal(t, int64(1), r.Stats().Fallbacks)
	assert.Equal(t, int64(0), r.Stats().StickyHits)

	n, err := b.Client().XLen(context.Background(), b.StreamName("requests:idle")).Result()
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestRouteWithNoAvailableNodesReturnsError(t *testing.T) {
	r, _, _ := newTestRouter(t)
	err := r.Route(context.Background(), messages.InferenceRequest{RequestID: "req-1", Model: "llama3"})
	assert.Error(t, err)
	assert.Equal(t, int64(1), r.Stats().Errors)
}

func TestNodesReturnsMostRecentRoutingConsideration(t *testing.T) {
	r, _, _ := newTestRouter(t)
	require.NoError(t, r.registry.Publish(context.Background(), messages.NodeHealth{
		NodeID: "node-a", RAMPercent: 10, TempCelsius: 40, Available: true, Models: []string{"llama3"},
	}))
	require.NoError(t, r.Route(context.Background(), messages.InferenceRequest{RequestID: "req-1", Model: "llama3"}))

	nodes := r.Nodes()
	require.Len(t, nodes, 1)
	assert.Equal(t, "node-a", nodes[0].NodeID)
}
