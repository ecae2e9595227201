package inference

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/orion-homelab/orion/internal/bus"
	"github.com/orion-homelab/orion/internal/logging"
	"github.com/orion-homelab/orion/internal/messages"
	"github.com/orion-homelab/orion/internal/orionerr"
)

// Stats are the router's observability counters.
type Stats struct {
	TotalRouted int64 `json:"total_routed"`
	StickyHits  int64 `json:"sticky_hits"`
	Fallbacks   int64 `json:"fallbacks"`
	Errors      int64 `json:"errors"`
}

// Router subscribes to the shared inference request stream and
// dispatches each request to a per-node stream, sticky-then-fallback.
type Router struct {
	bus      *bus.Bus
	registry *Registry
	logger   logging.Logger

	totalRouted atomic.Int64
	stickyHits  atomic.Int64
	fallbacks   atomic.Int64
	errors      atomic.Int64

	mu          sync.Mutex
	lastNodes   []messages.NodeHealth
}

// NewRouter creates a Router.
func NewRouter(b *bus.Bus, registry *Registry, logger logging.Logger) *Router {
	if logger == nil {
		logger = logging.New("orion-inference-router")
	}
	return &Router{bus: b, registry: registry, logger: logger}
}

// Run subscribes to the shared request stream and routes every
// incoming InferenceRequest until ctx is cancelled.
func (r *Router) Run(ctx context.Context, group, consumer string) error {
	return r.bus.Subscribe(ctx, messages.TypeInferenceRequest, group, consumer, func(ctx context.Context, raw []byte) error {
		var req messages.InferenceRequest
		if err := json.Unmarshal(raw, &req); err != nil {
			r.logger.Error("failed to parse inference request", map[string]interface{}{"error": err.Error()})
			return nil
		}
		return r.Route(ctx, req)
	}, "")
}

// Route selects a node for req and republishes it unmodified onto that
// node's per-node stream. A NoAvailableNodes error leaves the original
// message unacked by the caller (Subscribe), so it is retried per
// upstream policy.
func (r *Router) Route(ctx context.Context, req messages.InferenceRequest) error {
	nodes, err := r.registry.Available(ctx)
	if err != nil {
		r.errors.Add(1)
		return err
	}
	if len(nodes) == 0 {
		r.errors.Add(1)
		return orionerr.New("router.Route", "no_nodes", orionerr.ErrNoAvailableNodes).WithID(req.RequestID)
	}

	sort.Slice(nodes, func(i, j int) bool { return nodes[i].RAMPercent < nodes[j].RAMPercent })

	r.mu.Lock()
	r.lastNodes = nodes
	r.mu.Unlock()

	var chosen *messages.NodeHealth
	for i := range nodes {
		for _, m := range nodes[i].Models {
			if m == req.Model {
				chosen = &nodes[i]
				break
			}
		}
		if chosen != nil {
			break
		}
	}

	sticky := chosen != nil
	if chosen == nil {
		chosen = &nodes[0]
	}

	if _, err := r.bus.Publish(ctx, messages.TypeInferenceRequest, req, r.bus.StreamName("requests:"+chosen.NodeID)); err != nil {
		r.errors.Add(1)
		return err
	}

	r.totalRouted.Add(1)
	if sticky {
		r.stickyHits.Add(1)
	} else {
		r.fallbacks.Add(1)
	}
	return nil
}

// Stats returns a snapshot of the router's counters.
func (r *Router) Stats() Stats {
	return Stats{
		TotalRouted: r.totalRouted.Load(),
		StickyHits:  r.stickyHits.Load(),
		Fallbacks:   r.fallbacks.Load(),
		Errors:      r.errors.Load(),
	}
}

// Nodes returns the node list considered during the most recent
// routing decision, for the /nodes operations endpoint.
func (r *Router) Nodes() []messages.NodeHealth {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]messages.NodeHealth, len(r.lastNodes))
	copy(out, r.lastNodes)
	return out
}
