// Package inference implements the distributed, health-aware,
// model-sticky LLM inference layer of SPEC_FULL.md §4.K: a health
// registry shared via Redis, a router that dispatches requests to
// per-node streams, and a worker that performs local inference.
//
// Grounded on the teacher's ai.ProviderRegistry (a mutex-guarded
// named-factory map with Register/Get/List) generalized from static
// provider registration to a live, TTL-backed node health map, and on
// pkg/discovery.RedisDiscovery's fresh/stale cache + background
// refresh for the staleness/expiry semantics.
package inference

import (
	"context"
	"encoding/json"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/orion-homelab/orion/internal/logging"
	"github.com/orion-homelab/orion/internal/messages"
)

// Thresholds bound node availability. Consulted on every read, not
// baked in as magic numbers.
type Thresholds struct {
	StalenessWindow time.Duration // default 15s
	ExpiryTTL       time.Duration // default 30s backstop
	MaxTempCelsius  float64       // default 75
	MaxRAMPercent   float64       // default 90
}

func (t *Thresholds) applyDefaults() {
	if t.StalenessWindow <= 0 {
		t.StalenessWindow = 15 * time.Second
	}
	if t.ExpiryTTL <= 0 {
		t.ExpiryTTL = 30 * time.Second
	}
	if t.MaxTempCelsius <= 0 {
		t.MaxTempCelsius = 75
	}
	if t.MaxRAMPercent <= 0 {
		t.MaxRAMPercent = 90
	}
}

const healthHashKey = "orion:inference:health"

// Registry is the shared worker health registry, backed by a Redis
// hash keyed by node id plus an individual per-node key carrying a 30s
// TTL as a staleness backstop independent of the hash read path.
type Registry struct {
	client     *redis.Client
	thresholds Thresholds
	logger     logging.Logger
	now        func() time.Time
}

// NewRegistry creates a Registry over an existing Redis client.
func NewRegistry(client *redis.Client, thresholds Thresholds, logger logging.Logger) *Registry {
	thresholds.applyDefaults()
	if logger == nil {
		logger = logging.New("orion-inference-registry")
	}
	return &Registry{client: client, thresholds: thresholds, logger: logger, now: time.Now}
}

// Publish writes a worker's current NodeHealth into the shared hash and
// refreshes its individual TTL key.
func (r *Registry) Publish(ctx context.Context, health messages.NodeHealth) error {
	health.LastSeen = r.now().UTC()
	raw, err := json.Marshal(health)
	if err != nil {
		return err
	}
	pipe := r.client.Pipeline()
	pipe.HSet(ctx, healthHashKey, health.NodeID, raw)
	pipe.Set(ctx, ttlKey(health.NodeID), "1", r.thresholds.ExpiryTTL)
	_, err = pipe.Exec(ctx)
	return err
}

// Remove deletes a worker's health entry, used on graceful shutdown so
// routing never sees a ghost node.
func (r *Registry) Remove(ctx context.Context, nodeID string) error {
	pipe := r.client.Pipeline()
	pipe.HDel(ctx, healthHashKey, nodeID)
	pipe.Del(ctx, ttlKey(nodeID))
	_, err := pipe.Exec(ctx)
	return err
}

func ttlKey(nodeID string) string {
	return "orion:inference:health:ttl:" + nodeID
}

// Available returns every node that is fresh (last_seen within
// StalenessWindow, confirmed by its TTL backstop key still existing),
// reports available == true, and is within the temperature/RAM
// thresholds. Stale hash entries whose TTL key has already expired are
// purged opportunistically.
func (r *Registry) Available(ctx context.Context) ([]messages.NodeHealth, error) {
	raw, err := r.client.HGetAll(ctx, healthHashKey).Result()
	if err != nil {
		return nil, err
	}

	var out []messages.NodeHealth
	now := r.now()
	for nodeID, data := range raw {
		var h messages.NodeHealth
		if err := json.Unmarshal([]byte(data), &h); err != nil {
			continue
		}

		ttlExists, err := r.client.Exists(ctx, ttlKey(nodeID)).Result()
		if err != nil {
			continue
		}
		if ttlExists == 0 {
			r.client.HDel(ctx, healthHashKey, nodeID)
			continue
		}

		if now.Sub(h.LastSeen) > r.thresholds.StalenessWindow {
			continue
		}
		if !h.Available {
			continue
		}
		if h.TempCelsius > r.thresholds.MaxTempCelsius {
			continue
		}
		if h.RAMPercent > r.thresholds.MaxRAMPercent {
			continue
		}
		out = append(out, h)
	}
	return out, nil
}
