package metrics

import (
	"testing"

	"github.com/orion-homelab/orion/internal/ratelimit"
	"github.com/stretchr/testify/assert"
)

func TestBreakerCollectorRecordsStateChange(t *testing.T) {
	recorder := NewInMemory()
	collector := NewBreakerCollector(recorder)

	collector.RecordStateChange("restart_service", ratelimit.StateClosed, ratelimit.StateOpen)

	snap := recorder.Snapshot()
	assert.Equal(t, 1.0, snap[key("circuit_breaker_state", map[string]string{
		"action_type": "restart_service",
		"from":        "closed",
		"to":          "open",
	})])
}
