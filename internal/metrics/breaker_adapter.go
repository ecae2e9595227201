package metrics

import "github.com/orion-homelab/orion/internal/ratelimit"

// BreakerCollector adapts a Recorder into ratelimit.MetricsCollector,
// so the breaker's state-change notifications land in whichever
// metrics backend the caller wired up, the same direction the
// teacher's resilience package delegates to its own MetricsCollector
// hook.
type BreakerCollector struct {
	recorder Recorder
}

// NewBreakerCollector wraps recorder for use as a ratelimit.Breaker's
// MetricsCollector.
func NewBreakerCollector(recorder Recorder) *BreakerCollector {
	return &BreakerCollector{recorder: recorder}
}

// RecordStateChange implements ratelimit.MetricsCollector.
func (b *BreakerCollector) RecordStateChange(actionType string, from, to ratelimit.CircuitState) {
	b.recorder.RecordMetric("circuit_breaker_state", 1, map[string]string{
		"action_type": actionType,
		"from":        from.String(),
		"to":          to.String(),
	})
}
