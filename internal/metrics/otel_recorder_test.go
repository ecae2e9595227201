package metrics

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestOTelRecordMetricDoesNotPanicAndCachesInstrument(t *testing.T) {
	o := NewOTel("orion-test")

	assert.NotPanics(t, func() {
		o.RecordMetric("breaker_state_change", 1, map[string]string{"action_type": "restart_container"})
	})

	c1 := o.counterFor("breaker_state_change")
	c2 := o.counterFor("breaker_state_change")
	assert.Equal(t, c1, c2, "the counter for a given name is created once and reused")
	assert.Len(t, o.counters, 1)
}

func TestOTelRecordMetricWithNoLabels(t *testing.T) {
	o := NewOTel("orion-test")
	assert.NotPanics(t, func() {
		o.RecordMetric("cooldown_blocked", 1, nil)
	})
}
