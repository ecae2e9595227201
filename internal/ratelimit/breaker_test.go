package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type fakeMetrics struct {
	changes []change
}

type change struct {
	actionType string
	from, to   CircuitState
}

func (f *fakeMetrics) RecordStateChange(actionType string, from, to CircuitState) {
	f.changes = append(f.changes, change{actionType, from, to})
}

func newTestBreaker(metrics MetricsCollector, now func() time.Time) *Breaker {
	b := NewBreaker(BreakerConfig{
		FailureThreshold: 3,
		FailureWindow:    time.Minute,
		OpenDuration:     10 * time.Second,
		Metrics:          metrics,
	})
	b.now = now
	return b
}

func TestBreakerOpensAfterThresholdFailures(t *testing.T) {
	metrics := &fakeMetrics{}
	now := time.Now()
	b := newTestBreaker(metrics, func() time.Time { return now })

	assert.Equal(t, StateClosed, b.State("restart_service"))
	assert.True(t, b.Allow("restart_service"))

	b.RecordFailure("restart_service")
	b.RecordFailure("restart_service")
	assert.Equal(t, StateClosed, b.State("restart_service"))

	b.RecordFailure("restart_service")
	assert.Equal(t, StateOpen, b.State("restart_service"))
	assert.False(t, b.Allow("restart_service"))

	assert.Len(t, metrics.changes, 1)
	assert.Equal(t, StateClosed, metrics.changes[0].from)
	assert.Equal(t, StateOpen, metrics.changes[0].to)
}

func TestBreakerOldFailuresOutsideWindowDontCount(t *testing.T) {
	metrics := &fakeMetrics{}
	now := time.Now()
	b := newTestBreaker(metrics, func() time.Time { return now })

	b.RecordFailure("reboot_host")
	b.RecordFailure("reboot_host")
	now = now.Add(2 * time.Minute) // past the 1-minute FailureWindow
	b.RecordFailure("reboot_host")

	assert.Equal(t, StateClosed, b.State("reboot_host"))
}

func TestBreakerHalfOpenRecoversOnSuccess(t *testing.T) {
	metrics := &fakeMetrics{}
	now := time.Now()
	b := newTestBreaker(metrics, func() time.Time { return now })

	for i := 0; i < 3; i++ {
		b.RecordFailure("rotate_log_file")
	}
	require := b.State("rotate_log_file")
	assert.Equal(t, StateOpen, require)

	now = now.Add(11 * time.Second) // past OpenDuration
	assert.True(t, b.Allow("rotate_log_file"))
	assert.Equal(t, StateHalfOpen, b.State("rotate_log_file"))

	b.ConsumeHalfOpenProbe("rotate_log_file")
	assert.False(t, b.Allow("rotate_log_file"))

	b.RecordSuccess("rotate_log_file")
	assert.Equal(t, StateClosed, b.State("rotate_log_file"))
}

func TestBreakerHalfOpenFailureReopens(t *testing.T) {
	metrics := &fakeMetrics{}
	now := time.Now()
	b := newTestBreaker(metrics, func() time.Time { return now })

	for i := 0; i < 3; i++ {
		b.RecordFailure("clear_disk_cache")
	}
	now = now.Add(11 * time.Second)
	b.Allow("clear_disk_cache")
	assert.Equal(t, StateHalfOpen, b.State("clear_disk_cache"))

	b.RecordFailure("clear_disk_cache")
	assert.Equal(t, StateOpen, b.State("clear_disk_cache"))
}

func TestBreakerForceState(t *testing.T) {
	metrics := &fakeMetrics{}
	now := time.Now()
	b := newTestBreaker(metrics, func() time.Time { return now })

	b.ForceState("revoke_network_access", StateOpen)
	assert.Equal(t, StateOpen, b.State("revoke_network_access"))

	b.ForceState("revoke_network_access", StateClosed)
	assert.Equal(t, StateClosed, b.State("revoke_network_access"))
	assert.True(t, b.Allow("revoke_network_access"))
}

func TestCircuitStateString(t *testing.T) {
	assert.Equal(t, "closed", StateClosed.String())
	assert.Equal(t, "open", StateOpen.String())
	assert.Equal(t, "half-open", StateHalfOpen.String())
}
