package ratelimit

import (
	"sync"
	"time"

	"github.com/orion-homelab/orion/internal/logging"
)

// CircuitState mirrors the teacher's three-state circuit breaker
// (resilience.CircuitState), generalized from HTTP-call protection to
// action-type protection: closed -> open -> half-open.
type CircuitState int

const (
	StateClosed CircuitState = iota
	StateOpen
	StateHalfOpen
)

func (s CircuitState) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "closed"
	}
}

// MetricsCollector receives circuit breaker state-change notifications,
// the same shape as the teacher's resilience.MetricsCollector.
type MetricsCollector interface {
	RecordStateChange(actionType string, from, to CircuitState)
}

type noopMetrics struct{}

func (noopMetrics) RecordStateChange(string, CircuitState, CircuitState) {}

// BreakerConfig configures a single per-action-type breaker.
type BreakerConfig struct {
	FailureThreshold int           // default 3
	FailureWindow    time.Duration // default 300s
	OpenDuration     time.Duration // default 600s
	Metrics          MetricsCollector
	Logger           logging.Logger
}

func (c *BreakerConfig) applyDefaults() {
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = 3
	}
	if c.FailureWindow <= 0 {
		c.FailureWindow = 300 * time.Second
	}
	if c.OpenDuration <= 0 {
		c.OpenDuration = 600 * time.Second
	}
	if c.Metrics == nil {
		c.Metrics = noopMetrics{}
	}
}

type breakerState struct {
	state        CircuitState
	failures     []time.Time // within FailureWindow
	openedAt     time.Time
	halfOpenUsed bool
}

// Breaker tracks one circuit breaker per action_type.
type Breaker struct {
	mu      sync.Mutex
	cfg     BreakerConfig
	byName  map[string]*breakerState
	now     func() time.Time
}

// NewBreaker builds a breaker registry; cfg thresholds apply to every
// action_type it sees (the policy store does not vary thresholds
// per-action in ORION).
func NewBreaker(cfg BreakerConfig) *Breaker {
	cfg.applyDefaults()
	return &Breaker{
		cfg:    cfg,
		byName: make(map[string]*breakerState),
		now:    time.Now,
	}
}

func (b *Breaker) stateFor(actionType string) *breakerState {
	s, ok := b.byName[actionType]
	if !ok {
		s = &breakerState{state: StateClosed}
		b.byName[actionType] = s
	}
	return s
}

// Allow reports whether an execution of actionType may proceed. An
// open breaker transitions to half-open lazily on read, once
// OpenDuration has elapsed since it opened.
func (b *Breaker) Allow(actionType string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	s := b.stateFor(actionType)

	switch s.state {
	case StateClosed:
		return true
	case StateOpen:
		if b.now().Sub(s.openedAt) >= b.cfg.OpenDuration {
			b.transition(actionType, s, StateHalfOpen)
			s.halfOpenUsed = false
			return true
		}
		return false
	case StateHalfOpen:
		if s.halfOpenUsed {
			return false
		}
		return true
	}
	return false
}

// RecordSuccess closes the breaker from half-open, or no-ops from
// closed. A single half-open success is enough to close the breaker.
func (b *Breaker) RecordSuccess(actionType string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	s := b.stateFor(actionType)
	switch s.state {
	case StateHalfOpen:
		b.transition(actionType, s, StateClosed)
		s.failures = nil
	case StateClosed:
		s.failures = nil
	}
}

// RecordFailure accumulates a failure within the window; opening the
// breaker once FailureThreshold failures occur within FailureWindow. A
// single half-open failure reopens it immediately.
func (b *Breaker) RecordFailure(actionType string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	s := b.stateFor(actionType)
	now := b.now()

	if s.state == StateHalfOpen {
		b.transition(actionType, s, StateOpen)
		s.openedAt = now
		s.failures = nil
		return
	}

	s.failures = append(s.failures, now)
	cutoff := now.Add(-b.cfg.FailureWindow)
	kept := s.failures[:0]
	for _, t := range s.failures {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	s.failures = kept

	if s.state == StateClosed && len(s.failures) >= b.cfg.FailureThreshold {
		b.transition(actionType, s, StateOpen)
		s.openedAt = now
	}
}

// ConsumeHalfOpenProbe marks the single in-flight half-open probe as
// used so concurrent Allow() calls don't admit more than one.
func (b *Breaker) ConsumeHalfOpenProbe(actionType string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	s := b.stateFor(actionType)
	if s.state == StateHalfOpen {
		s.halfOpenUsed = true
	}
}

// ForceState lets an N3 administrator override breaker state directly;
// callers are responsible for auditing the override.
func (b *Breaker) ForceState(actionType string, target CircuitState) {
	b.mu.Lock()
	defer b.mu.Unlock()
	s := b.stateFor(actionType)
	b.transition(actionType, s, target)
	if target == StateOpen {
		s.openedAt = b.now()
	}
	if target == StateClosed {
		s.failures = nil
	}
}

// State reports the current state of actionType's breaker (StateClosed
// if never seen).
func (b *Breaker) State(actionType string) CircuitState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.stateFor(actionType).state
}

func (b *Breaker) transition(actionType string, s *breakerState, to CircuitState) {
	from := s.state
	s.state = to
	if from != to {
		b.cfg.Metrics.RecordStateChange(actionType, from, to)
		if b.cfg.Logger != nil {
			b.cfg.Logger.Info("circuit breaker state change", map[string]interface{}{
				"action_type": actionType,
				"from":        from.String(),
				"to":          to.String(),
			})
		}
	}
}
