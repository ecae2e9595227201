// Package ratelimit implements the per-action cooldown tracker and
// circuit breaker consulted by the decider before proposing an action.
// Both are in-process, mutex-guarded maps: state is lost on restart by
// design (documented in SPEC_FULL.md §5), and every safety-relevant
// caller must tolerate that reset.
package ratelimit

import (
	"sync"
	"time"
)

// CooldownKey identifies a per-action, per-resource cooldown bucket.
type CooldownKey struct {
	ActionType string
	Scope      string // e.g. the service name the action targets
}

// CooldownTracker tracks the last successful execution time per
// (action_type, scope) pair. Zero cooldown always allows.
type CooldownTracker struct {
	mu   sync.Mutex
	last map[CooldownKey]time.Time
	now  func() time.Time
}

// NewCooldownTracker builds an empty tracker.
func NewCooldownTracker() *CooldownTracker {
	return &CooldownTracker{
		last: make(map[CooldownKey]time.Time),
		now:  time.Now,
	}
}

// CheckAndReserve reports whether the action is allowed given
// cooldownSeconds. It does not itself record an attempt — callers call
// Record after the outcome of execution is known, per spec.
func (c *CooldownTracker) CheckAndReserve(key CooldownKey, cooldownSeconds int) bool {
	if cooldownSeconds <= 0 {
		return true
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	last, ok := c.last[key]
	if !ok {
		return true
	}
	return c.now().Sub(last) >= time.Duration(cooldownSeconds)*time.Second
}

// Record stores now() as the last successful execution time for key.
func (c *CooldownTracker) Record(key CooldownKey) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.last[key] = c.now()
}

// RemainingSeconds reports how many seconds remain before key is
// eligible again, 0 if already eligible or never recorded.
func (c *CooldownTracker) RemainingSeconds(key CooldownKey, cooldownSeconds int) int {
	if cooldownSeconds <= 0 {
		return 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	last, ok := c.last[key]
	if !ok {
		return 0
	}
	elapsed := c.now().Sub(last)
	remaining := time.Duration(cooldownSeconds)*time.Second - elapsed
	if remaining <= 0 {
		return 0
	}
	return int(remaining.Seconds())
}
