package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCooldownZeroAlwaysAllows(t *testing.T) {
	c := NewCooldownTracker()
	key := CooldownKey{ActionType: "acknowledge_incident", Scope: "orion-brain"}
	c.Record(key)
	assert.True(t, c.CheckAndReserve(key, 0))
}

func TestCooldownBlocksUntilElapsed(t *testing.T) {
	c := NewCooldownTracker()
	now := time.Now()
	c.now = func() time.Time { return now }

	key := CooldownKey{ActionType: "restart_service", Scope: "plex"}
	assert.True(t, c.CheckAndReserve(key, 60))

	c.Record(key)
	assert.False(t, c.CheckAndReserve(key, 60))
	assert.Equal(t, 60, c.RemainingSeconds(key, 60))

	now = now.Add(30 * time.Second)
	assert.False(t, c.CheckAndReserve(key, 60))
	assert.Equal(t, 30, c.RemainingSeconds(key, 60))

	now = now.Add(31 * time.Second)
	assert.True(t, c.CheckAndReserve(key, 60))
	assert.Equal(t, 0, c.RemainingSeconds(key, 60))
}

func TestCooldownKeysAreIndependent(t *testing.T) {
	c := NewCooldownTracker()
	now := time.Now()
	c.now = func() time.Time { return now }

	a := CooldownKey{ActionType: "restart_service", Scope: "plex"}
	b := CooldownKey{ActionType: "restart_service", Scope: "sonarr"}

	c.Record(a)
	assert.False(t, c.CheckAndReserve(a, 60))
	assert.True(t, c.CheckAndReserve(b, 60))
}
