package edge

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/orion-homelab/orion/internal/orionerr"
	"github.com/stretchr/testify/assert"
)

func TestDeadManSwitchTriggersAfterTimeout(t *testing.T) {
	var triggered int32
	d := NewDeadManSwitch(150*time.Millisecond, func() {
		atomic.StoreInt32(&triggered, 1)
	}, nil)
	defer d.Stop()

	assert.False(t, d.IsTriggered())

	time.Sleep(400 * time.Millisecond) // past timeout plus two 100ms ticks, CI-friendly buffer

	assert.True(t, d.IsTriggered())
	assert.Equal(t, int32(1), atomic.LoadInt32(&triggered))
}

func TestDeadManSwitchResetPreventsTrigger(t *testing.T) {
	var triggered int32
	d := NewDeadManSwitch(150*time.Millisecond, func() {
		atomic.AddInt32(&triggered, 1)
	}, nil)
	defer d.Stop()

	// Keep resetting faster than the timeout.
	for i := 0; i < 4; i++ {
		time.Sleep(50 * time.Millisecond)
		d.Reset()
	}

	assert.False(t, d.IsTriggered())
	assert.Equal(t, int32(0), atomic.LoadInt32(&triggered))
}

func TestDeadManSwitchResetAloneDoesNotClearTriggered(t *testing.T) {
	d := NewDeadManSwitch(100*time.Millisecond, func() {}, nil)
	defer d.Stop()

	time.Sleep(350 * time.Millisecond)
	assert.True(t, d.IsTriggered())

	d.Reset()
	assert.True(t, d.IsTriggered(), "Reset alone must not clear a triggered watchdog")

	d.ClearTriggered()
	assert.False(t, d.IsTriggered())
}

func TestDeadManSwitchRemainingMs(t *testing.T) {
	d := NewDeadManSwitch(time.Second, func() {}, nil)
	defer d.Stop()

	remaining := d.RemainingMs()
	assert.True(t, remaining > 0 && remaining <= 1000)
}

func TestDeadManSwitchStopIsIdempotent(t *testing.T) {
	d := NewDeadManSwitch(time.Second, func() {}, nil)
	assert.NotPanics(t, func() {
		d.Stop()
		d.Stop()
	})
}

func TestSafeStateManagerEnterExit(t *testing.T) {
	var entered, exited int
	s := NewSafeStateManager(func() { entered++ }, func() { exited++ }, nil)

	assert.False(t, s.IsInSafeMode())

	s.EnterSafeMode()
	assert.True(t, s.IsInSafeMode())
	assert.Equal(t, 1, entered)

	// Idempotent: entering again does not re-invoke the callback.
	s.EnterSafeMode()
	assert.Equal(t, 1, entered)

	err := s.ExitSafeMode()
	assert.NoError(t, err)
	assert.False(t, s.IsInSafeMode())
	assert.Equal(t, 1, exited)

	// Exiting again while already out of safe mode is an error and must
	// not re-invoke the callback.
	err = s.ExitSafeMode()
	assert.ErrorIs(t, err, orionerr.ErrNotInSafeMode)
	assert.Equal(t, 1, exited)
}

func TestExitSafeModeFromNeverEnteredReturnsErrorWithoutCallback(t *testing.T) {
	var exited int
	s := NewSafeStateManager(func() {}, func() { exited++ }, nil)

	err := s.ExitSafeMode()
	assert.ErrorIs(t, err, orionerr.ErrNotInSafeMode)
	assert.Equal(t, 0, exited)
}
