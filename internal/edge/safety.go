// Package edge is the edge-agent safety kernel of SPEC_FULL.md §4.J:
// a Dead Man's Switch watchdog and a "Sit & Freeze" safe-state manager,
// independent of any one device's kinematics.
//
// Grounded directly on the retrieved ORION edge agent reference
// (edge/cmd/orion-edge/main.go and its safety package), re-expressed in
// the teacher's idiom: mutex-guarded state, explicit Stop(), structured
// logging via internal/logging instead of the reference's bare log
// package.
package edge

import (
	"sync"
	"time"

	"github.com/orion-homelab/orion/internal/logging"
	"github.com/orion-homelab/orion/internal/orionerr"
)

// DeadManSwitch triggers onTrigger if Reset is not called within
// timeout. Once triggered, it stays triggered until ClearTriggered is
// called explicitly — a reconnection alone never clears it, only an
// explicit RESUME command does, per the reference agent's comment
// "Explicit RESUME command required to exit safe mode".
type DeadManSwitch struct {
	mu        sync.Mutex
	timeout   time.Duration
	deadline  time.Time
	triggered bool
	stopped   bool
	stopCh    chan struct{}
	onTrigger func()
	logger    logging.Logger
	now       func() time.Time
}

// NewDeadManSwitch creates a watchdog with the given timeout and starts
// its monitoring goroutine. onTrigger is invoked at most once per
// trigger event (not once per tick while still triggered).
func NewDeadManSwitch(timeout time.Duration, onTrigger func(), logger logging.Logger) *DeadManSwitch {
	if logger == nil {
		logger = logging.New("orion-edge-watchdog")
	}
	d := &DeadManSwitch{
		timeout:   timeout,
		onTrigger: onTrigger,
		logger:    logger,
		stopCh:    make(chan struct{}),
		now:       time.Now,
	}
	d.deadline = d.now().Add(timeout)
	go d.monitor()
	return d
}

func (d *DeadManSwitch) monitor() {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-d.stopCh:
			return
		case <-ticker.C:
			d.checkExpiry()
		}
	}
}

func (d *DeadManSwitch) checkExpiry() {
	d.mu.Lock()
	expired := !d.triggered && d.now().After(d.deadline)
	if expired {
		d.triggered = true
	}
	onTrigger := d.onTrigger
	d.mu.Unlock()

	if expired {
		d.logger.Error("dead man's switch triggered", map[string]interface{}{})
		if onTrigger != nil {
			onTrigger()
		}
	}
}

// Reset pushes the deadline out by timeout. It does NOT clear a
// triggered state — see ClearTriggered.
func (d *DeadManSwitch) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.deadline = d.now().Add(d.timeout)
}

// ClearTriggered clears the triggered flag and pushes the deadline out
// by timeout, so the watchdog does not fire again on its next tick.
func (d *DeadManSwitch) ClearTriggered() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.triggered = false
	d.deadline = d.now().Add(d.timeout)
}

// IsTriggered reports whether the watchdog has fired and not yet been
// cleared.
func (d *DeadManSwitch) IsTriggered() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.triggered
}

// RemainingMs returns milliseconds until the current deadline, 0 if
// already past.
func (d *DeadManSwitch) RemainingMs() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	remaining := d.deadline.Sub(d.now())
	if remaining < 0 {
		return 0
	}
	return remaining.Milliseconds()
}

// Stop halts the monitoring goroutine. Safe to call more than once;
// calls after the first are no-ops.
func (d *DeadManSwitch) Stop() {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return
	}
	d.stopped = true
	d.mu.Unlock()
	close(d.stopCh)
}

// SafeStateManager holds the device's Sit & Freeze safe-mode flag and
// invokes enter/exit callbacks that perform (or, pre-kinematics, stub)
// the physical transition.
type SafeStateManager struct {
	mu       sync.Mutex
	inSafe   bool
	onEnter  func()
	onExit   func()
	logger   logging.Logger
}

// NewSafeStateManager creates a manager with the given enter/exit
// callbacks.
func NewSafeStateManager(onEnter, onExit func(), logger logging.Logger) *SafeStateManager {
	if logger == nil {
		logger = logging.New("orion-edge-safestate")
	}
	return &SafeStateManager{onEnter: onEnter, onExit: onExit, logger: logger}
}

// EnterSafeMode transitions into Sit & Freeze. Idempotent: calling it
// while already in safe mode is a no-op.
func (s *SafeStateManager) EnterSafeMode() {
	s.mu.Lock()
	already := s.inSafe
	s.inSafe = true
	s.mu.Unlock()

	if already {
		return
	}
	s.logger.Warn("entering safe mode (sit and freeze)", map[string]interface{}{})
	if s.onEnter != nil {
		s.onEnter()
	}
}

// ExitSafeMode transitions out of safe mode. Callers must have already
// cleared any triggering watchdog via ClearTriggered — ExitSafeMode
// itself has no opinion on the watchdog, only on the physical state.
// Calling it while not in safe mode returns ErrNotInSafeMode and does
// not invoke onExit.
func (s *SafeStateManager) ExitSafeMode() error {
	s.mu.Lock()
	was := s.inSafe
	s.inSafe = false
	s.mu.Unlock()

	if !was {
		return orionerr.New("edge.ExitSafeMode", "invalid_state", orionerr.ErrNotInSafeMode)
	}
	s.logger.Info("exiting safe mode", map[string]interface{}{})
	if s.onExit != nil {
		s.onExit()
	}
	return nil
}

// IsInSafeMode reports the current safe-mode state.
func (s *SafeStateManager) IsInSafeMode() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inSafe
}
