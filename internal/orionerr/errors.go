// Package orionerr provides ORION's structured error type and sentinel
// errors, shared across every component so callers can use errors.Is/As
// instead of string matching.
package orionerr

import (
	"errors"
	"fmt"
)

// Sentinel errors for comparison via errors.Is().
var (
	// Contract validation
	ErrContractViolation = errors.New("contract violation")
	ErrUnknownMessageType = errors.New("unknown message type")

	// Bus / transport
	ErrStreamUnavailable = errors.New("stream unavailable")
	ErrConsumerGroupLost = errors.New("consumer group lost")

	// Policy
	ErrPolicyConflict = errors.New("safe and risky action sets overlap")
	ErrPolicyNotFound = errors.New("action has no policy entry")

	// Rate limit / breaker
	ErrCooldownActive  = errors.New("cooldown active")
	ErrBreakerOpen     = errors.New("circuit breaker open")

	// Approval
	ErrApprovalExpired      = errors.New("approval window expired")
	ErrApprovalUnknownAdmin = errors.New("approver not on admin list")
	ErrApprovalTerminal     = errors.New("approval request already terminal")

	// Execution
	ErrUnknownAction = errors.New("unknown action type")

	// Edge safety
	ErrWatchdogTriggered = errors.New("dead man's switch triggered")
	ErrNotInSafeMode     = errors.New("not in safe mode")

	// Inference routing
	ErrNoAvailableNodes = errors.New("no available inference nodes")

	// Configuration
	ErrInvalidConfiguration = errors.New("invalid configuration")
	ErrMissingConfiguration = errors.New("missing required configuration")
)

// OrionError carries structured context for a failure: which operation,
// which kind of subsystem, which entity, and the wrapped cause.
type OrionError struct {
	Op      string // e.g. "bus.Publish", "decider.Decide"
	Kind    string // e.g. "contract", "policy", "approval"
	ID      string // optional entity id involved
	Message string
	Err     error
}

func (e *OrionError) Error() string {
	if e.Op != "" && e.Err != nil {
		if e.ID != "" {
			return fmt.Sprintf("%s [%s]: %v", e.Op, e.ID, e.Err)
		}
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	if e.Message != "" {
		return e.Message
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return fmt.Sprintf("%s error", e.Kind)
}

func (e *OrionError) Unwrap() error { return e.Err }

// New creates an OrionError wrapping err for operation op in subsystem kind.
func New(op, kind string, err error) *OrionError {
	return &OrionError{Op: op, Kind: kind, Err: err}
}

// WithID attaches an entity id to an existing OrionError, returning itself.
func (e *OrionError) WithID(id string) *OrionError {
	e.ID = id
	return e
}

// IsRetryable reports whether err represents a transient condition a
// publisher or client may retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrStreamUnavailable) || errors.Is(err, ErrConsumerGroupLost)
}

// IsFailClosed reports whether err should cause a safety-relevant caller
// to treat the situation as RISKY/blocked rather than proceed.
func IsFailClosed(err error) bool {
	return errors.Is(err, ErrBreakerOpen) ||
		errors.Is(err, ErrCooldownActive) ||
		errors.Is(err, ErrPolicyNotFound) ||
		errors.Is(err, ErrContractViolation)
}
