// Package executor dispatches SAFE actions and approved RISKY actions
// and emits Outcomes with measured timing, per SPEC_FULL.md §4.I.
//
// Grounded on the teacher's core.ToolError/ToolResponse protocol
// (core/tool_error.go): a structured, categorized error result
// distinct from a Go error, here repurposed as the ActionResult an
// ActionFunc returns — success, an error string and free-form details
// travel with the result, and routing decisions (rollback, outcome
// status) are the executor's, not an upstream agent's.
package executor

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/orion-homelab/orion/internal/approval"
	"github.com/orion-homelab/orion/internal/envelope"
	"github.com/orion-homelab/orion/internal/logging"
	"github.com/orion-homelab/orion/internal/messages"
	"github.com/orion-homelab/orion/internal/policy"
	"github.com/orion-homelab/orion/internal/ratelimit"
)

// ActionResult is the structured outcome of one action handler
// invocation, a narrowed form of the teacher's ToolError (success flag,
// error message and details; no category or retryable flag), used here
// to decide rollback rather than upstream retry.
type ActionResult struct {
	Success bool
	Error   string
	Details map[string]string
}

// ActionFunc performs one action's side effect.
type ActionFunc struct {
	// Run executes the action.
	Run func(ctx context.Context, action messages.Action) ActionResult
	// Rollback undoes a partially-applied action on failure. Nil means
	// the action declares no rollback.
	Rollback func(ctx context.Context, action messages.Action) error
}

// Registry maps action_type to its ActionFunc. Unknown action types
// always produce a failed outcome — the executor never invents
// actions.
type Registry map[string]ActionFunc

// Executor consumes Decisions (turned into Actions by its caller) and
// produces Outcomes.
type Executor struct {
	registry Registry
	policy   *policy.Store
	approval *approval.Coordinator
	breaker  *ratelimit.Breaker
	cooldown *ratelimit.CooldownTracker
	logger   logging.Logger
	now      func() time.Time
}

// Options configures an Executor.
type Options struct {
	Registry Registry
	Policy   *policy.Store
	Approval *approval.Coordinator
	Breaker  *ratelimit.Breaker
	Cooldown *ratelimit.CooldownTracker
	Logger   logging.Logger
}

// New creates an Executor.
func New(opts Options) *Executor {
	if opts.Logger == nil {
		opts.Logger = logging.New("orion-executor")
	}
	return &Executor{
		registry: opts.Registry,
		policy:   opts.Policy,
		approval: opts.Approval,
		breaker:  opts.Breaker,
		cooldown: opts.Cooldown,
		logger:   opts.Logger,
		now:      time.Now,
	}
}

// ExecuteSafe re-verifies actionType is still classified SAFE
// (defense in depth against a stale decision racing a policy reload),
// executes it, and returns the Outcome. On handler failure it runs the
// action's declared rollback, if any, and emits rolled_back instead of
// failed.
func (e *Executor) ExecuteSafe(ctx context.Context, action messages.Action, scope string) messages.Outcome {
	startedAt := e.now().UTC()

	if e.policy.ClassifyAction(action.ActionType) != policy.Safe {
		return e.outcome(action, startedAt, messages.OutcomeRejected, "action is no longer classified SAFE")
	}

	outcome := e.run(ctx, action, startedAt)

	key := ratelimit.CooldownKey{ActionType: action.ActionType, Scope: scope}
	if outcome.Status == messages.OutcomeSuccess {
		e.cooldown.Record(key)
		e.breaker.RecordSuccess(action.ActionType)
	} else if outcome.Status == messages.OutcomeFailed || outcome.Status == messages.OutcomeRolledBack {
		e.breaker.RecordFailure(action.ActionType)
	}
	return outcome
}

// ExecuteApproved verifies requestID is APPROVED, non-expired, and
// matches decisionID before running action. Any verification failure
// produces a rejected outcome without running the handler.
func (e *Executor) ExecuteApproved(ctx context.Context, action messages.Action, requestID string) messages.Outcome {
	startedAt := e.now().UTC()

	if !e.approval.VerifyApproved(requestID, action.DecisionID, startedAt) {
		return e.outcome(action, startedAt, messages.OutcomeRejected, "approval not granted, expired, or mismatched")
	}

	outcome := e.run(ctx, action, startedAt)
	if outcome.Status == messages.OutcomeSuccess {
		e.breaker.RecordSuccess(action.ActionType)
	} else if outcome.Status == messages.OutcomeFailed || outcome.Status == messages.OutcomeRolledBack {
		e.breaker.RecordFailure(action.ActionType)
	}
	return outcome
}

// run dispatches to the registered handler, applying rollback on
// failure. Unknown action types produce a failed outcome — the
// executor never invents actions and never retries automatically.
func (e *Executor) run(ctx context.Context, action messages.Action, startedAt time.Time) messages.Outcome {
	fn, ok := e.registry[action.ActionType]
	if !ok {
		return e.outcome(action, startedAt, messages.OutcomeFailed, "unknown action type")
	}

	result := fn.Run(ctx, action)
	if result.Success {
		return e.outcome(action, startedAt, messages.OutcomeSuccess, "")
	}

	if fn.Rollback != nil {
		if err := fn.Rollback(ctx, action); err != nil {
			e.logger.Error("action rollback failed", map[string]interface{}{
				"action_id": action.ActionID, "action_type": action.ActionType, "error": err.Error(),
			})
		}
		return e.outcome(action, startedAt, messages.OutcomeRolledBack, result.Error)
	}
	return e.outcome(action, startedAt, messages.OutcomeFailed, result.Error)
}

func (e *Executor) outcome(action messages.Action, startedAt time.Time, status messages.OutcomeStatus, errMsg string) messages.Outcome {
	return messages.Outcome{
		Envelope:            envelope.New("orion-executor"),
		OutcomeID:           uuid.New().String(),
		ActionID:            action.ActionID,
		Status:              status,
		ExecutionTimeMs:     e.now().UTC().Sub(startedAt).Milliseconds(),
		ExecutionStartedAt:  startedAt,
		Error:               errMsg,
	}
}
