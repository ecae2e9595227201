package executor

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/orion-homelab/orion/internal/approval"
	"github.com/orion-homelab/orion/internal/messages"
	"github.com/orion-homelab/orion/internal/policy"
	"github.com/orion-homelab/orion/internal/ratelimit"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testPolicyStore(t *testing.T) *policy.Store {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "safe_actions.yaml"), []byte(`
safe_actions:
  - action_type: restart_container
    cooldown_seconds: 300
`), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "risky_actions.yaml"), []byte(`
risky_actions:
  - action_type: reboot_host
    cooldown_seconds: 900
`), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "approval_policy.yaml"), []byte(`
approvals:
  - action_type: reboot_host
    timeout_seconds: 300
    required_approvers: ["admin"]
`), 0o644))
	s, err := policy.Load(dir)
	require.NoError(t, err)
	return s
}

func newTestExecutor(t *testing.T, registry Registry, approvalCoord *approval.Coordinator) *Executor {
	if approvalCoord == nil {
		approvalCoord = approval.New(approval.Options{Policy: testPolicyStore(t)})
	}
	return New(Options{
		Registry: registry,
		Policy:   testPolicyStore(t),
		Approval: approvalCoord,
		Breaker:  ratelimit.NewBreaker(ratelimit.BreakerConfig{}),
		Cooldown: ratelimit.NewCooldownTracker(),
	})
}

func TestExecuteSafeSucceeds(t *testing.T) {
	registry := Registry{
		"restart_container": ActionFunc{
			Run: func(ctx context.Context, action messages.Action) ActionResult {
				return ActionResult{Success: true}
			},
		},
	}
	e := newTestExecutor(t, registry, nil)
	action := messages.Action{ActionID: "act-1", ActionType: "restart_container"}

	outcome := e.ExecuteSafe(context.Background(), action, "plex")
	assert.Equal(t, messages.OutcomeSuccess, outcome.Status)
	assert.Equal(t, "act-1", outcome.ActionID)
}

func TestExecuteSafeRejectsActionNoLongerSafe(t *testing.T) {
	registry := Registry{
		"reboot_host": ActionFunc{
			Run: func(ctx context.Context, action messages.Action) ActionResult {
				return ActionResult{Success: true}
			},
		},
	}
	e := newTestExecutor(t, registry, nil)
	action := messages.Action{ActionID: "act-1", ActionType: "reboot_host"}

	outcome := e.ExecuteSafe(context.Background(), action, "host")
	assert.Equal(t, messages.OutcomeRejected, outcome.Status)
	assert.Contains(t, outcome.Error, "no longer classified SAFE")
}

func TestExecuteSafeRunsRollbackOnFailure(t *testing.T) {
	rolledBack := false
	registry := Registry{
		"restart_container": ActionFunc{
			Run: func(ctx context.Context, action messages.Action) ActionResult {
				return ActionResult{Success: false, Error: "container refused to stop"}
			},
			Rollback: func(ctx context.Context, action messages.Action) error {
				rolledBack = true
				return nil
			},
		},
	}
	e := newTestExecutor(t, registry, nil)
	action := messages.Action{ActionID: "act-1", ActionType: "restart_container"}

	outcome := e.ExecuteSafe(context.Background(), action, "plex")
	assert.Equal(t, messages.OutcomeRolledBack, outcome.Status)
	assert.True(t, rolledBack)
}

func TestExecuteSafeFailsWithoutRollback(t *testing.T) {
	registry := Registry{
		"restart_container": ActionFunc{
			Run: func(ctx context.Context, action messages.Action) ActionResult {
				return ActionResult{Success: false, Error: "boom"}
			},
		},
	}
	e := newTestExecutor(t, registry, nil)
	action := messages.Action{ActionID: "act-1", ActionType: "restart_container"}

	outcome := e.ExecuteSafe(context.Background(), action, "plex")
	assert.Equal(t, messages.OutcomeFailed, outcome.Status)
	assert.Equal(t, "boom", outcome.Error)
}

func TestExecuteSafeUnknownActionTypeFails(t *testing.T) {
	store := testPolicyStore(t)
	// classify an action SAFE with no registry entry, to exercise "unknown to registry"
	e := New(Options{
		Registry: Registry{},
		Policy:   store,
		Approval: approval.New(approval.Options{Policy: store}),
		Breaker:  ratelimit.NewBreaker(ratelimit.BreakerConfig{}),
		Cooldown: ratelimit.NewCooldownTracker(),
	})
	action := messages.Action{ActionID: "act-1", ActionType: "restart_container"}

	outcome := e.ExecuteSafe(context.Background(), action, "plex")
	assert.Equal(t, messages.OutcomeFailed, outcome.Status)
	assert.Contains(t, outcome.Error, "unknown action type")
}

func TestExecuteSafeRecordsBreakerAndCooldownOnSuccess(t *testing.T) {
	store := testPolicyStore(t)
	breaker := ratelimit.NewBreaker(ratelimit.BreakerConfig{FailureThreshold: 1})
	// Force the breaker into half-open, the only state RecordSuccess
	// closes from, so a successful run is what closes it again.
	breaker.ForceState("restart_container", ratelimit.StateHalfOpen)
	cooldown := ratelimit.NewCooldownTracker()

	registry := Registry{
		"restart_container": ActionFunc{
			Run: func(ctx context.Context, action messages.Action) ActionResult {
				return ActionResult{Success: true}
			},
		},
	}
	e := New(Options{
		Registry: registry,
		Policy:   store,
		Approval: approval.New(approval.Options{Policy: store}),
		Breaker:  breaker,
		Cooldown: cooldown,
	})

	e.ExecuteSafe(context.Background(), messages.Action{ActionID: "act-1", ActionType: "restart_container"}, "plex")

	assert.Equal(t, ratelimit.StateClosed, breaker.State("restart_container"))
	assert.False(t, cooldown.CheckAndReserve(ratelimit.CooldownKey{ActionType: "restart_container", Scope: "plex"}, 300))
}

func TestExecuteApprovedRunsWhenApproved(t *testing.T) {
	store := testPolicyStore(t)
	coord := approval.New(approval.Options{Policy: store})
	coord.Submit(messages.ApprovalRequest{RequestID: "req-1", DecisionID: "dec-1", ActionType: "reboot_host", ExpiresAt: time.Now().Add(time.Minute)}, "reboot_host")
	_, err := coord.Decide(messages.ApprovalDecision{RequestID: "req-1", ApproverID: "admin", Approved: true})
	require.NoError(t, err)

	ran := false
	registry := Registry{
		"reboot_host": ActionFunc{Run: func(ctx context.Context, action messages.Action) ActionResult {
			ran = true
			return ActionResult{Success: true}
		}},
	}
	e := New(Options{
		Registry: registry,
		Policy:   store,
		Approval: coord,
		Breaker:  ratelimit.NewBreaker(ratelimit.BreakerConfig{}),
		Cooldown: ratelimit.NewCooldownTracker(),
	})

	outcome := e.ExecuteApproved(context.Background(), messages.Action{ActionID: "act-1", ActionType: "reboot_host", DecisionID: "dec-1"}, "req-1")
	assert.Equal(t, messages.OutcomeSuccess, outcome.Status)
	assert.True(t, ran)
}

func TestExecuteApprovedRejectsWhenNotApproved(t *testing.T) {
	store := testPolicyStore(t)
	coord := approval.New(approval.Options{Policy: store})
	coord.Submit(messages.ApprovalRequest{RequestID: "req-1", DecisionID: "dec-1", ActionType: "reboot_host", ExpiresAt: time.Now().Add(time.Minute)}, "reboot_host")
	// never decided - still PENDING

	ran := false
	registry := Registry{
		"reboot_host": ActionFunc{Run: func(ctx context.Context, action messages.Action) ActionResult {
			ran = true
			return ActionResult{Success: true}
		}},
	}
	e := New(Options{
		Registry: registry,
		Policy:   store,
		Approval: coord,
		Breaker:  ratelimit.NewBreaker(ratelimit.BreakerConfig{}),
		Cooldown: ratelimit.NewCooldownTracker(),
	})

	outcome := e.ExecuteApproved(context.Background(), messages.Action{ActionID: "act-1", ActionType: "reboot_host", DecisionID: "dec-1"}, "req-1")
	assert.Equal(t, messages.OutcomeRejected, outcome.Status)
	assert.False(t, ran)
}

func TestExecuteApprovedRejectsWhenExpiredBeforeExecutionEvenIfApproved(t *testing.T) {
	store := testPolicyStore(t)
	coord := approval.New(approval.Options{Policy: store})
	coord.Submit(messages.ApprovalRequest{RequestID: "req-1", DecisionID: "dec-1", ActionType: "reboot_host", ExpiresAt: time.Now().Add(10 * time.Millisecond)}, "reboot_host")
	_, err := coord.Decide(messages.ApprovalDecision{RequestID: "req-1", ApproverID: "admin", Approved: true})
	require.NoError(t, err)

	// Simulate a redelivery/backlog delay that pushes execution past
	// expires_at even though the coordinator's latched state is still
	// APPROVED.
	time.Sleep(25 * time.Millisecond)

	ran := false
	registry := Registry{
		"reboot_host": ActionFunc{Run: func(ctx context.Context, action messages.Action) ActionResult {
			ran = true
			return ActionResult{Success: true}
		}},
	}
	e := New(Options{
		Registry: registry,
		Policy:   store,
		Approval: coord,
		Breaker:  ratelimit.NewBreaker(ratelimit.BreakerConfig{}),
		Cooldown: ratelimit.NewCooldownTracker(),
	})

	outcome := e.ExecuteApproved(context.Background(), messages.Action{ActionID: "act-1", ActionType: "reboot_host", DecisionID: "dec-1"}, "req-1")
	assert.Equal(t, messages.OutcomeRejected, outcome.Status)
	assert.False(t, ran)
}

func TestExecuteApprovedRejectsMismatchedDecisionID(t *testing.T) {
	store := testPolicyStore(t)
	coord := approval.New(approval.Options{Policy: store})
	coord.Submit(messages.ApprovalRequest{RequestID: "req-1", DecisionID: "dec-1", ActionType: "reboot_host", ExpiresAt: time.Now().Add(time.Minute)}, "reboot_host")
	_, err := coord.Decide(messages.ApprovalDecision{RequestID: "req-1", ApproverID: "admin", Approved: true})
	require.NoError(t, err)

	registry := Registry{
		"reboot_host": ActionFunc{Run: func(ctx context.Context, action messages.Action) ActionResult {
			return ActionResult{Success: true}
		}},
	}
	e := New(Options{
		Registry: registry,
		Policy:   store,
		Approval: coord,
		Breaker:  ratelimit.NewBreaker(ratelimit.BreakerConfig{}),
		Cooldown: ratelimit.NewCooldownTracker(),
	})

	outcome := e.ExecuteApproved(context.Background(), messages.Action{ActionID: "act-1", ActionType: "reboot_host", DecisionID: "wrong-decision"}, "req-1")
	assert.Equal(t, messages.OutcomeRejected, outcome.Status)
}

func TestRunLogsRollbackFailureButStillReportsRolledBack(t *testing.T) {
	registry := Registry{
		"restart_container": ActionFunc{
			Run: func(ctx context.Context, action messages.Action) ActionResult {
				return ActionResult{Success: false, Error: "boom"}
			},
			Rollback: func(ctx context.Context, action messages.Action) error {
				return errors.New("rollback also failed")
			},
		},
	}
	e := newTestExecutor(t, registry, nil)
	outcome := e.ExecuteSafe(context.Background(), messages.Action{ActionID: "act-1", ActionType: "restart_container"}, "plex")
	assert.Equal(t, messages.OutcomeRolledBack, outcome.Status)
}
