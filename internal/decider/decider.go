// Package decider maps an Incident to a Decision, the heart of
// SPEC_FULL.md §4.G: autonomy-level-aware branching over the policy
// store's classification, the cooldown tracker, and the circuit
// breaker.
//
// Grounded on the autonomy-level branching documented in the retrieved
// kubilitics autonomy-controller reference file (an explicit level enum
// driving a DetermineApprovalRequired decision) and on the companion
// safety-engine reference's "policy → risk assessment → decision"
// pipeline, collapsed here to ORION's three autonomy levels and three
// safety classes.
package decider

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/orion-homelab/orion/internal/envelope"
	"github.com/orion-homelab/orion/internal/messages"
	"github.com/orion-homelab/orion/internal/policy"
	"github.com/orion-homelab/orion/internal/ratelimit"
)

// ActionResolver derives the candidate action type for an incident.
// Incidents whose type has no known mapping resolve to "" and are
// always NO_ACTION — an incident the policy store cannot classify is
// never silently executed.
type ActionResolver func(incident messages.Incident) (actionType string, scope string)

// Validator is the optional post-decision overlay: given a formed
// decision, it may veto it. Any non-nil error (including a transport
// timeout) is treated as BLOCK — fail-closed, per SPEC_FULL.md §4.G.
type Validator interface {
	Validate(ctx context.Context, decision messages.Decision, incident messages.Incident) (blocked bool, critique string, err error)
}

// Decider forms Decisions from Incidents.
type Decider struct {
	autonomy messages.AutonomyLevel
	policy   *policy.Store
	cooldown *ratelimit.CooldownTracker
	breaker  *ratelimit.Breaker
	resolve  ActionResolver
	validator Validator
	now      func() time.Time
}

// Options configures a Decider.
type Options struct {
	Autonomy  messages.AutonomyLevel
	Policy    *policy.Store
	Cooldown  *ratelimit.CooldownTracker
	Breaker   *ratelimit.Breaker
	Resolve   ActionResolver
	Validator Validator // optional, nil disables the overlay
}

// New creates a Decider.
func New(opts Options) *Decider {
	return &Decider{
		autonomy:  opts.Autonomy,
		policy:    opts.Policy,
		cooldown:  opts.Cooldown,
		breaker:   opts.Breaker,
		resolve:   opts.Resolve,
		validator: opts.Validator,
		now:       time.Now,
	}
}

// Decide forms a Decision for incident. It never panics and never
// leaves Reasoning empty: every branch supplies a reasoning string of
// at least 10 characters naming the incident type and the rule that
// fired.
func (d *Decider) Decide(ctx context.Context, incident messages.Incident) messages.Decision {
	base := messages.Decision{
		Envelope:      envelope.New("orion-decider"),
		DecisionID:    uuid.New().String(),
		IncidentID:    incident.IncidentID,
		AutonomyLevel: d.autonomy,
	}

	actionType, scope := "", ""
	if d.resolve != nil {
		actionType, scope = d.resolve(incident)
	}

	decision := d.decideAction(base, incident, actionType, scope)
	return d.applyValidation(ctx, decision, incident)
}

func (d *Decider) decideAction(base messages.Decision, incident messages.Incident, actionType, scope string) messages.Decision {
	if actionType == "" {
		base.DecisionType = messages.DecisionNoAction
		base.SafetyClassification = messages.ClassificationUnknown
		base.Reasoning = fmt.Sprintf("incident %s has no known action mapping", incident.IncidentType)
		return base
	}

	class := d.policy.ClassifyAction(actionType)
	base.ActionType = actionType

	switch class {
	case policy.Safe:
		base.SafetyClassification = messages.ClassificationSafe
	case policy.Risky:
		base.SafetyClassification = messages.ClassificationRisky
	default:
		// UNKNOWN is always treated as RISKY, fail-closed.
		base.SafetyClassification = messages.ClassificationRisky
	}

	switch d.autonomy {
	case messages.AutonomyN0:
		base.DecisionType = messages.DecisionNoAction
		base.Reasoning = fmt.Sprintf("incident %s: N0 autonomy observes only, no action taken", incident.IncidentType)
		return base

	case messages.AutonomyN2:
		if base.SafetyClassification != messages.ClassificationSafe {
			base.DecisionType = messages.DecisionNoAction
			base.Reasoning = fmt.Sprintf("incident %s: action %s is not SAFE under N2, blocked", incident.IncidentType, actionType)
			return base
		}
		return d.decideSafe(base, incident, actionType, scope)

	case messages.AutonomyN3:
		if base.SafetyClassification == messages.ClassificationSafe {
			return d.decideSafe(base, incident, actionType, scope)
		}
		return d.decideRisky(base, incident, actionType)

	default:
		base.DecisionType = messages.DecisionNoAction
		base.Reasoning = fmt.Sprintf("incident %s: unrecognized autonomy level, failing closed", incident.IncidentType)
		return base
	}
}

func (d *Decider) decideSafe(base messages.Decision, incident messages.Incident, actionType, scope string) messages.Decision {
	cooldownSeconds := d.policy.CooldownSeconds(actionType)
	key := ratelimit.CooldownKey{ActionType: actionType, Scope: scope}

	if !d.cooldown.CheckAndReserve(key, cooldownSeconds) {
		base.DecisionType = messages.DecisionNoAction
		remaining := d.cooldown.RemainingSeconds(key, cooldownSeconds)
		base.Reasoning = fmt.Sprintf("incident %s: action %s blocked by cooldown, %ds remaining", incident.IncidentType, actionType, remaining)
		return base
	}

	if !d.breaker.Allow(actionType) {
		base.DecisionType = messages.DecisionNoAction
		base.Reasoning = fmt.Sprintf("incident %s: action %s blocked, circuit breaker open", incident.IncidentType, actionType)
		return base
	}

	base.DecisionType = messages.DecisionExecuteSafe
	base.Reasoning = fmt.Sprintf("incident %s: action %s is SAFE and clear of cooldown/breaker, executing", incident.IncidentType, actionType)
	return base
}

func (d *Decider) decideRisky(base messages.Decision, incident messages.Incident, actionType string) messages.Decision {
	ap, ok := d.policy.ApprovalFor(actionType)
	if !ok {
		base.DecisionType = messages.DecisionNoAction
		base.Reasoning = fmt.Sprintf("incident %s: action %s has no approval policy, failing closed", incident.IncidentType, actionType)
		return base
	}

	expiresAt := d.now().UTC().Add(time.Duration(ap.TimeoutSeconds) * time.Second)
	base.DecisionType = messages.DecisionRequestApproval
	base.ExpiresAt = &expiresAt
	base.Reasoning = fmt.Sprintf("incident %s: action %s is RISKY under N3, requesting approval", incident.IncidentType, actionType)
	return base
}

// applyValidation runs the optional validation overlay. A BLOCK result,
// or any error from the validator (timeout, transport failure),
// downgrades the decision to NO_ACTION with reasoning referencing the
// validation outcome — fail-closed.
func (d *Decider) applyValidation(ctx context.Context, decision messages.Decision, incident messages.Incident) messages.Decision {
	if d.validator == nil {
		return decision
	}
	if decision.DecisionType == messages.DecisionNoAction {
		return decision
	}

	blocked, critique, err := d.validator.Validate(ctx, decision, incident)
	if err != nil {
		decision.DecisionType = messages.DecisionNoAction
		decision.Reasoning = fmt.Sprintf("%s; validation unavailable (%v), failing closed", decision.Reasoning, err)
		return decision
	}
	if blocked {
		decision.DecisionType = messages.DecisionNoAction
		decision.Reasoning = fmt.Sprintf("%s; blocked by validation: %s", decision.Reasoning, critique)
		return decision
	}
	return decision
}
