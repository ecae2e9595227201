// Package policy loads the declarative SAFE/RISKY action sets,
// cooldowns, and approval rules that govern the decider and executor,
// per SPEC_FULL.md §4.E.
//
// Grounded on the teacher's core.Config YAML/env loader pattern (the
// teacher stubs out YAML support in core/config.go with "For YAML
// support, we'd need to import gopkg.in/yaml.v3" — this package
// completes that stub using the import the teacher already carries in
// go.mod) and on the policy-engine-as-its-own-component split seen in
// the kubilitics safety engine reference file: a standalone evaluated
// component returning an explicit classification, not folded into the
// decider itself.
package policy

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/orion-homelab/orion/internal/orionerr"
)

// Classification is an action's safety class. Unknown actions are
// always handled by callers as Risky — see ClassifyAction.
type Classification string

const (
	Safe    Classification = "SAFE"
	Risky   Classification = "RISKY"
	Unknown Classification = "UNKNOWN"
)

// safeActionsDoc is the shape of policy/safe_actions.yaml.
type safeActionsDoc struct {
	SafeActions []safeActionEntry `yaml:"safe_actions"`
}

type safeActionEntry struct {
	ActionType      string `yaml:"action_type"`
	CooldownSeconds int    `yaml:"cooldown_seconds"`
}

// riskyActionsDoc is the shape of policy/risky_actions.yaml.
type riskyActionsDoc struct {
	RiskyActions []riskyActionEntry `yaml:"risky_actions"`
}

type riskyActionEntry struct {
	ActionType      string `yaml:"action_type"`
	CooldownSeconds int    `yaml:"cooldown_seconds"`
}

// approvalPolicyDoc is the shape of policy/approval_policy.yaml.
type approvalPolicyDoc struct {
	Approvals []approvalEntry `yaml:"approvals"`
}

type approvalEntry struct {
	ActionType        string   `yaml:"action_type"`
	TimeoutSeconds    int      `yaml:"timeout_seconds"`
	RequiredApprovers []string `yaml:"required_approvers"`
	OverrideAllowed   bool     `yaml:"override_allowed"`
}

// ApprovalPolicy is the resolved approval rule for one RISKY action:
// its expiry window, the admin identities allowed to decide it, and
// whether an N3 administrator may force-override the breaker for it.
type ApprovalPolicy struct {
	TimeoutSeconds    int
	RequiredApprovers []string
	OverrideAllowed   bool
}

// Store is the loaded, validated policy: disjoint SAFE/RISKY sets,
// per-action cooldowns, and approval rules for every RISKY action.
type Store struct {
	cooldowns map[string]int // action_type -> cooldown_seconds, all actions
	classes   map[string]Classification
	approvals map[string]ApprovalPolicy // action_type -> approval policy, RISKY only
}

// Load reads safe_actions.yaml, risky_actions.yaml, and
// approval_policy.yaml from dir and validates them. Overlap between
// the SAFE and RISKY sets, or a RISKY action missing an approval
// policy, or a timeout_seconds over 3600, is refused at load time
// (fail-closed): the policy store never starts in an ambiguous state.
func Load(dir string) (*Store, error) {
	var safeDoc safeActionsDoc
	if err := loadYAML(dir, "safe_actions.yaml", &safeDoc); err != nil {
		return nil, err
	}
	var riskyDoc riskyActionsDoc
	if err := loadYAML(dir, "risky_actions.yaml", &riskyDoc); err != nil {
		return nil, err
	}
	var approvalDoc approvalPolicyDoc
	if err := loadYAML(dir, "approval_policy.yaml", &approvalDoc); err != nil {
		return nil, err
	}

	s := &Store{
		cooldowns: make(map[string]int),
		classes:   make(map[string]Classification),
		approvals: make(map[string]ApprovalPolicy),
	}

	for _, e := range safeDoc.SafeActions {
		if _, dup := s.classes[e.ActionType]; dup {
			return nil, orionerr.New("policy.Load", "config", orionerr.ErrInvalidConfiguration).WithID(e.ActionType)
		}
		s.classes[e.ActionType] = Safe
		s.cooldowns[e.ActionType] = e.CooldownSeconds
	}

	for _, e := range riskyDoc.RiskyActions {
		if existing, dup := s.classes[e.ActionType]; dup {
			return nil, orionerr.New("policy.Load", "config", orionerr.ErrPolicyConflict).
				WithID(fmt.Sprintf("%s already classified %s", e.ActionType, existing))
		}
		s.classes[e.ActionType] = Risky
		s.cooldowns[e.ActionType] = e.CooldownSeconds
	}

	for _, e := range approvalDoc.Approvals {
		if e.TimeoutSeconds <= 0 || e.TimeoutSeconds > 3600 {
			return nil, orionerr.New("policy.Load", "config", orionerr.ErrInvalidConfiguration).
				WithID(fmt.Sprintf("%s timeout_seconds out of range", e.ActionType))
		}
		s.approvals[e.ActionType] = ApprovalPolicy{
			TimeoutSeconds:    e.TimeoutSeconds,
			RequiredApprovers: e.RequiredApprovers,
			OverrideAllowed:   e.OverrideAllowed,
		}
	}

	for actionType, class := range s.classes {
		if class != Risky {
			continue
		}
		if _, ok := s.approvals[actionType]; !ok {
			return nil, orionerr.New("policy.Load", "config", orionerr.ErrPolicyNotFound).WithID(actionType)
		}
	}

	return s, nil
}

func loadYAML(dir, filename string, out interface{}) error {
	path := dir + string(os.PathSeparator) + filename
	data, err := os.ReadFile(path)
	if err != nil {
		return orionerr.New("policy.loadYAML", "config", err).WithID(filename)
	}
	if err := yaml.Unmarshal(data, out); err != nil {
		return orionerr.New("policy.loadYAML", "config", orionerr.ErrInvalidConfiguration).WithID(filename + ": " + err.Error())
	}
	return nil
}

// ClassifyAction returns the action's safety class. An action absent
// from both sets is Unknown; callers must treat Unknown as Risky —
// this store never resolves that ambiguity itself so every caller is
// forced to make the fail-closed choice explicit at its own call site.
func (s *Store) ClassifyAction(actionType string) Classification {
	if c, ok := s.classes[actionType]; ok {
		return c
	}
	return Unknown
}

// CooldownSeconds returns the action's configured cooldown, 0 if
// unspecified.
func (s *Store) CooldownSeconds(actionType string) int {
	return s.cooldowns[actionType]
}

// ApprovalFor returns the approval policy for a RISKY action type, or
// false if none is configured (which load-time validation already
// guarantees cannot happen for a classified-RISKY action).
func (s *Store) ApprovalFor(actionType string) (ApprovalPolicy, bool) {
	p, ok := s.approvals[actionType]
	return p, ok
}

// IsAdmin reports whether approverID is an authorized approver for
// actionType's approval policy.
func (s *Store) IsAdmin(actionType, approverID string) bool {
	p, ok := s.approvals[actionType]
	if !ok {
		return false
	}
	for _, id := range p.RequiredApprovers {
		if strings.EqualFold(id, approverID) {
			return true
		}
	}
	return false
}
