// Package approval tracks outstanding RISKY-action approvals: the
// PENDING/APPROVED/DENIED/EXPIRED/REJECTED state machine of
// SPEC_FULL.md §4.H, whose core invariant is "silence is never
// permission" — an approval that nobody decides on expires, it is
// never treated as granted.
//
// Grounded on the approval-queue shape exercised by the retrieved
// marcus-qen-legator approvalpolicy service test (a Queue with
// PendingCount, submit returning (request, needed, err), TTL-scheduled
// expiry), reproduced here as an in-process map plus a single sweep
// goroutine on a ticker rather than the teacher's queue type (the
// teacher has no approval concept at all; this is new logic grounded
// on that one retrieved file).
package approval

import (
	"context"
	"sync"
	"time"

	"github.com/orion-homelab/orion/internal/logging"
	"github.com/orion-homelab/orion/internal/messages"
	"github.com/orion-homelab/orion/internal/orionerr"
	"github.com/orion-homelab/orion/internal/policy"
)

// State is one approval request's place in its state machine.
type State string

const (
	StatePending  State = "PENDING"
	StateApproved State = "APPROVED"
	StateDenied   State = "DENIED"
	StateExpired  State = "EXPIRED"
	StateRejected State = "REJECTED"
)

// entry is one tracked request.
type entry struct {
	request    messages.ApprovalRequest
	actionType string
	state      State
	decidedBy  string
	reason     string
}

// EscalationFunc is invoked when a pending request expires with no
// terminal decision, so the coordinator's caller can publish an
// escalation log event on the appropriate stream.
type EscalationFunc func(req messages.ApprovalRequest)

// Coordinator tracks outstanding approval requests in memory.
type Coordinator struct {
	mu      sync.Mutex
	byID    map[string]*entry
	policy  *policy.Store
	logger  logging.Logger
	now     func() time.Time
	escalate EscalationFunc
}

// Options configures a Coordinator.
type Options struct {
	Policy     *policy.Store
	Logger     logging.Logger
	Escalate   EscalationFunc
}

// New creates an empty Coordinator.
func New(opts Options) *Coordinator {
	if opts.Logger == nil {
		opts.Logger = logging.New("orion-approval")
	}
	return &Coordinator{
		byID:     make(map[string]*entry),
		policy:   opts.Policy,
		logger:   opts.Logger,
		now:      time.Now,
		escalate: opts.Escalate,
	}
}

// Submit registers a new PENDING approval request for decisionID /
// actionType, expiring at req.ExpiresAt.
func (c *Coordinator) Submit(req messages.ApprovalRequest, actionType string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.byID[req.RequestID] = &entry{
		request:    req,
		actionType: actionType,
		state:      StatePending,
	}
}

// PendingCount returns the number of requests still awaiting a
// terminal decision.
func (c *Coordinator) PendingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, e := range c.byID {
		if e.state == StatePending {
			n++
		}
	}
	return n
}

// Decide applies an ApprovalDecision to its matching request. It
// validates, in order: the request exists and is still PENDING (a
// terminal request is immutable — a late decision on an EXPIRED or
// already-decided request is rejected, never re-opened), the decision
// arrives before ExpiresAt, and the approver is on the action's
// declared admin list. A decision arriving after ExpiresAt transitions
// a pending entry to EXPIRED and an unauthorized approver transitions
// it to REJECTED, each returning the corresponding error; success
// transitions to APPROVED or DENIED per decision.Approved.
func (c *Coordinator) Decide(decision messages.ApprovalDecision) (State, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.byID[decision.RequestID]
	if !ok {
		return StateRejected, orionerr.New("approval.Decide", "not_found", orionerr.ErrApprovalUnknownAdmin).WithID(decision.RequestID)
	}
	if e.state != StatePending {
		return e.state, orionerr.New("approval.Decide", "terminal", orionerr.ErrApprovalTerminal).WithID(decision.RequestID)
	}
	if c.now().After(e.request.ExpiresAt) {
		e.state = StateExpired
		return StateExpired, orionerr.New("approval.Decide", "expired", orionerr.ErrApprovalExpired).WithID(decision.RequestID)
	}
	if c.policy != nil && !c.policy.IsAdmin(e.actionType, decision.ApproverID) {
		e.state = StateRejected
		e.decidedBy = decision.ApproverID
		e.reason = "approver not on admin list"
		return StateRejected, orionerr.New("approval.Decide", "unauthorized", orionerr.ErrApprovalUnknownAdmin).WithID(decision.ApproverID)
	}

	e.decidedBy = decision.ApproverID
	e.reason = decision.Reason
	if decision.Approved {
		e.state = StateApproved
	} else {
		e.state = StateDenied
	}
	return e.state, nil
}

// Lookup returns the current state of a request and whether it was
// found.
func (c *Coordinator) Lookup(requestID string) (State, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.byID[requestID]
	if !ok {
		return "", false
	}
	return e.state, true
}

// RequestFor returns the original ApprovalRequest and its action_type
// for requestID, so a caller that just received an APPROVED decision
// can build the Action to execute.
func (c *Coordinator) RequestFor(requestID string) (messages.ApprovalRequest, string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.byID[requestID]
	if !ok {
		return messages.ApprovalRequest{}, "", false
	}
	return e.request, e.actionType, true
}

// VerifyApproved reports whether requestID is APPROVED, matches
// decisionID, and is not yet expired as of at (the executor's
// startedAt) — re-checked here even though Decide already confirmed
// the decision itself arrived before expiry, because SPEC_FULL.md §4.H
// requires the executor to refuse an approval that has since expired
// while in flight (bus redelivery delay, executor backlog), regardless
// of the coordinator's latched state.
func (c *Coordinator) VerifyApproved(requestID, decisionID string, at time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.byID[requestID]
	if !ok {
		return false
	}
	if at.After(e.request.ExpiresAt) {
		return false
	}
	return e.state == StateApproved && e.request.DecisionID == decisionID
}

// Sweep expires every PENDING entry whose ExpiresAt has passed,
// invoking escalate for each. Expiry is never interpreted as approval.
func (c *Coordinator) Sweep() {
	c.mu.Lock()
	now := c.now()
	var expired []messages.ApprovalRequest
	for _, e := range c.byID {
		if e.state == StatePending && now.After(e.request.ExpiresAt) {
			e.state = StateExpired
			expired = append(expired, e.request)
		}
	}
	c.mu.Unlock()

	for _, req := range expired {
		c.logger.Warn("approval request expired with no terminal decision", map[string]interface{}{
			"request_id":  req.RequestID,
			"decision_id": req.DecisionID,
		})
		if c.escalate != nil {
			c.escalate(req)
		}
	}
}

// Run sweeps for expired requests every interval until ctx is
// cancelled.
func (c *Coordinator) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.Sweep()
		}
	}
}
