package policy

import (
	"fmt"

	"github.com/pesio-ai/be-cq-quotes/internal/errors"
)

// NextRequired returns the first role in precedence order whose approval
// is not yet approved, or ok=false when every role has approved.
func (p *Policy) NextRequired(states []DecisionState) (Role, bool) {
	for _, state := range p.ordered(states) {
		if state.Status != ApprovalApproved {
			return state.Role, true
		}
	}
	return "", false
}

// CheckDecision gates a decision attempt by role against the approver
// precedence order. It verifies that the role is required on the quote,
// that its approval is still pending, and that every earlier required
// role has already approved. On an ordering violation the error carries
// the full required sequence and the next-eligible role.
func (p *Policy) CheckDecision(states []DecisionState, role Role) error {
	var target *DecisionState
	for i := range states {
		if states[i].Role == role {
			target = &states[i]
			break
		}
	}
	if target == nil {
		return errors.InvalidState(
			fmt.Sprintf("approver %s is not required on this quote", role))
	}

	// Terminal decisions are idempotence errors, never silent overwrites.
	if target.Status != ApprovalPending {
		return errors.InvalidState(
			fmt.Sprintf("approval for %s is already %s", role, target.Status))
	}

	rank := p.rank(role)
	for _, state := range states {
		if p.rank(state.Role) < rank && state.Status != ApprovalApproved {
			return p.violation(states)
		}
	}
	return nil
}

// violation builds the SequenceViolation payload: required roles in
// precedence order plus the next role eligible to act.
func (p *Policy) violation(states []DecisionState) error {
	ordered := p.ordered(states)
	sequence := make([]string, len(ordered))
	for i, s := range ordered {
		sequence[i] = string(s.Role)
	}
	next, _ := p.NextRequired(states)
	return errors.SequenceViolation(sequence, string(next))
}

// ordered sorts decision states by the precedence order.
func (p *Policy) ordered(states []DecisionState) []DecisionState {
	out := make([]DecisionState, 0, len(states))
	for _, role := range p.Order {
		for _, state := range states {
			if state.Role == role {
				out = append(out, state)
			}
		}
	}
	return out
}
