package policy

import (
	"fmt"

	"github.com/pesio-ai/be-cq-quotes/internal/errors"
)

// Quote lifecycle statuses.
const (
	QuoteDraft    = "draft"
	QuotePending  = "pending"
	QuoteApproved = "approved"
	QuoteRejected = "rejected"
	QuoteRecalled = "recalled"
)

// Approval statuses.
const (
	ApprovalPending  = "pending"
	ApprovalApproved = "approved"
	ApprovalRejected = "rejected"
)

// DecisionState is the per-role view the sequencer and the aggregator
// need of one active approval.
type DecisionState struct {
	Role   Role
	Status string
}

// AggregateStatus derives the quote status from its active (non-historical)
// approvals. The status is a pure function of the approval set:
// any rejected wins, then all approved, otherwise pending. A recalled
// quote stays recalled until resubmission regardless of its approvals.
func AggregateStatus(current string, approvals []DecisionState) string {
	if current == QuoteRecalled || current == QuoteDraft {
		return current
	}
	if len(approvals) == 0 {
		return current
	}

	allApproved := true
	for _, a := range approvals {
		switch a.Status {
		case ApprovalRejected:
			return QuoteRejected
		case ApprovalApproved:
		default:
			allApproved = false
		}
	}
	if allApproved {
		return QuoteApproved
	}
	return QuotePending
}

// CanDecide checks that a quote accepts approve/reject decisions.
func CanDecide(status string) error {
	if status != QuotePending {
		return errors.InvalidState(
			fmt.Sprintf("cannot record a decision on a %s quote", status))
	}
	return nil
}

// CanRecall checks that a quote can be recalled. Only pending and approved
// quotes are recallable; there is nothing to recall on a draft.
func CanRecall(status string) error {
	switch status {
	case QuotePending, QuoteApproved:
		return nil
	}
	return errors.InvalidState(
		fmt.Sprintf("cannot recall a %s quote", status))
}

// CanResubmitFrom checks that a quote is a valid origin for a new chained
// version. Approved, rejected and recalled quotes are terminal for
// decisions but not for the chain; a pending quote must be recalled first.
func CanResubmitFrom(status string) error {
	switch status {
	case QuoteApproved, QuoteRejected, QuoteRecalled:
		return nil
	}
	return errors.InvalidState(
		fmt.Sprintf("cannot resubmit from a %s quote", status))
}
