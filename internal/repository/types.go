package repository

import (
	"time"

	"github.com/pesio-ai/be-cq-quotes/internal/policy"
)

// ── Domain types for the quote approval workflow ─────────────────────────────

// Quote is one immutable quote version. Revisions never mutate a row; a
// resubmission inserts a new row pointing back at the version it
// supersedes, forming a backward-linked chain rooted at RootID.
type Quote struct {
	ID                string          `json:"id"`
	RootID            string          `json:"root_id"`                       // original quote id of the version chain
	PreviousVersionID *string         `json:"previous_version_id,omitempty"` // nil for chain originals
	Status            string          `json:"status"`                        // draft | pending | approved | rejected | recalled
	Snapshot          policy.Snapshot `json:"snapshot"`
	CreatedBy         *string         `json:"created_by,omitempty"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
}

// Reason is one rule match attached to an approval, kept for display and
// audit. Stored as a JSONB array on the approval row.
type Reason struct {
	Field     string `json:"field"`
	Condition string `json:"condition"`
	Smart     bool   `json:"smart"`
}

// Approval is one required sign-off on a quote version. Unique per
// (quote_id, approver_role). Never deleted; superseded rows are flagged
// historical and stay behind for audit.
type Approval struct {
	ID                 string      `json:"id"`
	QuoteID            string      `json:"quote_id"`
	ApproverRole       policy.Role `json:"approver_role"`
	Status             string      `json:"status"`         // pending | approved | rejected
	SmartApproval      bool        `json:"smart_approval"` // carried forward via smart rules
	Historical         bool        `json:"historical"`     // belongs to a superseded version, never actionable
	PreviousApprovalID *string     `json:"previous_approval_id,omitempty"`
	Reasons            []Reason    `json:"reasons"`
	DecidedBy          *string     `json:"decided_by,omitempty"`
	DecidedAt          *time.Time  `json:"decided_at,omitempty"`
	Notes              *string     `json:"notes,omitempty"`
	CreatedAt          time.Time   `json:"created_at"`
	UpdatedAt          time.Time   `json:"updated_at"`
}

// AuditEntry is one immutable record in the quote audit log.
type AuditEntry struct {
	ID                string                 `json:"id"`
	QuoteID           string                 `json:"quote_id"`
	RootID            string                 `json:"root_id"`
	ApprovalID        *string                `json:"approval_id,omitempty"`
	Action            string                 `json:"action"` // submitted | approved | rejected | recalled | retained
	PerformedBy       string                 `json:"performed_by"`
	PerformedAt       time.Time              `json:"performed_at"`
	QuoteStatusBefore *string                `json:"quote_status_before,omitempty"`
	QuoteStatusAfter  *string                `json:"quote_status_after,omitempty"`
	Metadata          map[string]interface{} `json:"metadata,omitempty"`
}
