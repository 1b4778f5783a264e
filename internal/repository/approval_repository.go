package repository

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/pesio-ai/be-cq-quotes/internal/database"
	"github.com/pesio-ai/be-cq-quotes/internal/errors"
)

// ApprovalRepository handles reads and decision updates on approvals.
// Approval creation happens inside QuoteRepository.Create (transactionally
// with the quote version).
type ApprovalRepository struct {
	db *database.DB
}

// NewApprovalRepository creates a new approval repository.
func NewApprovalRepository(db *database.DB) *ApprovalRepository {
	return &ApprovalRepository{db: db}
}

// GetByQuoteID returns all approvals for a quote version, active and
// historical, in precedence-seeding order.
func (r *ApprovalRepository) GetByQuoteID(ctx context.Context, quoteID string) ([]*Approval, error) {
	query := selectApproval + `
		WHERE quote_id = $1
		ORDER BY created_at ASC, approver_role ASC
	`

	rows, err := r.db.Query(ctx, query, quoteID)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to get approvals")
	}
	defer rows.Close()

	return scanApprovalRows(rows)
}

// GetByQuoteAndRole returns the approval for one role on a quote.
func (r *ApprovalRepository) GetByQuoteAndRole(ctx context.Context, quoteID, role string) (*Approval, error) {
	query := selectApproval + `
		WHERE quote_id = $1 AND approver_role = $2
	`

	approval, err := scanApproval(r.db.QueryRow(ctx, query, quoteID, role))
	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("approval", quoteID+"/"+role)
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to get approval")
	}
	return approval, nil
}

// RecordDecision stores an approve/reject outcome on a pending, active
// approval. The WHERE guard makes the update a no-op, surfaced as a
// conflict, when the row was decided concurrently.
func (r *ApprovalRepository) RecordDecision(ctx context.Context, id, status, decidedBy string, notes *string) error {
	query := `
		UPDATE quote_approvals
		SET status     = $2::approval_status,
		    decided_by = $3,
		    decided_at = NOW(),
		    notes      = $4,
		    updated_at = NOW()
		WHERE id = $1
		  AND status = 'pending'
		  AND historical = FALSE
		RETURNING id
	`

	var returnedID string
	err := r.db.QueryRow(ctx, query, id, status, decidedBy, notes).Scan(&returnedID)
	if err == pgx.ErrNoRows {
		return errors.InvalidState("approval is no longer pending")
	}
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to record decision")
	}
	return nil
}

// ── insert / scan helpers ─────────────────────────────────────────────────────

const selectApproval = `
	SELECT id, quote_id, approver_role, status,
	       smart_approval, historical, previous_approval_id, reasons,
	       decided_by, decided_at, notes,
	       created_at, updated_at
	FROM quote_approvals`

// insertApproval inserts one approval row inside an open transaction.
func insertApproval(ctx context.Context, tx pgx.Tx, approval *Approval) error {
	reasonsJSON, err := json.Marshal(approval.Reasons)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to marshal approval reasons")
	}

	query := `
		INSERT INTO quote_approvals
		    (id, quote_id, approver_role, status,
		     smart_approval, historical, previous_approval_id, reasons,
		     decided_by, decided_at, notes,
		     created_at, updated_at)
		VALUES ($1, $2, $3, $4::approval_status,
		        $5, $6, $7, $8,
		        $9, $10, $11,
		        $12, $13)
	`

	_, err = tx.Exec(ctx, query,
		approval.ID,
		approval.QuoteID,
		approval.ApproverRole,
		approval.Status,
		approval.SmartApproval,
		approval.Historical,
		approval.PreviousApprovalID,
		reasonsJSON,
		approval.DecidedBy,
		approval.DecidedAt,
		approval.Notes,
		approval.CreatedAt,
		approval.UpdatedAt,
	)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to create approval")
	}
	return nil
}

type approvalScanner interface {
	Scan(dest ...any) error
}

func scanApproval(row approvalScanner) (*Approval, error) {
	approval := &Approval{}
	var reasonsJSON []byte
	var decidedAt *time.Time

	err := row.Scan(
		&approval.ID,
		&approval.QuoteID,
		&approval.ApproverRole,
		&approval.Status,
		&approval.SmartApproval,
		&approval.Historical,
		&approval.PreviousApprovalID,
		&reasonsJSON,
		&approval.DecidedBy,
		&decidedAt,
		&approval.Notes,
		&approval.CreatedAt,
		&approval.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	approval.DecidedAt = decidedAt

	if reasonsJSON != nil {
		if err := json.Unmarshal(reasonsJSON, &approval.Reasons); err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to unmarshal approval reasons")
		}
	}
	return approval, nil
}

func scanApprovalRows(rows pgx.Rows) ([]*Approval, error) {
	var approvals []*Approval
	for rows.Next() {
		approval, err := scanApproval(rows)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan approval")
		}
		approvals = append(approvals, approval)
	}
	return approvals, nil
}
