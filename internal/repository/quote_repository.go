package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/pesio-ai/be-cq-quotes/internal/database"
	"github.com/pesio-ai/be-cq-quotes/internal/errors"
)

// QuoteRepository handles quote version rows. A quote and its seeded
// approvals are always inserted together in one transaction.
type QuoteRepository struct {
	db *database.DB
}

// NewQuoteRepository creates a new quote repository.
func NewQuoteRepository(db *database.DB) *QuoteRepository {
	return &QuoteRepository{db: db}
}

// Create inserts a quote version with its seeded approvals and, when the
// quote supersedes a previous version, flags that version's approvals
// historical, all in one transaction so a failed submit leaves no
// partial state.
func (r *QuoteRepository) Create(ctx context.Context, quote *Quote, approvals []*Approval) error {
	return r.db.InTransaction(ctx, func(tx pgx.Tx) error {
		quoteQuery := `
			INSERT INTO quotes (id, root_id, previous_version_id, status,
			                    total_amount, discount_percentage,
			                    payment_terms, payment_type, billing_frequency,
			                    special_terms, product_service, contract_duration,
			                    discount_type, region_territory,
			                    created_by, created_at, updated_at)
			VALUES ($1, $2, $3, $4::quote_status,
			        $5, $6,
			        $7, $8, $9,
			        $10, $11, $12,
			        $13, $14,
			        $15, $16, $17)
		`

		_, err := tx.Exec(ctx, quoteQuery,
			quote.ID,
			quote.RootID,
			quote.PreviousVersionID,
			quote.Status,
			quote.Snapshot.TotalAmount,
			quote.Snapshot.DiscountPercentage,
			quote.Snapshot.PaymentTerms,
			quote.Snapshot.PaymentType,
			quote.Snapshot.BillingFrequency,
			quote.Snapshot.SpecialTerms,
			quote.Snapshot.ProductService,
			quote.Snapshot.ContractDuration,
			quote.Snapshot.DiscountType,
			quote.Snapshot.RegionTerritory,
			quote.CreatedBy,
			quote.CreatedAt,
			quote.UpdatedAt,
		)
		if err != nil {
			return errors.Wrap(err, errors.ErrCodeInternal, "failed to create quote")
		}

		if quote.PreviousVersionID != nil {
			historicalQuery := `
				UPDATE quote_approvals
				SET historical = TRUE,
				    updated_at = NOW()
				WHERE quote_id = $1
				  AND historical = FALSE
			`
			if _, err := tx.Exec(ctx, historicalQuery, *quote.PreviousVersionID); err != nil {
				return errors.Wrap(err, errors.ErrCodeInternal, "failed to mark superseded approvals historical")
			}
		}

		for _, approval := range approvals {
			approval.QuoteID = quote.ID
			if err := insertApproval(ctx, tx, approval); err != nil {
				return err
			}
		}

		return nil
	})
}

// GetByID retrieves a quote version by ID.
func (r *QuoteRepository) GetByID(ctx context.Context, id string) (*Quote, error) {
	query := selectQuote + ` WHERE id = $1`

	quote, err := scanQuote(r.db.QueryRow(ctx, query, id))
	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("quote", id)
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to get quote")
	}
	return quote, nil
}

// List retrieves quote versions with optional status filtering, newest
// first.
func (r *QuoteRepository) List(ctx context.Context, status *string, limit, offset int) ([]*Quote, int64, error) {
	query := selectQuote
	countQuery := `SELECT COUNT(*) FROM quotes`

	args := []interface{}{}
	if status != nil {
		query += " WHERE status = $1::quote_status"
		countQuery += " WHERE status = $1::quote_status"
		args = append(args, *status)
	}

	query += " ORDER BY created_at DESC"
	query += fmt.Sprintf(" LIMIT $%d OFFSET $%d", len(args)+1, len(args)+2)
	queryArgs := append(args, limit, offset)

	var total int64
	if err := r.db.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, errors.Wrap(err, errors.ErrCodeInternal, "failed to count quotes")
	}

	rows, err := r.db.Query(ctx, query, queryArgs...)
	if err != nil {
		return nil, 0, errors.Wrap(err, errors.ErrCodeInternal, "failed to list quotes")
	}
	defer rows.Close()

	quotes := make([]*Quote, 0)
	for rows.Next() {
		quote, err := scanQuote(rows)
		if err != nil {
			return nil, 0, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan quote")
		}
		quotes = append(quotes, quote)
	}

	return quotes, total, nil
}

// UpdateStatus sets the quote status. Status is always a recomputation
// from the approval set; this persists the result.
func (r *QuoteRepository) UpdateStatus(ctx context.Context, id, status string) error {
	query := `
		UPDATE quotes
		SET status = $2::quote_status,
		    updated_at = NOW()
		WHERE id = $1
		RETURNING id
	`

	var returnedID string
	err := r.db.QueryRow(ctx, query, id, status).Scan(&returnedID)
	if err == pgx.ErrNoRows {
		return errors.NotFound("quote", id)
	}
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to update quote status")
	}
	return nil
}

// ── scan helpers ──────────────────────────────────────────────────────────────

const selectQuote = `
	SELECT id, root_id, previous_version_id, status,
	       total_amount, discount_percentage,
	       payment_terms, payment_type, billing_frequency,
	       special_terms, product_service, contract_duration,
	       discount_type, region_territory,
	       created_by, created_at, updated_at
	FROM quotes`

type quoteScanner interface {
	Scan(dest ...any) error
}

func scanQuote(row quoteScanner) (*Quote, error) {
	quote := &Quote{}
	err := row.Scan(
		&quote.ID,
		&quote.RootID,
		&quote.PreviousVersionID,
		&quote.Status,
		&quote.Snapshot.TotalAmount,
		&quote.Snapshot.DiscountPercentage,
		&quote.Snapshot.PaymentTerms,
		&quote.Snapshot.PaymentType,
		&quote.Snapshot.BillingFrequency,
		&quote.Snapshot.SpecialTerms,
		&quote.Snapshot.ProductService,
		&quote.Snapshot.ContractDuration,
		&quote.Snapshot.DiscountType,
		&quote.Snapshot.RegionTerritory,
		&quote.CreatedBy,
		&quote.CreatedAt,
		&quote.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return quote, nil
}
