package repository

import (
	"context"
	"encoding/json"

	"github.com/jackc/pgx/v5"

	"github.com/pesio-ai/be-cq-quotes/internal/database"
	"github.com/pesio-ai/be-cq-quotes/internal/errors"
)

// AuditRepository appends and reads immutable quote audit log entries.
type AuditRepository struct {
	db *database.DB
}

// NewAuditRepository creates a new audit repository.
func NewAuditRepository(db *database.DB) *AuditRepository {
	return &AuditRepository{db: db}
}

// Append inserts one audit entry. The table has a delete-prevention
// trigger so this is the only mutation operation exposed.
func (r *AuditRepository) Append(ctx context.Context, entry *AuditEntry) error {
	var metadataJSON []byte
	if entry.Metadata != nil {
		var err error
		metadataJSON, err = json.Marshal(entry.Metadata)
		if err != nil {
			return errors.Wrap(err, errors.ErrCodeInternal, "failed to marshal audit metadata")
		}
	}

	query := `
		INSERT INTO quote_audit_log
		    (quote_id, root_id, approval_id,
		     action, performed_by,
		     quote_status_before, quote_status_after,
		     metadata)
		VALUES ($1, $2, $3,
		        $4, $5,
		        $6, $7,
		        $8)
		RETURNING id, performed_at
	`

	return r.db.QueryRow(ctx, query,
		entry.QuoteID,
		entry.RootID,
		entry.ApprovalID,
		entry.Action,
		entry.PerformedBy,
		entry.QuoteStatusBefore,
		entry.QuoteStatusAfter,
		metadataJSON,
	).Scan(&entry.ID, &entry.PerformedAt)
}

// GetByRootID returns the audit trail for an entire version chain,
// oldest first.
func (r *AuditRepository) GetByRootID(ctx context.Context, rootID string) ([]*AuditEntry, error) {
	query := `
		SELECT id, quote_id, root_id, approval_id,
		       action, performed_by, performed_at,
		       quote_status_before, quote_status_after,
		       metadata
		FROM quote_audit_log
		WHERE root_id = $1
		ORDER BY performed_at ASC
	`

	rows, err := r.db.Query(ctx, query, rootID)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to get audit log")
	}
	defer rows.Close()

	return scanAuditRows(rows)
}

// ── scan helpers ──────────────────────────────────────────────────────────────

func scanAuditRows(rows pgx.Rows) ([]*AuditEntry, error) {
	var entries []*AuditEntry
	for rows.Next() {
		entry, err := scanAuditEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

type auditScanner interface {
	Scan(dest ...any) error
}

func scanAuditEntry(sc auditScanner) (*AuditEntry, error) {
	entry := &AuditEntry{}
	var metadataJSON []byte

	err := sc.Scan(
		&entry.ID,
		&entry.QuoteID,
		&entry.RootID,
		&entry.ApprovalID,
		&entry.Action,
		&entry.PerformedBy,
		&entry.PerformedAt,
		&entry.QuoteStatusBefore,
		&entry.QuoteStatusAfter,
		&metadataJSON,
	)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan audit entry")
	}

	if metadataJSON != nil {
		if err := json.Unmarshal(metadataJSON, &entry.Metadata); err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to unmarshal audit metadata")
		}
	}

	return entry, nil
}
