// Package memstore is an in-memory implementation of the service store
// interfaces. It backs tests and local development without Postgres; the
// engine behaves identically over either store.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pesio-ai/be-cq-quotes/internal/errors"
	"github.com/pesio-ai/be-cq-quotes/internal/repository"
)

// Store holds quotes, approvals and the audit log in memory. All methods
// are safe for concurrent use. Returned values are copies; mutating them
// does not affect stored state.
type Store struct {
	mu        sync.RWMutex
	quotes    map[string]*repository.Quote
	approvals map[string]*repository.Approval
	byQuote   map[string][]string // quote id -> approval ids, insertion order
	audit     []*repository.AuditEntry
}

// New creates an empty store.
func New() *Store {
	return &Store{
		quotes:    make(map[string]*repository.Quote),
		approvals: make(map[string]*repository.Approval),
		byQuote:   make(map[string][]string),
	}
}

// ── QuoteStore ────────────────────────────────────────────────────────────────

// Create inserts a quote with its approvals, flagging the superseded
// version's approvals historical, under one lock acquisition.
func (s *Store) Create(ctx context.Context, quote *repository.Quote, approvals []*repository.Approval) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.quotes[quote.ID]; exists {
		return errors.New(errors.ErrCodeConflict, "quote already exists: "+quote.ID)
	}

	if quote.PreviousVersionID != nil {
		for _, id := range s.byQuote[*quote.PreviousVersionID] {
			if a := s.approvals[id]; a != nil && !a.Historical {
				a.Historical = true
				a.UpdatedAt = time.Now().UTC()
			}
		}
	}

	q := *quote
	s.quotes[quote.ID] = &q
	for _, approval := range approvals {
		a := *approval
		a.QuoteID = quote.ID
		s.approvals[a.ID] = &a
		s.byQuote[quote.ID] = append(s.byQuote[quote.ID], a.ID)
	}
	return nil
}

// GetByID retrieves a quote version by ID.
func (s *Store) GetByID(ctx context.Context, id string) (*repository.Quote, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	quote, ok := s.quotes[id]
	if !ok {
		return nil, errors.NotFound("quote", id)
	}
	q := *quote
	return &q, nil
}

// List retrieves quote versions with optional status filtering, newest
// first.
func (s *Store) List(ctx context.Context, status *string, limit, offset int) ([]*repository.Quote, int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	all := make([]*repository.Quote, 0, len(s.quotes))
	for _, quote := range s.quotes {
		if status != nil && quote.Status != *status {
			continue
		}
		q := *quote
		all = append(all, &q)
	}
	sort.Slice(all, func(i, j int) bool {
		return all[i].CreatedAt.After(all[j].CreatedAt)
	})

	total := int64(len(all))
	if offset >= len(all) {
		return []*repository.Quote{}, total, nil
	}
	end := offset + limit
	if end > len(all) {
		end = len(all)
	}
	return all[offset:end], total, nil
}

// UpdateStatus sets the quote status.
func (s *Store) UpdateStatus(ctx context.Context, id, status string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	quote, ok := s.quotes[id]
	if !ok {
		return errors.NotFound("quote", id)
	}
	quote.Status = status
	quote.UpdatedAt = time.Now().UTC()
	return nil
}

// Delete removes a quote version. Exists to simulate chain truncation in
// tests; the service never deletes.
func (s *Store) Delete(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.quotes, id)
}

// ── ApprovalStore ─────────────────────────────────────────────────────────────

// GetByQuoteID returns all approvals for a quote version in insertion
// order.
func (s *Store) GetByQuoteID(ctx context.Context, quoteID string) ([]*repository.Approval, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := s.byQuote[quoteID]
	approvals := make([]*repository.Approval, 0, len(ids))
	for _, id := range ids {
		a := *s.approvals[id]
		approvals = append(approvals, &a)
	}
	return approvals, nil
}

// RecordDecision stores an approve/reject outcome on a pending, active
// approval.
func (s *Store) RecordDecision(ctx context.Context, id, status, decidedBy string, notes *string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	approval, ok := s.approvals[id]
	if !ok {
		return errors.NotFound("approval", id)
	}
	if approval.Historical || approval.Status != "pending" {
		return errors.InvalidState("approval is no longer pending")
	}

	now := time.Now().UTC()
	approval.Status = status
	approval.DecidedBy = &decidedBy
	approval.DecidedAt = &now
	approval.Notes = notes
	approval.UpdatedAt = now
	return nil
}

// ── AuditStore ────────────────────────────────────────────────────────────────

// Append inserts one audit entry, assigning its id and timestamp.
func (s *Store) Append(ctx context.Context, entry *repository.AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e := *entry
	e.ID = uuid.NewString()
	e.PerformedAt = time.Now().UTC()
	s.audit = append(s.audit, &e)

	entry.ID = e.ID
	entry.PerformedAt = e.PerformedAt
	return nil
}

// GetByRootID returns the audit trail for a version chain, oldest first.
func (s *Store) GetByRootID(ctx context.Context, rootID string) ([]*repository.AuditEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries := make([]*repository.AuditEntry, 0)
	for _, entry := range s.audit {
		if entry.RootID == rootID {
			e := *entry
			entries = append(entries, &e)
		}
	}
	return entries, nil
}
