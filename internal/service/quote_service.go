package service

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/pesio-ai/be-cq-quotes/internal/errors"
	"github.com/pesio-ai/be-cq-quotes/internal/logger"
	"github.com/pesio-ai/be-cq-quotes/internal/policy"
	"github.com/pesio-ai/be-cq-quotes/internal/repository"
)

// QuoteStore persists quote versions.
type QuoteStore interface {
	// Create inserts a quote with its seeded approvals and flags the
	// superseded version's approvals historical, atomically.
	Create(ctx context.Context, quote *repository.Quote, approvals []*repository.Approval) error
	GetByID(ctx context.Context, id string) (*repository.Quote, error)
	List(ctx context.Context, status *string, limit, offset int) ([]*repository.Quote, int64, error)
	UpdateStatus(ctx context.Context, id, status string) error
}

// ApprovalStore persists approvals.
type ApprovalStore interface {
	GetByQuoteID(ctx context.Context, quoteID string) ([]*repository.Approval, error)
	RecordDecision(ctx context.Context, id, status, decidedBy string, notes *string) error
}

// AuditStore appends and reads the immutable audit trail.
type AuditStore interface {
	Append(ctx context.Context, entry *repository.AuditEntry) error
	GetByRootID(ctx context.Context, rootID string) ([]*repository.AuditEntry, error)
}

// EventPublisherInterface publishes quote lifecycle events. Publishing is
// best-effort; implementations never return errors to the caller.
type EventPublisherInterface interface {
	PublishQuoteEvent(ctx context.Context, eventType, quoteID, rootID, actorID string, payload map[string]interface{})
}

// QuoteService orchestrates the approval policy engine over the stores:
// submission and resubmission, decision recording, recall and history.
type QuoteService struct {
	policy    *policy.Policy
	quotes    QuoteStore
	approvals ApprovalStore
	audit     AuditStore
	events    EventPublisherInterface
	log       *logger.Logger
	locks     *chainLocks
}

// NewQuoteService creates a new quote service. events may be nil.
func NewQuoteService(
	pol *policy.Policy,
	quotes QuoteStore,
	approvals ApprovalStore,
	audit AuditStore,
	events EventPublisherInterface,
	log *logger.Logger,
) *QuoteService {
	return &QuoteService{
		policy:    pol,
		quotes:    quotes,
		approvals: approvals,
		audit:     audit,
		events:    events,
		log:       log,
		locks:     newChainLocks(),
	}
}

// Policy exposes the active policy (rule catalog, order) for read-only
// display.
func (s *QuoteService) Policy() *policy.Policy {
	return s.policy
}

// ── Requests / responses ──────────────────────────────────────────────────────

// CreateQuoteRequest carries a quote attribute snapshot as submitted.
// Numeric fields arrive as strings from the form boundary and are
// validated here before any state change.
type CreateQuoteRequest struct {
	TotalAmount        string  `json:"total_amount"`
	DiscountPercentage string  `json:"discount_percentage"`
	PaymentTerms       string  `json:"payment_terms"`
	PaymentType        string  `json:"payment_type"`
	BillingFrequency   string  `json:"billing_frequency"`
	SpecialTerms       string  `json:"special_terms"`
	ProductService     string  `json:"product_service"`
	ContractDuration   string  `json:"contract_duration"`
	DiscountType       string  `json:"discount_type"`
	RegionTerritory    string  `json:"region_territory"`
	PreviousQuoteID    *string `json:"previous_quote_id,omitempty"`
	CreatedBy          string  `json:"created_by"`
}

// QuoteWithApprovals pairs one quote version with its approval set.
type QuoteWithApprovals struct {
	Quote     *repository.Quote      `json:"quote"`
	Approvals []*repository.Approval `json:"approvals"`
}

// QuoteHistory is the full read model: the current version plus the chain
// of superseded versions walked back to the root.
type QuoteHistory struct {
	Quote     *repository.Quote      `json:"quote"`
	Approvals []*repository.Approval `json:"approvals"`
	History   []*QuoteWithApprovals  `json:"history"`
}

// DecisionResult is returned after a recorded decision.
type DecisionResult struct {
	QuoteStatus string                 `json:"quote_status"`
	Approvals   []*repository.Approval `json:"approvals"`
}

// ── CreateOrResubmitQuote ─────────────────────────────────────────────────────

// CreateOrResubmitQuote validates the snapshot, evaluates the rule
// catalog, seeds the approval set (carrying smart approvals forward from
// the previous version on resubmission) and persists the new quote
// version atomically.
func (s *QuoteService) CreateOrResubmitQuote(ctx context.Context, req *CreateQuoteRequest) (*QuoteWithApprovals, error) {
	snapshot, err := parseSnapshot(req)
	if err != nil {
		return nil, err
	}

	// Resolve the chain root before locking; the previous version is
	// re-validated under the lock.
	rootID := ""
	if req.PreviousQuoteID != nil {
		prev, err := s.quotes.GetByID(ctx, *req.PreviousQuoteID)
		if err != nil {
			return nil, err
		}
		rootID = prev.RootID
	}

	quoteID := uuid.NewString()
	if rootID == "" {
		rootID = quoteID
	}

	unlock := s.locks.acquire(rootID)
	defer unlock()

	var (
		prevSnap      *policy.Snapshot
		priorByRole   map[policy.Role]policy.PriorApproval
		prevVersionID *string
	)
	if req.PreviousQuoteID != nil {
		prev, err := s.quotes.GetByID(ctx, *req.PreviousQuoteID)
		if err != nil {
			return nil, err
		}
		if err := policy.CanResubmitFrom(prev.Status); err != nil {
			return nil, err
		}

		prevApprovals, err := s.approvals.GetByQuoteID(ctx, prev.ID)
		if err != nil {
			return nil, err
		}

		priorByRole = make(map[policy.Role]policy.PriorApproval)
		for _, a := range prevApprovals {
			if a.Historical {
				continue
			}
			priorByRole[a.ApproverRole] = policy.PriorApproval{ID: a.ID, Status: a.Status}
		}

		snap := prev.Snapshot
		prevSnap = &snap
		id := prev.ID
		prevVersionID = &id
	}

	required := s.policy.RequiredApprovers(snapshot)
	seeds := s.policy.SeedApprovals(priorByRole, prevSnap, snapshot, required)

	now := time.Now().UTC()
	quote := &repository.Quote{
		ID:                quoteID,
		RootID:            rootID,
		PreviousVersionID: prevVersionID,
		Status:            policy.QuotePending,
		Snapshot:          snapshot,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if req.CreatedBy != "" {
		quote.CreatedBy = &req.CreatedBy
	}

	approvals := make([]*repository.Approval, 0, len(seeds))
	states := make([]policy.DecisionState, 0, len(seeds))
	retained := make([]string, 0)
	for _, seed := range seeds {
		approval := &repository.Approval{
			ID:                 uuid.NewString(),
			QuoteID:            quoteID,
			ApproverRole:       seed.Role,
			Status:             seed.Status,
			SmartApproval:      seed.Smart,
			PreviousApprovalID: seed.RetainedFrom,
			Reasons:            toReasons(seed.Reasons),
			CreatedAt:          now,
			UpdatedAt:          now,
		}
		approvals = append(approvals, approval)
		states = append(states, policy.DecisionState{Role: seed.Role, Status: seed.Status})
		if seed.RetainedFrom != nil {
			retained = append(retained, string(seed.Role))
		}
	}

	// Status is a pure function of the seeded approval set.
	quote.Status = policy.AggregateStatus(policy.QuotePending, states)

	if err := s.quotes.Create(ctx, quote, approvals); err != nil {
		return nil, err
	}

	s.log.Info().
		Str("quote_id", quote.ID).
		Str("root_id", quote.RootID).
		Int("required_approvers", len(approvals)).
		Strs("retained", retained).
		Bool("resubmission", prevVersionID != nil).
		Msg("Quote submitted")

	s.appendAudit(ctx, &repository.AuditEntry{
		QuoteID:          quote.ID,
		RootID:           quote.RootID,
		Action:           "submitted",
		PerformedBy:      req.CreatedBy,
		QuoteStatusAfter: &quote.Status,
		Metadata: map[string]interface{}{
			"previous_version_id": req.PreviousQuoteID,
			"retained_roles":      retained,
		},
	})
	s.publish(ctx, "quote_submitted", quote, req.CreatedBy, map[string]interface{}{
		"retained_roles": retained,
	})

	return &QuoteWithApprovals{Quote: quote, Approvals: approvals}, nil
}

// ── RecordDecision ────────────────────────────────────────────────────────────

// RecordDecision gates a manual approve/reject through the sequencer and
// recomputes the aggregate quote status. A failed decision leaves the
// approval row untouched.
func (s *QuoteService) RecordDecision(ctx context.Context, quoteID string, role policy.Role, decision, decidedBy string, notes *string) (*DecisionResult, error) {
	decision = strings.ToLower(decision)
	if decision != policy.ApprovalApproved && decision != policy.ApprovalRejected {
		return nil, errors.InvalidInput("decision", "must be approved or rejected")
	}

	quote, err := s.quotes.GetByID(ctx, quoteID)
	if err != nil {
		return nil, err
	}

	unlock := s.locks.acquire(quote.RootID)
	defer unlock()

	// Re-read under the lock; a concurrent recall or decision may have
	// changed the picture.
	quote, err = s.quotes.GetByID(ctx, quoteID)
	if err != nil {
		return nil, err
	}
	if err := policy.CanDecide(quote.Status); err != nil {
		return nil, err
	}

	approvals, err := s.approvals.GetByQuoteID(ctx, quoteID)
	if err != nil {
		return nil, err
	}

	var target *repository.Approval
	states := make([]policy.DecisionState, 0, len(approvals))
	for _, a := range approvals {
		if a.Historical {
			continue
		}
		states = append(states, policy.DecisionState{Role: a.ApproverRole, Status: a.Status})
		if a.ApproverRole == role {
			target = a
		}
	}

	if err := s.policy.CheckDecision(states, role); err != nil {
		return nil, err
	}

	if err := s.approvals.RecordDecision(ctx, target.ID, decision, decidedBy, notes); err != nil {
		return nil, err
	}

	// Recompute aggregate status from the updated approval set.
	for i := range states {
		if states[i].Role == role {
			states[i].Status = decision
		}
	}
	statusBefore := quote.Status
	statusAfter := policy.AggregateStatus(quote.Status, states)
	if statusAfter != statusBefore {
		if err := s.quotes.UpdateStatus(ctx, quoteID, statusAfter); err != nil {
			return nil, err
		}
	}

	s.log.Info().
		Str("quote_id", quoteID).
		Str("role", string(role)).
		Str("decision", decision).
		Str("quote_status", statusAfter).
		Msg("Decision recorded")

	s.appendAudit(ctx, &repository.AuditEntry{
		QuoteID:           quoteID,
		RootID:            quote.RootID,
		ApprovalID:        &target.ID,
		Action:            decision,
		PerformedBy:       decidedBy,
		QuoteStatusBefore: &statusBefore,
		QuoteStatusAfter:  &statusAfter,
		Metadata:          map[string]interface{}{"role": string(role)},
	})

	s.publish(ctx, "decision_recorded", quote, decidedBy, map[string]interface{}{
		"role":     string(role),
		"decision": decision,
	})
	switch statusAfter {
	case policy.QuoteApproved:
		s.publish(ctx, "quote_approved", quote, decidedBy, nil)
	case policy.QuoteRejected:
		s.publish(ctx, "quote_rejected", quote, decidedBy, nil)
	}

	updated, err := s.approvals.GetByQuoteID(ctx, quoteID)
	if err != nil {
		return nil, err
	}
	return &DecisionResult{QuoteStatus: statusAfter, Approvals: updated}, nil
}

// ── RecallQuote ───────────────────────────────────────────────────────────────

// RecallQuote pulls a pending or approved quote out of the workflow. The
// approval set stays intact; the quote is non-actionable until
// resubmitted as a new chained version.
func (s *QuoteService) RecallQuote(ctx context.Context, quoteID, recalledBy string) (string, error) {
	quote, err := s.quotes.GetByID(ctx, quoteID)
	if err != nil {
		return "", err
	}

	unlock := s.locks.acquire(quote.RootID)
	defer unlock()

	quote, err = s.quotes.GetByID(ctx, quoteID)
	if err != nil {
		return "", err
	}
	if err := policy.CanRecall(quote.Status); err != nil {
		return "", err
	}

	statusBefore := quote.Status
	if err := s.quotes.UpdateStatus(ctx, quoteID, policy.QuoteRecalled); err != nil {
		return "", err
	}

	s.log.Info().
		Str("quote_id", quoteID).
		Str("status_before", statusBefore).
		Msg("Quote recalled")

	statusAfter := policy.QuoteRecalled
	s.appendAudit(ctx, &repository.AuditEntry{
		QuoteID:           quoteID,
		RootID:            quote.RootID,
		Action:            "recalled",
		PerformedBy:       recalledBy,
		QuoteStatusBefore: &statusBefore,
		QuoteStatusAfter:  &statusAfter,
	})
	s.publish(ctx, "quote_recalled", quote, recalledBy, nil)

	return policy.QuoteRecalled, nil
}

// ── Reads ─────────────────────────────────────────────────────────────────────

// GetQuote returns one quote version with its approvals.
func (s *QuoteService) GetQuote(ctx context.Context, quoteID string) (*QuoteWithApprovals, error) {
	quote, err := s.quotes.GetByID(ctx, quoteID)
	if err != nil {
		return nil, err
	}
	approvals, err := s.approvals.GetByQuoteID(ctx, quoteID)
	if err != nil {
		return nil, err
	}
	return &QuoteWithApprovals{Quote: quote, Approvals: approvals}, nil
}

// GetQuoteWithHistory returns the quote, its approvals, and the chain of
// superseded versions walked back to the root. A dangling previous-version
// reference truncates the history cleanly; a cycle aborts the traversal.
func (s *QuoteService) GetQuoteWithHistory(ctx context.Context, quoteID string) (*QuoteHistory, error) {
	current, err := s.GetQuote(ctx, quoteID)
	if err != nil {
		return nil, err
	}

	result := &QuoteHistory{
		Quote:     current.Quote,
		Approvals: current.Approvals,
		History:   make([]*QuoteWithApprovals, 0),
	}

	visited := map[string]bool{current.Quote.ID: true}
	prevID := current.Quote.PreviousVersionID
	for prevID != nil {
		if visited[*prevID] {
			return nil, errors.ChainIntegrity(
				fmt.Sprintf("version chain cycle at quote %s", *prevID))
		}
		visited[*prevID] = true

		entry, err := s.GetQuote(ctx, *prevID)
		if err != nil {
			if errors.IsNotFound(err) {
				// Concurrently truncated chain: return what we have.
				s.log.Warn().
					Str("quote_id", quoteID).
					Str("missing_version", *prevID).
					Msg("Version chain truncated; returning partial history")
				break
			}
			return nil, err
		}

		result.History = append(result.History, entry)
		prevID = entry.Quote.PreviousVersionID
	}

	return result, nil
}

// ListQuotes lists quote versions with optional status filtering.
func (s *QuoteService) ListQuotes(ctx context.Context, status *string, page, pageSize int) ([]*repository.Quote, int64, error) {
	offset := (page - 1) * pageSize
	return s.quotes.List(ctx, status, pageSize, offset)
}

// GetAuditTrail returns the audit log for the quote's whole version chain.
func (s *QuoteService) GetAuditTrail(ctx context.Context, quoteID string) ([]*repository.AuditEntry, error) {
	quote, err := s.quotes.GetByID(ctx, quoteID)
	if err != nil {
		return nil, err
	}
	return s.audit.GetByRootID(ctx, quote.RootID)
}

// ── Internal helpers ──────────────────────────────────────────────────────────

// parseSnapshot validates the raw request into an attribute snapshot.
// total_amount is required and must be numeric; everything else fails
// closed at this boundary so the engine never sees malformed input.
func parseSnapshot(req *CreateQuoteRequest) (policy.Snapshot, error) {
	var snap policy.Snapshot

	if strings.TrimSpace(req.TotalAmount) == "" {
		return snap, errors.InvalidInput("total_amount", "is required")
	}
	amount, err := strconv.ParseFloat(strings.TrimSpace(req.TotalAmount), 64)
	if err != nil {
		return snap, errors.InvalidInput("total_amount", "must be numeric")
	}

	discount := 0.0
	if strings.TrimSpace(req.DiscountPercentage) != "" {
		discount, err = strconv.ParseFloat(strings.TrimSpace(req.DiscountPercentage), 64)
		if err != nil {
			return snap, errors.InvalidInput("discount_percentage", "must be numeric")
		}
	}

	snap = policy.Snapshot{
		TotalAmount:        amount,
		DiscountPercentage: discount,
		PaymentTerms:       req.PaymentTerms,
		PaymentType:        req.PaymentType,
		BillingFrequency:   req.BillingFrequency,
		SpecialTerms:       req.SpecialTerms,
		ProductService:     req.ProductService,
		ContractDuration:   req.ContractDuration,
		DiscountType:       req.DiscountType,
		RegionTerritory:    req.RegionTerritory,
	}
	if err := snap.Validate(); err != nil {
		return snap, err
	}
	return snap, nil
}

func toReasons(rules []policy.Rule) []repository.Reason {
	reasons := make([]repository.Reason, 0, len(rules))
	for _, r := range rules {
		reasons = append(reasons, repository.Reason{
			Field:     r.Field,
			Condition: r.Condition,
			Smart:     r.Smart,
		})
	}
	return reasons
}

// appendAudit writes an audit entry and logs a warning on failure (never
// returns an error).
func (s *QuoteService) appendAudit(ctx context.Context, entry *repository.AuditEntry) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Append(ctx, entry); err != nil {
		s.log.Warn().Err(err).
			Str("quote_id", entry.QuoteID).
			Str("action", entry.Action).
			Msg("Failed to write audit log entry")
	}
}

func (s *QuoteService) publish(ctx context.Context, eventType string, quote *repository.Quote, actorID string, payload map[string]interface{}) {
	if s.events == nil {
		return
	}
	s.events.PublishQuoteEvent(ctx, eventType, quote.ID, quote.RootID, actorID, payload)
}
