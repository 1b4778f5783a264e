package service

import (
	"context"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pesio-ai/be-cq-quotes/internal/errors"
	"github.com/pesio-ai/be-cq-quotes/internal/logger"
	"github.com/pesio-ai/be-cq-quotes/internal/memstore"
	"github.com/pesio-ai/be-cq-quotes/internal/policy"
	"github.com/pesio-ai/be-cq-quotes/internal/repository"
)

func newTestService() (*QuoteService, *memstore.Store) {
	store := memstore.New()
	svc := NewQuoteService(policy.Default(), store, store, store, nil, logger.Nop())
	return svc, store
}

func submitRequest(amount string) *CreateQuoteRequest {
	return &CreateQuoteRequest{
		TotalAmount: amount,
		CreatedBy:   "alex",
	}
}

// approveAll walks the quote's pending approvals in precedence order.
func approveAll(t *testing.T, svc *QuoteService, quoteID string) {
	t.Helper()
	ctx := context.Background()
	for {
		q, err := svc.GetQuote(ctx, quoteID)
		require.NoError(t, err)
		var next *repository.Approval
		for _, a := range q.Approvals {
			if !a.Historical && a.Status == policy.ApprovalPending {
				next = a
				break
			}
		}
		if next == nil {
			return
		}
		_, err = svc.RecordDecision(ctx, quoteID, next.ApproverRole, "approved", "approver", nil)
		require.NoError(t, err)
	}
}

func TestCreateQuoteEvaluatesCatalog(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	result, err := svc.CreateOrResubmitQuote(ctx, submitRequest("60000"))
	require.NoError(t, err)

	assert.Equal(t, policy.QuotePending, result.Quote.Status)
	assert.Equal(t, result.Quote.ID, result.Quote.RootID)
	assert.Nil(t, result.Quote.PreviousVersionID)

	require.Len(t, result.Approvals, 3)
	roles := []policy.Role{
		result.Approvals[0].ApproverRole,
		result.Approvals[1].ApproverRole,
		result.Approvals[2].ApproverRole,
	}
	assert.Equal(t, []policy.Role{policy.RoleManager, policy.RoleDealDesk, policy.RoleFinance}, roles)

	for _, a := range result.Approvals {
		assert.Equal(t, policy.ApprovalPending, a.Status)
		assert.False(t, a.Historical)
		assert.NotEmpty(t, a.Reasons)
	}
}

func TestCreateQuoteValidation(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	tests := []struct {
		name string
		req  *CreateQuoteRequest
	}{
		{"missing amount", &CreateQuoteRequest{CreatedBy: "alex"}},
		{"non-numeric amount", &CreateQuoteRequest{TotalAmount: "lots", CreatedBy: "alex"}},
		{"negative amount", &CreateQuoteRequest{TotalAmount: "-5", CreatedBy: "alex"}},
		{"bad discount", &CreateQuoteRequest{TotalAmount: "100", DiscountPercentage: "150", CreatedBy: "alex"}},
		{"bad enum", &CreateQuoteRequest{TotalAmount: "100", RegionTerritory: "EMEA", CreatedBy: "alex"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.CreateOrResubmitQuote(ctx, tt.req)
			require.Error(t, err)
			assert.Equal(t, errors.ErrCodeValidation, errors.Code(err))
		})
	}

	// Nothing was persisted by the rejected submissions.
	quotes, total, err := svc.ListQuotes(ctx, nil, 1, 10)
	require.NoError(t, err)
	assert.Empty(t, quotes)
	assert.Zero(t, total)
}

func TestDecisionFlowToApproval(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	result, err := svc.CreateOrResubmitQuote(ctx, submitRequest("15000"))
	require.NoError(t, err)
	quoteID := result.Quote.ID

	// Deal Desk may not act before Manager.
	_, err = svc.RecordDecision(ctx, quoteID, policy.RoleDealDesk, "approved", "dana", nil)
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeSequenceViolation, errors.Code(err))
	assert.Equal(t, "Manager", errors.Details(err)["next_required"])

	decision, err := svc.RecordDecision(ctx, quoteID, policy.RoleManager, "approved", "morgan", nil)
	require.NoError(t, err)
	assert.Equal(t, policy.QuotePending, decision.QuoteStatus)

	decision, err = svc.RecordDecision(ctx, quoteID, policy.RoleDealDesk, "approved", "dana", nil)
	require.NoError(t, err)
	assert.Equal(t, policy.QuoteApproved, decision.QuoteStatus)

	quote, err := svc.GetQuote(ctx, quoteID)
	require.NoError(t, err)
	assert.Equal(t, policy.QuoteApproved, quote.Quote.Status)
}

func TestDecisionRejectionIsTerminal(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	result, err := svc.CreateOrResubmitQuote(ctx, submitRequest("15000"))
	require.NoError(t, err)
	quoteID := result.Quote.ID

	notes := "discount unjustified"
	decision, err := svc.RecordDecision(ctx, quoteID, policy.RoleManager, "rejected", "morgan", &notes)
	require.NoError(t, err)
	assert.Equal(t, policy.QuoteRejected, decision.QuoteStatus)

	// No further decisions are accepted on a rejected quote.
	_, err = svc.RecordDecision(ctx, quoteID, policy.RoleDealDesk, "approved", "dana", nil)
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeInvalidState, errors.Code(err))
}

func TestDecisionInputValidation(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	result, err := svc.CreateOrResubmitQuote(ctx, submitRequest("1000"))
	require.NoError(t, err)

	_, err = svc.RecordDecision(ctx, result.Quote.ID, policy.RoleManager, "maybe", "morgan", nil)
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeValidation, errors.Code(err))

	_, err = svc.RecordDecision(ctx, "no-such-quote", policy.RoleManager, "approved", "morgan", nil)
	require.Error(t, err)
	assert.True(t, errors.IsNotFound(err))
}

func TestResubmissionRetainsSmartApprovals(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	v1, err := svc.CreateOrResubmitQuote(ctx, submitRequest("60000"))
	require.NoError(t, err)
	approveAll(t, svc, v1.Quote.ID)

	// Lowering the amount keeps the smart sign-offs alive.
	req := submitRequest("55000")
	req.PreviousQuoteID = &v1.Quote.ID
	v2, err := svc.CreateOrResubmitQuote(ctx, req)
	require.NoError(t, err)

	assert.Equal(t, v1.Quote.RootID, v2.Quote.RootID)
	require.NotNil(t, v2.Quote.PreviousVersionID)
	assert.Equal(t, v1.Quote.ID, *v2.Quote.PreviousVersionID)
	assert.Equal(t, policy.QuotePending, v2.Quote.Status)

	byRole := make(map[policy.Role]*repository.Approval)
	for _, a := range v2.Approvals {
		byRole[a.ApproverRole] = a
	}

	assert.Equal(t, policy.ApprovalPending, byRole[policy.RoleManager].Status)
	for _, role := range []policy.Role{policy.RoleDealDesk, policy.RoleFinance} {
		a := byRole[role]
		assert.Equal(t, policy.ApprovalApproved, a.Status, role)
		assert.True(t, a.SmartApproval, role)
		assert.NotNil(t, a.PreviousApprovalID, role)
	}

	// The superseded version's approvals are flagged historical.
	prev, err := svc.GetQuote(ctx, v1.Quote.ID)
	require.NoError(t, err)
	for _, a := range prev.Approvals {
		assert.True(t, a.Historical)
	}
}

func TestResubmissionFromPendingRejected(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	v1, err := svc.CreateOrResubmitQuote(ctx, submitRequest("1000"))
	require.NoError(t, err)

	req := submitRequest("2000")
	req.PreviousQuoteID = &v1.Quote.ID
	_, err = svc.CreateOrResubmitQuote(ctx, req)
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeInvalidState, errors.Code(err))
}

func TestRecallAndResubmit(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	v1, err := svc.CreateOrResubmitQuote(ctx, submitRequest("60000"))
	require.NoError(t, err)
	approveAll(t, svc, v1.Quote.ID)

	status, err := svc.RecallQuote(ctx, v1.Quote.ID, "alex")
	require.NoError(t, err)
	assert.Equal(t, policy.QuoteRecalled, status)

	// The approval rows are untouched by recall.
	recalled, err := svc.GetQuote(ctx, v1.Quote.ID)
	require.NoError(t, err)
	for _, a := range recalled.Approvals {
		assert.Equal(t, policy.ApprovalApproved, a.Status)
	}

	// A recalled quote accepts no decisions but is a valid chain origin.
	_, err = svc.RecordDecision(ctx, v1.Quote.ID, policy.RoleManager, "approved", "morgan", nil)
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeInvalidState, errors.Code(err))

	req := submitRequest("60000")
	req.PreviousQuoteID = &v1.Quote.ID
	v2, err := svc.CreateOrResubmitQuote(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, v1.Quote.RootID, v2.Quote.RootID)
}

func TestRecallRequiresLiveQuote(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	v1, err := svc.CreateOrResubmitQuote(ctx, submitRequest("1000"))
	require.NoError(t, err)

	_, err = svc.RecordDecision(ctx, v1.Quote.ID, policy.RoleManager, "rejected", "morgan", nil)
	require.NoError(t, err)

	_, err = svc.RecallQuote(ctx, v1.Quote.ID, "alex")
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeInvalidState, errors.Code(err))
}

func TestHistoryWalksChainToRoot(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	v1, err := svc.CreateOrResubmitQuote(ctx, submitRequest("60000"))
	require.NoError(t, err)
	approveAll(t, svc, v1.Quote.ID)

	req := submitRequest("55000")
	req.PreviousQuoteID = &v1.Quote.ID
	v2, err := svc.CreateOrResubmitQuote(ctx, req)
	require.NoError(t, err)
	approveAll(t, svc, v2.Quote.ID)

	req = submitRequest("50000")
	req.PreviousQuoteID = &v2.Quote.ID
	v3, err := svc.CreateOrResubmitQuote(ctx, req)
	require.NoError(t, err)

	history, err := svc.GetQuoteWithHistory(ctx, v3.Quote.ID)
	require.NoError(t, err)

	assert.Equal(t, v3.Quote.ID, history.Quote.ID)
	require.Len(t, history.History, 2)
	assert.Equal(t, v2.Quote.ID, history.History[0].Quote.ID)
	assert.Equal(t, v1.Quote.ID, history.History[1].Quote.ID)
}

func TestHistoryTruncatedChainIsPartial(t *testing.T) {
	svc, store := newTestService()
	ctx := context.Background()

	v1, err := svc.CreateOrResubmitQuote(ctx, submitRequest("60000"))
	require.NoError(t, err)
	approveAll(t, svc, v1.Quote.ID)

	req := submitRequest("55000")
	req.PreviousQuoteID = &v1.Quote.ID
	v2, err := svc.CreateOrResubmitQuote(ctx, req)
	require.NoError(t, err)

	store.Delete(v1.Quote.ID)

	history, err := svc.GetQuoteWithHistory(ctx, v2.Quote.ID)
	require.NoError(t, err)
	assert.Empty(t, history.History)
}

func TestHistoryCycleFailsClosed(t *testing.T) {
	svc, store := newTestService()
	ctx := context.Background()

	// Corrupt chain: two versions referencing each other.
	idA, idB := uuid.NewString(), uuid.NewString()
	root := idA
	require.NoError(t, store.Create(ctx, &repository.Quote{
		ID: idA, RootID: root, PreviousVersionID: &idB, Status: policy.QuotePending,
	}, nil))
	require.NoError(t, store.Create(ctx, &repository.Quote{
		ID: idB, RootID: root, PreviousVersionID: &idA, Status: policy.QuoteRecalled,
	}, nil))

	_, err := svc.GetQuoteWithHistory(ctx, idA)
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeChainIntegrity, errors.Code(err))
}

func TestAuditTrailCoversWholeChain(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	v1, err := svc.CreateOrResubmitQuote(ctx, submitRequest("15000"))
	require.NoError(t, err)
	approveAll(t, svc, v1.Quote.ID)

	req := submitRequest("12000")
	req.PreviousQuoteID = &v1.Quote.ID
	v2, err := svc.CreateOrResubmitQuote(ctx, req)
	require.NoError(t, err)

	// The trail is keyed by root and readable from any version.
	trail, err := svc.GetAuditTrail(ctx, v2.Quote.ID)
	require.NoError(t, err)

	actions := make([]string, 0, len(trail))
	for _, e := range trail {
		actions = append(actions, e.Action)
	}
	assert.Equal(t, []string{"submitted", "approved", "approved", "submitted"}, actions)
}

func TestConcurrentDecisionsOnOneApproval(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	result, err := svc.CreateOrResubmitQuote(ctx, submitRequest("1000"))
	require.NoError(t, err)
	quoteID := result.Quote.ID

	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded := 0
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.RecordDecision(ctx, quoteID, policy.RoleManager, "approved", "morgan", nil)
			if err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, succeeded)

	quote, err := svc.GetQuote(ctx, quoteID)
	require.NoError(t, err)
	assert.Equal(t, policy.QuoteApproved, quote.Quote.Status)
}

func TestListQuotesFiltersByStatus(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	v1, err := svc.CreateOrResubmitQuote(ctx, submitRequest("1000"))
	require.NoError(t, err)
	approveAll(t, svc, v1.Quote.ID)

	_, err = svc.CreateOrResubmitQuote(ctx, submitRequest("2000"))
	require.NoError(t, err)

	approved := policy.QuoteApproved
	quotes, total, err := svc.ListQuotes(ctx, &approved, 1, 10)
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	require.Len(t, quotes, 1)
	assert.Equal(t, v1.Quote.ID, quotes[0].ID)
}
