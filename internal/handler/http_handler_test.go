package handler

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pesio-ai/be-cq-quotes/internal/logger"
	"github.com/pesio-ai/be-cq-quotes/internal/memstore"
	"github.com/pesio-ai/be-cq-quotes/internal/policy"
	"github.com/pesio-ai/be-cq-quotes/internal/service"
)

func newTestHandler() *HTTPHandler {
	store := memstore.New()
	svc := service.NewQuoteService(policy.Default(), store, store, store, nil, logger.Nop())
	return NewHTTPHandler(svc, logger.Nop())
}

func doJSON(t *testing.T, h http.HandlerFunc, method, target string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, target, reader)
	rec := httptest.NewRecorder()
	h(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func createQuote(t *testing.T, h *HTTPHandler, amount string) string {
	t.Helper()
	rec := doJSON(t, h.CreateQuote, http.MethodPost, "/api/v1/quotes", map[string]string{
		"total_amount": amount,
		"created_by":   "alex",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	body := decodeBody(t, rec)
	quote := body["quote"].(map[string]interface{})
	return quote["id"].(string)
}

func TestCreateQuoteEndpoint(t *testing.T) {
	h := newTestHandler()

	rec := doJSON(t, h.CreateQuote, http.MethodPost, "/api/v1/quotes", map[string]string{
		"total_amount": "60000",
		"created_by":   "alex",
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	body := decodeBody(t, rec)
	quote := body["quote"].(map[string]interface{})
	assert.Equal(t, "pending", quote["status"])
	assert.Equal(t, quote["id"], quote["root_id"])
	assert.Len(t, body["approvals"], 3)
}

func TestCreateQuoteValidationError(t *testing.T) {
	h := newTestHandler()

	rec := doJSON(t, h.CreateQuote, http.MethodPost, "/api/v1/quotes", map[string]string{
		"total_amount": "not-a-number",
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	body := decodeBody(t, rec)
	assert.Equal(t, "VALIDATION_ERROR", body["code"])
	assert.Equal(t, "total_amount", body["field"])
}

func TestCreateQuoteMalformedBody(t *testing.T) {
	h := newTestHandler()

	req := httptest.NewRequest(http.MethodPost, "/api/v1/quotes", strings.NewReader("{not json"))
	rec := httptest.NewRecorder()
	h.CreateQuote(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetQuoteEndpoint(t *testing.T) {
	h := newTestHandler()
	quoteID := createQuote(t, h, "15000")

	rec := doJSON(t, h.GetQuote, http.MethodGet, "/api/v1/quotes/get?id="+quoteID, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	body := decodeBody(t, rec)
	quote := body["quote"].(map[string]interface{})
	assert.Equal(t, quoteID, quote["id"])
	snapshot := quote["snapshot"].(map[string]interface{})
	assert.Equal(t, 15000.0, snapshot["total_amount"])
}

func TestGetQuoteNotFound(t *testing.T) {
	h := newTestHandler()

	rec := doJSON(t, h.GetQuote, http.MethodGet, "/api/v1/quotes/get?id=missing", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "NOT_FOUND", decodeBody(t, rec)["code"])
}

func TestGetQuoteMissingID(t *testing.T) {
	h := newTestHandler()

	rec := doJSON(t, h.GetQuote, http.MethodGet, "/api/v1/quotes/get", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDecisionEndpointSequenceViolation(t *testing.T) {
	h := newTestHandler()
	quoteID := createQuote(t, h, "60000")

	rec := doJSON(t, h.RecordDecision, http.MethodPost, "/api/v1/quotes/decision", map[string]string{
		"quote_id":      quoteID,
		"approver_role": "Finance",
		"decision":      "approved",
		"decided_by":    "frankie",
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	// The violation payload carries the full ordered sequence and the
	// next eligible role at the top level.
	body := decodeBody(t, rec)
	assert.Equal(t, "SEQUENCE_VIOLATION", body["code"])
	assert.Equal(t, "Manager", body["next_required"])
	assert.Equal(t,
		[]interface{}{"Manager", "Deal Desk", "Finance"},
		body["required_sequence"])
}

func TestDecisionEndpointHappyPath(t *testing.T) {
	h := newTestHandler()
	quoteID := createQuote(t, h, "5000")

	rec := doJSON(t, h.RecordDecision, http.MethodPost, "/api/v1/quotes/decision", map[string]string{
		"quote_id":      quoteID,
		"approver_role": "Manager",
		"decision":      "approved",
		"decided_by":    "morgan",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	body := decodeBody(t, rec)
	assert.Equal(t, "approved", body["quote_status"])
}

func TestDecisionEndpointInvalidState(t *testing.T) {
	h := newTestHandler()
	quoteID := createQuote(t, h, "5000")

	decide := map[string]string{
		"quote_id":      quoteID,
		"approver_role": "Manager",
		"decision":      "approved",
		"decided_by":    "morgan",
	}
	rec := doJSON(t, h.RecordDecision, http.MethodPost, "/api/v1/quotes/decision", decide)
	require.Equal(t, http.StatusOK, rec.Code)

	// Deciding again hits the terminal quote state.
	rec = doJSON(t, h.RecordDecision, http.MethodPost, "/api/v1/quotes/decision", decide)
	require.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "INVALID_STATE", decodeBody(t, rec)["code"])
}

func TestDecisionEndpointMissingFields(t *testing.T) {
	h := newTestHandler()

	rec := doJSON(t, h.RecordDecision, http.MethodPost, "/api/v1/quotes/decision", map[string]string{
		"decision": "approved",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRecallEndpoint(t *testing.T) {
	h := newTestHandler()
	quoteID := createQuote(t, h, "5000")

	rec := doJSON(t, h.RecallQuote, http.MethodPost, "/api/v1/quotes/recall", map[string]string{
		"quote_id":    quoteID,
		"recalled_by": "alex",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "recalled", decodeBody(t, rec)["quote_status"])

	// A second recall is an invalid-state conflict.
	rec = doJSON(t, h.RecallQuote, http.MethodPost, "/api/v1/quotes/recall", map[string]string{
		"quote_id":    quoteID,
		"recalled_by": "alex",
	})
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestHistoryEndpoint(t *testing.T) {
	h := newTestHandler()
	quoteID := createQuote(t, h, "5000")

	rec := doJSON(t, h.RecallQuote, http.MethodPost, "/api/v1/quotes/recall", map[string]string{
		"quote_id": quoteID, "recalled_by": "alex",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, h.CreateQuote, http.MethodPost, "/api/v1/quotes", map[string]string{
		"total_amount":      "4000",
		"previous_quote_id": quoteID,
		"created_by":        "alex",
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	v2 := decodeBody(t, rec)["quote"].(map[string]interface{})["id"].(string)

	rec = doJSON(t, h.GetQuoteHistory, http.MethodGet, "/api/v1/quotes/history?id="+v2, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	body := decodeBody(t, rec)
	history := body["history"].([]interface{})
	require.Len(t, history, 1)
	prior := history[0].(map[string]interface{})["quote"].(map[string]interface{})
	assert.Equal(t, quoteID, prior["id"])
}

func TestListQuotesEndpoint(t *testing.T) {
	h := newTestHandler()
	createQuote(t, h, "1000")
	createQuote(t, h, "2000")

	rec := doJSON(t, h.ListQuotes, http.MethodGet, "/api/v1/quotes?page=1&page_size=10", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	body := decodeBody(t, rec)
	assert.Equal(t, 2.0, body["total"])
	assert.Len(t, body["quotes"], 2)

	rec = doJSON(t, h.ListQuotes, http.MethodGet, "/api/v1/quotes?status=approved", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 0.0, decodeBody(t, rec)["total"])
}

func TestAuditEndpoint(t *testing.T) {
	h := newTestHandler()
	quoteID := createQuote(t, h, "5000")

	rec := doJSON(t, h.GetAuditTrail, http.MethodGet, "/api/v1/quotes/audit?id="+quoteID, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	entries := decodeBody(t, rec)["entries"].([]interface{})
	require.Len(t, entries, 1)
	assert.Equal(t, "submitted", entries[0].(map[string]interface{})["action"])
}

func TestRulesEndpoint(t *testing.T) {
	h := newTestHandler()

	rec := doJSON(t, h.ListRules, http.MethodGet, "/api/v1/rules", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	body := decodeBody(t, rec)
	assert.Len(t, body["rules"], 17)
	assert.Equal(t,
		[]interface{}{"Manager", "Services", "Deal Desk", "Finance", "Legal"},
		body["order"])
}

func TestMethodNotAllowed(t *testing.T) {
	h := newTestHandler()

	rec := doJSON(t, h.CreateQuote, http.MethodGet, "/api/v1/quotes", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)

	rec = doJSON(t, h.RecallQuote, http.MethodGet, "/api/v1/quotes/recall", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}
