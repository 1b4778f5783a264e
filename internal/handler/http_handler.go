package handler

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/pesio-ai/be-cq-quotes/internal/errors"
	"github.com/pesio-ai/be-cq-quotes/internal/logger"
	"github.com/pesio-ai/be-cq-quotes/internal/policy"
	"github.com/pesio-ai/be-cq-quotes/internal/service"
)

// HTTPHandler handles HTTP requests
type HTTPHandler struct {
	service *service.QuoteService
	log     *logger.Logger
}

// NewHTTPHandler creates a new HTTP handler
func NewHTTPHandler(svc *service.QuoteService, log *logger.Logger) *HTTPHandler {
	return &HTTPHandler{
		service: svc,
		log:     log,
	}
}

// CreateQuote handles quote submission and resubmission.
func (h *HTTPHandler) CreateQuote(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req service.CreateQuoteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	result, err := h.service.CreateOrResubmitQuote(r.Context(), &req)
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusCreated, result)
}

// GetQuote returns one quote version with its approvals.
func (h *HTTPHandler) GetQuote(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	quoteID := r.URL.Query().Get("id")
	if quoteID == "" {
		http.Error(w, "Quote ID is required", http.StatusBadRequest)
		return
	}

	result, err := h.service.GetQuote(r.Context(), quoteID)
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, result)
}

// GetQuoteHistory returns a quote with its full version chain.
func (h *HTTPHandler) GetQuoteHistory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	quoteID := r.URL.Query().Get("id")
	if quoteID == "" {
		http.Error(w, "Quote ID is required", http.StatusBadRequest)
		return
	}

	result, err := h.service.GetQuoteWithHistory(r.Context(), quoteID)
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, result)
}

// ListQuotes lists quote versions with optional status filtering.
func (h *HTTPHandler) ListQuotes(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var statusPtr *string
	if status := r.URL.Query().Get("status"); status != "" {
		statusPtr = &status
	}

	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	if page < 1 {
		page = 1
	}

	pageSize, _ := strconv.Atoi(r.URL.Query().Get("page_size"))
	if pageSize < 1 || pageSize > 100 {
		pageSize = 50
	}

	quotes, total, err := h.service.ListQuotes(r.Context(), statusPtr, page, pageSize)
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"quotes":   quotes,
		"total":    total,
		"page":     page,
		"pageSize": pageSize,
	})
}

// RecordDecision records an approve/reject decision for one role.
func (h *HTTPHandler) RecordDecision(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		QuoteID      string  `json:"quote_id"`
		ApproverRole string  `json:"approver_role"`
		Decision     string  `json:"decision"`
		DecidedBy    string  `json:"decided_by"`
		Notes        *string `json:"notes,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.QuoteID == "" || req.ApproverRole == "" {
		http.Error(w, "Quote ID and approver role are required", http.StatusBadRequest)
		return
	}

	result, err := h.service.RecordDecision(r.Context(), req.QuoteID, policy.Role(req.ApproverRole), req.Decision, req.DecidedBy, req.Notes)
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, result)
}

// RecallQuote pulls a quote out of the approval workflow.
func (h *HTTPHandler) RecallQuote(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		QuoteID    string `json:"quote_id"`
		RecalledBy string `json:"recalled_by"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.QuoteID == "" {
		http.Error(w, "Quote ID is required", http.StatusBadRequest)
		return
	}

	status, err := h.service.RecallQuote(r.Context(), req.QuoteID, req.RecalledBy)
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]string{"quote_status": status})
}

// GetAuditTrail returns the audit log for a quote's version chain.
func (h *HTTPHandler) GetAuditTrail(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	quoteID := r.URL.Query().Get("id")
	if quoteID == "" {
		http.Error(w, "Quote ID is required", http.StatusBadRequest)
		return
	}

	entries, err := h.service.GetAuditTrail(r.Context(), quoteID)
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{"entries": entries})
}

// ListRules returns the active rule catalog and precedence order for
// display (the approval rules matrix).
func (h *HTTPHandler) ListRules(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	pol := h.service.Policy()
	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"rules": pol.Rules,
		"order": pol.Order,
	})
}

// ── Response helpers ──────────────────────────────────────────────────────────

func (h *HTTPHandler) writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.log.Warn().Err(err).Msg("Failed to encode response")
	}
}

// writeError maps a typed service error to an HTTP status and a JSON body.
// SequenceViolation details (required_sequence, next_required) are merged
// into the top level of the body so callers can render guidance directly.
func (h *HTTPHandler) writeError(w http.ResponseWriter, err error) {
	code := errors.Code(err)

	status := http.StatusInternalServerError
	switch code {
	case errors.ErrCodeValidation, errors.ErrCodeSequenceViolation:
		status = http.StatusBadRequest
	case errors.ErrCodeInvalidState, errors.ErrCodeConflict:
		status = http.StatusConflict
	case errors.ErrCodeNotFound:
		status = http.StatusNotFound
	}

	body := map[string]interface{}{
		"code":    code,
		"message": err.Error(),
	}
	for k, v := range errors.Details(err) {
		body[k] = v
	}

	h.writeJSON(w, status, body)
}
