package gateway

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/yourorg/compliance-ledger/internal/domain"
	"github.com/yourorg/compliance-ledger/internal/report"
	"github.com/yourorg/compliance-ledger/internal/risk"
)

// ErrorBody is the JSON body of every error response.
type ErrorBody struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	CorrID    string `json:"corrId"`
	Retryable bool   `json:"retryable"`
}

type errorClass struct {
	err       error
	status    int
	code      string
	message   string
	retryable bool
}

// Order matters: derived errors come before the sentinel they wrap.
var errorClasses = []errorClass{
	{ErrRateLimited, http.StatusTooManyRequests, "RATE_LIMITED", "Too many requests", true},
	{domain.ErrUnauthenticated, http.StatusUnauthorized, "AUTH_REQUIRED", "Authentication required", false},
	{domain.ErrSessionExpired, http.StatusUnauthorized, "SESSION_EXPIRED", "Session expired; log in and select an organization again", false},
	{domain.ErrDualCustody, http.StatusForbidden, "DUAL_CUSTODY_REQUIRED", "A second authorized actor is required", false},
	{domain.ErrTenantSuspended, http.StatusForbidden, "TENANT_SUSPENDED", "Organization is suspended", false},
	{domain.ErrRoleForbidden, http.StatusForbidden, "FORBIDDEN", "Your role may not perform this action", false},
	{domain.ErrAccessDenied, http.StatusForbidden, "ACCESS_DENIED", "Access denied", false},
	{domain.ErrHoldViolation, http.StatusConflict, "HOLD_VIOLATION", "A litigation hold prevents changing existing records", false},
	{domain.ErrNotFound, http.StatusNotFound, "NOT_FOUND", "Not found", false},
	{domain.ErrAlreadyVerified, http.StatusConflict, "ALREADY_VERIFIED", "Finding is already human verified", false},
	{domain.ErrHoldAlreadyActive, http.StatusConflict, "HOLD_ALREADY_ACTIVE", "A litigation hold is already active", false},
	{domain.ErrNoActiveHold, http.StatusConflict, "NO_ACTIVE_HOLD", "No litigation hold is active", false},
	{domain.ErrInvalidTransition, http.StatusConflict, "INVALID_TRANSITION", "", false},
	{domain.ErrInvalidInput, http.StatusBadRequest, "VALIDATION_ERROR", "", false},
	{domain.ErrInvalidMetadata, http.StatusBadRequest, "VALIDATION_ERROR", "", false},
	{report.ErrQueueFull, http.StatusServiceUnavailable, "QUEUE_FULL", "Report queue is full", true},
	{report.ErrClosed, http.StatusServiceUnavailable, "SHUTTING_DOWN", "Service is shutting down", true},
	{risk.ErrUnavailable, http.StatusBadGateway, "RISK_ENGINE_UNAVAILABLE", "Risk assessment engine unavailable", true},
}

// writeError maps err onto the error taxonomy. Classes with an empty message
// echo the error text, which for those classes only describes client input.
// Anything unclassified is a 500 with a fixed message.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	corrID := w.Header().Get("X-Correlation-Id")
	logger := h.logger.With("corrId", corrID, "tenantId", chi.URLParam(r, "tenantID"))
	var mbe *http.MaxBytesError
	if errors.As(err, &mbe) {
		writeJSONError(w, http.StatusRequestEntityTooLarge, "BODY_TOO_LARGE", "Request body too large", corrID, false)
		return
	}
	for _, c := range errorClasses {
		if !errors.Is(err, c.err) {
			continue
		}
		msg := c.message
		if msg == "" {
			msg = err.Error()
		}
		if c.status >= 500 {
			logger.Warn("request failed", "path", r.URL.Path, "error", err)
		}
		writeJSONError(w, c.status, c.code, msg, corrID, c.retryable)
		return
	}
	logger.Error("internal error", "method", r.Method, "path", r.URL.Path, "error", err)
	writeJSONError(w, http.StatusInternalServerError, "INTERNAL", "Internal error", corrID, true)
}

func writeJSONError(w http.ResponseWriter, status int, code, message, corrID string, retryable bool) {
	writeJSON(w, status, ErrorBody{Code: code, Message: message, CorrID: corrID, Retryable: retryable})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
