package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/yourorg/compliance-ledger/internal/domain"
	"github.com/yourorg/compliance-ledger/internal/export"
	"github.com/yourorg/compliance-ledger/internal/finding"
	"github.com/yourorg/compliance-ledger/internal/ledger"
	"github.com/yourorg/compliance-ledger/internal/tenant"
)

// Handler serves the gateway over HTTP.
type Handler struct {
	gw     *Gateway
	logger *slog.Logger
}

// NewHandler returns the /v1 router.
func NewHandler(gw *Gateway, logger *slog.Logger) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	h := &Handler{gw: gw, logger: logger}

	r := chi.NewRouter()
	r.Use(correlate)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger(logger))
	r.Use(limitBody(gw.cfg.MaxBodyBytes))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Post("/v1/login", h.login)

	r.Group(func(r chi.Router) {
		r.Use(h.authenticate)
		r.Post("/v1/logout", h.logout)
		r.Post("/v1/context", h.switchContext)
		r.Post("/v1/organizations", h.createOrganization)

		r.Route("/v1/tenants/{tenantID}", func(r chi.Router) {
			r.Get("/", h.organization)
			r.Patch("/status", h.setOrgStatus)

			r.Get("/audit-events", h.queryAuditLog)
			r.Get("/audit-chain/verify", h.verifyChain)

			r.Post("/reports", h.submitReport)
			r.Get("/reports", h.listReports)
			r.Get("/reports/{reportID}", h.reportStatus)
			r.Get("/reports/{reportID}/content", h.reportContent)
			r.Delete("/reports/{reportID}", h.purgeReport)

			r.Post("/findings", h.createFinding)
			r.Get("/findings", h.listFindings)
			r.Patch("/findings/{findingID}", h.editFinding)
			r.Post("/findings/{findingID}/status", h.setFindingStatus)
			r.Post("/findings/{findingID}/verify", h.verifyFinding)

			r.Get("/holds", h.holds)
			r.Post("/holds", h.activateHold)
			r.Post("/holds/lift", h.liftHold)

			r.Post("/assessments", h.recordAssessment)
			r.Post("/leads", h.captureLead)
			r.Post("/exports", h.exportPackage)
		})
	})
	return r
}

func decode(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var mbe *http.MaxBytesError
		if errors.As(err, &mbe) {
			return err
		}
		return domain.InvalidInput("body", "invalid JSON")
	}
	return nil
}

func principal(r *http.Request) Principal {
	p, _ := PrincipalFromContext(r.Context())
	return p
}

func tenantParam(r *http.Request) string { return chi.URLParam(r, "tenantID") }

type loginRequest struct {
	ActorID string `json:"actorId"`
	Secret  string `json:"secret"`
	OTP     string `json:"otp,omitempty"`
}

func (h *Handler) login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decode(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	res, err := h.gw.Login(r.Context(), req.ActorID, req.Secret, req.OTP)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) logout(w http.ResponseWriter, r *http.Request) {
	h.gw.Logout(r.Context(), principal(r))
	w.WriteHeader(http.StatusNoContent)
}

type contextRequest struct {
	TenantID string `json:"tenantId"`
}

func (h *Handler) switchContext(w http.ResponseWriter, r *http.Request) {
	var req contextRequest
	if err := decode(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	org, err := h.gw.SwitchContext(r.Context(), principal(r), req.TenantID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, org)
}

func (h *Handler) createOrganization(w http.ResponseWriter, r *http.Request) {
	var req tenant.NewOrganization
	if err := decode(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	org, err := h.gw.CreateOrganization(r.Context(), principal(r), req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, org)
}

func (h *Handler) organization(w http.ResponseWriter, r *http.Request) {
	org, err := h.gw.Organization(r.Context(), principal(r), tenantParam(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, org)
}

type statusRequest struct {
	Status string `json:"status"`
}

func (h *Handler) setOrgStatus(w http.ResponseWriter, r *http.Request) {
	var req statusRequest
	if err := decode(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	org, err := h.gw.SetOrgStatus(r.Context(), principal(r), tenantParam(r), domain.OrgStatus(strings.ToUpper(req.Status)))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, org)
}

// parseFilter reads action, actor, fromSeq, toSeq, since, until and limit.
// action may repeat.
func parseFilter(r *http.Request) (ledger.Filter, error) {
	q := r.URL.Query()
	var f ledger.Filter
	for _, a := range q["action"] {
		for _, part := range strings.Split(a, ",") {
			if part = strings.TrimSpace(part); part != "" {
				f.Actions = append(f.Actions, ledger.Action(strings.ToUpper(part)))
			}
		}
	}
	f.ActorID = q.Get("actor")
	if v := q.Get("fromSeq"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil || n < 0 {
			return f, domain.InvalidInput("fromSeq", "must be a non-negative integer")
		}
		f.FromSeq = n
	}
	if v := q.Get("toSeq"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil || n < 0 {
			return f, domain.InvalidInput("toSeq", "must be a non-negative integer")
		}
		f.ToSeq = &n
	}
	for name, dst := range map[string]**time.Time{"since": &f.Since, "until": &f.Until} {
		if v := q.Get(name); v != "" {
			t, err := time.Parse(time.RFC3339, v)
			if err != nil {
				return f, domain.InvalidInput(name, "must be RFC3339")
			}
			*dst = &t
		}
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return f, domain.InvalidInput("limit", "must be a positive integer")
		}
		f.Limit = n
	}
	return f, nil
}

type eventsResponse struct {
	Events []domain.AuditEvent `json:"events"`
}

func (h *Handler) queryAuditLog(w http.ResponseWriter, r *http.Request) {
	f, err := parseFilter(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	events, err := h.gw.QueryAuditLog(r.Context(), principal(r), tenantParam(r), f)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if events == nil {
		events = []domain.AuditEvent{}
	}
	writeJSON(w, http.StatusOK, eventsResponse{Events: events})
}

// verifyChain answers 200 for both outcomes; a broken chain is a result of
// the verification, reported through ok and brokenAtSeq.
func (h *Handler) verifyChain(w http.ResponseWriter, r *http.Request) {
	v, err := h.gw.VerifyChain(r.Context(), principal(r), tenantParam(r))
	if err != nil && !ledger.IsChainBroken(err) {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

type reportRequest struct {
	Type string `json:"type"`
}

func (h *Handler) submitReport(w http.ResponseWriter, r *http.Request) {
	var req reportRequest
	if err := decode(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	a, err := h.gw.SubmitReport(r.Context(), principal(r), tenantParam(r), domain.ReportType(strings.ToUpper(req.Type)))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, a)
}

func (h *Handler) listReports(w http.ResponseWriter, r *http.Request) {
	list, err := h.gw.Reports(r.Context(), principal(r), tenantParam(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if list == nil {
		list = []domain.ReportArtifact{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"reports": list})
}

func (h *Handler) reportStatus(w http.ResponseWriter, r *http.Request) {
	a, err := h.gw.ReportStatus(r.Context(), principal(r), tenantParam(r), chi.URLParam(r, "reportID"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

func (h *Handler) reportContent(w http.ResponseWriter, r *http.Request) {
	body, contentType, a, err := h.gw.ReportContent(r.Context(), principal(r), tenantParam(r), chi.URLParam(r, "reportID"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(body)))
	w.Header().Set("X-Content-Digest", a.ContentDigest)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

func (h *Handler) purgeReport(w http.ResponseWriter, r *http.Request) {
	a, err := h.gw.PurgeReport(r.Context(), principal(r), tenantParam(r), chi.URLParam(r, "reportID"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

type findingRequest struct {
	ID          string `json:"id,omitempty"`
	Category    string `json:"category"`
	Description string `json:"description"`
	Severity    string `json:"severity"`
}

func (h *Handler) createFinding(w http.ResponseWriter, r *http.Request) {
	var req findingRequest
	if err := decode(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	f, err := h.gw.CreateFinding(r.Context(), principal(r), tenantParam(r), finding.NewFinding{
		ID:          req.ID,
		Category:    req.Category,
		Description: req.Description,
		Severity:    domain.Severity(strings.ToUpper(req.Severity)),
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, f)
}

func (h *Handler) listFindings(w http.ResponseWriter, r *http.Request) {
	list, err := h.gw.ListFindings(r.Context(), principal(r), tenantParam(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if list == nil {
		list = []domain.Finding{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"findings": list})
}

type editRequest struct {
	Category    *string `json:"category,omitempty"`
	Description *string `json:"description,omitempty"`
	Severity    *string `json:"severity,omitempty"`
}

func (h *Handler) editFinding(w http.ResponseWriter, r *http.Request) {
	var req editRequest
	if err := decode(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	e := finding.Edit{Category: req.Category, Description: req.Description}
	if req.Severity != nil {
		s := domain.Severity(strings.ToUpper(*req.Severity))
		e.Severity = &s
	}
	f, err := h.gw.EditFinding(r.Context(), principal(r), tenantParam(r), chi.URLParam(r, "findingID"), e)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, f)
}

func (h *Handler) setFindingStatus(w http.ResponseWriter, r *http.Request) {
	var req statusRequest
	if err := decode(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	status := domain.FindingStatus(strings.ToUpper(req.Status))
	f, err := h.gw.SetFindingStatus(r.Context(), principal(r), tenantParam(r), chi.URLParam(r, "findingID"), status)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, f)
}

func (h *Handler) verifyFinding(w http.ResponseWriter, r *http.Request) {
	f, err := h.gw.VerifyFinding(r.Context(), principal(r), tenantParam(r), chi.URLParam(r, "findingID"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, f)
}

func (h *Handler) holds(w http.ResponseWriter, r *http.Request) {
	st, err := h.gw.Holds(r.Context(), principal(r), tenantParam(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if st.History == nil {
		st.History = []domain.LitigationHold{}
	}
	writeJSON(w, http.StatusOK, st)
}

type holdRequest struct {
	Reason string `json:"reason"`
	Scope  string `json:"scope,omitempty"`
}

func (h *Handler) activateHold(w http.ResponseWriter, r *http.Request) {
	var req holdRequest
	if err := decode(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	scope := domain.EvidenceCategory(strings.ToUpper(req.Scope))
	hold, err := h.gw.ActivateHold(r.Context(), principal(r), tenantParam(r), req.Reason, scope)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, hold)
}

type liftRequest struct {
	CosignerID string `json:"cosignerId,omitempty"`
}

func (h *Handler) liftHold(w http.ResponseWriter, r *http.Request) {
	var req liftRequest
	if r.ContentLength != 0 {
		if err := decode(r, &req); err != nil {
			h.writeError(w, r, err)
			return
		}
	}
	hold, err := h.gw.LiftHold(r.Context(), principal(r), tenantParam(r), req.CosignerID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, hold)
}

func (h *Handler) recordAssessment(w http.ResponseWriter, r *http.Request) {
	filing, err := io.ReadAll(r.Body)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if !json.Valid(filing) {
		h.writeError(w, r, domain.InvalidInput("body", "invalid JSON"))
		return
	}
	res, err := h.gw.RecordAssessment(r.Context(), principal(r), tenantParam(r), filing)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

type leadRequest struct {
	Email  string `json:"email"`
	Source string `json:"source,omitempty"`
}

func (h *Handler) captureLead(w http.ResponseWriter, r *http.Request) {
	var req leadRequest
	if err := decode(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	ev, err := h.gw.CaptureLead(r.Context(), principal(r), tenantParam(r), req.Email, req.Source)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, ev)
}

func (h *Handler) exportPackage(w http.ResponseWriter, r *http.Request) {
	var scope export.Scope
	if r.ContentLength != 0 {
		if err := decode(r, &scope); err != nil {
			h.writeError(w, r, err)
			return
		}
	}
	pkg, err := h.gw.ExportPackage(r.Context(), principal(r), tenantParam(r), scope)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", pkg.FileName()))
	w.Header().Set("X-Package-Hash", pkg.Manifest.PackageHash)
	w.Header().Set("Content-Length", strconv.Itoa(len(pkg.Archive)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(pkg.Archive)
}
