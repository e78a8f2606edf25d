package gateway

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourorg/compliance-ledger/internal/domain"
	"github.com/yourorg/compliance-ledger/internal/ledger"
	"github.com/yourorg/compliance-ledger/internal/risk"
)

type leakyEngine struct{}

func (leakyEngine) Assess(context.Context, string, json.RawMessage) (risk.Assessment, error) {
	return risk.Assessment{}, errors.New("dial tcp 10.0.0.7:5432: password authentication failed for user ledger")
}

type client struct {
	t     *testing.T
	srv   *httptest.Server
	token string
}

func newServer(t *testing.T, engine risk.Engine) (*fixture, *httptest.Server) {
	t.Helper()
	f := newFixture(t, engine)
	srv := httptest.NewServer(NewHandler(f.gw, nil))
	t.Cleanup(srv.Close)
	return f, srv
}

func (c *client) do(method, path string, body any) *http.Response {
	c.t.Helper()
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(c.t, err)
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, c.srv.URL+path, rd)
	require.NoError(c.t, err)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Correlation-Id", "corr-test")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.srv.Client().Do(req)
	require.NoError(c.t, err)
	c.t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decodeBody[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

// login returns a client bound to tenantID.
func login(t *testing.T, srv *httptest.Server, actorID, tenantID string) *client {
	t.Helper()
	c := &client{t: t, srv: srv}
	resp := c.do(http.MethodPost, "/v1/login", loginRequest{ActorID: actorID, Secret: secretFor(actorID)})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	c.token = decodeBody[LoginResult](t, resp).Token
	resp = c.do(http.MethodPost, "/v1/context", contextRequest{TenantID: tenantID})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	return c
}

func TestHTTP_AuthRequired(t *testing.T) {
	_, srv := newServer(t, nil)
	c := &client{t: t, srv: srv}

	resp := c.do(http.MethodGet, "/v1/tenants/org_001/audit-events", nil)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	body := decodeBody[ErrorBody](t, resp)
	assert.Equal(t, "AUTH_REQUIRED", body.Code)
	assert.Equal(t, "corr-test", body.CorrID)
	assert.Equal(t, "corr-test", resp.Header.Get("X-Correlation-Id"))

	resp = c.do(http.MethodPost, "/v1/login", loginRequest{ActorID: "analyst-1", Secret: "wrong"})
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	c.token = "not-a-jwt"
	resp = c.do(http.MethodGet, "/v1/tenants/org_001", nil)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestHTTP_CrossTenantIsForbidden(t *testing.T) {
	_, srv := newServer(t, nil)
	c := login(t, srv, "analyst-1", "org_001")

	resp := c.do(http.MethodPost, "/v1/tenants/org_001/findings", findingRequest{ID: "101", Category: "AML", Description: "Wire gaps", Severity: "high"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	created := decodeBody[domain.Finding](t, resp)
	assert.Equal(t, domain.SeverityHigh, created.Severity)

	for _, tc := range []struct{ method, path string }{
		{http.MethodGet, "/v1/tenants/org_002"},
		{http.MethodGet, "/v1/tenants/org_002/audit-events"},
		{http.MethodGet, "/v1/tenants/org_002/audit-chain/verify"},
		{http.MethodGet, "/v1/tenants/org_002/findings"},
		{http.MethodPost, "/v1/tenants/org_002/findings/101/verify"},
		{http.MethodGet, "/v1/tenants/org_002/reports"},
	} {
		resp := c.do(tc.method, tc.path, nil)
		require.Equal(t, http.StatusForbidden, resp.StatusCode, tc.path)
		body := decodeBody[ErrorBody](t, resp)
		assert.Equal(t, "ACCESS_DENIED", body.Code, tc.path)
		assert.False(t, body.Retryable)
	}

	resp = c.do(http.MethodPost, "/v1/context", contextRequest{TenantID: "org_002"})
	require.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestHTTP_RegulatorIsReadOnly(t *testing.T) {
	_, srv := newServer(t, nil)
	c := login(t, srv, "reg-1", "org_001")

	resp := c.do(http.MethodGet, "/v1/tenants/org_001/audit-events?limit=10", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	events := decodeBody[eventsResponse](t, resp)
	assert.NotEmpty(t, events.Events)

	resp = c.do(http.MethodGet, "/v1/tenants/org_001/audit-chain/verify", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, decodeBody[ledger.Verification](t, resp).OK)

	resp = c.do(http.MethodPost, "/v1/tenants/org_001/reports", reportRequest{Type: "AUDIT"})
	require.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Equal(t, "FORBIDDEN", decodeBody[ErrorBody](t, resp).Code)
}

func TestHTTP_HoldViolationAndAdditiveVerify(t *testing.T) {
	_, srv := newServer(t, nil)
	cco := login(t, srv, "cco-1", "org_001")

	resp := cco.do(http.MethodPost, "/v1/tenants/org_001/findings", findingRequest{ID: "101", Category: "AML", Description: "Wire gaps", Severity: "HIGH"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	resp = cco.do(http.MethodPost, "/v1/tenants/org_001/holds", holdRequest{Reason: "Subpoena received"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	desc := "rewritten"
	resp = cco.do(http.MethodPatch, "/v1/tenants/org_001/findings/101", editRequest{Description: &desc})
	require.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "HOLD_VIOLATION", decodeBody[ErrorBody](t, resp).Code)

	resp = cco.do(http.MethodPost, "/v1/tenants/org_001/findings/101/verify", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, domain.VerificationHumanVerified, decodeBody[domain.Finding](t, resp).Verification)

	resp = cco.do(http.MethodPost, "/v1/tenants/org_001/findings/101/verify", nil)
	require.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "ALREADY_VERIFIED", decodeBody[ErrorBody](t, resp).Code)

	resp = cco.do(http.MethodPost, "/v1/tenants/org_001/holds/lift", nil)
	require.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Equal(t, "DUAL_CUSTODY_REQUIRED", decodeBody[ErrorBody](t, resp).Code)

	resp = cco.do(http.MethodGet, "/v1/tenants/org_001/audit-events?action=LITIGATION_HOLD_ACTIVATED,FINDING_VERIFIED", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	events := decodeBody[eventsResponse](t, resp).Events
	require.Len(t, events, 2)
	assert.Equal(t, events[0].Seq+1, events[1].Seq)
}

func TestHTTP_ReportLifecycle(t *testing.T) {
	_, srv := newServer(t, nil)
	c := login(t, srv, "analyst-1", "org_001")

	resp := c.do(http.MethodPost, "/v1/tenants/org_001/reports", reportRequest{Type: "audit"})
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	a := decodeBody[domain.ReportArtifact](t, resp)
	assert.Equal(t, domain.PendingDigest, a.ContentDigest)

	require.Eventually(t, func() bool {
		resp := c.do(http.MethodGet, "/v1/tenants/org_001/reports/"+a.ID, nil)
		return resp.StatusCode == http.StatusOK && decodeBody[domain.ReportArtifact](t, resp).Status == domain.ReportCompleted
	}, 5*time.Second, 10*time.Millisecond)

	resp = c.do(http.MethodGet, "/v1/tenants/org_001/reports/"+a.ID+"/content", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
	assert.NotEmpty(t, resp.Header.Get("X-Content-Digest"))

	resp = c.do(http.MethodDelete, "/v1/tenants/org_001/reports/"+a.ID, nil)
	require.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp = c.do(http.MethodPost, "/v1/tenants/org_001/reports", reportRequest{Type: "QUARTERLY"})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "VALIDATION_ERROR", decodeBody[ErrorBody](t, resp).Code)

	resp = c.do(http.MethodGet, "/v1/tenants/org_001/reports/does-not-exist", nil)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestHTTP_Export(t *testing.T) {
	_, srv := newServer(t, nil)
	board := login(t, srv, "board-1", "org_001")

	resp := board.do(http.MethodPost, "/v1/tenants/org_001/exports", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/zip", resp.Header.Get("Content-Type"))
	assert.Len(t, resp.Header.Get("X-Package-Hash"), 64)

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	zr, err := zip.NewReader(bytes.NewReader(raw), int64(len(raw)))
	require.NoError(t, err)
	var names []string
	for _, f := range zr.File {
		names = append(names, f.Name)
	}
	assert.Contains(t, names, "manifest.json")
	assert.Contains(t, names, "audit/audit_events.json")
}

func TestHTTP_InternalErrorsDoNotLeak(t *testing.T) {
	_, srv := newServer(t, leakyEngine{})
	c := login(t, srv, "analyst-1", "org_001")

	resp := c.do(http.MethodPost, "/v1/tenants/org_001/assessments", map[string]string{"filing": "10-K"})
	require.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "password")
	assert.NotContains(t, string(raw), "10.0.0.7")
	assert.Contains(t, string(raw), `"code":"INTERNAL"`)
}

func TestHTTP_BadJSON(t *testing.T) {
	_, srv := newServer(t, nil)
	req, err := http.NewRequest(http.MethodPost, srv.URL+"/v1/login", strings.NewReader("{"))
	require.NoError(t, err)
	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "VALIDATION_ERROR", decodeBody[ErrorBody](t, resp).Code)
}

func TestHTTP_Logout(t *testing.T) {
	_, srv := newServer(t, nil)
	c := login(t, srv, "analyst-1", "org_001")

	resp := c.do(http.MethodPost, "/v1/logout", nil)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
	resp = c.do(http.MethodGet, "/v1/tenants/org_001/audit-events", nil)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}
