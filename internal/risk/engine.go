// Package risk is the client side of the external risk assessment engine.
// Scores are opaque: they are checked for shape and recorded, never
// recomputed.
package risk

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-retryablehttp"

	"github.com/yourorg/compliance-ledger/internal/config"
	"github.com/yourorg/compliance-ledger/internal/domain"
)

var ErrUnavailable = errors.New("risk engine unavailable")

// Factor is one contributor to an assessment score.
type Factor struct {
	Category string          `json:"category"`
	Score    int             `json:"score"`
	Severity domain.Severity `json:"severity"`
	Finding  string          `json:"finding"`
	Details  string          `json:"details,omitempty"`
}

type Assessment struct {
	ID         string    `json:"id"`
	TenantID   string    `json:"tenantId"`
	Score      int       `json:"score"`
	Factors    []Factor  `json:"factors"`
	Engine     string    `json:"engine"`
	AssessedAt time.Time `json:"assessedAt"`
}

// Validate checks the shape of an engine response.
func (a Assessment) Validate() error {
	if a.Score < 0 || a.Score > 100 {
		return domain.InvalidInput("score", "must be between 0 and 100")
	}
	for i, f := range a.Factors {
		if strings.TrimSpace(f.Category) == "" || strings.TrimSpace(f.Finding) == "" {
			return domain.InvalidInput(fmt.Sprintf("factors[%d]", i), "category and finding are required")
		}
		if !f.Severity.Valid() {
			return domain.InvalidInput(fmt.Sprintf("factors[%d].severity", i), "unknown severity")
		}
	}
	return nil
}

// Engine produces an assessment from filing data.
type Engine interface {
	Assess(ctx context.Context, tenantID string, filing json.RawMessage) (Assessment, error)
}

type Config struct {
	URL            string
	Token          string
	Timeout        time.Duration
	MaxRetries     int
	RetryBaseDelay time.Duration
}

func LoadConfig() Config {
	return Config{
		URL:            config.String("RISK_ENGINE_URL", ""),
		Token:          config.String("RISK_ENGINE_TOKEN", ""),
		Timeout:        config.Duration("RISK_ENGINE_TIMEOUT", 10*time.Second),
		MaxRetries:     config.Int("RISK_ENGINE_MAX_RETRIES", 3),
		RetryBaseDelay: config.Duration("RISK_ENGINE_RETRY_BASE_DELAY", 200*time.Millisecond),
	}
}

// New returns an HTTPEngine, or Unconfigured when no URL is set.
func New(cfg Config, logger *slog.Logger) Engine {
	if cfg.URL == "" {
		return Unconfigured{}
	}
	return NewHTTPEngine(cfg, nil, logger)
}

// HTTPEngine posts filings to a remote engine. Transport errors, 429 and
// 5xx responses are retried with exponential backoff by retryablehttp.
type HTTPEngine struct {
	cfg    Config
	client *retryablehttp.Client
	logger *slog.Logger
}

func NewHTTPEngine(cfg Config, client *http.Client, logger *slog.Logger) *HTTPEngine {
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 1
	}
	if cfg.RetryBaseDelay <= 0 {
		cfg.RetryBaseDelay = 200 * time.Millisecond
	}
	rc := retryablehttp.NewClient()
	rc.HTTPClient = client
	rc.Logger = logger
	rc.RetryMax = cfg.MaxRetries - 1
	rc.RetryWaitMin = cfg.RetryBaseDelay
	rc.RetryWaitMax = cfg.RetryBaseDelay << 4
	rc.ErrorHandler = retryablehttp.PassthroughErrorHandler
	return &HTTPEngine{cfg: cfg, client: rc, logger: logger}
}

type assessRequest struct {
	TenantID string          `json:"tenantId"`
	Filing   json.RawMessage `json:"filing"`
}

type assessResponse struct {
	ID      string   `json:"id"`
	Score   int      `json:"score"`
	Factors []Factor `json:"factors"`
}

func (e *HTTPEngine) Assess(ctx context.Context, tenantID string, filing json.RawMessage) (Assessment, error) {
	if len(filing) == 0 {
		filing = json.RawMessage("{}")
	}
	body, err := json.Marshal(assessRequest{TenantID: tenantID, Filing: filing})
	if err != nil {
		return Assessment{}, domain.InvalidInput("filing", "must be valid JSON")
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(e.cfg.URL, "/")+"/assess", body)
	if err != nil {
		return Assessment{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	if e.cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+e.cfg.Token)
	}
	if corrID := domain.CorrelationIDFromContext(ctx); corrID != "" {
		req.Header.Set("X-Correlation-Id", corrID)
	}
	resp, err := e.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return Assessment{}, ctx.Err()
		}
		return Assessment{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return Assessment{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if resp.StatusCode >= 400 {
		e.logger.Warn("risk engine rejected assessment", "tenantId", tenantID, "status", resp.StatusCode)
		return Assessment{}, fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	}

	var out assessResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return Assessment{}, fmt.Errorf("%w: decode: %v", ErrUnavailable, err)
	}
	a := Assessment{
		ID:         out.ID,
		TenantID:   tenantID,
		Score:      out.Score,
		Factors:    out.Factors,
		Engine:     e.cfg.URL,
		AssessedAt: time.Now().UTC(),
	}
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if err := a.Validate(); err != nil {
		return Assessment{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return a, nil
}

// Unconfigured rejects every assessment.
type Unconfigured struct{}

func (Unconfigured) Assess(context.Context, string, json.RawMessage) (Assessment, error) {
	return Assessment{}, fmt.Errorf("%w: RISK_ENGINE_URL not set", ErrUnavailable)
}

// Static returns a fixed result; useful for local runs and tests.
type Static struct {
	Result Assessment
}

func (s Static) Assess(_ context.Context, tenantID string, _ json.RawMessage) (Assessment, error) {
	a := s.Result
	a.TenantID = tenantID
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.Engine == "" {
		a.Engine = "static"
	}
	if a.AssessedAt.IsZero() {
		a.AssessedAt = time.Now().UTC()
	}
	return a, a.Validate()
}
