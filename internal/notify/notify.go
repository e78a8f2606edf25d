// Package notify delivers operator alerts and job notices.
package notify

import (
	"context"
	"log/slog"
	"time"
)

const (
	KindChainBroken     = "CHAIN_BROKEN"
	KindReportCompleted = "REPORT_COMPLETED"
	KindReportFailed    = "REPORT_FAILED"
)

const (
	SeverityCritical = "critical"
	SeverityInfo     = "info"
)

// Notification is a single message for operators or subscribed clients.
type Notification struct {
	Kind       string            `json:"kind"`
	Severity   string            `json:"severity"`
	TenantID   string            `json:"tenantId"`
	Subject    string            `json:"subject"`
	Attributes map[string]string `json:"attributes,omitempty"`
	At         time.Time         `json:"at"`
}

// Publisher sends notifications. Implementations must be safe for
// concurrent use.
type Publisher interface {
	Publish(ctx context.Context, n Notification) error
}

// LogPublisher writes notifications to a structured logger. It is the
// fallback when no broker is configured.
type LogPublisher struct {
	logger *slog.Logger
}

func NewLogPublisher(logger *slog.Logger) *LogPublisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogPublisher{logger: logger}
}

func (p *LogPublisher) Publish(ctx context.Context, n Notification) error {
	level := slog.LevelInfo
	if n.Severity == SeverityCritical {
		level = slog.LevelError
	}
	attrs := []any{"kind", n.Kind, "tenantId", n.TenantID, "subject", n.Subject}
	for k, v := range n.Attributes {
		attrs = append(attrs, k, v)
	}
	p.logger.Log(ctx, level, "notification", attrs...)
	return nil
}

// Discard drops every notification.
type Discard struct{}

func (Discard) Publish(context.Context, Notification) error { return nil }
