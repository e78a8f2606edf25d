package notify

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/segmentio/kafka-go/sasl/plain"

	"github.com/yourorg/compliance-ledger/internal/config"
)

// KafkaConfig configures the broker publisher.
type KafkaConfig struct {
	Brokers      []string
	Topic        string
	Username     string
	Password     string
	UseTLS       bool
	WriteTimeout time.Duration
}

// LoadKafkaConfig reads KAFKA_* variables. An empty Brokers list disables
// the broker publisher.
func LoadKafkaConfig() KafkaConfig {
	return KafkaConfig{
		Brokers:      config.List("KAFKA_BROKERS", nil),
		Topic:        config.String("KAFKA_TOPIC", "compliance-ledger.notifications"),
		Username:     config.String("KAFKA_USERNAME", ""),
		Password:     config.String("KAFKA_PASSWORD", ""),
		UseTLS:       config.Bool("KAFKA_TLS", false),
		WriteTimeout: config.Duration("KAFKA_WRITE_TIMEOUT", 10*time.Second),
	}
}

// KafkaPublisher writes notifications to a topic keyed by tenant, so one
// tenant's notices stay ordered within a partition.
type KafkaPublisher struct {
	writer *kafka.Writer
	logger *slog.Logger
}

func NewKafkaPublisher(cfg KafkaConfig, logger *slog.Logger) *KafkaPublisher {
	if logger == nil {
		logger = slog.Default()
	}
	transport := &kafka.Transport{}
	if cfg.Username != "" {
		transport.SASL = plain.Mechanism{Username: cfg.Username, Password: cfg.Password}
	}
	if cfg.UseTLS {
		transport.TLS = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	return &KafkaPublisher{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(cfg.Brokers...),
			Topic:        cfg.Topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireAll,
			Async:        false,
			Transport:    transport,
			WriteTimeout: cfg.WriteTimeout,
		},
		logger: logger,
	}
}

func (p *KafkaPublisher) Publish(ctx context.Context, n Notification) error {
	if p == nil || p.writer == nil {
		return nil
	}
	if n.At.IsZero() {
		n.At = time.Now().UTC()
	}
	value, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("notify: encode %s: %w", n.Kind, err)
	}
	if err := p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(n.TenantID),
		Value: value,
		Time:  n.At,
		Headers: []kafka.Header{
			{Key: "kind", Value: []byte(n.Kind)},
			{Key: "severity", Value: []byte(n.Severity)},
		},
	}); err != nil {
		p.logger.Error("kafka publish failed", "kind", n.Kind, "tenantId", n.TenantID, "error", err)
		return fmt.Errorf("notify: publish %s: %w", n.Kind, err)
	}
	return nil
}

func (p *KafkaPublisher) Close() error {
	if p == nil || p.writer == nil {
		return nil
	}
	return p.writer.Close()
}
