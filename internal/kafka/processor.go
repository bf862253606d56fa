// Package kafka wires the CVE ingestion events to Kafka.
package kafka

import (
	"context"
	"crypto/tls"
	"errors"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/segmentio/kafka-go/sasl/plain"
	"go.uber.org/zap"

	cves "github.com/ortelius/cvefeed-backend/events/modules/cves"
	"github.com/ortelius/cvefeed-backend/internal/config"
)

// MessageReader is the part of kafka.Reader the consumer uses.
type MessageReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
	Close() error
}

// NewDialer returns a dialer that uses SASL/PLAIN over TLS when credentials
// are configured, and a plain connection otherwise.
func NewDialer(cfg config.KafkaConfig) *kafka.Dialer {
	dialer := &kafka.Dialer{
		Timeout:   10 * time.Second,
		DualStack: true,
	}
	if cfg.APIKey != "" && cfg.APISecret != "" {
		dialer.SASLMechanism = plain.Mechanism{Username: cfg.APIKey, Password: cfg.APISecret}
		dialer.TLS = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	return dialer
}

// NewTransport returns the writer transport matching NewDialer, or nil for
// the library default.
func NewTransport(cfg config.KafkaConfig) kafka.RoundTripper {
	if cfg.APIKey == "" || cfg.APISecret == "" {
		return nil
	}
	return &kafka.Transport{
		SASL: plain.Mechanism{Username: cfg.APIKey, Password: cfg.APISecret},
		TLS:  &tls.Config{MinVersion: tls.VersionTLS12},
	}
}

// RunEventProcessor checks broker connectivity, then consumes ingestion
// requests in the background until ctx is done.
func RunEventProcessor(ctx context.Context, cfg config.KafkaConfig, starter cves.CycleStarter, logger *zap.Logger) error {
	if !cfg.Enabled() {
		return errors.New("no Kafka brokers configured")
	}
	dialer := NewDialer(cfg)

	var err error
	for i := 1; i <= 3; i++ {
		logger.Info("Kafka connection attempt", zap.Int("attempt", i), zap.Int("of", 3))
		var conn *kafka.Conn
		conn, err = dialer.DialContext(ctx, "tcp", cfg.Brokers[0])
		if err == nil {
			conn.Close()
			break
		}
		if i < 3 {
			time.Sleep(2 * time.Second)
		}
	}
	if err != nil {
		return err
	}

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  cfg.Brokers,
		GroupID:  cfg.GroupID,
		Topic:    cfg.RequestTopic,
		MaxBytes: 10e6,
		Dialer:   dialer,
	})

	go Consume(ctx, reader, starter, logger)
	return nil
}

// Consume reads ingestion requests from reader until ctx is done, then
// closes the reader.
func Consume(ctx context.Context, reader MessageReader, starter cves.CycleStarter, logger *zap.Logger) {
	defer reader.Close()
	logger.Info("Kafka event processor started, listening for ingestion requests")

	for {
		msg, err := reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Warn("Failed to read Kafka message", zap.Error(err))
			continue
		}
		if err := cves.HandleIngestRequested(ctx, msg.Value, starter, logger); err != nil {
			logger.Warn("Failed to handle ingestion request",
				zap.Int64("offset", msg.Offset), zap.Error(err))
		}
	}
}
