package cves

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"

	"github.com/ortelius/cvefeed-backend/model"
)

// MessageWriter is the part of kafka.Writer the producer uses.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// ReportProducer publishes ingestion reports to Kafka
type ReportProducer struct {
	Writer MessageWriter
}

// NewReportProducer initializes a Kafka writer for report events
func NewReportProducer(brokers []string, topic string, transport kafka.RoundTripper) *ReportProducer {
	return &ReportProducer{
		Writer: &kafka.Writer{
			Addr:      kafka.TCP(brokers...),
			Topic:     topic,
			Balancer:  &kafka.LeastBytes{},
			Transport: transport,
		},
	}
}

// PublishIngestReport sends a cve.ingest.completed event
func (p *ReportProducer) PublishIngestReport(ctx context.Context, report model.IngestReport) error {
	event := IngestCompleted{
		EventType:     IngestCompletedEvent,
		EventID:       uuid.New().String(),
		EventTime:     time.Now().UTC(),
		SchemaVersion: SchemaVersion,
		Report:        report,
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}

	return p.Writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(IngestCompletedEvent),
		Value: payload,
	})
}

// Close cleans up the Kafka writer
func (p *ReportProducer) Close() error {
	return p.Writer.Close()
}
