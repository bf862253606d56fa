// Package cves defines the Kafka event contracts for CVE ingestion.
package cves

import (
	"time"

	"github.com/ortelius/cvefeed-backend/model"
)

// Event types and schema version.
const (
	IngestCompletedEvent = "cve.ingest.completed"
	IngestRequestedEvent = "cve.ingest.requested"
	SchemaVersion        = "v1"
)

// IngestCompleted is published after every ingestion cycle.
type IngestCompleted struct {
	EventType     string    `json:"event_type"`
	EventID       string    `json:"event_id"`
	EventTime     time.Time `json:"event_time"`
	SchemaVersion string    `json:"schema_version"`

	Report model.IngestReport `json:"report"`
}

// IngestRequested asks a worker to run an ingestion cycle.
type IngestRequested struct {
	EventType     string    `json:"event_type"`
	EventID       string    `json:"event_id"`
	EventTime     time.Time `json:"event_time"`
	SchemaVersion string    `json:"schema_version"`

	// RequestedBy identifies the caller for logging
	RequestedBy string `json:"requested_by,omitempty"`
}
