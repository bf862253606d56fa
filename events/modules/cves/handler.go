package cves

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/ortelius/cvefeed-backend/internal/ingest"
)

// CycleStarter starts an ingestion cycle in the background.
type CycleStarter interface {
	Start(ctx context.Context) error
}

// HandleIngestRequested processes an ingestion request event. A request that
// arrives while a cycle is running is acknowledged without starting another.
func HandleIngestRequested(ctx context.Context, msg []byte, starter CycleStarter, logger *zap.Logger) error {
	var event IngestRequested
	if err := json.Unmarshal(msg, &event); err != nil {
		return fmt.Errorf("failed to unmarshal IngestRequested: %w", err)
	}
	if event.EventType != "" && event.EventType != IngestRequestedEvent {
		return fmt.Errorf("unexpected event type %q", event.EventType)
	}

	err := starter.Start(ctx)
	switch {
	case errors.Is(err, ingest.ErrCycleInProgress):
		logger.Info("Ingestion already running, request coalesced",
			zap.String("event_id", event.EventID), zap.String("requested_by", event.RequestedBy))
		return nil
	case err != nil:
		return fmt.Errorf("failed to start ingestion: %w", err)
	}

	logger.Info("Ingestion started from event",
		zap.String("event_id", event.EventID), zap.String("requested_by", event.RequestedBy))
	return nil
}
