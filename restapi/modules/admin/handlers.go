// Package admin implements the REST API handlers for admin operations.
// It provides endpoints to trigger CVE ingestion and monitor its status.
package admin

import (
	"context"
	"errors"

	"github.com/gofiber/fiber/v2"

	"github.com/ortelius/cvefeed-backend/internal/ingest"
)

// IngestRunner starts ingestion cycles and reports their status.
type IngestRunner interface {
	Start(ctx context.Context) error
	Status() ingest.Status
}

// PostIngest triggers an ingestion cycle in the background
func PostIngest(runner IngestRunner) fiber.Handler {
	return func(c *fiber.Ctx) error {
		// the cycle outlives the request
		err := runner.Start(context.Background())
		if errors.Is(err, ingest.ErrCycleInProgress) {
			return c.Status(fiber.StatusConflict).JSON(fiber.Map{
				"success": false,
				"message": "Ingestion already in progress",
				"status":  runner.Status(),
			})
		}
		if err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"success": false,
				"message": err.Error(),
			})
		}

		return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
			"success": true,
			"message": "Ingestion cycle started",
			"status":  "processing",
		})
	}
}

// GetIngestStatus returns whether a cycle is running and the last report
func GetIngestStatus(runner IngestRunner) fiber.Handler {
	return func(c *fiber.Ctx) error {
		return c.JSON(runner.Status())
	}
}
