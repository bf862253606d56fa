package ingest

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ortelius/cvefeed-backend/internal/upstream"
	"github.com/ortelius/cvefeed-backend/model"
)

// RecordFetcher returns the raw upstream JSON for one record.
type RecordFetcher interface {
	FetchRecord(ctx context.Context, id string) ([]byte, error)
}

// Outcome is the result of fetching and normalizing one identity: either
// Record is set or Reason explains the failure. Retryable is set for fetch
// failures other than a missing record; bad records and panics stay failed.
type Outcome struct {
	ID        string
	Record    *model.CVE
	Reason    string
	Retryable bool
}

// OK reports whether the record was fetched and normalized.
func (o Outcome) OK() bool { return o.Record != nil }

// Pool fetches records in fixed-size batches with bounded concurrency.
type Pool struct {
	fetcher   RecordFetcher
	workers   int
	batchSize int
	logger    *zap.Logger
}

// NewPool returns a pool running at most workers fetches at a time.
func NewPool(fetcher RecordFetcher, workers, batchSize int, logger *zap.Logger) *Pool {
	if workers < 1 {
		workers = 1
	}
	if batchSize < 1 {
		batchSize = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pool{fetcher: fetcher, workers: workers, batchSize: batchSize, logger: logger}
}

// Run fetches ids batch by batch. Every fetch in a batch finishes before
// onBatch receives the batch's outcomes, in input order. Per-record failures
// are reported as outcomes; only an onBatch error stops the run.
func (p *Pool) Run(ctx context.Context, ids []string, onBatch func(context.Context, []Outcome) error) error {
	for start := 0; start < len(ids); start += p.batchSize {
		end := start + p.batchSize
		if end > len(ids) {
			end = len(ids)
		}

		outcomes := p.fetchBatch(ctx, ids[start:end])
		if err := onBatch(ctx, outcomes); err != nil {
			return err
		}
	}
	return nil
}

func (p *Pool) fetchBatch(ctx context.Context, ids []string) []Outcome {
	outcomes := make([]Outcome, len(ids))

	var g errgroup.Group
	g.SetLimit(p.workers)
	for i, id := range ids {
		g.Go(func() error {
			outcomes[i] = p.fetchOne(ctx, id)
			return nil
		})
	}
	_ = g.Wait()

	return outcomes
}

func (p *Pool) fetchOne(ctx context.Context, id string) (out Outcome) {
	out.ID = id
	defer func() {
		if r := recover(); r != nil {
			out = Outcome{ID: id, Reason: fmt.Sprintf("panic: %v", r)}
		}
		if !out.OK() {
			p.logger.Warn("Failed to ingest record", zap.String("cve_id", id), zap.String("reason", out.Reason))
		}
	}()

	raw, err := p.fetcher.FetchRecord(ctx, id)
	if err != nil {
		out.Reason = err.Error()
		out.Retryable = !errors.Is(err, upstream.ErrNotFound)
		return out
	}
	cve, err := Normalize(id, raw)
	if err != nil {
		out.Reason = "normalization failed: " + err.Error()
		return out
	}
	out.Record = &cve
	return out
}
