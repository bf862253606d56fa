package ingest

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/ortelius/cvefeed-backend/model"
)

// Store is the storage side of ingestion.
type Store interface {
	// LatestDatePublic returns the newest stored date_public, or "" when empty.
	LatestDatePublic(ctx context.Context) (string, error)
	// InsertCVEs upserts by identity.
	InsertCVEs(ctx context.Context, cves []model.CVE) (inserted, replaced int, err error)
	// ReplaceCVEs replaces by identity and skips identities that are not stored.
	ReplaceCVEs(ctx context.Context, cves []model.CVE) (matched int, err error)
}

// CheckpointStore remembers the newest commit fully ingested. Stores that
// implement it let a cycle skip commits a previous cycle already applied.
type CheckpointStore interface {
	LoadCommitCheckpoint(ctx context.Context) (time.Time, error)
	SaveCommitCheckpoint(ctx context.Context, t time.Time) error
}

// Refresher is implemented by commit logs that must be brought up to date
// before they are read, such as a local clone of the feed.
type Refresher interface {
	Refresh(ctx context.Context) error
}

// Config tunes an ingestion cycle.
type Config struct {
	Epoch        time.Time
	PageSize     int
	MaxPages     int
	BatchSize    int
	Workers      int
	CommitAuthor string
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		Epoch:     time.Date(1999, 1, 1, 0, 0, 0, 0, time.UTC),
		PageSize:  100,
		MaxPages:  1000,
		BatchSize: 100,
		Workers:   10,
	}
}

// Pipeline runs ingestion cycles.
type Pipeline struct {
	store   Store
	log     CommitLog
	scanner *Scanner
	pool    *Pool
	epoch   time.Time
	logger  *zap.Logger
}

// NewPipeline wires a pipeline from its capabilities.
func NewPipeline(store Store, log CommitLog, fetcher RecordFetcher, cfg Config, logger *zap.Logger) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	defaults := DefaultConfig()
	if cfg.PageSize <= 0 {
		cfg.PageSize = defaults.PageSize
	}
	if cfg.MaxPages <= 0 {
		cfg.MaxPages = defaults.MaxPages
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaults.BatchSize
	}
	if cfg.Workers <= 0 {
		cfg.Workers = defaults.Workers
	}
	if cfg.Epoch.IsZero() {
		cfg.Epoch = defaults.Epoch
	}
	return &Pipeline{
		store:   store,
		log:     log,
		scanner: NewScanner(log, cfg.PageSize, cfg.MaxPages, cfg.CommitAuthor, logger),
		pool:    NewPool(fetcher, cfg.Workers, cfg.BatchSize, logger),
		epoch:   cfg.Epoch,
		logger:  logger,
	}
}

// watermark is the newer of the stored date_public and the commit checkpoint.
func (p *Pipeline) watermark(ctx context.Context) (time.Time, error) {
	since := p.epoch

	latest, err := p.store.LatestDatePublic(ctx)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to read watermark: %w", err)
	}
	if latest != "" {
		t, err := model.ParseTimestamp(latest)
		if err != nil {
			return time.Time{}, fmt.Errorf("failed to read watermark: %w", err)
		}
		since = t
	}

	if cp, ok := p.store.(CheckpointStore); ok {
		t, err := cp.LoadCommitCheckpoint(ctx)
		if err != nil {
			return time.Time{}, fmt.Errorf("failed to read commit checkpoint: %w", err)
		}
		if t.After(since) {
			since = t
		}
	}
	return since, nil
}

// RunCycle performs one ingestion cycle. The returned error is fatal (the
// watermark, the commit log or a storage write failed); per-record failures
// are carried in the report instead.
func (p *Pipeline) RunCycle(ctx context.Context) (*Report, error) {
	report := &Report{}
	report.StartedAt = time.Now().UTC()

	since, err := p.watermark(ctx)
	if err != nil {
		return p.abort(report, err)
	}
	report.Watermark = model.FormatTimestamp(since)
	p.logger.Info("Starting ingestion cycle", zap.String("watermark", report.Watermark))

	if r, ok := p.log.(Refresher); ok {
		if err := r.Refresh(ctx); err != nil {
			return p.abort(report, fmt.Errorf("failed to refresh commit log: %w", err))
		}
	}

	scan, err := p.scanner.Scan(ctx, since)
	if err != nil {
		return p.abort(report, err)
	}
	report.CommitsScanned = scan.CommitsScanned
	report.SkippedCommits = scan.Skipped
	report.ToInsert = len(scan.ToInsert)
	report.ToUpdate = len(scan.ToUpdate)
	p.logger.Info("Classified commits",
		zap.Int("commits", scan.CommitsScanned),
		zap.Int("new", len(scan.ToInsert)),
		zap.Int("updated", len(scan.ToUpdate)),
		zap.Int("skipped", len(scan.Skipped)))

	if err := p.pool.Run(ctx, scan.ToUpdate, p.reconcileUpdates(report)); err != nil {
		return p.abort(report, err)
	}
	if err := p.pool.Run(ctx, scan.ToInsert, p.reconcileInserts(report)); err != nil {
		return p.abort(report, err)
	}

	// Records that are missing upstream or cannot be normalized will not
	// recover on a rescan, so only retryable failures hold the checkpoint.
	if cp, ok := p.store.(CheckpointStore); ok && !report.Retryable() && scan.Newest.After(since) {
		if err := cp.SaveCommitCheckpoint(ctx, scan.Newest); err != nil {
			p.logger.Warn("Failed to save commit checkpoint", zap.Error(err))
		}
	}

	report.FinishedAt = time.Now().UTC()
	p.logger.Info("Ingestion cycle complete",
		zap.Int("inserted", report.Inserted),
		zap.Int("replaced", report.Replaced),
		zap.Int("updated", report.Updated),
		zap.Int("unmatched", report.Unmatched),
		zap.Int("failed", len(report.Failed)),
		zap.Duration("elapsed", report.FinishedAt.Sub(report.StartedAt)))
	return report, nil
}

func (p *Pipeline) abort(report *Report, err error) (*Report, error) {
	report.FinishedAt = time.Now().UTC()
	report.Error = err.Error()
	p.logger.Error("Ingestion cycle failed", zap.Error(err))
	return report, err
}

func split(report *Report, outcomes []Outcome) []model.CVE {
	records := make([]model.CVE, 0, len(outcomes))
	for _, o := range outcomes {
		if !o.OK() {
			report.addFailure(o)
			continue
		}
		records = append(records, *o.Record)
	}
	return records
}

func (p *Pipeline) reconcileUpdates(report *Report) func(context.Context, []Outcome) error {
	return func(ctx context.Context, outcomes []Outcome) error {
		records := split(report, outcomes)
		matched, err := p.store.ReplaceCVEs(ctx, records)
		if err != nil {
			return fmt.Errorf("failed to replace updated records: %w", err)
		}
		report.Updated += matched
		report.Unmatched += len(records) - matched
		return nil
	}
}

func (p *Pipeline) reconcileInserts(report *Report) func(context.Context, []Outcome) error {
	return func(ctx context.Context, outcomes []Outcome) error {
		records := split(report, outcomes)
		inserted, replaced, err := p.store.InsertCVEs(ctx, records)
		if err != nil {
			return fmt.Errorf("failed to insert new records: %w", err)
		}
		report.Inserted += inserted
		report.Replaced += replaced
		return nil
	}
}
