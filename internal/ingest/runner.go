package ingest

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ortelius/cvefeed-backend/model"
)

// ErrCycleInProgress is returned when a cycle is requested while one is running.
var ErrCycleInProgress = errors.New("ingestion cycle already in progress")

// Cycler runs one ingestion cycle.
type Cycler interface {
	RunCycle(ctx context.Context) (*Report, error)
}

// StatusRecorder persists the latest cycle report.
type StatusRecorder interface {
	SaveIngestReport(ctx context.Context, report model.IngestReport) error
}

// Publisher announces finished cycles.
type Publisher interface {
	PublishIngestReport(ctx context.Context, report model.IngestReport) error
}

// Status is the runner's externally visible state.
type Status struct {
	Running    bool                `json:"running"`
	LastReport *model.IngestReport `json:"last_report,omitempty"`
}

// Runner serialises ingestion cycles within the process and fans their
// reports out to the configured recorder and publisher.
type Runner struct {
	cycler    Cycler
	recorder  StatusRecorder
	publisher Publisher
	logger    *zap.Logger

	cycle sync.Mutex

	mu      sync.RWMutex
	running bool
	last    *model.IngestReport
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithRecorder persists every report through rec.
func WithRecorder(rec StatusRecorder) RunnerOption {
	return func(r *Runner) { r.recorder = rec }
}

// WithPublisher announces every report through pub.
func WithPublisher(pub Publisher) RunnerOption {
	return func(r *Runner) { r.publisher = pub }
}

// WithLastReport seeds the status with a previously saved report.
func WithLastReport(report *model.IngestReport) RunnerOption {
	return func(r *Runner) { r.last = report }
}

// NewRunner returns a runner for cycler.
func NewRunner(cycler Cycler, logger *zap.Logger, opts ...RunnerOption) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Runner{cycler: cycler, logger: logger}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run executes one cycle and waits for it. It returns ErrCycleInProgress
// without waiting if another cycle holds the runner.
func (r *Runner) Run(ctx context.Context) (*Report, error) {
	if !r.cycle.TryLock() {
		return nil, ErrCycleInProgress
	}
	defer r.cycle.Unlock()
	return r.run(ctx)
}

// Start launches one cycle in the background.
func (r *Runner) Start(ctx context.Context) error {
	if !r.cycle.TryLock() {
		return ErrCycleInProgress
	}
	r.setRunning(true)
	go func() {
		defer r.cycle.Unlock()
		_, _ = r.run(ctx)
	}()
	return nil
}

// Schedule runs a cycle every interval until ctx is done. Ticks that land
// while a cycle is still running are skipped.
func (r *Runner) Schedule(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := r.Run(ctx); errors.Is(err, ErrCycleInProgress) {
				r.logger.Debug("Skipping scheduled ingestion, previous cycle still running")
			}
		}
	}
}

// Status returns whether a cycle is running and the last report.
func (r *Runner) Status() Status {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s := Status{Running: r.running}
	if r.last != nil {
		last := *r.last
		s.LastReport = &last
	}
	return s
}

func (r *Runner) setRunning(running bool) {
	r.mu.Lock()
	r.running = running
	r.mu.Unlock()
}

func (r *Runner) run(ctx context.Context) (*Report, error) {
	r.setRunning(true)
	report, err := r.cycler.RunCycle(ctx)

	r.mu.Lock()
	r.running = false
	if report != nil {
		last := report.IngestReport
		r.last = &last
	}
	r.mu.Unlock()

	if report == nil {
		return report, err
	}

	if r.recorder != nil {
		if recErr := r.recorder.SaveIngestReport(ctx, report.IngestReport); recErr != nil {
			r.logger.Warn("Failed to save ingestion report", zap.Error(recErr))
		}
	}
	if r.publisher != nil {
		if pubErr := r.publisher.PublishIngestReport(ctx, report.IngestReport); pubErr != nil {
			r.logger.Warn("Failed to publish ingestion report", zap.Error(pubErr))
		}
	}
	return report, err
}
