package ingest

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ortelius/cvefeed-backend/database"
	"github.com/ortelius/cvefeed-backend/internal/upstream"
	"github.com/ortelius/cvefeed-backend/model"
)

func newTestPipeline(store Store, log CommitLog, fetcher RecordFetcher) *Pipeline {
	return NewPipeline(store, log, fetcher, Config{PageSize: 2, BatchSize: 2, Workers: 2}, nil)
}

func TestRunCycle(t *testing.T) {
	store := database.NewMemoryStore(model.CVE{CveID: "CVE-2024-0001", DatePublic: "2024-06-01T00:00:00.000Z"})
	log := &fakeLog{commits: []upstream.Commit{
		commit("c3", at(3, 0), "  - 1 updated CVEs: CVE-2024-0001"),
		commit("c2", at(2, 12), "  - 1 updated CVEs: CVE-2024-0099"),
		commit("c1", at(2, 0), "  - 2 new CVEs: CVE-2024-0002, CVE-2024-0003"),
	}}
	fetcher := &fakeFetcher{records: map[string][]byte{
		"CVE-2024-0001": record("CVE-2024-0001", "2024-06-01T00:00:00.000Z", "CRITICAL"),
		"CVE-2024-0002": record("CVE-2024-0002", "2024-06-20T00:00:00.000Z", "LOW"),
		"CVE-2024-0099": record("CVE-2024-0099", "2024-06-21T00:00:00.000Z", "LOW"),
	}}

	report, err := newTestPipeline(store, log, fetcher).RunCycle(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "2024-06-01T00:00:00.000Z", report.Watermark)
	assert.Equal(t, 3, report.CommitsScanned)
	assert.Equal(t, 2, report.ToInsert)
	assert.Equal(t, 2, report.ToUpdate)
	assert.Equal(t, 1, report.Inserted)
	assert.Equal(t, 1, report.Updated)
	assert.Equal(t, 1, report.Unmatched)
	assert.Equal(t, []string{"CVE-2024-0003"}, report.FailedIDs())
	assert.Error(t, report.Err())
	assert.Empty(t, report.Error)

	updated, err := store.GetCVE(context.Background(), "CVE-2024-0001")
	require.NoError(t, err)
	require.NotNil(t, updated.Metrics)
	assert.Equal(t, "CRITICAL", updated.Metrics.BaseSeverity)

	unmatched, err := store.GetCVE(context.Background(), "CVE-2024-0099")
	require.NoError(t, err)
	assert.Nil(t, unmatched)

	assert.Equal(t, 2, store.Len())

	// a record missing upstream does not hold the checkpoint back
	assert.False(t, report.Retryable())
	checkpoint, err := store.LoadCommitCheckpoint(context.Background())
	require.NoError(t, err)
	assert.Equal(t, at(3, 0), checkpoint)
}

func TestRunCycleDoesNotRepeatPermanentFailures(t *testing.T) {
	store := database.NewMemoryStore()
	log := &fakeLog{commits: []upstream.Commit{
		commit("c2", at(3, 0), "  - 1 new CVEs: CVE-2024-0404"),
		commit("c1", at(2, 0), "  - 1 new CVEs: CVE-2024-0001\n  - 1 updated CVEs: CVE-2024-0500"),
	}}
	fetcher := &fakeFetcher{records: map[string][]byte{
		"CVE-2024-0001": record("CVE-2024-0001", "2024-06-01T00:00:00.000Z", "HIGH"),
		"CVE-2024-0500": []byte(`{"containers": {}}`),
	}}
	pipeline := newTestPipeline(store, log, fetcher)

	first, err := pipeline.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, first.Inserted)
	assert.ElementsMatch(t, []string{"CVE-2024-0404", "CVE-2024-0500"}, first.FailedIDs())
	assert.False(t, first.Retryable())

	fetched := fetcher.callCount()

	for cycle := 2; cycle <= 3; cycle++ {
		report, err := pipeline.RunCycle(context.Background())
		require.NoError(t, err, "cycle %d", cycle)
		assert.Equal(t, "2024-07-03T00:00:00.000Z", report.Watermark, "cycle %d", cycle)
		assert.Equal(t, 0, report.CommitsScanned, "cycle %d", cycle)
		assert.Equal(t, 0, report.Inserted, "cycle %d", cycle)
		assert.Equal(t, 0, report.Replaced, "cycle %d", cycle)
		assert.Equal(t, 0, report.Updated, "cycle %d", cycle)
		assert.Empty(t, report.Failed, "cycle %d", cycle)
	}
	assert.Equal(t, fetched, fetcher.callCount())
}

func TestRunCycleRetriesTransientFailures(t *testing.T) {
	store := database.NewMemoryStore()
	log := &fakeLog{commits: []upstream.Commit{
		commit("c2", at(3, 0), "  - 1 new CVEs: CVE-2024-0003"),
		commit("c1", at(2, 0), "  - 1 new CVEs: CVE-2024-0001"),
	}}
	fetcher := &fakeFetcher{
		records: map[string][]byte{
			"CVE-2024-0001": record("CVE-2024-0001", "2024-06-01T00:00:00.000Z", "HIGH"),
			"CVE-2024-0003": record("CVE-2024-0003", "2024-06-03T00:00:00.000Z", "LOW"),
		},
		errs: map[string]error{"CVE-2024-0003": errUnavailable},
	}
	pipeline := newTestPipeline(store, log, fetcher)

	first, err := pipeline.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, first.Inserted)
	assert.Equal(t, []string{"CVE-2024-0003"}, first.FailedIDs())
	assert.True(t, first.Retryable())

	checkpoint, err := store.LoadCommitCheckpoint(context.Background())
	require.NoError(t, err)
	assert.True(t, checkpoint.IsZero())

	fetcher.mu.Lock()
	fetcher.errs = nil
	fetcher.mu.Unlock()

	second, err := pipeline.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "2024-06-01T00:00:00.000Z", second.Watermark)
	assert.Equal(t, 1, second.Inserted)
	assert.Equal(t, 1, second.Replaced)
	assert.Empty(t, second.Failed)
	assert.Equal(t, 2, store.Len())
}

func TestRunCycleIsIdempotent(t *testing.T) {
	store := database.NewMemoryStore()
	log := &fakeLog{commits: []upstream.Commit{
		commit("c2", at(3, 0), "  - 1 new CVEs: CVE-2024-0002\n  - 1 updated CVEs: CVE-2024-0001"),
		commit("c1", at(2, 0), "  - 1 new CVEs: CVE-2024-0001"),
	}}
	fetcher := &fakeFetcher{records: map[string][]byte{
		"CVE-2024-0001": record("CVE-2024-0001", "2024-06-01T00:00:00.000Z", "HIGH"),
		"CVE-2024-0002": record("CVE-2024-0002", "2024-06-02T00:00:00.000Z", "HIGH"),
	}}
	pipeline := newTestPipeline(store, log, fetcher)

	first, err := pipeline.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, first.Inserted)
	assert.Equal(t, 0, first.Updated)
	assert.NoError(t, first.Err())

	fetched := fetcher.callCount()

	second, err := pipeline.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "2024-07-03T00:00:00.000Z", second.Watermark)
	assert.Equal(t, 0, second.CommitsScanned)
	assert.Equal(t, 0, second.Inserted)
	assert.Equal(t, 0, second.Replaced)
	assert.Equal(t, 0, second.Updated)
	assert.Equal(t, fetched, fetcher.callCount())
	assert.Equal(t, 2, store.Len())
}

type failingStore struct {
	*database.MemoryStore
	latestErr error
	insertErr error
}

func (s *failingStore) LatestDatePublic(ctx context.Context) (string, error) {
	if s.latestErr != nil {
		return "", s.latestErr
	}
	return s.MemoryStore.LatestDatePublic(ctx)
}

func (s *failingStore) InsertCVEs(ctx context.Context, cves []model.CVE) (int, int, error) {
	if s.insertErr != nil {
		return 0, 0, s.insertErr
	}
	return s.MemoryStore.InsertCVEs(ctx, cves)
}

func TestRunCycleFatalErrors(t *testing.T) {
	newCommit := []upstream.Commit{commit("c1", at(2, 0), "  - 1 new CVEs: CVE-2024-0001")}
	fetcher := &fakeFetcher{records: map[string][]byte{
		"CVE-2024-0001": record("CVE-2024-0001", "2024-06-01T00:00:00.000Z", "HIGH"),
	}}

	tests := []struct {
		name  string
		store Store
		log   CommitLog
		want  string
	}{
		{
			name:  "watermark unreadable",
			store: &failingStore{MemoryStore: database.NewMemoryStore(), latestErr: errUnavailable},
			log:   &fakeLog{commits: newCommit},
			want:  "failed to read watermark",
		},
		{
			name:  "commit log unavailable",
			store: database.NewMemoryStore(),
			log:   &fakeLog{err: errUnavailable},
			want:  "failed to read commit log",
		},
		{
			name:  "write failure",
			store: &failingStore{MemoryStore: database.NewMemoryStore(), insertErr: errUnavailable},
			log:   &fakeLog{commits: newCommit},
			want:  "failed to insert new records",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			report, err := newTestPipeline(tc.store, tc.log, fetcher).RunCycle(context.Background())
			require.Error(t, err)
			assert.ErrorIs(t, err, errUnavailable)
			assert.Contains(t, err.Error(), tc.want)
			require.NotNil(t, report)
			assert.Equal(t, err.Error(), report.Error)
			assert.False(t, report.FinishedAt.IsZero())
		})
	}
}

func TestRunCycleEmptyStoreUsesEpoch(t *testing.T) {
	epoch := time.Date(2024, time.July, 2, 6, 0, 0, 0, time.UTC)
	log := &fakeLog{commits: []upstream.Commit{
		commit("c2", at(3, 0), "  - 1 new CVEs: CVE-2024-0002"),
		commit("c1", at(2, 0), "  - 1 new CVEs: CVE-2024-0001"),
	}}
	fetcher := &fakeFetcher{records: map[string][]byte{
		"CVE-2024-0002": record("CVE-2024-0002", "2024-06-02T00:00:00.000Z", "HIGH"),
	}}

	p := NewPipeline(database.NewMemoryStore(), log, fetcher, Config{Epoch: epoch}, nil)
	report, err := p.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "2024-07-02T06:00:00.000Z", report.Watermark)
	assert.Equal(t, 1, report.Inserted)
	assert.Empty(t, report.Failed)
}

type refreshingLog struct {
	fakeLog
	refreshErr error
	refreshed  int
}

func (l *refreshingLog) Refresh(context.Context) error {
	l.refreshed++
	return l.refreshErr
}

func TestRunCycleRefreshesLocalLog(t *testing.T) {
	log := &refreshingLog{fakeLog: fakeLog{commits: []upstream.Commit{
		commit("c1", at(2, 0), "  - 1 new CVEs: CVE-2024-0001"),
	}}}
	fetcher := &fakeFetcher{records: map[string][]byte{
		"CVE-2024-0001": record("CVE-2024-0001", "2024-06-01T00:00:00.000Z", "HIGH"),
	}}

	report, err := newTestPipeline(database.NewMemoryStore(), log, fetcher).RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, log.refreshed)
	assert.Equal(t, 1, report.Inserted)

	log.refreshErr = errUnavailable
	_, err = newTestPipeline(database.NewMemoryStore(), log, fetcher).RunCycle(context.Background())
	assert.ErrorIs(t, err, errUnavailable)
	assert.Contains(t, err.Error(), "failed to refresh commit log")
}
