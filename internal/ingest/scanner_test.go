package ingest

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ortelius/cvefeed-backend/internal/upstream"
)

func TestScanClassifiesCommitsAfterWatermark(t *testing.T) {
	log := &fakeLog{commits: []upstream.Commit{
		commit("c4", at(4, 0), "  - 1 new CVEs: CVE-2024-0004\n  - 1 updated CVEs: CVE-2024-0001"),
		commit("c3", at(3, 0), "  - 2 new CVEs: CVE-2024-0003, CVE-2024-0002"),
		commit("c2", at(2, 0), "  - 2 new CVEs: CVE-2024-0009\n"),
		commit("c1", at(1, 0), "  - 1 updated CVEs: CVE-2024-0004"),
		commit("c0", at(1, 0), "  - 1 new CVEs: CVE-2023-9999"),
	}}

	result, err := NewScanner(log, 2, 10, "", nil).Scan(context.Background(), at(1, 0))
	require.NoError(t, err)

	assert.Equal(t, 3, result.CommitsScanned)
	assert.Equal(t, at(4, 0), result.Newest)
	assert.Equal(t, []string{"CVE-2024-0002", "CVE-2024-0003", "CVE-2024-0004"}, result.ToInsert)
	assert.Equal(t, []string{"CVE-2024-0001"}, result.ToUpdate)
	require.Len(t, result.Skipped, 1)
	assert.Equal(t, "c2", result.Skipped[0].SHA)

	// page 2 still had a qualifying commit, page 3 had none
	assert.Equal(t, []int{1, 2, 3}, log.pages)
}

func TestScanInsertWinsOverUpdate(t *testing.T) {
	log := &fakeLog{commits: []upstream.Commit{
		commit("b", at(3, 0), "  - 1 updated CVEs: CVE-2024-0001"),
		commit("a", at(2, 0), "  - 1 new CVEs: CVE-2024-0001"),
	}}

	result, err := NewScanner(log, 100, 10, "", nil).Scan(context.Background(), at(1, 0))
	require.NoError(t, err)
	assert.Equal(t, []string{"CVE-2024-0001"}, result.ToInsert)
	assert.Empty(t, result.ToUpdate)
}

func TestScanAuthorFilter(t *testing.T) {
	human := commit("h", at(5, 0), "  - 1 new CVEs: CVE-2024-0100")
	human.AuthorName = "someone"
	log := &fakeLog{commits: []upstream.Commit{
		human,
		commit("b", at(4, 0), "  - 1 new CVEs: CVE-2024-0200"),
	}}

	result, err := NewScanner(log, 100, 10, upstream.BotAuthor, nil).Scan(context.Background(), at(1, 0))
	require.NoError(t, err)
	assert.Equal(t, 1, result.CommitsScanned)
	assert.Equal(t, []string{"CVE-2024-0200"}, result.ToInsert)
	assert.Equal(t, at(5, 0), result.Newest)
}

func TestScanStopsAtPageCeiling(t *testing.T) {
	var commits []upstream.Commit
	for i := 0; i < 10; i++ {
		commits = append(commits, commit("c", at(20-i, 0), ""))
	}
	log := &fakeLog{commits: commits}

	_, err := NewScanner(log, 2, 3, "", nil).Scan(context.Background(), at(1, 0))
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 3}, log.pages)
}

func TestScanLogFailureIsFatal(t *testing.T) {
	log := &fakeLog{err: errUnavailable}
	_, err := NewScanner(log, 100, 10, "", nil).Scan(context.Background(), at(1, 0))
	assert.ErrorIs(t, err, errUnavailable)
}
