package search

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ortelius/cvefeed-backend/model"
)

type recordingFinder struct {
	plan    Plan
	page    Page
	results []model.CVE
	err     error
}

func (f *recordingFinder) FindCVEs(_ context.Context, plan Plan, page Page) ([]model.CVE, error) {
	f.plan = plan
	f.page = page
	return f.results, f.err
}

func TestExecuteDefaultSort(t *testing.T) {
	finder := &recordingFinder{}
	results, err := NewExecutor(finder).Execute(context.Background(), Plan{}, Page{Limit: 10})
	require.NoError(t, err)

	assert.NotNil(t, results)
	assert.Empty(t, results)
	assert.Equal(t, []SortKey{
		{Path: "date_public", Descending: true},
		{Path: "cve_id"},
	}, finder.plan.Sort)
	assert.Equal(t, Page{Limit: 10}, finder.page)
}

func TestExecuteKeepsRequestedSort(t *testing.T) {
	finder := &recordingFinder{}
	plan := Plan{Sort: []SortKey{{Path: "cve_id", Descending: true}}}
	_, err := NewExecutor(finder).Execute(context.Background(), plan, Page{Limit: 5})
	require.NoError(t, err)
	assert.Equal(t, plan.Sort, finder.plan.Sort)
}

func TestExecuteClampsPage(t *testing.T) {
	finder := &recordingFinder{}
	_, err := NewExecutor(finder).Execute(context.Background(), Plan{}, Page{Offset: -3, Limit: 5000})
	require.NoError(t, err)
	assert.Equal(t, Page{Offset: 0, Limit: MaxLimit}, finder.page)
}

func TestExecuteWrapsFinderError(t *testing.T) {
	boom := errors.New("connection refused")
	_, err := NewExecutor(&recordingFinder{err: boom}).Execute(context.Background(), Plan{}, Page{})
	assert.ErrorIs(t, err, boom)
}

func TestServiceSearch(t *testing.T) {
	reg := defaultRegistry(t)
	finder := &recordingFinder{results: []model.CVE{{CveID: "CVE-2024-0874"}}}
	svc := NewService(reg, finder)

	payload, errs := svc.Validator().Validate(
		decode(t, `[{"parameter": "cve_id", "included_values": ["CVE-2024-0874"]}]`),
		[]any{},
	)
	require.Empty(t, errs)

	results, err := svc.Search(context.Background(), payload, Page{Limit: 1})
	require.NoError(t, err)
	assert.Equal(t, finder.results, results)
	assert.Equal(t, []Predicate{{Path: "cve_id", Kind: KindIn, Values: []any{"CVE-2024-0874"}}}, finder.plan.Predicates)

	_, err = svc.Search(context.Background(), nil, Page{})
	assert.ErrorIs(t, err, ErrNotValidated)
}
