package database

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ortelius/cvefeed-backend/internal/params"
	"github.com/ortelius/cvefeed-backend/internal/search"
	"github.com/ortelius/cvefeed-backend/model"
)

func score(f float64) *float64 { return &f }

func fixtures() []model.CVE {
	return []model.CVE{
		{
			CveID: "CVE-2024-0874", Description: "Cache poisoning in CoreDNS",
			DatePublic:       "2024-01-23T13:28:40.000Z",
			AffectedProducts: []model.AffectedProduct{{Vendor: "Red Hat", Product: "OpenShift"}},
			Metrics:          &model.Metrics{Standard: "cvssV3_1", BaseScore: score(5.3), BaseSeverity: "MEDIUM"},
		},
		{
			CveID: "CVE-2024-3727", Description: "Digest type does not guarantee valid type",
			DatePublic:       "2024-05-14T14:54:05.000Z",
			AffectedProducts: []model.AffectedProduct{{Vendor: "Red Hat", Product: "containers/image"}},
			Metrics:          &model.Metrics{Standard: "cvssV3_1", BaseScore: score(8.3), BaseSeverity: "HIGH"},
		},
		{
			CveID: "CVE-2024-6387", Description: "Signal handler race condition in OpenSSH",
			DatePublic:       "2024-07-01T12:37:25.000Z",
			AffectedProducts: []model.AffectedProduct{{Vendor: "OpenBSD", Product: "OpenSSH"}},
			Metrics:          &model.Metrics{Standard: "cvssV3_1", BaseScore: score(8.1), BaseSeverity: "HIGH"},
		},
		{
			CveID: "CVE-2023-0001", Description: "Low impact issue",
			DatePublic: "2023-02-01T00:00:00.000Z",
			Metrics:    &model.Metrics{Standard: "cvssV3_0", BaseScore: score(0), BaseSeverity: "NONE"},
		},
		{
			CveID: "CVE-2022-9999", Description: "Record without metrics",
		},
	}
}

func run(t *testing.T, store *MemoryStore, filters, sorts string, page search.Page) ([]model.CVE, []string) {
	t.Helper()
	reg, err := params.Default()
	require.NoError(t, err)
	svc := search.NewService(reg, store)

	var f, s any
	require.NoError(t, json.Unmarshal([]byte(filters), &f))
	require.NoError(t, json.Unmarshal([]byte(sorts), &s))

	payload, errs := svc.Validator().Validate(f, s)
	if len(errs) > 0 {
		return nil, errs
	}
	results, err := svc.Search(context.Background(), payload, page)
	require.NoError(t, err)
	return results, nil
}

func ids(cves []model.CVE) []string {
	out := make([]string, 0, len(cves))
	for _, c := range cves {
		out = append(out, c.CveID)
	}
	return out
}

func TestSearchByIdentity(t *testing.T) {
	store := NewMemoryStore(fixtures()...)
	results, errs := run(t, store,
		`[{"parameter": "cve_id", "included_values": ["CVE-2024-0874", "CVE-2024-3727"]}]`, `[]`,
		search.Page{Limit: 100})
	require.Empty(t, errs)
	assert.ElementsMatch(t, []string{"CVE-2024-0874", "CVE-2024-3727"}, ids(results))
}

func TestSearchRejectsInvertedDateRange(t *testing.T) {
	store := NewMemoryStore(fixtures()...)
	results, errs := run(t, store,
		`[{"parameter": "date_public", "included_range": {"min": "2024-06-27T16:39:42Z", "max": "2024-02-27T16:39:42Z"}}]`, `[]`,
		search.Page{Limit: 100})
	assert.NotEmpty(t, errs)
	assert.Nil(t, results)
}

func TestSearchSortsBySeverityRank(t *testing.T) {
	store := NewMemoryStore(fixtures()...)
	results, errs := run(t, store, `[]`, `[{"parameter": "baseSeverity", "direction": "low"}]`, search.Page{Limit: 100})
	require.Empty(t, errs)
	assert.Equal(t, []string{"CVE-2022-9999", "CVE-2023-0001", "CVE-2024-0874", "CVE-2024-3727", "CVE-2024-6387"}, ids(results))

	results, errs = run(t, store, `[]`, `[{"parameter": "baseSeverity", "direction": "high"}]`, search.Page{Limit: 100})
	require.Empty(t, errs)
	assert.Equal(t, []string{"CVE-2022-9999", "CVE-2024-3727", "CVE-2024-6387", "CVE-2024-0874", "CVE-2023-0001"}, ids(results))
}

func TestSearchFilters(t *testing.T) {
	tests := []struct {
		name    string
		filters string
		want    []string
	}{
		{
			name:    "severity range from HIGH",
			filters: `[{"parameter": "baseSeverity", "included_range": {"min": "HIGH"}}]`,
			want:    []string{"CVE-2024-6387", "CVE-2024-3727"},
		},
		{
			name:    "score upper bound only",
			filters: `[{"parameter": "baseScore", "included_range": {"max": 6}}]`,
			want:    []string{"CVE-2024-0874", "CVE-2023-0001"},
		},
		{
			name:    "date lower bound only",
			filters: `[{"parameter": "date_public", "included_range": {"min": "2024-05-14T14:54:05Z"}}]`,
			want:    []string{"CVE-2024-6387", "CVE-2024-3727"},
		},
		{
			name:    "vendor substring in list",
			filters: `[{"parameter": "vendor", "included_values": ["red hat"]}]`,
			want:    []string{"CVE-2024-3727", "CVE-2024-0874"},
		},
		{
			name:    "description substring",
			filters: `[{"parameter": "description", "included_values": ["OPENSSH", "coredns"]}]`,
			want:    []string{"CVE-2024-6387", "CVE-2024-0874"},
		},
	}

	store := NewMemoryStore(fixtures()...)
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			results, errs := run(t, store, tc.filters, `[]`, search.Page{Limit: 100})
			require.Empty(t, errs)
			assert.Equal(t, tc.want, ids(results))
		})
	}
}

func TestSearchPagination(t *testing.T) {
	store := NewMemoryStore(fixtures()...)
	results, errs := run(t, store, `[]`, `[{"parameter": "cve_id", "direction": "low"}]`, search.Page{Offset: 1, Limit: 2})
	require.Empty(t, errs)
	assert.Equal(t, []string{"CVE-2023-0001", "CVE-2024-0874"}, ids(results))
}

func TestMemoryStoreWrites(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	latest, err := store.LatestDatePublic(ctx)
	require.NoError(t, err)
	assert.Empty(t, latest)

	inserted, replaced, err := store.InsertCVEs(ctx, fixtures()[:2])
	require.NoError(t, err)
	assert.Equal(t, 2, inserted)
	assert.Equal(t, 0, replaced)

	inserted, replaced, err = store.InsertCVEs(ctx, fixtures()[1:3])
	require.NoError(t, err)
	assert.Equal(t, 1, inserted)
	assert.Equal(t, 1, replaced)
	assert.Equal(t, 3, store.Len())

	updated := fixtures()[0]
	updated.Description = "changed"
	matched, err := store.ReplaceCVEs(ctx, []model.CVE{updated, fixtures()[4]})
	require.NoError(t, err)
	assert.Equal(t, 1, matched)
	assert.Equal(t, 3, store.Len())

	got, err := store.GetCVE(ctx, "CVE-2024-0874")
	require.NoError(t, err)
	assert.Equal(t, "changed", got.Description)

	latest, err = store.LatestDatePublic(ctx)
	require.NoError(t, err)
	assert.Equal(t, "2024-07-01T12:37:25.000Z", latest)
}
