package ingest

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ortelius/cvefeed-backend/model"
)

const openSSHRecord = `{
  "dataType": "CVE_RECORD",
  "cveMetadata": {"cveId": "CVE-2024-6387", "datePublished": "2024-07-01T12:37:25.431Z", "state": "PUBLISHED"},
  "containers": {
    "cna": {
      "providerMetadata": {"dateUpdated": "2024-09-30T08:06:40.000Z"},
      "descriptions": [
        {"lang": "es", "value": "Una condición de carrera"},
        {"lang": "en", "value": "n/a"},
        {"lang": "en-US", "value": "A signal handler race condition was found in OpenSSH's server (sshd)."}
      ],
      "affected": [
        {"vendor": "n/a", "product": "n/a"},
        {"vendor": "OpenBSD", "product": "OpenSSH", "packageName": "n/a",
         "versions": [
           {"version": "n/a", "status": "affected"},
           {"version": "8.5p1", "lessThan": "9.8p1", "status": "affected", "versionType": "custom"}
         ]},
        {"product": "Red Hat Enterprise Linux 9"}
      ],
      "metrics": [
        {"format": "CVSS", "cvssV4_0": {"baseScore": 9.2, "baseSeverity": "CRITICAL", "vectorString": "CVSS:4.0/AV:N/AC:H/AT:N/PR:N/UI:N/VC:H/VI:H/VA:H/SC:N/SI:N/SA:N", "attackVector": "NETWORK", "attackComplexity": "HIGH"}},
        {"format": "CVSS", "cvssV3_1": {"baseScore": 8.1, "baseSeverity": "high", "vectorString": "CVSS:3.1/AV:N/AC:H/PR:N/UI:N/S:U/C:H/I:H/A:H", "attackVector": "NETWORK", "attackComplexity": "HIGH"}}
      ]
    }
  }
}`

func TestNormalize(t *testing.T) {
	cve, err := Normalize("CVE-2024-6387", []byte(openSSHRecord))
	require.NoError(t, err)

	score := 8.1
	assert.Equal(t, model.CVE{
		CveID:       "CVE-2024-6387",
		Description: "A signal handler race condition was found in OpenSSH's server (sshd).",
		DatePublic:  "2024-07-01T12:37:25.431Z",
		AffectedProducts: []model.AffectedProduct{
			{
				Vendor: "OpenBSD", Product: "OpenSSH",
				Versions: []model.AffectedVersion{
					{Version: "8.5p1", LessThan: "9.8p1", Status: "affected", VersionType: "custom"},
				},
			},
			{Product: "Red Hat Enterprise Linux 9"},
		},
		Metrics: &model.Metrics{
			Standard:         "cvssV3_1",
			VectorString:     "CVSS:3.1/AV:N/AC:H/PR:N/UI:N/S:U/C:H/I:H/A:H",
			BaseScore:        &score,
			BaseSeverity:     "HIGH",
			AttackVector:     "NETWORK",
			AttackComplexity: "HIGH",
		},
	}, cve)
}

func TestNormalizeOmitsUnsetFields(t *testing.T) {
	raw := `{"cveMetadata": {"cveId": "CVE-2024-0001"}, "containers": {"cna": {
		"descriptions": [{"lang": "en", "value": "N/A"}],
		"affected": [{"vendor": "n/a"}],
		"metrics": [{"other": {"type": "ssvc"}}]
	}}}`

	cve, err := Normalize("CVE-2024-0001", []byte(raw))
	require.NoError(t, err)
	assert.Equal(t, model.CVE{CveID: "CVE-2024-0001"}, cve)

	out, err := json.Marshal(cve)
	require.NoError(t, err)
	assert.JSONEq(t, `{"cve_id": "CVE-2024-0001"}`, string(out))
}

func TestNormalizeDatePreference(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
	}{
		{
			name: "explicit public date",
			raw:  `{"cveMetadata": {"datePublished": "2024-02-01T00:00:00"}, "containers": {"cna": {"datePublic": "2024-01-15T10:00:00.000Z", "providerMetadata": {"dateUpdated": "2024-03-01T00:00:00Z"}}}}`,
			want: "2024-01-15T10:00:00.000Z",
		},
		{
			name: "published metadata",
			raw:  `{"cveMetadata": {"datePublished": "2024-02-01T00:00:00"}, "containers": {"cna": {"providerMetadata": {"dateUpdated": "2024-03-01T00:00:00Z"}}}}`,
			want: "2024-02-01T00:00:00.000Z",
		},
		{
			name: "last updated",
			raw:  `{"containers": {"cna": {"providerMetadata": {"dateUpdated": "2024-03-01T08:30:00+02:00"}}}}`,
			want: "2024-03-01T06:30:00.000Z",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cve, err := Normalize("CVE-2024-0002", []byte(tc.raw))
			require.NoError(t, err)
			assert.Equal(t, tc.want, cve.DatePublic)
		})
	}
}

func TestNormalizeDerivesScoreFromVector(t *testing.T) {
	raw := `{"containers": {"cna": {"metrics": [
		{"cvssV3_0": {"vectorString": "CVSS:3.0/AV:A/AC:L/PR:N/UI:N/S:U/C:H/I:H/A:H", "attackVector": "ADJACENT_NETWORK"}}
	]}}}`

	cve, err := Normalize("CVE-2024-0003", []byte(raw))
	require.NoError(t, err)
	require.NotNil(t, cve.Metrics)
	require.NotNil(t, cve.Metrics.BaseScore)
	assert.InDelta(t, 8.8, *cve.Metrics.BaseScore, 0.001)
	assert.Equal(t, "HIGH", cve.Metrics.BaseSeverity)
	assert.Equal(t, "cvssV3_0", cve.Metrics.Standard)
}

func TestNormalizeMapsV4AdjacentVector(t *testing.T) {
	raw := `{"containers": {"cna": {"metrics": [{"cvssV4_0": {"baseScore": 5.1, "baseSeverity": "MEDIUM", "attackVector": "ADJACENT"}}]}}}`
	cve, err := Normalize("CVE-2024-0004", []byte(raw))
	require.NoError(t, err)
	assert.Equal(t, "ADJACENT_NETWORK", cve.Metrics.AttackVector)
}

func TestNormalizeFailures(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{name: "not json", raw: `<html>`},
		{name: "no cna", raw: `{"containers": {}}`},
		{name: "identity mismatch", raw: `{"cveMetadata": {"cveId": "CVE-1999-0001"}, "containers": {"cna": {}}}`},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Normalize("CVE-2024-0005", []byte(tc.raw))
			assert.Error(t, err)
		})
	}
}
