package ingest

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ortelius/cvefeed-backend/model"
	"github.com/ortelius/cvefeed-backend/util"
)

// MetricPreference lists the supported scoring standards, most preferred first.
var MetricPreference = []string{"cvssV3_1", "cvssV3_0", "cvssV4_0"}

type rawRecord struct {
	CveMetadata struct {
		CveID         string `json:"cveId"`
		DatePublished string `json:"datePublished"`
	} `json:"cveMetadata"`
	Containers struct {
		CNA *rawCNA `json:"cna"`
	} `json:"containers"`
}

type rawCNA struct {
	DatePublic       string `json:"datePublic"`
	ProviderMetadata struct {
		DateUpdated string `json:"dateUpdated"`
	} `json:"providerMetadata"`
	Descriptions []struct {
		Lang  string `json:"lang"`
		Value string `json:"value"`
	} `json:"descriptions"`
	Affected []struct {
		Vendor      string                  `json:"vendor"`
		Product     string                  `json:"product"`
		PackageName string                  `json:"packageName"`
		Versions    []model.AffectedVersion `json:"versions"`
	} `json:"affected"`
	Metrics []map[string]json.RawMessage `json:"metrics"`
}

type rawMetric struct {
	VectorString     string   `json:"vectorString"`
	BaseScore        *float64 `json:"baseScore"`
	BaseSeverity     string   `json:"baseSeverity"`
	AttackVector     string   `json:"attackVector"`
	AttackComplexity string   `json:"attackComplexity"`
}

// clean returns "" for placeholder values.
func clean(s string) string {
	s = strings.TrimSpace(s)
	if strings.EqualFold(s, "n/a") {
		return ""
	}
	return s
}

// Normalize converts a raw CVE JSON 5 record into the stored shape.
func Normalize(id string, raw []byte) (model.CVE, error) {
	var rec rawRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return model.CVE{}, fmt.Errorf("invalid record JSON: %w", err)
	}
	if rec.CveMetadata.CveID != "" && rec.CveMetadata.CveID != id {
		return model.CVE{}, fmt.Errorf("record is for %s, not %s", rec.CveMetadata.CveID, id)
	}
	cna := rec.Containers.CNA
	if cna == nil {
		return model.CVE{}, fmt.Errorf("record has no CNA container")
	}

	cve := model.CVE{CveID: id}

	for _, d := range cna.Descriptions {
		lang := strings.ToLower(d.Lang)
		if lang != "en" && !strings.HasPrefix(lang, "en-") {
			continue
		}
		if v := clean(d.Value); v != "" {
			cve.Description = v
			break
		}
	}

	for _, candidate := range []string{cna.DatePublic, rec.CveMetadata.DatePublished, cna.ProviderMetadata.DateUpdated} {
		if candidate = clean(candidate); candidate == "" {
			continue
		}
		if t, err := model.ParseTimestamp(candidate); err == nil {
			cve.DatePublic = model.FormatTimestamp(t)
			break
		}
	}

	for _, a := range cna.Affected {
		product := model.AffectedProduct{
			Vendor:      clean(a.Vendor),
			Product:     clean(a.Product),
			PackageName: clean(a.PackageName),
		}
		if product.Vendor == "" && product.Product == "" {
			continue
		}
		for _, v := range a.Versions {
			v.Version = clean(v.Version)
			if v.Version == "" {
				continue
			}
			v.Status = clean(v.Status)
			v.LessThan = clean(v.LessThan)
			v.LessThanOrEqual = clean(v.LessThanOrEqual)
			v.VersionType = clean(v.VersionType)
			product.Versions = append(product.Versions, v)
		}
		cve.AffectedProducts = append(cve.AffectedProducts, product)
	}

	metrics, err := selectMetrics(cna.Metrics)
	if err != nil {
		return model.CVE{}, err
	}
	cve.Metrics = metrics

	return cve, nil
}

func selectMetrics(entries []map[string]json.RawMessage) (*model.Metrics, error) {
	for _, standard := range MetricPreference {
		for _, entry := range entries {
			body, ok := entry[standard]
			if !ok {
				continue
			}
			var m rawMetric
			if err := json.Unmarshal(body, &m); err != nil {
				return nil, fmt.Errorf("invalid %s metric: %w", standard, err)
			}
			return buildMetrics(standard, m), nil
		}
	}
	return nil, nil
}

func buildMetrics(standard string, m rawMetric) *model.Metrics {
	out := &model.Metrics{
		Standard:         standard,
		VectorString:     clean(m.VectorString),
		BaseScore:        m.BaseScore,
		BaseSeverity:     strings.ToUpper(clean(m.BaseSeverity)),
		AttackVector:     strings.ToUpper(clean(m.AttackVector)),
		AttackComplexity: strings.ToUpper(clean(m.AttackComplexity)),
	}
	// CVSS 4.0 spells the adjacent vector without the _NETWORK suffix.
	if out.AttackVector == "ADJACENT" {
		out.AttackVector = "ADJACENT_NETWORK"
	}

	if out.BaseScore == nil && out.VectorString != "" {
		if score, ok := util.CalculateCVSSScore(out.VectorString); ok {
			out.BaseScore = &score
		}
	}
	if out.BaseSeverity == "" && out.BaseScore != nil {
		out.BaseSeverity = util.GetSeverityRating(*out.BaseScore)
	}
	return out
}
