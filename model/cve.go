// Package model - Canonical CVE record stored in the local mirror
package model

import (
	"fmt"
	"strings"
	"time"
)

// TimestampLayout is the canonical layout for stored timestamps. Every stored
// date_public uses it so that string comparison matches chronological order.
const TimestampLayout = "2006-01-02T15:04:05.000Z"

// CVE is one vulnerability record. Unset fields are omitted, never stored as null.
type CVE struct {
	CveID            string            `json:"cve_id"`
	Description      string            `json:"description,omitempty"`
	DatePublic       string            `json:"date_public,omitempty"`
	AffectedProducts []AffectedProduct `json:"affected_products,omitempty"`
	Metrics          *Metrics          `json:"metrics,omitempty"`
}

// AffectedProduct is a product entry kept only when vendor or product is known.
type AffectedProduct struct {
	Vendor      string            `json:"vendor,omitempty"`
	Product     string            `json:"product,omitempty"`
	PackageName string            `json:"packageName,omitempty"`
	Versions    []AffectedVersion `json:"versions,omitempty"`
}

// AffectedVersion mirrors a CVE JSON 5 version entry.
type AffectedVersion struct {
	Version         string `json:"version"`
	Status          string `json:"status,omitempty"`
	LessThan        string `json:"lessThan,omitempty"`
	LessThanOrEqual string `json:"lessThanOrEqual,omitempty"`
	VersionType     string `json:"versionType,omitempty"`
}

// Metrics is the single scoring entry retained per record.
type Metrics struct {
	Standard         string   `json:"standard"` // e.g., "cvssV3_1"
	VectorString     string   `json:"vectorString,omitempty"`
	BaseScore        *float64 `json:"baseScore,omitempty"`
	BaseSeverity     string   `json:"baseSeverity,omitempty"`
	AttackVector     string   `json:"attackVector,omitempty"`
	AttackComplexity string   `json:"attackComplexity,omitempty"`
}

// FormatTimestamp renders t in the canonical stored layout (UTC, millisecond precision).
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}

var upstreamLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02",
}

// ParseTimestamp accepts the timestamp shapes seen in the upstream feed.
// Timestamps without a zone are taken as UTC.
func ParseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range upstreamLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", s)
}
