// Package util provides utility functions for the backend.
package util

import (
	"strings"

	gocvss30 "github.com/pandatix/go-cvss/30"
	gocvss31 "github.com/pandatix/go-cvss/31"
	gocvss40 "github.com/pandatix/go-cvss/40"
)

// CalculateCVSSScore calculates the CVSS base score from a vector string.
// The second return value is false when the vector cannot be scored.
func CalculateCVSSScore(vectorStr string) (float64, bool) {
	switch {
	case strings.HasPrefix(vectorStr, "CVSS:3.1/"):
		if cvss31, err := gocvss31.ParseVector(vectorStr); err == nil {
			return cvss31.BaseScore(), true
		}
	case strings.HasPrefix(vectorStr, "CVSS:3.0/"):
		if cvss30, err := gocvss30.ParseVector(vectorStr); err == nil {
			return cvss30.BaseScore(), true
		}
	case strings.HasPrefix(vectorStr, "CVSS:4.0/"):
		if cvss40, err := gocvss40.ParseVector(vectorStr); err == nil {
			return cvss40.Score(), true
		}
	}
	return 0, false
}

// GetSeverityRating returns the qualitative severity rating for a CVSS score
func GetSeverityRating(score float64) string {
	switch {
	case score == 0:
		return "NONE"
	case score < 4.0:
		return "LOW"
	case score < 7.0:
		return "MEDIUM"
	case score < 9.0:
		return "HIGH"
	default:
		return "CRITICAL"
	}
}
