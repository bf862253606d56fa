// Package model - Ingestion cycle reports
package model

import "time"

// FailedRecord names a record that could not be fetched or normalized.
type FailedRecord struct {
	CveID     string `json:"cve_id"`
	Reason    string `json:"reason"`
	Retryable bool   `json:"retryable,omitempty"`
}

// SkippedCommit names a commit whose message could not be classified.
type SkippedCommit struct {
	SHA    string `json:"sha"`
	Reason string `json:"reason"`
}

// IngestReport summarises one ingestion cycle.
type IngestReport struct {
	StartedAt      time.Time       `json:"started_at"`
	FinishedAt     time.Time       `json:"finished_at"`
	Watermark      string          `json:"watermark"`
	CommitsScanned int             `json:"commits_scanned"`
	ToInsert       int             `json:"to_insert"`
	ToUpdate       int             `json:"to_update"`
	Inserted       int             `json:"inserted"`
	Replaced       int             `json:"replaced"`
	Updated        int             `json:"updated"`
	Unmatched      int             `json:"unmatched"`
	Failed         []FailedRecord  `json:"failed,omitempty"`
	SkippedCommits []SkippedCommit `json:"skipped_commits,omitempty"`
	Error          string          `json:"error,omitempty"`
}
