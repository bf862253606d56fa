package ingest

import (
	"fmt"

	"github.com/hashicorp/go-multierror"

	"github.com/ortelius/cvefeed-backend/model"
)

// Report is the outcome of one ingestion cycle.
type Report struct {
	model.IngestReport
}

func (r *Report) addFailure(o Outcome) {
	r.Failed = append(r.Failed, model.FailedRecord{CveID: o.ID, Reason: o.Reason, Retryable: o.Retryable})
}

// Retryable reports whether any failure may succeed in a later cycle.
func (r *Report) Retryable() bool {
	for _, f := range r.Failed {
		if f.Retryable {
			return true
		}
	}
	return false
}

// Err aggregates the per-record failures, or returns nil when every record
// was ingested.
func (r *Report) Err() error {
	var result *multierror.Error
	for _, f := range r.Failed {
		result = multierror.Append(result, fmt.Errorf("%s: %s", f.CveID, f.Reason))
	}
	return result.ErrorOrNil()
}

// FailedIDs lists the identities that could not be ingested.
func (r *Report) FailedIDs() []string {
	ids := make([]string, 0, len(r.Failed))
	for _, f := range r.Failed {
		ids = append(ids, f.CveID)
	}
	return ids
}
