// Package upstream provides the upstream CVE feed capabilities: the commit
// log of the cvelistV5 repository and per-record JSON fetches, either over
// HTTP or from a local git mirror.
package upstream

import (
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strconv"
	"time"

	"github.com/cenkalti/backoff"
)

// BotAuthor is the author name of the feed's automated record commits.
const BotAuthor = "cvelistV5 Github Action"

// ErrNotFound is returned when the upstream has no record for an identity.
var ErrNotFound = errors.New("record not found upstream")

// Commit is one entry of the feed's commit log.
type Commit struct {
	SHA        string
	AuthorName string
	AuthoredAt time.Time
	Message    string
}

var cveIDPattern = regexp.MustCompile(`^CVE-(\d{4})-(\d{4,})$`)

// RecordPath returns the repository path of a record, for example
// cves/2024/3xxx/CVE-2024-3727.json.
func RecordPath(id string) (string, error) {
	m := cveIDPattern.FindStringSubmatch(id)
	if m == nil {
		return "", fmt.Errorf("invalid CVE identifier %q", id)
	}
	n, err := strconv.Atoi(m[2])
	if err != nil {
		return "", fmt.Errorf("invalid CVE identifier %q: %w", id, err)
	}
	return fmt.Sprintf("cves/%s/%dxxx/%s.json", m[1], n/1000, id), nil
}

// statusError classifies an HTTP response for retrying. Only rate limiting
// and server errors are retried.
func statusError(resp *http.Response) error {
	switch {
	case resp.StatusCode == http.StatusNotFound:
		return backoff.Permanent(ErrNotFound)
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return fmt.Errorf("upstream returned %s", resp.Status)
	case resp.StatusCode >= 400:
		return backoff.Permanent(fmt.Errorf("upstream returned %s", resp.Status))
	}
	return nil
}

// retryPolicy bounds retries of a single upstream call.
func retryPolicy(maxElapsed time.Duration) backoff.BackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 500 * time.Millisecond
	bo.MaxInterval = 10 * time.Second
	bo.MaxElapsedTime = maxElapsed
	return bo
}
