package upstream

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
)

// CVEServices fetches records from the CVE Services API
// (GET {base}/cve/{id}).
type CVEServices struct {
	baseURL    string
	maxElapsed time.Duration
	client     *http.Client
	logger     *zap.Logger
}

// NewCVEServices returns a record fetcher for baseURL, e.g. https://cveawg.mitre.org/api.
func NewCVEServices(baseURL string, maxElapsed time.Duration, client *http.Client, logger *zap.Logger) *CVEServices {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CVEServices{
		baseURL:    strings.TrimRight(baseURL, "/"),
		maxElapsed: maxElapsed,
		client:     client,
		logger:     logger,
	}
}

// FetchRecord returns the raw CVE JSON 5 record for id.
func (c *CVEServices) FetchRecord(ctx context.Context, id string) ([]byte, error) {
	u := fmt.Sprintf("%s/cve/%s", c.baseURL, url.PathEscape(id))
	body, err := getWithRetry(ctx, c.client, u, map[string]string{"Accept": "application/json"}, c.maxElapsed, c.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch %s: %w", id, err)
	}
	return body, nil
}
