package upstream

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff"
	"go.uber.org/zap"
)

const maxBodyBytes = 32 << 20

// getWithRetry issues GET requests until one succeeds, a permanent failure is
// seen or the retry budget runs out.
func getWithRetry(ctx context.Context, client *http.Client, url string, headers map[string]string,
	maxElapsed time.Duration, logger *zap.Logger) ([]byte, error) {
	var body []byte

	operation := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		for k, v := range headers {
			req.Header.Set(k, v)
		}

		resp, err := client.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			return err
		}
		defer resp.Body.Close()

		if err := statusError(resp); err != nil {
			return err
		}

		body, err = io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
		if err != nil {
			return fmt.Errorf("failed to read response body: %w", err)
		}
		return nil
	}

	notify := func(err error, wait time.Duration) {
		logger.Debug("Retrying upstream request", zap.String("url", url), zap.Error(err), zap.Duration("wait", wait))
	}

	if err := backoff.RetryNotify(operation, backoff.WithContext(retryPolicy(maxElapsed), ctx), notify); err != nil {
		return nil, err
	}
	return body, nil
}
