package connector

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
)

// fetchURL performs one GET and returns the body. Retryable failures
// (network errors, timeouts, 429/5xx) come back wrapped as Transient so the
// connector retry loop backs off; other HTTP errors are permanent.
func fetchURL(ctx context.Context, client *http.Client, url string, headers map[string]string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return nil, err
		}
		return nil, Transient(err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusTooManyRequests,
		resp.StatusCode >= http.StatusInternalServerError:
		return nil, Transient(fmt.Errorf("HTTP %d: %s", resp.StatusCode, resp.Status))
	default:
		return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, resp.Status)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, Transient(fmt.Errorf("read body: %w", err))
	}
	return body, nil
}
