package retry

import (
	"context"
	"fmt"
	"io"
	"net/http"
)

// Limiter throttles outbound requests per destination host. A nil Limiter
// means no throttling.
type Limiter interface {
	Wait(ctx context.Context, host string) error
}

// Fetch performs an outbound HTTP call through the backoff and
// classification layers. build must return a fresh request per attempt so
// bodies are re-readable. Responses with retryable statuses trigger a
// retry; any other non-2xx aborts with an *HTTPError.
func Fetch(ctx context.Context, client *http.Client, limiter Limiter, opts Options, build func() (*http.Request, error)) (*http.Response, error) {
	if client == nil {
		client = http.DefaultClient
	}
	var resp *http.Response
	err := WithBackoff(ctx, opts, func() error {
		req, err := build()
		if err != nil {
			return Permanent(fmt.Errorf("build request: %w", err))
		}
		req = req.WithContext(ctx)
		if limiter != nil {
			if err := limiter.Wait(ctx, req.URL.Host); err != nil {
				return Permanent(err)
			}
		}
		r, err := client.Do(req)
		if err != nil {
			if IsRetryable(err) {
				return err
			}
			return Permanent(err)
		}
		if r.StatusCode >= http.StatusBadRequest {
			_, _ = io.Copy(io.Discard, io.LimitReader(r.Body, 4096))
			_ = r.Body.Close()
			httpErr := &HTTPError{StatusCode: r.StatusCode, URL: req.URL.String()}
			if retryableStatus(r.StatusCode) {
				return httpErr
			}
			return Permanent(httpErr)
		}
		resp = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	return resp, nil
}
