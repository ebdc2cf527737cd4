package threatintel

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/yarinh5/cyber-threat-intel-dashboard/internal/entity"
)

const (
	defaultHTTPTimeout = 10 * time.Second
	maxResponseBytes   = 4 << 20
)

func newHTTPClient(timeout time.Duration) *http.Client {
	if timeout == 0 {
		timeout = defaultHTTPTimeout
	}
	return &http.Client{Timeout: timeout}
}

// fetch executes req and returns the status and body of a 200 or 404
// response. Every other outcome is converted into a provider failure.
func fetch(client *http.Client, provider string, req *http.Request) (int, []byte, error) {
	resp, err := client.Do(req)
	if err != nil {
		return 0, nil, transportFailure(req.Context(), provider, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return 0, nil, transportFailure(req.Context(), provider, err)
	}

	switch resp.StatusCode {
	case http.StatusOK, http.StatusNotFound:
		return resp.StatusCode, body, nil
	case http.StatusTooManyRequests:
		return resp.StatusCode, nil, entity.NewProviderFailure(provider, entity.FailureRateLimited, "rate limit exceeded")
	default:
		return resp.StatusCode, nil, entity.NewProviderFailure(provider, entity.FailureError, "API error: status %d", resp.StatusCode)
	}
}

func decode(provider string, body []byte, v any) error {
	if err := json.Unmarshal(body, v); err != nil {
		return entity.NewProviderFailure(provider, entity.FailureError, "decode response: %v", err)
	}
	return nil
}

func transportFailure(ctx context.Context, provider string, err error) error {
	if isTimeout(ctx, err) {
		return entity.NewProviderFailure(provider, entity.FailureTimeout, "%v", err)
	}
	return entity.NewProviderFailure(provider, entity.FailureError, "execute request: %v", err)
}

func isTimeout(ctx context.Context, err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func requestFailure(provider string, err error) error {
	return entity.NewProviderFailure(provider, entity.FailureError, "create request: %v", err)
}
