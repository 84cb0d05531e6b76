// Package httpx holds the request plumbing shared by the REST provider adapters.
package httpx

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	mr "github.com/ineyio/modelrouter"
	"golang.org/x/time/rate"
)

// PostJSON marshals body, waits on limiter (if any) and POSTs to url.
// Transport failures are mapped onto router sentinels; the caller must
// close the returned body.
func PostJSON(ctx context.Context, client *http.Client, limiter *rate.Limiter, url string, headers map[string]string, body any) (*http.Response, error) {
	jsonBody, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("modelrouter: marshal request: %w", err)
	}

	if limiter != nil {
		if err := limiter.Wait(ctx); err != nil {
			return nil, ContextError(ctx, err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(jsonBody))
	if err != nil {
		return nil, fmt.Errorf("modelrouter: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, ContextError(ctx, err)
	}
	if err := MapStatus(resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// ContextError maps a failed wait or round trip. A passed deadline becomes
// ErrTimeout and a cancelled context is returned as is. Credential errors
// raised by a signing transport pass through; anything else means the
// provider could not be reached.
func ContextError(ctx context.Context, err error) error {
	switch {
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		return fmt.Errorf("%w: %w", mr.ErrTimeout, ctx.Err())
	case ctx.Err() != nil:
		return ctx.Err()
	case errors.Is(err, mr.ErrAuthFailed):
		return err
	default:
		return fmt.Errorf("%w: %v", mr.ErrProviderUnavailable, err)
	}
}

// MapStatus converts a non-2xx response into a router sentinel and closes the body.
func MapStatus(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	// Read body for error context, but don't fail if we can't.
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
	resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusTooManyRequests:
		return mr.ErrRateLimited
	case http.StatusUnauthorized, http.StatusForbidden:
		return mr.ErrAuthFailed
	case http.StatusBadRequest:
		return fmt.Errorf("%w: %s", mr.ErrInvalidRequest, string(body))
	default:
		return fmt.Errorf("%w: status %d", mr.ErrProviderUnavailable, resp.StatusCode)
	}
}

// DecodeJSON decodes resp into v and closes the body.
func DecodeJSON(resp *http.Response, v any) error {
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("modelrouter: decode response: %w", err)
	}
	return nil
}
