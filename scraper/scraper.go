// Package scraper fetches topics from the supported forum APIs and normalizes them into plain text.
package scraper

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"content-security-bff/pkg/moderation"
)

const (
	userAgent    = "content-security-bff/1.0"
	maxErrorBody = 512 // Bytes of an error response kept for logs and errors
)

// HTTPStatusError indicates the forum API answered with a non-2xx status.
type HTTPStatusError struct {
	URL        string
	Body       string
	StatusCode int
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.URL)
}

// IsHTTPStatusError checks if an error is an HTTP status error and returns it.
func IsHTTPStatusError(err error) (*HTTPStatusError, bool) {
	var statusErr *HTTPStatusError
	if errors.As(err, &statusErr) {
		return statusErr, true
	}
	return nil, false
}

// fetcher is the shared single-attempt HTTP plumbing of the forum adapters.
type fetcher struct {
	client  *http.Client
	logger  *slog.Logger
	source  string
	baseURL string
}

// get issues one GET and hands the body of a 2xx response to decode.
// A bearer token is attached when non-empty.
func (f *fetcher) get(ctx context.Context, pageURL, token, purpose string, decode func(io.Reader) error) error {
	f.logger.Info("HTTP request starting",
		"source", f.source,
		"method", "GET",
		"url", pageURL,
		"purpose", purpose)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, http.NoBody)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	startTime := time.Now()
	resp, err := f.client.Do(req)
	duration := time.Since(startTime)
	if err != nil {
		f.logger.Warn("HTTP request failed",
			"source", f.source,
			"url", pageURL,
			"duration_ms", duration.Milliseconds(),
			"error", err)
		return fmt.Errorf("%s request: %w", purpose, err)
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			f.logger.Warn("Failed to close response body", "error", closeErr)
		}
	}()

	f.logger.Info("HTTP request completed",
		"source", f.source,
		"url", pageURL,
		"status_code", resp.StatusCode,
		"duration_ms", duration.Milliseconds(),
		"content_length", resp.ContentLength)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		excerpt, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		if resp.StatusCode == http.StatusBadRequest {
			f.logger.Error("Upstream rejected request: 400 Bad Request", "source", f.source, "purpose", purpose)
		} else {
			f.logger.Error("Upstream returned error status",
				"source", f.source,
				"purpose", purpose,
				"status_code", resp.StatusCode,
				"body", string(excerpt))
		}
		return &HTTPStatusError{URL: pageURL, StatusCode: resp.StatusCode, Body: string(excerpt)}
	}

	return decode(resp.Body)
}

// decodeJSON decodes a response body into target. A body that does not match
// the schema is reported as unavailable content.
func decodeJSON(target any) func(io.Reader) error {
	return func(body io.Reader) error {
		if err := json.NewDecoder(body).Decode(target); err != nil {
			return fmt.Errorf("%w: decode response: %w", moderation.ErrContentUnavailable, err)
		}
		return nil
	}
}
