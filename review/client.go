package review

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"content-security-bff/pkg/moderation"
)

const maxErrorBody = 512

// APIError indicates the completion endpoint answered with a non-2xx status.
type APIError struct {
	URL        string
	Body       string
	StatusCode int
}

func (e *APIError) Error() string {
	return fmt.Sprintf("completion API HTTP %d: %s", e.StatusCode, e.URL)
}

// IsAPIError checks if an error is a completion API status error.
func IsAPIError(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr)
}

type chatRequest struct {
	Temperature *float64      `json:"temperature,omitempty"`
	Model       string        `json:"model"`
	Messages    []ChatMessage `json:"messages"`
}

type chatResponse struct {
	Usage   json.RawMessage `json:"usage"`
	Choices []struct {
		Message ChatMessage `json:"message"`
	} `json:"choices"`
}

// Reviewer scores content with an OpenAI-compatible chat-completion API.
type Reviewer struct {
	client *http.Client
	policy *Policy
	logger *slog.Logger
}

// New creates a Reviewer that always sends policy as the system message.
func New(client *http.Client, policy *Policy, logger *slog.Logger) *Reviewer {
	return &Reviewer{
		client: client,
		policy: policy,
		logger: logger,
	}
}

// Policy returns the policy this reviewer sends.
func (r *Reviewer) Policy() *Policy {
	return r.policy
}

// SystemMessage returns the policy text sent ahead of every review.
func (r *Reviewer) SystemMessage() string {
	return r.policy.SystemMessage()
}

// Review sends one completion request and parses the reply into a risk score.
func (r *Reviewer) Review(ctx context.Context, req moderation.ReviewRequest) (*moderation.ReviewResult, error) {
	reqBody := chatRequest{
		Model:       req.ModelID,
		Messages:    r.policy.Messages(req.Content),
		Temperature: req.Temperature,
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	endpoint := strings.TrimSuffix(req.BaseURL, "/") + "/chat/completions"

	r.logger.Info("Completion API request starting",
		"method", "POST",
		"url", endpoint,
		"model", req.ModelID,
		"policy_version", r.policy.Version(),
		"content_length", len(req.Content))

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+req.APIKey)

	startTime := time.Now()
	resp, err := r.client.Do(httpReq)
	duration := time.Since(startTime)
	if err != nil {
		r.logger.Error("Completion API request failed",
			"url", endpoint,
			"duration_ms", duration.Milliseconds(),
			"error", err)
		return nil, fmt.Errorf("completion request: %w", err)
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			r.logger.Warn("Failed to close response body", "error", closeErr)
		}
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		excerpt, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		r.logger.Error("Completion API returned error status",
			"url", endpoint,
			"status_code", resp.StatusCode,
			"duration_ms", duration.Milliseconds(),
			"body", string(excerpt))
		return nil, &APIError{URL: endpoint, StatusCode: resp.StatusCode, Body: string(excerpt)}
	}

	var completion chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&completion); err != nil {
		return nil, fmt.Errorf("%w: decode completion: %w", moderation.ErrContentUnavailable, err)
	}
	if len(completion.Choices) == 0 {
		return nil, fmt.Errorf("%w: completion has no choices", moderation.ErrContentUnavailable)
	}

	reply := completion.Choices[0].Message.Content
	score, err := ParseScore(reply)
	if err != nil {
		r.logger.Warn("Model returned invalid score",
			"model", req.ModelID,
			"duration_ms", duration.Milliseconds(),
			"error", err)
		return nil, err
	}

	r.logger.Info("Completion API request completed",
		"url", endpoint,
		"model", req.ModelID,
		"status_code", resp.StatusCode,
		"duration_ms", duration.Milliseconds(),
		"score", score)

	result := &moderation.ReviewResult{Score: score}
	if usage := bytes.TrimSpace(completion.Usage); len(usage) > 0 && !bytes.Equal(usage, []byte("null")) {
		result.Usage = completion.Usage
	}
	return result, nil
}
