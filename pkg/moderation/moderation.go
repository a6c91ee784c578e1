// Package moderation contains the core domain types for the content security service.
package moderation

import (
	"encoding/json"
	"errors"
)

var (
	// ErrContentUnavailable indicates the forum API answered without the expected success marker or content.
	ErrContentUnavailable = errors.New("content unavailable")

	// ErrInvalidScore indicates the model reply was not an integer in [0, 100].
	ErrInvalidScore = errors.New("invalid score")
)

// TopicReference identifies one page of a forum topic.
type TopicReference struct {
	Token   string // V2EX bearer token, empty for RIA BBS
	TopicID int64
	Page    int // 1-based
}

// Topic is a normalized page of forum content.
type Topic struct {
	Contents   []string `json:"contents"`   // One plain-text entry per post
	TotalPages int      `json:"totalPages"` // Always >= 1
}

// ReviewRequest is one moderation call against a chat-completion API.
type ReviewRequest struct {
	Temperature *float64 // Optional sampling temperature
	BaseURL     string
	APIKey      string
	ModelID     string
	Content     string
}

// ReviewResult is the validated outcome of a moderation call.
type ReviewResult struct {
	Usage json.RawMessage `json:"usage,omitempty"` // Passthrough of the provider's usage block
	Score int             `json:"score"`
}

// Alert is a signed webhook notification about a visitor.
type Alert struct {
	IP        string
	UserAgent string
	Sign      string // Percent-encoded base64 HMAC
	Timestamp int64  // Milliseconds since epoch
}
