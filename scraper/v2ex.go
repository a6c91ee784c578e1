package scraper

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"content-security-bff/pkg/moderation"
)

// DefaultV2EXBaseURL is the V2EX API v2 root.
const DefaultV2EXBaseURL = "https://www.v2ex.com/api/v2"

type v2exTopicResponse struct {
	Result *struct {
		Content string `json:"content"`
	} `json:"result"`
	Message string `json:"message"`
	Success bool   `json:"success"`
}

type v2exRepliesResponse struct {
	Message string          `json:"message"`
	Result  json.RawMessage `json:"result"` // Must be an array on success
	Success bool            `json:"success"`
}

type v2exReply struct {
	Content string `json:"content"`
}

// V2EX reads topics and replies from the bearer-authenticated V2EX API.
type V2EX struct {
	fetcher
}

// NewV2EX creates a V2EX adapter. An empty baseURL selects DefaultV2EXBaseURL.
func NewV2EX(client *http.Client, baseURL string, logger *slog.Logger) *V2EX {
	if baseURL == "" {
		baseURL = DefaultV2EXBaseURL
	}
	return &V2EX{fetcher{
		client:  client,
		logger:  logger,
		source:  "v2ex",
		baseURL: strings.TrimSuffix(baseURL, "/"),
	}}
}

// TopicContent returns the body of a topic.
func (v *V2EX) TopicContent(ctx context.Context, ref moderation.TopicReference) (string, error) {
	topicURL := fmt.Sprintf("%s/topics/%d", v.baseURL, ref.TopicID)

	var data v2exTopicResponse
	err := v.get(ctx, topicURL, ref.Token, "fetch_topic_content", decodeJSON(&data))
	if err != nil {
		return "", fmt.Errorf("topic %d: %w", ref.TopicID, err)
	}

	if !data.Success || data.Result == nil || data.Result.Content == "" {
		v.logger.Warn("Topic content unavailable",
			"topic_id", ref.TopicID,
			"success", data.Success,
			"message", data.Message)
		return "", fmt.Errorf("topic %d: %w", ref.TopicID, moderation.ErrContentUnavailable)
	}

	return data.Result.Content, nil
}

// TopicReplyContents returns the content of each reply on one page, in order.
func (v *V2EX) TopicReplyContents(ctx context.Context, ref moderation.TopicReference) ([]string, error) {
	page := ref.Page
	if page < 1 {
		page = 1
	}
	repliesURL := fmt.Sprintf("%s/topics/%d/replies?p=%d", v.baseURL, ref.TopicID, page)

	var data v2exRepliesResponse
	err := v.get(ctx, repliesURL, ref.Token, "fetch_topic_replies", decodeJSON(&data))
	if err != nil {
		return nil, fmt.Errorf("replies of topic %d: %w", ref.TopicID, err)
	}

	if !data.Success || !isJSONArray(data.Result) {
		v.logger.Warn("Topic replies unavailable",
			"topic_id", ref.TopicID,
			"page", page,
			"success", data.Success,
			"message", data.Message)
		return nil, fmt.Errorf("replies of topic %d: %w", ref.TopicID, moderation.ErrContentUnavailable)
	}

	var replies []v2exReply
	if err := json.Unmarshal(data.Result, &replies); err != nil {
		return nil, fmt.Errorf("decode replies of topic %d: %w: %w", ref.TopicID, moderation.ErrContentUnavailable, err)
	}

	contents := make([]string, 0, len(replies))
	for _, reply := range replies {
		contents = append(contents, reply.Content)
	}
	return contents, nil
}

func isJSONArray(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) > 0 && trimmed[0] == '['
}
