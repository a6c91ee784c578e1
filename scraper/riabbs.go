package scraper

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"content-security-bff/pkg/moderation"
)

// DefaultRiaBBSBaseURL is the RIA BBS API root.
const DefaultRiaBBSBaseURL = "https://bbs.ria.red/api"

type riabbsTopicResponse struct {
	Title      string       `json:"title"`
	Posts      []riabbsPost `json:"posts"`
	Pagination struct {
		CurrentPage int `json:"currentPage"`
		PageCount   int `json:"pageCount"`
	} `json:"pagination"`
	TID int64 `json:"tid"`
}

type riabbsPost struct {
	Content string `json:"content"` // HTML
	User    struct {
		Username    string `json:"username"`
		DisplayName string `json:"displayname"`
	} `json:"user"`
	Timestamp int64 `json:"timestamp"`
}

// RiaBBS reads topic pages from the unauthenticated RIA BBS API.
type RiaBBS struct {
	normalizer *Normalizer
	fetcher
}

// NewRiaBBS creates a RIA BBS adapter. An empty baseURL selects DefaultRiaBBSBaseURL.
func NewRiaBBS(client *http.Client, baseURL string, normalizer *Normalizer, logger *slog.Logger) *RiaBBS {
	if baseURL == "" {
		baseURL = DefaultRiaBBSBaseURL
	}
	if normalizer == nil {
		normalizer = NewNormalizer()
	}
	return &RiaBBS{
		normalizer: normalizer,
		fetcher: fetcher{
			client:  client,
			logger:  logger,
			source:  "riabbs",
			baseURL: strings.TrimSuffix(baseURL, "/"),
		},
	}
}

// Topic fetches one page of a topic. On page 1 the first post is the topic
// header and is prefixed with the topic title.
func (r *RiaBBS) Topic(ctx context.Context, ref moderation.TopicReference) (*moderation.Topic, error) {
	page := ref.Page
	if page < 1 {
		page = 1
	}
	topicURL := fmt.Sprintf("%s/topic/%d?page=%d", r.baseURL, ref.TopicID, page)

	var data riabbsTopicResponse
	if err := r.get(ctx, topicURL, "", "fetch_topic_page", decodeJSON(&data)); err != nil {
		return nil, fmt.Errorf("topic %d page %d: %w", ref.TopicID, page, err)
	}
	if data.Posts == nil {
		r.logger.Warn("Topic page has no posts array", "topic_id", ref.TopicID, "page", page)
		return nil, fmt.Errorf("topic %d page %d: %w", ref.TopicID, page, moderation.ErrContentUnavailable)
	}

	posts := data.Posts
	contents := make([]string, 0, len(posts))
	if page == 1 && len(posts) > 0 {
		contents = append(contents, data.Title+"\n"+r.normalizer.Normalize(posts[0].Content))
		posts = posts[1:]
	}
	for _, post := range posts {
		contents = append(contents, r.normalizer.Normalize(post.Content))
	}

	totalPages := data.Pagination.PageCount
	if totalPages < 1 {
		totalPages = 1
	}

	r.logger.Info("Topic page normalized",
		"topic_id", ref.TopicID,
		"page", page,
		"entries", len(contents),
		"total_pages", totalPages)

	return &moderation.Topic{
		Contents:   contents,
		TotalPages: totalPages,
	}, nil
}
