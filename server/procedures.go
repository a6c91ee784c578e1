package server

import (
	"context"

	"content-security-bff/pkg/moderation"
)

type helloInput struct {
	Text *string `json:"text"`
}

type helloOutput struct {
	Greeting string `json:"greeting"`
	Time     string `json:"time"`
}

// Token and content fields must be present but may be empty.
type v2exTopicInput struct {
	Token   *string `json:"token" validate:"required"`
	TopicID int64   `json:"topicId" validate:"gt=0"`
}

type v2exRepliesInput struct {
	Page    *int    `json:"page" validate:"omitempty,gte=1"`
	Token   *string `json:"token" validate:"required"`
	TopicID int64   `json:"topicId" validate:"gt=0"`
}

type riabbsTopicInput struct {
	Page    *int  `json:"page" validate:"omitempty,gte=1"`
	TopicID int64 `json:"topicId" validate:"gt=0"`
}

type reviewInput struct {
	Temperature *float64 `json:"temperature" validate:"omitempty,gte=0,lte=2"`
	BaseURL     string   `json:"baseURL" validate:"required,url"`
	APIKey      string   `json:"apiKey" validate:"required"`
	ModelID     string   `json:"modelId" validate:"required"`
	Content     *string  `json:"content" validate:"required"`
}

type noInput struct{}

// isoMillis matches the ISO-8601 form JavaScript clients produce for dates.
const isoMillis = "2006-01-02T15:04:05.000Z07:00"

// routes builds the procedure table keyed by dotted tRPC path.
func (s *Server) routes() map[string]procedure {
	return map[string]procedure{
		"hello": {kind: kindQuery, handle: typed(s, s.hello)},

		"aiContentSecurity.v2ex.getTopicContent":       {kind: kindQuery, handle: typed(s, s.v2exTopicContent)},
		"aiContentSecurity.v2ex.getTopicReplyContents": {kind: kindQuery, handle: typed(s, s.v2exTopicReplyContents)},
		"aiContentSecurity.riabbs.getTopic":            {kind: kindQuery, handle: typed(s, s.riabbsTopic)},
		"aiContentSecurity.openai.getSystemMessage":    {kind: kindQuery, handle: typed(s, s.systemMessage)},
		"aiContentSecurity.openai.aiContentReview":     {kind: kindMutation, handle: typed(s, s.contentReview)},
	}
}

func pageOrFirst(page *int) int {
	if page == nil {
		return 1
	}
	return *page
}

func (s *Server) hello(_ context.Context, in *helloInput) (any, error) {
	text := "world"
	if in.Text != nil {
		text = *in.Text
	}
	return helloOutput{
		Greeting: "hello " + text,
		Time:     s.now().UTC().Format(isoMillis),
	}, nil
}

func (s *Server) v2exTopicContent(ctx context.Context, in *v2exTopicInput) (any, error) {
	return s.v2ex.TopicContent(ctx, moderation.TopicReference{
		Token:   *in.Token,
		TopicID: in.TopicID,
		Page:    1,
	})
}

func (s *Server) v2exTopicReplyContents(ctx context.Context, in *v2exRepliesInput) (any, error) {
	return s.v2ex.TopicReplyContents(ctx, moderation.TopicReference{
		Token:   *in.Token,
		TopicID: in.TopicID,
		Page:    pageOrFirst(in.Page),
	})
}

func (s *Server) riabbsTopic(ctx context.Context, in *riabbsTopicInput) (any, error) {
	return s.riabbs.Topic(ctx, moderation.TopicReference{
		TopicID: in.TopicID,
		Page:    pageOrFirst(in.Page),
	})
}

func (s *Server) systemMessage(context.Context, *noInput) (any, error) {
	return s.reviewer.SystemMessage(), nil
}

func (s *Server) contentReview(ctx context.Context, in *reviewInput) (any, error) {
	return s.reviewer.Review(ctx, moderation.ReviewRequest{
		BaseURL:     in.BaseURL,
		APIKey:      in.APIKey,
		ModelID:     in.ModelID,
		Temperature: in.Temperature,
		Content:     *in.Content,
	})
}
