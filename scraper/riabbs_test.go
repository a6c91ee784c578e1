package scraper

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"content-security-bff/pkg/moderation"
)

const riabbsPageJSON = `{
  "tid": 42,
  "title": "Server rules",
  "posts": [
    {"content": "<p>First <strong>post</strong></p>", "timestamp": 1700000000000, "user": {"username": "a", "displayname": "A"}},
    {"content": "<p>Second</p><p><img src=\"https://example.com/x.png\" alt=\"x\"></p>", "timestamp": 1700000001000, "user": {"username": "b", "displayname": "B"}},
    {"content": "<p>Third</p>\n\n<p>line</p>", "timestamp": 1700000002000, "user": {"username": "c", "displayname": "C"}}
  ],
  "pagination": {"currentPage": 1, "pageCount": 4}
}`

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newRiaBBSServer(t *testing.T, status int, body string, gotPage *string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/topic/42" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "" {
			t.Error("RIA BBS requests must be unauthenticated")
		}
		if gotPage != nil {
			*gotPage = r.URL.Query().Get("page")
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestRiaBBSTopicFirstPage(t *testing.T) {
	var gotPage string
	srv := newRiaBBSServer(t, http.StatusOK, riabbsPageJSON, &gotPage)
	r := NewRiaBBS(srv.Client(), srv.URL, nil, testLogger())

	topic, err := r.Topic(context.Background(), moderation.TopicReference{TopicID: 42, Page: 1})
	if err != nil {
		t.Fatalf("Topic() error = %v", err)
	}

	if gotPage != "1" {
		t.Errorf("page query = %q, want %q", gotPage, "1")
	}
	want := []string{
		"Server rules\nFirst **post**",
		"Second",
		"Third\nline",
	}
	if len(topic.Contents) != len(want) {
		t.Fatalf("got %d entries, want %d: %q", len(topic.Contents), len(want), topic.Contents)
	}
	for i := range want {
		if topic.Contents[i] != want[i] {
			t.Errorf("Contents[%d] = %q, want %q", i, topic.Contents[i], want[i])
		}
	}
	if topic.TotalPages != 4 {
		t.Errorf("TotalPages = %d, want 4", topic.TotalPages)
	}
}

func TestRiaBBSTopicLaterPage(t *testing.T) {
	var gotPage string
	srv := newRiaBBSServer(t, http.StatusOK, riabbsPageJSON, &gotPage)
	r := NewRiaBBS(srv.Client(), srv.URL, nil, testLogger())

	topic, err := r.Topic(context.Background(), moderation.TopicReference{TopicID: 42, Page: 2})
	if err != nil {
		t.Fatalf("Topic() error = %v", err)
	}

	if gotPage != "2" {
		t.Errorf("page query = %q, want %q", gotPage, "2")
	}
	want := []string{"First **post**", "Second", "Third\nline"}
	if len(topic.Contents) != len(want) {
		t.Fatalf("got %d entries, want %d: %q", len(topic.Contents), len(want), topic.Contents)
	}
	for i := range want {
		if topic.Contents[i] != want[i] {
			t.Errorf("Contents[%d] = %q, want %q", i, topic.Contents[i], want[i])
		}
	}
}

func TestRiaBBSTopicErrors(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		status     int
		wantStatus int
		wantErr    error
	}{
		{
			name:    "missing posts array",
			status:  http.StatusOK,
			body:    `{"tid": 42, "title": "t", "pagination": {"pageCount": 1}}`,
			wantErr: moderation.ErrContentUnavailable,
		},
		{
			name:    "malformed JSON",
			status:  http.StatusOK,
			body:    `<html>maintenance</html>`,
			wantErr: moderation.ErrContentUnavailable,
		},
		{
			name:       "server error",
			status:     http.StatusInternalServerError,
			body:       `oops`,
			wantStatus: http.StatusInternalServerError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newRiaBBSServer(t, tt.status, tt.body, nil)
			r := NewRiaBBS(srv.Client(), srv.URL, nil, testLogger())

			_, err := r.Topic(context.Background(), moderation.TopicReference{TopicID: 42, Page: 1})
			if err == nil {
				t.Fatal("Topic() expected error")
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Errorf("Topic() error = %v, want %v", err, tt.wantErr)
			}
			if tt.wantStatus != 0 {
				statusErr, ok := IsHTTPStatusError(err)
				if !ok {
					t.Fatalf("Topic() error = %v, want HTTPStatusError", err)
				}
				if statusErr.StatusCode != tt.wantStatus {
					t.Errorf("StatusCode = %d, want %d", statusErr.StatusCode, tt.wantStatus)
				}
			}
		})
	}
}

func TestRiaBBSTopicMissingPagination(t *testing.T) {
	srv := newRiaBBSServer(t, http.StatusOK, `{"title": "t", "posts": []}`, nil)
	r := NewRiaBBS(srv.Client(), srv.URL, nil, testLogger())

	topic, err := r.Topic(context.Background(), moderation.TopicReference{TopicID: 42, Page: 1})
	if err != nil {
		t.Fatalf("Topic() error = %v", err)
	}
	if len(topic.Contents) != 0 {
		t.Errorf("Contents = %q, want empty", topic.Contents)
	}
	if topic.TotalPages != 1 {
		t.Errorf("TotalPages = %d, want 1", topic.TotalPages)
	}
}
