// Package server exposes the content-security procedures over a tRPC-compatible HTTP surface.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"

	"content-security-bff/notify"
	"content-security-bff/pkg/moderation"
)

// V2EX reads topics and replies from the V2EX API.
type V2EX interface {
	TopicContent(ctx context.Context, ref moderation.TopicReference) (string, error)
	TopicReplyContents(ctx context.Context, ref moderation.TopicReference) ([]string, error)
}

// RiaBBS reads normalized topic pages from RIA BBS.
type RiaBBS interface {
	Topic(ctx context.Context, ref moderation.TopicReference) (*moderation.Topic, error)
}

// Reviewer scores content against the moderation policy.
type Reviewer interface {
	Review(ctx context.Context, req moderation.ReviewRequest) (*moderation.ReviewResult, error)
	SystemMessage() string
}

// Notifier relays visitor alerts to the chat robot.
type Notifier interface {
	Report(ctx context.Context, ip, userAgent string) notify.Result
}

// IsUpstreamError checks if an error is a non-2xx answer from an upstream API.
type IsUpstreamError func(error) bool

// Server handles HTTP requests.
type Server struct {
	v2ex            V2EX
	riabbs          RiaBBS
	reviewer        Reviewer
	notifier        Notifier
	logger          *slog.Logger
	validate        *validator.Validate
	isUpstreamError IsUpstreamError
	now             func() time.Time
	procedures      map[string]procedure
}

// Config holds server configuration.
type Config struct {
	V2EX            V2EX
	RiaBBS          RiaBBS
	Reviewer        Reviewer
	Notifier        Notifier
	Logger          *slog.Logger
	IsUpstreamError IsUpstreamError
	Now             func() time.Time
}

// New creates a new HTTP server handler.
func New(cfg *Config) *Server {
	s := &Server{
		v2ex:            cfg.V2EX,
		riabbs:          cfg.RiaBBS,
		reviewer:        cfg.Reviewer,
		notifier:        cfg.Notifier,
		logger:          cfg.Logger,
		validate:        newValidator(),
		isUpstreamError: cfg.IsUpstreamError,
		now:             cfg.Now,
	}
	if s.isUpstreamError == nil {
		s.isUpstreamError = func(error) bool { return false }
	}
	if s.now == nil {
		s.now = time.Now
	}
	s.procedures = s.routes()
	return s
}

// Handler returns the routed handler wrapped in request logging.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/trpc/", s.handleTRPC)
	mux.HandleFunc("/api/dingtalk-report", s.handleReport)
	return s.withRequestLogging(mux)
}

// ServeHTTP starts the server on port and blocks until it stops.
func (s *Server) ServeHTTP(port string) error {
	// Configure server with timeouts to prevent resource exhaustion
	server := &http.Server{
		Addr:              ":" + port,
		Handler:           s.Handler(),
		ReadTimeout:       10 * time.Second,  // Time to read request headers and body
		WriteTimeout:      90 * time.Second,  // Covers the slowest model completion
		IdleTimeout:       120 * time.Second, // Time to keep connection alive between requests
		ReadHeaderTimeout: 5 * time.Second,   // Time to read request headers only
	}

	s.logger.Info("Starting HTTP server", "port", port, "procedures", len(s.procedures))
	return server.ListenAndServe()
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if _, err := fmt.Fprint(w, `{"status":"healthy"}`); err != nil {
		s.logger.Warn("Failed to write health response", "error", err)
		return
	}
}
