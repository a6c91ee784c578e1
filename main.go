// Package main implements a Cloud Run service that fetches forum content,
// scores it against a moderation policy through a chat-completion API, and
// relays visitor alerts to a DingTalk robot.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"github.com/joho/godotenv"
	"google.golang.org/api/option"

	"content-security-bff/notify"
	"content-security-bff/review"
	"content-security-bff/scraper"
	"content-security-bff/server"
	promptstore "content-security-bff/storage"
)

// Config is the process configuration read from the environment.
type Config struct {
	Port                string
	V2EXBaseURL         string
	RiaBBSBaseURL       string
	DingTalkBaseURL     string
	DingTalkAccessToken string
	DingTalkSecret      string
	PromptVersion       string
	PromptBucket        string
	PromptDir           string
	CredentialsJSON     string
	HTTPTimeout         time.Duration
	LogLevel            slog.Level
}

func loadConfig(getenv func(string) string) (*Config, error) {
	cfg := &Config{
		Port:                getenv("PORT"),
		V2EXBaseURL:         getenv("V2EX_API_BASE"),
		RiaBBSBaseURL:       getenv("RIABBS_API_BASE"),
		DingTalkBaseURL:     getenv("DINGTALK_API_BASE"),
		DingTalkAccessToken: getenv("DINGTALK_ACCESS_TOKEN"),
		DingTalkSecret:      getenv("DINGTALK_SECRET"),
		PromptVersion:       getenv("PROMPT_VERSION"),
		PromptBucket:        getenv("PROMPT_BUCKET"),
		PromptDir:           getenv("PROMPT_DIR"),
		CredentialsJSON:     getenv("GOOGLE_CREDENTIALS_JSON"),
		HTTPTimeout:         60 * time.Second,
		LogLevel:            slog.LevelInfo,
	}
	if cfg.Port == "" {
		cfg.Port = "8080"
	}
	if cfg.V2EXBaseURL == "" {
		cfg.V2EXBaseURL = scraper.DefaultV2EXBaseURL
	}
	if cfg.RiaBBSBaseURL == "" {
		cfg.RiaBBSBaseURL = scraper.DefaultRiaBBSBaseURL
	}
	if cfg.DingTalkBaseURL == "" {
		cfg.DingTalkBaseURL = notify.DefaultBaseURL
	}
	if cfg.PromptVersion == "" {
		cfg.PromptVersion = review.DefaultPolicyVersion
	}

	if v := getenv("HTTP_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return nil, fmt.Errorf("HTTP_TIMEOUT: %w", err)
		}
		if d <= 0 {
			return nil, fmt.Errorf("HTTP_TIMEOUT must be positive, got %s", d)
		}
		cfg.HTTPTimeout = d
	}

	if v := getenv("LOG_LEVEL"); v != "" {
		if err := cfg.LogLevel.UnmarshalText([]byte(strings.ToUpper(v))); err != nil {
			return nil, fmt.Errorf("LOG_LEVEL: %w", err)
		}
	}

	return cfg, nil
}

func main() {
	ctx := context.Background()

	// Optional .env for local development
	envErr := godotenv.Load()

	cfg, err := loadConfig(os.Getenv)
	if err != nil {
		slog.Error("Invalid configuration", "error", err)
		os.Exit(1)
	}

	// Initialize structured logger
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}))
	slog.SetDefault(logger)

	if envErr != nil && !errors.Is(envErr, os.ErrNotExist) {
		logger.Warn("Failed to load .env file", "error", envErr)
	}

	policy, err := loadPolicy(ctx, cfg, logger)
	if err != nil {
		logger.Error("Failed to load moderation policy", "version", cfg.PromptVersion, "error", err)
		os.Exit(1)
	}

	httpClient := &http.Client{Timeout: cfg.HTTPTimeout}

	notifier := notify.New(httpClient, notify.Config{
		BaseURL:     cfg.DingTalkBaseURL,
		AccessToken: cfg.DingTalkAccessToken,
		Secret:      cfg.DingTalkSecret,
	}, logger)
	if !notifier.Configured() {
		logger.Warn("DINGTALK_ACCESS_TOKEN or DINGTALK_SECRET not set, webhook reports will be declined")
	}

	srv := server.New(&server.Config{
		V2EX:            scraper.NewV2EX(httpClient, cfg.V2EXBaseURL, logger),
		RiaBBS:          scraper.NewRiaBBS(httpClient, cfg.RiaBBSBaseURL, scraper.NewNormalizer(), logger),
		Reviewer:        review.New(httpClient, policy, logger),
		Notifier:        notifier,
		Logger:          logger,
		IsUpstreamError: isUpstreamError,
	})

	logger.Info("Service configured",
		"policy_version", policy.Version(),
		"http_timeout", cfg.HTTPTimeout.String(),
		"v2ex_api", cfg.V2EXBaseURL,
		"riabbs_api", cfg.RiaBBSBaseURL)

	if err := srv.ServeHTTP(cfg.Port); err != nil {
		logger.Error("Server failed", "error", err)
		os.Exit(1)
	}
}

func isUpstreamError(err error) bool {
	if _, ok := scraper.IsHTTPStatusError(err); ok {
		return true
	}
	return review.IsAPIError(err)
}

// loadPolicy reads the configured policy once at start-up. A store that is
// configured but cannot serve the version falls back to the embedded copy.
func loadPolicy(ctx context.Context, cfg *Config, logger *slog.Logger) (*review.Policy, error) {
	if cfg.PromptDir == "" && cfg.PromptBucket == "" {
		return review.EmbeddedPolicy(cfg.PromptVersion)
	}

	var client *storage.Client
	if cfg.PromptDir == "" {
		var opts []option.ClientOption
		if cfg.CredentialsJSON != "" {
			opts = append(opts, option.WithCredentialsJSON([]byte(cfg.CredentialsJSON)))
		}
		var err error
		client, err = storage.NewClient(ctx, opts...)
		if err != nil {
			logger.Warn("Failed to initialize Storage client, using embedded policy", "error", err)
			return review.EmbeddedPolicy(cfg.PromptVersion)
		}
		defer func() {
			if err := client.Close(); err != nil {
				logger.Warn("Failed to close storage client", "error", err)
			}
		}()
	}

	store := promptstore.New(client, cfg.PromptBucket, cfg.PromptDir, logger)

	loadCtx, cancel := context.WithTimeout(ctx, time.Minute)
	defer cancel()

	if versions, err := store.List(loadCtx); err != nil {
		logger.Warn("Failed to list prompt versions", "error", err)
	} else {
		logger.Info("Prompt versions available", "versions", versions)
	}

	text, err := store.Load(loadCtx, cfg.PromptVersion)
	if err != nil {
		if promptstore.IsNotFound(err) {
			logger.Warn("Prompt version not in store, using embedded policy", "version", cfg.PromptVersion)
		} else {
			logger.Warn("Prompt store load failed, using embedded policy", "version", cfg.PromptVersion, "error", err)
		}
		return review.EmbeddedPolicy(cfg.PromptVersion)
	}
	return review.NewPolicy(cfg.PromptVersion, text)
}
