// Package storage loads moderation policy prompts from Cloud Storage or a local directory.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"github.com/codeGROOVE-dev/retry"
	"google.golang.org/api/iterator"
)

const (
	objectPrefix = "prompts/"
	objectSuffix = ".txt"
	maxPromptLen = 256 << 10
)

// ErrNotFound indicates the requested prompt version does not exist.
var ErrNotFound = errors.New("storage: object doesn't exist")

// Store reads policy prompts. Exactly one of client+bucket or localPath is used.
type Store struct {
	client    *storage.Client
	logger    *slog.Logger
	localPath string
	bucket    string
}

// New creates a prompt store. A non-empty localPath takes precedence over the bucket.
func New(client *storage.Client, bucket string, localPath string, logger *slog.Logger) *Store {
	return &Store{
		client:    client,
		logger:    logger,
		localPath: localPath,
		bucket:    bucket,
	}
}

// PromptKey maps a version name to its object name.
// Returns "" unless version is a non-empty run of [a-z0-9-], which rules out path traversal.
func PromptKey(version string) string {
	if version == "" || len(version) > 64 {
		return ""
	}
	for _, c := range version {
		if (c < 'a' || c > 'z') && (c < '0' || c > '9') && c != '-' {
			return ""
		}
	}
	return objectPrefix + version + objectSuffix
}

// Load returns the prompt text for a version.
func (s *Store) Load(ctx context.Context, version string) (string, error) {
	key := PromptKey(version)
	if key == "" {
		return "", fmt.Errorf("invalid prompt version %q", version)
	}

	var data []byte

	// Local filesystem storage
	if s.localPath != "" {
		filePath := filepath.Join(s.localPath, strings.TrimPrefix(key, objectPrefix))
		var err error
		data, err = os.ReadFile(filePath)
		if err != nil {
			if os.IsNotExist(err) {
				return "", fmt.Errorf("%w: %s", ErrNotFound, filePath)
			}
			return "", fmt.Errorf("read from local storage: %w", err)
		}
		s.logger.Info("Prompt loaded from local storage", "path", filePath, "version", version, "bytes", len(data))
		return string(data), nil
	}

	if s.client == nil {
		return "", errors.New("no prompt storage configured")
	}

	// Cloud Storage, retried since this only runs at start-up
	var notFound bool
	err := retry.Do(
		func() error {
			r, openErr := s.client.Bucket(s.bucket).Object(key).NewReader(ctx)
			if openErr != nil {
				if errors.Is(openErr, storage.ErrObjectNotExist) {
					notFound = true
					return retry.Unrecoverable(fmt.Errorf("open storage reader: %w", openErr))
				}
				return fmt.Errorf("open storage reader: %w", openErr)
			}
			defer func() {
				if closeErr := r.Close(); closeErr != nil {
					s.logger.Warn("Failed to close storage reader", "error", closeErr)
				}
			}()

			var readErr error
			data, readErr = io.ReadAll(io.LimitReader(r, maxPromptLen))
			if readErr != nil {
				return fmt.Errorf("read from storage: %w", readErr)
			}
			return nil
		},
		retry.Attempts(3),
		retry.Delay(time.Second),
		retry.MaxDelay(10*time.Second),
		retry.MaxJitter(time.Second),
		retry.Context(ctx),
		retry.OnRetry(func(n uint, retryErr error) {
			s.logger.Info("Retrying prompt load after error", "attempt", n, "key", key, "error", retryErr)
		}),
	)
	if notFound {
		return "", fmt.Errorf("%w: gs://%s/%s", ErrNotFound, s.bucket, key)
	}
	if err != nil {
		return "", fmt.Errorf("load after retries: %w", err)
	}

	s.logger.Info("Prompt loaded from Cloud Storage", "bucket", s.bucket, "key", key, "bytes", len(data))
	return string(data), nil
}

// List returns the prompt versions available in the store, sorted.
func (s *Store) List(ctx context.Context) ([]string, error) {
	var versions []string

	// Local filesystem storage
	if s.localPath != "" {
		entries, err := os.ReadDir(s.localPath)
		if err != nil {
			return nil, fmt.Errorf("read local storage directory: %w", err)
		}
		for _, entry := range entries {
			name := entry.Name()
			if entry.IsDir() || !strings.HasSuffix(name, objectSuffix) {
				continue
			}
			if v := strings.TrimSuffix(name, objectSuffix); PromptKey(v) != "" {
				versions = append(versions, v)
			}
		}
		sort.Strings(versions)
		return versions, nil
	}

	if s.client == nil {
		return nil, errors.New("no prompt storage configured")
	}

	// Cloud Storage
	it := s.client.Bucket(s.bucket).Objects(ctx, &storage.Query{
		Prefix: objectPrefix,
	})
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("iterate storage: %w", err)
		}
		name := strings.TrimPrefix(attrs.Name, objectPrefix)
		if !strings.HasSuffix(name, objectSuffix) {
			continue
		}
		if v := strings.TrimSuffix(name, objectSuffix); PromptKey(v) != "" {
			versions = append(versions, v)
		}
	}
	sort.Strings(versions)
	return versions, nil
}

// IsNotFound checks if an error indicates a prompt version was not found.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
