package review

import (
	"fmt"
	"strconv"
	"strings"

	"content-security-bff/pkg/moderation"
)

const (
	minScore = 0
	maxScore = 100
)

// ParseScore reads the model reply as a bare base-10 integer in [0, 100].
// Anything else is an upstream contract violation and is never clamped.
func ParseScore(reply string) (int, error) {
	trimmed := strings.TrimSpace(reply)
	score, err := strconv.Atoi(trimmed)
	if err != nil {
		return 0, fmt.Errorf("%w: reply %q is not an integer", moderation.ErrInvalidScore, truncate(trimmed, 64))
	}
	if score < minScore || score > maxScore {
		return 0, fmt.Errorf("%w: %d out of range [%d, %d]", moderation.ErrInvalidScore, score, minScore, maxScore)
	}
	return score, nil
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "…"
}
