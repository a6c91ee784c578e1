// Package review asks a chat-completion API to score content against the moderation policy.
package review

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"
)

//go:embed prompts/*.txt
var promptFS embed.FS

// DefaultPolicyVersion is the policy served when no version is configured.
const DefaultPolicyVersion = "v2"

// ChatMessage is one role-tagged message of a chat-completion request.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Policy is the immutable moderation system instruction.
type Policy struct {
	version string
	text    string
}

// NewPolicy wraps a loaded policy text.
func NewPolicy(version, text string) (*Policy, error) {
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("policy %q is empty", version)
	}
	return &Policy{version: version, text: text}, nil
}

// EmbeddedPolicy returns one of the policies compiled into the binary.
func EmbeddedPolicy(version string) (*Policy, error) {
	if version == "" {
		version = DefaultPolicyVersion
	}
	data, err := promptFS.ReadFile(path.Join("prompts", version+".txt"))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("unknown policy version %q (embedded: %s)", version, strings.Join(EmbeddedVersions(), ", "))
		}
		return nil, fmt.Errorf("read embedded policy: %w", err)
	}
	return NewPolicy(version, string(data))
}

// EmbeddedVersions lists the policy versions compiled into the binary.
func EmbeddedVersions() []string {
	entries, err := promptFS.ReadDir("prompts")
	if err != nil {
		return nil
	}
	versions := make([]string, 0, len(entries))
	for _, e := range entries {
		versions = append(versions, strings.TrimSuffix(e.Name(), ".txt"))
	}
	sort.Strings(versions)
	return versions
}

// Version returns the policy version name.
func (p *Policy) Version() string {
	return p.version
}

// SystemMessage returns the policy text verbatim.
func (p *Policy) SystemMessage() string {
	return p.text
}

// Messages builds the request conversation: the policy first, then the content under review.
func (p *Policy) Messages(content string) []ChatMessage {
	return []ChatMessage{
		{Role: "system", Content: p.text},
		{Role: "user", Content: content},
	}
}
