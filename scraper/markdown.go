package scraper

import (
	"regexp"
	"strings"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/PuerkitoBio/goquery"
	"github.com/microcosm-cc/bluemonday"
)

var (
	imageCodeRegex = regexp.MustCompile(`!\[.*?\]\(.*?\)`)
	classRegex     = regexp.MustCompile(`^[\w\s-]+$`)
)

// Normalizer turns forum post HTML into plain text suitable for review.
// It is safe for concurrent use.
type Normalizer struct {
	policy    *bluemonday.Policy
	converter *md.Converter
}

// NewNormalizer creates a Normalizer with a user-generated-content sanitizing policy.
func NewNormalizer() *Normalizer {
	policy := bluemonday.UGCPolicy()
	policy.AllowAttrs("class").Matching(classRegex).OnElements("img")

	converter := md.NewConverter("", true, nil)
	converter.AddRules(md.Rule{
		// Forum emoji are images whose alt is the emoji itself; keep the text
		// so it survives image removal.
		Filter: []string{"img"},
		Replacement: func(_ string, selec *goquery.Selection, _ *md.Options) *string {
			alt, ok := selec.Attr("alt")
			if !ok || alt == "" || !selec.HasClass("emoji") {
				return nil
			}
			return md.String(alt)
		},
	})

	return &Normalizer{policy: policy, converter: converter}
}

// Normalize sanitizes rawHTML, converts it to markdown, then strips image
// markup and blank lines.
func (n *Normalizer) Normalize(rawHTML string) string {
	return removeEmptyLines(removeImageCode(n.toMarkdown(rawHTML)))
}

func (n *Normalizer) toMarkdown(rawHTML string) string {
	sanitized := n.policy.Sanitize(rawHTML)

	markdown, err := n.converter.ConvertString(sanitized)
	if err != nil {
		return strings.TrimSpace(sanitized)
	}
	return markdown
}

// removeImageCode strips markdown image markup.
func removeImageCode(markdown string) string {
	return imageCodeRegex.ReplaceAllString(markdown, "")
}

// removeEmptyLines drops lines that are empty or whitespace only.
func removeEmptyLines(text string) string {
	lines := strings.Split(text, "\n")
	kept := lines[:0]
	for _, line := range lines {
		if strings.TrimSpace(line) != "" {
			kept = append(kept, line)
		}
	}
	return strings.Join(kept, "\n")
}
