// Package discovery finds candidate products across independent sources and
// records them as pipeline products.
package discovery

import (
	"context"
	"strings"

	"github.com/JakeFAU/agentic-reviewer/internal/pipeline"
)

// Item is one candidate reported by a source.
type Item struct {
	Name        string          `json:"name"`
	URL         string          `json:"url"`
	Description string          `json:"description"`
	Source      pipeline.Source `json:"source"`
}

// Source discovers candidates from one place.
type Source interface {
	Name() string
	Discover(ctx context.Context) ([]Item, error)
}

// NormalizeURL is the deduplication key: trailing slashes stripped, case folded.
func NormalizeURL(raw string) string {
	return strings.ToLower(strings.TrimRight(strings.TrimSpace(raw), "/"))
}

// Dedupe keeps the first item seen for each normalized URL, preserving order.
func Dedupe(items []Item) []Item {
	seen := make(map[string]struct{}, len(items))
	out := make([]Item, 0, len(items))
	for _, item := range items {
		key := NormalizeURL(item.URL)
		if key == "" {
			continue
		}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, item)
	}
	return out
}

func truncate(s string, limit int) string {
	runes := []rune(strings.TrimSpace(s))
	if len(runes) <= limit {
		return string(runes)
	}
	return string(runes[:limit])
}
