package discovery

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	collyfetcher "github.com/JakeFAU/agentic-reviewer/internal/fetcher/colly"
	"github.com/JakeFAU/agentic-reviewer/internal/pipeline"
	"github.com/JakeFAU/agentic-reviewer/internal/retry"
)

// DefaultHackerNewsBaseURL is the Firebase API root.
const DefaultHackerNewsBaseURL = "https://hacker-news.firebaseio.com/v0"

const (
	hackerNewsLimit       = 20
	hackerNewsConcurrency = 5
)

// HackerNews reads the newest Show HN stories.
type HackerNews struct {
	BaseURL string
	Fetcher Fetcher
	Policy  retry.Policy
	Logger  *zap.Logger
}

type hnItem struct {
	ID    int64  `json:"id"`
	Title string `json:"title"`
	URL   string `json:"url"`
	Text  string `json:"text"`
}

// Name implements Source.
func (h *HackerNews) Name() string { return string(pipeline.SourceHackerNews) }

// Discover implements Source. Individual story lookups that fail are skipped.
func (h *HackerNews) Discover(ctx context.Context) ([]Item, error) {
	base := strings.TrimRight(h.BaseURL, "/")
	if base == "" {
		base = DefaultHackerNewsBaseURL
	}
	logger := h.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	var ids []int64
	if err := fetchJSON(ctx, h.Fetcher, h.Policy.Named("hackernews.list"),
		collyfetcher.Request{URL: base + "/showstories.json"}, &ids); err != nil {
		return nil, fmt.Errorf("list show stories: %w", err)
	}
	if len(ids) > hackerNewsLimit {
		ids = ids[:hackerNewsLimit]
	}

	stories := make([]*hnItem, len(ids))
	var g errgroup.Group
	g.SetLimit(hackerNewsConcurrency)
	for i, id := range ids {
		g.Go(func() error {
			var story hnItem
			err := fetchJSON(ctx, h.Fetcher, h.Policy.Named("hackernews.item"),
				collyfetcher.Request{URL: fmt.Sprintf("%s/item/%d.json", base, id)}, &story)
			if err != nil {
				logger.Debug("skipping hacker news item", zap.Int64("id", id), zap.Error(err))
				return nil
			}
			stories[i] = &story
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	items := make([]Item, 0, len(stories))
	for _, story := range stories {
		if story == nil || story.URL == "" || isYCombinator(story.URL) {
			continue
		}
		name := strings.TrimSpace(story.Title)
		if name == "" {
			name = "Untitled"
		}
		description := strings.TrimSpace(story.Text)
		if description == "" {
			description = story.Title
		}
		items = append(items, Item{
			Name:        name,
			URL:         story.URL,
			Description: description,
			Source:      pipeline.SourceHackerNews,
		})
	}
	return items, nil
}

func isYCombinator(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	host := strings.ToLower(u.Hostname())
	return host == "ycombinator.com" || strings.HasSuffix(host, ".ycombinator.com")
}
