package discovery

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strings"

	"go.uber.org/zap"

	collyfetcher "github.com/JakeFAU/agentic-reviewer/internal/fetcher/colly"
	"github.com/JakeFAU/agentic-reviewer/internal/pipeline"
	"github.com/JakeFAU/agentic-reviewer/internal/retry"
)

// DefaultRedditBaseURL is the public listing root.
const DefaultRedditBaseURL = "https://www.reddit.com"

// DefaultRedditUserAgent identifies the crawler; Reddit rejects blank agents.
const DefaultRedditUserAgent = "AgenticReviewer/1.0 (https://github.com/agenticreviewer)"

const (
	redditPageSize    = 25
	redditLimit       = 20
	redditNameMax     = 200
	redditDescription = 500
)

// DefaultSubreddits are polled when none are configured.
var DefaultSubreddits = []string{"SaaS", "startups"}

var (
	redditSkipDomains = map[string]struct{}{
		"reddit.com": {}, "i.redd.it": {}, "v.redd.it": {}, "imgur.com": {},
		"youtube.com": {}, "youtu.be": {}, "twitter.com": {}, "x.com": {},
	}
	selfPostURL = regexp.MustCompile(`https?://[^\s)>\]]+`)
)

// Reddit reads the newest posts of a few startup subreddits.
type Reddit struct {
	BaseURL    string
	UserAgent  string
	Subreddits []string
	Fetcher    Fetcher
	Policy     retry.Policy
	Logger     *zap.Logger
}

type redditListing struct {
	Data struct {
		Children []struct {
			Data redditPost `json:"data"`
		} `json:"children"`
	} `json:"data"`
}

type redditPost struct {
	Title    string `json:"title"`
	URL      string `json:"url"`
	SelfText string `json:"selftext"`
	IsSelf   bool   `json:"is_self"`
	Domain   string `json:"domain"`
}

// Name implements Source.
func (r *Reddit) Name() string { return string(pipeline.SourceReddit) }

// Discover implements Source. A subreddit that fails is logged and skipped;
// the source fails only when every subreddit does.
func (r *Reddit) Discover(ctx context.Context) ([]Item, error) {
	base := strings.TrimRight(r.BaseURL, "/")
	if base == "" {
		base = DefaultRedditBaseURL
	}
	agent := r.UserAgent
	if agent == "" {
		agent = DefaultRedditUserAgent
	}
	subs := r.Subreddits
	if len(subs) == 0 {
		subs = DefaultSubreddits
	}
	logger := r.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	var (
		items []Item
		errs  []error
	)
	for _, sub := range subs {
		var listing redditListing
		headers := http.Header{}
		headers.Set("User-Agent", agent)
		req := collyfetcher.Request{
			URL:     fmt.Sprintf("%s/r/%s/new.json?limit=%d", base, url.PathEscape(sub), redditPageSize),
			Headers: headers,
		}
		if err := fetchJSON(ctx, r.Fetcher, r.Policy.Named("reddit.listing"), req, &listing); err != nil {
			logger.Warn("subreddit fetch failed", zap.String("subreddit", sub), zap.Error(err))
			errs = append(errs, fmt.Errorf("r/%s: %w", sub, err))
			continue
		}
		for _, child := range listing.Data.Children {
			if item, ok := redditItem(child.Data); ok {
				items = append(items, item)
			}
		}
	}
	if len(errs) == len(subs) {
		return nil, errors.Join(errs...)
	}
	if len(items) > redditLimit {
		items = items[:redditLimit]
	}
	return items, nil
}

func redditItem(post redditPost) (Item, bool) {
	link := ""
	if !post.IsSelf && post.URL != "" && !skippedDomain(post.URL) {
		link = post.URL
	} else if post.SelfText != "" {
		for _, candidate := range selfPostURL.FindAllString(post.SelfText, -1) {
			if !skippedDomain(candidate) {
				link = candidate
				break
			}
		}
	}
	if link == "" {
		return Item{}, false
	}
	description := post.SelfText
	if description == "" {
		description = post.Title
	}
	return Item{
		Name:        truncate(post.Title, redditNameMax),
		URL:         link,
		Description: truncate(description, redditDescription),
		Source:      pipeline.SourceReddit,
	}, true
}

func skippedDomain(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil || u.Hostname() == "" {
		return true
	}
	host := strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
	_, skip := redditSkipDomains[host]
	return skip
}
