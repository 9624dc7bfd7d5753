package discovery

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/PuerkitoBio/goquery"

	collyfetcher "github.com/JakeFAU/agentic-reviewer/internal/fetcher/colly"
	"github.com/JakeFAU/agentic-reviewer/internal/pipeline"
	"github.com/JakeFAU/agentic-reviewer/internal/retry"
)

// Product Hunt endpoints.
const (
	DefaultProductHuntAPIURL   = "https://api.producthunt.com/v2/api/graphql"
	DefaultProductHuntSiteURL  = "https://www.producthunt.com"
	DefaultProductHuntTopicURL = DefaultProductHuntSiteURL + "/topics/saas"
)

const (
	productHuntLimit = 20
	productHuntQuery = `{ posts(order: NEWEST, first: 20, topic: "saas") { edges { node { name tagline website url } } } }`
)

// ErrNoRenderer is returned when scraping is needed but no browser is available.
var ErrNoRenderer = errors.New("product hunt scrape needs a browser renderer")

// HTMLRenderer loads a page in a real browser and returns its DOM.
type HTMLRenderer interface {
	RenderHTML(ctx context.Context, rawURL string) (string, error)
}

// PageDetector decides whether a fetched page must be rendered in a browser.
type PageDetector interface {
	NeedsBrowser(status int, body []byte) bool
}

// ProductHunt uses the GraphQL API when Token is set and scrapes the SaaS topic
// page otherwise. The scrape tries a plain fetch first and falls back to
// Renderer when Detector flags the page or the plain HTML has no listings.
type ProductHunt struct {
	Token    string
	APIURL   string
	PageURL  string
	Fetcher  Fetcher
	Renderer HTMLRenderer
	Detector PageDetector
	Policy   retry.Policy
}

type productHuntResponse struct {
	Data struct {
		Posts struct {
			Edges []struct {
				Node struct {
					Name    string `json:"name"`
					Tagline string `json:"tagline"`
					Website string `json:"website"`
					URL     string `json:"url"`
				} `json:"node"`
			} `json:"edges"`
		} `json:"posts"`
	} `json:"data"`
	Errors []struct {
		Message string `json:"message"`
	} `json:"errors"`
}

// Name implements Source.
func (p *ProductHunt) Name() string { return string(pipeline.SourceProductHunt) }

// Discover implements Source.
func (p *ProductHunt) Discover(ctx context.Context) ([]Item, error) {
	if p.Token != "" {
		return p.fromAPI(ctx)
	}
	return p.fromPage(ctx)
}

func (p *ProductHunt) fromAPI(ctx context.Context) ([]Item, error) {
	endpoint := p.APIURL
	if endpoint == "" {
		endpoint = DefaultProductHuntAPIURL
	}
	body, err := json.Marshal(map[string]string{"query": productHuntQuery})
	if err != nil {
		return nil, fmt.Errorf("encode query: %w", err)
	}
	headers := http.Header{}
	headers.Set("Content-Type", "application/json")
	headers.Set("Authorization", "Bearer "+p.Token)

	var out productHuntResponse
	req := collyfetcher.Request{Method: http.MethodPost, URL: endpoint, Headers: headers, Body: body}
	if err := fetchJSON(ctx, p.Fetcher, p.Policy.Named("producthunt.api"), req, &out); err != nil {
		return nil, fmt.Errorf("product hunt api: %w", err)
	}
	if len(out.Errors) > 0 {
		return nil, fmt.Errorf("product hunt api: %s", out.Errors[0].Message)
	}

	items := make([]Item, 0, len(out.Data.Posts.Edges))
	for _, edge := range out.Data.Posts.Edges {
		node := edge.Node
		link := node.Website
		if link == "" {
			link = node.URL
		}
		if link == "" {
			continue
		}
		items = append(items, Item{
			Name:        node.Name,
			URL:         link,
			Description: node.Tagline,
			Source:      pipeline.SourceProductHunt,
		})
	}
	return items, nil
}

func (p *ProductHunt) fromPage(ctx context.Context) ([]Item, error) {
	page := p.PageURL
	if page == "" {
		page = DefaultProductHuntTopicURL
	}
	if items := p.probe(ctx, page); len(items) > 0 {
		return items, nil
	}
	if p.Renderer == nil {
		return nil, ErrNoRenderer
	}
	html, err := p.Renderer.RenderHTML(ctx, page)
	if err != nil {
		return nil, fmt.Errorf("product hunt scrape: %w", err)
	}
	return ParseProductHuntPage(html)
}

// probe fetches page without a browser. It returns nothing when the fetch
// fails, the page needs a browser, or it holds no listings.
func (p *ProductHunt) probe(ctx context.Context, page string) []Item {
	if p.Fetcher == nil {
		return nil
	}
	resp, err := p.Fetcher.Fetch(ctx, collyfetcher.Request{Method: http.MethodGet, URL: page})
	if err != nil {
		return nil
	}
	if p.Detector != nil && p.Detector.NeedsBrowser(resp.StatusCode, resp.Body) {
		return nil
	}
	items, err := ParseProductHuntPage(string(resp.Body))
	if err != nil {
		return nil
	}
	return items
}

// ParseProductHuntPage extracts up to 20 listings from a rendered topic page.
func ParseProductHuntPage(html string) ([]Item, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("parse product hunt page: %w", err)
	}
	var items []Item
	doc.Find(`[data-test="post-item"]`).EachWithBreak(func(_ int, card *goquery.Selection) bool {
		if len(items) >= productHuntLimit {
			return false
		}
		name := strings.TrimSpace(card.Find(`h3, [data-test='post-name']`).First().Text())
		href, _ := card.Find(`a[href*='/posts/']`).First().Attr("href")
		if name == "" || href == "" {
			return true
		}
		if strings.HasPrefix(href, "/") {
			href = DefaultProductHuntSiteURL + href
		}
		desc := strings.TrimSpace(card.Find(`[data-test='tagline'], .tagline, h3 + div, h3 + p`).First().Text())
		items = append(items, Item{
			Name:        name,
			URL:         href,
			Description: desc,
			Source:      pipeline.SourceProductHunt,
		})
		return true
	})
	return items, nil
}
