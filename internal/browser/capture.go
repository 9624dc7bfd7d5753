package browser

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"

	"github.com/JakeFAU/agentic-reviewer/internal/retry"
)

// MaxBodyText caps the extracted body text, in runes.
const MaxBodyText = 10000

const (
	viewportWidth  = 1280
	viewportHeight = 800
	defaultNavWait = 30 * time.Second
)

// Capture is everything gathered from one page load.
type Capture struct {
	URL        string
	PNG        []byte
	Width      int
	Height     int
	Extraction Extraction
}

// Extraction is the readable content of a page.
type Extraction struct {
	Title    string
	Headings []string
	BodyText string
	LoadTime time.Duration
}

// CapturePage navigates page to rawURL once and returns a viewport screenshot
// together with the page's text content. A document answered with a 4xx or 5xx
// status fails with a classified retry error instead of capturing the error page.
func CapturePage(ctx context.Context, page Page, rawURL string, timeout time.Duration) (Capture, error) {
	if timeout <= 0 {
		timeout = defaultNavWait
	}
	taskCtx, cancel := context.WithTimeout(page.Context(), timeout)
	defer cancel()
	stop := forwardCancel(ctx, cancel)
	defer stop()

	var (
		png      []byte
		html     string
		finalURL string
		loadTime time.Duration
	)
	var doc documentStatus
	chromedp.ListenTarget(taskCtx, doc.observe)

	start := time.Now()
	err := chromedp.Run(taskCtx,
		network.Enable(),
		chromedp.EmulateViewport(viewportWidth, viewportHeight),
		chromedp.Navigate(rawURL),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.ActionFunc(func(context.Context) error {
			loadTime = time.Since(start)
			return nil
		}),
		chromedp.Location(&finalURL),
	)
	if err != nil {
		return Capture{}, fmt.Errorf("capture %s: %w", rawURL, err)
	}
	if code := doc.code(); code >= 400 {
		return Capture{}, fmt.Errorf("capture %s: %w", rawURL, retry.FromStatus(code, nil, nil))
	}
	if err := chromedp.Run(taskCtx,
		chromedp.CaptureScreenshot(&png),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	); err != nil {
		return Capture{}, fmt.Errorf("capture %s: %w", rawURL, err)
	}

	extraction, err := ParseHTML(html)
	if err != nil {
		return Capture{}, err
	}
	extraction.LoadTime = loadTime
	if finalURL == "" {
		finalURL = rawURL
	}
	return Capture{
		URL:        finalURL,
		PNG:        png,
		Width:      viewportWidth,
		Height:     viewportHeight,
		Extraction: extraction,
	}, nil
}

// documentStatus remembers the status of the first document response seen on
// a tab. Redirects do not produce one, so that is the landing page's status.
type documentStatus struct {
	mu     sync.Mutex
	status int
}

func (d *documentStatus) observe(ev any) {
	resp, ok := ev.(*network.EventResponseReceived)
	if !ok || resp.Type != network.ResourceTypeDocument || resp.Response == nil {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.status == 0 {
		d.status = int(resp.Response.Status)
	}
}

func (d *documentStatus) code() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.status
}

// RenderHTML navigates page to rawURL and returns the rendered DOM.
func RenderHTML(ctx context.Context, page Page, rawURL string, timeout time.Duration) (string, error) {
	if timeout <= 0 {
		timeout = defaultNavWait
	}
	taskCtx, cancel := context.WithTimeout(page.Context(), timeout)
	defer cancel()
	stop := forwardCancel(ctx, cancel)
	defer stop()

	var html string
	err := chromedp.Run(taskCtx,
		chromedp.Navigate(rawURL),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Sleep(500*time.Millisecond),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	)
	if err != nil {
		return "", fmt.Errorf("render %s: %w", rawURL, err)
	}
	return html, nil
}

// ParseHTML pulls the title, h1-h3 headings and visible body text from a document.
func ParseHTML(html string) (Extraction, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return Extraction{}, fmt.Errorf("parse html: %w", err)
	}
	out := Extraction{
		Title:    collapseSpace(doc.Find("title").First().Text()),
		Headings: []string{},
	}
	doc.Find("h1, h2, h3").Each(func(_ int, s *goquery.Selection) {
		if text := collapseSpace(s.Text()); text != "" {
			out.Headings = append(out.Headings, text)
		}
	})

	body := doc.Find("body").First()
	body.Find("script, style, noscript, template").Remove()
	out.BodyText = truncateRunes(collapseSpace(body.Text()), MaxBodyText)
	return out, nil
}

func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func truncateRunes(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	runes := []rune(s)
	return string(runes[:limit])
}
