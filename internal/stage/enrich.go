package stage

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/agentic-reviewer/internal/browser"
	"github.com/JakeFAU/agentic-reviewer/internal/pipeline"
	"github.com/JakeFAU/agentic-reviewer/internal/retry"
)

// optionalPages are captured alongside the hero page when the site has them.
var optionalPages = []struct {
	Type pipeline.PageType
	Path string
}{
	{pipeline.PagePricing, "/pricing"},
	{pipeline.PageFeatures, "/features"},
}

// EnrichResult lists the pages captured for a product.
type EnrichResult struct {
	ProductID   string                       `json:"productId"`
	Status      pipeline.ProductStatus       `json:"status"`
	Skipped     bool                         `json:"skipped"`
	Pages       []pipeline.PageType          `json:"pages"`
	FailedPages map[pipeline.PageType]string `json:"failedPages,omitempty"`
}

type capturedPage struct {
	pageType pipeline.PageType
	capture  browser.Capture
}

// Enrich screenshots and extracts the product's hero page, plus its pricing and
// features pages when they load. Only the hero page is required.
func (o *Orchestrator) Enrich(ctx context.Context, productID string) (result EnrichResult, err error) {
	const op = "enrich"
	defer observe(pipeline.StageEnrich, time.Now(), &result.Skipped, &err)

	ctx, cancel := o.detach(ctx)
	defer cancel()

	product, err := o.loadProduct(ctx, op, productID)
	if err != nil {
		return EnrichResult{}, err
	}
	result = EnrichResult{ProductID: product.ID, Status: product.Status}
	if o.cfg.Capturer == nil || o.cfg.Blobs == nil {
		return result, pipeline.Errorf(pipeline.KindPrecondition, op, "no browser or blob store configured")
	}
	if !pipeline.CanRun(product.Status, pipeline.StageEnrich) {
		// Already enriched.
		result.Skipped = true
		return result, nil
	}

	hero, err := o.capture(ctx, product.URL)
	if err != nil {
		return result, o.rollback(ctx, op, product, pipeline.StageEnrich, fmt.Errorf("capture hero page: %w", err))
	}
	if err := o.persistCapture(ctx, product.ID, capturedPage{pipeline.PageHero, hero}); err != nil {
		return result, o.persistenceGap(op, product.ID, err)
	}
	result.Pages = append(result.Pages, pipeline.PageHero)

	pages, failed := o.captureOptional(ctx, product)
	for _, page := range pages {
		if err := o.persistCapture(ctx, product.ID, page); err != nil {
			failed[page.pageType] = err.Error()
			o.logger.Warn("persist optional page failed",
				zap.String("product_id", product.ID),
				zap.String("page_type", string(page.pageType)),
				zap.Error(err))
			continue
		}
		result.Pages = append(result.Pages, page.pageType)
	}
	if len(failed) > 0 {
		result.FailedPages = failed
	}

	status, err := o.advance(ctx, op, product, pipeline.StageEnrich)
	if err != nil {
		return result, err
	}
	result.Status = status
	o.logger.Info("product enriched",
		zap.String("product_id", product.ID),
		zap.Int("pages", len(result.Pages)),
		zap.Int("failed_pages", len(result.FailedPages)))
	o.stageCompleted(ctx, pipeline.StageEnrich, product.ID, "", string(status))
	return result, nil
}

func (o *Orchestrator) capture(ctx context.Context, rawURL string) (browser.Capture, error) {
	return retry.Do(ctx, o.cfg.Policies.Capture, func(ctx context.Context) (browser.Capture, error) {
		return o.cfg.Capturer.Capture(ctx, rawURL)
	})
}

// captureOptional loads the optional pages concurrently. A page that fails is
// reported in the returned map and never fails the group.
func (o *Orchestrator) captureOptional(ctx context.Context, product pipeline.Product) ([]capturedPage, map[pipeline.PageType]string) {
	base, err := url.Parse(product.URL)
	failed := make(map[pipeline.PageType]string)
	if err != nil {
		for _, page := range optionalPages {
			failed[page.Type] = err.Error()
		}
		return nil, failed
	}

	var (
		mu    sync.Mutex
		pages = make([]*capturedPage, len(optionalPages))
	)
	var g errgroup.Group
	for i, page := range optionalPages {
		target := base.ResolveReference(&url.URL{Path: page.Path}).String()
		g.Go(func() error {
			capture, err := o.capture(ctx, target)
			if err != nil {
				mu.Lock()
				failed[page.Type] = err.Error()
				mu.Unlock()
				o.logger.Debug("optional page unavailable",
					zap.String("product_id", product.ID),
					zap.String("url", target),
					zap.Error(err))
				return nil
			}
			pages[i] = &capturedPage{pageType: page.Type, capture: capture}
			return nil
		})
	}
	_ = g.Wait()

	out := make([]capturedPage, 0, len(pages))
	for _, page := range pages {
		if page != nil {
			out = append(out, *page)
		}
	}
	return out, failed
}

// persistCapture uploads the screenshot and records it with the extraction.
func (o *Orchestrator) persistCapture(ctx context.Context, productID string, page capturedPage) error {
	now := o.cfg.Clock.Now()
	key := fmt.Sprintf("screenshots/%s/%s.png", productID, page.pageType)
	uri, err := o.cfg.Blobs.PutObject(ctx, key, "image/png", page.capture.PNG)
	if err != nil {
		return fmt.Errorf("upload screenshot: %w", err)
	}
	shotID, err := o.cfg.IDs.NewID()
	if err != nil {
		return err
	}
	if err := o.cfg.Store.AddScreenshot(ctx, pipeline.Screenshot{
		ID:        shotID,
		ProductID: productID,
		URL:       uri,
		PageURL:   page.capture.URL,
		Type:      page.pageType,
		Width:     page.capture.Width,
		Height:    page.capture.Height,
		CreatedAt: now,
	}); err != nil {
		return fmt.Errorf("record screenshot: %w", err)
	}
	extractionID, err := o.cfg.IDs.NewID()
	if err != nil {
		return err
	}
	ex := page.capture.Extraction
	if err := o.cfg.Store.AddPageExtraction(ctx, pipeline.PageExtraction{
		ID:         extractionID,
		ProductID:  productID,
		PageURL:    page.capture.URL,
		PageType:   page.pageType,
		Title:      ex.Title,
		Headings:   ex.Headings,
		BodyText:   ex.BodyText,
		LoadTimeMs: ex.LoadTime.Milliseconds(),
		CreatedAt:  now,
	}); err != nil {
		return fmt.Errorf("record extraction: %w", err)
	}
	return nil
}
