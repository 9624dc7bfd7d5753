package stage

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/agentic-reviewer/internal/browser"
	"github.com/JakeFAU/agentic-reviewer/internal/distribution"
	distmemory "github.com/JakeFAU/agentic-reviewer/internal/distribution/memory"
	"github.com/JakeFAU/agentic-reviewer/internal/llm"
	"github.com/JakeFAU/agentic-reviewer/internal/pipeline"
	pubmemory "github.com/JakeFAU/agentic-reviewer/internal/publisher/memory"
	"github.com/JakeFAU/agentic-reviewer/internal/render"
	"github.com/JakeFAU/agentic-reviewer/internal/retry"
	"github.com/JakeFAU/agentic-reviewer/internal/storage/memory"
)

const productURL = "https://acme.example.com"

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

type seqIDs struct {
	mu sync.Mutex
	n  int
}

func (s *seqIDs) NewID() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.n++
	return fmt.Sprintf("id-%03d", s.n), nil
}

type fakeCapturer struct {
	mu    sync.Mutex
	fail  map[string]error
	calls map[string]int
}

func (f *fakeCapturer) Capture(_ context.Context, url string) (browser.Capture, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.calls == nil {
		f.calls = map[string]int{}
	}
	f.calls[url]++
	if err := f.fail[url]; err != nil {
		return browser.Capture{}, err
	}
	return browser.Capture{
		URL:    url,
		PNG:    []byte("png:" + url),
		Width:  1280,
		Height: 800,
		Extraction: browser.Extraction{
			Title:    "Acme",
			Headings: []string{"Ship faster"},
			BodyText: "body of " + url,
			LoadTime: 420 * time.Millisecond,
		},
	}, nil
}

func (f *fakeCapturer) count(url string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[url]
}

type fakeSummarizer struct {
	errs  []error
	calls int
	last  llm.SummaryInput
}

func (f *fakeSummarizer) Summarize(_ context.Context, in llm.SummaryInput) (llm.SummaryResult, error) {
	f.calls++
	f.last = in
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		if err != nil {
			return llm.SummaryResult{}, err
		}
	}
	return llm.SummaryResult{
		Content:        fmt.Sprintf("review #%d", f.calls),
		TargetAudience: "teams",
		KeyFeatures:    []string{"fast"},
		Pros:           []string{"cheap"},
		Cons:           []string{"new"},
		Model:          "test-model",
	}, nil
}

type fakeScorer struct {
	err   error
	calls int
}

func (f *fakeScorer) Score(_ context.Context, _ llm.ScoreInput) (llm.ScoreResult, error) {
	f.calls++
	if f.err != nil {
		return llm.ScoreResult{}, f.err
	}
	out := llm.Normalize(9.8, 6, 7, 8, 5)
	out.Reasoning = "solid"
	out.Model = "test-model"
	return out, nil
}

type fakeRenderer struct {
	mu       sync.Mutex
	err      error
	requests []render.Request
	blobs    pipeline.BlobStore
}

func (f *fakeRenderer) Render(ctx context.Context, in render.Request) (render.Result, error) {
	f.mu.Lock()
	f.requests = append(f.requests, in)
	f.mu.Unlock()
	if f.err != nil {
		return render.Result{}, f.err
	}
	key := "videos/" + in.VideoID + ".mp4"
	if f.blobs != nil {
		if _, err := f.blobs.PutObject(ctx, key, "video/mp4", []byte("mp4:"+in.VideoID)); err != nil {
			return render.Result{}, err
		}
	}
	return render.Result{StorageKey: key, DurationSec: 61.6, ThumbnailKey: "thumbs/" + in.VideoID + ".png"}, nil
}

type harness struct {
	store      *memory.Store
	blobs      *memory.BlobStore
	capturer   *fakeCapturer
	summarizer *fakeSummarizer
	scorer     *fakeScorer
	renderer   *fakeRenderer
	registry   *distribution.Registry
	events     *pubmemory.Publisher
	orch       *Orchestrator
}

func testPolicies() Policies {
	p := retry.Policy{MaxAttempts: 2, Sleep: func(context.Context, time.Duration) error { return nil }}
	return Policies{Capture: p.Named("capture"), LLM: p.Named("llm"), Render: p.Named("render"), Distribute: p.Named("distribute")}
}

func newHarness(t *testing.T, mutate func(*Config)) *harness {
	t.Helper()
	h := &harness{
		store:      memory.NewStore(),
		blobs:      memory.NewBlobStore(),
		capturer:   &fakeCapturer{},
		summarizer: &fakeSummarizer{},
		scorer:     &fakeScorer{},
		registry:   distribution.NewRegistry(distmemory.New(pipeline.PlatformYouTube)),
		events:     pubmemory.New(),
	}
	h.renderer = &fakeRenderer{blobs: h.blobs}
	cfg := Config{
		Store:         h.store,
		Blobs:         h.blobs,
		IDs:           &seqIDs{},
		Clock:         fixedClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)},
		Capturer:      h.capturer,
		Summarizer:    h.summarizer,
		Scorer:        h.scorer,
		Renderer:      h.renderer,
		Publishers:    h.registry,
		Publisher:     h.events,
		Topic:         "pipeline-events",
		Policies:      testPolicies(),
		PublicBaseURL: "https://cdn.example.com/",
	}
	if mutate != nil {
		mutate(&cfg)
	}
	orch, err := New(cfg)
	require.NoError(t, err)
	h.orch = orch
	return h
}

func (h *harness) seed(t *testing.T, status pipeline.ProductStatus) pipeline.Product {
	t.Helper()
	p, created, err := h.store.InsertProductIfAbsent(context.Background(), pipeline.Product{
		ID:          "prod-1",
		Name:        "Acme",
		URL:         productURL,
		Source:      pipeline.SourceHackerNews,
		Description: "Acme ships faster",
		Status:      status,
	})
	require.NoError(t, err)
	require.True(t, created)
	return p
}

func (h *harness) status(t *testing.T, id string) pipeline.ProductStatus {
	t.Helper()
	p, err := h.store.GetProduct(context.Background(), id)
	require.NoError(t, err)
	return p.Status
}

// toScored walks a fresh product through enrich, summarize and score.
func (h *harness) toScored(t *testing.T) pipeline.Product {
	t.Helper()
	ctx := context.Background()
	p := h.seed(t, pipeline.ProductDiscovered)
	_, err := h.orch.Enrich(ctx, p.ID)
	require.NoError(t, err)
	_, err = h.orch.Summarize(ctx, p.ID, false)
	require.NoError(t, err)
	_, err = h.orch.Score(ctx, p.ID, false)
	require.NoError(t, err)
	return p
}

func TestNewRequiresCollaborators(t *testing.T) {
	t.Parallel()

	_, err := New(Config{})
	require.Error(t, err)
}

func TestEnrichCapturesHeroAndOptionalPages(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	h.capturer.fail = map[string]error{productURL + "/features": retry.Terminal(errors.New("404"))}
	p := h.seed(t, pipeline.ProductDiscovered)

	res, err := h.orch.Enrich(context.Background(), p.ID)
	require.NoError(t, err)
	require.Equal(t, pipeline.ProductProcessed, res.Status)
	require.ElementsMatch(t, []pipeline.PageType{pipeline.PageHero, pipeline.PagePricing}, res.Pages)
	require.Contains(t, res.FailedPages, pipeline.PageFeatures)
	require.Equal(t, pipeline.ProductProcessed, h.status(t, p.ID))
	require.Equal(t, 1, h.capturer.count(productURL+"/features"), "terminal failures are not retried")

	data, err := h.blobs.GetObject(context.Background(), "screenshots/prod-1/hero.png")
	require.NoError(t, err)
	require.Equal(t, []byte("png:"+productURL), data)

	shots, err := h.store.ListScreenshots(context.Background(), p.ID)
	require.NoError(t, err)
	require.Len(t, shots, 2)
	extractions, err := h.store.ListPageExtractions(context.Background(), p.ID)
	require.NoError(t, err)
	require.Len(t, extractions, 2)
}

func TestEnrichHeroFailureKeepsProductDiscovered(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	h.capturer.fail = map[string]error{productURL: errors.New("connection reset")}
	p := h.seed(t, pipeline.ProductDiscovered)

	_, err := h.orch.Enrich(context.Background(), p.ID)
	require.Error(t, err)
	require.Equal(t, pipeline.KindTransient, pipeline.KindOf(err))
	require.Equal(t, 2, h.capturer.count(productURL))
	require.Equal(t, pipeline.ProductDiscovered, h.status(t, p.ID))
}

func TestEnrichSkipsEnrichedProduct(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	p := h.seed(t, pipeline.ProductSummarized)

	res, err := h.orch.Enrich(context.Background(), p.ID)
	require.NoError(t, err)
	require.True(t, res.Skipped)
	require.Zero(t, h.capturer.count(productURL))
}

func TestStagesReportNotFound(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	ctx := context.Background()
	_, err := h.orch.Enrich(ctx, "missing")
	require.Equal(t, pipeline.KindNotFound, pipeline.KindOf(err))
	_, err = h.orch.Summarize(ctx, "missing", false)
	require.Equal(t, pipeline.KindNotFound, pipeline.KindOf(err))
	_, err = h.orch.ApproveVideo(ctx, "missing")
	require.Equal(t, pipeline.KindNotFound, pipeline.KindOf(err))
	_, err = h.orch.Distribute(ctx, "missing", nil)
	require.Equal(t, pipeline.KindNotFound, pipeline.KindOf(err))
}

func TestStagesWithoutCollaboratorsFailPrecondition(t *testing.T) {
	t.Parallel()

	h := newHarness(t, func(c *Config) {
		c.Capturer = nil
		c.Renderer = nil
	})
	ctx := context.Background()
	p := h.seed(t, pipeline.ProductDiscovered)
	_, err := h.orch.Enrich(ctx, p.ID)
	require.Equal(t, pipeline.KindPrecondition, pipeline.KindOf(err))
	require.Equal(t, pipeline.ProductDiscovered, h.status(t, p.ID))

	_, err = h.orch.RenderVideo(ctx, p.ID, pipeline.FormatTikTokShort)
	require.Error(t, err)
	require.Equal(t, pipeline.ProductDiscovered, h.status(t, p.ID))
}

func TestSummarizeRequiresExtraction(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	p := h.seed(t, pipeline.ProductDiscovered)
	_, err := h.orch.Summarize(context.Background(), p.ID, false)
	require.Equal(t, pipeline.KindPrecondition, pipeline.KindOf(err))
	require.Zero(t, h.summarizer.calls)
}

func TestSummarizeRollsBackThenSkipsOnceDone(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	ctx := context.Background()
	p := h.seed(t, pipeline.ProductDiscovered)
	_, err := h.orch.Enrich(ctx, p.ID)
	require.NoError(t, err)

	h.summarizer.errs = []error{retry.Terminal(errors.New("bad json"))}
	_, err = h.orch.Summarize(ctx, p.ID, false)
	require.Equal(t, pipeline.KindNonRetryable, pipeline.KindOf(err))
	require.Equal(t, pipeline.ProductProcessed, h.status(t, p.ID))

	res, err := h.orch.Summarize(ctx, p.ID, false)
	require.NoError(t, err)
	require.False(t, res.Skipped)
	require.Equal(t, pipeline.ProductSummarized, res.Status)
	require.Contains(t, h.summarizer.last.BodyText, "PRICING PAGE:")

	res, err = h.orch.Summarize(ctx, p.ID, false)
	require.NoError(t, err)
	require.True(t, res.Skipped)
	require.Equal(t, 2, h.summarizer.calls)
}

func TestForcedSummarizeReplacesSummaryWithoutRegressing(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	ctx := context.Background()
	p := h.toScored(t)
	before, err := h.store.GetSummary(ctx, p.ID)
	require.NoError(t, err)

	res, err := h.orch.Summarize(ctx, p.ID, true)
	require.NoError(t, err)
	require.False(t, res.Skipped)
	require.Equal(t, pipeline.ProductScored, res.Status)

	after, err := h.store.GetSummary(ctx, p.ID)
	require.NoError(t, err)
	require.NotEqual(t, before.ID, after.ID)
	require.Equal(t, "review #2", after.Content)
	require.Equal(t, pipeline.ProductScored, h.status(t, p.ID))
}

func TestScoreStoresNormalizedRating(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	ctx := context.Background()
	p := h.toScored(t)

	score, err := h.store.GetScore(ctx, p.ID)
	require.NoError(t, err)
	require.InDelta(t, 6.5, score.Overall, 0.001)
	require.Equal(t, "solid", score.Reasoning)

	res, err := h.orch.Score(ctx, p.ID, false)
	require.NoError(t, err)
	require.True(t, res.Skipped)
	require.Equal(t, 1, h.scorer.calls)
}

func TestScoreRequiresSummary(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	p := h.seed(t, pipeline.ProductProcessed)
	_, err := h.orch.Score(context.Background(), p.ID, false)
	require.Equal(t, pipeline.KindPrecondition, pipeline.KindOf(err))
}

func TestRenderVideoMovesProductToVideoReady(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	ctx := context.Background()
	p := h.toScored(t)

	res, err := h.orch.RenderVideo(ctx, p.ID, "")
	require.NoError(t, err)
	require.Equal(t, pipeline.VideoRendered, res.VideoStatus)
	require.Equal(t, pipeline.ProductVideoReady, res.ProductStatus)
	require.Equal(t, 62, res.DurationSec)
	require.Len(t, h.renderer.requests, 1)
	require.Equal(t, res.VideoID, h.renderer.requests[0].VideoID)
	require.Equal(t, pipeline.FormatYouTubeLong, h.renderer.requests[0].Format)

	video, err := h.store.GetVideo(ctx, res.VideoID)
	require.NoError(t, err)
	require.Equal(t, "thumbs/"+res.VideoID+".png", video.ThumbnailKey)
}

func TestRenderVideoFailureRejectsVideo(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	ctx := context.Background()
	p := h.toScored(t)
	h.renderer.err = retry.Terminal(errors.New("renderer returned 422"))

	res, err := h.orch.RenderVideo(ctx, p.ID, pipeline.FormatTikTokShort)
	require.Equal(t, pipeline.KindNonRetryable, pipeline.KindOf(err))
	require.Len(t, h.renderer.requests, 1)

	video, err := h.store.GetVideo(ctx, res.VideoID)
	require.NoError(t, err)
	require.Equal(t, pipeline.VideoRejected, video.Status)
	require.Contains(t, video.Metadata[RenderErrorKey], "422")
	require.Equal(t, pipeline.ProductScored, h.status(t, p.ID))
}

func TestRenderVideoValidatesInput(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	p := h.seed(t, pipeline.ProductProcessed)
	_, err := h.orch.RenderVideo(context.Background(), p.ID, "vhs")
	require.Equal(t, pipeline.KindPrecondition, pipeline.KindOf(err))
	_, err = h.orch.RenderVideo(context.Background(), p.ID, pipeline.FormatInstagramReel)
	require.Equal(t, pipeline.KindPrecondition, pipeline.KindOf(err))
	require.Empty(t, h.renderer.requests)
}

func TestRejectMergesReasonIntoMetadata(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	ctx := context.Background()
	require.NoError(t, h.store.CreateVideo(ctx, pipeline.Video{
		ID:        "vid-1",
		ProductID: "prod-1",
		Status:    pipeline.VideoRendered,
		Format:    pipeline.FormatYouTubeLong,
		Metadata:  map[string]any{"voice": "alloy"},
	}))

	video, err := h.orch.RejectVideo(ctx, "vid-1", "blurry")
	require.NoError(t, err)
	require.Equal(t, pipeline.VideoRejected, video.Status)

	stored, err := h.store.GetVideo(ctx, "vid-1")
	require.NoError(t, err)
	require.Equal(t, "blurry", stored.Metadata[pipeline.RejectionReasonKey])
	require.Equal(t, "alloy", stored.Metadata["voice"])

	_, err = h.orch.ApproveVideo(ctx, "vid-1")
	require.Equal(t, pipeline.KindIllegalTransition, pipeline.KindOf(err))

	events := h.events.Topic("pipeline-events")
	require.NotEmpty(t, events)
	last, ok := events[len(events)-1].(pipeline.Event)
	require.True(t, ok)
	require.Equal(t, pipeline.EventVideoReviewed, last.Type)
}

func TestDistributeRequiresApproval(t *testing.T) {
	t.Parallel()

	h := newHarness(t, func(c *Config) { c.RequireApproval = true })
	ctx := context.Background()
	p := h.toScored(t)
	rendered, err := h.orch.RenderVideo(ctx, p.ID, "")
	require.NoError(t, err)

	_, err = h.orch.Distribute(ctx, rendered.VideoID, nil)
	require.Equal(t, pipeline.KindPrecondition, pipeline.KindOf(err))

	_, err = h.orch.ApproveVideo(ctx, rendered.VideoID)
	require.NoError(t, err)
	res, err := h.orch.Distribute(ctx, rendered.VideoID, nil)
	require.NoError(t, err)
	require.Equal(t, pipeline.VideoPublished, res.VideoStatus)
	require.Equal(t, pipeline.ProductPublished, res.ProductStatus)
}

func TestDistributeAutoApprovesWhenApprovalNotRequired(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	ctx := context.Background()
	p := h.toScored(t)
	rendered, err := h.orch.RenderVideo(ctx, p.ID, "")
	require.NoError(t, err)

	res, err := h.orch.Distribute(ctx, rendered.VideoID, []pipeline.Platform{pipeline.PlatformYouTube, pipeline.PlatformYouTube})
	require.NoError(t, err)
	require.Len(t, res.Publications, 1)
	require.Equal(t, pipeline.PublicationPublished, res.Publications[0].Status)
	require.NotEmpty(t, res.Publications[0].ExternalURL)
	require.Equal(t, pipeline.ProductPublished, h.status(t, p.ID))
}

func TestDistributePartialFailureStillPublishes(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	h.registry.Register(distmemory.Failing(pipeline.PlatformTikTok, retry.Terminal(errors.New("token expired"))))
	ctx := context.Background()
	p := h.toScored(t)
	rendered, err := h.orch.RenderVideo(ctx, p.ID, "")
	require.NoError(t, err)

	res, err := h.orch.Distribute(ctx, rendered.VideoID,
		[]pipeline.Platform{pipeline.PlatformTikTok, pipeline.PlatformYouTube, pipeline.PlatformInstagram})
	require.NoError(t, err)
	require.Equal(t, pipeline.VideoPublished, res.VideoStatus)

	byPlatform := map[pipeline.Platform]pipeline.Publication{}
	for _, pub := range res.Publications {
		byPlatform[pub.Platform] = pub
	}
	require.Equal(t, pipeline.PublicationFailed, byPlatform[pipeline.PlatformTikTok].Status)
	require.Contains(t, byPlatform[pipeline.PlatformTikTok].Error, "token expired")
	require.Equal(t, pipeline.PublicationPublished, byPlatform[pipeline.PlatformYouTube].Status)
	require.Equal(t, pipeline.PublicationFailed, byPlatform[pipeline.PlatformInstagram].Status, "no publisher registered")

	stored, err := h.store.ListPublications(ctx, rendered.VideoID)
	require.NoError(t, err)
	require.Len(t, stored, 3)
}

func TestDistributeAllFailedKeepsVideoApproved(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	h.registry.Register(distmemory.Failing(pipeline.PlatformYouTube, errors.New("503 from upstream")))
	ctx := context.Background()
	p := h.toScored(t)
	rendered, err := h.orch.RenderVideo(ctx, p.ID, "")
	require.NoError(t, err)

	res, err := h.orch.Distribute(ctx, rendered.VideoID, nil)
	require.Equal(t, pipeline.KindTransient, pipeline.KindOf(err))
	require.Equal(t, pipeline.VideoApproved, res.VideoStatus)

	video, err := h.store.GetVideo(ctx, rendered.VideoID)
	require.NoError(t, err)
	require.Equal(t, pipeline.VideoApproved, video.Status)
	require.Equal(t, pipeline.ProductVideoReady, h.status(t, p.ID))
}

func TestDistributeRejectsUnknownPlatform(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	_, err := h.orch.Distribute(context.Background(), "vid", []pipeline.Platform{"myspace"})
	require.Equal(t, pipeline.KindPrecondition, pipeline.KindOf(err))
}

func TestStageEventsArePublished(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	h.toScored(t)

	var stages []pipeline.Stage
	for _, raw := range h.events.Topic("pipeline-events") {
		event, ok := raw.(pipeline.Event)
		require.True(t, ok)
		if event.Type == pipeline.EventStageCompleted {
			stages = append(stages, event.Stage)
		}
	}
	require.Equal(t, []pipeline.Stage{pipeline.StageEnrich, pipeline.StageSummarize, pipeline.StageScore}, stages)
}
