package stage_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/agentic-reviewer/internal/api"
	"github.com/JakeFAU/agentic-reviewer/internal/browser"
	"github.com/JakeFAU/agentic-reviewer/internal/clock/system"
	"github.com/JakeFAU/agentic-reviewer/internal/discovery"
	"github.com/JakeFAU/agentic-reviewer/internal/distribution"
	distmemory "github.com/JakeFAU/agentic-reviewer/internal/distribution/memory"
	"github.com/JakeFAU/agentic-reviewer/internal/id/uuid"
	"github.com/JakeFAU/agentic-reviewer/internal/llm"
	"github.com/JakeFAU/agentic-reviewer/internal/pipeline"
	"github.com/JakeFAU/agentic-reviewer/internal/render"
	"github.com/JakeFAU/agentic-reviewer/internal/retry"
	"github.com/JakeFAU/agentic-reviewer/internal/stage"
	"github.com/JakeFAU/agentic-reviewer/internal/storage/memory"
)

type listSource struct {
	name  string
	items []discovery.Item
}

func (s listSource) Name() string { return s.name }

func (s listSource) Discover(context.Context) ([]discovery.Item, error) { return s.items, nil }

type pageCapturer struct{}

func (pageCapturer) Capture(_ context.Context, url string) (browser.Capture, error) {
	return browser.Capture{
		URL:    url,
		PNG:    []byte("png"),
		Width:  1280,
		Height: 800,
		Extraction: browser.Extraction{
			Title:    "Widget",
			BodyText: "Widget makes widgets.",
			LoadTime: 300 * time.Millisecond,
		},
	}, nil
}

type cannedLLM struct{}

func (cannedLLM) Summarize(context.Context, llm.SummaryInput) (llm.SummaryResult, error) {
	return llm.SummaryResult{Content: "Widget is good.", KeyFeatures: []string{"widgets"}, Model: "canned"}, nil
}

func (cannedLLM) Score(context.Context, llm.ScoreInput) (llm.ScoreResult, error) {
	out := llm.Normalize(8, 8, 7, 9, 6)
	out.Model = "canned"
	return out, nil
}

type blobRenderer struct{ blobs pipeline.BlobStore }

func (r blobRenderer) Render(ctx context.Context, in render.Request) (render.Result, error) {
	key := "videos/" + in.VideoID + ".mp4"
	if _, err := r.blobs.PutObject(ctx, key, "video/mp4", []byte("mp4")); err != nil {
		return render.Result{}, err
	}
	return render.Result{StorageKey: key, DurationSec: 90}, nil
}

func post(t *testing.T, srv *httptest.Server, path string, body any) json.RawMessage {
	t.Helper()
	payload, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(srv.URL+path, "application/json", bytes.NewReader(payload))
	require.NoError(t, err)
	defer resp.Body.Close()

	var env struct {
		Success bool            `json:"success"`
		Data    json.RawMessage `json:"data"`
		Error   string          `json:"error"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&env))
	require.Equal(t, http.StatusOK, resp.StatusCode, "%s: %s", path, env.Error)
	require.True(t, env.Success)
	return env.Data
}

func TestPipelineEndToEndOverHTTP(t *testing.T) {
	t.Parallel()

	store := memory.NewStore()
	blobs := memory.NewBlobStore()
	ids := uuid.New()
	clock := system.New()
	logger := zap.NewNop()

	aggregator := discovery.NewAggregator(time.Second, logger,
		listSource{name: "hackernews", items: []discovery.Item{
			{Name: "Widget", URL: "https://widget.example.com/", Source: pipeline.SourceHackerNews},
		}},
		listSource{name: "reddit", items: []discovery.Item{
			{Name: "Widget", URL: "https://WIDGET.example.com", Source: pipeline.SourceReddit},
		}},
	)
	svc, err := discovery.NewService(discovery.ServiceConfig{Store: store, Runner: aggregator, IDs: ids, Clock: clock, Logger: logger})
	require.NoError(t, err)

	quick := retry.Policy{MaxAttempts: 1}
	orch, err := stage.New(stage.Config{
		Store:      store,
		Blobs:      blobs,
		IDs:        ids,
		Clock:      clock,
		Capturer:   pageCapturer{},
		Summarizer: cannedLLM{},
		Scorer:     cannedLLM{},
		Renderer:   blobRenderer{blobs: blobs},
		Publishers: distribution.NewRegistry(distmemory.New(pipeline.PlatformYouTube)),
		Policies:   stage.Policies{Capture: quick, LLM: quick, Render: quick, Distribute: quick},
		Logger:     logger,
	})
	require.NoError(t, err)

	srv := httptest.NewServer(api.NewServer(api.Deps{Store: store, Discoverer: svc, Stages: orch}, api.Config{}, logger).Handler())
	defer srv.Close()

	var discovered struct {
		ProductIDs []string `json:"productIds"`
		Stats      struct {
			Found, New, Duplicate int
		} `json:"stats"`
	}
	require.NoError(t, json.Unmarshal(post(t, srv, "/v1/discover", map[string]any{"sources": []string{"hackernews", "reddit"}}), &discovered))
	require.Len(t, discovered.ProductIDs, 1)
	require.Equal(t, 1, discovered.Stats.New)
	productID := discovered.ProductIDs[0]

	post(t, srv, "/v1/process", map[string]string{"productId": productID})
	post(t, srv, "/v1/summarize", map[string]string{"productId": productID})
	post(t, srv, "/v1/score", map[string]string{"productId": productID})

	var rendered stage.RenderResult
	require.NoError(t, json.Unmarshal(post(t, srv, "/v1/video/render", map[string]string{"productId": productID}), &rendered))
	require.Equal(t, pipeline.VideoRendered, rendered.VideoStatus)

	var distributed struct {
		VideoStatus    pipeline.VideoStatus   `json:"videoStatus"`
		PublicationIDs []string               `json:"publicationIds"`
		Publications   []pipeline.Publication `json:"publications"`
	}
	require.NoError(t, json.Unmarshal(post(t, srv, "/v1/distribute", map[string]any{"videoId": rendered.VideoID, "platforms": []string{"youtube"}}), &distributed))
	require.Equal(t, pipeline.VideoPublished, distributed.VideoStatus)
	require.Len(t, distributed.Publications, 1)
	require.Equal(t, pipeline.PublicationPublished, distributed.Publications[0].Status)
	require.NotEmpty(t, distributed.Publications[0].ExternalURL)

	ctx := context.Background()
	products, err := store.ListProducts(ctx, 10)
	require.NoError(t, err)
	require.Len(t, products, 1)
	require.Equal(t, pipeline.ProductPublished, products[0].Status)

	video, err := store.GetVideo(ctx, rendered.VideoID)
	require.NoError(t, err)
	require.Equal(t, pipeline.VideoPublished, video.Status)
}
