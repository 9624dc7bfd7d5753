package discovery

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type staticSource struct {
	name  string
	items []Item
	err   error
	delay time.Duration
}

func (s staticSource) Name() string { return s.name }

func (s staticSource) Discover(ctx context.Context) ([]Item, error) {
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return s.items, s.err
}

func TestNormalizeURL(t *testing.T) {
	t.Parallel()

	require.Equal(t, "https://acme.io", NormalizeURL("https://Acme.io///"))
	require.Equal(t, "https://acme.io/pricing", NormalizeURL(" https://acme.io/Pricing/ "))
}

func TestRunAllDedupesAcrossSourcesKeepingFirst(t *testing.T) {
	t.Parallel()

	a := NewAggregator(time.Second, nil,
		staticSource{name: "one", items: []Item{{Name: "Acme", URL: "https://Acme.io/"}}},
		staticSource{name: "two", items: []Item{{Name: "Acme dup", URL: "https://acme.io"}, {Name: "Beta", URL: "https://beta.dev"}}},
	)
	res := a.RunAll(context.Background(), nil)
	require.Len(t, res.Items, 2)
	require.Equal(t, "Acme", res.Items[0].Name)
	require.Equal(t, "Beta", res.Items[1].Name)
	require.Empty(t, res.Failed())
}

func TestRunAllToleratesFailingSource(t *testing.T) {
	t.Parallel()

	a := NewAggregator(time.Second, nil,
		staticSource{name: "broken", err: errors.New("boom")},
		staticSource{name: "ok", items: []Item{{Name: "Acme", URL: "https://acme.io"}}},
	)
	res := a.RunAll(context.Background(), []string{"broken", "ok", "missing"})
	require.Len(t, res.Items, 1)
	require.Len(t, res.Outcomes, 3)
	require.EqualError(t, res.Outcomes[0].Err, "boom")
	require.NoError(t, res.Outcomes[1].Err)
	require.Equal(t, 1, res.Outcomes[1].Items)
	require.ErrorContains(t, res.Outcomes[2].Err, "unknown source")
	require.Len(t, res.Failed(), 2)
}

func TestRunAllAppliesPerSourceTimeout(t *testing.T) {
	t.Parallel()

	a := NewAggregator(20*time.Millisecond, nil,
		staticSource{name: "slow", delay: time.Second, items: []Item{{URL: "https://slow.dev"}}},
		staticSource{name: "fast", items: []Item{{URL: "https://fast.dev"}}},
	)
	start := time.Now()
	res := a.RunAll(context.Background(), nil)
	require.Less(t, time.Since(start), 500*time.Millisecond)
	require.ErrorIs(t, res.Outcomes[0].Err, context.DeadlineExceeded)
	require.Len(t, res.Items, 1)
}

type panickySource struct{}

func (panickySource) Name() string { return "panicky" }

func (panickySource) Discover(context.Context) ([]Item, error) { panic("bad parser") }

func TestRunAllRecoversPanickingSource(t *testing.T) {
	t.Parallel()

	a := NewAggregator(time.Second, nil, panickySource{})
	res := a.RunAll(context.Background(), nil)
	require.ErrorContains(t, res.Outcomes[0].Err, "bad parser")
	require.Empty(t, res.Items)
}

func TestDedupeDropsEmptyURLs(t *testing.T) {
	t.Parallel()

	out := Dedupe([]Item{{URL: ""}, {URL: "https://a.dev"}, {URL: "HTTPS://A.dev/"}})
	require.Len(t, out, 1)
}
