package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/agentic-reviewer/internal/discovery"
)

type fakeDiscoverer struct {
	mu      sync.Mutex
	sources [][]string
	err     error
	hasDL   bool
}

func (f *fakeDiscoverer) Discover(ctx context.Context, sources []string) (discovery.Report, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sources = append(f.sources, sources)
	_, f.hasDL = ctx.Deadline()
	return discovery.Report{RunID: "run-1", Status: "completed"}, f.err
}

func TestNewRejectsBadSpec(t *testing.T) {
	t.Parallel()

	_, err := New(Config{Spec: "every tuesday"}, &fakeDiscoverer{}, zap.NewNop())
	require.Error(t, err)
	_, err = New(Config{Spec: "@hourly"}, nil, nil)
	require.Error(t, err)
}

func TestRunOncePassesSourcesWithDeadline(t *testing.T) {
	t.Parallel()

	d := &fakeDiscoverer{}
	s, err := New(Config{Spec: "0 */6 * * *", Sources: []string{"hackernews"}}, d, zap.NewNop())
	require.NoError(t, err)

	report, err := s.RunOnce(context.Background())
	require.NoError(t, err)
	require.Equal(t, "run-1", report.RunID)
	require.Equal(t, [][]string{{"hackernews"}}, d.sources)
	require.True(t, d.hasDL)
}

func TestRunOnceSurfacesErrors(t *testing.T) {
	t.Parallel()

	d := &fakeDiscoverer{err: errors.New("store down")}
	s, err := New(Config{Spec: "*/5 * * * *"}, d, nil)
	require.NoError(t, err)
	_, err = s.RunOnce(context.Background())
	require.EqualError(t, err, "store down")
}

func TestStartStop(t *testing.T) {
	t.Parallel()

	s, err := New(Config{Spec: "0 0 1 1 *"}, &fakeDiscoverer{}, zap.NewNop())
	require.NoError(t, err)
	s.Start()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, s.Stop(ctx))
}
