package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/agentic-reviewer/internal/config"
	"github.com/JakeFAU/agentic-reviewer/internal/discovery"
)

type fakeApp struct {
	sources []string
	ran     bool
	closed  bool
	err     error
}

func (f *fakeApp) Run(context.Context) error {
	f.ran = true
	return f.err
}

func (f *fakeApp) Discover(_ context.Context, sources []string) (discovery.Report, error) {
	f.sources = sources
	if f.err != nil {
		return discovery.Report{}, f.err
	}
	return discovery.Report{RunID: "run-1", Status: "succeeded", Found: 2, New: 1, Duplicate: 1, ProductIDs: []string{"p1"}}, nil
}

func (f *fakeApp) Close() error {
	f.closed = true
	return nil
}

// useFakeApp swaps the factory for the duration of the test. Tests using it
// must not run in parallel.
func useFakeApp(t *testing.T, app *fakeApp) *config.Config {
	t.Helper()
	var seen config.Config
	orig := newApp
	newApp = func(_ context.Context, cfg *config.Config) (App, error) {
		seen = *cfg
		return app, nil
	}
	t.Cleanup(func() { newApp = orig })
	return &seen
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestDiscoverCommandPrintsReport(t *testing.T) {
	app := &fakeApp{}
	seen := useFakeApp(t, app)
	path := writeConfig(t, "server:\n  port: 9999\n")

	var out bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetArgs([]string{"--config", path, "discover", "--sources", "hackernews,reddit"})
	require.NoError(t, root.ExecuteContext(context.Background()))

	require.Equal(t, []string{"hackernews", "reddit"}, app.sources)
	require.True(t, app.closed)
	require.Equal(t, 9999, seen.Server.Port)

	var report discovery.Report
	require.NoError(t, json.Unmarshal(out.Bytes(), &report))
	require.Equal(t, "run-1", report.RunID)
	require.Equal(t, 1, report.New)
}

func TestDiscoverCommandClosesOnError(t *testing.T) {
	app := &fakeApp{err: errors.New("boom")}
	useFakeApp(t, app)
	path := writeConfig(t, "server:\n  port: 8080\n")

	root := newRootCmd()
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})
	root.SetArgs([]string{"--config", path, "discover"})
	err := root.ExecuteContext(context.Background())
	require.ErrorContains(t, err, "boom")
	require.True(t, app.closed)
}

func TestServeCommandRejectsInvalidConfig(t *testing.T) {
	app := &fakeApp{}
	useFakeApp(t, app)
	path := writeConfig(t, "storage:\n  backend: ftp\n")

	root := newRootCmd()
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})
	root.SetArgs([]string{"--config", path, "serve"})
	err := root.ExecuteContext(context.Background())
	require.ErrorContains(t, err, "storage.backend")
	require.False(t, app.ran)
}

func TestServeCommandRunsApp(t *testing.T) {
	app := &fakeApp{}
	useFakeApp(t, app)
	path := writeConfig(t, "server:\n  port: 8080\n")

	root := newRootCmd()
	root.SetArgs([]string{"--config", path, "serve"})
	require.NoError(t, root.ExecuteContext(context.Background()))
	require.True(t, app.ran)
}

func TestMigrateCommandNeedsPostgres(t *testing.T) {
	path := writeConfig(t, "database:\n  driver: memory\n")

	root := newRootCmd()
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})
	root.SetArgs([]string{"--config", path, "migrate"})
	err := root.ExecuteContext(context.Background())
	require.ErrorContains(t, err, "postgres")
}

func TestDiscoverCommandTableOutput(t *testing.T) {
	app := &fakeApp{}
	useFakeApp(t, app)
	path := writeConfig(t, "server:\n  port: 8080\n")

	var out bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetArgs([]string{"--config", path, "discover", "-o", "table"})
	require.NoError(t, root.ExecuteContext(context.Background()))
	require.Contains(t, out.String(), "run-1")
	require.Contains(t, out.String(), "1 duplicate")
}

func TestDiscoverCommandRejectsUnknownOutput(t *testing.T) {
	app := &fakeApp{}
	useFakeApp(t, app)
	path := writeConfig(t, "server:\n  port: 8080\n")

	root := newRootCmd()
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})
	root.SetArgs([]string{"--config", path, "discover", "-o", "yaml"})
	require.ErrorContains(t, root.ExecuteContext(context.Background()), "unknown output")
	require.False(t, app.closed)
}

func TestRenderReportListsSources(t *testing.T) {
	t.Parallel()

	out := renderReport(discovery.Report{
		RunID:  "run-9",
		Status: "completed",
		Found:  3,
		New:    2,
		Sources: []discovery.SourceSummary{
			{Source: "hackernews", Items: 3, DurationMs: 1200},
			{Source: "reddit", Error: "http 503"},
		},
	})
	require.Contains(t, out, "hackernews")
	require.Contains(t, out, "1.2s")
	require.Contains(t, out, "http 503")
	require.Contains(t, out, "2 new")
}
