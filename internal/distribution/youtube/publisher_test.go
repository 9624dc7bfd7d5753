package youtube

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"

	"github.com/JakeFAU/agentic-reviewer/internal/distribution"
	"github.com/JakeFAU/agentic-reviewer/internal/retry"
)

func newTestPublisher(t *testing.T, handler http.HandlerFunc) *Publisher {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	pub, err := New(context.Background(), Config{},
		option.WithEndpoint(srv.URL+"/"),
		option.WithHTTPClient(srv.Client()))
	require.NoError(t, err)
	return pub
}

func TestPublishUploadsVideo(t *testing.T) {
	t.Parallel()

	var path, query, body string
	pub := newTestPublisher(t, func(w http.ResponseWriter, r *http.Request) {
		path, query = r.URL.Path, r.URL.RawQuery
		raw, _ := io.ReadAll(r.Body)
		body = string(raw)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"abc123"}`))
	})

	receipt, err := pub.Publish(context.Background(), distribution.Asset{
		Data: []byte("mp4-bytes"), Title: "Acme review", Description: "desc", Tags: []string{"saas"},
	})
	require.NoError(t, err)
	require.Equal(t, "abc123", receipt.ExternalID)
	require.Equal(t, "https://youtube.com/watch?v=abc123", receipt.ExternalURL)
	require.True(t, strings.HasSuffix(path, "/youtube/v3/videos"), path)
	require.Contains(t, query, "part=snippet")
	require.Contains(t, body, `"categoryId":"28"`)
	require.Contains(t, body, "mp4-bytes")
}

func TestPublishClassifiesAPIErrors(t *testing.T) {
	t.Parallel()

	pub := newTestPublisher(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"error":{"code":403,"message":"quotaExceeded"}}`))
	})
	_, err := pub.Publish(context.Background(), distribution.Asset{Data: []byte("x")})
	require.True(t, retry.IsTerminal(err))

	pub = newTestPublisher(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})
	_, err = pub.Publish(context.Background(), distribution.Asset{Data: []byte("x")})
	require.Equal(t, retry.ClassRetryable, retry.Classify(err))
}

func TestPublishRejectsEmptyAsset(t *testing.T) {
	t.Parallel()

	pub := newTestPublisher(t, func(http.ResponseWriter, *http.Request) {})
	_, err := pub.Publish(context.Background(), distribution.Asset{})
	require.True(t, retry.IsTerminal(err))
}

func TestNewRequiresCredentials(t *testing.T) {
	t.Parallel()

	_, err := New(context.Background(), Config{ClientID: "id"})
	require.Error(t, err)
}
