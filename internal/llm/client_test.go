package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/agentic-reviewer/internal/retry"
)

// sentRequest is the subset of a Messages request body the tests inspect.
type sentRequest struct {
	Model     string `json:"model"`
	MaxTokens int    `json:"max_tokens"`
	Messages  []struct {
		Role string `json:"role"`
	} `json:"messages"`
}

func TestCompleteSendsMessagesRequest(t *testing.T) {
	t.Parallel()

	var (
		got     sentRequest
		headers http.Header
		path    string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		headers = r.Header.Clone()
		path = r.URL.Path
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"msg_1","type":"message","role":"assistant","model":"m","content":[{"type":"text","text":"{\"ok\":true}"}],"stop_reason":"end_turn"}`))
	}))
	defer srv.Close()

	client := NewClient(Config{APIKey: "key", BaseURL: srv.URL})
	out, err := client.Complete(context.Background(), "hello")
	require.NoError(t, err)
	require.Equal(t, `{"ok":true}`, out)
	require.Equal(t, "/v1/messages", path)
	require.Equal(t, "key", headers.Get("x-api-key"))
	require.Equal(t, DefaultAPIVersion, headers.Get("anthropic-version"))
	require.Equal(t, DefaultModel, got.Model)
	require.Equal(t, DefaultMaxTokens, got.MaxTokens)
	require.Equal(t, "user", got.Messages[0].Role)
	require.Equal(t, DefaultModel, client.Model())
}

func TestCompleteMakesOneAttemptPerCall(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := NewClient(Config{APIKey: "key", BaseURL: srv.URL}).Complete(context.Background(), "x")
	require.Equal(t, retry.ClassRetryable, retry.Classify(err))
	require.Equal(t, int32(1), calls.Load(), "retries belong to the caller's policy")
}

func TestCompleteClassifiesStatus(t *testing.T) {
	t.Parallel()

	cases := []struct {
		status int
		header string
		class  retry.Class
	}{
		{http.StatusTooManyRequests, "3", retry.ClassRateLimited},
		{http.StatusBadRequest, "", retry.ClassTerminal},
		{http.StatusUnauthorized, "", retry.ClassTerminal},
		{529, "", retry.ClassRetryable},
		{http.StatusInternalServerError, "", retry.ClassRetryable},
	}
	for _, tc := range cases {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			if tc.header != "" {
				w.Header().Set("Retry-After", tc.header)
			}
			w.WriteHeader(tc.status)
		}))
		_, err := NewClient(Config{APIKey: "key", BaseURL: srv.URL}).Complete(context.Background(), "x")
		srv.Close()
		require.Error(t, err)
		require.Equal(t, tc.class, retry.Classify(err), "status %d", tc.status)
	}
}

func TestCompleteRetryAfterIsCarried(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Retry-After", "2")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	_, err := NewClient(Config{APIKey: "key", BaseURL: srv.URL}).Complete(context.Background(), "x")
	var tagged *retry.Error
	require.ErrorAs(t, err, &tagged)
	require.Equal(t, 2*time.Second, tagged.RetryAfter)
}

func TestCompleteWithoutKeyIsTerminal(t *testing.T) {
	t.Parallel()

	_, err := NewClient(Config{}).Complete(context.Background(), "x")
	require.True(t, retry.IsTerminal(err))
}

func TestCompleteNetworkErrorIsRetryable(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := srv.URL
	srv.Close()

	_, err := NewClient(Config{APIKey: "key", BaseURL: url}).Complete(context.Background(), "x")
	require.Equal(t, retry.ClassRetryable, retry.Classify(err))
}

func TestCompleteWithoutTextIsTerminal(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"content":[],"stop_reason":"max_tokens"}`))
	}))
	defer srv.Close()

	_, err := NewClient(Config{APIKey: "key", BaseURL: srv.URL}).Complete(context.Background(), "x")
	require.True(t, retry.IsTerminal(err))
	require.ErrorContains(t, err, "max_tokens")
}
