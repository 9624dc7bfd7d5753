package collyfetcher

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gocolly/colly/v2"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/agentic-reviewer/internal/retry"
)

func TestFetchGet(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "reviewer-test", r.UserAgent())
		require.Equal(t, "yes", r.Header.Get("X-Trace"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[1,2,3]`))
	}))
	defer srv.Close()

	f := New(Config{UserAgent: "reviewer-test", Timeout: time.Second})
	resp, err := f.Fetch(context.Background(), Request{
		URL:     srv.URL + "/items.json",
		Headers: http.Header{"X-Trace": {"yes"}},
	})
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.JSONEq(t, `[1,2,3]`, string(resp.Body))
}

func TestFetchSameURLTwice(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		_, _ = w.Write([]byte("ok"))
	}))
	defer srv.Close()

	f := New(Config{})
	for i := 0; i < 2; i++ {
		_, err := f.Fetch(context.Background(), Request{URL: srv.URL})
		require.NoError(t, err)
	}
	require.Equal(t, int32(2), hits.Load())
}

func TestFetchPost(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		body, _ := io.ReadAll(r.Body)
		_, _ = w.Write(body)
	}))
	defer srv.Close()

	f := New(Config{})
	resp, err := f.Fetch(context.Background(), Request{
		Method:  http.MethodPost,
		URL:     srv.URL + "/graphql",
		Headers: http.Header{"Content-Type": {"application/json"}},
		Body:    []byte(`{"query":"{}"}`),
	})
	require.NoError(t, err)
	require.JSONEq(t, `{"query":"{}"}`, string(resp.Body))
}

func TestFetchClassifiesStatus(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/missing":
			http.NotFound(w, r)
		case "/throttled":
			w.Header().Set("Retry-After", "7")
			w.WriteHeader(http.StatusTooManyRequests)
		default:
			w.WriteHeader(http.StatusBadGateway)
		}
	}))
	defer srv.Close()

	f := New(Config{})
	_, err := f.Fetch(context.Background(), Request{URL: srv.URL + "/missing"})
	require.True(t, retry.IsTerminal(err))

	_, err = f.Fetch(context.Background(), Request{URL: srv.URL + "/throttled"})
	var tagged *retry.Error
	require.True(t, errors.As(err, &tagged))
	require.Equal(t, retry.ClassRateLimited, tagged.Class)
	require.Equal(t, 7*time.Second, tagged.RetryAfter)

	_, err = f.Fetch(context.Background(), Request{URL: srv.URL + "/flaky"})
	require.Equal(t, retry.ClassRetryable, retry.Classify(err))
}

type countingWaiter struct{ calls atomic.Int32 }

func (w *countingWaiter) Wait(context.Context, string) error {
	w.calls.Add(1)
	return nil
}

func TestFetchWaitsOnLimiter(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("ok"))
	}))
	defer srv.Close()

	waiter := &countingWaiter{}
	f := New(Config{Limiter: waiter})
	_, err := f.Fetch(context.Background(), Request{URL: srv.URL})
	require.NoError(t, err)
	require.Equal(t, int32(1), waiter.calls.Load())
}

func TestConfigureCollectorHooks(t *testing.T) {
	t.Parallel()

	f := New(Config{})
	req := Request{URL: "https://example.com", Headers: http.Header{"X-Trace": {"yes"}}}
	var result Response
	var fetchErr error

	hooks := &stubHooks{}
	f.configureCollectorHooks(hooks, req, time.Unix(0, 0), &result, &fetchErr)
	require.NotNil(t, hooks.onRequest)
	require.NotNil(t, hooks.onResponse)
	require.NotNil(t, hooks.onError)

	collyReq := &colly.Request{Headers: &http.Header{}}
	hooks.onRequest(collyReq)
	require.Equal(t, "yes", collyReq.Headers.Get("X-Trace"))

	hooks.onResponse(&colly.Response{
		StatusCode: http.StatusCreated,
		Body:       []byte("body"),
		Headers:    &http.Header{"X-Resp": {"ok"}},
		Request:    &colly.Request{URL: mustParseURL(t, "https://example.com")},
	})
	require.Equal(t, http.StatusCreated, result.StatusCode)
	require.Equal(t, "ok", result.Headers.Get("X-Resp"))

	hooks.onError(nil, errors.New("boom"))
	require.EqualError(t, fetchErr, "boom")
}

func mustParseURL(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	require.NoError(t, err)
	return u
}

type stubHooks struct {
	onRequest  colly.RequestCallback
	onResponse colly.ResponseCallback
	onError    colly.ErrorCallback
}

func (s *stubHooks) OnRequest(cb colly.RequestCallback)   { s.onRequest = cb }
func (s *stubHooks) OnResponse(cb colly.ResponseCallback) { s.onResponse = cb }
func (s *stubHooks) OnError(cb colly.ErrorCallback)       { s.onError = cb }
