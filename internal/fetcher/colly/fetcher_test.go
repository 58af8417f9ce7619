package collyfetcher

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gocolly/colly/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shreyas-bk24/anvesha-crawler/internal/crawler"
)

func TestFetchSuccess(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "test-agent", r.UserAgent())
		assert.Equal(t, "yes", r.Header.Get("X-Trace"))
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte("<html><title>ok</title></html>"))
	}))
	t.Cleanup(srv.Close)

	f := New(Config{UserAgent: "test-agent", Headers: http.Header{"X-Trace": {"yes"}}})
	res, err := f.Fetch(context.Background(), srv.URL+"/page", time.Second)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, res.StatusCode)
	require.Equal(t, srv.URL+"/page", res.URL)
	require.Equal(t, "text/html; charset=utf-8", res.ContentType)
	require.Contains(t, string(res.Body), "<title>ok</title>")
	require.Positive(t, res.Duration)
}

func TestFetchFollowsRedirect(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc("/old", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/new", http.StatusMovedPermanently)
	})
	mux.HandleFunc("/new", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("moved"))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	res, err := New(Config{}).Fetch(context.Background(), srv.URL+"/old", time.Second)
	require.NoError(t, err)
	require.Equal(t, srv.URL+"/old", res.URL)
	require.Equal(t, srv.URL+"/new", res.FinalURL)
}

func TestFetchStatusClassification(t *testing.T) {
	t.Parallel()

	cases := []struct {
		status int
		kind   crawler.FailureKind
	}{
		{http.StatusNotFound, crawler.Permanent},
		{http.StatusForbidden, crawler.Permanent},
		{http.StatusInternalServerError, crawler.Transient},
		{http.StatusTooManyRequests, crawler.Transient},
	}
	for _, tc := range cases {
		t.Run(http.StatusText(tc.status), func(t *testing.T) {
			t.Parallel()
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte("nope"))
			}))
			t.Cleanup(srv.Close)

			res, err := New(Config{}).Fetch(context.Background(), srv.URL, time.Second)
			require.Error(t, err)
			require.Equal(t, tc.status, res.StatusCode)
			var fe *crawler.FetchError
			require.True(t, errors.As(err, &fe))
			require.Equal(t, tc.kind, fe.Kind)
			require.Equal(t, tc.status, crawler.StatusOf(err))
		})
	}
}

func TestFetchTimeoutIsTransient(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	t.Cleanup(func() {
		close(release)
		srv.Close()
	})

	_, err := New(Config{}).Fetch(context.Background(), srv.URL, 50*time.Millisecond)
	require.Error(t, err)
	require.Equal(t, crawler.Transient, crawler.KindOf(err))
}

func TestFetchConnectionRefusedIsTransient(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.NotFoundHandler())
	addr := srv.URL
	srv.Close()

	_, err := New(Config{}).Fetch(context.Background(), addr, time.Second)
	require.Error(t, err)
	require.Equal(t, crawler.Transient, crawler.KindOf(err))
}

func TestFetchCanceledContext(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	t.Cleanup(func() {
		close(release)
		srv.Close()
	})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	_, err := New(Config{}).Fetch(ctx, srv.URL, 5*time.Second)
	require.ErrorIs(t, err, context.Canceled)
}

func TestFetchCancelAbortsRequest(t *testing.T) {
	t.Parallel()

	aborted := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		select {
		case <-time.After(1500 * time.Millisecond):
		case <-r.Context().Done():
			close(aborted)
		}
	}))
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	start := time.Now()
	_, err := New(Config{}).Fetch(ctx, srv.URL, 5*time.Second)
	require.Error(t, err)
	assert.Less(t, time.Since(start), time.Second)

	select {
	case <-aborted:
	case <-time.After(time.Second):
		t.Fatal("server kept serving a request whose fetch was canceled")
	}
}

func TestFetchTruncatesBody(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(strings.Repeat("a", 4096)))
	}))
	t.Cleanup(srv.Close)

	res, err := New(Config{MaxBodySize: 1024}).Fetch(context.Background(), srv.URL, time.Second)
	require.NoError(t, err)
	require.Len(t, res.Body, 1024)
}

func TestConfigureCollectorHooks(t *testing.T) {
	t.Parallel()

	f := New(Config{Headers: http.Header{"X-Trace": {"yes"}}})
	start := time.Unix(0, 0)
	var result crawler.FetchResult
	var fetchErr error

	hooks := &stubHooks{}
	f.configureCollectorHooks(hooks, start, &result, &fetchErr)
	require.NotNil(t, hooks.onRequest)
	require.NotNil(t, hooks.onResponse)
	require.NotNil(t, hooks.onError)

	collyReq := &colly.Request{Headers: &http.Header{}}
	hooks.onRequest(collyReq)
	require.Equal(t, "yes", collyReq.Headers.Get("X-Trace"))

	hooks.onResponse(&colly.Response{
		StatusCode: http.StatusCreated,
		Body:       []byte("body"),
		Headers:    &http.Header{"Content-Type": {"text/html"}},
		Request:    &colly.Request{URL: mustParseURL(t, "https://example.com/final")},
	})
	require.Equal(t, http.StatusCreated, result.StatusCode)
	require.Equal(t, "body", string(result.Body))
	require.Equal(t, "text/html", result.ContentType)
	require.Equal(t, "https://example.com/final", result.FinalURL)

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

func (s *stubHooks) OnRequest(cb colly.RequestCallback) {
	s.onRequest = cb
}

func (s *stubHooks) OnResponse(cb colly.ResponseCallback) {
	s.onResponse = cb
}

func (s *stubHooks) OnError(cb colly.ErrorCallback) {
	s.onError = cb
}
