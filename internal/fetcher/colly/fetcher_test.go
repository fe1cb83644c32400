package collyfetcher

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gocolly/colly/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zeynepaki/tgv-prototype/internal/archive"
)

func TestGetReturnsBody(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = fmt.Fprint(w, "Wiener Zeitung")
	}))
	defer srv.Close()

	f := New(Config{UserAgent: "test-agent", Timeout: time.Second})
	body, err := f.Get(context.Background(), srv.URL+"/text")
	require.NoError(t, err)
	assert.Equal(t, "Wiener Zeitung", string(body))
}

func TestGetServesRepeatsFromCache(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		_, _ = fmt.Fprint(w, `{"label":"cached"}`)
	}))
	defer srv.Close()

	f := New(Config{CacheDir: t.TempDir(), Timeout: time.Second})
	for i := 0; i < 3; i++ {
		body, err := f.Get(context.Background(), srv.URL+"/manifest")
		require.NoError(t, err)
		assert.JSONEq(t, `{"label":"cached"}`, string(body))
	}
	assert.Equal(t, int32(1), hits.Load())
}

func TestGetRetriesFailedResponsesDespiteCache(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if hits.Add(1) == 1 {
			http.Error(w, "not yet", http.StatusNotFound)
			return
		}
		_, _ = fmt.Fprint(w, "Seite 1")
	}))
	defer srv.Close()

	cacheDir := t.TempDir()
	f := New(Config{CacheDir: cacheDir, Timeout: time.Second})
	target := srv.URL + "/annoshow?text=sam|18090101|x"

	_, err := f.Get(context.Background(), target)
	var remote *archive.RemoteError
	require.ErrorAs(t, err, &remote)
	assert.Equal(t, http.StatusNotFound, remote.StatusCode)
	assert.NoFileExists(t, cachePath(cacheDir, remote.URL))

	body, err := f.Get(context.Background(), target)
	require.NoError(t, err)
	assert.Equal(t, "Seite 1", string(body))
	assert.Equal(t, int32(2), hits.Load())

	// The successful answer is cached.
	_, err = f.Get(context.Background(), target)
	require.NoError(t, err)
	assert.Equal(t, int32(2), hits.Load())
}

func TestGetReportsRemoteError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	}))
	defer srv.Close()

	f := New(Config{Timeout: time.Second})
	_, err := f.Get(context.Background(), srv.URL+"/missing")
	require.Error(t, err)

	var remote *archive.RemoteError
	require.ErrorAs(t, err, &remote)
	assert.Equal(t, http.StatusNotFound, remote.StatusCode)
	assert.Contains(t, remote.URL, "/missing")
}

func TestLinksReturnsAnchorsInOrder(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = fmt.Fprint(w, `<html><body>
<a href="/cgi-content/anno?aid=sam&datum=1809">1809</a>
<a>no target</a>
<a href="/cgi-content/anno?aid=sam&datum=1810">1810</a>
<a href="https://example.org/elsewhere">elsewhere</a>
</body></html>`)
	}))
	defer srv.Close()

	f := New(Config{Timeout: time.Second})
	links, err := f.Links(context.Background(), srv.URL+"/title")
	require.NoError(t, err)
	assert.Equal(t, []string{
		"/cgi-content/anno?aid=sam&datum=1809",
		"/cgi-content/anno?aid=sam&datum=1810",
		"https://example.org/elsewhere",
	}, links)
}

func TestGetHonoursCanceledContext(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		<-release
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	f := New(Config{Timeout: 5 * time.Second})
	_, err := f.Get(ctx, srv.URL)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestGetSkipsNetworkForCanceledContext(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	f := New(Config{Timeout: time.Second})
	_, err := f.Get(ctx, srv.URL)
	require.ErrorIs(t, err, context.Canceled)
	_, err = f.Links(ctx, srv.URL)
	require.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, hits.Load())
}

func TestConfigureCollectorHooks(t *testing.T) {
	t.Parallel()

	cacheDir := t.TempDir()
	var result fetchResult
	hooks := &stubHooks{}
	configureCollectorHooks(context.Background(), hooks, cacheDir, &result)
	require.NotNil(t, hooks.onRequest)
	require.NotNil(t, hooks.onResponse)
	require.NotNil(t, hooks.onError)

	req := &colly.Request{URL: mustParseURL(t, "https://iiif.onb.ac.at/presentation/ABO/+Z1/manifest")}
	hooks.onResponse(&colly.Response{StatusCode: http.StatusOK, Body: []byte("body"), Request: req})
	assert.Equal(t, http.StatusOK, result.status)
	assert.Equal(t, "body", string(result.body))

	cached := cachePath(cacheDir, req.URL.String())
	require.NoError(t, os.MkdirAll(filepath.Dir(cached), 0o750))
	require.NoError(t, os.WriteFile(cached, []byte("stale"), 0o600))

	hooks.onError(&colly.Response{StatusCode: http.StatusBadGateway, Request: req}, errors.New("Bad Gateway"))
	assert.NoFileExists(t, cached)
	var remote *archive.RemoteError
	require.ErrorAs(t, result.err, &remote)
	assert.Equal(t, http.StatusBadGateway, remote.StatusCode)
	assert.Equal(t, req.URL.String(), remote.URL)
}

func mustParseURL(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("failed to parse url %q: %v", raw, err)
	}
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
