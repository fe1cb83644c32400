// Package collyfetcher implements the archive HTTP capability using gocolly.
package collyfetcher

import (
	"context"
	"crypto/sha1" // #nosec G505 -- colly keys its cache by sha1(url)
	"encoding/hex"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/zeynepaki/tgv-prototype/internal/archive"
	"github.com/zeynepaki/tgv-prototype/internal/metrics"
	"github.com/zeynepaki/tgv-prototype/internal/policy/ratelimit"
)

// Config controls collector behavior.
type Config struct {
	UserAgent string
	Timeout   time.Duration
	// CacheDir enables colly's on-disk GET cache keyed by URL. Empty disables caching.
	CacheDir          string
	MaxBodyBytes      int
	RequestsPerSecond float64
	Burst             int
	RespectRobots     bool
}

// Fetcher implements archive.Getter and archive.LinkLister on top of a Colly collector.
type Fetcher struct {
	cfg           Config
	baseCollector *colly.Collector
}

type collectorHooks interface {
	OnRequest(colly.RequestCallback)
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

type fetchResult struct {
	url    string
	status int
	body   []byte
	err    error
}

// New builds a Fetcher.
func New(cfg Config) *Fetcher {
	c := colly.NewCollector(colly.Async(false))
	c.AllowURLRevisit = true
	c.IgnoreRobotsTxt = !cfg.RespectRobots
	if cfg.UserAgent != "" {
		c.UserAgent = cfg.UserAgent
	}
	if cfg.CacheDir != "" {
		c.CacheDir = cfg.CacheDir
	}
	if cfg.MaxBodyBytes > 0 {
		c.MaxBodySize = cfg.MaxBodyBytes
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 60 * time.Second
	}
	c.SetRequestTimeout(timeout)

	// The limiter sits below colly so that cache hits never wait for a token.
	transport := ratelimit.NewTransport(newHTTPTransport(), ratelimit.Config{
		RequestsPerSecond: cfg.RequestsPerSecond,
		Burst:             cfg.Burst,
	})
	c.WithTransport(transport)

	return &Fetcher{
		cfg:           cfg,
		baseCollector: c,
	}
}

// Get returns the body of url. Non-2xx answers are reported as *archive.RemoteError.
func (f *Fetcher) Get(ctx context.Context, url string) ([]byte, error) {
	var result fetchResult
	collector := f.collector(ctx)
	configureCollectorHooks(ctx, collector, f.cfg.CacheDir, &result)

	if err := f.runCollector(ctx, collector, url, &result); err != nil {
		return nil, err
	}
	return result.body, nil
}

// Links returns the href attribute of every anchor on the page at url, in document order.
func (f *Fetcher) Links(ctx context.Context, url string) ([]string, error) {
	var (
		result fetchResult
		hrefs  []string
	)
	collector := f.collector(ctx)
	configureCollectorHooks(ctx, collector, f.cfg.CacheDir, &result)
	collector.OnHTML("a[href]", func(e *colly.HTMLElement) {
		hrefs = append(hrefs, e.Attr("href"))
	})

	if err := f.runCollector(ctx, collector, url, &result); err != nil {
		return nil, err
	}
	return hrefs, nil
}

// collector clones the base collector so that its requests, including the rate limit wait in the
// transport, carry ctx.
func (f *Fetcher) collector(ctx context.Context) *colly.Collector {
	c := f.baseCollector.Clone()
	c.Context = ctx
	return c
}

func configureCollectorHooks(ctx context.Context, hooks collectorHooks, cacheDir string, result *fetchResult) {
	hooks.OnRequest(func(r *colly.Request) {
		if ctx.Err() != nil {
			r.Abort()
		}
	})

	hooks.OnResponse(func(r *colly.Response) {
		result.url = r.Request.URL.String()
		result.status = r.StatusCode
		result.body = append([]byte(nil), r.Body...)
		metrics.ObserveRequest(result.url, r.StatusCode, len(r.Body))
	})

	hooks.OnError(func(r *colly.Response, err error) {
		remote := &archive.RemoteError{Err: err}
		if r != nil {
			remote.StatusCode = r.StatusCode
			if r.Request != nil && r.Request.URL != nil {
				remote.URL = r.Request.URL.String()
				metrics.ObserveRequest(remote.URL, r.StatusCode, 0)
				// colly caches every answer below 500; a failed one must reach the network next time.
				evictCached(cacheDir, remote.URL)
			}
		}
		result.err = remote
	})
}

func (f *Fetcher) runCollector(ctx context.Context, collector *colly.Collector, url string, result *fetchResult) error {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(url)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("colly fetch canceled: %w", ctx.Err())
	case err := <-done:
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("colly fetch canceled: %w", ctxErr)
		}
		if result.err != nil {
			var remote *archive.RemoteError
			if errors.As(result.err, &remote) && remote.URL == "" {
				remote.URL = url
			}
			return result.err
		}
		if err != nil {
			return &archive.RemoteError{URL: url, Err: err}
		}
		return nil
	}
}

// cachePath mirrors the file layout of colly's on-disk cache.
func cachePath(cacheDir, rawURL string) string {
	sum := sha1.Sum([]byte(rawURL)) // #nosec G401 -- cache key, not a security boundary
	hash := hex.EncodeToString(sum[:])
	return filepath.Join(cacheDir, hash[:2], hash)
}

func evictCached(cacheDir, rawURL string) {
	if cacheDir == "" || rawURL == "" {
		return
	}
	_ = os.Remove(cachePath(cacheDir, rawURL))
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
