// Package crawler discovers documentation pages from a site's sitemap and
// fetches their raw HTML, with bounded concurrency and per-task pacing.
package crawler

import (
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/sync/errgroup"

	"github.com/ragforge/docpipe/engine/model"
	"github.com/ragforge/docpipe/pkg/fn"
	"github.com/ragforge/docpipe/pkg/resilience"
)

const userAgent = "docpipe/0.1 (+https://github.com/ragforge/docpipe)"

// sitemapNode models both a sitemap index and a urlset after namespace
// stripping: both shapes can appear in the same document tree depending on
// how deep a site's sitemap goes, so one struct covers both.
type sitemapNode struct {
	XMLName  xml.Name       `xml:"-"`
	Sitemaps []sitemapEntry `xml:"sitemap"`
	URLs     []sitemapEntry `xml:"url"`
}

type sitemapEntry struct {
	Loc string `xml:"loc"`
}

// Options configures a Crawler.
type Options struct {
	HTTPClient  *http.Client // defaults to a client with a 30s timeout
	Concurrency int          // default 5
	// RequestDelay is how long each worker sleeps after acquiring its
	// concurrency slot, before issuing the request. Default 600ms.
	RequestDelay     time.Duration
	Retry            fn.RetryOpts // defaults to 3 attempts, 1s base, 30s cap
	NestedSitemapMax int          // max nested <sitemap> entries to follow, default 50
	Breaker          *resilience.Breaker // trips after repeated fetch failures; defaults to resilience.DefaultBreakerOpts
}

func (o Options) withDefaults() Options {
	if o.HTTPClient == nil {
		o.HTTPClient = &http.Client{
			Timeout:   30 * time.Second,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		}
	}
	if o.Concurrency <= 0 {
		o.Concurrency = 5
	}
	if o.RequestDelay <= 0 {
		o.RequestDelay = 600 * time.Millisecond
	}
	if o.Retry.MaxAttempts == 0 {
		o.Retry = fn.RetryOpts{MaxAttempts: 3, InitialWait: time.Second, MaxWait: 30 * time.Second, Jitter: true}
	}
	if o.Retry.RetryIf == nil {
		o.Retry.RetryIf = retryableFetchErr
	}
	if o.NestedSitemapMax <= 0 {
		o.NestedSitemapMax = 50
	}
	if o.Breaker == nil {
		o.Breaker = resilience.NewBreaker(resilience.DefaultBreakerOpts)
	}
	return o
}

// retryableFetchErr reports whether a fetch failure should be retried. A
// 4xx response is a terminal per-item failure, not a transient one.
func retryableFetchErr(err error) bool {
	return !errors.Is(err, model.ErrHTTPClient)
}

// Crawler discovers and fetches documentation pages.
type Crawler struct {
	opts Options
}

// New constructs a Crawler.
func New(opts Options) *Crawler {
	return &Crawler{opts: opts.withDefaults()}
}

// DiscoverURLs fetches sitemapURL, follows one level of nested <sitemap>
// entries (skipping any whose loc still names "sitemap.xml", to avoid a
// self-referencing loop), and returns the deduplicated set of page URLs
// found. Entries of the top-level sitemap are kept only when their path is a
// documentation path (/docs/); entries of nested sitemaps are kept as listed.
func (c *Crawler) DiscoverURLs(ctx context.Context, sitemapURL string) ([]string, error) {
	body, err := c.fetchWithRetry(ctx, sitemapURL, c.opts.Retry)
	if err != nil {
		return nil, model.NewMalformedSitemapError(sitemapURL, err)
	}

	node, err := parseSitemap(body)
	if err != nil {
		return nil, model.NewMalformedSitemapError(sitemapURL, err)
	}

	seen := make(map[string]struct{})
	var urls []string
	addURL := func(loc string, requireDocsPath bool) {
		loc = strings.TrimSpace(loc)
		if loc == "" {
			return
		}
		if requireDocsPath && !strings.Contains(loc, "/docs/") && !strings.HasSuffix(loc, "/docs") {
			return
		}
		if _, ok := seen[loc]; ok {
			return
		}
		seen[loc] = struct{}{}
		urls = append(urls, loc)
	}

	for _, u := range node.URLs {
		addURL(u.Loc, true)
	}

	nestedRetry := c.opts.Retry
	nestedRetry.MaxAttempts = 2
	for i, sm := range node.Sitemaps {
		if i >= c.opts.NestedSitemapMax {
			break
		}
		loc := strings.TrimSpace(sm.Loc)
		if loc == "" || strings.Contains(loc, "sitemap.xml") {
			continue
		}
		nestedBody, err := c.fetchWithRetry(ctx, loc, nestedRetry)
		if err != nil {
			// A broken nested sitemap shouldn't sink the whole discovery run.
			continue
		}
		nestedNode, err := parseSitemap(nestedBody)
		if err != nil {
			continue
		}
		for _, u := range nestedNode.URLs {
			addURL(u.Loc, false)
		}
	}

	return urls, nil
}

func parseSitemap(body []byte) (sitemapNode, error) {
	var node sitemapNode
	if err := xml.Unmarshal(stripNamespaces(body), &node); err != nil {
		return sitemapNode{}, err
	}
	return node, nil
}

// stripNamespaces removes the xmlns attribute from the root element so
// encoding/xml's unqualified field tags (xml:"url", xml:"loc") match
// regardless of the sitemap namespace declared by the source site.
func stripNamespaces(body []byte) []byte {
	s := string(body)
	for {
		idx := strings.Index(s, `xmlns=`)
		if idx == -1 {
			break
		}
		end := idx + len(`xmlns=`)
		if end >= len(s) {
			break
		}
		quote := s[end]
		closeIdx := strings.IndexByte(s[end+1:], quote)
		if closeIdx == -1 {
			break
		}
		s = s[:idx] + s[end+1+closeIdx+1:]
	}
	return []byte(s)
}

// FetchPage retrieves a single page's raw HTML body, retrying transient
// failures with exponential backoff. Callers run it from within a bounded
// concurrency slot (see CrawlAll); FetchPage sleeps RequestDelay right
// after that slot is acquired and before issuing the request, so the
// configured delay paces each worker independently rather than throttling
// the crawl to one request per delay overall.
func (c *Crawler) FetchPage(ctx context.Context, pageURL string) (string, error) {
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case <-time.After(c.opts.RequestDelay):
	}
	body, err := c.fetchWithRetry(ctx, pageURL, c.opts.Retry)
	if err != nil {
		return "", err
	}
	return string(body), nil
}

func (c *Crawler) fetchWithRetry(ctx context.Context, target string, retryOpts fn.RetryOpts) ([]byte, error) {
	result := resilience.CallResult(c.opts.Breaker, ctx, func(ctx context.Context) fn.Result[[]byte] {
		return fn.Retry(ctx, retryOpts, func(ctx context.Context) fn.Result[[]byte] {
			body, err := c.fetchOnce(ctx, target)
			if err != nil {
				return fn.Err[[]byte](err)
			}
			return fn.Ok(body)
		})
	})
	return result.Unwrap()
}

func (c *Crawler) fetchOnce(ctx context.Context, target string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.opts.HTTPClient.Do(req)
	if err != nil {
		return nil, model.NewNetworkError(target, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 && resp.StatusCode < 500 {
		return nil, model.NewHTTPClientError(target, resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, model.NewNetworkError(target, fmt.Errorf("unexpected status %d", resp.StatusCode))
	}
	return io.ReadAll(resp.Body)
}

// FetchResult is the outcome of fetching a single URL.
type FetchResult struct {
	URL  string
	HTML string
	Err  error
}

// CrawlAllFunc handles one successfully (or unsuccessfully) fetched result,
// e.g. to persist crawl state or feed the extractor pipeline. It runs on
// whichever worker goroutine produced the result, so implementations that
// share state must synchronize themselves.
type CrawlAllFunc func(FetchResult)

// CrawlAll fetches every URL with bounded concurrency, calling onResult for
// each outcome as it completes. Individual page failures are reported via
// FetchResult.Err and do not stop the rest of the crawl; only a cancelled
// ctx passed in by the caller does. CrawlAll then returns ctx.Err() and does
// not report the URLs whose fetch the cancellation cut short.
func (c *Crawler) CrawlAll(ctx context.Context, urls []string, onResult CrawlAllFunc) error {
	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(c.opts.Concurrency)

	var mu sync.Mutex
	for _, u := range urls {
		g.Go(func() error {
			html, err := c.FetchPage(gCtx, u)
			if err != nil && ctx.Err() != nil {
				return nil
			}
			res := FetchResult{URL: u, HTML: html, Err: err}
			mu.Lock()
			onResult(res)
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}
