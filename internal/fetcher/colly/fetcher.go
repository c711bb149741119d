// Package collyfetcher implements the listing page fetcher using gocolly.
package collyfetcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/JakeFAU/listing-harvester/internal/crawler"
)

// DefaultUserAgent mimics a desktop browser.
const DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 " +
	"(KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

// Config controls how listing pages are requested.
type Config struct {
	BaseURL          string
	PlaceID          string
	PageSize         int
	ExcludeFullGames bool
	UserAgent        string
	Timeout          time.Duration
}

// Fetcher implements crawler.Fetcher. Each call builds its own collector so
// every request leaves through the proxy it was given.
type Fetcher struct {
	cfg    Config
	logger *zap.Logger
}

type collectorHooks interface {
	OnRequest(colly.RequestCallback)
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

// raw is what the collector callbacks capture for one visit.
type raw struct {
	status int
	body   []byte
	err    error
}

// New builds a Fetcher.
func New(cfg Config, logger *zap.Logger) *Fetcher {
	if cfg.PageSize <= 0 {
		cfg.PageSize = 100
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultUserAgent
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Fetcher{cfg: cfg, logger: logger}
}

// ListingURL returns the page URL for a planned fetch.
func (f *Fetcher) ListingURL(plan crawler.PlannedFetch) (string, error) {
	base, err := url.Parse(f.cfg.BaseURL)
	if err != nil || base.Host == "" {
		return "", fmt.Errorf("invalid listing base url %q", f.cfg.BaseURL)
	}
	base = base.JoinPath("v1", "games", f.cfg.PlaceID, "servers", "Public")
	q := url.Values{}
	q.Set("sortOrder", string(plan.Direction))
	q.Set("limit", strconv.Itoa(f.cfg.PageSize))
	if plan.Cursor != "" {
		q.Set("cursor", plan.Cursor)
	}
	if f.cfg.ExcludeFullGames {
		q.Set("excludeFullGames", "true")
	}
	base.RawQuery = q.Encode()
	return base.String(), nil
}

// Fetch requests one page through proxyURL and classifies the response.
// It never returns an error; failures are expressed in the PageResult.
func (f *Fetcher) Fetch(ctx context.Context, plan crawler.PlannedFetch, proxyURL string) crawler.PageResult {
	start := time.Now()
	result := crawler.PageResult{Direction: plan.Direction}

	target, err := f.ListingURL(plan)
	if err != nil {
		result.Outcome = crawler.OutcomeEmpty
		result.Err = err
		return result
	}
	transport, err := newHTTPTransport(proxyURL)
	if err != nil {
		result.Outcome = crawler.OutcomeTransportError
		result.Err = err
		return result
	}
	defer transport.CloseIdleConnections()

	var captured raw
	collector := f.buildCollector(ctx, transport, &captured)
	visitErr := collector.Visit(target)
	if captured.err == nil {
		captured.err = visitErr
	}

	result = classify(captured, plan.Direction)
	result.Duration = time.Since(start)
	if result.Outcome != crawler.OutcomeSuccess {
		f.logger.Debug("listing fetch failed",
			zap.String("direction", string(plan.Direction)),
			zap.Bool("from_scratch", plan.Cursor == ""),
			zap.String("outcome", string(result.Outcome)),
			zap.Int("status", result.StatusCode),
			zap.Error(result.Err),
		)
	}
	return result
}

func (f *Fetcher) buildCollector(ctx context.Context, transport http.RoundTripper, captured *raw) *colly.Collector {
	collector := colly.NewCollector(
		colly.AllowURLRevisit(),
		colly.UserAgent(f.cfg.UserAgent),
		colly.StdlibContext(ctx),
	)
	collector.ParseHTTPErrorResponse = true
	collector.SetRequestTimeout(f.cfg.Timeout)
	collector.WithTransport(transport)
	configureCollectorHooks(collector, captured)
	return collector
}

func configureCollectorHooks(hooks collectorHooks, captured *raw) {
	hooks.OnRequest(func(r *colly.Request) {
		r.Headers.Set("Accept", "application/json")
	})

	hooks.OnResponse(func(r *colly.Response) {
		captured.status = r.StatusCode
		captured.body = append([]byte(nil), r.Body...)
	})

	hooks.OnError(func(r *colly.Response, err error) {
		if r != nil && r.StatusCode > 0 {
			captured.status = r.StatusCode
			captured.body = append([]byte(nil), r.Body...)
		}
		captured.err = err
	})
}

// classify maps a raw response onto an outcome.
func classify(captured raw, dir crawler.Direction) crawler.PageResult {
	result := crawler.PageResult{Direction: dir, StatusCode: captured.status}
	switch {
	case captured.status == 0:
		result.Outcome = crawler.OutcomeTransportError
		result.Err = captured.err
		if result.Err == nil {
			result.Err = errors.New("no response received")
		}
		return result
	case captured.status == http.StatusTooManyRequests:
		result.Outcome = crawler.OutcomeRateLimited
		result.Err = fmt.Errorf("listing rate limited: status %d", captured.status)
		return result
	case captured.status != http.StatusOK:
		result.Outcome = crawler.OutcomeEmpty
		result.Err = fmt.Errorf("unexpected listing status %d", captured.status)
		return result
	}

	var page crawler.ListingPage
	if err := json.Unmarshal(captured.body, &page); err != nil {
		result.Outcome = crawler.OutcomeEmpty
		result.Err = fmt.Errorf("decode listing page: %w", err)
		return result
	}
	if page.Data == nil {
		result.Outcome = crawler.OutcomeEmpty
		result.Err = errors.New("listing page has no data array")
		return result
	}

	result.Outcome = crawler.OutcomeSuccess
	result.Entries = make([]crawler.Entry, 0, len(page.Data))
	for _, item := range page.Data {
		if item.ID == "" {
			continue
		}
		result.Entries = append(result.Entries, crawler.Entry{ID: string(item.ID), Playing: item.Playing})
	}
	if page.NextPageCursor != nil {
		result.NextCursor = *page.NextPageCursor
	}
	return result
}

func newHTTPTransport(proxyURL string) (*http.Transport, error) {
	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          4,
		IdleConnTimeout:       30 * time.Second,
	}
	if proxyURL == "" {
		return transport, nil
	}
	u, err := url.Parse(proxyURL)
	if err != nil || u.Host == "" {
		return nil, errors.New("invalid proxy url")
	}
	transport.Proxy = http.ProxyURL(u)
	return transport, nil
}
