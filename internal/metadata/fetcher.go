package metadata

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/jstrand/bookmark-sync/internal/retry"
)

// FetcherConfig controls collector behavior.
type FetcherConfig struct {
	UserAgent string
	Timeout   time.Duration
}

// Page is one fetched HTML document.
type Page struct {
	Body        []byte
	ContentType string
	FinalURL    string
}

// Fetcher retrieves pages with a Colly collector. Each fetch clones the
// base collector so per-request settings never leak between calls.
type Fetcher struct {
	cfg           FetcherConfig
	baseCollector *colly.Collector
}

// NewFetcher builds a Fetcher.
func NewFetcher(cfg FetcherConfig) *Fetcher {
	c := colly.NewCollector(colly.Async(false))
	c.IgnoreRobotsTxt = true
	c.WithTransport(newHTTPTransport())
	return &Fetcher{cfg: cfg, baseCollector: c}
}

// Fetch retrieves one URL and rejects non-HTML payloads.
func (f *Fetcher) Fetch(ctx context.Context, pageURL string) (Page, error) {
	var (
		result   Page
		fetchErr error
	)

	collector := f.baseCollector.Clone()
	if f.cfg.UserAgent != "" {
		collector.UserAgent = f.cfg.UserAgent
	}
	timeout := f.cfg.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	collector.SetRequestTimeout(timeout)

	collector.OnResponse(func(r *colly.Response) {
		result = Page{
			Body:        append([]byte(nil), r.Body...),
			ContentType: r.Headers.Get("Content-Type"),
			FinalURL:    r.Request.URL.String(),
		}
	})
	collector.OnError(func(r *colly.Response, err error) {
		if r != nil && r.StatusCode > 0 {
			fetchErr = retry.HTTPError(r.StatusCode, "fetch "+pageURL)
			return
		}
		fetchErr = retry.NewError(retry.KindNetwork, "fetch "+pageURL, err)
	})

	if err := f.run(ctx, collector, pageURL, &fetchErr); err != nil {
		return Page{}, err
	}
	if !isHTML(result.ContentType) {
		return Page{}, retry.NewError(
			retry.KindValidation,
			fmt.Sprintf("unsupported content type %q", result.ContentType),
			nil,
		)
	}
	return result, nil
}

func (f *Fetcher) run(ctx context.Context, collector *colly.Collector, url string, fetchErr *error) error {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(url)
	}()

	select {
	case <-ctx.Done():
		return retry.NewError(retry.KindTimeout, "fetch canceled", ctx.Err())
	case err := <-done:
		if *fetchErr != nil {
			return *fetchErr
		}
		if err != nil {
			return retry.NewError(retry.KindNetwork, "visit "+url, err)
		}
		return nil
	}
}

func isHTML(contentType string) bool {
	ct := strings.ToLower(contentType)
	return strings.Contains(ct, "text/html") || strings.Contains(ct, "application/xhtml")
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
