// Package metadata enriches bookmark URLs with page metadata scraped
// from the live document.
package metadata

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"go.uber.org/zap"

	"github.com/jstrand/bookmark-sync/internal/cache"
	"github.com/jstrand/bookmark-sync/internal/metrics"
	"github.com/jstrand/bookmark-sync/internal/retry"
)

// Metadata is the enrichment record extracted for one URL.
type Metadata struct {
	Title              string
	Description        string
	Host               string
	FaviconURL         string
	Image              string
	Author             string
	PublishDate        *time.Time
	ReadingTimeMinutes int
	Language           string
	Keywords           []string
	ContentPreview     string
}

// PageFetcher retrieves one HTML document.
type PageFetcher interface {
	Fetch(ctx context.Context, url string) (Page, error)
}

// Config controls extraction behavior.
type Config struct {
	Timeout  time.Duration
	CacheTTL time.Duration
}

// Service extracts and caches page metadata. Extraction failures
// degrade to URL-derived fallbacks instead of failing the caller, since
// enrichment is best effort.
type Service struct {
	fetcher  PageFetcher
	cache    *cache.Cache
	cacheTTL time.Duration
	timeout  time.Duration
	logger   *zap.Logger
}

// NewService builds a Service. The cache may be nil to disable caching.
func NewService(fetcher PageFetcher, c *cache.Cache, cfg Config, logger *zap.Logger) *Service {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ttl := cfg.CacheTTL
	if ttl <= 0 {
		ttl = time.Hour
	}
	metrics.Init()
	return &Service{
		fetcher:  fetcher,
		cache:    c,
		cacheTTL: ttl,
		timeout:  timeout,
		logger:   logger.Named("metadata"),
	}
}

// ExtractFromURL returns metadata for pageURL, from cache when fresh.
// A malformed URL is the one error that propagates; everything after
// validation degrades to URL-derived fallbacks.
func (s *Service) ExtractFromURL(ctx context.Context, pageURL string) (Metadata, error) {
	if err := validateURL(pageURL); err != nil {
		return Metadata{}, err
	}

	key := cache.Key("metadata", "extract", pageURL)
	if s.cache != nil {
		if cached, ok := s.cache.Get(key); ok {
			if md, ok := cached.(Metadata); ok {
				return md, nil
			}
		}
	}

	md := s.extract(ctx, pageURL)
	if s.cache != nil {
		s.cache.Set(key, md, s.cacheTTL)
	}
	return md, nil
}

func (s *Service) extract(ctx context.Context, pageURL string) Metadata {
	fallback := Fallback(pageURL)

	page, err := retry.WithTimeout(ctx, s.timeout, func(ctx context.Context) (Page, error) {
		return s.fetcher.Fetch(ctx, pageURL)
	})
	if err != nil {
		s.logger.Warn("metadata fetch failed, using url fallback",
			zap.String("url", pageURL),
			zap.Error(err),
		)
		metrics.ObserveMetadataFetch(false)
		return fallback
	}

	md, err := extractDocument(page.Body)
	if err != nil {
		s.logger.Warn("metadata parse failed, using url fallback",
			zap.String("url", pageURL),
			zap.Error(err),
		)
		metrics.ObserveMetadataFetch(false)
		return fallback
	}
	metrics.ObserveMetadataFetch(true)

	md.Host = fallback.Host
	md.FaviconURL = fallback.FaviconURL
	if md.Title == "" {
		md.Title = fallback.Title
	}
	if md.Image != "" {
		md.Image = absoluteURL(page.FinalURL, md.Image)
	}
	return md
}

func validateURL(pageURL string) error {
	u, err := url.Parse(pageURL)
	if err != nil {
		return retry.NewError(retry.KindValidation, fmt.Sprintf("invalid url %q", pageURL), err)
	}
	if u.Host == "" {
		return retry.NewError(retry.KindValidation, fmt.Sprintf("url %q has no host", pageURL), nil)
	}
	return nil
}

// Fallback derives the metadata obtainable from the URL alone.
func Fallback(pageURL string) Metadata {
	md := Metadata{
		Title:              TitleFromURL(pageURL),
		FaviconURL:         FaviconURL(pageURL),
		ReadingTimeMinutes: 1,
	}
	if u, err := url.Parse(pageURL); err == nil {
		md.Host = u.Hostname()
	}
	return md
}

func absoluteURL(base, ref string) string {
	baseURL, err := url.Parse(base)
	if err != nil {
		return ref
	}
	refURL, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	return baseURL.ResolveReference(refURL).String()
}
