// Package sync reconciles the local bookmark store against the remote
// reading service.
package sync

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/jstrand/bookmark-sync/internal/bookmark"
	"github.com/jstrand/bookmark-sync/internal/instapaper"
	"github.com/jstrand/bookmark-sync/internal/metadata"
	"github.com/jstrand/bookmark-sync/internal/publisher"
	"github.com/jstrand/bookmark-sync/internal/store"
)

const (
	// DefaultLimit bounds how many remote bookmarks one cycle fetches.
	DefaultLimit = 100

	// progressDelta is the minimum reading-progress change worth a write.
	progressDelta = 0.1

	// staleAfter forces a refresh write for records not synced recently.
	staleAfter = 24 * time.Hour

	// maxStatusErrors caps the error list in a status report.
	maxStatusErrors = 10
)

// RemoteClient is the slice of the remote API the reconciler needs.
type RemoteClient interface {
	VerifyCredentials(ctx context.Context) (instapaper.User, error)
	ListBookmarks(ctx context.Context, opts instapaper.ListOptions) ([]instapaper.RemoteBookmark, error)
	AddBookmark(ctx context.Context, url string, opts instapaper.AddOptions) (instapaper.RemoteBookmark, error)
}

// Enricher extracts page metadata for a URL.
type Enricher interface {
	ExtractFromURL(ctx context.Context, url string) (metadata.Metadata, error)
}

// Clock abstracts time for deterministic tests.
type Clock interface {
	Now() time.Time
}

// IDGenerator mints bookmark primary keys.
type IDGenerator interface {
	NewID() (string, error)
}

// Options tunes one reconciliation cycle.
type Options struct {
	Limit          int
	ForceRefresh   bool
	EnrichMetadata bool
}

// DefaultOptions returns the standard incremental-cycle settings.
func DefaultOptions() Options {
	return Options{Limit: DefaultLimit, EnrichMetadata: true}
}

// Service runs bookmark reconciliation cycles. Remote items are
// processed sequentially so failures stay attributable to one item and
// load on the remote API stays bounded.
type Service struct {
	store    store.Store
	client   RemoteClient
	enricher Enricher
	clock    Clock
	ids      IDGenerator
	logger   *zap.Logger

	events      publisher.Publisher
	eventsTopic string

	mu         sync.Mutex
	lastSyncAt time.Time
}

// SetEventPublisher enables sync-completed event publishing. Publishing
// is best effort; a failed publish never fails the cycle.
func (s *Service) SetEventPublisher(pub publisher.Publisher, topic string) {
	s.events = pub
	s.eventsTopic = topic
}

// NewService wires a reconciler. All dependencies are required except
// enricher, which may be nil to disable metadata enrichment entirely.
func NewService(
	st store.Store,
	client RemoteClient,
	enricher Enricher,
	clock Clock,
	ids IDGenerator,
	logger *zap.Logger,
) (*Service, error) {
	if st == nil || client == nil || clock == nil || ids == nil || logger == nil {
		return nil, fmt.Errorf("store, client, clock, id generator and logger are required")
	}
	return &Service{
		store:    st,
		client:   client,
		enricher: enricher,
		clock:    clock,
		ids:      ids,
		logger:   logger.Named("sync"),
	}, nil
}

// SyncBookmarks runs one reconciliation cycle. Credential verification
// failing aborts the cycle; every other failure is isolated to its item.
func (s *Service) SyncBookmarks(ctx context.Context, opts Options) bookmark.SyncResult {
	if opts.Limit <= 0 {
		opts.Limit = DefaultLimit
	}

	var result bookmark.SyncResult
	if _, err := s.client.VerifyCredentials(ctx); err != nil {
		s.logger.Error("credential verification failed", zap.Error(err))
		result.Errors = 1
		result.ErrorMessages = []string{fmt.Sprintf("Failed to verify credentials: %v", err)}
		return result
	}

	remotes, err := s.client.ListBookmarks(ctx, instapaper.ListOptions{Limit: opts.Limit})
	if err != nil {
		s.logger.Error("remote bookmark list failed", zap.Error(err))
		result.Errors = 1
		result.ErrorMessages = []string{fmt.Sprintf("Failed to list remote bookmarks: %v", err)}
		return result
	}

	locals, err := s.store.ListWithRemoteID(ctx)
	if err != nil {
		s.logger.Error("local bookmark list failed", zap.Error(err))
		result.Errors = 1
		result.ErrorMessages = []string{fmt.Sprintf("Failed to list local bookmarks: %v", err)}
		return result
	}
	byRemoteID := make(map[string]bookmark.Bookmark, len(locals))
	for _, b := range locals {
		byRemoteID[b.RemoteID] = b
	}

	for _, remote := range remotes {
		if local, ok := byRemoteID[remote.ID()]; ok {
			if !opts.ForceRefresh && !shouldUpdate(local, remote, s.clock.Now()) {
				continue
			}
			if err := s.updateFromRemote(ctx, local, remote, opts.EnrichMetadata); err != nil {
				result.Errors++
				result.ErrorMessages = append(result.ErrorMessages,
					fmt.Sprintf("Failed to sync bookmark %s: %v", remote.Title, err))
				continue
			}
			result.Updated++
			continue
		}

		if err := s.createFromRemote(ctx, remote, opts.EnrichMetadata); err != nil {
			result.Errors++
			result.ErrorMessages = append(result.ErrorMessages,
				fmt.Sprintf("Failed to sync bookmark %s: %v", remote.Title, err))
			continue
		}
		result.Created++
	}

	s.mu.Lock()
	s.lastSyncAt = s.clock.Now()
	s.mu.Unlock()

	result.Success = result.Errors == 0 || result.Created > 0 || result.Updated > 0
	s.publishCompleted(ctx, result)
	s.logger.Info("sync cycle finished",
		zap.Int("created", result.Created),
		zap.Int("updated", result.Updated),
		zap.Int("errors", result.Errors),
		zap.Bool("success", result.Success),
	)
	return result
}

// AddToInstapaper pushes a manually created local bookmark to the remote
// service and links the returned remote id.
func (s *Service) AddToInstapaper(ctx context.Context, localID string) error {
	local, err := s.store.GetByID(ctx, localID)
	if err != nil {
		return err
	}
	if local.RemoteID != "" {
		err := fmt.Errorf("bookmark %s is already linked to remote id %s", localID, local.RemoteID)
		s.markSyncError(ctx, local, fmt.Sprintf("Failed to add to remote service: %v", err))
		return err
	}

	remote, err := s.client.AddBookmark(ctx, local.URL, instapaper.AddOptions{
		Title:       local.Title,
		Description: local.Description,
	})
	if err != nil {
		s.markSyncError(ctx, local, fmt.Sprintf("Failed to add to remote service: %v", err))
		return err
	}

	now := s.clock.Now()
	local.RemoteID = remote.ID()
	local.Remote = &bookmark.RemoteData{
		Starred:         remote.IsStarred(),
		ReadingProgress: remote.Progress,
		AddedAt:         remote.AddedAt(),
	}
	local.SyncStatus = bookmark.SyncSynced
	local.SyncError = ""
	local.LastSyncedAt = &now
	local.UpdatedAt = now
	return s.store.Update(ctx, local)
}

// RefreshBookmark re-syncs one remote-linked bookmark with forced
// enrichment. The remote API has no single-item fetch, so this re-reads
// the full list and matches by remote id.
func (s *Service) RefreshBookmark(ctx context.Context, localID string) error {
	local, err := s.store.GetByID(ctx, localID)
	if err != nil {
		return err
	}
	if local.RemoteID == "" {
		return fmt.Errorf("bookmark %s has no remote id to refresh from", localID)
	}

	remotes, err := s.client.ListBookmarks(ctx, instapaper.ListOptions{Limit: 500})
	if err != nil {
		return err
	}
	for _, remote := range remotes {
		if remote.ID() == local.RemoteID {
			return s.updateFromRemote(ctx, local, remote, true)
		}
	}
	return fmt.Errorf("remote bookmark %s not found", local.RemoteID)
}

// GetSyncStatus reports store totals and recent per-record failures.
func (s *Service) GetSyncStatus(ctx context.Context) (bookmark.SyncStatusReport, error) {
	total, err := s.store.CountAll(ctx)
	if err != nil {
		return bookmark.SyncStatusReport{}, err
	}
	synced, err := s.store.CountBySyncStatus(ctx, bookmark.SyncSynced)
	if err != nil {
		return bookmark.SyncStatusReport{}, err
	}
	entries, err := s.store.RecentSyncErrors(ctx, maxStatusErrors)
	if err != nil {
		return bookmark.SyncStatusReport{}, err
	}

	errs := make([]string, 0, len(entries))
	for _, e := range entries {
		errs = append(errs, fmt.Sprintf("%s: %s", e.Title, e.SyncError))
	}

	s.mu.Lock()
	lastSync := s.lastSyncAt
	s.mu.Unlock()

	return bookmark.SyncStatusReport{
		LastSyncAt:      lastSync,
		TotalBookmarks:  total,
		SyncedBookmarks: synced,
		Errors:          errs,
	}, nil
}

func (s *Service) publishCompleted(ctx context.Context, result bookmark.SyncResult) {
	if s.events == nil {
		return
	}
	event := publisher.SyncCompletedEvent{
		CompletedAt: s.clock.Now(),
		Success:     result.Success,
		Created:     result.Created,
		Updated:     result.Updated,
		Errors:      result.Errors,
	}
	if _, err := s.events.Publish(ctx, s.eventsTopic, event); err != nil {
		s.logger.Warn("sync-completed event publish failed", zap.Error(err))
	}
}

// shouldUpdate decides whether a reconciliation pass writes an update.
// The thresholds bound write volume rather than derive from anything.
func shouldUpdate(local bookmark.Bookmark, remote instapaper.RemoteBookmark, now time.Time) bool {
	if remote.Title != "" && remote.Title != local.Title {
		return true
	}
	localStarred := local.Remote != nil && local.Remote.Starred
	if remote.IsStarred() != localStarred {
		return true
	}
	localProgress := 0.0
	if local.Remote != nil {
		localProgress = local.Remote.ReadingProgress
	}
	if diff := remote.Progress - localProgress; diff > progressDelta || diff < -progressDelta {
		return true
	}
	if local.LastSyncedAt == nil || now.Sub(*local.LastSyncedAt) > staleAfter {
		return true
	}
	return false
}

func (s *Service) createFromRemote(ctx context.Context, remote instapaper.RemoteBookmark, enrich bool) error {
	id, err := s.ids.NewID()
	if err != nil {
		return err
	}

	now := s.clock.Now()
	b := bookmark.Bookmark{
		ID:          id,
		RemoteID:    remote.ID(),
		URL:         remote.URL,
		Title:       remote.Title,
		Description: remote.Description,
		Remote: &bookmark.RemoteData{
			Starred:         remote.IsStarred(),
			ReadingProgress: clampProgress(remote.Progress),
			AddedAt:         remote.AddedAt(),
		},
		Status:       bookmark.StatusDraft,
		SyncStatus:   bookmark.SyncSynced,
		LastSyncedAt: &now,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if enrich && s.enricher != nil {
		if md, err := s.enricher.ExtractFromURL(ctx, remote.URL); err != nil {
			s.logger.Warn("enrichment failed", zap.String("url", remote.URL), zap.Error(err))
		} else {
			b.Enrichment = toEnrichment(md)
			if b.Title == "" {
				b.Title = md.Title
			}
			if b.Description == "" {
				b.Description = md.Description
			}
		}
	}
	if b.Title == "" {
		b.Title = metadata.TitleFromURL(remote.URL)
	}
	b.Category = categorize(remote.URL)

	return s.store.Create(ctx, b)
}

func (s *Service) updateFromRemote(ctx context.Context, local bookmark.Bookmark, remote instapaper.RemoteBookmark, enrich bool) error {
	now := s.clock.Now()
	if remote.Title != "" {
		local.Title = remote.Title
	}
	if remote.Description != "" {
		local.Description = remote.Description
	}
	local.Remote = &bookmark.RemoteData{
		Starred:         remote.IsStarred(),
		ReadingProgress: clampProgress(remote.Progress),
		AddedAt:         remote.AddedAt(),
	}
	if enrich && s.enricher != nil {
		if md, err := s.enricher.ExtractFromURL(ctx, local.URL); err != nil {
			s.logger.Warn("enrichment failed", zap.String("url", local.URL), zap.Error(err))
		} else {
			local.Enrichment = toEnrichment(md)
			if local.Title == "" {
				local.Title = md.Title
			}
		}
	}
	if local.Title == "" {
		local.Title = metadata.TitleFromURL(local.URL)
	}
	if local.Category == "" || local.Category == bookmark.CategoryOther {
		local.Category = categorize(local.URL)
	}
	local.SyncStatus = bookmark.SyncSynced
	local.SyncError = ""
	local.LastSyncedAt = &now
	local.UpdatedAt = now
	return s.store.Update(ctx, local)
}

func toEnrichment(md metadata.Metadata) *bookmark.Enrichment {
	return &bookmark.Enrichment{
		Host:               md.Host,
		FaviconURL:         md.FaviconURL,
		Image:              md.Image,
		Author:             md.Author,
		PublishDate:        md.PublishDate,
		ReadingTimeMinutes: md.ReadingTimeMinutes,
		Language:           md.Language,
		Keywords:           strings.Join(md.Keywords, ", "),
		ContentPreview:     md.ContentPreview,
	}
}

func (s *Service) markSyncError(ctx context.Context, b bookmark.Bookmark, message string) {
	b.SyncStatus = bookmark.SyncError
	b.SyncError = message
	b.UpdatedAt = s.clock.Now()
	if err := s.store.Update(ctx, b); err != nil {
		s.logger.Error("failed to record sync error",
			zap.String("bookmark_id", b.ID),
			zap.Error(err),
		)
	}
}

func categorize(rawURL string) bookmark.Category {
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return bookmark.CategoryOther
	}
	return bookmark.CategorizeHost(u.Hostname())
}

func clampProgress(p float64) float64 {
	switch {
	case p < 0:
		return 0
	case p > 1:
		return 1
	}
	return p
}
