// Package memory provides an in-memory bookmark store for development and
// tests.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/jstrand/bookmark-sync/internal/bookmark"
	"github.com/jstrand/bookmark-sync/internal/store"
)

// Store keeps bookmarks in a mutex-guarded map.
type Store struct {
	mu       sync.RWMutex
	byID     map[string]bookmark.Bookmark
	idsByURL map[string]string
	idsByRmt map[string]string
}

// New constructs an empty Store.
func New() *Store {
	return &Store{
		byID:     make(map[string]bookmark.Bookmark),
		idsByURL: make(map[string]string),
		idsByRmt: make(map[string]string),
	}
}

// Create inserts a bookmark, enforcing url and remote_id uniqueness.
func (s *Store) Create(_ context.Context, b bookmark.Bookmark) error {
	if err := b.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.byID[b.ID]; exists {
		return store.ErrDuplicate
	}
	if _, exists := s.idsByURL[b.URL]; exists {
		return store.ErrDuplicate
	}
	if b.RemoteID != "" {
		if _, exists := s.idsByRmt[b.RemoteID]; exists {
			return store.ErrDuplicate
		}
	}
	s.byID[b.ID] = b
	s.idsByURL[b.URL] = b.ID
	if b.RemoteID != "" {
		s.idsByRmt[b.RemoteID] = b.ID
	}
	return nil
}

// Update replaces the stored record with the same ID.
func (s *Store) Update(_ context.Context, b bookmark.Bookmark) error {
	if err := b.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	prev, ok := s.byID[b.ID]
	if !ok {
		return store.ErrNotFound
	}
	if id, exists := s.idsByURL[b.URL]; exists && id != b.ID {
		return store.ErrDuplicate
	}
	if b.RemoteID != "" {
		if id, exists := s.idsByRmt[b.RemoteID]; exists && id != b.ID {
			return store.ErrDuplicate
		}
	}
	delete(s.idsByURL, prev.URL)
	if prev.RemoteID != "" {
		delete(s.idsByRmt, prev.RemoteID)
	}
	s.byID[b.ID] = b
	s.idsByURL[b.URL] = b.ID
	if b.RemoteID != "" {
		s.idsByRmt[b.RemoteID] = b.ID
	}
	return nil
}

// GetByID loads one bookmark.
func (s *Store) GetByID(_ context.Context, id string) (bookmark.Bookmark, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.byID[id]
	if !ok {
		return bookmark.Bookmark{}, store.ErrNotFound
	}
	return b, nil
}

// GetByRemoteID loads the bookmark linked to remoteID.
func (s *Store) GetByRemoteID(_ context.Context, remoteID string) (bookmark.Bookmark, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.idsByRmt[remoteID]
	if !ok {
		return bookmark.Bookmark{}, store.ErrNotFound
	}
	return s.byID[id], nil
}

// ListWithRemoteID returns every remote-linked bookmark.
func (s *Store) ListWithRemoteID(_ context.Context) ([]bookmark.Bookmark, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]bookmark.Bookmark, 0, len(s.idsByRmt))
	for _, id := range s.idsByRmt {
		out = append(out, s.byID[id])
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RemoteID < out[j].RemoteID })
	return out, nil
}

// CountAll returns the total bookmark count.
func (s *Store) CountAll(context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byID), nil
}

// CountBySyncStatus counts bookmarks in one sync state.
func (s *Store) CountBySyncStatus(_ context.Context, status bookmark.SyncStatus) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	count := 0
	for _, b := range s.byID {
		if b.SyncStatus == status {
			count++
		}
	}
	return count, nil
}

// RecentSyncErrors returns up to limit error-state entries, newest update
// first.
func (s *Store) RecentSyncErrors(_ context.Context, limit int) ([]store.SyncErrorEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var failed []bookmark.Bookmark
	for _, b := range s.byID {
		if b.SyncStatus == bookmark.SyncError {
			failed = append(failed, b)
		}
	}
	sort.Slice(failed, func(i, j int) bool { return failed[i].UpdatedAt.After(failed[j].UpdatedAt) })
	if limit > 0 && len(failed) > limit {
		failed = failed[:limit]
	}
	out := make([]store.SyncErrorEntry, 0, len(failed))
	for _, b := range failed {
		out = append(out, store.SyncErrorEntry{Title: b.Title, SyncError: b.SyncError})
	}
	return out, nil
}
