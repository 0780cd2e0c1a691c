// Package store declares the persistence contract for bookmarks.
package store

import (
	"context"
	"errors"

	"github.com/jstrand/bookmark-sync/internal/bookmark"
)

// ErrNotFound signals that the requested bookmark does not exist.
var ErrNotFound = errors.New("bookmark not found")

// ErrDuplicate signals a url or remote_id uniqueness violation.
var ErrDuplicate = errors.New("bookmark already exists")

// SyncErrorEntry pairs a bookmark title with its recorded sync failure.
type SyncErrorEntry struct {
	Title     string
	SyncError string
}

// Store persists bookmarks. Implementations must keep url unique across
// all rows and remote_id unique whenever it is non-empty.
type Store interface {
	// Create inserts a new bookmark, returning ErrDuplicate on a url or
	// remote_id collision.
	Create(ctx context.Context, b bookmark.Bookmark) error
	// Update replaces the stored record identified by b.ID, returning
	// ErrNotFound when absent.
	Update(ctx context.Context, b bookmark.Bookmark) error
	// GetByID loads one bookmark or returns ErrNotFound.
	GetByID(ctx context.Context, id string) (bookmark.Bookmark, error)
	// GetByRemoteID loads the bookmark linked to a remote record, or
	// ErrNotFound.
	GetByRemoteID(ctx context.Context, remoteID string) (bookmark.Bookmark, error)
	// ListWithRemoteID returns every bookmark carrying a remote id, for
	// building the reconciliation lookup map.
	ListWithRemoteID(ctx context.Context) ([]bookmark.Bookmark, error)
	// CountAll returns the total number of bookmarks.
	CountAll(ctx context.Context) (int, error)
	// CountBySyncStatus returns the number of bookmarks in one sync state.
	CountBySyncStatus(ctx context.Context, status bookmark.SyncStatus) (int, error)
	// RecentSyncErrors returns up to limit error-state bookmarks, newest
	// update first.
	RecentSyncErrors(ctx context.Context, limit int) ([]SyncErrorEntry, error)
}
