// Package bookmark defines the domain model shared by the sync pipeline,
// the stores, and the HTTP surface.
package bookmark

import (
	"errors"
	"fmt"
	"time"
)

// Status is the editorial publication state of a bookmark.
type Status string

// Editorial statuses.
const (
	StatusDraft     Status = "draft"
	StatusPublished Status = "published"
	StatusArchived  Status = "archived"
)

// SyncStatus tracks how a bookmark relates to the remote service.
type SyncStatus string

// Sync statuses. A bookmark created by hand starts as SyncManual; the
// reconciliation loop moves records between SyncSynced and SyncError.
const (
	SyncSynced  SyncStatus = "synced"
	SyncPending SyncStatus = "pending"
	SyncError   SyncStatus = "error"
	SyncManual  SyncStatus = "manual"
)

// Category is a coarse, auto-assignable content bucket.
type Category string

// Known categories. CategorizeHost falls back to CategoryOther.
const (
	CategoryDevelopment Category = "development"
	CategoryDesign      Category = "design"
	CategoryTechnology  Category = "technology"
	CategoryBusiness    Category = "business"
	CategoryPersonal    Category = "personal"
	CategoryTutorial    Category = "tutorial"
	CategoryArticle     Category = "article"
	CategoryTool        Category = "tool"
	CategoryResource    Category = "resource"
	CategoryOther       Category = "other"
)

// RemoteData mirrors the fields owned by the remote bookmark service.
// It is present only on bookmarks that carry a RemoteID.
type RemoteData struct {
	Starred         bool      `json:"starred"`
	ReadingProgress float64   `json:"reading_progress"`
	AddedAt         time.Time `json:"added_at"`
}

// Enrichment holds best-effort metadata scraped from the bookmarked page.
type Enrichment struct {
	Host               string     `json:"host"`
	FaviconURL         string     `json:"favicon_url"`
	Image              string     `json:"image,omitempty"`
	Author             string     `json:"author,omitempty"`
	PublishDate        *time.Time `json:"publish_date,omitempty"`
	ReadingTimeMinutes int        `json:"reading_time_minutes,omitempty"`
	Language           string     `json:"language,omitempty"`
	Keywords           string     `json:"keywords,omitempty"`
	ContentPreview     string     `json:"content_preview,omitempty"`
}

// Bookmark is the persisted record. URL is unique across the store;
// RemoteID is unique when present.
type Bookmark struct {
	ID          string      `json:"id"`
	RemoteID    string      `json:"remote_id,omitempty"`
	URL         string      `json:"url"`
	Title       string      `json:"title"`
	Description string      `json:"description,omitempty"`
	Remote      *RemoteData `json:"remote,omitempty"`
	Enrichment  *Enrichment `json:"enrichment,omitempty"`

	Featured    bool     `json:"featured"`
	PublicNote  string   `json:"public_note,omitempty"`
	PrivateNote string   `json:"private_note,omitempty"`
	Category    Category `json:"category"`
	Tags        []string `json:"tags,omitempty"`
	Status      Status   `json:"status"`

	SyncStatus   SyncStatus `json:"sync_status"`
	LastSyncedAt *time.Time `json:"last_synced_at,omitempty"`
	SyncError    string     `json:"sync_error,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Validate enforces the record-level invariants before a write.
func (b Bookmark) Validate() error {
	if b.URL == "" {
		return errors.New("bookmark url is required")
	}
	if b.Title == "" {
		return errors.New("bookmark title is required")
	}
	if b.Remote != nil {
		if p := b.Remote.ReadingProgress; p < 0 || p > 1 {
			return fmt.Errorf("reading progress %v out of range [0,1]", p)
		}
	}
	if b.SyncStatus == SyncError && b.SyncError == "" {
		return errors.New("sync status error requires a sync error message")
	}
	return nil
}

// SyncResult summarizes one reconciliation cycle. It is returned to the
// caller and never persisted.
type SyncResult struct {
	Success       bool     `json:"success"`
	Created       int      `json:"created"`
	Updated       int      `json:"updated"`
	Errors        int      `json:"errors"`
	ErrorMessages []string `json:"error_messages,omitempty"`
}

// SyncStatusReport is the payload behind GET /sync.
type SyncStatusReport struct {
	LastSyncAt      time.Time `json:"last_sync_at"`
	TotalBookmarks  int       `json:"total_bookmarks"`
	SyncedBookmarks int       `json:"synced_bookmarks"`
	Errors          []string  `json:"errors"`
}
