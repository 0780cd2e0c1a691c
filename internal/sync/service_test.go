package sync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/jstrand/bookmark-sync/internal/bookmark"
	"github.com/jstrand/bookmark-sync/internal/instapaper"
	"github.com/jstrand/bookmark-sync/internal/metadata"
	"github.com/jstrand/bookmark-sync/internal/publisher"
	pubmemory "github.com/jstrand/bookmark-sync/internal/publisher/memory"
	"github.com/jstrand/bookmark-sync/internal/store/memory"
)

type fakeClient struct {
	verifyErr error
	remotes   []instapaper.RemoteBookmark
	listErr   error
	listCalls int

	addResult instapaper.RemoteBookmark
	addErr    error
	addedURLs []string
}

func (f *fakeClient) VerifyCredentials(context.Context) (instapaper.User, error) {
	if f.verifyErr != nil {
		return instapaper.User{}, f.verifyErr
	}
	return instapaper.User{Username: "reader"}, nil
}

func (f *fakeClient) ListBookmarks(context.Context, instapaper.ListOptions) ([]instapaper.RemoteBookmark, error) {
	f.listCalls++
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.remotes, nil
}

func (f *fakeClient) AddBookmark(_ context.Context, url string, _ instapaper.AddOptions) (instapaper.RemoteBookmark, error) {
	f.addedURLs = append(f.addedURLs, url)
	if f.addErr != nil {
		return instapaper.RemoteBookmark{}, f.addErr
	}
	return f.addResult, nil
}

type fakeEnricher struct {
	md    metadata.Metadata
	err   error
	calls int
}

func (f *fakeEnricher) ExtractFromURL(context.Context, string) (metadata.Metadata, error) {
	f.calls++
	if f.err != nil {
		return metadata.Metadata{}, f.err
	}
	return f.md, nil
}

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

type seqIDs struct{ n int }

func (s *seqIDs) NewID() (string, error) {
	s.n++
	return fmt.Sprintf("id-%d", s.n), nil
}

func remoteBookmark(id, url, title string, starred string, progress float64) instapaper.RemoteBookmark {
	return instapaper.RemoteBookmark{
		BookmarkID: json.Number(id),
		URL:        url,
		Title:      title,
		Starred:    starred,
		Progress:   progress,
		Time:       1700000000,
	}
}

func newTestService(t *testing.T, client *fakeClient, enricher Enricher) (*Service, *memory.Store) {
	t.Helper()
	st := memory.New()
	svc, err := NewService(
		st,
		client,
		enricher,
		fixedClock{t: time.Unix(1700001000, 0).UTC()},
		&seqIDs{},
		zaptest.NewLogger(t),
	)
	require.NoError(t, err)
	return svc, st
}

func TestSyncCreatesFromEmptyStore(t *testing.T) {
	t.Parallel()

	client := &fakeClient{remotes: []instapaper.RemoteBookmark{
		remoteBookmark("42", "https://blog.example/a", "A", "1", 0),
	}}
	svc, st := newTestService(t, client, nil)

	result := svc.SyncBookmarks(context.Background(), Options{EnrichMetadata: false})
	require.Equal(t, bookmark.SyncResult{Success: true, Created: 1}, result)

	b, err := st.GetByRemoteID(context.Background(), "42")
	require.NoError(t, err)
	require.Equal(t, "https://blog.example/a", b.URL)
	require.Equal(t, "A", b.Title)
	require.Equal(t, bookmark.SyncSynced, b.SyncStatus)
	require.Equal(t, bookmark.StatusDraft, b.Status)
	require.Equal(t, bookmark.CategoryArticle, b.Category)
	require.NotNil(t, b.Remote)
	require.True(t, b.Remote.Starred)
	require.Equal(t, time.Unix(1700000000, 0).UTC(), b.Remote.AddedAt)
	require.NotNil(t, b.LastSyncedAt)
}

func TestSyncIsIdempotent(t *testing.T) {
	t.Parallel()

	client := &fakeClient{remotes: []instapaper.RemoteBookmark{
		remoteBookmark("42", "https://blog.example/a", "A", "1", 0.5),
		remoteBookmark("43", "https://github.com/some/repo", "Repo", "0", 0),
	}}
	svc, _ := newTestService(t, client, nil)

	first := svc.SyncBookmarks(context.Background(), Options{})
	require.Equal(t, 2, first.Created)

	second := svc.SyncBookmarks(context.Background(), Options{})
	require.True(t, second.Success)
	require.Zero(t, second.Created)
	require.Zero(t, second.Updated)
	require.Zero(t, second.Errors)
}

func TestSyncIsolatesItemFailures(t *testing.T) {
	t.Parallel()

	// The middle item reuses the first URL, so its create hits the
	// uniqueness constraint while the others proceed.
	client := &fakeClient{remotes: []instapaper.RemoteBookmark{
		remoteBookmark("1", "https://example.com/a", "First", "0", 0),
		remoteBookmark("2", "https://example.com/a", "Broken Item", "0", 0),
		remoteBookmark("3", "https://example.com/c", "Third", "0", 0),
	}}
	svc, _ := newTestService(t, client, nil)

	result := svc.SyncBookmarks(context.Background(), Options{})
	require.Equal(t, 2, result.Created)
	require.Equal(t, 1, result.Errors)
	require.True(t, result.Success)
	require.Len(t, result.ErrorMessages, 1)
	require.Contains(t, result.ErrorMessages[0], "Broken Item")
}

func TestSyncAbortsOnCredentialFailure(t *testing.T) {
	t.Parallel()

	client := &fakeClient{verifyErr: errors.New("invalid tokens")}
	svc, _ := newTestService(t, client, nil)

	result := svc.SyncBookmarks(context.Background(), Options{})
	require.False(t, result.Success)
	require.Equal(t, 1, result.Errors)
	require.Len(t, result.ErrorMessages, 1)
	require.Zero(t, client.listCalls, "credential failure must abort before listing")
}

func TestSyncUpdatesWhenWorthwhile(t *testing.T) {
	t.Parallel()

	client := &fakeClient{remotes: []instapaper.RemoteBookmark{
		remoteBookmark("42", "https://blog.example/a", "A", "0", 0.2),
	}}
	svc, st := newTestService(t, client, nil)

	first := svc.SyncBookmarks(context.Background(), Options{})
	require.Equal(t, 1, first.Created)

	// Progress moved past the threshold and the star flipped.
	client.remotes = []instapaper.RemoteBookmark{
		remoteBookmark("42", "https://blog.example/a", "A", "1", 0.6),
	}
	second := svc.SyncBookmarks(context.Background(), Options{})
	require.Equal(t, 1, second.Updated)
	require.Zero(t, second.Created)

	b, err := st.GetByRemoteID(context.Background(), "42")
	require.NoError(t, err)
	require.True(t, b.Remote.Starred)
	require.InDelta(t, 0.6, b.Remote.ReadingProgress, 1e-9)
}

func TestSyncClampsProgress(t *testing.T) {
	t.Parallel()

	client := &fakeClient{remotes: []instapaper.RemoteBookmark{
		remoteBookmark("42", "https://example.com/a", "A", "0", 1.5),
	}}
	svc, st := newTestService(t, client, nil)

	result := svc.SyncBookmarks(context.Background(), Options{})
	require.Equal(t, 1, result.Created)

	b, err := st.GetByRemoteID(context.Background(), "42")
	require.NoError(t, err)
	require.Equal(t, 1.0, b.Remote.ReadingProgress)
}

func TestSyncSwallowsEnrichmentFailures(t *testing.T) {
	t.Parallel()

	client := &fakeClient{remotes: []instapaper.RemoteBookmark{
		remoteBookmark("42", "https://example.com/a", "A", "0", 0),
	}}
	enricher := &fakeEnricher{err: errors.New("fetch failed")}
	svc, st := newTestService(t, client, enricher)

	result := svc.SyncBookmarks(context.Background(), Options{EnrichMetadata: true})
	require.Equal(t, 1, result.Created)
	require.Zero(t, result.Errors)

	b, err := st.GetByRemoteID(context.Background(), "42")
	require.NoError(t, err)
	require.Nil(t, b.Enrichment)
}

func TestSyncStoresEnrichment(t *testing.T) {
	t.Parallel()

	client := &fakeClient{remotes: []instapaper.RemoteBookmark{
		remoteBookmark("42", "https://example.com/post", "", "0", 0),
	}}
	enricher := &fakeEnricher{md: metadata.Metadata{
		Title:              "Extracted Title",
		Description:        "Extracted description.",
		Host:               "example.com",
		FaviconURL:         "https://example.com/favicon.ico",
		ReadingTimeMinutes: 3,
		Keywords:           []string{"reading", "notes"},
	}}
	svc, st := newTestService(t, client, enricher)

	result := svc.SyncBookmarks(context.Background(), Options{EnrichMetadata: true})
	require.Equal(t, 1, result.Created)

	b, err := st.GetByRemoteID(context.Background(), "42")
	require.NoError(t, err)
	// A blank remote title prefers the extracted page title over the
	// URL-derived one.
	require.Equal(t, "Extracted Title", b.Title)
	require.Equal(t, "Extracted description.", b.Description)
	require.NotNil(t, b.Enrichment)
	require.Equal(t, "example.com", b.Enrichment.Host)
	require.Equal(t, "reading, notes", b.Enrichment.Keywords)
}

func TestSyncFallsBackToURLTitle(t *testing.T) {
	t.Parallel()

	client := &fakeClient{remotes: []instapaper.RemoteBookmark{
		remoteBookmark("42", "https://example.com/post", "", "0", 0),
	}}
	enricher := &fakeEnricher{md: metadata.Metadata{Host: "example.com"}}
	svc, st := newTestService(t, client, enricher)

	result := svc.SyncBookmarks(context.Background(), Options{EnrichMetadata: true})
	require.Equal(t, 1, result.Created)

	b, err := st.GetByRemoteID(context.Background(), "42")
	require.NoError(t, err)
	require.Equal(t, "Post", b.Title)
}

func TestAddToInstapaperLinksRemote(t *testing.T) {
	t.Parallel()

	client := &fakeClient{addResult: remoteBookmark("77", "https://example.com/manual", "Manual", "0", 0)}
	svc, st := newTestService(t, client, nil)

	now := time.Unix(1700000500, 0).UTC()
	require.NoError(t, st.Create(context.Background(), bookmark.Bookmark{
		ID:         "local-1",
		URL:        "https://example.com/manual",
		Title:      "Manual",
		SyncStatus: bookmark.SyncManual,
		CreatedAt:  now,
		UpdatedAt:  now,
	}))

	require.NoError(t, svc.AddToInstapaper(context.Background(), "local-1"))
	require.Equal(t, []string{"https://example.com/manual"}, client.addedURLs)

	b, err := st.GetByID(context.Background(), "local-1")
	require.NoError(t, err)
	require.Equal(t, "77", b.RemoteID)
	require.Equal(t, bookmark.SyncSynced, b.SyncStatus)
}

func TestAddToInstapaperRejectsLinkedBookmark(t *testing.T) {
	t.Parallel()

	client := &fakeClient{}
	svc, st := newTestService(t, client, nil)

	now := time.Unix(1700000500, 0).UTC()
	require.NoError(t, st.Create(context.Background(), bookmark.Bookmark{
		ID:         "local-1",
		RemoteID:   "42",
		URL:        "https://example.com/a",
		Title:      "A",
		SyncStatus: bookmark.SyncSynced,
		CreatedAt:  now,
		UpdatedAt:  now,
	}))

	err := svc.AddToInstapaper(context.Background(), "local-1")
	require.Error(t, err)
	require.Empty(t, client.addedURLs)

	// The rejection is recorded on the bookmark like any other push
	// failure.
	b, err := st.GetByID(context.Background(), "local-1")
	require.NoError(t, err)
	require.Equal(t, bookmark.SyncError, b.SyncStatus)
	require.Contains(t, b.SyncError, "already linked")
}

func TestAddToInstapaperRecordsFailure(t *testing.T) {
	t.Parallel()

	client := &fakeClient{addErr: errors.New("quota exceeded")}
	svc, st := newTestService(t, client, nil)

	now := time.Unix(1700000500, 0).UTC()
	require.NoError(t, st.Create(context.Background(), bookmark.Bookmark{
		ID:         "local-1",
		URL:        "https://example.com/manual",
		Title:      "Manual",
		SyncStatus: bookmark.SyncManual,
		CreatedAt:  now,
		UpdatedAt:  now,
	}))

	require.Error(t, svc.AddToInstapaper(context.Background(), "local-1"))

	b, err := st.GetByID(context.Background(), "local-1")
	require.NoError(t, err)
	require.Equal(t, bookmark.SyncError, b.SyncStatus)
	require.Contains(t, b.SyncError, "quota exceeded")
}

func TestRefreshBookmarkForcesUpdate(t *testing.T) {
	t.Parallel()

	client := &fakeClient{remotes: []instapaper.RemoteBookmark{
		remoteBookmark("42", "https://example.com/a", "Fresh Title", "1", 0.9),
	}}
	enricher := &fakeEnricher{md: metadata.Metadata{Host: "example.com"}}
	svc, st := newTestService(t, client, enricher)

	now := time.Unix(1700000500, 0).UTC()
	require.NoError(t, st.Create(context.Background(), bookmark.Bookmark{
		ID:           "local-1",
		RemoteID:     "42",
		URL:          "https://example.com/a",
		Title:        "Stale Title",
		SyncStatus:   bookmark.SyncSynced,
		LastSyncedAt: &now,
		CreatedAt:    now,
		UpdatedAt:    now,
	}))

	require.NoError(t, svc.RefreshBookmark(context.Background(), "local-1"))
	require.Equal(t, 1, enricher.calls, "refresh always re-enriches")

	b, err := st.GetByID(context.Background(), "local-1")
	require.NoError(t, err)
	require.Equal(t, "Fresh Title", b.Title)
	require.True(t, b.Remote.Starred)
}

func TestRefreshBookmarkRequiresRemoteLink(t *testing.T) {
	t.Parallel()

	svc, st := newTestService(t, &fakeClient{}, nil)

	now := time.Unix(1700000500, 0).UTC()
	require.NoError(t, st.Create(context.Background(), bookmark.Bookmark{
		ID:         "local-1",
		URL:        "https://example.com/a",
		Title:      "A",
		SyncStatus: bookmark.SyncManual,
		CreatedAt:  now,
		UpdatedAt:  now,
	}))

	require.Error(t, svc.RefreshBookmark(context.Background(), "local-1"))
}

func TestRefreshBookmarkMissingRemote(t *testing.T) {
	t.Parallel()

	client := &fakeClient{}
	svc, st := newTestService(t, client, nil)

	now := time.Unix(1700000500, 0).UTC()
	require.NoError(t, st.Create(context.Background(), bookmark.Bookmark{
		ID:         "local-1",
		RemoteID:   "42",
		URL:        "https://example.com/a",
		Title:      "A",
		SyncStatus: bookmark.SyncSynced,
		CreatedAt:  now,
		UpdatedAt:  now,
	}))

	err := svc.RefreshBookmark(context.Background(), "local-1")
	require.Error(t, err)
	require.Contains(t, err.Error(), "not found")
}

func TestGetSyncStatusReport(t *testing.T) {
	t.Parallel()

	client := &fakeClient{remotes: []instapaper.RemoteBookmark{
		remoteBookmark("42", "https://example.com/a", "A", "0", 0),
	}}
	svc, st := newTestService(t, client, nil)

	result := svc.SyncBookmarks(context.Background(), Options{})
	require.Equal(t, 1, result.Created)

	now := time.Unix(1700000500, 0).UTC()
	require.NoError(t, st.Create(context.Background(), bookmark.Bookmark{
		ID:         "local-err",
		URL:        "https://example.com/broken",
		Title:      "Broken",
		SyncStatus: bookmark.SyncError,
		SyncError:  "remote rejected update",
		CreatedAt:  now,
		UpdatedAt:  now,
	}))

	report, err := svc.GetSyncStatus(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, report.TotalBookmarks)
	require.Equal(t, 1, report.SyncedBookmarks)
	require.Equal(t, []string{"Broken: remote rejected update"}, report.Errors)
	require.Equal(t, time.Unix(1700001000, 0).UTC(), report.LastSyncAt)
}

func TestSyncPublishesCompletionEvent(t *testing.T) {
	t.Parallel()

	client := &fakeClient{remotes: []instapaper.RemoteBookmark{
		remoteBookmark("42", "https://example.com/a", "A", "0", 0),
	}}
	svc, _ := newTestService(t, client, nil)

	pub := pubmemory.New()
	svc.SetEventPublisher(pub, "sync-completed")

	svc.SyncBookmarks(context.Background(), Options{})

	msgs := pub.Messages()
	require.Len(t, msgs, 1)
	require.Equal(t, "sync-completed", msgs[0].Topic)
	event, ok := msgs[0].Payload.(publisher.SyncCompletedEvent)
	require.True(t, ok)
	require.True(t, event.Success)
	require.Equal(t, 1, event.Created)
}

func TestShouldUpdate(t *testing.T) {
	t.Parallel()

	now := time.Unix(1700001000, 0).UTC()
	recent := now.Add(-time.Hour)
	stale := now.Add(-25 * time.Hour)

	base := func() bookmark.Bookmark {
		return bookmark.Bookmark{
			Title:        "Same",
			Remote:       &bookmark.RemoteData{Starred: false, ReadingProgress: 0.5},
			LastSyncedAt: &recent,
		}
	}

	cases := []struct {
		name   string
		local  func() bookmark.Bookmark
		remote instapaper.RemoteBookmark
		want   bool
	}{
		{
			name:   "no change",
			local:  base,
			remote: remoteBookmark("1", "u", "Same", "0", 0.5),
			want:   false,
		},
		{
			name:   "title changed",
			local:  base,
			remote: remoteBookmark("1", "u", "Different", "0", 0.5),
			want:   true,
		},
		{
			name:   "star flipped",
			local:  base,
			remote: remoteBookmark("1", "u", "Same", "1", 0.5),
			want:   true,
		},
		{
			name:   "progress moved past threshold",
			local:  base,
			remote: remoteBookmark("1", "u", "Same", "0", 0.65),
			want:   true,
		},
		{
			name:   "progress within threshold",
			local:  base,
			remote: remoteBookmark("1", "u", "Same", "0", 0.55),
			want:   false,
		},
		{
			name: "stale last sync",
			local: func() bookmark.Bookmark {
				b := base()
				b.LastSyncedAt = &stale
				return b
			},
			remote: remoteBookmark("1", "u", "Same", "0", 0.5),
			want:   true,
		},
		{
			name: "never synced",
			local: func() bookmark.Bookmark {
				b := base()
				b.LastSyncedAt = nil
				return b
			},
			remote: remoteBookmark("1", "u", "Same", "0", 0.5),
			want:   true,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tc.want, shouldUpdate(tc.local(), tc.remote, now))
		})
	}
}
