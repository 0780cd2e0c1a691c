package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/jstrand/bookmark-sync/internal/bookmark"
	"github.com/jstrand/bookmark-sync/internal/instapaper"
	"github.com/jstrand/bookmark-sync/internal/store"
	syncsvc "github.com/jstrand/bookmark-sync/internal/sync"
)

type stubSync struct {
	lastOpts   syncsvc.Options
	result     bookmark.SyncResult
	refreshErr error
	pushErr    error
	report     bookmark.SyncStatusReport
	reportErr  error
}

func (s *stubSync) SyncBookmarks(_ context.Context, opts syncsvc.Options) bookmark.SyncResult {
	s.lastOpts = opts
	return s.result
}

func (s *stubSync) AddToInstapaper(context.Context, string) error { return s.pushErr }

func (s *stubSync) RefreshBookmark(context.Context, string) error { return s.refreshErr }

func (s *stubSync) GetSyncStatus(context.Context) (bookmark.SyncStatusReport, error) {
	return s.report, s.reportErr
}

type stubAuth struct {
	authErr       error
	verifyErr     error
	authenticated bool
	user          instapaper.User
}

func (s *stubAuth) Authenticate(_ context.Context, username, _ string) (instapaper.Tokens, error) {
	if s.authErr != nil {
		return instapaper.Tokens{}, s.authErr
	}
	s.authenticated = true
	s.user = instapaper.User{Username: username}
	return instapaper.Tokens{Token: "tok", TokenSecret: "secret"}, nil
}

func (s *stubAuth) VerifyCredentials(context.Context) (instapaper.User, error) {
	if s.verifyErr != nil {
		return instapaper.User{}, s.verifyErr
	}
	return s.user, nil
}

func (s *stubAuth) Authenticated() bool { return s.authenticated }

func newTestServer(t *testing.T, sync *stubSync, auth *stubAuth) *Server {
	t.Helper()
	return NewServer(sync, auth, Config{SchedulerSecret: "cron-secret"}, zaptest.NewLogger(t))
}

func TestTriggerSyncAppliesRequestOverrides(t *testing.T) {
	t.Parallel()

	sync := &stubSync{result: bookmark.SyncResult{Success: true, Created: 2}}
	srv := newTestServer(t, sync, &stubAuth{})

	body := strings.NewReader(`{"limit": 25, "force_refresh": true, "enrich_metadata": false}`)
	req := httptest.NewRequest(http.MethodPost, "/sync", body)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, syncsvc.Options{Limit: 25, ForceRefresh: true, EnrichMetadata: false}, sync.lastOpts)

	var resp syncResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.True(t, resp.Success)
	require.Equal(t, 2, resp.Summary.Created)
	require.NotNil(t, resp.Errors)
}

func TestTriggerSyncDefaultsWithoutBody(t *testing.T) {
	t.Parallel()

	sync := &stubSync{result: bookmark.SyncResult{Success: true}}
	srv := newTestServer(t, sync, &stubAuth{})

	req := httptest.NewRequest(http.MethodPost, "/sync", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, syncsvc.DefaultOptions(), sync.lastOpts)
}

func TestPartialFailureStillReturns200(t *testing.T) {
	t.Parallel()

	sync := &stubSync{result: bookmark.SyncResult{
		Success:       false,
		Errors:        3,
		ErrorMessages: []string{"Failed to sync bookmark A: boom"},
	}}
	srv := newTestServer(t, sync, &stubAuth{})

	req := httptest.NewRequest(http.MethodPost, "/sync", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var resp syncResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.False(t, resp.Success)
	require.Equal(t, 3, resp.Summary.Errors)
	require.Len(t, resp.Errors, 1)
}

type stubTrigger struct {
	calls int
}

func (s *stubTrigger) Trigger() { s.calls++ }

func TestBackgroundSyncQueuesOnScheduler(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t, &stubSync{}, &stubAuth{})
	trigger := &stubTrigger{}
	srv.SetSyncTrigger(trigger)

	req := httptest.NewRequest(http.MethodPost, "/sync/trigger", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusAccepted, rec.Code)
	require.Equal(t, 1, trigger.calls)
}

func TestBackgroundSyncWithoutScheduler(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t, &stubSync{}, &stubAuth{})

	req := httptest.NewRequest(http.MethodPost, "/sync/trigger", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestSyncStatusEndpoint(t *testing.T) {
	t.Parallel()

	sync := &stubSync{report: bookmark.SyncStatusReport{
		TotalBookmarks:  12,
		SyncedBookmarks: 10,
		Errors:          []string{"Broken: timeout"},
	}}
	srv := newTestServer(t, sync, &stubAuth{})

	req := httptest.NewRequest(http.MethodGet, "/sync", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var report bookmark.SyncStatusReport
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	require.Equal(t, 12, report.TotalBookmarks)
	require.Equal(t, []string{"Broken: timeout"}, report.Errors)
}

func TestScheduledSyncRequiresBearerSecret(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name   string
		header string
		want   int
	}{
		{"missing header", "", http.StatusUnauthorized},
		{"wrong scheme", "Basic cron-secret", http.StatusUnauthorized},
		{"wrong secret", "Bearer nope", http.StatusUnauthorized},
		{"correct secret", "Bearer cron-secret", http.StatusOK},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			sync := &stubSync{result: bookmark.SyncResult{Success: true}}
			srv := newTestServer(t, sync, &stubAuth{})

			req := httptest.NewRequest(http.MethodPost, "/sync/schedule", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			rec := httptest.NewRecorder()
			srv.Handler().ServeHTTP(rec, req)
			require.Equal(t, tc.want, rec.Code)

			if tc.want == http.StatusOK {
				require.Equal(t, 50, sync.lastOpts.Limit, "scheduled syncs use the bounded limit")
			}
		})
	}
}

func TestRefreshBookmarkNotFound(t *testing.T) {
	t.Parallel()

	sync := &stubSync{refreshErr: store.ErrNotFound}
	srv := newTestServer(t, sync, &stubAuth{})

	req := httptest.NewRequest(http.MethodPost, "/bookmarks/missing/refresh", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRefreshBookmarkSuccess(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t, &stubSync{}, &stubAuth{})

	req := httptest.NewRequest(http.MethodPost, "/bookmarks/local-1/refresh", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"refreshed"`)
}

func TestPushBookmarkFailureMapsToBadGateway(t *testing.T) {
	t.Parallel()

	sync := &stubSync{pushErr: errors.New("remote add failed")}
	srv := newTestServer(t, sync, &stubAuth{})

	req := httptest.NewRequest(http.MethodPost, "/bookmarks/local-1/push", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestAuthenticateEndpoint(t *testing.T) {
	t.Parallel()

	auth := &stubAuth{}
	srv := newTestServer(t, &stubSync{}, auth)

	req := httptest.NewRequest(http.MethodPost, "/instapaper/auth",
		strings.NewReader(`{"username":"reader@example.com","password":"secret"}`))
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.True(t, auth.authenticated)
}

func TestAuthenticateRejectsBadCredentials(t *testing.T) {
	t.Parallel()

	auth := &stubAuth{authErr: errors.New("invalid credentials")}
	srv := newTestServer(t, &stubSync{}, auth)

	req := httptest.NewRequest(http.MethodPost, "/instapaper/auth",
		strings.NewReader(`{"username":"reader@example.com","password":"wrong"}`))
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestVerifyCredentialsEndpoint(t *testing.T) {
	t.Parallel()

	auth := &stubAuth{authenticated: true, user: instapaper.User{Username: "reader"}}
	srv := newTestServer(t, &stubSync{}, auth)

	req := httptest.NewRequest(http.MethodGet, "/instapaper/auth", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, true, resp["authenticated"])
	require.Equal(t, "reader", resp["username"])
}

func TestVerifyCredentialsWithoutTokens(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t, &stubSync{}, &stubAuth{})

	req := httptest.NewRequest(http.MethodGet, "/instapaper/auth", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"authenticated":false`)
}

func TestHealthEndpoints(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t, &stubSync{}, &stubAuth{})

	for _, path := range []string{"/healthz", "/readyz"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		rec := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rec, req)
		require.Equal(t, http.StatusOK, rec.Code, path)
	}
}
