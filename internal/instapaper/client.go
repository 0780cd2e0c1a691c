// Package instapaper implements a client for the Instapaper Full API,
// which uses OAuth 1.0a signed requests and xAuth token exchange.
package instapaper

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/jstrand/bookmark-sync/internal/retry"
)

// ErrNotAuthenticated is returned by API calls made before token
// exchange has produced an access token.
var ErrNotAuthenticated = errors.New("instapaper: not authenticated")

const (
	defaultBaseURL = "https://www.instapaper.com"
	apiPrefix      = "/api/1"
)

// Tokens holds an OAuth access token pair.
type Tokens struct {
	Token       string
	TokenSecret string
}

// RemoteBookmark mirrors the bookmark objects the API returns. Numeric
// identifiers arrive as JSON numbers and starred as a "0"/"1" string.
type RemoteBookmark struct {
	BookmarkID        json.Number `json:"bookmark_id"`
	URL               string      `json:"url"`
	Title             string      `json:"title"`
	Description       string      `json:"description"`
	Progress          float64     `json:"progress"`
	ProgressTimestamp int64       `json:"progress_timestamp"`
	Time              int64       `json:"time"`
	Starred           string      `json:"starred"`
	Hash              string      `json:"hash"`
	PrivateSource     string      `json:"private_source"`
}

// ID returns the bookmark identifier as a string key.
func (b RemoteBookmark) ID() string { return b.BookmarkID.String() }

// IsStarred reports whether the remote flag is set.
func (b RemoteBookmark) IsStarred() bool { return b.Starred == "1" }

// AddedAt converts the creation timestamp to UTC time.
func (b RemoteBookmark) AddedAt() time.Time { return time.Unix(b.Time, 0).UTC() }

// User is the account record returned by verify_credentials.
type User struct {
	UserID   json.Number `json:"user_id"`
	Username string      `json:"username"`
}

// APIError is an error element from a response envelope. The API signals
// failures this way even on 200 responses, so an error element always
// fails the call.
type APIError struct {
	Code    int    `json:"error_code"`
	Message string `json:"message"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("instapaper: api error %d: %s", e.Code, e.Message)
}

// ListOptions narrows a bookmarks/list call.
type ListOptions struct {
	Limit    int
	FolderID string
	// Have carries bookmark ids already held locally so the API can
	// skip returning unchanged records.
	Have []string
}

// AddOptions sets optional fields on bookmarks/add.
type AddOptions struct {
	Title       string
	Description string
	FolderID    string
}

// Config carries client construction parameters.
type Config struct {
	BaseURL        string
	ConsumerKey    string
	ConsumerSecret string
	Timeout        time.Duration
	Retry          retry.Options
}

// Client is a signed HTTP client for the API. It is safe for concurrent
// use once tokens are set.
type Client struct {
	baseURL string
	http    *http.Client
	signer  *signer
	retry   retry.Options
	logger  *zap.Logger

	mu          sync.RWMutex
	token       string
	tokenSecret string
}

// New builds a Client from cfg. The logger may not be nil.
func New(cfg Config, logger *zap.Logger) (*Client, error) {
	if cfg.ConsumerKey == "" || cfg.ConsumerSecret == "" {
		return nil, fmt.Errorf("instapaper consumer key and secret are required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	retryOpts := cfg.Retry
	if retryOpts.Attempts <= 0 {
		retryOpts.Attempts = 3
	}
	if retryOpts.Delay <= 0 {
		retryOpts.Delay = 250 * time.Millisecond
	}
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: timeout},
		signer:  newSigner(cfg.ConsumerKey, cfg.ConsumerSecret),
		retry:   retryOpts,
		logger:  logger.Named("instapaper"),
	}, nil
}

// SetTokens installs a previously obtained access token pair.
func (c *Client) SetTokens(t Tokens) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.token = t.Token
	c.tokenSecret = t.TokenSecret
}

// Authenticated reports whether an access token is installed.
func (c *Client) Authenticated() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token != ""
}

func (c *Client) tokens() Tokens {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return Tokens{Token: c.token, TokenSecret: c.tokenSecret}
}

// Authenticate performs the xAuth exchange, installing and returning the
// resulting access tokens. The response body is URL encoded, not JSON.
func (c *Client) Authenticate(ctx context.Context, username, password string) (Tokens, error) {
	form := url.Values{
		"x_auth_username": {username},
		"x_auth_password": {password},
		"x_auth_mode":     {"client_auth"},
	}
	body, err := c.post(ctx, "/oauth/access_token", form, false)
	if err != nil {
		return Tokens{}, err
	}
	values, err := url.ParseQuery(string(body))
	if err != nil {
		return Tokens{}, fmt.Errorf("parse token response: %w", err)
	}
	tokens := Tokens{
		Token:       values.Get("oauth_token"),
		TokenSecret: values.Get("oauth_token_secret"),
	}
	if tokens.Token == "" || tokens.TokenSecret == "" {
		return Tokens{}, retry.NewError(retry.KindAuth, "token exchange returned no credentials", nil)
	}
	c.SetTokens(tokens)
	c.logger.Info("authenticated", zap.String("username", username))
	return tokens, nil
}

// VerifyCredentials confirms the installed tokens are still valid.
func (c *Client) VerifyCredentials(ctx context.Context) (User, error) {
	body, err := c.post(ctx, "/account/verify_credentials", url.Values{}, true)
	if err != nil {
		return User{}, err
	}
	var users []User
	if err := decodeEnvelope(body, "user", &users); err != nil {
		return User{}, err
	}
	if len(users) == 0 {
		return User{}, retry.NewError(retry.KindAuth, "verify_credentials returned no user", nil)
	}
	return users[0], nil
}

// ListBookmarks fetches up to opts.Limit bookmarks from one folder.
func (c *Client) ListBookmarks(ctx context.Context, opts ListOptions) ([]RemoteBookmark, error) {
	form := url.Values{}
	if opts.Limit > 0 {
		form.Set("limit", strconv.Itoa(opts.Limit))
	}
	if opts.FolderID != "" {
		form.Set("folder_id", opts.FolderID)
	}
	if len(opts.Have) > 0 {
		form.Set("have", strings.Join(opts.Have, ","))
	}
	body, err := c.post(ctx, "/bookmarks/list", form, true)
	if err != nil {
		return nil, err
	}
	var bookmarks []RemoteBookmark
	if err := decodeEnvelope(body, "bookmark", &bookmarks); err != nil {
		return nil, err
	}
	return bookmarks, nil
}

// AddBookmark saves a URL remotely and returns the stored record.
func (c *Client) AddBookmark(ctx context.Context, bookmarkURL string, opts AddOptions) (RemoteBookmark, error) {
	form := url.Values{"url": {bookmarkURL}}
	if opts.Title != "" {
		form.Set("title", opts.Title)
	}
	if opts.Description != "" {
		form.Set("description", opts.Description)
	}
	if opts.FolderID != "" {
		form.Set("folder_id", opts.FolderID)
	}
	body, err := c.post(ctx, "/bookmarks/add", form, true)
	if err != nil {
		return RemoteBookmark{}, err
	}
	var bookmarks []RemoteBookmark
	if err := decodeEnvelope(body, "bookmark", &bookmarks); err != nil {
		return RemoteBookmark{}, err
	}
	if len(bookmarks) == 0 {
		return RemoteBookmark{}, retry.NewError(retry.KindServer, "bookmarks/add returned no bookmark", nil)
	}
	return bookmarks[0], nil
}

// StarBookmark marks a bookmark starred.
func (c *Client) StarBookmark(ctx context.Context, id string) error {
	return c.bookmarkAction(ctx, "/bookmarks/star", id, nil)
}

// UnstarBookmark clears the starred flag.
func (c *Client) UnstarBookmark(ctx context.Context, id string) error {
	return c.bookmarkAction(ctx, "/bookmarks/unstar", id, nil)
}

// ArchiveBookmark moves a bookmark to the archive folder.
func (c *Client) ArchiveBookmark(ctx context.Context, id string) error {
	return c.bookmarkAction(ctx, "/bookmarks/archive", id, nil)
}

// DeleteBookmark permanently removes a bookmark.
func (c *Client) DeleteBookmark(ctx context.Context, id string) error {
	return c.bookmarkAction(ctx, "/bookmarks/delete", id, nil)
}

// MoveBookmark files a bookmark into folderID.
func (c *Client) MoveBookmark(ctx context.Context, id, folderID string) error {
	return c.bookmarkAction(ctx, "/bookmarks/move", id, url.Values{"folder_id": {folderID}})
}

func (c *Client) bookmarkAction(ctx context.Context, path, id string, extra url.Values) error {
	form := url.Values{"bookmark_id": {id}}
	for k, vs := range extra {
		for _, v := range vs {
			form.Add(k, v)
		}
	}
	body, err := c.post(ctx, path, form, true)
	if err != nil {
		return err
	}
	// Delete returns an empty envelope; the others echo the bookmark.
	var bookmarks []RemoteBookmark
	return decodeEnvelope(body, "bookmark", &bookmarks)
}

// post signs and sends one form-encoded request, retrying transient
// failures. Non-2xx statuses and error envelope elements both fail the
// call.
func (c *Client) post(ctx context.Context, path string, form url.Values, needsToken bool) ([]byte, error) {
	tokens := c.tokens()
	if needsToken && tokens.Token == "" {
		return nil, ErrNotAuthenticated
	}

	requestURL := c.baseURL + apiPrefix + path
	return retry.Do(ctx, c.retry, func(ctx context.Context) ([]byte, error) {
		auth, err := c.signer.authorize(http.MethodPost, requestURL, form, tokens.Token, tokens.TokenSecret)
		if err != nil {
			return nil, err
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, requestURL, strings.NewReader(form.Encode()))
		if err != nil {
			return nil, fmt.Errorf("build request: %w", err)
		}
		req.Header.Set("Authorization", auth)
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

		resp, err := c.http.Do(req)
		if err != nil {
			return nil, retry.NewError(retry.KindNetwork, "request "+path, err)
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
		if err != nil {
			return nil, retry.NewError(retry.KindNetwork, "read response body", err)
		}
		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			c.logger.Warn("api call failed",
				zap.String("path", path),
				zap.Int("status", resp.StatusCode),
			)
			return nil, retry.HTTPError(resp.StatusCode, strings.TrimSpace(string(body)))
		}
		return body, nil
	})
}

// decodeEnvelope unpacks the typed element array the API wraps every
// JSON response in, collecting elements of wantType into out and
// surfacing any error element as the call's failure.
func decodeEnvelope(body []byte, wantType string, out any) error {
	trimmed := strings.TrimSpace(string(body))
	if trimmed == "" || trimmed == "[]" {
		return nil
	}

	var elements []json.RawMessage
	if err := json.Unmarshal(body, &elements); err != nil {
		return fmt.Errorf("decode response envelope: %w", err)
	}

	var matched []json.RawMessage
	for _, raw := range elements {
		var head struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal(raw, &head); err != nil {
			return fmt.Errorf("decode envelope element: %w", err)
		}
		switch head.Type {
		case "error":
			apiErr := &APIError{}
			if err := json.Unmarshal(raw, apiErr); err != nil {
				return fmt.Errorf("decode api error: %w", err)
			}
			return apiErr
		case wantType:
			matched = append(matched, raw)
		}
	}

	collected, err := json.Marshal(matched)
	if err != nil {
		return fmt.Errorf("collect envelope elements: %w", err)
	}
	if err := json.Unmarshal(collected, out); err != nil {
		return fmt.Errorf("decode %s elements: %w", wantType, err)
	}
	return nil
}
