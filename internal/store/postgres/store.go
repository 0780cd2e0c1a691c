// Package postgres provides the Postgres-backed bookmark store.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/jstrand/bookmark-sync/internal/bookmark"
	"github.com/jstrand/bookmark-sync/internal/store"
)

// Schema creates the bookmarks table. url is unique across all rows and
// remote_id is unique whenever present (partial index).
const Schema = `
CREATE TABLE IF NOT EXISTS bookmarks (
	id               TEXT PRIMARY KEY,
	remote_id        TEXT,
	url              TEXT NOT NULL UNIQUE,
	title            TEXT NOT NULL,
	description      TEXT NOT NULL DEFAULT '',
	starred          BOOLEAN,
	reading_progress DOUBLE PRECISION,
	remote_added_at  TIMESTAMPTZ,
	enrichment       JSONB,
	featured         BOOLEAN NOT NULL DEFAULT FALSE,
	public_note      TEXT NOT NULL DEFAULT '',
	private_note     TEXT NOT NULL DEFAULT '',
	category         TEXT NOT NULL DEFAULT 'other',
	tags             TEXT[] NOT NULL DEFAULT '{}',
	status           TEXT NOT NULL DEFAULT 'draft',
	sync_status      TEXT NOT NULL,
	last_synced_at   TIMESTAMPTZ,
	sync_error       TEXT NOT NULL DEFAULT '',
	created_at       TIMESTAMPTZ NOT NULL,
	updated_at       TIMESTAMPTZ NOT NULL
);
CREATE UNIQUE INDEX IF NOT EXISTS bookmarks_remote_id_key
	ON bookmarks (remote_id) WHERE remote_id IS NOT NULL;
`

const bookmarkColumns = `id, remote_id, url, title, description,
	starred, reading_progress, remote_added_at, enrichment,
	featured, public_note, private_note, category, tags, status,
	sync_status, last_synced_at, sync_error, created_at, updated_at`

type pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// Config controls the Postgres connection pool.
type Config struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

// Store implements store.Store on a pgx pool.
type Store struct {
	pool pool
}

// New connects a Store using the provided config.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("db.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Store{pool: p}, nil
}

// NewWithPool constructs a Store from an existing pool (primarily for
// testing with pgxmock).
func NewWithPool(p pool) (*Store, error) {
	if p == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &Store{pool: p}, nil
}

// EnsureSchema creates the bookmarks table when missing.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// Create inserts a bookmark row.
func (s *Store) Create(ctx context.Context, b bookmark.Bookmark) error {
	if err := b.Validate(); err != nil {
		return err
	}
	args, err := rowArgs(b)
	if err != nil {
		return err
	}
	query := `INSERT INTO bookmarks (` + bookmarkColumns + `)
	VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20)`
	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return translateError("insert bookmark", err)
	}
	return nil
}

// Update replaces the row identified by b.ID.
func (s *Store) Update(ctx context.Context, b bookmark.Bookmark) error {
	if err := b.Validate(); err != nil {
		return err
	}
	args, err := rowArgs(b)
	if err != nil {
		return err
	}
	query := `UPDATE bookmarks SET
	remote_id = $2, url = $3, title = $4, description = $5,
	starred = $6, reading_progress = $7, remote_added_at = $8, enrichment = $9,
	featured = $10, public_note = $11, private_note = $12, category = $13,
	tags = $14, status = $15, sync_status = $16, last_synced_at = $17,
	sync_error = $18, created_at = $19, updated_at = $20
	WHERE id = $1`
	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return translateError("update bookmark", err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

// GetByID loads one bookmark by primary key.
func (s *Store) GetByID(ctx context.Context, id string) (bookmark.Bookmark, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+bookmarkColumns+` FROM bookmarks WHERE id = $1`, id)
	return scanBookmark(row)
}

// GetByRemoteID loads the bookmark linked to remoteID.
func (s *Store) GetByRemoteID(ctx context.Context, remoteID string) (bookmark.Bookmark, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+bookmarkColumns+` FROM bookmarks WHERE remote_id = $1`, remoteID)
	return scanBookmark(row)
}

// ListWithRemoteID returns every remote-linked bookmark ordered by
// remote_id for a stable reconciliation pass.
func (s *Store) ListWithRemoteID(ctx context.Context) ([]bookmark.Bookmark, error) {
	rows, err := s.pool.Query(
		ctx,
		`SELECT `+bookmarkColumns+` FROM bookmarks WHERE remote_id IS NOT NULL ORDER BY remote_id`,
	)
	if err != nil {
		return nil, fmt.Errorf("list bookmarks: %w", err)
	}
	defer rows.Close()

	var out []bookmark.Bookmark
	for rows.Next() {
		b, err := scanBookmark(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list bookmarks: %w", err)
	}
	return out, nil
}

// CountAll returns the total bookmark count.
func (s *Store) CountAll(ctx context.Context) (int, error) {
	var count int
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM bookmarks`).Scan(&count); err != nil {
		return 0, fmt.Errorf("count bookmarks: %w", err)
	}
	return count, nil
}

// CountBySyncStatus counts bookmarks in one sync state.
func (s *Store) CountBySyncStatus(ctx context.Context, status bookmark.SyncStatus) (int, error) {
	var count int
	err := s.pool.QueryRow(
		ctx,
		`SELECT COUNT(*) FROM bookmarks WHERE sync_status = $1`,
		string(status),
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count bookmarks by status: %w", err)
	}
	return count, nil
}

// RecentSyncErrors returns up to limit error-state rows, newest first.
func (s *Store) RecentSyncErrors(ctx context.Context, limit int) ([]store.SyncErrorEntry, error) {
	rows, err := s.pool.Query(
		ctx,
		`SELECT title, sync_error FROM bookmarks
		WHERE sync_status = 'error' ORDER BY updated_at DESC LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list sync errors: %w", err)
	}
	defer rows.Close()

	var out []store.SyncErrorEntry
	for rows.Next() {
		var entry store.SyncErrorEntry
		if err := rows.Scan(&entry.Title, &entry.SyncError); err != nil {
			return nil, fmt.Errorf("scan sync error: %w", err)
		}
		out = append(out, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list sync errors: %w", err)
	}
	return out, nil
}

func rowArgs(b bookmark.Bookmark) ([]any, error) {
	var remoteID *string
	if b.RemoteID != "" {
		remoteID = &b.RemoteID
	}
	var starred *bool
	var progress *float64
	var addedAt *time.Time
	if b.Remote != nil {
		starred = &b.Remote.Starred
		progress = &b.Remote.ReadingProgress
		addedAt = &b.Remote.AddedAt
	}
	var enrichment []byte
	if b.Enrichment != nil {
		encoded, err := json.Marshal(b.Enrichment)
		if err != nil {
			return nil, fmt.Errorf("marshal enrichment: %w", err)
		}
		enrichment = encoded
	}
	tags := b.Tags
	if tags == nil {
		tags = []string{}
	}
	return []any{
		b.ID,
		remoteID,
		b.URL,
		b.Title,
		b.Description,
		starred,
		progress,
		addedAt,
		enrichment,
		b.Featured,
		b.PublicNote,
		b.PrivateNote,
		string(b.Category),
		tags,
		string(b.Status),
		string(b.SyncStatus),
		b.LastSyncedAt,
		b.SyncError,
		b.CreatedAt,
		b.UpdatedAt,
	}, nil
}

func scanBookmark(row pgx.Row) (bookmark.Bookmark, error) {
	var (
		b          bookmark.Bookmark
		remoteID   *string
		starred    *bool
		progress   *float64
		addedAt    *time.Time
		enrichment []byte
		category   string
		status     string
		syncStatus string
	)
	err := row.Scan(
		&b.ID,
		&remoteID,
		&b.URL,
		&b.Title,
		&b.Description,
		&starred,
		&progress,
		&addedAt,
		&enrichment,
		&b.Featured,
		&b.PublicNote,
		&b.PrivateNote,
		&category,
		&b.Tags,
		&status,
		&syncStatus,
		&b.LastSyncedAt,
		&b.SyncError,
		&b.CreatedAt,
		&b.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return bookmark.Bookmark{}, store.ErrNotFound
		}
		return bookmark.Bookmark{}, fmt.Errorf("scan bookmark: %w", err)
	}
	if remoteID != nil {
		b.RemoteID = *remoteID
	}
	if starred != nil || progress != nil || addedAt != nil {
		remote := &bookmark.RemoteData{}
		if starred != nil {
			remote.Starred = *starred
		}
		if progress != nil {
			remote.ReadingProgress = *progress
		}
		if addedAt != nil {
			remote.AddedAt = *addedAt
		}
		b.Remote = remote
	}
	if len(enrichment) > 0 {
		var e bookmark.Enrichment
		if err := json.Unmarshal(enrichment, &e); err != nil {
			return bookmark.Bookmark{}, fmt.Errorf("unmarshal enrichment: %w", err)
		}
		b.Enrichment = &e
	}
	b.Category = bookmark.Category(category)
	b.Status = bookmark.Status(status)
	b.SyncStatus = bookmark.SyncStatus(syncStatus)
	return b, nil
}

func translateError(op string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return store.ErrDuplicate
	}
	return fmt.Errorf("%s: %w", op, err)
}
