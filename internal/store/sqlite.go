package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore is the embedded single-node datastore. It has the same
// semantics as Store.
type SQLiteStore struct {
	db    *sql.DB
	clock func() time.Time
}

// OpenSQLite opens (creating if needed) the database at path. ":memory:"
// gives a private in-memory database.
func OpenSQLite(ctx context.Context, path string) (*SQLiteStore, error) {
	dsn := ":memory:"
	if path != ":memory:" {
		if dir := filepath.Dir(path); dir != "." && dir != "" {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("create data dir: %w", err)
			}
		}
		dsn = fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path)
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if path == ":memory:" {
		// Every connection would otherwise see its own empty database.
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	s := &SQLiteStore{db: db, clock: time.Now}
	if err := s.initSchema(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("init sqlite schema: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) initSchema(ctx context.Context) error {
	ddl := `
CREATE TABLE IF NOT EXISTS content_items (
    id TEXT PRIMARY KEY,
    language TEXT NOT NULL,
    owner_id TEXT,
    canonical_key TEXT,
    created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_content_items_canonical_key ON content_items(canonical_key);
CREATE TABLE IF NOT EXISTS audio_assets (
    content_item_id TEXT NOT NULL,
    language TEXT NOT NULL,
    storage_path TEXT NOT NULL,
    byte_size INTEGER NOT NULL,
    duration_ms INTEGER,
    created_at INTEGER NOT NULL,
    PRIMARY KEY (content_item_id, language)
);
`
	_, err := s.db.ExecContext(ctx, ddl)
	return err
}

// Close releases underlying resources.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) RegisterContentItem(ctx context.Context, item ContentItem) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO content_items(id, language, owner_id, canonical_key, created_at)
		 VALUES(?, ?, NULLIF(?, ''), NULLIF(?, ''), ?)
		 ON CONFLICT(id) DO NOTHING`,
		item.ID, item.Language, item.OwnerID, item.CanonicalKey, s.clock().UnixMilli())
	return err
}

func (s *SQLiteStore) GetContentItem(ctx context.Context, id string) (*ContentItem, error) {
	var item ContentItem
	var owner, key sql.NullString
	var created int64
	err := s.db.QueryRowContext(ctx,
		`SELECT id, language, owner_id, canonical_key, created_at FROM content_items WHERE id = ?`, id,
	).Scan(&item.ID, &item.Language, &owner, &key, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	item.OwnerID = owner.String
	item.CanonicalKey = key.String
	item.CreatedAt = time.UnixMilli(created).UTC()
	return &item, nil
}

func (s *SQLiteStore) GetAudioAsset(ctx context.Context, contentItemID, language string) (*AudioAsset, error) {
	return scanSQLiteAsset(s.db.QueryRowContext(ctx,
		`SELECT content_item_id, language, storage_path, byte_size, duration_ms, created_at
		 FROM audio_assets WHERE content_item_id = ? AND language = ?`,
		contentItemID, language))
}

func (s *SQLiteStore) FindAssetByCanonicalKey(ctx context.Context, canonicalKey, language, excludeItemID string) (*AudioAsset, error) {
	if canonicalKey == "" {
		return nil, ErrNotFound
	}
	return scanSQLiteAsset(s.db.QueryRowContext(ctx,
		`SELECT a.content_item_id, a.language, a.storage_path, a.byte_size, a.duration_ms, a.created_at
		 FROM audio_assets a
		 JOIN content_items c ON c.id = a.content_item_id
		 WHERE c.canonical_key = ? AND a.language = ? AND a.content_item_id <> ?
		 ORDER BY a.created_at DESC, a.rowid DESC
		 LIMIT 1`,
		canonicalKey, language, excludeItemID))
}

func (s *SQLiteStore) UpsertAudioAsset(ctx context.Context, a AudioAsset) error {
	var ms sql.NullInt64
	if p := durationMs(a.Duration); p != nil {
		ms = sql.NullInt64{Int64: *p, Valid: true}
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO audio_assets(content_item_id, language, storage_path, byte_size, duration_ms, created_at)
		 VALUES(?, ?, ?, ?, ?, ?)
		 ON CONFLICT(content_item_id, language) DO UPDATE SET
		   storage_path=excluded.storage_path,
		   byte_size=excluded.byte_size,
		   duration_ms=excluded.duration_ms,
		   created_at=excluded.created_at`,
		a.ContentItemID, a.Language, a.StoragePath, a.ByteSize, ms, s.clock().UnixMilli())
	return err
}

func scanSQLiteAsset(row *sql.Row) (*AudioAsset, error) {
	var a AudioAsset
	var ms sql.NullInt64
	var created int64
	err := row.Scan(&a.ContentItemID, &a.Language, &a.StoragePath, &a.ByteSize, &ms, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if ms.Valid {
		a.Duration = time.Duration(ms.Int64) * time.Millisecond
	}
	a.CreatedAt = time.UnixMilli(created).UTC()
	return &a, nil
}
