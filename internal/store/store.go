package store

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = errors.New("not found")

type Store struct {
	db *pgxpool.Pool
}

func New(db *pgxpool.Pool) *Store {
	return &Store{db: db}
}

// ContentItem is a unit of text submitted for narration. Rows are created on
// first reference and never changed afterwards.
type ContentItem struct {
	ID       string `json:"id"`
	Language string `json:"language"`
	OwnerID  string `json:"owner_id,omitempty"`
	// CanonicalKey is the normalized (title, author) identity, empty when the
	// item carries none.
	CanonicalKey string    `json:"canonical_key,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// AudioAsset is the persisted record of one narration. At most one exists per
// (ContentItemID, Language).
type AudioAsset struct {
	ContentItemID string        `json:"content_item_id"`
	Language      string        `json:"language"`
	StoragePath   string        `json:"storage_path"`
	ByteSize      int64         `json:"byte_size"`
	Duration      time.Duration `json:"duration,omitempty"` // zero when unknown
	CreatedAt     time.Time     `json:"created_at"`
}

// RegisterContentItem inserts the item unless a row with the same id exists.
func (s *Store) RegisterContentItem(ctx context.Context, item ContentItem) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO content_items (id, language, owner_id, canonical_key)
		VALUES ($1, $2, NULLIF($3, ''), NULLIF($4, ''))
		ON CONFLICT (id) DO NOTHING
	`, item.ID, item.Language, item.OwnerID, item.CanonicalKey)
	return err
}

func (s *Store) GetContentItem(ctx context.Context, id string) (*ContentItem, error) {
	var item ContentItem
	var owner, key *string
	err := s.db.QueryRow(ctx, `
		SELECT id, language, owner_id, canonical_key, created_at
		FROM content_items WHERE id = $1
	`, id).Scan(&item.ID, &item.Language, &owner, &key, &item.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	item.OwnerID = stringOrDefault(owner, "")
	item.CanonicalKey = stringOrDefault(key, "")
	return &item, nil
}

// GetAudioAsset returns the asset for the exact (item, language) pair.
func (s *Store) GetAudioAsset(ctx context.Context, contentItemID, language string) (*AudioAsset, error) {
	row := s.db.QueryRow(ctx, `
		SELECT content_item_id, language, storage_path, byte_size, duration_ms, created_at
		FROM audio_assets
		WHERE content_item_id = $1 AND language = $2
	`, contentItemID, language)
	return scanAsset(row)
}

// FindAssetByCanonicalKey returns the newest asset in language belonging to any
// content item other than excludeItemID that shares canonicalKey.
func (s *Store) FindAssetByCanonicalKey(ctx context.Context, canonicalKey, language, excludeItemID string) (*AudioAsset, error) {
	if canonicalKey == "" {
		return nil, ErrNotFound
	}
	row := s.db.QueryRow(ctx, `
		SELECT a.content_item_id, a.language, a.storage_path, a.byte_size, a.duration_ms, a.created_at
		FROM audio_assets a
		JOIN content_items c ON c.id = a.content_item_id
		WHERE c.canonical_key = $1 AND a.language = $2 AND a.content_item_id <> $3
		ORDER BY a.created_at DESC
		LIMIT 1
	`, canonicalKey, language, excludeItemID)
	return scanAsset(row)
}

// UpsertAudioAsset writes the asset, overwriting any existing row for the same
// (item, language).
func (s *Store) UpsertAudioAsset(ctx context.Context, a AudioAsset) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO audio_assets (content_item_id, language, storage_path, byte_size, duration_ms, created_at)
		VALUES ($1, $2, $3, $4, $5, now())
		ON CONFLICT (content_item_id, language) DO UPDATE SET
			storage_path = EXCLUDED.storage_path,
			byte_size = EXCLUDED.byte_size,
			duration_ms = EXCLUDED.duration_ms,
			created_at = EXCLUDED.created_at
	`, a.ContentItemID, a.Language, a.StoragePath, a.ByteSize, durationMs(a.Duration))
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAsset(row rowScanner) (*AudioAsset, error) {
	var a AudioAsset
	var ms *int64
	err := row.Scan(&a.ContentItemID, &a.Language, &a.StoragePath, &a.ByteSize, &ms, &a.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if ms != nil {
		a.Duration = time.Duration(*ms) * time.Millisecond
	}
	return &a, nil
}

// stringOrDefault returns the string value or a default if nil
func stringOrDefault(s *string, def string) string {
	if s == nil {
		return def
	}
	return *s
}

func durationMs(d time.Duration) *int64 {
	if d <= 0 {
		return nil
	}
	ms := d.Milliseconds()
	return &ms
}
