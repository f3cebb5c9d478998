package store

import "context"

const postgresSchema = `
CREATE TABLE IF NOT EXISTS content_items (
	id            TEXT PRIMARY KEY,
	language      TEXT NOT NULL,
	owner_id      TEXT,
	canonical_key TEXT,
	created_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_content_items_canonical_key
	ON content_items (canonical_key) WHERE canonical_key IS NOT NULL;

CREATE TABLE IF NOT EXISTS audio_assets (
	content_item_id TEXT NOT NULL,
	language        TEXT NOT NULL,
	storage_path    TEXT NOT NULL,
	byte_size       BIGINT NOT NULL,
	duration_ms     BIGINT,
	created_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (content_item_id, language)
);

CREATE TABLE IF NOT EXISTS narration_events (
	id         BIGSERIAL PRIMARY KEY,
	job_id     TEXT NOT NULL,
	event_type TEXT NOT NULL,
	event_data JSONB NOT NULL DEFAULT '{}',
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_narration_events_created_at ON narration_events (created_at);
`

// Migrate creates the narration tables if they do not exist.
func (s *Store) Migrate(ctx context.Context) error {
	_, err := s.db.Exec(ctx, postgresSchema)
	return err
}
