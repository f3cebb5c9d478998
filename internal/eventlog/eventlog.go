package eventlog

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// EventType represents the type of narration job event
type EventType string

const (
	EventNarrationStarted EventType = "narration_started"
	EventCacheHit         EventType = "cache_hit"
	EventClaimWait        EventType = "claim_wait"
	EventChunkSynthesized EventType = "chunk_synthesized"
	EventAssetPublished   EventType = "asset_published"
	EventNarrationFailed  EventType = "narration_failed"
)

// Logger provides async event logging to the database
type Logger struct {
	db *pgxpool.Pool
}

// New creates a new event logger
func New(db *pgxpool.Pool) *Logger {
	return &Logger{db: db}
}

// Log writes an event to the database synchronously
func (l *Logger) Log(ctx context.Context, jobID string, eventType EventType, data map[string]any) error {
	if l == nil || l.db == nil || jobID == "" {
		return nil // Silently skip if no DB or job ID
	}

	dataJSON, err := json.Marshal(data)
	if err != nil {
		dataJSON = []byte("{}")
	}

	_, err = l.db.Exec(ctx, `
		INSERT INTO narration_events (job_id, event_type, event_data)
		VALUES ($1, $2, $3)
	`, jobID, string(eventType), dataJSON)

	return err
}

// LogAsync logs an event without blocking the caller
func (l *Logger) LogAsync(jobID string, eventType EventType, data map[string]any) {
	if l == nil || l.db == nil || jobID == "" {
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = l.Log(ctx, jobID, eventType, data)
	}()
}

// Prune deletes events created before cutoff and returns how many were removed.
func (l *Logger) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	if l == nil || l.db == nil {
		return 0, nil
	}
	tag, err := l.db.Exec(ctx, `DELETE FROM narration_events WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
