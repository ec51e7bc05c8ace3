// Package audit is a write-only compliance trail for outreach activity.
// Recording is best-effort: a failed write is logged and never blocks or
// rolls back the operation that produced it.
package audit

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

// Entry is one audit record.
type Entry struct {
	ID         uuid.UUID              `json:"id"`
	ActorID    uuid.UUID              `json:"actor_id"`
	Action     string                 `json:"action"` // CREATE | READ | UPDATE | DELETE
	Resource   string                 `json:"resource"`
	ResourceID string                 `json:"resource_id,omitempty"`
	Details    map[string]interface{} `json:"details,omitempty"`
	IPAddress  string                 `json:"ip_address,omitempty"`
	RequestID  string                 `json:"request_id,omitempty"`
	CreatedAt  time.Time              `json:"created_at"`
}

// Recorder persists audit entries.
type Recorder interface {
	Record(ctx context.Context, entry Entry)
}

// Logger writes audit entries to the audit_log table, falling back to
// structured logging when the database write fails.
type Logger struct {
	pool   *pgxpool.Pool
	logger zerolog.Logger
}

// NewLogger creates a database-backed audit logger.
func NewLogger(pool *pgxpool.Pool, logger zerolog.Logger) *Logger {
	return &Logger{pool: pool, logger: logger}
}

// Record persists the entry. Errors are logged, never returned.
func (l *Logger) Record(ctx context.Context, entry Entry) {
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	var details []byte
	if entry.Details != nil {
		details, _ = json.Marshal(entry.Details)
	}

	_, err := l.pool.Exec(ctx, `
		INSERT INTO audit_log (id, actor_id, action, resource, resource_id, details, ip_address, request_id, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		entry.ID, entry.ActorID, entry.Action, entry.Resource, entry.ResourceID,
		details, entry.IPAddress, entry.RequestID, entry.CreatedAt)
	if err != nil {
		l.logger.Error().Err(err).
			Str("action", entry.Action).
			Str("resource", entry.Resource).
			Str("resource_id", entry.ResourceID).
			Msg("audit write failed")
	}

	l.logger.Info().
		Str("type", "audit").
		Str("actor_id", entry.ActorID.String()).
		Str("action", entry.Action).
		Str("resource", entry.Resource).
		Str("resource_id", entry.ResourceID).
		Str("request_id", entry.RequestID).
		Msg("audit")
}

// Nop is a Recorder that discards entries, for tests and tooling.
type Nop struct{}

func (Nop) Record(context.Context, Entry) {}
