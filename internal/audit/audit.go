// Package audit records a write-only activity trail of delivery and
// engagement actions. Recording never fails the caller: errors are logged
// and dropped.
package audit

import (
	"context"
	"database/sql"
	"sync"
	"time"

	"github.com/ignite/dispatch-engine/internal/pkg/logger"
)

// Action enumerates the recorded activity types.
type Action string

const (
	ActionSend        Action = "send"
	ActionOpen        Action = "open"
	ActionClick       Action = "click"
	ActionBounce      Action = "bounce"
	ActionComplaint   Action = "complaint"
	ActionUnsubscribe Action = "unsubscribe"
)

// Entry is one activity row.
type Entry struct {
	Action       Action
	CampaignID   string
	RecipientID  string
	SendRecordID string
	Detail       string
	At           time.Time
}

// Recorder appends activity entries.
type Recorder interface {
	Record(ctx context.Context, e Entry)
}

// PostgresRecorder writes entries to the activity_log table.
type PostgresRecorder struct {
	db  *sql.DB
	log *logger.Logger
}

// NewPostgresRecorder creates a Postgres-backed recorder.
func NewPostgresRecorder(db *sql.DB) *PostgresRecorder {
	return &PostgresRecorder{db: db, log: logger.With("audit")}
}

// Record inserts one activity row. Insert failures are logged, never
// propagated.
func (r *PostgresRecorder) Record(ctx context.Context, e Entry) {
	if e.At.IsZero() {
		e.At = time.Now()
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO activity_log (action, campaign_id, recipient_id, send_record_id, detail, occurred_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, string(e.Action), e.CampaignID, e.RecipientID, e.SendRecordID, e.Detail, e.At)
	if err != nil {
		r.log.Warn("activity insert failed", "action", string(e.Action), "error", err.Error())
	}
}

// MemoryRecorder collects entries in memory, for tests.
type MemoryRecorder struct {
	mu      sync.Mutex
	entries []Entry
}

// NewMemoryRecorder creates an empty in-memory recorder.
func NewMemoryRecorder() *MemoryRecorder { return &MemoryRecorder{} }

// Record appends the entry.
func (r *MemoryRecorder) Record(ctx context.Context, e Entry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e.At.IsZero() {
		e.At = time.Now()
	}
	r.entries = append(r.entries, e)
}

// Entries returns a copy of everything recorded so far.
func (r *MemoryRecorder) Entries() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Entry, len(r.entries))
	copy(out, r.entries)
	return out
}
