// Package store is the durable record store shared by both device roles.
// It selects a structured SQLite backend at construction time and falls back
// to a flat key-value backend when the structured store cannot initialize;
// callers above it never observe which backend is live.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/MarcoPoloResearchLab/cadence/internal/program"
	"github.com/MarcoPoloResearchLab/cadence/internal/workout"
)

var (
	// ErrNotFound indicates that no record exists for the requested identity.
	ErrNotFound = errors.New("store: record not found")
	// ErrStoreUnavailable indicates that both the structured backend and the
	// key-value fallback failed to initialize. This is the only fatal storage
	// condition: the agent must surface recovery guidance instead of running
	// without persistence.
	ErrStoreUnavailable = errors.New("store: no usable backend; reinstall the app or reset local data")
)

// OutboundItem is one not-yet-acknowledged event awaiting delivery to the
// peer. Items live only in the outbound queue and are removed strictly on
// positive delivery acknowledgment, never on a best-effort send attempt.
type OutboundItem struct {
	Seq                uint64 `gorm:"column:seq;primaryKey;autoIncrement"`
	ItemID             string `gorm:"column:item_id;size:190;not null;uniqueIndex:idx_outbound_item"`
	EventType          string `gorm:"column:event_type;size:64;not null"`
	PayloadJSON        string `gorm:"column:payload_json;type:text;not null"`
	EnqueuedAtSeconds  int64  `gorm:"column:enqueued_at_s;not null"`
	LastAttemptSeconds int64  `gorm:"column:last_attempt_s;not null;default:0"`
}

// TableName provides the explicit table binding for GORM.
func (OutboundItem) TableName() string {
	return "outbound_queue"
}

// Store is the contract both backends satisfy. Writes are single-writer by
// design: the sync engine funnels every mutation through one goroutine, so
// the backends only need per-call transactional integrity, not cross-caller
// locking.
type Store interface {
	// Sessions.
	PutSession(ctx context.Context, session *workout.Session) error
	SessionByID(ctx context.Context, sessionID string) (*workout.Session, error)
	ActiveSession(ctx context.Context) (*workout.Session, error)

	// Exercise log. AppendLogEntry is insert-only and idempotent by entry
	// identity; re-applying a delivered entry is a no-op.
	AppendLogEntry(ctx context.Context, entry *workout.LogEntry) error
	LogEntries(ctx context.Context, sessionID string) ([]workout.LogEntry, error)

	// Program templates.
	UpsertTemplate(ctx context.Context, template *program.Template, exercises []program.Exercise) error
	UpsertExercise(ctx context.Context, exercise *program.Exercise) error
	TemplateByID(ctx context.Context, templateID string) (*program.Template, error)
	Templates(ctx context.Context) ([]program.Template, error)
	TemplateExercises(ctx context.Context, templateID string) ([]program.Exercise, error)

	// Outbound queue, ordered by enqueue sequence.
	EnqueueOutbound(ctx context.Context, item *OutboundItem) error
	PendingOutbound(ctx context.Context) ([]OutboundItem, error)
	MarkOutboundAttempt(ctx context.Context, seq uint64, at time.Time) error
	DeleteOutbound(ctx context.Context, seq uint64) error

	Close() error
}
