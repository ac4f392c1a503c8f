package workout

import (
	"errors"
	"fmt"
	"strings"
)

const maxIdentifierLength = 190

var (
	// ErrInvalidSessionID indicates that a session identifier is empty or exceeds storage bounds.
	ErrInvalidSessionID = errors.New("workout: invalid session id")
	// ErrInvalidLogEntry indicates that a log entry is missing required fields.
	ErrInvalidLogEntry = errors.New("workout: invalid log entry")
	// ErrSessionCompleted indicates an attempt to mutate a session that already completed.
	ErrSessionCompleted = errors.New("workout: session already completed")
)

// SessionID represents a validated workout session identifier.
type SessionID string

// NewSessionID validates raw input and returns a SessionID.
func NewSessionID(rawInput string) (SessionID, error) {
	trimmed := strings.TrimSpace(rawInput)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidSessionID)
	}
	if len(trimmed) > maxIdentifierLength {
		return "", fmt.Errorf("%w: exceeds %d characters", ErrInvalidSessionID, maxIdentifierLength)
	}
	return SessionID(trimmed), nil
}

// String returns the underlying string identifier.
func (id SessionID) String() string {
	return string(id)
}

// SessionStatus enumerates the lifecycle states of a workout session.
type SessionStatus string

const (
	// SessionStatusActive marks a session the user is still working through.
	SessionStatusActive SessionStatus = "active"
	// SessionStatusCompleted marks a finished session. Completed sessions are immutable.
	SessionStatusCompleted SessionStatus = "completed"
)

// Session models a single workout run on either device. The device that
// created the session owns it; the peer only receives a read-mostly copy.
type Session struct {
	SessionID            string        `gorm:"column:session_id;primaryKey;size:190;not null"`
	TemplateID           string        `gorm:"column:template_id;size:190;index:idx_sessions_template"`
	Status               SessionStatus `gorm:"column:status;size:32;not null;index:idx_sessions_status"`
	StartedAtSeconds     int64         `gorm:"column:started_at_s;not null"`
	LastResumedAtSeconds *int64        `gorm:"column:last_resumed_at_s"`
	ActiveSeconds        int64         `gorm:"column:active_s;not null;default:0"`
}

// TableName provides the explicit table binding for GORM.
func (Session) TableName() string {
	return "workout_sessions"
}

// Complete transitions the session to completed. The transition is one way:
// completing an already completed session reports ErrSessionCompleted.
func (s *Session) Complete() error {
	if s.Status == SessionStatusCompleted {
		return ErrSessionCompleted
	}
	s.Status = SessionStatusCompleted
	return nil
}

// Resume records a resume timestamp on an active session.
func (s *Session) Resume(atSeconds int64) error {
	if s.Status == SessionStatusCompleted {
		return ErrSessionCompleted
	}
	at := atSeconds
	s.LastResumedAtSeconds = &at
	return nil
}

// AccumulateActive folds the stretch since the session started or last
// resumed into the accumulated active duration.
func (s *Session) AccumulateActive(untilSeconds int64) {
	from := s.StartedAtSeconds
	if s.LastResumedAtSeconds != nil && *s.LastResumedAtSeconds > from {
		from = *s.LastResumedAtSeconds
	}
	if untilSeconds > from {
		s.ActiveSeconds += untilSeconds - from
	}
}

// LogEntry records one completed set. Entries are append only: a correction
// is a new entry, never an edit, so the set of entries ordered by creation
// time is the session's replayable truth.
type LogEntry struct {
	EntryID          string  `gorm:"column:entry_id;primaryKey;size:190;not null"`
	SessionID        string  `gorm:"column:session_id;size:190;not null;index:idx_log_session_created,priority:1"`
	ExerciseIndex    int     `gorm:"column:exercise_index;not null"`
	SetNumber        int     `gorm:"column:set_number;not null"`
	WeightKilograms  float64 `gorm:"column:weight_kg;not null;default:0"`
	Reps             int     `gorm:"column:reps;not null;default:0"`
	Completed        bool    `gorm:"column:completed;not null;default:true"`
	CreatedAtSeconds int64   `gorm:"column:created_at_s;not null;index:idx_log_session_created,priority:2"`
}

// TableName provides the explicit table binding for GORM.
func (LogEntry) TableName() string {
	return "exercise_log_entries"
}

// Validate checks the fields required before an entry may be persisted.
func (e LogEntry) Validate() error {
	if strings.TrimSpace(e.EntryID) == "" {
		return fmt.Errorf("%w: empty entry id", ErrInvalidLogEntry)
	}
	if strings.TrimSpace(e.SessionID) == "" {
		return fmt.Errorf("%w: empty session id", ErrInvalidLogEntry)
	}
	if e.ExerciseIndex < 0 {
		return fmt.Errorf("%w: negative exercise index", ErrInvalidLogEntry)
	}
	if e.SetNumber < 1 {
		return fmt.Errorf("%w: set number must be 1-based", ErrInvalidLogEntry)
	}
	if e.CreatedAtSeconds <= 0 {
		return fmt.Errorf("%w: missing creation timestamp", ErrInvalidLogEntry)
	}
	return nil
}
