package workout

import (
	"errors"
	"strings"
	"testing"
)

func TestNewSessionIDValidatesInput(t *testing.T) {
	if _, err := NewSessionID("  "); !errors.Is(err, ErrInvalidSessionID) {
		t.Fatalf("expected ErrInvalidSessionID for blank input, got %v", err)
	}
	if _, err := NewSessionID(strings.Repeat("x", 191)); !errors.Is(err, ErrInvalidSessionID) {
		t.Fatalf("expected ErrInvalidSessionID for oversized input, got %v", err)
	}
	id, err := NewSessionID(" session-1 ")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id.String() != "session-1" {
		t.Fatalf("expected trimmed id, got %q", id.String())
	}
}

func TestSessionCompleteIsOneWay(t *testing.T) {
	session := Session{SessionID: "session-1", Status: SessionStatusActive}
	if err := session.Complete(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if session.Status != SessionStatusCompleted {
		t.Fatalf("expected completed status, got %s", session.Status)
	}
	if err := session.Complete(); !errors.Is(err, ErrSessionCompleted) {
		t.Fatalf("expected ErrSessionCompleted on second completion, got %v", err)
	}
}

func TestSessionResumeRejectsCompleted(t *testing.T) {
	session := Session{SessionID: "session-1", Status: SessionStatusCompleted}
	if err := session.Resume(1700000000); !errors.Is(err, ErrSessionCompleted) {
		t.Fatalf("expected ErrSessionCompleted, got %v", err)
	}

	session.Status = SessionStatusActive
	if err := session.Resume(1700000000); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if session.LastResumedAtSeconds == nil || *session.LastResumedAtSeconds != 1700000000 {
		t.Fatalf("expected resume timestamp to be recorded")
	}
}

func TestSessionAccumulateActive(t *testing.T) {
	session := Session{
		SessionID:        "session-1",
		Status:           SessionStatusActive,
		StartedAtSeconds: 1_700_000_000,
	}

	session.AccumulateActive(1_700_000_600)
	if session.ActiveSeconds != 600 {
		t.Fatalf("expected 600 active seconds, got %d", session.ActiveSeconds)
	}

	// After a resume, only the stretch since the resume counts.
	if err := session.Resume(1_700_001_000); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	session.AccumulateActive(1_700_001_300)
	if session.ActiveSeconds != 900 {
		t.Fatalf("expected 900 active seconds, got %d", session.ActiveSeconds)
	}

	// A clock that ran backwards adds nothing.
	session.AccumulateActive(1_600_000_000)
	if session.ActiveSeconds != 900 {
		t.Fatalf("expected active seconds unchanged, got %d", session.ActiveSeconds)
	}
}

func TestLogEntryValidate(t *testing.T) {
	valid := LogEntry{
		EntryID:          "entry-1",
		SessionID:        "session-1",
		ExerciseIndex:    0,
		SetNumber:        1,
		CreatedAtSeconds: 1700000000,
	}
	if err := valid.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	tests := []struct {
		name   string
		mutate func(e *LogEntry)
	}{
		{name: "missing-entry-id", mutate: func(e *LogEntry) { e.EntryID = "" }},
		{name: "missing-session-id", mutate: func(e *LogEntry) { e.SessionID = " " }},
		{name: "negative-exercise-index", mutate: func(e *LogEntry) { e.ExerciseIndex = -1 }},
		{name: "zero-set-number", mutate: func(e *LogEntry) { e.SetNumber = 0 }},
		{name: "missing-timestamp", mutate: func(e *LogEntry) { e.CreatedAtSeconds = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			entry := valid
			tt.mutate(&entry)
			if err := entry.Validate(); !errors.Is(err, ErrInvalidLogEntry) {
				t.Fatalf("expected ErrInvalidLogEntry, got %v", err)
			}
		})
	}
}
