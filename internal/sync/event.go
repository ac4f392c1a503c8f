// Package sync is the cross-device synchronization and offline-queueing
// engine. The primary device is the source of truth for program templates;
// the companion device is the source of truth for live set logging. Both
// sides exchange the event families defined here over an unreliable link,
// write ahead to local durable storage, and reconcile through idempotent
// merge.
package sync

import (
	"encoding/json"
	"errors"
	"fmt"
)

// EventType enumerates the message families exchanged between paired devices.
type EventType string

const (
	// EventWorkoutStart announces a new workout session with its ordered
	// exercise list, so the peer can mirror the session without a template
	// round trip.
	EventWorkoutStart EventType = "workout_start"
	// EventWorkoutUpdate carries one completed set.
	EventWorkoutUpdate EventType = "workout_update"
	// EventProgramSync pushes the full template catalog.
	EventProgramSync EventType = "program_sync"
	// EventFetchProgram asks the peer to rebroadcast its template catalog.
	EventFetchProgram EventType = "fetch_program"
	// EventRequestSync asks the peer to resend workout_start for the
	// currently active session.
	EventRequestSync EventType = "request_sync"
)

// ErrInvalidEvent indicates that an event cannot be decoded or fails payload
// validation.
var ErrInvalidEvent = errors.New("sync: invalid event")

// Event is the wire unit exchanged over the transport session.
type Event struct {
	Type    EventType       `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// ExercisePayload mirrors one template exercise on the wire.
type ExercisePayload struct {
	ExerciseID     string  `json:"exercise_id"`
	Name           string  `json:"name"`
	OrderIndex     int     `json:"order_index"`
	TargetSets     int     `json:"target_sets"`
	TargetReps     int     `json:"target_reps"`
	TargetWeightKg float64 `json:"target_weight_kg"`
}

// WorkoutStartPayload announces a session together with its exercise list.
type WorkoutStartPayload struct {
	SessionID        string            `json:"session_id"`
	TemplateID       string            `json:"template_id,omitempty"`
	StartedAtSeconds int64             `json:"started_at_s"`
	Exercises        []ExercisePayload `json:"exercises"`
}

// WorkoutUpdatePayload carries one completed set. EntryID is the globally
// stable identity that makes replayed deliveries collapse into one record.
type WorkoutUpdatePayload struct {
	EntryID          string  `json:"entry_id"`
	SessionID        string  `json:"session_id"`
	ExerciseName     string  `json:"exercise_name"`
	ExerciseIndex    int     `json:"exercise_index"`
	SetNumber        int     `json:"set_number"`
	Reps             int     `json:"reps"`
	WeightKg         float64 `json:"weight_kg"`
	CreatedAtSeconds int64   `json:"created_at_s"`
}

// TemplatePayload mirrors one program template on the wire.
type TemplatePayload struct {
	TemplateID string            `json:"template_id"`
	OwnerID    string            `json:"owner_id"`
	Name       string            `json:"name"`
	DayOfWeek  *int              `json:"day_of_week,omitempty"`
	Exercises  []ExercisePayload `json:"exercises"`
}

// ProgramSyncPayload pushes the full template catalog.
type ProgramSyncPayload struct {
	Templates []TemplatePayload `json:"templates"`
}

// NewEvent marshals a typed payload into an Event. A nil payload produces a
// bare event, which is what fetch_program and request_sync use.
func NewEvent(eventType EventType, payload any) (Event, error) {
	if payload == nil {
		return Event{Type: eventType}, nil
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return Event{}, fmt.Errorf("%w: %v", ErrInvalidEvent, err)
	}
	return Event{Type: eventType, Payload: raw}, nil
}

// DecodeEvent parses a raw JSON event and verifies the type is known.
func DecodeEvent(raw []byte) (Event, error) {
	var event Event
	if err := json.Unmarshal(raw, &event); err != nil {
		return Event{}, fmt.Errorf("%w: %v", ErrInvalidEvent, err)
	}
	switch event.Type {
	case EventWorkoutStart, EventWorkoutUpdate, EventProgramSync, EventFetchProgram, EventRequestSync:
		return event, nil
	default:
		return Event{}, fmt.Errorf("%w: unknown type %q", ErrInvalidEvent, event.Type)
	}
}

// WorkoutStart decodes the event payload as a WorkoutStartPayload.
func (e Event) WorkoutStart() (WorkoutStartPayload, error) {
	var payload WorkoutStartPayload
	if err := e.decodePayload(EventWorkoutStart, &payload); err != nil {
		return WorkoutStartPayload{}, err
	}
	return payload, nil
}

// WorkoutUpdate decodes the event payload as a WorkoutUpdatePayload.
func (e Event) WorkoutUpdate() (WorkoutUpdatePayload, error) {
	var payload WorkoutUpdatePayload
	if err := e.decodePayload(EventWorkoutUpdate, &payload); err != nil {
		return WorkoutUpdatePayload{}, err
	}
	return payload, nil
}

// ProgramSync decodes the event payload as a ProgramSyncPayload.
func (e Event) ProgramSync() (ProgramSyncPayload, error) {
	var payload ProgramSyncPayload
	if err := e.decodePayload(EventProgramSync, &payload); err != nil {
		return ProgramSyncPayload{}, err
	}
	return payload, nil
}

func (e Event) decodePayload(expected EventType, target any) error {
	if e.Type != expected {
		return fmt.Errorf("%w: expected %s event, have %s", ErrInvalidEvent, expected, e.Type)
	}
	if len(e.Payload) == 0 {
		return fmt.Errorf("%w: %s event without payload", ErrInvalidEvent, expected)
	}
	if err := json.Unmarshal(e.Payload, target); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidEvent, err)
	}
	return nil
}
