package sync

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/MarcoPoloResearchLab/cadence/internal/program"
	"github.com/MarcoPoloResearchLab/cadence/internal/store"
	"github.com/MarcoPoloResearchLab/cadence/internal/workout"
)

// Merge applies incoming domain records to the durable record store with
// idempotent upsert-by-identity semantics. A push from the peer and an
// explicit full resync run through the same methods, so
// repeated application of any batch is safe. Conflicts resolve last writer
// wins by arrival order: templates have a single owning device, so
// concurrent edits are not expected in normal operation.
type Merge struct {
	store  store.Store
	clock  func() time.Time
	logger *zap.Logger
}

// MergeConfig configures a Merge.
type MergeConfig struct {
	Store  store.Store
	Clock  func() time.Time
	Logger *zap.Logger
}

// NewMerge constructs a Merge.
func NewMerge(cfg MergeConfig) (*Merge, error) {
	if cfg.Store == nil {
		return nil, newSyncError(opMergeNew, "missing_store", errMissingStore)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Merge{store: cfg.Store, clock: clock, logger: logger}, nil
}

// MergeResult reports how a batch landed.
type MergeResult struct {
	Applied int
	Skipped int
}

// ApplyTemplateBatch upserts each template in the batch. Malformed records
// are skipped individually with a diagnostic; one corrupt record never
// aborts the rest of the batch. Store failures do abort: they are local
// durability problems, not data problems.
func (m *Merge) ApplyTemplateBatch(ctx context.Context, templates []TemplatePayload) (MergeResult, error) {
	result := MergeResult{}
	for _, payload := range templates {
		template, exercises, err := m.templateFromPayload(payload)
		if err != nil {
			result.Skipped++
			m.logger.Warn("skipping malformed template record",
				zap.String("template_id", payload.TemplateID),
				zap.Error(err))
			continue
		}
		if err := m.store.UpsertTemplate(ctx, template, exercises); err != nil {
			return result, newSyncError(opMergeBatch, "upsert_failed", err)
		}
		result.Applied++
	}
	m.logger.Debug("template batch merged",
		zap.Int("applied", result.Applied),
		zap.Int("skipped", result.Skipped))
	return result, nil
}

// ApplyExerciseUpdate upserts a single template exercise by stable identity.
func (m *Merge) ApplyExerciseUpdate(ctx context.Context, templateID string, payload ExercisePayload) error {
	exercise := exerciseFromPayload(templateID, payload)
	if err := exercise.Validate(); err != nil {
		return newSyncError(opMergeUpdate, "malformed_record", err)
	}
	if err := m.store.UpsertExercise(ctx, &exercise); err != nil {
		return newSyncError(opMergeUpdate, "upsert_failed", err)
	}
	return nil
}

// ApplyWorkoutStart mirrors a session the peer started. The exercise list
// travels inside the event so the receiving side can reconstruct the resume
// point without a template round trip. Sessions only move forward: a start
// arriving for an already completed session is ignored.
func (m *Merge) ApplyWorkoutStart(ctx context.Context, payload WorkoutStartPayload) error {
	if _, err := workout.NewSessionID(payload.SessionID); err != nil {
		return newSyncError(opMergeStart, "malformed_record", err)
	}
	if payload.StartedAtSeconds <= 0 {
		return newSyncError(opMergeStart, "malformed_record", errors.New("missing start timestamp"))
	}

	existing, err := m.store.SessionByID(ctx, payload.SessionID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return newSyncError(opMergeStart, "session_lookup_failed", err)
	}
	if existing != nil && existing.Status == workout.SessionStatusCompleted {
		m.logger.Debug("ignoring workout_start for completed session",
			zap.String("session_id", payload.SessionID))
		return nil
	}

	// Ad-hoc workouts have no template; their exercise snapshot is keyed by
	// the session id instead.
	snapshotID := payload.TemplateID
	if snapshotID == "" {
		snapshotID = payload.SessionID
	}
	for _, exercisePayload := range payload.Exercises {
		exercise := exerciseFromPayload(snapshotID, exercisePayload)
		if err := exercise.Validate(); err != nil {
			m.logger.Warn("skipping malformed exercise in workout_start",
				zap.String("session_id", payload.SessionID),
				zap.Error(err))
			continue
		}
		if err := m.store.UpsertExercise(ctx, &exercise); err != nil {
			return newSyncError(opMergeStart, "exercise_upsert_failed", err)
		}
	}

	session := &workout.Session{
		SessionID:        payload.SessionID,
		TemplateID:       snapshotID,
		Status:           workout.SessionStatusActive,
		StartedAtSeconds: payload.StartedAtSeconds,
	}
	if existing != nil {
		session.ActiveSeconds = existing.ActiveSeconds
		session.LastResumedAtSeconds = existing.LastResumedAtSeconds
	}
	if err := m.store.PutSession(ctx, session); err != nil {
		return newSyncError(opMergeStart, "session_save_failed", err)
	}
	return nil
}

// ApplyWorkoutUpdate appends one set-log entry. Entry identity is globally
// stable, so a redelivered update collapses into the already stored record.
func (m *Merge) ApplyWorkoutUpdate(ctx context.Context, payload WorkoutUpdatePayload) error {
	entry := workout.LogEntry{
		EntryID:          payload.EntryID,
		SessionID:        payload.SessionID,
		ExerciseIndex:    payload.ExerciseIndex,
		SetNumber:        payload.SetNumber,
		Reps:             payload.Reps,
		WeightKilograms:  payload.WeightKg,
		Completed:        true,
		CreatedAtSeconds: payload.CreatedAtSeconds,
	}
	if err := entry.Validate(); err != nil {
		return newSyncError(opMergeSet, "malformed_record", err)
	}
	if err := m.store.AppendLogEntry(ctx, &entry); err != nil {
		return newSyncError(opMergeSet, "append_failed", err)
	}
	return nil
}

// SessionKnown reports whether the session referenced by an update exists
// locally; the engine uses a miss to ask the peer for the session record.
func (m *Merge) SessionKnown(ctx context.Context, sessionID string) (bool, error) {
	_, err := m.store.SessionByID(ctx, sessionID)
	if errors.Is(err, store.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (m *Merge) templateFromPayload(payload TemplatePayload) (*program.Template, []program.Exercise, error) {
	template := &program.Template{
		TemplateID:       payload.TemplateID,
		OwnerID:          payload.OwnerID,
		Name:             payload.Name,
		DayOfWeek:        payload.DayOfWeek,
		UpdatedAtSeconds: m.clock().UTC().Unix(),
	}
	if err := template.Validate(); err != nil {
		return nil, nil, err
	}
	exercises := make([]program.Exercise, 0, len(payload.Exercises))
	for _, exercisePayload := range payload.Exercises {
		exercise := exerciseFromPayload(payload.TemplateID, exercisePayload)
		if err := exercise.Validate(); err != nil {
			return nil, nil, err
		}
		exercises = append(exercises, exercise)
	}
	return template, exercises, nil
}

func exerciseFromPayload(templateID string, payload ExercisePayload) program.Exercise {
	return program.Exercise{
		ExerciseID:     payload.ExerciseID,
		TemplateID:     templateID,
		OrderIndex:     payload.OrderIndex,
		Name:           payload.Name,
		TargetSets:     payload.TargetSets,
		TargetReps:     payload.TargetReps,
		TargetWeightKg: payload.TargetWeightKg,
	}
}
