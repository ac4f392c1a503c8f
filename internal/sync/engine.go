package sync

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/MarcoPoloResearchLab/cadence/internal/store"
	"github.com/MarcoPoloResearchLab/cadence/internal/workout"
)

// Role selects which side of the paired link an engine plays. The asymmetry
// is a protocol convention: the primary owns templates and merges inbound
// set logs; the companion owns live set logging and merges inbound
// templates. Both directions use the same idempotent merge machinery.
type Role string

const (
	// RolePrimary owns program templates and long-term history.
	RolePrimary Role = "primary"
	// RoleCompanion owns live set logging during a workout.
	RoleCompanion Role = "companion"
)

// Engine coordinates write-ahead logging, delivery, queueing, and inbound
// merge for one device. All mutations are funneled through a single task
// loop: transport callbacks arrive on arbitrary goroutines and must never
// touch the durable record store directly.
//
// Run must be started before any other method is called.
type Engine struct {
	role      Role
	store     store.Store
	transport Transport
	merge     *Merge
	queue     *Queue
	ids       IDProvider
	clock     func() time.Time
	logger    *zap.Logger
	tasks     chan engineTask
}

// EngineConfig configures an Engine.
type EngineConfig struct {
	Role      Role
	Store     store.Store
	Transport Transport
	IDs       IDProvider
	Clock     func() time.Time
	Logger    *zap.Logger
}

type engineTask struct {
	run  func(ctx context.Context) error
	done chan error
}

// NewEngine constructs an Engine with its merge and queue wired internally.
func NewEngine(cfg EngineConfig) (*Engine, error) {
	if cfg.Role != RolePrimary && cfg.Role != RoleCompanion {
		return nil, newSyncError(opEngineNew, "missing_role", errMissingRole)
	}
	if cfg.Store == nil {
		return nil, newSyncError(opEngineNew, "missing_store", errMissingStore)
	}
	if cfg.Transport == nil {
		return nil, newSyncError(opEngineNew, "missing_transport", errMissingTransport)
	}
	ids := cfg.IDs
	if ids == nil {
		ids = NewUUIDProvider()
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	merge, err := NewMerge(MergeConfig{Store: cfg.Store, Clock: clock, Logger: logger})
	if err != nil {
		return nil, err
	}
	queue, err := NewQueue(QueueConfig{
		Store:     cfg.Store,
		Transport: cfg.Transport,
		IDs:       ids,
		Clock:     clock,
		Logger:    logger,
	})
	if err != nil {
		return nil, err
	}

	return &Engine{
		role:      cfg.Role,
		store:     cfg.Store,
		transport: cfg.Transport,
		merge:     merge,
		queue:     queue,
		ids:       ids,
		clock:     clock,
		logger:    logger,
		tasks:     make(chan engineTask),
	}, nil
}

// Run executes the single-writer task loop until ctx is cancelled.
func (e *Engine) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case task := <-e.tasks:
			task.done <- task.run(ctx)
		}
	}
}

func (e *Engine) submit(ctx context.Context, run func(ctx context.Context) error) error {
	task := engineTask{run: run, done: make(chan error, 1)}
	select {
	case e.tasks <- task:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-task.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Role reports which side of the link this engine plays.
func (e *Engine) Role() Role {
	return e.role
}

// Reachable reports the transport's last known link state.
func (e *Engine) Reachable() bool {
	return e.transport.Reachable()
}

// ActivationState reports the transport session lifecycle state.
func (e *Engine) ActivationState() ActivationState {
	return e.transport.ActivationState()
}

// QueueDepth reports how many events await delivery.
func (e *Engine) QueueDepth(ctx context.Context) (int, error) {
	return e.queue.Depth(ctx)
}

// StartWorkout creates a session locally and announces it to the peer. The
// announcement carries the template's ordered exercise list so the peer can
// mirror the session without a template round trip.
func (e *Engine) StartWorkout(ctx context.Context, templateID string) (*workout.Session, error) {
	var session *workout.Session
	err := e.submit(ctx, func(ctx context.Context) error {
		exercises, err := e.sessionExercises(ctx, templateID)
		if err != nil {
			return newSyncError(opStartWorkout, "template_lookup_failed", err)
		}

		sessionID, err := e.ids.NewID()
		if err != nil {
			return newSyncError(opStartWorkout, "id_generation_failed", err)
		}
		session = &workout.Session{
			SessionID:        sessionID,
			TemplateID:       templateID,
			Status:           workout.SessionStatusActive,
			StartedAtSeconds: e.clock().UTC().Unix(),
		}
		if err := e.store.PutSession(ctx, session); err != nil {
			return newSyncError(opStartWorkout, "session_save_failed", err)
		}

		event, err := NewEvent(EventWorkoutStart, WorkoutStartPayload{
			SessionID:        session.SessionID,
			TemplateID:       templateID,
			StartedAtSeconds: session.StartedAtSeconds,
			Exercises:        exercises,
		})
		if err != nil {
			return newSyncError(opStartWorkout, "encode_failed", err)
		}
		return e.deliver(ctx, event)
	})
	if err != nil {
		return nil, err
	}
	return session, nil
}

// LogSetInput describes one completed set.
type LogSetInput struct {
	SessionID     string
	ExerciseName  string
	ExerciseIndex int
	SetNumber     int
	Reps          int
	WeightKg      float64
}

// LogSet records one completed set: write-ahead to the local store first,
// then attempt delivery, falling back to the offline queue. The local write
// happens before any transport attempt so a crash mid-send never loses the
// set. Logging the final set of the final exercise completes the session.
func (e *Engine) LogSet(ctx context.Context, input LogSetInput) (*workout.LogEntry, error) {
	var entry *workout.LogEntry
	err := e.submit(ctx, func(ctx context.Context) error {
		session, err := e.store.SessionByID(ctx, input.SessionID)
		if err != nil {
			return newSyncError(opLogSet, "session_lookup_failed", err)
		}
		if session.Status == workout.SessionStatusCompleted {
			return newSyncError(opLogSet, "session_completed", workout.ErrSessionCompleted)
		}

		entryID, err := e.ids.NewID()
		if err != nil {
			return newSyncError(opLogSet, "id_generation_failed", err)
		}
		entry = &workout.LogEntry{
			EntryID:          entryID,
			SessionID:        input.SessionID,
			ExerciseIndex:    input.ExerciseIndex,
			SetNumber:        input.SetNumber,
			Reps:             input.Reps,
			WeightKilograms:  input.WeightKg,
			Completed:        true,
			CreatedAtSeconds: e.clock().UTC().Unix(),
		}
		if err := entry.Validate(); err != nil {
			return newSyncError(opLogSet, "invalid_entry", err)
		}
		if err := e.store.AppendLogEntry(ctx, entry); err != nil {
			return newSyncError(opLogSet, "write_ahead_failed", err)
		}

		event, err := NewEvent(EventWorkoutUpdate, WorkoutUpdatePayload{
			EntryID:          entry.EntryID,
			SessionID:        entry.SessionID,
			ExerciseName:     input.ExerciseName,
			ExerciseIndex:    entry.ExerciseIndex,
			SetNumber:        entry.SetNumber,
			Reps:             entry.Reps,
			WeightKg:         entry.WeightKilograms,
			CreatedAtSeconds: entry.CreatedAtSeconds,
		})
		if err != nil {
			return newSyncError(opLogSet, "encode_failed", err)
		}
		if err := e.deliver(ctx, event); err != nil {
			return err
		}

		return e.completeIfFullyLogged(ctx, session)
	})
	if err != nil {
		return nil, err
	}
	return entry, nil
}

// CompleteWorkout ends a session explicitly. Completing a session that
// already completed is a no-op: the transition is one way either way.
func (e *Engine) CompleteWorkout(ctx context.Context, sessionID string) error {
	return e.submit(ctx, func(ctx context.Context) error {
		session, err := e.store.SessionByID(ctx, sessionID)
		if err != nil {
			return newSyncError(opComplete, "session_lookup_failed", err)
		}
		session.AccumulateActive(e.clock().UTC().Unix())
		if err := session.Complete(); err != nil {
			if errors.Is(err, workout.ErrSessionCompleted) {
				return nil
			}
			return newSyncError(opComplete, "transition_failed", err)
		}
		if err := e.store.PutSession(ctx, session); err != nil {
			return newSyncError(opComplete, "session_save_failed", err)
		}
		return nil
	})
}

// Resume derives the resume point for a session from the local log alone and
// stamps the resume timestamp. No network access: this is how a workout
// survives app kill, device reboot, or prolonged unreachability.
func (e *Engine) Resume(ctx context.Context, sessionID string) (workout.ResumePoint, error) {
	var point workout.ResumePoint
	err := e.submit(ctx, func(ctx context.Context) error {
		session, err := e.store.SessionByID(ctx, sessionID)
		if err != nil {
			return newSyncError(opResume, "session_lookup_failed", err)
		}
		exercises, err := e.store.TemplateExercises(ctx, session.TemplateID)
		if err != nil {
			return newSyncError(opResume, "exercise_lookup_failed", err)
		}
		entries, err := e.store.LogEntries(ctx, sessionID)
		if err != nil {
			return newSyncError(opResume, "log_lookup_failed", err)
		}
		point = workout.Resume(exercises, entries)

		if session.Status == workout.SessionStatusActive {
			if err := session.Resume(e.clock().UTC().Unix()); err == nil {
				if err := e.store.PutSession(ctx, session); err != nil {
					return newSyncError(opResume, "session_save_failed", err)
				}
			}
		}
		return nil
	})
	if err != nil {
		return workout.ResumePoint{}, err
	}
	return point, nil
}

// HandleInbound applies one event received from the peer. It runs on the
// funnel, so transport delivery goroutines never touch the store themselves.
func (e *Engine) HandleInbound(ctx context.Context, event Event) error {
	return e.submit(ctx, func(ctx context.Context) error {
		return e.applyInbound(ctx, event)
	})
}

func (e *Engine) applyInbound(ctx context.Context, event Event) error {
	switch event.Type {
	case EventProgramSync:
		payload, err := event.ProgramSync()
		if err != nil {
			return newSyncError(opInbound, "malformed_event", err)
		}
		if _, err := e.merge.ApplyTemplateBatch(ctx, payload.Templates); err != nil {
			return err
		}
		return nil

	case EventFetchProgram:
		return e.rebroadcastCatalog(ctx)

	case EventWorkoutStart:
		payload, err := event.WorkoutStart()
		if err != nil {
			return newSyncError(opInbound, "malformed_event", err)
		}
		return e.merge.ApplyWorkoutStart(ctx, payload)

	case EventWorkoutUpdate:
		payload, err := event.WorkoutUpdate()
		if err != nil {
			return newSyncError(opInbound, "malformed_event", err)
		}
		if err := e.merge.ApplyWorkoutUpdate(ctx, payload); err != nil {
			return err
		}
		return e.requestSessionIfUnknown(ctx, payload.SessionID)

	case EventRequestSync:
		return e.resendActiveSession(ctx)

	default:
		return newSyncError(opInbound, "unknown_event", ErrInvalidEvent)
	}
}

// RequestResync asks the peer to rebroadcast its full template catalog. Used
// when local state is empty or suspected stale.
func (e *Engine) RequestResync(ctx context.Context) error {
	return e.submit(ctx, func(ctx context.Context) error {
		event, err := NewEvent(EventFetchProgram, nil)
		if err != nil {
			return newSyncError(opResync, "encode_failed", err)
		}
		return e.deliver(ctx, event)
	})
}

// PushProgram announces the local template catalog to the peer through the
// immediate channel, queueing when the peer is unreachable. The owning
// device's editing UI calls this after a local apply.
func (e *Engine) PushProgram(ctx context.Context) error {
	return e.submit(ctx, func(ctx context.Context) error {
		event, err := e.catalogEvent(ctx)
		if err != nil {
			return err
		}
		return e.deliver(ctx, event)
	})
}

// ApplyLocalTemplates is the producer-side apply path: the editing UI on the
// owning device merges its records straight into the local store with the
// same idempotent logic used for inbound batches.
func (e *Engine) ApplyLocalTemplates(ctx context.Context, templates []TemplatePayload) (MergeResult, error) {
	var result MergeResult
	err := e.submit(ctx, func(ctx context.Context) error {
		merged, err := e.merge.ApplyTemplateBatch(ctx, templates)
		if err != nil {
			return err
		}
		result = merged
		return nil
	})
	if err != nil {
		return MergeResult{}, err
	}
	return result, nil
}

// FlushQueue drains the offline queue once. It runs on the funnel so queue
// removals serialize with every other store mutation.
func (e *Engine) FlushQueue(ctx context.Context) (FlushResult, error) {
	var result FlushResult
	err := e.submit(ctx, func(ctx context.Context) error {
		flushed, err := e.queue.Flush(ctx)
		if err != nil {
			return err
		}
		result = flushed
		return nil
	})
	if err != nil {
		return FlushResult{}, err
	}
	return result, nil
}

// OnReachable is the reachability monitor's callback. It kicks a flush on a
// fresh goroutine so the monitor loop never blocks on queue drain.
func (e *Engine) OnReachable() {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		if _, err := e.FlushQueue(ctx); err != nil {
			e.logger.Warn("flush on reachability restore failed", zap.Error(err))
		}
	}()
}

// deliver tries the immediate channel first while the peer looks reachable
// and otherwise falls back to the offline queue. Transport failures are
// never surfaced past this point; data loss is accepted only if local
// durable storage itself is lost.
func (e *Engine) deliver(ctx context.Context, event Event) error {
	if e.transport.Reachable() {
		err := e.transport.SendImmediate(ctx, event)
		if err == nil {
			return nil
		}
		e.logger.Debug("immediate send failed, queueing",
			zap.String("event_type", string(event.Type)),
			zap.Error(err))
	}
	return e.queue.Enqueue(ctx, event)
}

func (e *Engine) completeIfFullyLogged(ctx context.Context, session *workout.Session) error {
	exercises, err := e.store.TemplateExercises(ctx, session.TemplateID)
	if err != nil {
		return newSyncError(opLogSet, "exercise_lookup_failed", err)
	}
	if len(exercises) == 0 {
		return nil
	}
	entries, err := e.store.LogEntries(ctx, session.SessionID)
	if err != nil {
		return newSyncError(opLogSet, "log_lookup_failed", err)
	}
	if !workout.Resume(exercises, entries).Done {
		return nil
	}
	session.AccumulateActive(e.clock().UTC().Unix())
	if err := session.Complete(); err != nil {
		return nil
	}
	if err := e.store.PutSession(ctx, session); err != nil {
		return newSyncError(opLogSet, "session_save_failed", err)
	}
	e.logger.Info("session fully logged, marked completed",
		zap.String("session_id", session.SessionID))
	return nil
}

func (e *Engine) requestSessionIfUnknown(ctx context.Context, sessionID string) error {
	known, err := e.merge.SessionKnown(ctx, sessionID)
	if err != nil {
		return newSyncError(opInbound, "session_lookup_failed", err)
	}
	if known {
		return nil
	}
	event, err := NewEvent(EventRequestSync, nil)
	if err != nil {
		return newSyncError(opInbound, "encode_failed", err)
	}
	// Best effort control message; the peer will answer with workout_start.
	if err := e.transport.SendImmediate(ctx, event); err != nil {
		e.logger.Debug("request_sync not delivered", zap.Error(err))
	}
	return nil
}

func (e *Engine) resendActiveSession(ctx context.Context) error {
	session, err := e.store.ActiveSession(ctx)
	if errors.Is(err, store.ErrNotFound) {
		e.logger.Debug("request_sync with no active session")
		return nil
	}
	if err != nil {
		return newSyncError(opInbound, "session_lookup_failed", err)
	}
	exercises, err := e.sessionExercises(ctx, session.TemplateID)
	if err != nil {
		return newSyncError(opInbound, "exercise_lookup_failed", err)
	}
	event, err := NewEvent(EventWorkoutStart, WorkoutStartPayload{
		SessionID:        session.SessionID,
		TemplateID:       session.TemplateID,
		StartedAtSeconds: session.StartedAtSeconds,
		Exercises:        exercises,
	})
	if err != nil {
		return newSyncError(opInbound, "encode_failed", err)
	}
	return e.deliver(ctx, event)
}

func (e *Engine) rebroadcastCatalog(ctx context.Context) error {
	event, err := e.catalogEvent(ctx)
	if err != nil {
		return err
	}
	// Whole-catalog rebroadcast rides the store-and-forward channel: merge
	// is idempotent, so latency and ordering do not matter here.
	return e.transport.SendDeferred(event)
}

func (e *Engine) catalogEvent(ctx context.Context) (Event, error) {
	templates, err := e.store.Templates(ctx)
	if err != nil {
		return Event{}, newSyncError(opInbound, "catalog_lookup_failed", err)
	}
	payload := ProgramSyncPayload{Templates: make([]TemplatePayload, 0, len(templates))}
	for _, template := range templates {
		exercises, err := e.sessionExercises(ctx, template.TemplateID)
		if err != nil {
			return Event{}, newSyncError(opInbound, "exercise_lookup_failed", err)
		}
		payload.Templates = append(payload.Templates, TemplatePayload{
			TemplateID: template.TemplateID,
			OwnerID:    template.OwnerID,
			Name:       template.Name,
			DayOfWeek:  template.DayOfWeek,
			Exercises:  exercises,
		})
	}
	event, err := NewEvent(EventProgramSync, payload)
	if err != nil {
		return Event{}, newSyncError(opInbound, "encode_failed", err)
	}
	return event, nil
}

func (e *Engine) sessionExercises(ctx context.Context, templateID string) ([]ExercisePayload, error) {
	if templateID == "" {
		return nil, nil
	}
	exercises, err := e.store.TemplateExercises(ctx, templateID)
	if err != nil {
		return nil, err
	}
	payloads := make([]ExercisePayload, 0, len(exercises))
	for _, exercise := range exercises {
		payloads = append(payloads, ExercisePayload{
			ExerciseID:     exercise.ExerciseID,
			Name:           exercise.Name,
			OrderIndex:     exercise.OrderIndex,
			TargetSets:     exercise.TargetSets,
			TargetReps:     exercise.TargetReps,
			TargetWeightKg: exercise.TargetWeightKg,
		})
	}
	return payloads, nil
}
