package sync

import (
	"errors"
	"fmt"
)

var (
	errMissingStore      = errors.New("store handle is required")
	errMissingTransport  = errors.New("transport is required")
	errMissingIDProvider = errors.New("id provider is required")
	errMissingRole       = errors.New("device role is required")
	errNoActiveSession   = errors.New("no active session")
)

const (
	opQueueNew     = "sync.queue.new"
	opQueueEnqueue = "sync.queue.enqueue"
	opQueueFlush   = "sync.queue.flush"
	opQueueDepth   = "sync.queue.depth"
	opMergeNew     = "sync.merge.new"
	opMergeBatch   = "sync.merge.template_batch"
	opMergeUpdate  = "sync.merge.exercise_update"
	opMergeStart   = "sync.merge.workout_start"
	opMergeSet     = "sync.merge.workout_update"
	opEngineNew    = "sync.engine.new"
	opStartWorkout = "sync.engine.start_workout"
	opLogSet       = "sync.engine.log_set"
	opComplete     = "sync.engine.complete_workout"
	opResume       = "sync.engine.resume"
	opInbound      = "sync.engine.handle_inbound"
	opResync       = "sync.engine.request_resync"
)

// SyncError carries a dotted operation.reason code alongside the cause.
type SyncError struct {
	code string
	err  error
}

func (e *SyncError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *SyncError) Unwrap() error {
	return e.err
}

// Code returns the machine-readable error code.
func (e *SyncError) Code() string {
	return e.code
}

func newSyncError(operation, reason string, cause error) error {
	code := fmt.Sprintf("%s.%s", operation, reason)
	return &SyncError{code: code, err: cause}
}
