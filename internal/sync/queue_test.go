package sync

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/MarcoPoloResearchLab/cadence/internal/store"
)

func newTestQueue(t *testing.T, transport Transport) *Queue {
	t.Helper()
	queue, err := NewQueue(QueueConfig{
		Store:     newTestStore(t),
		Transport: transport,
		IDs:       &sequentialIDs{prefix: "item"},
		Clock:     fixedClock(1_700_000_000),
		Logger:    zap.NewNop(),
	})
	if err != nil {
		t.Fatalf("new queue: %v", err)
	}
	return queue
}

func TestFlushDeliversInEnqueueOrder(t *testing.T) {
	transport := newFakeTransport(true)
	queue := newTestQueue(t, transport)
	ctx := context.Background()

	for _, sessionID := range []string{"s-1", "s-2", "s-3"} {
		event := mustEvent(t, EventWorkoutStart, WorkoutStartPayload{SessionID: sessionID, StartedAtSeconds: 1})
		if err := queue.Enqueue(ctx, event); err != nil {
			t.Fatalf("enqueue: %v", err)
		}
	}

	result, err := queue.Flush(ctx)
	if err != nil {
		t.Fatalf("flush: %v", err)
	}
	if result.Delivered != 3 || result.Remaining != 0 {
		t.Fatalf("unexpected flush result: %+v", result)
	}

	sent := transport.immediateEvents()
	if len(sent) != 3 {
		t.Fatalf("expected 3 sends, have %d", len(sent))
	}
	for index, wantSession := range []string{"s-1", "s-2", "s-3"} {
		payload, err := sent[index].WorkoutStart()
		if err != nil {
			t.Fatalf("decode sent event %d: %v", index, err)
		}
		if payload.SessionID != wantSession {
			t.Fatalf("send %d: expected session %s, have %s", index, wantSession, payload.SessionID)
		}
	}
}

func TestFlushKeepsFailedItemAndContinues(t *testing.T) {
	transport := newFakeTransport(true)
	queue := newTestQueue(t, transport)
	ctx := context.Background()

	for _, sessionID := range []string{"s-1", "s-2", "s-3"} {
		event := mustEvent(t, EventWorkoutStart, WorkoutStartPayload{SessionID: sessionID, StartedAtSeconds: 1})
		if err := queue.Enqueue(ctx, event); err != nil {
			t.Fatalf("enqueue: %v", err)
		}
	}

	transport.sendHook = func(event Event) error {
		payload, err := event.WorkoutStart()
		if err != nil {
			return err
		}
		if payload.SessionID == "s-2" {
			return errors.New("link dropped mid send")
		}
		return nil
	}

	result, err := queue.Flush(ctx)
	if err != nil {
		t.Fatalf("flush: %v", err)
	}
	if result.Delivered != 2 || result.Remaining != 1 {
		t.Fatalf("unexpected flush result: %+v", result)
	}

	transport.sendHook = nil
	result, err = queue.Flush(ctx)
	if err != nil {
		t.Fatalf("second flush: %v", err)
	}
	if result.Delivered != 1 || result.Remaining != 0 {
		t.Fatalf("unexpected second flush result: %+v", result)
	}

	depth, err := queue.Depth(ctx)
	if err != nil {
		t.Fatalf("depth: %v", err)
	}
	if depth != 0 {
		t.Fatalf("expected empty queue, depth %d", depth)
	}
}

func TestFlushIsNotReentrant(t *testing.T) {
	transport := newFakeTransport(true)
	queue := newTestQueue(t, transport)
	ctx := context.Background()

	event := mustEvent(t, EventWorkoutStart, WorkoutStartPayload{SessionID: "s-1", StartedAtSeconds: 1})
	if err := queue.Enqueue(ctx, event); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	entered := make(chan struct{})
	release := make(chan struct{})
	transport.sendHook = func(Event) error {
		close(entered)
		<-release
		return nil
	}

	firstDone := make(chan FlushResult, 1)
	go func() {
		result, err := queue.Flush(ctx)
		if err != nil {
			t.Errorf("blocked flush: %v", err)
		}
		firstDone <- result
	}()

	<-entered
	overlapping, err := queue.Flush(ctx)
	if err != nil {
		t.Fatalf("overlapping flush: %v", err)
	}
	if !overlapping.Skipped {
		t.Fatal("expected overlapping flush to be skipped")
	}

	close(release)
	select {
	case result := <-firstDone:
		if result.Delivered != 1 {
			t.Fatalf("expected the blocked flush to deliver, result %+v", result)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("blocked flush never finished")
	}
}

func TestEnqueueNeverTouchesTransport(t *testing.T) {
	transport := newFakeTransport(true)
	transport.sendHook = func(Event) error {
		t.Fatal("enqueue must not send")
		return nil
	}
	queue := newTestQueue(t, transport)

	event := mustEvent(t, EventWorkoutUpdate, WorkoutUpdatePayload{
		EntryID:   "e-1",
		SessionID: "s-1",
		SetNumber: 1,
		Reps:      5,
	})
	if err := queue.Enqueue(context.Background(), event); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	depth, err := queue.Depth(context.Background())
	if err != nil {
		t.Fatalf("depth: %v", err)
	}
	if depth != 1 {
		t.Fatalf("expected depth 1, have %d", depth)
	}
}

func TestFlushDropsUndecodableItems(t *testing.T) {
	transport := newFakeTransport(true)
	recordStore := newTestStore(t)
	queue, err := NewQueue(QueueConfig{
		Store:     recordStore,
		Transport: transport,
		IDs:       &sequentialIDs{prefix: "item"},
		Logger:    zap.NewNop(),
	})
	if err != nil {
		t.Fatalf("new queue: %v", err)
	}
	ctx := context.Background()

	corrupt := &store.OutboundItem{
		ItemID:      "corrupt-1",
		EventType:   "workout_update",
		PayloadJSON: "{not json",
	}
	if err := recordStore.EnqueueOutbound(ctx, corrupt); err != nil {
		t.Fatalf("seed corrupt item: %v", err)
	}
	event := mustEvent(t, EventWorkoutStart, WorkoutStartPayload{SessionID: "s-1", StartedAtSeconds: 1})
	if err := queue.Enqueue(ctx, event); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	result, err := queue.Flush(ctx)
	if err != nil {
		t.Fatalf("flush: %v", err)
	}
	if result.Delivered != 1 || result.Remaining != 0 {
		t.Fatalf("unexpected flush result: %+v", result)
	}
}
