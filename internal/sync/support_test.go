package sync

import (
	"context"
	"fmt"
	stdsync "sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/MarcoPoloResearchLab/cadence/internal/store"
)

var testStoreCounter atomic.Int64

func newTestStore(t *testing.T) store.Store {
	t.Helper()
	dsn := fmt.Sprintf("file:cadence_sync_test_%d?mode=memory&cache=shared", testStoreCounter.Add(1))
	recordStore, err := store.OpenSQLite(dsn, zap.NewNop())
	if err != nil {
		t.Fatalf("open sqlite store: %v", err)
	}
	t.Cleanup(func() {
		_ = recordStore.Close()
	})
	return recordStore
}

// fakeTransport records sends in memory. Reachability and per-send failures
// are controlled by the test.
type fakeTransport struct {
	mu        stdsync.Mutex
	reachable bool
	state     ActivationState
	immediate []Event
	deferred  []Event
	sendHook  func(event Event) error
}

func newFakeTransport(reachable bool) *fakeTransport {
	return &fakeTransport{reachable: reachable, state: Activated}
}

func (f *fakeTransport) ActivationState() ActivationState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *fakeTransport) Reachable() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.reachable
}

func (f *fakeTransport) setReachable(online bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reachable = online
}

func (f *fakeTransport) SendImmediate(_ context.Context, event Event) error {
	f.mu.Lock()
	hook := f.sendHook
	f.mu.Unlock()
	if hook != nil {
		if err := hook(event); err != nil {
			return err
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.immediate = append(f.immediate, event)
	return nil
}

func (f *fakeTransport) SendDeferred(event Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deferred = append(f.deferred, event)
	return nil
}

func (f *fakeTransport) immediateEvents() []Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	events := make([]Event, len(f.immediate))
	copy(events, f.immediate)
	return events
}

func (f *fakeTransport) deferredEvents() []Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	events := make([]Event, len(f.deferred))
	copy(events, f.deferred)
	return events
}

// sequentialIDs hands out deterministic identifiers for assertions.
type sequentialIDs struct {
	counter atomic.Int64
	prefix  string
}

func (s *sequentialIDs) NewID() (string, error) {
	return fmt.Sprintf("%s-%03d", s.prefix, s.counter.Add(1)), nil
}

func fixedClock(seconds int64) func() time.Time {
	return func() time.Time {
		return time.Unix(seconds, 0).UTC()
	}
}

func mustEvent(t *testing.T, eventType EventType, payload any) Event {
	t.Helper()
	event, err := NewEvent(eventType, payload)
	if err != nil {
		t.Fatalf("build %s event: %v", eventType, err)
	}
	return event
}
