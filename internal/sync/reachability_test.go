package sync

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"
)

func TestObserveFiresOnlyOnOfflineToOnlineTransition(t *testing.T) {
	var fired atomic.Int64
	monitor := NewReachabilityMonitor(ReachabilityMonitorConfig{
		Probe:       func(context.Context) bool { return true },
		OnReachable: func() { fired.Add(1) },
		Logger:      zap.NewNop(),
	})

	monitor.Observe(true)
	monitor.Observe(true)
	if fired.Load() != 1 {
		t.Fatalf("repeated online observations must fire once, fired %d", fired.Load())
	}

	monitor.Observe(false)
	if fired.Load() != 1 {
		t.Fatalf("going offline must not fire, fired %d", fired.Load())
	}
	if monitor.Online() {
		t.Fatal("monitor should report offline")
	}

	monitor.Observe(true)
	if fired.Load() != 2 {
		t.Fatalf("regaining the link must fire again, fired %d", fired.Load())
	}
	if !monitor.Online() {
		t.Fatal("monitor should report online")
	}
}

func TestRunProbesUntilCancelled(t *testing.T) {
	var probes atomic.Int64
	var fired atomic.Int64
	monitor := NewReachabilityMonitor(ReachabilityMonitorConfig{
		Probe: func(context.Context) bool {
			return probes.Add(1) >= 3
		},
		Interval:    5 * time.Millisecond,
		OnReachable: func() { fired.Add(1) },
		Logger:      zap.NewNop(),
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		monitor.Run(ctx)
		close(done)
	}()

	deadline := time.After(5 * time.Second)
	for fired.Load() == 0 {
		select {
		case <-deadline:
			t.Fatal("monitor never observed the link coming up")
		case <-time.After(5 * time.Millisecond):
		}
	}

	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("monitor did not stop on cancel")
	}
	if fired.Load() != 1 {
		t.Fatalf("one transition must fire once, fired %d", fired.Load())
	}
}
