package sync

import (
	"context"
	stdsync "sync"
	"time"

	"go.uber.org/zap"
)

// ReachabilityMonitor watches the link and fires a single callback on each
// offline-to-online transition. It keeps no state beyond the last known
// online flag and performs no retries itself; the queue owns retry policy.
type ReachabilityMonitor struct {
	probe       func(ctx context.Context) bool
	interval    time.Duration
	onReachable func()
	logger      *zap.Logger

	mu     stdsync.Mutex
	online bool
}

// ReachabilityMonitorConfig configures a ReachabilityMonitor.
type ReachabilityMonitorConfig struct {
	// Probe reports whether the peer currently answers.
	Probe func(ctx context.Context) bool
	// Interval is the probe cadence.
	Interval time.Duration
	// OnReachable runs once per offline-to-online transition.
	OnReachable func()
	Logger      *zap.Logger
}

// NewReachabilityMonitor constructs a monitor. Run starts probing.
func NewReachabilityMonitor(cfg ReachabilityMonitorConfig) *ReachabilityMonitor {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	interval := cfg.Interval
	if interval <= 0 {
		interval = 15 * time.Second
	}
	return &ReachabilityMonitor{
		probe:       cfg.Probe,
		interval:    interval,
		onReachable: cfg.OnReachable,
		logger:      logger,
	}
}

// Run probes on the configured interval until ctx is cancelled.
func (m *ReachabilityMonitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if m.probe == nil {
				continue
			}
			m.Observe(m.probe(ctx))
		}
	}
}

// Observe applies one connectivity observation. Exported so transport
// callbacks can feed transitions directly instead of waiting for the next
// probe tick.
func (m *ReachabilityMonitor) Observe(online bool) {
	m.mu.Lock()
	wasOnline := m.online
	m.online = online
	m.mu.Unlock()

	if online && !wasOnline {
		m.logger.Info("link became reachable")
		if m.onReachable != nil {
			m.onReachable()
		}
	}
}

// Online reports the last known link state.
func (m *ReachabilityMonitor) Online() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}
