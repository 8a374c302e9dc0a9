// Package netmon tracks client connectivity by probing a lightweight HTTP
// endpoint and exposes a debounced online/offline status.
//
// # Debouncing
//
// The monitor keeps a sliding window of the last N probe outcomes, where N is
// the number of good pings required to consider the client online. The
// status is online only while every slot holds a good result. A probe result
// only enters the window when it disagrees with the current status, so:
//
//   - one bad probe while online flips the status to offline;
//   - N consecutive good probes while offline flip it back online.
//
// Subscribers are told about transitions only, never about individual probes.
package netmon

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/courtvideo/media/observe"
)

// Defaults used when the corresponding Config field is zero.
const (
	DefaultInterval          = 5 * time.Second
	DefaultProbeTimeout      = 3 * time.Second
	DefaultGoodPingsRequired = 2
)

// Config configures a Monitor.
type Config struct {
	// Interval between periodic probes.
	Interval time.Duration

	// ProbeTimeout bounds a single probe.
	ProbeTimeout time.Duration

	// GoodPingsRequired is the window size (and the number of consecutive
	// good probes needed to come back online).
	GoodPingsRequired int
}

// Prober performs a single connectivity check.
type Prober interface {
	// Probe reports whether the network looked reachable. It must not panic
	// and should honour ctx.
	Probe(ctx context.Context) bool
}

// ProberFunc adapts a function to the Prober interface.
type ProberFunc func(ctx context.Context) bool

// Probe implements Prober.
func (f ProberFunc) Probe(ctx context.Context) bool { return f(ctx) }

// Monitor periodically probes connectivity.
type Monitor struct {
	cfg    Config
	prober Prober
	logger *slog.Logger

	mu     sync.Mutex
	window []bool
	cancel context.CancelFunc
	done   chan struct{}

	// probeMu serializes window updates across the ticker and CheckNow.
	probeMu sync.Mutex

	status        *observe.Value[bool]
	userReconnect observe.Feed[struct{}]
}

// Option configures a Monitor.
type Option func(*Monitor)

// WithLogger sets the logger used by the monitor.
func WithLogger(l *slog.Logger) Option {
	return func(m *Monitor) {
		if l != nil {
			m.logger = l
		}
	}
}

// New creates a Monitor that uses prober for checks. The monitor starts in
// the online state.
func New(prober Prober, cfg Config, opts ...Option) *Monitor {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = DefaultProbeTimeout
	}
	if cfg.GoodPingsRequired <= 0 {
		cfg.GoodPingsRequired = DefaultGoodPingsRequired
	}

	window := make([]bool, cfg.GoodPingsRequired)
	for i := range window {
		window[i] = true
	}

	m := &Monitor{
		cfg:    cfg,
		prober: prober,
		logger: slog.Default(),
		window: window,
		status: observe.NewValue(true),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Start begins periodic probing. Calling Start while already running is a
// no-op. Probing stops when ctx is cancelled or StopTimer is called.
func (m *Monitor) Start(ctx context.Context) {
	m.mu.Lock()
	if m.cancel != nil {
		m.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	m.cancel = cancel
	m.done = done
	m.mu.Unlock()

	go m.probeLoop(ctx, done)
}

// StopTimer halts periodic probing and waits for the probe goroutine to
// exit. It is a no-op when probing is not running.
func (m *Monitor) StopTimer() {
	m.mu.Lock()
	cancel, done := m.cancel, m.done
	m.cancel, m.done = nil, nil
	m.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Running reports whether periodic probing is active.
func (m *Monitor) Running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cancel != nil
}

// CheckNow probes immediately and returns the resulting status.
func (m *Monitor) CheckNow(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, m.cfg.ProbeTimeout)
	defer cancel()

	good := m.prober.Probe(ctx)
	return m.record(good)
}

// Status returns the current debounced status.
func (m *Monitor) Status() bool {
	return m.status.Get()
}

// OnStatusChange subscribes fn to status transitions. The current status is
// not replayed. Each call creates an independent subscription.
func (m *Monitor) OnStatusChange(fn func(online bool)) (unsubscribe func()) {
	return m.status.OnChange(fn)
}

// RequestReconnect fires the user-triggered reconnect signal.
func (m *Monitor) RequestReconnect() {
	m.logger.Info("user requested reconnect")
	m.userReconnect.Publish(struct{}{})
}

// OnUserReconnect subscribes fn to the user-triggered reconnect signal.
func (m *Monitor) OnUserReconnect(fn func()) (unsubscribe func()) {
	return m.userReconnect.Subscribe(func(struct{}) { fn() })
}

// record folds one probe outcome into the window and returns the new status.
func (m *Monitor) record(good bool) bool {
	m.probeMu.Lock()
	defer m.probeMu.Unlock()

	current := m.status.Get()
	if good == current {
		return current
	}

	m.mu.Lock()
	copy(m.window, m.window[1:])
	m.window[len(m.window)-1] = good
	next := allTrue(m.window)
	m.mu.Unlock()

	if next != current {
		m.logger.Info("network status changed", slog.Bool("online", next))
		m.status.Set(next)
	}
	return next
}

func (m *Monitor) probeLoop(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.CheckNow(ctx)
		}
	}
}

func allTrue(window []bool) bool {
	for _, ok := range window {
		if !ok {
			return false
		}
	}
	return true
}
