// Package monitor polls the gateway status on a schedule and, optionally,
// whenever the PID file changes. Polling is read-only.
package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-co-op/gocron/v2"

	"github.com/luxiaoyu/claw-app/internal/gateway"
	"github.com/luxiaoyu/claw-app/internal/logfields"
)

const (
	DefaultInterval = 5 * time.Second
	DefaultDebounce = 250 * time.Millisecond
)

// Source is what the monitor polls. *gateway.Supervisor implements it.
type Source interface {
	Refresh(ctx context.Context) (gateway.Status, error)
	Uptime(ctx context.Context) string
	State() gateway.State
}

// Snapshot is the outcome of one check.
type Snapshot struct {
	Running   bool
	PID       int
	Uptime    string
	State     gateway.State
	CheckedAt time.Time
	Err       error
}

// changed ignores Uptime and CheckedAt, which move on every check.
func (s Snapshot) changed(prev Snapshot) bool {
	return s.Running != prev.Running || s.PID != prev.PID || s.State != prev.State || (s.Err == nil) != (prev.Err == nil)
}

// Config controls the monitor.
type Config struct {
	Interval time.Duration
	// PIDFile, when set, is watched; changes trigger a debounced check.
	PIDFile  string
	Debounce time.Duration
}

// Monitor runs periodic status checks.
type Monitor struct {
	source Source
	cfg    Config
	logger *slog.Logger

	scheduler gocron.Scheduler
	watcher   *pidFileWatcher

	checkMu sync.Mutex

	mu     sync.RWMutex
	last   Snapshot
	have   bool
	subs   map[int]func(Snapshot)
	nextID int

	stopOnce sync.Once
}

// Option configures a Monitor.
type Option func(*Monitor)

func WithLogger(l *slog.Logger) Option {
	return func(m *Monitor) {
		if l != nil {
			m.logger = l
		}
	}
}

// New creates a stopped monitor.
func New(source Source, cfg Config, opts ...Option) (*Monitor, error) {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.Debounce <= 0 {
		cfg.Debounce = DefaultDebounce
	}
	s, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("failed to create gocron scheduler: %w", err)
	}
	m := &Monitor{
		source:    source,
		cfg:       cfg,
		logger:    slog.Default(),
		scheduler: s,
		subs:      map[int]func(Snapshot){},
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// Start schedules the periodic check (the first runs immediately) and starts
// the PID file watcher. A watcher that cannot be set up is logged and skipped.
func (m *Monitor) Start(ctx context.Context) error {
	_, err := m.scheduler.NewJob(
		gocron.DurationJob(m.cfg.Interval),
		gocron.NewTask(func() { m.Check(ctx) }),
		gocron.WithName("gateway-status"),
		gocron.WithStartAt(gocron.WithStartImmediately()),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		return fmt.Errorf("failed to create status job: %w", err)
	}

	if m.cfg.PIDFile != "" {
		w, err := newPIDFileWatcher(m.cfg.PIDFile, m.cfg.Debounce, func() { m.Check(ctx) }, m.logger)
		if err != nil {
			m.logger.Warn("PID file watcher disabled", logfields.Path(m.cfg.PIDFile), logfields.Error(err))
		} else {
			m.watcher = w
			w.start(ctx)
		}
	}

	m.logger.Info("Starting gateway monitor", slog.Duration("interval", m.cfg.Interval))
	m.scheduler.Start()
	return nil
}

// Stop shuts the scheduler and watcher down. It is safe to call twice.
func (m *Monitor) Stop() error {
	var err error
	m.stopOnce.Do(func() {
		m.logger.Info("Stopping gateway monitor")
		if m.watcher != nil {
			m.watcher.stop()
		}
		err = m.scheduler.Shutdown()
	})
	return err
}

// Check runs one status check now, records it and notifies subscribers if
// the outcome changed. Concurrent calls are serialized.
func (m *Monitor) Check(ctx context.Context) Snapshot {
	m.checkMu.Lock()
	defer m.checkMu.Unlock()

	snap := Snapshot{CheckedAt: time.Now(), Uptime: gateway.UnknownUptime}
	st, err := m.source.Refresh(ctx)
	snap.Err = err
	snap.Running = st.Running
	snap.PID = st.PID
	if err == nil && st.Running {
		snap.Uptime = m.source.Uptime(ctx)
	}
	snap.State = m.source.State()
	if err != nil {
		m.logger.Warn("Gateway status check failed", logfields.Error(err))
	}

	m.mu.Lock()
	prev, had := m.last, m.have
	m.last, m.have = snap, true
	var notify []func(Snapshot)
	if !had || snap.changed(prev) {
		for _, fn := range m.subs {
			notify = append(notify, fn)
		}
	}
	m.mu.Unlock()

	if had && snap.changed(prev) {
		m.logger.Info("Gateway status changed",
			slog.Bool("running", snap.Running), logfields.PID(snap.PID), logfields.State(string(snap.State)))
	}
	for _, fn := range notify {
		fn(snap)
	}
	return snap
}

// Snapshot returns the most recent check, if any.
func (m *Monitor) Snapshot() (Snapshot, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.last, m.have
}

// Subscribe registers fn for the first snapshot and every change after it.
// The returned function unregisters it.
func (m *Monitor) Subscribe(fn func(Snapshot)) func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.nextID
	m.nextID++
	m.subs[id] = fn
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.subs, id)
	}
}
