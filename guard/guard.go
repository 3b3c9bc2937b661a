// Package guard wires the context pool together.
//
// A Manager is built once at process start. It owns the registry, the handle
// sequence, the live surface set, the recovery broadcaster and the scheduler
// they all run on, and hands narrow views of them to every lifecycle adapter
// and failure boundary it creates. Nothing in the pool is reachable through a
// package-level variable, so tests can build isolated managers.
package guard

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/timzifer/ctxguard/boundary"
	"github.com/timzifer/ctxguard/config"
	"github.com/timzifer/ctxguard/lifecycle"
	"github.com/timzifer/ctxguard/recovery"
	"github.com/timzifer/ctxguard/registry"
	"github.com/timzifer/ctxguard/runtime/eventloop"
	"github.com/timzifer/ctxguard/surface"
	"github.com/timzifer/ctxguard/telemetry"
)

// Snapshot is a read-only view of the pool for diagnostics.
type Snapshot struct {
	Instance    string            `json:"instance"`
	Capacity    int               `json:"capacity"`
	Active      int               `json:"active"`
	Handles     []string          `json:"handles"`
	Surfaces    int               `json:"surfaces"`
	Subscribers int               `json:"subscribers"`
	Boundaries  []boundary.Status `json:"boundaries"`
	TakenAt     time.Time         `json:"taken_at"`
}

type settings struct {
	scheduler eventloop.Scheduler
	telemetry telemetry.Collector
	gatherer  prometheus.Gatherer
	registry  prometheus.Registerer
}

// Option configures the manager during construction.
type Option func(*settings) error

// WithScheduler replaces the default event loop, e.g. with eventloop.Manual.
func WithScheduler(s eventloop.Scheduler) Option {
	return func(cfg *settings) error {
		if s == nil {
			return errors.New("scheduler must not be nil")
		}
		cfg.scheduler = s
		return nil
	}
}

// WithTelemetry injects a collector instance overriding the configuration-based behaviour.
func WithTelemetry(collector telemetry.Collector) Option {
	return func(cfg *settings) error {
		if collector == nil {
			collector = telemetry.Noop()
		}
		cfg.telemetry = collector
		return nil
	}
}

// WithPrometheusRegistry registers metrics with reg instead of the default registry.
func WithPrometheusRegistry(reg *prometheus.Registry) Option {
	return func(cfg *settings) error {
		if reg == nil {
			return errors.New("prometheus registry must not be nil")
		}
		cfg.registry = reg
		cfg.gatherer = reg
		return nil
	}
}

// Manager owns the process-wide context pool.
type Manager struct {
	cfg       *config.Config
	logger    zerolog.Logger
	instance  string
	collector telemetry.Collector
	gatherer  prometheus.Gatherer

	sched       eventloop.Scheduler
	loop        *eventloop.Loop
	registry    *registry.Registry
	sequence    *registry.Sequence
	surfaces    *surface.Set
	broadcaster *recovery.Broadcaster

	boundaries map[*boundary.Boundary]struct{}
	closed     bool
}

// New builds a manager from cfg.
func New(cfg *config.Config, logger zerolog.Logger, opts ...Option) (*Manager, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if err := config.Validate(cfg); err != nil {
		return nil, err
	}
	s := settings{
		registry: prometheus.DefaultRegisterer,
		gatherer: prometheus.DefaultGatherer,
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(&s); err != nil {
			return nil, err
		}
	}
	if s.telemetry == nil {
		collector, err := newTelemetryCollector(cfg.Telemetry, s.registry)
		if err != nil {
			logger.Warn().Err(err).Msg("telemetry disabled")
			collector = telemetry.Noop()
		}
		s.telemetry = collector
	}

	instance := uuid.NewString()
	logger = logger.With().Str("instance", instance).Logger()

	m := &Manager{
		cfg:        cfg,
		logger:     logger,
		instance:   instance,
		collector:  s.telemetry,
		gatherer:   s.gatherer,
		sequence:   &registry.Sequence{},
		surfaces:   &surface.Set{},
		boundaries: make(map[*boundary.Boundary]struct{}),
	}
	if s.scheduler != nil {
		m.sched = s.scheduler
	} else {
		m.loop = eventloop.New(logger)
		m.sched = m.loop
	}
	m.registry = registry.New(cfg.ContextCapacity(), poolObserver{
		logger:    logger.With().Str("component", "registry").Logger(),
		collector: m.collector,
	})
	m.broadcaster = recovery.New(m.registry, m.surfaces, m.sched, logger,
		recovery.WithSettleDelay(cfg.SettleDelay()),
		recovery.WithTelemetry(m.collector),
	)
	logger.Info().Int("capacity", m.registry.Capacity()).Msg("context pool ready")
	return m, nil
}

// Instance identifies this manager in logs and diagnostics.
func (m *Manager) Instance() string {
	return m.instance
}

// Scheduler returns the scheduler every pool mutation must run on.
func (m *Manager) Scheduler() eventloop.Scheduler {
	return m.sched
}

// Gatherer exposes the metrics registry for the diagnostics endpoint.
func (m *Manager) Gatherer() prometheus.Gatherer {
	return m.gatherer
}

// Telemetry returns the collector shared by the pool.
func (m *Manager) Telemetry() telemetry.Collector {
	return m.collector
}

// Registry returns the shared registry. Scheduler thread only.
func (m *Manager) Registry() *registry.Registry {
	return m.registry
}

// Broadcaster returns the recovery broadcaster. Scheduler thread only.
func (m *Manager) Broadcaster() *recovery.Broadcaster {
	return m.broadcaster
}

// Surfaces returns the set of surfaces holding a live context.
func (m *Manager) Surfaces() *surface.Set {
	return m.surfaces
}

// NewAdapter creates the lifecycle adapter for one widget.
func (m *Manager) NewAdapter(name string, opts ...lifecycle.Option) *lifecycle.Adapter {
	base := []lifecycle.Option{lifecycle.WithReconcileDelay(m.cfg.ReconcileDelay())}
	return lifecycle.New(name, lifecycle.Dependencies{
		Registry:  m.registry,
		Sequence:  m.sequence,
		Surfaces:  m.surfaces,
		Scheduler: m.sched,
		Telemetry: m.collector,
		Logger:    m.logger,
	}, append(base, opts...)...)
}

// NewBoundary creates a failure boundary wired to the global cleanup entry point.
func (m *Manager) NewBoundary(name string, factory boundary.Factory, opts ...boundary.Option) *boundary.Boundary {
	base := []boundary.Option{boundary.WithRetryDelay(m.cfg.AutoRetryDelay())}
	b := boundary.New(name, factory, boundary.Dependencies{
		Cleaner:   m.broadcaster,
		Scheduler: m.sched,
		Telemetry: m.collector,
		Logger:    m.logger,
	}, append(base, opts...)...)
	m.boundaries[b] = struct{}{}
	return b
}

// ReleaseBoundary closes b and stops reporting it.
func (m *Manager) ReleaseBoundary(b *boundary.Boundary) {
	if b == nil {
		return
	}
	b.Close()
	delete(m.boundaries, b)
}

// SubscribeRecovery adds a process-wide recovery callback.
func (m *Manager) SubscribeRecovery(cb recovery.Callback) (unsubscribe func()) {
	return m.broadcaster.Subscribe(cb)
}

// TriggerRecovery runs every recovery callback now.
func (m *Manager) TriggerRecovery() {
	m.broadcaster.Trigger()
}

// ForceGlobalCleanup resets the pool and schedules a recovery broadcast.
func (m *Manager) ForceGlobalCleanup() {
	m.broadcaster.ForceGlobalCleanup()
}

// SetCapacity changes the pool capacity, evicting the oldest claims when
// shrinking. Scheduler thread only.
func (m *Manager) SetCapacity(capacity int) error {
	evicted, err := m.registry.SetCapacity(capacity)
	if err != nil {
		return fmt.Errorf("set capacity: %w", err)
	}
	m.logger.Info().Int("capacity", capacity).Int("evicted", len(evicted)).Msg("context capacity changed")
	return nil
}

// Reload applies a new configuration. A capacity change takes effect at once;
// new delays apply to adapters and boundaries created afterwards. Scheduler
// thread only.
func (m *Manager) Reload(cfg *config.Config) error {
	if cfg == nil {
		return errors.New("configuration must not be nil")
	}
	if err := config.Validate(cfg); err != nil {
		return err
	}
	if capacity := cfg.ContextCapacity(); capacity != m.registry.Capacity() {
		if err := m.SetCapacity(capacity); err != nil {
			return err
		}
	}
	m.cfg = cfg
	return nil
}

// Snapshot reports the pool state. Scheduler thread only; use Do from other
// goroutines.
func (m *Manager) Snapshot() Snapshot {
	handles := m.registry.Handles()
	ids := make([]string, len(handles))
	for i, h := range handles {
		ids[i] = h.String()
	}
	statuses := make([]boundary.Status, 0, len(m.boundaries))
	for b := range m.boundaries {
		statuses = append(statuses, b.Status())
	}
	sort.Slice(statuses, func(i, j int) bool { return statuses[i].Name < statuses[j].Name })
	return Snapshot{
		Instance:    m.instance,
		Capacity:    m.registry.Capacity(),
		Active:      m.registry.Len(),
		Handles:     ids,
		Surfaces:    m.surfaces.Len(),
		Subscribers: m.broadcaster.Subscribers(),
		Boundaries:  statuses,
		TakenAt:     time.Now(),
	}
}

// Do runs fn on the scheduler thread and waits for it. With a caller-driven
// scheduler such as eventloop.Manual fn runs inline.
func (m *Manager) Do(ctx context.Context, fn func()) error {
	if m.loop != nil {
		return m.loop.Do(ctx, fn)
	}
	fn()
	return nil
}

// Run drives the event loop until ctx is cancelled.
func (m *Manager) Run(ctx context.Context) error {
	if m.loop != nil {
		return m.loop.Run(ctx)
	}
	<-ctx.Done()
	return ctx.Err()
}

// Close cancels pending recovery work and unmounts every boundary. Call it on
// the scheduler thread or after Run returned.
func (m *Manager) Close() {
	if m.closed {
		return
	}
	m.closed = true
	m.broadcaster.Close()
	for b := range m.boundaries {
		b.Close()
	}
	m.boundaries = make(map[*boundary.Boundary]struct{})
	m.logger.Info().Int("active", m.registry.Len()).Msg("context pool closed")
}
