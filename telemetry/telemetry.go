package telemetry

import (
	"errors"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

// Collector captures telemetry events emitted by the context guard.
//
// Implementations may forward metrics to Prometheus, loggers or other
// monitoring systems. They should be inexpensive to call because hooks run
// inline on the event loop.
type Collector interface {
	IncHotReload(file string)
	IncRegistration()
	IncEviction()
	IncContextLost()
	IncContextRestored(admitted bool)
	IncRecoveryTrigger()
	IncRecoveryCallbackFailure()
	IncBoundaryFailure(kind string)
	IncBoundaryRetry(mode string)
	SetActiveContexts(count int)
}

type noopCollector struct{}

// Noop returns a collector that discards all metrics.
func Noop() Collector {
	return noopCollector{}
}

func (noopCollector) IncHotReload(string)         {}
func (noopCollector) IncRegistration()            {}
func (noopCollector) IncEviction()                {}
func (noopCollector) IncContextLost()             {}
func (noopCollector) IncContextRestored(bool)     {}
func (noopCollector) IncRecoveryTrigger()         {}
func (noopCollector) IncRecoveryCallbackFailure() {}
func (noopCollector) IncBoundaryFailure(string)   {}
func (noopCollector) IncBoundaryRetry(string)     {}
func (noopCollector) SetActiveContexts(int)       {}

// PrometheusCollector exposes telemetry counters via Prometheus.
type PrometheusCollector struct {
	hotReloads       *prometheus.CounterVec
	registrations    prometheus.Counter
	evictions        prometheus.Counter
	losses           prometheus.Counter
	restores         *prometheus.CounterVec
	recoveryTriggers prometheus.Counter
	callbackFailures prometheus.Counter
	boundaryFailures *prometheus.CounterVec
	boundaryRetries  *prometheus.CounterVec
	activeContexts   prometheus.Gauge
}

// NewPrometheusCollector registers the required metrics with the provided
// registerer. Metrics that are already registered are reused, so several
// collectors may share one registry.
func NewPrometheusCollector(reg prometheus.Registerer) (*PrometheusCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	var (
		p   PrometheusCollector
		err error
	)
	if p.hotReloads, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ctxguard_config_hot_reload_total",
		Help: "Number of hot reload operations triggered per configuration source file.",
	}, []string{"file"})); err != nil {
		return nil, err
	}
	if p.registrations, err = register(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "ctxguard_context_registrations_total",
		Help: "Number of rendering contexts registered with the pool.",
	})); err != nil {
		return nil, err
	}
	if p.evictions, err = register(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "ctxguard_context_evictions_total",
		Help: "Number of claims evicted to admit a newer registration.",
	})); err != nil {
		return nil, err
	}
	if p.losses, err = register(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "ctxguard_context_lost_total",
		Help: "Number of driver-reported context losses.",
	})); err != nil {
		return nil, err
	}
	if p.restores, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ctxguard_context_restored_total",
		Help: "Number of driver-reported context restores, by whether the pool re-admitted the handle.",
	}, []string{"admitted"})); err != nil {
		return nil, err
	}
	if p.recoveryTriggers, err = register(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "ctxguard_recovery_triggers_total",
		Help: "Number of recovery broadcasts.",
	})); err != nil {
		return nil, err
	}
	if p.callbackFailures, err = register(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "ctxguard_recovery_callback_failures_total",
		Help: "Number of recovery callbacks that returned an error or panicked.",
	})); err != nil {
		return nil, err
	}
	if p.boundaryFailures, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ctxguard_boundary_failures_total",
		Help: "Number of rendering failures contained by a failure boundary, by kind.",
	}, []string{"kind"})); err != nil {
		return nil, err
	}
	if p.boundaryRetries, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ctxguard_boundary_retries_total",
		Help: "Number of failure boundary retries, by mode.",
	}, []string{"mode"})); err != nil {
		return nil, err
	}
	if p.activeContexts, err = register(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "ctxguard_active_contexts",
		Help: "Number of handles currently holding a rendering context claim.",
	})); err != nil {
		return nil, err
	}
	return &p, nil
}

func register[T prometheus.Collector](reg prometheus.Registerer, c T) (T, error) {
	if err := reg.Register(c); err != nil {
		var already prometheus.AlreadyRegisteredError
		if errors.As(err, &already) {
			if existing, ok := already.ExistingCollector.(T); ok {
				return existing, nil
			}
		}
		var zero T
		return zero, err
	}
	return c, nil
}

// IncHotReload increments the counter for the provided file path.
func (p *PrometheusCollector) IncHotReload(file string) {
	if p == nil || p.hotReloads == nil {
		return
	}
	p.hotReloads.WithLabelValues(file).Inc()
}

func (p *PrometheusCollector) IncRegistration() {
	if p == nil {
		return
	}
	p.registrations.Inc()
}

func (p *PrometheusCollector) IncEviction() {
	if p == nil {
		return
	}
	p.evictions.Inc()
}

func (p *PrometheusCollector) IncContextLost() {
	if p == nil {
		return
	}
	p.losses.Inc()
}

// IncContextRestored records a restore signal and whether it re-admitted the handle.
func (p *PrometheusCollector) IncContextRestored(admitted bool) {
	if p == nil {
		return
	}
	p.restores.WithLabelValues(strconv.FormatBool(admitted)).Inc()
}

func (p *PrometheusCollector) IncRecoveryTrigger() {
	if p == nil {
		return
	}
	p.recoveryTriggers.Inc()
}

func (p *PrometheusCollector) IncRecoveryCallbackFailure() {
	if p == nil {
		return
	}
	p.callbackFailures.Inc()
}

// IncBoundaryFailure records a contained failure labelled with its kind.
func (p *PrometheusCollector) IncBoundaryFailure(kind string) {
	if p == nil {
		return
	}
	p.boundaryFailures.WithLabelValues(kind).Inc()
}

// IncBoundaryRetry records a retry labelled auto or manual.
func (p *PrometheusCollector) IncBoundaryRetry(mode string) {
	if p == nil {
		return
	}
	p.boundaryRetries.WithLabelValues(mode).Inc()
}

// SetActiveContexts updates the active context gauge.
func (p *PrometheusCollector) SetActiveContexts(count int) {
	if p == nil {
		return
	}
	p.activeContexts.Set(float64(count))
}
