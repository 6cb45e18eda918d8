// Package instrument provides the router's optional Prometheus metrics and
// OpenTelemetry tracing, following the same functional-options shape and
// promauto/otel.Tracer wiring as this codebase's other instrumentation
// surfaces. A Router built without an explicit Instrumentation records
// nothing: every method on a nil *Instrumentation is a no-op.
package instrument

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const defaultTracerName = "router"

// Config configures New.
type Config struct {
	// Namespace is the metrics namespace (default: "router").
	Namespace string

	// Subsystem is the metrics subsystem (default: "").
	Subsystem string

	// ConstLabels are constant labels added to every metric.
	ConstLabels prometheus.Labels

	// Buckets are the histogram buckets for navigation/loader/action
	// duration. Default: prometheus.DefBuckets.
	Buckets []float64

	// Registry is the Prometheus registry metrics register into.
	// Default: prometheus.DefaultRegisterer.
	Registry prometheus.Registerer

	// TracerName names the OpenTelemetry tracer (default: "router").
	TracerName string
}

// Option configures a single New call.
type Option func(*Config)

// WithNamespace sets the metrics namespace.
func WithNamespace(namespace string) Option {
	return func(c *Config) { c.Namespace = namespace }
}

// WithSubsystem sets the metrics subsystem.
func WithSubsystem(subsystem string) Option {
	return func(c *Config) { c.Subsystem = subsystem }
}

// WithConstLabels sets constant labels applied to every metric.
func WithConstLabels(labels prometheus.Labels) Option {
	return func(c *Config) { c.ConstLabels = labels }
}

// WithBuckets overrides the default duration histogram buckets.
func WithBuckets(buckets []float64) Option {
	return func(c *Config) { c.Buckets = buckets }
}

// WithRegistry sets the Prometheus registry metrics register into.
func WithRegistry(registry prometheus.Registerer) Option {
	return func(c *Config) { c.Registry = registry }
}

// WithTracerName sets the OpenTelemetry tracer name.
func WithTracerName(name string) Option {
	return func(c *Config) { c.TracerName = name }
}

func defaultConfig() Config {
	return Config{
		Namespace:  "router",
		Buckets:    prometheus.DefBuckets,
		Registry:   prometheus.DefaultRegisterer,
		TracerName: defaultTracerName,
	}
}

// metrics holds every Prometheus collector the router reports.
type metrics struct {
	navigationsTotal   *prometheus.CounterVec
	navigationDuration *prometheus.HistogramVec
	fetchesTotal       *prometheus.CounterVec
	loaderCallsTotal   *prometheus.CounterVec
	loaderDuration     *prometheus.HistogramVec
	actionCallsTotal   *prometheus.CounterVec
	redirectsTotal     prometheus.Counter
	exceptionsTotal    *prometheus.CounterVec
	activeFetchers     prometheus.Gauge
}

func newMetrics(cfg Config) *metrics {
	factory := promauto.With(cfg.Registry)

	return &metrics{
		navigationsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   cfg.Namespace,
			Subsystem:   cfg.Subsystem,
			Name:        "navigations_total",
			Help:        "Total number of navigation cycles, by type and outcome.",
			ConstLabels: cfg.ConstLabels,
		}, []string{"type", "outcome"}),

		navigationDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:   cfg.Namespace,
			Subsystem:   cfg.Subsystem,
			Name:        "navigation_duration_seconds",
			Help:        "Navigation cycle duration in seconds, by type.",
			ConstLabels: cfg.ConstLabels,
			Buckets:     cfg.Buckets,
		}, []string{"type"}),

		fetchesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   cfg.Namespace,
			Subsystem:   cfg.Subsystem,
			Name:        "fetches_total",
			Help:        "Total number of fetcher calls, by type and outcome.",
			ConstLabels: cfg.ConstLabels,
		}, []string{"type", "outcome"}),

		loaderCallsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   cfg.Namespace,
			Subsystem:   cfg.Subsystem,
			Name:        "loader_calls_total",
			Help:        "Total number of loader invocations, by route id and outcome.",
			ConstLabels: cfg.ConstLabels,
		}, []string{"route_id", "outcome"}),

		loaderDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:   cfg.Namespace,
			Subsystem:   cfg.Subsystem,
			Name:        "loader_duration_seconds",
			Help:        "Loader invocation duration in seconds, by route id.",
			ConstLabels: cfg.ConstLabels,
			Buckets:     cfg.Buckets,
		}, []string{"route_id"}),

		actionCallsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   cfg.Namespace,
			Subsystem:   cfg.Subsystem,
			Name:        "action_calls_total",
			Help:        "Total number of action invocations, by route id and outcome.",
			ConstLabels: cfg.ConstLabels,
		}, []string{"route_id", "outcome"}),

		redirectsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   cfg.Namespace,
			Subsystem:   cfg.Subsystem,
			Name:        "redirects_total",
			Help:        "Total number of redirects followed.",
			ConstLabels: cfg.ConstLabels,
		}),

		exceptionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   cfg.Namespace,
			Subsystem:   cfg.Subsystem,
			Name:        "exceptions_total",
			Help:        "Total number of exceptions caught, by boundary route id.",
			ConstLabels: cfg.ConstLabels,
		}, []string{"route_id"}),

		activeFetchers: factory.NewGauge(prometheus.GaugeOpts{
			Namespace:   cfg.Namespace,
			Subsystem:   cfg.Subsystem,
			Name:        "active_fetchers",
			Help:        "Number of fetchers with an in-flight controller.",
			ConstLabels: cfg.ConstLabels,
		}),
	}
}

// Instrumentation is the router's handle on its metrics and tracer. A nil
// *Instrumentation is valid and records nothing; every method checks for it.
type Instrumentation struct {
	m      *metrics
	tracer trace.Tracer
}

// New builds an Instrumentation, registering its metrics with the configured
// Prometheus registry and resolving its tracer from the global
// OpenTelemetry provider (configure that provider in main before the router
// starts, exactly as this codebase's other OTel middleware expects).
func New(opts ...Option) *Instrumentation {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Instrumentation{
		m:      newMetrics(cfg),
		tracer: otel.Tracer(cfg.TracerName),
	}
}

// Nop returns an Instrumentation that records nothing, the implicit default
// for a Router built without instrument.New.
func Nop() *Instrumentation { return nil }

// NavigationStarted opens a span for one navigation cycle and starts its
// duration timer. The returned context carries the span; call the returned
// finish func exactly once with the cycle's terminal outcome
// ("committed", "redirected", "cancelled", or "error").
func (in *Instrumentation) NavigationStarted(ctx context.Context, navType string) (context.Context, func(outcome string)) {
	if in == nil {
		return ctx, func(string) {}
	}
	start := time.Now()
	spanCtx, span := in.tracer.Start(ctx, "router.navigate",
		trace.WithAttributes(attribute.String("router.navigation_type", navType)))
	return spanCtx, func(outcome string) {
		in.m.navigationsTotal.WithLabelValues(navType, outcome).Inc()
		in.m.navigationDuration.WithLabelValues(navType).Observe(time.Since(start).Seconds())
		if outcome == "error" {
			span.SetStatus(codes.Error, outcome)
		} else {
			span.SetStatus(codes.Ok, "")
		}
		span.SetAttributes(attribute.String("router.outcome", outcome))
		span.End()
	}
}

// FetchStarted is NavigationStarted's analogue for one Fetch call, keyed by
// fetcher type rather than navigation type.
func (in *Instrumentation) FetchStarted(ctx context.Context, fetchType string) (context.Context, func(outcome string)) {
	if in == nil {
		return ctx, func(string) {}
	}
	spanCtx, span := in.tracer.Start(ctx, "router.fetch",
		trace.WithAttributes(attribute.String("router.fetch_type", fetchType)))
	return spanCtx, func(outcome string) {
		in.m.fetchesTotal.WithLabelValues(fetchType, outcome).Inc()
		if outcome == "error" {
			span.SetStatus(codes.Error, outcome)
		} else {
			span.SetStatus(codes.Ok, "")
		}
		span.End()
	}
}

// LoaderCall opens a child span around a single route's loader invocation
// and starts its duration timer. The returned finish func records the
// outcome ("data", "redirect", "exception") against routeID.
func (in *Instrumentation) LoaderCall(ctx context.Context, routeID string) (context.Context, func(outcome string)) {
	if in == nil {
		return ctx, func(string) {}
	}
	start := time.Now()
	spanCtx, span := in.tracer.Start(ctx, "router.loader",
		trace.WithAttributes(attribute.String("router.route_id", routeID)))
	return spanCtx, func(outcome string) {
		in.m.loaderCallsTotal.WithLabelValues(routeID, outcome).Inc()
		in.m.loaderDuration.WithLabelValues(routeID).Observe(time.Since(start).Seconds())
		span.SetAttributes(attribute.String("router.outcome", outcome))
		span.End()
	}
}

// ActionCall is LoaderCall's analogue for a route's action invocation.
func (in *Instrumentation) ActionCall(ctx context.Context, routeID string) (context.Context, func(outcome string)) {
	if in == nil {
		return ctx, func(string) {}
	}
	spanCtx, span := in.tracer.Start(ctx, "router.action",
		trace.WithAttributes(attribute.String("router.route_id", routeID)))
	return spanCtx, func(outcome string) {
		in.m.actionCallsTotal.WithLabelValues(routeID, outcome).Inc()
		span.SetAttributes(attribute.String("router.outcome", outcome))
		span.End()
	}
}

// RedirectFollowed records that a loader or action outcome sent the router
// down a redirect chain.
func (in *Instrumentation) RedirectFollowed() {
	if in == nil {
		return
	}
	in.m.redirectsTotal.Inc()
}

// ExceptionCaught records that boundaryID caught an exception this cycle.
func (in *Instrumentation) ExceptionCaught(boundaryID string) {
	if in == nil {
		return
	}
	in.m.exceptionsTotal.WithLabelValues(boundaryID).Inc()
}

// SetActiveFetchers reports the current count of fetchers holding an active
// controller, sampled on every published Snapshot.
func (in *Instrumentation) SetActiveFetchers(n int) {
	if in == nil {
		return
	}
	in.m.activeFetchers.Set(float64(n))
}
