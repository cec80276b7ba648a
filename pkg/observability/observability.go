// Package observability wires OpenTelemetry tracing and Prometheus
// metrics for the whole process. Setup installs the global tracer
// provider so instrumented packages can use otel.Tracer without a
// handle on the Manager.
package observability

import (
	"context"
	"errors"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/trace"

	"github.com/atriumhq/atrium/pkg/config"
)

// Manager holds the installed telemetry providers.
type Manager struct {
	tracerProvider trace.TracerProvider
	shutdownTracer func(context.Context) error
	shutdownMeter  func(context.Context) error
	metrics        *Metrics
}

// Setup initializes tracing and metrics per config and returns a
// Manager whose Shutdown flushes both. A disabled section yields
// inert no-op components, never nil.
func Setup(ctx context.Context, cfg config.ObservabilityConfig) (*Manager, error) {
	m := &Manager{}

	tp, stopTracer, err := newTracerProvider(ctx, cfg)
	if err != nil {
		return nil, err
	}
	m.tracerProvider = tp
	m.shutdownTracer = stopTracer

	metrics, stopMeter, err := newMetrics(cfg)
	if err != nil {
		if stopTracer != nil {
			_ = stopTracer(ctx)
		}
		return nil, err
	}
	m.metrics = metrics
	m.shutdownMeter = stopMeter

	return m, nil
}

// Tracer returns a named tracer from the installed provider.
func (m *Manager) Tracer(name string) trace.Tracer {
	return m.tracerProvider.Tracer(name)
}

// Metrics returns the process metrics recorder. Safe to call on every
// request even when metrics are disabled.
func (m *Manager) Metrics() *Metrics {
	return m.metrics
}

// MetricsHandler serves the Prometheus scrape endpoint.
func (m *Manager) MetricsHandler() http.Handler {
	return promhttp.Handler()
}

// Shutdown flushes pending spans and metric readers.
func (m *Manager) Shutdown(ctx context.Context) error {
	var errs []error
	if m.shutdownTracer != nil {
		if err := m.shutdownTracer(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if m.shutdownMeter != nil {
		if err := m.shutdownMeter(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
