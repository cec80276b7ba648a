package observability

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/atriumhq/atrium/pkg/config"
)

// Metrics records request and agent counters. All methods are safe on
// a zero-value receiver, so callers never branch on whether metrics
// were enabled.
type Metrics struct {
	httpRequests metric.Int64Counter
	httpDuration metric.Float64Histogram

	agentCalls    metric.Int64Counter
	agentErrors   metric.Int64Counter
	agentDuration metric.Float64Histogram
	agentTokens   metric.Int64Counter
}

// newMetrics builds the meter pipeline backed by the Prometheus
// exporter, which registers with the default registry scraped by
// MetricsHandler. Disabled metrics yield an inert recorder.
func newMetrics(cfg config.ObservabilityConfig) (*Metrics, func(context.Context) error, error) {
	if !cfg.MetricsOn() {
		return &Metrics{}, nil, nil
	}

	exporter, err := prometheus.New()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
	}

	provider := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(exporter),
	)
	meter := provider.Meter("atrium")

	m := &Metrics{}

	m.httpRequests, err = meter.Int64Counter(
		"atrium_http_requests_total",
		metric.WithDescription("Total HTTP requests"),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create http requests counter: %w", err)
	}

	m.httpDuration, err = meter.Float64Histogram(
		"atrium_http_request_duration_seconds",
		metric.WithDescription("HTTP request duration in seconds"),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create http duration histogram: %w", err)
	}

	m.agentCalls, err = meter.Int64Counter(
		"atrium_agent_calls_total",
		metric.WithDescription("Total agent invocations"),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create agent calls counter: %w", err)
	}

	m.agentErrors, err = meter.Int64Counter(
		"atrium_agent_errors_total",
		metric.WithDescription("Total failed agent invocations"),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create agent errors counter: %w", err)
	}

	m.agentDuration, err = meter.Float64Histogram(
		"atrium_agent_call_duration_seconds",
		metric.WithDescription("Agent invocation duration in seconds"),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create agent duration histogram: %w", err)
	}

	m.agentTokens, err = meter.Int64Counter(
		"atrium_agent_tokens_used_total",
		metric.WithDescription("Total tokens consumed by agent invocations"),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create agent tokens counter: %w", err)
	}

	return m, provider.Shutdown, nil
}

// RecordHTTPRequest counts one served request with its route label and
// latency. The route is the registered pattern, not the raw path, to
// keep label cardinality bounded.
func (m *Metrics) RecordHTTPRequest(ctx context.Context, method, route string, status int, duration time.Duration) {
	if m == nil || m.httpRequests == nil {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.String("method", method),
		attribute.String("route", route),
		attribute.String("status", strconv.Itoa(status)),
	}

	m.httpRequests.Add(ctx, 1, metric.WithAttributes(attrs...))
	m.httpDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))
}

// RecordAgentCall counts one agent invocation with its outcome.
func (m *Metrics) RecordAgentCall(ctx context.Context, agentID string, duration time.Duration, tokens int, err error) {
	if m == nil || m.agentCalls == nil {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.String("agent", agentID),
	}

	m.agentCalls.Add(ctx, 1, metric.WithAttributes(attrs...))
	m.agentDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))

	if tokens > 0 {
		m.agentTokens.Add(ctx, int64(tokens), metric.WithAttributes(attrs...))
	}
	if err != nil {
		m.agentErrors.Add(ctx, 1, metric.WithAttributes(attrs...))
	}
}
