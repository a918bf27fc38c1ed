// Package observability wires OpenTelemetry metrics to a Prometheus exporter
// for the upgrade agent and the release announcer.
package observability

import (
	"context"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/prometheus"
	otelmetric "go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// Module owns the MeterProvider and the Metrics built from it.
type Module struct {
	provider *sdkmetric.MeterProvider
	meter    otelmetric.Meter
	metrics  *Metrics
}

// New registers a Prometheus-backed MeterProvider as the global provider and
// creates the shared instruments under the serviceName scope.
func New(serviceName string) (*Module, error) {
	exporter, err := prometheus.New()
	if err != nil {
		return nil, fmt.Errorf("create prometheus exporter: %w", err)
	}

	provider := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(exporter),
	)

	otel.SetMeterProvider(provider)

	meter := provider.Meter(serviceName)

	metrics, err := NewMetrics(meter)
	if err != nil {
		provider.Shutdown(context.Background())
		return nil, fmt.Errorf("create metrics: %w", err)
	}

	return &Module{
		provider: provider,
		meter:    meter,
		metrics:  metrics,
	}, nil
}

// Metrics returns the shared instruments.
func (m *Module) Metrics() *Metrics {
	return m.metrics
}

// Shutdown flushes and stops the MeterProvider.
func (m *Module) Shutdown(ctx context.Context) error {
	return m.provider.Shutdown(ctx)
}

// MetricsHandler returns an http.Handler that serves Prometheus metrics
// in the standard exposition format. Mount this at "/metrics".
func (m *Module) MetricsHandler() http.Handler {
	return promhttp.Handler()
}

// Meter returns the OTel Meter for creating metric instruments.
func (m *Module) Meter() otelmetric.Meter {
	return m.meter
}
