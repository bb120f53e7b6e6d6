package observability

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Discovery outcomes.
const (
	DiscoveryBound       = "bound"
	DiscoveryUnavailable = "unavailable"
	DiscoveryFailed      = "error"
)

// SchemaMetrics holds custom metrics for schema discovery and the schema
// cache. A nil *SchemaMetrics records nothing.
type SchemaMetrics struct {
	discoveryCounter metric.Int64Counter
	durationHist     metric.Float64Histogram
	unboundGauge     metric.Int64Gauge
	cacheCounter     metric.Int64Counter
	lastSuccessUnix  atomic.Int64
}

// InitSchemaMetrics initializes schema discovery metrics.
func InitSchemaMetrics(logger *slog.Logger) (*SchemaMetrics, error) {
	meter := otel.Meter(meterName)

	discoveryCounter, err := meter.Int64Counter(
		"schema.discovery.total",
		metric.WithDescription("Total number of schema discovery runs by outcome"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create schema discovery counter: %w", err)
	}

	durationHist, err := meter.Float64Histogram(
		"schema.discovery.duration",
		metric.WithDescription("Duration of schema discovery runs in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create schema discovery duration histogram: %w", err)
	}

	unboundGauge, err := meter.Int64Gauge(
		"schema.discovery.unbound_roles",
		metric.WithDescription("Number of logical roles left unbound by the last discovery"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create schema unbound roles gauge: %w", err)
	}

	cacheCounter, err := meter.Int64Counter(
		"schema.cache.lookups.total",
		metric.WithDescription("Schema cache lookups by result"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create schema cache counter: %w", err)
	}

	lastSuccessGauge, err := meter.Int64ObservableGauge(
		"schema.discovery.last_success_unix",
		metric.WithDescription("Unix timestamp of the last successful schema discovery"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create schema discovery last success gauge: %w", err)
	}

	metrics := &SchemaMetrics{
		discoveryCounter: discoveryCounter,
		durationHist:     durationHist,
		unboundGauge:     unboundGauge,
		cacheCounter:     cacheCounter,
	}

	_, err = meter.RegisterCallback(
		func(ctx context.Context, observer metric.Observer) error {
			value := metrics.lastSuccessUnix.Load()
			if value > 0 {
				observer.ObserveInt64(lastSuccessGauge, value)
			}
			return nil
		},
		lastSuccessGauge,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to register schema discovery gauge callback: %w", err)
	}

	logger.Info("schema metrics initialized")
	return metrics, nil
}

// RecordDiscovery records one discovery run.
func (m *SchemaMetrics) RecordDiscovery(ctx context.Context, duration time.Duration, outcome, object string, unbound int) {
	if m == nil {
		return
	}
	attrs := []attribute.KeyValue{
		attribute.String("outcome", outcome),
		attribute.String("object", object),
	}

	m.discoveryCounter.Add(ctx, 1, metric.WithAttributes(attrs...))
	m.durationHist.Record(ctx, float64(duration.Milliseconds()), metric.WithAttributes(attrs...))

	if outcome == DiscoveryFailed {
		return
	}
	m.unboundGauge.Record(ctx, int64(unbound), metric.WithAttributes(attribute.String("object", object)))
	m.lastSuccessUnix.Store(time.Now().Unix())
}

// RecordCacheLookup records a schema cache lookup: hit, miss or invalidate.
func (m *SchemaMetrics) RecordCacheLookup(ctx context.Context, result, backend string) {
	if m == nil {
		return
	}
	m.cacheCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("result", result),
		attribute.String("backend", backend),
	))
}
