package observability

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "crm-approvals"

// ReviewMetrics holds custom metrics for the review engine and its platform
// calls. A nil *ReviewMetrics records nothing.
type ReviewMetrics struct {
	callDuration      metric.Float64Histogram
	callCounter       metric.Int64Counter
	callErrors        metric.Int64Counter
	activeRequests    metric.Int64UpDownCounter
	pagesFetched      metric.Int64Histogram
	recordsReturned   metric.Int64Histogram
	keysetFallbacks   metric.Int64Counter
	aggregateFailures metric.Int64Counter
	filterTruncations metric.Int64Counter
	updateResults     metric.Int64Counter
}

// InitReviewMetrics initializes review-specific metrics
func InitReviewMetrics() (*ReviewMetrics, error) {
	meter := otel.Meter(meterName)

	callDuration, err := meter.Float64Histogram(
		"platform.call.duration",
		metric.WithDescription("Duration of remote platform calls in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create platform call duration histogram: %w", err)
	}

	callCounter, err := meter.Int64Counter(
		"platform.calls.total",
		metric.WithDescription("Total number of remote platform calls"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create platform call counter: %w", err)
	}

	callErrors, err := meter.Int64Counter(
		"platform.errors.total",
		metric.WithDescription("Total number of failed remote platform calls"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create platform error counter: %w", err)
	}

	activeRequests, err := meter.Int64UpDownCounter(
		"review.requests.active",
		metric.WithDescription("Number of active review API requests"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create active requests counter: %w", err)
	}

	pagesFetched, err := meter.Int64Histogram(
		"review.list.pages_fetched",
		metric.WithDescription("Platform responses read to assemble one list batch"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create pages fetched histogram: %w", err)
	}

	recordsReturned, err := meter.Int64Histogram(
		"review.list.records",
		metric.WithDescription("Number of records returned by one list call"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create records histogram: %w", err)
	}

	keysetFallbacks, err := meter.Int64Counter(
		"review.list.keyset_fallbacks",
		metric.WithDescription("Continuations served by keyed queries instead of platform locators"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create keyset fallback counter: %w", err)
	}

	aggregateFailures, err := meter.Int64Counter(
		"review.summary.aggregate_failures",
		metric.WithDescription("Summary aggregates that failed and reported zero"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create aggregate failure counter: %w", err)
	}

	filterTruncations, err := meter.Int64Counter(
		"review.filter.truncations",
		metric.WithDescription("Hierarchical filters whose id set was truncated"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create filter truncation counter: %w", err)
	}

	updateResults, err := meter.Int64Counter(
		"review.update.records",
		metric.WithDescription("Records updated by approve and reject, by outcome"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create update results counter: %w", err)
	}

	return &ReviewMetrics{
		callDuration:      callDuration,
		callCounter:       callCounter,
		callErrors:        callErrors,
		activeRequests:    activeRequests,
		pagesFetched:      pagesFetched,
		recordsReturned:   recordsReturned,
		keysetFallbacks:   keysetFallbacks,
		aggregateFailures: aggregateFailures,
		filterTruncations: filterTruncations,
		updateResults:     updateResults,
	}, nil
}

// RecordPlatformCall records one remote call with its duration and outcome.
func (m *ReviewMetrics) RecordPlatformCall(ctx context.Context, operation, object string, duration time.Duration, err error) {
	if m == nil {
		return
	}
	attrs := []attribute.KeyValue{
		attribute.String("operation", operation),
		attribute.String("object", object),
		attribute.Bool("has_error", err != nil),
	}

	m.callDuration.Record(ctx, float64(duration.Milliseconds()), metric.WithAttributes(attrs...))
	m.callCounter.Add(ctx, 1, metric.WithAttributes(attrs...))

	if err != nil {
		m.callErrors.Add(ctx, 1, metric.WithAttributes(
			attribute.String("operation", operation),
		))
	}
}

// RecordListBatch records how a list batch was assembled.
func (m *ReviewMetrics) RecordListBatch(ctx context.Context, pages, records int, mode string) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("mode", mode))
	m.pagesFetched.Record(ctx, int64(pages), attrs)
	m.recordsReturned.Record(ctx, int64(records), attrs)
}

func (m *ReviewMetrics) RecordKeysetFallback(ctx context.Context, reason string) {
	if m == nil {
		return
	}
	m.keysetFallbacks.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}

func (m *ReviewMetrics) RecordAggregateFailure(ctx context.Context, metricName string) {
	if m == nil {
		return
	}
	m.aggregateFailures.Add(ctx, 1, metric.WithAttributes(attribute.String("metric", metricName)))
}

func (m *ReviewMetrics) RecordFilterTruncation(ctx context.Context, filter string) {
	if m == nil {
		return
	}
	m.filterTruncations.Add(ctx, 1, metric.WithAttributes(attribute.String("filter", filter)))
}

func (m *ReviewMetrics) RecordUpdates(ctx context.Context, action string, succeeded, failed int) {
	if m == nil {
		return
	}
	if succeeded > 0 {
		m.updateResults.Add(ctx, int64(succeeded), metric.WithAttributes(
			attribute.String("action", action), attribute.Bool("success", true)))
	}
	if failed > 0 {
		m.updateResults.Add(ctx, int64(failed), metric.WithAttributes(
			attribute.String("action", action), attribute.Bool("success", false)))
	}
}

// IncrementActiveRequests increments the active requests counter
func (m *ReviewMetrics) IncrementActiveRequests(ctx context.Context) {
	if m == nil {
		return
	}
	m.activeRequests.Add(ctx, 1)
}

// DecrementActiveRequests decrements the active requests counter
func (m *ReviewMetrics) DecrementActiveRequests(ctx context.Context) {
	if m == nil {
		return
	}
	m.activeRequests.Add(ctx, -1)
}

// InitMetrics initializes all custom metrics and returns the ReviewMetrics instance
func InitMetrics(logger *slog.Logger) (*ReviewMetrics, error) {
	metrics, err := InitReviewMetrics()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize review metrics: %w", err)
	}

	logger.Info("custom review metrics initialized")
	return metrics, nil
}
