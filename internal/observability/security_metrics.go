package observability

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Admin authentication outcomes.
const (
	AuthOutcomeGranted = "granted"
	AuthOutcomeDenied  = "denied"
)

// SecurityMetrics counts admin authentication decisions. A nil
// *SecurityMetrics records nothing.
type SecurityMetrics struct {
	adminAuth metric.Int64Counter
}

// InitSecurityMetrics registers the admin authentication counter on the
// global meter provider.
func InitSecurityMetrics() (*SecurityMetrics, error) {
	adminAuth, err := otel.Meter(meterName).Int64Counter(
		"crm_approvals.admin.auth",
		metric.WithDescription("Admin endpoint authentication decisions"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create admin auth counter: %w", err)
	}
	return &SecurityMetrics{adminAuth: adminAuth}, nil
}

// RecordAdminAuth counts one decision for endpoint. An empty reason means the
// caller was granted access.
func (m *SecurityMetrics) RecordAdminAuth(ctx context.Context, endpoint, reason string) {
	if m == nil {
		return
	}
	outcome := AuthOutcomeGranted
	if reason != "" {
		outcome = AuthOutcomeDenied
	}
	attrs := []attribute.KeyValue{
		attribute.String("endpoint", endpoint),
		attribute.String("outcome", outcome),
	}
	if reason != "" {
		attrs = append(attrs, attribute.String("reason", reason))
	}
	m.adminAuth.Add(ctx, 1, metric.WithAttributes(attrs...))
}
