package review

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"crm-approvals/internal/approval"
	"crm-approvals/internal/filter"
	"crm-approvals/internal/paginate"
	"crm-approvals/internal/platform"
	"crm-approvals/internal/schemamap"
	"crm-approvals/internal/summary"

	"go.opentelemetry.io/otel/attribute"
)

// Logical sort keys.
const (
	SortTransactionDate = "transactionDate"
	SortHours           = "hours"
	SortPayment         = "payment"
	SortStatus          = "status"
	SortID              = "id"
)

var sortRoles = map[string]schemamap.Role{
	strings.ToLower(SortTransactionDate): schemamap.RoleTransactionDate,
	strings.ToLower(SortHours):           schemamap.RoleHoursSelfReported,
	strings.ToLower(SortPayment):         schemamap.RoleTotalPayment,
	strings.ToLower(SortStatus):          schemamap.RoleStatus,
}

// ListRequest selects one batch of approval records.
type ListRequest struct {
	Filter filter.Spec
	Offset int
	// Limit is the batch size; 0 means the maximum.
	Limit     int
	SortBy    string
	SortOrder string
}

// ListResult is one batch.
type ListResult struct {
	Records   []approval.Record `json:"records"`
	Total     int               `json:"total"`
	HasMore   bool              `json:"hasMore"`
	Offset    int               `json:"offset"`
	BatchSize int               `json:"batchSize"`
	// Truncated is set when the filter's id set was capped, so Total
	// undercounts the matching records.
	Truncated bool `json:"truncated"`
}

// SummaryResult is the summary for one filter.
type SummaryResult struct {
	summary.Metrics
	Truncated bool `json:"truncated"`
}

// List returns one batch of flattened records. A missing target object
// yields an empty batch.
func (s *Service) List(ctx context.Context, req ListRequest) (*ListResult, error) {
	if req.Offset < 0 {
		return nil, fmt.Errorf("%w: offset must not be negative", ErrInvalidRequest)
	}
	if req.Limit < 0 {
		return nil, fmt.Errorf("%w: limit must not be negative", ErrInvalidRequest)
	}
	desc, err := sortDescending(req.SortBy, req.SortOrder)
	if err != nil {
		return nil, err
	}

	ctx, span := startSpan(ctx, "review.list",
		attribute.String("review.filter_field", req.Filter.LogicalField),
		attribute.Int("review.offset", req.Offset),
		attribute.Int("review.limit", req.Limit),
	)
	defer span.End()

	s.metrics.IncrementActiveRequests(ctx)
	defer s.metrics.DecrementActiveRequests(ctx)

	result := &ListResult{Records: []approval.Record{}, Offset: req.Offset, BatchSize: s.pages.BatchSize(req.Limit)}

	schema, err := s.schema.Get(ctx)
	if err != nil {
		recordSpanError(span, err)
		return nil, fmt.Errorf("load schema: %w", err)
	}
	if !schema.Available() {
		s.logger.Debug("approval object unavailable; returning empty list")
		return result, nil
	}

	compiled, err := s.compile(ctx, req.Filter, schema)
	if err != nil {
		recordSpanError(span, err)
		return nil, err
	}
	result.Truncated = compiled.Truncated
	if compiled.MatchesNothing {
		return result, nil
	}

	page, err := s.pages.FetchPage(ctx, compiled.Predicate, paginate.QueryCursor{
		RequestedOffset: req.Offset,
		BatchSize:       req.Limit,
	}, schema, resolveSort(schema, req.SortBy, desc))
	if err != nil {
		recordSpanError(span, err)
		return nil, fmt.Errorf("fetch approvals: %w", err)
	}

	result.Records = s.flattener.FlattenAll(page.Records, schema)
	result.Total = page.Total
	result.HasMore = page.HasMore
	result.BatchSize = page.BatchSize
	span.SetAttributes(
		attribute.Int("review.total", page.Total),
		attribute.Int("review.returned", len(result.Records)),
		attribute.Bool("review.truncated", compiled.Truncated),
	)
	return result, nil
}

// Summary returns dashboard totals for the filtered records. An unreachable
// platform yields Success false rather than an error.
func (s *Service) Summary(ctx context.Context, spec filter.Spec) (*SummaryResult, error) {
	ctx, span := startSpan(ctx, "review.summary", attribute.String("review.filter_field", spec.LogicalField))
	defer span.End()

	schema, err := s.schema.Get(ctx)
	if err != nil {
		if platform.IsTransient(err) {
			s.logger.Warn("summary schema unavailable", slog.String("error", err.Error()))
			return &SummaryResult{Metrics: summary.Metrics{Success: false}}, nil
		}
		recordSpanError(span, err)
		return nil, fmt.Errorf("load schema: %w", err)
	}

	compiled, err := s.compile(ctx, spec, schema)
	if err != nil {
		recordSpanError(span, err)
		return nil, err
	}
	metrics := s.summaries.Summarize(ctx, schema, compiled.Predicate)
	return &SummaryResult{Metrics: metrics, Truncated: compiled.Truncated}, nil
}

func sortDescending(sortBy, order string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(order)) {
	case "":
		key := strings.ToLower(strings.TrimSpace(sortBy))
		if key == SortID {
			return false, nil
		}
		_, known := sortRoles[key]
		return !known || key == strings.ToLower(SortTransactionDate), nil
	case "asc":
		return false, nil
	case "desc":
		return true, nil
	}
	return false, fmt.Errorf("%w: sortOrder must be asc or desc", ErrInvalidRequest)
}

// resolveSort maps a logical sort key to a bound field. Unknown keys and
// unbound roles use the transaction date, then Id.
func resolveSort(schema *schemamap.SchemaMap, sortBy string, desc bool) paginate.Sort {
	key := strings.ToLower(strings.TrimSpace(sortBy))
	if key == SortID {
		return paginate.Sort{Field: "Id", Desc: desc}
	}
	role, ok := sortRoles[key]
	if !ok {
		role = schemamap.RoleTransactionDate
	}
	b := schema.Binding(role)
	if !b.Bound() {
		b = schema.Binding(schemamap.RoleTransactionDate)
	}
	if !b.Bound() {
		return paginate.Sort{Field: "Id", Desc: desc}
	}
	return paginate.Sort{Field: b.Field, Type: b.Type, Desc: desc}
}
