// Package review implements the approval-review workflow on top of the
// schema cache, filter compiler, paginator, flattener and summarizer.
package review

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"crm-approvals/internal/approval"
	"crm-approvals/internal/filter"
	"crm-approvals/internal/logging"
	"crm-approvals/internal/naming"
	"crm-approvals/internal/observability"
	"crm-approvals/internal/paginate"
	"crm-approvals/internal/platform"
	"crm-approvals/internal/schemamap"
	"crm-approvals/internal/summary"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// ErrInvalidRequest marks caller errors: bad ids, offsets or filter fields.
var ErrInvalidRequest = errors.New("invalid request")

const (
	DefaultPendingStatus  = summary.DefaultPendingStatus
	DefaultApprovedStatus = "Approved"
	DefaultRejectedStatus = "Rejected"
	// DefaultUpdateChunkSize is the platform's limit on records per update.
	DefaultUpdateChunkSize = 200
	// DefaultMaxUpdateIDs caps the ids of one approve or reject call.
	DefaultMaxUpdateIDs = 10000
	// DefaultOptionsMaxPages bounds each filter-option lookup.
	DefaultOptionsMaxPages = 10
	// MaxReasonLength caps a rejection reason, in runes.
	MaxReasonLength = 1000
)

// SchemaSource supplies the current SchemaMap.
type SchemaSource interface {
	Get(ctx context.Context) (*schemamap.SchemaMap, error)
}

// Config wires the service.
type Config struct {
	Client  platform.Client
	Schema  SchemaSource
	Logger  *logging.Logger
	Metrics *observability.ReviewMetrics
	Naming  naming.Config

	OffsetCap       int
	MaxBatchSize    int
	MaxPages        int
	FilterChunkSize int
	FilterMaxChunks int
	UpdateChunkSize int
	MaxUpdateIDs    int
	OptionsMaxPages int

	PendingStatus  string
	ApprovedStatus string
	RejectedStatus string
}

// Service is the review workflow.
type Service struct {
	client    platform.Client
	schema    SchemaSource
	logger    *logging.Logger
	metrics   *observability.ReviewMetrics
	filters   *filter.Compiler
	pages     *paginate.Paginator
	summaries *summary.Summarizer
	flattener *approval.Flattener
	chunkSize int
	maxIDs    int
	optPages  int
	pending   string
	approved  string
	rejected  string
}

// NewService validates cfg and builds the workflow components.
func NewService(cfg Config) (*Service, error) {
	if cfg.Client == nil {
		return nil, fmt.Errorf("review service requires a platform client")
	}
	if cfg.Schema == nil {
		return nil, fmt.Errorf("review service requires a schema source")
	}
	if cfg.Logger == nil {
		cfg.Logger = &logging.Logger{Logger: slog.Default()}
	}
	if cfg.UpdateChunkSize <= 0 || cfg.UpdateChunkSize > DefaultUpdateChunkSize {
		cfg.UpdateChunkSize = DefaultUpdateChunkSize
	}
	if cfg.MaxUpdateIDs <= 0 {
		cfg.MaxUpdateIDs = DefaultMaxUpdateIDs
	}
	if cfg.OptionsMaxPages <= 0 {
		cfg.OptionsMaxPages = DefaultOptionsMaxPages
	}
	if cfg.PendingStatus == "" {
		cfg.PendingStatus = DefaultPendingStatus
	}
	if cfg.ApprovedStatus == "" {
		cfg.ApprovedStatus = DefaultApprovedStatus
	}
	if cfg.RejectedStatus == "" {
		cfg.RejectedStatus = DefaultRejectedStatus
	}

	return &Service{
		client:  cfg.Client,
		schema:  cfg.Schema,
		logger:  cfg.Logger.ForComponent("review"),
		metrics: cfg.Metrics,
		filters: filter.New(filter.Config{
			Client:    cfg.Client,
			Logger:    cfg.Logger,
			ChunkSize: cfg.FilterChunkSize,
			MaxChunks: cfg.FilterMaxChunks,
		}),
		pages: paginate.New(paginate.Config{
			Client:       cfg.Client,
			Logger:       cfg.Logger,
			Metrics:      cfg.Metrics,
			OffsetCap:    cfg.OffsetCap,
			MaxBatchSize: cfg.MaxBatchSize,
			MaxPages:     cfg.MaxPages,
		}),
		summaries: summary.New(summary.Config{
			Client:        cfg.Client,
			Logger:        cfg.Logger,
			Metrics:       cfg.Metrics,
			PendingStatus: cfg.PendingStatus,
		}),
		flattener: approval.NewFlattener(naming.New(cfg.Naming, cfg.Logger.Logger)),
		chunkSize: cfg.UpdateChunkSize,
		maxIDs:    cfg.MaxUpdateIDs,
		optPages:  cfg.OptionsMaxPages,
		pending:   cfg.PendingStatus,
		approved:  cfg.ApprovedStatus,
		rejected:  cfg.RejectedStatus,
	}, nil
}

// Schema returns the current SchemaMap.
func (s *Service) Schema(ctx context.Context) (*schemamap.SchemaMap, error) {
	return s.schema.Get(ctx)
}

// compile resolves spec against schema. Unknown fields become
// ErrInvalidRequest.
func (s *Service) compile(ctx context.Context, spec filter.Spec, schema *schemamap.SchemaMap) (filter.CompiledPredicate, error) {
	compiled, err := s.filters.Compile(ctx, spec, schema)
	if err != nil {
		if errors.Is(err, filter.ErrUnknownFilterField) {
			return compiled, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
		}
		return compiled, err
	}
	if compiled.Truncated {
		s.logger.Warn("filter results truncated",
			slog.String("filter", spec.LogicalField),
			slog.String("value", filter.Sanitize(spec.RawValue)),
		)
		s.metrics.RecordFilterTruncation(ctx, spec.LogicalField)
	}
	return compiled, nil
}

func startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return otel.Tracer("crm-approvals/review").Start(ctx, name, trace.WithAttributes(attrs...))
}

func recordSpanError(span trace.Span, err error) {
	if err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
