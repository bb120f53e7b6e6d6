// Package summary computes the review dashboard totals with concurrent SUM
// aggregate queries.
package summary

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"crm-approvals/internal/logging"
	"crm-approvals/internal/observability"
	"crm-approvals/internal/platform"
	"crm-approvals/internal/schemamap"
	"crm-approvals/internal/soql"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

// DefaultPendingStatus is the status value counted as pending.
const DefaultPendingStatus = "Pending"

const sumAlias = "total"

// Metrics is the summary response.
type Metrics struct {
	Success              bool    `json:"success"`
	TotalPendingHours    float64 `json:"totalPendingHours"`
	TotalHours           float64 `json:"totalHours"`
	SystemTracked        float64 `json:"systemTracked"`
	TotalPayment         float64 `json:"totalPayment"`
	TotalPendingUnits    float64 `json:"totalPendingUnits"`
	PendingSystemTracked float64 `json:"pendingSystemTracked"`
}

// Config controls the summarizer.
type Config struct {
	Client        platform.Client
	Logger        *logging.Logger
	Metrics       *observability.ReviewMetrics
	PendingStatus string
}

// Summarizer runs the aggregate queries.
type Summarizer struct {
	client        platform.Client
	logger        *logging.Logger
	metrics       *observability.ReviewMetrics
	pendingStatus string
}

// New returns a summarizer.
func New(cfg Config) *Summarizer {
	if cfg.Logger == nil {
		cfg.Logger = &logging.Logger{Logger: slog.Default()}
	}
	if cfg.PendingStatus == "" {
		cfg.PendingStatus = DefaultPendingStatus
	}
	return &Summarizer{
		client:        cfg.Client,
		logger:        cfg.Logger.ForComponent("summary"),
		metrics:       cfg.Metrics,
		pendingStatus: cfg.PendingStatus,
	}
}

type aggregateTask struct {
	name    string
	field   string
	pending bool
	target  *float64
}

// Summarize sums the bound numeric roles over records matching base. Each
// failed query leaves its metric at 0. Success is false only when every
// query that ran failed because the platform was unreachable.
func (s *Summarizer) Summarize(ctx context.Context, schema *schemamap.SchemaMap, base soql.Predicate) Metrics {
	out := Metrics{Success: true}
	if !schema.Available() || soql.IsMatchNone(base) {
		return out
	}

	ctx, span := otel.Tracer("crm-approvals/summary").Start(ctx, "summary.summarize")
	defer span.End()
	span.SetAttributes(attribute.String("platform.object", schema.ObjectName))

	hours := schema.Field(schemamap.RoleHoursSelfReported)
	tracked := schema.Field(schemamap.RoleHoursSystemTracked)
	tasks := []aggregateTask{
		{name: "totalPendingHours", field: hours, pending: true, target: &out.TotalPendingHours},
		{name: "totalPendingUnits", field: schema.Field(schemamap.RoleUnitsSelfReported), pending: true, target: &out.TotalPendingUnits},
		{name: "totalPayment", field: schema.Field(schemamap.RoleTotalPayment), target: &out.TotalPayment},
		{name: "totalHours", field: hours, target: &out.TotalHours},
		{name: "systemTracked", field: tracked, target: &out.SystemTracked},
		{name: "pendingSystemTracked", field: tracked, pending: true, target: &out.PendingSystemTracked},
	}
	status := schema.Field(schemamap.RoleStatus)
	pendingWhere := soql.AllOf(base, soql.Eq{Field: status, Value: s.pendingStatus})

	var (
		wg          sync.WaitGroup
		mu          sync.Mutex
		ran         int
		unavailable int
	)
	for _, task := range tasks {
		if task.field == "" || (task.pending && status == "") {
			continue
		}
		where := base
		if task.pending {
			where = pendingWhere
		}
		ran++
		wg.Add(1)
		go func(task aggregateTask, where soql.Predicate) {
			defer wg.Done()
			value, err := s.sum(ctx, schema.ObjectName, task.field, where)
			if err != nil {
				s.logger.Warn("summary aggregate failed",
					slog.String("metric", task.name),
					slog.String("field", task.field),
					slog.String("error", err.Error()),
				)
				s.metrics.RecordAggregateFailure(ctx, task.name)
				if errors.Is(err, platform.ErrUnavailable) {
					mu.Lock()
					unavailable++
					mu.Unlock()
				}
				return
			}
			*task.target = value
		}(task, where)
	}
	wg.Wait()

	if ran > 0 && unavailable == ran {
		out.Success = false
	}
	span.SetAttributes(
		attribute.Int("summary.queries", ran),
		attribute.Int("summary.unavailable", unavailable),
	)
	return out
}

func (s *Summarizer) sum(ctx context.Context, object, field string, where soql.Predicate) (float64, error) {
	start := time.Now()
	res, err := s.client.Query(ctx, soql.Query{
		Object:     object,
		Where:      where,
		Aggregates: []soql.Aggregate{{Func: soql.Sum, Field: field, Alias: sumAlias}},
	})
	s.metrics.RecordPlatformCall(ctx, "aggregate", object, time.Since(start), err)
	if err != nil {
		return 0, err
	}
	if len(res.Records) == 0 {
		return 0, nil
	}
	v, ok := res.Records[0].Lookup(sumAlias)
	if !ok {
		v, _ = res.Records[0].Lookup("expr0")
	}
	f, _ := platform.AsFloat(v)
	return f, nil
}
