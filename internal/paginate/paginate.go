// Package paginate assembles bounded record batches from the platform,
// reaching past its offset cap with continuation locators and keyed
// follow-up queries.
package paginate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"crm-approvals/internal/logging"
	"crm-approvals/internal/observability"
	"crm-approvals/internal/platform"
	"crm-approvals/internal/schemamap"
	"crm-approvals/internal/soql"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const (
	// OffsetCap is the largest OFFSET the platform accepts.
	OffsetCap = 2000
	// MaxBatchSize is the largest batch returned by one call.
	MaxBatchSize = 5000
	// DefaultMaxPages bounds the platform responses read per call.
	DefaultMaxPages = 10
)

const (
	modeOffset = "offset"
	modeSkip   = "skip"
)

// QueryCursor is the per-call paging state. It is created for one call and
// discarded with the batch; callers pass the next offset themselves.
type QueryCursor struct {
	RequestedOffset int
	BatchSize       int
	LastSeenID      string
	PagesFetched    int
}

// Sort orders the batch. Id is always appended as the tiebreaker.
type Sort struct {
	Field string
	// Type is the platform field type, used to render keyed comparisons.
	Type string
	Desc bool
}

// Page is one assembled batch.
type Page struct {
	Records   []platform.Record
	Offset    int
	BatchSize int
	Total     int
	// NextOffset is Offset+len(Records).
	NextOffset int
	// HasMore is NextOffset < Total, from the COUNT query.
	HasMore bool
	Cursor  QueryCursor
}

// Config controls the paginator.
type Config struct {
	Client       platform.Client
	Logger       *logging.Logger
	Metrics      *observability.ReviewMetrics
	OffsetCap    int
	MaxBatchSize int
	MaxPages     int
}

// Paginator fetches batches.
type Paginator struct {
	client       platform.Client
	logger       *logging.Logger
	metrics      *observability.ReviewMetrics
	offsetCap    int
	maxBatchSize int
	maxPages     int
}

// New returns a paginator.
func New(cfg Config) *Paginator {
	if cfg.Logger == nil {
		cfg.Logger = &logging.Logger{Logger: slog.Default()}
	}
	if cfg.OffsetCap <= 0 {
		cfg.OffsetCap = OffsetCap
	}
	if cfg.MaxBatchSize <= 0 || cfg.MaxBatchSize > MaxBatchSize {
		cfg.MaxBatchSize = MaxBatchSize
	}
	if cfg.MaxPages <= 0 {
		cfg.MaxPages = DefaultMaxPages
	}
	return &Paginator{
		client:       cfg.Client,
		logger:       cfg.Logger.ForComponent("paginate"),
		metrics:      cfg.Metrics,
		offsetCap:    cfg.OffsetCap,
		maxBatchSize: cfg.MaxBatchSize,
		maxPages:     cfg.MaxPages,
	}
}

// BatchSize clamps a requested batch size to (0, max]; 0 means max.
func (p *Paginator) BatchSize(requested int) int {
	if requested <= 0 || requested > p.maxBatchSize {
		return p.maxBatchSize
	}
	return requested
}

// FetchPage returns up to cursor.BatchSize records matching pred, starting
// at cursor.RequestedOffset. Offsets within the cap use native OFFSET;
// larger ones read from the start and drop the skipped rows in memory.
func (p *Paginator) FetchPage(ctx context.Context, pred soql.Predicate, cursor QueryCursor, schema *schemamap.SchemaMap, sort Sort) (*Page, error) {
	if !schema.Available() {
		return nil, fmt.Errorf("paginate: schema has no target object")
	}
	offset := cursor.RequestedOffset
	if offset < 0 {
		offset = 0
	}
	batch := p.BatchSize(cursor.BatchSize)
	cursor.RequestedOffset = offset
	cursor.BatchSize = batch
	cursor.PagesFetched = 0

	mode := modeOffset
	if offset > p.offsetCap {
		mode = modeSkip
	}
	ctx, span := otel.Tracer("crm-approvals/paginate").Start(ctx, "paginate.fetch_page")
	defer span.End()
	span.SetAttributes(
		attribute.String("platform.object", schema.ObjectName),
		attribute.Int("paginate.offset", offset),
		attribute.Int("paginate.batch_size", batch),
		attribute.String("paginate.mode", mode),
	)

	total, err := platform.Count(ctx, p.client, schema.ObjectName, pred)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	page := &Page{Offset: offset, BatchSize: batch, Total: total, NextOffset: offset, Records: []platform.Record{}}
	if offset >= total {
		page.Cursor = cursor
		return page, nil
	}

	orders := orderBy(sort)
	base := soql.Query{
		Object:  schema.ObjectName,
		Fields:  schema.SelectFields(),
		Where:   pred,
		OrderBy: orders,
	}

	// need counts rows from the first row the query returns.
	var need int
	first := base
	if mode == modeOffset {
		need = min(batch, total-offset)
		first.Offset = offset
		first.Limit = batch
	} else {
		need = min(offset+batch, total)
		first.Limit = offset + batch
	}

	rows, err := p.accumulate(ctx, first, need, sort, &cursor)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	if mode == modeSkip {
		if len(rows) > offset {
			rows = rows[offset:]
		} else {
			rows = nil
		}
	}
	if len(rows) > batch {
		rows = rows[:batch]
	}

	if rows != nil {
		page.Records = rows
	}
	page.NextOffset = offset + len(page.Records)
	page.HasMore = page.NextOffset < total
	page.Cursor = cursor
	if len(page.Records) < min(batch, total-offset) {
		p.logger.Warn("batch incomplete after page limit",
			slog.Int("offset", offset),
			slog.Int("returned", len(page.Records)),
			slog.Int("total", total),
			slog.Int("pages_fetched", cursor.PagesFetched),
		)
	}
	span.SetAttributes(
		attribute.Int("paginate.total", total),
		attribute.Int("paginate.returned", len(page.Records)),
		attribute.Int("paginate.pages_fetched", cursor.PagesFetched),
	)
	p.metrics.RecordListBatch(ctx, cursor.PagesFetched, len(page.Records), mode)
	return page, nil
}

// accumulate runs first and continues until need rows are held or the page
// limit is reached. Continuation prefers the platform locator; when it is
// missing or rejected a keyed query resumes after the last row.
func (p *Paginator) accumulate(ctx context.Context, first soql.Query, need int, sort Sort, cursor *QueryCursor) ([]platform.Record, error) {
	res, err := p.client.Query(ctx, first)
	if err != nil {
		return nil, err
	}
	cursor.PagesFetched++
	rows := append([]platform.Record(nil), res.Records...)
	p.advance(cursor, rows)

	for len(rows) < need && cursor.PagesFetched < p.maxPages {
		var next *platform.QueryResult
		if res.HasMore() {
			next, err = p.client.QueryMore(ctx, res.NextRecordsURL)
			if err != nil && !errors.Is(err, platform.ErrInvalidLocator) {
				return nil, err
			}
			if err != nil {
				p.logger.Debug("locator rejected; continuing with keyed query", slog.String("error", err.Error()))
				p.metrics.RecordKeysetFallback(ctx, "locator_rejected")
				next = nil
			}
		} else {
			p.metrics.RecordKeysetFallback(ctx, "locator_missing")
		}

		if next == nil {
			if len(rows) == 0 {
				break
			}
			keyed := first
			keyed.Offset = 0
			keyed.Limit = need - len(rows)
			keyed = keyed.And(after(rows[len(rows)-1], sort))
			next, err = p.client.Query(ctx, keyed)
			if err != nil {
				return nil, err
			}
		}
		cursor.PagesFetched++
		if len(next.Records) == 0 {
			break
		}
		rows = append(rows, next.Records...)
		p.advance(cursor, next.Records)
		res = next
	}
	return rows, nil
}

func (p *Paginator) advance(cursor *QueryCursor, rows []platform.Record) {
	if len(rows) > 0 {
		cursor.LastSeenID = rows[len(rows)-1].ID()
	}
}

func orderBy(sort Sort) []soql.Order {
	if sort.Field == "" || sort.Field == "Id" {
		return []soql.Order{{Field: "Id", Desc: false}}
	}
	return []soql.Order{
		{Field: sort.Field, Desc: sort.Desc, NullsLast: true},
		{Field: "Id"},
	}
}

// after returns the predicate selecting rows that sort strictly after last
// under orderBy(sort).
func after(last platform.Record, sort Sort) soql.Predicate {
	lastID := last.ID()
	idAfter := soql.Cmp{Field: "Id", Op: soql.OpGt, Value: lastID}
	if sort.Field == "" || sort.Field == "Id" {
		return idAfter
	}

	raw, _ := last.Lookup(sort.Field)
	if raw == nil {
		// Nulls sort last: only later nulls remain.
		return soql.And{soql.Eq{Field: sort.Field, Value: nil}, idAfter}
	}
	value := keyValue(raw, sort.Type)
	op := soql.OpGt
	if sort.Desc {
		op = soql.OpLt
	}
	return soql.Or{
		soql.Cmp{Field: sort.Field, Op: op, Value: value},
		soql.And{soql.Eq{Field: sort.Field, Value: value}, idAfter},
		soql.Eq{Field: sort.Field, Value: nil},
	}
}

func keyValue(raw any, fieldType string) any {
	switch fieldType {
	case platform.TypeDate, platform.TypeDateTime:
		if lit, ok := soql.DateLiteral(platform.AsString(raw)); ok {
			return lit
		}
	case platform.TypeDouble, platform.TypeInt, platform.TypeCurrency, platform.TypePercent:
		if f, ok := platform.AsFloat(raw); ok {
			return f
		}
	case platform.TypeBoolean:
		if b, ok := raw.(bool); ok {
			return b
		}
	}
	return platform.AsString(raw)
}
