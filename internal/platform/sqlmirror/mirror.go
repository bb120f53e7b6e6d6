// Package sqlmirror is a platform.Client over a MySQL or TiDB database that
// mirrors the platform's objects: one table per object, one column per
// field, and foreign keys for lookups. Describe reads INFORMATION_SCHEMA,
// relationship paths become LEFT JOINs, and continuation locators are
// emulated with server-side query sessions.
package sqlmirror

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"crm-approvals/internal/cursor"
	"crm-approvals/internal/dbexec"
	"crm-approvals/internal/logging"
	"crm-approvals/internal/naming"
	"crm-approvals/internal/observability"
	"crm-approvals/internal/platform"
	"crm-approvals/internal/soql"
	"crm-approvals/internal/sqlutil"

	sq "github.com/Masterminds/squirrel"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	DefaultPageSize    = 2000
	DefaultOffsetCap   = 2000
	DefaultLocatorTTL  = 15 * time.Minute
	DefaultDescribeTTL = 5 * time.Minute
	// LocatorPrefix starts every continuation locator this client returns.
	LocatorPrefix = "/mirror/query/"
)

// Config controls the mirror client.
type Config struct {
	// DB is wrapped in a dbexec.StandardExecutor unless Executor is set.
	DB          *sql.DB
	Executor    dbexec.QueryExecutor
	// Database is the schema holding the mirrored tables.
	Database    string
	// PageSize is the number of records per response page.
	PageSize    int
	// OffsetCap is the largest OFFSET accepted, matching the platform.
	OffsetCap   int
	LocatorTTL  time.Duration
	DescribeTTL time.Duration
	Namer       *naming.Namer
	Logger      *logging.Logger
	Metrics     *observability.ReviewMetrics
	Now         func() time.Time
}

// Mirror implements platform.Client against the mirror database.
type Mirror struct {
	exec        dbexec.QueryExecutor
	database    string
	pageSize    int
	offsetCap   int
	locatorTTL  time.Duration
	describeTTL time.Duration
	namer       *naming.Namer
	logger      *logging.Logger
	metrics     *observability.ReviewMetrics
	now         func() time.Time

	mu       sync.Mutex
	tables   map[string]*table
	sessions map[string]*session
}

var _ platform.Client = (*Mirror)(nil)

// session is a query whose remaining rows are served through QueryMore.
type session struct {
	query   soql.Query
	total   int
	expires time.Time
}

// New returns a mirror client.
func New(cfg Config) (*Mirror, error) {
	exec := cfg.Executor
	if exec == nil {
		if cfg.DB == nil {
			return nil, fmt.Errorf("sqlmirror: a database handle is required")
		}
		exec = dbexec.NewStandardExecutor(cfg.DB)
	}
	if strings.TrimSpace(cfg.Database) == "" {
		return nil, fmt.Errorf("sqlmirror: database name is required")
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = DefaultPageSize
	}
	if cfg.OffsetCap <= 0 {
		cfg.OffsetCap = DefaultOffsetCap
	}
	if cfg.LocatorTTL <= 0 {
		cfg.LocatorTTL = DefaultLocatorTTL
	}
	if cfg.DescribeTTL <= 0 {
		cfg.DescribeTTL = DefaultDescribeTTL
	}
	if cfg.Namer == nil {
		cfg.Namer = naming.Default()
	}
	if cfg.Logger == nil {
		cfg.Logger = &logging.Logger{Logger: slog.Default()}
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Mirror{
		exec:        exec,
		database:    cfg.Database,
		pageSize:    cfg.PageSize,
		offsetCap:   cfg.OffsetCap,
		locatorTTL:  cfg.LocatorTTL,
		describeTTL: cfg.DescribeTTL,
		namer:       cfg.Namer,
		logger:      cfg.Logger.ForComponent("platform_sqlmirror"),
		metrics:     cfg.Metrics,
		now:         cfg.Now,
		tables:      make(map[string]*table),
		sessions:    make(map[string]*session),
	}, nil
}

// Describe returns the object metadata derived from the mirror table.
func (m *Mirror) Describe(ctx context.Context, object string) (desc *platform.ObjectDescribe, err error) {
	start := time.Now()
	defer func() {
		m.metrics.RecordPlatformCall(ctx, "describe", object, time.Since(start), err)
	}()
	if !soql.ValidField(object) || strings.Contains(object, ".") {
		return nil, fmt.Errorf("describe %q: %w", object, platform.ErrObjectNotFound)
	}
	t, err := m.lookupTable(ctx, object)
	if err != nil {
		return nil, err
	}
	out := *t.desc
	out.Fields = append([]platform.Field(nil), t.desc.Fields...)
	return &out, nil
}

// Query runs q. Results larger than the page size return a continuation
// locator for QueryMore.
func (m *Mirror) Query(ctx context.Context, q soql.Query) (res *platform.QueryResult, err error) {
	start := time.Now()
	defer func() {
		m.metrics.RecordPlatformCall(ctx, "query", q.Object, time.Since(start), err)
	}()
	ctx, span := startSpan(ctx, "sqlmirror.query", attribute.String("db.table", q.Object))
	defer func() {
		recordSpanError(span, err)
		span.End()
	}()

	if q.Offset > m.offsetCap {
		return nil, &platform.APIError{
			StatusCode: http.StatusBadRequest,
			Code:       "NUMBER_OUTSIDE_VALID_RANGE",
			Message:    fmt.Sprintf("Maximum OFFSET is %d, got %d", m.offsetCap, q.Offset),
		}
	}
	switch {
	case q.Count:
		return m.count(ctx, q)
	case len(q.Aggregates) > 0:
		return m.aggregate(ctx, q)
	}
	return m.page(ctx, q, 0, nil)
}

// QueryMore returns the next page of a query session. Unknown, expired or
// foreign locators return platform.ErrInvalidLocator.
func (m *Mirror) QueryMore(ctx context.Context, locator string) (res *platform.QueryResult, err error) {
	start := time.Now()
	object := ""
	defer func() {
		m.metrics.RecordPlatformCall(ctx, "query_more", object, time.Since(start), err)
	}()

	if !strings.HasPrefix(locator, LocatorPrefix) {
		return nil, fmt.Errorf("query more %q: %w", locator, platform.ErrInvalidLocator)
	}
	loc, err := cursor.Decode(strings.TrimPrefix(locator, LocatorPrefix))
	if err != nil {
		return nil, fmt.Errorf("query more: %w: %v", platform.ErrInvalidLocator, err)
	}
	object = loc.Object

	m.mu.Lock()
	s, ok := m.sessions[loc.Session]
	if ok && !m.now().Before(s.expires) {
		delete(m.sessions, loc.Session)
		ok = false
	}
	m.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("query more: %w: session expired", platform.ErrInvalidLocator)
	}
	if err := cursor.Validate(s.query.Object, loc); err != nil {
		return nil, fmt.Errorf("query more: %w: %v", platform.ErrInvalidLocator, err)
	}

	ctx, span := startSpan(ctx, "sqlmirror.query_more", attribute.String("db.table", loc.Object))
	defer func() {
		recordSpanError(span, err)
		span.End()
	}()
	return m.page(ctx, s.query, loc.Offset, &sessionRef{id: loc.Session, total: s.total})
}

type sessionRef struct {
	id    string
	total int
}

// page reads the rows [skip, skip+pageSize) of q and registers or retires
// the query session accordingly.
func (m *Mirror) page(ctx context.Context, q soql.Query, skip int, ref *sessionRef) (*platform.QueryResult, error) {
	if len(q.Fields) == 0 {
		return nil, malformed("query on " + q.Object + " selects no fields")
	}
	p, err := m.newPlan(ctx, q.Object)
	if err != nil {
		return nil, err
	}

	columns := make([]string, 0, len(q.Fields))
	outputs := make([]selected, 0, len(q.Fields))
	seen := make(map[string]struct{}, len(q.Fields))
	for _, f := range q.Fields {
		col, sel, err := p.column(f)
		if err != nil {
			return nil, err
		}
		if _, dup := seen[col]; dup {
			continue
		}
		seen[col] = struct{}{}
		columns = append(columns, col)
		outputs = append(outputs, sel)
	}

	remaining := -1
	if q.Limit > 0 {
		remaining = q.Limit - skip
		if remaining <= 0 {
			m.closeSession(ref)
			return &platform.QueryResult{TotalSize: skip, Done: true, Records: []platform.Record{}}, nil
		}
	}
	fetch := m.pageSize + 1
	if remaining >= 0 && remaining <= m.pageSize {
		fetch = remaining
	}

	builder := sq.Select(columns...).PlaceholderFormat(sq.Question)
	if q.Where != nil {
		cond, err := p.where(q.Where)
		if err != nil {
			return nil, err
		}
		builder = builder.Where(cond)
	}
	for _, o := range q.OrderBy {
		terms, err := p.orderBy(o)
		if err != nil {
			return nil, err
		}
		builder = builder.OrderBy(terms...)
	}
	// The join list is only complete once every clause has been resolved.
	builder = builder.From(p.from()).Limit(uint64(fetch))
	if offset := q.Offset + skip; offset > 0 {
		builder = builder.Offset(uint64(offset))
	}

	records, err := m.selectRecords(ctx, builder, outputs)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", q.Object, err)
	}

	res := &platform.QueryResult{Done: true, Records: records}
	if len(records) > m.pageSize {
		res.Records = records[:m.pageSize]
		res.Done = false
	}
	next := skip + len(res.Records)

	if res.Done {
		m.closeSession(ref)
		res.TotalSize = next
		if ref != nil {
			res.TotalSize = ref.total
		}
		return res, nil
	}

	if ref == nil {
		total, err := m.countRows(ctx, p, q)
		if err != nil {
			return nil, err
		}
		ref = m.openSession(q, total)
	} else {
		m.touchSession(ref.id)
	}
	res.TotalSize = ref.total
	res.NextRecordsURL = LocatorPrefix + cursor.Encode(cursor.Locator{Object: p.base.desc.Name, Session: ref.id, Offset: next})
	return res, nil
}

func (m *Mirror) count(ctx context.Context, q soql.Query) (*platform.QueryResult, error) {
	p, err := m.newPlan(ctx, q.Object)
	if err != nil {
		return nil, err
	}
	total, err := m.countRows(ctx, p, q)
	if err != nil {
		return nil, err
	}
	return &platform.QueryResult{TotalSize: total, Done: true, Records: []platform.Record{}}, nil
}

func (m *Mirror) countRows(ctx context.Context, p *plan, q soql.Query) (int, error) {
	builder := sq.Select("COUNT(*)").PlaceholderFormat(sq.Question)
	if q.Where != nil {
		cond, err := p.where(q.Where)
		if err != nil {
			return 0, err
		}
		builder = builder.Where(cond)
	}
	sqlText, args, err := builder.From(p.from()).ToSql()
	if err != nil {
		return 0, malformed(err.Error())
	}
	rows, err := m.exec.QueryContext(ctx, sqlText, args...)
	if err != nil {
		return 0, mapError(ctx, err)
	}
	defer func() {
		_ = rows.Close()
	}()
	var total int
	if rows.Next() {
		if err := rows.Scan(&total); err != nil {
			return 0, err
		}
	}
	if err := rows.Err(); err != nil {
		return 0, mapError(ctx, err)
	}
	return total, nil
}

func (m *Mirror) aggregate(ctx context.Context, q soql.Query) (*platform.QueryResult, error) {
	p, err := m.newPlan(ctx, q.Object)
	if err != nil {
		return nil, err
	}
	columns := make([]string, 0, len(q.Aggregates))
	outputs := make([]selected, 0, len(q.Aggregates))
	for i, agg := range q.Aggregates {
		switch agg.Func {
		case soql.Sum, soql.Min, soql.Max:
		default:
			return nil, malformed(fmt.Sprintf("unsupported aggregate %q", agg.Func))
		}
		col, _, err := p.column(agg.Field)
		if err != nil {
			return nil, err
		}
		alias := agg.Alias
		if alias == "" {
			alias = fmt.Sprintf("expr%d", i)
		}
		if !soql.ValidField(alias) || strings.Contains(alias, ".") {
			return nil, malformed("invalid aggregate alias " + alias)
		}
		columns = append(columns, fmt.Sprintf("%s(%s) AS %s", agg.Func, col, sqlutil.QuoteIdentifier(alias)))
		outputs = append(outputs, selected{path: []string{alias}, typ: platform.TypeDouble})
	}

	builder := sq.Select(columns...).PlaceholderFormat(sq.Question)
	if q.Where != nil {
		cond, err := p.where(q.Where)
		if err != nil {
			return nil, err
		}
		builder = builder.Where(cond)
	}
	records, err := m.selectRecords(ctx, builder.From(p.from()), outputs)
	if err != nil {
		return nil, fmt.Errorf("aggregate %s: %w", q.Object, err)
	}
	return &platform.QueryResult{TotalSize: len(records), Done: true, Records: records}, nil
}

func (m *Mirror) selectRecords(ctx context.Context, builder sq.SelectBuilder, outputs []selected) ([]platform.Record, error) {
	sqlText, args, err := builder.ToSql()
	if err != nil {
		return nil, malformed(err.Error())
	}
	m.logger.Debug("mirror query", slog.String("sql", sqlText), slog.Int("args", len(args)))

	rows, err := m.exec.QueryContext(ctx, sqlText, args...)
	if err != nil {
		return nil, mapError(ctx, err)
	}
	defer func() {
		_ = rows.Close()
	}()
	records, err := scanRecords(rows, outputs)
	if err != nil {
		return nil, mapError(ctx, err)
	}
	return records, nil
}

func (m *Mirror) openSession(q soql.Query, total int) *sessionRef {
	id := newSessionID()
	now := m.now()
	m.mu.Lock()
	defer m.mu.Unlock()
	for key, s := range m.sessions {
		if !now.Before(s.expires) {
			delete(m.sessions, key)
		}
	}
	m.sessions[id] = &session{query: q, total: total, expires: now.Add(m.locatorTTL)}
	return &sessionRef{id: id, total: total}
}

func (m *Mirror) touchSession(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[id]; ok {
		s.expires = m.now().Add(m.locatorTTL)
	}
}

func (m *Mirror) closeSession(ref *sessionRef) {
	if ref == nil {
		return
	}
	m.mu.Lock()
	delete(m.sessions, ref.id)
	m.mu.Unlock()
}

// Update applies each record update with its own UPDATE statement.
// Per-record failures are reported in the results; a connection failure
// aborts the batch with an error.
func (m *Mirror) Update(ctx context.Context, object string, updates []platform.RecordUpdate) (results []platform.SaveResult, err error) {
	start := time.Now()
	defer func() {
		m.metrics.RecordPlatformCall(ctx, "update", object, time.Since(start), err)
	}()
	if len(updates) == 0 {
		return nil, nil
	}
	if !soql.ValidField(object) || strings.Contains(object, ".") {
		return nil, fmt.Errorf("update %q: %w", object, platform.ErrObjectNotFound)
	}
	t, err := m.lookupTable(ctx, object)
	if err != nil {
		return nil, fmt.Errorf("update %s: %w", object, err)
	}
	idField, ok := t.field("Id")
	if !ok {
		return nil, fmt.Errorf("update %s: %w", object, invalidField("Id", t.desc.Name))
	}

	results = make([]platform.SaveResult, 0, len(updates))
	for _, u := range updates {
		res, err := m.updateOne(ctx, t, idField.Name, u)
		if err != nil {
			return nil, fmt.Errorf("update %s: %w", object, err)
		}
		results = append(results, res)
	}
	return results, nil
}

func (m *Mirror) updateOne(ctx context.Context, t *table, idColumn string, u platform.RecordUpdate) (platform.SaveResult, error) {
	fail := func(code, msg string) platform.SaveResult {
		return platform.SaveResult{ID: u.ID, Errors: []string{code + ": " + msg}}
	}
	if len(u.Fields) == 0 {
		return fail("MISSING_ARGUMENT", "no fields to update"), nil
	}
	set := make(map[string]any, len(u.Fields))
	for name, v := range u.Fields {
		f, ok := t.field(name)
		if !ok {
			return fail("INVALID_FIELD", fmt.Sprintf("No such column '%s' on entity '%s'", name, t.desc.Name)), nil
		}
		set[sqlutil.QuoteIdentifier(f.Name)] = v
	}

	sqlText, args, err := sq.Update(sqlutil.QuoteIdentifier(t.desc.Name)).
		SetMap(set).
		Where(sq.Eq{sqlutil.QuoteIdentifier(idColumn): u.ID}).
		PlaceholderFormat(sq.Question).
		ToSql()
	if err != nil {
		return fail("MALFORMED_QUERY", err.Error()), nil
	}
	result, err := m.exec.ExecContext(ctx, sqlText, args...)
	if err != nil {
		mapped := mapError(ctx, err)
		if platform.IsTransient(mapped) || ctx.Err() != nil {
			return platform.SaveResult{}, mapped
		}
		return platform.SaveResult{ID: u.ID, Errors: []string{mapped.Error()}}, nil
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return platform.SaveResult{}, mapError(ctx, err)
	}
	if affected == 0 {
		return fail("ENTITY_IS_DELETED", "entity is deleted"), nil
	}
	return platform.SaveResult{ID: u.ID, Success: true}, nil
}

func startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	tracer := otel.Tracer("crm-approvals/sqlmirror")
	ctx, span := tracer.Start(ctx, name)
	if len(attrs) > 0 {
		span.SetAttributes(attrs...)
	}
	return ctx, span
}

func recordSpanError(span trace.Span, err error) {
	if err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
