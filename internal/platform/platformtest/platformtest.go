// Package platformtest provides an in-memory platform for tests. It
// evaluates soql.Query values against stored records, pages results with
// continuation locators and enforces the offset cap.
package platformtest

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"crm-approvals/internal/platform"
	"crm-approvals/internal/soql"
)

const (
	DefaultPageSize  = 2000
	DefaultOffsetCap = 2000
)

type object struct {
	describe platform.ObjectDescribe
	records  []platform.Record
}

// Platform is an in-memory platform.Client.
type Platform struct {
	// PageSize is the number of rows per response.
	PageSize int
	// OffsetCap is the largest OFFSET accepted.
	OffsetCap int
	// OmitLocators drops continuation locators from partial responses.
	OmitLocators bool
	// ExpireLocators makes every QueryMore fail with ErrInvalidLocator.
	ExpireLocators bool

	// QueryErr, when set, is consulted before each Query.
	QueryErr func(q soql.Query) error
	// DescribeErr, when set, is consulted before each Describe.
	DescribeErr func(object string) error
	// UpdateErr, when set, is consulted before each Update.
	UpdateErr func(object string, updates []platform.RecordUpdate) error

	mu         sync.Mutex
	objects    map[string]*object
	cursors    map[string][]platform.Record
	nextCursor int
	queries    []soql.Query
	describes  []string
	queryMores int
}

var _ platform.Client = (*Platform)(nil)

// New returns an empty platform.
func New() *Platform {
	return &Platform{
		PageSize:  DefaultPageSize,
		OffsetCap: DefaultOffsetCap,
		objects:   make(map[string]*object),
		cursors:   make(map[string][]platform.Record),
	}
}

// AddObject registers an object and its records.
func (p *Platform) AddObject(desc platform.ObjectDescribe, records ...platform.Record) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.objects[lower(desc.Name)] = &object{describe: desc, records: records}
}

// Insert appends records to a registered object.
func (p *Platform) Insert(objectName string, records ...platform.Record) {
	p.mu.Lock()
	defer p.mu.Unlock()
	obj, ok := p.objects[lower(objectName)]
	if !ok {
		panic("platformtest: unknown object " + objectName)
	}
	obj.records = append(obj.records, records...)
}

// Records returns the stored records of an object.
func (p *Platform) Records(objectName string) []platform.Record {
	p.mu.Lock()
	defer p.mu.Unlock()
	if obj, ok := p.objects[lower(objectName)]; ok {
		return append([]platform.Record(nil), obj.records...)
	}
	return nil
}

// Queries returns every query received so far.
func (p *Platform) Queries() []soql.Query {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]soql.Query(nil), p.queries...)
}

// Describes returns every object name described so far.
func (p *Platform) Describes() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.describes...)
}

// QueryMoreCalls returns the number of QueryMore calls.
func (p *Platform) QueryMoreCalls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.queryMores
}

// ResetCalls clears the recorded calls.
func (p *Platform) ResetCalls() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.queries = nil
	p.describes = nil
	p.queryMores = 0
}

func (p *Platform) Describe(ctx context.Context, objectName string) (*platform.ObjectDescribe, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p.mu.Lock()
	p.describes = append(p.describes, objectName)
	p.mu.Unlock()
	if p.DescribeErr != nil {
		if err := p.DescribeErr(objectName); err != nil {
			return nil, err
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	obj, ok := p.objects[lower(objectName)]
	if !ok {
		return nil, fmt.Errorf("describe %s: %w", objectName, platform.ErrObjectNotFound)
	}
	desc := obj.describe
	desc.Fields = append([]platform.Field(nil), obj.describe.Fields...)
	return &desc, nil
}

func (p *Platform) Query(ctx context.Context, q soql.Query) (*platform.QueryResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p.mu.Lock()
	p.queries = append(p.queries, q)
	p.mu.Unlock()
	if p.QueryErr != nil {
		if err := p.QueryErr(q); err != nil {
			return nil, err
		}
	}
	if _, err := soql.Render(q); err != nil {
		return nil, &platform.APIError{StatusCode: 400, Code: "MALFORMED_QUERY", Message: err.Error()}
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	obj, ok := p.objects[lower(q.Object)]
	if !ok {
		return nil, &platform.APIError{StatusCode: 400, Code: "INVALID_TYPE", Message: "sObject type '" + q.Object + "' is not supported"}
	}
	if p.OffsetCap > 0 && q.Offset > p.OffsetCap {
		return nil, &platform.APIError{StatusCode: 400, Code: "NUMBER_OUTSIDE_VALID_RANGE", Message: fmt.Sprintf("Maximum SOQL offset allowed is %d", p.OffsetCap)}
	}

	matched := make([]platform.Record, 0, len(obj.records))
	for _, rec := range obj.records {
		ok, err := Match(rec, q.Where)
		if err != nil {
			return nil, &platform.APIError{StatusCode: 400, Code: "MALFORMED_QUERY", Message: err.Error()}
		}
		if ok {
			matched = append(matched, rec)
		}
	}

	if q.Count {
		return &platform.QueryResult{TotalSize: len(matched), Done: true, Records: []platform.Record{}}, nil
	}
	if len(q.Aggregates) > 0 {
		return &platform.QueryResult{TotalSize: 1, Done: true, Records: []platform.Record{aggregate(matched, q.Aggregates)}}, nil
	}

	SortRecords(matched, q.OrderBy)
	if q.Offset > 0 {
		if q.Offset >= len(matched) {
			matched = nil
		} else {
			matched = matched[q.Offset:]
		}
	}
	if q.Limit > 0 && len(matched) > q.Limit {
		matched = matched[:q.Limit]
	}

	rows := make([]platform.Record, len(matched))
	for i, rec := range matched {
		rows[i] = project(rec, q.Fields)
	}
	return p.page(rows, len(rows)), nil
}

func (p *Platform) page(rows []platform.Record, total int) *platform.QueryResult {
	size := p.PageSize
	if size <= 0 || len(rows) <= size {
		return &platform.QueryResult{TotalSize: total, Done: true, Records: rows}
	}
	res := &platform.QueryResult{TotalSize: total, Done: false, Records: rows[:size]}
	if !p.OmitLocators {
		p.nextCursor++
		locator := fmt.Sprintf("/services/data/v59.0/query/01gFAKE%06d-%d", p.nextCursor, size)
		p.cursors[locator] = rows[size:]
		res.NextRecordsURL = locator
	}
	return res
}

func (p *Platform) QueryMore(ctx context.Context, locator string) (*platform.QueryResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.queryMores++
	if p.ExpireLocators {
		return nil, fmt.Errorf("query more: %w", platform.ErrInvalidLocator)
	}
	rows, ok := p.cursors[locator]
	if !ok {
		return nil, fmt.Errorf("query more %q: %w", locator, platform.ErrInvalidLocator)
	}
	delete(p.cursors, locator)
	return p.page(rows, len(rows)), nil
}

func (p *Platform) Update(ctx context.Context, objectName string, updates []platform.RecordUpdate) ([]platform.SaveResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if p.UpdateErr != nil {
		if err := p.UpdateErr(objectName, updates); err != nil {
			return nil, err
		}
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	obj, ok := p.objects[lower(objectName)]
	if !ok {
		return nil, &platform.APIError{StatusCode: 400, Code: "INVALID_TYPE", Message: objectName}
	}
	index := make(map[string]platform.Record, len(obj.records))
	for _, rec := range obj.records {
		index[rec.ID()] = rec
	}
	results := make([]platform.SaveResult, 0, len(updates))
	for _, u := range updates {
		rec, ok := index[u.ID]
		if !ok {
			results = append(results, platform.SaveResult{ID: u.ID, Errors: []string{"ENTITY_IS_DELETED: entity is deleted"}})
			continue
		}
		for k, v := range u.Fields {
			rec[k] = v
		}
		results = append(results, platform.SaveResult{ID: u.ID, Success: true})
	}
	return results, nil
}

func lower(s string) string {
	return strings.ToLower(s)
}

func aggregate(rows []platform.Record, aggs []soql.Aggregate) platform.Record {
	out := platform.Record{}
	for i, agg := range aggs {
		alias := agg.Alias
		if alias == "" {
			alias = fmt.Sprintf("expr%d", i)
		}
		var acc *float64
		for _, rec := range rows {
			v, _ := rec.Lookup(agg.Field)
			f, ok := platform.AsFloat(v)
			if !ok {
				continue
			}
			if acc == nil {
				acc = new(float64)
				*acc = f
				continue
			}
			switch agg.Func {
			case soql.Sum:
				*acc += f
			case soql.Max:
				if f > *acc {
					*acc = f
				}
			case soql.Min:
				if f < *acc {
					*acc = f
				}
			}
		}
		if acc == nil {
			out[alias] = nil
		} else {
			out[alias] = *acc
		}
	}
	return out
}

// project copies the selected (possibly dotted) fields into a fresh record.
// Relationship maps that are nil in the source stay nil.
func project(rec platform.Record, fields []string) platform.Record {
	out := platform.Record{}
	for _, f := range fields {
		parts := strings.Split(f, ".")
		src := map[string]any(rec)
		dst := map[string]any(out)
		for i, part := range parts {
			key, v, ok := findKey(src, part)
			if !ok {
				break
			}
			if i == len(parts)-1 {
				dst[key] = v
				break
			}
			nested, isMap := v.(map[string]any)
			if r, ok := v.(platform.Record); ok {
				nested, isMap = map[string]any(r), true
			}
			if !isMap || nested == nil {
				if _, exists := dst[key]; !exists {
					dst[key] = nil
				}
				break
			}
			next, _ := dst[key].(map[string]any)
			if next == nil {
				next = map[string]any{}
				dst[key] = next
			}
			src, dst = nested, next
		}
	}
	return out
}

func findKey(m map[string]any, key string) (string, any, bool) {
	if v, ok := m[key]; ok {
		return key, v, true
	}
	for k, v := range m {
		if strings.EqualFold(k, key) {
			return k, v, true
		}
	}
	return "", nil, false
}

// SortRecords orders rows the way the platform does: nulls first unless
// NullsLast is set, strings compared case-insensitively.
func SortRecords(rows []platform.Record, orders []soql.Order) {
	if len(orders) == 0 {
		return
	}
	sort.SliceStable(rows, func(i, j int) bool {
		for _, o := range orders {
			a, _ := rows[i].Lookup(o.Field)
			b, _ := rows[j].Lookup(o.Field)
			c := compareNullable(a, b, o.NullsLast)
			if c == 0 {
				continue
			}
			if o.Desc && a != nil && b != nil {
				c = -c
			}
			return c < 0
		}
		return false
	})
}

func compareNullable(a, b any, nullsLast bool) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		if nullsLast {
			return 1
		}
		return -1
	case b == nil:
		if nullsLast {
			return -1
		}
		return 1
	}
	return compare(a, b)
}
