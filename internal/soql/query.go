// Package soql models the subset of the platform query language the review
// engine issues and renders it to query text.
package soql

import (
	"fmt"
	"strings"

	sq "github.com/Masterminds/squirrel"
)

// Order is one ORDER BY term.
type Order struct {
	Field     string
	Desc      bool
	NullsLast bool
}

func (o Order) String() string {
	var b strings.Builder
	b.WriteString(o.Field)
	if o.Desc {
		b.WriteString(" DESC")
	} else {
		b.WriteString(" ASC")
	}
	if o.NullsLast {
		b.WriteString(" NULLS LAST")
	}
	return b.String()
}

// AggregateFunc names a supported aggregate function.
type AggregateFunc string

const (
	Sum AggregateFunc = "SUM"
	Max AggregateFunc = "MAX"
	Min AggregateFunc = "MIN"
)

// Aggregate selects Func(Field) under Alias.
type Aggregate struct {
	Func  AggregateFunc
	Field string
	Alias string
}

// Query is a single SELECT against one object.
type Query struct {
	Object     string
	Fields     []string
	Where      Predicate
	OrderBy    []Order
	Limit      int
	Offset     int
	Count      bool
	Aggregates []Aggregate
}

// And returns a copy of q with p ANDed onto its WHERE clause.
func (q Query) And(p Predicate) Query {
	q.Where = AllOf(q.Where, p)
	return q
}

// Render returns the query text for q.
func Render(q Query) (string, error) {
	if err := checkField(q.Object); err != nil || strings.Contains(q.Object, ".") {
		return "", fmt.Errorf("soql: invalid object name %q", q.Object)
	}
	columns, err := selectColumns(q)
	if err != nil {
		return "", err
	}

	builder := sq.Select(columns...).From(q.Object).PlaceholderFormat(sq.Question)
	if q.Where != nil {
		builder = builder.Where(q.Where)
	}
	if !q.Count && len(q.Aggregates) == 0 {
		for _, o := range q.OrderBy {
			if err := checkField(o.Field); err != nil {
				return "", err
			}
			builder = builder.OrderBy(o.String())
		}
	}
	if q.Limit > 0 {
		builder = builder.Limit(uint64(q.Limit))
	}
	if q.Offset > 0 {
		builder = builder.Offset(uint64(q.Offset))
	}

	sqlText, args, err := builder.ToSql()
	if err != nil {
		return "", fmt.Errorf("soql: build %s query: %w", q.Object, err)
	}
	return inline(sqlText, args)
}

func selectColumns(q Query) ([]string, error) {
	if q.Count {
		return []string{"COUNT()"}, nil
	}
	if len(q.Aggregates) > 0 {
		cols := make([]string, 0, len(q.Aggregates))
		for _, agg := range q.Aggregates {
			if err := checkField(agg.Field); err != nil {
				return nil, err
			}
			switch agg.Func {
			case Sum, Max, Min:
			default:
				return nil, fmt.Errorf("soql: unsupported aggregate %q", agg.Func)
			}
			col := fmt.Sprintf("%s(%s)", agg.Func, agg.Field)
			if agg.Alias != "" {
				if err := checkField(agg.Alias); err != nil {
					return nil, err
				}
				col += " " + agg.Alias
			}
			cols = append(cols, col)
		}
		return cols, nil
	}
	if len(q.Fields) == 0 {
		return nil, fmt.Errorf("soql: query on %s selects no fields", q.Object)
	}
	for _, f := range q.Fields {
		if err := checkField(f); err != nil {
			return nil, err
		}
	}
	return dedupe(q.Fields), nil
}

func dedupe(fields []string) []string {
	seen := make(map[string]struct{}, len(fields))
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		key := strings.ToLower(f)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, f)
	}
	return out
}
