package sqlmirror

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"crm-approvals/internal/platform"
	"crm-approvals/internal/soql"
	"crm-approvals/internal/sqlutil"

	sq "github.com/Masterminds/squirrel"
)

const baseAlias = "t0"

// plan resolves the dotted field paths of one query to aliased columns,
// adding a LEFT JOIN per traversed relationship.
type plan struct {
	m      *Mirror
	ctx    context.Context
	base   *table
	joins  []string
	byPath map[string]*joined
}

type joined struct {
	alias string
	table *table
}

// selected is one output column: the record path it is stored under and
// the field type used to convert the scanned value.
type selected struct {
	path []string
	typ  string
}

func (m *Mirror) newPlan(ctx context.Context, object string) (*plan, error) {
	if !soql.ValidField(object) || strings.Contains(object, ".") {
		return nil, fmt.Errorf("query %q: %w", object, platform.ErrObjectNotFound)
	}
	base, err := m.lookupTable(ctx, object)
	if err != nil {
		return nil, err
	}
	return &plan{
		m:      m,
		ctx:    ctx,
		base:   base,
		byPath: map[string]*joined{"": {alias: baseAlias, table: base}},
	}, nil
}

// from renders the FROM clause including the joins collected so far.
func (p *plan) from() string {
	parts := []string{sqlutil.QuoteIdentifier(p.base.desc.Name) + " AS " + sqlutil.QuoteIdentifier(baseAlias)}
	parts = append(parts, p.joins...)
	return strings.Join(parts, " ")
}

// column resolves path to a quoted column expression. The returned
// selected carries the canonical record path.
func (p *plan) column(path string) (string, selected, error) {
	if !soql.ValidField(path) {
		return "", selected{}, invalidField(path, p.base.desc.Name)
	}
	parts := strings.Split(path, ".")
	cur := p.byPath[""]
	canonical := make([]string, 0, len(parts))
	key := ""
	for _, rel := range parts[:len(parts)-1] {
		fk, ok := cur.table.refs[strings.ToLower(rel)]
		if !ok {
			return "", selected{}, invalidRelationship(rel, cur.table.desc.Name)
		}
		lookup, _ := cur.table.field(fk.ColumnName)
		canonical = append(canonical, lookup.RelationshipName)
		key += "." + strings.ToLower(rel)
		next, ok := p.byPath[key]
		if !ok {
			target, err := p.m.lookupTable(p.ctx, fk.ReferencedTable)
			if err != nil {
				return "", selected{}, err
			}
			next = &joined{alias: sqlutil.TableAlias(len(p.byPath)), table: target}
			p.byPath[key] = next
			p.joins = append(p.joins, fmt.Sprintf("LEFT JOIN %s AS %s ON %s = %s",
				sqlutil.QuoteIdentifier(target.desc.Name),
				sqlutil.QuoteIdentifier(next.alias),
				sqlutil.QualifiedColumn(next.alias, fk.ReferencedColumn),
				sqlutil.QualifiedColumn(cur.alias, fk.ColumnName),
			))
		}
		cur = next
	}
	leaf := parts[len(parts)-1]
	f, ok := cur.table.field(leaf)
	if !ok {
		return "", selected{}, invalidField(leaf, cur.table.desc.Name)
	}
	canonical = append(canonical, f.Name)
	return sqlutil.QualifiedColumn(cur.alias, f.Name), selected{path: canonical, typ: f.Type}, nil
}

// where translates a predicate tree into squirrel expressions over
// resolved columns.
func (p *plan) where(pred soql.Predicate) (sq.Sqlizer, error) {
	switch node := pred.(type) {
	case soql.Eq:
		col, _, err := p.column(node.Field)
		if err != nil {
			return nil, err
		}
		return sq.Eq{col: sqlValue(node.Value)}, nil
	case soql.In:
		col, _, err := p.column(node.Field)
		if err != nil {
			return nil, err
		}
		if len(node.Values) == 0 {
			return nil, malformed("empty IN list for " + node.Field)
		}
		return sq.Eq{col: node.Values}, nil
	case soql.Cmp:
		col, _, err := p.column(node.Field)
		if err != nil {
			return nil, err
		}
		v := sqlValue(node.Value)
		switch node.Op {
		case soql.OpGt:
			return sq.Gt{col: v}, nil
		case soql.OpGte:
			return sq.GtOrEq{col: v}, nil
		case soql.OpLt:
			return sq.Lt{col: v}, nil
		case soql.OpLte:
			return sq.LtOrEq{col: v}, nil
		case soql.OpNe:
			return sq.NotEq{col: v}, nil
		}
		return nil, malformed(fmt.Sprintf("unsupported operator %q", node.Op))
	case soql.And:
		parts, err := p.group(node)
		if err != nil {
			return nil, err
		}
		return sq.And(parts), nil
	case soql.Or:
		parts, err := p.group(node)
		if err != nil {
			return nil, err
		}
		return sq.Or(parts), nil
	case nil:
		return nil, malformed("nil predicate")
	}
	return nil, malformed(fmt.Sprintf("unsupported predicate %T", pred))
}

func (p *plan) group(preds []soql.Predicate) ([]sq.Sqlizer, error) {
	if len(preds) == 0 {
		return nil, malformed("empty predicate group")
	}
	out := make([]sq.Sqlizer, 0, len(preds))
	for _, pred := range preds {
		s, err := p.where(pred)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

// orderBy renders one ORDER BY term. MySQL sorts NULLs first ascending and
// last descending, so NULLS LAST needs an explicit IS NULL key.
func (p *plan) orderBy(o soql.Order) ([]string, error) {
	col, _, err := p.column(o.Field)
	if err != nil {
		return nil, err
	}
	dir := " ASC"
	if o.Desc {
		dir = " DESC"
	}
	if o.NullsLast && !o.Desc {
		return []string{col + " IS NULL", col + dir}, nil
	}
	return []string{col + dir}, nil
}

// sqlValue converts a query literal to a driver argument. Datetime
// literals become time.Time so MySQL compares them as DATETIME values.
func sqlValue(v any) any {
	lit, ok := v.(soql.Literal)
	if !ok {
		return v
	}
	s := string(lit)
	if strings.Contains(s, "T") {
		for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05Z0700", "2006-01-02T15:04:05"} {
			if ts, err := time.Parse(layout, s); err == nil {
				return ts.UTC()
			}
		}
	}
	return s
}

func invalidField(field, object string) error {
	return &platform.APIError{
		StatusCode: http.StatusBadRequest,
		Code:       "INVALID_FIELD",
		Message:    fmt.Sprintf("No such column '%s' on entity '%s'", field, object),
	}
}

func invalidRelationship(rel, object string) error {
	return &platform.APIError{
		StatusCode: http.StatusBadRequest,
		Code:       "INVALID_FIELD",
		Message:    fmt.Sprintf("Didn't understand relationship '%s' on entity '%s'", rel, object),
	}
}

func malformed(msg string) error {
	return &platform.APIError{StatusCode: http.StatusBadRequest, Code: "MALFORMED_QUERY", Message: msg}
}
