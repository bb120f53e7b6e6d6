package soql

import (
	"fmt"
	"regexp"
	"strings"

	sq "github.com/Masterminds/squirrel"
)

// Predicate is a node of a WHERE clause. Nodes render through squirrel with
// "?" placeholders; Render inlines the arguments as SOQL literals.
type Predicate interface {
	sq.Sqlizer
}

// Op is a comparison operator.
type Op string

const (
	OpGt  Op = ">"
	OpGte Op = ">="
	OpLt  Op = "<"
	OpLte Op = "<="
	OpNe  Op = "!="
)

var fieldPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)*$`)

// ValidField reports whether name is a plain or dotted field reference.
func ValidField(name string) bool {
	return fieldPattern.MatchString(name)
}

func checkField(name string) error {
	if !ValidField(name) {
		return fmt.Errorf("soql: invalid field reference %q", name)
	}
	return nil
}

// Eq matches Field = Value. A nil Value renders as "= null".
type Eq struct {
	Field string
	Value any
}

func (e Eq) ToSql() (string, []interface{}, error) {
	if err := checkField(e.Field); err != nil {
		return "", nil, err
	}
	return e.Field + " = ?", []interface{}{e.Value}, nil
}

// In matches Field IN (Values...).
type In struct {
	Field  string
	Values []string
}

func (in In) ToSql() (string, []interface{}, error) {
	if err := checkField(in.Field); err != nil {
		return "", nil, err
	}
	if len(in.Values) == 0 {
		return "", nil, fmt.Errorf("soql: empty IN list for %s", in.Field)
	}
	args := make([]interface{}, len(in.Values))
	for i, v := range in.Values {
		args[i] = v
	}
	return in.Field + " IN (" + sq.Placeholders(len(in.Values)) + ")", args, nil
}

// Cmp matches Field <Op> Value.
type Cmp struct {
	Field string
	Op    Op
	Value any
}

func (c Cmp) ToSql() (string, []interface{}, error) {
	if err := checkField(c.Field); err != nil {
		return "", nil, err
	}
	switch c.Op {
	case OpGt, OpGte, OpLt, OpLte, OpNe:
	default:
		return "", nil, fmt.Errorf("soql: unsupported operator %q", c.Op)
	}
	return fmt.Sprintf("%s %s ?", c.Field, c.Op), []interface{}{c.Value}, nil
}

// And joins predicates with AND.
type And []Predicate

func (a And) ToSql() (string, []interface{}, error) {
	return join(a, "AND")
}

// Or joins predicates with OR.
type Or []Predicate

func (o Or) ToSql() (string, []interface{}, error) {
	return join(o, "OR")
}

func join(parts []Predicate, sep string) (string, []interface{}, error) {
	if len(parts) == 0 {
		return "", nil, fmt.Errorf("soql: empty %s group", sep)
	}
	conj := make([]sq.Sqlizer, 0, len(parts))
	for _, p := range parts {
		if p == nil {
			return "", nil, fmt.Errorf("soql: nil predicate in %s group", sep)
		}
		conj = append(conj, p)
	}
	if sep == "AND" {
		return sq.And(conj).ToSql()
	}
	return sq.Or(conj).ToSql()
}

// AllOf ANDs the non-nil predicates. It returns nil when none remain and the
// single predicate when only one does.
func AllOf(preds ...Predicate) Predicate {
	kept := compact(preds)
	switch len(kept) {
	case 0:
		return nil
	case 1:
		return kept[0]
	}
	return And(kept)
}

// AnyOf ORs the non-nil predicates with the same collapsing rules as AllOf.
func AnyOf(preds ...Predicate) Predicate {
	kept := compact(preds)
	switch len(kept) {
	case 0:
		return nil
	case 1:
		return kept[0]
	}
	return Or(kept)
}

func compact(preds []Predicate) []Predicate {
	kept := make([]Predicate, 0, len(preds))
	for _, p := range preds {
		if p != nil {
			kept = append(kept, p)
		}
	}
	return kept
}

// MatchNone returns a predicate no record satisfies.
func MatchNone() Predicate {
	return Eq{Field: "Id", Value: nil}
}

// IsMatchNone reports whether p is the MatchNone predicate.
func IsMatchNone(p Predicate) bool {
	eq, ok := p.(Eq)
	return ok && eq.Value == nil && strings.EqualFold(eq.Field, "Id")
}
