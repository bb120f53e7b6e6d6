package platformtest

import (
	"fmt"
	"strings"

	"crm-approvals/internal/platform"
	"crm-approvals/internal/soql"
)

// Match evaluates a predicate against a record. A nil predicate matches.
func Match(rec platform.Record, pred soql.Predicate) (bool, error) {
	switch p := pred.(type) {
	case nil:
		return true, nil
	case soql.Eq:
		v, _ := rec.Lookup(p.Field)
		if p.Value == nil {
			return v == nil, nil
		}
		return v != nil && compare(v, p.Value) == 0, nil
	case soql.In:
		v, _ := rec.Lookup(p.Field)
		if v == nil {
			return false, nil
		}
		s := platform.AsString(v)
		for _, candidate := range p.Values {
			if strings.EqualFold(s, candidate) {
				return true, nil
			}
		}
		return false, nil
	case soql.Cmp:
		v, _ := rec.Lookup(p.Field)
		if p.Op == soql.OpNe {
			if p.Value == nil {
				return v != nil, nil
			}
			return v == nil || compare(v, p.Value) != 0, nil
		}
		if v == nil || p.Value == nil {
			return false, nil
		}
		c := compare(v, p.Value)
		switch p.Op {
		case soql.OpGt:
			return c > 0, nil
		case soql.OpGte:
			return c >= 0, nil
		case soql.OpLt:
			return c < 0, nil
		case soql.OpLte:
			return c <= 0, nil
		}
		return false, fmt.Errorf("unsupported operator %q", p.Op)
	case soql.And:
		for _, part := range p {
			ok, err := Match(rec, part)
			if err != nil || !ok {
				return false, err
			}
		}
		return true, nil
	case soql.Or:
		for _, part := range p {
			ok, err := Match(rec, part)
			if err != nil {
				return false, err
			}
			if ok {
				return true, nil
			}
		}
		return false, nil
	}
	return false, fmt.Errorf("unsupported predicate %T", pred)
}

func compare(a, b any) int {
	if lit, ok := b.(soql.Literal); ok {
		b = string(lit)
	}
	if lit, ok := a.(soql.Literal); ok {
		a = string(lit)
	}
	_, aStr := a.(string)
	_, bStr := b.(string)
	if !aStr || !bStr {
		af, aok := platform.AsFloat(a)
		bf, bok := platform.AsFloat(b)
		if aok && bok {
			switch {
			case af < bf:
				return -1
			case af > bf:
				return 1
			}
			return 0
		}
	}
	return strings.Compare(strings.ToLower(platform.AsString(a)), strings.ToLower(platform.AsString(b)))
}
