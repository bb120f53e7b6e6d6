package schemamap

import (
	"fmt"
	"regexp"
	"strings"

	"crm-approvals/internal/naming"
)

// MatchKind tags the variant held by a MatchRule.
type MatchKind int

const (
	// MatchExact compares folded names for equality.
	MatchExact MatchKind = iota
	// MatchContainsAll requires every term as a substring and none of the
	// excluded terms.
	MatchContainsAll
	// MatchPattern applies a case-insensitive regular expression.
	MatchPattern
)

func (k MatchKind) String() string {
	switch k {
	case MatchExact:
		return "exact"
	case MatchContainsAll:
		return "contains_all"
	case MatchPattern:
		return "pattern"
	}
	return fmt.Sprintf("MatchKind(%d)", int(k))
}

// MatchRule is one step of a role's fallback chain.
type MatchRule struct {
	Kind    MatchKind
	Names   []string
	Terms   []string
	Exclude []string
	Pattern *regexp.Regexp
}

// Exact matches any of names, ignoring case, accents and separators.
func Exact(names ...string) MatchRule {
	return MatchRule{Kind: MatchExact, Names: names}
}

// ContainsAll matches names containing every term.
func ContainsAll(terms ...string) MatchRule {
	return MatchRule{Kind: MatchContainsAll, Terms: terms}
}

// Excluding returns a copy of a ContainsAll rule that also rejects names
// containing any of terms.
func (r MatchRule) Excluding(terms ...string) MatchRule {
	r.Exclude = append(append([]string(nil), r.Exclude...), terms...)
	return r
}

// Pattern matches names against expr, case-insensitively. It panics on an
// invalid expression; use CompilePattern for configured input.
func Pattern(expr string) MatchRule {
	rule, err := CompilePattern(expr)
	if err != nil {
		panic(err)
	}
	return rule
}

// CompilePattern is Pattern with an error return.
func CompilePattern(expr string) (MatchRule, error) {
	if !strings.HasPrefix(expr, "(?i)") {
		expr = "(?i)" + expr
	}
	re, err := regexp.Compile(expr)
	if err != nil {
		return MatchRule{}, fmt.Errorf("compile match pattern %q: %w", expr, err)
	}
	return MatchRule{Kind: MatchPattern, Pattern: re}, nil
}

// Matches reports whether name satisfies the rule.
func (r MatchRule) Matches(name string) bool {
	folded := naming.Fold(name)
	if folded == "" {
		return false
	}
	switch r.Kind {
	case MatchExact:
		compact := naming.Compact(name)
		for _, candidate := range r.Names {
			if folded == naming.Fold(candidate) || compact == naming.Compact(candidate) {
				return true
			}
		}
		return false
	case MatchContainsAll:
		if len(r.Terms) == 0 {
			return false
		}
		for _, term := range r.Terms {
			if !strings.Contains(folded, naming.Fold(term)) {
				return false
			}
		}
		for _, term := range r.Exclude {
			if strings.Contains(folded, naming.Fold(term)) {
				return false
			}
		}
		return true
	case MatchPattern:
		return r.Pattern != nil && r.Pattern.MatchString(folded)
	}
	return false
}

func (r MatchRule) String() string {
	switch r.Kind {
	case MatchExact:
		return "exact(" + strings.Join(r.Names, "|") + ")"
	case MatchContainsAll:
		s := "contains_all(" + strings.Join(r.Terms, ",") + ")"
		if len(r.Exclude) > 0 {
			s += " excluding(" + strings.Join(r.Exclude, ",") + ")"
		}
		return s
	case MatchPattern:
		if r.Pattern != nil {
			return "pattern(" + r.Pattern.String() + ")"
		}
	}
	return r.Kind.String()
}

// ResolveField applies rules in order and returns the first name matched by
// the earliest rule. Names are tried in the given order within a rule.
func ResolveField(names []string, rules []MatchRule) (string, bool) {
	idx := resolveIndex(names, rules)
	if idx < 0 {
		return "", false
	}
	return names[idx], true
}

func resolveIndex(names []string, rules []MatchRule) int {
	for _, rule := range rules {
		for i, name := range names {
			if rule.Matches(name) {
				return i
			}
		}
	}
	return -1
}
