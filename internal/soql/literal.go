package soql

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Literal is emitted verbatim. Date and datetime comparisons need unquoted
// values; build them with DateLiteral.
type Literal string

var datePattern = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}(T\d{2}:\d{2}:\d{2}(\.\d{1,3})?(Z|[+-]\d{2}:?\d{2})?)?$`)

// DateLiteral validates s as a date or datetime value.
func DateLiteral(s string) (Literal, bool) {
	if !datePattern.MatchString(s) {
		return "", false
	}
	return Literal(s), true
}

var stringEscaper = strings.NewReplacer(
	`\`, `\\`,
	`'`, `\'`,
	"\n", `\n`,
	"\r", `\r`,
	"\t", `\t`,
	"\b", `\b`,
	"\f", `\f`,
	`"`, `\"`,
)

// QuoteString renders s as a single-quoted SOQL string literal.
func QuoteString(s string) string {
	return "'" + stringEscaper.Replace(s) + "'"
}

// FormatValue renders v as a SOQL literal.
func FormatValue(v any) (string, error) {
	switch val := v.(type) {
	case nil:
		return "null", nil
	case string:
		return QuoteString(val), nil
	case Literal:
		return string(val), nil
	case bool:
		return strconv.FormatBool(val), nil
	case int:
		return strconv.Itoa(val), nil
	case int64:
		return strconv.FormatInt(val, 10), nil
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64), nil
	case time.Time:
		return val.UTC().Format("2006-01-02T15:04:05Z"), nil
	default:
		return "", fmt.Errorf("soql: unsupported literal type %T", v)
	}
}

// inline replaces each "?" placeholder with the matching argument literal.
// Identifiers are validated before they reach the template, so every "?" in
// it is a placeholder.
func inline(sql string, args []interface{}) (string, error) {
	var b strings.Builder
	b.Grow(len(sql) + 16*len(args))
	next := 0
	for _, r := range sql {
		if r != '?' {
			b.WriteRune(r)
			continue
		}
		if next >= len(args) {
			return "", fmt.Errorf("soql: placeholder without argument")
		}
		lit, err := FormatValue(args[next])
		if err != nil {
			return "", err
		}
		b.WriteString(lit)
		next++
	}
	if next != len(args) {
		return "", fmt.Errorf("soql: %d arguments for %d placeholders", len(args), next)
	}
	return b.String(), nil
}
