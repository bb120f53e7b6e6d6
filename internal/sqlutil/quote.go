// Package sqlutil provides SQL utility functions.
package sqlutil

import (
	"strconv"
	"strings"
)

// QuoteIdentifier quotes a SQL identifier (table name, column name, etc.)
// with backticks and escapes any backticks within the identifier.
func QuoteIdentifier(name string) string {
	escaped := strings.ReplaceAll(name, "`", "``")
	return "`" + escaped + "`"
}

// QualifiedColumn renders alias.column with both parts quoted.
func QualifiedColumn(alias, column string) string {
	return QuoteIdentifier(alias) + "." + QuoteIdentifier(column)
}

// TableAlias returns the join alias of the n-th table in a query.
func TableAlias(n int) string {
	return "t" + strconv.Itoa(n)
}
