package sqlmirror

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
)

// NormalizeDSN parses a MySQL DSN and applies the driver settings the
// mirror relies on: parsed DATE/DATETIME values in UTC, and affected-row
// counts that include matched-but-unchanged rows so an update that writes
// the current value still counts as a success. It returns the DSN and its
// database name.
func NormalizeDSN(dsn string) (string, string, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return "", "", fmt.Errorf("sqlmirror: dsn is required")
	}
	parsed, err := mysql.ParseDSN(dsn)
	if err != nil {
		return "", "", fmt.Errorf("sqlmirror: dsn is invalid: %w", err)
	}
	parsed.ParseTime = true
	parsed.ClientFoundRows = true
	parsed.Loc = time.UTC
	return parsed.FormatDSN(), strings.TrimSpace(parsed.DBName), nil
}
