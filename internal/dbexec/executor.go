// Package dbexec runs the SQL mirror's statements against a database handle.
package dbexec

import (
	"context"
	"database/sql"
	"log/slog"
	"strings"
	"time"

	"crm-approvals/internal/logging"
)

// Rows abstracts sql.Rows so tests and wrappers can substitute their own.
type Rows interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
	Close() error
}

// QueryExecutor is the subset of *sql.DB the mirror uses.
type QueryExecutor interface {
	QueryContext(ctx context.Context, query string, args ...any) (Rows, error)
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// maxLoggedQuery caps the statement text in slow query logs.
const maxLoggedQuery = 512

// StandardExecutor executes queries directly against a database handle.
type StandardExecutor struct {
	db            *sql.DB
	logger        *logging.Logger
	slowThreshold time.Duration
	now           func() time.Time
}

// Option configures a StandardExecutor.
type Option func(*StandardExecutor)

// WithSlowQueryLog logs statements slower than threshold at WARN. A zero
// threshold disables the log.
func WithSlowQueryLog(logger *logging.Logger, threshold time.Duration) Option {
	return func(e *StandardExecutor) {
		e.logger = logger
		e.slowThreshold = threshold
	}
}

// NewStandardExecutor creates an executor that runs queries directly against the database.
func NewStandardExecutor(db *sql.DB, opts ...Option) *StandardExecutor {
	e := &StandardExecutor{db: db, now: time.Now}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *StandardExecutor) QueryContext(ctx context.Context, query string, args ...any) (Rows, error) {
	if e.db == nil {
		return nil, sql.ErrConnDone
	}
	defer e.observe(ctx, "query", query, e.now())
	return e.db.QueryContext(ctx, query, args...)
}

func (e *StandardExecutor) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	if e.db == nil {
		return nil, sql.ErrConnDone
	}
	defer e.observe(ctx, "exec", query, e.now())
	return e.db.ExecContext(ctx, query, args...)
}

// observe measures time to first row for queries, not the full scan.
func (e *StandardExecutor) observe(ctx context.Context, kind, query string, start time.Time) {
	if e.slowThreshold <= 0 || e.logger == nil {
		return
	}
	elapsed := e.now().Sub(start)
	if elapsed < e.slowThreshold {
		return
	}
	e.logger.Warn("slow mirror statement",
		slog.String("request_id", logging.GetRequestID(ctx)),
		slog.String("kind", kind),
		slog.Duration("duration", elapsed),
		slog.String("statement", compactQuery(query)),
	)
}

func compactQuery(query string) string {
	query = strings.Join(strings.Fields(query), " ")
	if len(query) > maxLoggedQuery {
		return query[:maxLoggedQuery] + "..."
	}
	return query
}
