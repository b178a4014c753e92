// Package pgexec runs parameterized SQL statements against an explicit pool
// handle with bounded retries. Every statement executes in its own
// transaction; a failed attempt is classified by kind, reported to an
// optional observer, and retried unless the statement was canceled. After the
// attempt budget is spent the caller gets a RetriesExhaustedError wrapping
// the last failure, so "no rows" and "gave up" stay distinguishable.
package pgexec

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

// Failure kinds reported to ObserveFailure.
const (
	KindConnection = "connection"
	KindCanceled   = "canceled"
	KindRuntime    = "runtime"
	KindOther      = "other"
)

const defaultMaxAttempts = 3

var (
	// ErrPoolClosed is returned when the executor has no live pool handle.
	ErrPoolClosed = errors.New("query pool is closed")

	// ErrNoRows is returned by FetchRow and FetchVal when the statement
	// matched nothing. It is never wrapped in a RetriesExhaustedError.
	ErrNoRows = sql.ErrNoRows

	// ErrRetriesExhausted matches any RetriesExhaustedError via errors.Is.
	ErrRetriesExhausted = errors.New("query retries exhausted")
)

// RetriesExhaustedError reports that every attempt at a statement failed.
// It unwraps to the last underlying failure.
type RetriesExhaustedError struct {
	Attempts int
	Last     error
}

func (e *RetriesExhaustedError) Error() string {
	return fmt.Sprintf("query failed after %d attempts: %v", e.Attempts, e.Last)
}

func (e *RetriesExhaustedError) Unwrap() error { return e.Last }

func (e *RetriesExhaustedError) Is(target error) bool { return target == ErrRetriesExhausted }

// Executor wraps a *sql.DB and runs statements with retry. The zero value is
// unusable; construct one via OpenPostgres or OpenSQLite, or directly for
// tests.
type Executor struct {
	db      *sql.DB
	dialect string

	// MaxAttempts bounds retries per statement, default 3.
	MaxAttempts int

	// RetryDelay is the pause before re-running a failed attempt,
	// multiplied by the attempt number. Default 100ms.
	RetryDelay time.Duration

	// ObserveFailure, when set, is called once per failed attempt with the
	// failure kind.
	ObserveFailure func(kind string)

	Logger *slog.Logger
}

// NewExecutor wraps an already-open pool. Dialect selects SQL variants for
// the handful of expressions that differ between backends.
func NewExecutor(db *sql.DB, dialect string) *Executor {
	return &Executor{db: db, dialect: dialect}
}

// Dialect reports which backend the executor talks to, DialectPostgres or
// DialectSQLite.
func (e *Executor) Dialect() string { return e.dialect }

func (e *Executor) Close() error {
	if e == nil || e.db == nil {
		return nil
	}
	return e.db.Close()
}

// Fetch runs a query and returns every row as a column-name map. No rows is
// a successful empty result.
func (e *Executor) Fetch(ctx context.Context, query string, args ...any) ([]map[string]any, error) {
	var out []map[string]any
	err := e.do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, query, args...)
		if err != nil {
			return err
		}
		defer rows.Close()
		out, err = scanAll(rows)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// FetchRow runs a query and returns the first row, or ErrNoRows.
func (e *Executor) FetchRow(ctx context.Context, query string, args ...any) (map[string]any, error) {
	var (
		row    map[string]any
		noRows bool
	)
	err := e.do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, query, args...)
		if err != nil {
			return err
		}
		defer rows.Close()
		all, err := scanAll(rows)
		if err != nil {
			return err
		}
		if len(all) == 0 {
			noRows = true
			return nil
		}
		row = all[0]
		return nil
	})
	if err != nil {
		return nil, err
	}
	if noRows {
		return nil, ErrNoRows
	}
	return row, nil
}

// FetchVal runs a query and returns the first column of the first row, or
// ErrNoRows.
func (e *Executor) FetchVal(ctx context.Context, query string, args ...any) (any, error) {
	var (
		val    any
		noRows bool
	)
	err := e.do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		noRows = false
		err := tx.QueryRowContext(ctx, query, args...).Scan(&val)
		if errors.Is(err, sql.ErrNoRows) {
			noRows = true
			return nil
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	if noRows {
		return nil, ErrNoRows
	}
	return val, nil
}

// Exec runs a statement and returns the affected row count.
func (e *Executor) Exec(ctx context.Context, query string, args ...any) (int64, error) {
	var affected int64
	err := e.do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, query, args...)
		if err != nil {
			return err
		}
		affected, _ = res.RowsAffected()
		return nil
	})
	if err != nil {
		return 0, err
	}
	return affected, nil
}

func (e *Executor) do(ctx context.Context, fn func(ctx context.Context, tx *sql.Tx) error) error {
	if e == nil || e.db == nil {
		return ErrPoolClosed
	}

	attempts := e.MaxAttempts
	if attempts <= 0 {
		attempts = defaultMaxAttempts
	}
	delay := e.RetryDelay
	if delay <= 0 {
		delay = 100 * time.Millisecond
	}

	var last error
	for attempt := 1; attempt <= attempts; attempt++ {
		err := e.attempt(ctx, fn)
		if err == nil {
			return nil
		}

		kind := Classify(err)
		if e.ObserveFailure != nil {
			e.ObserveFailure(kind)
		}
		if e.Logger != nil {
			e.Logger.Warn("query attempt failed",
				"attempt", attempt,
				"kind", kind,
				"error", err)
		}
		last = err

		// A canceled statement will not succeed on retry.
		if kind == KindCanceled {
			return err
		}
		if attempt == attempts {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(attempt) * delay):
		}
	}
	return &RetriesExhaustedError{Attempts: attempts, Last: last}
}

func (e *Executor) attempt(ctx context.Context, fn func(ctx context.Context, tx *sql.Tx) error) error {
	tx, err := e.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	committed := false
	defer func() {
		if committed {
			return
		}
		_ = tx.Rollback()
	}()

	if err := fn(ctx, tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	committed = true
	return nil
}

// Classify maps a statement failure onto one of the failure kinds.
func Classify(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return KindCanceled
	case errors.Is(err, driver.ErrBadConn):
		return KindConnection
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		// SQLSTATE 57014 is query_canceled.
		if pgErr.Code == "57014" {
			return KindCanceled
		}
		if len(pgErr.Code) < 2 {
			return KindOther
		}
		switch pgErr.Code[:2] {
		case "08", "53", "57":
			return KindConnection
		case "22", "23", "42":
			return KindRuntime
		}
		return KindOther
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return KindConnection
	}
	if strings.Contains(err.Error(), "SQLITE_") || strings.Contains(err.Error(), "syntax error") ||
		strings.Contains(err.Error(), "no such table") || strings.Contains(err.Error(), "constraint") {
		return KindRuntime
	}
	return KindOther
}

func scanAll(rows *sql.Rows) ([]map[string]any, error) {
	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	out := make([]map[string]any, 0, 8)
	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		row := make(map[string]any, len(cols))
		for i, c := range cols {
			if b, ok := vals[i].([]byte); ok {
				row[c] = string(b)
				continue
			}
			row[c] = vals[i]
		}
		out = append(out, row)
	}
	return out, rows.Err()
}
