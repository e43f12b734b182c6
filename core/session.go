package core

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/commondao/commondao/pool"
)

// Executor runs statements either directly on a connection or inside its
// active transaction.
type Executor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

var (
	_ Executor = (*sql.Conn)(nil)
	_ Executor = (*sql.Tx)(nil)
)

// Params are named statement parameters, bound to :name placeholders.
// Slice values expand into IN lists.
type Params map[string]any

// Result reports the outcome of a mutating statement.
type Result struct {
	LastInsertID int64
	RowsAffected int64
}

// Row is one result row keyed by column name, values as returned by the
// driver.
type Row map[string]any

// Session is a unit-of-work's exclusive handle to one pooled connection.
// Statements issued sequentially on a session execute in that order on
// that single connection. A session must not be shared across goroutines
// and never outlives the scope that created it.
type Session struct {
	db       *DB
	conn     *pool.Conn
	tx       *sql.Tx
	txState  txState
	released bool
}

// Close releases the connection back to the pool. An active transaction
// is rolled back first. Close is idempotent.
func (s *Session) Close() error {
	if s.released {
		return nil
	}
	var err error
	if s.txState == txActive {
		err = s.Rollback()
	}
	s.released = true
	s.db.pool.Release(s.conn)
	return err
}

// ConnID identifies the underlying pooled connection.
func (s *Session) ConnID() uint64 {
	return s.conn.ID()
}

func (s *Session) executor() Executor {
	if s.tx != nil {
		return s.tx
	}
	return s.conn.Raw()
}

// bind rewrites :name placeholders into driver placeholders and expands
// slice parameters into IN lists.
func (s *Session) bind(query string, params Params) (string, []any, error) {
	if len(params) == 0 {
		return query, nil, nil
	}
	q, args, err := sqlx.Named(query, map[string]any(params))
	if err != nil {
		return "", nil, fmt.Errorf("commondao: bind %q: %w", query, err)
	}
	q, args, err = sqlx.In(q, args...)
	if err != nil {
		return "", nil, fmt.Errorf("commondao: bind %q: %w", query, err)
	}
	return q, args, nil
}

// stmtCtx applies the configured statement timeout.
func (s *Session) stmtCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.db.stmtTimeout > 0 {
		return context.WithTimeout(ctx, s.db.stmtTimeout)
	}
	return context.WithCancel(ctx)
}

func (s *Session) guard() error {
	if s.released {
		return ErrSessionReleased
	}
	if s.conn.Broken() {
		return ErrConnBroken
	}
	return nil
}

// Exec runs a mutating statement and returns the affected-row count and
// generated identifier. Engine rejections surface as *QueryError; a
// timeout or cancellation additionally marks the connection broken.
func (s *Session) Exec(ctx context.Context, query string, params Params) (Result, error) {
	if err := s.guard(); err != nil {
		return Result{}, err
	}
	q, args, err := s.bind(query, params)
	if err != nil {
		return Result{}, err
	}

	ctx, cancel := s.stmtCtx(ctx)
	defer cancel()

	start := time.Now()
	res, err := s.executor().ExecContext(ctx, q, args...)
	s.db.logSQL(q, time.Since(start), args...)
	if err != nil {
		if brokeConnection(err) {
			s.conn.MarkBroken()
		}
		return Result{}, wrapQueryError(err)
	}

	out := Result{}
	// Not all statements produce an insert id; ignore driver refusals.
	out.LastInsertID, _ = res.LastInsertId()
	out.RowsAffected, _ = res.RowsAffected()
	return out, nil
}

// Query runs a read statement and returns a lazy, single-pass row stream.
// The caller must Close the returned Rows before issuing the next
// statement on this session.
func (s *Session) Query(ctx context.Context, query string, params Params) (*Rows, error) {
	if err := s.guard(); err != nil {
		return nil, err
	}
	q, args, err := s.bind(query, params)
	if err != nil {
		return nil, err
	}

	ctx, cancel := s.stmtCtx(ctx)

	start := time.Now()
	rows, err := s.executor().QueryContext(ctx, q, args...)
	s.db.logSQL(q, time.Since(start), args...)
	if err != nil {
		cancel()
		if brokeConnection(err) {
			s.conn.MarkBroken()
		}
		return nil, wrapQueryError(err)
	}
	cols, err := rows.Columns()
	if err != nil {
		rows.Close()
		cancel()
		return nil, wrapQueryError(err)
	}
	return &Rows{rows: rows, cols: cols, conn: s.conn, cancel: cancel}, nil
}

// QueryOne runs a read statement and returns the first row, or ErrNoRows.
func (s *Session) QueryOne(ctx context.Context, query string, params Params) (Row, error) {
	rows, err := s.Query(ctx, query, params)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, err
		}
		return nil, ErrNoRows
	}
	return rows.Scan()
}
