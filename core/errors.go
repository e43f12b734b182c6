package core

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"

	"github.com/go-sql-driver/mysql"
)

var (
	// ErrNoRows is returned when a single-row lookup matches nothing.
	ErrNoRows = errors.New("commondao: no rows in result")
	// ErrSessionReleased is returned when a session is used after Close.
	ErrSessionReleased = errors.New("commondao: session already released")
	// ErrTransactionState is returned on commit/rollback outside an
	// active transaction, or begin after the session's transaction
	// already reached a terminal state.
	ErrTransactionState = errors.New("commondao: invalid transaction state")
	// ErrNestedTransaction is returned by Begin while a transaction is
	// already active on the session. Savepoints are not modeled.
	ErrNestedTransaction = errors.New("commondao: transaction already active on session")
	// ErrConnBroken wraps statement failures that left the connection in
	// an unknown state; the connection is discarded on release.
	ErrConnBroken = errors.New("commondao: connection broken")
)

// QueryError is a statement rejected or aborted by the engine. Number and
// SQLState are filled from the server error when available; Timeout marks
// statement-timeout aborts.
type QueryError struct {
	Number   uint16
	SQLState string
	Message  string
	Timeout  bool
	Err      error
}

func (e *QueryError) Error() string {
	if e.Number != 0 {
		return fmt.Sprintf("commondao: query failed: Error %d (%s): %s", e.Number, e.SQLState, e.Message)
	}
	if e.Timeout {
		return "commondao: query timed out: " + e.Message
	}
	return "commondao: query failed: " + e.Message
}

func (e *QueryError) Unwrap() error {
	return e.Err
}

// wrapQueryError normalizes a driver error into *QueryError.
func wrapQueryError(err error) error {
	if err == nil {
		return nil
	}
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		qe := &QueryError{Number: myErr.Number, Message: myErr.Message, Err: err}
		if myErr.SQLState != [5]byte{} {
			qe.SQLState = string(myErr.SQLState[:])
		}
		return qe
	}
	return &QueryError{
		Message: err.Error(),
		Timeout: errors.Is(err, context.DeadlineExceeded),
		Err:     err,
	}
}

// brokeConnection reports whether a statement error leaves the
// connection state unknown. Conservative: any timeout or cancellation
// mid-statement counts.
func brokeConnection(err error) bool {
	return errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, driver.ErrBadConn) ||
		errors.Is(err, mysql.ErrInvalidConn)
}

// MappingError is a schema/result shape mismatch surfaced at
// materialization time, never silently defaulted.
type MappingError struct {
	Table  string
	Field  string
	Column string
	Reason string
}

func (e *MappingError) Error() string {
	return fmt.Sprintf("commondao: mapping %s.%s (column %q): %s", e.Table, e.Field, e.Column, e.Reason)
}
