package core

import (
	"context"
	"fmt"
)

// txState tracks the transaction overlay of a session:
// none -> active -> committed | rolled back. Terminal states are final.
type txState int

const (
	txNone txState = iota
	txActive
	txCommitted
	txRolledBack
)

// Begin opens a transaction on the session's connection. A session models
// a single unit of work: Begin while active fails with
// ErrNestedTransaction, Begin after commit or rollback with
// ErrTransactionState.
func (s *Session) Begin(ctx context.Context) error {
	if s.released {
		return ErrSessionReleased
	}
	switch s.txState {
	case txActive:
		return ErrNestedTransaction
	case txCommitted, txRolledBack:
		return fmt.Errorf("%w: transaction already completed", ErrTransactionState)
	}

	ctx, cancel := s.stmtCtx(ctx)
	defer cancel()

	tx, err := s.conn.Raw().BeginTx(ctx, nil)
	if err != nil {
		if brokeConnection(err) {
			s.conn.MarkBroken()
		}
		return wrapQueryError(err)
	}
	s.db.logSQL("BEGIN", 0)
	s.tx = tx
	s.txState = txActive
	s.conn.SetInTx(true)
	return nil
}

// Commit makes the transaction's writes durable. Outside an active
// transaction it fails with ErrTransactionState. A failed commit leaves
// the outcome unknown, so the connection is discarded.
func (s *Session) Commit() error {
	if s.txState != txActive {
		return fmt.Errorf("%w: commit outside active transaction", ErrTransactionState)
	}
	err := s.tx.Commit()
	s.tx = nil
	s.txState = txCommitted
	s.conn.SetInTx(false)
	s.db.logSQL("COMMIT", 0)
	if err != nil {
		s.conn.MarkBroken()
		return wrapQueryError(err)
	}
	return nil
}

// Rollback discards the transaction's writes. Outside an active
// transaction it fails with ErrTransactionState.
func (s *Session) Rollback() error {
	if s.txState != txActive {
		return fmt.Errorf("%w: rollback outside active transaction", ErrTransactionState)
	}
	err := s.tx.Rollback()
	s.tx = nil
	s.txState = txRolledBack
	s.conn.SetInTx(false)
	s.db.logSQL("ROLLBACK", 0)
	if err != nil {
		s.conn.MarkBroken()
		return wrapQueryError(err)
	}
	return nil
}

// InTransaction reports whether a transaction is currently active.
func (s *Session) InTransaction() bool {
	return s.txState == txActive
}
