package core_test

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/commondao/commondao/core"
	"github.com/commondao/commondao/logger"
)

// newTestDBMaxOne forces every session through a single connection so
// hold-and-wait ordering is observable.
func newTestDBMaxOne(t *testing.T) *core.DB {
	t.Helper()
	dsn := "file:" + filepath.Join(t.TempDir(), "one.db") + "?_busy_timeout=5000"
	sqlDB, err := sql.Open("sqlite3", dsn)
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	db, err := core.New(sqlDB, core.Config{MaxSize: 1, AcquireTimeout: 2 * time.Second})
	if err != nil {
		t.Fatalf("new db: %v", err)
	}
	quiet := logger.New()
	quiet.SetLevel(logger.LevelSilent)
	db.SetLogger(quiet)
	t.Cleanup(func() { db.Close() })
	return db
}

const itemDDL = `CREATE TABLE t_item (
	id INTEGER PRIMARY KEY,
	name TEXT NOT NULL
)`

func countItems(t *testing.T, db *core.DB, id int64) int64 {
	t.Helper()
	var count int64
	err := db.WithSession(context.Background(), func(s *core.Session) error {
		row, err := s.QueryOne(context.Background(),
			"SELECT COUNT(*) AS n FROM t_item WHERE id = :id", core.Params{"id": id})
		if err != nil {
			return err
		}
		count = row["n"].(int64)
		return nil
	})
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	return count
}

func TestTransactionCommitDurable(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	mustExec(t, db, itemDDL, nil)

	err := db.Transaction(ctx, func(s *core.Session) error {
		_, err := s.Exec(ctx, "INSERT INTO t_item (id, name) VALUES (:id, :name)",
			core.Params{"id": 1, "name": "a"})
		return err
	})
	if err != nil {
		t.Fatalf("transaction: %v", err)
	}
	if got := countItems(t, db, 1); got != 1 {
		t.Errorf("committed row not visible from a fresh session: count=%d", got)
	}
}

func TestTransactionRollbackOnError(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	mustExec(t, db, itemDDL, nil)

	boom := errors.New("boom")
	err := db.Transaction(ctx, func(s *core.Session) error {
		if _, err := s.Exec(ctx, "INSERT INTO t_item (id, name) VALUES (:id, :name)",
			core.Params{"id": 1, "name": "a"}); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected the scope error back, got %v", err)
	}
	if got := countItems(t, db, 1); got != 0 {
		t.Errorf("rolled-back row visible from a fresh session: count=%d", got)
	}
}

func TestTransactionRollbackOnPanic(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	mustExec(t, db, itemDDL, nil)

	func() {
		defer func() {
			if recover() == nil {
				t.Error("panic should propagate out of Transaction")
			}
		}()
		_ = db.Transaction(ctx, func(s *core.Session) error {
			if _, err := s.Exec(ctx, "INSERT INTO t_item (id, name) VALUES (1, 'a')", nil); err != nil {
				return err
			}
			panic("boom")
		})
	}()

	if got := countItems(t, db, 1); got != 0 {
		t.Errorf("row visible after panic rollback: count=%d", got)
	}
}

func TestTransactionExplicitRollbackStands(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	mustExec(t, db, itemDDL, nil)

	err := db.Transaction(ctx, func(s *core.Session) error {
		if _, err := s.Exec(ctx, "INSERT INTO t_item (id, name) VALUES (1, 'a')", nil); err != nil {
			return err
		}
		return s.Rollback()
	})
	if err != nil {
		t.Fatalf("transaction: %v", err)
	}
	if got := countItems(t, db, 1); got != 0 {
		t.Errorf("explicitly rolled-back row is visible: count=%d", got)
	}
}

func TestNestedBeginRejected(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	err := db.WithSession(ctx, func(s *core.Session) error {
		if err := s.Begin(ctx); err != nil {
			return err
		}
		if err := s.Begin(ctx); !errors.Is(err, core.ErrNestedTransaction) {
			t.Errorf("expected ErrNestedTransaction, got %v", err)
		}
		return s.Rollback()
	})
	if err != nil {
		t.Fatalf("session: %v", err)
	}
}

func TestTransactionStateErrors(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	err := db.WithSession(ctx, func(s *core.Session) error {
		if err := s.Commit(); !errors.Is(err, core.ErrTransactionState) {
			t.Errorf("commit without begin: expected ErrTransactionState, got %v", err)
		}
		if err := s.Rollback(); !errors.Is(err, core.ErrTransactionState) {
			t.Errorf("rollback without begin: expected ErrTransactionState, got %v", err)
		}

		if err := s.Begin(ctx); err != nil {
			return err
		}
		if err := s.Commit(); err != nil {
			return err
		}
		if err := s.Commit(); !errors.Is(err, core.ErrTransactionState) {
			t.Errorf("double commit: expected ErrTransactionState, got %v", err)
		}
		if err := s.Rollback(); !errors.Is(err, core.ErrTransactionState) {
			t.Errorf("rollback after commit: expected ErrTransactionState, got %v", err)
		}
		if err := s.Begin(ctx); !errors.Is(err, core.ErrTransactionState) {
			t.Errorf("begin after terminal state: expected ErrTransactionState, got %v", err)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("session: %v", err)
	}
}

func TestSessionCloseRollsBackActiveTransaction(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	mustExec(t, db, itemDDL, nil)

	sess, err := db.Session(ctx)
	if err != nil {
		t.Fatalf("session: %v", err)
	}
	if err := sess.Begin(ctx); err != nil {
		t.Fatalf("begin: %v", err)
	}
	if _, err := sess.Exec(ctx, "INSERT INTO t_item (id, name) VALUES (1, 'a')", nil); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if !sess.InTransaction() {
		t.Fatal("transaction should be active")
	}
	if err := sess.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	if got := countItems(t, db, 1); got != 0 {
		t.Errorf("abandoned transaction was not rolled back: count=%d", got)
	}
}

func TestTransactionHoldTimeGatesSecondRequest(t *testing.T) {
	dsnDB := newTestDBMaxOne(t)
	ctx := context.Background()

	first, err := dsnDB.Session(ctx)
	if err != nil {
		t.Fatalf("first session: %v", err)
	}

	const hold = 150 * time.Millisecond
	go func() {
		time.Sleep(hold)
		first.Close()
	}()

	start := time.Now()
	err = dsnDB.WithSession(ctx, func(s *core.Session) error { return nil })
	if err != nil {
		t.Fatalf("second session: %v", err)
	}
	if elapsed := time.Since(start); elapsed < hold/2 {
		t.Errorf("second request did not wait for the first to release: %v", elapsed)
	}
}
