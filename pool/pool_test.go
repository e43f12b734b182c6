package pool_test

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/commondao/commondao/pool"
)

func newTestPool(t *testing.T, cfg pool.Config) *pool.Pool {
	t.Helper()
	dsn := "file:" + filepath.Join(t.TempDir(), "pool.db") + "?_busy_timeout=5000"
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	p, err := pool.New(db, cfg)
	if err != nil {
		t.Fatalf("new pool: %v", err)
	}
	t.Cleanup(func() {
		p.Close()
		db.Close()
	})
	return p
}

func TestAcquireRelease(t *testing.T) {
	p := newTestPool(t, pool.Config{MaxSize: 2})

	c, err := p.Acquire(context.Background())
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if got := p.Stats(); got.Open != 1 || got.Idle != 0 {
		t.Errorf("after acquire: %+v", got)
	}

	p.Release(c)
	if got := p.Stats(); got.Open != 1 || got.Idle != 1 {
		t.Errorf("after release: %+v", got)
	}
}

func TestMinSizeWarmup(t *testing.T) {
	p := newTestPool(t, pool.Config{MinSize: 2, MaxSize: 4})

	if got := p.Stats(); got.Open != 2 || got.Idle != 2 {
		t.Errorf("expected 2 warm connections, got %+v", got)
	}
}

func TestMaxSizeNeverExceeded(t *testing.T) {
	const maxSize = 3
	p := newTestPool(t, pool.Config{MaxSize: maxSize, AcquireTimeout: 5 * time.Second})

	var cur, peak atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 5; j++ {
				c, err := p.Acquire(context.Background())
				if err != nil {
					t.Errorf("acquire: %v", err)
					return
				}
				n := cur.Add(1)
				for {
					old := peak.Load()
					if n <= old || peak.CompareAndSwap(old, n) {
						break
					}
				}
				time.Sleep(time.Millisecond)
				cur.Add(-1)
				p.Release(c)
			}
		}()
	}
	wg.Wait()

	if got := peak.Load(); got > maxSize {
		t.Errorf("observed %d concurrent connections, max is %d", got, maxSize)
	}
	if got := p.Stats(); got.Open > maxSize {
		t.Errorf("pool reports %d open, max is %d", got.Open, maxSize)
	}
}

func TestAcquireTimeoutExhausted(t *testing.T) {
	p := newTestPool(t, pool.Config{MaxSize: 1, AcquireTimeout: 150 * time.Millisecond})

	c, err := p.Acquire(context.Background())
	if err != nil {
		t.Fatalf("first acquire: %v", err)
	}
	defer p.Release(c)

	start := time.Now()
	_, err = p.Acquire(context.Background())
	if !errors.Is(err, pool.ErrPoolExhausted) {
		t.Fatalf("expected ErrPoolExhausted, got %v", err)
	}
	if elapsed := time.Since(start); elapsed < 100*time.Millisecond {
		t.Errorf("timed out too early: %v", elapsed)
	}
}

func TestWaiterHandoff(t *testing.T) {
	p := newTestPool(t, pool.Config{MaxSize: 1, AcquireTimeout: 2 * time.Second})

	c1, err := p.Acquire(context.Background())
	if err != nil {
		t.Fatalf("first acquire: %v", err)
	}
	id1 := c1.ID()

	const hold = 200 * time.Millisecond
	go func() {
		time.Sleep(hold)
		p.Release(c1)
	}()

	start := time.Now()
	c2, err := p.Acquire(context.Background())
	if err != nil {
		t.Fatalf("second acquire: %v", err)
	}
	defer p.Release(c2)

	elapsed := time.Since(start)
	if elapsed < hold/2 {
		t.Errorf("second acquire did not wait for the holder: %v", elapsed)
	}
	if elapsed > time.Second {
		t.Errorf("second acquire waited far beyond the hold time: %v", elapsed)
	}
	if c2.ID() != id1 {
		t.Errorf("expected handoff of the released connection, got #%d want #%d", c2.ID(), id1)
	}
}

func TestBrokenConnectionReplaced(t *testing.T) {
	p := newTestPool(t, pool.Config{MaxSize: 1})

	c1, err := p.Acquire(context.Background())
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	id1 := c1.ID()
	c1.MarkBroken()
	p.Release(c1)

	c2, err := p.Acquire(context.Background())
	if err != nil {
		t.Fatalf("acquire after discard: %v", err)
	}
	defer p.Release(c2)

	if c2.ID() == id1 {
		t.Error("broken connection was reused instead of replaced")
	}
	if got := p.Stats(); got.Open != 1 {
		t.Errorf("expected 1 open connection, got %+v", got)
	}
}

func TestCloseSemantics(t *testing.T) {
	p := newTestPool(t, pool.Config{MaxSize: 1, AcquireTimeout: 2 * time.Second})

	c, err := p.Acquire(context.Background())
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}

	waiterErr := make(chan error, 1)
	go func() {
		_, err := p.Acquire(context.Background())
		waiterErr <- err
	}()
	time.Sleep(50 * time.Millisecond)

	if err := p.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := <-waiterErr; !errors.Is(err, pool.ErrPoolClosed) {
		t.Errorf("waiter should fail with ErrPoolClosed, got %v", err)
	}
	if _, err := p.Acquire(context.Background()); !errors.Is(err, pool.ErrPoolClosed) {
		t.Errorf("acquire after close should fail with ErrPoolClosed, got %v", err)
	}

	// Releasing the checked-out connection after close must not panic.
	p.Release(c)
}

func TestAcquireOpenBoundedByDeadline(t *testing.T) {
	p := newTestPool(t, pool.Config{MaxSize: 1, AcquireTimeout: time.Nanosecond})

	// Nothing is idle, so Acquire dials a fresh connection; the dial must
	// run under the acquire deadline even with a background context.
	if _, err := p.Acquire(context.Background()); !errors.Is(err, pool.ErrPoolExhausted) {
		t.Errorf("expected ErrPoolExhausted from an expired acquire budget, got %v", err)
	}
	if got := p.Stats(); got.Open != 0 {
		t.Errorf("failed open should free its slot: %+v", got)
	}
}

func TestAcquireContextCanceled(t *testing.T) {
	p := newTestPool(t, pool.Config{MaxSize: 1, AcquireTimeout: 5 * time.Second})

	c, err := p.Acquire(context.Background())
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	defer p.Release(c)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	if _, err := p.Acquire(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestIdleConnectionValidatedBeforeReuse(t *testing.T) {
	p := newTestPool(t, pool.Config{MaxSize: 1, IdleTimeout: time.Millisecond})

	c1, err := p.Acquire(context.Background())
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	p.Release(c1)

	time.Sleep(10 * time.Millisecond)

	// Past the idle threshold the connection is probed; a healthy one is
	// still handed out.
	c2, err := p.Acquire(context.Background())
	if err != nil {
		t.Fatalf("acquire after idle: %v", err)
	}
	defer p.Release(c2)
	if got := p.Stats(); got.Open != 1 {
		t.Errorf("expected 1 open connection, got %+v", got)
	}
}
