// Package pool provides a bounded pool of dedicated database connections
// with explicit acquire/release semantics, idle validation and
// discard-and-replace handling for broken connections.
package pool

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/commondao/commondao/logger"
)

var (
	// ErrPoolExhausted is returned when no connection becomes available
	// within the acquire timeout. Callers should retry or shed load.
	ErrPoolExhausted = errors.New("pool: exhausted, no connection available within timeout")
	// ErrPoolClosed is returned by Acquire after Close.
	ErrPoolClosed = errors.New("pool: closed")
)

const validatePingTimeout = time.Second

// Config controls the pool size and timing policy.
type Config struct {
	// MinSize is the number of connections opened eagerly at startup.
	MinSize int
	// MaxSize bounds open connections (checked out + idle). Default 10.
	MaxSize int
	// IdleTimeout is how long a connection may sit idle before it is
	// validated with a liveness ping on the next Acquire. Default 60s.
	IdleTimeout time.Duration
	// AcquireTimeout bounds how long Acquire waits for a free
	// connection. Default 30s.
	AcquireTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.MaxSize <= 0 {
		c.MaxSize = 10
	}
	if c.MinSize < 0 {
		c.MinSize = 0
	}
	if c.MinSize > c.MaxSize {
		c.MinSize = c.MaxSize
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = 60 * time.Second
	}
	if c.AcquireTimeout <= 0 {
		c.AcquireTimeout = 30 * time.Second
	}
	return c
}

// Stats is a point-in-time snapshot of pool counters.
type Stats struct {
	Open    int // checked out + idle
	Idle    int
	Waiters int
}

// Pool owns a bounded set of dedicated connections obtained from a
// *sql.DB handle. All exported methods are safe for concurrent use.
type Pool struct {
	db     *sql.DB
	cfg    Config
	log    logger.Logger
	nextID atomic.Uint64

	mu      sync.Mutex
	idle    []*Conn      // LIFO
	waiters []chan *Conn // FIFO; nil delivery means "retry", close means pool closed
	numOpen int
	closed  bool
}

// New creates a pool on top of an opened *sql.DB and warms MinSize
// connections. The handle's own limit is aligned so the pool is the only
// source of back-pressure.
func New(db *sql.DB, cfg Config) (*Pool, error) {
	cfg = cfg.withDefaults()
	db.SetMaxOpenConns(cfg.MaxSize)
	db.SetMaxIdleConns(cfg.MaxSize)

	p := &Pool{db: db, cfg: cfg}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.AcquireTimeout)
	defer cancel()
	for i := 0; i < cfg.MinSize; i++ {
		c, err := p.open(ctx)
		if err != nil {
			_ = p.Close()
			return nil, err
		}
		p.mu.Lock()
		p.numOpen++
		p.idle = append(p.idle, c)
		p.mu.Unlock()
	}
	return p, nil
}

// SetLogger installs a logger for pool lifecycle events.
func (p *Pool) SetLogger(l logger.Logger) {
	p.log = l
}

// Acquire returns a connection exclusively owned by the caller until
// Release. It blocks while the pool is at MaxSize with nothing idle,
// until a connection is released, the acquire timeout elapses
// (ErrPoolExhausted) or ctx is done.
func (p *Pool) Acquire(ctx context.Context) (*Conn, error) {
	deadline := time.Now().Add(p.cfg.AcquireTimeout)
	for {
		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			return nil, ErrPoolClosed
		}

		if n := len(p.idle); n > 0 {
			c := p.idle[n-1]
			p.idle = p.idle[:n-1]
			p.mu.Unlock()
			if !p.validate(c) {
				p.discard(c, "failed liveness probe")
				continue
			}
			return c, nil
		}

		if p.numOpen < p.cfg.MaxSize {
			p.numOpen++
			p.mu.Unlock()
			// The dial shares the acquire budget so a hung server cannot
			// block past AcquireTimeout.
			openCtx, cancel := context.WithDeadline(ctx, deadline)
			c, err := p.open(openCtx)
			cancel()
			if err != nil {
				p.mu.Lock()
				p.numOpen--
				if w := p.popWaiterLocked(); w != nil {
					w <- nil
				}
				p.mu.Unlock()
				if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
					return nil, ErrPoolExhausted
				}
				return nil, err
			}
			return c, nil
		}

		w := make(chan *Conn, 1)
		p.waiters = append(p.waiters, w)
		p.mu.Unlock()

		remaining := time.Until(deadline)
		if remaining <= 0 {
			p.abandonWaiter(w)
			return nil, ErrPoolExhausted
		}
		timer := time.NewTimer(remaining)
		select {
		case c, ok := <-w:
			timer.Stop()
			if !ok {
				return nil, ErrPoolClosed
			}
			if c == nil {
				// A slot was freed by a discard; retry and open fresh.
				continue
			}
			return c, nil
		case <-timer.C:
			p.abandonWaiter(w)
			return nil, ErrPoolExhausted
		case <-ctx.Done():
			timer.Stop()
			p.abandonWaiter(w)
			return nil, ctx.Err()
		}
	}
}

// Release returns a connection to the pool. Broken connections are closed
// and their slot freed for a replacement; healthy ones are handed to the
// first waiter or pushed onto the idle set.
func (p *Pool) Release(c *Conn) {
	if c == nil || c.pool != p {
		return
	}
	c.SetInTx(false)

	p.mu.Lock()
	if p.closed {
		p.numOpen--
		p.mu.Unlock()
		_ = c.raw.Close()
		return
	}
	if c.Broken() {
		p.mu.Unlock()
		p.discard(c, "released broken")
		return
	}
	c.lastUsed = time.Now()
	// Delivery happens under the lock so abandonWaiter can observe it.
	if w := p.popWaiterLocked(); w != nil {
		w <- c
		p.mu.Unlock()
		return
	}
	p.idle = append(p.idle, c)
	p.mu.Unlock()
}

// Close drains and closes all idle connections and fails pending waiters.
// Checked-out connections are closed as they are released.
func (p *Pool) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	idle := p.idle
	waiters := p.waiters
	p.idle = nil
	p.waiters = nil
	p.numOpen -= len(idle)
	p.mu.Unlock()

	for _, w := range waiters {
		close(w)
	}
	var first error
	for _, c := range idle {
		if err := c.raw.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Stats returns a snapshot of the pool counters.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Stats{Open: p.numOpen, Idle: len(p.idle), Waiters: len(p.waiters)}
}

func (p *Pool) open(ctx context.Context) (*Conn, error) {
	raw, err := p.db.Conn(ctx)
	if err != nil {
		return nil, err
	}
	c := &Conn{id: p.nextID.Add(1), raw: raw, pool: p, lastUsed: time.Now()}
	if p.log != nil {
		p.log.Info("pool: opened connection #%d", c.id)
	}
	return c, nil
}

// validate pings a connection that sat idle beyond IdleTimeout. A fresh
// connection is reused without a probe.
func (p *Pool) validate(c *Conn) bool {
	if time.Since(c.lastUsed) < p.cfg.IdleTimeout {
		return true
	}
	ctx, cancel := context.WithTimeout(context.Background(), validatePingTimeout)
	defer cancel()
	return c.raw.PingContext(ctx) == nil
}

// discard closes a connection, frees its slot and wakes one waiter so it
// can open a replacement.
func (p *Pool) discard(c *Conn, reason string) {
	p.mu.Lock()
	p.numOpen--
	if w := p.popWaiterLocked(); w != nil {
		w <- nil
	}
	p.mu.Unlock()

	_ = c.raw.Close()
	if p.log != nil {
		p.log.Warn("pool: discarded connection #%d: %s", c.id, reason)
	}
}

func (p *Pool) popWaiterLocked() chan *Conn {
	if len(p.waiters) == 0 {
		return nil
	}
	w := p.waiters[0]
	p.waiters = p.waiters[1:]
	return w
}

// abandonWaiter removes w from the queue. All deliveries happen under the
// pool lock, so draining under the same lock cannot race: a connection
// delivered just before abandonment is put back, a retry token is passed
// on to the next waiter.
func (p *Pool) abandonWaiter(w chan *Conn) {
	p.mu.Lock()
	for i, cand := range p.waiters {
		if cand == w {
			p.waiters = append(p.waiters[:i], p.waiters[i+1:]...)
			break
		}
	}
	var delivered *Conn
	gotToken := false
	select {
	case c, ok := <-w:
		if ok && c != nil {
			delivered = c
		} else if ok {
			gotToken = true
		}
	default:
	}
	if gotToken {
		if next := p.popWaiterLocked(); next != nil {
			next <- nil
		}
	}
	p.mu.Unlock()

	if delivered != nil {
		p.Release(delivered)
	}
}
