package pool

import (
	"database/sql"
	"sync/atomic"
	"time"
)

// Conn is a database connection owned exclusively by one caller between
// Acquire and Release. It is not safe for concurrent use.
type Conn struct {
	id       uint64
	raw      *sql.Conn
	pool     *Pool
	broken   atomic.Bool
	inTx     atomic.Bool
	lastUsed time.Time
}

// ID returns the pool-unique identifier of this connection. A replacement
// created after a discard always carries a new ID.
func (c *Conn) ID() uint64 {
	return c.id
}

// Raw returns the underlying dedicated *sql.Conn.
func (c *Conn) Raw() *sql.Conn {
	return c.raw
}

// MarkBroken flags the connection so Release discards it instead of
// returning it to the idle set. Used after protocol faults, statement
// timeouts and cancellations, where the server-side state is unknown.
func (c *Conn) MarkBroken() {
	c.broken.Store(true)
}

// Broken reports whether the connection has been flagged for discard.
func (c *Conn) Broken() bool {
	return c.broken.Load()
}

// SetInTx records whether a transaction is currently open on the connection.
func (c *Conn) SetInTx(v bool) {
	c.inTx.Store(v)
}

// InTx reports whether a transaction is currently open on the connection.
func (c *Conn) InTx() bool {
	return c.inTx.Load()
}

// IdleSince returns the time the connection was last returned to the pool.
func (c *Conn) IdleSince() time.Time {
	return c.lastUsed
}
