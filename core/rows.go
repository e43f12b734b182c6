package core

import (
	"context"
	"database/sql"

	"github.com/commondao/commondao/pool"
)

// Rows is a finite, single-pass stream of result rows. It is not
// restartable; large result sets are consumed without full
// materialization.
type Rows struct {
	rows   *sql.Rows
	cols   []string
	conn   *pool.Conn
	cancel context.CancelFunc
	err    error
	closed bool
}

// Columns returns the result column names in result order.
func (r *Rows) Columns() []string {
	return r.cols
}

// Next advances to the next row. It returns false at the end of the set
// or on error; check Err afterwards.
func (r *Rows) Next() bool {
	if r.closed {
		return false
	}
	if r.rows.Next() {
		return true
	}
	r.err = r.rows.Err()
	if r.err != nil && brokeConnection(r.err) {
		r.conn.MarkBroken()
	}
	return false
}

// Scan reads the current row into a column-keyed map.
func (r *Rows) Scan() (Row, error) {
	values := make([]any, len(r.cols))
	ptrs := make([]any, len(r.cols))
	for i := range values {
		ptrs[i] = &values[i]
	}
	if err := r.rows.Scan(ptrs...); err != nil {
		if brokeConnection(err) {
			r.conn.MarkBroken()
		}
		return nil, wrapQueryError(err)
	}
	row := make(Row, len(r.cols))
	for i, col := range r.cols {
		// Copy driver-owned byte buffers, they are reused between scans.
		if b, ok := values[i].([]byte); ok {
			cp := make([]byte, len(b))
			copy(cp, b)
			row[col] = cp
		} else {
			row[col] = values[i]
		}
	}
	return row, nil
}

// Err returns the error, if any, encountered during iteration.
func (r *Rows) Err() error {
	if r.err != nil {
		return wrapQueryError(r.err)
	}
	return nil
}

// Close releases the statement resources. Safe to call multiple times.
func (r *Rows) Close() error {
	if r.closed {
		return nil
	}
	r.closed = true
	err := r.rows.Close()
	r.cancel()
	return err
}
