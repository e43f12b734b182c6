package core

import (
	"strconv"
	"strings"
	"sync"
)

// sqlBuilder assembles MySQL statements with named placeholders. Parameter
// values travel separately as Params; the builder only produces text.
type sqlBuilder struct {
	table      string
	selectCols []string
	whereExpr  string
	orderBy    []string
	limitSet   bool
	limit      int
	offsetSet  bool
	offset     int
	sb         strings.Builder
}

var builderPool = sync.Pool{
	New: func() any {
		return &sqlBuilder{}
	},
}

func newBuilder(table string) *sqlBuilder {
	b := builderPool.Get().(*sqlBuilder)
	b.reset()
	b.table = table
	return b
}

func putBuilder(b *sqlBuilder) {
	b.reset()
	builderPool.Put(b)
}

func (b *sqlBuilder) reset() {
	b.table = ""
	b.selectCols = b.selectCols[:0]
	b.whereExpr = ""
	b.orderBy = b.orderBy[:0]
	b.limitSet = false
	b.limit = 0
	b.offsetSet = false
	b.offset = 0
	b.sb.Reset()
}

func quote(name string) string {
	return "`" + name + "`"
}

func (b *sqlBuilder) Select(columns ...string) *sqlBuilder {
	b.selectCols = append(b.selectCols, columns...)
	return b
}

func (b *sqlBuilder) Where(cond string) *sqlBuilder {
	cond = strings.TrimSpace(cond)
	if cond == "" {
		return b
	}
	if b.whereExpr == "" {
		b.whereExpr = "(" + cond + ")"
	} else {
		b.whereExpr += " AND (" + cond + ")"
	}
	return b
}

func (b *sqlBuilder) OrderBy(columns ...string) *sqlBuilder {
	b.orderBy = append(b.orderBy, columns...)
	return b
}

func (b *sqlBuilder) Limit(n int) *sqlBuilder {
	b.limitSet = true
	b.limit = n
	return b
}

func (b *sqlBuilder) Offset(n int) *sqlBuilder {
	b.offsetSet = true
	b.offset = n
	return b
}

// BuildSelect renders the SELECT statement.
func (b *sqlBuilder) BuildSelect() string {
	b.sb.Reset()
	b.sb.WriteString("SELECT ")
	if len(b.selectCols) > 0 {
		for i, col := range b.selectCols {
			if i > 0 {
				b.sb.WriteString(", ")
			}
			b.sb.WriteString(col)
		}
	} else {
		b.sb.WriteString("*")
	}
	b.sb.WriteString(" FROM ")
	b.sb.WriteString(quote(b.table))
	b.writeWhere()
	if len(b.orderBy) > 0 {
		b.sb.WriteString(" ORDER BY ")
		b.sb.WriteString(strings.Join(b.orderBy, ", "))
	}
	// LIMIT/OFFSET are trusted integers, inlined like the engine expects.
	if b.limitSet {
		b.sb.WriteString(" LIMIT ")
		b.sb.WriteString(strconv.Itoa(b.limit))
	}
	if b.offsetSet {
		b.sb.WriteString(" OFFSET ")
		b.sb.WriteString(strconv.Itoa(b.offset))
	}
	return b.sb.String()
}

// BuildCount renders SELECT COUNT(*) with the accumulated WHERE clause.
func (b *sqlBuilder) BuildCount() string {
	b.sb.Reset()
	b.sb.WriteString("SELECT COUNT(*) AS total FROM ")
	b.sb.WriteString(quote(b.table))
	b.writeWhere()
	return b.sb.String()
}

// BuildInsert renders INSERT with one named placeholder per column.
func (b *sqlBuilder) BuildInsert(columns []string) string {
	b.sb.Reset()
	b.sb.WriteString("INSERT INTO ")
	b.sb.WriteString(quote(b.table))
	b.sb.WriteString(" (")
	for i, col := range columns {
		if i > 0 {
			b.sb.WriteString(", ")
		}
		b.sb.WriteString(quote(col))
	}
	b.sb.WriteString(") VALUES (")
	for i, col := range columns {
		if i > 0 {
			b.sb.WriteString(", ")
		}
		b.sb.WriteString(":" + col)
	}
	b.sb.WriteString(")")
	return b.sb.String()
}

// BuildUpdate renders UPDATE SET for the given columns in order, with the
// accumulated WHERE clause.
func (b *sqlBuilder) BuildUpdate(columns []string) string {
	b.sb.Reset()
	b.sb.WriteString("UPDATE ")
	b.sb.WriteString(quote(b.table))
	b.sb.WriteString(" SET ")
	for i, col := range columns {
		if i > 0 {
			b.sb.WriteString(", ")
		}
		b.sb.WriteString(quote(col))
		b.sb.WriteString(" = :" + col)
	}
	b.writeWhere()
	return b.sb.String()
}

// BuildDelete renders DELETE with the accumulated WHERE clause.
func (b *sqlBuilder) BuildDelete() string {
	b.sb.Reset()
	b.sb.WriteString("DELETE FROM ")
	b.sb.WriteString(quote(b.table))
	b.writeWhere()
	return b.sb.String()
}

func (b *sqlBuilder) writeWhere() {
	if b.whereExpr != "" {
		b.sb.WriteString(" WHERE ")
		b.sb.WriteString(b.whereExpr)
	}
}
