package core

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"sort"
	"time"

	"github.com/commondao/commondao/codec"
	"github.com/commondao/commondao/schema"
)

// Key identifies rows by column values, e.g. Key{"id": 7}.
type Key map[string]any

// Criteria narrows a Select. Where uses named placeholders bound from
// Args; slice values expand into IN lists.
type Criteria struct {
	Where   string
	Args    Params
	OrderBy []string
	Limit   int
	Offset  int
}

// Page describes one page of a paged select.
type Page struct {
	Page  int
	Size  int
	Total int64
}

// Mapper generates parameterized SQL from a registered record schema and
// materializes result rows back into typed records. All values are bound
// parameters, never interpolated.
type Mapper struct {
	db       *DB
	schema   *schema.Schema
	cacheTTL time.Duration
}

// Mapper builds a mapper for the record type, registering its schema on
// first use.
func (db *DB) Mapper(record any) (*Mapper, error) {
	s, err := schema.Register(record)
	if err != nil {
		return nil, err
	}
	return &Mapper{db: db, schema: s}, nil
}

// Schema returns the immutable schema backing this mapper.
func (m *Mapper) Schema() *schema.Schema {
	return m.schema
}

// WithCacheTTL returns a mapper whose Get consults the DB's result cache,
// caching hits for ttl. Zero disables caching again.
func (m *Mapper) WithCacheTTL(ttl time.Duration) *Mapper {
	cp := *m
	cp.cacheTTL = ttl
	return &cp
}

func (m *Mapper) record(rec any) (reflect.Value, error) {
	rs, err := schema.Register(rec)
	if err != nil {
		return reflect.Value{}, err
	}
	if rs != m.schema {
		return reflect.Value{}, &MappingError{
			Table:  m.schema.Table,
			Reason: fmt.Sprintf("record type maps to table %q", rs.Table),
		}
	}
	rv := reflect.ValueOf(rec)
	if rv.Kind() == reflect.Ptr {
		rv = rv.Elem()
	}
	return rv, nil
}

func (m *Mapper) encodeField(f *schema.Field, rv reflect.Value) (any, error) {
	v := rv.Field(f.Index).Interface()
	if f.JSON {
		return codec.EncodeJSON(v)
	}
	return codec.Encode(v)
}

// Insert writes a record. Auto-increment columns are omitted, as are NULL
// (nil pointer) values so column defaults apply. The generated identifier
// is returned and, for an auto PK, written back into the record.
func (m *Mapper) Insert(ctx context.Context, sess *Session, rec any) (int64, error) {
	rv, err := m.record(rec)
	if err != nil {
		return 0, err
	}

	var columns []string
	params := Params{}
	for _, f := range m.schema.Fields {
		if f.Auto {
			continue
		}
		v, err := m.encodeField(f, rv)
		if err != nil {
			return 0, err
		}
		if v == nil {
			continue
		}
		columns = append(columns, f.Column)
		params[f.Column] = v
	}
	if len(columns) == 0 {
		return 0, &MappingError{Table: m.schema.Table, Reason: "no values to insert"}
	}

	b := newBuilder(m.schema.Table)
	sqlStr := b.BuildInsert(columns)
	putBuilder(b)

	res, err := sess.Exec(ctx, sqlStr, params)
	if err != nil {
		return 0, err
	}

	if pk := m.schema.PK; pk != nil && pk.Auto && res.LastInsertID != 0 {
		fv := rv.Field(pk.Index)
		if fv.CanSet() {
			switch {
			case fv.Kind() >= reflect.Int && fv.Kind() <= reflect.Int64:
				fv.SetInt(res.LastInsertID)
			case fv.Kind() >= reflect.Uint && fv.Kind() <= reflect.Uint64:
				fv.SetUint(uint64(res.LastInsertID))
			}
		}
	}
	return res.LastInsertID, nil
}

// Get loads the row matching key into dest (pointer to record struct).
// Returns ErrNoRows when nothing matches. With a cache TTL opt-in the
// DB's cache is consulted first.
func (m *Mapper) Get(ctx context.Context, sess *Session, key Key, dest any) error {
	if len(key) == 0 {
		return &MappingError{Table: m.schema.Table, Reason: "empty key"}
	}
	useCache := m.cacheTTL > 0 && m.db.cache != nil
	cacheKey := ""
	if useCache {
		cacheKey = m.cacheKey(key)
		if data, ok, err := m.db.cache.Get(ctx, cacheKey); err == nil && ok {
			if err := json.Unmarshal(data, dest); err == nil {
				return nil
			}
		}
	}

	cond, params := keyWhere(key)
	b := newBuilder(m.schema.Table)
	b.Select(quotedColumns(m.schema)...).Where(cond).Limit(1)
	sqlStr := b.BuildSelect()
	putBuilder(b)

	row, err := sess.QueryOne(ctx, sqlStr, params)
	if err != nil {
		return err
	}
	if err := m.BindRow(row, dest); err != nil {
		return err
	}

	if useCache {
		if data, err := json.Marshal(dest); err == nil {
			_ = m.db.cache.Set(ctx, cacheKey, data, m.cacheTTL)
		}
	}
	return nil
}

// Update rewrites every non-key, non-auto column from the record,
// including zero and NULL values. Returns the affected-row count.
func (m *Mapper) Update(ctx context.Context, sess *Session, rec any, key Key) (int64, error) {
	rv, err := m.record(rec)
	if err != nil {
		return 0, err
	}
	var columns []string
	params := Params{}
	for _, f := range m.schema.Fields {
		if f.Auto {
			continue
		}
		if _, isKey := key[f.Column]; isKey {
			continue
		}
		v, err := m.encodeField(f, rv)
		if err != nil {
			return 0, err
		}
		columns = append(columns, f.Column)
		params[f.Column] = v
	}
	return m.update(ctx, sess, columns, params, key)
}

// UpdateFields rewrites only the named struct fields. The include list is
// explicit so zero and empty values update like any other: partial
// updates are an opt-in, never inferred from value emptiness.
func (m *Mapper) UpdateFields(ctx context.Context, sess *Session, rec any, key Key, fields ...string) (int64, error) {
	if len(fields) == 0 {
		return 0, &MappingError{Table: m.schema.Table, Reason: "no fields selected for update"}
	}
	rv, err := m.record(rec)
	if err != nil {
		return 0, err
	}
	var columns []string
	params := Params{}
	for _, name := range fields {
		f, ok := m.schema.ByName[name]
		if !ok {
			f, ok = m.schema.ByColumn[name]
		}
		if !ok {
			return 0, &MappingError{Table: m.schema.Table, Field: name, Reason: "unknown field"}
		}
		v, err := m.encodeField(f, rv)
		if err != nil {
			return 0, err
		}
		columns = append(columns, f.Column)
		params[f.Column] = v
	}
	return m.update(ctx, sess, columns, params, key)
}

func (m *Mapper) update(ctx context.Context, sess *Session, columns []string, params Params, key Key) (int64, error) {
	if len(columns) == 0 {
		return 0, &MappingError{Table: m.schema.Table, Reason: "no columns to update"}
	}
	if len(key) == 0 {
		return 0, &MappingError{Table: m.schema.Table, Reason: "empty key"}
	}
	cond, keyParams := keyWhere(key)
	for k, v := range keyParams {
		params[k] = v
	}

	b := newBuilder(m.schema.Table)
	b.Where(cond)
	sqlStr := b.BuildUpdate(columns)
	putBuilder(b)

	res, err := sess.Exec(ctx, sqlStr, params)
	if err != nil {
		return 0, err
	}
	m.invalidate(ctx, key)
	return res.RowsAffected, nil
}

// Delete removes the rows matching key and returns the affected count.
func (m *Mapper) Delete(ctx context.Context, sess *Session, key Key) (int64, error) {
	if len(key) == 0 {
		return 0, &MappingError{Table: m.schema.Table, Reason: "empty key"}
	}
	cond, params := keyWhere(key)
	b := newBuilder(m.schema.Table)
	b.Where(cond)
	sqlStr := b.BuildDelete()
	putBuilder(b)

	res, err := sess.Exec(ctx, sqlStr, params)
	if err != nil {
		return 0, err
	}
	m.invalidate(ctx, key)
	return res.RowsAffected, nil
}

// Select loads all rows matching crit into dest, a pointer to a slice of
// records or record pointers.
func (m *Mapper) Select(ctx context.Context, sess *Session, crit Criteria, dest any) error {
	b := newBuilder(m.schema.Table)
	b.Select(quotedColumns(m.schema)...).Where(crit.Where).OrderBy(crit.OrderBy...)
	if crit.Limit > 0 {
		b.Limit(crit.Limit)
	}
	if crit.Offset > 0 {
		b.Offset(crit.Offset)
	}
	sqlStr := b.BuildSelect()
	putBuilder(b)

	rows, err := sess.Query(ctx, sqlStr, crit.Args)
	if err != nil {
		return err
	}
	defer rows.Close()
	return m.bindRows(rows, dest)
}

// Count returns the number of rows matching crit.
func (m *Mapper) Count(ctx context.Context, sess *Session, crit Criteria) (int64, error) {
	b := newBuilder(m.schema.Table)
	b.Where(crit.Where)
	sqlStr := b.BuildCount()
	putBuilder(b)

	row, err := sess.QueryOne(ctx, sqlStr, crit.Args)
	if err != nil {
		return 0, err
	}
	v, err := codec.Decode("total", row["total"], reflect.TypeOf(int64(0)))
	if err != nil {
		return 0, err
	}
	return v.Int(), nil
}

// SelectPaged runs a counted, offset-paged select: dest receives the
// requested page and the returned Page carries the total.
func (m *Mapper) SelectPaged(ctx context.Context, sess *Session, crit Criteria, dest any, page, size int) (*Page, error) {
	if page < 1 {
		page = 1
	}
	if size < 1 {
		return nil, fmt.Errorf("commondao: page size must be positive, got %d", size)
	}
	total, err := m.Count(ctx, sess, crit)
	if err != nil {
		return nil, err
	}
	crit.Limit = size
	crit.Offset = (page - 1) * size
	if err := m.Select(ctx, sess, crit, dest); err != nil {
		return nil, err
	}
	return &Page{Page: page, Size: size, Total: total}, nil
}

// BindRow materializes a result row into dest (pointer to record struct).
// Unknown row columns are ignored; a missing non-nullable column fails
// with *MappingError rather than defaulting.
func (m *Mapper) BindRow(row Row, dest any) error {
	rv := reflect.ValueOf(dest)
	if rv.Kind() != reflect.Ptr || rv.Elem().Kind() != reflect.Struct {
		return &MappingError{Table: m.schema.Table, Reason: "dest must be a pointer to a record struct"}
	}
	if _, err := m.record(dest); err != nil {
		return err
	}
	elem := rv.Elem()

	for _, f := range m.schema.Fields {
		raw, ok := row[f.Column]
		if !ok {
			if f.Nullable() {
				continue
			}
			return &MappingError{Table: m.schema.Table, Field: f.Name, Column: f.Column, Reason: "required column missing from result"}
		}
		v, err := codec.Decode(f.Column, raw, f.Type)
		if err != nil {
			return err
		}
		elem.Field(f.Index).Set(v)
	}
	return nil
}

func (m *Mapper) bindRows(rows *Rows, dest any) error {
	dv := reflect.ValueOf(dest)
	if dv.Kind() != reflect.Ptr || dv.Elem().Kind() != reflect.Slice {
		return &MappingError{Table: m.schema.Table, Reason: "dest must be a pointer to a slice"}
	}
	sliceVal := dv.Elem()
	itemType := sliceVal.Type().Elem()
	itemIsPtr := itemType.Kind() == reflect.Ptr
	structType := itemType
	if itemIsPtr {
		structType = itemType.Elem()
	}

	for rows.Next() {
		row, err := rows.Scan()
		if err != nil {
			return err
		}
		item := reflect.New(structType)
		if err := m.BindRow(row, item.Interface()); err != nil {
			return err
		}
		if itemIsPtr {
			sliceVal = reflect.Append(sliceVal, item)
		} else {
			sliceVal = reflect.Append(sliceVal, item.Elem())
		}
	}
	if err := rows.Err(); err != nil {
		return err
	}
	dv.Elem().Set(sliceVal)
	return nil
}

func (m *Mapper) cacheKey(key Key) string {
	// json.Marshal sorts map keys, giving a stable representation.
	data, _ := json.Marshal(map[string]any(key))
	return "dao:" + m.schema.Table + ":" + string(data)
}

func (m *Mapper) invalidate(ctx context.Context, key Key) {
	if m.db.cache == nil {
		return
	}
	if err := m.db.cache.Delete(ctx, m.cacheKey(key)); err != nil && !errors.Is(err, context.Canceled) {
		m.db.log.Warn("cache invalidate %s: %v", m.schema.Table, err)
	}
}

// keyWhere builds the WHERE clause for a key. Key parameters carry a w_
// prefix so they never collide with SET columns of the same name.
func keyWhere(key Key) (string, Params) {
	columns := make([]string, 0, len(key))
	for col := range key {
		columns = append(columns, col)
	}
	sort.Strings(columns)

	params := make(Params, len(key))
	cond := ""
	for i, col := range columns {
		if i > 0 {
			cond += " AND "
		}
		cond += quote(col) + " = :w_" + col
		params["w_"+col] = key[col]
	}
	return cond, params
}

func quotedColumns(s *schema.Schema) []string {
	cols := make([]string, len(s.Fields))
	for i, f := range s.Fields {
		cols[i] = quote(f.Column)
	}
	return cols
}
