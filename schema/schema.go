// Package schema turns record struct types into immutable table metadata.
// Schemas are checked once at registration and shared read-only afterwards.
package schema

import (
	"fmt"
	"reflect"
	"sync"
	"unicode"

	"github.com/commondao/commondao/codec"
)

// Field describes one mapped column of a record type.
type Field struct {
	Name   string       // struct field name
	Column string       // SQL column name
	Type   reflect.Type // field type
	Index  int          // struct field index
	PK     bool         // primary key column
	Auto   bool         // auto-increment, excluded from INSERT
	JSON   bool         // stored as a JSON column
}

// Nullable reports whether the field accepts SQL NULL.
func (f *Field) Nullable() bool {
	return f.Type.Kind() == reflect.Ptr
}

// Schema is the registered, immutable description of a record type.
type Schema struct {
	Table    string
	Fields   []*Field
	ByColumn map[string]*Field
	ByName   map[string]*Field
	PK       *Field
}

// Columns returns the column names of all mapped fields in declaration order.
func (s *Schema) Columns() []string {
	cols := make([]string, len(s.Fields))
	for i, f := range s.Fields {
		cols[i] = f.Column
	}
	return cols
}

// TableNamer overrides the derived snake_case table name.
type TableNamer interface {
	TableName() string
}

var registry sync.Map

// Register parses and validates the schema for a record struct (or pointer
// to struct). The result is cached; repeated calls are cheap. Registration
// fails on duplicate columns, unsupported field types and multiple primary
// keys, so mapping mistakes surface at startup rather than per call.
func Register(value any) (*Schema, error) {
	if value == nil {
		return nil, fmt.Errorf("schema: value is nil")
	}

	typ := reflect.TypeOf(value)
	if typ.Kind() == reflect.Ptr {
		typ = typ.Elem()
	}
	if typ.Kind() != reflect.Struct {
		return nil, fmt.Errorf("schema: value must be a struct or pointer to struct, got %s", typ.Kind())
	}

	key := typ.PkgPath() + "." + typ.Name()
	if cached, ok := registry.Load(key); ok {
		return cached.(*Schema), nil
	}

	s, err := parse(typ, value)
	if err != nil {
		return nil, err
	}

	registry.Store(key, s)
	return s, nil
}

func parse(typ reflect.Type, value any) (*Schema, error) {
	s := &Schema{
		Table:    CamelToSnake(typ.Name()),
		ByColumn: make(map[string]*Field),
		ByName:   make(map[string]*Field),
	}
	if namer, ok := value.(TableNamer); ok {
		s.Table = namer.TableName()
	}

	for i := 0; i < typ.NumField(); i++ {
		structField := typ.Field(i)
		if !structField.IsExported() {
			continue
		}

		tag := ParseTag(structField.Tag.Get("dao"))
		if tag.Omit {
			continue
		}

		column := tag.Column
		if column == "" {
			column = CamelToSnake(structField.Name)
		}
		if _, dup := s.ByColumn[column]; dup {
			return nil, fmt.Errorf("schema: %s: duplicate column %q", typ.Name(), column)
		}

		if !tag.JSON && !codec.Supported(structField.Type) {
			return nil, fmt.Errorf("schema: %s.%s: unsupported type %s (tag it `dao:\"json\"` or `dao:\"-\"`)",
				typ.Name(), structField.Name, structField.Type)
		}

		field := &Field{
			Name:   structField.Name,
			Column: column,
			Type:   structField.Type,
			Index:  i,
			PK:     tag.PK,
			Auto:   tag.Auto,
			JSON:   tag.JSON,
		}

		if field.PK {
			if s.PK != nil {
				return nil, fmt.Errorf("schema: %s: multiple primary keys (%s, %s)", typ.Name(), s.PK.Name, field.Name)
			}
			s.PK = field
		}

		s.Fields = append(s.Fields, field)
		s.ByColumn[column] = field
		s.ByName[field.Name] = field
	}

	if len(s.Fields) == 0 {
		return nil, fmt.Errorf("schema: %s has no mapped fields", typ.Name())
	}
	return s, nil
}

// CamelToSnake converts a Go identifier to its snake_case column form.
func CamelToSnake(s string) string {
	if s == "ID" {
		return "id"
	}
	runes := []rune(s)
	res := make([]rune, 0, len(runes)+2)
	for i, r := range runes {
		if unicode.IsUpper(r) {
			if i > 0 && (unicode.IsLower(runes[i-1]) || (i+1 < len(runes) && unicode.IsLower(runes[i+1]))) {
				res = append(res, '_')
			}
			res = append(res, unicode.ToLower(r))
		} else {
			res = append(res, r)
		}
	}
	return string(res)
}
