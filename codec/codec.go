// Package codec converts between Go record field values and the raw
// values exchanged with the database driver. Decoding never substitutes a
// default: malformed or out-of-range input fails with *Error naming the
// offending column.
package codec

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Error reports a value that could not be converted for a column.
type Error struct {
	Column string
	Value  any
	Reason string
	Err    error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("codec: column %q: %s", e.Column, e.Reason)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

func decodeErr(column string, value any, reason string, err error) *Error {
	return &Error{Column: column, Value: value, Reason: reason, Err: err}
}

var (
	timeType     = reflect.TypeOf(time.Time{})
	durationType = reflect.TypeOf(time.Duration(0))
	decimalType  = reflect.TypeOf(decimal.Decimal{})
	bytesType    = reflect.TypeOf([]byte(nil))
)

// Supported reports whether a field type has a scalar codec. Composite
// types are only mapped when tagged as JSON columns.
func Supported(t reflect.Type) bool {
	if t.Kind() == reflect.Ptr {
		return Supported(t.Elem())
	}
	switch t {
	case timeType, durationType, decimalType, bytesType:
		return true
	}
	switch t.Kind() {
	case reflect.String, reflect.Bool,
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return true
	}
	return false
}

// Encode converts a Go field value to a driver parameter. Nil pointers
// become SQL NULL. Composite values fall back to JSON.
func Encode(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	switch x := v.(type) {
	case decimal.Decimal:
		return x.String(), nil
	case time.Time:
		return x, nil
	case time.Duration:
		return FormatDuration(x), nil
	case []byte:
		return x, nil
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Ptr:
		if rv.IsNil() {
			return nil, nil
		}
		return Encode(rv.Elem().Interface())
	case reflect.String:
		return rv.String(), nil
	case reflect.Bool:
		return rv.Bool(), nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int(), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return rv.Uint(), nil
	case reflect.Float32, reflect.Float64:
		return rv.Float(), nil
	}
	return EncodeJSON(v)
}

// EncodeJSON marshals a composite value for a JSON column.
func EncodeJSON(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Ptr && rv.IsNil() {
		return nil, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("codec: marshal json: %w", err)
	}
	return b, nil
}

// Decode converts a raw driver value into the target type. The column name
// is carried into errors.
func Decode(column string, raw any, target reflect.Type) (reflect.Value, error) {
	if raw == nil {
		if target.Kind() == reflect.Ptr {
			return reflect.Zero(target), nil
		}
		return reflect.Value{}, decodeErr(column, nil, fmt.Sprintf("NULL into non-nullable %s", target), nil)
	}

	if target.Kind() == reflect.Ptr {
		inner, err := Decode(column, raw, target.Elem())
		if err != nil {
			return reflect.Value{}, err
		}
		p := reflect.New(target.Elem())
		p.Elem().Set(inner)
		return p, nil
	}

	switch target {
	case timeType:
		return decodeTime(column, raw)
	case durationType:
		return decodeDuration(column, raw)
	case decimalType:
		return decodeDecimal(column, raw)
	case bytesType:
		return decodeBytes(column, raw)
	}

	out := reflect.New(target).Elem()
	switch target.Kind() {
	case reflect.String:
		s, ok := rawString(raw)
		if !ok {
			return reflect.Value{}, decodeErr(column, raw, fmt.Sprintf("%T into string", raw), nil)
		}
		out.SetString(s)
	case reflect.Bool:
		b, err := decodeBool(column, raw)
		if err != nil {
			return reflect.Value{}, err
		}
		out.SetBool(b)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		n, err := decodeInt(column, raw)
		if err != nil {
			return reflect.Value{}, err
		}
		if out.OverflowInt(n) {
			return reflect.Value{}, decodeErr(column, raw, fmt.Sprintf("value %d out of range for %s", n, target), nil)
		}
		out.SetInt(n)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		n, err := decodeUint(column, raw)
		if err != nil {
			return reflect.Value{}, err
		}
		if out.OverflowUint(n) {
			return reflect.Value{}, decodeErr(column, raw, fmt.Sprintf("value %d out of range for %s", n, target), nil)
		}
		out.SetUint(n)
	case reflect.Float32, reflect.Float64:
		f, err := decodeFloat(column, raw)
		if err != nil {
			return reflect.Value{}, err
		}
		if out.OverflowFloat(f) {
			return reflect.Value{}, decodeErr(column, raw, fmt.Sprintf("value %g out of range for %s", f, target), nil)
		}
		out.SetFloat(f)
	default:
		// Composite target: expect a JSON column payload.
		s, ok := rawString(raw)
		if !ok {
			return reflect.Value{}, decodeErr(column, raw, fmt.Sprintf("%T into %s", raw, target), nil)
		}
		ptr := reflect.New(target)
		if err := json.Unmarshal([]byte(s), ptr.Interface()); err != nil {
			return reflect.Value{}, decodeErr(column, raw, "malformed json", err)
		}
		out = ptr.Elem()
	}
	return out, nil
}

func rawString(raw any) (string, bool) {
	switch x := raw.(type) {
	case string:
		return x, true
	case []byte:
		return string(x), true
	}
	return "", false
}

var timeLayouts = []string{
	"2006-01-02 15:04:05.999999",
	"2006-01-02 15:04:05",
	"2006-01-02",
	time.RFC3339Nano,
}

func decodeTime(column string, raw any) (reflect.Value, error) {
	switch x := raw.(type) {
	case time.Time:
		return reflect.ValueOf(x), nil
	case string, []byte:
		s, _ := rawString(raw)
		for _, layout := range timeLayouts {
			if t, err := time.Parse(layout, s); err == nil {
				return reflect.ValueOf(t), nil
			}
		}
		return reflect.Value{}, decodeErr(column, raw, fmt.Sprintf("malformed time %q", s), nil)
	}
	return reflect.Value{}, decodeErr(column, raw, fmt.Sprintf("%T into time.Time", raw), nil)
}

func decodeDuration(column string, raw any) (reflect.Value, error) {
	switch x := raw.(type) {
	case time.Duration:
		return reflect.ValueOf(x), nil
	case string, []byte:
		s, _ := rawString(raw)
		d, err := ParseDuration(s)
		if err != nil {
			return reflect.Value{}, decodeErr(column, raw, "malformed time value", err)
		}
		return reflect.ValueOf(d), nil
	case int64:
		return reflect.ValueOf(time.Duration(x)), nil
	}
	return reflect.Value{}, decodeErr(column, raw, fmt.Sprintf("%T into time.Duration", raw), nil)
}

func decodeDecimal(column string, raw any) (reflect.Value, error) {
	switch x := raw.(type) {
	case int64:
		return reflect.ValueOf(decimal.NewFromInt(x)), nil
	case float64:
		return reflect.ValueOf(decimal.NewFromFloat(x)), nil
	case string, []byte:
		s, _ := rawString(raw)
		d, err := decimal.NewFromString(s)
		if err != nil {
			return reflect.Value{}, decodeErr(column, raw, "malformed decimal", err)
		}
		return reflect.ValueOf(d), nil
	}
	return reflect.Value{}, decodeErr(column, raw, fmt.Sprintf("%T into decimal.Decimal", raw), nil)
}

func decodeBytes(column string, raw any) (reflect.Value, error) {
	switch x := raw.(type) {
	case []byte:
		// sql.Rows may reuse the buffer between scans.
		cp := make([]byte, len(x))
		copy(cp, x)
		return reflect.ValueOf(cp), nil
	case string:
		return reflect.ValueOf([]byte(x)), nil
	}
	return reflect.Value{}, decodeErr(column, raw, fmt.Sprintf("%T into []byte", raw), nil)
}

func decodeBool(column string, raw any) (bool, error) {
	switch x := raw.(type) {
	case bool:
		return x, nil
	case int64:
		if x == 0 || x == 1 {
			return x == 1, nil
		}
		return false, decodeErr(column, raw, fmt.Sprintf("value %d out of range for bool", x), nil)
	case string, []byte:
		s, _ := rawString(raw)
		b, err := strconv.ParseBool(s)
		if err != nil {
			return false, decodeErr(column, raw, "malformed bool", err)
		}
		return b, nil
	}
	return false, decodeErr(column, raw, fmt.Sprintf("%T into bool", raw), nil)
}

func decodeInt(column string, raw any) (int64, error) {
	switch x := raw.(type) {
	case int64:
		return x, nil
	case string, []byte:
		s, _ := rawString(raw)
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return 0, decodeErr(column, raw, "malformed integer", err)
		}
		return n, nil
	}
	return 0, decodeErr(column, raw, fmt.Sprintf("%T into integer", raw), nil)
}

func decodeUint(column string, raw any) (uint64, error) {
	switch x := raw.(type) {
	case int64:
		if x < 0 {
			return 0, decodeErr(column, raw, fmt.Sprintf("negative value %d into unsigned", x), nil)
		}
		return uint64(x), nil
	case uint64:
		return x, nil
	case string, []byte:
		s, _ := rawString(raw)
		n, err := strconv.ParseUint(s, 10, 64)
		if err != nil {
			return 0, decodeErr(column, raw, "malformed unsigned integer", err)
		}
		return n, nil
	}
	return 0, decodeErr(column, raw, fmt.Sprintf("%T into unsigned integer", raw), nil)
}

func decodeFloat(column string, raw any) (float64, error) {
	switch x := raw.(type) {
	case float64:
		return x, nil
	case int64:
		return float64(x), nil
	case string, []byte:
		s, _ := rawString(raw)
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, decodeErr(column, raw, "malformed float", err)
		}
		return f, nil
	}
	return 0, decodeErr(column, raw, fmt.Sprintf("%T into float", raw), nil)
}

// FormatDuration renders a duration as a MySQL TIME literal
// ([-]HHH:MM:SS.ffffff). Sub-microsecond precision is truncated, matching
// the engine's TIME(6) resolution.
func FormatDuration(d time.Duration) string {
	neg := ""
	if d < 0 {
		neg = "-"
		d = -d
	}
	h := d / time.Hour
	d -= h * time.Hour
	m := d / time.Minute
	d -= m * time.Minute
	s := d / time.Second
	d -= s * time.Second
	micros := d / time.Microsecond
	if micros > 0 {
		return fmt.Sprintf("%s%02d:%02d:%02d.%06d", neg, h, m, s, micros)
	}
	return fmt.Sprintf("%s%02d:%02d:%02d", neg, h, m, s)
}

// ParseDuration parses a MySQL TIME literal ([-]HHH:MM:SS[.ffffff]).
func ParseDuration(s string) (time.Duration, error) {
	orig := s
	neg := false
	if strings.HasPrefix(s, "-") {
		neg = true
		s = s[1:]
	}
	frac := time.Duration(0)
	if i := strings.IndexByte(s, '.'); i >= 0 {
		f, err := strconv.ParseFloat("0"+s[i:], 64)
		if err != nil {
			return 0, fmt.Errorf("invalid time %q", orig)
		}
		frac = time.Duration(f * float64(time.Second))
		s = s[:i]
	}
	parts := strings.Split(s, ":")
	if len(parts) != 3 {
		return 0, fmt.Errorf("invalid time %q", orig)
	}
	h, err1 := strconv.Atoi(parts[0])
	m, err2 := strconv.Atoi(parts[1])
	sec, err3 := strconv.Atoi(parts[2])
	if err1 != nil || err2 != nil || err3 != nil || m > 59 || sec > 59 {
		return 0, fmt.Errorf("invalid time %q", orig)
	}
	d := time.Duration(h)*time.Hour + time.Duration(m)*time.Minute + time.Duration(sec)*time.Second + frac
	if neg {
		d = -d
	}
	return d, nil
}
