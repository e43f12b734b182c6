package schema_test

import (
	"strings"
	"testing"
	"time"

	"github.com/commondao/commondao/schema"
)

type UserProfile struct {
	ID        int64  `dao:"pk;auto"`
	UserName  string `dao:"column:login"`
	Email     string
	Settings  map[string]string `dao:"json"`
	CreatedAt time.Time
	internal  int
	Scratch   string `dao:"-"`
}

func TestRegisterParsesFields(t *testing.T) {
	s, err := schema.Register(&UserProfile{})
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	if s.Table != "user_profile" {
		t.Errorf("table = %q, want user_profile", s.Table)
	}
	if len(s.Fields) != 5 {
		t.Fatalf("expected 5 mapped fields, got %d: %v", len(s.Fields), s.Columns())
	}
	if s.PK == nil || s.PK.Name != "ID" || !s.PK.Auto {
		t.Errorf("primary key: %+v", s.PK)
	}

	login := s.ByColumn["login"]
	if login == nil || login.Name != "UserName" {
		t.Errorf("column override: %+v", login)
	}
	if s.ByColumn["email"] == nil {
		t.Error("derived column email missing")
	}
	if f := s.ByName["Settings"]; f == nil || !f.JSON {
		t.Errorf("json field: %+v", f)
	}
	if _, ok := s.ByName["Scratch"]; ok {
		t.Error("omitted field should not be mapped")
	}
	if _, ok := s.ByName["internal"]; ok {
		t.Error("unexported field should not be mapped")
	}
}

func TestRegisterCachesSchema(t *testing.T) {
	a, err := schema.Register(&UserProfile{})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	b, err := schema.Register(UserProfile{})
	if err != nil {
		t.Fatalf("register value form: %v", err)
	}
	if a != b {
		t.Error("expected the cached schema instance")
	}
}

type renamedRecord struct {
	ID int64 `dao:"pk"`
}

func (renamedRecord) TableName() string { return "t_custom" }

func TestTableNamerOverride(t *testing.T) {
	s, err := schema.Register(renamedRecord{})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if s.Table != "t_custom" {
		t.Errorf("table = %q, want t_custom", s.Table)
	}
}

func TestRegisterRejectsBadRecords(t *testing.T) {
	type dupColumns struct {
		Name  string
		Alias string `dao:"column:name"`
	}
	if _, err := schema.Register(dupColumns{}); err == nil || !strings.Contains(err.Error(), "duplicate column") {
		t.Errorf("duplicate columns: %v", err)
	}

	type badType struct {
		Callback func() `dao:"column:cb"`
	}
	if _, err := schema.Register(badType{}); err == nil || !strings.Contains(err.Error(), "unsupported type") {
		t.Errorf("unsupported type: %v", err)
	}

	type twoKeys struct {
		A int64 `dao:"pk"`
		B int64 `dao:"pk"`
	}
	if _, err := schema.Register(twoKeys{}); err == nil || !strings.Contains(err.Error(), "multiple primary keys") {
		t.Errorf("multiple pks: %v", err)
	}

	type empty struct {
		hidden int
	}
	if _, err := schema.Register(empty{}); err == nil {
		t.Error("record without mapped fields should fail")
	}
	if _, err := schema.Register(nil); err == nil {
		t.Error("nil record should fail")
	}
	if _, err := schema.Register("not a struct"); err == nil {
		t.Error("non-struct record should fail")
	}
}

func TestParseTag(t *testing.T) {
	cases := []struct {
		in   string
		want schema.Tag
	}{
		{"", schema.Tag{}},
		{"-", schema.Tag{Omit: true}},
		{"pk;auto", schema.Tag{PK: true, Auto: true}},
		{"pk, auto", schema.Tag{PK: true, Auto: true}},
		{"column:user_name", schema.Tag{Column: "user_name"}},
		{"column:user_name;pk", schema.Tag{Column: "user_name", PK: true}},
		{"json", schema.Tag{JSON: true}},
		{"omit", schema.Tag{Omit: true}},
	}
	for _, c := range cases {
		got := schema.ParseTag(c.in)
		if *got != c.want {
			t.Errorf("ParseTag(%q) = %+v, want %+v", c.in, *got, c.want)
		}
	}
}

func TestCamelToSnake(t *testing.T) {
	cases := map[string]string{
		"ID":          "id",
		"UserProfile": "user_profile",
		"CreatedAt":   "created_at",
		"HTTPStatus":  "http_status",
		"UserID":      "user_id",
		"Name":        "name",
		// Multi-byte runes must not confuse the neighbor checks.
		"CaféX":  "café_x",
		"ÜberID": "über_id",
	}
	for in, want := range cases {
		if got := schema.CamelToSnake(in); got != want {
			t.Errorf("CamelToSnake(%q) = %q, want %q", in, got, want)
		}
	}
}
