// daogen generates record structs with dao tags from a live MySQL
// database's information_schema metadata.
package main

import (
	"database/sql"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"text/template"
	"unicode"

	_ "github.com/go-sql-driver/mysql"
)

var (
	dsn       = flag.String("dsn", "", "MySQL DSN, e.g. user:pass@tcp(127.0.0.1:3306)/mydb")
	tableName = flag.String("table", "", "generate only this table (default: all base tables)")
	pkgName   = flag.String("pkg", "records", "package name for the generated code")
	outDir    = flag.String("out", "./records", "output directory")
	overwrite = flag.Bool("overwrite", false, "overwrite existing files")
)

const recordTemplate = `package {{.Package}}

{{if .Imports}}import (
{{- range .Imports}}
	{{.}}
{{- end}}
)

{{end}}// {{.StructName}} maps table {{.Table}}.
type {{.StructName}} struct {
{{- range .Fields}}
	{{.Name}} {{.GoType}} ` + "`" + `dao:"{{.Tag}}"` + "`" + `{{if .Comment}} // {{.Comment}}{{end}}
{{- end}}
}

// TableName returns the mapped table name.
func (r *{{.StructName}}) TableName() string {
	return "{{.Table}}"
}
`

type fieldDef struct {
	Name    string
	GoType  string
	Tag     string
	Comment string
}

type tableDef struct {
	Package    string
	Table      string
	StructName string
	Fields     []fieldDef
	Imports    []string
}

func main() {
	flag.Parse()
	if *dsn == "" {
		flag.Usage()
		os.Exit(2)
	}

	db, err := sql.Open("mysql", *dsn)
	if err != nil {
		log.Fatalf("open: %v", err)
	}
	defer db.Close()
	if err := db.Ping(); err != nil {
		log.Fatalf("ping: %v", err)
	}

	tables, err := listTables(db)
	if err != nil {
		log.Fatalf("list tables: %v", err)
	}
	if *tableName != "" {
		tables = []string{*tableName}
	}
	if len(tables) == 0 {
		log.Fatal("no tables found")
	}

	if err := os.MkdirAll(*outDir, 0o755); err != nil {
		log.Fatalf("mkdir %s: %v", *outDir, err)
	}

	tmpl := template.Must(template.New("record").Parse(recordTemplate))
	for _, table := range tables {
		def, err := describeTable(db, table)
		if err != nil {
			log.Fatalf("describe %s: %v", table, err)
		}
		path := filepath.Join(*outDir, table+".go")
		if !*overwrite {
			if _, err := os.Stat(path); err == nil {
				log.Printf("skip %s (exists, use -overwrite)", path)
				continue
			}
		}
		f, err := os.Create(path)
		if err != nil {
			log.Fatalf("create %s: %v", path, err)
		}
		if err := tmpl.Execute(f, def); err != nil {
			f.Close()
			log.Fatalf("render %s: %v", path, err)
		}
		f.Close()
		fmt.Printf("generated %s\n", path)
	}
}

func listTables(db *sql.DB) ([]string, error) {
	rows, err := db.Query(`SELECT table_name FROM information_schema.tables
		WHERE table_schema = DATABASE() AND table_type = 'BASE TABLE' ORDER BY table_name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tables []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		tables = append(tables, name)
	}
	return tables, rows.Err()
}

func describeTable(db *sql.DB, table string) (*tableDef, error) {
	rows, err := db.Query(`SELECT column_name, data_type, column_type, is_nullable, column_key, extra, column_comment
		FROM information_schema.columns
		WHERE table_schema = DATABASE() AND table_name = ?
		ORDER BY ordinal_position`, table)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	def := &tableDef{Package: *pkgName, Table: table, StructName: snakeToCamel(table)}
	imports := map[string]bool{}

	for rows.Next() {
		var column, dataType, columnType, nullable, key, extra, comment string
		if err := rows.Scan(&column, &dataType, &columnType, &nullable, &key, &extra, &comment); err != nil {
			return nil, err
		}

		goType, imp, jsonCol := goTypeFor(dataType, columnType)
		if nullable == "YES" {
			goType = "*" + goType
		}
		if imp != "" {
			imports[imp] = true
		}

		var opts []string
		if camelToSnake(snakeToCamel(column)) != column {
			opts = append(opts, "column:"+column)
		}
		if key == "PRI" {
			opts = append(opts, "pk")
		}
		if strings.Contains(extra, "auto_increment") {
			opts = append(opts, "auto")
		}
		if jsonCol {
			opts = append(opts, "json")
		}

		def.Fields = append(def.Fields, fieldDef{
			Name:    snakeToCamel(column),
			GoType:  goType,
			Tag:     strings.Join(opts, ";"),
			Comment: comment,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(def.Fields) == 0 {
		return nil, fmt.Errorf("table %s has no columns", table)
	}

	for imp := range imports {
		def.Imports = append(def.Imports, imp)
	}
	sort.Strings(def.Imports)
	return def, nil
}

func goTypeFor(dataType, columnType string) (goType, imp string, jsonCol bool) {
	unsigned := strings.Contains(columnType, "unsigned")
	switch dataType {
	case "tinyint":
		if strings.HasPrefix(columnType, "tinyint(1)") {
			return "bool", "", false
		}
		if unsigned {
			return "uint8", "", false
		}
		return "int8", "", false
	case "smallint", "mediumint", "int":
		if unsigned {
			return "uint32", "", false
		}
		return "int32", "", false
	case "bigint":
		if unsigned {
			return "uint64", "", false
		}
		return "int64", "", false
	case "float":
		return "float32", "", false
	case "double":
		return "float64", "", false
	case "decimal", "numeric":
		return "decimal.Decimal", `"github.com/shopspring/decimal"`, false
	case "date", "datetime", "timestamp":
		return "time.Time", `"time"`, false
	case "time":
		return "time.Duration", `"time"`, false
	case "binary", "varbinary", "blob", "tinyblob", "mediumblob", "longblob":
		return "[]byte", "", false
	case "json":
		return "json.RawMessage", `"encoding/json"`, true
	default:
		return "string", "", false
	}
}

func snakeToCamel(s string) string {
	parts := strings.Split(s, "_")
	var sb strings.Builder
	for _, part := range parts {
		if part == "" {
			continue
		}
		if part == "id" {
			sb.WriteString("ID")
			continue
		}
		sb.WriteString(strings.ToUpper(part[:1]))
		sb.WriteString(part[1:])
	}
	return sb.String()
}

func camelToSnake(s string) string {
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
