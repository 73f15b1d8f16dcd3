package relational

import (
	"fmt"
	"strconv"
	"strings"

	// database/sql drivers
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/mattn/go-sqlite3"
)

// Dialect captures the differences between supported SQL engines.
type Dialect struct {
	// Name identifies the dialect in configuration.
	Name string

	// Driver is the database/sql driver name.
	Driver string

	numbered bool
	types    map[string]string
	who      []string
	size     string
}

// Postgres targets PostgreSQL through pgx.
var Postgres = Dialect{
	Name:     "postgres",
	Driver:   "pgx",
	numbered: true,
	types: map[string]string{
		"string":  "varchar",
		"integer": "bigint",
		"number":  "numeric",
		"boolean": "boolean",
		"object":  "jsonb",
		"array":   "jsonb",
	},
	who: []string{
		"item_version bigint not null default 1",
		"last_update_action varchar(15) null",
		"last_update_date timestamp with time zone not null",
		"last_updated_by varchar(60) not null",
		"deleted boolean not null default false",
		"item_master_id varchar null",
	},
	size: "select pg_total_relation_size($1::regclass)",
}

// SQLite targets SQLite through mattn/go-sqlite3.
var SQLite = Dialect{
	Name:   "sqlite",
	Driver: "sqlite3",
	types: map[string]string{
		"string":  "text",
		"integer": "integer",
		"number":  "real",
		"boolean": "boolean",
		"object":  "json",
		"array":   "json",
	},
	who: []string{
		"item_version integer not null default 1",
		"last_update_action text null",
		"last_update_date text not null",
		"last_updated_by text not null",
		"deleted boolean not null default false",
		"item_master_id text null",
	},
}

// DialectFor returns the dialect with the given name.
func DialectFor(name string) (Dialect, error) {
	switch strings.ToLower(name) {
	case "postgres", "postgresql", "pg":
		return Postgres, nil
	case "sqlite", "sqlite3":
		return SQLite, nil
	}
	return Dialect{}, fmt.Errorf("relational: unknown dialect %q", name)
}

// placeholder returns the bind marker for the n-th (1-based) argument.
func (d Dialect) placeholder(n int) string {
	if d.numbered {
		return "$" + strconv.Itoa(n)
	}
	return "?"
}

// columnType maps a JSON Schema type onto a column type.
func (d Dialect) columnType(jsonType string) string {
	if t, ok := d.types[jsonType]; ok {
		return t
	}
	return d.types["string"]
}

// WhoColumnDDL returns the column definitions of the who-columns.
func (d Dialect) WhoColumnDDL() []string {
	return append([]string(nil), d.who...)
}
