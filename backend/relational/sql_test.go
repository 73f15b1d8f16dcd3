package relational

import (
	"errors"
	"reflect"
	"strings"
	"testing"

	"github.com/jacentio/dataapi/statement"
	"github.com/jacentio/dataapi/store"
)

func TestRenderUpdate(t *testing.T) {
	u := statement.NewUpdate(statement.Resource, "1").
		Set("attr1", "x").
		Remove("attr3").
		Add(statement.ItemVersion, 1).
		Require(statement.Equal(statement.ItemVersion, int64(2)))

	tests := []struct {
		name    string
		dialect Dialect
		want    string
	}{
		{
			name:    "postgres",
			dialect: Postgres,
			want: `UPDATE "customers" SET "attr1" = $1, "attr3" = NULL, "item_version" = COALESCE("item_version", 0) + $2` +
				` WHERE ("id" = $3 AND "item_version" = $4) RETURNING *`,
		},
		{
			name:    "sqlite",
			dialect: SQLite,
			want: `UPDATE "customers" SET "attr1" = ?, "attr3" = NULL, "item_version" = COALESCE("item_version", 0) + ?` +
				` WHERE ("id" = ? AND "item_version" = ?) RETURNING *`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q, err := renderUpdate(tt.dialect, "customers", "id", u)
			if err != nil {
				t.Fatalf("renderUpdate failed: %v", err)
			}
			if q.String() != tt.want {
				t.Errorf("unexpected SQL\n got: %s\nwant: %s", q.String(), tt.want)
			}
			if len(q.args) != 4 || q.args[0] != "x" || q.args[2] != "1" {
				t.Errorf("unexpected args %v", q.args)
			}
		})
	}
}

func TestRenderInsert(t *testing.T) {
	u := statement.NewUpdate(statement.Metadata, "1").Set("owner", "team-1").Add(statement.ItemVersion, 1)

	q, err := renderInsert(Postgres, "customers_metadata", "id", u.Insert())
	if err != nil {
		t.Fatalf("renderInsert failed: %v", err)
	}
	want := `INSERT INTO "customers_metadata" ("id", "owner", "item_version") VALUES ($1, $2, $3) ON CONFLICT ("id") DO NOTHING RETURNING *`
	if q.String() != want {
		t.Errorf("unexpected SQL\n got: %s\nwant: %s", q.String(), want)
	}
	if q.args[0] != "1" || q.args[2] != int64(1) {
		t.Errorf("unexpected args %v", q.args)
	}
}

func TestRenderSelect(t *testing.T) {
	tests := []struct {
		name  string
		conds []statement.Condition
		after any
		limit int
		want  string
	}{
		{
			name: "all",
			want: `SELECT * FROM "customers" ORDER BY "id"`,
		},
		{
			name:  "cursor only",
			after: "3",
			want:  `SELECT * FROM "customers" WHERE "id" > $1 ORDER BY "id"`,
		},
		{
			name:  "filtered page",
			conds: []statement.Condition{statement.Equal("attr2", "a"), statement.NotDeleted()},
			after: "3",
			limit: 5,
			want: `SELECT * FROM "customers" WHERE ("attr2" = $1 AND ("deleted" IS NULL OR "deleted" <> $2))` +
				` AND "id" > $3 ORDER BY "id" LIMIT 6`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q, err := renderSelect(Postgres, "customers", "id", tt.conds, tt.after, tt.limit)
			if err != nil {
				t.Fatalf("renderSelect failed: %v", err)
			}
			if q.String() != tt.want {
				t.Errorf("unexpected SQL\n got: %s\nwant: %s", q.String(), tt.want)
			}
		})
	}
}

func TestRender_InvalidIdentifier(t *testing.T) {
	u := statement.NewUpdate(statement.Resource, "1").Set(`x"; drop table customers; --`, 1)
	_, err := renderUpdate(Postgres, "customers", "id", u)
	if !errors.Is(err, store.ErrInvalidArguments) {
		t.Errorf("expected ErrInvalidArguments, got %v", err)
	}

	if _, err := IndexDDL("customers", "bad-name"); err == nil {
		t.Error("expected invalid index column rejected")
	}
}

func TestBindValue(t *testing.T) {
	if got := bindValue(map[string]any{"a": 1}); got != `{"a":1}` {
		t.Errorf("expected JSON text, got %v", got)
	}
	if got := bindValue([]any{"x", "y"}); got != `["x","y"]` {
		t.Errorf("expected JSON array, got %v", got)
	}
	if got := bindValue(int64(7)); got != int64(7) {
		t.Errorf("expected scalar unchanged, got %v", got)
	}
}

func TestTableDDL(t *testing.T) {
	schema := map[string]any{
		"properties": map[string]any{
			"id":    map[string]any{"type": "string"},
			"attr1": map[string]any{"type": "string"},
			"count": map[string]any{"type": "integer"},
			"tags":  map[string]any{"type": "array"},
		},
		"required": []any{"attr1"},
	}

	ddl, err := TableDDL(Postgres, "customers", "id", schema)
	if err != nil {
		t.Fatalf("TableDDL failed: %v", err)
	}
	for _, want := range []string{
		`create table if not exists "customers" (`,
		`"id" varchar primary key`,
		`"attr1" varchar not null`,
		`"count" bigint null`,
		`"tags" jsonb null`,
		"item_version bigint not null default 1",
		"deleted boolean not null default false",
	} {
		if !strings.Contains(ddl, want) {
			t.Errorf("expected %q in %s", want, ddl)
		}
	}
	if strings.Count(ddl, `"id"`) != 1 {
		t.Errorf("expected key column declared once: %s", ddl)
	}
}

func TestIndexDDL(t *testing.T) {
	got, err := IndexDDL("customers", "item_master_id")
	if err != nil {
		t.Fatalf("IndexDDL failed: %v", err)
	}
	want := `create index if not exists "customers_item_master_id" on "customers" ("item_master_id")`
	if got != want {
		t.Errorf("got %s, want %s", got, want)
	}
}

func TestConfigDefaults(t *testing.T) {
	cfg := Config{Table: "Customers"}
	if err := cfg.validate(); err != nil {
		t.Fatalf("validate failed: %v", err)
	}
	if cfg.Table != "customers" || cfg.MetadataTable != "customers_metadata" || cfg.KeyAttribute != "id" {
		t.Errorf("unexpected config %+v", cfg)
	}
	if cfg.Dialect.Name != Postgres.Name {
		t.Errorf("expected postgres default, got %q", cfg.Dialect.Name)
	}

	bad := Config{Table: "my-table"}
	if err := bad.validate(); err == nil {
		t.Error("expected invalid table name rejected")
	}
}

func TestDialectFor(t *testing.T) {
	tests := []struct {
		in     string
		driver string
		ok     bool
	}{
		{"postgres", "pgx", true},
		{"PG", "pgx", true},
		{"sqlite", "sqlite3", true},
		{"oracle", "", false},
	}
	for _, tt := range tests {
		d, err := DialectFor(tt.in)
		if (err == nil) != tt.ok {
			t.Errorf("DialectFor(%q) error = %v", tt.in, err)
			continue
		}
		if d.Driver != tt.driver {
			t.Errorf("DialectFor(%q) driver = %q, want %q", tt.in, d.Driver, tt.driver)
		}
	}
}

func TestDecodeRow(t *testing.T) {
	rec := decodeRow(
		[]string{"id", "attr1", "item_version", "deleted", "item_master_id", "blob"},
		[]string{"VARCHAR", "TEXT", "BIGINT", "BOOLEAN", "VARCHAR", "BYTEA"},
		[]any{[]byte("1"), "x", "4", int64(1), nil, []byte("raw")},
	)
	if rec["id"] != "1" || rec["blob"] != "raw" {
		t.Errorf("expected bytes decoded to strings, got %v", rec)
	}
	if rec[statement.ItemVersion] != int64(4) {
		t.Errorf("expected ItemVersion int64, got %#v", rec[statement.ItemVersion])
	}
	if rec[statement.Deleted] != true {
		t.Errorf("expected Deleted bool, got %#v", rec[statement.Deleted])
	}
	if _, ok := rec[statement.ItemMasterID]; ok {
		t.Error("expected NULL column absent")
	}
}

func TestDecodeValue(t *testing.T) {
	tests := []struct {
		name   string
		dbType string
		in     any
		want   any
	}{
		{"jsonb object", "JSONB", []byte(`{"city":"x"}`), map[string]any{"city": "x"}},
		{"json array", "JSON", `["a","b"]`, []any{"a", "b"}},
		{"numeric text", "NUMERIC", "1.5", 1.5},
		{"real", "REAL", 2.5, 2.5},
		{"text stays text", "TEXT", `["a"]`, `["a"]`},
		{"invalid json kept", "JSONB", "not json", "not json"},
		{"bool", "BOOLEAN", true, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := decodeValue(tt.dbType, tt.in); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("decodeValue(%s, %#v) = %#v, want %#v", tt.dbType, tt.in, got, tt.want)
			}
		})
	}
}
