package relational

import (
	"context"
	"fmt"
	"strings"

	"github.com/jacentio/dataapi/statement"
)

// TableDDL renders a CREATE TABLE statement for a facet from its JSON Schema
// document. Each schema property becomes a column; the key column is the
// primary key and the who-columns are appended.
func TableDDL(d Dialect, table, pk string, schema map[string]any) (string, error) {
	q := newQuery(d)
	t, err := q.ident(table)
	if err != nil {
		return "", err
	}
	key, err := q.ident(pk)
	if err != nil {
		return "", err
	}

	props, _ := schema["properties"].(map[string]any)
	required := map[string]bool{}
	switch req := schema["required"].(type) {
	case []any:
		for _, r := range req {
			if s, ok := r.(string); ok {
				required[s] = true
			}
		}
	case []string:
		for _, r := range req {
			required[r] = true
		}
	}

	cols := []string{key + " " + d.columnType("string") + " primary key"}
	for _, p := range statement.SortedKeys(props) {
		if p == pk || statement.IsWhoColumn(p) {
			continue
		}
		col, err := q.ident(p)
		if err != nil {
			return "", err
		}
		var jsonType string
		if spec, ok := props[p].(map[string]any); ok {
			jsonType, _ = spec["type"].(string)
		}
		def := col + " " + d.columnType(jsonType)
		if required[p] {
			def += " not null"
		} else {
			def += " null"
		}
		cols = append(cols, def)
	}
	cols = append(cols, d.WhoColumnDDL()...)
	return fmt.Sprintf("create table if not exists %s (%s)", t, strings.Join(cols, ", ")), nil
}

// IndexDDL renders a CREATE INDEX statement on column.
func IndexDDL(table, column string) (string, error) {
	for _, name := range []string{table, column} {
		if err := validateIdentifier(name); err != nil {
			return "", err
		}
	}
	return fmt.Sprintf(`create index if not exists "%s" on "%s" ("%s")`, IndexName(table, column), table, column), nil
}

// EnsureTables creates both facet tables and their indexes when absent.
// Index attributes use engine names; who-columns are translated.
func (b *Backend) EnsureTables(ctx context.Context, resourceSchema, metadataSchema map[string]any, resourceIndexes, metadataIndexes []string) error {
	var stmts []string
	for _, f := range []struct {
		table   string
		schema  map[string]any
		indexes []string
	}{
		{b.config.Table, resourceSchema, append([]string{statement.ItemMasterID}, resourceIndexes...)},
		{b.config.MetadataTable, metadataSchema, metadataIndexes},
	} {
		ddl, err := TableDDL(b.config.Dialect, f.table, b.config.KeyAttribute, f.schema)
		if err != nil {
			return err
		}
		stmts = append(stmts, ddl)
		for _, attr := range f.indexes {
			idx, err := IndexDDL(f.table, Columns.Physical(attr))
			if err != nil {
				return err
			}
			stmts = append(stmts, idx)
		}
	}

	for _, s := range stmts {
		b.logger.Debug("exec", "sql", s)
		if _, err := b.db.ExecContext(ctx, s); err != nil {
			return fmt.Errorf("relational: %s: %w", s, err)
		}
	}
	b.logger.Info("verified tables", "resource", b.config.Table, "metadata", b.config.MetadataTable)
	return nil
}
