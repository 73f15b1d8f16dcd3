package relational

import (
	"fmt"
	"strings"

	"github.com/jacentio/dataapi/statement"
)

// Config holds configuration for the relational backend.
type Config struct {
	// Dialect selects placeholder syntax and column types.
	// Default: Postgres
	Dialect Dialect

	// Table is the Resource table name. It is lower-cased.
	Table string

	// MetadataTable is the Metadata table name.
	// Default: Table + "_metadata"
	MetadataTable string

	// KeyAttribute is the primary key column of both tables.
	// Default: "id"
	KeyAttribute string
}

// DefaultConfig returns defaults for a PostgreSQL-backed Data API.
func DefaultConfig(table string) Config {
	table = strings.ToLower(table)
	return Config{
		Dialect:       Postgres,
		Table:         table,
		MetadataTable: table + "_metadata",
		KeyAttribute:  "id",
	}
}

// validate fills defaults and checks table names.
func (c *Config) validate() error {
	if c.Dialect.Name == "" {
		c.Dialect = Postgres
	}
	c.Table = strings.ToLower(c.Table)
	if c.MetadataTable == "" {
		c.MetadataTable = c.Table + "_metadata"
	}
	c.MetadataTable = strings.ToLower(c.MetadataTable)
	if c.KeyAttribute == "" {
		c.KeyAttribute = "id"
	}
	for _, name := range []string{c.Table, c.MetadataTable, c.KeyAttribute} {
		if err := validateIdentifier(name); err != nil {
			return fmt.Errorf("relational: %w", err)
		}
	}
	return nil
}

// Columns maps who-columns onto their snake_case column names.
var Columns = statement.ColumnMap{
	statement.ItemVersion:      "item_version",
	statement.LastUpdateAction: "last_update_action",
	statement.LastUpdateDate:   "last_update_date",
	statement.LastUpdatedBy:    "last_updated_by",
	statement.Deleted:          "deleted",
	statement.ItemMasterID:     "item_master_id",
}

// IndexName returns the name of the index on column.
func IndexName(table, column string) string {
	return table + "_" + column
}
