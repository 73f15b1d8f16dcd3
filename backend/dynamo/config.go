package dynamo

import (
	"github.com/jacentio/dataapi/statement"
)

// Config holds configuration for the DynamoDB backend.
type Config struct {
	// Table is the Resource table name.
	Table string

	// MetadataTable is the Metadata table name.
	// Default: Table + "-Metadata"
	MetadataTable string

	// KeyAttribute is the hash key of both tables.
	// Default: "id"
	KeyAttribute string

	// MetadataSuffix is appended to an item id to form its Metadata key.
	// Default: "-meta"
	MetadataSuffix string

	// ConsistentReads makes GetItem strongly consistent.
	ConsistentReads bool
}

// DefaultConfig returns defaults for a table provisioned by the Data API.
func DefaultConfig(table string) Config {
	return Config{
		Table:          table,
		MetadataTable:  table + "-Metadata",
		KeyAttribute:   "id",
		MetadataSuffix: "-meta",
	}
}

// validate fills defaults for unset values.
func (c *Config) validate() {
	if c.MetadataTable == "" {
		c.MetadataTable = c.Table + "-Metadata"
	}
	if c.KeyAttribute == "" {
		c.KeyAttribute = "id"
	}
	if c.MetadataSuffix == "" {
		c.MetadataSuffix = "-meta"
	}
}

// Columns maps who-columns onto their stored attribute names.
var Columns = statement.ColumnMap{
	statement.Deleted:    "deleted",
	statement.Tombstoned: "tombstoned",
}

// IndexName returns the name of the global secondary index on attr.
func IndexName(table, attr string) string {
	return table + "-" + attr
}
