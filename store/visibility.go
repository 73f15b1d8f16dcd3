package store

import (
	"github.com/jacentio/dataapi/statement"
)

// IsDeleted reports whether a record is soft-deleted (or tombstoned).
func IsDeleted(rec Record) bool {
	if rec == nil {
		return false
	}
	return statement.Truthy(rec[statement.Deleted])
}

// IsTombstoned reports whether a record is a tombstone.
func IsTombstoned(rec Record) bool {
	if rec == nil {
		return false
	}
	return statement.Truthy(rec[statement.Tombstoned])
}

// VisibleFilter returns the predicate that excludes deleted records.
// Use this when building custom queries that need delete filtering.
func VisibleFilter() statement.Condition {
	return statement.NotDeleted()
}

// ExistsCondition requires the record to exist and not be deleted.
func ExistsCondition(pk string) statement.Condition {
	return statement.AllOf(statement.Exists{Attr: pk}, statement.NotDeleted())
}

// protectedAttrs are the attributes a tombstone keeps.
func protectedAttrs(pk string) map[string]bool {
	return map[string]bool{
		pk:                         true,
		statement.ItemVersion:      true,
		statement.ItemMasterID:     true,
		statement.Tombstoned:       true,
		statement.Deleted:          true,
		statement.LastUpdateAction: true,
		statement.LastUpdateDate:   true,
		statement.LastUpdatedBy:    true,
	}
}

// userAttrs returns rec without its key and who-columns.
func userAttrs(pk string, rec Record) map[string]any {
	out := make(map[string]any, len(rec))
	for k, v := range rec {
		if k == pk || statement.IsWhoColumn(k) {
			continue
		}
		out[k] = v
	}
	return out
}
