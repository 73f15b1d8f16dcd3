package store

import (
	"fmt"
	"strings"
)

// DeleteMode selects what a full delete does to a Resource record.
type DeleteMode string

const (
	// DeleteSoft marks the record Deleted and keeps its attributes.
	DeleteSoft DeleteMode = "Soft"
	// DeleteHard physically removes the Resource and Metadata records.
	DeleteHard DeleteMode = "Hard"
	// DeleteTombstone marks the record Deleted and Tombstoned and clears
	// every non-protected attribute. It cannot be restored.
	DeleteTombstone DeleteMode = "tombstone"
)

// ParseDeleteMode parses a delete mode name, ignoring case.
func ParseDeleteMode(s string) (DeleteMode, error) {
	for _, m := range []DeleteMode{DeleteSoft, DeleteHard, DeleteTombstone} {
		if strings.EqualFold(s, string(m)) {
			return m, nil
		}
	}
	return "", fmt.Errorf("%w: unknown delete mode %q", ErrInvalidArguments, s)
}

// Config holds configuration for a Handler.
type Config struct {
	// API is the name of the Data API this handler serves.
	API string

	// ARN components used to synthesize and validate item ARNs of the form
	// <Namespace>:<Region>:<Account>:<Table>:<id>.
	// Namespace default: "arn:aws:dapi". Table default: API.
	Namespace string
	Region    string
	Account   string
	Table     string

	// DeleteMode is fixed at provisioning time.
	// Default: DeleteSoft
	DeleteMode DeleteMode

	// AllowRuntimeDeleteModeChange lets a delete request override DeleteMode.
	// When false an override is accepted but has no effect.
	AllowRuntimeDeleteModeChange bool

	// ResourceIndexes and MetadataIndexes list the attributes with a
	// secondary index on each facet.
	ResourceIndexes []string
	MetadataIndexes []string

	// SchemaRefreshHitCount is the number of validations served by a cached
	// schema before it is reloaded from the metadata store.
	// Default: 1000
	SchemaRefreshHitCount int

	// AllowNonItemMasterWrites permits writes to records linked to another
	// item master. Such writes succeed with a warning. When false they are
	// rejected with ErrConstraintViolation.
	// Default: false
	AllowNonItemMasterWrites bool

	// StrictOCC requires every resource write to carry the current
	// ItemVersion, except the first write of a new record.
	StrictOCC bool

	// MaxResponseSize caps the number of items returned by one find or list
	// call when the caller sets no limit.
	// Default: 1000
	MaxResponseSize int
}

// DefaultConfig returns defaults matching a freshly provisioned API.
func DefaultConfig() Config {
	return Config{
		Namespace:             "arn:aws:dapi",
		DeleteMode:            DeleteSoft,
		SchemaRefreshHitCount: 1000,
		MaxResponseSize:       1000,
	}
}

// validate fills defaults for unset values.
func (c *Config) validate() {
	if c.Namespace == "" {
		c.Namespace = "arn:aws:dapi"
	}
	if c.Table == "" {
		c.Table = c.API
	}
	if c.DeleteMode == "" {
		c.DeleteMode = DeleteSoft
	}
	if c.SchemaRefreshHitCount < 1 {
		c.SchemaRefreshHitCount = 1000
	}
	if c.MaxResponseSize < 1 {
		c.MaxResponseSize = 1000
	}
}

// indexes returns the configured index attributes of a facet.
func (c *Config) indexes(resource bool) []string {
	if resource {
		return c.ResourceIndexes
	}
	return c.MetadataIndexes
}
