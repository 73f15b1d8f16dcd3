package store

import (
	"context"
	"fmt"

	"github.com/jacentio/dataapi/statement"
)

// Record is a stored facet record with engine attribute names.
type Record map[string]any

// Key is a pagination cursor: the key attributes of the last item returned.
type Key map[string]any

// Capabilities describes what a StorageBackend supports natively.
type Capabilities struct {
	// NativeConditionalWrite means Update evaluates its condition atomically
	// with the mutation and creates absent records the condition allows.
	NativeConditionalWrite bool

	// Tombstone means attributes can be removed from a record, leaving a
	// tombstone behind.
	Tombstone bool

	// ChangeStream means the backend publishes a change stream.
	ChangeStream bool

	// FilteredScanLimit means a scan limit is applied to matching items
	// rather than to evaluated items.
	FilteredScanLimit bool

	// ParallelScan means Scan honours Segment and TotalSegments.
	ParallelScan bool
}

// Outcome is the result of a conditional write.
type Outcome int

const (
	// Applied means the write took effect.
	Applied Outcome = iota
	// SkippedAlreadyInState means there was nothing to change.
	SkippedAlreadyInState
	// Rejected means the write condition did not hold. Backends without
	// NativeConditionalWrite also reject updates of absent records.
	Rejected
)

func (o Outcome) String() string {
	switch o {
	case Applied:
		return "Applied"
	case SkippedAlreadyInState:
		return "SkippedAlreadyInState"
	case Rejected:
		return "Rejected"
	default:
		return fmt.Sprintf("Outcome(%d)", int(o))
	}
}

// WriteResult is returned by conditional writes.
type WriteResult struct {
	Outcome Outcome

	// Record is the full record after an applied write.
	Record Record
}

// QuerySpec describes an index-scoped query.
type QuerySpec struct {
	Facet  statement.Facet
	Attr   string
	Value  any
	Filter statement.Condition
	Attrs  []string
	Limit  int
	Start  Key
}

// ScanSpec describes a full scan.
type ScanSpec struct {
	Facet  statement.Facet
	Filter statement.Condition
	Attrs  []string
	Limit  int
	Start  Key

	// TotalSegments of zero means an unsegmented scan.
	Segment       int
	TotalSegments int

	ConsistentRead bool
}

// RawPage is one page of backend records.
type RawPage struct {
	Items   []Record
	LastKey Key
}

// FacetUsage reports storage statistics for one facet.
type FacetUsage struct {
	SizeBytes int64 `json:"sizeBytes"`
	Count     int64 `json:"count"`
}

// StreamInfo identifies the change streams of both facets.
type StreamInfo struct {
	ResourceTableARN  string `json:"ResourceTableArn"`
	ResourceStreamARN string `json:"ResourceStreamArn"`
	MetadataTableARN  string `json:"MetadataTableArn"`
	MetadataStreamARN string `json:"MetadataStreamArn"`
}

// StorageBackend is a data store for both facets of a Data API.
//
// Records are addressed by the item id on both facets; a backend derives any
// physical key (such as a metadata suffix) itself. Attribute names crossing
// the interface are engine names; backends translate who-columns to their
// physical names.
type StorageBackend interface {
	Capabilities() Capabilities

	// KeyAttribute is the name of the primary key attribute.
	KeyAttribute() string

	// Get returns the record, including deleted ones, or nil when absent.
	// A non-empty attrs restricts the returned attributes.
	Get(ctx context.Context, facet statement.Facet, id string, attrs []string) (Record, error)

	// Update applies a conditional update.
	Update(ctx context.Context, u *statement.Update) (WriteResult, error)

	// Insert creates the record if it is absent, otherwise it is Rejected.
	Insert(ctx context.Context, ins *statement.Insert) (WriteResult, error)

	// Remove physically deletes the record. Absent records are
	// SkippedAlreadyInState.
	Remove(ctx context.Context, facet statement.Facet, id string) (Outcome, error)

	Query(ctx context.Context, spec QuerySpec) (*RawPage, error)
	Scan(ctx context.Context, spec ScanSpec) (*RawPage, error)

	Usage(ctx context.Context, facet statement.Facet) (FacetUsage, error)

	// Streams returns ErrUnimplemented on backends without ChangeStream.
	Streams(ctx context.Context) (*StreamInfo, error)

	Close() error
}
