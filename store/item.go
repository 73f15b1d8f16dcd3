package store

// Item is a logical item: its ARN plus whichever facets were found.
type Item struct {
	ARN      string         `json:"Arn"`
	Resource map[string]any `json:"Resource,omitempty"`
	Metadata map[string]any `json:"Metadata,omitempty"`
}

// GetOptions controls what Get returns.
type GetOptions struct {
	// SuppressMetadata skips the Metadata fetch.
	SuppressMetadata bool

	// OnlyAttributes restricts the Resource to these attributes.
	OnlyAttributes []string

	// NotAttributes removes these attributes from the Resource.
	NotAttributes []string
}

// MasterOption selects how GetWithMaster treats the item master.
type MasterOption string

const (
	// MasterNone returns only the item.
	MasterNone MasterOption = ""
	// MasterInclude returns the item and its item master.
	MasterInclude MasterOption = "include"
	// MasterPrefer returns the item master in place of the item when set.
	MasterPrefer MasterOption = "prefer"
)

// MasterResult is returned by GetWithMaster.
type MasterResult struct {
	Item   *Item `json:"Item,omitempty"`
	Master *Item `json:"Master,omitempty"`
}

// UpdateRequest is a write of one or both facets.
type UpdateRequest struct {
	Resource map[string]any
	Metadata map[string]any

	// ItemVersion is the version the caller last read.
	ItemVersion *int64

	// Constraints are attribute values the stored Resource must have.
	Constraints map[string]any

	// StrictValidation reloads the schemas before validating.
	StrictValidation bool
}

// ResourceUpdate reports the Resource half of an update.
type ResourceUpdate struct {
	Modified bool   `json:"DataModified"`
	Warning  string `json:"Warning,omitempty"`
}

// DataModified reports whether a facet changed.
type DataModified struct {
	Modified bool `json:"DataModified"`
}

// UpdateResult is returned by UpdateItem.
type UpdateResult struct {
	Resource *ResourceUpdate `json:"Resource,omitempty"`
	Metadata *DataModified   `json:"Metadata,omitempty"`
}

// FacetDelete selects a facet in a DeleteRequest. An empty Attributes list
// deletes the whole facet; otherwise only those attributes are removed.
type FacetDelete struct {
	Attributes []string
}

// DeleteRequest is a delete of a whole item, a facet, or some attributes.
// With neither facet set the whole item is deleted.
type DeleteRequest struct {
	Resource *FacetDelete
	Metadata *FacetDelete

	// Mode overrides the configured delete mode when runtime changes are
	// allowed. It is ignored otherwise.
	Mode DeleteMode
}

// DeleteResult is returned by Delete.
type DeleteResult struct {
	Resource *DataModified `json:"Resource,omitempty"`
	Metadata *DataModified `json:"Metadata,omitempty"`
}

// MasterLinkResult reports one id of an item master update.
type MasterLinkResult struct {
	ID       string `json:"id"`
	Modified bool   `json:"Updated"`
}

// FindRequest searches one facet by attribute equality.
type FindRequest struct {
	Resource map[string]any
	Metadata map[string]any

	Limit          int
	ExclusiveStart Key

	// Segment and TotalSegments request one part of a parallel scan.
	// Both or neither must be set.
	Segment       *int
	TotalSegments *int

	ConsistentRead bool
}

// ListRequest pages through every visible Resource record.
type ListRequest struct {
	Limit          int
	ExclusiveStart Key
	Segment        *int
	TotalSegments  *int
}

// Page is one page of find or list results.
type Page struct {
	Items            []map[string]any `json:"Items"`
	LastEvaluatedKey Key              `json:"LastEvaluatedKey,omitempty"`
}

// Usage reports storage statistics per facet.
type Usage struct {
	Resource FacetUsage `json:"Resource"`
	Metadata FacetUsage `json:"Metadata"`
}
