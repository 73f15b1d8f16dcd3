// Package statement builds typed, backend-neutral write statements and
// predicates for Data API items.
//
// A statement is an ordered list of attribute/operator/value triples plus an
// optional condition tree. Backends render statements into their native form
// (DynamoDB update and condition expressions, parameterised SQL) so that no
// caller-supplied value is ever spliced into query text.
package statement

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// Facet identifies one of the two independently stored payloads of an item.
type Facet int

const (
	// Resource is the primary, schema-validated record of an item.
	Resource Facet = iota
	// Metadata is the secondary record stored alongside a Resource.
	Metadata
)

func (f Facet) String() string {
	switch f {
	case Resource:
		return "Resource"
	case Metadata:
		return "Metadata"
	default:
		return fmt.Sprintf("Facet(%d)", int(f))
	}
}

// ParseFacet parses a facet name, ignoring case.
func ParseFacet(s string) (Facet, error) {
	switch strings.ToLower(s) {
	case "resource":
		return Resource, nil
	case "metadata", "meta":
		return Metadata, nil
	}
	return 0, fmt.Errorf("statement: unknown facet %q", s)
}

// Who-column attribute names as seen by the engine. Backends map these onto
// their physical column or attribute names with a ColumnMap.
const (
	ItemVersion      = "ItemVersion"
	LastUpdateAction = "LastUpdateAction"
	LastUpdateDate   = "LastUpdateDate"
	LastUpdatedBy    = "LastUpdatedBy"
	Deleted          = "Deleted"
	Tombstoned       = "Tombstoned"
	ItemMasterID     = "ItemMasterID"
)

// WhoColumns lists every who-column in a stable order.
var WhoColumns = []string{
	ItemVersion,
	LastUpdateAction,
	LastUpdateDate,
	LastUpdatedBy,
	Deleted,
	Tombstoned,
	ItemMasterID,
}

// IsWhoColumn reports whether name is one of the who-columns.
func IsWhoColumn(name string) bool {
	for _, c := range WhoColumns {
		if c == name {
			return true
		}
	}
	return false
}

// Values stamped into LastUpdateAction.
const (
	ActionCreate          = "create"
	ActionUpdate          = "update"
	ActionDelete          = "delete"
	ActionRemoveAttribute = "attribute_delete"
	ActionRestore         = "restore"
)

// Op is the operator applied to one attribute by an Action.
type Op int

const (
	// OpSet assigns Value to the attribute.
	OpSet Op = iota
	// OpRemove clears the attribute (absent on key-value stores, NULL in SQL).
	OpRemove
	// OpAdd increments a numeric attribute by Value, treating absent as zero.
	OpAdd
)

func (o Op) String() string {
	switch o {
	case OpSet:
		return "SET"
	case OpRemove:
		return "REMOVE"
	case OpAdd:
		return "ADD"
	default:
		return fmt.Sprintf("Op(%d)", int(o))
	}
}

// Action is a single attribute/operator/value triple.
type Action struct {
	Op    Op
	Attr  string
	Value any
}

// Update is a conditional mutation of a single record addressed by Key.
//
// Backends with native conditional writes create the record when it is
// absent and Where allows it. Backends without them only touch existing rows;
// the engine then falls back to Insert.
type Update struct {
	Facet   Facet
	Key     string
	Actions []Action
	Where   Condition
}

// NewUpdate returns an empty update for the record id in facet.
func NewUpdate(facet Facet, id string) *Update {
	return &Update{Facet: facet, Key: id}
}

// Set appends an assignment.
func (u *Update) Set(attr string, value any) *Update {
	u.Actions = append(u.Actions, Action{Op: OpSet, Attr: attr, Value: value})
	return u
}

// Remove appends a removal for each attribute.
func (u *Update) Remove(attrs ...string) *Update {
	for _, a := range attrs {
		u.Actions = append(u.Actions, Action{Op: OpRemove, Attr: a})
	}
	return u
}

// Add appends a numeric increment.
func (u *Update) Add(attr string, n int64) *Update {
	u.Actions = append(u.Actions, Action{Op: OpAdd, Attr: attr, Value: n})
	return u
}

// Require ANDs c onto the update's condition.
func (u *Update) Require(c Condition) *Update {
	u.Where = AllOf(u.Where, c)
	return u
}

// Attrs returns the attribute names touched by the update, in order.
func (u *Update) Attrs() []string {
	out := make([]string, 0, len(u.Actions))
	for _, a := range u.Actions {
		out = append(out, a.Attr)
	}
	return out
}

// Validate rejects empty updates and updates touching an attribute twice,
// which no backend can express in a single statement.
func (u *Update) Validate() error {
	if u.Key == "" {
		return fmt.Errorf("statement: update has no key")
	}
	if len(u.Actions) == 0 {
		return fmt.Errorf("statement: update of %s %q has no actions", u.Facet, u.Key)
	}
	seen := make(map[string]struct{}, len(u.Actions))
	for _, a := range u.Actions {
		if a.Attr == "" {
			return fmt.Errorf("statement: empty attribute name in %s action", a.Op)
		}
		if _, dup := seen[a.Attr]; dup {
			return fmt.Errorf("statement: attribute %q appears in more than one action", a.Attr)
		}
		seen[a.Attr] = struct{}{}
	}
	return nil
}

// Insert is the insert-if-absent half of an emulated merge.
type Insert struct {
	Facet  Facet
	Key    string
	Values []Action
}

// Insert derives the row that the update would have produced had the
// record not existed: assignments are kept, increments start from zero and
// removals are dropped.
func (u *Update) Insert() *Insert {
	ins := &Insert{Facet: u.Facet, Key: u.Key}
	for _, a := range u.Actions {
		switch a.Op {
		case OpSet:
			ins.Values = append(ins.Values, a)
		case OpAdd:
			ins.Values = append(ins.Values, Action{Op: OpSet, Attr: a.Attr, Value: a.Value})
		}
	}
	return ins
}

// Who carries the caller identity and action stamped into the who-columns.
type Who struct {
	Identity string
	Action   string
	At       time.Time
}

// Timestamp formats At the way LastUpdateDate is stored.
func (w Who) Timestamp() string {
	at := w.At
	if at.IsZero() {
		at = time.Now()
	}
	return at.UTC().Format(time.RFC3339)
}

// Patch converts an attribute document into SET actions. Keys are emitted in
// sorted order so that rendered statements are deterministic.
func Patch(facet Facet, id string, doc map[string]any) *Update {
	u := NewUpdate(facet, id)
	for _, k := range SortedKeys(doc) {
		u.Set(k, doc[k])
	}
	return u
}

// Decorate stamps the who-columns onto u and, when bumpVersion is set,
// increments ItemVersion by one.
func Decorate(u *Update, who Who, bumpVersion bool) *Update {
	u.Set(LastUpdateDate, who.Timestamp())
	u.Set(LastUpdatedBy, who.Identity)
	u.Set(LastUpdateAction, who.Action)
	if bumpVersion {
		u.Add(ItemVersion, 1)
	}
	return u
}

// SortedKeys returns the keys of m in lexical order.
func SortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// ColumnMap translates engine attribute names to a backend's physical names.
// Names without an entry are used unchanged.
type ColumnMap map[string]string

// Physical returns the stored name for an engine attribute name.
func (m ColumnMap) Physical(name string) string {
	if p, ok := m[name]; ok {
		return p
	}
	return name
}

// Logical returns the engine name for a stored name.
func (m ColumnMap) Logical(physical string) string {
	for k, v := range m {
		if v == physical {
			return k
		}
	}
	return physical
}

// LogicalRecord renames the keys of a stored record to engine names.
func (m ColumnMap) LogicalRecord(rec map[string]any) map[string]any {
	if rec == nil {
		return nil
	}
	out := make(map[string]any, len(rec))
	for k, v := range rec {
		out[m.Logical(k)] = v
	}
	return out
}
