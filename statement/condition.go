package statement

import (
	"encoding/json"
	"reflect"
	"strconv"
)

// Condition is a node of a predicate tree evaluated against a single record.
type Condition interface {
	isCondition()
}

// Comparator is a binary comparison operator.
type Comparator int

const (
	EQ Comparator = iota
	NE
)

func (c Comparator) String() string {
	if c == NE {
		return "<>"
	}
	return "="
}

// Exists holds when the attribute is present and not null.
type Exists struct{ Attr string }

// NotExists holds when the attribute is absent or null.
type NotExists struct{ Attr string }

// Compare holds when the attribute is present and compares to Value.
// An absent attribute never satisfies a comparison, matching both
// DynamoDB and SQL NULL semantics.
type Compare struct {
	Attr  string
	Cmp   Comparator
	Value any
}

// And holds when every member holds.
type And []Condition

// Or holds when any member holds.
type Or []Condition

func (Exists) isCondition()    {}
func (NotExists) isCondition() {}
func (Compare) isCondition()   {}
func (And) isCondition()       {}
func (Or) isCondition()        {}

// Equal is shorthand for Compare{attr, EQ, v}.
func Equal(attr string, v any) Condition { return Compare{Attr: attr, Cmp: EQ, Value: v} }

// NotEqual is shorthand for Compare{attr, NE, v}.
func NotEqual(attr string, v any) Condition { return Compare{Attr: attr, Cmp: NE, Value: v} }

// AllOf conjoins the non-nil conditions. It returns nil when there are none
// and the sole condition when there is one.
func AllOf(conds ...Condition) Condition {
	var out And
	for _, c := range conds {
		switch v := c.(type) {
		case nil:
		case And:
			out = append(out, v...)
		default:
			out = append(out, v)
		}
	}
	switch len(out) {
	case 0:
		return nil
	case 1:
		return out[0]
	}
	return out
}

// AnyOf disjoins the non-nil conditions.
func AnyOf(conds ...Condition) Condition {
	var out Or
	for _, c := range conds {
		if c != nil {
			out = append(out, c)
		}
	}
	switch len(out) {
	case 0:
		return nil
	case 1:
		return out[0]
	}
	return out
}

// NotDeleted holds for records that are not soft-deleted.
func NotDeleted() Condition {
	return AnyOf(NotExists{Attr: Deleted}, NotEqual(Deleted, true))
}

// NotTombstoned holds for records that have not been tombstoned.
func NotTombstoned() Condition {
	return AnyOf(NotExists{Attr: Tombstoned}, NotEqual(Tombstoned, true))
}

// MatchAll returns one equality per filter key, in sorted key order.
func MatchAll(filter map[string]any) []Condition {
	out := make([]Condition, 0, len(filter))
	for _, k := range SortedKeys(filter) {
		out = append(out, Equal(k, filter[k]))
	}
	return out
}

// Eval evaluates c against rec. A nil condition always holds.
func Eval(c Condition, rec map[string]any) bool {
	switch v := c.(type) {
	case nil:
		return true
	case Exists:
		val, ok := rec[v.Attr]
		return ok && val != nil
	case NotExists:
		val, ok := rec[v.Attr]
		return !ok || val == nil
	case Compare:
		val, ok := rec[v.Attr]
		if !ok || val == nil {
			return false
		}
		eq := ValuesEqual(val, v.Value)
		if v.Cmp == NE {
			return !eq
		}
		return eq
	case And:
		for _, m := range v {
			if !Eval(m, rec) {
				return false
			}
		}
		return true
	case Or:
		for _, m := range v {
			if Eval(m, rec) {
				return true
			}
		}
		return false
	}
	return false
}

// ValuesEqual compares two attribute values. Numeric representations
// (int, float64, json.Number) are equal when they denote the same number.
func ValuesEqual(a, b any) bool {
	if an, ok := Number(a); ok {
		if bn, ok := Number(b); ok {
			return an == bn
		}
		if _, isBool := b.(bool); isBool {
			// SQL drivers surface booleans as 0/1.
			return an == boolNumber(b.(bool))
		}
		return false
	}
	if ab, ok := a.(bool); ok {
		if bn, ok := Number(b); ok {
			return bn == boolNumber(ab)
		}
	}
	return reflect.DeepEqual(a, b)
}

func boolNumber(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

// Number converts numeric attribute values to float64.
func Number(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}

// Int64 converts an attribute value to an integer, accepting the numeric
// representations produced by the supported drivers and decoders.
func Int64(v any) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case string:
		i, err := strconv.ParseInt(n, 10, 64)
		return i, err == nil
	}
	f, ok := Number(v)
	if !ok {
		return 0, false
	}
	return int64(f), true
}

// Truthy reports whether a flag attribute is set. Booleans and non-zero
// numbers are true; anything else, including absence, is false.
func Truthy(v any) bool {
	switch b := v.(type) {
	case bool:
		return b
	case nil:
		return false
	}
	if n, ok := Number(v); ok {
		return n != 0
	}
	return false
}
