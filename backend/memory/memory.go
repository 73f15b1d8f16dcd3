// Package memory provides an in-process StorageBackend. It evaluates write
// conditions natively, so it behaves like the key-value backend, and is used
// for tests and local runs.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/jacentio/dataapi/internal/segment"
	"github.com/jacentio/dataapi/statement"
	"github.com/jacentio/dataapi/store"
)

// Backend stores both facets in maps guarded by a mutex.
type Backend struct {
	mu      sync.Mutex
	pk      string
	caps    store.Capabilities
	records map[statement.Facet]map[string]store.Record
}

// New creates an empty backend keyed on keyAttribute.
func New(keyAttribute string) *Backend {
	return &Backend{
		pk: keyAttribute,
		caps: store.Capabilities{
			NativeConditionalWrite: true,
			Tombstone:              true,
			FilteredScanLimit:      true,
			ParallelScan:           true,
		},
		records: map[statement.Facet]map[string]store.Record{
			statement.Resource: {},
			statement.Metadata: {},
		},
	}
}

// WithCapabilities overrides the advertised capabilities. Without
// NativeConditionalWrite, updates of absent records are rejected instead of
// creating them, as on the relational backend.
func (b *Backend) WithCapabilities(c store.Capabilities) *Backend {
	b.caps = c
	return b
}

func (b *Backend) Capabilities() store.Capabilities { return b.caps }

func (b *Backend) KeyAttribute() string { return b.pk }

func (b *Backend) Get(_ context.Context, facet statement.Facet, id string, attrs []string) (store.Record, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	rec, ok := b.records[facet][id]
	if !ok {
		return nil, nil
	}
	return project(rec, attrs), nil
}

func (b *Backend) Update(_ context.Context, u *statement.Update) (store.WriteResult, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	current, exists := b.records[u.Facet][u.Key]
	if !exists && !b.caps.NativeConditionalWrite {
		return store.WriteResult{Outcome: store.Rejected}, nil
	}
	if !statement.Eval(u.Where, current) {
		return store.WriteResult{Outcome: store.Rejected}, nil
	}

	next := project(current, nil)
	if next == nil {
		next = store.Record{}
	}
	next[b.pk] = u.Key
	for _, a := range u.Actions {
		switch a.Op {
		case statement.OpSet:
			next[a.Attr] = a.Value
		case statement.OpRemove:
			delete(next, a.Attr)
		case statement.OpAdd:
			n, _ := statement.Int64(next[a.Attr])
			d, ok := statement.Int64(a.Value)
			if !ok {
				return store.WriteResult{}, fmt.Errorf("memory: non-numeric increment of %q", a.Attr)
			}
			next[a.Attr] = n + d
		}
	}
	b.records[u.Facet][u.Key] = next
	return store.WriteResult{Outcome: store.Applied, Record: project(next, nil)}, nil
}

func (b *Backend) Insert(_ context.Context, ins *statement.Insert) (store.WriteResult, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, exists := b.records[ins.Facet][ins.Key]; exists {
		return store.WriteResult{Outcome: store.Rejected}, nil
	}
	rec := store.Record{b.pk: ins.Key}
	for _, a := range ins.Values {
		rec[a.Attr] = a.Value
	}
	b.records[ins.Facet][ins.Key] = rec
	return store.WriteResult{Outcome: store.Applied, Record: project(rec, nil)}, nil
}

func (b *Backend) Remove(_ context.Context, facet statement.Facet, id string) (store.Outcome, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, exists := b.records[facet][id]; !exists {
		return store.SkippedAlreadyInState, nil
	}
	delete(b.records[facet], id)
	return store.Applied, nil
}

func (b *Backend) Query(_ context.Context, spec store.QuerySpec) (*store.RawPage, error) {
	cond := statement.AllOf(statement.Equal(spec.Attr, spec.Value), spec.Filter)
	return b.page(spec.Facet, cond, spec.Attrs, spec.Limit, spec.Start, 0, 0), nil
}

func (b *Backend) Scan(_ context.Context, spec store.ScanSpec) (*store.RawPage, error) {
	return b.page(spec.Facet, spec.Filter, spec.Attrs, spec.Limit, spec.Start, spec.Segment, spec.TotalSegments), nil
}

// page walks records in key order after start, keeping those matching cond.
func (b *Backend) page(facet statement.Facet, cond statement.Condition, attrs []string, limit int, start store.Key, seg, total int) *store.RawPage {
	b.mu.Lock()
	defer b.mu.Unlock()

	keys := make([]string, 0, len(b.records[facet]))
	for k := range b.records[facet] {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var after string
	if start != nil {
		after = fmt.Sprint(start[b.pk])
	}

	page := &store.RawPage{}
	var last string
	for _, k := range keys {
		if start != nil && k <= after {
			continue
		}
		if total > 0 && !segment.Contains(k, seg, total) {
			continue
		}
		rec := b.records[facet][k]
		if !statement.Eval(cond, rec) {
			continue
		}
		if limit > 0 && len(page.Items) == limit {
			page.LastKey = store.Key{b.pk: last}
			break
		}
		page.Items = append(page.Items, project(rec, attrs))
		last = k
	}
	return page
}

func (b *Backend) Usage(_ context.Context, facet statement.Facet) (store.FacetUsage, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	var u store.FacetUsage
	for _, rec := range b.records[facet] {
		raw, err := json.Marshal(rec)
		if err != nil {
			return store.FacetUsage{}, err
		}
		u.Count++
		u.SizeBytes += int64(len(raw))
	}
	return u, nil
}

func (b *Backend) Streams(context.Context) (*store.StreamInfo, error) {
	return nil, fmt.Errorf("%w: memory backend has no change stream", store.ErrUnimplemented)
}

func (b *Backend) Close() error { return nil }

// project copies rec, keeping only attrs when set.
func project(rec store.Record, attrs []string) store.Record {
	if rec == nil {
		return nil
	}
	out := make(store.Record, len(rec))
	if len(attrs) == 0 {
		for k, v := range rec {
			out[k] = v
		}
		return out
	}
	for _, a := range attrs {
		if v, ok := rec[a]; ok {
			out[a] = v
		}
	}
	return out
}
