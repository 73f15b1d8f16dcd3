package store

import (
	"context"
	"time"

	"github.com/jacentio/dataapi/internal/segment"
	"github.com/jacentio/dataapi/statement"
)

// route is a routing decision for a single-facet filter.
type route struct {
	facet  statement.Facet
	index  string
	value  any
	filter map[string]any
}

// plan picks the first filter key (in sorted order) that has a secondary
// index, or the item master reference on the Resource facet. Without one the
// whole filter is applied to a scan.
func (h *Handler) plan(facet statement.Facet, filter map[string]any) route {
	indexed := make(map[string]bool)
	for _, a := range h.config.indexes(facet == statement.Resource) {
		indexed[a] = true
	}
	if facet == statement.Resource {
		indexed[statement.ItemMasterID] = true
	}

	r := route{facet: facet, filter: make(map[string]any, len(filter))}
	for _, k := range statement.SortedKeys(filter) {
		if r.index == "" && indexed[k] {
			r.index, r.value = k, filter[k]
			continue
		}
		r.filter[k] = filter[k]
	}
	return r
}

// Find searches one facet by attribute equality. Segment and TotalSegments
// split scans only; a filter routed to an index rejects them.
func (h *Handler) Find(ctx context.Context, req FindRequest) (page *Page, err error) {
	defer h.observe("find", time.Now(), &err)

	var facet statement.Facet
	var filter map[string]any
	switch {
	case req.Resource != nil && req.Metadata != nil:
		return nil, invalidf("find supports Resource or Metadata search, not both")
	case req.Resource != nil:
		facet, filter = statement.Resource, req.Resource
	case req.Metadata != nil:
		facet, filter = statement.Metadata, req.Metadata
	default:
		return nil, invalidf("find requires Resource or Metadata search criteria")
	}
	seg, total, err := h.segments(req.Segment, req.TotalSegments)
	if err != nil {
		return nil, err
	}

	r := h.plan(facet, filter)
	where := statement.AllOf(append(statement.MatchAll(r.filter), VisibleFilter())...)

	if r.index != "" {
		if total > 0 {
			return nil, invalidf("parallel scan is not supported on index %s", r.index)
		}
		h.logger.Debug("find via index", "facet", facet.String(), "index", r.index)
		raw, err := h.backend.Query(ctx, QuerySpec{
			Facet:  facet,
			Attr:   r.index,
			Value:  r.value,
			Filter: where,
			Limit:  h.backendLimit(req.Limit),
			Start:  req.ExclusiveStart,
		})
		if err != nil {
			return nil, h.backendErr("query", err)
		}
		return h.shape(raw, req.Limit, true, r.index), nil
	}

	h.logger.Debug("find via scan", "facet", facet.String())
	spec := ScanSpec{
		Facet:          facet,
		Filter:         where,
		Start:          req.ExclusiveStart,
		Segment:        seg,
		TotalSegments:  total,
		ConsistentRead: req.ConsistentRead,
	}
	if h.caps.FilteredScanLimit {
		spec.Limit = h.backendLimit(req.Limit)
	}
	raw, err := h.backend.Scan(ctx, spec)
	if err != nil {
		return nil, h.backendErr("scan", err)
	}
	return h.shape(raw, req.Limit, h.caps.FilteredScanLimit, ""), nil
}

// List pages through every visible Resource record.
func (h *Handler) List(ctx context.Context, req ListRequest) (page *Page, err error) {
	defer h.observe("list", time.Now(), &err)

	seg, total, err := h.segments(req.Segment, req.TotalSegments)
	if err != nil {
		return nil, err
	}
	raw, err := h.backend.Scan(ctx, ScanSpec{
		Facet:         statement.Resource,
		Filter:        VisibleFilter(),
		Limit:         h.backendLimit(req.Limit),
		Start:         req.ExclusiveStart,
		Segment:       seg,
		TotalSegments: total,
	})
	if err != nil {
		return nil, h.backendErr("scan", err)
	}
	return h.shape(raw, req.Limit, true, ""), nil
}

// backendLimit bounds a read by the maximum response size on backends that
// apply limits to matching items.
func (h *Handler) backendLimit(limit int) int {
	if h.caps.FilteredScanLimit && (limit <= 0 || limit > h.config.MaxResponseSize) {
		return h.config.MaxResponseSize
	}
	return limit
}

// segments validates a parallel scan request.
func (h *Handler) segments(seg, total *int) (int, int, error) {
	if seg == nil && total == nil {
		return 0, 0, nil
	}
	if seg == nil || total == nil {
		return 0, 0, invalidf("parallel scan requires Segment and TotalSegments")
	}
	if !segment.Valid(*seg, *total) {
		return 0, 0, invalidf("invalid Segment %d of TotalSegments %d", *seg, *total)
	}
	if !h.caps.ParallelScan {
		return 0, 0, ErrUnimplemented
	}
	return *seg, *total, nil
}

// shape truncates a raw page when the backend could not apply the limit, or
// when it exceeds the maximum response size. The cursor then becomes the key
// of the last item kept.
func (h *Handler) shape(raw *RawPage, limit int, limited bool, index string) *Page {
	keep := h.config.MaxResponseSize
	if limit > 0 && (!limited || limit < keep) {
		keep = limit
	}

	page := &Page{Items: make([]map[string]any, 0, len(raw.Items)), LastEvaluatedKey: raw.LastKey}
	for i, rec := range raw.Items {
		if i == keep {
			last := raw.Items[i-1]
			page.LastEvaluatedKey = Key{h.pk: last[h.pk]}
			if index != "" {
				page.LastEvaluatedKey[index] = last[index]
			}
			break
		}
		page.Items = append(page.Items, map[string]any(rec))
	}
	return page
}
