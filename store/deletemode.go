package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jacentio/dataapi/statement"
)

// Delete deletes a whole item, one facet, or attributes of one facet.
//
// With neither facet set the Resource is deleted according to the delete
// mode; tombstone and hard deletes also remove the Metadata. A facet with an
// empty attribute list deletes that facet's record; a Metadata-only delete
// never changes the Resource's delete state. A facet with attributes only
// removes those attributes. When both facets are named each is handled as
// if requested alone, Metadata first.
func (h *Handler) Delete(ctx context.Context, ref, caller string, req DeleteRequest) (res *DeleteResult, err error) {
	defer h.observe("delete", time.Now(), &err)

	id, err := h.ResolveID(ref)
	if err != nil {
		return nil, err
	}
	mode := h.deleteMode(req.Mode)
	wholeItem := req.Resource == nil && req.Metadata == nil
	wholeResource := wholeItem || (req.Resource != nil && len(req.Resource.Attributes) == 0)
	if wholeResource && mode == DeleteTombstone && !h.caps.Tombstone {
		return nil, fmt.Errorf("%w: tombstone delete on a backend with non-nullable columns", ErrUnimplemented)
	}
	res = &DeleteResult{}

	// Metadata first, as in UpdateItem. A metadata-only request never
	// touches the Resource delete-state.
	switch {
	case req.Metadata != nil && len(req.Metadata.Attributes) > 0:
		modified, err := h.removeAttributes(ctx, statement.Metadata, id, caller, req.Metadata.Attributes)
		if err != nil {
			return nil, err
		}
		res.Metadata = &DataModified{Modified: modified}
	case req.Metadata != nil, wholeResource && mode != DeleteSoft:
		modified, err := h.removeRecord(ctx, statement.Metadata, id)
		if err != nil {
			return nil, err
		}
		res.Metadata = &DataModified{Modified: modified}
	}

	switch {
	case wholeResource:
		modified, err := h.deleteResource(ctx, id, caller, mode)
		if err != nil {
			return nil, err
		}
		res.Resource = &DataModified{Modified: modified}
	case req.Resource != nil:
		modified, err := h.removeAttributes(ctx, statement.Resource, id, caller, req.Resource.Attributes)
		if err != nil {
			return nil, err
		}
		res.Resource = &DataModified{Modified: modified}
	}
	return res, nil
}

// deleteMode resolves a per-request override against the configured mode.
func (h *Handler) deleteMode(requested DeleteMode) DeleteMode {
	if requested == "" || requested == h.config.DeleteMode {
		return h.config.DeleteMode
	}
	if !h.config.AllowRuntimeDeleteModeChange {
		h.logger.Debug("delete mode override not allowed", "requested", string(requested), "mode", string(h.config.DeleteMode))
		return h.config.DeleteMode
	}
	h.logger.Debug("delete mode override", "mode", string(requested))
	return requested
}

func (h *Handler) deleteResource(ctx context.Context, id, caller string, mode DeleteMode) (bool, error) {
	switch mode {
	case DeleteHard:
		return h.removeRecord(ctx, statement.Resource, id)

	case DeleteTombstone:
		current, err := h.fetch(ctx, statement.Resource, id, nil, false)
		if err != nil {
			return false, err
		}
		u := statement.NewUpdate(statement.Resource, id)
		protected := protectedAttrs(h.pk)
		for _, k := range statement.SortedKeys(current) {
			if !protected[k] {
				u.Remove(k)
			}
		}
		u.Set(statement.Deleted, true).Set(statement.Tombstoned, true)
		statement.Decorate(u, h.who(caller, statement.ActionDelete), true)
		u.Require(ExistsCondition(h.pk))
		// The removal list is only complete for the version that was read.
		if v, ok := statement.Int64(current[statement.ItemVersion]); ok {
			u.Require(statement.Equal(statement.ItemVersion, v))
		} else {
			u.Require(statement.NotExists{Attr: statement.ItemVersion})
		}
		out, err := h.write(ctx, u)
		if err != nil {
			return false, err
		}
		if out.Outcome == Rejected {
			return false, fmt.Errorf("%w: %s changed during tombstone delete", ErrConstraintViolation, id)
		}
		return out.Outcome == Applied, nil

	case DeleteSoft:
		u := statement.NewUpdate(statement.Resource, id).Set(statement.Deleted, true)
		statement.Decorate(u, h.who(caller, statement.ActionDelete), true)
		u.Require(ExistsCondition(h.pk))
		return h.applyState(ctx, u)
	}
	return false, invalidf("unknown delete mode %q", mode)
}

// applyState runs a state transition. A rejected transition means the record
// is absent or already in the target state, and is reported as unmodified.
func (h *Handler) applyState(ctx context.Context, u *statement.Update) (bool, error) {
	out, err := h.write(ctx, u)
	if err != nil {
		return false, err
	}
	if out.Outcome == Rejected {
		h.logger.Debug("state transition skipped", "facet", u.Facet.String(), "id", u.Key)
		return false, nil
	}
	return out.Outcome == Applied, nil
}

func (h *Handler) removeRecord(ctx context.Context, facet statement.Facet, id string) (bool, error) {
	out, err := h.backend.Remove(ctx, facet, id)
	if err != nil {
		return false, h.backendErr("remove", err)
	}
	return out == Applied, nil
}

func (h *Handler) removeAttributes(ctx context.Context, facet statement.Facet, id, caller string, attrs []string) (bool, error) {
	for _, a := range attrs {
		if a == h.pk || statement.IsWhoColumn(a) {
			return false, invalidf("cannot remove %s", a)
		}
	}
	u := statement.NewUpdate(facet, id).Remove(attrs...)
	statement.Decorate(u, h.who(caller, statement.ActionRemoveAttribute), facet == statement.Resource)
	u.Require(statement.Exists{Attr: h.pk})
	if facet == statement.Resource {
		u.Require(statement.NotDeleted())
	}
	return h.applyState(ctx, u)
}

// Restore returns a soft-deleted item to the active state. Tombstones and
// items that are not deleted cannot be restored.
func (h *Handler) Restore(ctx context.Context, ref, caller string) (item *Item, err error) {
	defer h.observe("restore", time.Now(), &err)

	id, err := h.ResolveID(ref)
	if err != nil {
		return nil, err
	}
	if _, err := h.fetch(ctx, statement.Resource, id, nil, true); err != nil {
		return nil, err
	}

	u := statement.NewUpdate(statement.Resource, id).Set(statement.Deleted, false)
	if h.caps.Tombstone {
		u.Remove(statement.Tombstoned)
	}
	statement.Decorate(u, h.who(caller, statement.ActionRestore), true)
	u.Require(statement.Exists{Attr: h.pk})
	u.Require(statement.Equal(statement.Deleted, true))
	if h.caps.Tombstone {
		u.Require(statement.NotTombstoned())
	}

	out, err := h.write(ctx, u)
	if err != nil {
		return nil, err
	}
	if out.Outcome != Applied {
		return nil, invalidf("%s is not deleted or is tombstoned", id)
	}
	return h.get(ctx, id, GetOptions{})
}
