package store

import (
	"context"
	"strings"
	"time"

	"github.com/jacentio/dataapi/statement"
)

// ItemMasterUpdate links each of a comma-separated list of ids to masterID,
// or unlinks them when masterID is nil. The master must exist and not be
// deleted. Ids that do not exist are reported unmodified rather than failing
// the batch.
func (h *Handler) ItemMasterUpdate(ctx context.Context, caller, ids string, masterID *string) (res []MasterLinkResult, err error) {
	defer h.observe("item_master_update", time.Now(), &err)

	targets := splitIDs(ids)
	if len(targets) == 0 {
		return nil, invalidf("item master update requires at least one %s", h.pk)
	}

	var master string
	if masterID != nil {
		if master, err = h.ResolveID(*masterID); err != nil {
			return nil, err
		}
		if _, err := h.fetch(ctx, statement.Resource, master, []string{h.pk, statement.Deleted}, false); err != nil {
			return nil, notFoundf("invalid item master reference %s", master)
		}
	}

	who := h.who(caller, statement.ActionUpdate)
	res = make([]MasterLinkResult, 0, len(targets))
	for _, ref := range targets {
		id, err := h.ResolveID(ref)
		if err != nil {
			return nil, err
		}
		u := statement.NewUpdate(statement.Resource, id)
		if masterID != nil {
			u.Set(statement.ItemMasterID, master)
		} else {
			u.Remove(statement.ItemMasterID)
		}
		statement.Decorate(u, who, true)
		u.Require(statement.Exists{Attr: h.pk})

		modified, err := h.applyState(ctx, u)
		if err != nil {
			return nil, err
		}
		res = append(res, MasterLinkResult{ID: id, Modified: modified})
	}
	return res, nil
}

// ItemMasterDelete unlinks id from its item master. assertMasterID must name
// the current master; an item without a master is left unchanged.
func (h *Handler) ItemMasterDelete(ctx context.Context, caller, ref, assertMasterID string) (modified bool, err error) {
	defer h.observe("item_master_delete", time.Now(), &err)

	id, err := h.ResolveID(ref)
	if err != nil {
		return false, err
	}
	if assertMasterID == "" {
		return false, invalidf("item master delete requires the current %s", statement.ItemMasterID)
	}
	rec, err := h.fetch(ctx, statement.Resource, id, []string{h.pk, statement.Deleted, statement.ItemMasterID}, false)
	if err != nil {
		return false, err
	}
	current, _ := rec[statement.ItemMasterID].(string)
	if current == "" {
		return false, nil
	}
	if current != assertMasterID {
		return false, invalidf("%s of %s is not %s", statement.ItemMasterID, id, assertMasterID)
	}

	u := statement.NewUpdate(statement.Resource, id).Remove(statement.ItemMasterID)
	statement.Decorate(u, h.who(caller, statement.ActionUpdate), true)
	u.Require(statement.Equal(statement.ItemMasterID, assertMasterID))
	return h.applyState(ctx, u)
}

func splitIDs(ids string) []string {
	var out []string
	for _, s := range strings.Split(ids, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
