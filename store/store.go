package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jacentio/dataapi/statement"
)

// Handler is the storage consistency engine for one Data API.
type Handler struct {
	backend StorageBackend
	caps    Capabilities
	pk      string
	config  Config
	schemas *schemaCache
	logger  *slog.Logger
	now     func() time.Time
}

// New creates a Handler over backend. A nil source disables schema
// validation; a nil logger uses slog.Default().
func New(backend StorageBackend, source SchemaSource, config Config, logger *slog.Logger) *Handler {
	config.validate()
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("api", config.API)
	return &Handler{
		backend: backend,
		caps:    backend.Capabilities(),
		pk:      backend.KeyAttribute(),
		config:  config,
		schemas: newSchemaCache(config.API, source, config.SchemaRefreshHitCount, logger),
		logger:  logger,
		now:     time.Now,
	}
}

// Config returns the handler's configuration with defaults applied.
func (h *Handler) Config() Config {
	return h.config
}

// InvalidateSchemas forces both facet schemas to be reloaded on next use.
func (h *Handler) InvalidateSchemas() {
	h.schemas.Invalidate()
}

// Close closes the backend connection.
func (h *Handler) Close() error {
	return h.backend.Close()
}

// Arn returns the ARN of an item.
func (h *Handler) Arn(id string) string {
	return fmt.Sprintf("%s:%s:%s:%s:%s", h.config.Namespace, h.config.Region, h.config.Account, h.config.Table, id)
}

// ResolveID accepts a bare id or an item ARN and returns the id. An ARN for
// another region, account or table is ErrNotFound.
func (h *Handler) ResolveID(ref string) (string, error) {
	if ref == "" {
		return "", invalidf("empty item reference")
	}
	if !strings.HasPrefix(ref, h.config.Namespace+":") {
		return ref, nil
	}
	parts := strings.SplitN(strings.TrimPrefix(ref, h.config.Namespace+":"), ":", 4)
	if len(parts) != 4 || parts[3] == "" {
		return "", invalidf("malformed ARN %q", ref)
	}
	if parts[0] != h.config.Region || parts[1] != h.config.Account || parts[2] != h.config.Table {
		return "", notFoundf("ARN %q does not belong to %s", ref, h.config.API)
	}
	return parts[3], nil
}

// Check returns nil when the item exists and is not deleted.
func (h *Handler) Check(ctx context.Context, ref string) (err error) {
	defer h.observe("check", time.Now(), &err)

	id, err := h.ResolveID(ref)
	if err != nil {
		return err
	}
	_, err = h.fetch(ctx, statement.Resource, id, []string{h.pk, statement.Deleted}, false)
	return err
}

// Get returns the item's Resource and, unless suppressed, its Metadata.
func (h *Handler) Get(ctx context.Context, ref string, opts GetOptions) (item *Item, err error) {
	defer h.observe("get", time.Now(), &err)

	id, err := h.ResolveID(ref)
	if err != nil {
		return nil, err
	}
	return h.get(ctx, id, opts)
}

func (h *Handler) get(ctx context.Context, id string, opts GetOptions) (*Item, error) {
	var attrs []string
	if len(opts.OnlyAttributes) > 0 {
		attrs = append([]string{h.pk, statement.Deleted}, opts.OnlyAttributes...)
	}
	rec, err := h.fetch(ctx, statement.Resource, id, attrs, false)
	if err != nil {
		return nil, err
	}
	item := &Item{ARN: h.Arn(id), Resource: project(rec, opts.OnlyAttributes, opts.NotAttributes)}

	if !opts.SuppressMetadata {
		meta, err := h.backend.Get(ctx, statement.Metadata, id, nil)
		if err != nil {
			return nil, h.backendErr("get metadata", err)
		}
		if meta != nil {
			item.Metadata = map[string]any(meta)
		}
	}
	return item, nil
}

// GetWithMaster returns the item together with, or in place of, its item
// master.
func (h *Handler) GetWithMaster(ctx context.Context, ref string, opt MasterOption, opts GetOptions) (res *MasterResult, err error) {
	defer h.observe("get", time.Now(), &err)

	id, err := h.ResolveID(ref)
	if err != nil {
		return nil, err
	}
	switch opt {
	case MasterNone, MasterInclude, MasterPrefer:
	default:
		return nil, invalidf("unknown item master option %q", opt)
	}

	item, err := h.get(ctx, id, opts)
	if err != nil {
		return nil, err
	}
	res = &MasterResult{Item: item}
	if opt == MasterNone {
		return res, nil
	}

	masterID, _ := item.Resource[statement.ItemMasterID].(string)
	if masterID == "" || masterID == id {
		return res, nil
	}
	master, err := h.get(ctx, masterID, opts)
	if err != nil {
		return nil, err
	}
	res.Master = master
	if opt == MasterPrefer {
		res.Item = nil
	}
	return res, nil
}

// GetMetadata returns only the Metadata of a visible item.
func (h *Handler) GetMetadata(ctx context.Context, ref string) (meta map[string]any, err error) {
	defer h.observe("get_metadata", time.Now(), &err)

	id, err := h.ResolveID(ref)
	if err != nil {
		return nil, err
	}
	if _, err := h.fetch(ctx, statement.Resource, id, []string{h.pk, statement.Deleted}, false); err != nil {
		return nil, err
	}
	rec, err := h.backend.Get(ctx, statement.Metadata, id, nil)
	if err != nil {
		return nil, h.backendErr("get metadata", err)
	}
	if rec == nil {
		return nil, notFoundf("no metadata for %s", id)
	}
	return map[string]any(rec), nil
}

// UpdateItem writes the Metadata and then the Resource of an item, creating
// each facet record if absent. The two writes are independent: a failure
// of the second leaves the first in place, and a retry of the whole request
// is safe.
func (h *Handler) UpdateItem(ctx context.Context, ref, caller string, req UpdateRequest) (res *UpdateResult, err error) {
	defer h.observe("update", time.Now(), &err)

	id, err := h.ResolveID(ref)
	if err != nil {
		return nil, err
	}
	if req.Resource == nil && req.Metadata == nil {
		return nil, invalidf("update requires Resource or Metadata")
	}
	if _, ok := req.Resource[statement.ItemMasterID]; ok {
		return nil, invalidf("cannot update %s", statement.ItemMasterID)
	}

	var resource, metadata map[string]any
	if req.Resource != nil {
		resource = userAttrs(h.pk, req.Resource)
		doc := copyDoc(resource)
		doc[h.pk] = id
		if err := h.schemas.validate(ctx, statement.Resource, doc, req.StrictValidation); err != nil {
			return nil, err
		}
	}
	if req.Metadata != nil {
		metadata = userAttrs(h.pk, req.Metadata)
		if err := h.schemas.validate(ctx, statement.Metadata, metadata, req.StrictValidation); err != nil {
			return nil, err
		}
	}

	who := h.who(caller, statement.ActionUpdate)
	res = &UpdateResult{}

	if metadata != nil {
		u := statement.Decorate(statement.Patch(statement.Metadata, id, metadata), who, false)
		out, err := h.write(ctx, u)
		if err != nil {
			return nil, err
		}
		if out.Outcome == Rejected {
			return nil, fmt.Errorf("%w: metadata write for %s rejected", ErrConstraintViolation, id)
		}
		res.Metadata = &DataModified{Modified: out.Outcome == Applied}
	}

	if resource != nil {
		u := statement.Decorate(statement.Patch(statement.Resource, id, resource), who, true)
		u.Require(statement.NotDeleted())
		if !h.config.AllowNonItemMasterWrites {
			u.Require(statement.AnyOf(
				statement.NotExists{Attr: statement.ItemMasterID},
				statement.Equal(statement.ItemMasterID, id),
			))
		}
		switch {
		case req.ItemVersion != nil:
			u.Require(statement.AnyOf(
				statement.NotExists{Attr: statement.ItemVersion},
				statement.Equal(statement.ItemVersion, *req.ItemVersion),
			))
		case h.config.StrictOCC:
			u.Require(statement.NotExists{Attr: statement.ItemVersion})
		}
		for _, c := range statement.MatchAll(req.Constraints) {
			u.Require(c)
		}

		out, err := h.write(ctx, u)
		if err != nil {
			return nil, err
		}
		if out.Outcome == Rejected {
			return nil, fmt.Errorf("%w: conditional write of %s rejected", ErrConstraintViolation, id)
		}

		res.Resource = &ResourceUpdate{Modified: out.Outcome == Applied}
		if master, _ := out.Record[statement.ItemMasterID].(string); master != "" && master != id {
			res.Resource.Warning = fmt.Sprintf("Updated Non Item Master %s (%s=%s)", id, statement.ItemMasterID, master)
			h.logger.Warn("updated non item master", "id", id, "item_master_id", master)
		}
	}
	return res, nil
}

// Usage returns storage statistics for both facets.
func (h *Handler) Usage(ctx context.Context) (u *Usage, err error) {
	defer h.observe("usage", time.Now(), &err)

	res, err := h.backend.Usage(ctx, statement.Resource)
	if err != nil {
		return nil, h.backendErr("usage", err)
	}
	meta, err := h.backend.Usage(ctx, statement.Metadata)
	if err != nil {
		return nil, h.backendErr("usage", err)
	}
	return &Usage{Resource: res, Metadata: meta}, nil
}

// Streams returns the change streams of both facets.
func (h *Handler) Streams(ctx context.Context) (info *StreamInfo, err error) {
	defer h.observe("streams", time.Now(), &err)

	if !h.caps.ChangeStream {
		return nil, fmt.Errorf("%w: backend has no change stream", ErrUnimplemented)
	}
	info, err = h.backend.Streams(ctx)
	if err != nil {
		return nil, h.backendErr("streams", err)
	}
	return info, nil
}

// fetch reads a record and applies the visibility rule. With force, deleted
// records are returned too.
func (h *Handler) fetch(ctx context.Context, facet statement.Facet, id string, attrs []string, force bool) (Record, error) {
	rec, err := h.backend.Get(ctx, facet, id, attrs)
	if err != nil {
		return nil, h.backendErr("get", err)
	}
	if rec == nil {
		return nil, notFoundf("%s %s", facet, id)
	}
	if !force && IsDeleted(rec) {
		return nil, notFoundf("%s %s is deleted", facet, id)
	}
	return rec, nil
}

// write runs a conditional update. On backends without native conditional
// writes an update that matched no row is retried as an insert, provided
// the condition allows the record to be absent. This path is not atomic.
func (h *Handler) write(ctx context.Context, u *statement.Update) (WriteResult, error) {
	if err := u.Validate(); err != nil {
		return WriteResult{}, fmt.Errorf("%w: %v", ErrInvalidArguments, err)
	}
	out, err := h.backend.Update(ctx, u)
	if err != nil {
		return WriteResult{}, h.backendErr("update", err)
	}
	if out.Outcome == Rejected && !h.caps.NativeConditionalWrite && statement.Eval(u.Where, Record{}) {
		h.logger.Debug("update matched no row, inserting", "facet", u.Facet.String(), "id", u.Key)
		out, err = h.backend.Insert(ctx, u.Insert())
		if err != nil {
			return WriteResult{}, h.backendErr("insert", err)
		}
	}
	if out.Outcome == Rejected {
		h.countRejection(u.Facet.String())
	}
	return out, nil
}

// who stamps the caller and action at the handler's clock.
func (h *Handler) who(caller, action string) statement.Who {
	return statement.Who{Identity: caller, Action: action, At: h.now()}
}

// backendErr logs a driver failure and wraps it. Engine errors returned by
// a backend pass through unchanged.
func (h *Handler) backendErr(op string, err error) error {
	for _, sentinel := range []error{ErrNotFound, ErrInvalidArguments, ErrConstraintViolation, ErrSchemaViolation, ErrUnimplemented} {
		if errors.Is(err, sentinel) {
			return err
		}
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	h.logger.Error("backend failure", "op", op, "error", err)
	return &BackendError{Op: op, Err: err}
}

// project applies allow and deny lists to a record.
func project(rec Record, only, not []string) map[string]any {
	out := make(map[string]any, len(rec))
	if len(only) > 0 {
		for _, a := range only {
			if v, ok := rec[a]; ok {
				out[a] = v
			}
		}
	} else {
		for k, v := range rec {
			out[k] = v
		}
	}
	for _, a := range not {
		delete(out, a)
	}
	return out
}

func copyDoc(doc map[string]any) map[string]any {
	out := make(map[string]any, len(doc)+1)
	for k, v := range doc {
		out[k] = v
	}
	return out
}
