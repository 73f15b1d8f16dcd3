package store

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/jacentio/dataapi/statement"
)

// SchemaSource fetches the JSON Schema document of a facet from the external
// API metadata store. A nil document with a nil error means the facet has no
// schema.
type SchemaSource interface {
	FetchSchema(ctx context.Context, api string, facet statement.Facet) (map[string]any, error)
}

// schemaEntry is a cached validator. A nil schema means the facet has no
// schema, which stays cached until the cache is invalidated.
type schemaEntry struct {
	facet     statement.Facet
	schema    *jsonschema.Schema
	remaining int
}

// schemaCache holds one entry per facet of an API.
type schemaCache struct {
	api     string
	source  SchemaSource
	refresh int
	entries map[statement.Facet]*schemaEntry
	logger  *slog.Logger
}

func newSchemaCache(api string, source SchemaSource, refresh int, logger *slog.Logger) *schemaCache {
	return &schemaCache{
		api:     api,
		source:  source,
		refresh: refresh,
		entries: make(map[statement.Facet]*schemaEntry, 2),
		logger:  logger,
	}
}

// Invalidate drops every cached entry.
func (c *schemaCache) Invalidate() {
	clear(c.entries)
}

// stale reports whether the facet must be reloaded before validating.
func (c *schemaCache) stale(facet statement.Facet, strict bool) bool {
	e, ok := c.entries[facet]
	if !ok || strict {
		return true
	}
	return e.schema != nil && e.remaining <= 0
}

// validate checks doc against the facet's schema, reloading it first when
// missing, exhausted or when strict is set.
func (c *schemaCache) validate(ctx context.Context, facet statement.Facet, doc map[string]any, strict bool) error {
	if c.source == nil {
		return nil
	}
	if c.stale(facet, strict) {
		if err := c.load(ctx, facet); err != nil {
			return err
		}
	}

	e := c.entries[facet]
	if e.schema == nil {
		return nil
	}
	e.remaining--

	v, err := normalize(doc)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidArguments, err)
	}
	if err := e.schema.Validate(v); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrSchemaViolation, facet, err)
	}
	return nil
}

func (c *schemaCache) load(ctx context.Context, facet statement.Facet) error {
	doc, err := c.source.FetchSchema(ctx, c.api, facet)
	if err != nil {
		return &BackendError{Op: "fetch schema", Err: err}
	}
	countSchemaReload(c.api, facet.String())

	e := &schemaEntry{facet: facet, remaining: c.refresh}
	if doc != nil {
		if e.schema, err = compileSchema(c.api, facet, doc); err != nil {
			return err
		}
	}
	c.entries[facet] = e
	c.logger.Info("loaded schema", "api", c.api, "facet", facet.String(), "present", doc != nil)
	return nil
}

func compileSchema(api string, facet statement.Facet, doc map[string]any) (*jsonschema.Schema, error) {
	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("%w: encode %s schema: %v", ErrInvalidArguments, facet, err)
	}
	url := fmt.Sprintf("dataapi://%s/%s.json", api, facet)
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(url, bytes.NewReader(raw)); err != nil {
		return nil, fmt.Errorf("%w: %s schema: %v", ErrInvalidArguments, facet, err)
	}
	schema, err := compiler.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("%w: compile %s schema: %v", ErrInvalidArguments, facet, err)
	}
	return schema, nil
}

// normalize re-decodes doc so that it only holds JSON types.
func normalize(doc map[string]any) (any, error) {
	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, err
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	return v, nil
}
