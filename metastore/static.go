package metastore

import (
	"context"
	"fmt"
	"os"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/jacentio/dataapi/statement"
	"github.com/jacentio/dataapi/store"
)

// StaticSource serves schemas held in memory. It is safe for concurrent use.
type StaticSource struct {
	mu      sync.RWMutex
	schemas map[string]map[statement.Facet]map[string]any
}

// NewStaticSource returns an empty StaticSource.
func NewStaticSource() *StaticSource {
	return &StaticSource{schemas: map[string]map[statement.Facet]map[string]any{}}
}

// Put sets the facet schema of api. A nil schema removes it.
func (s *StaticSource) Put(api string, facet statement.Facet, schema map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if schema == nil {
		delete(s.schemas[api], facet)
		return
	}
	if s.schemas[api] == nil {
		s.schemas[api] = map[statement.Facet]map[string]any{}
	}
	s.schemas[api][facet] = schema
}

func (s *StaticSource) FetchSchema(_ context.Context, api string, facet statement.Facet) (map[string]any, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.schemas[api][facet], nil
}

// APIs lists the APIs with at least one schema.
func (s *StaticSource) APIs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return statement.SortedKeys(s.schemas)
}

// LoadFile reads schemas from a YAML or JSON file of the form
//
//	Customers:
//	  Resource: {type: object, properties: {...}}
//	  Metadata: {...}
func LoadFile(path string) (*StaticSource, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("metastore: %w", err)
	}
	return Parse(raw)
}

// Parse reads schemas from YAML or JSON text. JSON is valid YAML.
func Parse(raw []byte) (*StaticSource, error) {
	var doc map[string]map[string]map[string]any
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("%w: parse schema file: %v", store.ErrInvalidArguments, err)
	}

	src := NewStaticSource()
	for api, facets := range doc {
		for name, schema := range facets {
			facet, err := statement.ParseFacet(name)
			if err != nil {
				return nil, fmt.Errorf("%w: api %s: %v", store.ErrInvalidArguments, api, err)
			}
			src.Put(api, facet, schema)
		}
	}
	return src, nil
}

var _ store.SchemaSource = (*StaticSource)(nil)
