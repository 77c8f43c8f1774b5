// Package cache is an in-memory normalized store of query results.
//
// Objects carrying both __typename and id are entities: they are stored
// once in an entity table, merged field by field, and referenced from every
// query result that embeds them. Writing an entity therefore updates every
// query that references it. Query results are keyed by operation name plus
// a fingerprint of the variables, and writing a query replaces its stored
// result wholesale.
//
// All methods are safe for concurrent use. Reads return deep copies.
package cache

import (
	"encoding/json"
	"fmt"
	"strconv"
	"sync"

	"github.com/dgryski/go-farm"
	"github.com/go-viper/mapstructure/v2"

	"github.com/pithecene-io/chatlink/metrics"
)

// Identity fields of a normalized entity.
const (
	FieldTypeName = "__typename"
	FieldID       = "id"
)

// EntityKey identifies a normalized entity.
type EntityKey struct {
	TypeName string
	ID       string
}

func (k EntityKey) String() string {
	return k.TypeName + ":" + k.ID
}

// QueryKey identifies a stored query result.
type QueryKey struct {
	Name     string
	VarsHash uint64
}

// NewQueryKey builds the key of query name with the given variables.
// Variables are hashed over their canonical JSON encoding, so equal maps
// produce equal keys regardless of insertion order.
func NewQueryKey(name string, variables map[string]any) (QueryKey, error) {
	if len(variables) == 0 {
		return QueryKey{Name: name}, nil
	}
	canonical, err := json.Marshal(variables)
	if err != nil {
		return QueryKey{}, fmt.Errorf("cache: hash variables: %w", err)
	}
	return QueryKey{Name: name, VarsHash: farm.Fingerprint64(canonical)}, nil
}

// ref replaces an entity inside stored values.
type ref struct {
	key EntityKey
}

// Cache is the normalized store.
type Cache struct {
	mu       sync.RWMutex
	entities map[EntityKey]map[string]any
	queries  map[QueryKey]map[string]any
	metrics  *metrics.Collector
}

// New creates an empty cache. The collector may be nil.
func New(collector *metrics.Collector) *Cache {
	return &Cache{
		entities: make(map[EntityKey]map[string]any),
		queries:  make(map[QueryKey]map[string]any),
		metrics:  collector,
	}
}

// ReadQuery returns the stored result of key with entity references
// resolved. The boolean is false when nothing is stored.
func (c *Cache) ReadQuery(key QueryKey) (map[string]any, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	stored, ok := c.queries[key]
	if !ok {
		return nil, false
	}
	return c.denormalize(stored, nil).(map[string]any), true
}

// WriteQuery replaces the stored result of key. Embedded entities are
// merged into the entity table.
func (c *Cache) WriteQuery(key QueryKey, data map[string]any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.writeQuery(key, data)
	c.metrics.IncCacheWrite()
}

// WriteQueryJSON decodes raw as an object and writes it under key.
// A null payload removes the entry.
func (c *Cache) WriteQueryJSON(key QueryKey, raw json.RawMessage) error {
	var data map[string]any
	if err := json.Unmarshal(raw, &data); err != nil {
		return fmt.Errorf("cache: decode %s: %w", key.Name, err)
	}
	if data == nil {
		c.Evict(key)
		return nil
	}
	c.WriteQuery(key, data)
	return nil
}

// MergeIntoQuery reads the result of key, applies transform and writes
// the returned value back, atomically with respect to other cache calls.
// transform receives nil when nothing is stored and may mutate its
// argument. Returning nil removes the entry.
func (c *Cache) MergeIntoQuery(key QueryKey, transform func(current map[string]any) map[string]any) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var current map[string]any
	if stored, ok := c.queries[key]; ok {
		current = c.denormalize(stored, nil).(map[string]any)
	}
	next := transform(current)
	if next == nil {
		delete(c.queries, key)
	} else {
		c.writeQuery(key, next)
	}
	c.metrics.IncCacheMerge()
}

// Evict removes the stored result of key. Entities are kept.
func (c *Cache) Evict(key QueryKey) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.queries, key)
}

// WriteEntity merges fields into the entity identified by key. Every
// query referencing the entity observes the change.
func (c *Cache) WriteEntity(key EntityKey, fields map[string]any) {
	c.mu.Lock()
	defer c.mu.Unlock()

	norm := make(map[string]any, len(fields)+2)
	for k, v := range fields {
		norm[k] = c.normalize(v)
	}
	norm[FieldTypeName] = key.TypeName
	norm[FieldID] = key.ID
	c.mergeEntity(key, norm)
	c.metrics.IncCacheWrite()
}

// ReadEntity returns the entity identified by key with nested references
// resolved.
func (c *Cache) ReadEntity(key EntityKey) (map[string]any, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if _, ok := c.entities[key]; !ok {
		return nil, false
	}
	return c.denormalize(ref{key: key}, nil).(map[string]any), true
}

// Len returns the number of stored entities and query results.
func (c *Cache) Len() (entities, queries int) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entities), len(c.queries)
}

// Reset drops all entities and query results.
func (c *Cache) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	clear(c.entities)
	clear(c.queries)
}

func (c *Cache) writeQuery(key QueryKey, data map[string]any) {
	norm := make(map[string]any, len(data))
	for k, v := range data {
		norm[k] = c.normalize(v)
	}
	c.queries[key] = norm
}

func (c *Cache) normalize(v any) any {
	switch x := v.(type) {
	case map[string]any:
		norm := make(map[string]any, len(x))
		for k, fv := range x {
			norm[k] = c.normalize(fv)
		}
		if key, ok := Identify(x); ok {
			c.mergeEntity(key, norm)
			return ref{key: key}
		}
		return norm
	case []any:
		out := make([]any, len(x))
		for i, item := range x {
			out[i] = c.normalize(item)
		}
		return out
	default:
		return v
	}
}

func (c *Cache) mergeEntity(key EntityKey, fields map[string]any) {
	existing, ok := c.entities[key]
	if !ok {
		c.entities[key] = fields
		return
	}
	for k, v := range fields {
		existing[k] = v
	}
}

// denormalize deep-copies v resolving references. Entities already on the
// current path are emitted as identity stubs to break cycles.
func (c *Cache) denormalize(v any, path map[EntityKey]bool) any {
	switch x := v.(type) {
	case ref:
		if path[x.key] {
			return map[string]any{FieldTypeName: x.key.TypeName, FieldID: x.key.ID}
		}
		fields, ok := c.entities[x.key]
		if !ok {
			return map[string]any{FieldTypeName: x.key.TypeName, FieldID: x.key.ID}
		}
		if path == nil {
			path = make(map[EntityKey]bool)
		}
		path[x.key] = true
		out := c.denormalize(fields, path)
		delete(path, x.key)
		return out
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, fv := range x {
			out[k] = c.denormalize(fv, path)
		}
		return out
	case []any:
		out := make([]any, len(x))
		for i, item := range x {
			out[i] = c.denormalize(item, path)
		}
		return out
	default:
		return v
	}
}

// Identify returns the entity key of obj when it carries a non-empty
// __typename and id.
func Identify(obj map[string]any) (EntityKey, bool) {
	typename, _ := obj[FieldTypeName].(string)
	if typename == "" {
		return EntityKey{}, false
	}
	var id string
	switch v := obj[FieldID].(type) {
	case string:
		id = v
	case float64:
		id = strconv.FormatFloat(v, 'f', -1, 64)
	case json.Number:
		id = v.String()
	}
	if id == "" {
		return EntityKey{}, false
	}
	return EntityKey{TypeName: typename, ID: id}, true
}

// Decode converts a cached value into out, which must be a pointer.
// Struct fields are matched by their mapstructure tags.
func Decode(v any, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		WeaklyTypedInput: true,
		TagName:          "mapstructure",
	})
	if err != nil {
		return fmt.Errorf("cache: decoder: %w", err)
	}
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("cache: decode: %w", err)
	}
	return nil
}
