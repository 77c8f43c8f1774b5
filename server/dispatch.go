package server

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/dgraph-io/gqlparser/v2/ast"
)

// FieldKey identifies a field of a schema type.
type FieldKey struct {
	Type  string
	Field string
}

func (k FieldKey) String() string {
	return k.Type + "." + k.Field
}

// ResolveContext carries the inputs of one field resolution.
type ResolveContext struct {
	// Parent is the resolved parent object, nil for root fields.
	Parent map[string]any
	// Args are the coerced field arguments.
	Args map[string]any
	// User is the authenticated user, empty when anonymous.
	User string
}

// Resolver is a dispatch table entry: a FieldFunc or a StreamFunc.
type Resolver interface {
	resolver()
}

// FieldFunc resolves a field to a single value.
type FieldFunc func(ctx context.Context, rc ResolveContext) (any, error)

// StreamFunc resolves a subscription field to a stream of values. The
// channel is closed when the stream ends; ctx cancellation ends it early.
type StreamFunc func(ctx context.Context, rc ResolveContext) (<-chan any, error)

func (FieldFunc) resolver()  {}
func (StreamFunc) resolver() {}

// Table maps schema fields to resolvers. Fields of non-root types without
// an entry resolve to the same-named key of their parent object.
type Table map[FieldKey]Resolver

// Validate checks the table against schema: every entry must name a
// declared field, subscription root fields need a StreamFunc and other
// fields a FieldFunc, and every root field must be covered.
func (t Table) Validate(schema *ast.Schema) error {
	var problems []string

	for key, r := range t {
		def := schema.Types[key.Type]
		if def == nil {
			problems = append(problems, fmt.Sprintf("%s: unknown type", key))
			continue
		}
		if def.Fields.ForName(key.Field) == nil {
			problems = append(problems, fmt.Sprintf("%s: unknown field", key))
			continue
		}
		_, isStream := r.(StreamFunc)
		wantStream := schema.Subscription != nil && key.Type == schema.Subscription.Name
		if isStream != wantStream {
			problems = append(problems, fmt.Sprintf("%s: wrong resolver kind", key))
		}
	}

	for _, root := range []*ast.Definition{schema.Query, schema.Mutation, schema.Subscription} {
		if root == nil {
			continue
		}
		for _, f := range root.Fields {
			if strings.HasPrefix(f.Name, "__") {
				continue
			}
			if _, ok := t[FieldKey{Type: root.Name, Field: f.Name}]; !ok {
				problems = append(problems, fmt.Sprintf("%s.%s: no resolver", root.Name, f.Name))
			}
		}
	}

	if len(problems) == 0 {
		return nil
	}
	sort.Strings(problems)
	return errors.New("server: invalid resolver table: " + strings.Join(problems, "; "))
}
