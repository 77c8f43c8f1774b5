package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dgraph-io/gqlparser/v2/ast"
	"github.com/dgraph-io/gqlparser/v2/gqlerror"
	"github.com/dgraph-io/gqlparser/v2/parser"
	"github.com/dgraph-io/gqlparser/v2/validator"

	"github.com/pithecene-io/chatlink/types"
)

const fieldTypename = "__typename"

// Request is a GraphQL request body, also the payload of a start frame.
type Request = types.StartPayload

// prepared is a parsed, validated operation with coerced variables.
type prepared struct {
	op   *ast.OperationDefinition
	vars map[string]any
}

// prepare parses and validates req against the schema.
func (s *Server) prepare(req Request) (*prepared, []types.GraphQLError) {
	doc, gqlErr := parser.ParseQuery(&ast.Source{Input: req.Query})
	if gqlErr != nil {
		return nil, toGraphQLErrors(gqlerror.List{gqlErr})
	}
	if errs := validator.Validate(s.schema, doc, req.Variables); len(errs) > 0 {
		return nil, toGraphQLErrors(errs)
	}
	op := doc.Operations.ForName(req.OperationName)
	if op == nil {
		msg := "operation not found"
		if req.OperationName != "" {
			msg = fmt.Sprintf("operation %q not found", req.OperationName)
		}
		return nil, []types.GraphQLError{{Message: msg}}
	}
	vars, gqlErr := validator.VariableValues(s.schema, op, req.Variables)
	if gqlErr != nil {
		return nil, toGraphQLErrors(gqlerror.List{gqlErr})
	}
	return &prepared{op: op, vars: vars}, nil
}

// rootType returns the schema definition for the operation's root.
func (s *Server) rootType(op ast.Operation) *ast.Definition {
	switch op {
	case ast.Mutation:
		return s.schema.Mutation
	case ast.Subscription:
		return s.schema.Subscription
	default:
		return s.schema.Query
	}
}

// execute runs a query or mutation. Root fields run in document order.
// A failing non-null root field nulls the whole data member.
func (s *Server) execute(ctx context.Context, p *prepared, user string) *types.Envelope {
	root := s.rootType(p.op.Operation)
	data := make(map[string]any)
	var errs []types.GraphQLError
	nulled := false

	for _, f := range collectFields(p.op.SelectionSet) {
		if f.Name == fieldTypename {
			data[f.Alias] = root.Name
			continue
		}
		fn, _ := s.table[FieldKey{Type: root.Name, Field: f.Name}].(FieldFunc)
		if fn == nil {
			errs = append(errs, fieldError(f, errors.New("no resolver")))
			nulled = nulled || f.Definition.Type.NonNull
			data[f.Alias] = nil
			continue
		}
		val, err := fn(ctx, ResolveContext{Args: f.ArgumentMap(p.vars), User: user})
		if err != nil {
			errs = append(errs, fieldError(f, err))
			nulled = nulled || f.Definition.Type.NonNull
			data[f.Alias] = nil
			continue
		}
		out, err := s.complete(ctx, f.Definition.Type, f.SelectionSet, val, p.vars, user)
		if err != nil {
			errs = append(errs, fieldError(f, err))
			nulled = nulled || f.Definition.Type.NonNull
		}
		data[f.Alias] = out
	}

	if nulled {
		return &types.Envelope{Data: json.RawMessage("null"), Errors: errs}
	}
	return envelope(data, errs)
}

// event projects one value of a subscription stream onto field.
func (s *Server) event(ctx context.Context, f *ast.Field, vars map[string]any, val any, user string) *types.Envelope {
	out, err := s.complete(ctx, f.Definition.Type, f.SelectionSet, val, vars, user)
	if err != nil {
		return &types.Envelope{Data: json.RawMessage("null"), Errors: []types.GraphQLError{fieldError(f, err)}}
	}
	return envelope(map[string]any{f.Alias: out}, nil)
}

// complete shapes val according to typ and the selection set.
func (s *Server) complete(ctx context.Context, typ *ast.Type, sels ast.SelectionSet, val any, vars map[string]any, user string) (any, error) {
	if val == nil {
		if typ.NonNull {
			return nil, errors.New("non-null field resolved to null")
		}
		return nil, nil
	}

	if typ.Elem != nil {
		items, ok := val.([]any)
		if !ok {
			return nil, fmt.Errorf("expected list, got %T", val)
		}
		out := make([]any, len(items))
		for i, item := range items {
			v, err := s.complete(ctx, typ.Elem, sels, item, vars, user)
			if err != nil {
				return nil, err
			}
			out[i] = v
		}
		return out, nil
	}

	def := s.schema.Types[typ.Name()]
	if def == nil || def.Kind != ast.Object {
		return val, nil
	}
	parent, ok := val.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("expected object for %s, got %T", def.Name, val)
	}

	obj := make(map[string]any)
	for _, f := range collectFields(sels) {
		if f.Name == fieldTypename {
			obj[f.Alias] = def.Name
			continue
		}
		fieldVal := parent[f.Name]
		if fn, ok := s.table[FieldKey{Type: def.Name, Field: f.Name}].(FieldFunc); ok {
			v, err := fn(ctx, ResolveContext{Parent: parent, Args: f.ArgumentMap(vars), User: user})
			if err != nil {
				return nil, err
			}
			fieldVal = v
		}
		v, err := s.complete(ctx, f.Definition.Type, f.SelectionSet, fieldVal, vars, user)
		if err != nil {
			return nil, err
		}
		obj[f.Alias] = v
	}
	return obj, nil
}

// collectFields flattens fragments into the ordered field list. Only
// object types exist in the schema, so type conditions always apply.
func collectFields(sels ast.SelectionSet) []*ast.Field {
	var out []*ast.Field
	seen := make(map[string]bool)
	var walk func(ast.SelectionSet)
	walk = func(set ast.SelectionSet) {
		for _, sel := range set {
			switch sel := sel.(type) {
			case *ast.Field:
				if seen[sel.Alias] {
					continue
				}
				seen[sel.Alias] = true
				out = append(out, sel)
			case *ast.InlineFragment:
				walk(sel.SelectionSet)
			case *ast.FragmentSpread:
				if sel.Definition != nil {
					walk(sel.Definition.SelectionSet)
				}
			}
		}
	}
	walk(sels)
	return out
}

func fieldError(f *ast.Field, err error) types.GraphQLError {
	ge := types.GraphQLError{Message: err.Error(), Path: []any{f.Alias}}
	if f.Position != nil {
		ge.Locations = []types.Location{{Line: f.Position.Line, Column: f.Position.Column}}
	}
	return ge
}

func envelope(data map[string]any, errs []types.GraphQLError) *types.Envelope {
	raw, err := json.Marshal(data)
	if err != nil {
		return &types.Envelope{
			Data:   json.RawMessage("null"),
			Errors: append(errs, types.GraphQLError{Message: "encode result: " + err.Error()}),
		}
	}
	return &types.Envelope{Data: raw, Errors: errs}
}

// errorEnvelope wraps request-level errors.
func errorEnvelope(errs []types.GraphQLError) *types.Envelope {
	return &types.Envelope{Errors: errs}
}
