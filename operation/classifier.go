package operation

import (
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/dgraph-io/gqlparser/v2/ast"
	"github.com/dgraph-io/gqlparser/v2/parser"
	"github.com/dgraph-io/ristretto/v2"

	"github.com/pithecene-io/chatlink/types"
)

// DefaultMaxDocuments is the default number of parsed documents kept.
const DefaultMaxDocuments = 1024

// ErrMalformedDocument is returned when a document cannot be parsed or has
// no operation definition. It is raised before any network call.
var ErrMalformedDocument = errors.New("malformed operation document")

// Classifier parses documents once and caches the result per document text.
// Safe for concurrent use.
type Classifier struct {
	cache  *ristretto.Cache[string, *Parsed]
	parses atomic.Int64
}

// NewClassifier creates a classifier caching up to maxDocuments parses.
// Zero or negative means DefaultMaxDocuments.
func NewClassifier(maxDocuments int64) (*Classifier, error) {
	if maxDocuments <= 0 {
		maxDocuments = DefaultMaxDocuments
	}
	cache, err := ristretto.NewCache(&ristretto.Config[string, *Parsed]{
		NumCounters:        maxDocuments * 10,
		MaxCost:            maxDocuments,
		BufferItems:        64,
		// Cost is one per document.
		IgnoreInternalCost: true,
	})
	if err != nil {
		return nil, fmt.Errorf("operation: create parse cache: %w", err)
	}
	return &Classifier{cache: cache}, nil
}

// Classify returns the parse of document, from cache when possible.
func (c *Classifier) Classify(document string) (*Parsed, error) {
	if p, ok := c.cache.Get(document); ok {
		return p, nil
	}
	p, err := Parse(document)
	if err != nil {
		return nil, err
	}
	c.parses.Add(1)
	c.cache.Set(document, p, 1)
	return p, nil
}

// New classifies document and builds an Operation with the given variables.
func (c *Classifier) New(document string, variables map[string]any) (*Operation, error) {
	p, err := c.Classify(document)
	if err != nil {
		return nil, err
	}
	return newOperation(p, document, variables), nil
}

// Parses returns how many documents were actually parsed (cache misses).
func (c *Classifier) Parses() int64 {
	return c.parses.Load()
}

// Wait blocks until pending cache writes are applied.
func (c *Classifier) Wait() {
	c.cache.Wait()
}

// Close releases the parse cache.
func (c *Classifier) Close() {
	c.cache.Close()
}

// New parses document without caching and builds an Operation.
func New(document string, variables map[string]any) (*Operation, error) {
	p, err := Parse(document)
	if err != nil {
		return nil, err
	}
	return newOperation(p, document, variables), nil
}

// Parse parses a document and classifies its main operation, which is the
// first operation definition. Shorthand documents ({ ... }) are queries.
func Parse(document string) (*Parsed, error) {
	doc, gqlErr := parser.ParseQuery(&ast.Source{Input: document})
	if gqlErr != nil {
		return nil, fmt.Errorf("%w: %s", ErrMalformedDocument, gqlErr.Message)
	}
	if len(doc.Operations) == 0 {
		return nil, fmt.Errorf("%w: no operation definition", ErrMalformedDocument)
	}

	op := doc.Operations[0]
	var kind types.OperationKind
	switch op.Operation {
	case ast.Query, "":
		kind = types.KindQuery
	case ast.Mutation:
		kind = types.KindMutation
	case ast.Subscription:
		kind = types.KindSubscription
	default:
		return nil, fmt.Errorf("%w: unknown operation type %q", ErrMalformedDocument, op.Operation)
	}

	selections, err := flatten(doc, op.SelectionSet, map[string]bool{})
	if err != nil {
		return nil, err
	}

	return &Parsed{Kind: kind, Name: op.Name, Selections: selections}, nil
}

// flatten converts a selection set into Fields, inlining fragments.
// visiting guards against fragment cycles.
func flatten(doc *ast.QueryDocument, set ast.SelectionSet, visiting map[string]bool) ([]Field, error) {
	var out []Field
	for _, sel := range set {
		switch s := sel.(type) {
		case *ast.Field:
			children, err := flatten(doc, s.SelectionSet, visiting)
			if err != nil {
				return nil, err
			}
			f := Field{Name: s.Name, Children: children}
			if s.Alias != s.Name {
				f.Alias = s.Alias
			}
			out = append(out, f)
		case *ast.InlineFragment:
			children, err := flatten(doc, s.SelectionSet, visiting)
			if err != nil {
				return nil, err
			}
			out = append(out, children...)
		case *ast.FragmentSpread:
			if visiting[s.Name] {
				return nil, fmt.Errorf("%w: fragment cycle through %q", ErrMalformedDocument, s.Name)
			}
			def := doc.Fragments.ForName(s.Name)
			if def == nil {
				return nil, fmt.Errorf("%w: unknown fragment %q", ErrMalformedDocument, s.Name)
			}
			visiting[s.Name] = true
			children, err := flatten(doc, def.SelectionSet, visiting)
			delete(visiting, s.Name)
			if err != nil {
				return nil, err
			}
			out = append(out, children...)
		}
	}
	return out, nil
}
