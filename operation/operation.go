// Package operation models GraphQL operations and classifies them by their
// root operation type.
//
// An Operation is immutable once constructed. Its kind, name and selection
// tree come from a one-time parse of the document text; the Classifier
// caches that parse per distinct document.
package operation

import (
	"maps"
	"sort"

	"github.com/pithecene-io/chatlink/types"
)

// Field is one node of the normalized selection tree. Fragments are
// flattened into their parent selection.
type Field struct {
	Name     string
	Alias    string
	Children []Field
}

// ResponseKey returns the key the field occupies in a response object.
func (f Field) ResponseKey() string {
	if f.Alias != "" {
		return f.Alias
	}
	return f.Name
}

// Parsed is the cached result of parsing one document. It is shared
// between operations and must be treated as read-only.
type Parsed struct {
	Kind       types.OperationKind
	Name       string
	Selections []Field
}

// RootFields returns the response keys of the top-level selections.
func (p *Parsed) RootFields() []string {
	out := make([]string, len(p.Selections))
	for i, f := range p.Selections {
		out[i] = f.ResponseKey()
	}
	return out
}

// Operation is a classified GraphQL operation ready for a transport.
type Operation struct {
	parsed    *Parsed
	document  string
	variables map[string]any
	headers   map[string]string
}

func newOperation(parsed *Parsed, document string, variables map[string]any) *Operation {
	return &Operation{
		parsed:    parsed,
		document:  document,
		variables: maps.Clone(variables),
	}
}

// Kind returns the root operation type.
func (o *Operation) Kind() types.OperationKind { return o.parsed.Kind }

// Name returns the operation name, or "" for anonymous operations.
func (o *Operation) Name() string { return o.parsed.Name }

// Document returns the document text as given at construction.
func (o *Operation) Document() string { return o.document }

// Selections returns the normalized selection tree.
func (o *Operation) Selections() []Field { return o.parsed.Selections }

// RootFields returns the response keys of the top-level selections.
func (o *Operation) RootFields() []string { return o.parsed.RootFields() }

// Variables returns a shallow copy of the operation variables.
func (o *Operation) Variables() map[string]any { return maps.Clone(o.variables) }

// Header returns a transport-level header value, or "".
func (o *Operation) Header(name string) string { return o.headers[name] }

// HeaderNames returns the names of all transport-level headers, sorted.
func (o *Operation) HeaderNames() []string {
	names := make([]string, 0, len(o.headers))
	for k := range o.headers {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// WithHeader returns a copy of the operation carrying an additional
// transport-level header. The receiver is not modified.
func (o *Operation) WithHeader(name, value string) *Operation {
	cp := *o
	cp.headers = maps.Clone(o.headers)
	if cp.headers == nil {
		cp.headers = make(map[string]string, 1)
	}
	cp.headers[name] = value
	return &cp
}

// StartPayload returns the wire payload for a stream start frame.
func (o *Operation) StartPayload() types.StartPayload {
	return types.StartPayload{
		Query:         o.document,
		Variables:     o.Variables(),
		OperationName: o.parsed.Name,
	}
}
