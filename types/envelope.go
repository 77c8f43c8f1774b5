package types

import (
	"encoding/json"
	"strings"
)

// OperationKind is the root operation type of a GraphQL document.
type OperationKind string

// Operation kinds.
const (
	KindQuery        OperationKind = "query"
	KindMutation     OperationKind = "mutation"
	KindSubscription OperationKind = "subscription"
)

// IsStreamed returns true if operations of this kind travel over the
// stream transport.
func (k OperationKind) IsStreamed() bool {
	return k == KindSubscription
}

// Location is a position in the operation document.
type Location struct {
	Line   int `json:"line" msgpack:"line"`
	Column int `json:"column" msgpack:"column"`
}

// GraphQLError is one entry of an envelope's errors list.
type GraphQLError struct {
	Message   string     `json:"message" msgpack:"message"`
	Path      []any      `json:"path,omitempty" msgpack:"path,omitempty"`
	Locations []Location `json:"locations,omitempty" msgpack:"locations,omitempty"`
}

// Envelope is the uniform result of every operation, whether returned by
// the request transport or pushed on the stream.
type Envelope struct {
	Data   json.RawMessage `json:"data" msgpack:"data"`
	Errors []GraphQLError  `json:"errors,omitempty" msgpack:"errors,omitempty"`
}

// HasErrors returns true if the envelope carries application errors.
func (e *Envelope) HasErrors() bool {
	return e != nil && len(e.Errors) > 0
}

// Err returns the application errors as a single error, or nil.
func (e *Envelope) Err() error {
	if !e.HasErrors() {
		return nil
	}
	return &ApplicationError{Errors: e.Errors}
}

// DecodeData unmarshals the data member into out.
// A null or missing data member leaves out untouched.
func (e *Envelope) DecodeData(out any) error {
	if e == nil || len(e.Data) == 0 || string(e.Data) == "null" {
		return nil
	}
	return json.Unmarshal(e.Data, out)
}

// ApplicationError carries the errors list of an envelope. It is never
// produced by a transport; callers build it from a successful envelope.
type ApplicationError struct {
	Errors []GraphQLError
}

// Error joins all messages with newlines.
func (e *ApplicationError) Error() string {
	msgs := make([]string, len(e.Errors))
	for i, ge := range e.Errors {
		msgs[i] = ge.Message
	}
	return strings.Join(msgs, "\n")
}
