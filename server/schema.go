// Package server is a small chat GraphQL server used for development and
// end-to-end tests.
//
// It serves exactly the schema the chat feed consumes. Resolvers live in an
// explicit dispatch table keyed by (type, field) and checked against the
// schema at startup. Queries and mutations are served over HTTP POST;
// subscriptions over the graphql-ws WebSocket protocol on the same path.
package server

import (
	"fmt"

	"github.com/dgraph-io/gqlparser/v2/ast"
	"github.com/dgraph-io/gqlparser/v2/gqlerror"
	"github.com/dgraph-io/gqlparser/v2/parser"
	"github.com/dgraph-io/gqlparser/v2/validator"

	"github.com/pithecene-io/chatlink/types"
)

// SchemaSDL is the served schema.
const SchemaSDL = `
type Query {
  messages: [Message!]!
}

type Mutation {
  addMessage(input: MessageInput!): Message!
}

type Subscription {
  messageAdded: Message!
}

type Message {
  id: ID!
  text: String!
  user: String!
  timestamp: String
}

input MessageInput {
  text: String!
}
`

// LoadSchema parses and validates sdl together with the built-in prelude.
func LoadSchema(sdl string) (*ast.Schema, error) {
	doc, gqlErr := parser.ParseSchemas(validator.Prelude, &ast.Source{Name: "schema.graphql", Input: sdl})
	if gqlErr != nil {
		return nil, fmt.Errorf("server: parse schema: %w", gqlErr)
	}
	schema, gqlErr := validator.ValidateSchemaDocument(doc)
	if gqlErr != nil {
		return nil, fmt.Errorf("server: validate schema: %w", gqlErr)
	}
	return schema, nil
}

// toGraphQLErrors converts parser and validator errors to wire errors.
func toGraphQLErrors(errs gqlerror.List) []types.GraphQLError {
	out := make([]types.GraphQLError, 0, len(errs))
	for _, e := range errs {
		ge := types.GraphQLError{Message: e.Message}
		for _, loc := range e.Locations {
			ge.Locations = append(ge.Locations, types.Location{Line: loc.Line, Column: loc.Column})
		}
		for _, p := range e.Path {
			ge.Path = append(ge.Path, p)
		}
		out = append(out, ge)
	}
	return out
}
