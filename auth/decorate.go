package auth

import "github.com/pithecene-io/chatlink/operation"

// HeaderAuthorization is the transport header carrying the bearer token.
const HeaderAuthorization = "Authorization"

// ParamAccessToken is the connection-init key carrying the token on the
// stream transport.
const ParamAccessToken = "accessToken"

// Decorate returns op carrying "Authorization: Bearer <token>" when token is
// non-empty, otherwise op itself. The document and variables are never
// touched.
func Decorate(op *operation.Operation, token string) *operation.Operation {
	if token == "" {
		return op
	}
	return op.WithHeader(HeaderAuthorization, "Bearer "+token)
}

// ConnectionParams builds the connection-init payload for the stream
// transport. A persistent stream has no per-message headers, so the token is
// sent once per connection. Without a token the payload is empty.
func ConnectionParams(token string) map[string]any {
	if token == "" {
		return map[string]any{}
	}
	return map[string]any{ParamAccessToken: token}
}

// ConnectionParamsFunc returns a function reading the provider at call time,
// for use as the stream transport's connection params hook.
func ConnectionParamsFunc(p TokenProvider) func() map[string]any {
	return func() map[string]any {
		return ConnectionParams(p.AccessToken())
	}
}
