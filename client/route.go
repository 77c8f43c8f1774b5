package client

import (
	"github.com/pithecene-io/chatlink/operation"
	"github.com/pithecene-io/chatlink/types"
)

// Route identifies the transport an operation is sent over.
type Route int

const (
	// RouteRequest is the HTTP request/response transport.
	RouteRequest Route = iota
	// RouteStream is the WebSocket subscription transport.
	RouteStream
)

func (r Route) String() string {
	if r == RouteStream {
		return "stream"
	}
	return "request"
}

// RouteOf returns the route for op. Only subscriptions are streamed.
func RouteOf(op *operation.Operation) Route {
	return RouteForKind(op.Kind())
}

// RouteForKind returns the route for an operation kind.
func RouteForKind(kind types.OperationKind) Route {
	if kind.IsStreamed() {
		return RouteStream
	}
	return RouteRequest
}
