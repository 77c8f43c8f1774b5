package server

import (
	"context"
	"errors"

	"github.com/go-viper/mapstructure/v2"

	"github.com/pithecene-io/chatlink/types"
)

// ErrUnauthorized is returned by resolvers that need an authenticated user.
var ErrUnauthorized = errors.New("Unauthorized") //nolint:staticcheck // exact wire message

// chatTable is the resolver table of the chat schema.
func chatTable(store *Store) Table {
	return Table{
		{Type: "Query", Field: "messages"}: FieldFunc(func(_ context.Context, _ ResolveContext) (any, error) {
			msgs := store.List()
			out := make([]any, len(msgs))
			for i, m := range msgs {
				v, err := messageValue(m)
				if err != nil {
					return nil, err
				}
				out[i] = v
			}
			return out, nil
		}),

		{Type: "Mutation", Field: "addMessage"}: FieldFunc(func(_ context.Context, rc ResolveContext) (any, error) {
			if rc.User == "" {
				return nil, ErrUnauthorized
			}
			var input struct {
				Text string `mapstructure:"text"`
			}
			if err := mapstructure.Decode(rc.Args["input"], &input); err != nil {
				return nil, err
			}
			return messageValue(store.Add(rc.User, input.Text))
		}),

		{Type: "Subscription", Field: "messageAdded"}: StreamFunc(func(ctx context.Context, _ ResolveContext) (<-chan any, error) {
			msgs := store.Subscribe(ctx)
			out := make(chan any)
			go func() {
				defer close(out)
				for m := range msgs {
					v, err := messageValue(m)
					if err != nil {
						continue
					}
					select {
					case out <- v:
					case <-ctx.Done():
						return
					}
				}
			}()
			return out, nil
		}),
	}
}

// messageValue converts m to the generic object shape used by the executor.
func messageValue(m types.Message) (map[string]any, error) {
	var out map[string]any
	if err := mapstructure.Decode(m, &out); err != nil {
		return nil, err
	}
	if out["timestamp"] == "" {
		out["timestamp"] = nil
	}
	return out, nil
}
