package cmd

import (
	"context"

	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/chatlink/cache"
	"github.com/pithecene-io/chatlink/cli/render"
	"github.com/pithecene-io/chatlink/feed"
	"github.com/pithecene-io/chatlink/types"
)

// MessagesCommand returns the messages command.
func MessagesCommand() *cli.Command {
	return &cli.Command{
		Name:   "messages",
		Usage:  "List current messages",
		Flags:  append(ConnectionFlags(), OutputFlags()...),
		Action: messagesAction,
	}
}

func messagesAction(c *cli.Context) error {
	r, err := render.NewRenderer(c)
	if err != nil {
		return err
	}
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	s, err := newSession(cfg)
	if err != nil {
		return err
	}
	defer s.Close()

	msgs, err := queryMessages(c.Context, s)
	if err != nil {
		return exitFor(err)
	}
	return r.Render(msgs)
}

// queryMessages runs the feed's messages query once and decodes it
// through the cache.
func queryMessages(ctx context.Context, s *session) ([]types.Message, error) {
	env, err := s.client.Query(ctx, feed.MessagesQuery, nil)
	if err != nil {
		return nil, err
	}
	if err := env.Err(); err != nil {
		return nil, err
	}

	store := cache.New(s.metrics)
	key := cache.QueryKey{Name: "messages"}
	if err := store.WriteQueryJSON(key, env.Data); err != nil {
		return nil, err
	}
	data, _ := store.ReadQuery(key)
	msgs := []types.Message{}
	if err := cache.Decode(data["messages"], &msgs); err != nil {
		return nil, err
	}
	return msgs, nil
}
