package cmd

import (
	"strings"

	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/chatlink/cache"
	"github.com/pithecene-io/chatlink/cli/render"
	"github.com/pithecene-io/chatlink/feed"
)

// SendCommand returns the send command.
func SendCommand() *cli.Command {
	return &cli.Command{
		Name:      "send",
		Usage:     "Send one message",
		ArgsUsage: "TEXT",
		Description: `Runs the addMessage mutation once. Exits 1 when the server rejects the
message (e.g. Unauthorized) and 2 when the server cannot be reached.`,
		Flags:  append(ConnectionFlags(), OutputFlags()...),
		Action: sendAction,
	}
}

func sendAction(c *cli.Context) error {
	text := strings.TrimSpace(strings.Join(c.Args().Slice(), " "))
	if text == "" {
		return cli.Exit("send requires TEXT", exitApplicationError)
	}
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

	f := feed.New(s.client, cache.New(s.metrics), feed.Options{Logger: s.logger, Metrics: s.metrics})
	defer f.Stop()

	msg, err := f.Send(c.Context, text)
	if err != nil {
		return exitFor(err)
	}
	if r.Format() == render.FormatTable {
		return r.WriteLine(msg)
	}
	return r.Render(msg)
}
