package cmd

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/chatlink/cli/config"
	"github.com/pithecene-io/chatlink/log"
	"github.com/pithecene-io/chatlink/server"
)

const defaultServeAddr = "127.0.0.1:4000"

// ServeCommand returns the serve command.
func ServeCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Run the chat dev server",
		Description: `Serves the chat schema on /graphql (HTTP and graphql-ws) and issues
tokens on /login for the built-in accounts alice@example.com and
bob@example.com (password = user name).`,
		Flags: []cli.Flag{
			ConfigFlag,
			LogLevelFlag,
			&cli.StringFlag{
				Name:  "addr",
				Usage: "Listen address (default " + defaultServeAddr + ")",
			},
			&cli.StringFlag{
				Name:    "secret",
				Usage:   "Token signing secret",
				EnvVars: []string{"CHATLINK_SERVER_SECRET"},
			},
		},
		Action: serveAction,
	}
}

func serveAction(c *cli.Context) error {
	cfg, err := config.Resolve(c.String("config"))
	if err != nil {
		return err
	}
	addr := firstNonEmpty(c.String("addr"), cfg.Server.Addr, defaultServeAddr)
	secret := firstNonEmpty(c.String("secret"), cfg.Server.Secret)
	if secret == "" {
		return cli.Exit("serve requires --secret or server.secret", exitApplicationError)
	}
	level := firstNonEmpty(c.String("log-level"), cfg.LogLevel, "info")

	logger, err := log.NewLoggerWithLevel("server", level, os.Stderr)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	srv, err := server.New(server.Config{Secret: []byte(secret), Logger: logger})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()
	return srv.ListenAndServe(ctx, addr)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
