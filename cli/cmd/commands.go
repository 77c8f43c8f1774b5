package cmd

import "github.com/urfave/cli/v2"

// Commands returns every chatlink subcommand.
func Commands(commit string) []*cli.Command {
	return []*cli.Command{
		ChatCommand(),
		MessagesCommand(),
		SendCommand(),
		LoginCommand(),
		ServeCommand(),
		ReplayCommand(),
		VersionCommand(commit),
	}
}
