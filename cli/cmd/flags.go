// Package cmd provides CLI commands for the chatlink binary.
package cmd

import "github.com/urfave/cli/v2"

// Exit codes.
const (
	exitSuccess          = 0
	exitApplicationError = 1
	exitTransportError   = 2
)

// Shared flags.
var (
	// ConfigFlag points at a chatlink.yaml file.
	ConfigFlag = &cli.StringFlag{
		Name:    "config",
		Aliases: []string{"c"},
		Usage:   "Path to chatlink.yaml",
		EnvVars: []string{"CHATLINK_CONFIG"},
	}

	// HTTPFlag overrides endpoint.http.
	HTTPFlag = &cli.StringFlag{
		Name:  "http",
		Usage: "GraphQL HTTP endpoint (default http://localhost:4000/graphql)",
	}

	// WSFlag overrides endpoint.ws.
	WSFlag = &cli.StringFlag{
		Name:  "ws",
		Usage: "GraphQL WebSocket endpoint (default derived from --http)",
	}

	// TokenFlag overrides the stored access token.
	TokenFlag = &cli.StringFlag{
		Name:  "token",
		Usage: "Access token (overrides auth.token_file)",
	}

	// LogLevelFlag overrides log_level.
	LogLevelFlag = &cli.StringFlag{
		Name:  "log-level",
		Usage: "Log level: debug, info, warn, error",
	}

	// FormatFlag selects output format: json, table, yaml.
	FormatFlag = &cli.StringFlag{
		Name:    "format",
		Aliases: []string{"f"},
		Usage:   "Output format: json, table, yaml",
	}

	// NoColorFlag disables colored output.
	NoColorFlag = &cli.BoolFlag{
		Name:  "no-color",
		Usage: "Disable colored output",
	}
)

// ConnectionFlags returns the flags of commands that talk to a server.
func ConnectionFlags() []cli.Flag {
	return []cli.Flag{
		ConfigFlag,
		HTTPFlag,
		WSFlag,
		TokenFlag,
		LogLevelFlag,
	}
}

// OutputFlags returns the flags of commands that render results.
func OutputFlags() []cli.Flag {
	return []cli.Flag{
		FormatFlag,
		NoColorFlag,
	}
}
