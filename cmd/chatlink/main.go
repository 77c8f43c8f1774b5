// Package main provides the chatlink CLI entrypoint.
//
// Usage:
//
//	chatlink <command> [options]
//
// Exit codes:
//   - 0: success
//   - 1: application error (the server answered with GraphQL errors)
//   - 2: transport error (the server could not be reached or answered garbage)
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/chatlink/cli/cmd"
	"github.com/pithecene-io/chatlink/types"
)

// commit is set via ldflags at build time.
var commit = "unknown"

func main() {
	// A missing .env is fine; CHATLINK_* may come from the real environment.
	_ = godotenv.Load()

	app := &cli.App{
		Name:           "chatlink",
		Usage:          "GraphQL chat client",
		Version:        fmt.Sprintf("%s (commit: %s)", types.Version, commit),
		ExitErrHandler: exitErrHandler,
		Commands:       cmd.Commands(commit),
	}

	if err := app.Run(os.Args); err != nil {
		// ExitErrHandler already exited for every error it saw.
		os.Exit(1)
	}
}

// exitErrHandler prints err and exits with its code.
func exitErrHandler(_ *cli.Context, err error) {
	if err == nil {
		return
	}
	code, msg := exitStatus(err)
	if msg != "" {
		fmt.Fprintln(os.Stderr, msg)
	}
	os.Exit(code)
}

// exitStatus returns the exit code of err and the message to print.
// cli.Exit codes are preserved, including through wrapping; anything else
// exits 1.
func exitStatus(err error) (int, string) {
	var exitCoder cli.ExitCoder
	if errors.As(err, &exitCoder) {
		code := exitCoder.ExitCode()
		msg := exitCoder.Error()
		// cli.Exit("", N).Error() is empty or "exit status N".
		if msg == fmt.Sprintf("exit status %d", code) {
			msg = ""
		}
		return code, msg
	}
	return 1, fmt.Sprintf("Error: %v", err)
}
