package cmd

import (
	"errors"
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/chatlink/auth"
)

// LoginCommand returns the login command.
func LoginCommand() *cli.Command {
	return &cli.Command{
		Name:  "login",
		Usage: "Log in and store the access token",
		Flags: append(ConnectionFlags(),
			&cli.StringFlag{
				Name:     "email",
				Usage:    "Account email",
				Required: true,
			},
			&cli.StringFlag{
				Name:    "password",
				Usage:   "Account password",
				EnvVars: []string{"CHATLINK_PASSWORD"},
			},
			&cli.BoolFlag{
				Name:  "logout",
				Usage: "Remove the stored token instead",
			},
		),
		Action: loginAction,
	}
}

func loginAction(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	tokens, err := auth.NewFileProvider(cfg.Auth.TokenFile)
	if err != nil {
		return err
	}

	if c.Bool("logout") {
		if err := tokens.Clear(); err != nil {
			return err
		}
		fmt.Fprintln(c.App.Writer, "logged out")
		return nil
	}

	token, err := auth.Login(c.Context, nil, cfg.Auth.LoginURL, c.String("email"), c.String("password"))
	if errors.Is(err, auth.ErrInvalidCredentials) {
		return cli.Exit("invalid email or password", exitApplicationError)
	}
	if err != nil {
		return cli.Exit(err.Error(), exitTransportError)
	}
	if err := tokens.SetToken(token); err != nil {
		return err
	}

	if exp, ok := auth.ExpiresAt(token); ok {
		fmt.Fprintf(c.App.Writer, "logged in; token stored in %s (expires %s)\n",
			cfg.Auth.TokenFile, exp.Local().Format("2006-01-02 15:04"))
		return nil
	}
	fmt.Fprintf(c.App.Writer, "logged in; token stored in %s\n", cfg.Auth.TokenFile)
	return nil
}
