package command

import (
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/yndnr/kvmirror/internal/core/domain"
)

// ValidateSessionCommand returns the validate-session command.
func ValidateSessionCommand() *cli.Command {
	return &cli.Command{
		Name:      "validate-session",
		Aliases:   []string{"session"},
		Usage:     "Record the current session, clearing mirrored data when it changed",
		ArgsUsage: "[TOKEN]",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "null",
				Usage: "Validate the null session (signed out)",
			},
		},
		Action: validateSession,
	}
}

func validateSession(c *cli.Context) error {
	var session domain.Session
	switch {
	case c.Bool("null") && c.NArg() > 0:
		return fmt.Errorf("validate-session: TOKEN and --null are exclusive")
	case c.Bool("null"):
		session = domain.NullSession()
	case c.NArg() == 1:
		session = domain.NewSession(c.Args().First())
	default:
		return fmt.Errorf("validate-session: expected TOKEN or --null")
	}

	rt, err := GetRuntime(c)
	if err != nil {
		return err
	}
	if err := rt.Proxy.ValidateSession(c.Context, session); err != nil {
		return fmt.Errorf("validate session: %w", err)
	}
	rt.Logger.Debug("session validated", "session", session.String())
	return nil
}
