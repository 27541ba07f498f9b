package cli

import (
	"errors"
	"fmt"

	"github.com/ABCWORK9/mintydoc/internal/server/auth"
	"github.com/spf13/cobra"
)

var errNoSecret = errors.New("secret key is required (PUBLISHCTL_SECRET_KEY or config secret_key)")

func newTokenCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "token <operator>",
		Short: "Mint an operator token for the admin API",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if app.cfg.SecretKey == "" {
				return errNoSecret
			}
			tok, err := auth.GenerateToken(args[0], []byte(app.cfg.SecretKey), app.cfg.TokenValidity)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), tok)
			return nil
		},
	}
}
