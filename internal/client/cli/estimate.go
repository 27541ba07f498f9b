package cli

import (
	"fmt"
	"strconv"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

func newEstimateCmd(app *App) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "estimate <sizeBytes>",
		Short: "Price a payload of the given size",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			size, err := strconv.ParseUint(args[0], 10, 64)
			if err != nil || size == 0 {
				return fmt.Errorf("invalid size %q", args[0])
			}

			est, err := app.api.Estimate(cmd.Context(), size)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if asJSON {
				return writeJSON(out, est)
			}
			b := est.Breakdown
			fmt.Fprintf(out, "Total:    %s\n", color.GreenString(formatCents(est.PriceCents)))
			fmt.Fprintf(out, "Arweave:  %s\n", formatCents(b.ArweaveCents))
			fmt.Fprintf(out, "Base fee: %s\n", formatCents(b.BaseFeeCents))
			fmt.Fprintf(out, "Markup:   %s\n", formatCents(b.MarkupCents))
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the raw estimate")
	return cmd
}
