package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/ABCWORK9/mintydoc/internal/client/publish"
	"github.com/ABCWORK9/mintydoc/internal/netx"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var errNoWallet = errors.New("wallet is required (--wallet or PUBLISHCTL_WALLET)")

func newPublishCmd(app *App) *cobra.Command {
	var (
		title       string
		contentType string
		payer       string
		asJSON      bool
	)

	cmd := &cobra.Command{
		Use:   "publish <file>",
		Short: "Upload a file and request a signed reservation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if app.cfg.Wallet == "" {
				return errNoWallet
			}

			put := netx.NewPartUploader(app.cfg.PartRetries, 500*time.Millisecond, app.cfg.Timeout)
			p := publish.New(app.api, put, publish.Settings{
				PartSize:    app.cfg.PartSize,
				Concurrency: app.cfg.Concurrency,
			}, app.log)

			res, err := p.Publish(cmd.Context(), publish.Request{
				Path:        args[0],
				Wallet:      app.cfg.Wallet,
				Payer:       payer,
				Title:       title,
				ContentType: contentType,
			})
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if asJSON {
				return writeJSON(out, res.Intent)
			}
			printPublish(out, res)
			return nil
		},
	}

	cmd.Flags().StringVarP(&title, "title", "t", "", "title stored with the post (default: file name)")
	cmd.Flags().StringVar(&contentType, "content-type", "", "MIME type (default: from extension)")
	cmd.Flags().StringVar(&payer, "payer", "", "paying wallet if it differs from --wallet")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the reservation intent as JSON")
	return cmd
}

func printPublish(out io.Writer, res *publish.Result) {
	in := res.Intent
	fmt.Fprintf(out, "Job:          %s\n", color.CyanString(res.JobID))
	fmt.Fprintf(out, "SHA-256:      %s\n", res.SHA256)
	fmt.Fprintf(out, "Size:         %d bytes in %d part(s)\n", res.Size, res.Parts)
	fmt.Fprintf(out, "Estimate:     %s\n", formatCents(res.Estimate.PriceCents))
	fmt.Fprintf(out, "Price:        %s", color.GreenString(formatCents(uint64(in.PriceCents))))
	if in.Reissued {
		fmt.Fprintf(out, " [%s]", color.YellowString("reissued"))
	}
	fmt.Fprintln(out)
	fmt.Fprintf(out, "Reservation:  %s\n", in.ReservationID)
	fmt.Fprintf(out, "Expires:      %s\n", time.Unix(int64(in.ExpiresAt), 0).UTC().Format(time.RFC3339))
	fmt.Fprintln(out)
	fmt.Fprintf(out, "Submit from the paying wallet:\n")
	fmt.Fprintf(out, "  chain %d, contract %s\n", in.ChainID, in.ContractAddress)
	fmt.Fprintf(out, "  %s(", in.FunctionName)
	for i, a := range in.Args {
		if i > 0 {
			fmt.Fprint(out, ", ")
		}
		fmt.Fprint(out, a)
	}
	fmt.Fprintf(out, ") value=%s\n", in.Value)
}

func formatCents(c uint64) string {
	return fmt.Sprintf("$%d.%02d", c/100, c%100)
}

func writeJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
