package cli

import (
	"fmt"
	"io"

	"github.com/ABCWORK9/mintydoc/internal/client/api"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

func newStatusCmd(app *App) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "status <jobId>",
		Short: "Show the state of a publish job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			job, err := app.api.Job(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(cmd.OutOrStdout(), job)
			}
			printJob(cmd.OutOrStdout(), job)
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the raw job")
	return cmd
}

func stateColor(state string) func(string, ...interface{}) string {
	switch state {
	case "finalized":
		return color.GreenString
	case "failed", "expired", "refunded":
		return color.RedString
	default:
		return color.YellowString
	}
}

func printJob(out io.Writer, job *api.Job) {
	fmt.Fprintf(out, "Job:          %s\n", job.JobID)
	fmt.Fprintf(out, "State:        %s (upload %s)\n", stateColor(job.State)(job.State), job.UploadStatus)
	fmt.Fprintf(out, "Wallet:       %s\n", job.Wallet)
	fmt.Fprintf(out, "Size:         %s bytes\n", job.SizeBytes)
	if job.ReservationID != "" {
		fmt.Fprintf(out, "Reservation:  %s\n", job.ReservationID)
	}
	if job.ReservePriceCents != nil {
		fmt.Fprintf(out, "Price:        %s\n", formatCents(uint64(*job.ReservePriceCents)))
	}
	if job.ArweaveTxID != "" {
		fmt.Fprintf(out, "Arweave tx:   %s\n", job.ArweaveTxID)
	}
	if job.FinalizeTxHash != "" {
		fmt.Fprintf(out, "Finalize tx:  %s\n", job.FinalizeTxHash)
	}
	if job.LastError != "" {
		fmt.Fprintf(out, "Last error:   %s (attempts %d)\n", color.RedString(job.LastError), job.Attempts)
	}
}
