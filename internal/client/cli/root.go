// Package cli implements the publishctl command tree.
package cli

import (
	"io"
	"log/slog"

	"github.com/ABCWORK9/mintydoc/internal/client/api"
	"github.com/ABCWORK9/mintydoc/internal/client/config"
	"github.com/ABCWORK9/mintydoc/internal/logging"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// App carries state shared by every command once flags are parsed.
type App struct {
	v       *viper.Viper
	cfg     *config.Config
	api     *api.Client
	log     logging.Logger
	cfgFile string
	verbose bool
}

// NewRootCmd builds the publishctl command tree writing to out.
func NewRootCmd(out io.Writer) *cobra.Command {
	app := &App{v: config.New()}

	root := &cobra.Command{
		Use:   "publishctl",
		Short: "Publish files to permanent storage through a mintydoc server",
		Long: `publishctl uploads a file to a mintydoc server, prices it and prints the
signed reservePost call to submit from the paying wallet.

Examples:
  publishctl publish ./paper.pdf --wallet 0xabc...   # upload and reserve
  publishctl estimate 10485760                       # price 10 MiB
  publishctl status <jobId>                          # show job state
  publishctl token alice                             # mint an operator token`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return app.load(cmd)
		},
	}
	root.SetOut(out)
	root.SetErr(out)

	flags := root.PersistentFlags()
	flags.StringVarP(&app.cfgFile, "config", "c", "", "config file (json, yaml or toml)")
	flags.StringP("server", "s", "", "server base URL")
	flags.StringP("wallet", "w", "", "uploader wallet address")
	flags.Duration("timeout", 0, "per-request timeout")
	flags.BoolVarP(&app.verbose, "verbose", "v", false, "log progress to stderr")

	_ = app.v.BindPFlag("server_url", flags.Lookup("server"))
	_ = app.v.BindPFlag("wallet", flags.Lookup("wallet"))
	_ = app.v.BindPFlag("timeout", flags.Lookup("timeout"))

	root.AddCommand(
		newPublishCmd(app),
		newEstimateCmd(app),
		newStatusCmd(app),
		newTokenCmd(app),
	)
	return root
}

func (a *App) load(cmd *cobra.Command) error {
	cfg, err := config.Load(a.v, a.cfgFile)
	if err != nil {
		return err
	}
	a.cfg = cfg
	a.api = api.New(cfg.ServerURL, cfg.Timeout)

	if a.verbose {
		a.log = logging.NewSlogLogger(slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: slog.LevelDebug})))
	} else {
		a.log = logging.NewNop()
	}
	return nil
}
