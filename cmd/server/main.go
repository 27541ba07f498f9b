// Command mintydoc-server runs the publish API, the finalization worker and
// the expiry sweeper.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/ABCWORK9/mintydoc/internal/server"
	"github.com/ABCWORK9/mintydoc/internal/server/config"
)

func main() {
	cfg := config.LoadConfig()

	app, err := server.NewApp(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "mintydoc-server: %v\n", err)
		os.Exit(1)
	}

	app.Run(context.Background())
}
