package cmd

import (
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/olegische/xrouter-go/internal/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the gateway",
	Long:  `Load configuration and run the gateway's HTTP server in the foreground.`,
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, _ []string) error {
	verbose, _ := cmd.Flags().GetBool("verbose")
	setupLogging(verbose)

	cfg, err := cfgMgr.Load()
	if err != nil {
		return err
	}

	color.Green("Starting %s v%s...", AppName, Version)
	logger.Info("starting server",
		"host", cfg.Host,
		"port", cfg.Port,
		"providers", len(cfg.Providers),
	)

	srv := server.New(cfgMgr, logger)
	return srv.Start()
}
