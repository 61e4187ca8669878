package cmd

import (
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/olegische/xrouter-go/internal/config"
)

const (
	AppName = "xrouter"
	Version = "0.1.0"
)

var (
	logger  *slog.Logger
	baseDir string
	cfgMgr  *config.Manager
)

func init() {
	handler := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo})
	logger = slog.New(handler)

	homeDir, err := os.UserHomeDir()
	if err != nil {
		logger.Error("failed to get home directory", "error", err)
		os.Exit(1)
	}
	baseDir = filepath.Join(homeDir, "."+AppName)
	cfgMgr = config.NewManager(baseDir)
}

var rootCmd = &cobra.Command{
	Use:     "xrouter",
	Short:   "xrouter - multi-provider chat completion gateway",
	Long:    `A gateway that normalizes and dispatches chat completion requests across multiple upstream LLM providers.`,
	Version: Version,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		logger.Error("command execution failed", "error", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "enable verbose logging")
	rootCmd.AddCommand(serveCmd)
}

func setupLogging(verbose bool) {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	logger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
}
