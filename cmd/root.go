package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/mihaisavezi/sider-gateway/internal/config"
)

const (
	AppName = "sider-gateway"
	Version = "0.3.0"
)

var (
	logger  *slog.Logger
	homeDir string
	baseDir string
	cfgMgr  *config.Manager
)

func init() {
	// Initialize logger
	handler := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})
	logger = slog.New(handler)

	// Setup directories
	var err error
	homeDir, err = os.UserHomeDir()
	if err != nil {
		logger.Error("Failed to get home directory", "error", err)
		os.Exit(1)
	}

	baseDir = filepath.Join(homeDir, "."+AppName)
	cfgMgr = config.NewManager(baseDir)
}

var rootCmd = &cobra.Command{
	Use:   "sider-gateway",
	Short: "Sider Gateway - Anthropic Messages API over Sider and Anthropic",
	Long: `An Anthropic Messages API compatible gateway. Simple chat goes to Sider,
requests that need client-side tools go to the Anthropic API, and a failed
call falls back once to the other backend.`,
	Version: Version,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		logger.Error("Command execution failed", "error", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "enable verbose logging")
	rootCmd.PersistentFlags().StringP("log-file", "l", "", "write logs to this file instead of stdout")

	// Add subcommands
	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(stopCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(codeCmd)
	rootCmd.AddCommand(configCmd)
}

func setupLogging(verbose bool, logFile string) error {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}

	opts := &slog.HandlerOptions{Level: level}

	out := os.Stdout
	if logFile != "" {
		f, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
		if err != nil {
			return fmt.Errorf("open log file: %w", err)
		}
		out = f
	}

	logger = slog.New(slog.NewTextHandler(out, opts))
	return nil
}

// ensureBackendConfigured accepts either a config file or credentials in the
// environment.
func ensureBackendConfigured(cfg *config.Config) error {
	if cfg.SiderEnabled() || cfg.AnthropicEnabled() {
		return nil
	}
	if !cfgMgr.Exists() {
		color.Yellow("No configuration found and no backend credentials in the environment.")
		fmt.Printf("Run '%s config init' or set SIDER_AUTH_TOKEN / ANTHROPIC_API_KEY.\n", AppName)
	}
	return config.ErrNoBackend
}
