package cmd

import (
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/mihaisavezi/sider-gateway/internal/process"
	"github.com/mihaisavezi/sider-gateway/internal/server"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the gateway",
	Long:  `Start the gateway service in the foreground.`,
	RunE:  runStart,
}

func runStart(cmd *cobra.Command, _ []string) error {
	// Setup logging
	verbose, _ := cmd.Flags().GetBool("verbose")
	logFile, _ := cmd.Flags().GetString("log-file")
	if err := setupLogging(verbose, logFile); err != nil {
		return err
	}

	// Load configuration
	cfg, err := cfgMgr.Load()
	if err != nil {
		return err
	}
	if err := ensureBackendConfigured(cfg); err != nil {
		return err
	}

	color.Green("Starting %s v%s...", AppName, Version)
	logger.Info("Starting server",
		"host", cfg.Host,
		"port", cfg.Port,
		"sider", cfg.SiderEnabled(),
		"anthropic", cfg.AnthropicEnabled(),
	)

	// Create the server before writing the PID so a bad config never looks
	// like a running service.
	srv, err := server.New(cfgMgr, Version, logger)
	if err != nil {
		return err
	}

	// Setup process management
	procMgr := process.NewManager(baseDir)
	if err := procMgr.WritePID(); err != nil {
		return err
	}
	defer procMgr.CleanupPID()

	return srv.Start()
}
