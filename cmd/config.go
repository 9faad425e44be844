package cmd

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/mihaisavezi/sider-gateway/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
	Long:  `Manage the gateway configuration.`,
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration interactively",
	Long:  `Initialize configuration by prompting for backend credentials and routing policy.`,
	RunE:  runConfigInit,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	Long:  `Display the current configuration, including environment overrides, with secrets masked.`,
	RunE:  runConfigShow,
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration",
	Long:  `Validate the current configuration for errors.`,
	RunE:  runConfigValidate,
}

func init() {
	configInitCmd.Flags().Bool("yaml", false, "write config.yaml instead of config.json")

	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configValidateCmd)
}

func prompt(reader *bufio.Reader, label, def string) string {
	if def != "" {
		fmt.Printf("%s [%s]: ", label, def)
	} else {
		fmt.Printf("%s: ", label)
	}
	value, _ := reader.ReadString('\n')
	value = strings.TrimSpace(value)
	if value == "" {
		return def
	}
	return value
}

func runConfigInit(cmd *cobra.Command, _ []string) error {
	color.Blue("Sider Gateway Configuration Setup")
	color.Yellow("Configure at least one backend. Leave a credential empty to disable that backend.")

	reader := bufio.NewReader(os.Stdin)
	cfg := config.Default()

	fmt.Println()
	cfg.Sider.AuthToken = prompt(reader, "Sider auth token", "")
	cfg.Anthropic.APIKey = prompt(reader, "Anthropic API key", "")
	cfg.Anthropic.BaseURL = prompt(reader, "Anthropic base URL", cfg.Anthropic.BaseURL)
	cfg.Routing.DefaultBackend = prompt(reader, "Default backend (sider/anthropic)", cfg.Routing.DefaultBackend)
	cfg.AuthToken = prompt(reader, "Gateway auth token (optional)", "")

	if err := cfg.Validate(logger); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	asYAML, _ := cmd.Flags().GetBool("yaml")
	var err error
	if asYAML {
		err = cfgMgr.SaveAsYAML(cfg)
	} else {
		err = cfgMgr.Save(cfg)
	}
	if err != nil {
		return fmt.Errorf("failed to save configuration: %w", err)
	}

	color.Green("Configuration saved successfully to: %s", cfgMgr.GetPath())
	color.Cyan("You can now start the gateway with: %s start", AppName)

	return nil
}

func runConfigShow(cmd *cobra.Command, _ []string) error {
	cfg, err := cfgMgr.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if !cfgMgr.Exists() {
		color.Yellow("No configuration file found, showing defaults and environment.")
	}

	red := config.Redacted(cfg)

	color.Blue("Current Configuration:")
	fmt.Printf("  %-22s: %s\n", "Host", red.Host)
	fmt.Printf("  %-22s: %d\n", "Port", red.Port)
	fmt.Printf("  %-22s: %s\n", "Auth Token", orNotSet(red.AuthToken))
	fmt.Printf("  %-22s: %s\n", "Config Path", cfgMgr.GetPath())
	fmt.Printf("  %-22s: %dms\n", "Request Timeout", red.RequestTimeoutMS)
	fmt.Printf("  %-22s: %dms\n", "Stream Delay", red.StreamDelayMS)
	fmt.Printf("  %-22s: %s\n", "Tokenizer", red.Tokenizer)

	fmt.Println("\nSider:")
	fmt.Printf("  %-22s: %s\n", "API URL", red.Sider.APIURL)
	fmt.Printf("  %-22s: %s\n", "Conversation URL", red.Sider.ConversationURL)
	fmt.Printf("  %-22s: %s\n", "Auth Token", orNotSet(red.Sider.AuthToken))

	fmt.Println("\nAnthropic:")
	fmt.Printf("  %-22s: %s\n", "Base URL", red.Anthropic.BaseURL)
	fmt.Printf("  %-22s: %s\n", "API Key", orNotSet(red.Anthropic.APIKey))
	fmt.Printf("  %-22s: %v\n", "Passthrough Stream", red.Anthropic.PassthroughStream)
	for from, to := range red.Anthropic.ModelMap {
		fmt.Printf("    %s -> %s\n", from, to)
	}

	fmt.Println("\nRouting:")
	fmt.Printf("  %-22s: %s\n", "Default Backend", red.Routing.DefaultBackend)
	fmt.Printf("  %-22s: %v\n", "Auto Fallback", red.Routing.AutoFallback)
	fmt.Printf("  %-22s: %v\n", "Prefer Sider For Chat", red.Routing.PreferSiderForChat)
	fmt.Printf("  %-22s: %v\n", "Debug Mode", red.Routing.DebugMode)

	return nil
}

func runConfigValidate(cmd *cobra.Command, _ []string) error {
	cfg, err := cfgMgr.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	requested := cfg.Routing.DefaultBackend
	if err := cfg.Validate(logger); err != nil {
		color.Red("Configuration validation failed:")
		fmt.Printf("  - %s\n", err)
		return fmt.Errorf("configuration validation failed")
	}
	if cfg.Routing.DefaultBackend != requested {
		color.Yellow("Default backend %q is disabled; %q will be used", requested, cfg.Routing.DefaultBackend)
	}

	color.Green("Configuration is valid!")
	return nil
}

func orNotSet(s string) string {
	if s == "" {
		return "(not set)"
	}
	return s
}
