package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/opsdeck/internal/common"
)

var (
	// Command-line flags
	configFiles []string // Multiple -config flags supported, later files override earlier ones
	serverPort  int
	serverHost  string
)

func main() {
	defer common.RecoverWithCrashFile()
	common.InstallCrashHandler("")

	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "opsdeck",
		Short: "Network device operation workflow server",
		Long: `OpsDeck starts device operations on the automation gateway, follows their
progress over the event relay and gates execution behind a pre-check review.

Without a subcommand the HTTP server is started.`,
		SilenceUsage: true,
		RunE:         runServe,
	}

	cmd.PersistentFlags().StringArrayVarP(&configFiles, "config", "c", nil,
		"Configuration file path (can be specified multiple times, later files override earlier ones)")
	cmd.Flags().IntVarP(&serverPort, "port", "p", 0, "Server port (overrides config)")
	cmd.Flags().StringVar(&serverHost, "host", "", "Server host (overrides config)")

	cmd.AddCommand(serveCmd(), runCmd(), versionCmd())
	return cmd
}

// loadConfig resolves configuration: defaults -> file1 -> file2 -> ... -> env -> CLI flags
func loadConfig() (*common.Config, error) {
	// Auto-discover config file if not specified
	if len(configFiles) == 0 {
		if _, err := os.Stat("opsdeck.toml"); err == nil {
			configFiles = append(configFiles, "opsdeck.toml")
		} else if _, err := os.Stat("deployments/local/opsdeck.toml"); err == nil {
			configFiles = append(configFiles, "deployments/local/opsdeck.toml")
		}
	}

	config, err := common.LoadFromFiles(configFiles...)
	if err != nil {
		return nil, err
	}
	common.ApplyFlagOverrides(config, serverPort, serverHost)

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return config, nil
}

// setup loads configuration, initializes the logger and prints the banner
func setup() (*common.Config, arbor.ILogger, error) {
	config, err := loadConfig()
	if err != nil {
		tempLogger := arbor.NewLogger()
		tempLogger.Error().Strs("paths", configFiles).Err(err).Msg("Failed to load configuration")
		return nil, nil, err
	}

	logger := common.InitLogger(config)
	common.PrintBanner(config, logger)

	logger.Debug().
		Strs("config_files", configFiles).
		Str("relay_url", config.Relay.URL).
		Str("backend_url", config.Backend.BaseURL).
		Str("progress_mode", config.Workflow.ProgressMode).
		Str("log_level", config.Logging.Level).
		Strs("log_output", config.Logging.Output).
		Msg("Resolved configuration")

	return config, logger, nil
}
