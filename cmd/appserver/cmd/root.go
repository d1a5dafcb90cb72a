// Package cmd contains the appserver CLI commands.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sirosfoundation/go-appserver/pkg/config"
	"github.com/sirosfoundation/go-appserver/pkg/logging"
)

var (
	version   = "dev"
	buildTime = "unknown"
)

var (
	// Global flags
	configFile string
	logLevel   string
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "appserver",
	Short: "Embeddable application server with a framed RPC protocol",
	Long: `appserver hosts services behind a text-framed RPC protocol carried over
TCP, UDP and WebSocket. The same binary runs as a listening master, as a
slave that dials a master, or as both in one process.

Examples:
  # Run a master with the default configuration
  appserver serve

  # Run a slave against a remote master
  appserver serve --mode slave

  # Send one call and print what comes back
  appserver call Echo Say hello --master 127.0.0.1:7777

  # Mint a websocket bearer token
  appserver token --subject ada

Environment Variables:
  APPSERVER_CONFIG  Path to the configuration file (default: configs/config.yaml)
  APPSERVER_*       Overrides for any configuration key, e.g. APPSERVER_ENGINE_PORT`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", getEnvOrDefault("APPSERVER_CONFIG", "configs/config.yaml"), "Path to configuration file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Override the configured log level")
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// loadConfig loads the configuration and builds the logger.
func loadConfig(mutate func(*config.Config)) (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load(configFile)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	if mutate != nil {
		mutate(cfg)
		if err := cfg.Validate(); err != nil {
			return nil, nil, fmt.Errorf("invalid configuration: %w", err)
		}
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	logger, err := logging.NewLogger(cfg.Logging)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return cfg, logger, nil
}
