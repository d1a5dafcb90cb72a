package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sirosfoundation/go-appserver/internal/modes"
	_ "github.com/sirosfoundation/go-appserver/internal/modes/all"
	"github.com/sirosfoundation/go-appserver/internal/modes/master"
	_ "github.com/sirosfoundation/go-appserver/internal/modes/slave"
	"github.com/sirosfoundation/go-appserver/pkg/config"
)

const shutdownTimeout = 30 * time.Second

var serveMode string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the server in master, slave or all mode",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().StringVarP(&serveMode, "mode", "m", "", "Override the configured mode: master, slave, all")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	var mutate func(*config.Config)
	if serveMode != "" {
		if _, err := modes.ParseMode(serveMode); err != nil {
			return err
		}
		mutate = func(c *config.Config) { c.Mode = serveMode }
	}

	cfg, logger, err := loadConfig(mutate)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	master.Version = version
	logger.Info("Starting appserver",
		zap.String("version", version),
		zap.String("build_time", buildTime),
		zap.String("mode", cfg.Mode))

	mode, err := modes.ParseMode(cfg.Mode)
	if err != nil {
		return err
	}
	runner, err := modes.NewRunner(mode, modes.Options{Config: cfg, Logger: logger})
	if err != nil {
		return fmt.Errorf("failed to create %s runner: %w", mode, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errCh := make(chan error, 1)
	go func() {
		errCh <- runner.Run(ctx)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	var runErr error
	select {
	case <-quit:
		logger.Info("Shutting down...")
	case runErr = <-errCh:
		if runErr != nil {
			logger.Error("Runner failed", zap.Error(runErr))
		}
	}
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()
	if err := runner.Shutdown(shutdownCtx); err != nil {
		logger.Error("Shutdown error", zap.Error(err))
	}

	logger.Info("Server exited")
	return runErr
}
