package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	clientcmd "github.com/rzbill/tasq/internal/cmd/client"
	serverrun "github.com/rzbill/tasq/internal/cmd/server"
	cfgpkg "github.com/rzbill/tasq/internal/config"
	logpkg "github.com/rzbill/tasq/pkg/log"
)

func main() {
	// initialize logger for CLI
	// Respect TASQ_LOG_LEVEL for both CLI and server start output
	level := os.Getenv("TASQ_LOG_LEVEL")
	parsed, err := logpkg.ParseLevel(level)
	if err != nil || level == "" {
		parsed = logpkg.InfoLevel
	}
	logger := logpkg.NewLogger(
		logpkg.WithLevel(parsed),
		logpkg.WithFormatter(&logpkg.TextFormatter{}),
		logpkg.WithOutput(logpkg.NewConsoleOutput()),
	)

	// Redirect standard library logs (used by Pebble) to our logger
	logpkg.RedirectStdLog(logger)

	rootCmd := &cobra.Command{
		Use:   "tasq",
		Short: "Tasq runtime CLI",
		Long:  "Tasq is a single-binary task queue broker. This CLI manages the server and basic operations.",
	}

	// server start
	serverCmd := &cobra.Command{Use: "server", Short: "Server commands"}
	serverStartCmd := &cobra.Command{
		Use:     "start",
		Short:   "Start tasq server (HTTP)",
		Aliases: []string{"run"},
		RunE: func(cmd *cobra.Command, args []string) error {
			configPath, _ := cmd.Flags().GetString("config")
			dataDir, _ := cmd.Flags().GetString("data-dir")
			httpAddr, _ := cmd.Flags().GetString("http")
			fsyncMode, _ := cmd.Flags().GetString("fsync")
			fsyncIntervalMs, _ := cmd.Flags().GetInt("fsync-interval-ms")
			logLevel, _ := cmd.Flags().GetString("log-level")
			logFormat, _ := cmd.Flags().GetString("log-format")
			leaseMs, _ := cmd.Flags().GetInt64("lease-ms")
			sweepMs, _ := cmd.Flags().GetInt64("sweep-interval-ms")

			switch fsyncMode {
			case "always", "interval", "never", "":
			default:
				return fmt.Errorf("invalid --fsync; use always|interval|never")
			}

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			cfg, err := cfgpkg.Load(configPath)
			if err != nil {
				return err
			}
			cfgpkg.FromEnv(&cfg)
			if dataDir != "" {
				cfg.DataDir = dataDir
			}
			if httpAddr != "" {
				cfg.HTTPAddr = httpAddr
			}
			if fsyncMode != "" {
				cfg.Fsync = fsyncMode
			}
			if fsyncIntervalMs > 0 {
				cfg.FsyncIntervalMs = fsyncIntervalMs
			}
			if leaseMs > 0 {
				cfg.Broker.DefaultLeaseMs = leaseMs
			}
			if sweepMs > 0 {
				cfg.Broker.SweepIntervalMs = int(sweepMs)
			}
			if logLevel != "" {
				_ = os.Setenv("TASQ_LOG_LEVEL", logLevel)
			}
			if logFormat != "" {
				_ = os.Setenv("TASQ_LOG_FORMAT", logFormat)
			}
			if err := serverrun.Run(ctx, serverrun.Options{Config: cfg}); err != nil {
				return fmt.Errorf("server error: %w", err)
			}
			// brief delay to allow logs flush
			time.Sleep(100 * time.Millisecond)
			return nil
		},
	}
	serverStartCmd.Flags().String("config", "", "Path to a JSON or YAML config file")
	serverStartCmd.Flags().String("data-dir", "", "Data directory (if not specified, uses OS-specific application data directory)")
	serverStartCmd.Flags().String("http", "", "HTTP listen address (default :7410)")
	serverStartCmd.Flags().String("fsync", "", "Fsync mode: always|interval|never (default interval)")
	serverStartCmd.Flags().Int("fsync-interval-ms", 0, "When --fsync=interval, group-commit window in ms (default 5)")
	serverStartCmd.Flags().String("log-level", os.Getenv("TASQ_LOG_LEVEL"), "Log level: debug|info|warn|error")
	serverStartCmd.Flags().String("log-format", os.Getenv("TASQ_LOG_FORMAT"), "Log format: text|json (default text)")
	serverStartCmd.Flags().Int64("lease-ms", func() int64 { v, _ := strconv.ParseInt(os.Getenv("TASQ_DEFAULT_LEASE_MS"), 10, 64); return v }(), "Default poll lease duration in ms (default 30000)")
	serverStartCmd.Flags().Int64("sweep-interval-ms", 0, "Expired-lease sweep interval in ms (default 500)")
	serverCmd.AddCommand(serverStartCmd)
	rootCmd.AddCommand(serverCmd)

	// task commands (in internal/cmd/client)
	taskCmd := clientcmd.NewTaskCommand(apiURL)
	rootCmd.AddCommand(taskCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func apiURL() string {
	if v := os.Getenv("TASQ_HTTP"); v != "" {
		return v
	}
	return "http://127.0.0.1:7410"
}
