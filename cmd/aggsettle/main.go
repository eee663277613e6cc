// Command aggsettle runs the certificate settlement aggregator.
//
// Usage:
//
//	aggsettle run --config aggsettle.toml
//	aggsettle config --config aggsettle.toml
//	aggsettle version
//
// Every configuration key can be overridden from the environment with the
// AGGSETTLE_ prefix, e.g. AGGSETTLE_L1_SETTLER_KEY or
// AGGSETTLE_EPOCH_TIME_DURATION=30s.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/eth2030/aggsettle/log"
	"github.com/eth2030/aggsettle/node"
)

// Build-time version info, overridable with ldflags:
//
//	go build -ldflags "-X main.version=v0.2.0 -X main.commit=abc1234"
var (
	version = "v0.1.0-dev"
	commit  = "unknown"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd(os.Stdout, os.Stderr).ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		stop()
		os.Exit(1)
	}
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "aggsettle",
		Short:         "Aggregate chain certificates and settle them on L1",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.CompletionOptions.DisableDefaultCmd = true
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to a TOML, YAML or JSON config file")
	root.SetOut(stdout)
	root.SetErr(stderr)

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Start the aggregator",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			logger, err := newLogger(cfg.Log, stderr)
			if err != nil {
				return err
			}
			log.SetDefault(logger)
			return runNode(cmd.Context(), cfg, logger)
		},
	}

	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Print the resolved configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			return cfg.WriteYAML(cmd.OutOrStdout())
		},
	}

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "aggsettle %s (commit %s)\n", version, commit)
		},
	}

	root.AddCommand(runCmd, configCmd, versionCmd)
	return root
}

func loadConfig(path string) (*node.Config, error) {
	cfg, err := node.LoadConfig(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func newLogger(cfg node.LogConfig, w io.Writer) (*log.Logger, error) {
	level, err := log.ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}
	format, err := log.ParseFormat(cfg.Format)
	if err != nil {
		return nil, err
	}
	h, err := log.NewHandler(w, format, level)
	if err != nil {
		return nil, err
	}
	return log.NewWithHandler(h), nil
}

func runNode(ctx context.Context, cfg *node.Config, logger *log.Logger) error {
	logger.Info("aggsettle starting", "version", version, "commit", commit,
		"datadir", cfg.DataDir, "networks", len(cfg.Networks), "epoch_mode", cfg.Epoch.Mode)

	n, err := node.New(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("create node: %w", err)
	}
	runErr := n.Run(ctx)
	if err := n.Close(); err != nil {
		logger.Error("Error during shutdown", "err", err)
		if runErr == nil {
			runErr = err
		}
	}
	if runErr == nil {
		logger.Info("Shutdown complete")
	}
	return runErr
}
