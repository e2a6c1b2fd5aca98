// Package main is the entry point for the litconsole CLI. Each subcommand
// connects to the classifier and retriever services, issues one request and
// prints the settled panel snapshot as JSON.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/helixir/literature-console/internal/config"
	"github.com/helixir/literature-console/internal/console"
	"github.com/helixir/literature-console/internal/observability"
)

// version is set at build time via ldflags.
var version = "dev"

var (
	cfgFile string
	wait    time.Duration
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "litconsole",
	Short: "Classify and retrieve literature from the terminal",
	Long: `litconsole talks to the classifier and retriever services over their
websocket channels. Every command sends a single request, waits for the
result event and prints the resulting panel state.

Configuration is read from --config, ./config.yaml or
/etc/literature-console/config.yaml, and LITCONSOLE_* environment variables.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./config.yaml)")
	rootCmd.PersistentFlags().DurationVar(&wait, "wait", 2*time.Minute, "how long to wait for the result")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log channel traffic to stderr")
}

// runConsole loads configuration, starts a console and hands it to fn. The
// context passed to fn ends after --wait or on interrupt.
func runConsole(cmd *cobra.Command, fn func(ctx context.Context, c *console.Console) error) error {
	return withConsole(cmd, func(ctx context.Context, c *console.Console) error {
		ctx, cancel := context.WithTimeout(ctx, wait)
		defer cancel()
		return fn(ctx, c)
	})
}

// withConsole is runConsole without the --wait deadline, for commands that
// issue many requests.
func withConsole(cmd *cobra.Command, fn func(ctx context.Context, c *console.Console) error) error {
	cfg, err := config.LoadFile(cfgFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	level := cfg.Logging.Level
	if !verbose {
		level = "warn"
	}
	logger := observability.NewLogger(observability.LoggingConfig{
		Level:      level,
		Format:     "console",
		Output:     "stderr",
		TimeFormat: cfg.Logging.TimeFormat,
	}).With().Str("component", "cli").Logger()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	c, err := console.Start(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeConsole(c, logger)

	return fn(ctx, c)
}

func closeConsole(c *console.Console, logger zerolog.Logger) {
	if err := c.Close(); err != nil {
		logger.Warn().Err(err).Msg("failed to close console")
	}
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
