// Command eventbus publishes, tails, replays and health-checks events on a
// distributed event bus configured from EVENTBUS_* environment variables.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
)

var (
	envFiles   []string
	jsonOutput bool
	timeout    time.Duration

	cfg Config
	be  *backend
)

var rootCmd = &cobra.Command{
	Use:           "eventbus <command>",
	Short:         "Publish and consume events on the platform event bus",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := loadConfig(envFiles...)
		if err != nil {
			return err
		}
		cfg = c

		var level slog.Level
		if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
			return fmt.Errorf("invalid EVENTBUS_LOG_LEVEL %q: %w", cfg.LogLevel, err)
		}
		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

		ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
		defer cancel()
		b, err := openBackend(ctx, cfg, slog.Default())
		if err != nil {
			return fmt.Errorf("failed to open %s backend: %w", cfg.Backend, err)
		}
		be = b
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if be == nil {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		if err := be.Close(ctx); err != nil {
			slog.Warn("close backend", "error", err)
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringSliceVar(&envFiles, "env-file", nil, "env files to load (default .env if present)")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output as JSON")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 10*time.Second, "timeout for connecting and single requests")

	rootCmd.AddCommand(publishCmd)
	rootCmd.AddCommand(tailCmd)
	rootCmd.AddCommand(replayCmd)
	rootCmd.AddCommand(healthCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		stop()
		os.Exit(1)
	}
}
