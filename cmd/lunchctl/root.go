package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"lunchfinder/discovery/internal/app"
)

var rootCmd = &cobra.Command{
	Use:   "lunchctl",
	Short: "Operate the lunch discovery stack from a terminal",
	Long: `lunchctl wires the same components as the discovery server and runs
one operation against them: searches, place details, favorites, saved
searches and cache maintenance. Configuration comes from LUNCH_CONFIG_FILE
and the environment, like the server.`,
	SilenceUsage: true,
}

var (
	configFile string
	logLevel   string
	timeout    time.Duration
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "TOML config file (overrides LUNCH_CONFIG_FILE)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "warn", "Log level written to stderr")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 60*time.Second, "Deadline for the whole command")

	rootCmd.AddCommand(searchCmd, detailsCmd, favoritesCmd, savedCmd, cacheCmd, maintenanceCmd)
}

// withApp builds the component graph, runs fn and tears everything down.
func withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app.App) error) error {
	if configFile != "" {
		if err := os.Setenv("LUNCH_CONFIG_FILE", configFile); err != nil {
			return err
		}
	}
	cfg, err := app.LoadConfig()
	if err != nil {
		return err
	}
	logger := app.NewLogger(logLevel, cfg.LogFormat, cmd.ErrOrStderr())

	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	defer cancel()

	a, err := app.Build(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("startup: %w", err)
	}
	defer func() {
		closeCtx, closeCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer closeCancel()
		if err := a.Close(closeCtx); err != nil {
			logger.Warn("shutdown error", slog.String("error", err.Error()))
		}
	}()
	return fn(ctx, a)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
