package main

import (
	"context"

	"github.com/spf13/cobra"

	"lunchfinder/discovery/internal/app"
)

var maintenanceCmd = &cobra.Command{
	Use:   "maintenance",
	Short: "Run one cache and photo maintenance pass now",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			report, err := a.Maintenance.RunNow(ctx)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), map[string]any{
				"cacheEntriesPurged": report.CacheEntriesPurged,
				"photosRemoved":      report.PhotosRemoved,
				"photoBytesFreed":    report.PhotoBytesFreed,
				"duration":           report.Duration.String(),
			})
		})
	},
}
