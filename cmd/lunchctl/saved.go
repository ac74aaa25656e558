package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"lunchfinder/discovery/internal/app"
	"lunchfinder/discovery/internal/domain"
)

var savedCmd = &cobra.Command{
	Use:   "saved",
	Short: "Manage saved searches",
}

var savedListCmd = &cobra.Command{
	Use:   "list",
	Short: "Print saved searches",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			items, err := a.SavedSearches.List(ctx)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), items)
		})
	},
}

var savedCreateCmd = &cobra.Command{
	Use:   "create [name]",
	Short: "Save a search for later",
	Long: `Save a search under a name. Pass --query for a text search; without it
the saved search is a nearby search around --lat/--lon or the device.`,
	Args: cobra.ExactArgs(1),
	RunE: runSavedCreate,
}

var savedDeleteCmd = &cobra.Command{
	Use:   "delete [id]",
	Short: "Delete a saved search",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			if err := a.SavedSearches.Delete(ctx, args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", args[0])
			return nil
		})
	},
}

var savedRunCmd = &cobra.Command{
	Use:   "run [id]",
	Short: "Execute a saved search",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			item, err := a.SavedSearches.Get(ctx, args[0])
			if err != nil {
				return err
			}
			return printSearchResult(cmd, a.Coordinator.Run(ctx, a.SearchIntent(item.Intent())))
		})
	},
}

var (
	savedQuery   string
	savedLat     float64
	savedLon     float64
	savedRadius  int
	savedKeyword string
	savedOpenNow bool
	savedSortBy  string
)

func init() {
	savedCreateCmd.Flags().StringVar(&savedQuery, "query", "", "Text query")
	savedCreateCmd.Flags().Float64Var(&savedLat, "lat", 0, "Latitude")
	savedCreateCmd.Flags().Float64Var(&savedLon, "lon", 0, "Longitude")
	savedCreateCmd.Flags().IntVar(&savedRadius, "radius", 0, "Radius in meters")
	savedCreateCmd.Flags().StringVar(&savedKeyword, "keyword", "", "Keyword filter")
	savedCreateCmd.Flags().BoolVar(&savedOpenNow, "open-now", false, "Only places open right now")
	savedCreateCmd.Flags().StringVar(&savedSortBy, "sort", "", "relevance, rating or distance")
	savedCreateCmd.MarkFlagsRequiredTogether("lat", "lon")

	savedCmd.AddCommand(savedListCmd, savedCreateCmd, savedDeleteCmd, savedRunCmd)
}

func runSavedCreate(cmd *cobra.Command, args []string) error {
	item := domain.SavedSearch{
		Name:         args[0],
		Kind:         domain.SearchKindNearby,
		Query:        savedQuery,
		RadiusMeters: savedRadius,
		Filters:      domain.SearchFilters{Keyword: savedKeyword, OpenNow: savedOpenNow},
		SortBy:       domain.SortBy(savedSortBy),
	}
	if savedQuery != "" {
		item.Kind = domain.SearchKindText
	}
	if cmd.Flags().Changed("lat") {
		item.Location = &domain.Coordinate{Latitude: savedLat, Longitude: savedLon}
	}
	return withApp(cmd, func(ctx context.Context, a *app.App) error {
		created, err := a.SavedSearches.Create(ctx, item)
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), created)
	})
}
