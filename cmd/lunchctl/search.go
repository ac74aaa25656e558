package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"lunchfinder/discovery/internal/app"
	"lunchfinder/discovery/internal/domain"
	"lunchfinder/discovery/internal/pipeline"
)

var searchCmd = &cobra.Command{
	Use:   "search",
	Short: "Run a restaurant search through the pipeline",
}

var searchNearbyCmd = &cobra.Command{
	Use:   "nearby",
	Short: "Search around a coordinate or the current location",
	Long: `Search for restaurants around --lat/--lon. Without coordinates the
configured location provider is asked for the device position.`,
	Args: cobra.NoArgs,
	RunE: runSearchNearby,
}

var searchTextCmd = &cobra.Command{
	Use:   "text [query]",
	Short: "Free text search, optionally biased to a coordinate",
	Args:  cobra.ExactArgs(1),
	RunE:  runSearchText,
}

var (
	searchLat       float64
	searchLon       float64
	searchRadius    int
	searchKeyword   string
	searchType      string
	searchOpenNow   bool
	searchMinPrice  int
	searchMaxPrice  int
	searchSortBy    string
	searchPageToken string
)

func init() {
	for _, c := range []*cobra.Command{searchNearbyCmd, searchTextCmd} {
		c.Flags().Float64Var(&searchLat, "lat", 0, "Latitude")
		c.Flags().Float64Var(&searchLon, "lon", 0, "Longitude")
		c.Flags().IntVar(&searchRadius, "radius", 0, "Radius in meters (default from config)")
		c.Flags().StringVar(&searchKeyword, "keyword", "", "Keyword filter")
		c.Flags().StringVar(&searchType, "type", "", "Place type (default restaurant)")
		c.Flags().BoolVar(&searchOpenNow, "open-now", false, "Only places open right now")
		c.Flags().IntVar(&searchMinPrice, "min-price", 0, "Minimum price level 0-4")
		c.Flags().IntVar(&searchMaxPrice, "max-price", 0, "Maximum price level 0-4")
		c.Flags().StringVar(&searchSortBy, "sort", "", "relevance, rating or distance")
		c.Flags().StringVar(&searchPageToken, "page-token", "", "Continuation token from a previous page")
		c.MarkFlagsRequiredTogether("lat", "lon")
	}
	searchCmd.AddCommand(searchNearbyCmd, searchTextCmd)
}

func runSearchNearby(cmd *cobra.Command, _ []string) error {
	intent := searchIntentFromFlags(cmd, domain.SearchIntent{Kind: domain.SearchKindNearby})
	return runSearch(cmd, intent)
}

func runSearchText(cmd *cobra.Command, args []string) error {
	intent := searchIntentFromFlags(cmd, domain.SearchIntent{Kind: domain.SearchKindText, Query: args[0]})
	return runSearch(cmd, intent)
}

func searchIntentFromFlags(cmd *cobra.Command, intent domain.SearchIntent) domain.SearchIntent {
	if cmd.Flags().Changed("lat") {
		intent = intent.WithLocation(domain.Coordinate{Latitude: searchLat, Longitude: searchLon})
	}
	intent.RadiusMeters = searchRadius
	intent.SortBy = domain.SortBy(searchSortBy)
	intent.Filters = domain.SearchFilters{
		Keyword:  searchKeyword,
		Type:     searchType,
		OpenNow:  searchOpenNow,
		MinPrice: searchMinPrice,
		MaxPrice: searchMaxPrice,
	}
	return intent.WithContinuation(searchPageToken)
}

func runSearch(cmd *cobra.Command, intent domain.SearchIntent) error {
	return withApp(cmd, func(ctx context.Context, a *app.App) error {
		intent := a.SearchIntent(intent)
		if err := intent.Validate(); err != nil {
			return err
		}
		return printSearchResult(cmd, a.Coordinator.Run(ctx, intent))
	})
}

type searchOutput struct {
	Items         []domain.Place `json:"items"`
	State         string         `json:"state"`
	Warnings      []string       `json:"warnings,omitempty"`
	NextPageToken string         `json:"nextPageToken,omitempty"`
}

func printSearchResult(cmd *cobra.Command, res pipeline.Result) error {
	if res.Cancelled {
		return fmt.Errorf("search cancelled")
	}
	out := searchOutput{
		Items:         res.Places,
		State:         string(res.Status.State),
		NextPageToken: res.NextPageToken,
	}
	if out.Items == nil {
		out.Items = []domain.Place{}
	}
	for _, perr := range res.Errors {
		out.Warnings = append(out.Warnings, perr.UserMessage())
	}
	if err := printJSON(cmd.OutOrStdout(), out); err != nil {
		return err
	}
	if res.Status.State == domain.PipelineFailed && res.Status.Err != nil {
		return fmt.Errorf("%s %s", res.Status.Err.UserMessage(), res.Status.Err.RecoverySuggestion())
	}
	return nil
}
