package main

import (
	"context"

	"github.com/spf13/cobra"

	"lunchfinder/discovery/internal/app"
)

var detailsCmd = &cobra.Command{
	Use:   "details [place-id]",
	Short: "Fetch full details for one place",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			detail, err := a.Places.GetDetails(ctx, args[0])
			if err != nil {
				return err
			}
			detail.IsFavorite = a.Favorites.IsFavorite(detail.ID)
			return printJSON(cmd.OutOrStdout(), detail)
		})
	},
}
