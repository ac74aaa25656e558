package main

import (
	"context"

	"github.com/spf13/cobra"

	"lunchfinder/discovery/internal/app"
)

var favoritesCmd = &cobra.Command{
	Use:     "favorites",
	Aliases: []string{"fav"},
	Short:   "Inspect and edit the favorite set",
}

var favoritesListCmd = &cobra.Command{
	Use:   "list",
	Short: "Print favorite place IDs",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withApp(cmd, func(_ context.Context, a *app.App) error {
			return printJSON(cmd.OutOrStdout(), a.Favorites.IDs())
		})
	},
}

var favoritesAddCmd = &cobra.Command{
	Use:   "add [place-id...]",
	Short: "Mark places as favorite",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			for _, id := range args {
				a.Favorites.Add(ctx, id)
			}
			return printJSON(cmd.OutOrStdout(), a.Favorites.IDs())
		})
	},
}

var favoritesRemoveCmd = &cobra.Command{
	Use:   "remove [place-id...]",
	Short: "Unmark favorite places",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			for _, id := range args {
				a.Favorites.Remove(ctx, id)
			}
			return printJSON(cmd.OutOrStdout(), a.Favorites.IDs())
		})
	},
}

var favoritesToggleCmd = &cobra.Command{
	Use:   "toggle [place-id]",
	Short: "Flip the favorite flag of one place",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			now := a.Favorites.Toggle(ctx, args[0])
			return printJSON(cmd.OutOrStdout(), map[string]any{"id": args[0], "isFavorite": now})
		})
	},
}

var favoritesClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Remove every favorite",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			a.Favorites.Clear(ctx)
			return printJSON(cmd.OutOrStdout(), a.Favorites.IDs())
		})
	},
}

func init() {
	favoritesCmd.AddCommand(favoritesListCmd, favoritesAddCmd, favoritesRemoveCmd, favoritesToggleCmd, favoritesClearCmd)
}
