package main

import (
	"strings"

	"github.com/spf13/cobra"
)

func playlistsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "playlists",
		Short: "List playlists in the catalog",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app := fromContext(cmd)
			ctx, cancel := app.withTimeout(cmd)
			defer cancel()

			result, err := app.service.Playlists(ctx, app.player)
			if err != nil {
				return err
			}
			return app.printer.Print(result)
		},
	}
}

func lsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "ls",
		Short: "Show the tracks in the player's current view",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app := fromContext(cmd)
			ctx, cancel := app.withTimeout(cmd)
			defer cancel()

			result, err := app.service.View(ctx, app.player)
			if err != nil {
				return err
			}
			return app.printer.Print(result)
		},
	}
}

func loadCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "load <playlist>",
		Short: "Show a playlist on the player",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app := fromContext(cmd)
			ctx, cancel := app.withTimeout(cmd)
			defer cancel()

			return app.service.LoadPlaylist(ctx, app.player, strings.Join(args, " "))
		},
	}
}

func shuffleCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "shuffle",
		Short: "Shuffle the current view",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app := fromContext(cmd)
			ctx, cancel := app.withTimeout(cmd)
			defer cancel()

			return app.service.Shuffle(ctx, app.player)
		},
	}
}

func unshuffleCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "unshuffle",
		Short: "Restore the current view's original order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app := fromContext(cmd)
			ctx, cancel := app.withTimeout(cmd)
			defer cancel()

			return app.service.Unshuffle(ctx, app.player)
		},
	}
}

func allCommand() *cobra.Command {
	var off bool

	cmd := &cobra.Command{
		Use:   "all",
		Short: "Shuffle every song in the catalog",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app := fromContext(cmd)
			ctx, cancel := app.withTimeout(cmd)
			defer cancel()

			return app.service.GlobalShuffle(ctx, app.player, !off)
		},
	}
	cmd.Flags().BoolVar(&off, "off", false, "leave global shuffle")

	return cmd
}

func searchCommand() *cobra.Command {
	var now bool

	cmd := &cobra.Command{
		Use:   "search [query]",
		Short: "Filter the player's view by title",
		Long:  "Filter the player's view by title. An empty query clears the search.",
		Args:  cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app := fromContext(cmd)
			ctx, cancel := app.withTimeout(cmd)
			defer cancel()

			return app.service.Search(ctx, app.player, strings.Join(args, " "), now)
		},
	}
	cmd.Flags().BoolVar(&now, "now", false, "search immediately without debounce")

	return cmd
}

func refreshCommand() *cobra.Command {
	var purge bool

	cmd := &cobra.Command{
		Use:   "refresh",
		Short: "Refetch the catalog",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app := fromContext(cmd)
			ctx, cancel := app.withTimeout(cmd)
			defer cancel()

			return app.service.Refresh(ctx, app.player, purge)
		},
	}
	cmd.Flags().BoolVar(&purge, "purge", false, "drop the local cache first")

	return cmd
}
