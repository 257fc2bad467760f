package main

import (
	"context"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/mikey-austin/tunedeck/internal/core"
)

// transportCommand builds an argument-free playback command.
func transportCommand(use string, short string, fn func(core.Service, context.Context, string) error) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app := fromContext(cmd)
			ctx, cancel := app.withTimeout(cmd)
			defer cancel()

			return fn(app.service, ctx, app.player)
		},
	}
}

func playCommand() *cobra.Command {
	return transportCommand("play", "Start or resume playback", core.Service.Play)
}

func pauseCommand() *cobra.Command {
	return transportCommand("pause", "Pause playback", core.Service.Pause)
}

func toggleCommand() *cobra.Command {
	return transportCommand("toggle", "Toggle playback", core.Service.Toggle)
}

func nextCommand() *cobra.Command {
	return transportCommand("next", "Play the next track", core.Service.Next)
}

func prevCommand() *cobra.Command {
	return transportCommand("prev", "Play the previous track", core.Service.Prev)
}

func selectCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "select <position>",
		Short: "Play a track by its position in the view (from 1)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			position, err := strconv.Atoi(args[0])
			if err != nil {
				return &core.CLIError{Code: core.ExitUsage, Msg: "position must be a number"}
			}
			app := fromContext(cmd)
			ctx, cancel := app.withTimeout(cmd)
			defer cancel()

			return app.service.Select(ctx, app.player, position)
		},
	}
}

func seekCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "seek <position|+delta|-delta>",
		Short: "Seek to seconds or a duration such as 1m30s",
		Example: "  tunedeck seek 90\n" +
			"  tunedeck seek +15s\n" +
			"  tunedeck seek -- -10",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app := fromContext(cmd)
			ctx, cancel := app.withTimeout(cmd)
			defer cancel()

			return app.service.Seek(ctx, app.player, args[0])
		},
	}
}

func volumeCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "vol <0-100|+n|-n>",
		Aliases: []string{"volume"},
		Short:   "Set or adjust volume",
		Example: "  tunedeck vol 40\n" +
			"  tunedeck vol -- -5",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app := fromContext(cmd)
			ctx, cancel := app.withTimeout(cmd)
			defer cancel()

			return app.service.SetVolume(ctx, app.player, args[0])
		},
	}
}
