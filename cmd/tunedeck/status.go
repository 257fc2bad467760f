package main

import (
	"github.com/spf13/cobra"

	"github.com/mikey-austin/tunedeck/internal/core"
)

func nodesCommand() *cobra.Command {
	var kind string

	cmd := &cobra.Command{
		Use:   "nodes",
		Short: "List nodes announcing presence",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app := fromContext(cmd)
			ctx, cancel := app.withTimeout(cmd)
			defer cancel()

			result, err := app.service.ListNodes(ctx, kind)
			if err != nil {
				return err
			}
			return app.printer.Print(result)
		},
	}
	cmd.Flags().StringVar(&kind, "kind", "", "only list nodes of this kind")

	return cmd
}

func statusCommand() *cobra.Command {
	var watch bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show player status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app := fromContext(cmd)
			if watch {
				return watchStatus(cmd, app)
			}
			ctx, cancel := app.withTimeout(cmd)
			defer cancel()
			result, err := app.service.Status(ctx, app.player)
			if err != nil {
				return err
			}
			return app.printer.Print(result)
		},
	}
	cmd.Flags().BoolVarP(&watch, "watch", "w", false, "watch status updates")

	return cmd
}

// watchStatus prints the current status, then every state and event the
// player publishes until interrupted.
func watchStatus(cmd *cobra.Command, app *app) error {
	ctx := cmd.Context()
	initial, err := func() (core.StatusResult, error) {
		reqCtx, cancel := app.withTimeout(cmd)
		defer cancel()
		return app.service.Status(reqCtx, app.player)
	}()
	if err != nil {
		return err
	}
	if err := app.printer.Print(initial); err != nil {
		return err
	}

	states, events, errs, err := app.service.WatchStatus(ctx, initial.Player.NodeID)
	if err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case state, ok := <-states:
			if !ok {
				return nil
			}
			if err := app.printer.Print(core.StatusResult{Player: initial.Player, State: state}); err != nil {
				return err
			}
		case evt, ok := <-events:
			if !ok {
				return nil
			}
			if err := app.printer.Print(evt); err != nil {
				return err
			}
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			if err != nil {
				return err
			}
		}
	}
}
