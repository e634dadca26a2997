package main

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

var instancesCmd = &cobra.Command{
	Use:     "instances",
	Aliases: []string{"instance"},
	Short:   "Manage stored flow instances",
	Long:    `List, inspect and remove instance snapshots held by the configured store.`,
}

var instancesLsCmd = &cobra.Command{
	Use:   "ls",
	Short: "List stored instances",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		app, err := loadApp(ctx, cmd)
		if err != nil {
			return err
		}
		defer app.Close(context.WithoutCancel(ctx))

		ids, err := app.Manager.List(ctx)
		if err != nil {
			return fmt.Errorf("list instances: %w", err)
		}
		out := cmd.OutOrStdout()
		if len(ids) == 0 {
			fmt.Fprintln(out, "No stored instances.")
			return nil
		}
		for _, id := range ids {
			state, err := app.Manager.Load(ctx, id)
			if err != nil {
				fmt.Fprintf(out, "- %s (unreadable: %v)\n", id, err)
				continue
			}
			fmt.Fprintf(out, "- %s  %s  %s at %s\n", id, state.FlowID, state.Status, state.CurrentStep())
		}
		return nil
	},
}

var instancesInspectCmd = &cobra.Command{
	Use:   "inspect <instance-id>",
	Short: "Print the snapshot of an instance",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		app, err := loadApp(ctx, cmd)
		if err != nil {
			return err
		}
		defer app.Close(context.WithoutCancel(ctx))

		state, err := app.Manager.Load(ctx, args[0])
		if err != nil {
			return fmt.Errorf("load instance '%s': %w", args[0], err)
		}
		data, err := json.MarshalIndent(state, "", "  ")
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(data))
		return nil
	},
}

var instancesRmCmd = &cobra.Command{
	Use:   "rm <instance-id>...",
	Short: "Remove one or more instances",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		app, err := loadApp(ctx, cmd)
		if err != nil {
			return err
		}
		defer app.Close(context.WithoutCancel(ctx))

		failed := 0
		for _, id := range args {
			if err := app.Manager.Delete(ctx, id); err != nil {
				fmt.Fprintf(cmd.OutOrStdout(), "Error removing '%s': %v\n", id, err)
				failed++
				continue
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Removed instance '%s'\n", id)
		}
		if failed > 0 {
			return fmt.Errorf("%d instances could not be removed", failed)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(instancesCmd)
	instancesCmd.AddCommand(instancesLsCmd)
	instancesCmd.AddCommand(instancesInspectCmd)
	instancesCmd.AddCommand(instancesRmCmd)
}
