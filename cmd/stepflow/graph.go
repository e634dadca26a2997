package main

import (
	"context"
	"fmt"
	"os"

	"github.com/aretw0/stepflow/internal/presentation/graph"
	"github.com/aretw0/stepflow/internal/runtime"
	"github.com/aretw0/stepflow/pkg/flow"
	"github.com/spf13/cobra"
)

var graphCmd = &cobra.Command{
	Use:   "graph <flow|file>",
	Short: "Print a flow as a Mermaid diagram",
	Long: `Prints a registered flow, or a flow file, as a Mermaid graph. With --instance the
diagram highlights the visited, current and skipped steps of that instance.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		instanceID, _ := cmd.Flags().GetString("instance")

		if _, err := os.Stat(args[0]); err == nil && instanceID == "" {
			def, err := flow.Load(args[0])
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), graph.GenerateMermaid(def, nil))
			return nil
		}

		ctx := cmd.Context()
		app, err := loadApp(ctx, cmd)
		if err != nil {
			return err
		}
		defer app.Close(context.WithoutCancel(ctx))

		def, err := app.Flows.Get(args[0])
		if err != nil {
			return err
		}
		if instanceID == "" {
			fmt.Fprint(cmd.OutOrStdout(), graph.GenerateMermaid(def, nil))
			return nil
		}

		var overlay *graph.Overlay
		_, err = app.Manager.Do(ctx, instanceID, func(_ context.Context, c *runtime.Controller) error {
			if c.Definition().Name != def.Name {
				return fmt.Errorf("instance %s runs flow %q, not %q", instanceID, c.Definition().Name, def.Name)
			}
			overlay = graph.NewOverlay(c.Snapshot(), c.Path())
			return nil
		})
		if err != nil {
			return err
		}
		fmt.Fprint(cmd.OutOrStdout(), graph.GenerateMermaid(def, overlay))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(graphCmd)
	graphCmd.Flags().String("instance", "", "Highlight the progress of an instance")
}
