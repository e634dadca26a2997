package main

import (
	"fmt"

	"github.com/aretw0/stepflow/pkg/flow"
	"github.com/spf13/cobra"
)

var validateCmd = &cobra.Command{
	Use:   "validate <file>...",
	Short: "Validate flow definition files",
	Long:  `Parses each flow file and checks step ids, skip conditions, shortcuts and actions.`,
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		failed := 0
		for _, path := range args {
			def, err := flow.Load(path)
			if err != nil {
				fmt.Fprintf(cmd.OutOrStdout(), "✗ %v\n", err)
				failed++
				continue
			}
			fmt.Fprintf(cmd.OutOrStdout(), "✓ %s: flow %q with %d steps\n", path, def.Name, len(def.Steps))
		}
		if failed > 0 {
			return fmt.Errorf("%d of %d flow files are invalid", failed, len(args))
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(validateCmd)
}
