package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/aretw0/stepflow/internal/cli"
	"github.com/aretw0/stepflow/internal/presentation/tui"
	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run [flow]",
	Short: "Run a flow interactively in the terminal",
	Long: `Starts a new instance of a flow (or resumes one with --instance) and prompts for
each step. Type 'help' at the prompt for navigation commands.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		sc := cli.NewSignalContext(cmd.Context())
		defer sc.Cancel()

		app, err := loadApp(sc, cmd)
		if err != nil {
			return err
		}
		defer app.Close(sc)

		instanceID, _ := cmd.Flags().GetString("instance")
		rawContext, _ := cmd.Flags().GetString("context")
		quiet, _ := cmd.Flags().GetBool("quiet")

		if instanceID == "" {
			if len(args) == 0 {
				return fmt.Errorf("name a flow to run (one of %v) or pass --instance", app.Flows.Names())
			}
			params := map[string]any{}
			if rawContext != "" {
				if err := json.Unmarshal([]byte(rawContext), &params); err != nil {
					return fmt.Errorf("--context must be a JSON object: %w", err)
				}
			}
			state, err := app.Manager.Start(sc, args[0], params)
			if err != nil {
				return err
			}
			instanceID = state.InstanceID
		}

		interactive := cli.IsInteractive(os.Stdout)
		if interactive && !quiet {
			tui.PrintBanner(cmd.OutOrStdout())
		}

		opts := []cli.RunnerOption{
			cli.WithRunnerLogger(app.Logger),
			cli.WithAutoAdvanceDelay(app.Config.UI.AutoAdvanceDelay),
		}
		if !quiet {
			render, err := tui.NewRenderer(app.Config.UI.Color && interactive)
			if err != nil {
				return err
			}
			opts = append(opts, cli.WithRenderer(render))
		}

		in := cli.NewInterruptibleReader(os.Stdin, sc.Done())
		runner := cli.NewRunner(app.Manager, in, cmd.OutOrStdout(), opts...)
		_, err = runner.Run(sc, instanceID)
		if sig := sc.Signal(); sig != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "\n>>> Interrupted (%v). Resume with --instance %s\n", sig, instanceID)
		}
		return cli.HandleExecutionError(err)
	},
}

func init() {
	rootCmd.AddCommand(runCmd)
	runCmd.Flags().String("instance", "", "Resume an existing instance")
	runCmd.Flags().String("context", "", "Host context for a new instance, as a JSON object")
	runCmd.Flags().BoolP("quiet", "q", false, "Skip the banner and print markdown unrendered")
}
