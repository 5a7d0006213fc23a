package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/hshk99/autopack/internal/application/usecase/execution"
)

// newPhaseCmd runs a single phase through the orchestrator
func newPhaseCmd(flags *rootFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "phase",
		Short: "Operate on individual phases",
	}
	cmd.AddCommand(newPhaseRunCmd(flags))
	return cmd
}

func newPhaseRunCmd(flags *rootFlags) *cobra.Command {
	var objective string

	cmd := &cobra.Command{
		Use:   "run <run-id> <phase-id>",
		Short: "Execute one phase to a terminal result",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := buildContainer(flags)
			if err != nil {
				return err
			}
			defer c.Close()

			if c.RunPhaseUseCase() == nil {
				return fmt.Errorf("no git workspace configured; set AUTOPACK_WORKSPACE")
			}

			ctx := cmd.Context()
			c.Start(ctx)

			result, err := c.RunPhaseUseCase().Execute(ctx, execution.ExecutionContext{
				Spec: execution.PhaseSpec{
					RunID:     args[0],
					PhaseID:   args[1],
					Objective: objective,
				},
				MaxAttempts: c.AppConfig().MaxRetryAttempts(),
				Deadline:    c.AppConfig().PhaseTimeout(),
			})
			if result != nil {
				fmt.Fprintf(cmd.OutOrStdout(), "phase %s: %s (%s) after %d attempt(s)\n",
					args[1], result.PhaseResult, result.Status, result.Attempts)
				if result.LastError != "" {
					fmt.Fprintf(cmd.OutOrStdout(), "last error: %s\n", result.LastError)
				}
			}
			return err
		},
	}

	cmd.Flags().StringVar(&objective, "objective", "", "phase objective handed to the builder")
	return cmd
}
