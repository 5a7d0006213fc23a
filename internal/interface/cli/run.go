package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/hshk99/autopack/internal/application/usecase/loop"
)

// newRunCmd drives a full run through the autonomous loop
func newRunCmd(flags *rootFlags) *cobra.Command {
	var (
		pollInterval  time.Duration
		maxIterations int
		stopOnFailure bool
		active        bool
	)

	cmd := &cobra.Command{
		Use:   "run <run-id>",
		Short: "Execute queued phases of a run autonomously",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			runID := args[0]

			c, err := buildContainer(flags)
			if err != nil {
				return err
			}
			defer c.Close()

			if c.AutonomousLoop() == nil {
				return fmt.Errorf("no git workspace configured; set AUTOPACK_WORKSPACE")
			}

			ctx := cmd.Context()
			c.Start(ctx)

			if active {
				if !c.ModeManager().Enable("run command --active") {
					return fmt.Errorf("kill switch engaged; refusing to run active")
				}
			}

			// Reclaim phases a crashed predecessor left EXECUTING
			reclaimed, err := c.PhaseStateManager().ResetStalePhases(ctx, c.AppConfig().StaleTimeout())
			if err != nil {
				return err
			}
			if reclaimed > 0 {
				fmt.Fprintf(cmd.OutOrStdout(), "reclaimed %d stale phase(s)\n", reclaimed)
			}

			summary, err := c.AutonomousLoop().Run(ctx, loop.Options{
				RunID:              runID,
				PollInterval:       pollInterval,
				MaxIterations:      maxIterations,
				StopOnFirstFailure: stopOnFailure,
				PhaseDeadline:      c.AppConfig().PhaseTimeout(),
				MaxAttempts:        c.AppConfig().MaxRetryAttempts(),
			})
			if summary != nil {
				fmt.Fprintf(cmd.OutOrStdout(),
					"run %s: %d iteration(s), %d phase(s) executed, %d completed, %d failed, %d tokens (%s)\n",
					runID, summary.Iterations, summary.PhasesExecuted, summary.PhasesCompleted,
					summary.PhasesFailed, summary.TokensUsed, summary.Stopped)
			}
			return err
		},
	}

	cmd.Flags().DurationVar(&pollInterval, "poll-interval", time.Second, "idle poll interval")
	cmd.Flags().IntVar(&maxIterations, "max-iterations", loop.DefaultMaxIterations, "iteration safety ceiling")
	cmd.Flags().BoolVar(&stopOnFailure, "stop-on-first-failure", false, "halt at the first failed phase")
	cmd.Flags().BoolVar(&active, "active", false, "enable side effects (default is shadow mode)")

	return cmd
}
