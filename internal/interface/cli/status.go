package cli

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/hshk99/autopack/internal/domain/model"
	"github.com/hshk99/autopack/internal/domain/repository"
)

// newStatusCmd prints phase progress for a run
func newStatusCmd(flags *rootFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status <run-id>",
		Short: "Show phase states and counters for a run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := buildContainer(flags)
			if err != nil {
				return err
			}
			defer c.Close()

			runID, err := model.NewRunID(args[0])
			if err != nil {
				return err
			}

			phases, err := c.PhaseRepository().List(cmd.Context(), repository.PhaseFilter{RunID: &runID})
			if err != nil {
				return err
			}
			if len(phases) == 0 {
				fmt.Fprintf(cmd.OutOrStdout(), "no phases recorded for run %s\n", args[0])
				return nil
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "PHASE\tSTATE\tRETRY\tEPOCH\tESCALATION\tLAST FAILURE")
			for _, p := range phases {
				s := p.Snapshot()
				fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%d\t%s\n",
					s.PhaseID, s.State, s.RetryAttempt, s.RevisionEpoch, s.EscalationLevel, s.LastFailureReason)
			}
			w.Flush()

			c.SignalFileWatcher().CheckOnce()
			fmt.Fprintf(cmd.OutOrStdout(), "\nmode: %s\n", c.ModeManager().Mode())
			return nil
		},
	}
	return cmd
}
