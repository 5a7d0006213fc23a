package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// newFeedbackCmd runs one telemetry feedback cycle on demand
func newFeedbackCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "feedback",
		Short: "Run one telemetry feedback cycle immediately",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := buildContainer(flags)
			if err != nil {
				return err
			}
			defer c.Close()

			if err := c.FeedbackDaemon().RunCycle(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "feedback cycle complete")
			return nil
		},
	}
}
