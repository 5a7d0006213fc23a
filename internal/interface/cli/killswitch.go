package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// newKillSwitchCmd engages and releases the file-based kill switch
func newKillSwitchCmd(flags *rootFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "killswitch",
		Short: "Control the kill switch signal file",
	}
	cmd.AddCommand(newKillSwitchEngageCmd(flags))
	cmd.AddCommand(newKillSwitchReleaseCmd(flags))
	return cmd
}

func newKillSwitchEngageCmd(flags *rootFlags) *cobra.Command {
	var reason string

	cmd := &cobra.Command{
		Use:   "engage",
		Short: "Write the signal file, halting all autonomous activity",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := buildContainer(flags)
			if err != nil {
				return err
			}
			defer c.Close()

			engagedBy, _ := os.Hostname()
			if err := c.SignalFileWatcher().Engage(reason, engagedBy); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "kill switch engaged: %s\n", c.AppConfig().SignalFilePath())
			return nil
		},
	}

	cmd.Flags().StringVar(&reason, "reason", "manual stop", "reason recorded in the signal file")
	return cmd
}

func newKillSwitchReleaseCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "release",
		Short: "Remove the signal file (engine resumes in shadow mode)",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := buildContainer(flags)
			if err != nil {
				return err
			}
			defer c.Close()

			if err := c.SignalFileWatcher().Disengage(); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "kill switch released; next run starts in shadow mode")
			return nil
		},
	}
}
