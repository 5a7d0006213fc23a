package cli

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

// newActionsCmd inspects and exports the external action ledger
func newActionsCmd(flags *rootFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "actions",
		Short: "Inspect the external action ledger",
	}
	cmd.AddCommand(newActionsListCmd(flags))
	cmd.AddCommand(newActionsExportCmd(flags))
	return cmd
}

func newActionsListCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "list <run-id>",
		Short: "List actions recorded for a run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := buildContainer(flags)
			if err != nil {
				return err
			}
			defer c.Close()

			actions, err := c.ActionRepository().ListByRun(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if len(actions) == 0 {
				fmt.Fprintf(cmd.OutOrStdout(), "no actions recorded for run %s\n", args[0])
				return nil
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "KEY\tPROVIDER\tACTION\tSTATUS\tRETRIES")
			for _, a := range actions {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d/%d\n",
					a.IdempotencyKey, a.Provider, a.Action, a.Status, a.RetryCount, a.MaxRetries)
			}
			return w.Flush()
		},
	}
}

func newActionsExportCmd(flags *rootFlags) *cobra.Command {
	var outputDir string

	cmd := &cobra.Command{
		Use:   "export <run-id>",
		Short: "Export a run's action ledger as a JSON artifact",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := buildContainer(flags)
			if err != nil {
				return err
			}
			defer c.Close()

			path, err := c.ActionLedgerService().ExportRunActions(cmd.Context(), args[0], outputDir)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "exported to %s\n", path)
			return nil
		},
	}

	cmd.Flags().StringVar(&outputDir, "output-dir", "exports", "artifact directory relative to the storage root")
	return cmd
}
