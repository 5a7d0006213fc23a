package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/hshk99/autopack/internal/buildinfo"
	infraconfig "github.com/hshk99/autopack/internal/infra/config"
	"github.com/hshk99/autopack/internal/infrastructure/di"
)

// rootFlags are shared across subcommands
type rootFlags struct {
	approvalURL string
	agentBin    string
}

// NewRootCmd builds the autopack command tree
func NewRootCmd() *cobra.Command {
	flags := &rootFlags{}

	rootCmd := &cobra.Command{
		Use:           "autopack",
		Short:         "Phase execution and recovery engine",
		Long:          "autopack drives coding-agent runs phase by phase: it executes fix decisions against a git workspace, keeps durable per-phase state, and records every external side effect in an idempotent ledger.",
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       buildinfo.GetVersion(),
	}

	rootCmd.PersistentFlags().StringVar(&flags.approvalURL, "approval-url", os.Getenv("AUTOPACK_APPROVAL_URL"), "approval/run-status service endpoint")
	rootCmd.PersistentFlags().StringVar(&flags.agentBin, "agent-bin", os.Getenv("AUTOPACK_AGENT_BIN"), "coding-agent CLI binary (empty uses a mock agent)")

	rootCmd.AddCommand(newRunCmd(flags))
	rootCmd.AddCommand(newPhaseCmd(flags))
	rootCmd.AddCommand(newStatusCmd(flags))
	rootCmd.AddCommand(newActionsCmd(flags))
	rootCmd.AddCommand(newKillSwitchCmd(flags))
	rootCmd.AddCommand(newFeedbackCmd(flags))

	return rootCmd
}

// buildContainer loads configuration and wires the engine
func buildContainer(flags *rootFlags) (*di.Container, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return nil, err
	}

	appCfg, err := infraconfig.LoadSettings(cwd)
	if err != nil {
		return nil, fmt.Errorf("load settings: %w", err)
	}

	return di.NewContainer(di.Config{
		AppConfig:       appCfg,
		ApprovalBaseURL: flags.approvalURL,
		AgentBin:        flags.agentBin,
		OutputWriter:    os.Stderr,
	})
}
