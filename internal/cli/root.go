// Package cli wires the crewsched commands: run, status, tasks, send, inbox,
// and doctor.
package cli

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/crewsched/crewsched/internal/config"
)

func NewRootCmd(version string) *cobra.Command {
	var dirOverride string

	cmd := &cobra.Command{
		Use:          "crewsched",
		Short:        "crewsched — round-based crew scheduler for plan-gated task graphs",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			dir, err := config.ResolveDir(dirOverride)
			if err != nil {
				return err
			}
			cmd.SetContext(config.WithDir(cmd.Context(), dir))
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&dirOverride, "dir", "", "Run directory (default: ./.crewsched, env: CREWSCHED_DIR)")

	cmd.AddCommand(newRunCmd())
	cmd.AddCommand(newStatusCmd())
	cmd.AddCommand(newTasksCmd())
	cmd.AddCommand(newSendCmd())
	cmd.AddCommand(newInboxCmd())
	cmd.AddCommand(newDoctorCmd())

	cmd.SetOut(os.Stdout)
	cmd.SetErr(os.Stderr)

	cmd.SetVersionTemplate("{{.Version}}\n")
	if version != "" {
		cmd.Version = version
	} else {
		cmd.Version = "dev"
	}

	return cmd
}
