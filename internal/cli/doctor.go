package cli

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/crewsched/crewsched/internal/config"
	"github.com/crewsched/crewsched/internal/store"
)

func newDoctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Verify the run directory is usable",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := config.MustDirFrom(cmd.Context())
			var problems []string

			st, err := store.Open(dir)
			if err != nil {
				problems = append(problems, fmt.Sprintf("cannot open run directory %s: %v", dir, err))
			} else {
				if _, err := st.ListTasks(); err != nil {
					problems = append(problems, fmt.Sprintf("state file unreadable: %v", err))
				}
				// A leftover sentinel usually means a crashed writer.
				if _, err := os.Stat(filepath.Join(dir, "state.lock")); err == nil {
					problems = append(problems, "lock sentinel present; another process is writing or a writer crashed")
				}
			}

			if len(problems) > 0 {
				for _, p := range problems {
					_, _ = fmt.Fprintln(cmd.ErrOrStderr(), p)
				}
				return errors.New("doctor checks failed")
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), "ok")
			return nil
		},
	}
}
