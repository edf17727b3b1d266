package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/crewsched/crewsched/internal/config"
	"github.com/crewsched/crewsched/internal/store"
)

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show task counts for the run directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := store.Open(config.MustDirFrom(cmd.Context()))
			if err != nil {
				return err
			}
			sum, err := st.StatusSummary()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			_, _ = fmt.Fprintf(out, "total:          %d\n", sum.Total())
			_, _ = fmt.Fprintf(out, "pending:        %d\n", sum.Pending)
			_, _ = fmt.Fprintf(out, "in_progress:    %d\n", sum.InProgress)
			_, _ = fmt.Fprintf(out, "needs_approval: %d\n", sum.NeedsApproval)
			_, _ = fmt.Fprintf(out, "blocked:        %d\n", sum.Blocked)
			_, _ = fmt.Fprintf(out, "completed:      %d\n", sum.Completed)
			return nil
		},
	}
}
