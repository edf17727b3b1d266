package cli

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/crewsched/crewsched/internal/config"
	"github.com/crewsched/crewsched/internal/store"
)

func newTasksCmd() *cobra.Command {
	var showLog bool

	cmd := &cobra.Command{
		Use:   "tasks",
		Short: "List tasks in the run directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := store.Open(config.MustDirFrom(cmd.Context()))
			if err != nil {
				return err
			}
			tasks, err := st.ListTasks()
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			_, _ = fmt.Fprintln(w, "ID\tSTATUS\tPLAN\tOWNER\tTITLE")
			for _, t := range tasks {
				owner := "-"
				if t.Owner != nil {
					owner = *t.Owner
				}
				_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", t.ID, t.Status, t.PlanStatus, owner, t.Title)
			}
			if err := w.Flush(); err != nil {
				return err
			}
			if showLog {
				for _, t := range tasks {
					for _, e := range t.ProgressLog {
						_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s %s [%s] %s\n",
							e.Timestamp.Format("15:04:05"), t.ID, e.Source, e.Text)
					}
				}
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&showLog, "log", false, "Also print task progress logs")
	return cmd
}
