package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/crewsched/crewsched/internal/config"
	"github.com/crewsched/crewsched/internal/store"
)

func newSendCmd() *cobra.Command {
	var (
		from   string
		taskID string
	)

	cmd := &cobra.Command{
		Use:   "send <receiver> <message>",
		Short: "Append a message to a subject's mailbox",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := store.Open(config.MustDirFrom(cmd.Context()))
			if err != nil {
				return err
			}
			var tid *string
			if taskID != "" {
				tid = &taskID
			}
			msg, err := st.SendMessage(cmd.Context(), from, args[0], args[1], tid)
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "sent seq %d to %s\n", msg.Seq, msg.Receiver)
			return nil
		},
	}

	cmd.Flags().StringVar(&from, "from", "human", "Sender id")
	cmd.Flags().StringVar(&taskID, "task", "", "Related task id")
	return cmd
}

func newInboxCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "inbox <receiver>",
		Short: "Show a subject's most recent messages",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := store.Open(config.MustDirFrom(cmd.Context()))
			if err != nil {
				return err
			}
			msgs, err := st.GetInbox(args[0], limit)
			if err != nil {
				return err
			}
			for _, m := range msgs {
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "#%d %s -> %s: %s\n", m.Seq, m.Sender, m.Receiver, m.Content)
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum messages to show")
	return cmd
}
