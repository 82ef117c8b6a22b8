package cli

import (
	"fmt"
	"text/tabwriter"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

func newSessionsCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "List previous chats",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := opts.signIn(cmd.Context())
			if err != nil {
				return err
			}

			history := c.Chat.History()
			if len(history) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No previous chats.")
				return nil
			}

			active := c.Chat.ActiveSessionID()
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tCREATED\tMESSAGES\t")
			for _, s := range history {
				id := s.ID
				if id == active {
					id = color.GreenString(id + " *")
				}
				fmt.Fprintf(w, "%s\t%s\t%d\t\n", id, s.CreatedAt.Local().Format("2006-01-02 15:04"), len(s.Messages))
			}
			return w.Flush()
		},
	}

	deleteCmd := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a chat and its messages",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := opts.signIn(cmd.Context())
			if err != nil {
				return err
			}
			if err := c.Chat.DeleteSession(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s Deleted %s\n", color.GreenString("✓"), args[0])
			return nil
		},
	}

	cmd.AddCommand(deleteCmd)
	return cmd
}
