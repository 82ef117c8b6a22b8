package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

func newChatCmd(opts *rootOptions) *cobra.Command {
	var sessionID string

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Start an interactive chat",
		Long: `Opens an interactive chat. Lines are sent as messages; commands start with a slash.
Type /help for the list of commands.

Example:
  visiontalk chat
  visiontalk chat --session 1718000000000`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			c, err := opts.signIn(ctx)
			if err != nil {
				return err
			}

			shell := NewShell(c, cmd.OutOrStdout())
			if sessionID != "" {
				if _, err := shell.Exec(ctx, "/load "+sessionID); err != nil {
					return err
				}
			} else {
				shell.reset()
			}

			watchCtx, cancel := context.WithCancel(ctx)
			defer cancel()
			go shell.Watch(watchCtx)

			return repl(ctx, shell, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVarP(&sessionID, "session", "s", "", "Open an existing chat instead of the last active one")
	return cmd
}

// repl 逐行读取输入直到 /quit 或 EOF
func repl(ctx context.Context, shell *Shell, in io.Reader, out io.Writer) error {
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 64*1024), 1<<20)

	fmt.Fprintln(out, color.HiBlackString("Type /help for commands."))
	for {
		fmt.Fprint(out, color.GreenString("> "))
		if !scanner.Scan() {
			return scanner.Err()
		}
		quit, err := shell.Exec(ctx, scanner.Text())
		if err != nil {
			fmt.Fprintf(out, "%s %s\n", color.RedString("✗"), err.Error())
		}
		if quit {
			return nil
		}
		if ctx.Err() != nil {
			return nil
		}
	}
}
