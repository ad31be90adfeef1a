package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

func mailCmd(g *globals) *cobra.Command {
	var (
		chat  bool
		limit int
	)
	cmd := &cobra.Command{
		Use:   "mail <address|handle>",
		Short: "Show the emails (or chats with --chat) of a mailbox",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(g, cmd, func(a *app) error {
				out := cmd.OutOrStdout()
				if chat {
					msgs, err := a.store.ListChats(args[0], limit)
					if err != nil {
						return err
					}
					if g.jsonOut {
						printJSON(out, map[string]interface{}{"chats": msgs, "count": len(msgs)})
						return nil
					}
					if len(msgs) == 0 {
						fmt.Fprintln(out, "no chats")
					}
					for _, m := range msgs {
						fmt.Fprintf(out, "%s  @%s -> @%s: %s\n", dimLabel(m.SentAt), m.Sender, m.Recipient, m.Body)
					}
					return nil
				}

				emails, err := a.store.ListEmails(args[0], limit)
				if err != nil {
					return err
				}
				if g.jsonOut {
					printJSON(out, map[string]interface{}{"emails": emails, "count": len(emails)})
					return nil
				}
				if len(emails) == 0 {
					fmt.Fprintln(out, "no emails")
				}
				for _, e := range emails {
					fmt.Fprintf(out, "%s  %s -> %s\n", dimLabel(e.SentAt), e.Sender, strings.Join(e.To, ", "))
					if len(e.Cc) > 0 {
						fmt.Fprintf(out, "  cc: %s\n", strings.Join(e.Cc, ", "))
					}
					fmt.Fprintf(out, "  %s\n  %s\n", headLabel(e.Subject), truncate(e.Body, 200))
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&chat, "chat", false, "show chat messages for a handle")
	cmd.Flags().IntVar(&limit, "limit", 20, "max messages")
	return cmd
}
