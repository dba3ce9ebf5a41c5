package cmd

import (
	"context"
	"fmt"
	"strings"

	"github.com/mattn/go-runewidth"
	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/agentroute/internal/config"
	"github.com/nextlevelbuilder/agentroute/internal/sessions"
	"github.com/nextlevelbuilder/agentroute/internal/store"
)

func sessionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "Inspect and manage stored sessions",
	}
	cmd.AddCommand(sessionsListCmd())
	cmd.AddCommand(sessionsGetCmd())
	cmd.AddCommand(sessionsRenameCmd())
	cmd.AddCommand(sessionsResetCmd())
	cmd.AddCommand(sessionsDeleteCmd())
	return cmd
}

// withSessionStore loads the config and opens the store for one CLI
// invocation. The sqlite database tolerates a concurrently running
// gateway (WAL + busy timeout).
func withSessionStore(fn func(ctx context.Context, st store.SessionStore) error) error {
	setupLogging()
	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		return err
	}
	st, err := openSessionStore(cfg)
	if err != nil {
		return err
	}
	defer st.Close()
	return fn(context.Background(), st)
}

func sessionsListCmd() *cobra.Command {
	var agent string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List sessions, most recently active first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSessionStore(func(ctx context.Context, st store.SessionStore) error {
				var (
					entries []*store.SessionEntry
					err     error
				)
				if agent != "" {
					entries, err = st.ListByAgent(ctx, agent)
				} else {
					entries, err = st.List(ctx)
				}
				if err != nil {
					return err
				}
				printSessionTable(entries)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&agent, "agent", "", "only sessions owned by this agent")
	return cmd
}

// printSessionTable renders a fixed-width table. Cell truncation is
// display-width aware so CJK subjects don't break the columns.
func printSessionTable(entries []*store.SessionEntry) {
	if len(entries) == 0 {
		fmt.Println("no sessions")
		return
	}

	type col struct {
		title string
		width int
		value func(*store.SessionEntry) string
	}
	cols := []col{
		{"NAME", 24, func(e *store.SessionEntry) string { return e.Name }},
		{"AGENT", 12, func(e *store.SessionEntry) string { return e.AgentID }},
		{"CHANNEL", 10, func(e *store.SessionEntry) string { return e.Channel }},
		{"TYPE", 7, func(e *store.SessionEntry) string { return e.ChatType }},
		{"TOKENS", 10, func(e *store.SessionEntry) string { return fmt.Sprintf("%d", e.TotalTokens) }},
		{"UPDATED", 16, func(e *store.SessionEntry) string { return e.UpdatedAt.Local().Format("2006-01-02 15:04") }},
		{"KEY", 44, func(e *store.SessionEntry) string { return e.SessionKey }},
	}

	var header strings.Builder
	for _, c := range cols {
		header.WriteString(pad(c.title, c.width))
		header.WriteString("  ")
	}
	fmt.Println(strings.TrimRight(header.String(), " "))

	for _, e := range entries {
		var row strings.Builder
		for _, c := range cols {
			row.WriteString(pad(c.value(e), c.width))
			row.WriteString("  ")
		}
		fmt.Println(strings.TrimRight(row.String(), " "))
	}
}

// pad truncates s to width display cells (with an ellipsis) and pads it
// to exactly width.
func pad(s string, width int) string {
	if runewidth.StringWidth(s) > width {
		s = runewidth.Truncate(s, width, "…")
	}
	return runewidth.FillRight(s, width)
}

func sessionsGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <session-key>",
		Short: "Show one session in full",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSessionStore(func(ctx context.Context, st store.SessionStore) error {
				e, err := st.Get(ctx, args[0])
				if err != nil {
					return err
				}
				if e == nil {
					return fmt.Errorf("session %s not found", args[0])
				}
				fmt.Printf("key:            %s\n", e.SessionKey)
				fmt.Printf("name:           %s\n", e.Name)
				fmt.Printf("agent:          %s (cwd %s)\n", e.AgentID, e.AgentCwd)
				fmt.Printf("chat:           %s via %s account=%s\n", e.ChatType, e.Channel, e.AccountID)
				if e.Subject != "" {
					fmt.Printf("subject:        %s\n", e.Subject)
				}
				fmt.Printf("sdk session:    %s\n", e.SDKSessionID)
				fmt.Printf("tokens:         in=%d out=%d total=%d context=%d\n",
					e.InputTokens, e.OutputTokens, e.TotalTokens, e.ContextTokens)
				fmt.Printf("flags:          systemSent=%v abortedLastRun=%v compactions=%d\n",
					e.SystemSent, e.AbortedLastRun, e.CompactionCount)
				fmt.Printf("last route:     %s to=%s account=%s thread=%s\n",
					e.LastChannel, e.LastTo, e.LastAccountID, e.LastThreadID)
				fmt.Printf("created:        %s\n", e.CreatedAt.Local().Format("2006-01-02 15:04:05"))
				fmt.Printf("updated:        %s\n", e.UpdatedAt.Local().Format("2006-01-02 15:04:05"))
				return nil
			})
		},
	}
}

func sessionsRenameCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rename <session-key> <new-name>",
		Short: "Rename a session (the name is slugified and re-uniquified)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSessionStore(func(ctx context.Context, st store.SessionStore) error {
				base := sessions.Slugify(args[1])
				if base == "" {
					return fmt.Errorf("name %q slugifies to nothing", args[1])
				}
				name, err := sessions.EnsureUniqueName(ctx, st, base)
				if err != nil {
					return err
				}
				if err := st.SetName(ctx, args[0], name); err != nil {
					return err
				}
				fmt.Printf("renamed to %s\n", name)
				return nil
			})
		},
	}
}

func sessionsResetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reset <session-key>",
		Short: "Clear the SDK binding, flags, and context snapshot",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSessionStore(func(ctx context.Context, st store.SessionStore) error {
				if err := st.Reset(ctx, args[0]); err != nil {
					return err
				}
				fmt.Println("session reset")
				return nil
			})
		},
	}
}

func sessionsDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <session-key>",
		Short: "Delete a session permanently",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSessionStore(func(ctx context.Context, st store.SessionStore) error {
				existed, err := st.Delete(ctx, args[0])
				if err != nil {
					return err
				}
				if !existed {
					fmt.Println("no such session")
					return nil
				}
				fmt.Println("session deleted")
				return nil
			})
		},
	}
}
