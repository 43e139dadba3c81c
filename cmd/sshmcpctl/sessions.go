package main

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/nullstream/sshmcp/internal/localctl"
	"github.com/nullstream/sshmcp/internal/registry"
)

func newSessionsCmd(root *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "Inspect sessions held by a running sshmcpd",
	}
	cmd.AddCommand(newSessionsListCmd(root))
	cmd.AddCommand(newSessionsWatchCmd(root))
	return cmd
}

func newSessionsListCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "Print the daemon's current session table once",
		RunE: func(cmd *cobra.Command, _ []string) error {
			sessions, err := localctl.NewClient(root.controlSock).ListSessions()
			if err != nil {
				return fmt.Errorf("query control socket: %w", err)
			}
			printSessionTable(os.Stdout, sessions)
			return nil
		},
	}
}

func printSessionTable(w *os.File, sessions []registry.Info) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tHOST\tUSER\tSERVER\tSTATE\tLAST ACTIVE")
	for _, s := range sessions {
		fmt.Fprintf(tw, "%s\t%s:%d\t%s\t%s\t%s\t%s\n",
			shortID(s.ID), s.Host, s.Port, s.Username, s.ServerName, s.State, s.LastActive.Format(time.RFC3339))
	}
	tw.Flush()
}

func shortID(id string) string {
	if len(id) <= 8 {
		return id
	}
	return id[:8]
}

// newSessionsWatchCmd renders a live-updating session table, following the
// teacher's cmd/xrunner-tui model/Init/Update/View shape but polling the
// control socket on a ticker instead of streaming gRPC events.
func newSessionsWatchCmd(root *rootOptions) *cobra.Command {
	var interval time.Duration
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Continuously render the daemon's session table",
		RunE: func(cmd *cobra.Command, _ []string) error {
			m := watchModel{
				client:   localctl.NewClient(root.controlSock),
				interval: interval,
			}
			p := tea.NewProgram(m, tea.WithAltScreen())
			_, err := p.Run()
			return err
		},
	}
	cmd.Flags().DurationVar(&interval, "interval", 2*time.Second, "poll interval")
	return cmd
}

type watchModel struct {
	client   *localctl.Client
	interval time.Duration
	sessions []registry.Info
	status   string
}

type sessionsMsg struct {
	sessions []registry.Info
	err      error
}

func (m watchModel) Init() tea.Cmd {
	return m.pollCmd()
}

func (m watchModel) pollCmd() tea.Cmd {
	return tea.Tick(m.interval, func(time.Time) tea.Msg {
		sessions, err := m.client.ListSessions()
		return sessionsMsg{sessions: sessions, err: err}
	})
}

func (m watchModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch t := msg.(type) {
	case tea.KeyMsg:
		switch t.String() {
		case "q", "ctrl+c", "esc":
			return m, tea.Quit
		}
	case sessionsMsg:
		if t.err != nil {
			m.status = "error: " + t.err.Error()
		} else {
			m.sessions = t.sessions
			m.status = fmt.Sprintf("%d session(s) | updated %s", len(t.sessions), time.Now().Format("15:04:05"))
		}
		return m, m.pollCmd()
	}
	return m, nil
}

var watchHeaderStyle = lipgloss.NewStyle().Bold(true).Underline(true)

func (m watchModel) View() string {
	header := watchHeaderStyle.Render("sshmcpd sessions") + "  (q to quit)\n\n"
	body := fmt.Sprintf("%-10s %-24s %-12s %-10s %s\n", "ID", "HOST", "USER", "STATE", "LAST ACTIVE")
	for _, s := range m.sessions {
		body += fmt.Sprintf("%-10s %-24s %-12s %-10s %s\n",
			shortID(s.ID), fmt.Sprintf("%s:%d", s.Host, s.Port), s.Username, s.State,
			s.LastActive.Format(time.RFC3339))
	}
	return header + body + "\n" + m.status + "\n"
}
