package main

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/scrypster/chatmem/pkg/types"
)

var listIdentity string

var (
	// Styles
	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("62")).
			Padding(0, 1)

	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("212"))

	idStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("240")).
		Italic(true)

	countStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("42")).
			Bold(true)

	dateStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("243"))

	kindStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("135")).
			Italic(true)

	successStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("42")).
			Bold(true)
)

// identityRow is one line of the identity table.
type identityRow struct {
	Identity types.Identity
	Sessions int
	Memories int
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List identities, or the sessions of one identity",
	Long: `List every known identity with its session and memory counts.

With --identity the sessions of that identity are listed instead, most
recently updated first.`,
	Args: cobra.NoArgs,
	RunE: runList,
}

func init() {
	listCmd.Flags().StringVarP(&listIdentity, "identity", "i", "", "List the sessions of this identity")
}

func runList(cmd *cobra.Command, args []string) error {
	s, err := loadStack(false)
	if err != nil {
		return err
	}
	defer s.Close()

	ctx := context.Background()
	if err := s.loadSnapshot(ctx); err != nil {
		return err
	}

	out := cmd.OutOrStdout()

	if listIdentity != "" {
		if _, err := s.engine.Identity(listIdentity); err != nil {
			return fmt.Errorf("identity %s: %w", listIdentity, err)
		}
		sessions, err := s.engine.ListSessions(ctx, listIdentity)
		if err != nil {
			return err
		}
		displaySessions(out, sessions)
		return nil
	}

	identities := s.engine.Identities()
	rows := make([]identityRow, 0, len(identities))
	for _, ident := range identities {
		sessions, err := s.engine.ListSessions(ctx, ident.ID)
		if err != nil {
			return err
		}
		memories, err := s.engine.ListMemories(ctx, ident.ID)
		if err != nil {
			return err
		}
		rows = append(rows, identityRow{Identity: ident, Sessions: len(sessions), Memories: len(memories)})
	}
	displayIdentities(out, rows)
	return nil
}

func displayIdentities(out io.Writer, rows []identityRow) {
	if len(rows) == 0 {
		fmt.Fprintln(out, headerStyle.Render("No identities found"))
		return
	}

	fmt.Fprintln(out, headerStyle.Render(fmt.Sprintf("Found %d identit%s", len(rows), plural(len(rows), "y", "ies"))))
	fmt.Fprintln(out)

	w := tabwriter.NewWriter(out, 0, 0, 3, ' ', 0)
	_, _ = fmt.Fprintln(w, titleStyle.Render("ID")+"\t"+titleStyle.Render("Kind")+"\t"+titleStyle.Render("Label")+"\t"+titleStyle.Render("Sessions")+"\t"+titleStyle.Render("Memories")+"\t"+titleStyle.Render("Created")+"\t")
	_, _ = fmt.Fprintln(w, strings.Repeat("─", 90))

	for _, row := range rows {
		label := row.Identity.DisplayLabel
		if row.Identity.Email != "" {
			label = row.Identity.Email
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t\n",
			idStyle.Render(row.Identity.ID),
			kindStyle.Render(string(row.Identity.Kind)),
			truncate(label, 40),
			countStyle.Render(strconv.Itoa(row.Sessions)),
			countStyle.Render(strconv.Itoa(row.Memories)),
			dateStyle.Render(formatWhen(row.Identity.CreatedAt, time.Now())),
		)
	}
	_ = w.Flush()
}

func displaySessions(out io.Writer, sessions []types.Session) {
	if len(sessions) == 0 {
		fmt.Fprintln(out, headerStyle.Render("No sessions found"))
		return
	}

	fmt.Fprintln(out, headerStyle.Render(fmt.Sprintf("Found %d session%s", len(sessions), plural(len(sessions), "", "s"))))
	fmt.Fprintln(out)

	w := tabwriter.NewWriter(out, 0, 0, 3, ' ', 0)
	_, _ = fmt.Fprintln(w, titleStyle.Render("ID")+"\t"+titleStyle.Render("Title")+"\t"+titleStyle.Render("Messages")+"\t"+titleStyle.Render("Updated")+"\t")
	_, _ = fmt.Fprintln(w, strings.Repeat("─", 90))

	now := time.Now()
	for _, sess := range sessions {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t\n",
			idStyle.Render(sess.ID),
			truncate(sess.Title, 50),
			countStyle.Render(strconv.Itoa(len(sess.Messages))),
			dateStyle.Render(formatWhen(sess.UpdatedAt, now)),
		)
	}
	_ = w.Flush()

	fmt.Fprintln(out)
	fmt.Fprintln(out, idStyle.Render("Tip: export one with `chatmem export "+sessions[0].ID+" --identity <id>`"))
}

// formatWhen renders t relative to now the way a listing reads best.
func formatWhen(t, now time.Time) string {
	if t.IsZero() {
		return "-"
	}
	diff := now.Sub(t)
	switch {
	case diff < 24*time.Hour:
		return t.Format("Today 15:04")
	case diff < 7*24*time.Hour:
		return t.Format("Mon 15:04")
	case diff < 365*24*time.Hour:
		return t.Format("Jan 02 15:04")
	default:
		return t.Format("2006-01-02")
	}
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}
