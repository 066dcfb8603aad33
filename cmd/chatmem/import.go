package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/scrypster/chatmem/internal/transcript"
)

var (
	importIdentity string
	importSession  string
	importFormat   string
)

var importCmd = &cobra.Command{
	Use:   "import FILE",
	Short: "Merge a guest transcript into a session",
	Long: `Merge a transcript file (json, jsonl or yaml) into a session.

Messages already present in the session are skipped, so importing the same
file twice is harmless. Without --identity a new guest identity is issued and
printed. Without --session the file's session_id is used, or a new session.

Run it against a stopped server: a running server overwrites the snapshot
with its own state.`,
	Args: cobra.ExactArgs(1),
	RunE: runImport,
}

func init() {
	importCmd.Flags().StringVarP(&importIdentity, "identity", "i", "", "Identity that owns the session (default: new guest)")
	importCmd.Flags().StringVarP(&importSession, "session", "s", "", "Target session ID")
	importCmd.Flags().StringVarP(&importFormat, "format", "f", "", "Input format: json, jsonl, yaml (default: from file extension)")
}

func runImport(cmd *cobra.Command, args []string) error {
	path := args[0]

	format := importFormat
	if format == "" {
		format = transcript.FormatFromPath(path)
	}

	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open transcript: %w", err)
	}
	defer f.Close()

	tr, err := transcript.Decode(f, format)
	if err != nil {
		return err
	}
	if len(tr.Messages) == 0 {
		return errors.New("transcript has no messages")
	}

	s, err := loadStack(false)
	if err != nil {
		return err
	}
	defer s.Close()

	ctx := context.Background()
	if err := s.loadSnapshot(ctx); err != nil {
		return err
	}

	scope := importIdentity
	if scope == "" {
		scope = s.engine.NewGuest().ID
	} else if _, err := s.engine.Identity(scope); err != nil {
		return fmt.Errorf("identity %s: %w", scope, err)
	}

	target := importSession
	if target == "" {
		target = tr.SessionID
	}
	if target == "" {
		target = uuid.New().String()
	}

	result, err := s.engine.MergeTranscript(ctx, scope, target, tr.Messages)
	if err != nil {
		return fmt.Errorf("failed to merge transcript: %w", err)
	}
	if err := s.engine.Flush(ctx); err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, successStyle.Render(fmt.Sprintf("✓ Merged into %q", result.Title)))
	fmt.Fprintf(out, "  identity: %s\n", idStyle.Render(scope))
	fmt.Fprintf(out, "  session:  %s\n", idStyle.Render(result.SessionID))
	fmt.Fprintf(out, "  appended: %s, skipped: %s\n",
		countStyle.Render(fmt.Sprint(result.Appended)), countStyle.Render(fmt.Sprint(result.Skipped)))
	return nil
}
