package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/scrypster/chatmem/internal/transcript"
)

var (
	exportIdentity string
	exportFormat   string
	exportOutput   string
)

var exportCmd = &cobra.Command{
	Use:   "export SESSION",
	Short: "Export a session to a file",
	Long: `Export one session in jsonl, md, yaml or json.

The session is written to stdout unless --out names a file. Use
'chatmem list --identity <id>' to see session IDs.`,
	Args: cobra.ExactArgs(1),
	RunE: runExport,
}

func init() {
	exportCmd.Flags().StringVarP(&exportIdentity, "identity", "i", "", "Identity that owns the session (required)")
	exportCmd.Flags().StringVarP(&exportFormat, "format", "f", "json", "Export format: jsonl, md, yaml, json")
	exportCmd.Flags().StringVarP(&exportOutput, "out", "o", "", "Output file (default: stdout)")
	_ = exportCmd.MarkFlagRequired("identity")
}

func runExport(cmd *cobra.Command, args []string) error {
	// Reject a bad format before touching storage.
	exporter, err := transcript.NewExporter(exportFormat)
	if err != nil {
		return err
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

	session, err := s.engine.GetSession(ctx, exportIdentity, args[0])
	if err != nil {
		return fmt.Errorf("session %s: %w", args[0], err)
	}

	var w io.Writer = cmd.OutOrStdout()
	if exportOutput != "" {
		f, err := os.Create(exportOutput)
		if err != nil {
			return fmt.Errorf("failed to create output file: %w", err)
		}
		defer f.Close()
		w = f
	}

	if err := exporter.Export(session, w); err != nil {
		return fmt.Errorf("failed to export session: %w", err)
	}

	if exportOutput != "" {
		fmt.Fprintln(cmd.OutOrStdout(), successStyle.Render(fmt.Sprintf("✓ Exported %d message(s) to %s", len(session.Messages), exportOutput)))
	}
	return nil
}
