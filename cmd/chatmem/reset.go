package main

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/spf13/cobra"

	"github.com/scrypster/chatmem/internal/notify"
)

var (
	resetIdentity string
	resetAll      bool
)

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Clear the sessions and memories of one identity, or of every identity",
	Long: `Clear persisted sessions and memories.

With --identity only that identity's sessions and memories are removed; the
identity itself is kept. With --all the same is done for every identity. A running server picks up the same request from the data directory.`,
	Args: cobra.NoArgs,
	RunE: runReset,
}

func init() {
	resetCmd.Flags().StringVarP(&resetIdentity, "identity", "i", "", "Identity whose data should be cleared")
	resetCmd.Flags().BoolVar(&resetAll, "all", false, "Clear every identity")
	resetCmd.MarkFlagsMutuallyExclusive("identity", "all")
}

func runReset(cmd *cobra.Command, args []string) error {
	if resetIdentity == "" && !resetAll {
		return errors.New("either --identity or --all is required")
	}

	s, err := loadStack(false)
	if err != nil {
		return err
	}
	defer s.Close()

	ctx := context.Background()
	out := cmd.OutOrStdout()

	if s.sink != nil {
		if err := s.loadSnapshot(ctx); err != nil {
			return err
		}
		if resetAll {
			err = s.engine.ResetEverything(ctx)
		} else {
			if _, lookupErr := s.engine.Identity(resetIdentity); lookupErr != nil {
				return fmt.Errorf("identity %s: %w", resetIdentity, lookupErr)
			}
			err = s.engine.ResetAll(ctx, resetIdentity)
		}
		if err != nil {
			return err
		}
		if err := s.engine.Flush(ctx); err != nil {
			return err
		}
	}

	action, scope := notify.ActionResetScope, resetIdentity
	if resetAll {
		action, scope = notify.ActionResetAll, ""
	}
	if err := notify.NewRequestWriter(s.cfg.Storage.DataPath).Send(action, scope); err != nil {
		log.Printf("WARNING: Failed to notify running server: %v", err)
	}

	if resetAll {
		fmt.Fprintln(out, successStyle.Render("✓ Cleared sessions and memories of every identity"))
	} else {
		fmt.Fprintln(out, successStyle.Render(fmt.Sprintf("✓ Cleared sessions and memories of %s", resetIdentity)))
	}
	return nil
}
