package main

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/scrypster/chatmem/internal/backup"
	"github.com/scrypster/chatmem/internal/config"
)

var backupCmd = &cobra.Command{
	Use:   "backup",
	Short: "Back up the snapshot database",
	Long: `Write a verified copy of the sqlite snapshot database into
<data>/backups. Old copies are pruned: 24 from the last day, 7 from the last
week and 4 from the last month are kept.

Set CHATMEM_BACKUP_INTERVAL (for example 6h) to have the server do this on
a schedule.`,
	Args: cobra.NoArgs,
	RunE: runBackup,
}

var backupListCmd = &cobra.Command{
	Use:   "list",
	Short: "List backups, newest first",
	Args:  cobra.NoArgs,
	RunE:  runBackupList,
}

var backupRestoreCmd = &cobra.Command{
	Use:   "restore NAME",
	Short: "Replace the snapshot database with a backup",
	Long: `Replace the snapshot database with the named backup.

Stop the server first: it keeps the database open and would overwrite the
restored state with its own on the next snapshot.`,
	Args: cobra.ExactArgs(1),
	RunE: runBackupRestore,
}

func init() {
	backupCmd.AddCommand(backupListCmd, backupRestoreCmd)
}

// newBackupManager builds a manager for the configured sqlite database.
func newBackupManager(cfg *config.Config) (*backup.Manager, error) {
	if cfg.Storage.StorageEngine != "sqlite" {
		return nil, fmt.Errorf("backups need the sqlite storage engine, not %q", cfg.Storage.StorageEngine)
	}
	return backup.NewManager(backup.Config{
		DBPath:   sqlitePath(cfg),
		Dir:      filepath.Join(cfg.Storage.DataPath, "backups"),
		Interval: cfg.Storage.BackupInterval,
		Verify:   true,
	})
}

func loadBackupManager() (*backup.Manager, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return newBackupManager(cfg)
}

func runBackup(cmd *cobra.Command, args []string) error {
	m, err := loadBackupManager()
	if err != nil {
		return err
	}

	info, err := m.Backup(context.Background())
	if err != nil {
		return err
	}

	fmt.Fprintln(cmd.OutOrStdout(), successStyle.Render(
		fmt.Sprintf("✓ Wrote %s (%s)", info.Name, humanize.Bytes(uint64(info.Size)))))
	return nil
}

func runBackupList(cmd *cobra.Command, args []string) error {
	m, err := loadBackupManager()
	if err != nil {
		return err
	}

	backups, err := m.List()
	if err != nil {
		return err
	}
	displayBackups(cmd.OutOrStdout(), backups, time.Now())
	return nil
}

func runBackupRestore(cmd *cobra.Command, args []string) error {
	m, err := loadBackupManager()
	if err != nil {
		return err
	}

	if err := m.Restore(context.Background(), args[0]); err != nil {
		return err
	}

	fmt.Fprintln(cmd.OutOrStdout(), successStyle.Render("✓ Restored "+args[0]))
	return nil
}

func displayBackups(out io.Writer, backups []backup.Info, now time.Time) {
	if len(backups) == 0 {
		fmt.Fprintln(out, headerStyle.Render("No backups found"))
		return
	}

	fmt.Fprintln(out, headerStyle.Render(fmt.Sprintf("Found %d backup%s", len(backups), plural(len(backups), "", "s"))))
	fmt.Fprintln(out)

	w := tabwriter.NewWriter(out, 0, 0, 3, ' ', 0)
	_, _ = fmt.Fprintln(w, titleStyle.Render("Name")+"\t"+titleStyle.Render("Size")+"\t"+titleStyle.Render("Age")+"\t")
	_, _ = fmt.Fprintln(w, strings.Repeat("─", 70))
	for _, b := range backups {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t\n",
			idStyle.Render(b.Name),
			countStyle.Render(humanize.Bytes(uint64(b.Size))),
			dateStyle.Render(humanize.RelTime(b.CreatedAt, now, "ago", "from now")),
		)
	}
	_ = w.Flush()
}
