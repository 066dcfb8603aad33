package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scrypster/chatmem/internal/backup"
	"github.com/scrypster/chatmem/pkg/types"
)

// setupDataDir points the configuration at a fresh sqlite data directory.
func setupDataDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("CHATMEM_DATA_PATH", dir)
	t.Setenv("CHATMEM_STORAGE_ENGINE", "sqlite")
	t.Setenv("CHATMEM_LLM_PROVIDER", "stub")
	t.Setenv("CHATMEM_SECURITY_MODE", "development")
	return dir
}

// resetFlags restores every flag to its default so commands run in
// sequence do not see each other's flags.
func resetFlags(c *cobra.Command) {
	c.Flags().VisitAll(func(f *pflag.Flag) {
		_ = f.Value.Set(f.DefValue)
		f.Changed = false
	})
	for _, sub := range c.Commands() {
		resetFlags(sub)
	}
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	resetFlags(rootCmd)

	var out bytes.Buffer
	rootCmd.SetArgs(args)
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&bytes.Buffer{})

	err := rootCmd.Execute()
	return out.String(), err
}

// seedGuest persists a fresh guest identity and returns its ID.
func seedGuest(t *testing.T) string {
	t.Helper()
	s, err := loadStack(false)
	require.NoError(t, err)
	defer s.Close()

	ctx := context.Background()
	require.NoError(t, s.loadSnapshot(ctx))
	id := s.engine.NewGuest().ID
	require.NoError(t, s.engine.Flush(ctx))
	return id
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

const guestTranscript = `{"role":"user","content":"I live in Lisbon"}
{"role":"assistant","content":"Noted!"}
`

func TestResetCommand_RequiresTarget(t *testing.T) {
	setupDataDir(t)

	_, err := execute(t, "reset")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--identity or --all")
}

func TestResetCommand_FlagsAreExclusive(t *testing.T) {
	setupDataDir(t)

	_, err := execute(t, "reset", "--identity", "abc", "--all")
	assert.Error(t, err)
}

func TestExportCommand_InvalidFormat(t *testing.T) {
	setupDataDir(t)

	_, err := execute(t, "export", "s1", "--identity", "abc", "--format", "invalid")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported format")
}

func TestExportCommand_RequiresIdentity(t *testing.T) {
	setupDataDir(t)

	_, err := execute(t, "export", "s1")
	assert.Error(t, err)
}

func TestImportCommand_UnknownIdentity(t *testing.T) {
	dir := setupDataDir(t)
	path := writeFile(t, dir, "guest.jsonl", guestTranscript)

	_, err := execute(t, "import", path, "--identity", "nobody")
	assert.Error(t, err)
}

func TestImportCommand_EmptyTranscript(t *testing.T) {
	dir := setupDataDir(t)
	path := writeFile(t, dir, "empty.json", "[]")

	_, err := execute(t, "import", path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no messages")
}

func TestImportExportRoundTrip(t *testing.T) {
	dir := setupDataDir(t)
	id := seedGuest(t)
	path := writeFile(t, dir, "guest.jsonl", guestTranscript)

	out, err := execute(t, "import", path, "--identity", id, "--session", "s1")
	require.NoError(t, err)
	assert.Contains(t, out, "appended: 2, skipped: 0")
	assert.Contains(t, out, "I live in Lisbon")

	// Importing the same file again appends nothing.
	out, err = execute(t, "import", path, "--identity", id, "--session", "s1")
	require.NoError(t, err)
	assert.Contains(t, out, "appended: 0, skipped: 2")

	exportPath := filepath.Join(dir, "s1.md")
	out, err = execute(t, "export", "s1", "--identity", id, "--format", "md", "--out", exportPath)
	require.NoError(t, err)
	assert.Contains(t, out, "Exported 2 message(s)")

	data, err := os.ReadFile(exportPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), "**You**")
	assert.Contains(t, string(data), "I live in Lisbon")
	assert.Contains(t, string(data), "**Assistant**")

	out, err = execute(t, "export", "s1", "--identity", id, "--format", "jsonl")
	require.NoError(t, err)
	assert.Len(t, strings.Split(strings.TrimSpace(out), "\n"), 2)
}

func TestImportCommand_IssuesGuest(t *testing.T) {
	dir := setupDataDir(t)
	path := writeFile(t, dir, "guest.yaml", `session_id: from-file
messages:
  - role: user
    content: hello
`)

	out, err := execute(t, "import", path)
	require.NoError(t, err)
	assert.Contains(t, out, "session:  from-file")

	out, err = execute(t, "list")
	require.NoError(t, err)
	assert.Contains(t, out, "Found 1 identity")
	assert.Contains(t, out, string(types.IdentityGuest))
}

func TestExportCommand_UnknownSession(t *testing.T) {
	setupDataDir(t)
	id := seedGuest(t)

	_, err := execute(t, "export", "missing", "--identity", id)
	assert.Error(t, err)
}

func TestResetCommand_Identity(t *testing.T) {
	dir := setupDataDir(t)
	id := seedGuest(t)
	path := writeFile(t, dir, "guest.jsonl", guestTranscript)

	_, err := execute(t, "import", path, "--identity", id, "--session", "s1")
	require.NoError(t, err)

	out, err := execute(t, "reset", "--identity", id)
	require.NoError(t, err)
	assert.Contains(t, out, "Cleared sessions and memories of "+id)

	out, err = execute(t, "list", "--identity", id)
	require.NoError(t, err)
	assert.Contains(t, out, "No sessions found")

	// The identity itself survives a scope reset.
	out, err = execute(t, "list")
	require.NoError(t, err)
	assert.Contains(t, out, id)

	// A running server is told about the reset.
	entries, err := os.ReadDir(filepath.Join(dir, "requests"))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Contains(t, entries[0].Name(), "reset_scope")
}

func TestResetCommand_All(t *testing.T) {
	dir := setupDataDir(t)
	first, second := seedGuest(t), seedGuest(t)
	path := writeFile(t, dir, "guest.jsonl", guestTranscript)

	for _, id := range []string{first, second} {
		_, err := execute(t, "import", path, "--identity", id, "--session", "s1")
		require.NoError(t, err)
	}

	out, err := execute(t, "reset", "--all")
	require.NoError(t, err)
	assert.Contains(t, out, "every identity")

	for _, id := range []string{first, second} {
		out, err = execute(t, "list", "--identity", id)
		require.NoError(t, err)
		assert.Contains(t, out, "No sessions found")
	}

	out, err = execute(t, "list")
	require.NoError(t, err)
	assert.Contains(t, out, "Found 2 identities")
}

func TestDisplayIdentities(t *testing.T) {
	created := time.Date(2020, 1, 2, 3, 4, 5, 0, time.UTC)
	tests := []struct {
		name string
		rows []identityRow
		want []string
	}{
		{
			name: "empty",
			rows: nil,
			want: []string{"No identities found"},
		},
		{
			name: "guest and established",
			rows: []identityRow{
				{Identity: types.Identity{ID: "g1", DisplayLabel: "Guest", Kind: types.IdentityGuest, CreatedAt: created}, Sessions: 2, Memories: 5},
				{Identity: types.Identity{ID: "e1", DisplayLabel: "Ann", Email: "ann@example.com", Kind: types.IdentityEstablished, CreatedAt: created}},
			},
			want: []string{"Found 2 identities", "g1", "Guest", "ann@example.com", "2020-01-02"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			displayIdentities(&buf, tt.rows)
			for _, w := range tt.want {
				assert.Contains(t, buf.String(), w)
			}
		})
	}
}

func TestDisplaySessions(t *testing.T) {
	var buf bytes.Buffer
	displaySessions(&buf, []types.Session{
		{ID: "s1", Title: "Trip planning", Messages: make([]types.Message, 3), UpdatedAt: time.Now()},
	})

	out := buf.String()
	assert.Contains(t, out, "Found 1 session")
	assert.Contains(t, out, "Trip planning")
	assert.Contains(t, out, "chatmem export s1")

	buf.Reset()
	displaySessions(&buf, nil)
	assert.Contains(t, buf.String(), "No sessions found")
}

func TestFormatWhen(t *testing.T) {
	now := time.Date(2024, 6, 15, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		name string
		t    time.Time
		want string
	}{
		{"zero", time.Time{}, "-"},
		{"today", now.Add(-time.Hour), "Today 11:00"},
		{"this week", now.Add(-48 * time.Hour), "Thu 12:00"},
		{"this year", now.Add(-30 * 24 * time.Hour), "May 16 12:00"},
		{"older", now.Add(-400 * 24 * time.Hour), "2023-05-12"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, formatWhen(tt.t, now))
		})
	}
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "abcdefg...", truncate("abcdefghijklmnop", 10))
	assert.Equal(t, "héllo w...", truncate("héllo wörld and more", 10))
}

func TestBackupCommands(t *testing.T) {
	setupDataDir(t)
	seedGuest(t)

	out, err := execute(t, "backup")
	require.NoError(t, err)
	assert.Contains(t, out, "Wrote chatmem-")

	out, err = execute(t, "backup", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "Found 1 backup")

	m, err := loadBackupManager()
	require.NoError(t, err)
	backups, err := m.List()
	require.NoError(t, err)
	require.Len(t, backups, 1)

	out, err = execute(t, "backup", "restore", backups[0].Name)
	require.NoError(t, err)
	assert.Contains(t, out, "Restored "+backups[0].Name)
}

func TestBackupCommand_NeedsSQLite(t *testing.T) {
	setupDataDir(t)
	t.Setenv("CHATMEM_STORAGE_ENGINE", "memory")

	_, err := execute(t, "backup")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sqlite")
}

func TestDisplayBackups(t *testing.T) {
	now := time.Now()
	var buf bytes.Buffer
	displayBackups(&buf, nil, now)
	assert.Contains(t, buf.String(), "No backups found")

	buf.Reset()
	displayBackups(&buf, []backup.Info{
		{Name: "chatmem-20240101-000000.000000.db", Size: 2048, CreatedAt: now.Add(-2 * time.Hour)},
	}, now)
	assert.Contains(t, buf.String(), "chatmem-20240101-000000.000000.db")
	assert.Contains(t, buf.String(), "2.0 kB")
	assert.Contains(t, buf.String(), "2 hours ago")
}
