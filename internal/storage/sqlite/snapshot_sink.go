package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"
	"os/exec"
	"strings"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/scrypster/chatmem/internal/storage"
	"github.com/scrypster/chatmem/pkg/types"
)

// SnapshotSink implements storage.SnapshotSink using SQLite.
type SnapshotSink struct {
	db *sql.DB
}

// NewSnapshotSink opens (or creates) the snapshot database at dsn. A crashed
// process can leave -wal and -shm files behind that make the first open fail;
// when no other process holds them they are removed and the open is retried
// once.
func NewSnapshotSink(dsn string) (*SnapshotSink, error) {
	sink, err := openSnapshotSink(dsn)
	if err == nil {
		return sink, nil
	}

	path := snapshotFilePath(dsn)
	if !walLeftover(err, path) {
		return nil, err
	}

	for _, f := range walSidecars(path) {
		if rmErr := os.Remove(f); rmErr != nil && !os.IsNotExist(rmErr) {
			log.Printf("sqlite: failed to remove %s: %v", f, rmErr)
		}
	}

	sink, retryErr := openSnapshotSink(dsn)
	if retryErr != nil {
		return nil, fmt.Errorf("sqlite: open failed after dropping WAL files: %w (first error: %v)", retryErr, err)
	}

	log.Printf("sqlite: dropped leftover WAL files of %s", path)
	return sink, nil
}

// snapshotFilePath returns the database file named by dsn, or "" when dsn
// names an in-memory database. Both plain paths and file: URIs are accepted.
func snapshotFilePath(dsn string) string {
	name := dsn
	if rest, ok := strings.CutPrefix(dsn, "file:"); ok {
		name, _, _ = strings.Cut(rest, "?")
		name = strings.TrimPrefix(name, "//")
	}
	if name == "" || name == ":memory:" {
		return ""
	}
	return name
}

// walSidecars lists the files SQLite keeps next to path in WAL mode.
func walSidecars(path string) []string {
	return []string{path + "-wal", path + "-shm"}
}

// walLeftover reports whether openErr looks like the result of WAL files
// abandoned by a dead process: the error is an I/O or lock failure, at
// least one sidecar of path exists, and lsof finds no process holding them.
// Without lsof the files are never considered abandoned.
func walLeftover(openErr error, path string) bool {
	if openErr == nil || path == "" {
		return false
	}
	msg := openErr.Error()
	if !strings.Contains(msg, "disk I/O error") && !strings.Contains(msg, "database is locked") {
		return false
	}

	sidecars := walSidecars(path)
	present := false
	for _, f := range sidecars {
		if _, err := os.Stat(f); err == nil {
			present = true
		}
	}
	if !present {
		return false
	}

	lsof, err := exec.LookPath("lsof")
	if err != nil {
		return false
	}
	out, err := exec.Command(lsof, append([]string{"-t", path}, sidecars...)...).Output()
	if err != nil {
		// lsof exits 1 when nothing holds the files.
		return true
	}
	return strings.TrimSpace(string(out)) == ""
}

func openSnapshotSink(dsn string) (*SnapshotSink, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite supports one writer; a single connection avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &SnapshotSink{db: db}, nil
}

// GetDB returns the underlying database handle. Used by config to persist
// settings alongside the snapshot.
func (s *SnapshotSink) GetDB() *sql.DB {
	return s.db
}

// SaveSnapshot replaces the stored state with snap in one transaction.
func (s *SnapshotSink) SaveSnapshot(ctx context.Context, snap *storage.Snapshot) error {
	if snap == nil {
		return storage.ErrInvalidInput
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, table := range []string{"messages", "sessions", "memories", "identities"} {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return fmt.Errorf("sqlite: failed to clear %s: %w", table, err)
		}
	}

	for _, id := range snap.Identities {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO identities (id, display_label, kind, email, avatar_url, created_at, established_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`, id.ID, id.DisplayLabel, string(id.Kind), nullableString(id.Email), nullableString(id.AvatarURL),
			formatTime(id.CreatedAt), nullableTime(id.EstablishedAt))
		if err != nil {
			return fmt.Errorf("sqlite: failed to save identity %s: %w", id.ID, err)
		}
	}

	for _, scope := range snap.Scopes {
		if err := saveScope(ctx, tx, scope); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlite: failed to commit snapshot: %w", err)
	}
	return nil
}

func saveScope(ctx context.Context, tx *sql.Tx, scope storage.ScopeSnapshot) error {
	for pos, sess := range scope.Sessions {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO sessions (identity_id, id, title, position, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?)
		`, scope.IdentityID, sess.ID, sess.Title, pos, formatTime(sess.CreatedAt), formatTime(sess.UpdatedAt))
		if err != nil {
			return fmt.Errorf("sqlite: failed to save session %s: %w", sess.ID, err)
		}

		for mpos, msg := range sess.Messages {
			_, err := tx.ExecContext(ctx, `
				INSERT INTO messages (identity_id, session_id, position, id, role, content, created_at)
				VALUES (?, ?, ?, ?, ?, ?, ?)
			`, scope.IdentityID, sess.ID, mpos, msg.ID, string(msg.Role), msg.Content, formatTime(msg.CreatedAt))
			if err != nil {
				return fmt.Errorf("sqlite: failed to save message %s: %w", msg.ID, err)
			}
		}
	}

	for pos, m := range scope.Memories {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO memories (identity_id, id, content, source, position, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`, scope.IdentityID, m.ID, m.Content, string(m.Source), pos, formatTime(m.CreatedAt), formatTime(m.UpdatedAt))
		if err != nil {
			return fmt.Errorf("sqlite: failed to save memory %s: %w", m.ID, err)
		}
	}

	return nil
}

// LoadSnapshot reads the stored state. An empty database yields an empty
// snapshot.
func (s *SnapshotSink) LoadSnapshot(ctx context.Context) (*storage.Snapshot, error) {
	snap := &storage.Snapshot{}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, display_label, kind, email, avatar_url, created_at, established_at
		FROM identities ORDER BY created_at, id
	`)
	if err != nil {
		return nil, fmt.Errorf("sqlite: failed to load identities: %w", err)
	}
	for rows.Next() {
		var (
			id            types.Identity
			kind          string
			email, avatar sql.NullString
			createdAt     string
			establishedAt sql.NullString
		)
		if err := rows.Scan(&id.ID, &id.DisplayLabel, &kind, &email, &avatar, &createdAt, &establishedAt); err != nil {
			rows.Close()
			return nil, fmt.Errorf("sqlite: failed to scan identity: %w", err)
		}
		id.Kind = types.IdentityKind(kind)
		id.Email = email.String
		id.AvatarURL = avatar.String
		id.CreatedAt = parseTime(createdAt)
		if establishedAt.Valid {
			t := parseTime(establishedAt.String)
			id.EstablishedAt = &t
		}
		snap.Identities = append(snap.Identities, id)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("sqlite: failed to iterate identities: %w", err)
	}
	rows.Close()

	sessions, err := s.loadSessions(ctx)
	if err != nil {
		return nil, err
	}
	memories, err := s.loadMemories(ctx)
	if err != nil {
		return nil, err
	}

	var order []string
	scopes := make(map[string]*storage.ScopeSnapshot)
	scopeOf := func(identityID string) *storage.ScopeSnapshot {
		sc, ok := scopes[identityID]
		if !ok {
			sc = &storage.ScopeSnapshot{IdentityID: identityID}
			scopes[identityID] = sc
			order = append(order, identityID)
		}
		return sc
	}

	for _, r := range sessions {
		sc := scopeOf(r.identityID)
		sc.Sessions = append(sc.Sessions, r.session)
	}
	for _, r := range memories {
		sc := scopeOf(r.identityID)
		sc.Memories = append(sc.Memories, r.memory)
	}
	for _, id := range order {
		snap.Scopes = append(snap.Scopes, *scopes[id])
	}

	return snap, nil
}

type sessionRow struct {
	identityID string
	session    types.Session
}

type memoryRow struct {
	identityID string
	memory     types.Memory
}

func (s *SnapshotSink) loadSessions(ctx context.Context) ([]sessionRow, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT identity_id, id, title, created_at, updated_at
		FROM sessions ORDER BY identity_id, position
	`)
	if err != nil {
		return nil, fmt.Errorf("sqlite: failed to load sessions: %w", err)
	}

	var out []sessionRow
	index := make(map[[2]string]int)
	for rows.Next() {
		var r sessionRow
		var createdAt, updatedAt string
		if err := rows.Scan(&r.identityID, &r.session.ID, &r.session.Title, &createdAt, &updatedAt); err != nil {
			rows.Close()
			return nil, fmt.Errorf("sqlite: failed to scan session: %w", err)
		}
		r.session.CreatedAt = parseTime(createdAt)
		r.session.UpdatedAt = parseTime(updatedAt)
		r.session.Messages = []types.Message{}
		index[[2]string{r.identityID, r.session.ID}] = len(out)
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("sqlite: failed to iterate sessions: %w", err)
	}
	rows.Close()

	msgRows, err := s.db.QueryContext(ctx, `
		SELECT identity_id, session_id, id, role, content, created_at
		FROM messages ORDER BY identity_id, session_id, position
	`)
	if err != nil {
		return nil, fmt.Errorf("sqlite: failed to load messages: %w", err)
	}
	defer msgRows.Close()

	for msgRows.Next() {
		var identityID, sessionID, role, createdAt string
		var m types.Message
		if err := msgRows.Scan(&identityID, &sessionID, &m.ID, &role, &m.Content, &createdAt); err != nil {
			return nil, fmt.Errorf("sqlite: failed to scan message: %w", err)
		}
		m.Role = types.Role(role)
		m.CreatedAt = parseTime(createdAt)
		i, ok := index[[2]string{identityID, sessionID}]
		if !ok {
			log.Printf("sqlite: WARNING: message %s references unknown session %s", m.ID, sessionID)
			continue
		}
		out[i].session.Messages = append(out[i].session.Messages, m)
	}
	if err := msgRows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: failed to iterate messages: %w", err)
	}

	return out, nil
}

func (s *SnapshotSink) loadMemories(ctx context.Context) ([]memoryRow, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT identity_id, id, content, source, created_at, updated_at
		FROM memories ORDER BY identity_id, position
	`)
	if err != nil {
		return nil, fmt.Errorf("sqlite: failed to load memories: %w", err)
	}
	defer rows.Close()

	var out []memoryRow
	for rows.Next() {
		var r memoryRow
		var source, createdAt, updatedAt string
		if err := rows.Scan(&r.identityID, &r.memory.ID, &r.memory.Content, &source, &createdAt, &updatedAt); err != nil {
			return nil, fmt.Errorf("sqlite: failed to scan memory: %w", err)
		}
		r.memory.Source = types.MemorySource(source)
		r.memory.CreatedAt = parseTime(createdAt)
		r.memory.UpdatedAt = parseTime(updatedAt)
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: failed to iterate memories: %w", err)
	}
	return out, nil
}

// Close flushes the WAL into the main database file and releases resources.
// The TRUNCATE checkpoint removes the -shm and -wal files so that the CLI
// can open the database after the server exits.
func (s *SnapshotSink) Close() error {
	if s.db == nil {
		return nil
	}

	if _, err := s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		log.Printf("sqlite: WAL checkpoint on close failed (non-fatal): %v", err)
	}

	return s.db.Close()
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		log.Printf("sqlite: WARNING: unparseable timestamp %q: %v", s, err)
		return time.Time{}
	}
	return t
}

func nullableTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func nullableString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

var _ storage.SnapshotSink = (*SnapshotSink)(nil)
