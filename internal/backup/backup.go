// Package backup keeps verified point-in-time copies of the sqlite snapshot
// database and prunes them with a tiered retention policy.
package backup

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

const (
	filePrefix = "chatmem-"
	fileSuffix = ".db"
	stampFmt   = "20060102-150405.000000"
)

// ErrNotFound is returned when a named backup does not exist.
var ErrNotFound = errors.New("backup not found")

// Retention is how many backups to keep per age tier. A tier with a
// non-positive count keeps nothing; backups older than 30 days are always
// removed.
type Retention struct {
	Recent int // younger than a day (default: 24)
	Daily  int // one to seven days old (default: 7)
	Weekly int // seven to thirty days old (default: 4)
}

// DefaultRetention returns the retention applied when none is configured.
func DefaultRetention() Retention {
	return Retention{Recent: 24, Daily: 7, Weekly: 4}
}

// Config configures a Manager.
type Config struct {
	// DBPath is the snapshot database to copy.
	DBPath string

	// Dir receives the backup files.
	Dir string

	// Interval between scheduled backups made by Run (default: 1h).
	Interval time.Duration

	// Retention is applied after every backup.
	Retention Retention

	// Verify runs an integrity check on each new backup.
	Verify bool
}

// Info describes one backup file.
type Info struct {
	Name      string    `json:"name"`
	Path      string    `json:"path"`
	CreatedAt time.Time `json:"created_at"`
	Size      int64     `json:"size"`
}

// Manager makes, lists, prunes and restores backups.
type Manager struct {
	cfg Config

	mu   sync.Mutex
	last time.Time
}

// NewManager validates cfg and creates the backup directory.
func NewManager(cfg Config) (*Manager, error) {
	if cfg.DBPath == "" {
		return nil, fmt.Errorf("database path is required")
	}
	if cfg.Dir == "" {
		return nil, fmt.Errorf("backup directory is required")
	}
	if cfg.Interval <= 0 {
		cfg.Interval = time.Hour
	}
	if cfg.Retention == (Retention{}) {
		cfg.Retention = DefaultRetention()
	}
	if err := os.MkdirAll(cfg.Dir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create backup directory: %w", err)
	}
	return &Manager{cfg: cfg}, nil
}

// Run makes a backup every Interval until ctx is cancelled.
func (m *Manager) Run(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()

	log.Printf("Backup: scheduled every %v into %s", m.cfg.Interval, m.cfg.Dir)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			info, err := m.Backup(ctx)
			if err != nil {
				log.Printf("ERROR: Backup: scheduled backup failed: %v", err)
				continue
			}
			log.Printf("Backup: wrote %s (%d bytes)", info.Name, info.Size)
		}
	}
}

// Backup copies the database into a new timestamped file, verifies it when
// configured to, and prunes old backups.
func (m *Manager) Backup(ctx context.Context) (*Info, error) {
	if _, err := os.Stat(m.cfg.DBPath); err != nil {
		return nil, fmt.Errorf("database not found: %w", err)
	}

	now := time.Now()
	name := filePrefix + now.UTC().Format(stampFmt) + fileSuffix
	path := filepath.Join(m.cfg.Dir, name)

	if err := vacuumInto(ctx, m.cfg.DBPath, path); err != nil {
		return nil, err
	}
	if m.cfg.Verify {
		if err := verify(ctx, path); err != nil {
			_ = os.Remove(path)
			return nil, fmt.Errorf("backup verification failed: %w", err)
		}
	}

	fi, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat backup: %w", err)
	}

	m.mu.Lock()
	m.last = now
	m.mu.Unlock()

	if _, err := m.Prune(now); err != nil {
		log.Printf("WARNING: Backup: failed to apply retention: %v", err)
	}

	return &Info{Name: name, Path: path, CreatedAt: now.UTC(), Size: fi.Size()}, nil
}

// LastBackup reports when this manager last wrote a backup.
func (m *Manager) LastBackup() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.last
}

// List returns the backups in the directory, newest first. Files that do
// not follow the backup naming scheme are ignored.
func (m *Manager) List() ([]Info, error) {
	entries, err := os.ReadDir(m.cfg.Dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read backup directory: %w", err)
	}

	var out []Info
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		created, ok := parseName(entry.Name())
		if !ok {
			continue
		}
		fi, err := entry.Info()
		if err != nil {
			continue
		}
		out = append(out, Info{
			Name:      entry.Name(),
			Path:      filepath.Join(m.cfg.Dir, entry.Name()),
			CreatedAt: created,
			Size:      fi.Size(),
		})
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

// Prune removes the backups the retention policy no longer keeps, judged
// at now, and returns the removed names.
func (m *Manager) Prune(now time.Time) ([]string, error) {
	backups, err := m.List()
	if err != nil {
		return nil, err
	}

	var removed []string
	var lastErr error
	for _, b := range expired(backups, m.cfg.Retention, now) {
		if err := os.Remove(b.Path); err != nil {
			lastErr = err
			continue
		}
		removed = append(removed, b.Name)
	}
	if lastErr != nil {
		return removed, fmt.Errorf("failed to delete some backups: %w", lastErr)
	}
	return removed, nil
}

// expired picks the backups outside the policy. backups must be sorted
// newest first.
func expired(backups []Info, policy Retention, now time.Time) []Info {
	var recent, daily, weekly, out []Info
	for _, b := range backups {
		switch age := now.Sub(b.CreatedAt); {
		case age < 24*time.Hour:
			recent = append(recent, b)
		case age < 7*24*time.Hour:
			daily = append(daily, b)
		case age < 30*24*time.Hour:
			weekly = append(weekly, b)
		default:
			out = append(out, b)
		}
	}

	keep := func(tier []Info, n int) {
		if n < 0 {
			n = 0
		}
		if len(tier) > n {
			out = append(out, tier[n:]...)
		}
	}
	keep(recent, policy.Recent)
	keep(daily, policy.Daily)
	keep(weekly, policy.Weekly)
	return out
}

// Restore replaces the database with the named backup. Nothing may have the
// database open. The current database is kept aside and put back when the
// restore fails.
func (m *Manager) Restore(ctx context.Context, name string) error {
	if _, ok := parseName(name); !ok || filepath.Base(name) != name {
		return fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	src := filepath.Join(m.cfg.Dir, name)
	if _, err := os.Stat(src); err != nil {
		return fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	if err := verify(ctx, src); err != nil {
		return fmt.Errorf("backup verification failed: %w", err)
	}

	aside := m.cfg.DBPath + ".pre-restore"
	hadDB := false
	if _, err := os.Stat(m.cfg.DBPath); err == nil {
		if err := vacuumInto(ctx, m.cfg.DBPath, aside); err != nil {
			return fmt.Errorf("failed to save current database: %w", err)
		}
		hadDB = true
		defer os.Remove(aside)
	}

	// A WAL left by the old database would be replayed onto the restored one.
	removeSidecars(m.cfg.DBPath)

	if err := copyFile(src, m.cfg.DBPath); err != nil {
		if hadDB {
			if rbErr := copyFile(aside, m.cfg.DBPath); rbErr != nil {
				return fmt.Errorf("restore failed and rollback failed: %v (restore error: %w)", rbErr, err)
			}
			return fmt.Errorf("restore failed, rolled back to previous state: %w", err)
		}
		return err
	}

	log.Printf("Backup: database restored from %s", name)
	return nil
}

func parseName(name string) (time.Time, bool) {
	if !strings.HasPrefix(name, filePrefix) || !strings.HasSuffix(name, fileSuffix) {
		return time.Time{}, false
	}
	stamp := strings.TrimSuffix(strings.TrimPrefix(name, filePrefix), fileSuffix)
	t, err := time.Parse(stampFmt, stamp)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}
