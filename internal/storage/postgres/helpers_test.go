package postgres

import (
	"context"
	"fmt"
)

// TruncateForTest removes all snapshot rows.
func (s *SnapshotSink) TruncateForTest(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, "TRUNCATE chatmem_identities, chatmem_sessions, chatmem_memories")
	if err != nil {
		return fmt.Errorf("postgres: failed to truncate snapshot tables: %w", err)
	}
	return nil
}
