package postgres

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scrypster/chatmem/internal/storage"
	"github.com/scrypster/chatmem/pkg/types"
)

// postgresTestDSN returns the DSN for the test database.
// If CHATMEM_TEST_POSTGRES_DSN is not set, tests are skipped.
func postgresTestDSN(t *testing.T) string {
	t.Helper()

	dsn := os.Getenv("CHATMEM_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("CHATMEM_TEST_POSTGRES_DSN not set; skipping PostgreSQL integration tests")
	}
	return dsn
}

func newTestSink(t *testing.T) *SnapshotSink {
	t.Helper()

	sink, err := NewSnapshotSink(postgresTestDSN(t))
	require.NoError(t, err, "NewSnapshotSink should succeed")
	require.NoError(t, sink.TruncateForTest(context.Background()))
	t.Cleanup(func() {
		_ = sink.TruncateForTest(context.Background())
		_ = sink.Close()
	})
	return sink
}

func TestSnapshotSink_RoundTrip(t *testing.T) {
	sink := newTestSink(t)
	ctx := context.Background()

	base := time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC)
	want := &storage.Snapshot{
		Identities: []types.Identity{
			{ID: "guest-1", DisplayLabel: "Guest", Kind: types.IdentityGuest, CreatedAt: base},
		},
		Scopes: []storage.ScopeSnapshot{{
			IdentityID: "guest-1",
			Sessions: []types.Session{{
				ID:    "s1",
				Title: "Hello",
				Messages: []types.Message{
					{ID: "m1", Role: types.RoleUser, Content: "Hello", CreatedAt: base},
					{ID: "m2", Role: types.RoleAssistant, Content: "Hi there", CreatedAt: base},
				},
				CreatedAt: base,
				UpdatedAt: base,
			}},
			Memories: []types.Memory{
				{ID: "mem-1", Content: "Likes tea", Source: types.SourceExtracted, CreatedAt: base, UpdatedAt: base},
			},
		}},
	}

	require.NoError(t, sink.SaveSnapshot(ctx, want))

	got, err := sink.LoadSnapshot(ctx)
	require.NoError(t, err)

	require.Len(t, got.Identities, 1)
	assert.Equal(t, "guest-1", got.Identities[0].ID)
	assert.True(t, base.Equal(got.Identities[0].CreatedAt))

	scope := got.Scope("guest-1")
	require.NotNil(t, scope)
	require.Len(t, scope.Sessions, 1)
	assert.Equal(t, "Hello", scope.Sessions[0].Title)
	require.Len(t, scope.Sessions[0].Messages, 2)
	assert.Equal(t, "Hi there", scope.Sessions[0].Messages[1].Content)
	require.Len(t, scope.Memories, 1)
	assert.Equal(t, "Likes tea", scope.Memories[0].Content)
}

func TestSnapshotSink_EmptyLoad(t *testing.T) {
	sink := newTestSink(t)

	got, err := sink.LoadSnapshot(context.Background())
	require.NoError(t, err)
	assert.Empty(t, got.Identities)
	assert.Empty(t, got.Scopes)
}
