package engine

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scrypster/chatmem/internal/storage"
	"github.com/scrypster/chatmem/internal/storage/inmem"
	"github.com/scrypster/chatmem/pkg/types"
)

func TestResetAll_EmptiesBothStores(t *testing.T) {
	eng, _, _ := newTestEngine(t)
	rec := recordEvents(eng)
	ctx := context.Background()

	sess, err := eng.CreateSession(ctx, testScope)
	require.NoError(t, err)
	_, err = eng.AppendMessage(ctx, testScope, sess.ID, types.MessageInput{Role: types.RoleUser, Content: "hi"})
	require.NoError(t, err)
	_, err = eng.AddMemory(ctx, testScope, "Likes sushi")
	require.NoError(t, err)

	require.NoError(t, eng.ResetAll(ctx, testScope))

	sessions, err := eng.ListSessions(ctx, testScope)
	require.NoError(t, err)
	assert.Empty(t, sessions)

	memories, err := eng.ListMemories(ctx, testScope)
	require.NoError(t, err)
	assert.Empty(t, memories)

	assert.Contains(t, rec.kinds(), KindScopeReset)

	// A second reset is harmless.
	require.NoError(t, eng.ResetAll(ctx, testScope))
}

func TestResetAll_UnknownScope(t *testing.T) {
	eng, _, _ := newTestEngine(t)
	assert.NoError(t, eng.ResetAll(context.Background(), "nobody"))
}

func TestResetAll_LeavesOtherScopesAlone(t *testing.T) {
	eng, _, _ := newTestEngine(t)
	ctx := context.Background()

	_, err := eng.AddMemory(ctx, "alice", "Likes jazz")
	require.NoError(t, err)
	_, err = eng.AddMemory(ctx, "bob", "Likes metal")
	require.NoError(t, err)

	require.NoError(t, eng.ResetAll(ctx, "alice"))

	bob, err := eng.ListMemories(ctx, "bob")
	require.NoError(t, err)
	assert.Len(t, bob, 1)
}

func TestResetAll_PartialFailure(t *testing.T) {
	tests := []struct {
		name          string
		factory       storeFactory
		wantSessions  bool
		wantMemories  bool
		sessionsEmpty bool
		memoriesEmpty bool
	}{
		{
			name: "sessions fail",
			factory: func() (storage.SessionStore, storage.MemoryStore) {
				return failingSessionStore{inmem.NewSessionStore()}, inmem.NewMemoryStore()
			},
			wantSessions:  true,
			memoriesEmpty: true,
		},
		{
			name: "memories fail",
			factory: func() (storage.SessionStore, storage.MemoryStore) {
				return inmem.NewSessionStore(), failingMemoryStore{inmem.NewMemoryStore()}
			},
			wantMemories:  true,
			sessionsEmpty: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			eng, _, _ := newTestEngine(t)
			eng.workspaces = newWorkspaceSet(tt.factory)
			ctx := context.Background()

			_, err := eng.CreateSession(ctx, testScope)
			require.NoError(t, err)
			_, err = eng.AddMemory(ctx, testScope, "Has a garden")
			require.NoError(t, err)

			err = eng.ResetAll(ctx, testScope)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrPartialReset))
			assert.True(t, errors.Is(err, errStoreDown))

			var rerr *ResetError
			require.True(t, errors.As(err, &rerr))
			assert.Equal(t, tt.wantSessions, rerr.SessionsErr != nil)
			assert.Equal(t, tt.wantMemories, rerr.MemoriesErr != nil)

			sessions, _ := eng.ListSessions(ctx, testScope)
			memories, _ := eng.ListMemories(ctx, testScope)
			assert.Equal(t, tt.sessionsEmpty, len(sessions) == 0, "the succeeded half is not rolled back")
			assert.Equal(t, tt.memoriesEmpty, len(memories) == 0)
		})
	}
}

// TestResetAll_DiscardsInFlightExtraction verifies that an extraction whose
// snapshot predates a reset does not resurrect memories.
func TestResetAll_DiscardsInFlightExtraction(t *testing.T) {
	eng, _, _ := newTestEngine(t)
	ctx := context.Background()

	_, err := eng.AddMemory(ctx, testScope, "Has a cat")
	require.NoError(t, err)

	ws := eng.workspaces.get(testScope)
	_, generation, err := ws.memories.Snapshot(ctx)
	require.NoError(t, err)

	require.NoError(t, eng.ResetAll(ctx, testScope))

	err = ws.memories.Batch(ctx, generation, func(b storage.MemoryBatch) error {
		b.Add("Has a cat named Miso", types.SourceExtracted)
		return nil
	})
	assert.True(t, errors.Is(err, storage.ErrStaleGeneration))

	memories, err := eng.ListMemories(ctx, testScope)
	require.NoError(t, err)
	assert.Empty(t, memories)
}

// TestResetAll_DiscardsQueuedExtraction verifies that a message queued
// before a reset cannot write memories once a worker picks it up.
func TestResetAll_DiscardsQueuedExtraction(t *testing.T) {
	eng, _, extractor := newTestEngine(t)
	rec := recordEvents(eng)
	startTestEngine(t, eng)
	ctx := context.Background()

	_, err := eng.CreateSession(ctx, "busy")
	require.NoError(t, err)
	_, err = eng.CreateSession(ctx, testScope)
	require.NoError(t, err)

	extractor.QueueResponse(`{"action":"none","memories":[]}`)
	extractor.QueueResponse(`{"action":"create","memories":[{"action":"create","content":"Is vegan"}]}`)

	// The only worker stalls on the busy scope while the second job waits.
	unlock := eng.scopeLocks.lock("busy")
	require.True(t, eng.ProcessMessage("busy", "Hello"))
	require.True(t, eng.ProcessMessage(testScope, "I am vegan"))

	require.NoError(t, eng.ResetAll(ctx, testScope))
	unlock()

	ev := rec.waitFor(t, KindExtractionDiscarded)
	assert.Equal(t, testScope, ev.Scope)

	memories, err := eng.ListMemories(ctx, testScope)
	require.NoError(t, err)
	assert.Empty(t, memories)
	assert.Len(t, extractor.Calls(), 1, "the stale job never reaches the reasoning service")
	assert.NotContains(t, rec.kinds(), KindExtractionFailed)
}

func TestResetEverything(t *testing.T) {
	eng, _, _ := newTestEngine(t)
	ctx := context.Background()

	for _, scope := range []string{"a", "b", "c"} {
		_, err := eng.AddMemory(ctx, scope, "fact about "+scope)
		require.NoError(t, err)
		_, err = eng.CreateSession(ctx, scope)
		require.NoError(t, err)
	}

	require.NoError(t, eng.ResetEverything(ctx))

	for _, scope := range []string{"a", "b", "c"} {
		memories, _ := eng.ListMemories(ctx, scope)
		sessions, _ := eng.ListSessions(ctx, scope)
		assert.Empty(t, memories, scope)
		assert.Empty(t, sessions, scope)
	}
}

func TestLogout(t *testing.T) {
	eng, _, _ := newTestEngine(t)
	ctx := context.Background()

	guest := eng.NewGuest()
	_, err := eng.Login(ctx, guest.ID, "someone@example.com")
	require.NoError(t, err)
	_, err = eng.AddMemory(ctx, guest.ID, "Runs marathons")
	require.NoError(t, err)

	fresh, err := eng.Logout(ctx, guest.ID)
	require.NoError(t, err)
	assert.True(t, fresh.IsGuest())
	assert.NotEqual(t, guest.ID, fresh.ID)

	_, err = eng.Identity(guest.ID)
	assert.True(t, errors.Is(err, storage.ErrNotFound))

	memories, err := eng.ListMemories(ctx, guest.ID)
	require.NoError(t, err)
	assert.Empty(t, memories)
}

func TestLogout_KeepsIdentityWhenResetFails(t *testing.T) {
	eng, _, _ := newTestEngine(t)
	eng.workspaces = newWorkspaceSet(func() (storage.SessionStore, storage.MemoryStore) {
		return inmem.NewSessionStore(), failingMemoryStore{inmem.NewMemoryStore()}
	})
	ctx := context.Background()

	guest := eng.NewGuest()
	_, err := eng.CreateSession(ctx, guest.ID)
	require.NoError(t, err)

	_, err = eng.Logout(ctx, guest.ID)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrPartialReset))

	_, err = eng.Identity(guest.ID)
	assert.NoError(t, err)
}
