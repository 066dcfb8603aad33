package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scrypster/chatmem/internal/llm"
	"github.com/scrypster/chatmem/internal/storage"
	"github.com/scrypster/chatmem/internal/storage/inmem"
	"github.com/scrypster/chatmem/pkg/types"
)

// seedMemories restores memories with fixed IDs into a fresh store.
func seedMemories(t *testing.T, memories ...types.Memory) *inmem.MemoryStore {
	t.Helper()
	store := inmem.NewMemoryStore()
	require.NoError(t, store.Restore(context.Background(), memories))
	return store
}

func TestPipeline_UpdatesExistingMemory(t *testing.T) {
	created := time.Now().Add(-time.Hour).UTC()
	store := seedMemories(t, types.Memory{
		ID:        "m1",
		Content:   "Has lactose intolerance",
		Source:    types.SourceExtracted,
		CreatedAt: created,
		UpdatedAt: created,
	})

	stub := llm.NewStubGenerator(`{"action":"update","memories":[{"action":"update","id":"m1","content":"Has severe lactose intolerance"}]}`)
	p := NewExtractionPipeline(stub, time.Second)

	result, err := p.Run(context.Background(), testScope, store, "Actually my lactose intolerance is severe")
	require.NoError(t, err)
	require.Len(t, result.Updated, 1)
	assert.Empty(t, result.Created)

	m, err := store.Get(context.Background(), "m1")
	require.NoError(t, err)
	assert.Equal(t, "Has severe lactose intolerance", m.Content)
	assert.True(t, m.UpdatedAt.After(created), "UpdatedAt advances")
	assert.True(t, m.CreatedAt.Equal(created), "CreatedAt is unchanged")
	assert.Equal(t, types.SourceExtracted, m.Source)
}

func TestPipeline_UpdateOfMissingIDIsSkipped(t *testing.T) {
	store := seedMemories(t, types.Memory{ID: "m1", Content: "Likes hiking", Source: types.SourceExtracted})

	stub := llm.NewStubGenerator(`{"action":"update","memories":[{"action":"update","id":"ghost","content":"Likes climbing"}]}`)
	p := NewExtractionPipeline(stub, time.Second)

	result, err := p.Run(context.Background(), testScope, store, "I like climbing")
	require.NoError(t, err)
	assert.Equal(t, 1, result.Skipped)
	assert.Empty(t, result.Created)
	assert.Empty(t, result.Updated)

	list, err := store.List(context.Background())
	require.NoError(t, err)
	require.Len(t, list, 1, "no record is created for a missing id")
	assert.Equal(t, "Likes hiking", list[0].Content)
}

func TestPipeline_CreateSkipsIdenticalContent(t *testing.T) {
	store := seedMemories(t, types.Memory{ID: "m1", Content: "Lives in Lisbon", Source: types.SourceUserAdded})

	stub := llm.NewStubGenerator(`{"action":"create","memories":[
		{"action":"create","content":"Lives in Lisbon"},
		{"action":"create","content":"Works as a nurse"},
		{"action":"create","content":"Works as a nurse"}
	]}`)
	p := NewExtractionPipeline(stub, time.Second)

	result, err := p.Run(context.Background(), testScope, store, "I'm a nurse in Lisbon")
	require.NoError(t, err)
	require.Len(t, result.Created, 1)
	assert.Equal(t, "Works as a nurse", result.Created[0].Content)
	assert.Equal(t, types.SourceExtracted, result.Created[0].Source)
	assert.Equal(t, 2, result.Skipped)

	list, err := store.List(context.Background())
	require.NoError(t, err)
	assert.Len(t, list, 2)
}

func TestPipeline_NoopDecision(t *testing.T) {
	store := inmem.NewMemoryStore()
	stub := llm.NewStubGenerator(`{"action":"none","memories":[]}`)
	p := NewExtractionPipeline(stub, time.Second)

	result, err := p.Run(context.Background(), testScope, store, "What's the weather?")
	require.NoError(t, err)
	assert.Empty(t, result.Created)
	assert.Empty(t, result.Updated)
	assert.Equal(t, uint64(0), store.Generation())
}

func TestPipeline_PromptCarriesMessageAndMemories(t *testing.T) {
	store := seedMemories(t, types.Memory{ID: "m7", Content: "Owns a cat", Source: types.SourceExtracted})
	stub := llm.NewStubGenerator()
	p := NewExtractionPipeline(stub, time.Second)

	_, err := p.Run(context.Background(), testScope, store, "My cat is called Miso")
	require.NoError(t, err)

	calls := stub.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, llm.ExtractionSystemPrompt, calls[0].SystemPrompt)
	assert.Contains(t, calls[0].UserPrompt, `"My cat is called Miso"`)
	assert.Contains(t, calls[0].UserPrompt, `- "Owns a cat", id: m7`)
}

func TestPipeline_ErrorClassification(t *testing.T) {
	t.Run("upstream", func(t *testing.T) {
		stub := llm.NewStubGenerator()
		stub.QueueError(errors.New("connection refused"))
		p := NewExtractionPipeline(stub, time.Second)

		_, err := p.Run(context.Background(), testScope, inmem.NewMemoryStore(), "hi")
		require.Error(t, err)
		assert.True(t, errors.Is(err, llm.ErrUpstream))
	})

	t.Run("parse", func(t *testing.T) {
		stub := llm.NewStubGenerator("I could not decide, sorry")
		p := NewExtractionPipeline(stub, time.Second)

		_, err := p.Run(context.Background(), testScope, inmem.NewMemoryStore(), "hi")
		require.Error(t, err)
		assert.True(t, errors.Is(err, llm.ErrParse))
	})
}

// resettingGenerator clears the store while the decision is being produced,
// standing in for a reset that races with an extraction.
type resettingGenerator struct {
	store storage.MemoryStore
	reply string
}

func (g *resettingGenerator) Generate(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	if err := g.store.ClearAll(ctx); err != nil {
		return "", err
	}
	return g.reply, nil
}

func (g *resettingGenerator) GetModel() string { return "resetting" }

func TestPipeline_ResetDuringExtractionDiscardsDecision(t *testing.T) {
	store := seedMemories(t, types.Memory{ID: "m1", Content: "Has a dog", Source: types.SourceExtracted})
	gen := &resettingGenerator{
		store: store,
		reply: `{"action":"create","memories":[{"action":"create","content":"Has two dogs"}]}`,
	}
	p := NewExtractionPipeline(gen, time.Second)

	_, err := p.Run(context.Background(), testScope, store, "I got a second dog")
	require.Error(t, err)
	assert.True(t, errors.Is(err, storage.ErrStaleGeneration))

	list, err := store.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, list, "a reset must not be undone by a late decision")
}

func TestPipeline_RunSinceRejectsOlderGeneration(t *testing.T) {
	ctx := context.Background()
	store := inmem.NewMemoryStore()
	queued := store.Generation()
	require.NoError(t, store.ClearAll(ctx))

	stub := llm.NewStubGenerator(`{"action":"create","memories":[{"action":"create","content":"Is vegan"}]}`)
	p := NewExtractionPipeline(stub, time.Second)

	_, err := p.RunSince(ctx, testScope, store, "I am vegan", queued)
	require.Error(t, err)
	assert.True(t, errors.Is(err, storage.ErrStaleGeneration))
	assert.Empty(t, stub.Calls())

	result, err := p.RunSince(ctx, testScope, store, "I am vegan", store.Generation())
	require.NoError(t, err)
	assert.Len(t, result.Created, 1)
}

// slowGenerator blocks until its context ends.
type slowGenerator struct{}

func (slowGenerator) Generate(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	<-ctx.Done()
	return "", fmt.Errorf("%w: %w", llm.ErrUpstream, ctx.Err())
}

func (slowGenerator) GetModel() string { return "slow" }

func TestPipeline_TimeoutBoundsTheCall(t *testing.T) {
	p := NewExtractionPipeline(slowGenerator{}, 20*time.Millisecond)

	start := time.Now()
	_, err := p.Run(context.Background(), testScope, inmem.NewMemoryStore(), "hello")
	require.Error(t, err)
	assert.True(t, errors.Is(err, llm.ErrUpstream))
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestEngine_ProcessMessageSync(t *testing.T) {
	eng, _, extractor := newTestEngine(t)
	rec := recordEvents(eng)
	ctx := context.Background()

	extractor.QueueResponse(`{"action":"create","memories":[{"action":"create","content":"Is vegetarian"},{"action":"update","id":"nope","content":"x"}]}`)

	result := eng.ProcessMessageSync(ctx, testScope, "I'm vegetarian")
	require.NotNil(t, result)
	require.Len(t, result.Created, 1)
	assert.Equal(t, 1, result.Skipped)

	var kinds []string
	for _, ev := range result.Events {
		kinds = append(kinds, string(ev.Kind))
	}
	assert.Equal(t, "memory_created,operation_skipped", strings.Join(kinds, ","))

	assert.Equal(t, []EventKind{KindMemoryCreated, KindExtractionCompleted}, rec.kinds())

	list, err := eng.ListMemories(ctx, testScope)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "Is vegetarian", list[0].Content)
}

func TestEngine_ProcessMessageSyncSwallowsFailures(t *testing.T) {
	eng, _, extractor := newTestEngine(t)
	rec := recordEvents(eng)

	extractor.QueueResponse("not json at all")

	assert.Nil(t, eng.ProcessMessageSync(context.Background(), testScope, "hello"))
	assert.Equal(t, []EventKind{KindExtractionFailed}, rec.kinds())
}
