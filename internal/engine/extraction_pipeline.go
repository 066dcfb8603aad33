package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/scrypster/chatmem/internal/llm"
	"github.com/scrypster/chatmem/internal/storage"
	"github.com/scrypster/chatmem/pkg/types"
)

// ExtractionPipeline turns one user message into memory changes.
//
// A run reads the scope's memories and generation, asks the reasoning
// service for a decision, and applies the decision inside a single
// MemoryStore.Batch. If the store was reset between the read and the
// apply, the whole apply is abandoned so a reset cannot be undone by a
// late decision.
type ExtractionPipeline struct {
	llmClient llm.TextGenerator
	timeout   time.Duration
}

// NewExtractionPipeline creates a pipeline that calls llmClient with the
// given per-call timeout.
func NewExtractionPipeline(llmClient llm.TextGenerator, timeout time.Duration) *ExtractionPipeline {
	return &ExtractionPipeline{
		llmClient: llmClient,
		timeout:   timeout,
	}
}

// ExtractionResult reports what a pipeline run changed.
type ExtractionResult struct {
	// Scope is the identity the run applied to.
	Scope string `json:"scope"`

	// Decision is the parsed reasoning-service response.
	Decision *llm.MemoryDecision `json:"decision,omitempty"`

	// Created lists the memories added by the run.
	Created []types.Memory `json:"created"`

	// Updated lists the memories whose content was replaced.
	Updated []types.Memory `json:"updated"`

	// Skipped counts operations that were not applied.
	Skipped int `json:"skipped"`

	// Events holds the trace of the run, when a TraceCollector was attached.
	Events []Event `json:"events,omitempty"`

	// ExecutedAt tracks when the run completed.
	ExecutedAt time.Time `json:"executed_at"`
}

// Run executes the pipeline for one message against store.
//
// Errors are classified for the caller: llm.ErrUpstream when the reasoning
// service could not be reached, llm.ErrParse when its answer was unusable,
// and storage.ErrStaleGeneration when a reset won the race with the apply.
// Individual operations that cannot be applied are skipped and logged, never
// returned.
func (p *ExtractionPipeline) Run(ctx context.Context, scope string, store storage.MemoryStore, message string) (*ExtractionResult, error) {
	memories, generation, err := store.Snapshot(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read memories: %w", err)
	}
	return p.run(ctx, scope, store, message, memories, generation)
}

// RunSince is Run for a message observed at the given memory generation.
// When the store has been reset since then, it returns
// storage.ErrStaleGeneration without calling the reasoning service.
func (p *ExtractionPipeline) RunSince(ctx context.Context, scope string, store storage.MemoryStore, message string, generation uint64) (*ExtractionResult, error) {
	memories, current, err := store.Snapshot(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read memories: %w", err)
	}
	if current != generation {
		log.Printf("Pipeline: Memories of scope %s were reset after the message was queued", scope)
		return nil, fmt.Errorf("%w: memories were reset after the message was queued", storage.ErrStaleGeneration)
	}
	return p.run(ctx, scope, store, message, memories, generation)
}

func (p *ExtractionPipeline) run(ctx context.Context, scope string, store storage.MemoryStore, message string, memories []types.Memory, generation uint64) (*ExtractionResult, error) {
	result := &ExtractionResult{
		Scope:   scope,
		Created: []types.Memory{},
		Updated: []types.Memory{},
	}

	log.Printf("Pipeline: Requesting memory decision for scope %s (%d existing memories)", scope, len(memories))

	callCtx, cancel := context.WithTimeout(ctx, p.timeout)
	raw, err := p.llmClient.Generate(callCtx, llm.ExtractionSystemPrompt, llm.ExtractionUserPrompt(message, memories))
	cancel()
	if err != nil {
		if !errors.Is(err, llm.ErrUpstream) {
			err = fmt.Errorf("%w: %w", llm.ErrUpstream, err)
		}
		return nil, fmt.Errorf("memory decision failed: %w", err)
	}

	decision, err := llm.ParseMemoryDecision(raw)
	if err != nil {
		return nil, err
	}
	result.Decision = decision

	if decision.IsNoop() {
		log.Printf("Pipeline: No memory changes for scope %s", scope)
		result.ExecutedAt = time.Now()
		return result, nil
	}

	err = store.Batch(ctx, generation, func(b storage.MemoryBatch) error {
		for _, op := range decision.Memories {
			p.apply(ctx, scope, b, op, result)
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, storage.ErrStaleGeneration) {
			log.Printf("Pipeline: Memories of scope %s were reset during extraction, discarding decision", scope)
		}
		return nil, fmt.Errorf("failed to apply memory decision: %w", err)
	}

	result.ExecutedAt = time.Now()
	return result, nil
}

// apply performs one operation inside a batch.
func (p *ExtractionPipeline) apply(ctx context.Context, scope string, b storage.MemoryBatch, op llm.MemoryOperation, result *ExtractionResult) {
	switch op.Action {
	case llm.ActionCreate:
		if b.HasContent(op.Content) {
			log.Printf("Pipeline: Skipping create for scope %s, identical memory exists", scope)
			result.Skipped++
			emitToContext(ctx, EventOperationSkipped(scope, "", "identical memory exists"))
			return
		}
		m := b.Add(op.Content, types.SourceExtracted)
		result.Created = append(result.Created, *m)
		emitToContext(ctx, EventMemoryCreated(scope, m.ID))

	case llm.ActionUpdate:
		if !b.Exists(op.ID) {
			log.Printf("Pipeline: Skipping update of %s for scope %s, memory no longer exists", op.ID, scope)
			result.Skipped++
			emitToContext(ctx, EventOperationSkipped(scope, op.ID, "memory no longer exists"))
			return
		}
		m, err := b.Update(op.ID, op.Content)
		if err != nil {
			log.Printf("Pipeline: Skipping update of %s for scope %s: %v", op.ID, scope, err)
			result.Skipped++
			emitToContext(ctx, EventOperationSkipped(scope, op.ID, err.Error()))
			return
		}
		result.Updated = append(result.Updated, *m)
		emitToContext(ctx, EventMemoryUpdated(scope, m.ID))

	default:
		result.Skipped++
		emitToContext(ctx, EventOperationSkipped(scope, op.ID, fmt.Sprintf("unknown action %q", op.Action)))
	}
}

// ProcessMessageSync runs the extraction pipeline inline for one message
// and returns what it changed. It takes the same scope lock as the workers.
// Like ProcessMessage it is advisory: failures are logged and reported as a
// nil result, never as an error.
func (e *Engine) ProcessMessageSync(ctx context.Context, scope, message string) *ExtractionResult {
	if e.pipeline == nil {
		return nil
	}

	tc := NewTraceCollector()
	ctx = WithTraceCollector(ctx, tc)

	ws := e.workspaces.get(scope)

	unlock := e.scopeLocks.lock(scope)
	result, err := e.pipeline.Run(ctx, scope, ws.memories, message)
	unlock()

	if err != nil {
		log.Printf("ERROR: Extraction failed for scope %s: %v", scope, err)
		e.emit(EventExtractionFailed(scope, err.Error()))
		return nil
	}

	result.Events = tc.Events()
	e.publishResult(result)
	return result
}
