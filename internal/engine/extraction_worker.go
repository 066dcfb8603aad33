package engine

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/scrypster/chatmem/internal/llm"
	"github.com/scrypster/chatmem/internal/storage"
)

// extractionWorker is a worker goroutine that processes extraction jobs.
// It runs continuously until the extraction queue is closed.
func (e *Engine) extractionWorker(ctx context.Context, workerID int, queue <-chan *ExtractionJob) {
	defer e.workerWaitGroup.Done()

	log.Printf("Extraction worker %d started", workerID)

	for job := range queue {
		e.processExtractionJob(ctx, workerID, job)
	}

	log.Printf("Extraction worker %d stopped", workerID)
}

// processExtractionJob runs the pipeline for one job. Jobs of the same scope
// are serialized by the scope lock for the whole snapshot, generate and apply
// sequence. A job queued before a reset of its scope is discarded. Upstream
// failures are retried with quadratic backoff; every other failure ends the job.
func (e *Engine) processExtractionJob(ctx context.Context, workerID int, job *ExtractionJob) {
	log.Printf("Worker %d processing message for scope %s (attempt %d)", workerID, job.Scope, job.Attempt)

	// Apply quadratic backoff for retries to give the upstream time to recover
	if job.Attempt > 0 {
		backoffDuration := time.Duration(job.Attempt*job.Attempt) * e.config.RetryBackoff // 100ms, 400ms, 900ms...
		log.Printf("Worker %d: Waiting %v before retry (attempt %d)", workerID, backoffDuration, job.Attempt)
		select {
		case <-time.After(backoffDuration):
		case <-ctx.Done():
			log.Printf("Worker %d: Shutdown during backoff, dropping job for scope %s", workerID, job.Scope)
			return
		}
	}

	ws, ok := e.workspaces.lookup(job.Scope)
	if !ok {
		log.Printf("Worker %d: Scope %s no longer exists, dropping job", workerID, job.Scope)
		return
	}

	unlock := e.scopeLocks.lock(job.Scope)
	result, err := e.pipeline.RunSince(ctx, job.Scope, ws.memories, job.Message, job.Generation)
	unlock()

	if err != nil {
		if errors.Is(err, storage.ErrStaleGeneration) {
			log.Printf("Worker %d: Memories of scope %s were reset after the message was queued, discarding job", workerID, job.Scope)
			e.emit(EventExtractionDiscarded(job.Scope, err.Error()))
			return
		}
		if errors.Is(err, llm.ErrUpstream) && e.requeueExtractionJob(job) {
			return
		}
		log.Printf("ERROR: Worker %d extraction failed for scope %s: %v", workerID, job.Scope, err)
		e.emit(EventExtractionFailed(job.Scope, err.Error()))
		return
	}

	e.publishResult(result)

	log.Printf("Worker %d completed extraction for scope %s (created=%d, updated=%d, skipped=%d)",
		workerID, job.Scope, len(result.Created), len(result.Updated), result.Skipped)
}

// publishResult forwards the per-memory events of a pipeline run and the
// completion event to the event callback.
func (e *Engine) publishResult(result *ExtractionResult) {
	for _, m := range result.Created {
		e.emit(EventMemoryCreated(result.Scope, m.ID))
	}
	for _, m := range result.Updated {
		e.emit(EventMemoryUpdated(result.Scope, m.ID))
	}
	e.emit(EventExtractionCompleted(result.Scope, len(result.Created)+len(result.Updated)))
}

// startWorkerPool starts the worker goroutines.
func (e *Engine) startWorkerPool(ctx context.Context, queue <-chan *ExtractionJob) {
	for i := 0; i < e.config.NumWorkers; i++ {
		e.workerWaitGroup.Add(1)
		go e.extractionWorker(ctx, i, queue)
	}

	log.Printf("Started %d extraction workers", e.config.NumWorkers)
}

// stopWorkerPool waits for the workers to drain the closed queue. When the
// wait times out or ctx ends, in-flight reasoning calls are cancelled and
// the remaining jobs are dropped.
func (e *Engine) stopWorkerPool(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		e.workerWaitGroup.Wait()
		close(done)
	}()

	defer e.workerCancel()

	select {
	case <-done:
		log.Println("All extraction workers finished gracefully")
		return nil
	case <-time.After(e.config.ShutdownTimeout):
		log.Printf("WARNING: Shutdown timeout reached, %d extraction jobs may be dropped", len(e.extractionQueue))
		return nil
	case <-ctx.Done():
		log.Printf("WARNING: Context cancelled, %d extraction jobs may be dropped", len(e.extractionQueue))
		return ctx.Err()
	}
}
