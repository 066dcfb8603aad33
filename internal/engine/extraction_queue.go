package engine

import (
	"log"
	"strings"
	"time"
)

// ProcessMessage queues a user message for memory extraction in the given
// scope. It never blocks and never fails the caller: when the engine is not
// running, extraction is disabled or the queue is full, the job is dropped
// with a log line. The return value reports whether the job was queued.
func (e *Engine) ProcessMessage(scope, message string) bool {
	if !e.config.ExtractionEnabled || e.pipeline == nil {
		return false
	}

	if strings.TrimSpace(message) == "" {
		return false
	}

	return e.queueExtractionJob(e.createExtractionJob(scope, message, 0))
}

// queueExtractionJob attempts to queue an extraction job.
// Returns true if the job was queued successfully, false if the queue is full or closed.
func (e *Engine) queueExtractionJob(job *ExtractionJob) bool {
	// The read lock keeps Shutdown from closing the queue mid-send.
	e.mu.RLock()
	defer e.mu.RUnlock()

	if !e.started || e.shuttingDown {
		log.Printf("WARNING: Engine not running, dropping extraction job for scope %s", job.Scope)
		return false
	}

	// Try to queue (non-blocking)
	select {
	case e.extractionQueue <- job:
		return true
	default:
		log.Printf("WARNING: Extraction queue full (size=%d), dropping job for scope %s",
			e.config.QueueSize, job.Scope)
		return false
	}
}

// createExtractionJob creates a new extraction job stamped with the current
// memory generation of scope.
func (e *Engine) createExtractionJob(scope, message string, attempt int) *ExtractionJob {
	job := &ExtractionJob{
		Scope:     scope,
		Message:   message,
		Timestamp: time.Now(),
		Attempt:   attempt,
	}
	if ws, ok := e.workspaces.lookup(scope); ok {
		job.Generation = ws.memories.Generation()
	}
	return job
}

// requeueExtractionJob attempts to requeue a failed extraction job.
// Returns true if the job was requeued, false if max retries exceeded or queue full.
func (e *Engine) requeueExtractionJob(job *ExtractionJob) bool {
	// Check if max retries exceeded
	if job.Attempt >= e.config.MaxRetries {
		log.Printf("Max retries (%d) exceeded for scope %s, giving up",
			e.config.MaxRetries, job.Scope)
		return false
	}

	e.mu.RLock()
	defer e.mu.RUnlock()

	if e.shuttingDown || !e.started {
		log.Printf("WARNING: Failed to requeue job for scope %s, shutdown in progress", job.Scope)
		return false
	}

	job.Attempt++

	select {
	case e.extractionQueue <- job:
		log.Printf("Requeued extraction job for scope %s (attempt %d/%d)",
			job.Scope, job.Attempt, e.config.MaxRetries)
		return true
	default:
		log.Printf("WARNING: Failed to requeue job for scope %s, queue full", job.Scope)
		return false
	}
}
