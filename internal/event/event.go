// Package event defines the structured progress events the engine emits
// for chunk state transitions, circuit-breaker transitions and task
// completion, plus the thread-safe emitter subscribers consume them from.
package event

import (
	"log"
	"sync/atomic"
	"time"
)

// Type represents the kind of engine event.
type Type string

const (
	// TypeTaskSubmitted indicates a task was accepted for orchestration.
	TypeTaskSubmitted Type = "task_submitted"
	// TypeTaskDecomposed indicates a task was decomposed into chunks.
	TypeTaskDecomposed Type = "task_decomposed"
	// TypeTaskCompleted indicates a task reached a terminal status.
	TypeTaskCompleted Type = "task_completed"
	// TypeChunkAssigned indicates a chunk was assigned to a worker.
	TypeChunkAssigned Type = "chunk_assigned"
	// TypeChunkStarted indicates a chunk began executing.
	TypeChunkStarted Type = "chunk_started"
	// TypeChunkSucceeded indicates a chunk completed successfully.
	TypeChunkSucceeded Type = "chunk_succeeded"
	// TypeChunkFailed indicates a chunk failed permanently.
	TypeChunkFailed Type = "chunk_failed"
	// TypeChunkRetrying indicates a chunk is waiting to retry.
	TypeChunkRetrying Type = "chunk_retrying"
	// TypeBreakerTransition indicates a circuit breaker changed state.
	TypeBreakerTransition Type = "breaker_transition"
)

// Event is one structured progress event. Fields beyond Type are set when
// applicable to the event kind.
type Event struct {
	// Type is the kind of event.
	Type Type
	// TaskID is the related task, if applicable.
	TaskID string
	// ChunkID is the related chunk, if applicable.
	ChunkID string
	// WorkerID is the related worker, if applicable.
	WorkerID string
	// Message provides additional context.
	Message string
	// Err contains error details for failure events.
	Err error
	// Attempt is the retry attempt number, for retry events.
	Attempt int
	// Timestamp is when the event occurred.
	Timestamp time.Time
}

// Emitter is a thread-safe event fan-in with a bounded buffer. Events are
// dropped, with accounting, rather than blocking the engine when the
// subscriber falls behind.
type Emitter struct {
	events  chan Event
	dropped atomic.Uint64
}

// NewEmitter creates an emitter with the given buffer size.
func NewEmitter(bufferSize int) *Emitter {
	if bufferSize <= 0 {
		bufferSize = 256
	}
	return &Emitter{events: make(chan Event, bufferSize)}
}

// Emit sends an event, stamping the timestamp if unset. A full buffer gets
// a short grace period before the event is dropped.
func (e *Emitter) Emit(ev Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}

	select {
	case e.events <- ev:
		return
	default:
	}

	select {
	case e.events <- ev:
	case <-time.After(100 * time.Millisecond):
		count := e.dropped.Add(1)
		if count%10 == 1 {
			log.Printf("[event] WARNING: buffer full, dropped event (total dropped: %d): type=%s", count, ev.Type)
		}
	}
}

// DroppedCount returns how many events have been dropped.
func (e *Emitter) DroppedCount() uint64 {
	return e.dropped.Load()
}

// Events returns the read-only channel subscribers consume.
func (e *Emitter) Events() <-chan Event {
	return e.events
}

// Close closes the event channel. Emit must not be called afterwards.
func (e *Emitter) Close() {
	close(e.events)
}
