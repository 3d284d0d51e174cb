package stream

import (
	"context"
	"sync"
	"time"

	"github.com/yudha/arus/internal/observability"
)

// Event is a single event from an execution stream
type Event struct {
	Timestamp float64                `json:"timestamp"`
	Data      map[string]interface{} `json:"data"`
}

// Execution manages a background agent execution with event accumulation.
//
// Events are stored in an append-only list for cursor-based retrieval. The
// execution can be cancelled, and removal from the registry happens through
// the Manager's retention sweep or an explicit Remove.
type Execution struct {
	ID             string
	ProjectID      string
	ConversationID string
	CreatedAt      time.Time

	mu          sync.Mutex
	events      []Event
	isComplete  bool
	isCancelled bool
	errMsg      string
	cancelTask  context.CancelFunc

	// now is the event clock, overridable in tests
	now func() float64
}

func newExecution(id, projectID, conversationID string) *Execution {
	return &Execution{
		ID:             id,
		ProjectID:      projectID,
		ConversationID: conversationID,
		CreatedAt:      time.Now(),
		now: func() float64 {
			return float64(time.Now().UnixNano()) / float64(time.Second)
		},
	}
}

// AddEvent appends an event to the stream, stamped with the current wall
// clock. Appends are visible to pollers immediately.
func (e *Execution) AddEvent(data map[string]interface{}) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.appendLocked(data)
}

func (e *Execution) appendLocked(data map[string]interface{}) {
	e.events = append(e.events, Event{
		Timestamp: e.now(),
		Data:      data,
	})
	observability.RecordEventAppended()
}

// EventsSince returns all events with timestamp strictly greater than the
// cursor, plus the new cursor. The new cursor is the timestamp of the last
// stored event, or the unchanged cursor when the log is empty. Two events
// sharing one timestamp are both returned as long as that timestamp is
// above the cursor: exclusivity is against the boundary value, not a
// sequence index.
func (e *Execution) EventsSince(cursor float64) ([]map[string]interface{}, float64) {
	e.mu.Lock()
	defer e.mu.Unlock()

	newEvents := []map[string]interface{}{}
	for _, ev := range e.events {
		if ev.Timestamp > cursor {
			newEvents = append(newEvents, ev.Data)
		}
	}

	newCursor := cursor
	if len(e.events) > 0 {
		newCursor = e.events[len(e.events)-1].Timestamp
	}

	return newEvents, newCursor
}

// EventCount returns the number of stored events
func (e *Execution) EventCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.events)
}

// Events returns a copy of all stored events
func (e *Execution) Events() []Event {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]Event, len(e.events))
	copy(out, e.events)
	return out
}

// IsComplete reports whether the execution reached a terminal state
func (e *Execution) IsComplete() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.isComplete
}

// IsCancelled reports whether the execution was cancelled
func (e *Execution) IsCancelled() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.isCancelled
}

// Err returns the recorded error message, empty when none
func (e *Execution) Err() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.errMsg
}

// MarkComplete marks the execution as complete and appends the terminal
// stream.completed event. Precondition: the execution is still running;
// calling this twice appends a second terminal event.
func (e *Execution) MarkComplete() {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.isComplete = true
	e.appendLocked(map[string]interface{}{
		"type":     "stream.completed",
		"is_error": false,
	})
	observability.RecordExecutionOutcome("completed")
}

// MarkError marks the execution as failed. The error detail event precedes
// the terminal marker so pollers that stop at the first stream.completed
// still see the error in the same batch.
func (e *Execution) MarkError(errMsg string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.errMsg = errMsg
	e.isComplete = true
	e.appendLocked(map[string]interface{}{
		"type":  "error",
		"error": errMsg,
	})
	e.appendLocked(map[string]interface{}{
		"type":     "stream.completed",
		"is_error": true,
	})
	observability.RecordExecutionOutcome("errored")
}

// Cancel cancels the execution if it's still running. It returns true when
// cancellation was initiated, false when the execution is already terminal.
// Cancellation is not an error outcome: the terminal event reports
// is_error false even though the producer may be interrupted mid-flight.
func (e *Execution) Cancel() bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.isComplete || e.isCancelled {
		return false
	}

	e.isCancelled = true
	if e.cancelTask != nil {
		e.cancelTask()
	}

	e.appendLocked(map[string]interface{}{
		"type": "stream.cancelled",
	})
	e.appendLocked(map[string]interface{}{
		"type":     "stream.completed",
		"is_error": false,
	})
	e.isComplete = true
	observability.RecordExecutionOutcome("cancelled")
	return true
}

// markRuntimeCancelled records a cancellation detected by the driver rather
// than requested through Cancel: flags only, no events. This path covers
// producer contexts cancelled from outside (for example a disconnect) and
// is deliberately distinguishable from an explicit Cancel, which appends
// the stream.cancelled event sequence.
func (e *Execution) markRuntimeCancelled() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.isComplete {
		return
	}
	e.isCancelled = true
	e.isComplete = true
	observability.RecordExecutionOutcome("cancelled")
}
