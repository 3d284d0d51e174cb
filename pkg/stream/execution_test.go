package stream

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubClock makes an execution stamp events from a scripted timestamp list
func stubClock(e *Execution, timestamps ...float64) {
	i := 0
	e.now = func() float64 {
		ts := timestamps[i]
		if i < len(timestamps)-1 {
			i++
		}
		return ts
	}
}

func TestEventsSince(t *testing.T) {
	t.Run("should return all events from cursor zero", func(t *testing.T) {
		e := newExecution("exec-1", "proj", "conv")
		stubClock(e, 1, 2, 3)

		e.AddEvent(map[string]interface{}{"type": "a"})
		e.AddEvent(map[string]interface{}{"type": "b"})
		e.AddEvent(map[string]interface{}{"type": "c"})

		events, cursor := e.EventsSince(0)

		require.Len(t, events, 3)
		assert.Equal(t, "a", events[0]["type"])
		assert.Equal(t, "b", events[1]["type"])
		assert.Equal(t, "c", events[2]["type"])
		assert.Equal(t, 3.0, cursor)
	})

	t.Run("should return empty batch and keep cursor at log end", func(t *testing.T) {
		e := newExecution("exec-1", "proj", "conv")
		stubClock(e, 1, 2, 3)

		e.AddEvent(map[string]interface{}{"type": "a"})
		e.AddEvent(map[string]interface{}{"type": "b"})
		e.AddEvent(map[string]interface{}{"type": "c"})

		events, cursor := e.EventsSince(3)

		assert.Empty(t, events)
		assert.Equal(t, 3.0, cursor)
	})

	t.Run("should keep cursor unchanged on empty log", func(t *testing.T) {
		e := newExecution("exec-1", "proj", "conv")

		events, cursor := e.EventsSince(7.5)

		assert.Empty(t, events)
		assert.Equal(t, 7.5, cursor)
	})

	t.Run("should cover every event exactly once across repeated polls", func(t *testing.T) {
		e := newExecution("exec-1", "proj", "conv")
		stubClock(e, 1, 2, 3, 4, 5)

		seen := []string{}
		cursor := 0.0

		e.AddEvent(map[string]interface{}{"type": "a"})
		e.AddEvent(map[string]interface{}{"type": "b"})
		batch, cursor := e.EventsSince(cursor)
		for _, ev := range batch {
			seen = append(seen, ev["type"].(string))
		}

		e.AddEvent(map[string]interface{}{"type": "c"})
		batch, cursor = e.EventsSince(cursor)
		for _, ev := range batch {
			seen = append(seen, ev["type"].(string))
		}

		batch, _ = e.EventsSince(cursor)
		assert.Empty(t, batch)
		assert.Equal(t, []string{"a", "b", "c"}, seen)
	})

	t.Run("should return both events sharing one timestamp", func(t *testing.T) {
		e := newExecution("exec-1", "proj", "conv")
		stubClock(e, 1, 2, 2)

		e.AddEvent(map[string]interface{}{"type": "a"})
		e.AddEvent(map[string]interface{}{"type": "b"})
		e.AddEvent(map[string]interface{}{"type": "c"})

		// Filtering is against the boundary value, not a sequence index:
		// both same-instant events come back.
		events, cursor := e.EventsSince(1)

		require.Len(t, events, 2)
		assert.Equal(t, "b", events[0]["type"])
		assert.Equal(t, "c", events[1]["type"])
		assert.Equal(t, 2.0, cursor)
	})

	t.Run("should exclude events landing exactly on the cursor", func(t *testing.T) {
		e := newExecution("exec-1", "proj", "conv")
		stubClock(e, 2, 2)

		e.AddEvent(map[string]interface{}{"type": "a"})
		e.AddEvent(map[string]interface{}{"type": "b"})

		events, cursor := e.EventsSince(2)

		assert.Empty(t, events)
		assert.Equal(t, 2.0, cursor)
	})
}

func TestAddEvent(t *testing.T) {
	t.Run("should stamp strictly ordered real timestamps", func(t *testing.T) {
		e := newExecution("exec-1", "proj", "conv")

		for i := 0; i < 10; i++ {
			e.AddEvent(map[string]interface{}{"seq": i})
		}

		events := e.Events()
		require.Len(t, events, 10)
		for i := 1; i < len(events); i++ {
			assert.GreaterOrEqual(t, events[i].Timestamp, events[i-1].Timestamp)
		}
	})
}

func TestMarkComplete(t *testing.T) {
	t.Run("should append one terminal event and set the flag", func(t *testing.T) {
		e := newExecution("exec-1", "proj", "conv")

		e.MarkComplete()

		assert.True(t, e.IsComplete())
		assert.False(t, e.IsCancelled())

		events := e.Events()
		require.Len(t, events, 1)
		assert.Equal(t, "stream.completed", events[0].Data["type"])
		assert.Equal(t, false, events[0].Data["is_error"])
	})
}

func TestMarkError(t *testing.T) {
	t.Run("should append error detail before the terminal marker", func(t *testing.T) {
		e := newExecution("exec-1", "proj", "conv")

		e.MarkError("boom")

		assert.True(t, e.IsComplete())
		assert.Equal(t, "boom", e.Err())

		events := e.Events()
		require.Len(t, events, 2)
		assert.Equal(t, "error", events[0].Data["type"])
		assert.Equal(t, "boom", events[0].Data["error"])
		assert.Equal(t, "stream.completed", events[1].Data["type"])
		assert.Equal(t, true, events[1].Data["is_error"])
	})

	t.Run("should deliver error and terminal marker in one poll batch", func(t *testing.T) {
		e := newExecution("exec-1", "proj", "conv")

		e.MarkError("boom")

		events, _ := e.EventsSince(0)
		require.Len(t, events, 2)
		assert.Equal(t, "error", events[0]["type"])
		assert.Equal(t, "stream.completed", events[1]["type"])
	})
}

func TestCancel(t *testing.T) {
	t.Run("should cancel a running execution", func(t *testing.T) {
		e := newExecution("exec-1", "proj", "conv")

		ok := e.Cancel()

		assert.True(t, ok)
		assert.True(t, e.IsCancelled())
		assert.True(t, e.IsComplete())

		events := e.Events()
		require.Len(t, events, 2)
		assert.Equal(t, "stream.cancelled", events[0].Data["type"])
		assert.Equal(t, "stream.completed", events[1].Data["type"])
		// Cancellation is deliberately not an error outcome
		assert.Equal(t, false, events[1].Data["is_error"])
	})

	t.Run("should refuse to cancel a completed execution", func(t *testing.T) {
		e := newExecution("exec-1", "proj", "conv")
		e.MarkComplete()

		before := e.EventCount()
		ok := e.Cancel()

		assert.False(t, ok)
		assert.Equal(t, before, e.EventCount())
	})

	t.Run("should refuse a second cancel", func(t *testing.T) {
		e := newExecution("exec-1", "proj", "conv")

		require.True(t, e.Cancel())
		before := e.EventCount()

		assert.False(t, e.Cancel())
		assert.Equal(t, before, e.EventCount())
	})

	t.Run("should signal the bound task context", func(t *testing.T) {
		e := newExecution("exec-1", "proj", "conv")

		signalled := false
		e.cancelTask = func() { signalled = true }

		e.Cancel()
		assert.True(t, signalled)
	})
}

func TestRuntimeCancelled(t *testing.T) {
	t.Run("should set flags without appending events", func(t *testing.T) {
		e := newExecution("exec-1", "proj", "conv")

		e.markRuntimeCancelled()

		assert.True(t, e.IsCancelled())
		assert.True(t, e.IsComplete())
		assert.Zero(t, e.EventCount())
	})

	t.Run("should not touch an already terminal execution", func(t *testing.T) {
		e := newExecution("exec-1", "proj", "conv")
		e.MarkComplete()

		e.markRuntimeCancelled()

		assert.False(t, e.IsCancelled())
	})
}
