package stream

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	m := NewManager(Config{
		Logger: zerolog.Nop(),
	})
	t.Cleanup(func() { m.Close() })
	return m
}

func TestCreate(t *testing.T) {
	t.Run("should create execution with unique id and empty log", func(t *testing.T) {
		m := newTestManager(t)

		e1 := m.Create("proj", "conv")
		e2 := m.Create("proj", "conv")

		assert.NotEmpty(t, e1.ID)
		assert.NotEqual(t, e1.ID, e2.ID)
		assert.Equal(t, "proj", e1.ProjectID)
		assert.Equal(t, "conv", e1.ConversationID)
		assert.Zero(t, e1.EventCount())
		assert.False(t, e1.IsComplete())
	})
}

func TestGetRemove(t *testing.T) {
	t.Run("should look up stored executions", func(t *testing.T) {
		m := newTestManager(t)
		e := m.Create("proj", "conv")

		assert.Same(t, e, m.Get(e.ID))
	})

	t.Run("should return nil for unknown or removed ids", func(t *testing.T) {
		m := newTestManager(t)
		e := m.Create("proj", "conv")

		assert.Nil(t, m.Get("no-such-id"))

		m.Remove(e.ID)
		assert.Nil(t, m.Get(e.ID))
	})

	t.Run("should tolerate removing an absent id", func(t *testing.T) {
		m := newTestManager(t)
		assert.NotPanics(t, func() { m.Remove("no-such-id") })
	})
}

func TestCleanup(t *testing.T) {
	t.Run("should sweep terminal executions past retention on create", func(t *testing.T) {
		m := newTestManager(t)

		stale := m.Create("proj", "conv")
		stale.MarkComplete()

		// Advance the sweep clock past the retention window
		m.now = func() time.Time { return stale.CreatedAt.Add(DefaultRetention + time.Second) }

		m.Create("proj", "conv")

		assert.Nil(t, m.Get(stale.ID))
		assert.Equal(t, 1, m.Count())
	})

	t.Run("should keep young terminal executions", func(t *testing.T) {
		m := newTestManager(t)

		young := m.Create("proj", "conv")
		young.MarkComplete()

		m.now = func() time.Time { return young.CreatedAt.Add(DefaultRetention - time.Second) }
		m.Create("proj", "conv")

		assert.NotNil(t, m.Get(young.ID))
	})

	t.Run("should keep old executions that are still running", func(t *testing.T) {
		m := newTestManager(t)

		running := m.Create("proj", "conv")

		m.now = func() time.Time { return running.CreatedAt.Add(DefaultRetention + time.Hour) }
		m.Create("proj", "conv")

		assert.NotNil(t, m.Get(running.ID))
	})
}

func TestStart(t *testing.T) {
	t.Run("should leave a clean producer return un-terminated", func(t *testing.T) {
		m := newTestManager(t)
		e := m.Create("proj", "conv")

		done := make(chan struct{})
		m.Start(e, func(ctx context.Context) error {
			e.AddEvent(map[string]interface{}{"type": "progress"})
			close(done)
			return nil
		})

		<-done
		m.Close()

		// Terminal bookkeeping on success belongs to the producer
		assert.False(t, e.IsComplete())
		assert.Equal(t, 1, e.EventCount())
	})

	t.Run("should record producer failures as errors", func(t *testing.T) {
		m := newTestManager(t)
		e := m.Create("proj", "conv")

		m.Start(e, func(ctx context.Context) error {
			return errors.New("model exploded")
		})

		require.Eventually(t, e.IsComplete, time.Second, 5*time.Millisecond)
		assert.Contains(t, e.Err(), "model exploded")
		assert.False(t, e.IsCancelled())

		events := e.Events()
		require.Len(t, events, 2)
		assert.Equal(t, "error", events[0].Data["type"])
	})

	t.Run("should reword stream closed failures", func(t *testing.T) {
		m := newTestManager(t)
		e := m.Create("proj", "conv")

		m.Start(e, func(ctx context.Context) error {
			return errors.New("rpc failure: Stream closed by peer")
		})

		require.Eventually(t, e.IsComplete, time.Second, 5*time.Millisecond)
		assert.Contains(t, e.Err(), "Agent communication interrupted")
		assert.Contains(t, e.Err(), "Stream closed by peer")
	})

	t.Run("should contain producer panics", func(t *testing.T) {
		m := newTestManager(t)
		e := m.Create("proj", "conv")

		m.Start(e, func(ctx context.Context) error {
			panic("unexpected state")
		})

		require.Eventually(t, e.IsComplete, time.Second, 5*time.Millisecond)
		assert.Contains(t, e.Err(), "panic: unexpected state")
	})

	t.Run("should record runtime cancellation with flags only", func(t *testing.T) {
		m := newTestManager(t)
		e := m.Create("proj", "conv")

		started := make(chan struct{})
		m.Start(e, func(ctx context.Context) error {
			close(started)
			<-ctx.Done()
			return ctx.Err()
		})

		<-started
		// Cancel the driver context directly, bypassing Cancel()
		e.mu.Lock()
		cancel := e.cancelTask
		e.mu.Unlock()
		cancel()

		require.Eventually(t, e.IsComplete, time.Second, 5*time.Millisecond)
		assert.True(t, e.IsCancelled())
		// A cancellation detected by the driver appends no events
		assert.Zero(t, e.EventCount())
	})

	t.Run("should record producer errors raised during shutdown", func(t *testing.T) {
		m := NewManager(Config{Logger: zerolog.Nop()})
		e := m.Create("proj", "conv")

		started := make(chan struct{})
		m.Start(e, func(ctx context.Context) error {
			close(started)
			<-ctx.Done()
			return errors.New("backend connection lost")
		})

		<-started
		require.NoError(t, m.Close())

		assert.True(t, e.IsComplete())
		assert.False(t, e.IsCancelled())
		assert.Contains(t, e.Err(), "backend connection lost")
	})

	t.Run("should append cancel events only through explicit cancel", func(t *testing.T) {
		m := newTestManager(t)
		e := m.Create("proj", "conv")

		started := make(chan struct{})
		finished := make(chan struct{})
		m.Start(e, func(ctx context.Context) error {
			close(started)
			<-ctx.Done()
			defer close(finished)
			return ctx.Err()
		})

		<-started
		require.True(t, e.Cancel())
		<-finished

		assert.True(t, e.IsCancelled())
		assert.True(t, e.IsComplete())

		events := e.Events()
		require.Len(t, events, 2)
		assert.Equal(t, "stream.cancelled", events[0].Data["type"])
		assert.Equal(t, "stream.completed", events[1].Data["type"])
		assert.Equal(t, false, events[1].Data["is_error"])
	})
}

func TestTerminal(t *testing.T) {
	t.Run("should list only terminal executions", func(t *testing.T) {
		m := newTestManager(t)

		done := m.Create("proj", "conv")
		done.MarkComplete()
		m.Create("proj", "conv")

		terminal := m.Terminal()
		require.Len(t, terminal, 1)
		assert.Equal(t, done.ID, terminal[0].ID)
	})
}
