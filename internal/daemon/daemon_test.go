package daemon

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yudha/arus/internal/config"
	"github.com/yudha/arus/internal/logger"
	"github.com/yudha/arus/pkg/gateway"
	"github.com/yudha/arus/pkg/stream"
)

func newTestConfig(t *testing.T) *config.Config {
	t.Helper()

	dataDir := t.TempDir()
	cfg := config.DefaultConfig()
	cfg.DataDir = dataDir
	cfg.Gateway.Enabled = false
	cfg.History.Path = filepath.Join(dataDir, "history.db")
	cfg.Logging.Level = "error"
	return cfg
}

func newTestDaemon(t *testing.T, cfg *config.Config) *Daemon {
	t.Helper()

	log, err := logger.New(logger.Config{Level: "error", Console: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = log.Close() })

	d, err := New(cfg, log)
	require.NoError(t, err)
	return d
}

func TestNew(t *testing.T) {
	t.Run("should reject invalid configuration", func(t *testing.T) {
		cfg := newTestConfig(t)
		cfg.Stream.RetentionSeconds = -1

		log, err := logger.New(logger.Config{Level: "error", Console: true})
		require.NoError(t, err)
		defer log.Close()

		_, err = New(cfg, log)
		assert.Error(t, err)
	})

	t.Run("should wire core modules", func(t *testing.T) {
		d := newTestDaemon(t, newTestConfig(t))

		assert.NotNil(t, d.Manager())
		assert.NotNil(t, d.Bridge())
		assert.NotNil(t, d.History())
		assert.Nil(t, d.Gateway())
	})

	t.Run("should skip history when disabled", func(t *testing.T) {
		cfg := newTestConfig(t)
		cfg.History.Enabled = false

		d := newTestDaemon(t, cfg)
		assert.Nil(t, d.History())
	})
}

func TestDaemonLifecycle(t *testing.T) {
	t.Run("should start and stop cleanly", func(t *testing.T) {
		d := newTestDaemon(t, newTestConfig(t))

		require.NoError(t, d.Start())
		status := d.Status()
		assert.True(t, status.Running)
		assert.False(t, status.StartTime.IsZero())

		require.NoError(t, d.Stop())
		assert.False(t, d.Status().Running)
	})

	t.Run("should refuse a second start", func(t *testing.T) {
		d := newTestDaemon(t, newTestConfig(t))

		require.NoError(t, d.Start())
		assert.Error(t, d.Start())
		require.NoError(t, d.Stop())
	})

	t.Run("should refuse stopping a stopped daemon", func(t *testing.T) {
		d := newTestDaemon(t, newTestConfig(t))
		assert.Error(t, d.Stop())
	})

	t.Run("should archive terminal executions on shutdown", func(t *testing.T) {
		d := newTestDaemon(t, newTestConfig(t))
		require.NoError(t, d.Start())

		execution := d.Manager().Create("proj-1", "conv-1")
		execution.AddEvent(map[string]interface{}{"type": "message"})
		execution.MarkComplete()

		store := d.History()
		require.NoError(t, d.Stop())

		count, err := store.Count()
		require.NoError(t, err)
		assert.Equal(t, 1, count)
	})
}

func TestDefaultDispatcher(t *testing.T) {
	t.Run("should fail executions until a dispatcher is installed", func(t *testing.T) {
		d := newTestDaemon(t, newTestConfig(t))
		require.NoError(t, d.Start())
		defer d.Stop()

		execution := d.Manager().Create("proj-1", "conv-1")
		producer := d.dispatcher(execution, gateway.CreateRequest{})
		d.Manager().Start(execution, producer)

		require.Eventually(t, func() bool {
			return execution.IsComplete()
		}, 2*time.Second, 10*time.Millisecond)
		assert.Contains(t, execution.Err(), "no execution dispatcher configured")
	})

	t.Run("should use an installed dispatcher", func(t *testing.T) {
		d := newTestDaemon(t, newTestConfig(t))
		require.NoError(t, d.Start())
		defer d.Stop()

		d.SetDispatcher(func(execution *stream.Execution, req gateway.CreateRequest) stream.Producer {
			return func(ctx context.Context) error {
				execution.AddEvent(map[string]interface{}{"type": "message", "text": "hi"})
				execution.MarkComplete()
				return nil
			}
		})

		execution := d.Manager().Create("proj-1", "conv-1")
		producer := d.dispatcher(execution, gateway.CreateRequest{})
		d.Manager().Start(execution, producer)

		require.Eventually(t, func() bool {
			return execution.IsComplete()
		}, 2*time.Second, 10*time.Millisecond)
		assert.Empty(t, execution.Err())
		assert.Equal(t, 2, execution.EventCount())
	})
}
