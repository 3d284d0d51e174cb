package tracing

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func TestContextValues(t *testing.T) {
	t.Run("should round-trip all values", func(t *testing.T) {
		ctx := context.Background()
		ctx = WithTraceID(ctx, "trace-1")
		ctx = WithExecutionID(ctx, "exec-1")
		ctx = WithProjectID(ctx, "proj-1")
		ctx = WithConversationID(ctx, "conv-1")
		ctx = WithAuthToken(ctx, "tok-1")

		assert.Equal(t, "trace-1", GetTraceID(ctx))
		assert.Equal(t, "exec-1", GetExecutionID(ctx))
		assert.Equal(t, "proj-1", GetProjectID(ctx))
		assert.Equal(t, "conv-1", GetConversationID(ctx))
		assert.Equal(t, "tok-1", GetAuthToken(ctx))
	})

	t.Run("should return empty strings for missing values", func(t *testing.T) {
		ctx := context.Background()

		assert.Empty(t, GetTraceID(ctx))
		assert.Empty(t, GetExecutionID(ctx))
		assert.Empty(t, GetAuthToken(ctx))
	})

	t.Run("should generate unique trace IDs", func(t *testing.T) {
		assert.NotEqual(t, NewTraceID(), NewTraceID())
	})

	t.Run("should build context from trace context", func(t *testing.T) {
		tc := &TraceContext{
			TraceID:     "trace-2",
			ExecutionID: "exec-2",
		}

		ctx := NewContext(context.Background(), tc)

		assert.Equal(t, "trace-2", GetTraceID(ctx))
		assert.Equal(t, "exec-2", GetExecutionID(ctx))
		assert.Empty(t, GetProjectID(ctx))
	})
}

func TestScope(t *testing.T) {
	t.Run("should capture and restore onto a fresh context", func(t *testing.T) {
		ctx := context.Background()
		ctx = WithTraceID(ctx, "trace-3")
		ctx = WithExecutionID(ctx, "exec-3")
		ctx = WithAuthToken(ctx, "secret")

		scope := Snapshot(ctx)
		restored := scope.Apply(context.Background())

		assert.Equal(t, "trace-3", GetTraceID(restored))
		assert.Equal(t, "exec-3", GetExecutionID(restored))
		assert.Equal(t, "secret", GetAuthToken(restored))
	})

	t.Run("should leave empty fields unset", func(t *testing.T) {
		scope := Snapshot(context.Background())
		restored := scope.Apply(context.Background())

		assert.Empty(t, GetTraceID(restored))
		assert.Empty(t, GetAuthToken(restored))
	})
}

func TestLoggerFromContext(t *testing.T) {
	t.Run("should not panic with empty context", func(t *testing.T) {
		logger := zerolog.Nop()
		assert.NotPanics(t, func() {
			LoggerFromContext(context.Background(), logger)
		})
	})
}
