package tracing

import (
	"context"

	"github.com/rs/zerolog"
)

// Scope is an explicit snapshot of request-scoped values. It exists to carry
// identifiers and credentials across goroutine boundaries (worker pool tasks
// run on contexts that are not descendants of the request context).
type Scope struct {
	TraceID        string
	ExecutionID    string
	ProjectID      string
	ConversationID string
	AuthToken      string
}

// Snapshot captures the request-scoped values from the context
func Snapshot(ctx context.Context) Scope {
	return Scope{
		TraceID:        GetTraceID(ctx),
		ExecutionID:    GetExecutionID(ctx),
		ProjectID:      GetProjectID(ctx),
		ConversationID: GetConversationID(ctx),
		AuthToken:      GetAuthToken(ctx),
	}
}

// Apply restores the captured values onto a fresh context
func (s Scope) Apply(ctx context.Context) context.Context {
	if s.TraceID != "" {
		ctx = WithTraceID(ctx, s.TraceID)
	}
	if s.ExecutionID != "" {
		ctx = WithExecutionID(ctx, s.ExecutionID)
	}
	if s.ProjectID != "" {
		ctx = WithProjectID(ctx, s.ProjectID)
	}
	if s.ConversationID != "" {
		ctx = WithConversationID(ctx, s.ConversationID)
	}
	if s.AuthToken != "" {
		ctx = WithAuthToken(ctx, s.AuthToken)
	}
	return ctx
}

// PropagateToLogger adds tracing context to a zerolog logger
func PropagateToLogger(ctx context.Context, logger zerolog.Logger) zerolog.Logger {
	tc := FromContext(ctx)

	if tc.TraceID != "" {
		logger = logger.With().Str("trace_id", tc.TraceID).Logger()
	}
	if tc.ExecutionID != "" {
		logger = logger.With().Str("execution_id", tc.ExecutionID).Logger()
	}
	if tc.ProjectID != "" {
		logger = logger.With().Str("project_id", tc.ProjectID).Logger()
	}
	if tc.ConversationID != "" {
		logger = logger.With().Str("conversation_id", tc.ConversationID).Logger()
	}

	return logger
}

// LoggerFromContext creates a logger with tracing context from the given context
func LoggerFromContext(ctx context.Context, baseLogger zerolog.Logger) zerolog.Logger {
	return PropagateToLogger(ctx, baseLogger)
}
