// Package toolbridge wraps synchronous external callables as awaitable
// tool invocations with progress heartbeats, cancellation, and structured
// error translation. No error ever propagates past an invocation: every
// outcome is folded into a result envelope.
package toolbridge

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/xeipuuv/gojsonschema"
	"github.com/yudha/arus/internal/observability"
	"github.com/yudha/arus/internal/tracing"
	"github.com/yudha/arus/pkg/workpool"
)

// DefaultHeartbeatInterval is the fixed heartbeat cadence while a tool
// call is in flight.
const DefaultHeartbeatInterval = 10 * time.Second

// Callable is the synchronous external operation behind a tool. It may
// block; the bridge always runs it on the shared worker pool.
type Callable func(ctx context.Context, args map[string]interface{}) (interface{}, error)

// Definition declares one tool: name, description, JSON-schema parameter
// declaration, and the callable.
type Definition struct {
	Name        string
	Description string
	InputSchema map[string]interface{}
	Fn          Callable
}

// ContentBlock is one entry of a result envelope
type ContentBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// Result is the invocation envelope. Errors are carried in-band: IsError
// plus a human-readable message in Content.
type Result struct {
	Content []ContentBlock `json:"content"`
	IsError bool           `json:"is_error,omitempty"`
}

// Heartbeat is a periodic progress signal emitted while a tool call is in
// flight. It carries no semantic payload beyond elapsed time and count.
type Heartbeat struct {
	Tool    string
	Count   int
	Elapsed time.Duration
}

// HeartbeatFunc receives heartbeat signals during an invocation
type HeartbeatFunc func(Heartbeat)

type registeredTool struct {
	def    Definition
	params []Parameter
	schema *gojsonschema.Schema
}

// Bridge holds registered tools and runs invocations on a shared pool
type Bridge struct {
	tools     map[string]*registeredTool
	pool      *workpool.Pool
	heartbeat time.Duration
	timeout   time.Duration
	logger    zerolog.Logger
	mu        sync.RWMutex
}

// Config holds bridge configuration
type Config struct {
	Pool              *workpool.Pool
	HeartbeatInterval time.Duration
	Timeout           time.Duration // 0 means no overall timeout
	Logger            zerolog.Logger
}

// New creates a new tool bridge
func New(cfg Config) (*Bridge, error) {
	observability.EnsureRegistered()

	if cfg.Pool == nil {
		return nil, fmt.Errorf("worker pool is required")
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = DefaultHeartbeatInterval
	}

	return &Bridge{
		tools:     make(map[string]*registeredTool),
		pool:      cfg.Pool,
		heartbeat: cfg.HeartbeatInterval,
		timeout:   cfg.Timeout,
		logger:    cfg.Logger,
	}, nil
}

// Register adds a tool definition to the bridge
func (b *Bridge) Register(def Definition) error {
	if def.Name == "" {
		return fmt.Errorf("tool name cannot be empty")
	}
	if def.Fn == nil {
		return fmt.Errorf("tool callable cannot be nil")
	}

	params := ParametersFromSchema(def.InputSchema)
	schema, err := compileSchema(params)
	if err != nil {
		return fmt.Errorf("invalid tool definition %s: %w", def.Name, err)
	}

	b.mu.Lock()
	b.tools[def.Name] = &registeredTool{def: def, params: params, schema: schema}
	b.mu.Unlock()

	b.logger.Info().Str("tool", def.Name).Msg("Tool registered")
	return nil
}

// Unregister removes a tool
func (b *Bridge) Unregister(name string) {
	b.mu.Lock()
	delete(b.tools, name)
	b.mu.Unlock()
}

// List returns all registered tool names
func (b *Bridge) List() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()

	names := make([]string, 0, len(b.tools))
	for name := range b.tools {
		names = append(names, name)
	}
	return names
}

// Parameters returns the declared parameters for a tool, nil when unknown
func (b *Bridge) Parameters(name string) []Parameter {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if tool, ok := b.tools[name]; ok {
		out := make([]Parameter, len(tool.params))
		copy(out, tool.params)
		return out
	}
	return nil
}

// Invoke runs a registered tool. The callable executes on the shared
// worker pool with the caller's request scope explicitly re-applied;
// heartbeats fire every interval until the call settles. Cancelling ctx
// abandons the wait but not the in-flight callable, which holds its
// worker until it returns on its own.
func (b *Bridge) Invoke(ctx context.Context, name string, args map[string]interface{}, onHeartbeat HeartbeatFunc) Result {
	startTime := time.Now()

	b.mu.RLock()
	tool := b.tools[name]
	b.mu.RUnlock()

	if tool == nil {
		return errorResult(fmt.Sprintf("Error: tool not found: %s", name))
	}

	logger := tracing.LoggerFromContext(ctx, b.logger).With().Str("tool", name).Logger()
	logger.Info().Interface("args", args).Msg("Tool invoked")

	parsed := normalizeArgs(args)

	if err := validateArgs(tool.schema, parsed); err != nil {
		logger.Warn().Err(err).Msg("Parameter validation failed")
		observability.RecordToolInvocation(name, time.Since(startTime), "invalid")
		return errorResult(fmt.Sprintf("Error: parameter validation failed: %v", err))
	}

	// Capture request-scoped values explicitly: the pool task runs on a
	// context that is not a descendant of the request context.
	scope := tracing.Snapshot(ctx)
	fn := tool.def.Fn

	resultCh := b.pool.Submit(ctx, func(taskCtx context.Context) (interface{}, error) {
		return fn(scope.Apply(taskCtx), parsed)
	})

	var deadline <-chan time.Time
	if b.timeout > 0 {
		timer := time.NewTimer(b.timeout)
		defer timer.Stop()
		deadline = timer.C
	}

	ticker := time.NewTicker(b.heartbeat)
	defer ticker.Stop()

	heartbeatCount := 0
	for {
		select {
		case res := <-resultCh:
			elapsed := time.Since(startTime)
			if res.Err != nil {
				logger.Error().Err(res.Err).Dur("elapsed", elapsed).Msg("Tool failed")
				observability.RecordToolInvocation(name, elapsed, "error")
				return errorResult(fmt.Sprintf(
					"Error (%T): %v\n\nThis error occurred after %.2fs. If this is a long-running operation, it may have exceeded the stream timeout.",
					res.Err, res.Err, elapsed.Seconds(),
				))
			}

			text, err := json.Marshal(res.Value)
			if err != nil {
				text = []byte(fmt.Sprintf("%v", res.Value))
			}
			logger.Info().Dur("elapsed", elapsed).Int("result_bytes", len(text)).Msg("Tool completed")
			observability.RecordToolInvocation(name, elapsed, "ok")
			return Result{Content: []ContentBlock{{Type: "text", Text: string(text)}}}

		case <-ctx.Done():
			elapsed := time.Since(startTime)
			if ctx.Err() == context.DeadlineExceeded {
				logger.Error().Dur("elapsed", elapsed).Msg("Tool timed out")
				observability.RecordToolInvocation(name, elapsed, "timeout")
				return errorResult(fmt.Sprintf("Error: Tool execution timed out after %.2fs: %v", elapsed.Seconds(), ctx.Err()))
			}
			logger.Warn().Dur("elapsed", elapsed).Msg("Tool invocation cancelled")
			observability.RecordToolInvocation(name, elapsed, "cancelled")
			return errorResult(fmt.Sprintf("Error: Tool execution cancelled after %.2fs (likely due to stream timeout)", elapsed.Seconds()))

		case <-deadline:
			elapsed := time.Since(startTime)
			logger.Error().Dur("elapsed", elapsed).Msg("Tool timed out")
			observability.RecordToolInvocation(name, elapsed, "timeout")
			return errorResult(fmt.Sprintf("Error: Tool execution timed out after %.2fs", elapsed.Seconds()))

		case <-ticker.C:
			heartbeatCount++
			elapsed := time.Since(startTime)
			logger.Debug().
				Int("heartbeat", heartbeatCount).
				Dur("elapsed", elapsed).
				Msg("Tool still running")
			observability.RecordToolHeartbeat()
			if onHeartbeat != nil {
				onHeartbeat(Heartbeat{Tool: name, Count: heartbeatCount, Elapsed: elapsed})
			}
		}
	}
}

// normalizeArgs decodes textual values that structurally look like
// serialized lists or mappings. Upstream callers sometimes serialize
// structured arguments as text; decode failures keep the raw string.
func normalizeArgs(args map[string]interface{}) map[string]interface{} {
	parsed := make(map[string]interface{}, len(args))
	for key, value := range args {
		s, ok := value.(string)
		if !ok {
			parsed[key] = value
			continue
		}

		trimmed := strings.TrimSpace(s)
		if strings.HasPrefix(trimmed, "[") || strings.HasPrefix(trimmed, "{") {
			var decoded interface{}
			if err := json.Unmarshal([]byte(trimmed), &decoded); err == nil {
				parsed[key] = decoded
				continue
			}
		}
		parsed[key] = value
	}
	return parsed
}

func errorResult(message string) Result {
	return Result{
		Content: []ContentBlock{{Type: "text", Text: message}},
		IsError: true,
	}
}
