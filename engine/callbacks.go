package engine

import (
	"context"
	"time"

	"github.com/lexmesh/lexmesh/core"
	"github.com/lexmesh/lexmesh/logging"
)

// HookType names a point in the execution lifecycle.
type HookType string

const (
	// HookBeforeExecute runs after the task is created and before the loop.
	HookBeforeExecute HookType = "before_execute"
	// HookAfterExecute runs once the task has been finalized.
	HookAfterExecute HookType = "after_execute"
	// HookBeforeModel runs before every provider call. An error fails the task.
	HookBeforeModel HookType = "before_model"
	// HookAfterModel runs after every provider call.
	HookAfterModel HookType = "after_model"
	// HookBeforeTool runs before a tool handler. An error becomes the tool's
	// error result and the handler is skipped.
	HookBeforeTool HookType = "before_tool"
	// HookAfterTool runs after a tool handler.
	HookAfterTool HookType = "after_tool"
)

// HookContext describes the lifecycle point a hook runs at. Fields that do
// not apply to the hook type are zero.
type HookContext struct {
	Type      HookType
	Agent     *core.Agent
	TaskID    string
	ThreadID  string
	Iteration int
	ToolCall  *core.ToolCall
	ToolError error
	Result    *core.Result
	Duration  time.Duration
}

// Hook observes or vetoes a lifecycle point.
type Hook interface {
	Type() HookType
	Run(ctx context.Context, hc *HookContext) error
}

// FunctionHook adapts a function to Hook.
type FunctionHook struct {
	hookType HookType
	fn       func(ctx context.Context, hc *HookContext) error
}

// NewFunctionHook wraps fn as a hook for the given type.
func NewFunctionHook(t HookType, fn func(ctx context.Context, hc *HookContext) error) *FunctionHook {
	return &FunctionHook{hookType: t, fn: fn}
}

// Type implements Hook.
func (h *FunctionHook) Type() HookType { return h.hookType }

// Run implements Hook.
func (h *FunctionHook) Run(ctx context.Context, hc *HookContext) error { return h.fn(ctx, hc) }

// Hooks keeps registered hooks grouped by type. Register before the runtime
// starts serving; Run is safe for concurrent use afterwards.
type Hooks struct {
	hooks map[HookType][]Hook
}

// NewHooks creates an empty hook set.
func NewHooks(hooks ...Hook) *Hooks {
	h := &Hooks{hooks: map[HookType][]Hook{}}
	for _, hook := range hooks {
		h.Register(hook)
	}

	return h
}

// Register adds a hook.
func (h *Hooks) Register(hook Hook) {
	h.hooks[hook.Type()] = append(h.hooks[hook.Type()], hook)
}

// Run executes the hooks of hc.Type in registration order and stops at the
// first error.
func (h *Hooks) Run(ctx context.Context, hc *HookContext) error {
	if h == nil {
		return nil
	}

	for _, hook := range h.hooks[hc.Type] {
		if err := hook.Run(ctx, hc); err != nil {
			return err
		}
	}

	return nil
}

// LoggingHook logs every lifecycle point it is registered for.
type LoggingHook struct {
	hookType HookType
	logger   logging.Logger
}

// NewLoggingHook creates a LoggingHook.
func NewLoggingHook(t HookType, logger logging.Logger) *LoggingHook {
	return &LoggingHook{hookType: t, logger: logger}
}

// Type implements Hook.
func (h *LoggingHook) Type() HookType { return h.hookType }

// Run implements Hook.
func (h *LoggingHook) Run(_ context.Context, hc *HookContext) error {
	args := []any{"hook", string(hc.Type), "task_id", hc.TaskID, "thread_id", hc.ThreadID, "iteration", hc.Iteration}
	if hc.Agent != nil {
		args = append(args, "agent_id", hc.Agent.ID)
	}

	if hc.ToolCall != nil {
		args = append(args, "tool", hc.ToolCall.Name)
	}

	if hc.Result != nil {
		args = append(args, "result_kind", string(hc.Result.Kind))
	}

	h.logger.Debug("engine.hook", args...)

	return nil
}
