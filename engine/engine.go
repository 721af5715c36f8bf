package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/lexmesh/lexmesh/core"
	"github.com/lexmesh/lexmesh/escalation"
	"github.com/lexmesh/lexmesh/logging"
	"github.com/lexmesh/lexmesh/model"
	"github.com/lexmesh/lexmesh/tool"
)

// Config defines tuning parameters of the Runtime's control loop.
type Config struct {
	// Deadline bounds the wall-clock time of one Execute call. It is checked
	// once per iteration, so a single slow provider call may overrun it.
	Deadline time.Duration

	// MaxIterations caps provider round trips when the request sets none.
	MaxIterations int

	// TokenBudget is the estimated request size above which history is
	// compressed before the provider call.
	TokenBudget int

	// KeepRecent is the number of most recent messages kept by compression,
	// in addition to the opening user message.
	KeepRecent int

	// ToolResultMaxChars truncates every encoded tool result.
	ToolResultMaxChars int

	// ContentMaxChars truncates stored message content and the task's input
	// and output.
	ContentMaxChars int

	// Language selects the user-facing message catalog ("en" or "de").
	Language string
}

// DefaultConfig provides the production defaults.
var DefaultConfig = Config{
	Deadline:           120 * time.Second,
	MaxIterations:      10,
	TokenBudget:        24000,
	KeepRecent:         20,
	ToolResultMaxChars: 4000,
	ContentMaxChars:    20000,
	Language:           "en",
}

// Options configures a Runtime using the functional options pattern.
type Options struct {
	Config Config

	// Tools is the tool catalogue. Defaults to an empty registry.
	Tools *tool.Registry

	// Policy decides escalations. Defaults to a policy over the store with
	// in-memory failure counters.
	Policy *escalation.Policy

	// Hooks observe lifecycle points.
	Hooks *Hooks

	// Logger defaults to a logger that discards everything.
	Logger *logging.RuntimeLogger

	// Tracer defaults to the global OpenTelemetry tracer provider.
	Tracer trace.Tracer
}

// Runtime executes agents: it drives the tool-using conversation with the
// model provider, consults the escalation policy before every tool call and
// durably records every message and task.
//
// Execute calls share no mutable state apart from the escalation policy's
// failure counters and the store, so a Runtime is safe for concurrent use.
type Runtime struct {
	store  core.Store
	models model.Client
	tools  *tool.Registry
	policy *escalation.Policy
	hooks  *Hooks
	logger *logging.RuntimeLogger
	tracer trace.Tracer
	config Config
}

// New creates a Runtime persisting to store and calling models.
func New(store core.Store, models model.Client, optFns ...func(o *Options)) *Runtime {
	opts := Options{Config: DefaultConfig}
	for _, fn := range optFns {
		fn(&opts)
	}

	if opts.Logger == nil {
		opts.Logger = logging.NewDiscardLogger()
	}

	if opts.Tools == nil {
		opts.Tools = tool.NewRegistry()
	}

	if opts.Policy == nil {
		opts.Policy = escalation.New(store, store, store, func(o *escalation.Options) { o.Logger = opts.Logger })
	}

	if opts.Tracer == nil {
		opts.Tracer = otel.Tracer("github.com/lexmesh/lexmesh/engine")
	}

	return &Runtime{
		store:  store,
		models: models,
		tools:  opts.Tools,
		policy: opts.Policy,
		hooks:  opts.Hooks,
		logger: opts.Logger.WithComponent("engine"),
		tracer: opts.Tracer,
		config: opts.Config,
	}
}

// Policy returns the escalation policy used by the runtime.
func (r *Runtime) Policy() *escalation.Policy { return r.policy }

// Tools returns the tool registry used by the runtime.
func (r *Runtime) Tools() *tool.Registry { return r.tools }

// Store returns the runtime's store.
func (r *Runtime) Store() core.Store { return r.store }

// EventType names a streaming event.
type EventType string

const (
	EventText       EventType = "text"
	EventToolCall   EventType = "tool_call"
	EventToolResult EventType = "tool_result"
)

// Event is a streaming notification emitted while an Execute call runs.
type Event struct {
	Type       EventType
	Text       string
	ToolCall   *core.ToolCall
	ToolResult *core.ToolResult
}

// ExecuteRequest is the single entry contract shared by human callers, the
// scheduler and the agent bus.
type ExecuteRequest struct {
	Agent *core.Agent
	Input string
	// ThreadID continues an existing thread; empty starts a new one.
	ThreadID string
	Trigger  core.TriggerType
	// MaxIterations overrides Config.MaxIterations when positive.
	MaxIterations int
	CallerUserID  string
	CallerAgentID string
	// Context is rendered into the system prompt as sorted key/value pairs.
	Context  map[string]string
	TaskType string
	// Language overrides Config.Language for user-facing messages.
	Language string
	// OnEvent switches the provider call to streaming and receives deltas.
	OnEvent func(Event)
}

// Execute runs the agent on the request and returns its terminal result.
// Only store failures are returned as errors; every other outcome, provider
// failures included, is described by the Result.
func (r *Runtime) Execute(ctx context.Context, req ExecuteRequest) (*core.Result, error) {
	agent := req.Agent
	if agent == nil {
		return nil, errors.New("engine: agent is required")
	}

	start := time.Now()
	lang := req.Language
	if lang == "" {
		lang = r.config.Language
	}

	ctx, span := r.tracer.Start(ctx, "engine.execute", trace.WithAttributes(
		attribute.String("lexmesh.tenant_id", agent.TenantID),
		attribute.String("lexmesh.agent_id", agent.ID),
		attribute.String("lexmesh.agent_role", string(agent.Role)),
		attribute.String("lexmesh.trigger", string(req.Trigger)),
	))
	defer span.End()

	if !agent.Active {
		r.logger.Info("engine.execute.disabled", "tenant_id", agent.TenantID, "agent_id", agent.ID)

		return &core.Result{
			Kind:     core.ResultDisabled,
			Message:  text(lang, msgDisabled, agent.Name),
			AgentID:  agent.ID,
			ThreadID: req.ThreadID,
			Latency:  time.Since(start),
		}, nil
	}

	run := r.newExecution(req, lang)
	span.SetAttributes(attribute.String("lexmesh.task_id", run.task.ID), attribute.String("lexmesh.thread_id", run.task.ThreadID))

	if err := r.store.CreateTask(ctx, run.task); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "create task failed")

		return nil, fmt.Errorf("create task: %w", err)
	}

	run.log.Info("engine.execute.start", "tenant_id", agent.TenantID, "agent_id", agent.ID,
		"trigger", string(run.task.Trigger), "max_iterations", run.maxIterations)

	out := r.runSafely(ctx, run)

	res, err := r.finalize(ctx, run, out)
	res.Latency = time.Since(start)

	span.SetAttributes(attribute.String("lexmesh.result_kind", string(res.Kind)), attribute.Int("lexmesh.iterations", res.Iterations))

	if res.Kind == core.ResultFailed {
		span.SetStatus(codes.Error, string(res.ErrorKind))
	}

	if err != nil {
		span.RecordError(err)
	}

	_ = r.hooks.Run(ctx, &HookContext{Type: HookAfterExecute, Agent: agent, TaskID: run.task.ID,
		ThreadID: run.task.ThreadID, Iteration: res.Iterations, Result: res, Duration: res.Latency})

	run.log.Info("engine.execute.done", "result_kind", string(res.Kind), "error_kind", string(res.ErrorKind),
		"iterations", res.Iterations, "input_tokens", res.InputTokens, "output_tokens", res.OutputTokens,
		"duration", res.Latency)

	return res, err
}

// execution carries the per-call state of one Execute.
type execution struct {
	req           ExecuteRequest
	agent         *core.Agent
	task          *core.Task
	lang          string
	maxIterations int
	log           *logging.RuntimeLogger
}

func (r *Runtime) newExecution(req ExecuteRequest, lang string) *execution {
	threadID := req.ThreadID
	if threadID == "" {
		threadID = core.NewID()
	}

	trigger := req.Trigger
	if trigger == "" {
		trigger = core.TriggerManual
	}

	taskType := req.TaskType
	if taskType == "" {
		taskType = "chat"
	}

	maxIterations := req.MaxIterations
	if maxIterations <= 0 {
		maxIterations = r.config.MaxIterations
	}

	task := &core.Task{
		ID:        core.NewID(),
		TenantID:  req.Agent.TenantID,
		AgentID:   req.Agent.ID,
		ThreadID:  threadID,
		TaskType:  taskType,
		Trigger:   trigger,
		Status:    core.TaskRunning,
		Input:     core.Truncate(req.Input, r.config.ContentMaxChars),
		StartedAt: time.Now().UTC(),
	}

	return &execution{
		req:           req,
		agent:         req.Agent,
		task:          task,
		lang:          lang,
		maxIterations: maxIterations,
		log:           r.logger.WithTask(task.ID, threadID),
	}
}

// runSafely runs the control loop and converts a panic into a failure.
func (r *Runtime) runSafely(ctx context.Context, run *execution) (out outcome) {
	defer func() {
		if rec := recover(); rec != nil {
			run.log.ErrorWithStack(fmt.Errorf("panic: %v", rec), "engine.execute.panic")
			out.kind = outcomeFailed
			out.err = fmt.Errorf("engine: recovered panic: %v", rec)
		}
	}()

	return r.loop(ctx, run)
}

// finalize transitions the task to its terminal state, applies counter and
// escalation side effects, persists the task and builds the result. Writes
// are detached from the caller's cancellation so the task never stays
// running.
func (r *Runtime) finalize(parent context.Context, run *execution, out outcome) (res *core.Result, err error) {
	ctx := context.WithoutCancel(parent)
	agent, task := run.agent, run.task

	res = &core.Result{
		AgentID:      agent.ID,
		TaskID:       task.ID,
		ThreadID:     task.ThreadID,
		InputTokens:  out.usage.InputTokens,
		OutputTokens: out.usage.OutputTokens,
		Iterations:   out.iterations,
	}

	defer func() {
		if rec := recover(); rec != nil {
			run.log.ErrorWithStack(fmt.Errorf("panic: %v", rec), "engine.finalize.panic")

			res.Kind, res.ErrorKind = core.ResultFailed, core.ErrorInternal
			res.Message = text(run.lang, msgInternal, agent.Name)
			if task.Status == core.TaskRunning {
				_ = task.Transition(core.TaskFailed)
				task.Error = string(core.ErrorInternal)
			}
		}

		task.InputTokens = out.usage.InputTokens
		task.OutputTokens = out.usage.OutputTokens

		if uerr := r.store.UpdateTask(ctx, task); uerr != nil {
			err = errors.Join(err, fmt.Errorf("update task: %w", uerr))
		}
	}()

	switch out.kind {
	case outcomeFinal:
		r.complete(ctx, run, task)
		task.Output = core.Truncate(out.text, r.config.ContentMaxChars)
		res.Kind = core.ResultCompleted
		res.Output = out.text
		res.Message = out.text

		if res.Message == "" {
			res.Message = text(run.lang, msgEmptyAnswer, agent.Name)
		}

	case outcomeIterationLimit:
		r.complete(ctx, run, task)
		res.Kind = core.ResultIterationLimit
		res.Output = out.text
		res.Message = out.text

		if res.Message == "" {
			res.Message = text(run.lang, msgIterationLimit, agent.Name)
		}

		task.Output = core.Truncate(res.Message, r.config.ContentMaxChars)

	case outcomeTimeout:
		mustTransition(task, core.TaskCompleted)
		note := text(run.lang, msgTimeout, agent.Name)
		task.Output = core.Truncate(joinNonEmpty("\n\n", out.text, note), r.config.ContentMaxChars)
		res.Kind = core.ResultTimeout
		res.Output = out.text
		res.Message = note

	case outcomeEscalated:
		mustTransition(task, core.TaskEscalated)
		r.escalate(ctx, run, res, out.reason, out.tool)
		res.Kind = core.ResultEscalated
		res.Output = out.text
		res.Message = text(run.lang, msgEscalated, agent.Name)

	case outcomeCancelled:
		mustTransition(task, core.TaskFailed)
		task.Error = errorText(core.ErrorInternal, out.err)
		res.Kind = core.ResultFailed
		res.ErrorKind = core.ErrorInternal
		res.Message = text(run.lang, msgCancelled, agent.Name)

	default:
		r.fail(ctx, run, res, out.err)
	}

	return res, err
}

func (r *Runtime) complete(ctx context.Context, run *execution, task *core.Task) {
	mustTransition(task, core.TaskCompleted)

	if err := r.policy.RecordSuccess(ctx, run.agent); err != nil {
		run.log.Warn("engine.counter.reset_failed", "error", err.Error())
	}
}

// fail marks the task failed, counts the failure and re-transitions the task
// to escalated when the count reaches the policy threshold.
func (r *Runtime) fail(ctx context.Context, run *execution, res *core.Result, cause error) {
	kind := errorKindOf(cause)

	mustTransition(run.task, core.TaskFailed)
	run.task.Error = errorText(kind, cause)

	res.Kind = core.ResultFailed
	res.ErrorKind = kind
	res.Message = text(run.lang, errorMessageKey(kind), run.agent.Name)

	run.log.Warn("engine.execute.failed", "error_kind", string(kind), "error", errString(cause))

	count, err := r.policy.RecordFailure(ctx, run.agent)
	if err != nil {
		run.log.Warn("engine.counter.increment_failed", "error", err.Error())
		return
	}

	decision := r.policy.ShouldEscalate(run.agent, escalation.Check{ErrorCount: count})
	if !decision.Escalate {
		return
	}

	mustTransition(run.task, core.TaskEscalated)
	r.escalate(ctx, run, res, decision.Reason, "")
	res.Kind = core.ResultEscalated
	res.Message = joinNonEmpty(" ", res.Message, text(run.lang, msgEscalated, run.agent.Name))
}

func (r *Runtime) escalate(ctx context.Context, run *execution, res *core.Result, reason, toolName string) {
	run.task.EscalationReason = reason
	res.EscalationReason = reason

	details := map[string]string{
		"thread_id": run.task.ThreadID,
		"trigger":   string(run.task.Trigger),
	}

	if toolName != "" {
		details["tool"] = toolName
	}

	id, err := r.policy.Escalate(ctx, run.agent, reason, run.task.ID, details)
	if err != nil {
		run.log.Error("engine.escalation.notify_failed", "error", err.Error())
	}

	run.task.NotificationID = id
	res.NotificationID = id
}

func mustTransition(task *core.Task, to core.TaskStatus) {
	if err := task.Transition(to); err != nil {
		panic(err)
	}
}

// errorKindOf maps an error to the closed user-facing taxonomy.
func errorKindOf(err error) core.ErrorKind {
	pe, ok := model.AsProviderError(err)
	if !ok {
		return core.ErrorInternal
	}

	switch pe.Kind {
	case model.ErrorKindAuth:
		return core.ErrorAuthMisconfigured
	case model.ErrorKindRateLimited, model.ErrorKindOverloaded:
		return core.ErrorProviderOverload
	case model.ErrorKindUnreachable:
		return core.ErrorProviderUnreach
	case model.ErrorKindTimeout:
		return core.ErrorProviderTimeout
	default:
		return core.ErrorProviderInternal
	}
}

func errorText(kind core.ErrorKind, err error) string {
	if err == nil {
		return string(kind)
	}

	return fmt.Sprintf("%s: %v", kind, err)
}

func errString(err error) string {
	if err == nil {
		return ""
	}

	return err.Error()
}

func joinNonEmpty(sep string, parts ...string) string {
	kept := make([]string, 0, len(parts))

	for _, p := range parts {
		if p != "" {
			kept = append(kept, p)
		}
	}

	return strings.Join(kept, sep)
}
