package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/lexmesh/lexmesh/core"
	"github.com/lexmesh/lexmesh/model"
	"github.com/lexmesh/lexmesh/tool"
)

type outcomeKind int

const (
	outcomeFailed outcomeKind = iota
	outcomeFinal
	outcomeIterationLimit
	outcomeTimeout
	outcomeEscalated
	outcomeCancelled
)

// outcome is the loop's terminal value. Escalation is one of its variants,
// returned like any other.
type outcome struct {
	kind       outcomeKind
	text       string
	reason     string
	tool       string
	err        error
	usage      model.Usage
	iterations int
}

// loop runs the provider/tool conversation until a final answer, an
// escalation, a failure, the deadline or the iteration cap.
func (r *Runtime) loop(parent context.Context, run *execution) outcome {
	ctx, cancel := context.WithTimeout(parent, r.config.Deadline)
	defer cancel()

	// Persistence outlives the deadline so a finished turn is never lost.
	persist := context.WithoutCancel(ctx)
	agent, task := run.agent, run.task

	var out outcome

	failed := func(err error) outcome {
		out.kind = outcomeFailed
		out.err = err

		return out
	}

	if err := r.store.AppendMessage(persist, &core.Message{
		TenantID:         agent.TenantID,
		ThreadID:         task.ThreadID,
		SenderUserID:     run.req.CallerUserID,
		SenderAgentID:    run.req.CallerAgentID,
		RecipientAgentID: agent.ID,
		Role:             core.MessageRoleUser,
		Content:          core.Truncate(run.req.Input, r.config.ContentMaxChars),
	}); err != nil {
		return failed(fmt.Errorf("append user message: %w", err))
	}

	thread, err := r.store.ListThread(persist, agent.TenantID, task.ThreadID)
	if err != nil {
		return failed(fmt.Errorf("load thread: %w", err))
	}

	history := toModelMessages(thread)

	system, err := systemPrompt(agent, run.req.Context)
	if err != nil {
		return failed(err)
	}

	resolved := r.tools.ResolveForAgent(agent)
	visible := make(map[string]tool.Descriptor, len(resolved))

	for _, d := range resolved {
		visible[d.Name] = d
	}

	defs := tool.ModelDefinitions(resolved)

	if err := r.hooks.Run(ctx, &HookContext{Type: HookBeforeExecute, Agent: agent, TaskID: task.ID, ThreadID: task.ThreadID}); err != nil {
		return failed(fmt.Errorf("before execute hook: %w", err))
	}

	for i := 1; i <= run.maxIterations; i++ {
		if kind, stop := interrupted(parent, ctx); stop {
			out.kind = kind
			return out
		}

		out.iterations = i

		msgs := history
		if estimateTokens(system, msgs) > r.config.TokenBudget {
			msgs = compress(history, r.config.KeepRecent)
			run.log.Debug("engine.history.compressed", "messages", len(history), "kept", len(msgs))
		}

		if err := r.hooks.Run(ctx, &HookContext{Type: HookBeforeModel, Agent: agent, TaskID: task.ID, ThreadID: task.ThreadID, Iteration: i}); err != nil {
			return failed(fmt.Errorf("before model hook: %w", err))
		}

		resp, err := r.callModel(ctx, run, i, model.Request{
			Model:       agent.Model,
			System:      system,
			Messages:    msgs,
			Tools:       defs,
			MaxTokens:   agent.MaxTokens,
			Temperature: agent.Temperature,
		})
		if err != nil {
			if kind, stop := interrupted(parent, ctx); stop {
				out.kind = kind
				out.err = err

				return out
			}

			return failed(err)
		}

		out.usage = out.usage.Add(resp.Usage)
		if resp.Text != "" {
			out.text = resp.Text
		}

		_ = r.hooks.Run(ctx, &HookContext{Type: HookAfterModel, Agent: agent, TaskID: task.ID, ThreadID: task.ThreadID,
			Iteration: i, Duration: resp.Latency})

		stored := core.Truncate(resp.Text, r.config.ContentMaxChars)

		if err := r.store.AppendMessage(persist, &core.Message{
			TenantID:      agent.TenantID,
			ThreadID:      task.ThreadID,
			SenderAgentID: agent.ID,
			Role:          core.MessageRoleAssistant,
			Content:       stored,
			ToolCalls:     resp.ToolCalls,
			InputTokens:   resp.Usage.InputTokens,
			OutputTokens:  resp.Usage.OutputTokens,
			Latency:       resp.Latency,
		}); err != nil {
			return failed(fmt.Errorf("append assistant message: %w", err))
		}

		history = append(history, model.Message{Role: model.RoleAssistant, Text: stored, ToolCalls: resp.ToolCalls})

		if len(resp.ToolCalls) == 0 {
			out.kind = outcomeFinal
			out.text = resp.Text

			return out
		}

		results, esc := r.runTools(ctx, run, i, resp.ToolCalls, visible)

		if err := r.store.AppendMessage(persist, &core.Message{
			TenantID:      agent.TenantID,
			ThreadID:      task.ThreadID,
			SenderAgentID: agent.ID,
			Role:          core.MessageRoleTool,
			ToolResults:   results,
		}); err != nil {
			return failed(fmt.Errorf("append tool results: %w", err))
		}

		history = append(history, model.Message{Role: model.RoleTool, ToolResults: results})

		if esc != nil {
			out.kind = outcomeEscalated
			out.reason = esc.reason
			out.tool = esc.tool

			return out
		}
	}

	out.kind = outcomeIterationLimit

	return out
}

// interrupted reports whether the loop must stop because the caller went
// away or the deadline passed. A caller deadline counts as a timeout.
func interrupted(parent, ctx context.Context) (outcomeKind, bool) {
	if err := parent.Err(); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return outcomeTimeout, true
		}

		return outcomeCancelled, true
	}

	if ctx.Err() != nil {
		return outcomeTimeout, true
	}

	return 0, false
}

func (r *Runtime) callModel(ctx context.Context, run *execution, iteration int, req model.Request) (*model.Response, error) {
	ctx, span := r.tracer.Start(ctx, "engine.model_call", trace.WithSpanKind(trace.SpanKindClient), trace.WithAttributes(
		attribute.String("lexmesh.model", req.Model),
		attribute.Int("lexmesh.iteration", iteration),
		attribute.Int("lexmesh.messages", len(req.Messages)),
		attribute.Int("lexmesh.tools", len(req.Tools)),
	))
	defer span.End()

	start := time.Now()

	var (
		resp *model.Response
		err  error
	)

	if onEvent := run.req.OnEvent; onEvent != nil {
		var ch <-chan model.StreamEvent

		ch, err = r.models.Stream(ctx, req)
		if err == nil {
			resp, err = model.Collect(ch, func(ev model.StreamEvent) {
				switch ev.Type {
				case model.EventText:
					onEvent(Event{Type: EventText, Text: ev.Text})
				case model.EventToolCall:
					onEvent(Event{Type: EventToolCall, ToolCall: ev.ToolCall})
				}
			})
		}
	} else {
		resp, err = r.models.Send(ctx, req)
	}

	if err == nil && resp == nil {
		err = errors.New("model: empty response")
	}

	dur := time.Since(start)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "model call failed")
		run.log.LogModelCall(req.Model, 0, 0, dur, false, err)

		return nil, err
	}

	if resp.Latency == 0 {
		resp.Latency = dur
	}

	span.SetAttributes(
		attribute.Int64("lexmesh.input_tokens", resp.Usage.InputTokens),
		attribute.Int64("lexmesh.output_tokens", resp.Usage.OutputTokens),
		attribute.Int("lexmesh.tool_calls", len(resp.ToolCalls)),
	)
	run.log.LogModelCall(req.Model, resp.Usage.InputTokens, resp.Usage.OutputTokens, dur, true, nil)

	return resp, nil
}
