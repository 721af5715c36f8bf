package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/lexmesh/lexmesh/core"
	"github.com/lexmesh/lexmesh/escalation"
	"github.com/lexmesh/lexmesh/tool"
)

type escalationSignal struct {
	reason string
	tool   string
}

// runTools executes the calls of one assistant turn in order. The policy is
// consulted before each handler; on escalation the remaining calls are
// answered with a status result so every call id has a matching result.
func (r *Runtime) runTools(ctx context.Context, run *execution, iteration int, calls []core.ToolCall, visible map[string]tool.Descriptor) ([]core.ToolResult, *escalationSignal) {
	results := make([]core.ToolResult, 0, len(calls))

	for i, call := range calls {
		desc, known := visible[call.Name]

		check := escalation.Check{ToolName: call.Name}
		if known {
			check.SkillKey = desc.Skill
			check.RequiresApproval = desc.RequiresApproval
		}

		if d := r.policy.ShouldEscalate(run.agent, check); d.Escalate {
			results = append(results, r.statusResult(call, "awaiting_approval", d.Reason))

			for _, rest := range calls[i+1:] {
				results = append(results, r.statusResult(rest, "skipped", "an earlier tool call is awaiting approval"))
			}

			run.log.Info("engine.tool.escalated", "tool", call.Name, "reason", d.Reason)

			return results, &escalationSignal{reason: d.Reason, tool: call.Name}
		}

		res := r.invokeTool(ctx, run, iteration, call, desc, known)
		results = append(results, res)

		if run.req.OnEvent != nil {
			run.req.OnEvent(Event{Type: EventToolResult, ToolResult: &res})
		}
	}

	return results, nil
}

func (r *Runtime) invokeTool(ctx context.Context, run *execution, iteration int, call core.ToolCall, desc tool.Descriptor, known bool) core.ToolResult {
	ctx, span := r.tracer.Start(ctx, "engine.tool_call", trace.WithAttributes(
		attribute.String("lexmesh.tool", call.Name),
		attribute.String("lexmesh.tool_call_id", call.ID),
		attribute.Int("lexmesh.iteration", iteration),
	))
	defer span.End()

	hc := &HookContext{Type: HookBeforeTool, Agent: run.agent, TaskID: run.task.ID, ThreadID: run.task.ThreadID,
		Iteration: iteration, ToolCall: &call}

	start := time.Now()

	var (
		val any
		err error
	)

	switch {
	case !known:
		err = tool.NewToolError(call.Name, fmt.Sprintf("unknown tool %q", call.Name), tool.CodeUnknownTool)
	default:
		if err = r.hooks.Run(ctx, hc); err == nil {
			val, err = desc.Call(ctx, run.agent.TenantID, call.Arguments)
		}
	}

	dur := time.Since(start)

	hc.Type, hc.ToolError, hc.Duration = HookAfterTool, err, dur
	_ = r.hooks.Run(ctx, hc)

	run.log.LogToolCall(call.Name, dur, err == nil, err)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "tool call failed")

		return core.ToolResult{CallID: call.ID, Name: call.Name, Content: r.encodeResult(errorPayload(err)), IsError: true}
	}

	return core.ToolResult{CallID: call.ID, Name: call.Name, Content: r.encodeResult(val)}
}

func errorPayload(err error) map[string]any {
	var te *tool.ToolError
	if errors.As(err, &te) {
		return map[string]any{"error": te.Message, "code": te.Code}
	}

	return map[string]any{"error": err.Error()}
}

func (r *Runtime) statusResult(call core.ToolCall, status, reason string) core.ToolResult {
	return core.ToolResult{
		CallID:  call.ID,
		Name:    call.Name,
		Content: r.encodeResult(map[string]string{"status": status, "reason": reason}),
	}
}

// encodeResult JSON-encodes a tool result and truncates it.
func (r *Runtime) encodeResult(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		b, _ = json.Marshal(map[string]string{"error": fmt.Sprintf("tool result is not encodable: %v", err)})
	}

	return core.Truncate(string(b), r.config.ToolResultMaxChars)
}
