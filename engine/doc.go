// Package engine implements the agent execution runtime of LexMesh.
//
// A Runtime takes one agent and one input and drives a bounded, tool-using
// conversation with a model provider until it produces a terminal Result.
// Every turn is persisted to the thread before the next provider call, and
// every call is recorded as a Task that never stays running.
//
// # Control Loop
//
// Each Execute call:
//
//   - creates a running task and appends the user message to the thread
//   - replays the thread as provider history, compressing the request copy
//     when its estimated size exceeds Config.TokenBudget
//   - calls the provider with the tools visible to the agent
//   - persists the assistant turn, then runs its tool calls in order
//   - stops on a final answer, an escalation, a failure, the deadline or
//     the iteration cap
//
// # Escalation
//
// The escalation policy is consulted before every tool handler. When it
// decides a call needs human approval, the handler is never run: the call
// gets an awaiting_approval result, the task becomes escalated and the
// tenant's approver is notified.
//
// Consecutive failures per agent are counted. Crossing the threshold moves a
// failed task on to escalated; any completed run resets the count.
//
// # Results
//
// Provider failures are mapped to a closed ErrorKind taxonomy and a localized
// sentence suitable for non-technical users. Only store failures surface as
// Go errors.
//
// # Observability
//
// Execute, provider calls and tool calls open OpenTelemetry spans, and the
// runtime logs through logging.RuntimeLogger. Hooks observe or veto the
// lifecycle points listed by HookType.
//
// Basic usage:
//
//	rt := engine.New(store, router, func(o *engine.Options) {
//	    o.Tools = registry
//	    o.Logger = logger
//	})
//
//	res, err := rt.Execute(ctx, engine.ExecuteRequest{Agent: agent, Input: "Summarize matter M-12"})
package engine
