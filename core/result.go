package core

import "time"

// ResultKind is the machine-readable outcome of a runtime, bus or workflow call.
type ResultKind string

const (
	ResultCompleted      ResultKind = "completed"
	ResultEscalated      ResultKind = "escalated"
	ResultFailed         ResultKind = "failed"
	ResultTimeout        ResultKind = "timeout"
	ResultDisabled       ResultKind = "disabled"
	ResultIterationLimit ResultKind = "iteration_limit"
	ResultDepthExceeded  ResultKind = "depth_exceeded"
	ResultError          ResultKind = "error"
)

// Halts reports whether a chain of calls must stop after a result of this kind.
func (k ResultKind) Halts() bool {
	return k == ResultFailed || k == ResultEscalated || k == ResultDepthExceeded
}

// ErrorKind is the closed set of user-facing failure categories.
type ErrorKind string

const (
	ErrorNone              ErrorKind = ""
	ErrorAuthMisconfigured ErrorKind = "auth_misconfigured"
	ErrorProviderOverload  ErrorKind = "provider_overloaded"
	ErrorProviderUnreach   ErrorKind = "provider_unreachable"
	ErrorProviderTimeout   ErrorKind = "provider_timeout"
	ErrorProviderInternal  ErrorKind = "provider_internal"
	ErrorInternal          ErrorKind = "internal"
)

// Result is returned by every runtime entry point. Message is always a
// human-readable sentence suitable for non-technical callers.
type Result struct {
	Kind             ResultKind    `json:"kind"`
	ErrorKind        ErrorKind     `json:"error_kind,omitempty"`
	Message          string        `json:"message"`
	Output           string        `json:"output,omitempty"`
	AgentID          string        `json:"agent_id,omitempty"`
	TaskID           string        `json:"task_id,omitempty"`
	ThreadID         string        `json:"thread_id,omitempty"`
	NotificationID   string        `json:"notification_id,omitempty"`
	EscalationReason string        `json:"escalation_reason,omitempty"`
	InputTokens      int64         `json:"input_tokens"`
	OutputTokens     int64         `json:"output_tokens"`
	Iterations       int           `json:"iterations"`
	Latency          time.Duration `json:"latency"`
}
