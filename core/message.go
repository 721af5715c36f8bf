package core

import (
	"encoding/json"
	"time"
)

// MessageRole is the conversational role of a stored message.
type MessageRole string

const (
	MessageRoleUser      MessageRole = "user"
	MessageRoleAssistant MessageRole = "assistant"
	MessageRoleTool      MessageRole = "tool"
	MessageRoleSystem    MessageRole = "system"
)

// Valid reports whether r is a known message role.
func (r MessageRole) Valid() bool {
	switch r {
	case MessageRoleUser, MessageRoleAssistant, MessageRoleTool, MessageRoleSystem:
		return true
	}

	return false
}

// ToolCall is a tool invocation intent produced by the model.
type ToolCall struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// ToolResult is the outcome of one ToolCall, correlated by CallID.
type ToolResult struct {
	CallID  string `json:"call_id"`
	Name    string `json:"name"`
	Content string `json:"content"`
	IsError bool   `json:"is_error,omitempty"`
}

// Message is an immutable conversation entry. Within a thread, ordering by
// insertion reconstructs the exact exchange sent to the model provider.
type Message struct {
	ID               string        `json:"id"`
	TenantID         string        `json:"tenant_id"`
	ThreadID         string        `json:"thread_id"`
	SenderUserID     string        `json:"sender_user_id,omitempty"`
	SenderAgentID    string        `json:"sender_agent_id,omitempty"`
	RecipientAgentID string        `json:"recipient_agent_id,omitempty"`
	Role             MessageRole   `json:"role"`
	Content          string        `json:"content"`
	ToolCalls        []ToolCall    `json:"tool_calls,omitempty"`
	ToolResults      []ToolResult  `json:"tool_results,omitempty"`
	InputTokens      int64         `json:"input_tokens,omitempty"`
	OutputTokens     int64         `json:"output_tokens,omitempty"`
	Latency          time.Duration `json:"latency,omitempty"`
	CreatedAt        time.Time     `json:"created_at"`
}

// HasToolCalls reports whether the message carries tool invocation intents.
func (m *Message) HasToolCalls() bool { return len(m.ToolCalls) > 0 }

// Truncate shortens s to at most max runes. A max <= 0 disables truncation.
func Truncate(s string, max int) string {
	if max <= 0 {
		return s
	}

	r := []rune(s)
	if len(r) <= max {
		return s
	}

	return string(r[:max])
}
