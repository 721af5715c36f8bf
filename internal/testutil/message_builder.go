package testutil

import (
	"encoding/json"

	"github.com/lexmesh/lexmesh/core"
)

// MessageBuilder accumulates thread messages for seeding stores.
type MessageBuilder struct {
	tenantID string
	threadID string
	msgs     []*core.Message
}

// NewThread starts a builder for one tenant thread.
func NewThread(tenantID, threadID string) *MessageBuilder {
	return &MessageBuilder{tenantID: tenantID, threadID: threadID}
}

func (b *MessageBuilder) add(m *core.Message) *MessageBuilder {
	m.ID = core.NewID()
	m.TenantID = b.tenantID
	m.ThreadID = b.threadID
	b.msgs = append(b.msgs, m)

	return b
}

// User appends a user turn (chainable).
func (b *MessageBuilder) User(text string) *MessageBuilder {
	return b.add(&core.Message{Role: core.MessageRoleUser, Content: text})
}

// Assistant appends an assistant text turn (chainable).
func (b *MessageBuilder) Assistant(text string) *MessageBuilder {
	return b.add(&core.Message{Role: core.MessageRoleAssistant, Content: text})
}

// ToolRound appends an assistant turn requesting one tool and the matching
// tool turn carrying its result (chainable).
func (b *MessageBuilder) ToolRound(callID, name, args, result string) *MessageBuilder {
	b.add(&core.Message{
		Role:      core.MessageRoleAssistant,
		ToolCalls: []core.ToolCall{{ID: callID, Name: name, Arguments: json.RawMessage(args)}},
	})

	return b.add(&core.Message{
		Role:        core.MessageRoleTool,
		ToolResults: []core.ToolResult{{CallID: callID, Name: name, Content: result}},
	})
}

// Build returns the accumulated messages.
func (b *MessageBuilder) Build() []*core.Message {
	return b.msgs
}
