package engine

import (
	"fmt"
	"strings"

	"github.com/lexmesh/lexmesh/core"
	"github.com/lexmesh/lexmesh/internal/util"
	"github.com/lexmesh/lexmesh/model"
)

// toModelMessages replays stored thread messages in insertion order as
// provider messages. System entries are not part of the provider history.
func toModelMessages(thread []core.Message) []model.Message {
	out := make([]model.Message, 0, len(thread))

	for _, m := range thread {
		switch m.Role {
		case core.MessageRoleUser:
			out = append(out, model.Message{Role: model.RoleUser, Text: m.Content})
		case core.MessageRoleAssistant:
			out = append(out, model.Message{Role: model.RoleAssistant, Text: m.Content, ToolCalls: m.ToolCalls})
		case core.MessageRoleTool:
			out = append(out, model.Message{Role: model.RoleTool, ToolResults: m.ToolResults})
		}
	}

	return out
}

// estimateTokens approximates the token count of a request at four
// characters per token.
func estimateTokens(system string, msgs []model.Message) int {
	chars := len([]rune(system))

	for _, m := range msgs {
		chars += len([]rune(m.Text))
		for _, c := range m.ToolCalls {
			chars += len(c.Name) + len(c.Arguments)
		}

		for _, r := range m.ToolResults {
			chars += len([]rune(r.Content))
		}
	}

	return chars / 4
}

// compress keeps the first message and the most recent keep messages. The
// tail never starts with a tool turn whose assistant request was dropped.
func compress(msgs []model.Message, keep int) []model.Message {
	if keep <= 0 || len(msgs) <= keep+1 {
		return msgs
	}

	start := len(msgs) - keep
	for start < len(msgs) && msgs[start].Role == model.RoleTool {
		start++
	}

	head := msgs[:1]
	if head[0].Role != model.RoleUser {
		head = nil
	}

	out := make([]model.Message, 0, len(head)+len(msgs)-start)
	out = append(out, head...)
	out = append(out, msgs[start:]...)

	return out
}

// systemPrompt renders the agent's prompt template against the request
// context and appends the context as a sorted key/value section.
func systemPrompt(agent *core.Agent, context map[string]string) (string, error) {
	vars := make(map[string]any, len(context)+3)
	for k, v := range context {
		vars[k] = v
	}

	vars["agent_name"] = agent.Name
	vars["agent_role"] = string(agent.Role)
	vars["tenant_id"] = agent.TenantID

	prompt, err := util.RenderTemplate(agent.SystemPrompt, vars)
	if err != nil {
		return "", fmt.Errorf("render system prompt: %w", err)
	}

	if len(context) == 0 {
		return prompt, nil
	}

	var b strings.Builder

	b.WriteString(prompt)
	b.WriteString("\n\nContext:")

	for _, k := range util.SortedKeys(context) {
		fmt.Fprintf(&b, "\n- %s: %s", k, context[k])
	}

	return b.String(), nil
}
