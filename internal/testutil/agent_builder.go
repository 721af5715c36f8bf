package testutil

import (
	"github.com/lexmesh/lexmesh/core"
)

// AgentBuilder helps construct agents with fluent chaining for tests.
// Example:
//
//	agent := NewAgentBuilder("org-1", core.RoleIntake).Skill("intake", true).Build()
type AgentBuilder struct {
	agent core.Agent
}

// NewAgentBuilder creates an active agent for the tenant and role with a
// deterministic id and a mock model.
func NewAgentBuilder(tenantID string, role core.Role) *AgentBuilder {
	return &AgentBuilder{agent: core.Agent{
		ID:           tenantID + "-" + string(role),
		TenantID:     tenantID,
		Role:         role,
		Name:         string(role) + " agent",
		Model:        "mock:test",
		SystemPrompt: "You are the " + string(role) + " agent.",
		Active:       true,
	}}
}

// ID overrides the agent id (chainable).
func (b *AgentBuilder) ID(id string) *AgentBuilder {
	b.agent.ID = id
	return b
}

// Model sets the provider:model identifier (chainable).
func (b *AgentBuilder) Model(m string) *AgentBuilder {
	b.agent.Model = m
	return b
}

// Prompt sets the system prompt (chainable).
func (b *AgentBuilder) Prompt(p string) *AgentBuilder {
	b.agent.SystemPrompt = p
	return b
}

// Inactive marks the agent as disabled (chainable).
func (b *AgentBuilder) Inactive() *AgentBuilder {
	b.agent.Active = false
	return b
}

// Skill adds an enabled skill (chainable).
func (b *AgentBuilder) Skill(key string, autonomous bool) *AgentBuilder {
	b.agent.Skills = append(b.agent.Skills, core.Skill{Key: key, Label: key, Enabled: true, Autonomous: autonomous})
	return b
}

// DisabledSkill adds a skill that is switched off (chainable).
func (b *AgentBuilder) DisabledSkill(key string) *AgentBuilder {
	b.agent.Skills = append(b.agent.Skills, core.Skill{Key: key, Label: key})
	return b
}

// Build returns a copy of the configured agent.
func (b *AgentBuilder) Build() *core.Agent {
	return b.agent.Clone()
}
