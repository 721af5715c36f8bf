package practice

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lexmesh/lexmesh/core"
	"github.com/lexmesh/lexmesh/escalation"
)

func TestDefaultAgents(t *testing.T) {
	agents := DefaultAgents("org-1", "anthropic:claude-sonnet-4-5")
	require.Len(t, agents, len(core.Roles))

	seen := map[core.Role]bool{}
	for _, a := range agents {
		assert.Equal(t, "org-1", a.TenantID)
		assert.True(t, a.Active)
		assert.Equal(t, "anthropic:claude-sonnet-4-5", a.Model)
		assert.False(t, seen[a.Role], "duplicate role %s", a.Role)
		seen[a.Role] = true

		if s, ok := a.Skill(SkillDrafting); ok {
			assert.False(t, s.Autonomous, "%s drafting must need approval", a.Role)
		}
	}
}

func TestDefaultAgents_DraftingEscalates(t *testing.T) {
	c := newCatalogue(t)
	policy := escalation.New(c.threads, c.threads, c.threads)

	for _, a := range DefaultAgents("org-1", "mock:test") {
		if _, ok := a.Skill(SkillDrafting); !ok {
			continue
		}

		d, ok := c.registry.Lookup("draft_email")
		require.True(t, ok)

		decision := policy.ShouldEscalate(&a, escalation.Check{ToolName: d.Name, SkillKey: d.Skill, RequiresApproval: d.RequiresApproval})
		assert.True(t, decision.Escalate, a.Role)
	}
}
