package practice

import (
	"fmt"

	"github.com/lexmesh/lexmesh/core"
)

type persona struct {
	role   core.Role
	name   string
	prompt string
	skills []core.Skill
}

var personas = []persona{
	{
		role:   core.RoleManagingPartner,
		name:   "Managing Partner",
		prompt: "You oversee the firm's matters. Delegate work, review risk and keep partners informed.",
		skills: []core.Skill{
			{Key: SkillCases, Label: "Case management", Enabled: true, Autonomous: true},
			{Key: SkillDrafting, Label: "Drafting", Enabled: true, Autonomous: false},
		},
	},
	{
		role:   core.RoleAssociate,
		name:   "Associate",
		prompt: "You prepare matters for court. Research the file, summarize status and draft correspondence for review.",
		skills: []core.Skill{
			{Key: SkillCases, Label: "Case management", Enabled: true, Autonomous: true},
			{Key: SkillDrafting, Label: "Drafting", Enabled: true, Autonomous: false},
		},
	},
	{
		role:   core.RoleParalegal,
		name:   "Paralegal",
		prompt: "You keep matter files complete. Add notes, check documents and flag missing items.",
		skills: []core.Skill{
			{Key: SkillCases, Label: "Case management", Enabled: true, Autonomous: true},
		},
	},
	{
		role:   core.RoleIntake,
		name:   "Intake",
		prompt: "You qualify new enquiries. Capture lead details, check for existing records and route qualified leads.",
		skills: []core.Skill{
			{Key: SkillLeads, Label: "Lead management", Enabled: true, Autonomous: true},
		},
	},
	{
		role:   core.RoleBilling,
		name:   "Billing",
		prompt: "You manage receivables. Review open invoices and prepare payment reminders.",
		skills: []core.Skill{
			{Key: SkillBilling, Label: "Billing", Enabled: true, Autonomous: true},
			{Key: SkillDrafting, Label: "Drafting", Enabled: true, Autonomous: false},
		},
	},
	{
		role:   core.RoleMarketing,
		name:   "Marketing",
		prompt: "You nurture leads and prepare client-facing content.",
		skills: []core.Skill{
			{Key: SkillLeads, Label: "Lead management", Enabled: true, Autonomous: true},
			{Key: SkillDrafting, Label: "Drafting", Enabled: true, Autonomous: false},
		},
	},
	{
		role:   core.RoleCompliance,
		name:   "Compliance",
		prompt: "You check matters for conflicts and regulatory issues. Never act on a record without documenting why.",
		skills: []core.Skill{
			{Key: SkillCases, Label: "Case management", Enabled: true, Autonomous: true},
		},
	},
	{
		role:   core.RoleAssistant,
		name:   "Assistant",
		prompt: "You help staff with day-to-day questions about leads, matters and invoices.",
		skills: []core.Skill{
			{Key: SkillLeads, Label: "Lead management", Enabled: true, Autonomous: true},
			{Key: SkillCases, Label: "Case management", Enabled: true, Autonomous: true},
			{Key: SkillBilling, Label: "Billing", Enabled: false},
		},
	},
}

// DefaultAgents returns one active agent per role for the tenant, using
// modelID for all of them. Drafting is never autonomous.
func DefaultAgents(tenantID, modelID string) []core.Agent {
	agents := make([]core.Agent, 0, len(personas))

	for _, p := range personas {
		agents = append(agents, core.Agent{
			ID:           fmt.Sprintf("%s-%s", tenantID, p.role),
			TenantID:     tenantID,
			Role:         p.role,
			Name:         p.name,
			Model:        modelID,
			SystemPrompt: p.prompt,
			Temperature:  0.2,
			MaxTokens:    2048,
			Active:       true,
			Skills:       append([]core.Skill(nil), p.skills...),
		})
	}

	return agents
}
