package core

import (
	"fmt"
	"strings"
)

// Role is the organizational role an agent is bound to. The set is closed.
type Role string

const (
	RoleManagingPartner Role = "managing_partner"
	RoleAssociate       Role = "associate"
	RoleParalegal       Role = "paralegal"
	RoleIntake          Role = "intake"
	RoleBilling         Role = "billing"
	RoleMarketing       Role = "marketing"
	RoleCompliance      Role = "compliance"
	RoleAssistant       Role = "assistant"
)

// Roles lists every known role in a stable order.
var Roles = []Role{
	RoleManagingPartner,
	RoleAssociate,
	RoleParalegal,
	RoleIntake,
	RoleBilling,
	RoleMarketing,
	RoleCompliance,
	RoleAssistant,
}

// ParseRole converts a string into a Role, rejecting unknown values.
func ParseRole(s string) (Role, error) {
	r := Role(strings.ToLower(strings.TrimSpace(s)))
	if r.Valid() {
		return r, nil
	}

	return "", fmt.Errorf("unknown role %q", s)
}

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	for _, known := range Roles {
		if r == known {
			return true
		}
	}

	return false
}

func (r Role) String() string { return string(r) }

// Skill is a named capability grant on an Agent. Tools owned by a skill are
// visible only while the skill is enabled; a non-autonomous skill forces
// every one of its tools through human approval.
type Skill struct {
	Key        string `json:"key"`
	Label      string `json:"label"`
	Enabled    bool   `json:"enabled"`
	Autonomous bool   `json:"autonomous"`
}

// Agent is a tenant-scoped, role-bound persona. The runtime only reads it.
type Agent struct {
	ID       string `json:"id"`
	TenantID string `json:"tenant_id"`
	Role     Role   `json:"role"`
	Name     string `json:"name"`
	// Model is a "provider:model" identifier, e.g. "anthropic:claude-sonnet-4-5".
	Model        string  `json:"model"`
	SystemPrompt string  `json:"system_prompt"`
	Temperature  float64 `json:"temperature"`
	MaxTokens    int64   `json:"max_tokens"`
	Active       bool    `json:"active"`
	Skills       []Skill `json:"skills,omitempty"`
}

// Skill returns the skill with the given key.
func (a *Agent) Skill(key string) (Skill, bool) {
	for _, s := range a.Skills {
		if s.Key == key {
			return s, true
		}
	}

	return Skill{}, false
}

// EnabledSkills returns the keys of enabled skills in declaration order.
func (a *Agent) EnabledSkills() []string {
	keys := make([]string, 0, len(a.Skills))
	for _, s := range a.Skills {
		if s.Enabled {
			keys = append(keys, s.Key)
		}
	}

	return keys
}

// Clone returns a deep copy of the agent.
func (a *Agent) Clone() *Agent {
	c := *a
	c.Skills = append([]Skill(nil), a.Skills...)

	return &c
}
