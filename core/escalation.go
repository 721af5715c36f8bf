package core

import "time"

// Notification asks a human approver to review an escalated task.
type Notification struct {
	ID          string            `json:"id"`
	TenantID    string            `json:"tenant_id"`
	RecipientID string            `json:"recipient_id"`
	AgentID     string            `json:"agent_id"`
	TaskID      string            `json:"task_id"`
	Title       string            `json:"title"`
	Body        string            `json:"body"`
	Context     map[string]string `json:"context,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
}

// AuditEntry is an immutable record of a security-relevant runtime action.
type AuditEntry struct {
	ID         string            `json:"id"`
	TenantID   string            `json:"tenant_id"`
	ActorID    string            `json:"actor_id"`
	Action     string            `json:"action"`
	EntityType string            `json:"entity_type"`
	EntityID   string            `json:"entity_id"`
	Details    map[string]string `json:"details,omitempty"`
	CreatedAt  time.Time         `json:"created_at"`
}
