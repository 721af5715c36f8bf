package core

import (
	"context"
	"errors"
)

// ErrNotFound is returned by stores when a tenant-scoped lookup has no match.
var ErrNotFound = errors.New("not found")

// ConversationStore is the append-only message log.
type ConversationStore interface {
	AppendMessage(ctx context.Context, msg *Message) error
	// ListThread returns the thread's messages in insertion order.
	ListThread(ctx context.Context, tenantID, threadID string) ([]Message, error)
	CountThread(ctx context.Context, tenantID, threadID string) (int, error)
}

// TaskStore persists task records.
type TaskStore interface {
	CreateTask(ctx context.Context, task *Task) error
	UpdateTask(ctx context.Context, task *Task) error
	GetTask(ctx context.Context, tenantID, taskID string) (*Task, error)
	// ListTasksByAgent returns the newest tasks first. limit <= 0 means no limit.
	ListTasksByAgent(ctx context.Context, tenantID, agentID string, limit int) ([]Task, error)
}

// AgentDirectory resolves configured agents.
type AgentDirectory interface {
	SaveAgent(ctx context.Context, agent *Agent) error
	GetAgent(ctx context.Context, tenantID, agentID string) (*Agent, error)
	FindActiveByRole(ctx context.Context, tenantID string, role Role) (*Agent, error)
	ListActive(ctx context.Context, tenantID string) ([]Agent, error)
}

// ApproverDirectory resolves the designated human approver of a tenant.
type ApproverDirectory interface {
	// DesignatedApprover returns ErrNotFound when the tenant has none configured.
	DesignatedApprover(ctx context.Context, tenantID string) (string, error)
	SetApprover(ctx context.Context, tenantID, approverID string) error
}

// Notifier delivers notifications and returns the stored notification id.
type Notifier interface {
	Notify(ctx context.Context, n *Notification) (string, error)
}

// AuditLog records audit entries.
type AuditLog interface {
	Record(ctx context.Context, entry *AuditEntry) error
}

// Store bundles every persistence concern of the runtime.
type Store interface {
	ConversationStore
	TaskStore
	AgentDirectory
	ApproverDirectory
	Notifier
	AuditLog
}
