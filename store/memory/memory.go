// Package memory provides a volatile core.Store kept in process memory. It is
// safe for concurrent access and best suited for tests and demos. Stored
// values are copied on the way in and out.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/lexmesh/lexmesh/core"
)

// Store implements core.Store.
type Store struct {
	mu            sync.RWMutex
	threads       map[string][]core.Message
	tasks         map[string]core.Task
	agents        map[string]core.Agent
	approvers     map[string]string
	notifications []core.Notification
	audit         []core.AuditEntry
	seq           int64
	taskSeq       map[string]int64
}

var _ core.Store = (*Store)(nil)

// New creates an empty Store.
func New() *Store {
	return &Store{
		threads:   map[string][]core.Message{},
		tasks:     map[string]core.Task{},
		agents:    map[string]core.Agent{},
		approvers: map[string]string{},
		taskSeq:   map[string]int64{},
	}
}

func key(tenantID, id string) string { return tenantID + "/" + id }

func copyMessage(m core.Message) core.Message {
	m.ToolCalls = append([]core.ToolCall(nil), m.ToolCalls...)
	m.ToolResults = append([]core.ToolResult(nil), m.ToolResults...)

	return m
}

// AppendMessage implements core.ConversationStore.
func (s *Store) AppendMessage(_ context.Context, msg *core.Message) error {
	if msg.ID == "" {
		msg.ID = core.NewID()
	}

	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	k := key(msg.TenantID, msg.ThreadID)
	s.threads[k] = append(s.threads[k], copyMessage(*msg))

	return nil
}

// ListThread implements core.ConversationStore.
func (s *Store) ListThread(_ context.Context, tenantID, threadID string) ([]core.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stored := s.threads[key(tenantID, threadID)]

	out := make([]core.Message, len(stored))
	for i, m := range stored {
		out[i] = copyMessage(m)
	}

	return out, nil
}

// CountThread implements core.ConversationStore.
func (s *Store) CountThread(_ context.Context, tenantID, threadID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.threads[key(tenantID, threadID)]), nil
}

// CreateTask implements core.TaskStore.
func (s *Store) CreateTask(_ context.Context, task *core.Task) error {
	if task.ID == "" {
		task.ID = core.NewID()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	k := key(task.TenantID, task.ID)
	s.seq++
	s.taskSeq[k] = s.seq
	s.tasks[k] = *task

	return nil
}

// UpdateTask implements core.TaskStore.
func (s *Store) UpdateTask(_ context.Context, task *core.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := key(task.TenantID, task.ID)
	if _, ok := s.tasks[k]; !ok {
		return core.ErrNotFound
	}

	s.tasks[k] = *task

	return nil
}

// GetTask implements core.TaskStore.
func (s *Store) GetTask(_ context.Context, tenantID, taskID string) (*core.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.tasks[key(tenantID, taskID)]
	if !ok {
		return nil, core.ErrNotFound
	}

	return &t, nil
}

// ListTasksByAgent implements core.TaskStore.
func (s *Store) ListTasksByAgent(_ context.Context, tenantID, agentID string, limit int) ([]core.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []core.Task

	for _, t := range s.tasks {
		if t.TenantID == tenantID && t.AgentID == agentID {
			out = append(out, t)
		}
	}

	sort.Slice(out, func(i, j int) bool {
		return s.taskSeq[key(tenantID, out[i].ID)] > s.taskSeq[key(tenantID, out[j].ID)]
	})

	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}

	return out, nil
}

// SaveAgent implements core.AgentDirectory.
func (s *Store) SaveAgent(_ context.Context, agent *core.Agent) error {
	if agent.ID == "" {
		agent.ID = core.NewID()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.agents[key(agent.TenantID, agent.ID)] = *agent.Clone()

	return nil
}

// GetAgent implements core.AgentDirectory.
func (s *Store) GetAgent(_ context.Context, tenantID, agentID string) (*core.Agent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.agents[key(tenantID, agentID)]
	if !ok {
		return nil, core.ErrNotFound
	}

	return a.Clone(), nil
}

// FindActiveByRole implements core.AgentDirectory. With several active
// agents for a role the lowest id wins.
func (s *Store) FindActiveByRole(ctx context.Context, tenantID string, role core.Role) (*core.Agent, error) {
	active, _ := s.ListActive(ctx, tenantID)
	for i := range active {
		if active[i].Role == role {
			return &active[i], nil
		}
	}

	return nil, core.ErrNotFound
}

// ListActive implements core.AgentDirectory, ordered by id.
func (s *Store) ListActive(_ context.Context, tenantID string) ([]core.Agent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []core.Agent

	for _, a := range s.agents {
		if a.TenantID == tenantID && a.Active {
			out = append(out, *a.Clone())
		}
	}

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })

	return out, nil
}

// DesignatedApprover implements core.ApproverDirectory.
func (s *Store) DesignatedApprover(_ context.Context, tenantID string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.approvers[tenantID]
	if !ok {
		return "", core.ErrNotFound
	}

	return id, nil
}

// SetApprover implements core.ApproverDirectory.
func (s *Store) SetApprover(_ context.Context, tenantID, approverID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.approvers[tenantID] = approverID

	return nil
}

// Notify implements core.Notifier.
func (s *Store) Notify(_ context.Context, n *core.Notification) (string, error) {
	if n.ID == "" {
		n.ID = core.NewID()
	}

	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.notifications = append(s.notifications, *n)

	return n.ID, nil
}

// Notifications returns the tenant's notifications in delivery order.
func (s *Store) Notifications(tenantID string) []core.Notification {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []core.Notification

	for _, n := range s.notifications {
		if n.TenantID == tenantID {
			out = append(out, n)
		}
	}

	return out
}

// Record implements core.AuditLog.
func (s *Store) Record(_ context.Context, entry *core.AuditEntry) error {
	if entry.ID == "" {
		entry.ID = core.NewID()
	}

	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.audit = append(s.audit, *entry)

	return nil
}

// AuditEntries returns the tenant's audit entries in write order.
func (s *Store) AuditEntries(tenantID string) []core.AuditEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []core.AuditEntry

	for _, e := range s.audit {
		if e.TenantID == tenantID {
			out = append(out, e)
		}
	}

	return out
}
