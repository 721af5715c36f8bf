// Package postgres implements core.Store on PostgreSQL via a pgx pool.
package postgres

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/lexmesh/lexmesh/core"
)

//go:embed schema.sql
var schema string

// Store is a PostgreSQL backed core.Store.
type Store struct {
	pool *pgxpool.Pool
}

var _ core.Store = (*Store)(nil)

// Open connects to the database and ensures the schema exists.
func Open(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connecting to postgres: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging postgres: %w", err)
	}

	s := &Store{pool: pool}
	if err := s.CreateSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return s, nil
}

// CreateSchema creates missing tables and indexes.
func (s *Store) CreateSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("creating schema: %w", err)
	}

	return nil
}

// Close releases the pool.
func (s *Store) Close() {
	s.pool.Close()
}

func jsonArg(v any) ([]byte, error) {
	return json.Marshal(v)
}

func nonNil[T any](v []T) []T {
	if v == nil {
		return []T{}
	}

	return v
}

// AppendMessage implements core.ConversationStore.
func (s *Store) AppendMessage(ctx context.Context, m *core.Message) error {
	if m.ID == "" {
		m.ID = core.NewID()
	}

	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}

	calls, err := jsonArg(nonNil(m.ToolCalls))
	if err != nil {
		return fmt.Errorf("encoding tool calls: %w", err)
	}

	results, err := jsonArg(nonNil(m.ToolResults))
	if err != nil {
		return fmt.Errorf("encoding tool results: %w", err)
	}

	_, err = s.pool.Exec(ctx, `INSERT INTO lexmesh_messages
		(id, tenant_id, thread_id, sender_user_id, sender_agent_id, recipient_agent_id, role, content,
		 tool_calls, tool_results, input_tokens, output_tokens, latency_ns, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9::jsonb, $10::jsonb, $11, $12, $13, $14)`,
		m.ID, m.TenantID, m.ThreadID, m.SenderUserID, m.SenderAgentID, m.RecipientAgentID, string(m.Role),
		m.Content, string(calls), string(results), m.InputTokens, m.OutputTokens, int64(m.Latency), m.CreatedAt)
	if err != nil {
		return fmt.Errorf("inserting message: %w", err)
	}

	return nil
}

// ListThread implements core.ConversationStore.
func (s *Store) ListThread(ctx context.Context, tenantID, threadID string) ([]core.Message, error) {
	rows, err := s.pool.Query(ctx, `SELECT id, tenant_id, thread_id, sender_user_id, sender_agent_id,
		recipient_agent_id, role, content, tool_calls, tool_results, input_tokens, output_tokens, latency_ns, created_at
		FROM lexmesh_messages WHERE tenant_id = $1 AND thread_id = $2 ORDER BY seq`, tenantID, threadID)
	if err != nil {
		return nil, fmt.Errorf("querying thread: %w", err)
	}
	defer rows.Close()

	var out []core.Message

	for rows.Next() {
		var (
			m              core.Message
			role           string
			calls, results []byte
			latency        int64
		)

		if err := rows.Scan(&m.ID, &m.TenantID, &m.ThreadID, &m.SenderUserID, &m.SenderAgentID,
			&m.RecipientAgentID, &role, &m.Content, &calls, &results, &m.InputTokens, &m.OutputTokens,
			&latency, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning message: %w", err)
		}

		m.Role = core.MessageRole(role)
		m.Latency = time.Duration(latency)

		if err := json.Unmarshal(calls, &m.ToolCalls); err != nil {
			return nil, fmt.Errorf("decoding tool calls of %s: %w", m.ID, err)
		}

		if err := json.Unmarshal(results, &m.ToolResults); err != nil {
			return nil, fmt.Errorf("decoding tool results of %s: %w", m.ID, err)
		}

		if len(m.ToolCalls) == 0 {
			m.ToolCalls = nil
		}

		if len(m.ToolResults) == 0 {
			m.ToolResults = nil
		}

		out = append(out, m)
	}

	return out, rows.Err()
}

// CountThread implements core.ConversationStore.
func (s *Store) CountThread(ctx context.Context, tenantID, threadID string) (int, error) {
	var n int
	if err := s.pool.QueryRow(ctx, "SELECT COUNT(*) FROM lexmesh_messages WHERE tenant_id = $1 AND thread_id = $2",
		tenantID, threadID).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting thread: %w", err)
	}

	return n, nil
}

// CreateTask implements core.TaskStore.
func (s *Store) CreateTask(ctx context.Context, t *core.Task) error {
	if t.ID == "" {
		t.ID = core.NewID()
	}

	if t.StartedAt.IsZero() {
		t.StartedAt = time.Now().UTC()
	}

	_, err := s.pool.Exec(ctx, `INSERT INTO lexmesh_tasks
		(id, tenant_id, agent_id, thread_id, task_type, trigger_type, status, input, output, error,
		 escalation_reason, notification_id, input_tokens, output_tokens, started_at, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`,
		t.ID, t.TenantID, t.AgentID, t.ThreadID, t.TaskType, string(t.Trigger), string(t.Status), t.Input,
		t.Output, t.Error, t.EscalationReason, t.NotificationID, t.InputTokens, t.OutputTokens,
		t.StartedAt, t.CompletedAt)
	if err != nil {
		return fmt.Errorf("inserting task: %w", err)
	}

	return nil
}

// UpdateTask implements core.TaskStore.
func (s *Store) UpdateTask(ctx context.Context, t *core.Task) error {
	tag, err := s.pool.Exec(ctx, `UPDATE lexmesh_tasks SET status = $1, output = $2, error = $3,
		escalation_reason = $4, notification_id = $5, input_tokens = $6, output_tokens = $7, completed_at = $8
		WHERE tenant_id = $9 AND id = $10`,
		string(t.Status), t.Output, t.Error, t.EscalationReason, t.NotificationID, t.InputTokens,
		t.OutputTokens, t.CompletedAt, t.TenantID, t.ID)
	if err != nil {
		return fmt.Errorf("updating task: %w", err)
	}

	if tag.RowsAffected() == 0 {
		return core.ErrNotFound
	}

	return nil
}

const taskColumns = `id, tenant_id, agent_id, thread_id, task_type, trigger_type, status, input, output, error,
	escalation_reason, notification_id, input_tokens, output_tokens, started_at, completed_at`

func scanTask(row pgx.Row) (*core.Task, error) {
	var (
		t               core.Task
		trigger, status string
	)

	if err := row.Scan(&t.ID, &t.TenantID, &t.AgentID, &t.ThreadID, &t.TaskType, &trigger, &status, &t.Input,
		&t.Output, &t.Error, &t.EscalationReason, &t.NotificationID, &t.InputTokens, &t.OutputTokens,
		&t.StartedAt, &t.CompletedAt); err != nil {
		return nil, err
	}

	t.Trigger = core.TriggerType(trigger)
	t.Status = core.TaskStatus(status)

	return &t, nil
}

// GetTask implements core.TaskStore.
func (s *Store) GetTask(ctx context.Context, tenantID, taskID string) (*core.Task, error) {
	t, err := scanTask(s.pool.QueryRow(ctx, "SELECT "+taskColumns+" FROM lexmesh_tasks WHERE tenant_id = $1 AND id = $2",
		tenantID, taskID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, core.ErrNotFound
	}

	if err != nil {
		return nil, fmt.Errorf("getting task: %w", err)
	}

	return t, nil
}

// ListTasksByAgent implements core.TaskStore.
func (s *Store) ListTasksByAgent(ctx context.Context, tenantID, agentID string, limit int) ([]core.Task, error) {
	var limitArg any
	if limit > 0 {
		limitArg = limit
	}

	rows, err := s.pool.Query(ctx, "SELECT "+taskColumns+` FROM lexmesh_tasks
		WHERE tenant_id = $1 AND agent_id = $2 ORDER BY started_at DESC, seq DESC LIMIT $3`, tenantID, agentID, limitArg)
	if err != nil {
		return nil, fmt.Errorf("listing tasks: %w", err)
	}
	defer rows.Close()

	var out []core.Task

	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning task: %w", err)
		}

		out = append(out, *t)
	}

	return out, rows.Err()
}

// SaveAgent implements core.AgentDirectory as an upsert.
func (s *Store) SaveAgent(ctx context.Context, a *core.Agent) error {
	if a.ID == "" {
		a.ID = core.NewID()
	}

	skills, err := jsonArg(nonNil(a.Skills))
	if err != nil {
		return fmt.Errorf("encoding skills: %w", err)
	}

	_, err = s.pool.Exec(ctx, `INSERT INTO lexmesh_agents
		(id, tenant_id, role, name, model, system_prompt, temperature, max_tokens, active, skills)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10::jsonb)
		ON CONFLICT (tenant_id, id) DO UPDATE SET role = EXCLUDED.role, name = EXCLUDED.name,
		model = EXCLUDED.model, system_prompt = EXCLUDED.system_prompt, temperature = EXCLUDED.temperature,
		max_tokens = EXCLUDED.max_tokens, active = EXCLUDED.active, skills = EXCLUDED.skills`,
		a.ID, a.TenantID, string(a.Role), a.Name, a.Model, a.SystemPrompt, a.Temperature, a.MaxTokens,
		a.Active, string(skills))
	if err != nil {
		return fmt.Errorf("saving agent: %w", err)
	}

	return nil
}

const agentColumns = "id, tenant_id, role, name, model, system_prompt, temperature, max_tokens, active, skills"

func scanAgent(row pgx.Row) (*core.Agent, error) {
	var (
		a      core.Agent
		role   string
		skills []byte
	)

	if err := row.Scan(&a.ID, &a.TenantID, &role, &a.Name, &a.Model, &a.SystemPrompt, &a.Temperature,
		&a.MaxTokens, &a.Active, &skills); err != nil {
		return nil, err
	}

	a.Role = core.Role(role)

	if err := json.Unmarshal(skills, &a.Skills); err != nil {
		return nil, fmt.Errorf("decoding skills of %s: %w", a.ID, err)
	}

	if len(a.Skills) == 0 {
		a.Skills = nil
	}

	return &a, nil
}

// GetAgent implements core.AgentDirectory.
func (s *Store) GetAgent(ctx context.Context, tenantID, agentID string) (*core.Agent, error) {
	a, err := scanAgent(s.pool.QueryRow(ctx, "SELECT "+agentColumns+" FROM lexmesh_agents WHERE tenant_id = $1 AND id = $2",
		tenantID, agentID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, core.ErrNotFound
	}

	if err != nil {
		return nil, fmt.Errorf("getting agent: %w", err)
	}

	return a, nil
}

// FindActiveByRole implements core.AgentDirectory. With several active
// agents for a role the lowest id wins.
func (s *Store) FindActiveByRole(ctx context.Context, tenantID string, role core.Role) (*core.Agent, error) {
	a, err := scanAgent(s.pool.QueryRow(ctx, "SELECT "+agentColumns+` FROM lexmesh_agents
		WHERE tenant_id = $1 AND role = $2 AND active ORDER BY id LIMIT 1`, tenantID, string(role)))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, core.ErrNotFound
	}

	if err != nil {
		return nil, fmt.Errorf("finding agent by role: %w", err)
	}

	return a, nil
}

// ListActive implements core.AgentDirectory, ordered by id.
func (s *Store) ListActive(ctx context.Context, tenantID string) ([]core.Agent, error) {
	rows, err := s.pool.Query(ctx, "SELECT "+agentColumns+" FROM lexmesh_agents WHERE tenant_id = $1 AND active ORDER BY id", tenantID)
	if err != nil {
		return nil, fmt.Errorf("listing agents: %w", err)
	}
	defer rows.Close()

	var out []core.Agent

	for rows.Next() {
		a, err := scanAgent(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning agent: %w", err)
		}

		out = append(out, *a)
	}

	return out, rows.Err()
}

// DesignatedApprover implements core.ApproverDirectory.
func (s *Store) DesignatedApprover(ctx context.Context, tenantID string) (string, error) {
	var id string

	err := s.pool.QueryRow(ctx, "SELECT approver_id FROM lexmesh_approvers WHERE tenant_id = $1", tenantID).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", core.ErrNotFound
	}

	if err != nil {
		return "", fmt.Errorf("getting approver: %w", err)
	}

	return id, nil
}

// SetApprover implements core.ApproverDirectory.
func (s *Store) SetApprover(ctx context.Context, tenantID, approverID string) error {
	_, err := s.pool.Exec(ctx, `INSERT INTO lexmesh_approvers (tenant_id, approver_id) VALUES ($1, $2)
		ON CONFLICT (tenant_id) DO UPDATE SET approver_id = EXCLUDED.approver_id`, tenantID, approverID)
	if err != nil {
		return fmt.Errorf("setting approver: %w", err)
	}

	return nil
}

// Notify implements core.Notifier by storing the notification.
func (s *Store) Notify(ctx context.Context, n *core.Notification) (string, error) {
	if n.ID == "" {
		n.ID = core.NewID()
	}

	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now().UTC()
	}

	nctx, err := jsonArg(n.Context)
	if err != nil {
		return "", fmt.Errorf("encoding notification context: %w", err)
	}

	_, err = s.pool.Exec(ctx, `INSERT INTO lexmesh_notifications
		(id, tenant_id, recipient_id, agent_id, task_id, title, body, context, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8::jsonb, $9)`,
		n.ID, n.TenantID, n.RecipientID, n.AgentID, n.TaskID, n.Title, n.Body, string(nctx), n.CreatedAt)
	if err != nil {
		return "", fmt.Errorf("inserting notification: %w", err)
	}

	return n.ID, nil
}

// Record implements core.AuditLog.
func (s *Store) Record(ctx context.Context, e *core.AuditEntry) error {
	if e.ID == "" {
		e.ID = core.NewID()
	}

	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}

	details, err := jsonArg(e.Details)
	if err != nil {
		return fmt.Errorf("encoding audit details: %w", err)
	}

	_, err = s.pool.Exec(ctx, `INSERT INTO lexmesh_audit_log
		(id, tenant_id, actor_id, action, entity_type, entity_id, details, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7::jsonb, $8)`,
		e.ID, e.TenantID, e.ActorID, e.Action, e.EntityType, e.EntityID, string(details), e.CreatedAt)
	if err != nil {
		return fmt.Errorf("inserting audit entry: %w", err)
	}

	return nil
}
