// Package sqlite implements core.Store on an embedded SQLite database.
package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/lexmesh/lexmesh/core"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

const timeLayout = time.RFC3339Nano

// Store wraps a SQLite database.
type Store struct {
	db *sql.DB
}

var _ core.Store = (*Store)(nil)

// Open opens (or creates) the database at path and runs pending migrations.
// Pass ":memory:" for an in-memory database.
func Open(path string) (*Store, error) {
	dsn := ":memory:"
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}

		dsn = "file:" + path + "?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	// One connection: in-memory databases are per connection and file
	// databases lock on concurrent writers.
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		applied_at TEXT DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return fmt.Errorf("creating schema_version table: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}

		version, err := parseMigrationVersion(entry.Name())
		if err != nil {
			return err
		}

		var exists int
		if err := s.db.QueryRow("SELECT COUNT(*) FROM schema_version WHERE version = ?", version).Scan(&exists); err != nil {
			return fmt.Errorf("checking migration %d: %w", version, err)
		}

		if exists > 0 {
			continue
		}

		content, err := migrationsFS.ReadFile("migrations/" + entry.Name())
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", entry.Name(), err)
		}

		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("beginning migration %d: %w", version, err)
		}

		if _, err := tx.Exec(string(content)); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("applying migration %d: %w", version, err)
		}

		if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", version); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("recording migration %d: %w", version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("committing migration %d: %w", version, err)
		}
	}

	return nil
}

// parseMigrationVersion extracts 1 from "001_initial.sql".
func parseMigrationVersion(name string) (int, error) {
	prefix, _, _ := strings.Cut(name, "_")

	v, err := strconv.Atoi(prefix)
	if err != nil {
		return 0, fmt.Errorf("invalid migration filename %q: %w", name, err)
	}

	return v, nil
}

func encodeJSON(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}

	return string(b), nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		t = time.Now()
	}

	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(timeLayout, s)
	return t
}

// AppendMessage implements core.ConversationStore.
func (s *Store) AppendMessage(ctx context.Context, msg *core.Message) error {
	if msg.ID == "" {
		msg.ID = core.NewID()
	}

	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}

	calls, err := encodeJSON(nonNil(msg.ToolCalls))
	if err != nil {
		return fmt.Errorf("encoding tool calls: %w", err)
	}

	results, err := encodeJSON(nonNil(msg.ToolResults))
	if err != nil {
		return fmt.Errorf("encoding tool results: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `INSERT INTO messages
		(id, tenant_id, thread_id, sender_user_id, sender_agent_id, recipient_agent_id, role, content,
		 tool_calls, tool_results, input_tokens, output_tokens, latency_ns, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		msg.ID, msg.TenantID, msg.ThreadID, msg.SenderUserID, msg.SenderAgentID, msg.RecipientAgentID,
		string(msg.Role), msg.Content, calls, results, msg.InputTokens, msg.OutputTokens,
		int64(msg.Latency), formatTime(msg.CreatedAt))
	if err != nil {
		return fmt.Errorf("inserting message: %w", err)
	}

	return nil
}

func nonNil[T any](v []T) []T {
	if v == nil {
		return []T{}
	}

	return v
}

// ListThread implements core.ConversationStore.
func (s *Store) ListThread(ctx context.Context, tenantID, threadID string) ([]core.Message, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, tenant_id, thread_id, sender_user_id, sender_agent_id,
		recipient_agent_id, role, content, tool_calls, tool_results, input_tokens, output_tokens, latency_ns, created_at
		FROM messages WHERE tenant_id = ? AND thread_id = ? ORDER BY seq`, tenantID, threadID)
	if err != nil {
		return nil, fmt.Errorf("querying thread: %w", err)
	}
	defer rows.Close()

	var out []core.Message

	for rows.Next() {
		var (
			m              core.Message
			role           string
			calls, results string
			latency        int64
			created        string
		)

		if err := rows.Scan(&m.ID, &m.TenantID, &m.ThreadID, &m.SenderUserID, &m.SenderAgentID,
			&m.RecipientAgentID, &role, &m.Content, &calls, &results, &m.InputTokens, &m.OutputTokens,
			&latency, &created); err != nil {
			return nil, fmt.Errorf("scanning message: %w", err)
		}

		m.Role = core.MessageRole(role)
		m.Latency = time.Duration(latency)
		m.CreatedAt = parseTime(created)

		if err := json.Unmarshal([]byte(calls), &m.ToolCalls); err != nil {
			return nil, fmt.Errorf("decoding tool calls of %s: %w", m.ID, err)
		}

		if err := json.Unmarshal([]byte(results), &m.ToolResults); err != nil {
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
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM messages WHERE tenant_id = ? AND thread_id = ?",
		tenantID, threadID).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting thread: %w", err)
	}

	return n, nil
}

func completedAt(t *core.Task) any {
	if t.CompletedAt == nil {
		return nil
	}

	return formatTime(*t.CompletedAt)
}

// CreateTask implements core.TaskStore.
func (s *Store) CreateTask(ctx context.Context, t *core.Task) error {
	if t.ID == "" {
		t.ID = core.NewID()
	}

	if t.StartedAt.IsZero() {
		t.StartedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `INSERT INTO tasks
		(id, tenant_id, agent_id, thread_id, task_type, trigger_type, status, input, output, error,
		 escalation_reason, notification_id, input_tokens, output_tokens, started_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.TenantID, t.AgentID, t.ThreadID, t.TaskType, string(t.Trigger), string(t.Status), t.Input,
		t.Output, t.Error, t.EscalationReason, t.NotificationID, t.InputTokens, t.OutputTokens,
		formatTime(t.StartedAt), completedAt(t))
	if err != nil {
		return fmt.Errorf("inserting task: %w", err)
	}

	return nil
}

// UpdateTask implements core.TaskStore.
func (s *Store) UpdateTask(ctx context.Context, t *core.Task) error {
	res, err := s.db.ExecContext(ctx, `UPDATE tasks SET status = ?, output = ?, error = ?, escalation_reason = ?,
		notification_id = ?, input_tokens = ?, output_tokens = ?, completed_at = ?
		WHERE tenant_id = ? AND id = ?`,
		string(t.Status), t.Output, t.Error, t.EscalationReason, t.NotificationID, t.InputTokens,
		t.OutputTokens, completedAt(t), t.TenantID, t.ID)
	if err != nil {
		return fmt.Errorf("updating task: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("updating task: %w", err)
	}

	if n == 0 {
		return core.ErrNotFound
	}

	return nil
}

const taskColumns = `id, tenant_id, agent_id, thread_id, task_type, trigger_type, status, input, output, error,
	escalation_reason, notification_id, input_tokens, output_tokens, started_at, completed_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanTask(row scanner) (*core.Task, error) {
	var (
		t               core.Task
		trigger, status string
		started         string
		completed       sql.NullString
	)

	if err := row.Scan(&t.ID, &t.TenantID, &t.AgentID, &t.ThreadID, &t.TaskType, &trigger, &status, &t.Input,
		&t.Output, &t.Error, &t.EscalationReason, &t.NotificationID, &t.InputTokens, &t.OutputTokens,
		&started, &completed); err != nil {
		return nil, err
	}

	t.Trigger = core.TriggerType(trigger)
	t.Status = core.TaskStatus(status)
	t.StartedAt = parseTime(started)

	if completed.Valid {
		ts := parseTime(completed.String)
		t.CompletedAt = &ts
	}

	return &t, nil
}

// GetTask implements core.TaskStore.
func (s *Store) GetTask(ctx context.Context, tenantID, taskID string) (*core.Task, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+taskColumns+" FROM tasks WHERE tenant_id = ? AND id = ?", tenantID, taskID)

	t, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.ErrNotFound
	}

	if err != nil {
		return nil, fmt.Errorf("getting task: %w", err)
	}

	return t, nil
}

// ListTasksByAgent implements core.TaskStore.
func (s *Store) ListTasksByAgent(ctx context.Context, tenantID, agentID string, limit int) ([]core.Task, error) {
	if limit <= 0 {
		limit = -1
	}

	rows, err := s.db.QueryContext(ctx, "SELECT "+taskColumns+` FROM tasks
		WHERE tenant_id = ? AND agent_id = ? ORDER BY started_at DESC, seq DESC LIMIT ?`, tenantID, agentID, limit)
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

	skills, err := encodeJSON(nonNil(a.Skills))
	if err != nil {
		return fmt.Errorf("encoding skills: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `INSERT INTO agents
		(id, tenant_id, role, name, model, system_prompt, temperature, max_tokens, active, skills)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (tenant_id, id) DO UPDATE SET role = excluded.role, name = excluded.name,
		model = excluded.model, system_prompt = excluded.system_prompt, temperature = excluded.temperature,
		max_tokens = excluded.max_tokens, active = excluded.active, skills = excluded.skills`,
		a.ID, a.TenantID, string(a.Role), a.Name, a.Model, a.SystemPrompt, a.Temperature, a.MaxTokens,
		a.Active, skills)
	if err != nil {
		return fmt.Errorf("saving agent: %w", err)
	}

	return nil
}

const agentColumns = "id, tenant_id, role, name, model, system_prompt, temperature, max_tokens, active, skills"

func scanAgent(row scanner) (*core.Agent, error) {
	var (
		a      core.Agent
		role   string
		skills string
	)

	if err := row.Scan(&a.ID, &a.TenantID, &role, &a.Name, &a.Model, &a.SystemPrompt, &a.Temperature,
		&a.MaxTokens, &a.Active, &skills); err != nil {
		return nil, err
	}

	a.Role = core.Role(role)

	if err := json.Unmarshal([]byte(skills), &a.Skills); err != nil {
		return nil, fmt.Errorf("decoding skills of %s: %w", a.ID, err)
	}

	if len(a.Skills) == 0 {
		a.Skills = nil
	}

	return &a, nil
}

// GetAgent implements core.AgentDirectory.
func (s *Store) GetAgent(ctx context.Context, tenantID, agentID string) (*core.Agent, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+agentColumns+" FROM agents WHERE tenant_id = ? AND id = ?", tenantID, agentID)

	a, err := scanAgent(row)
	if errors.Is(err, sql.ErrNoRows) {
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
	row := s.db.QueryRowContext(ctx, "SELECT "+agentColumns+` FROM agents
		WHERE tenant_id = ? AND role = ? AND active = 1 ORDER BY id LIMIT 1`, tenantID, string(role))

	a, err := scanAgent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.ErrNotFound
	}

	if err != nil {
		return nil, fmt.Errorf("finding agent by role: %w", err)
	}

	return a, nil
}

// ListActive implements core.AgentDirectory, ordered by id.
func (s *Store) ListActive(ctx context.Context, tenantID string) ([]core.Agent, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT "+agentColumns+" FROM agents WHERE tenant_id = ? AND active = 1 ORDER BY id", tenantID)
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

	err := s.db.QueryRowContext(ctx, "SELECT approver_id FROM approvers WHERE tenant_id = ?", tenantID).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", core.ErrNotFound
	}

	if err != nil {
		return "", fmt.Errorf("getting approver: %w", err)
	}

	return id, nil
}

// SetApprover implements core.ApproverDirectory.
func (s *Store) SetApprover(ctx context.Context, tenantID, approverID string) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO approvers (tenant_id, approver_id) VALUES (?, ?)
		ON CONFLICT (tenant_id) DO UPDATE SET approver_id = excluded.approver_id`, tenantID, approverID)
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

	nctx, err := encodeJSON(n.Context)
	if err != nil {
		return "", fmt.Errorf("encoding notification context: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `INSERT INTO notifications
		(id, tenant_id, recipient_id, agent_id, task_id, title, body, context, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		n.ID, n.TenantID, n.RecipientID, n.AgentID, n.TaskID, n.Title, n.Body, nctx, formatTime(n.CreatedAt))
	if err != nil {
		return "", fmt.Errorf("inserting notification: %w", err)
	}

	return n.ID, nil
}

// ListNotifications returns the tenant's notifications, oldest first.
func (s *Store) ListNotifications(ctx context.Context, tenantID string) ([]core.Notification, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, tenant_id, recipient_id, agent_id, task_id, title, body, context, created_at
		FROM notifications WHERE tenant_id = ? ORDER BY created_at`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("listing notifications: %w", err)
	}
	defer rows.Close()

	var out []core.Notification

	for rows.Next() {
		var (
			n             core.Notification
			nctx, created string
		)

		if err := rows.Scan(&n.ID, &n.TenantID, &n.RecipientID, &n.AgentID, &n.TaskID, &n.Title, &n.Body,
			&nctx, &created); err != nil {
			return nil, fmt.Errorf("scanning notification: %w", err)
		}

		if err := json.Unmarshal([]byte(nctx), &n.Context); err != nil {
			return nil, fmt.Errorf("decoding notification context: %w", err)
		}

		n.CreatedAt = parseTime(created)
		out = append(out, n)
	}

	return out, rows.Err()
}

// Record implements core.AuditLog.
func (s *Store) Record(ctx context.Context, e *core.AuditEntry) error {
	if e.ID == "" {
		e.ID = core.NewID()
	}

	details, err := encodeJSON(e.Details)
	if err != nil {
		return fmt.Errorf("encoding audit details: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `INSERT INTO audit_log
		(id, tenant_id, actor_id, action, entity_type, entity_id, details, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.TenantID, e.ActorID, e.Action, e.EntityType, e.EntityID, details, formatTime(e.CreatedAt))
	if err != nil {
		return fmt.Errorf("inserting audit entry: %w", err)
	}

	return nil
}

// CountAudit returns how many audit entries reference the entity.
func (s *Store) CountAudit(ctx context.Context, tenantID, entityID string) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM audit_log WHERE tenant_id = ? AND entity_id = ?",
		tenantID, entityID).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting audit entries: %w", err)
	}

	return n, nil
}
