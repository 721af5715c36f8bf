package escalation

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/lexmesh/lexmesh/core"
	"github.com/lexmesh/lexmesh/logging"
)

// DefaultThreshold is the failure count at which an agent escalates.
const DefaultThreshold = 3

// AlwaysEscalate lists tools whose every call needs human approval.
var AlwaysEscalate = []string{
	"send_communication",
	"file_court_document",
	"submit_to_notary",
	"disburse_payment",
	"sign_document",
	"delete_record",
	"publish_document",
}

// ErrNoApprover is returned by Escalate when neither the tenant nor the
// policy names an approver.
var ErrNoApprover = errors.New("escalation: no approver configured")

// Check describes the action being evaluated. Zero fields are skipped.
type Check struct {
	SkillKey         string
	ToolName         string
	RequiresApproval bool
	ErrorCount       int
}

// Decision is the outcome of ShouldEscalate.
type Decision struct {
	Escalate bool
	Reason   string
}

// Options configures a Policy.
type Options struct {
	Threshold       int
	DefaultApprover string
	Counters        CounterStore
	Logger          logging.Logger
	// Extra names additional tools that always escalate.
	Extra []string
}

// Policy evaluates and raises escalations.
type Policy struct {
	approvers core.ApproverDirectory
	notifier  core.Notifier
	audit     core.AuditLog
	always    map[string]bool
	opts      Options
}

// New creates a Policy writing notifications and audit entries to the given
// collaborators.
func New(approvers core.ApproverDirectory, notifier core.Notifier, audit core.AuditLog, optFns ...func(o *Options)) *Policy {
	opts := Options{
		Threshold:       DefaultThreshold,
		DefaultApprover: "admin",
		Logger:          logging.NoOpLogger{},
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	if opts.Threshold <= 0 {
		opts.Threshold = DefaultThreshold
	}

	if opts.Counters == nil {
		opts.Counters = NewMemoryCounters()
	}

	always := make(map[string]bool, len(AlwaysEscalate)+len(opts.Extra))
	for _, name := range append(append([]string{}, AlwaysEscalate...), opts.Extra...) {
		always[name] = true
	}

	return &Policy{approvers: approvers, notifier: notifier, audit: audit, always: always, opts: opts}
}

// Threshold returns the configured failure threshold.
func (p *Policy) Threshold() int { return p.opts.Threshold }

// ShouldEscalate decides whether the action needs a human. Checks run in a
// fixed order and the first match wins.
func (p *Policy) ShouldEscalate(agent *core.Agent, c Check) Decision {
	if c.ToolName != "" && p.always[c.ToolName] {
		return Decision{Escalate: true, Reason: fmt.Sprintf("tool %s always requires human approval", c.ToolName)}
	}

	if c.ToolName != "" && c.RequiresApproval {
		return Decision{Escalate: true, Reason: fmt.Sprintf("tool %s requires human approval", c.ToolName)}
	}

	if c.SkillKey != "" {
		if skill, ok := agent.Skill(c.SkillKey); ok && skill.Enabled && !skill.Autonomous {
			return Decision{Escalate: true, Reason: fmt.Sprintf("skill %s is not autonomous", c.SkillKey)}
		}
	}

	if c.ErrorCount >= p.opts.Threshold {
		return Decision{Escalate: true, Reason: fmt.Sprintf("%d consecutive failures", c.ErrorCount)}
	}

	return Decision{}
}

// Escalate notifies the tenant's approver about the task and records an
// audit entry. It returns the notification id.
func (p *Policy) Escalate(ctx context.Context, agent *core.Agent, reason, taskID string, details map[string]string) (string, error) {
	approver, err := p.approver(ctx, agent.TenantID)
	if err != nil {
		return "", err
	}

	n := &core.Notification{
		ID:          core.NewID(),
		TenantID:    agent.TenantID,
		RecipientID: approver,
		AgentID:     agent.ID,
		TaskID:      taskID,
		Title:       fmt.Sprintf("Approval required: %s", agent.Name),
		Body:        notificationBody(agent, reason, details),
		Context:     details,
		CreatedAt:   time.Now().UTC(),
	}

	id, err := p.notifier.Notify(ctx, n)
	if err != nil {
		return "", fmt.Errorf("notify approver: %w", err)
	}

	entry := &core.AuditEntry{
		ID:         core.NewID(),
		TenantID:   agent.TenantID,
		ActorID:    agent.ID,
		Action:     "agent.escalated",
		EntityType: "task",
		EntityID:   taskID,
		Details:    map[string]string{"reason": reason, "notification_id": id, "approver_id": approver},
		CreatedAt:  time.Now().UTC(),
	}

	if err := p.audit.Record(ctx, entry); err != nil {
		return id, fmt.Errorf("record escalation audit: %w", err)
	}

	p.opts.Logger.Info("escalation.raised",
		"tenant_id", agent.TenantID, "agent_id", agent.ID, "task_id", taskID,
		"notification_id", id, "reason", reason)

	return id, nil
}

func (p *Policy) approver(ctx context.Context, tenantID string) (string, error) {
	id, err := p.approvers.DesignatedApprover(ctx, tenantID)
	switch {
	case err == nil && id != "":
		return id, nil
	case err != nil && !errors.Is(err, core.ErrNotFound):
		return "", fmt.Errorf("resolve approver: %w", err)
	case p.opts.DefaultApprover != "":
		return p.opts.DefaultApprover, nil
	default:
		return "", ErrNoApprover
	}
}

func notificationBody(agent *core.Agent, reason string, details map[string]string) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Agent %s (%s) paused and needs your decision.\nReason: %s", agent.Name, agent.Role, reason)

	keys := make([]string, 0, len(details))
	for k := range details {
		keys = append(keys, k)
	}

	sort.Strings(keys)

	for _, k := range keys {
		fmt.Fprintf(&b, "\n%s: %s", k, details[k])
	}

	return b.String()
}

// RecordFailure increments the agent's failure counter and returns it.
func (p *Policy) RecordFailure(ctx context.Context, agent *core.Agent) (int, error) {
	return p.opts.Counters.Incr(ctx, agent.TenantID, agent.ID)
}

// RecordSuccess resets the agent's failure counter.
func (p *Policy) RecordSuccess(ctx context.Context, agent *core.Agent) error {
	return p.opts.Counters.Reset(ctx, agent.TenantID, agent.ID)
}

// FailureCount returns the agent's current failure count.
func (p *Policy) FailureCount(ctx context.Context, agent *core.Agent) (int, error) {
	return p.opts.Counters.Get(ctx, agent.TenantID, agent.ID)
}
