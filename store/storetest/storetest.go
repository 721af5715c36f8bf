// Package storetest holds the behavioral suite every core.Store backend must
// pass.
package storetest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lexmesh/lexmesh/core"
	"github.com/lexmesh/lexmesh/internal/testutil"
)

// Run exercises a fresh store produced by newStore for each subtest.
func Run(t *testing.T, newStore func(t *testing.T) core.Store) {
	t.Helper()

	t.Run("thread round trip", func(t *testing.T) { testThreadRoundTrip(t, newStore(t)) })
	t.Run("threads are tenant scoped", func(t *testing.T) { testThreadTenantScope(t, newStore(t)) })
	t.Run("task lifecycle", func(t *testing.T) { testTaskLifecycle(t, newStore(t)) })
	t.Run("tasks newest first", func(t *testing.T) { testTasksNewestFirst(t, newStore(t)) })
	t.Run("agent directory", func(t *testing.T) { testAgentDirectory(t, newStore(t)) })
	t.Run("approvers", func(t *testing.T) { testApprovers(t, newStore(t)) })
	t.Run("notify and audit", func(t *testing.T) { testNotifyAndAudit(t, newStore(t)) })
}

func testThreadRoundTrip(t *testing.T, s core.Store) {
	ctx := context.Background()

	msgs := testutil.NewThread("org-1", "thread-1").
		User("Please look up matter M-1").
		ToolRound("call-1", "lookup_matter", `{"matter_id":"M-1"}`, `{"status":"open"}`).
		Assistant("Matter M-1 is open.").
		Build()

	msgs[1].InputTokens = 120
	msgs[1].OutputTokens = 30
	msgs[1].Latency = 250 * time.Millisecond
	msgs[1].SenderAgentID = "agent-1"
	msgs[2].ToolResults[0].IsError = true

	for _, m := range msgs {
		require.NoError(t, s.AppendMessage(ctx, m))
	}

	got, err := s.ListThread(ctx, "org-1", "thread-1")
	require.NoError(t, err)
	require.Len(t, got, 4)

	for i, m := range msgs {
		assert.Equal(t, m.ID, got[i].ID)
		assert.Equal(t, m.Role, got[i].Role)
		assert.Equal(t, m.Content, got[i].Content)
	}

	require.Len(t, got[1].ToolCalls, 1)
	assert.Equal(t, "call-1", got[1].ToolCalls[0].ID)
	assert.Equal(t, "lookup_matter", got[1].ToolCalls[0].Name)
	assert.JSONEq(t, `{"matter_id":"M-1"}`, string(got[1].ToolCalls[0].Arguments))
	assert.Equal(t, int64(120), got[1].InputTokens)
	assert.Equal(t, int64(30), got[1].OutputTokens)
	assert.Equal(t, 250*time.Millisecond, got[1].Latency)
	assert.Equal(t, "agent-1", got[1].SenderAgentID)

	require.Len(t, got[2].ToolResults, 1)
	assert.Equal(t, "call-1", got[2].ToolResults[0].CallID)
	assert.True(t, got[2].ToolResults[0].IsError)
	assert.False(t, got[2].CreatedAt.IsZero())

	n, err := s.CountThread(ctx, "org-1", "thread-1")
	require.NoError(t, err)
	assert.Equal(t, 4, n)
}

func testThreadTenantScope(t *testing.T, s core.Store) {
	ctx := context.Background()

	require.NoError(t, s.AppendMessage(ctx, &core.Message{TenantID: "org-1", ThreadID: "shared", Role: core.MessageRoleUser, Content: "a"}))
	require.NoError(t, s.AppendMessage(ctx, &core.Message{TenantID: "org-2", ThreadID: "shared", Role: core.MessageRoleUser, Content: "b"}))

	got, err := s.ListThread(ctx, "org-2", "shared")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "b", got[0].Content)

	empty, err := s.ListThread(ctx, "org-1", "missing")
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func testTaskLifecycle(t *testing.T, s core.Store) {
	ctx := context.Background()

	task := &core.Task{
		ID:        core.NewID(),
		TenantID:  "org-1",
		AgentID:   "agent-1",
		ThreadID:  "thread-1",
		TaskType:  "chat",
		Trigger:   core.TriggerManual,
		Status:    core.TaskRunning,
		Input:     "hello",
		StartedAt: time.Now().UTC().Truncate(time.Millisecond),
	}
	require.NoError(t, s.CreateTask(ctx, task))

	require.NoError(t, task.Transition(core.TaskFailed))
	task.Error = "provider_overloaded"
	task.InputTokens = 10
	require.NoError(t, task.Transition(core.TaskEscalated))
	task.EscalationReason = "3 consecutive failures"
	task.NotificationID = "notif-1"
	require.NoError(t, s.UpdateTask(ctx, task))

	got, err := s.GetTask(ctx, "org-1", task.ID)
	require.NoError(t, err)
	assert.Equal(t, core.TaskEscalated, got.Status)
	assert.Equal(t, "provider_overloaded", got.Error)
	assert.Equal(t, "notif-1", got.NotificationID)
	assert.Equal(t, "3 consecutive failures", got.EscalationReason)
	assert.Equal(t, int64(10), got.InputTokens)
	assert.Equal(t, core.TriggerManual, got.Trigger)
	require.NotNil(t, got.CompletedAt)

	_, err = s.GetTask(ctx, "org-2", task.ID)
	assert.True(t, errors.Is(err, core.ErrNotFound))

	err = s.UpdateTask(ctx, &core.Task{ID: "missing", TenantID: "org-1", Status: core.TaskCompleted})
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func testTasksNewestFirst(t *testing.T, s core.Store) {
	ctx := context.Background()
	base := time.Now().UTC().Add(-time.Hour).Truncate(time.Millisecond)

	var ids []string

	for i := 0; i < 3; i++ {
		task := &core.Task{
			ID: core.NewID(), TenantID: "org-1", AgentID: "agent-1", ThreadID: "t",
			Trigger: core.TriggerScheduled, Status: core.TaskRunning, StartedAt: base.Add(time.Duration(i) * time.Minute),
		}
		require.NoError(t, s.CreateTask(ctx, task))
		ids = append(ids, task.ID)
	}

	got, err := s.ListTasksByAgent(ctx, "org-1", "agent-1", 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, ids[2], got[0].ID)
	assert.Equal(t, ids[1], got[1].ID)

	all, err := s.ListTasksByAgent(ctx, "org-1", "agent-1", 0)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func testAgentDirectory(t *testing.T, s core.Store) {
	ctx := context.Background()

	intake := testutil.NewAgentBuilder("org-1", core.RoleIntake).Skill("intake", true).DisabledSkill("billing").Build()
	intake.Temperature = 0.3
	intake.MaxTokens = 2048
	billing := testutil.NewAgentBuilder("org-1", core.RoleBilling).Inactive().Build()
	other := testutil.NewAgentBuilder("org-2", core.RoleIntake).Build()

	for _, a := range []*core.Agent{intake, billing, other} {
		require.NoError(t, s.SaveAgent(ctx, a))
	}

	got, err := s.GetAgent(ctx, "org-1", intake.ID)
	require.NoError(t, err)
	assert.Equal(t, intake, got)

	found, err := s.FindActiveByRole(ctx, "org-1", core.RoleIntake)
	require.NoError(t, err)
	assert.Equal(t, intake.ID, found.ID)

	_, err = s.FindActiveByRole(ctx, "org-1", core.RoleBilling)
	assert.ErrorIs(t, err, core.ErrNotFound)

	_, err = s.GetAgent(ctx, "org-2", intake.ID)
	assert.ErrorIs(t, err, core.ErrNotFound)

	active, err := s.ListActive(ctx, "org-1")
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, intake.ID, active[0].ID)

	intake.Active = false
	require.NoError(t, s.SaveAgent(ctx, intake))

	active, err = s.ListActive(ctx, "org-1")
	require.NoError(t, err)
	assert.Empty(t, active)
}

func testApprovers(t *testing.T, s core.Store) {
	ctx := context.Background()

	_, err := s.DesignatedApprover(ctx, "org-1")
	assert.ErrorIs(t, err, core.ErrNotFound)

	require.NoError(t, s.SetApprover(ctx, "org-1", "user-1"))
	require.NoError(t, s.SetApprover(ctx, "org-1", "user-2"))

	id, err := s.DesignatedApprover(ctx, "org-1")
	require.NoError(t, err)
	assert.Equal(t, "user-2", id)
}

func testNotifyAndAudit(t *testing.T, s core.Store) {
	ctx := context.Background()

	id, err := s.Notify(ctx, &core.Notification{
		TenantID: "org-1", RecipientID: "user-1", AgentID: "agent-1", TaskID: "task-1",
		Title: "Approval required", Body: "body", Context: map[string]string{"tool": "sign_document"},
	})
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	require.NoError(t, s.Record(ctx, &core.AuditEntry{
		TenantID: "org-1", ActorID: "agent-1", Action: "agent.escalated", EntityType: "task", EntityID: "task-1",
		Details: map[string]string{"notification_id": id},
	}))
}
