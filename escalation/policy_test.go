package escalation

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/lexmesh/lexmesh/core"
	"github.com/lexmesh/lexmesh/internal/testutil"
)

type mockCollaborators struct {
	mock.Mock
}

func (m *mockCollaborators) DesignatedApprover(ctx context.Context, tenantID string) (string, error) {
	args := m.Called(ctx, tenantID)
	return args.String(0), args.Error(1)
}

func (m *mockCollaborators) SetApprover(ctx context.Context, tenantID, approverID string) error {
	return m.Called(ctx, tenantID, approverID).Error(0)
}

func (m *mockCollaborators) Notify(ctx context.Context, n *core.Notification) (string, error) {
	args := m.Called(ctx, n)
	return args.String(0), args.Error(1)
}

func (m *mockCollaborators) Record(ctx context.Context, e *core.AuditEntry) error {
	return m.Called(ctx, e).Error(0)
}

func newPolicy(m *mockCollaborators, optFns ...func(o *Options)) *Policy {
	return New(m, m, m, optFns...)
}

func TestShouldEscalate_Order(t *testing.T) {
	agent := testutil.NewAgentBuilder("org-1", core.RoleIntake).
		Skill("intake", true).
		Skill("drafting", false).
		DisabledSkill("billing").
		Build()

	p := newPolicy(&mockCollaborators{})

	tests := []struct {
		name     string
		check    Check
		escalate bool
		reason   string
	}{
		{"always escalate wins over autonomous skill", Check{ToolName: "send_communication", SkillKey: "intake"}, true, "always requires"},
		{"tool approval flag", Check{ToolName: "create_lead", RequiresApproval: true, SkillKey: "intake"}, true, "requires human approval"},
		{"non-autonomous skill", Check{ToolName: "draft_email", SkillKey: "drafting"}, true, "not autonomous"},
		{"disabled skill is not checked", Check{SkillKey: "billing"}, false, ""},
		{"autonomous skill", Check{ToolName: "create_lead", SkillKey: "intake"}, false, ""},
		{"below threshold", Check{ErrorCount: 2}, false, ""},
		{"at threshold", Check{ErrorCount: 3}, true, "3 consecutive failures"},
		{"unknown skill", Check{SkillKey: "marketing"}, false, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := p.ShouldEscalate(agent, tt.check)
			assert.Equal(t, tt.escalate, d.Escalate)
			if tt.escalate {
				assert.Contains(t, d.Reason, tt.reason)
			} else {
				assert.Empty(t, d.Reason)
			}
		})
	}
}

func TestShouldEscalate_CustomThreshold(t *testing.T) {
	p := newPolicy(&mockCollaborators{}, func(o *Options) { o.Threshold = 5 })
	agent := testutil.NewAgentBuilder("org-1", core.RoleBilling).Build()

	assert.False(t, p.ShouldEscalate(agent, Check{ErrorCount: 4}).Escalate)
	assert.True(t, p.ShouldEscalate(agent, Check{ErrorCount: 5}).Escalate)
}

func TestShouldEscalate_AlwaysSetProperty(t *testing.T) {
	p := newPolicy(&mockCollaborators{})

	properties := gopter.NewProperties(nil)

	properties.Property("always-escalate tools escalate for any agent state", prop.ForAll(
		func(idx int, autonomous bool, errCount int) bool {
			agent := testutil.NewAgentBuilder("org-1", core.RoleAssociate).Skill("filing", autonomous).Build()
			d := p.ShouldEscalate(agent, Check{ToolName: AlwaysEscalate[idx], SkillKey: "filing", ErrorCount: errCount})
			return d.Escalate
		},
		gen.IntRange(0, len(AlwaysEscalate)-1),
		gen.Bool(),
		gen.IntRange(0, 10),
	))

	properties.Property("error count escalates exactly at the threshold", prop.ForAll(
		func(errCount int) bool {
			agent := testutil.NewAgentBuilder("org-1", core.RoleAssociate).Build()
			return p.ShouldEscalate(agent, Check{ErrorCount: errCount}).Escalate == (errCount >= DefaultThreshold)
		},
		gen.IntRange(0, 20),
	))

	properties.TestingRun(t)
}

func TestEscalate_UsesDesignatedApprover(t *testing.T) {
	m := &mockCollaborators{}
	agent := testutil.NewAgentBuilder("org-1", core.RoleIntake).Build()

	m.On("DesignatedApprover", mock.Anything, "org-1").Return("user-7", nil)
	m.On("Notify", mock.Anything, mock.MatchedBy(func(n *core.Notification) bool {
		return n.RecipientID == "user-7" && n.TaskID == "task-1" && n.TenantID == "org-1" && n.Context["tool"] == "sign_document"
	})).Return("notif-1", nil)
	m.On("Record", mock.Anything, mock.MatchedBy(func(e *core.AuditEntry) bool {
		return e.EntityID == "task-1" && e.Details["notification_id"] == "notif-1" && e.Action == "agent.escalated"
	})).Return(nil)

	id, err := newPolicy(m).Escalate(context.Background(), agent, "needs signature", "task-1", map[string]string{"tool": "sign_document"})
	require.NoError(t, err)
	assert.Equal(t, "notif-1", id)
	m.AssertExpectations(t)
	m.AssertNumberOfCalls(t, "Notify", 1)
	m.AssertNumberOfCalls(t, "Record", 1)
}

func TestEscalate_FallsBackToDefaultApprover(t *testing.T) {
	m := &mockCollaborators{}
	agent := testutil.NewAgentBuilder("org-2", core.RoleBilling).Build()

	m.On("DesignatedApprover", mock.Anything, "org-2").Return("", core.ErrNotFound)
	m.On("Notify", mock.Anything, mock.MatchedBy(func(n *core.Notification) bool {
		return n.RecipientID == "partner-on-call"
	})).Return("notif-2", nil)
	m.On("Record", mock.Anything, mock.Anything).Return(nil)

	p := newPolicy(m, func(o *Options) { o.DefaultApprover = "partner-on-call" })

	id, err := p.Escalate(context.Background(), agent, "threshold", "task-2", nil)
	require.NoError(t, err)
	assert.Equal(t, "notif-2", id)
}

func TestEscalate_NoApprover(t *testing.T) {
	m := &mockCollaborators{}
	m.On("DesignatedApprover", mock.Anything, "org-3").Return("", core.ErrNotFound)

	p := newPolicy(m, func(o *Options) { o.DefaultApprover = "" })

	_, err := p.Escalate(context.Background(), testutil.NewAgentBuilder("org-3", core.RoleIntake).Build(), "x", "t", nil)
	assert.ErrorIs(t, err, ErrNoApprover)
	m.AssertNotCalled(t, "Notify", mock.Anything, mock.Anything)
}

func TestEscalate_DirectoryError(t *testing.T) {
	m := &mockCollaborators{}
	m.On("DesignatedApprover", mock.Anything, "org-1").Return("", errors.New("db down"))

	_, err := newPolicy(m).Escalate(context.Background(), testutil.NewAgentBuilder("org-1", core.RoleIntake).Build(), "x", "t", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "db down")
}

func TestCounters_ScopedPerAgent(t *testing.T) {
	ctx := context.Background()
	p := newPolicy(&mockCollaborators{})

	a := testutil.NewAgentBuilder("org-1", core.RoleIntake).Build()
	b := testutil.NewAgentBuilder("org-1", core.RoleBilling).Build()
	otherTenant := testutil.NewAgentBuilder("org-2", core.RoleIntake).ID(a.ID).Build()

	for i := 1; i <= 3; i++ {
		n, err := p.RecordFailure(ctx, a)
		require.NoError(t, err)
		assert.Equal(t, i, n)
	}

	n, err := p.FailureCount(ctx, b)
	require.NoError(t, err)
	assert.Zero(t, n)

	n, err = p.FailureCount(ctx, otherTenant)
	require.NoError(t, err)
	assert.Zero(t, n)

	require.NoError(t, p.RecordSuccess(ctx, a))

	n, err = p.FailureCount(ctx, a)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestCounters_SeparatePolicyInstances(t *testing.T) {
	ctx := context.Background()
	agent := testutil.NewAgentBuilder("org-1", core.RoleIntake).Build()

	first := newPolicy(&mockCollaborators{})
	_, err := first.RecordFailure(ctx, agent)
	require.NoError(t, err)

	n, err := newPolicy(&mockCollaborators{}).FailureCount(ctx, agent)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestRedisCounters(t *testing.T) {
	addr := os.Getenv("LEXMESH_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("LEXMESH_TEST_REDIS_ADDR not set, skipping redis test")
	}

	ctx := context.Background()
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() { _ = rdb.Close() })
	require.NoError(t, rdb.Ping(ctx).Err())

	counters := NewRedisCounters(rdb, func(o *RedisOptions) { o.Prefix = "lexmesh-test:" + core.NewID() })
	t.Cleanup(func() { _ = counters.Reset(ctx, "org-1", "agent-1") })

	n, err := counters.Get(ctx, "org-1", "agent-1")
	require.NoError(t, err)
	assert.Zero(t, n)

	for i := 1; i <= 2; i++ {
		n, err = counters.Incr(ctx, "org-1", "agent-1")
		require.NoError(t, err)
		assert.Equal(t, i, n)
	}

	require.NoError(t, counters.Reset(ctx, "org-1", "agent-1"))

	n, err = counters.Get(ctx, "org-1", "agent-1")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestRedisCounters_IncrSetsTTL(t *testing.T) {
	addr := os.Getenv("LEXMESH_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("LEXMESH_TEST_REDIS_ADDR not set, skipping redis test")
	}

	ctx := context.Background()
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() { _ = rdb.Close() })
	require.NoError(t, rdb.Ping(ctx).Err())

	counters := NewRedisCounters(rdb, func(o *RedisOptions) {
		o.Prefix = "lexmesh-test:" + core.NewID()
		o.TTL = time.Minute
	})
	t.Cleanup(func() { _ = counters.Reset(ctx, "org-1", "agent-1") })

	n, err := counters.Incr(ctx, "org-1", "agent-1")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	ttl, err := rdb.TTL(ctx, counters.key("org-1", "agent-1")).Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, time.Duration(0))
	assert.LessOrEqual(t, ttl, time.Minute)
}
