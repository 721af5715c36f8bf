package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lexmesh/lexmesh/core"
	"github.com/lexmesh/lexmesh/store/storetest"
)

func TestStore(t *testing.T) {
	storetest.Run(t, func(*testing.T) core.Store { return New() })
}

func TestStore_CopiesOnWrite(t *testing.T) {
	ctx := context.Background()
	s := New()

	msg := &core.Message{TenantID: "org-1", ThreadID: "t", Role: core.MessageRoleAssistant,
		ToolCalls: []core.ToolCall{{ID: "c1", Name: "lookup_lead"}}}
	require.NoError(t, s.AppendMessage(ctx, msg))

	msg.ToolCalls[0].Name = "mutated"

	got, err := s.ListThread(ctx, "org-1", "t")
	require.NoError(t, err)
	assert.Equal(t, "lookup_lead", got[0].ToolCalls[0].Name)
}

func TestStore_NotificationsAndAudit(t *testing.T) {
	ctx := context.Background()
	s := New()

	_, err := s.Notify(ctx, &core.Notification{TenantID: "org-1", Title: "a"})
	require.NoError(t, err)
	_, err = s.Notify(ctx, &core.Notification{TenantID: "org-2", Title: "b"})
	require.NoError(t, err)
	require.NoError(t, s.Record(ctx, &core.AuditEntry{TenantID: "org-1", Action: "agent.escalated"}))

	require.Len(t, s.Notifications("org-1"), 1)
	assert.Equal(t, "a", s.Notifications("org-1")[0].Title)
	assert.Len(t, s.AuditEntries("org-1"), 1)
	assert.Empty(t, s.AuditEntries("org-2"))
}
