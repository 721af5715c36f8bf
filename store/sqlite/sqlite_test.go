package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lexmesh/lexmesh/core"
	"github.com/lexmesh/lexmesh/store/storetest"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()

	s, err := Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	return s
}

func TestStore(t *testing.T) {
	storetest.Run(t, func(t *testing.T) core.Store { return openTestStore(t) })
}

func TestOpen_FileDatabaseReopens(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "data", "lexmesh.db")

	s, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s.SetApprover(ctx, "org-1", "user-1"))
	require.NoError(t, s.Close())

	s, err = Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	id, err := s.DesignatedApprover(ctx, "org-1")
	require.NoError(t, err)
	assert.Equal(t, "user-1", id)
}

func TestListNotificationsAndAudit(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	id, err := s.Notify(ctx, &core.Notification{
		TenantID: "org-1", RecipientID: "user-1", TaskID: "task-1", Title: "Approval required",
		Context: map[string]string{"tool": "sign_document"},
	})
	require.NoError(t, err)
	require.NoError(t, s.Record(ctx, &core.AuditEntry{TenantID: "org-1", ActorID: "a", Action: "agent.escalated",
		EntityType: "task", EntityID: "task-1"}))

	ns, err := s.ListNotifications(ctx, "org-1")
	require.NoError(t, err)
	require.Len(t, ns, 1)
	assert.Equal(t, id, ns[0].ID)
	assert.Equal(t, "sign_document", ns[0].Context["tool"])

	n, err := s.CountAudit(ctx, "org-1", "task-1")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestParseMigrationVersion(t *testing.T) {
	v, err := parseMigrationVersion("001_initial.sql")
	require.NoError(t, err)
	assert.Equal(t, 1, v)

	_, err = parseMigrationVersion("initial.sql")
	assert.Error(t, err)
}
