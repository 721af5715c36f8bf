package postgres

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/lexmesh/lexmesh/core"
	"github.com/lexmesh/lexmesh/store/storetest"
)

// openTestStore connects to LEXMESH_TEST_POSTGRES_DSN and truncates every
// table so each subtest starts empty.
func openTestStore(t *testing.T) *Store {
	t.Helper()

	dsn := os.Getenv("LEXMESH_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("LEXMESH_TEST_POSTGRES_DSN not set, skipping postgres test")
	}

	ctx := context.Background()

	s, err := Open(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(s.Close)

	_, err = s.pool.Exec(ctx, `TRUNCATE lexmesh_messages, lexmesh_tasks, lexmesh_agents, lexmesh_approvers,
		lexmesh_notifications, lexmesh_audit_log`)
	require.NoError(t, err)

	return s
}

func TestStore(t *testing.T) {
	if os.Getenv("LEXMESH_TEST_POSTGRES_DSN") == "" {
		t.Skip("LEXMESH_TEST_POSTGRES_DSN not set, skipping postgres test")
	}

	storetest.Run(t, func(t *testing.T) core.Store { return openTestStore(t) })
}
