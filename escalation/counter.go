package escalation

import (
	"context"
	"sync"
)

// CounterStore tracks consecutive failures per (tenant, agent).
type CounterStore interface {
	Incr(ctx context.Context, tenantID, agentID string) (int, error)
	Reset(ctx context.Context, tenantID, agentID string) error
	Get(ctx context.Context, tenantID, agentID string) (int, error)
}

// MemoryCounters keeps counters in process memory.
type MemoryCounters struct {
	mu     sync.Mutex
	counts map[string]int
}

// NewMemoryCounters creates an empty in-memory counter store.
func NewMemoryCounters() *MemoryCounters {
	return &MemoryCounters{counts: map[string]int{}}
}

func counterKey(tenantID, agentID string) string {
	return tenantID + "/" + agentID
}

// Incr implements CounterStore.
func (m *MemoryCounters) Incr(_ context.Context, tenantID, agentID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	k := counterKey(tenantID, agentID)
	m.counts[k]++

	return m.counts[k], nil
}

// Reset implements CounterStore.
func (m *MemoryCounters) Reset(_ context.Context, tenantID, agentID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.counts, counterKey(tenantID, agentID))

	return nil
}

// Get implements CounterStore.
func (m *MemoryCounters) Get(_ context.Context, tenantID, agentID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.counts[counterKey(tenantID, agentID)], nil
}
