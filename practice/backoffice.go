// Package practice provides the legal-practice tool catalogue.
//
// Tools reach business data only through the Backoffice collaborator, which
// speaks in opaque records so the runtime never depends on entity shapes.
package practice

import (
	"context"
	"fmt"
	"maps"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/lexmesh/lexmesh/core"
)

// Record is an opaque business entity.
type Record = map[string]any

// Record kinds used by the catalogue.
const (
	KindLead          = "lead"
	KindMatter        = "matter"
	KindInvoice       = "invoice"
	KindNote          = "note"
	KindCommunication = "communication"
	KindActionRequest = "action_request"
)

// Backoffice is the tenant-scoped business data collaborator. Every call is
// scoped to tenantID; Get and Update return an error wrapping
// core.ErrNotFound for unknown ids.
type Backoffice interface {
	Get(ctx context.Context, tenantID, kind, id string) (Record, error)
	Find(ctx context.Context, tenantID, kind string, filter Record) ([]Record, error)
	Create(ctx context.Context, tenantID, kind string, rec Record) (Record, error)
	Update(ctx context.Context, tenantID, kind, id string, patch Record) (Record, error)
}

// MemoryBackoffice is an in-memory Backoffice for tests and local runs.
type MemoryBackoffice struct {
	mu      sync.RWMutex
	records map[string][]Record
	seq     map[string]int
}

var _ Backoffice = (*MemoryBackoffice)(nil)

// NewMemoryBackoffice creates an empty MemoryBackoffice.
func NewMemoryBackoffice() *MemoryBackoffice {
	return &MemoryBackoffice{records: map[string][]Record{}, seq: map[string]int{}}
}

func bucket(tenantID, kind string) string { return tenantID + "/" + kind }

// Seed stores records as they are, assigning ids to records without one.
func (m *MemoryBackoffice) Seed(tenantID, kind string, recs ...Record) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, r := range recs {
		m.insert(tenantID, kind, maps.Clone(r))
	}
}

func (m *MemoryBackoffice) insert(tenantID, kind string, r Record) Record {
	if id, _ := r["id"].(string); id == "" {
		m.seq[kind]++
		r["id"] = fmt.Sprintf("%s-%d", kind, m.seq[kind])
	}

	r["tenant_id"] = tenantID

	k := bucket(tenantID, kind)
	m.records[k] = append(m.records[k], r)

	return maps.Clone(r)
}

func (m *MemoryBackoffice) index(tenantID, kind, id string) int {
	for i, r := range m.records[bucket(tenantID, kind)] {
		if r["id"] == id {
			return i
		}
	}

	return -1
}

// Get implements Backoffice.
func (m *MemoryBackoffice) Get(_ context.Context, tenantID, kind, id string) (Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	i := m.index(tenantID, kind, id)
	if i < 0 {
		return nil, fmt.Errorf("%s %s: %w", kind, id, core.ErrNotFound)
	}

	return maps.Clone(m.records[bucket(tenantID, kind)][i]), nil
}

// Find implements Backoffice. Filter values match case-insensitively on
// their string form. Results are ordered by id.
func (m *MemoryBackoffice) Find(_ context.Context, tenantID, kind string, filter Record) ([]Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []Record

	for _, r := range m.records[bucket(tenantID, kind)] {
		if matches(r, filter) {
			out = append(out, maps.Clone(r))
		}
	}

	sort.Slice(out, func(i, j int) bool { return fmt.Sprint(out[i]["id"]) < fmt.Sprint(out[j]["id"]) })

	return out, nil
}

func matches(r, filter Record) bool {
	for k, want := range filter {
		got, ok := r[k]
		if !ok || !strings.EqualFold(fmt.Sprint(got), fmt.Sprint(want)) {
			return false
		}
	}

	return true
}

// Create implements Backoffice.
func (m *MemoryBackoffice) Create(_ context.Context, tenantID, kind string, rec Record) (Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r := maps.Clone(rec)
	if r == nil {
		r = Record{}
	}

	r["created_at"] = time.Now().UTC().Format(time.RFC3339)

	return m.insert(tenantID, kind, r), nil
}

// Update implements Backoffice by merging patch into the stored record.
func (m *MemoryBackoffice) Update(_ context.Context, tenantID, kind, id string, patch Record) (Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	i := m.index(tenantID, kind, id)
	if i < 0 {
		return nil, fmt.Errorf("%s %s: %w", kind, id, core.ErrNotFound)
	}

	r := m.records[bucket(tenantID, kind)][i]
	for k, v := range patch {
		if k == "id" || k == "tenant_id" {
			continue
		}

		r[k] = v
	}

	r["updated_at"] = time.Now().UTC().Format(time.RFC3339)

	return maps.Clone(r), nil
}
