package reputation

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore keeps records in process. Records are copied in and out.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]*Record
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]*Record)}
}

// Get implements Store.
func (m *MemoryStore) Get(_ context.Context, credentialID string) (*Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.records[credentialID]
	if !ok {
		return nil, ErrNotFound
	}
	return rec.clone(), nil
}

// Save implements Store.
func (m *MemoryStore) Save(_ context.Context, rec *Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[rec.CredentialID] = rec.clone()
	return nil
}

// ListByIssuer implements Store.
func (m *MemoryStore) ListByIssuer(_ context.Context, issuerID string) ([]*Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*Record
	for _, rec := range m.records {
		if rec.IssuerID == issuerID {
			out = append(out, rec.clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CredentialID < out[j].CredentialID })
	return out, nil
}

func (r *Record) clone() *Record {
	c := *r
	c.History = append([]Snapshot(nil), r.History...)
	if r.LastVerifiedAt != nil {
		t := *r.LastVerifiedAt
		c.LastVerifiedAt = &t
	}
	return &c
}
