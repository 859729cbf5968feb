package credential

import (
	"context"
	"encoding/json"
	"sync"
	"time"
)

// MemoryStore implements Repository, IssuerRepository, PolicyRepository and
// VerificationLog in process. Values are copied in and out.
type MemoryStore struct {
	mu            sync.RWMutex
	credentials   map[string]*Credential
	issuers       map[string]*Issuer
	policies      map[string]*Policy
	verifications []LogEntry
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		credentials: make(map[string]*Credential),
		issuers:     make(map[string]*Issuer),
		policies:    make(map[string]*Policy),
	}
}

// Get implements Repository.
func (m *MemoryStore) Get(_ context.Context, id string) (*Credential, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.credentials[id]
	if !ok {
		return nil, ErrNotFound
	}
	return c.clone(), nil
}

// Save implements Repository.
func (m *MemoryStore) Save(_ context.Context, c *Credential) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.credentials[c.CredentialID] = c.clone()
	return nil
}

// UpdateStatus implements Repository.
func (m *MemoryStore) UpdateStatus(_ context.Context, id string, status Status, reason string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.credentials[id]
	if !ok {
		return ErrNotFound
	}
	c.Status = status
	if status == StatusRevoked {
		t := at
		c.RevokedAt = &t
		c.RevocationReason = reason
	}
	return nil
}

// GetIssuer implements IssuerRepository.
func (m *MemoryStore) GetIssuer(_ context.Context, id string) (*Issuer, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	iss, ok := m.issuers[id]
	if !ok {
		return nil, ErrIssuerNotFound
	}
	cp := *iss
	return &cp, nil
}

// SaveIssuer implements IssuerRepository.
func (m *MemoryStore) SaveIssuer(_ context.Context, issuer *Issuer) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *issuer
	m.issuers[issuer.ID] = &cp
	return nil
}

// GetPolicy implements PolicyRepository.
func (m *MemoryStore) GetPolicy(_ context.Context, id string) (*Policy, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.policies[id]
	if !ok {
		return nil, ErrPolicyNotFound
	}
	cp := *p
	cp.Permissions = append(json.RawMessage(nil), p.Permissions...)
	return &cp, nil
}

// SavePolicy stores a permission policy.
func (m *MemoryStore) SavePolicy(_ context.Context, p *Policy) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *p
	cp.Permissions = append(json.RawMessage(nil), p.Permissions...)
	m.policies[p.ID] = &cp
	return nil
}

// RecordVerification implements VerificationLog.
func (m *MemoryStore) RecordVerification(_ context.Context, entry LogEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.verifications = append(m.verifications, entry)
	return nil
}

// Verifications returns recorded log entries, oldest first.
func (m *MemoryStore) Verifications() []LogEntry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]LogEntry(nil), m.verifications...)
}

func (c *Credential) clone() *Credential {
	cp := *c
	cp.Permissions = append(json.RawMessage(nil), c.Permissions...)
	if c.RevokedAt != nil {
		t := *c.RevokedAt
		cp.RevokedAt = &t
	}
	return &cp
}
