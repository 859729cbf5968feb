package a2a

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-process Store and ConversationStore.
type MemoryStore struct {
	mu    sync.Mutex
	items map[string]*Authorization

	conversations map[string]*Conversation
	messages      map[string][]*Message
	messageIndex  map[string]*Message
	nonces        map[string]map[string]struct{}
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		items:         make(map[string]*Authorization),
		conversations: make(map[string]*Conversation),
		messages:      make(map[string][]*Message),
		messageIndex:  make(map[string]*Message),
		nonces:        make(map[string]map[string]struct{}),
	}
}

// Insert implements Store.
func (m *MemoryStore) Insert(_ context.Context, a *Authorization) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[a.ID] = a.Clone()
	return nil
}

// Get implements Store.
func (m *MemoryStore) Get(_ context.Context, id string) (*Authorization, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.items[id]
	if !ok {
		return nil, ErrNotFound
	}
	return a.Clone(), nil
}

// List implements Store. Results are newest first.
func (m *MemoryStore) List(_ context.Context, f ListFilter) ([]*Authorization, error) {
	m.mu.Lock()
	var out []*Authorization
	for _, a := range m.items {
		if f.matches(a) {
			out = append(out, a.Clone())
		}
	}
	m.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return page(out, f.Offset, f.Limit), nil
}

// Transition implements Store.
func (m *MemoryStore) Transition(_ context.Context, id string, from, to Status, p Patch) (*Authorization, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.items[id]
	if !ok {
		return nil, ErrNotFound
	}
	if a.Status != from {
		return nil, ErrStatusConflict
	}
	a.Status = to
	p.apply(a)
	return a.Clone(), nil
}

// ExpirePending implements Store.
func (m *MemoryStore) ExpirePending(_ context.Context, now time.Time) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var ids []string
	for id, a := range m.items {
		if a.Status == StatusPending && !now.Before(a.ValidUntil) {
			a.Status = StatusExpired
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// FindActive implements Store.
func (m *MemoryStore) FindActive(_ context.Context, requesterID, grantorID string, now time.Time) ([]*Authorization, error) {
	m.mu.Lock()
	var out []*Authorization
	for _, a := range m.items {
		if a.RequesterCredentialID == requesterID && a.GrantorCredentialID == grantorID &&
			a.Status == StatusApproved && now.Before(a.ValidUntil) {
			out = append(out, a.Clone())
		}
	}
	m.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// InsertConversation implements ConversationStore.
func (m *MemoryStore) InsertConversation(_ context.Context, c *Conversation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.conversations[c.ID] = c.Clone()
	return nil
}

// GetConversation implements ConversationStore.
func (m *MemoryStore) GetConversation(_ context.Context, id string) (*Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.conversations[id]
	if !ok {
		return nil, ErrConversationNotFound
	}
	return c.Clone(), nil
}

// ListConversations implements ConversationStore. The count is the number
// of matches before paging.
func (m *MemoryStore) ListConversations(_ context.Context, f ConversationFilter) ([]*Conversation, int, error) {
	m.mu.Lock()
	var out []*Conversation
	for _, c := range m.conversations {
		if f.matches(c) {
			out = append(out, c.Clone())
		}
	}
	m.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	total := len(out)
	return page(out, f.Offset, f.Limit), total, nil
}

// SetConversationStatus implements ConversationStore.
func (m *MemoryStore) SetConversationStatus(_ context.Context, id string, from, to ConversationStatus, at time.Time) (*Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.conversations[id]
	if !ok {
		return nil, ErrConversationNotFound
	}
	if c.Status != from {
		return nil, ErrStatusConflict
	}
	c.Status = to
	c.UpdatedAt = at
	return c.Clone(), nil
}

// AppendMessage implements ConversationStore.
func (m *MemoryStore) AppendMessage(_ context.Context, msg *Message) (*Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.conversations[msg.ConversationID]
	if !ok {
		return nil, ErrConversationNotFound
	}
	if c.Status != ConversationActive {
		return nil, ErrConversationInactive
	}
	used := m.nonces[c.ID]
	if used == nil {
		used = make(map[string]struct{})
		m.nonces[c.ID] = used
	}
	if _, dup := used[msg.Nonce]; dup {
		return nil, ErrDuplicateNonce
	}
	used[msg.Nonce] = struct{}{}

	stored := msg.Clone()
	stored.Seq = len(m.messages[c.ID]) + 1
	m.messages[c.ID] = append(m.messages[c.ID], stored)
	m.messageIndex[stored.ID] = stored

	c.MessageCount = stored.Seq
	at := stored.CreatedAt
	c.LastMessageAt = &at
	c.UpdatedAt = at
	return stored.Clone(), nil
}

// GetMessage implements ConversationStore.
func (m *MemoryStore) GetMessage(_ context.Context, id string) (*Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	msg, ok := m.messageIndex[id]
	if !ok {
		return nil, ErrMessageNotFound
	}
	return msg.Clone(), nil
}

// ListMessages implements ConversationStore.
func (m *MemoryStore) ListMessages(_ context.Context, conversationID string, f MessageFilter) ([]*Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	after := 0
	if f.After != "" {
		ref, ok := m.messageIndex[f.After]
		if !ok || ref.ConversationID != conversationID {
			return nil, ErrMessageNotFound
		}
		after = ref.Seq
	}
	var out []*Message
	for _, msg := range m.messages[conversationID] {
		if msg.Seq > after {
			out = append(out, msg.Clone())
		}
	}
	return page(out, f.Offset, f.Limit), nil
}

func page[T any](items []T, offset, limit int) []T {
	if offset > 0 {
		if offset >= len(items) {
			return nil
		}
		items = items[offset:]
	}
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items
}
