package storetest

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentid-dev/agentid-core/pkg/a2a"
)

func conversation(id, initiator, recipient string, updated time.Time) *a2a.Conversation {
	return &a2a.Conversation{
		ID:                    id,
		InitiatorCredentialID: initiator,
		RecipientCredentialID: recipient,
		Subject:               "quarterly numbers",
		Status:                a2a.ConversationActive,
		CreatedAt:             base,
		UpdatedAt:             updated,
	}
}

func message(id, conversationID, nonce string, at time.Time) *a2a.Message {
	return &a2a.Message{
		ID:                 id,
		ConversationID:     conversationID,
		SenderCredentialID: "alice",
		MessageType:        a2a.MessageText,
		Content:            json.RawMessage(`{"text":"hi"}`),
		Signature:          "sig-" + id,
		SignatureTimestamp: at.Unix(),
		Nonce:              nonce,
		CreatedAt:          at,
	}
}

// RunConversations exercises newStore against the ConversationStore contract.
func RunConversations(t *testing.T, newStore func(t *testing.T) a2a.ConversationStore) {
	ctx := context.Background()

	t.Run("InsertGet", func(t *testing.T) {
		s := newStore(t)
		c := conversation("c1", "alice", "bob", base)
		c.Encrypted = true
		require.NoError(t, s.InsertConversation(ctx, c))

		got, err := s.GetConversation(ctx, "c1")
		require.NoError(t, err)
		assert.Equal(t, "alice", got.InitiatorCredentialID)
		assert.Equal(t, "quarterly numbers", got.Subject)
		assert.True(t, got.Encrypted)
		assert.Equal(t, 0, got.MessageCount)
		assert.Nil(t, got.LastMessageAt)
		assert.True(t, base.Equal(got.CreatedAt))

		_, err = s.GetConversation(ctx, "missing")
		assert.ErrorIs(t, err, a2a.ErrConversationNotFound)
	})

	t.Run("AppendAssignsSeqAndUpdatesConversation", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.InsertConversation(ctx, conversation("c1", "alice", "bob", base)))

		for i := 1; i <= 3; i++ {
			at := base.Add(time.Duration(i) * time.Minute)
			m, err := s.AppendMessage(ctx, message(fmt.Sprintf("m%d", i), "c1", fmt.Sprintf("nonce-%04d", i), at))
			require.NoError(t, err)
			assert.Equal(t, i, m.Seq)
		}

		c, err := s.GetConversation(ctx, "c1")
		require.NoError(t, err)
		assert.Equal(t, 3, c.MessageCount)
		require.NotNil(t, c.LastMessageAt)
		assert.True(t, base.Add(3*time.Minute).Equal(*c.LastMessageAt))
		assert.True(t, base.Add(3*time.Minute).Equal(c.UpdatedAt))

		m, err := s.GetMessage(ctx, "m2")
		require.NoError(t, err)
		assert.Equal(t, "c1", m.ConversationID)
		assert.Equal(t, 2, m.Seq)
		assert.JSONEq(t, `{"text":"hi"}`, string(m.Content))

		_, err = s.GetMessage(ctx, "missing")
		assert.ErrorIs(t, err, a2a.ErrMessageNotFound)
	})

	t.Run("AppendRejections", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.InsertConversation(ctx, conversation("c1", "alice", "bob", base)))
		require.NoError(t, s.InsertConversation(ctx, conversation("c2", "alice", "carol", base)))

		_, err := s.AppendMessage(ctx, message("m1", "c1", "nonce-0001", base))
		require.NoError(t, err)

		_, err = s.AppendMessage(ctx, message("m2", "c1", "nonce-0001", base))
		assert.ErrorIs(t, err, a2a.ErrDuplicateNonce)

		_, err = s.AppendMessage(ctx, message("m3", "c2", "nonce-0001", base))
		assert.NoError(t, err, "nonces are scoped to a conversation")

		_, err = s.AppendMessage(ctx, message("m4", "missing", "nonce-0002", base))
		assert.ErrorIs(t, err, a2a.ErrConversationNotFound)

		_, err = s.SetConversationStatus(ctx, "c1", a2a.ConversationActive, a2a.ConversationClosed, base)
		require.NoError(t, err)
		_, err = s.AppendMessage(ctx, message("m5", "c1", "nonce-0003", base))
		assert.ErrorIs(t, err, a2a.ErrConversationInactive)
	})

	t.Run("SetConversationStatusIsCompareAndSet", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.InsertConversation(ctx, conversation("c1", "alice", "bob", base)))

		c, err := s.SetConversationStatus(ctx, "c1", a2a.ConversationActive, a2a.ConversationBlocked, base.Add(time.Hour))
		require.NoError(t, err)
		assert.Equal(t, a2a.ConversationBlocked, c.Status)
		assert.True(t, base.Add(time.Hour).Equal(c.UpdatedAt))

		_, err = s.SetConversationStatus(ctx, "c1", a2a.ConversationActive, a2a.ConversationClosed, base)
		assert.ErrorIs(t, err, a2a.ErrStatusConflict)

		_, err = s.SetConversationStatus(ctx, "missing", a2a.ConversationActive, a2a.ConversationClosed, base)
		assert.ErrorIs(t, err, a2a.ErrConversationNotFound)
	})

	t.Run("ListConversations", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.InsertConversation(ctx, conversation("c1", "alice", "bob", base)))
		require.NoError(t, s.InsertConversation(ctx, conversation("c2", "carol", "alice", base.Add(time.Minute))))
		require.NoError(t, s.InsertConversation(ctx, conversation("c3", "bob", "carol", base)))
		_, err := s.SetConversationStatus(ctx, "c3", a2a.ConversationActive, a2a.ConversationClosed, base)
		require.NoError(t, err)

		got, total, err := s.ListConversations(ctx, a2a.ConversationFilter{CredentialID: "alice"})
		require.NoError(t, err)
		assert.Equal(t, 2, total)
		require.Len(t, got, 2)
		assert.Equal(t, "c2", got[0].ID)

		got, total, err = s.ListConversations(ctx, a2a.ConversationFilter{Status: a2a.ConversationClosed})
		require.NoError(t, err)
		assert.Equal(t, 1, total)
		require.Len(t, got, 1)
		assert.Equal(t, "c3", got[0].ID)

		got, total, err = s.ListConversations(ctx, a2a.ConversationFilter{Limit: 1, Offset: 1})
		require.NoError(t, err)
		assert.Equal(t, 3, total)
		require.Len(t, got, 1)
		assert.Equal(t, "c1", got[0].ID)
	})

	t.Run("ListMessages", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.InsertConversation(ctx, conversation("c1", "alice", "bob", base)))
		require.NoError(t, s.InsertConversation(ctx, conversation("c2", "alice", "carol", base)))
		for i := 1; i <= 4; i++ {
			_, err := s.AppendMessage(ctx, message(fmt.Sprintf("m%d", i), "c1", fmt.Sprintf("nonce-%04d", i), base.Add(time.Duration(i)*time.Second)))
			require.NoError(t, err)
		}
		_, err := s.AppendMessage(ctx, message("other", "c2", "nonce-0001", base))
		require.NoError(t, err)

		ids := func(ms []*a2a.Message) []string {
			out := make([]string, 0, len(ms))
			for _, m := range ms {
				out = append(out, m.ID)
			}
			return out
		}

		got, err := s.ListMessages(ctx, "c1", a2a.MessageFilter{})
		require.NoError(t, err)
		assert.Equal(t, []string{"m1", "m2", "m3", "m4"}, ids(got))

		got, err = s.ListMessages(ctx, "c1", a2a.MessageFilter{After: "m2"})
		require.NoError(t, err)
		assert.Equal(t, []string{"m3", "m4"}, ids(got))

		got, err = s.ListMessages(ctx, "c1", a2a.MessageFilter{Offset: 1, Limit: 2})
		require.NoError(t, err)
		assert.Equal(t, []string{"m2", "m3"}, ids(got))

		_, err = s.ListMessages(ctx, "c1", a2a.MessageFilter{After: "other"})
		assert.ErrorIs(t, err, a2a.ErrMessageNotFound)
	})

	t.Run("ConcurrentAppendsKeepSeqDense", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.InsertConversation(ctx, conversation("c1", "alice", "bob", base)))

		const n = 20
		var wg sync.WaitGroup
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				_, err := s.AppendMessage(ctx, message(fmt.Sprintf("m%02d", i), "c1", fmt.Sprintf("nonce-%04d", i), base))
				assert.NoError(t, err)
			}(i)
		}
		wg.Wait()

		got, err := s.ListMessages(ctx, "c1", a2a.MessageFilter{})
		require.NoError(t, err)
		require.Len(t, got, n)
		for i, m := range got {
			assert.Equal(t, i+1, m.Seq)
		}
		c, err := s.GetConversation(ctx, "c1")
		require.NoError(t, err)
		assert.Equal(t, n, c.MessageCount)
	})
}
