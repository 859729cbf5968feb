// Package storetest holds the conformance suite every a2a.Store must pass.
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

var base = time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

func authorization(id, requester, grantor string, status a2a.Status, validUntil time.Time) *a2a.Authorization {
	return &a2a.Authorization{
		ID:                    id,
		RequesterCredentialID: requester,
		GrantorCredentialID:   grantor,
		RequestedPermissions:  json.RawMessage(`["read:*"]`),
		Constraints:           json.RawMessage(`{"max_requests_per_minute":5}`),
		Scope:                 "reports",
		ValidFrom:             base,
		ValidUntil:            validUntil,
		Status:                status,
		RequesterSignature:    "sig-" + id,
		CreatedAt:             base,
	}
}

// Run exercises newStore against the Store contract.
func Run(t *testing.T, newStore func(t *testing.T) a2a.Store) {
	ctx := context.Background()

	t.Run("InsertGet", func(t *testing.T) {
		s := newStore(t)
		in := authorization("a1", "req", "gra", a2a.StatusPending, base.Add(time.Hour))
		require.NoError(t, s.Insert(ctx, in))

		got, err := s.Get(ctx, "a1")
		require.NoError(t, err)
		assert.Equal(t, "req", got.RequesterCredentialID)
		assert.Equal(t, a2a.StatusPending, got.Status)
		assert.JSONEq(t, `["read:*"]`, string(got.RequestedPermissions))
		assert.JSONEq(t, `{"max_requests_per_minute":5}`, string(got.Constraints))
		assert.True(t, got.ValidUntil.Equal(base.Add(time.Hour)))
		assert.Nil(t, got.RespondedAt)

		_, err = s.Get(ctx, "missing")
		assert.ErrorIs(t, err, a2a.ErrNotFound)
	})

	t.Run("TransitionCompareAndSet", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Insert(ctx, authorization("a1", "req", "gra", a2a.StatusPending, base.Add(time.Hour))))

		at := base.Add(time.Minute)
		got, err := s.Transition(ctx, "a1", a2a.StatusPending, a2a.StatusApproved, a2a.Patch{
			GrantorSignature: "gsig",
			ResponseMessage:  "ok",
			RespondedAt:      &at,
		})
		require.NoError(t, err)
		assert.Equal(t, a2a.StatusApproved, got.Status)
		assert.Equal(t, "gsig", got.GrantorSignature)
		require.NotNil(t, got.RespondedAt)
		assert.True(t, got.RespondedAt.Equal(at))

		_, err = s.Transition(ctx, "a1", a2a.StatusPending, a2a.StatusDenied, a2a.Patch{})
		assert.ErrorIs(t, err, a2a.ErrStatusConflict)

		_, err = s.Transition(ctx, "missing", a2a.StatusPending, a2a.StatusDenied, a2a.Patch{})
		assert.ErrorIs(t, err, a2a.ErrNotFound)
	})

	t.Run("ConcurrentTransitionsOneWinner", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Insert(ctx, authorization("a1", "req", "gra", a2a.StatusPending, base.Add(time.Hour))))

		var wg sync.WaitGroup
		var mu sync.Mutex
		wins := 0
		for i := 0; i < 10; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if _, err := s.Transition(ctx, "a1", a2a.StatusPending, a2a.StatusApproved, a2a.Patch{}); err == nil {
					mu.Lock()
					wins++
					mu.Unlock()
				}
			}()
		}
		wg.Wait()
		assert.Equal(t, 1, wins)
	})

	t.Run("ExpirePendingOnce", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Insert(ctx, authorization("overdue", "req", "gra", a2a.StatusPending, base.Add(time.Minute))))
		require.NoError(t, s.Insert(ctx, authorization("boundary", "req", "gra", a2a.StatusPending, base.Add(time.Hour))))
		require.NoError(t, s.Insert(ctx, authorization("fresh", "req", "gra", a2a.StatusPending, base.Add(2*time.Hour))))
		require.NoError(t, s.Insert(ctx, authorization("approved", "req", "gra", a2a.StatusApproved, base.Add(time.Minute))))

		now := base.Add(time.Hour)
		ids, err := s.ExpirePending(ctx, now)
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{"overdue", "boundary"}, ids)

		ids, err = s.ExpirePending(ctx, now)
		require.NoError(t, err)
		assert.Empty(t, ids)

		got, err := s.Get(ctx, "approved")
		require.NoError(t, err)
		assert.Equal(t, a2a.StatusApproved, got.Status)
		got, err = s.Get(ctx, "overdue")
		require.NoError(t, err)
		assert.Equal(t, a2a.StatusExpired, got.Status)
	})

	t.Run("ConcurrentSweepsClaimOnce", func(t *testing.T) {
		s := newStore(t)
		for i := 0; i < 20; i++ {
			require.NoError(t, s.Insert(ctx, authorization(fmt.Sprintf("a%02d", i), "req", "gra", a2a.StatusPending, base)))
		}

		var wg sync.WaitGroup
		var mu sync.Mutex
		seen := map[string]int{}
		for i := 0; i < 4; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				ids, err := s.ExpirePending(ctx, base.Add(time.Second))
				if err != nil {
					return
				}
				mu.Lock()
				for _, id := range ids {
					seen[id]++
				}
				mu.Unlock()
			}()
		}
		wg.Wait()
		assert.Len(t, seen, 20)
		for id, n := range seen {
			assert.Equal(t, 1, n, id)
		}
	})

	t.Run("FindActive", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Insert(ctx, authorization("ok", "req", "gra", a2a.StatusApproved, base.Add(time.Hour))))
		require.NoError(t, s.Insert(ctx, authorization("lapsed", "req", "gra", a2a.StatusApproved, base.Add(time.Minute))))
		require.NoError(t, s.Insert(ctx, authorization("pending", "req", "gra", a2a.StatusPending, base.Add(time.Hour))))
		require.NoError(t, s.Insert(ctx, authorization("other", "req", "someone", a2a.StatusApproved, base.Add(time.Hour))))

		got, err := s.FindActive(ctx, "req", "gra", base.Add(30*time.Minute))
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, "ok", got[0].ID)
	})

	t.Run("List", func(t *testing.T) {
		s := newStore(t)
		a := authorization("a1", "req", "gra", a2a.StatusPending, base.Add(time.Hour))
		b := authorization("a2", "gra", "third", a2a.StatusApproved, base.Add(time.Hour))
		b.CreatedAt = base.Add(time.Minute)
		c := authorization("a3", "x", "y", a2a.StatusPending, base.Add(time.Hour))
		for _, v := range []*a2a.Authorization{a, b, c} {
			require.NoError(t, s.Insert(ctx, v))
		}

		got, err := s.List(ctx, a2a.ListFilter{CredentialID: "gra"})
		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.Equal(t, "a2", got[0].ID)

		got, err = s.List(ctx, a2a.ListFilter{Status: a2a.StatusPending})
		require.NoError(t, err)
		assert.Len(t, got, 2)

		got, err = s.List(ctx, a2a.ListFilter{Limit: 1})
		require.NoError(t, err)
		assert.Len(t, got, 1)

		got, err = s.List(ctx, a2a.ListFilter{CredentialID: "gra", Role: a2a.RoleGrantor})
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, "a1", got[0].ID)

		got, err = s.List(ctx, a2a.ListFilter{CredentialID: "gra", Role: a2a.RoleRequester})
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, "a2", got[0].ID)

		got, err = s.List(ctx, a2a.ListFilter{Offset: 1})
		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.Equal(t, "a1", got[0].ID)

		got, err = s.List(ctx, a2a.ListFilter{Offset: 1, Limit: 1})
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, "a1", got[0].ID)

		got, err = s.List(ctx, a2a.ListFilter{Offset: 5})
		require.NoError(t, err)
		assert.Empty(t, got)
	})
}
