package crypto

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func issuerKeySetServer(t *testing.T, hits *int32) (*httptest.Server, *KeyPair) {
	t.Helper()
	kp, err := GenerateKeyPair()
	require.NoError(t, err)
	set := jose.JSONWebKeySet{Keys: []jose.JSONWebKey{PublicKeyToJWK(kp.Public, "k1")}}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(hits, 1)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(set)
	}))
	t.Cleanup(srv.Close)
	return srv, kp
}

func TestHTTPKeySetFetcher_FetchAndSelect(t *testing.T) {
	var hits int32
	srv, kp := issuerKeySetServer(t, &hits)

	f := NewHTTPKeySetFetcher(time.Minute)
	set, err := f.Fetch(context.Background(), srv.URL)
	require.NoError(t, err)

	pub, err := SelectEd25519(set, "k1")
	require.NoError(t, err)
	assert.Equal(t, kp.Public, pub)

	_, err = SelectEd25519(set, "missing")
	assert.ErrorIs(t, err, ErrKeyNotInSet)
}

func TestHTTPKeySetFetcher_Caches(t *testing.T) {
	var hits int32
	srv, _ := issuerKeySetServer(t, &hits)

	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	f := NewHTTPKeySetFetcher(time.Minute)
	f.now = func() time.Time { return now }

	_, err := f.Fetch(context.Background(), srv.URL)
	require.NoError(t, err)
	_, err = f.Fetch(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&hits))

	now = now.Add(2 * time.Minute)
	_, err = f.Fetch(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, int32(2), atomic.LoadInt32(&hits))

	f.Flush()
	_, err = f.Fetch(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, int32(3), atomic.LoadInt32(&hits))
}

func TestHTTPKeySetFetcher_Errors(t *testing.T) {
	notFound := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer notFound.Close()

	garbage := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("not json"))
	}))
	defer garbage.Close()

	f := NewHTTPKeySetFetcher(0)

	_, err := f.Fetch(context.Background(), notFound.URL)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 404")

	_, err = f.Fetch(context.Background(), garbage.URL)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to decode key set")

	_, err = f.Fetch(context.Background(), "http://127.0.0.1:1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to fetch key set")
}
