package credential

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCache_NeverOutlivesValidity(t *testing.T) {
	clock := now
	c := NewCache(time.Hour)
	c.now = func() time.Time { return clock }

	c.Put("cred-1", &Issuer{ID: "iss-1"}, "d1", now.Add(10*time.Minute))

	iss, digest, ok := c.Get("cred-1")
	assert.True(t, ok)
	assert.Equal(t, "iss-1", iss.ID)
	assert.Equal(t, "d1", digest)

	clock = now.Add(10 * time.Minute)
	_, _, ok = c.Get("cred-1")
	assert.False(t, ok)
}

func TestCache_Invalidation(t *testing.T) {
	c := NewCache(0)
	c.now = func() time.Time { return now }
	until := now.Add(time.Hour)

	c.Put("a", &Issuer{ID: "iss-1"}, "da", until)
	c.Put("b", &Issuer{ID: "iss-1"}, "db", until)
	c.Put("c", &Issuer{ID: "iss-2"}, "dc", until)
	assert.Equal(t, 3, c.Len())

	c.Invalidate("a")
	assert.Equal(t, 2, c.Len())

	c.InvalidateIssuer("iss-1")
	assert.Equal(t, 1, c.Len())
	_, _, ok := c.Get("c")
	assert.True(t, ok)
}

func TestCache_NilIsDisabled(t *testing.T) {
	var c *Cache
	c.Put("x", &Issuer{}, "d", now)
	c.Invalidate("x")
	_, _, ok := c.Get("x")
	assert.False(t, ok)
}

func TestSignatureDigest_BindsMessageAndSignature(t *testing.T) {
	base := SignatureDigest([]byte(`{"a":1}`), "sig")
	assert.Equal(t, base, SignatureDigest([]byte(`{"a":1}`), "sig"))
	assert.NotEqual(t, base, SignatureDigest([]byte(`{"a":2}`), "sig"))
	assert.NotEqual(t, base, SignatureDigest([]byte(`{"a":1}`), "sig2"))
}
