package policy

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const deleteNeedsVerifiedIssuer = `
package agentid.policy

import rego.v1

default decision := {"allow": true}

decision := {"allow": false, "reasons": ["delete requires a verified issuer"]} if {
	startswith(input.action, "delete")
	not input.issuer_verified
}
`

func TestEngine_Evaluate(t *testing.T) {
	e, err := Compile(context.Background(), deleteNeedsVerifiedIssuer)
	require.NoError(t, err)
	assert.NotEmpty(t, e.Hash())

	d, err := e.Evaluate(context.Background(), Input{Action: "read:users", IssuerVerified: false})
	require.NoError(t, err)
	assert.True(t, d.Allow)

	d, err = e.Evaluate(context.Background(), Input{Action: "delete:users", IssuerVerified: false})
	require.NoError(t, err)
	assert.False(t, d.Allow)
	assert.Equal(t, "delete requires a verified issuer", d.Reason())

	d, err = e.Evaluate(context.Background(), Input{Action: "delete:users", IssuerVerified: true})
	require.NoError(t, err)
	assert.True(t, d.Allow)
}

func TestCompile_Errors(t *testing.T) {
	_, err := Compile(context.Background(), "   ")
	assert.Error(t, err)

	_, err = Compile(context.Background(), "package agentid.policy\n\ndecision := {")
	assert.Error(t, err)

	_, err = Compile(context.Background(), `
package agentid.policy

import rego.v1

decision := {"allow": true} if {
	resp := http.send({"method": "GET", "url": "http://example.com"})
	resp.status_code == 200
}
`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "http.send")
}

func TestCompile_RejectsForbiddenBuiltinsInAnyForm(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		builtin string
	}{
		{"assignment", "x := time.now_ns()\n\tx > 0", "time.now_ns"},
		{"output argument", "time.now_ns(t)\n\tt > 0", "time.now_ns"},
		{"call with output", `http.send({"method": "GET", "url": "http://example.com"}, r)
	r.status_code == 200`, "http.send"},
		{"nested in comprehension", "ids := [u | some i in numbers.range(1, 2); u := uuid.rfc4122(sprintf(\"%d\", [i]))]\n\tcount(ids) == 2", "uuid.rfc4122"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			source := "package agentid.policy\n\nimport rego.v1\n\ndecision := {\"allow\": true} if {\n\t" + tt.body + "\n}\n"
			_, err := Compile(context.Background(), source)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.builtin)
		})
	}
}

func TestSandboxCapabilities_DropsOnlyForbidden(t *testing.T) {
	names := make(map[string]bool)
	for _, b := range sandboxCapabilities().Builtins {
		names[b.Name] = true
	}
	for name := range forbiddenBuiltins {
		assert.False(t, names[name], name)
	}
	assert.True(t, names["startswith"])
	assert.True(t, names["sprintf"])
}

func TestEngine_UndefinedDecision(t *testing.T) {
	e, err := Compile(context.Background(), `
package agentid.policy

import rego.v1

decision := {"allow": true} if input.action == "read"
`)
	require.NoError(t, err)

	_, err = e.Evaluate(context.Background(), Input{Action: "write"})
	assert.Error(t, err)
}

func TestCache_ReusesCompiledEngines(t *testing.T) {
	c := NewCache()
	a, err := c.Get(context.Background(), deleteNeedsVerifiedIssuer)
	require.NoError(t, err)
	b, err := c.Get(context.Background(), deleteNeedsVerifiedIssuer)
	require.NoError(t, err)
	assert.Same(t, a, b)
}
