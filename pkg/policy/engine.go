// Package policy evaluates Rego modules attached to permission policies.
// A module may further restrict a request the permission evaluator already
// granted; it can never widen one.
package policy

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/open-policy-agent/opa/ast"
	"github.com/open-policy-agent/opa/rego"
)

// Query is the rule every attached module must define.
const Query = "data.agentid.policy.decision"

// forbiddenBuiltins would make evaluation depend on the network or runtime.
var forbiddenBuiltins = map[string]struct{}{
	"http.send":          {},
	"net.lookup_ip_addr": {},
	"opa.runtime":        {},
	"time.now_ns":        {},
	"rand.intn":          {},
	"uuid.rfc4122":       {},
	"trace":              {},
}

// Input is the document passed to the module as `input`.
type Input struct {
	CredentialID      string         `json:"credential_id"`
	AgentID           string         `json:"agent_id"`
	AgentType         string         `json:"agent_type,omitempty"`
	IssuerID          string         `json:"issuer_id"`
	IssuerVerified    bool           `json:"issuer_verified"`
	Action            string         `json:"action"`
	Resource          string         `json:"resource,omitempty"`
	Context           map[string]any `json:"context,omitempty"`
	ConditionsApplied []string       `json:"conditions_applied"`
}

// Decision is the module's verdict.
type Decision struct {
	Allow   bool     `json:"allow"`
	Reasons []string `json:"reasons,omitempty"`
}

// Reason joins the denial reasons.
func (d Decision) Reason() string {
	if len(d.Reasons) == 0 {
		return "denied by policy"
	}
	return strings.Join(d.Reasons, "; ")
}

// Engine is a compiled module.
type Engine struct {
	query rego.PreparedEvalQuery
	hash  string
}

// Compile prepares module source for evaluation.
func Compile(ctx context.Context, source string) (*Engine, error) {
	if strings.TrimSpace(source) == "" {
		return nil, errors.New("policy module is empty")
	}

	caps := sandboxCapabilities()
	r := rego.New(
		rego.Query(Query),
		rego.Compiler(ast.NewCompiler().WithCapabilities(caps)),
		rego.Capabilities(caps),
		rego.StrictBuiltinErrors(true),
		rego.Module("policy.rego", source),
	)
	prepared, err := r.PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to compile policy: %w", err)
	}
	return &Engine{query: prepared, hash: sourceHash(source)}, nil
}

// sandboxCapabilities is this OPA version's capability set without the
// forbidden builtins, so any reference to one fails type checking.
func sandboxCapabilities() *ast.Capabilities {
	caps := ast.CapabilitiesForThisVersion()
	kept := caps.Builtins[:0]
	for _, b := range caps.Builtins {
		if _, bad := forbiddenBuiltins[b.Name]; !bad {
			kept = append(kept, b)
		}
	}
	caps.Builtins = kept
	caps.AllowNet = []string{}
	return caps
}

// Hash identifies the compiled source.
func (e *Engine) Hash() string {
	return e.hash
}

// Evaluate runs the module against input.
func (e *Engine) Evaluate(ctx context.Context, input Input) (Decision, error) {
	if e == nil {
		return Decision{}, errors.New("policy engine is nil")
	}
	results, err := e.query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return Decision{}, err
	}
	if len(results) == 0 || len(results[0].Expressions) == 0 {
		return Decision{}, errors.New("policy produced no decision")
	}
	payload, err := json.Marshal(results[0].Expressions[0].Value)
	if err != nil {
		return Decision{}, err
	}
	var d Decision
	if err := json.Unmarshal(payload, &d); err != nil {
		return Decision{}, fmt.Errorf("invalid policy decision: %w", err)
	}
	sort.Strings(d.Reasons)
	return d, nil
}

// Cache keeps compiled engines keyed by source hash.
type Cache struct {
	mu      sync.Mutex
	engines map[string]*Engine
}

// NewCache creates an empty Cache.
func NewCache() *Cache {
	return &Cache{engines: make(map[string]*Engine)}
}

// Get returns the compiled engine for source, compiling it on first use.
func (c *Cache) Get(ctx context.Context, source string) (*Engine, error) {
	key := sourceHash(source)
	c.mu.Lock()
	e, ok := c.engines[key]
	c.mu.Unlock()
	if ok {
		return e, nil
	}

	e, err := Compile(ctx, source)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.engines[key] = e
	c.mu.Unlock()
	return e, nil
}

func sourceHash(source string) string {
	sum := sha256.Sum256([]byte(source))
	return hex.EncodeToString(sum[:])
}
