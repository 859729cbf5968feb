// Package permission normalizes permission grants and decides whether a
// requested action on a resource is allowed under their conditions.
package permission

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Aliases are standard action families. A grant naming an alias covers every
// "alias:suffix" action.
var Aliases = map[string]bool{
	"read":        true,
	"write":       true,
	"delete":      true,
	"execute":     true,
	"communicate": true,
	"transact":    true,
	"admin":       true,
}

// Grant is the single internal permission shape both wire formats normalize to.
type Grant struct {
	Action     string      `json:"action"`
	Domains    []string    `json:"domains,omitempty"`
	Resources  []string    `json:"resources,omitempty"`
	Conditions *Conditions `json:"conditions,omitempty"`
}

// policyItem is one object entry of the policy shape.
type policyItem struct {
	Action     string      `json:"action"`
	Actions    []string    `json:"actions"`
	Resource   string      `json:"resource"`
	Resources  []string    `json:"resources"`
	Domains    []string    `json:"domains"`
	Conditions *Conditions `json:"conditions"`
}

// legacyPermissions is the older {actions, domains, resource_limits} object.
type legacyPermissions struct {
	Actions        []string    `json:"actions"`
	Domains        []string    `json:"domains"`
	ResourceLimits *Conditions `json:"resource_limits"`
}

// ErrUnknownShape is returned when permissions are neither shape.
var ErrUnknownShape = errors.New("permissions must be a JSON array or a legacy object")

// Parse resolves either permission wire shape into grants. A JSON array is the
// policy shape (string or object items), a JSON object with "actions" is the
// legacy shape. Empty input yields no grants.
func Parse(raw json.RawMessage) ([]Grant, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, nil
	}
	switch trimmed[0] {
	case '[':
		return parsePolicy(trimmed)
	case '{':
		return parseLegacy(trimmed)
	default:
		return nil, ErrUnknownShape
	}
}

// MustParse is Parse for literals known to be valid. It panics on error.
func MustParse(raw string) []Grant {
	grants, err := Parse(json.RawMessage(raw))
	if err != nil {
		panic(err)
	}
	return grants
}

func parsePolicy(raw []byte) ([]Grant, error) {
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, fmt.Errorf("invalid permission list: %w", err)
	}

	var grants []Grant
	for i, item := range items {
		item = bytes.TrimSpace(item)
		if len(item) == 0 {
			continue
		}
		if item[0] == '"' {
			var action string
			if err := json.Unmarshal(item, &action); err != nil {
				return nil, fmt.Errorf("permission %d: %w", i, err)
			}
			if action == "" {
				return nil, fmt.Errorf("permission %d: empty action", i)
			}
			grants = append(grants, Grant{Action: action})
			continue
		}

		var p policyItem
		if err := json.Unmarshal(item, &p); err != nil {
			return nil, fmt.Errorf("permission %d: %w", i, err)
		}
		actions := p.Actions
		if p.Action != "" {
			actions = append([]string{p.Action}, actions...)
		}
		if len(actions) == 0 {
			return nil, fmt.Errorf("permission %d: no action", i)
		}
		resources := p.Resources
		if p.Resource != "" {
			resources = append([]string{p.Resource}, resources...)
		}
		for _, a := range actions {
			grants = append(grants, Grant{
				Action:     a,
				Domains:    p.Domains,
				Resources:  resources,
				Conditions: p.Conditions,
			})
		}
	}
	return grants, nil
}

func parseLegacy(raw []byte) ([]Grant, error) {
	var l legacyPermissions
	if err := json.Unmarshal(raw, &l); err != nil {
		return nil, fmt.Errorf("invalid legacy permissions: %w", err)
	}
	if l.Actions == nil {
		return nil, ErrUnknownShape
	}
	grants := make([]Grant, 0, len(l.Actions))
	for _, a := range l.Actions {
		grants = append(grants, Grant{
			Action:     a,
			Domains:    l.Domains,
			Conditions: l.ResourceLimits,
		})
	}
	return grants, nil
}

// MatchesAction reports whether the grant covers action.
func (g Grant) MatchesAction(action string) bool {
	if g.Action == action || g.Action == "*" {
		return true
	}
	if strings.HasSuffix(g.Action, ":*") {
		return strings.HasPrefix(action, strings.TrimSuffix(g.Action, "*"))
	}
	if Aliases[g.Action] {
		return strings.HasPrefix(action, g.Action+":")
	}
	return false
}

// MatchesResource reports whether the grant covers resource. A grant without
// resources, or a request without a resource, always matches.
func (g Grant) MatchesResource(resource string) bool {
	if resource == "" || len(g.Resources) == 0 {
		return true
	}
	for _, pattern := range g.Resources {
		switch {
		case pattern == "*" || pattern == resource:
			return true
		case strings.HasSuffix(pattern, "/*"):
			if strings.HasPrefix(resource, strings.TrimSuffix(pattern, "*")) {
				return true
			}
		}
	}
	return false
}

// MatchesDomain reports whether the grant covers domain. An unknown domain
// or a grant without a domain allowlist always matches.
func (g Grant) MatchesDomain(domain string) bool {
	if domain == "" || len(g.Domains) == 0 {
		return true
	}
	domain = strings.ToLower(domain)
	for _, d := range g.Domains {
		d = strings.ToLower(d)
		if d == "*" || d == domain {
			return true
		}
		if strings.HasPrefix(d, "*.") && strings.HasSuffix(domain, d[1:]) {
			return true
		}
	}
	return false
}

// Match returns the first grant, in order, covering the action, resource and
// domain. It returns nil when nothing matches.
func Match(grants []Grant, action, resource, domain string) *Grant {
	for i := range grants {
		g := &grants[i]
		if g.MatchesAction(action) && g.MatchesResource(resource) && g.MatchesDomain(domain) {
			return g
		}
	}
	return nil
}

// Actions lists the grant actions, in order.
func Actions(grants []Grant) []string {
	out := make([]string, 0, len(grants))
	for _, g := range grants {
		out = append(out, g.Action)
	}
	return out
}
