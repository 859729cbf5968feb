// Package gateway enforces agent credentials in front of an upstream service.
package gateway

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/agentid-dev/agentid-core/pkg/credential"
	"github.com/agentid-dev/agentid-core/pkg/permission"
)

// Request headers read by the gateway.
const (
	HeaderCredentialID = "X-AgentID-Credential"
	HeaderAction       = "X-AgentID-Action"
	HeaderRegion       = "X-AgentID-Region"
)

// Verifier is the subset of credential.Verifier the gateway needs.
type Verifier interface {
	Verify(ctx context.Context, req credential.Request) *credential.Result
}

type resultKey struct{}

// ResultFromContext returns the verification result attached by the middleware.
func ResultFromContext(ctx context.Context) (*credential.Result, bool) {
	r, ok := ctx.Value(resultKey{}).(*credential.Result)
	return r, ok
}

// Options control what the middleware checks beyond credential validity.
type Options struct {
	// Action is checked when the request carries no HeaderAction.
	// Empty means validity only.
	Action string
}

// NewAuthMiddleware rejects requests whose credential does not verify, or
// whose requested action is not granted.
func NewAuthMiddleware(v Verifier, opts Options, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		req, ok := ExtractCredential(r)
		if !ok {
			writeError(w, http.StatusUnauthorized, credential.CodeValidation, "missing agent credential")
			return
		}

		action := r.Header.Get(HeaderAction)
		if action == "" {
			action = opts.Action
		}
		if action != "" {
			req.CheckPermission = &credential.PermissionCheck{
				Action:  action,
				Context: permission.Context{Region: r.Header.Get(HeaderRegion), Domain: hostOnly(r.Host)},
			}
		}

		res := v.Verify(r.Context(), req)
		if !res.Valid {
			writeError(w, statusFor(res.Code()), res.Code(), res.Error.Message)
			return
		}
		if res.PermissionCheck != nil && !res.PermissionCheck.Granted {
			writeError(w, http.StatusForbidden, "PERMISSION_DENIED", res.PermissionCheck.Reason)
			return
		}

		r.Header.Set(HeaderCredentialID, res.Credential.CredentialID)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), resultKey{}, res)))
	})
}

// ExtractCredential reads the credential from the request. In order:
//  1. X-AgentID-Credential: a credential id
//  2. Authorization: Bearer <base64url credential JSON>
func ExtractCredential(r *http.Request) (credential.Request, bool) {
	if id := strings.TrimSpace(r.Header.Get(HeaderCredentialID)); id != "" {
		return credential.Request{CredentialID: id}, true
	}

	auth := r.Header.Get("Authorization")
	if !strings.HasPrefix(auth, "Bearer ") {
		return credential.Request{}, false
	}
	raw, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(strings.TrimPrefix(auth, "Bearer "), "="))
	if err != nil || !json.Valid(raw) {
		return credential.Request{}, false
	}
	return credential.Request{Credential: raw}, true
}

func statusFor(code string) int {
	switch code {
	case credential.CodeValidation:
		return http.StatusBadRequest
	case credential.CodeInternal:
		return http.StatusInternalServerError
	case credential.CodeRevoked, credential.CodeExpired, credential.CodeNotYetValid:
		return http.StatusForbidden
	default:
		return http.StatusUnauthorized
	}
}

func hostOnly(host string) string {
	if i := strings.LastIndex(host, ":"); i > 0 && !strings.Contains(host[i:], "]") {
		return host[:i]
	}
	return host
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{"error": map[string]string{"code": code, "message": msg}})
}
