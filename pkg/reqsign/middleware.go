package reqsign

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

type contextKey struct{}

// ClaimsFromContext returns the verified assertion claims, if any.
func ClaimsFromContext(ctx context.Context) (*Claims, bool) {
	c, ok := ctx.Value(contextKey{}).(*Claims)
	return c, ok
}

// Middleware rejects requests without a valid assertion. Verified claims are
// placed on the request context and the credential id in HeaderCredential.
func Middleware(s *Signer) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			token := r.Header.Get(HeaderAssertion)
			if token == "" {
				http.Error(w, ErrMissingHeader.Error(), http.StatusUnauthorized)
				return
			}

			var body []byte
			if r.Body != nil {
				var err error
				body, err = io.ReadAll(io.LimitReader(r.Body, s.cfg.MaxBodySize+1))
				if err != nil {
					http.Error(w, "failed to read request body", http.StatusInternalServerError)
					return
				}
				if int64(len(body)) > s.cfg.MaxBodySize {
					http.Error(w, "request body too large", http.StatusRequestEntityTooLarge)
					return
				}
				r.Body = io.NopCloser(bytes.NewReader(body))
			}

			claims, err := s.Verify(token, body)
			if err != nil {
				status := http.StatusForbidden
				if errors.Is(err, ErrInvalidToken) {
					status = http.StatusUnauthorized
				}
				http.Error(w, fmt.Sprintf("assertion rejected: %v", err), status)
				return
			}

			w.Header().Set("Server-Timing", fmt.Sprintf("agentid-assert;dur=%.3f", float64(time.Since(start).Microseconds())/1000.0))
			r.Header.Set(HeaderCredential, claims.CredentialID)
			if claims.AgentID != "" {
				r.Header.Set(HeaderAgent, claims.AgentID)
			}
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), contextKey{}, claims)))
		})
	}
}
