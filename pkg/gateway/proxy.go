package gateway

import (
	"bytes"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httputil"
	"net/url"

	"github.com/agentid-dev/agentid-core/pkg/reqsign"
)

// Gateway verifies agent credentials and proxies accepted requests to a
// single upstream. When a Signer is configured each forwarded request
// carries a reqsign assertion naming the verified credential.
type Gateway struct {
	target  *url.URL
	proxy   *httputil.ReverseProxy
	handler http.Handler
	signer  *reqsign.Signer
	logger  *slog.Logger
}

// Config configures a Gateway.
type Config struct {
	Target   string
	Verifier Verifier
	Options  Options
	Signer   *reqsign.Signer
	Logger   *slog.Logger
}

// NewGateway creates a new Gateway instance.
func NewGateway(cfg Config) (*Gateway, error) {
	target, err := url.Parse(cfg.Target)
	if err != nil || target.Scheme == "" || target.Host == "" {
		return nil, fmt.Errorf("invalid target URL %q", cfg.Target)
	}
	if cfg.Verifier == nil {
		return nil, fmt.Errorf("verifier is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	proxy := httputil.NewSingleHostReverseProxy(target)
	originalDirector := proxy.Director
	proxy.Director = func(req *http.Request) {
		req.Header.Set("X-Forwarded-Host", req.Host)
		originalDirector(req)
		req.Host = target.Host
	}
	proxy.ErrorHandler = func(w http.ResponseWriter, r *http.Request, err error) {
		cfg.Logger.Error("upstream request failed", "target", target.String(), "error", err)
		writeError(w, http.StatusBadGateway, "UPSTREAM_ERROR", "upstream unavailable")
	}

	g := &Gateway{target: target, proxy: proxy, signer: cfg.Signer, logger: cfg.Logger}
	g.handler = NewAuthMiddleware(cfg.Verifier, cfg.Options, http.HandlerFunc(g.forward))
	return g, nil
}

// ServeHTTP implements http.Handler.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	g.handler.ServeHTTP(w, r)
}

func (g *Gateway) forward(w http.ResponseWriter, r *http.Request) {
	r.Header.Del("Authorization")
	r.Header.Del(reqsign.HeaderAssertion)

	if g.signer != nil {
		var body []byte
		if r.Body != nil {
			var err error
			body, err = io.ReadAll(r.Body)
			if err != nil {
				writeError(w, http.StatusBadRequest, "BAD_REQUEST", "failed to read request body")
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(body))
		}

		claims := reqsign.Claims{CredentialID: r.Header.Get(HeaderCredentialID)}
		if res, ok := ResultFromContext(r.Context()); ok && res.Credential != nil {
			claims.AgentID = res.Credential.AgentID
		}
		token, err := g.signer.Sign(claims, body)
		if err != nil {
			g.logger.Error("failed to sign upstream assertion", "error", err)
			writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "internal error")
			return
		}
		r.Header.Set(reqsign.HeaderAssertion, token)
	}

	g.proxy.ServeHTTP(w, r)
}
