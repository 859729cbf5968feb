// Package api serves the agentid HTTP API on gin.
package api

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/agentid-dev/agentid-core/pkg/a2a"
	"github.com/agentid-dev/agentid-core/pkg/credential"
	"github.com/agentid-dev/agentid-core/pkg/reputation"
)

// HeaderOwner identifies the calling account. Authentication happens in
// front of this service; the header is trusted as given.
const HeaderOwner = "X-AgentID-Owner"

const ownerKey = "owner"

// Deps are the services behind the API.
type Deps struct {
	Credentials credential.Repository
	Verifier    *credential.Verifier
	Lifecycle   *credential.Lifecycle
	A2A         *a2a.Service
	Reputation  *reputation.Engine
	Logger      *slog.Logger
}

// Server routes HTTP requests to the services.
type Server struct {
	r    *gin.Engine
	deps Deps
}

// NewServer builds the router.
func NewServer(deps Deps) *Server {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	r := gin.New()
	r.Use(gin.Recovery())

	s := &Server{r: r, deps: deps}
	s.routes()
	return s
}

// Handler returns the root http.Handler.
func (s *Server) Handler() http.Handler {
	return s.r
}

func (s *Server) routes() {
	s.r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	s.r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := s.r.Group("/v1")
	{
		v1.POST("/verify", s.handleVerify)

		v1.POST("/credentials/:id/revoke", requireOwner, s.handleRevokeCredential)

		v1.POST("/a2a/authorizations", requireOwner, s.handleCreateAuthorization)
		v1.GET("/a2a/authorizations", s.handleListAuthorizations)
		v1.POST("/a2a/authorizations/check", s.handleCheckAuthorization)
		v1.GET("/a2a/authorizations/:id", s.handleGetAuthorization)
		v1.POST("/a2a/authorizations/:id", requireOwner, s.handleAuthorizationAction)
		v1.PATCH("/a2a/authorizations/:id", requireOwner, s.handleAuthorizationAction)
		v1.POST("/a2a/sweep", s.handleSweep)

		v1.POST("/a2a/conversations", requireOwner, s.handleStartConversation)
		v1.GET("/a2a/conversations", s.handleListConversations)
		v1.GET("/a2a/conversations/:id", s.handleGetConversation)
		v1.PATCH("/a2a/conversations/:id", requireOwner, s.handleCloseConversation)
		v1.POST("/a2a/conversations/:id/messages", requireOwner, s.handleSendMessage)
		v1.GET("/a2a/conversations/:id/messages", requireOwner, s.handleGetMessages)

		v1.GET("/reputation/:credential_id", s.handleGetReputation)
		v1.GET("/reputation/:credential_id/analytics", s.handleReputationAnalytics)
	}
}

func requireOwner(c *gin.Context) {
	owner := strings.TrimSpace(c.GetHeader(HeaderOwner))
	if owner == "" {
		writeErrorCode(c, http.StatusUnauthorized, "UNAUTHORIZED", HeaderOwner+" header required")
		return
	}
	c.Set(ownerKey, owner)
	c.Next()
}

func ownerFrom(c *gin.Context) string {
	return c.GetString(ownerKey)
}
