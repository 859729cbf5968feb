package api

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/agentid-dev/agentid-core/pkg/a2a"
	"github.com/agentid-dev/agentid-core/pkg/credential"
	"github.com/agentid-dev/agentid-core/pkg/reputation"
)

func (s *Server) handleVerify(c *gin.Context) {
	var req credential.Request
	if err := c.ShouldBindJSON(&req); err != nil {
		writeErrorCode(c, http.StatusBadRequest, credential.CodeValidation, "invalid request body")
		return
	}
	res := s.deps.Verifier.Verify(c.Request.Context(), req)

	status := http.StatusOK
	switch res.Code() {
	case credential.CodeValidation:
		status = http.StatusBadRequest
	case credential.CodeInternal:
		status = http.StatusInternalServerError
	}
	c.JSON(status, res)
}

func (s *Server) handleRevokeCredential(c *gin.Context) {
	var req struct {
		Reason string `json:"reason"`
	}
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			writeErrorCode(c, http.StatusBadRequest, credential.CodeValidation, "invalid request body")
			return
		}
	}

	id := c.Param("id")
	cred, err := s.deps.Credentials.Get(c.Request.Context(), id)
	if err != nil {
		s.writeError(c, err)
		return
	}
	if cred.OwnerID != ownerFrom(c) {
		writeErrorCode(c, http.StatusForbidden, "forbidden", "caller does not own the credential")
		return
	}

	cred, err = s.deps.Lifecycle.Revoke(c.Request.Context(), id, req.Reason)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": cred.Status, "revoked_at": cred.RevokedAt})
}

func (s *Server) handleCreateAuthorization(c *gin.Context) {
	var req a2a.CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeErrorCode(c, http.StatusBadRequest, string(a2a.KindValidation), "invalid request body")
		return
	}
	a, err := s.deps.A2A.Create(c.Request.Context(), ownerFrom(c), req)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"authorization_id": a.ID})
}

func (s *Server) handleGetAuthorization(c *gin.Context) {
	a, err := s.deps.A2A.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, a)
}

func (s *Server) handleListAuthorizations(c *gin.Context) {
	f := a2a.ListFilter{
		CredentialID: strings.TrimSpace(c.Query("credential_id")),
		Role:         a2a.Role(c.Query("role")),
		Status:       a2a.Status(c.Query("status")),
	}
	if f.Status != "" && !f.Status.Valid() {
		writeErrorCode(c, http.StatusBadRequest, string(a2a.KindValidation), "unknown status "+strconv.Quote(string(f.Status)))
		return
	}
	for _, p := range []struct {
		name string
		dst  *int
	}{{"limit", &f.Limit}, {"offset", &f.Offset}} {
		v := c.Query(p.name)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeErrorCode(c, http.StatusBadRequest, string(a2a.KindValidation), p.name+" must be a non-negative integer")
			return
		}
		*p.dst = n
	}

	items, err := s.deps.A2A.List(c.Request.Context(), f)
	if err != nil {
		s.writeError(c, err)
		return
	}
	if items == nil {
		items = []*a2a.Authorization{}
	}
	c.JSON(http.StatusOK, gin.H{"items": items})
}

// authorizationAction is the body of POST or PATCH
// /v1/a2a/authorizations/:id. With action "revoke" it revokes an approved
// authorization; otherwise it is the grantor's signed response.
type authorizationAction struct {
	Action              string `json:"action"`
	GrantorCredentialID string `json:"grantor_credential_id"`
	Approved            *bool  `json:"approved"`
	Message             string `json:"message"`
	Signature           string `json:"signature"`
	Reason              string `json:"reason"`
}

func (s *Server) handleAuthorizationAction(c *gin.Context) {
	var req authorizationAction
	if err := c.ShouldBindJSON(&req); err != nil {
		writeErrorCode(c, http.StatusBadRequest, string(a2a.KindValidation), "invalid request body")
		return
	}
	ctx := c.Request.Context()
	id := c.Param("id")

	switch req.Action {
	case "revoke":
		a, err := s.deps.A2A.Revoke(ctx, ownerFrom(c), id, req.GrantorCredentialID, req.Reason)
		if err != nil {
			s.writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": a.Status, "revoked_at": a.RevokedAt})
	case "", "respond":
		if req.Approved == nil {
			writeErrorCode(c, http.StatusBadRequest, string(a2a.KindValidation), "approved is required")
			return
		}
		a, err := s.deps.A2A.Respond(ctx, ownerFrom(c), id, a2a.RespondRequest{
			GrantorCredentialID: req.GrantorCredentialID,
			Approved:            *req.Approved,
			Message:             req.Message,
			Signature:           req.Signature,
		})
		if err != nil {
			s.writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": a.Status})
	default:
		writeErrorCode(c, http.StatusBadRequest, string(a2a.KindValidation), "unknown action "+strconv.Quote(req.Action))
	}
}

func (s *Server) handleCheckAuthorization(c *gin.Context) {
	var req a2a.CheckRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeErrorCode(c, http.StatusBadRequest, string(a2a.KindValidation), "invalid request body")
		return
	}
	res, err := s.deps.A2A.Check(c.Request.Context(), req)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (s *Server) handleSweep(c *gin.Context) {
	ids, err := s.deps.A2A.ExpireSweep(c.Request.Context())
	if err != nil {
		s.writeError(c, err)
		return
	}
	if ids == nil {
		ids = []string{}
	}
	c.JSON(http.StatusOK, gin.H{"expired_ids": ids})
}

func (s *Server) handleGetReputation(c *gin.Context) {
	rec, ok := s.reputation(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, rec)
}

func (s *Server) handleReputationAnalytics(c *gin.Context) {
	rec, ok := s.reputation(c)
	if !ok {
		return
	}

	var opts reputation.AnalyzeOptions
	var err error
	if opts.Window, err = intQuery(c, "window"); err != nil {
		return
	}
	if opts.Periods, err = intQuery(c, "periods"); err != nil {
		return
	}
	if v := c.Query("threshold"); v != "" {
		opts.Threshold, err = strconv.ParseFloat(v, 64)
		if err != nil || opts.Threshold < 0 {
			writeErrorCode(c, http.StatusBadRequest, "validation", "threshold must be a non-negative number")
			return
		}
	}
	opts.GroupBy = reputation.Period(c.Query("group"))

	series := rec.Series()
	if v := c.Query("since"); v != "" {
		since, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeErrorCode(c, http.StatusBadRequest, "validation", "since must be RFC 3339")
			return
		}
		series = trimBefore(series, since)
	}

	analytics, err := reputation.Analyze(series, opts)
	if err != nil {
		writeErrorCode(c, http.StatusBadRequest, "validation", err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"credential_id": rec.CredentialID,
		"trust_score":   rec.TrustScore,
		"success_rate":  rec.SuccessRate(),
		"analytics":     analytics,
	})
}

func (s *Server) reputation(c *gin.Context) (*reputation.Record, bool) {
	rec, err := s.deps.Reputation.Get(c.Request.Context(), c.Param("credential_id"))
	if err != nil {
		if errors.Is(err, reputation.ErrNotFound) {
			writeErrorCode(c, http.StatusNotFound, "not_found", "no reputation record for credential")
			return nil, false
		}
		s.writeError(c, err)
		return nil, false
	}
	return rec, true
}

func intQuery(c *gin.Context, name string) (int, error) {
	v := c.Query(name)
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		writeErrorCode(c, http.StatusBadRequest, "validation", name+" must be a non-negative integer")
		return 0, errors.New("invalid " + name)
	}
	return n, nil
}

func trimBefore(series []reputation.Point, since time.Time) []reputation.Point {
	out := series[:0:0]
	for _, p := range series {
		if !p.Timestamp.Before(since) {
			out = append(out, p)
		}
	}
	return out
}
