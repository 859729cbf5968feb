package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/agentid-dev/agentid-core/pkg/a2a"
	"github.com/agentid-dev/agentid-core/pkg/credential"
)

// ErrorBody is the error envelope of every failed request.
type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type errorResponse struct {
	Error ErrorBody `json:"error"`
}

func writeErrorCode(c *gin.Context, status int, code, message string) {
	c.AbortWithStatusJSON(status, errorResponse{Error: ErrorBody{Code: code, Message: message}})
}

// writeError maps service errors to HTTP statuses. Internal errors are
// logged in full and returned without detail.
func (s *Server) writeError(c *gin.Context, err error) {
	var ae *a2a.Error
	if errors.As(err, &ae) {
		status := a2aStatus(ae.Kind)
		if status == http.StatusInternalServerError {
			s.deps.Logger.Error("request failed", "path", c.FullPath(), "error", err)
			writeErrorCode(c, status, string(ae.Kind), "internal error")
			return
		}
		writeErrorCode(c, status, string(ae.Kind), ae.Message)
		return
	}

	if ce, ok := credential.AsError(err); ok {
		status := credentialStatus(ce.Code)
		if status == http.StatusInternalServerError {
			s.deps.Logger.Error("request failed", "path", c.FullPath(), "error", err)
			writeErrorCode(c, status, ce.Code, "internal error")
			return
		}
		writeErrorCode(c, status, ce.Code, ce.Message)
		return
	}

	s.deps.Logger.Error("request failed", "path", c.FullPath(), "error", err)
	writeErrorCode(c, http.StatusInternalServerError, "internal", "internal error")
}

func a2aStatus(k a2a.Kind) int {
	switch k {
	case a2a.KindValidation:
		return http.StatusBadRequest
	case a2a.KindNotFound:
		return http.StatusNotFound
	case a2a.KindStateConflict:
		return http.StatusConflict
	case a2a.KindForbidden:
		return http.StatusForbidden
	case a2a.KindSignature:
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}

func credentialStatus(code string) int {
	switch code {
	case credential.CodeValidation:
		return http.StatusBadRequest
	case credential.CodeNotFound, credential.CodeIssuerNotFound:
		return http.StatusNotFound
	case credential.CodeRevoked, credential.CodeExpired, credential.CodeNotYetValid:
		return http.StatusConflict
	case credential.CodeInvalidSignature:
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}
