package api

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/agentid-dev/agentid-core/pkg/a2a"
)

func (s *Server) handleStartConversation(c *gin.Context) {
	var req a2a.StartConversationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeErrorCode(c, http.StatusBadRequest, string(a2a.KindValidation), "invalid request body")
		return
	}
	conv, err := s.deps.A2A.StartConversation(c.Request.Context(), ownerFrom(c), req)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"conversation_id": conv.ID})
}

func (s *Server) handleListConversations(c *gin.Context) {
	f := a2a.ConversationFilter{
		CredentialID: strings.TrimSpace(c.Query("credential_id")),
		Status:       a2a.ConversationStatus(c.Query("status")),
	}
	var err error
	if f.Limit, err = intQuery(c, "limit"); err != nil {
		return
	}
	if f.Offset, err = intQuery(c, "offset"); err != nil {
		return
	}

	items, total, err := s.deps.A2A.ListConversations(c.Request.Context(), f)
	if err != nil {
		s.writeError(c, err)
		return
	}
	if items == nil {
		items = []*a2a.Conversation{}
	}
	c.JSON(http.StatusOK, gin.H{"conversations": items, "total": total})
}

func (s *Server) handleGetConversation(c *gin.Context) {
	conv, err := s.deps.A2A.GetConversation(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"conversation": conv})
}

func (s *Server) handleCloseConversation(c *gin.Context) {
	var req a2a.CloseConversationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeErrorCode(c, http.StatusBadRequest, string(a2a.KindValidation), "invalid request body")
		return
	}
	conv, err := s.deps.A2A.CloseConversation(c.Request.Context(), ownerFrom(c), c.Param("id"), req)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": conv.Status})
}

func (s *Server) handleSendMessage(c *gin.Context) {
	var req a2a.SendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeErrorCode(c, http.StatusBadRequest, string(a2a.KindValidation), "invalid request body")
		return
	}
	m, err := s.deps.A2A.SendMessage(c.Request.Context(), ownerFrom(c), c.Param("id"), req)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"message_id": m.ID, "seq": m.Seq})
}

func (s *Server) handleGetMessages(c *gin.Context) {
	f := a2a.MessageFilter{After: c.Query("after")}
	var err error
	if f.Limit, err = intQuery(c, "limit"); err != nil {
		return
	}
	if f.Offset, err = intQuery(c, "offset"); err != nil {
		return
	}

	items, err := s.deps.A2A.GetMessages(c.Request.Context(), ownerFrom(c), c.Param("id"), f)
	if err != nil {
		s.writeError(c, err)
		return
	}
	if items == nil {
		items = []*a2a.Message{}
	}
	c.JSON(http.StatusOK, gin.H{"messages": items})
}
