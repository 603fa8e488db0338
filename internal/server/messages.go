package server

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/mbd888/agentchat/internal/chat"
	"github.com/mbd888/agentchat/internal/identity"
	"github.com/mbd888/agentchat/internal/logging"
	"github.com/mbd888/agentchat/internal/metrics"
	"github.com/mbd888/agentchat/internal/validation"
)

// listMessages handles GET /api/messages. No auth: the room log is public.
func (s *Server) listMessages(c *gin.Context) {
	limit, _ := strconv.Atoi(c.Query("limit"))
	after, _ := strconv.ParseInt(c.Query("after"), 10, 64)

	msgs, err := s.chat.List(c.Request.Context(), limit, after)
	if err != nil {
		logging.L(c.Request.Context()).Error("failed to list messages", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
		return
	}
	c.JSON(http.StatusOK, msgs)
}

// postMessage handles POST /api/messages (authenticated).
func (s *Server) postMessage(c *gin.Context) {
	var req struct {
		Content string `json:"content"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "content required (string, max 2000 chars)"})
		return
	}

	msg, err := s.chat.Post(c.Request.Context(), currentAccount(c), req.Content)
	if err != nil {
		s.chatError(c, err)
		return
	}
	c.JSON(http.StatusCreated, msg)
}

// oneCallChat handles POST /api/chat: register (if needed) and send in a
// single call. Content is screened before any key is minted so a rejected
// message never costs an account slot.
func (s *Server) oneCallChat(c *gin.Context) {
	ctx := c.Request.Context()

	var req struct {
		Message string `json:"message"`
		Name    string `json:"name"`
		Key     string `json:"key"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.Message) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "message required"})
		return
	}
	if len(req.Message) > validation.MaxContentLength {
		c.JSON(http.StatusBadRequest, gin.H{"error": "message too long (max 2000 chars)"})
		return
	}
	if s.filter.Match(req.Message) {
		metrics.MessagesRejectedTotal.WithLabelValues("injection").Inc()
		c.JSON(http.StatusForbidden, gin.H{"error": "Message rejected: contains prompt injection patterns"})
		return
	}

	var acct *identity.Account
	minted := false

	if req.Key != "" {
		found, err := s.identity.Authenticate(ctx, req.Key)
		if err != nil {
			logging.L(ctx).Error("authentication failed", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
			return
		}
		if found == nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid key"})
			return
		}
		acct = found
	} else {
		if !s.agentKeyLimiter.Allow(c.ClientIP()) {
			c.JSON(http.StatusTooManyRequests, gin.H{"error": "Rate limited. Try again later."})
			return
		}
		created, err := s.identity.RegisterAgent(ctx, req.Name)
		if err != nil {
			s.registrationError(c, err)
			return
		}
		metrics.KeysIssuedTotal.WithLabelValues(identity.TierAgent).Inc()
		acct = created
		minted = true
	}

	msg, err := s.chat.Post(ctx, acct, req.Message)
	if err != nil {
		s.chatError(c, err)
		return
	}

	resp := gin.H{
		"sent":       true,
		"id":         msg.ID,
		"sender":     msg.Sender,
		"content":    msg.Content,
		"is_agent":   msg.IsAgent,
		"is_mod":     msg.IsModerator,
		"created_at": msg.CreatedAt,
	}
	if minted {
		resp["key"] = acct.Key
		resp["tip"] = "Save this key for future messages. Pass as { key, message } next time."
	}
	c.JSON(http.StatusCreated, resp)
}

// chatError maps chat pipeline errors to API responses.
func (s *Server) chatError(c *gin.Context, err error) {
	var banned *chat.BannedError
	switch {
	case errors.Is(err, chat.ErrEmptyContent):
		c.JSON(http.StatusBadRequest, gin.H{"error": "content required (string, max 2000 chars)"})
	case errors.Is(err, chat.ErrTooLong):
		c.JSON(http.StatusBadRequest, gin.H{"error": "content too long (max 2000 chars)"})
	case errors.Is(err, chat.ErrInjection):
		c.JSON(http.StatusForbidden, gin.H{"error": "Message rejected: contains prompt injection patterns. See /api/tos"})
	case errors.As(err, &banned):
		c.JSON(http.StatusForbidden, gin.H{"error": "You are banned.", "reason": banned.Reason})
	case errors.Is(err, chat.ErrRateLimited):
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "Rate limited. Max 15 messages per minute."})
	default:
		logging.L(c.Request.Context()).Error("failed to post message", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
	}
}
