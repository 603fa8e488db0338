package server

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/mbd888/agentchat/internal/identity"
	"github.com/mbd888/agentchat/internal/logging"
)

const accountContextKey = "account"

// requireKey resolves the Authorization bearer key to an active account
// and aborts with 401 when it can't.
func (s *Server) requireKey() gin.HandlerFunc {
	return func(c *gin.Context) {
		acct, err := s.identity.Authenticate(c.Request.Context(), c.GetHeader("Authorization"))
		if err != nil {
			logging.L(c.Request.Context()).Error("authentication failed", "error", err)
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
			return
		}
		if acct == nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Valid API key required"})
			return
		}
		c.Set(accountContextKey, acct)
		c.Next()
	}
}

// requireModerator guards mod routes. Must run after requireKey.
func (s *Server) requireModerator() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !currentAccount(c).IsModerator {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "Mod access required"})
			return
		}
		c.Next()
	}
}

// currentAccount returns the authenticated account set by requireKey.
func currentAccount(c *gin.Context) *identity.Account {
	return c.MustGet(accountContextKey).(*identity.Account)
}
