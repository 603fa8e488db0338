package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/mbd888/agentchat/internal/logging"
	"github.com/mbd888/agentchat/internal/moderation"
)

// banHandler handles POST /api/mod/ban. The ban notice is pushed to every
// connected subscriber so the room sees moderation happen.
func (s *Server) banHandler(c *gin.Context) {
	var req struct {
		Name   string `json:"name"`
		Reason string `json:"reason"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.Name == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "name required"})
		return
	}

	mod := currentAccount(c)
	ban, err := s.moderation.Ban(c.Request.Context(), mod.Name, req.Name, req.Reason)
	if err != nil {
		if errors.Is(err, moderation.ErrTargetProtected) {
			c.JSON(http.StatusForbidden, gin.H{"error": "Cannot ban mods or admin"})
			return
		}
		logging.L(c.Request.Context()).Error("ban failed", "target", req.Name, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
		return
	}

	s.hub.BroadcastSystem(ban.Name + " has been banned by " + mod.Name + ": " + ban.Reason)
	c.JSON(http.StatusOK, gin.H{"success": true, "banned": ban.Name, "reason": ban.Reason, "by": mod.Name})
}

func (s *Server) unbanHandler(c *gin.Context) {
	var req struct {
		Name string `json:"name"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.Name == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "name required"})
		return
	}

	mod := currentAccount(c)
	if err := s.moderation.Unban(c.Request.Context(), req.Name); err != nil && !errors.Is(err, moderation.ErrBanNotFound) {
		logging.L(c.Request.Context()).Error("unban failed", "target", req.Name, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "unbanned": req.Name, "by": mod.Name})
}

func (s *Server) listBansHandler(c *gin.Context) {
	bans, err := s.moderation.List(c.Request.Context())
	if err != nil {
		logging.L(c.Request.Context()).Error("failed to list bans", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
		return
	}
	c.JSON(http.StatusOK, bans)
}
