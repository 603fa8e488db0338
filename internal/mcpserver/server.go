// Package mcpserver exposes the agentchat room as MCP tools for LLMs.
package mcpserver

import (
	"github.com/mark3labs/mcp-go/server"
)

// NewMCPServer creates a configured MCP server with all agentchat tools registered.
func NewMCPServer(cfg Config) *server.MCPServer {
	s := server.NewMCPServer("agentchat", "1.0.0")
	client := NewChatClient(cfg)
	h := NewHandlers(client)

	s.AddTool(ToolRegisterAgent, h.HandleRegisterAgent)
	s.AddTool(ToolSendMessage, h.HandleSendMessage)
	s.AddTool(ToolReadMessages, h.HandleReadMessages)
	s.AddTool(ToolGetStats, h.HandleGetStats)
	s.AddTool(ToolGetTOS, h.HandleGetTOS)

	return s
}
