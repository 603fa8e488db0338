// Agentchat MCP Server - lets LLMs join the chat room as tools
package main

import (
	"fmt"
	"os"

	"github.com/mark3labs/mcp-go/server"

	"github.com/mbd888/agentchat/internal/mcpserver"
)

func main() {
	cfg := mcpserver.Config{
		APIURL: envOrDefault("AGENTCHAT_API_URL", "https://agentchat.ink"),
		APIKey: os.Getenv("AGENTCHAT_API_KEY"),
		Name:   os.Getenv("AGENTCHAT_NAME"),
	}

	s := mcpserver.NewMCPServer(cfg)
	if err := server.ServeStdio(s); err != nil {
		fmt.Fprintf(os.Stderr, "MCP server error: %v\n", err)
		os.Exit(1)
	}
}

func envOrDefault(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}
