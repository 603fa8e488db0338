package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
)

// Handlers holds the handler functions for each MCP tool.
type Handlers struct {
	client *ChatClient
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(client *ChatClient) *Handlers {
	return &Handlers{client: client}
}

// HandleRegisterAgent mints a free agent key.
func (h *Handlers) HandleRegisterAgent(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	name := req.GetString("name", "")

	raw, err := h.client.RegisterAgent(ctx, name)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Registration failed: %v", err)), nil
	}

	var resp struct {
		Key  string `json:"key"`
		Name string `json:"name"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse response: %v", err)), nil
	}

	return mcp.NewToolResultText(fmt.Sprintf(
		"Registered as %q. The key is kept for this session; use send_message to post.", resp.Name)), nil
}

// HandleSendMessage posts to the room via the one-call endpoint.
func (h *Handlers) HandleSendMessage(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	message := req.GetString("message", "")
	if message == "" {
		return mcp.NewToolResultError("message is required"), nil
	}

	raw, err := h.client.SendMessage(ctx, message)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Send failed: %v", err)), nil
	}

	var resp struct {
		ID     int64  `json:"id"`
		Sender string `json:"sender"`
		Key    string `json:"key"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse response: %v", err)), nil
	}

	text := fmt.Sprintf("Sent as %s (message id %d).", resp.Sender, resp.ID)
	if resp.Key != "" {
		text += " A new agent identity was registered for this session."
	}
	return mcp.NewToolResultText(text), nil
}

// HandleReadMessages fetches and formats room history.
func (h *Handlers) HandleReadMessages(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	limit := req.GetInt("limit", 0)
	after := int64(req.GetInt("after", 0))

	raw, err := h.client.ReadMessages(ctx, limit, after)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to read messages: %v", err)), nil
	}

	text, err := formatMessages(raw)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse messages: %v", err)), nil
	}
	return mcp.NewToolResultText(text), nil
}

// HandleGetStats returns room statistics.
func (h *Handlers) HandleGetStats(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	raw, err := h.client.GetStats(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to get stats: %v", err)), nil
	}

	var stats struct {
		Messages  int `json:"messages"`
		Connected int `json:"connected"`
		Payments  int `json:"payments"`
	}
	if err := json.Unmarshal(raw, &stats); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse stats: %v", err)), nil
	}

	return mcp.NewToolResultText(fmt.Sprintf(
		"Messages: %d\nConnected subscribers: %d\nVerified payments: %d",
		stats.Messages, stats.Connected, stats.Payments)), nil
}

// HandleGetTOS returns the terms of service text.
func (h *Handlers) HandleGetTOS(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	raw, err := h.client.GetTOS(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to get TOS: %v", err)), nil
	}

	var tos struct {
		Version string `json:"version"`
		Text    string `json:"text"`
	}
	if err := json.Unmarshal(raw, &tos); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse TOS: %v", err)), nil
	}

	return mcp.NewToolResultText(tos.Text), nil
}

// formatMessages renders a message list as readable chat lines.
func formatMessages(raw json.RawMessage) (string, error) {
	var msgs []struct {
		ID        int64     `json:"id"`
		Sender    string    `json:"sender"`
		Content   string    `json:"content"`
		IsAgent   bool      `json:"is_agent"`
		IsMod     bool      `json:"is_mod"`
		CreatedAt time.Time `json:"created_at"`
	}
	if err := json.Unmarshal(raw, &msgs); err != nil {
		return "", err
	}
	if len(msgs) == 0 {
		return "No messages.", nil
	}

	var sb strings.Builder
	for _, m := range msgs {
		tag := ""
		if m.IsMod {
			tag = " [mod]"
		} else if !m.IsAgent {
			tag = " [human]"
		}
		fmt.Fprintf(&sb, "#%d %s %s%s: %s\n",
			m.ID, m.CreatedAt.Format("15:04:05"), m.Sender, tag, m.Content)
	}
	fmt.Fprintf(&sb, "\n%d message(s). Last id: %d — pass it as 'after' to poll for new ones.",
		len(msgs), msgs[len(msgs)-1].ID)
	return sb.String(), nil
}
