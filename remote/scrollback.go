package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/martinemde/streamloop/agentloop"
)

const (
	ScrollbackToolName     = "term_get_scrollback"
	ScrollbackRequestEvent = "term_get_scrollback_request"
	ScrollbackActionType   = "term_get_scrollback"
	DefaultScrollbackCount = 200
	scrollbackTimeout      = 30 * time.Second
)

// ScrollbackRequest asks the external actor for terminal output.
type ScrollbackRequest struct {
	RequestID string `json:"request_id"`
	SessionID string `json:"session_id"`
	// LineStart nil means the most recent lines.
	LineStart *int `json:"line_start,omitempty"`
	Count     int  `json:"count"`
}

// ScrollbackResponse carries a window of terminal output.
type ScrollbackResponse struct {
	RequestID  string `json:"request_id"`
	Success    bool   `json:"success"`
	TotalLines int    `json:"total_lines"`
	LineStart  int    `json:"line_start"`
	LineEnd    int    `json:"line_end"`
	Content    string `json:"content"`
	HasMore    bool   `json:"has_more"`
	Error      string `json:"error,omitempty"`
}

// ScrollbackTool reads terminal output through an external actor. It does
// not change anything, so batches of it may run concurrently.
type ScrollbackTool struct {
	bridge *Bridge[ScrollbackRequest, ScrollbackResponse]
	logger *slog.Logger
}

// NewScrollbackTool creates the tool.
func NewScrollbackTool(notifier Notifier, opts ...BridgeOption) *ScrollbackTool {
	opts = append([]BridgeOption{WithTimeout(scrollbackTimeout)}, opts...)
	b := NewBridge[ScrollbackRequest, ScrollbackResponse](ScrollbackRequestEvent, notifier, opts...)
	return &ScrollbackTool{bridge: b, logger: b.cfg.logger}
}

// Bridge exposes the correlation bridge.
func (t *ScrollbackTool) Bridge() *Bridge[ScrollbackRequest, ScrollbackResponse] {
	return t.bridge
}

// Definition returns the tool definition.
func (t *ScrollbackTool) Definition() agentloop.ToolDefinition {
	return agentloop.ToolDefinition{
		Name:        ScrollbackToolName,
		Description: "Read output from a terminal session's scrollback buffer.",
		Parameters: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"session_id": map[string]interface{}{
					"type":        "string",
					"description": "Terminal session to read",
				},
				"line_start": map[string]interface{}{
					"type":        "integer",
					"description": "First line to read; omit for the most recent output",
				},
				"count": map[string]interface{}{
					"type":        "integer",
					"description": "Number of lines to read (default 200)",
				},
			},
			"required": []string{"session_id"},
		},
	}
}

// Register adds the tool to reg.
func (t *ScrollbackTool) Register(reg *agentloop.ToolRegistry) {
	reg.Register(agentloop.RegisteredTool{
		Definition:     t.Definition(),
		Executor:       t.Execute,
		SideEffectFree: true,
	})
}

// HandleResponse routes an actor response to its waiting request.
func (t *ScrollbackTool) HandleResponse(resp ScrollbackResponse) bool {
	return t.bridge.Fulfill(resp.RequestID, resp)
}

// Execute runs one scrollback tool call.
func (t *ScrollbackTool) Execute(ctx context.Context, arguments json.RawMessage) (string, error) {
	args, err := agentloop.ParseToolArguments(arguments)
	if err != nil {
		return "", err
	}
	sessionID, ok := agentloop.GetStringArg(args, "session_id")
	if !ok || sessionID == "" {
		return "", errors.New("missing required argument: session_id")
	}
	req := ScrollbackRequest{SessionID: sessionID, Count: DefaultScrollbackCount}
	if start, ok := agentloop.GetIntArg(args, "line_start"); ok {
		req.LineStart = &start
	}
	if count, ok := agentloop.GetIntArg(args, "count"); ok && count > 0 {
		req.Count = count
	}

	resp, err := t.bridge.RequestFunc(ctx, 0, func(id string) ScrollbackRequest {
		req.RequestID = id
		return req
	})
	if err != nil {
		return "", fmt.Errorf("read scrollback: %w", err)
	}
	if !resp.Success {
		msg := resp.Error
		if msg == "" {
			msg = "unknown error"
		}
		t.logger.Warn("scrollback request failed", "session", sessionID, "error", msg)
		return "", fmt.Errorf("read scrollback: %s", msg)
	}
	return FormatScrollback(resp), nil
}

// FormatScrollback renders a response for the model.
func FormatScrollback(resp ScrollbackResponse) string {
	out := fmt.Sprintf("Terminal output (lines %d-%d of %d):\n\n%s", resp.LineStart, resp.LineEnd, resp.TotalLines, resp.Content)
	if resp.HasMore {
		out += "\n\n[More output available. Use line_start parameter to fetch earlier lines.]"
	}
	return out
}
