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
	// TerminalToolName is the tool name the model sees.
	TerminalToolName = "terminal"
	// TerminalRequestEvent names the notification sent for each command.
	TerminalRequestEvent = "terminal_command_request"
	// TerminalActionType is the action_required type shown to the user.
	TerminalActionType = "terminal_command"
	// DefaultCommandTimeout applies when the model gives no timeout.
	DefaultCommandTimeout = 120 * time.Second

	duplicateNotice = "This exact command was already executed successfully within the last %d seconds. " +
		"Do NOT re-execute it. If you need to verify the result, use the term_get_scrollback tool to read the terminal output."
	successMarker = "[COMMAND EXECUTED SUCCESSFULLY]\n"
)

// TerminalCommandRequest asks the external actor to run a command.
type TerminalCommandRequest struct {
	RequestID   string `json:"request_id"`
	Command     string `json:"command"`
	WorkingDir  string `json:"working_dir,omitempty"`
	TimeoutSecs int    `json:"timeout_secs"`
}

// TerminalCommandResponse is the external actor's answer.
type TerminalCommandResponse struct {
	RequestID string `json:"request_id"`
	Success   bool   `json:"success"`
	Output    string `json:"output"`
	Error     string `json:"error,omitempty"`
	ExitCode  *int   `json:"exit_code,omitempty"`
	Rejected  bool   `json:"rejected"`
}

// TerminalTool runs shell commands through an external actor, typically a
// user approving them in a terminal UI.
type TerminalTool struct {
	bridge  *Bridge[TerminalCommandRequest, TerminalCommandResponse]
	guard   *DuplicateGuard
	timeout time.Duration
	logger  *slog.Logger
}

// TerminalOption configures a TerminalTool.
type TerminalOption func(*terminalConfig)

type terminalConfig struct {
	timeout time.Duration
	guard   *DuplicateGuard
	logger  *slog.Logger
	bridge  []BridgeOption
}

// WithCommandTimeout sets the timeout used when the model omits one.
func WithCommandTimeout(d time.Duration) TerminalOption {
	return func(c *terminalConfig) {
		c.timeout = d
	}
}

// WithDuplicateGuard replaces the default guard.
func WithDuplicateGuard(g *DuplicateGuard) TerminalOption {
	return func(c *terminalConfig) {
		c.guard = g
	}
}

// WithTerminalLogger sets the tool logger.
func WithTerminalLogger(logger *slog.Logger) TerminalOption {
	return func(c *terminalConfig) {
		c.logger = logger
	}
}

// WithTerminalBridgeOptions passes options through to the underlying bridge.
func WithTerminalBridgeOptions(opts ...BridgeOption) TerminalOption {
	return func(c *terminalConfig) {
		c.bridge = append(c.bridge, opts...)
	}
}

// NewTerminalTool creates the tool. notifier may be attached later through
// Bridge().SetNotifier.
func NewTerminalTool(notifier Notifier, opts ...TerminalOption) *TerminalTool {
	cfg := terminalConfig{timeout: DefaultCommandTimeout}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.logger == nil {
		cfg.logger = slog.Default()
	}
	if cfg.guard == nil {
		cfg.guard = NewDuplicateGuard(DefaultDuplicateWindow, DefaultDuplicateCapacity)
	}
	bridgeOpts := append([]BridgeOption{WithTimeout(cfg.timeout), WithLogger(cfg.logger)}, cfg.bridge...)
	return &TerminalTool{
		bridge:  NewBridge[TerminalCommandRequest, TerminalCommandResponse](TerminalRequestEvent, notifier, bridgeOpts...),
		guard:   cfg.guard,
		timeout: cfg.timeout,
		logger:  cfg.logger.With("tool", TerminalToolName),
	}
}

// Bridge exposes the correlation bridge.
func (t *TerminalTool) Bridge() *Bridge[TerminalCommandRequest, TerminalCommandResponse] {
	return t.bridge
}

// Guard exposes the duplicate guard.
func (t *TerminalTool) Guard() *DuplicateGuard { return t.guard }

// Definition returns the tool definition.
func (t *TerminalTool) Definition() agentloop.ToolDefinition {
	return agentloop.ToolDefinition{
		Name: TerminalToolName,
		Description: "Run a shell command in the user's terminal. The user must approve the command before it runs. " +
			"When you receive '[COMMAND EXECUTED SUCCESSFULLY]' the command has completed; do not run it again.",
		Parameters: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"command": map[string]interface{}{
					"type":        "string",
					"description": "The command to run",
				},
				"working_dir": map[string]interface{}{
					"type":        "string",
					"description": "Working directory for the command",
				},
				"timeout": map[string]interface{}{
					"type":        "integer",
					"description": "Timeout in seconds (default 120)",
				},
			},
			"required": []string{"command"},
		},
	}
}

// Register adds the tool to reg.
func (t *TerminalTool) Register(reg *agentloop.ToolRegistry) {
	reg.Register(agentloop.RegisteredTool{
		Definition: t.Definition(),
		Executor:   t.Execute,
	})
}

// HandleResponse routes an actor response to its waiting request.
func (t *TerminalTool) HandleResponse(resp TerminalCommandResponse) bool {
	return t.bridge.Fulfill(resp.RequestID, resp)
}

// Execute runs one terminal tool call.
func (t *TerminalTool) Execute(ctx context.Context, arguments json.RawMessage) (string, error) {
	args, err := agentloop.ParseToolArguments(arguments)
	if err != nil {
		return "", err
	}
	command, ok := agentloop.GetStringArg(args, "command")
	if !ok || command == "" {
		return "", errors.New("missing required argument: command")
	}
	workingDir, _ := agentloop.GetStringArg(args, "working_dir")
	timeout := t.timeout
	if secs, ok := agentloop.GetIntArg(args, "timeout"); ok && secs > 0 {
		timeout = time.Duration(secs) * time.Second
	}

	if t.guard.Check(command) {
		t.logger.Warn("blocked duplicate command", "command", command)
		notice := fmt.Sprintf(duplicateNotice, int(t.guard.Window()/time.Second))
		return "[DUPLICATE COMMAND BLOCKED]\n" + notice + "\n\nOriginal command: " + command, nil
	}

	resp, err := t.bridge.RequestFunc(ctx, timeout, func(id string) TerminalCommandRequest {
		return TerminalCommandRequest{
			RequestID:   id,
			Command:     command,
			WorkingDir:  workingDir,
			TimeoutSecs: int(timeout / time.Second),
		}
	})
	switch {
	case errors.Is(err, ErrNotifyFailed):
		t.guard.Record(command, false)
		return "", &agentloop.ToolFailure{Message: fmt.Sprintf("could not deliver command to the terminal: %v", err)}
	case errors.Is(err, ErrTimeout):
		return "", &agentloop.ToolFailure{Message: fmt.Sprintf("no terminal response within %s", timeout)}
	case err != nil:
		return "", err
	}

	t.guard.Record(command, resp.Success)
	switch {
	case resp.Rejected:
		return "", &agentloop.ToolFailure{
			Message: "command rejected by user",
			Output:  "The user declined to run this command.",
		}
	case resp.Success:
		return successMarker + resp.Output, nil
	}
	msg := resp.Error
	if msg == "" {
		code := -1
		if resp.ExitCode != nil {
			code = *resp.ExitCode
		}
		msg = fmt.Sprintf("command failed (exit code %d)", code)
	}
	return "", &agentloop.ToolFailure{Message: msg, Output: resp.Output}
}
