package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/martinemde/streamloop/agentloop"
	"github.com/martinemde/streamloop/internal/config"
	"github.com/martinemde/streamloop/internal/localexec"
	"github.com/martinemde/streamloop/remote"
	"github.com/martinemde/streamloop/unifiedllm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var quietLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

func defaultApp(t *testing.T) config.AppConfig {
	t.Helper()
	cfg, err := config.LoadApp("")
	require.NoError(t, err)
	return cfg.Get()
}

func TestNewAdapterSelection(t *testing.T) {
	app := defaultApp(t)

	adapter, err := newAdapter(app.Provider, app.Agent, quietLogger)
	require.NoError(t, err)
	assert.IsType(t, &unifiedllm.AnthropicAdapter{}, adapter)
	assert.Equal(t, "anthropic", adapter.Name())

	app.Provider.Name = "deepseek"
	adapter, err = newAdapter(app.Provider, app.Agent, quietLogger)
	require.NoError(t, err)
	assert.IsType(t, &unifiedllm.OpenAIAdapter{}, adapter)
	assert.Equal(t, "deepseek", adapter.Name())
}

func TestEngineAndTurnOptions(t *testing.T) {
	app := defaultApp(t)
	app.Agent.ToolPolicy = "concurrent"
	app.Agent.MaxIterations = 5

	cfg := engineConfig(app.Agent)
	assert.Equal(t, agentloop.ConcurrentPolicy, cfg.ToolPolicy)
	assert.Equal(t, 5, cfg.MaxIterations)

	opts := turnOptions(app, "anthropic")
	assert.Equal(t, "anthropic", opts.Provider)
	require.NotNil(t, opts.Config.MaxTokens)
	assert.Equal(t, 4096, *opts.Config.MaxTokens)
	assert.Nil(t, opts.Config.Temperature)
}

func TestModelTable(t *testing.T) {
	table := modelTable(unifiedllm.ListModels("deepseek"))
	assert.Contains(t, table, "deepseek-chat")
	assert.Contains(t, table, "reasoning")
	assert.True(t, strings.HasPrefix(table, "ID"))
}

// terminalScript asks for one command and then answers with text.
type terminalScript struct {
	calls   int
	results []string
}

func (s *terminalScript) Name() string { return "script" }

func (s *terminalScript) BeginTurn(ctx context.Context, _ []unifiedllm.Message, _ unifiedllm.UserInput, _ unifiedllm.TurnOptions, _ unifiedllm.EventSink) (*unifiedllm.StreamResult, error) {
	s.calls++
	args := json.RawMessage(`{"command":"echo streamloop"}`)
	return &unifiedllm.StreamResult{ToolCalls: []unifiedllm.ToolCall{{ID: "T1", Name: "terminal", Arguments: args}}}, nil
}

func (s *terminalScript) ContinueTurn(ctx context.Context, history []unifiedllm.Message, _ unifiedllm.TurnOptions, _ unifiedllm.EventSink) (*unifiedllm.StreamResult, error) {
	s.calls++
	if r := history[len(history)-1].ToolResult(); r != nil {
		s.results = append(s.results, r.Content)
	}
	return &unifiedllm.StreamResult{Content: "done"}, nil
}

func TestConsoleActorRunsApprovedCommand(t *testing.T) {
	app := defaultApp(t)
	root := &rootOptions{logger: quietLogger}
	registry := agentloop.NewToolRegistry()
	terminal, scrollback := newTools(app.Bridge, registry, root)

	script := &terminalScript{}
	session := agentloop.NewSession(script, registry, agentloop.SessionConfig{Logger: quietLogger})
	defer session.Close()

	var out bytes.Buffer
	actor := &consoleActor{
		out:         &out,
		runner:      localexec.NewRunner(t.TempDir(), quietLogger),
		scrollback:  localexec.NewScrollback(0),
		terminal:    terminal,
		reader:      scrollback,
		autoApprove: true,
		logger:      quietLogger,
	}
	terminal.Bridge().SetNotifier(actor.notifier(session))

	ctx := context.Background()
	actionTypes := make(chan interface{}, 4)
	go func() {
		for ev := range session.Events() {
			if ev.Kind == agentloop.EventActionRequired {
				actionTypes <- ev.Data["action_type"]
				actor.handleAction(ctx, ev)
			}
		}
	}()

	res, err := session.Submit(ctx, "say hi", nil)
	require.NoError(t, err)
	assert.Equal(t, "done", res.Content)
	require.Len(t, script.results, 1)
	assert.Equal(t, "[COMMAND EXECUTED SUCCESSFULLY]\nstreamloop\n", script.results[0])
	assert.Equal(t, remote.TerminalActionType, <-actionTypes)

	w := actor.scrollback.Read(nil, 0)
	assert.Equal(t, "$ echo streamloop\nstreamloop", w.Content)
}

func TestConsoleActorWithdrawsPromptWhenTurnStops(t *testing.T) {
	var out bytes.Buffer
	actor := &consoleActor{
		out:     &out,
		answers: make(chan string),
		logger:  quietLogger,
	}
	reqCtx, cancel := context.WithCancel(context.Background())
	actor.track("r1", reqCtx)

	done := make(chan struct{})
	go func() {
		defer close(done)
		actor.runCommand(context.Background(), remote.TerminalCommandRequest{RequestID: "r1", Command: "rm -rf build"})
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("prompt was not withdrawn")
	}
	assert.Contains(t, out.String(), "Run `rm -rf build`?")
	assert.Contains(t, out.String(), "(withdrawn)")
	assert.Empty(t, actor.inflight)
}
