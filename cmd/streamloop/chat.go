package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/martinemde/streamloop/agentloop"
	"github.com/martinemde/streamloop/internal/config"
	"github.com/martinemde/streamloop/internal/localexec"
	"github.com/martinemde/streamloop/remote"
	"github.com/martinemde/streamloop/unifiedllm"
	"github.com/spf13/cobra"
)

type chatOptions struct {
	workingDir   string
	autoApprove  bool
	showThinking bool
}

func newChatCommand(root *rootOptions) *cobra.Command {
	opts := &chatOptions{}
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Start an interactive chat session",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runChat(cmd, root, opts)
		},
	}
	cmd.Flags().StringVarP(&opts.workingDir, "dir", "d", "", "working directory for commands (default: current directory)")
	cmd.Flags().BoolVar(&opts.autoApprove, "yes", false, "run commands without asking")
	cmd.Flags().BoolVar(&opts.showThinking, "thinking", false, "print model reasoning")
	return cmd
}

// engineConfig maps agent settings onto the loop engine.
func engineConfig(agent config.AgentConfig) agentloop.EngineConfig {
	cfg := agentloop.DefaultEngineConfig()
	cfg.MaxIterations = agent.MaxIterations
	cfg.MaxConcurrency = agent.MaxConcurrency
	cfg.FailFast = agent.FailFast
	if agent.ToolPolicy == string(agentloop.ConcurrentPolicy) {
		cfg.ToolPolicy = agentloop.ConcurrentPolicy
	}
	return cfg
}

// turnOptions maps configuration onto per-turn adapter options.
func turnOptions(app config.AppConfig, provider string) unifiedllm.TurnOptions {
	opts := unifiedllm.TurnOptions{
		Provider: provider,
		Model:    app.Provider.Model,
		Config:   unifiedllm.GenerationConfig{SystemPrompt: app.Agent.SystemPrompt},
	}
	if app.Agent.MaxTokens > 0 {
		maxTokens := app.Agent.MaxTokens
		opts.Config.MaxTokens = &maxTokens
	}
	if app.Agent.Temperature > 0 {
		temperature := app.Agent.Temperature
		opts.Config.Temperature = &temperature
	}
	return opts
}

// newTools builds the bridged tools and registers them.
func newTools(bridge config.BridgeConfig, registry *agentloop.ToolRegistry, root *rootOptions) (*remote.TerminalTool, *remote.ScrollbackTool) {
	guard := remote.NewDuplicateGuard(time.Duration(bridge.DuplicateWindowSecs)*time.Second, bridge.DuplicateCapacity)
	terminal := remote.NewTerminalTool(nil,
		remote.WithCommandTimeout(time.Duration(bridge.CommandTimeoutSecs)*time.Second),
		remote.WithDuplicateGuard(guard),
		remote.WithTerminalLogger(root.logger),
	)
	scrollback := remote.NewScrollbackTool(nil,
		remote.WithTimeout(time.Duration(bridge.ScrollbackTimeoutSecs)*time.Second),
		remote.WithLogger(root.logger),
	)
	terminal.Register(registry)
	scrollback.Register(registry)
	return terminal, scrollback
}

func runChat(cmd *cobra.Command, root *rootOptions, opts *chatOptions) error {
	app := root.cfg.Get()
	logger := root.logger

	client, err := newClient(app, logger)
	if err != nil {
		return err
	}
	defer client.Close()

	registry := agentloop.NewToolRegistry()
	terminal, scrollback := newTools(app.Bridge, registry, root)
	defer terminal.Bridge().Close()
	defer scrollback.Bridge().Close()

	engineCfg := engineConfig(app.Agent)
	session := agentloop.NewSession(client, registry, agentloop.SessionConfig{
		Engine:  &engineCfg,
		Options: turnOptions(app, client.Name()),
		Logger:  logger,
	})
	defer session.Close()

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	out := cmd.OutOrStdout()
	lines := readLines(ctx, cmd.InOrStdin())
	actor := &consoleActor{
		out:         out,
		answers:     lines,
		runner:      localexec.NewRunner(opts.workingDir, logger),
		scrollback:  localexec.NewScrollback(0),
		terminal:    terminal,
		reader:      scrollback,
		autoApprove: opts.autoApprove,
		logger:      logger,
	}
	notifier := actor.notifier(session)
	terminal.Bridge().SetNotifier(notifier)
	scrollback.Bridge().SetNotifier(notifier)

	printer := &eventPrinter{out: out, showThinking: opts.showThinking}
	done := make(chan struct{})
	go func() {
		defer close(done)
		for ev := range session.Events() {
			if ev.Kind == agentloop.EventActionRequired {
				actor.handleAction(ctx, ev)
				continue
			}
			printer.print(ev)
		}
	}()

	interrupts := make(chan os.Signal, 1)
	signal.Notify(interrupts, os.Interrupt)
	defer signal.Stop(interrupts)
	go func() {
		for range interrupts {
			if session.State() == agentloop.SessionProcessing {
				session.Abort()
				continue
			}
			cancel()
			return
		}
	}()

	fmt.Fprintf(out, "streamloop %s (%s). Type /exit to quit.\n", client.Name(), app.Provider.Model)
	for {
		fmt.Fprint(out, "\n> ")
		var line string
		select {
		case l, ok := <-lines:
			if !ok {
				session.Close()
				<-done
				return nil
			}
			line = strings.TrimSpace(l)
		case <-ctx.Done():
			session.Close()
			<-done
			return nil
		}
		switch line {
		case "":
			continue
		case "/exit", "/quit":
			session.Close()
			<-done
			return nil
		}

		_, err := session.Submit(ctx, line, nil)
		switch {
		case errors.Is(err, agentloop.ErrCancelled):
			fmt.Fprintln(out, "\n(cancelled)")
		case err != nil:
			logger.Error("turn failed", "error", err)
		}
	}
}

// readLines feeds stdin lines to a channel until EOF or ctx ends.
func readLines(ctx context.Context, in io.Reader) <-chan string {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()
	return lines
}

// eventPrinter renders session events as a plain transcript.
type eventPrinter struct {
	out          io.Writer
	showThinking bool
}

func (p *eventPrinter) print(ev agentloop.SessionEvent) {
	switch ev.Kind {
	case agentloop.EventTextDelta:
		fmt.Fprint(p.out, ev.Data["text"])
	case agentloop.EventThinkingDelta:
		if p.showThinking {
			fmt.Fprint(p.out, ev.Data["text"])
		}
	case agentloop.EventToolStart:
		fmt.Fprintf(p.out, "\n[tool] %v\n", ev.Data["tool_name"])
	case agentloop.EventToolEnd:
		if ok, _ := ev.Data["success"].(bool); !ok {
			fmt.Fprintf(p.out, "[tool] %v failed: %v\n", ev.Data["tool_name"], ev.Data["error"])
		}
	case agentloop.EventLoopDetection, agentloop.EventWarning:
		fmt.Fprintf(p.out, "\n[warning] %v\n", ev.Data["message"])
	case agentloop.EventTurnLimit:
		fmt.Fprintf(p.out, "\n[stopped] tool round limit of %v reached\n", ev.Data["max_iterations"])
	case agentloop.EventError:
		fmt.Fprintf(p.out, "\n[error] %v\n", ev.Data["message"])
	case agentloop.EventFinalDone:
		if usage, ok := ev.Data["usage"].(unifiedllm.Usage); ok {
			fmt.Fprintf(p.out, "\n(%d in / %d out tokens)\n", usage.InputTokens, usage.OutputTokens)
		}
	}
}
