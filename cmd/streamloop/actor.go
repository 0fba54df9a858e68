package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/martinemde/streamloop/agentloop"
	"github.com/martinemde/streamloop/internal/localexec"
	"github.com/martinemde/streamloop/remote"
)

// consoleActor answers remote tool requests from the terminal: it asks the
// user to approve commands, runs approved ones locally and serves scrollback
// from their captured output.
type consoleActor struct {
	out         io.Writer
	answers     <-chan string
	runner      *localexec.Runner
	scrollback  *localexec.Scrollback
	terminal    *remote.TerminalTool
	reader      *remote.ScrollbackTool
	autoApprove bool
	logger      *slog.Logger

	mu       sync.Mutex
	inflight map[string]context.Context
}

// notifier turns bridge notifications into action_required session events.
func (a *consoleActor) notifier(session *agentloop.Session) remote.Notifier {
	return remote.NotifierFunc(func(ctx context.Context, n remote.Notification) error {
		actionType := n.Name
		switch n.Payload.(type) {
		case remote.TerminalCommandRequest:
			actionType = remote.TerminalActionType
		case remote.ScrollbackRequest:
			actionType = remote.ScrollbackActionType
		}
		a.track(n.RequestID, ctx)
		if err := session.ActionRequired(ctx, n.RequestID, actionType, n.Payload); err != nil {
			a.requestContext(n.RequestID)
			return err
		}
		return nil
	})
}

// track remembers the context of a request that is waiting on the user. It
// ends when the turn that issued the request stops waiting.
func (a *consoleActor) track(id string, ctx context.Context) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.inflight == nil {
		a.inflight = make(map[string]context.Context)
	}
	a.inflight[id] = ctx
}

// requestContext returns and forgets the context tracked for id.
func (a *consoleActor) requestContext(id string) context.Context {
	a.mu.Lock()
	defer a.mu.Unlock()
	ctx, ok := a.inflight[id]
	delete(a.inflight, id)
	if !ok {
		return context.Background()
	}
	return ctx
}

// handleAction serves one action_required event. It must not block the
// event loop, so command approval runs on its own goroutine.
func (a *consoleActor) handleAction(ctx context.Context, ev agentloop.SessionEvent) {
	switch req := ev.Data["data"].(type) {
	case remote.TerminalCommandRequest:
		go a.runCommand(ctx, req)
	case remote.ScrollbackRequest:
		a.requestContext(req.RequestID)
		a.serveScrollback(req)
	default:
		a.logger.Warn("ignoring unknown action", "action_type", ev.Data["action_type"])
	}
}

func (a *consoleActor) runCommand(ctx context.Context, req remote.TerminalCommandRequest) {
	reqCtx := a.requestContext(req.RequestID)
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(reqCtx, cancel)
	defer stop()

	resp := remote.TerminalCommandResponse{RequestID: req.RequestID}
	if !a.approve(ctx, req) {
		if reqCtx.Err() != nil {
			fmt.Fprintln(a.out, "(withdrawn)")
			return
		}
		resp.Rejected = true
		a.terminal.HandleResponse(resp)
		return
	}

	res, err := a.runner.Run(ctx, req.Command, req.WorkingDir, time.Duration(req.TimeoutSecs)*time.Second)
	if err != nil {
		resp.Error = err.Error()
		a.terminal.HandleResponse(resp)
		return
	}
	output := res.Output()
	a.scrollback.Append("$ " + req.Command + "\n" + output)
	fmt.Fprint(a.out, output)

	resp.Output = output
	resp.ExitCode = &res.ExitCode
	resp.Success = res.Success()
	if res.TimedOut {
		resp.Error = fmt.Sprintf("command timed out after %ds", req.TimeoutSecs)
	}
	a.terminal.HandleResponse(resp)
}

func (a *consoleActor) approve(ctx context.Context, req remote.TerminalCommandRequest) bool {
	if a.autoApprove {
		fmt.Fprintf(a.out, "\n$ %s\n", req.Command)
		return true
	}
	where := ""
	if req.WorkingDir != "" {
		where = " (in " + req.WorkingDir + ")"
	}
	fmt.Fprintf(a.out, "\nRun `%s`%s? [y/N] ", req.Command, where)
	select {
	case answer, ok := <-a.answers:
		if !ok {
			return false
		}
		answer = strings.ToLower(strings.TrimSpace(answer))
		return answer == "y" || answer == "yes"
	case <-ctx.Done():
		return false
	}
}

func (a *consoleActor) serveScrollback(req remote.ScrollbackRequest) {
	w := a.scrollback.Read(req.LineStart, req.Count)
	a.reader.HandleResponse(remote.ScrollbackResponse{
		RequestID:  req.RequestID,
		Success:    true,
		TotalLines: w.Total,
		LineStart:  w.Start,
		LineEnd:    w.End,
		Content:    w.Content,
		HasMore:    w.HasMore,
	})
}
