package agentloop

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/martinemde/streamloop/unifiedllm"
	"golang.org/x/sync/errgroup"
)

const (
	cancelledResult = "cancelled before execution"
	skippedResult   = "skipped: an earlier tool call in this batch failed"
)

// executeTools runs one batch and returns exactly one result message per
// call, in declaration order.
func (e *Engine) executeTools(ctx context.Context, stopped func() bool, calls []unifiedllm.ToolCall) []unifiedllm.Message {
	results := make([]unifiedllm.Message, len(calls))
	if e.concurrent(calls) {
		e.executeConcurrent(ctx, stopped, calls, results)
	} else {
		e.executeSequential(ctx, stopped, calls, results)
	}
	return results
}

func (e *Engine) concurrent(calls []unifiedllm.ToolCall) bool {
	if e.config.ToolPolicy != ConcurrentPolicy || len(calls) < 2 {
		return false
	}
	for _, call := range calls {
		tool := e.tools.Get(call.Name)
		if tool == nil || !tool.SideEffectFree {
			return false
		}
	}
	return true
}

func (e *Engine) executeSequential(ctx context.Context, stopped func() bool, calls []unifiedllm.ToolCall, results []unifiedllm.Message) {
	failed := false
	for i, call := range calls {
		switch {
		case stopped():
			results[i] = e.skip(call, cancelledResult)
		case failed:
			results[i] = e.skip(call, skippedResult)
		default:
			var ok bool
			results[i], ok = e.runTool(ctx, call)
			if !ok && e.config.FailFast {
				failed = true
			}
		}
	}
}

func (e *Engine) executeConcurrent(ctx context.Context, stopped func() bool, calls []unifiedllm.ToolCall, results []unifiedllm.Message) {
	ctx, stop := context.WithCancel(ctx)
	defer stop()

	var failed atomic.Bool
	var g errgroup.Group
	g.SetLimit(e.config.MaxConcurrency)
	for i, call := range calls {
		g.Go(func() error {
			switch {
			case stopped():
				results[i] = e.skip(call, cancelledResult)
			case failed.Load():
				results[i] = e.skip(call, skippedResult)
			default:
				msg, ok := e.runTool(ctx, call)
				results[i] = msg
				if !ok && e.config.FailFast {
					failed.Store(true)
					stop()
				}
			}
			return nil
		})
	}
	_ = g.Wait()
}

// runTool executes one call. The boolean is false when the result is an
// error result.
func (e *Engine) runTool(ctx context.Context, call unifiedllm.ToolCall) (unifiedllm.Message, bool) {
	if call.ParseError != "" {
		return e.toolError(call, fmt.Sprintf("Invalid arguments for %s: %s", call.Name, call.ParseError), ""), false
	}
	tool := e.tools.Get(call.Name)
	if tool == nil {
		return e.toolError(call, fmt.Sprintf("Unknown tool: %s", call.Name), ""), false
	}

	output, err := tool.Executor(ctx, call.Arguments)
	if err != nil {
		var failure *ToolFailure
		if errors.As(err, &failure) {
			return e.toolError(call, failure.Message, failure.Output), false
		}
		return e.toolError(call, fmt.Sprintf("Tool error (%s): %v", call.Name, err), output), false
	}

	e.emit(EventToolEnd, map[string]interface{}{
		"tool_id":   call.ID,
		"tool_name": call.Name,
		"success":   true,
		"output":    output,
	})
	truncated := TruncateToolOutput(output, call.Name, e.config.ToolOutputLimits, e.config.ToolLineLimits)
	return unifiedllm.ToolResultMessage(call.ID, truncated, false), true
}

func (e *Engine) toolError(call unifiedllm.ToolCall, message, output string) unifiedllm.Message {
	e.logger.Warn("tool call failed", "tool", call.Name, "tool_call_id", call.ID, "error", message)
	e.emit(EventToolEnd, map[string]interface{}{
		"tool_id":   call.ID,
		"tool_name": call.Name,
		"success":   false,
		"output":    output,
		"error":     message,
	})
	content := message
	if output != "" {
		content = TruncateToolOutput(output, call.Name, e.config.ToolOutputLimits, e.config.ToolLineLimits) +
			"\n\nError: " + message
	}
	return unifiedllm.ToolResultMessage(call.ID, content, true)
}

func (e *Engine) skip(call unifiedllm.ToolCall, reason string) unifiedllm.Message {
	e.emit(EventToolEnd, map[string]interface{}{
		"tool_id":   call.ID,
		"tool_name": call.Name,
		"success":   false,
		"error":     reason,
	})
	return unifiedllm.ToolResultMessage(call.ID, reason, true)
}
