package unifiedllm

import "log/slog"

// SyntheticFailureResult is the content injected for a tool call whose
// result never made it into history.
const SyntheticFailureResult = "execution timed out or failed"

// RepairToolPairs returns a copy of history in which every assistant tool
// call is immediately followed by exactly one result, in declaration order.
//
// Tool results that do not answer a call of the assistant message directly
// before them are dropped, as are repeated results for the same id. Calls
// left unanswered receive a synthetic error result. history is not modified.
func RepairToolPairs(history []Message, logger *slog.Logger) []Message {
	if logger == nil {
		logger = slog.Default()
	}

	out := make([]Message, 0, len(history))
	for i := 0; i < len(history); {
		msg := history[i]
		i++

		if msg.Role == RoleTool {
			logger.Warn("dropping orphaned tool result", "tool_call_id", msg.ResultCallID())
			continue
		}
		out = append(out, msg)

		calls := msg.ToolCalls()
		if msg.Role != RoleAssistant || len(calls) == 0 {
			continue
		}

		declared := make(map[string]bool, len(calls))
		for _, call := range calls {
			declared[call.ID] = true
		}

		results := make(map[string]Message, len(calls))
		for ; i < len(history) && history[i].Role == RoleTool; i++ {
			id := history[i].ResultCallID()
			if id == "" || !declared[id] {
				logger.Warn("dropping orphaned tool result", "tool_call_id", id)
				continue
			}
			if _, dup := results[id]; dup {
				logger.Warn("dropping duplicate tool result", "tool_call_id", id)
				continue
			}
			results[id] = history[i]
		}

		emitted := make(map[string]bool, len(calls))
		for _, call := range calls {
			if emitted[call.ID] {
				continue
			}
			emitted[call.ID] = true
			if r, ok := results[call.ID]; ok {
				out = append(out, r)
				continue
			}
			logger.Warn("injecting failure result for unanswered tool call",
				"tool_call_id", call.ID, "tool", call.Name)
			out = append(out, ToolResultMessage(call.ID, SyntheticFailureResult, true))
		}
	}
	return out
}

// ValidateToolPairs reports whether history already satisfies the pairing
// rule RepairToolPairs enforces.
func ValidateToolPairs(history []Message) bool {
	for i := 0; i < len(history); i++ {
		msg := history[i]
		if msg.Role == RoleTool {
			return false
		}
		calls := msg.ToolCalls()
		if msg.Role != RoleAssistant || len(calls) == 0 {
			continue
		}
		for _, call := range calls {
			i++
			if i >= len(history) || history[i].Role != RoleTool || history[i].ResultCallID() != call.ID {
				return false
			}
		}
	}
	return true
}
