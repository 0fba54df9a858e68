package unifiedllm

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
)

// streamParser is the per-turn state machine of one vendor family. Parse is
// called for every decoded frame in order; Finish is called once when the
// byte stream ends.
type streamParser interface {
	Parse(frame SSEFrame) ([]StreamEvent, error)
	Finish() ([]StreamEvent, error)
	Result() *StreamResult
}

// toolBuffer accumulates one tool call's streamed arguments.
type toolBuffer struct {
	id     string
	name   string
	args   strings.Builder
	closed bool
	call   ToolCall
}

// accumulator holds the state shared by every vendor parser: text and
// reasoning builders, per-id tool argument buffers in declaration order, and
// the finalized result.
type accumulator struct {
	logger *slog.Logger
	strict bool

	text      strings.Builder
	reasoning strings.Builder
	tools     []*toolBuffer
	byID      map[string]*toolBuffer
	usage     *Usage
	stop      string
	result    *StreamResult
}

func newAccumulator(logger *slog.Logger, strict bool) accumulator {
	if logger == nil {
		logger = slog.Default()
	}
	return accumulator{logger: logger, strict: strict, byID: make(map[string]*toolBuffer)}
}

func (a *accumulator) finished() bool { return a.result != nil }

func (a *accumulator) startTool(id, name string) *toolBuffer {
	if tb, ok := a.byID[id]; ok {
		if tb.name == "" {
			tb.name = name
		}
		return tb
	}
	tb := &toolBuffer{id: id, name: name}
	a.tools = append(a.tools, tb)
	a.byID[id] = tb
	return tb
}

func (a *accumulator) appendArgs(id, delta string) {
	tb, ok := a.byID[id]
	if !ok {
		tb = a.startTool(id, "")
	}
	if tb.closed {
		a.logger.Warn("argument delta for closed tool call", "tool_call_id", id)
		return
	}
	tb.args.WriteString(delta)
}

// closeTool parses the buffered arguments. It runs at most once per call.
func (a *accumulator) closeTool(id string) {
	tb, ok := a.byID[id]
	if !ok || tb.closed {
		return
	}
	tb.closed = true
	raw := tb.args.String()
	args, parseErr := parseArguments(raw)
	tb.call = ToolCall{ID: tb.id, Name: tb.name, Arguments: args, RawArguments: raw}
	if parseErr != nil {
		tb.call.ParseError = parseErr.Error()
		a.logger.Warn("tool call arguments are not valid JSON",
			"tool_call_id", tb.id, "tool", tb.name, "error", parseErr)
	}
}

func (a *accumulator) closeAll() {
	for _, tb := range a.tools {
		a.closeTool(tb.id)
	}
}

// finalize flushes every buffer and builds the StreamResult. Later calls
// return the same result.
func (a *accumulator) finalize() *StreamResult {
	if a.result != nil {
		return a.result
	}
	a.closeAll()
	res := &StreamResult{
		Content:          a.text.String(),
		ReasoningContent: a.reasoning.String(),
		StopReason:       a.stop,
	}
	if a.usage != nil {
		u := *a.usage
		if u.TotalTokens == 0 {
			u.TotalTokens = u.InputTokens + u.OutputTokens
		}
		res.Usage = &u
	}
	for _, tb := range a.tools {
		res.ToolCalls = append(res.ToolCalls, tb.call)
	}
	a.result = res
	return res
}

func (a *accumulator) usageOrNew() *Usage {
	if a.usage == nil {
		a.usage = &Usage{}
	}
	return a.usage
}

// parseArguments parses streamed tool arguments into a JSON object. Empty
// input is an empty object. Anything else that is not a JSON object yields
// an empty object and the parse error.
func parseArguments(raw string) (json.RawMessage, error) {
	if strings.TrimSpace(raw) == "" {
		return json.RawMessage("{}"), nil
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal([]byte(raw), &obj); err != nil {
		return json.RawMessage("{}"), err
	}
	if obj == nil {
		return json.RawMessage("{}"), fmt.Errorf("arguments must be a JSON object, got null")
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, []byte(raw)); err != nil {
		return json.RawMessage("{}"), err
	}
	return json.RawMessage(buf.Bytes()), nil
}

// decodeFrame unmarshals frame data into v. Strict decoding rejects unknown
// fields.
func decodeFrame(data string, v interface{}, strict bool) error {
	dec := json.NewDecoder(strings.NewReader(data))
	if strict {
		dec.DisallowUnknownFields()
	}
	if err := dec.Decode(v); err != nil {
		return &ParseError{SDKError: SDKError{Message: "malformed stream frame", Cause: err}, Data: data}
	}
	return nil
}
