package unifiedllm

import (
	"encoding/json"
	"fmt"
	"log/slog"
)

// Wire shapes of the Anthropic Messages streaming API. Every field the
// vendor documents is listed so that strict decoding can reject drift.

type anthropicStreamEvent struct {
	Type         string                  `json:"type"`
	Message      *anthropicMessageStart  `json:"message,omitempty"`
	Index        int                     `json:"index"`
	ContentBlock *anthropicStreamBlock   `json:"content_block,omitempty"`
	Delta        *anthropicStreamDelta   `json:"delta,omitempty"`
	Usage        *anthropicUsage         `json:"usage,omitempty"`
	Error        *anthropicErrorEnvelope `json:"error,omitempty"`
}

type anthropicMessageStart struct {
	ID           string            `json:"id"`
	Type         string            `json:"type"`
	Role         string            `json:"role"`
	Content      []json.RawMessage `json:"content"`
	Model        string            `json:"model"`
	StopReason   *string           `json:"stop_reason"`
	StopSequence *string           `json:"stop_sequence"`
	Usage        *anthropicUsage   `json:"usage,omitempty"`
}

type anthropicStreamBlock struct {
	Type      string          `json:"type"`
	Text      string          `json:"text,omitempty"`
	ID        string          `json:"id,omitempty"`
	Name      string          `json:"name,omitempty"`
	Input     json.RawMessage `json:"input,omitempty"`
	Thinking  string          `json:"thinking,omitempty"`
	Signature string          `json:"signature,omitempty"`
	Data      string          `json:"data,omitempty"`
}

type anthropicStreamDelta struct {
	Type         string  `json:"type"`
	Text         string  `json:"text,omitempty"`
	Thinking     string  `json:"thinking,omitempty"`
	PartialJSON  string  `json:"partial_json,omitempty"`
	Signature    string  `json:"signature,omitempty"`
	StopReason   *string `json:"stop_reason,omitempty"`
	StopSequence *string `json:"stop_sequence,omitempty"`
}

type anthropicUsage struct {
	InputTokens              int             `json:"input_tokens"`
	OutputTokens             int             `json:"output_tokens"`
	CacheCreationInputTokens *int            `json:"cache_creation_input_tokens,omitempty"`
	CacheReadInputTokens     *int            `json:"cache_read_input_tokens,omitempty"`
	CacheCreation            json.RawMessage `json:"cache_creation,omitempty"`
	ServiceTier              string          `json:"service_tier,omitempty"`
	ServerToolUse            json.RawMessage `json:"server_tool_use,omitempty"`
}

type anthropicErrorEnvelope struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// anthropicParser is the state machine for one Anthropic streamed turn.
type anthropicParser struct {
	accumulator
	// Content block index to tool call id.
	blockTools map[int]string
}

func newAnthropicParser(logger *slog.Logger, strict bool) *anthropicParser {
	return &anthropicParser{
		accumulator: newAccumulator(logger, strict),
		blockTools:  make(map[int]string),
	}
}

func (p *anthropicParser) Parse(frame SSEFrame) ([]StreamEvent, error) {
	if p.finished() {
		return nil, nil
	}

	var ev anthropicStreamEvent
	if err := decodeFrame(frame.Data, &ev, p.strict); err != nil {
		if p.strict {
			return nil, err
		}
		p.logger.Warn("skipping malformed anthropic frame", "event", frame.Event, "error", err)
		return nil, nil
	}
	if ev.Type == "" {
		ev.Type = frame.Event
	}

	switch ev.Type {
	case "message_start":
		if ev.Message != nil && ev.Message.Usage != nil {
			p.addUsage(ev.Message.Usage)
		}
		return nil, nil

	case "content_block_start":
		if ev.ContentBlock == nil {
			return nil, p.malformed(ev.Type, "missing content_block")
		}
		return p.blockStart(ev.Index, ev.ContentBlock)

	case "content_block_delta":
		if ev.Delta == nil {
			return nil, p.malformed(ev.Type, "missing delta")
		}
		return p.blockDelta(ev.Index, ev.Delta)

	case "content_block_stop":
		if id, ok := p.blockTools[ev.Index]; ok {
			p.closeTool(id)
		}
		return nil, nil

	case "message_delta":
		if ev.Delta != nil && ev.Delta.StopReason != nil {
			p.stop = *ev.Delta.StopReason
		}
		if ev.Usage != nil {
			p.addUsage(ev.Usage)
		}
		return nil, nil

	case "message_stop":
		res := p.finalize()
		return []StreamEvent{Done{Usage: res.Usage}}, nil

	case "ping":
		return nil, nil

	case "error":
		msg := "anthropic stream error"
		if ev.Error != nil {
			msg = fmt.Sprintf("%s: %s", ev.Error.Type, ev.Error.Message)
		}
		return []StreamEvent{ErrorEvent{Message: msg}},
			&ProtocolError{SDKError: SDKError{Message: msg}, Provider: "anthropic", Event: ev.Type}

	default:
		if p.strict {
			return nil, p.malformed(ev.Type, "unknown event type")
		}
		p.logger.Debug("ignoring unknown anthropic event", "type", ev.Type)
		return nil, nil
	}
}

func (p *anthropicParser) blockStart(index int, block *anthropicStreamBlock) ([]StreamEvent, error) {
	switch block.Type {
	case "text":
		if block.Text != "" {
			p.text.WriteString(block.Text)
			return []StreamEvent{TextDelta{Text: block.Text}}, nil
		}
		return nil, nil
	case "thinking":
		if block.Thinking != "" {
			p.reasoning.WriteString(block.Thinking)
			return []StreamEvent{ThinkingDelta{Text: block.Thinking}}, nil
		}
		return nil, nil
	case "redacted_thinking":
		return nil, nil
	case "tool_use":
		p.blockTools[index] = block.ID
		p.startTool(block.ID, block.Name)
		return []StreamEvent{ToolStart{ID: block.ID, Name: block.Name}}, nil
	default:
		if p.strict {
			return nil, p.malformed("content_block_start", "unknown block type "+block.Type)
		}
		p.logger.Debug("ignoring unknown anthropic content block", "type", block.Type)
		return nil, nil
	}
}

func (p *anthropicParser) blockDelta(index int, delta *anthropicStreamDelta) ([]StreamEvent, error) {
	switch delta.Type {
	case "text_delta":
		p.text.WriteString(delta.Text)
		return []StreamEvent{TextDelta{Text: delta.Text}}, nil
	case "thinking_delta":
		p.reasoning.WriteString(delta.Thinking)
		return []StreamEvent{ThinkingDelta{Text: delta.Thinking}}, nil
	case "input_json_delta":
		id, ok := p.blockTools[index]
		if !ok {
			return nil, p.malformed("content_block_delta", fmt.Sprintf("input_json_delta for non-tool block %d", index))
		}
		p.appendArgs(id, delta.PartialJSON)
		return []StreamEvent{ToolArgsDelta{ID: id, Delta: delta.PartialJSON}}, nil
	case "signature_delta":
		return nil, nil
	default:
		if p.strict {
			return nil, p.malformed("content_block_delta", "unknown delta type "+delta.Type)
		}
		p.logger.Debug("ignoring unknown anthropic delta", "type", delta.Type)
		return nil, nil
	}
}

func (p *anthropicParser) addUsage(u *anthropicUsage) {
	usage := p.usageOrNew()
	if u.InputTokens > 0 {
		usage.InputTokens = u.InputTokens
	}
	if u.OutputTokens > 0 {
		usage.OutputTokens = u.OutputTokens
	}
	if u.CacheReadInputTokens != nil {
		v := *u.CacheReadInputTokens
		usage.CacheReadTokens = &v
	}
	if u.CacheCreationInputTokens != nil {
		v := *u.CacheCreationInputTokens
		usage.CacheWriteTokens = &v
	}
}

// malformed reports a structurally invalid event. Outside strict mode the
// event is skipped.
func (p *anthropicParser) malformed(event, reason string) error {
	if !p.strict {
		p.logger.Warn("skipping malformed anthropic event", "event", event, "reason", reason)
		return nil
	}
	return &ProtocolError{SDKError: SDKError{Message: reason}, Provider: "anthropic", Event: event}
}

func (p *anthropicParser) Finish() ([]StreamEvent, error) {
	if p.finished() {
		return nil, nil
	}
	if p.strict {
		return nil, &ProtocolError{SDKError: SDKError{Message: "stream ended before message_stop"}, Provider: "anthropic"}
	}
	p.logger.Warn("anthropic stream ended before message_stop")
	res := p.finalize()
	return []StreamEvent{Done{Usage: res.Usage}}, nil
}

func (p *anthropicParser) Result() *StreamResult { return p.result }
