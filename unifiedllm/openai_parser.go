package unifiedllm

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
)

// openAIDoneMarker terminates an OpenAI-compatible stream.
const openAIDoneMarker = "[DONE]"

// Wire shapes of an OpenAI-compatible chat.completion.chunk.

type openAIChunk struct {
	ID                string          `json:"id"`
	Object            string          `json:"object"`
	Created           int64           `json:"created"`
	Model             string          `json:"model"`
	SystemFingerprint *string         `json:"system_fingerprint,omitempty"`
	ServiceTier       *string         `json:"service_tier,omitempty"`
	Obfuscation       string          `json:"obfuscation,omitempty"`
	Choices           []openAIChoice  `json:"choices"`
	Usage             *openAIUsage    `json:"usage,omitempty"`
	Error             *openAIAPIError `json:"error,omitempty"`
}

type openAIChoice struct {
	Index        int             `json:"index"`
	Delta        openAIDelta     `json:"delta"`
	FinishReason *string         `json:"finish_reason"`
	Logprobs     json.RawMessage `json:"logprobs,omitempty"`
}

type openAIDelta struct {
	Role             string                `json:"role,omitempty"`
	Content          *string               `json:"content,omitempty"`
	ReasoningContent *string               `json:"reasoning_content,omitempty"`
	Refusal          *string               `json:"refusal,omitempty"`
	ToolCalls        []openAIToolCallDelta `json:"tool_calls,omitempty"`
}

type openAIToolCallDelta struct {
	Index    int    `json:"index"`
	ID       string `json:"id,omitempty"`
	Type     string `json:"type,omitempty"`
	Function struct {
		Name      string `json:"name,omitempty"`
		Arguments string `json:"arguments,omitempty"`
	} `json:"function"`
}

type openAIUsage struct {
	PromptTokens          int  `json:"prompt_tokens"`
	CompletionTokens      int  `json:"completion_tokens"`
	TotalTokens           int  `json:"total_tokens"`
	PromptCacheHitTokens  *int `json:"prompt_cache_hit_tokens,omitempty"`
	PromptCacheMissTokens *int `json:"prompt_cache_miss_tokens,omitempty"`
	PromptTokensDetails   *struct {
		CachedTokens *int `json:"cached_tokens,omitempty"`
		AudioTokens  *int `json:"audio_tokens,omitempty"`
	} `json:"prompt_tokens_details,omitempty"`
	CompletionTokensDetails *struct {
		ReasoningTokens          *int `json:"reasoning_tokens,omitempty"`
		AudioTokens              *int `json:"audio_tokens,omitempty"`
		AcceptedPredictionTokens *int `json:"accepted_prediction_tokens,omitempty"`
		RejectedPredictionTokens *int `json:"rejected_prediction_tokens,omitempty"`
	} `json:"completion_tokens_details,omitempty"`
}

type openAIAPIError struct {
	Message string          `json:"message"`
	Type    string          `json:"type,omitempty"`
	Code    json.RawMessage `json:"code,omitempty"`
	Param   *string         `json:"param,omitempty"`
}

// openAIParser is the state machine for one OpenAI-compatible streamed turn.
type openAIParser struct {
	accumulator
	provider string
	// Tool call index to tool call id.
	indexTools map[int]string
}

func newOpenAIParser(provider string, logger *slog.Logger, strict bool) *openAIParser {
	return &openAIParser{
		accumulator: newAccumulator(logger, strict),
		provider:    provider,
		indexTools:  make(map[int]string),
	}
}

func (p *openAIParser) Parse(frame SSEFrame) ([]StreamEvent, error) {
	if p.finished() {
		return nil, nil
	}

	if strings.TrimSpace(frame.Data) == openAIDoneMarker {
		res := p.finalize()
		return []StreamEvent{Done{Usage: res.Usage}}, nil
	}

	var chunk openAIChunk
	if err := decodeFrame(frame.Data, &chunk, p.strict); err != nil {
		if p.strict {
			return nil, err
		}
		p.logger.Warn("skipping malformed chunk", "provider", p.provider, "error", err)
		return nil, nil
	}

	if chunk.Error != nil {
		msg := chunk.Error.Message
		if chunk.Error.Type != "" {
			msg = fmt.Sprintf("%s: %s", chunk.Error.Type, msg)
		}
		return []StreamEvent{ErrorEvent{Message: msg}},
			&ProtocolError{SDKError: SDKError{Message: msg}, Provider: p.provider, Event: "error"}
	}

	var events []StreamEvent
	for _, choice := range chunk.Choices {
		if choice.Index != 0 {
			continue
		}
		delta := choice.Delta
		if delta.ReasoningContent != nil && *delta.ReasoningContent != "" {
			p.reasoning.WriteString(*delta.ReasoningContent)
			events = append(events, ThinkingDelta{Text: *delta.ReasoningContent})
		}
		if delta.Content != nil && *delta.Content != "" {
			p.text.WriteString(*delta.Content)
			events = append(events, TextDelta{Text: *delta.Content})
		}
		for _, tc := range delta.ToolCalls {
			events = append(events, p.toolDelta(tc)...)
		}
		if choice.FinishReason != nil && *choice.FinishReason != "" {
			p.stop = *choice.FinishReason
			p.closeAll()
		}
	}

	if chunk.Usage != nil {
		p.setUsage(chunk.Usage)
	}
	return events, nil
}

func (p *openAIParser) toolDelta(tc openAIToolCallDelta) []StreamEvent {
	var events []StreamEvent
	id, ok := p.indexTools[tc.Index]
	if !ok {
		id = tc.ID
		if id == "" {
			id = fmt.Sprintf("call_%d", tc.Index)
		}
		p.indexTools[tc.Index] = id
		p.startTool(id, tc.Function.Name)
		events = append(events, ToolStart{ID: id, Name: tc.Function.Name})
	} else if tc.Function.Name != "" {
		p.startTool(id, tc.Function.Name)
	}
	if tc.Function.Arguments != "" {
		p.appendArgs(id, tc.Function.Arguments)
		events = append(events, ToolArgsDelta{ID: id, Delta: tc.Function.Arguments})
	}
	return events
}

func (p *openAIParser) setUsage(u *openAIUsage) {
	usage := p.usageOrNew()
	usage.InputTokens = u.PromptTokens
	usage.OutputTokens = u.CompletionTokens
	usage.TotalTokens = u.TotalTokens
	switch {
	case u.PromptCacheHitTokens != nil:
		v := *u.PromptCacheHitTokens
		usage.CacheReadTokens = &v
	case u.PromptTokensDetails != nil && u.PromptTokensDetails.CachedTokens != nil:
		v := *u.PromptTokensDetails.CachedTokens
		usage.CacheReadTokens = &v
	}
	if u.CompletionTokensDetails != nil && u.CompletionTokensDetails.ReasoningTokens != nil {
		v := *u.CompletionTokensDetails.ReasoningTokens
		usage.ReasoningTokens = &v
	}
}

func (p *openAIParser) Finish() ([]StreamEvent, error) {
	if p.finished() {
		return nil, nil
	}
	if p.strict {
		return nil, &ProtocolError{SDKError: SDKError{Message: "stream ended before [DONE]"}, Provider: p.provider}
	}
	p.logger.Warn("stream ended before [DONE]", "provider", p.provider)
	res := p.finalize()
	return []StreamEvent{Done{Usage: res.Usage}}, nil
}

func (p *openAIParser) Result() *StreamResult { return p.result }
