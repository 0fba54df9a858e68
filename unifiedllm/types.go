package unifiedllm

import (
	"encoding/json"
	"strings"
	"time"
)

// Role identifies who produced a message in a conversation.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// ContentKind is the discriminator tag for ContentPart.
type ContentKind string

const (
	ContentText             ContentKind = "text"
	ContentImage            ContentKind = "image"
	ContentToolCall         ContentKind = "tool_call"
	ContentToolResult       ContentKind = "tool_result"
	ContentThinking         ContentKind = "thinking"
	ContentRedactedThinking ContentKind = "redacted_thinking"
)

// ImageData holds image content as either a URL (plain or data:) or raw bytes.
type ImageData struct {
	URL       string `json:"url,omitempty"`
	Data      []byte `json:"data,omitempty"`
	MediaType string `json:"media_type,omitempty"`
	Detail    string `json:"detail,omitempty"` // "auto", "low", "high"
}

// ToolCall is a model-initiated tool invocation.
//
// RawArguments holds the argument text exactly as it was streamed. Arguments
// is the structured form, parsed once when the owning block closed. When that
// parse fails, Arguments is an empty object and ParseError describes why.
type ToolCall struct {
	ID           string          `json:"id"`
	Name         string          `json:"name"`
	Arguments    json.RawMessage `json:"arguments"`
	RawArguments string          `json:"raw_arguments,omitempty"`
	ParseError   string          `json:"parse_error,omitempty"`
}

// ToolResultData holds the result of a tool execution.
type ToolResultData struct {
	ToolCallID string `json:"tool_call_id"`
	Content    string `json:"content"`
	IsError    bool   `json:"is_error"`
}

// ThinkingData represents model reasoning/thinking content.
type ThinkingData struct {
	Text      string `json:"text"`
	Signature string `json:"signature,omitempty"`
	Redacted  bool   `json:"redacted"`
}

// ContentPart is a tagged union representing one part of a message.
type ContentPart struct {
	Kind       ContentKind     `json:"kind"`
	Text       string          `json:"text,omitempty"`
	Image      *ImageData      `json:"image,omitempty"`
	ToolCall   *ToolCall       `json:"tool_call,omitempty"`
	ToolResult *ToolResultData `json:"tool_result,omitempty"`
	Thinking   *ThinkingData   `json:"thinking,omitempty"`
}

// TextPart creates a text ContentPart.
func TextPart(text string) ContentPart {
	return ContentPart{Kind: ContentText, Text: text}
}

// ImageURLPart creates an image ContentPart from a URL. Data URLs are accepted.
func ImageURLPart(url, mediaType, detail string) ContentPart {
	return ContentPart{
		Kind:  ContentImage,
		Image: &ImageData{URL: url, MediaType: mediaType, Detail: detail},
	}
}

// ImageDataPart creates an image ContentPart from raw bytes.
func ImageDataPart(data []byte, mediaType, detail string) ContentPart {
	if mediaType == "" {
		mediaType = "image/png"
	}
	return ContentPart{
		Kind:  ContentImage,
		Image: &ImageData{Data: data, MediaType: mediaType, Detail: detail},
	}
}

// ToolCallPart creates a tool call ContentPart.
func ToolCallPart(call ToolCall) ContentPart {
	return ContentPart{Kind: ContentToolCall, ToolCall: &call}
}

// ToolResultPart creates a tool result ContentPart.
func ToolResultPart(toolCallID, content string, isError bool) ContentPart {
	return ContentPart{
		Kind:       ContentToolResult,
		ToolResult: &ToolResultData{ToolCallID: toolCallID, Content: content, IsError: isError},
	}
}

// ThinkingPart creates a thinking ContentPart.
func ThinkingPart(text, signature string) ContentPart {
	return ContentPart{
		Kind:     ContentThinking,
		Thinking: &ThinkingData{Text: text, Signature: signature},
	}
}

// Message is the canonical unit of conversation shared by every adapter.
// Plain-text content is represented as a single text part.
type Message struct {
	Role       Role          `json:"role"`
	Content    []ContentPart `json:"content"`
	ToolCallID string        `json:"tool_call_id,omitempty"`
	Timestamp  time.Time     `json:"timestamp"`
}

// TextContent returns the concatenation of all text content parts.
func (m Message) TextContent() string {
	var sb strings.Builder
	for _, part := range m.Content {
		if part.Kind == ContentText {
			sb.WriteString(part.Text)
		}
	}
	return sb.String()
}

// Reasoning returns the concatenated non-redacted thinking text.
func (m Message) Reasoning() string {
	var sb strings.Builder
	for _, part := range m.Content {
		if part.Kind == ContentThinking && part.Thinking != nil && !part.Thinking.Redacted {
			sb.WriteString(part.Thinking.Text)
		}
	}
	return sb.String()
}

// Images returns the image parts of the message in order.
func (m Message) Images() []ImageData {
	var images []ImageData
	for _, part := range m.Content {
		if part.Kind == ContentImage && part.Image != nil {
			images = append(images, *part.Image)
		}
	}
	return images
}

// ToolCalls extracts all tool calls from the message content, in declaration order.
func (m Message) ToolCalls() []ToolCall {
	var calls []ToolCall
	for _, part := range m.Content {
		if part.Kind == ContentToolCall && part.ToolCall != nil {
			calls = append(calls, *part.ToolCall)
		}
	}
	return calls
}

// ToolResult returns the first tool result part of the message, or nil.
func (m Message) ToolResult() *ToolResultData {
	for _, part := range m.Content {
		if part.Kind == ContentToolResult && part.ToolResult != nil {
			return part.ToolResult
		}
	}
	return nil
}

// ResultCallID returns the tool call id a tool message answers, falling back
// to the id carried by its result part.
func (m Message) ResultCallID() string {
	if m.ToolCallID != "" {
		return m.ToolCallID
	}
	if r := m.ToolResult(); r != nil {
		return r.ToolCallID
	}
	return ""
}

// SystemMessage creates a system Message.
func SystemMessage(text string) Message {
	return Message{Role: RoleSystem, Content: []ContentPart{TextPart(text)}, Timestamp: time.Now()}
}

// UserMessage creates a user Message with text content.
func UserMessage(text string) Message {
	return Message{Role: RoleUser, Content: []ContentPart{TextPart(text)}, Timestamp: time.Now()}
}

// UserMessageWithImages creates a user Message holding text followed by images.
func UserMessageWithImages(text string, images []ImageData) Message {
	msg := UserMessage(text)
	for _, img := range images {
		img := img
		msg.Content = append(msg.Content, ContentPart{Kind: ContentImage, Image: &img})
	}
	return msg
}

// AssistantMessage creates an assistant Message with text content.
func AssistantMessage(text string) Message {
	return Message{Role: RoleAssistant, Content: []ContentPart{TextPart(text)}, Timestamp: time.Now()}
}

// AssistantToolCallMessage creates an assistant Message with optional text,
// optional reasoning and the given tool calls.
func AssistantToolCallMessage(text, reasoning string, calls []ToolCall) Message {
	msg := Message{Role: RoleAssistant, Timestamp: time.Now()}
	if reasoning != "" {
		msg.Content = append(msg.Content, ThinkingPart(reasoning, ""))
	}
	if text != "" {
		msg.Content = append(msg.Content, TextPart(text))
	}
	for _, call := range calls {
		msg.Content = append(msg.Content, ToolCallPart(call))
	}
	return msg
}

// ToolResultMessage creates a tool result Message.
func ToolResultMessage(toolCallID string, content string, isError bool) Message {
	return Message{
		Role:       RoleTool,
		Content:    []ContentPart{ToolResultPart(toolCallID, content, isError)},
		ToolCallID: toolCallID,
		Timestamp:  time.Now(),
	}
}

// ToolDefinition is the schema of a tool offered to the model.
type ToolDefinition struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	Parameters  map[string]interface{} `json:"parameters"` // JSON Schema
}

// GenerationConfig carries per-turn sampling parameters.
type GenerationConfig struct {
	SystemPrompt string   `json:"system_prompt,omitempty"`
	MaxTokens    *int     `json:"max_tokens,omitempty"`
	Temperature  *float64 `json:"temperature,omitempty"`
}

// TurnOptions is everything about a turn except its history and new input.
type TurnOptions struct {
	Provider string           `json:"provider,omitempty"`
	Model    string           `json:"model"`
	Config   GenerationConfig `json:"config"`
	Tools    []ToolDefinition `json:"tools,omitempty"`
}

// UserInput is the new user content that opens a turn.
type UserInput struct {
	Text   string      `json:"text"`
	Images []ImageData `json:"images,omitempty"`
}

// Message converts the input into a canonical user message.
func (u UserInput) Message() Message {
	return UserMessageWithImages(u.Text, u.Images)
}

// Usage tracks token consumption.
type Usage struct {
	InputTokens      int  `json:"input_tokens"`
	OutputTokens     int  `json:"output_tokens"`
	TotalTokens      int  `json:"total_tokens"`
	ReasoningTokens  *int `json:"reasoning_tokens,omitempty"`
	CacheReadTokens  *int `json:"cache_read_tokens,omitempty"`
	CacheWriteTokens *int `json:"cache_write_tokens,omitempty"`
}

// Add returns a new Usage that is the sum of u and other.
func (u Usage) Add(other Usage) Usage {
	result := Usage{
		InputTokens:  u.InputTokens + other.InputTokens,
		OutputTokens: u.OutputTokens + other.OutputTokens,
		TotalTokens:  u.TotalTokens + other.TotalTokens,
	}
	result.ReasoningTokens = addOptionalInt(u.ReasoningTokens, other.ReasoningTokens)
	result.CacheReadTokens = addOptionalInt(u.CacheReadTokens, other.CacheReadTokens)
	result.CacheWriteTokens = addOptionalInt(u.CacheWriteTokens, other.CacheWriteTokens)
	return result
}

func addOptionalInt(a, b *int) *int {
	if a == nil && b == nil {
		return nil
	}
	va, vb := 0, 0
	if a != nil {
		va = *a
	}
	if b != nil {
		vb = *b
	}
	sum := va + vb
	return &sum
}

// StreamResult is the terminal aggregate of one model turn.
type StreamResult struct {
	Content          string     `json:"content"`
	ToolCalls        []ToolCall `json:"tool_calls,omitempty"`
	Usage            *Usage     `json:"usage,omitempty"`
	ReasoningContent string     `json:"reasoning_content,omitempty"`
	StopReason       string     `json:"stop_reason,omitempty"`
}

// HasToolCalls reports whether the model asked for any tool execution.
func (r *StreamResult) HasToolCalls() bool {
	return r != nil && len(r.ToolCalls) > 0
}

// AssistantMessage converts the result into the assistant message that is
// appended to history.
func (r *StreamResult) AssistantMessage() Message {
	return AssistantToolCallMessage(r.Content, r.ReasoningContent, r.ToolCalls)
}
