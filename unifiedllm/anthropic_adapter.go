package unifiedllm

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
)

const (
	anthropicVersion     = "2023-06-01"
	anthropicMessagesURL = "/v1/messages"
	defaultMaxTokens     = 4096
)

// AnthropicAdapter speaks the Anthropic Messages streaming protocol.
type AnthropicAdapter struct {
	streamer
}

// NewAnthropicAdapter creates an adapter authenticating with apiKey.
func NewAnthropicAdapter(apiKey string, opts ...AdapterOption) *AnthropicAdapter {
	cfg := newAdapterConfig(adapterConfig{
		name:      "anthropic",
		baseURL:   "https://api.anthropic.com",
		path:      anthropicMessagesURL,
		maxTokens: defaultMaxTokens,
	}, opts)
	if _, ok := cfg.headers["anthropic-version"]; !ok {
		cfg.headers["anthropic-version"] = anthropicVersion
	}
	return &AnthropicAdapter{streamer: streamer{cfg: cfg, apiKey: apiKey}}
}

// Name returns the provider identifier.
func (a *AnthropicAdapter) Name() string { return a.cfg.name }

// BeginTurn implements ProtocolAdapter.
func (a *AnthropicAdapter) BeginTurn(ctx context.Context, history []Message, input UserInput, opts TurnOptions, sink EventSink) (*StreamResult, error) {
	return a.run(ctx, withInput(history, input), opts, sink)
}

// ContinueTurn implements ProtocolAdapter.
func (a *AnthropicAdapter) ContinueTurn(ctx context.Context, history []Message, opts TurnOptions, sink EventSink) (*StreamResult, error) {
	return a.run(ctx, history, opts, sink)
}

func (a *AnthropicAdapter) run(ctx context.Context, history []Message, opts TurnOptions, sink EventSink) (*StreamResult, error) {
	body, err := a.buildRequest(RepairToolPairs(history, a.cfg.logger), opts)
	if err != nil {
		return nil, err
	}
	req, err := a.newRequest(ctx, body)
	if err != nil {
		return nil, err
	}
	return a.stream(ctx, req, newAnthropicParser(a.cfg.logger, a.cfg.strict), sink)
}

// Request wire shapes.

type anthropicRequest struct {
	Model       string             `json:"model"`
	MaxTokens   int                `json:"max_tokens"`
	System      interface{}        `json:"system,omitempty"`
	Messages    []anthropicMessage `json:"messages"`
	Tools       []anthropicTool    `json:"tools,omitempty"`
	Temperature *float64           `json:"temperature,omitempty"`
	Stream      bool               `json:"stream"`
}

type anthropicMessage struct {
	Role    string           `json:"role"`
	Content []anthropicBlock `json:"content"`
}

type anthropicBlock struct {
	Type      string                `json:"type"`
	Text      string                `json:"text,omitempty"`
	Source    *anthropicImageSource `json:"source,omitempty"`
	ID        string                `json:"id,omitempty"`
	Name      string                `json:"name,omitempty"`
	Input     json.RawMessage       `json:"input,omitempty"`
	ToolUseID string                `json:"tool_use_id,omitempty"`
	Content   string                `json:"content,omitempty"`
	IsError   bool                  `json:"is_error,omitempty"`
	Thinking  string                `json:"thinking,omitempty"`
	Signature string                `json:"signature,omitempty"`
}

type anthropicImageSource struct {
	Type      string `json:"type"`
	MediaType string `json:"media_type,omitempty"`
	Data      string `json:"data,omitempty"`
	URL       string `json:"url,omitempty"`
}

type anthropicTool struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description,omitempty"`
	InputSchema map[string]interface{} `json:"input_schema"`
}

type anthropicTextBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

func (a *AnthropicAdapter) buildRequest(history []Message, opts TurnOptions) (*anthropicRequest, error) {
	req := &anthropicRequest{
		Model:       opts.Model,
		MaxTokens:   a.cfg.maxTokens,
		Temperature: opts.Config.Temperature,
		Stream:      true,
	}
	if opts.Config.MaxTokens != nil {
		req.MaxTokens = *opts.Config.MaxTokens
	}

	system := systemPrompt(history, opts)
	if system != "" {
		if a.cfg.arraySystem {
			req.System = []anthropicTextBlock{{Type: "text", Text: system}}
		} else {
			req.System = system
		}
	}

	for _, msg := range history {
		if msg.Role == RoleSystem {
			continue
		}
		blocks, err := anthropicBlocks(msg)
		if err != nil {
			return nil, err
		}
		if len(blocks) == 0 {
			a.cfg.logger.Debug("skipping message without content", "role", msg.Role)
			continue
		}

		role := string(msg.Role)
		if msg.Role == RoleTool {
			// No tool role: results travel as user content, and consecutive
			// results share one user message.
			role = string(RoleUser)
			if n := len(req.Messages); n > 0 && isToolResultTurn(req.Messages[n-1]) {
				req.Messages[n-1].Content = append(req.Messages[n-1].Content, blocks...)
				continue
			}
		}
		req.Messages = append(req.Messages, anthropicMessage{Role: role, Content: blocks})
	}

	for _, tool := range opts.Tools {
		schema := tool.Parameters
		if schema == nil {
			schema = map[string]interface{}{"type": "object", "properties": map[string]interface{}{}}
		}
		req.Tools = append(req.Tools, anthropicTool{
			Name:        tool.Name,
			Description: tool.Description,
			InputSchema: schema,
		})
	}
	return req, nil
}

func isToolResultTurn(m anthropicMessage) bool {
	if m.Role != string(RoleUser) || len(m.Content) == 0 {
		return false
	}
	for _, b := range m.Content {
		if b.Type != "tool_result" {
			return false
		}
	}
	return true
}

func anthropicBlocks(msg Message) ([]anthropicBlock, error) {
	var blocks []anthropicBlock
	for _, part := range msg.Content {
		switch part.Kind {
		case ContentText:
			if part.Text != "" {
				blocks = append(blocks, anthropicBlock{Type: "text", Text: part.Text})
			}
		case ContentImage:
			if part.Image == nil {
				continue
			}
			src, err := anthropicImage(*part.Image)
			if err != nil {
				return nil, err
			}
			blocks = append(blocks, anthropicBlock{Type: "image", Source: src})
		case ContentToolCall:
			if part.ToolCall == nil {
				continue
			}
			input := part.ToolCall.Arguments
			if len(input) == 0 || !json.Valid(input) {
				input = json.RawMessage("{}")
			}
			blocks = append(blocks, anthropicBlock{
				Type:  "tool_use",
				ID:    part.ToolCall.ID,
				Name:  part.ToolCall.Name,
				Input: input,
			})
		case ContentToolResult:
			if part.ToolResult == nil {
				continue
			}
			blocks = append(blocks, anthropicBlock{
				Type:      "tool_result",
				ToolUseID: part.ToolResult.ToolCallID,
				Content:   part.ToolResult.Content,
				IsError:   part.ToolResult.IsError,
			})
		case ContentThinking:
			// Thinking is only accepted back with its signature.
			if part.Thinking != nil && part.Thinking.Signature != "" {
				blocks = append(blocks, anthropicBlock{
					Type:      "thinking",
					Thinking:  part.Thinking.Text,
					Signature: part.Thinking.Signature,
				})
			}
		case ContentRedactedThinking:
		default:
			return nil, &UnsupportedContentError{Kind: part.Kind, Role: msg.Role}
		}
	}
	return blocks, nil
}

func anthropicImage(img ImageData) (*anthropicImageSource, error) {
	if len(img.Data) > 0 {
		mt := img.MediaType
		if mt == "" {
			mt = "image/png"
		}
		return &anthropicImageSource{Type: "base64", MediaType: mt, Data: base64.StdEncoding.EncodeToString(img.Data)}, nil
	}
	if mt, data, ok := ParseDataURL(img.URL); ok {
		return &anthropicImageSource{Type: "base64", MediaType: mt, Data: data}, nil
	}
	if img.URL == "" {
		return nil, &ConfigurationError{SDKError: SDKError{Message: "image has neither data nor url"}}
	}
	return &anthropicImageSource{Type: "url", URL: img.URL}, nil
}

// ParseDataURL splits an inline data URL into its media type and base64
// payload. Non-base64 payloads are percent-decoded and re-encoded. ok is
// false for anything that is not a data URL.
func ParseDataURL(raw string) (mediaType, data string, ok bool) {
	rest, found := strings.CutPrefix(raw, "data:")
	if !found {
		return "", "", false
	}
	meta, payload, found := strings.Cut(rest, ",")
	if !found {
		return "", "", false
	}

	isBase64 := false
	var params []string
	for _, p := range strings.Split(meta, ";") {
		if p == "base64" {
			isBase64 = true
			continue
		}
		params = append(params, p)
	}
	if len(params) > 0 {
		mediaType = params[0]
	}
	if mediaType == "" {
		mediaType = "image/png"
	}

	if isBase64 {
		return mediaType, payload, true
	}
	decoded, err := url.PathUnescape(payload)
	if err != nil {
		return "", "", false
	}
	return mediaType, base64.StdEncoding.EncodeToString([]byte(decoded)), true
}

// systemPrompt prefers the configured prompt and falls back to system
// messages carried in history.
func systemPrompt(history []Message, opts TurnOptions) string {
	if opts.Config.SystemPrompt != "" {
		return opts.Config.SystemPrompt
	}
	var parts []string
	for _, msg := range history {
		if msg.Role == RoleSystem {
			if text := msg.TextContent(); text != "" {
				parts = append(parts, text)
			}
		}
	}
	return strings.Join(parts, "\n\n")
}

// UnsupportedContentError reports a content part kind a vendor encoder does
// not recognize.
type UnsupportedContentError struct {
	Kind ContentKind
	Role Role
}

func (e *UnsupportedContentError) Error() string {
	return fmt.Sprintf("content kind %q cannot be sent in a %s message", e.Kind, e.Role)
}
