package unifiedllm

import (
	"context"
	"encoding/base64"
)

const openAIChatPath = "/v1/chat/completions"

// OpenAIAdapter speaks the OpenAI-compatible chat completions streaming
// protocol, which many vendors and local servers also expose.
type OpenAIAdapter struct {
	streamer
}

// NewOpenAIAdapter creates an adapter authenticating with apiKey.
func NewOpenAIAdapter(apiKey string, opts ...AdapterOption) *OpenAIAdapter {
	cfg := newAdapterConfig(adapterConfig{
		name:    "openai",
		baseURL: "https://api.openai.com",
		path:    openAIChatPath,
	}, opts)
	return &OpenAIAdapter{streamer: streamer{cfg: cfg, apiKey: apiKey}}
}

// Name returns the provider identifier.
func (a *OpenAIAdapter) Name() string { return a.cfg.name }

// BeginTurn implements ProtocolAdapter.
func (a *OpenAIAdapter) BeginTurn(ctx context.Context, history []Message, input UserInput, opts TurnOptions, sink EventSink) (*StreamResult, error) {
	return a.run(ctx, withInput(history, input), opts, sink)
}

// ContinueTurn implements ProtocolAdapter.
func (a *OpenAIAdapter) ContinueTurn(ctx context.Context, history []Message, opts TurnOptions, sink EventSink) (*StreamResult, error) {
	return a.run(ctx, history, opts, sink)
}

func (a *OpenAIAdapter) run(ctx context.Context, history []Message, opts TurnOptions, sink EventSink) (*StreamResult, error) {
	body, err := a.buildRequest(RepairToolPairs(history, a.cfg.logger), opts)
	if err != nil {
		return nil, err
	}
	req, err := a.newRequest(ctx, body)
	if err != nil {
		return nil, err
	}
	return a.stream(ctx, req, newOpenAIParser(a.cfg.name, a.cfg.logger, a.cfg.strict), sink)
}

// Request wire shapes.

type openAIRequest struct {
	Model         string               `json:"model"`
	Messages      []openAIMessage      `json:"messages"`
	Tools         []openAITool         `json:"tools,omitempty"`
	Temperature   *float64             `json:"temperature,omitempty"`
	MaxTokens     *int                 `json:"max_tokens,omitempty"`
	Stream        bool                 `json:"stream"`
	StreamOptions *openAIStreamOptions `json:"stream_options,omitempty"`
}

type openAIStreamOptions struct {
	IncludeUsage bool `json:"include_usage"`
}

type openAIMessage struct {
	Role       string           `json:"role"`
	Content    interface{}      `json:"content"`
	ToolCalls  []openAIToolCall `json:"tool_calls,omitempty"`
	ToolCallID string           `json:"tool_call_id,omitempty"`
}

type openAIContentPart struct {
	Type     string          `json:"type"`
	Text     string          `json:"text,omitempty"`
	ImageURL *openAIImageURL `json:"image_url,omitempty"`
}

type openAIImageURL struct {
	URL    string `json:"url"`
	Detail string `json:"detail,omitempty"`
}

type openAIToolCall struct {
	ID       string             `json:"id"`
	Type     string             `json:"type"`
	Function openAIFunctionCall `json:"function"`
}

type openAIFunctionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

type openAITool struct {
	Type     string            `json:"type"`
	Function openAIFunctionDef `json:"function"`
}

type openAIFunctionDef struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description,omitempty"`
	Parameters  map[string]interface{} `json:"parameters"`
}

func (a *OpenAIAdapter) buildRequest(history []Message, opts TurnOptions) (*openAIRequest, error) {
	req := &openAIRequest{
		Model:         opts.Model,
		Temperature:   opts.Config.Temperature,
		MaxTokens:     opts.Config.MaxTokens,
		Stream:        true,
		StreamOptions: &openAIStreamOptions{IncludeUsage: true},
	}
	if req.MaxTokens == nil && a.cfg.maxTokens > 0 {
		n := a.cfg.maxTokens
		req.MaxTokens = &n
	}

	if system := systemPrompt(history, opts); system != "" {
		req.Messages = append(req.Messages, openAIMessage{Role: "system", Content: system})
	}

	for _, msg := range history {
		switch msg.Role {
		case RoleSystem:
			continue
		case RoleUser:
			content, err := openAIUserContent(msg)
			if err != nil {
				return nil, err
			}
			req.Messages = append(req.Messages, openAIMessage{Role: "user", Content: content})
		case RoleAssistant:
			out := openAIMessage{Role: "assistant"}
			if text := msg.TextContent(); text != "" {
				out.Content = text
			}
			for _, call := range msg.ToolCalls() {
				args := string(call.Arguments)
				if args == "" {
					args = "{}"
				}
				out.ToolCalls = append(out.ToolCalls, openAIToolCall{
					ID:       call.ID,
					Type:     "function",
					Function: openAIFunctionCall{Name: call.Name, Arguments: args},
				})
			}
			if out.Content == nil && len(out.ToolCalls) == 0 {
				continue
			}
			req.Messages = append(req.Messages, out)
		case RoleTool:
			content := ""
			if r := msg.ToolResult(); r != nil {
				content = r.Content
			}
			req.Messages = append(req.Messages, openAIMessage{
				Role:       "tool",
				Content:    content,
				ToolCallID: msg.ResultCallID(),
			})
		default:
			return nil, &UnsupportedContentError{Kind: ContentText, Role: msg.Role}
		}
	}

	for _, tool := range opts.Tools {
		params := tool.Parameters
		if params == nil {
			params = map[string]interface{}{"type": "object", "properties": map[string]interface{}{}}
		}
		req.Tools = append(req.Tools, openAITool{
			Type: "function",
			Function: openAIFunctionDef{
				Name:        tool.Name,
				Description: tool.Description,
				Parameters:  params,
			},
		})
	}
	return req, nil
}

// openAIUserContent keeps plain text as a string and switches to typed
// parts only when images are present.
func openAIUserContent(msg Message) (interface{}, error) {
	images := msg.Images()
	if len(images) == 0 {
		return msg.TextContent(), nil
	}
	var parts []openAIContentPart
	for _, part := range msg.Content {
		switch part.Kind {
		case ContentText:
			if part.Text != "" {
				parts = append(parts, openAIContentPart{Type: "text", Text: part.Text})
			}
		case ContentImage:
			if part.Image == nil {
				continue
			}
			parts = append(parts, openAIContentPart{
				Type:     "image_url",
				ImageURL: &openAIImageURL{URL: imageURL(*part.Image), Detail: part.Image.Detail},
			})
		default:
			return nil, &UnsupportedContentError{Kind: part.Kind, Role: msg.Role}
		}
	}
	return parts, nil
}

// imageURL returns a URL for img, encoding raw bytes as a data URL.
func imageURL(img ImageData) string {
	if len(img.Data) == 0 {
		return img.URL
	}
	mt := img.MediaType
	if mt == "" {
		mt = "image/png"
	}
	return "data:" + mt + ";base64," + base64.StdEncoding.EncodeToString(img.Data)
}
