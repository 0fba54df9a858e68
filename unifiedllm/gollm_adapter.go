package unifiedllm

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/teilomillet/gollm"
)

// GollmAdapter serves turns through any backend gollm supports. gollm takes
// a single prompt, so history is flattened into text and tool calls are
// recovered from JSON embedded in the reply.
type GollmAdapter struct {
	provider string
	llm      gollm.LLM
	model    string
	logger   *slog.Logger

	// gollm options are set on the shared LLM before each call.
	mu sync.Mutex
}

// GollmAdapterOption configures a GollmAdapter.
type GollmAdapterOption func(*gollmAdapterConfig)

type gollmAdapterConfig struct {
	model       string
	maxTokens   int
	temperature float64
	logger      *slog.Logger
	extraOpts   []gollm.ConfigOption
}

// WithGollmModel sets the default model for the adapter.
func WithGollmModel(model string) GollmAdapterOption {
	return func(c *gollmAdapterConfig) {
		c.model = model
	}
}

// WithGollmMaxTokens sets the default max tokens.
func WithGollmMaxTokens(n int) GollmAdapterOption {
	return func(c *gollmAdapterConfig) {
		c.maxTokens = n
	}
}

// WithGollmTemperature sets the default temperature.
func WithGollmTemperature(t float64) GollmAdapterOption {
	return func(c *gollmAdapterConfig) {
		c.temperature = t
	}
}

// WithGollmLogger sets the adapter logger.
func WithGollmLogger(logger *slog.Logger) GollmAdapterOption {
	return func(c *gollmAdapterConfig) {
		c.logger = logger
	}
}

// WithGollmOptions adds extra gollm configuration options.
func WithGollmOptions(opts ...gollm.ConfigOption) GollmAdapterOption {
	return func(c *gollmAdapterConfig) {
		c.extraOpts = append(c.extraOpts, opts...)
	}
}

// NewGollmAdapter creates a new GollmAdapter for the given provider.
// If apiKey is empty, gollm will attempt to read it from environment variables.
func NewGollmAdapter(provider string, apiKey string, opts ...GollmAdapterOption) (*GollmAdapter, error) {
	cfg := &gollmAdapterConfig{
		maxTokens:   defaultMaxTokens,
		temperature: 0.7,
	}
	for _, opt := range opts {
		opt(cfg)
	}

	model := cfg.model
	if model == "" {
		if info := GetLatestModel(provider, "tools"); info != nil {
			model = info.ID
		} else {
			return nil, &ConfigurationError{SDKError: SDKError{
				Message: fmt.Sprintf("no model configured for provider %q", provider),
			}}
		}
	}

	gollmOpts := []gollm.ConfigOption{
		gollm.SetProvider(provider),
		gollm.SetModel(model),
		gollm.SetMaxTokens(cfg.maxTokens),
		gollm.SetTemperature(cfg.temperature),
		gollm.SetMaxRetries(0), // adapters never retry
		gollm.SetLogLevel(gollm.LogLevelWarn),
	}
	if apiKey != "" {
		gollmOpts = append(gollmOpts, gollm.SetAPIKey(apiKey))
	}
	gollmOpts = append(gollmOpts, cfg.extraOpts...)

	llm, err := gollm.NewLLM(gollmOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create gollm LLM for provider %s: %w", provider, err)
	}

	adapter := NewGollmAdapterFromLLM(provider, llm)
	adapter.model = model
	if cfg.logger != nil {
		adapter.logger = cfg.logger.With("provider", provider)
	}
	return adapter, nil
}

// NewGollmAdapterFromLLM wraps an existing gollm.LLM instance.
func NewGollmAdapterFromLLM(provider string, llm gollm.LLM) *GollmAdapter {
	return &GollmAdapter{
		provider: provider,
		llm:      llm,
		logger:   slog.Default().With("provider", provider),
	}
}

// Name returns the provider identifier.
func (a *GollmAdapter) Name() string {
	return a.provider
}

// BeginTurn implements ProtocolAdapter.
func (a *GollmAdapter) BeginTurn(ctx context.Context, history []Message, input UserInput, opts TurnOptions, sink EventSink) (*StreamResult, error) {
	return a.run(ctx, withInput(history, input), opts, sink)
}

// ContinueTurn implements ProtocolAdapter.
func (a *GollmAdapter) ContinueTurn(ctx context.Context, history []Message, opts TurnOptions, sink EventSink) (*StreamResult, error) {
	return a.run(ctx, history, opts, sink)
}

func (a *GollmAdapter) run(ctx context.Context, history []Message, opts TurnOptions, sink EventSink) (*StreamResult, error) {
	if sink == nil {
		sink = DiscardSink
	}
	history = RepairToolPairs(history, a.logger)
	prompt := a.translateHistory(history, opts)

	a.mu.Lock()
	defer a.mu.Unlock()
	a.applyOptions(opts)

	text, err := a.generate(ctx, prompt, sink)
	if err != nil {
		if ctx.Err() != nil {
			return nil, aborted(ctx)
		}
		terr := a.translateError(err)
		a.emit(ctx, sink, ErrorEvent{Message: terr.Error()})
		return nil, terr
	}

	calls := a.parseToolCalls(text)
	for _, call := range calls {
		a.emit(ctx, sink, ToolStart{ID: call.ID, Name: call.Name})
		a.emit(ctx, sink, ToolArgsDelta{ID: call.ID, Delta: call.RawArguments})
	}

	usage := &Usage{
		// gollm doesn't expose usage; estimate from text length.
		InputTokens:  estimateTokens(history),
		OutputTokens: len(text) / 4,
	}
	usage.TotalTokens = usage.InputTokens + usage.OutputTokens

	res := &StreamResult{
		Content:   a.removeToolCallJSON(text, calls),
		ToolCalls: calls,
		Usage:     usage,
	}
	a.emit(ctx, sink, Done{Usage: usage})
	return res, nil
}

// generate runs the prompt, streaming tokens as text deltas when the
// backend supports it.
func (a *GollmAdapter) generate(ctx context.Context, prompt *gollm.Prompt, sink EventSink) (string, error) {
	if !a.llm.SupportsStreaming() {
		text, err := a.llm.Generate(ctx, prompt)
		if err != nil {
			return "", err
		}
		if text != "" {
			a.emit(ctx, sink, TextDelta{Text: text})
		}
		return text, nil
	}

	stream, err := a.llm.Stream(ctx, prompt)
	if err != nil {
		return "", err
	}
	defer stream.Close()

	var full strings.Builder
	for {
		token, err := stream.Next(ctx)
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", err
		}
		if token == nil || token.Text == "" {
			continue
		}
		full.WriteString(token.Text)
		a.emit(ctx, sink, TextDelta{Text: token.Text})
	}
	return full.String(), nil
}

func (a *GollmAdapter) emit(ctx context.Context, sink EventSink, ev StreamEvent) {
	if err := sink.Emit(ctx, ev); err != nil {
		a.logger.Warn("event sink rejected stream event", "kind", ev.Kind(), "error", err)
	}
}

// translateHistory flattens canonical history into a single gollm prompt.
func (a *GollmAdapter) translateHistory(history []Message, opts TurnOptions) *gollm.Prompt {
	var parts []string
	for _, msg := range history {
		switch msg.Role {
		case RoleSystem:
			continue
		case RoleUser:
			text := msg.TextContent()
			for _, img := range msg.Images() {
				if img.URL != "" && !strings.HasPrefix(img.URL, "data:") {
					text += "\n[Image]: " + img.URL
				}
			}
			parts = append(parts, text)
		case RoleAssistant:
			if text := msg.TextContent(); text != "" {
				parts = append(parts, "[Assistant]: "+text)
			}
			for _, call := range msg.ToolCalls() {
				parts = append(parts, fmt.Sprintf("[Tool Call %s]: %s(%s)", call.ID, call.Name, call.Arguments))
			}
		case RoleTool:
			if r := msg.ToolResult(); r != nil {
				prefix := "[Tool Result " + r.ToolCallID + "]"
				if r.IsError {
					prefix = "[Tool Error " + r.ToolCallID + "]"
				}
				parts = append(parts, prefix+": "+r.Content)
			}
		}
	}

	promptText := strings.Join(parts, "\n")
	if promptText == "" {
		promptText = "Hello"
	}

	var promptOpts []gollm.PromptOption
	if system := systemPrompt(history, opts); system != "" {
		promptOpts = append(promptOpts, gollm.WithSystemPrompt(system, gollm.CacheTypeEphemeral))
	}
	if opts.Config.MaxTokens != nil {
		promptOpts = append(promptOpts, gollm.WithMaxLength(*opts.Config.MaxTokens))
	}
	if len(opts.Tools) > 0 {
		tools := make([]gollm.Tool, 0, len(opts.Tools))
		for _, t := range opts.Tools {
			tools = append(tools, gollm.Tool{
				Type: "function",
				Function: gollm.Function{
					Name:        t.Name,
					Description: t.Description,
					Parameters:  t.Parameters,
				},
			})
		}
		promptOpts = append(promptOpts, gollm.WithTools(tools), gollm.WithToolChoice("auto"))
	}

	return gollm.NewPrompt(promptText, promptOpts...)
}

// applyOptions applies turn-level parameters to the gollm LLM.
func (a *GollmAdapter) applyOptions(opts TurnOptions) {
	if opts.Model != "" {
		a.llm.SetOption("model", opts.Model)
	}
	if opts.Config.Temperature != nil {
		a.llm.SetOption("temperature", *opts.Config.Temperature)
	}
	if opts.Config.MaxTokens != nil {
		a.llm.SetOption("max_tokens", *opts.Config.MaxTokens)
	}
}

type gollmToolCall struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// parseToolCalls extracts tool calls gollm returned embedded in the text,
// either as {"tool_calls":[...]} or as a bare [{"name":...}] array.
func (a *GollmAdapter) parseToolCalls(text string) []ToolCall {
	var raw []gollmToolCall
	if start := strings.Index(text, `{"tool_calls"`); start != -1 {
		var wrapped struct {
			ToolCalls []gollmToolCall `json:"tool_calls"`
		}
		if err := json.NewDecoder(strings.NewReader(text[start:])).Decode(&wrapped); err == nil {
			raw = wrapped.ToolCalls
		}
	} else if start := strings.Index(text, `[{"name"`); start != -1 {
		_ = json.NewDecoder(strings.NewReader(text[start:])).Decode(&raw)
	}

	calls := make([]ToolCall, 0, len(raw))
	for _, rc := range raw {
		if rc.Name == "" {
			continue
		}
		argText := string(rc.Arguments)
		// Some backends send arguments as a JSON-encoded string.
		var quoted string
		if err := json.Unmarshal(rc.Arguments, &quoted); err == nil {
			argText = quoted
		}
		args, err := parseArguments(argText)
		call := ToolCall{
			ID:           "call_" + uuid.New().String()[:8],
			Name:         rc.Name,
			Arguments:    args,
			RawArguments: argText,
		}
		if err != nil {
			call.ParseError = err.Error()
		}
		calls = append(calls, call)
	}
	if len(calls) == 0 {
		return nil
	}
	return calls
}

// removeToolCallJSON removes parsed tool call JSON from the text.
func (a *GollmAdapter) removeToolCallJSON(text string, calls []ToolCall) string {
	if len(calls) == 0 {
		return text
	}
	result := text
	for _, pattern := range []string{`{"tool_calls"`, `[{"name"`} {
		if idx := strings.Index(result, pattern); idx != -1 {
			result = strings.TrimSpace(result[:idx])
		}
	}
	return result
}

// translateError converts a gollm error into the unified error hierarchy.
func (a *GollmAdapter) translateError(err error) error {
	if err == nil {
		return nil
	}
	msg := err.Error()

	// Classify based on error message content.
	msgLower := strings.ToLower(msg)
	switch {
	case strings.Contains(msgLower, "401") || strings.Contains(msgLower, "unauthorized") || strings.Contains(msgLower, "invalid api key"):
		return &AuthenticationError{ProviderError: ProviderError{
			SDKError: SDKError{Message: msg, Cause: err}, Provider: a.provider, StatusCode: 401,
		}}
	case strings.Contains(msgLower, "403") || strings.Contains(msgLower, "forbidden"):
		return &AccessDeniedError{ProviderError: ProviderError{
			SDKError: SDKError{Message: msg, Cause: err}, Provider: a.provider, StatusCode: 403,
		}}
	case strings.Contains(msgLower, "404") || strings.Contains(msgLower, "not found"):
		return &NotFoundError{ProviderError: ProviderError{
			SDKError: SDKError{Message: msg, Cause: err}, Provider: a.provider, StatusCode: 404,
		}}
	case strings.Contains(msgLower, "429") || strings.Contains(msgLower, "rate limit"):
		return &RateLimitError{ProviderError: ProviderError{
			SDKError: SDKError{Message: msg, Cause: err}, Provider: a.provider, StatusCode: 429, Retryable: true,
		}}
	case strings.Contains(msgLower, "context length") || strings.Contains(msgLower, "too many tokens"):
		return &ContextLengthError{ProviderError: ProviderError{
			SDKError: SDKError{Message: msg, Cause: err}, Provider: a.provider, StatusCode: 413,
		}}
	case strings.Contains(msgLower, "500") || strings.Contains(msgLower, "internal server"):
		return &ServerError{ProviderError: ProviderError{
			SDKError: SDKError{Message: msg, Cause: err}, Provider: a.provider, StatusCode: 500, Retryable: true,
		}}
	case strings.Contains(msgLower, "timeout"):
		return &RequestTimeoutError{ProviderError: ProviderError{
			SDKError: SDKError{Message: msg, Cause: err}, Provider: a.provider, Retryable: true,
		}}
	case strings.Contains(msgLower, "content filter") || strings.Contains(msgLower, "safety"):
		return &ContentFilterError{ProviderError: ProviderError{
			SDKError: SDKError{Message: msg, Cause: err}, Provider: a.provider,
		}}
	case strings.Contains(msgLower, "connection refused") || strings.Contains(msgLower, "no such host"):
		return &NetworkError{SDKError: SDKError{Message: msg, Cause: err}}
	default:
		return &ProviderError{
			SDKError:  SDKError{Message: msg, Cause: err},
			Provider:  a.provider,
			Retryable: true,
		}
	}
}

// estimateTokens provides a rough token count estimate from history.
func estimateTokens(history []Message) int {
	total := 0
	for _, msg := range history {
		for _, part := range msg.Content {
			switch part.Kind {
			case ContentText:
				total += len(part.Text) / 4
			case ContentToolResult:
				if part.ToolResult != nil {
					total += len(part.ToolResult.Content) / 4
				}
			}
		}
	}
	if total == 0 {
		total = 10
	}
	return total
}
