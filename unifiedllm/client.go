package unifiedllm

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"
)

// TurnCall is one invocation of a protocol adapter as seen by middleware.
type TurnCall struct {
	// Begin is true for BeginTurn and false for ContinueTurn.
	Begin   bool
	History []Message
	Input   UserInput
	Options TurnOptions
}

// TurnHandler executes a TurnCall.
type TurnHandler func(ctx context.Context, call TurnCall, sink EventSink) (*StreamResult, error)

// Middleware wraps an adapter call. It receives the call and a next function
// that invokes the downstream handler.
type Middleware func(ctx context.Context, call TurnCall, sink EventSink, next TurnHandler) (*StreamResult, error)

// Client routes turns to registered protocol adapters by provider name and
// applies middleware. A Client is itself a ProtocolAdapter.
type Client struct {
	providers       map[string]ProtocolAdapter
	defaultProvider string
	middleware      []Middleware
	mu              sync.RWMutex
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithProvider registers a protocol adapter.
func WithProvider(name string, adapter ProtocolAdapter) ClientOption {
	return func(c *Client) {
		c.providers[name] = adapter
	}
}

// WithDefaultProvider sets the default provider name.
func WithDefaultProvider(name string) ClientOption {
	return func(c *Client) {
		c.defaultProvider = name
	}
}

// WithMiddleware adds middleware to the client.
func WithMiddleware(mw ...Middleware) ClientOption {
	return func(c *Client) {
		c.middleware = append(c.middleware, mw...)
	}
}

// NewClient creates a new Client with the given options.
func NewClient(opts ...ClientOption) *Client {
	c := &Client{
		providers: make(map[string]ProtocolAdapter),
	}
	for _, opt := range opts {
		opt(c)
	}
	// If no default and exactly one provider, use it.
	if c.defaultProvider == "" && len(c.providers) == 1 {
		for name := range c.providers {
			c.defaultProvider = name
		}
	}
	return c
}

// RegisterProvider adds a protocol adapter to the client.
func (c *Client) RegisterProvider(name string, adapter ProtocolAdapter) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.providers[name] = adapter
	if c.defaultProvider == "" {
		c.defaultProvider = name
	}
}

// Providers returns the registered provider names, sorted.
func (c *Client) Providers() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	names := make([]string, 0, len(c.providers))
	for name := range c.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Name returns the default provider's name.
func (c *Client) Name() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.defaultProvider
}

// resolveProvider determines which adapter serves a turn.
func (c *Client) resolveProvider(opts TurnOptions) (ProtocolAdapter, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	name := opts.Provider
	if name == "" {
		// Try to infer from model catalog.
		if info := GetModelInfo(opts.Model); info != nil {
			if _, ok := c.providers[info.Provider]; ok {
				name = info.Provider
			}
		}
	}
	if name == "" {
		name = c.defaultProvider
	}
	if name == "" {
		return nil, &ConfigurationError{SDKError: SDKError{
			Message: "no provider specified and no default provider configured",
		}}
	}

	adapter, ok := c.providers[name]
	if !ok {
		return nil, &ConfigurationError{SDKError: SDKError{
			Message: fmt.Sprintf("provider %q is not registered", name),
		}}
	}
	return adapter, nil
}

// BeginTurn implements ProtocolAdapter.
func (c *Client) BeginTurn(ctx context.Context, history []Message, input UserInput, opts TurnOptions, sink EventSink) (*StreamResult, error) {
	return c.dispatch(ctx, TurnCall{Begin: true, History: history, Input: input, Options: opts}, sink)
}

// ContinueTurn implements ProtocolAdapter.
func (c *Client) ContinueTurn(ctx context.Context, history []Message, opts TurnOptions, sink EventSink) (*StreamResult, error) {
	return c.dispatch(ctx, TurnCall{History: history, Options: opts}, sink)
}

func (c *Client) dispatch(ctx context.Context, call TurnCall, sink EventSink) (*StreamResult, error) {
	adapter, err := c.resolveProvider(call.Options)
	if err != nil {
		return nil, err
	}
	if call.Options.Provider == "" {
		call.Options.Provider = adapter.Name()
	}
	if sink == nil {
		sink = DiscardSink
	}

	handler := func(ctx context.Context, call TurnCall, sink EventSink) (*StreamResult, error) {
		if call.Begin {
			return adapter.BeginTurn(ctx, call.History, call.Input, call.Options, sink)
		}
		return adapter.ContinueTurn(ctx, call.History, call.Options, sink)
	}

	// Apply middleware in reverse order so first registered runs first.
	c.mu.RLock()
	mws := c.middleware
	c.mu.RUnlock()
	for i := len(mws) - 1; i >= 0; i-- {
		mw := mws[i]
		next := handler
		handler = func(ctx context.Context, call TurnCall, sink EventSink) (*StreamResult, error) {
			return mw(ctx, call, sink, next)
		}
	}

	return handler(ctx, call, sink)
}

// Close releases resources held by all registered providers.
func (c *Client) Close() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var firstErr error
	for _, adapter := range c.providers {
		if closer, ok := adapter.(Closer); ok {
			if err := closer.Close(); err != nil && firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// LoggingMiddleware logs one line per adapter call.
func LoggingMiddleware(logger *slog.Logger) Middleware {
	if logger == nil {
		logger = slog.Default()
	}
	return func(ctx context.Context, call TurnCall, sink EventSink, next TurnHandler) (*StreamResult, error) {
		start := time.Now()
		res, err := next(ctx, call, sink)
		attrs := []any{
			"provider", call.Options.Provider,
			"model", call.Options.Model,
			"begin", call.Begin,
			"history", len(call.History),
			"duration", time.Since(start),
		}
		if err != nil {
			logger.Warn("model turn failed", append(attrs, "error", err)...)
			return res, err
		}
		attrs = append(attrs, "tool_calls", len(res.ToolCalls))
		if res.Usage != nil {
			attrs = append(attrs, "input_tokens", res.Usage.InputTokens, "output_tokens", res.Usage.OutputTokens)
		}
		logger.Debug("model turn finished", attrs...)
		return res, nil
	}
}
