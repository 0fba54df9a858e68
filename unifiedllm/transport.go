package unifiedllm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"
)

const maxErrorBody = 1 << 20

// AdapterOption configures the HTTP protocol adapters.
type AdapterOption func(*adapterConfig)

type adapterConfig struct {
	name        string
	baseURL     string
	path        string
	httpClient  *http.Client
	logger      *slog.Logger
	strict      bool
	arraySystem bool
	maxTokens   int
	headers     map[string]string
}

// WithBaseURL overrides the vendor endpoint root.
func WithBaseURL(url string) AdapterOption {
	return func(c *adapterConfig) {
		c.baseURL = strings.TrimRight(url, "/")
	}
}

// WithEndpointPath overrides the request path appended to the base URL.
func WithEndpointPath(path string) AdapterOption {
	return func(c *adapterConfig) {
		c.path = path
	}
}

// WithHTTPClient sets the client used for vendor requests.
func WithHTTPClient(client *http.Client) AdapterOption {
	return func(c *adapterConfig) {
		c.httpClient = client
	}
}

// WithLogger sets the adapter logger.
func WithLogger(logger *slog.Logger) AdapterOption {
	return func(c *adapterConfig) {
		c.logger = logger
	}
}

// WithStrictParsing makes unknown vendor fields and event kinds fatal.
func WithStrictParsing(strict bool) AdapterOption {
	return func(c *adapterConfig) {
		c.strict = strict
	}
}

// WithArraySystemFormat sends the system prompt as an array of text blocks
// instead of a plain string. Only the Anthropic adapter reads it.
func WithArraySystemFormat(enabled bool) AdapterOption {
	return func(c *adapterConfig) {
		c.arraySystem = enabled
	}
}

// WithDefaultMaxTokens sets max tokens for turns that don't specify one.
func WithDefaultMaxTokens(n int) AdapterOption {
	return func(c *adapterConfig) {
		c.maxTokens = n
	}
}

// WithHeader adds a header to every vendor request.
func WithHeader(key, value string) AdapterOption {
	return func(c *adapterConfig) {
		c.headers[key] = value
	}
}

// WithProviderName overrides the name the adapter registers under.
func WithProviderName(name string) AdapterOption {
	return func(c *adapterConfig) {
		c.name = name
	}
}

func newAdapterConfig(defaults adapterConfig, opts []AdapterOption) adapterConfig {
	cfg := defaults
	cfg.headers = make(map[string]string)
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.httpClient == nil {
		cfg.httpClient = &http.Client{Timeout: 10 * time.Minute}
	}
	if cfg.logger == nil {
		cfg.logger = slog.Default()
	}
	cfg.logger = cfg.logger.With("provider", cfg.name)
	return cfg
}

// streamer drives one HTTP exchange: send, check status, then feed the body
// through an SSEDecoder into a vendor parser, forwarding events to the sink.
type streamer struct {
	cfg    adapterConfig
	apiKey string
}

func (s streamer) newRequest(ctx context.Context, body interface{}) (*http.Request, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, &SDKError{Message: "encode request", Cause: err}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.baseURL+s.cfg.path, bytes.NewReader(payload))
	if err != nil {
		return nil, &ConfigurationError{SDKError: SDKError{Message: "build request", Cause: err}}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")
	if s.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.apiKey)
	}
	for k, v := range s.cfg.headers {
		req.Header.Set(k, v)
	}
	return req, nil
}

func (s streamer) stream(ctx context.Context, req *http.Request, parser streamParser, sink EventSink) (*StreamResult, error) {
	if sink == nil {
		sink = DiscardSink
	}
	logger := s.cfg.logger

	resp, err := s.cfg.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, aborted(ctx)
		}
		netErr := &NetworkError{SDKError: SDKError{Message: s.cfg.name + " request failed", Cause: err}}
		s.emit(ctx, sink, ErrorEvent{Message: netErr.Error()})
		return nil, netErr
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		logger.Warn("vendor returned error status", "status", resp.StatusCode)
		s.emit(ctx, sink, ErrorEvent{Message: fmt.Sprintf("HTTP %d: %s", resp.StatusCode, body)})
		return nil, ErrorFromStatusCode(resp.StatusCode, string(body), s.cfg.name, retryAfter(resp.Header))
	}

	var dec SSEDecoder
	buf := make([]byte, 32*1024)
	for parser.Result() == nil {
		if ctx.Err() != nil {
			return nil, aborted(ctx)
		}
		n, rerr := resp.Body.Read(buf)
		if n > 0 {
			for _, frame := range dec.Feed(buf[:n]) {
				if err := s.handle(ctx, parser, frame, sink); err != nil {
					return nil, err
				}
			}
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			if ctx.Err() != nil {
				return nil, aborted(ctx)
			}
			netErr := &NetworkError{SDKError: SDKError{Message: "read " + s.cfg.name + " stream", Cause: rerr}}
			s.emit(ctx, sink, ErrorEvent{Message: netErr.Error()})
			return nil, netErr
		}
	}

	if parser.Result() == nil {
		for _, frame := range dec.Flush() {
			if err := s.handle(ctx, parser, frame, sink); err != nil {
				return nil, err
			}
		}
	}
	events, err := parser.Finish()
	for _, ev := range events {
		s.emit(ctx, sink, ev)
	}
	if err != nil {
		s.emit(ctx, sink, ErrorEvent{Message: err.Error()})
		return nil, err
	}
	return parser.Result(), nil
}

func (s streamer) handle(ctx context.Context, parser streamParser, frame SSEFrame, sink EventSink) error {
	events, err := parser.Parse(frame)
	for _, ev := range events {
		s.emit(ctx, sink, ev)
	}
	if err != nil {
		if !hasErrorEvent(events) {
			s.emit(ctx, sink, ErrorEvent{Message: err.Error()})
		}
		return err
	}
	return nil
}

func hasErrorEvent(events []StreamEvent) bool {
	for _, ev := range events {
		if _, ok := ev.(ErrorEvent); ok {
			return true
		}
	}
	return false
}

// emit forwards an event; a failing sink is logged and otherwise ignored.
func (s streamer) emit(ctx context.Context, sink EventSink, ev StreamEvent) {
	if err := sink.Emit(ctx, ev); err != nil {
		s.cfg.logger.Warn("event sink rejected stream event", "kind", ev.Kind(), "error", err)
	}
}

func aborted(ctx context.Context) error {
	return &AbortError{SDKError: SDKError{Message: "turn cancelled", Cause: ctx.Err()}}
}

func retryAfter(h http.Header) *float64 {
	v := h.Get("Retry-After")
	if v == "" {
		return nil
	}
	secs, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return nil
	}
	return &secs
}
