package unifiedllm

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// capture records the last request a test server received.
type capture struct {
	header http.Header
	path   string
	body   map[string]interface{}
}

func sseServer(t *testing.T, status int, body string, got *capture) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		if got != nil {
			got.header = r.Header.Clone()
			got.path = r.URL.Path
			assert.NoError(t, json.Unmarshal(raw, &got.body))
		}
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(status)
		_, _ = io.WriteString(w, body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func anthropicFor(srv *httptest.Server, opts ...AdapterOption) *AnthropicAdapter {
	opts = append([]AdapterOption{WithBaseURL(srv.URL), WithLogger(quietLogger)}, opts...)
	return NewAnthropicAdapter("sk-test", opts...)
}

func openAIFor(srv *httptest.Server, opts ...AdapterOption) *OpenAIAdapter {
	opts = append([]AdapterOption{WithBaseURL(srv.URL), WithLogger(quietLogger)}, opts...)
	return NewOpenAIAdapter("sk-test", opts...)
}

func TestAnthropicAdapterBeginTurn(t *testing.T) {
	var got capture
	srv := sseServer(t, http.StatusOK, anthropicFixture, &got)
	adapter := anthropicFor(srv)

	sink := &RecordingSink{}
	res, err := adapter.BeginTurn(context.Background(), nil, UserInput{Text: "list"}, TurnOptions{
		Model:  "claude-sonnet-4-5",
		Config: GenerationConfig{SystemPrompt: "be brief"},
		Tools:  []ToolDefinition{{Name: "terminal", Description: "run a command"}},
	}, sink)
	require.NoError(t, err)

	assert.Equal(t, "/v1/messages", got.path)
	assert.Equal(t, "Bearer sk-test", got.header.Get("Authorization"))
	assert.Equal(t, "2023-06-01", got.header.Get("anthropic-version"))
	assert.Equal(t, "text/event-stream", got.header.Get("Accept"))
	assert.Equal(t, "be brief", got.body["system"])
	assert.Equal(t, true, got.body["stream"])
	assert.EqualValues(t, 4096, got.body["max_tokens"])

	tools := got.body["tools"].([]interface{})
	require.Len(t, tools, 1)
	schema := tools[0].(map[string]interface{})["input_schema"].(map[string]interface{})
	assert.Equal(t, "object", schema["type"])

	assert.Equal(t, "Running it.", res.Content)
	require.Len(t, res.ToolCalls, 2)
	assert.IsType(t, Done{}, sink.Events[len(sink.Events)-1])
}

func TestAnthropicAdapterArraySystemFormat(t *testing.T) {
	var got capture
	srv := sseServer(t, http.StatusOK, anthropicFixture, &got)
	adapter := anthropicFor(srv, WithArraySystemFormat(true))

	history := []Message{SystemMessage("first"), SystemMessage("second")}
	_, err := adapter.BeginTurn(context.Background(), history, UserInput{Text: "hi"}, TurnOptions{Model: "m"}, nil)
	require.NoError(t, err)

	system, ok := got.body["system"].([]interface{})
	require.True(t, ok, "system should be an array, got %T", got.body["system"])
	require.Len(t, system, 1)
	block := system[0].(map[string]interface{})
	assert.Equal(t, "text", block["type"])
	assert.Equal(t, "first\n\nsecond", block["text"])
}

func TestAnthropicAdapterToolResultsShareUserMessage(t *testing.T) {
	var got capture
	srv := sseServer(t, http.StatusOK, anthropicFixture, &got)
	adapter := anthropicFor(srv)

	history := []Message{
		UserMessage("go"),
		AssistantToolCallMessage("", "", []ToolCall{
			{ID: "A", Name: "x", Arguments: json.RawMessage(`{"k":1}`)},
			{ID: "B", Name: "y", Arguments: json.RawMessage(`not json`)},
		}),
		ToolResultMessage("A", "a-out", false),
		ToolResultMessage("B", "b-out", true),
	}
	_, err := adapter.ContinueTurn(context.Background(), history, TurnOptions{Model: "m"}, nil)
	require.NoError(t, err)

	msgs := got.body["messages"].([]interface{})
	require.Len(t, msgs, 3)

	assistant := msgs[1].(map[string]interface{})
	uses := assistant["content"].([]interface{})
	require.Len(t, uses, 2)
	assert.Equal(t, map[string]interface{}{"k": float64(1)}, uses[0].(map[string]interface{})["input"])
	assert.Equal(t, map[string]interface{}{}, uses[1].(map[string]interface{})["input"])

	results := msgs[2].(map[string]interface{})
	assert.Equal(t, "user", results["role"])
	blocks := results["content"].([]interface{})
	require.Len(t, blocks, 2)
	assert.Equal(t, "tool_result", blocks[0].(map[string]interface{})["type"])
	assert.Equal(t, "A", blocks[0].(map[string]interface{})["tool_use_id"])
	assert.Equal(t, true, blocks[1].(map[string]interface{})["is_error"])
}

func TestAnthropicAdapterDataURLImage(t *testing.T) {
	var got capture
	srv := sseServer(t, http.StatusOK, anthropicFixture, &got)
	adapter := anthropicFor(srv)

	input := UserInput{Text: "what is this", Images: []ImageData{
		{URL: "data:image/jpeg;base64,QUJD"},
		{URL: "https://example.com/cat.png"},
	}}
	_, err := adapter.BeginTurn(context.Background(), nil, input, TurnOptions{Model: "m"}, nil)
	require.NoError(t, err)

	msgs := got.body["messages"].([]interface{})
	blocks := msgs[0].(map[string]interface{})["content"].([]interface{})
	require.Len(t, blocks, 3)

	inline := blocks[1].(map[string]interface{})["source"].(map[string]interface{})
	assert.Equal(t, "base64", inline["type"])
	assert.Equal(t, "image/jpeg", inline["media_type"])
	assert.Equal(t, "QUJD", inline["data"])

	remote := blocks[2].(map[string]interface{})["source"].(map[string]interface{})
	assert.Equal(t, "url", remote["type"])
	assert.Equal(t, "https://example.com/cat.png", remote["url"])
}

func TestParseDataURL(t *testing.T) {
	tests := []struct {
		raw       string
		mediaType string
		data      string
		ok        bool
	}{
		{"data:image/gif;base64,R0lG", "image/gif", "R0lG", true},
		{"data:;base64,QUJD", "image/png", "QUJD", true},
		{"data:text/plain,a%20b", "text/plain", "YSBi", true},
		{"https://example.com/x.png", "", "", false},
		{"data:image/png;base64", "", "", false},
	}
	for _, tt := range tests {
		mt, data, ok := ParseDataURL(tt.raw)
		assert.Equal(t, tt.ok, ok, tt.raw)
		assert.Equal(t, tt.mediaType, mt, tt.raw)
		assert.Equal(t, tt.data, data, tt.raw)
	}
}

func TestAdapterNon2xxPreservesBody(t *testing.T) {
	const body = `{"type":"error","error":{"type":"rate_limit_error","message":"slow down"}}`
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "7")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = io.WriteString(w, body)
	}))
	defer srv.Close()

	sink := &RecordingSink{}
	res, err := anthropicFor(srv).BeginTurn(context.Background(), nil, UserInput{Text: "hi"}, TurnOptions{Model: "m"}, sink)
	assert.Nil(t, res)

	var rl *RateLimitError
	require.ErrorAs(t, err, &rl)
	assert.Equal(t, body, rl.Body)
	require.NotNil(t, rl.RetryAfter)
	assert.Equal(t, 7.0, *rl.RetryAfter)

	status, gotBody, ok := StatusOf(err)
	assert.True(t, ok)
	assert.Equal(t, 429, status)
	assert.Equal(t, body, gotBody)

	require.Len(t, sink.Events, 1)
	ev, isErr := sink.Events[0].(ErrorEvent)
	require.True(t, isErr)
	assert.Contains(t, ev.Message, "slow down")
}

func TestAdapterCancellationIsAbort(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = io.WriteString(w, "data: {\"type\":\"content_block_delta\",\"index\":0,\"delta\":{\"type\":\"text_delta\",\"text\":\"Hel\"}}\n\n")
		w.(http.Flusher).Flush()
		<-r.Context().Done()
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sink := SinkFunc(func(_ context.Context, ev StreamEvent) error {
		if _, ok := ev.(TextDelta); ok {
			cancel()
		}
		return nil
	})

	_, err := anthropicFor(srv).BeginTurn(ctx, nil, UserInput{Text: "hi"}, TurnOptions{Model: "m"}, sink)
	var abort *AbortError
	require.ErrorAs(t, err, &abort)
	assert.False(t, IsRetryable(err))
}

func TestAdapterSinkFailureIsNotFatal(t *testing.T) {
	srv := sseServer(t, http.StatusOK, anthropicFixture, nil)
	calls := 0
	sink := SinkFunc(func(context.Context, StreamEvent) error {
		calls++
		return errors.New("ui went away")
	})

	res, err := anthropicFor(srv).BeginTurn(context.Background(), nil, UserInput{Text: "hi"}, TurnOptions{Model: "m"}, sink)
	require.NoError(t, err)
	assert.Equal(t, "Running it.", res.Content)
	assert.Greater(t, calls, 1)
}

func TestAdapterInBandErrorFrame(t *testing.T) {
	stream := "event: error\ndata: {\"type\":\"error\",\"error\":{\"type\":\"overloaded_error\",\"message\":\"Overloaded\"}}\n\n"
	srv := sseServer(t, http.StatusOK, stream, nil)

	sink := &RecordingSink{}
	_, err := anthropicFor(srv).BeginTurn(context.Background(), nil, UserInput{Text: "hi"}, TurnOptions{Model: "m"}, sink)
	var perr *ProtocolError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, []StreamEvent{ErrorEvent{Message: "overloaded_error: Overloaded"}}, sink.Events)
}

func TestOpenAIAdapterRequestShape(t *testing.T) {
	var got capture
	srv := sseServer(t, http.StatusOK, openAIFixture, &got)
	adapter := openAIFor(srv, WithProviderName("deepseek"), WithHeader("X-Trace", "abc"))
	assert.Equal(t, "deepseek", adapter.Name())

	history := []Message{
		UserMessage("go"),
		AssistantToolCallMessage("thinking aloud", "", []ToolCall{{ID: "A", Name: "x"}}),
		ToolResultMessage("A", "a-out", false),
	}
	input := UserInput{Text: "look", Images: []ImageData{{Data: []byte("ABC"), MediaType: "image/jpeg"}}}
	res, err := adapter.BeginTurn(context.Background(), history, input, TurnOptions{
		Model:  "deepseek-reasoner",
		Config: GenerationConfig{SystemPrompt: "sys"},
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, "Checking", res.Content)

	assert.Equal(t, "/v1/chat/completions", got.path)
	assert.Equal(t, "Bearer sk-test", got.header.Get("Authorization"))
	assert.Equal(t, "abc", got.header.Get("X-Trace"))
	assert.Equal(t, map[string]interface{}{"include_usage": true}, got.body["stream_options"])

	msgs := got.body["messages"].([]interface{})
	require.Len(t, msgs, 5)
	assert.Equal(t, map[string]interface{}{"role": "system", "content": "sys"}, msgs[0])
	assert.Equal(t, "go", msgs[1].(map[string]interface{})["content"])

	assistant := msgs[2].(map[string]interface{})
	calls := assistant["tool_calls"].([]interface{})
	fn := calls[0].(map[string]interface{})["function"].(map[string]interface{})
	assert.Equal(t, "{}", fn["arguments"])

	tool := msgs[3].(map[string]interface{})
	assert.Equal(t, "tool", tool["role"])
	assert.Equal(t, "A", tool["tool_call_id"])

	parts := msgs[4].(map[string]interface{})["content"].([]interface{})
	require.Len(t, parts, 2)
	img := parts[1].(map[string]interface{})["image_url"].(map[string]interface{})
	assert.True(t, strings.HasPrefix(img["url"].(string), "data:image/jpeg;base64,QUJD"))
}

func TestOpenAIAdapterServerError(t *testing.T) {
	srv := sseServer(t, http.StatusServiceUnavailable, "upstream unavailable", nil)
	_, err := openAIFor(srv).ContinueTurn(context.Background(), []Message{UserMessage("x")}, TurnOptions{Model: "m"}, nil)
	var serr *ServerError
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, "upstream unavailable", serr.Body)
	assert.True(t, IsRetryable(err))
}

func TestOpenAIAdapterLenientTruncatedStream(t *testing.T) {
	stream := `data: {"choices":[{"index":0,"delta":{"content":"partial"},"finish_reason":null}]}` + "\n\n"
	srv := sseServer(t, http.StatusOK, stream, nil)

	sink := &RecordingSink{}
	res, err := openAIFor(srv).BeginTurn(context.Background(), nil, UserInput{Text: "x"}, TurnOptions{Model: "m"}, sink)
	require.NoError(t, err)
	assert.Equal(t, "partial", res.Content)
	assert.Equal(t, []StreamEvent{TextDelta{Text: "partial"}, Done{}}, sink.Events)

	_, err = openAIFor(srv, WithStrictParsing(true)).BeginTurn(context.Background(), nil, UserInput{Text: "x"}, TurnOptions{Model: "m"}, nil)
	var perr *ProtocolError
	assert.ErrorAs(t, err, &perr)
}

func TestOpenAIAdapterEndpointPathAndChannelSink(t *testing.T) {
	var got capture
	srv := sseServer(t, http.StatusOK, openAIFixture, &got)

	events := make(chan StreamEvent, 64)
	_, err := openAIFor(srv, WithEndpointPath("/api/v1/chat/completions")).
		BeginTurn(context.Background(), nil, UserInput{Text: "x"}, TurnOptions{Model: "m"}, ChannelSink(events))
	require.NoError(t, err)
	close(events)

	assert.Equal(t, "/api/v1/chat/completions", got.path)
	first := <-events
	assert.Equal(t, ThinkingDelta{Text: "Hmm."}, first)
	var last StreamEvent
	for ev := range events {
		last = ev
	}
	assert.IsType(t, Done{}, last)
}

func TestChannelSinkHonoursContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := ChannelSink(make(chan StreamEvent)).Emit(ctx, TextDelta{Text: "x"})
	assert.ErrorIs(t, err, context.Canceled)
}
