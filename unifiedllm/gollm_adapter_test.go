package unifiedllm

import (
	"testing"
)

func TestGollmAdapterTranslateError(t *testing.T) {
	adapter := &GollmAdapter{provider: "openai"}

	tests := []struct {
		errMsg string
		check  func(error) bool
		name   string
	}{
		{"401 Unauthorized", func(e error) bool { _, ok := e.(*AuthenticationError); return ok }, "AuthenticationError"},
		{"invalid api key", func(e error) bool { _, ok := e.(*AuthenticationError); return ok }, "AuthenticationError"},
		{"403 Forbidden", func(e error) bool { _, ok := e.(*AccessDeniedError); return ok }, "AccessDeniedError"},
		{"404 not found", func(e error) bool { _, ok := e.(*NotFoundError); return ok }, "NotFoundError"},
		{"429 rate limit exceeded", func(e error) bool { _, ok := e.(*RateLimitError); return ok }, "RateLimitError"},
		{"context length exceeded", func(e error) bool { _, ok := e.(*ContextLengthError); return ok }, "ContextLengthError"},
		{"500 internal server error", func(e error) bool { _, ok := e.(*ServerError); return ok }, "ServerError"},
		{"timeout waiting for response", func(e error) bool { _, ok := e.(*RequestTimeoutError); return ok }, "RequestTimeoutError"},
		{"content filter triggered", func(e error) bool { _, ok := e.(*ContentFilterError); return ok }, "ContentFilterError"},
		{"dial tcp: connection refused", func(e error) bool { _, ok := e.(*NetworkError); return ok }, "NetworkError"},
		{"something unknown", func(e error) bool { _, ok := e.(*ProviderError); return ok }, "ProviderError"},
	}

	for _, tt := range tests {
		err := adapter.translateError(errForMsg(tt.errMsg))
		if err == nil {
			t.Errorf("expected non-nil error for %q", tt.errMsg)
			continue
		}
		if !tt.check(err) {
			t.Errorf("for %q: expected %s, got %T", tt.errMsg, tt.name, err)
		}
	}
}

type simpleError struct{ msg string }

func (e *simpleError) Error() string { return e.msg }
func errForMsg(msg string) error     { return &simpleError{msg: msg} }

func TestGollmAdapterParseToolCalls(t *testing.T) {
	adapter := &GollmAdapter{provider: "openai"}

	t.Run("bare array", func(t *testing.T) {
		text := `Checking now. [{"name":"terminal","arguments":{"command":"ls"}}]`
		calls := adapter.parseToolCalls(text)
		if len(calls) != 1 {
			t.Fatalf("expected 1 call, got %d", len(calls))
		}
		if calls[0].Name != "terminal" {
			t.Errorf("expected terminal, got %q", calls[0].Name)
		}
		if string(calls[0].Arguments) != `{"command":"ls"}` {
			t.Errorf("unexpected arguments %s", calls[0].Arguments)
		}
		if calls[0].ID == "" {
			t.Error("expected a generated call id")
		}
		if got := adapter.removeToolCallJSON(text, calls); got != "Checking now." {
			t.Errorf("expected tool JSON stripped, got %q", got)
		}
	})

	t.Run("wrapped with string arguments", func(t *testing.T) {
		text := `{"tool_calls":[{"name":"a","arguments":"{\"x\":1}"},{"name":"b","arguments":"{broken"}]}`
		calls := adapter.parseToolCalls(text)
		if len(calls) != 2 {
			t.Fatalf("expected 2 calls, got %d", len(calls))
		}
		if string(calls[0].Arguments) != `{"x":1}` || calls[0].ParseError != "" {
			t.Errorf("unexpected first call %+v", calls[0])
		}
		if string(calls[1].Arguments) != `{}` || calls[1].ParseError == "" {
			t.Errorf("expected parse error marker on second call, got %+v", calls[1])
		}
	})

	t.Run("plain text", func(t *testing.T) {
		if calls := adapter.parseToolCalls("no tools here"); calls != nil {
			t.Errorf("expected no calls, got %+v", calls)
		}
	})
}

func TestEstimateTokens(t *testing.T) {
	history := []Message{
		UserMessage("Hello world, this is a test message."),
		ToolResultMessage("t1", "some tool output that is long enough", false),
	}
	if tokens := estimateTokens(history); tokens <= 0 {
		t.Errorf("expected positive token estimate, got %d", tokens)
	}
}

func TestEstimateTokensEmpty(t *testing.T) {
	if tokens := estimateTokens(nil); tokens != 10 {
		t.Errorf("expected default token estimate of 10, got %d", tokens)
	}
}
