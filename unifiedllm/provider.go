package unifiedllm

import "context"

// ProtocolAdapter is the contract every vendor family implements. Both entry
// points repair history, stream canonical events to sink in vendor order and
// return the turn's aggregate result. Adapters never retry.
type ProtocolAdapter interface {
	// Name returns the provider identifier (e.g. "anthropic", "openai").
	Name() string

	// BeginTurn opens a turn with new user input appended to history.
	BeginTurn(ctx context.Context, history []Message, input UserInput, opts TurnOptions, sink EventSink) (*StreamResult, error)

	// ContinueTurn resumes after tool results were appended to history.
	ContinueTurn(ctx context.Context, history []Message, opts TurnOptions, sink EventSink) (*StreamResult, error)
}

// Closer is implemented by adapters that hold resources.
type Closer interface {
	Close() error
}

// withInput returns a copy of history with the user input appended.
func withInput(history []Message, input UserInput) []Message {
	msgs := make([]Message, 0, len(history)+1)
	msgs = append(msgs, history...)
	return append(msgs, input.Message())
}
