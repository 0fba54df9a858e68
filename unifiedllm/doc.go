// Package unifiedllm normalizes heterogeneous vendor chat APIs into one
// canonical streaming model.
//
// # Layers
//
//   - SSEDecoder splits a fragmented byte stream into server-sent-event frames.
//   - A stateful parser per vendor family turns frames into StreamEvents and a
//     final StreamResult. Tool call arguments accumulate per call id and are
//     parsed once when the owning block closes.
//   - ProtocolAdapter implementations (AnthropicAdapter, OpenAIAdapter,
//     GollmAdapter) build vendor requests from canonical history, repair
//     unmatched tool pairs first and drive the HTTP exchange.
//   - Client routes turns to adapters by provider and applies Middleware such
//     as RetryMiddleware and LoggingMiddleware.
//
// # Quick Start
//
//	adapter := unifiedllm.NewAnthropicAdapter(os.Getenv("ANTHROPIC_API_KEY"),
//	    unifiedllm.WithArraySystemFormat(true))
//	client := unifiedllm.NewClient(unifiedllm.WithProvider("anthropic", adapter))
//
//	res, err := client.BeginTurn(ctx, nil, unifiedllm.UserInput{Text: "Hello"},
//	    unifiedllm.TurnOptions{Model: "claude-sonnet-4-5"},
//	    unifiedllm.SinkFunc(func(ctx context.Context, ev unifiedllm.StreamEvent) error {
//	        if d, ok := ev.(unifiedllm.TextDelta); ok {
//	            fmt.Print(d.Text)
//	        }
//	        return nil
//	    }))
//
// # Model Catalog
//
// A built-in catalog of known models maps ids and aliases to providers:
//
//	info := unifiedllm.GetModelInfo("sonnet")
//	models := unifiedllm.ListModels("anthropic")
package unifiedllm
