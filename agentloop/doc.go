// Package agentloop runs the tool-call loop on top of a
// unifiedllm.ProtocolAdapter.
//
// A turn opens with the user's input, executes the tools the model asks for,
// appends one result per call and continues the model until it answers
// without tool calls. Events from the adapter stream are fanned out to a
// typed event channel for the host application.
//
// # Architecture
//
//   - Engine: runs one turn at a time against an adapter and a registry.
//   - Session: owns the working history, the event stream and the cancel
//     signal of the in-flight turn.
//   - ToolRegistry: registration and lookup of tool definitions and
//     executors.
//   - EventEmitter: non-blocking event channel for the host.
//   - CancelSignal: shareable, idempotent cancellation for one turn.
//
// # Quick Start
//
//	adapter := unifiedllm.NewAnthropicAdapter(apiKey)
//	tools := agentloop.NewToolRegistry()
//	session := agentloop.NewSession(adapter, tools, agentloop.SessionConfig{
//	    Options: unifiedllm.TurnOptions{Model: "claude-sonnet-4-5"},
//	})
//	defer session.Close()
//
//	go func() {
//	    for event := range session.Events() {
//	        fmt.Printf("[%s] %v\n", event.Kind, event.Data)
//	    }
//	}()
//
//	if _, err := session.Submit(ctx, "List the files here", nil); err != nil {
//	    log.Fatal(err)
//	}
package agentloop
