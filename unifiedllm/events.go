package unifiedllm

import (
	"context"
	"fmt"
)

// StreamEventType identifies the kind of stream event.
type StreamEventType string

const (
	EventTextDelta     StreamEventType = "text_delta"
	EventThinkingDelta StreamEventType = "thinking_delta"
	EventToolStart     StreamEventType = "tool_start"
	EventToolArgsDelta StreamEventType = "tool_args_delta"
	EventDone          StreamEventType = "done"
	EventError         StreamEventType = "error"
)

// StreamEvent is one canonical event produced while a model turn streams.
// The set of implementations is closed: TextDelta, ThinkingDelta, ToolStart,
// ToolArgsDelta, Done and ErrorEvent.
type StreamEvent interface {
	Kind() StreamEventType
	streamEvent()
}

// TextDelta is a fragment of assistant text.
type TextDelta struct {
	Text string `json:"text"`
}

// ThinkingDelta is a fragment of model reasoning.
type ThinkingDelta struct {
	Text string `json:"text"`
}

// ToolStart announces a tool call before its arguments stream in.
type ToolStart struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// ToolArgsDelta is a fragment of a tool call's JSON arguments.
type ToolArgsDelta struct {
	ID    string `json:"id"`
	Delta string `json:"delta"`
}

// Done ends a model turn.
type Done struct {
	Usage *Usage `json:"usage,omitempty"`
}

// ErrorEvent reports a terminal failure of the stream.
type ErrorEvent struct {
	Message string `json:"message"`
}

func (TextDelta) Kind() StreamEventType     { return EventTextDelta }
func (ThinkingDelta) Kind() StreamEventType { return EventThinkingDelta }
func (ToolStart) Kind() StreamEventType     { return EventToolStart }
func (ToolArgsDelta) Kind() StreamEventType { return EventToolArgsDelta }
func (Done) Kind() StreamEventType          { return EventDone }
func (ErrorEvent) Kind() StreamEventType    { return EventError }

func (TextDelta) streamEvent()     {}
func (ThinkingDelta) streamEvent() {}
func (ToolStart) streamEvent()     {}
func (ToolArgsDelta) streamEvent() {}
func (Done) streamEvent()          {}
func (ErrorEvent) streamEvent()    {}

// CheckEvent returns an error for a StreamEvent that is not one of the
// package's variants. Conversion boundaries call it from their default case.
func CheckEvent(ev StreamEvent) error {
	switch ev.(type) {
	case TextDelta, ThinkingDelta, ToolStart, ToolArgsDelta, Done, ErrorEvent:
		return nil
	default:
		return fmt.Errorf("unknown stream event %T", ev)
	}
}

// EventSink receives canonical events as they are produced. Emission is
// best-effort: adapters log a failed Emit and keep streaming.
type EventSink interface {
	Emit(ctx context.Context, ev StreamEvent) error
}

// SinkFunc adapts a function to EventSink.
type SinkFunc func(ctx context.Context, ev StreamEvent) error

// Emit calls f.
func (f SinkFunc) Emit(ctx context.Context, ev StreamEvent) error {
	return f(ctx, ev)
}

// DiscardSink drops every event.
var DiscardSink EventSink = SinkFunc(func(context.Context, StreamEvent) error { return nil })

// ChannelSink forwards events to a channel, failing when ctx is done.
type ChannelSink chan<- StreamEvent

// Emit sends ev on the channel.
func (c ChannelSink) Emit(ctx context.Context, ev StreamEvent) error {
	select {
	case c <- ev:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RecordingSink collects events in memory. It is not safe for concurrent use.
type RecordingSink struct {
	Events []StreamEvent
}

// Emit appends ev.
func (r *RecordingSink) Emit(_ context.Context, ev StreamEvent) error {
	r.Events = append(r.Events, ev)
	return nil
}
