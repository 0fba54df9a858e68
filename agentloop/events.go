package agentloop

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/martinemde/streamloop/unifiedllm"
)

// EventKind identifies the type of session event.
type EventKind string

const (
	EventTextDelta      EventKind = "text_delta"
	EventThinkingDelta  EventKind = "thinking_delta"
	EventToolStart      EventKind = "tool_start"
	EventToolArgsDelta  EventKind = "tool_args_delta"
	EventToolEnd        EventKind = "tool_end"
	EventActionRequired EventKind = "action_required"
	EventState          EventKind = "state"
	EventWarning        EventKind = "warning"
	EventLoopDetection  EventKind = "loop_detection"
	EventTurnLimit      EventKind = "turn_limit"
	EventError          EventKind = "error"
	EventDone           EventKind = "done"
	EventFinalDone      EventKind = "final_done"
	EventUserInput      EventKind = "user_input"
	EventSessionEnd     EventKind = "session_end"
)

var (
	// ErrEmitterClosed is returned when emitting after Close.
	ErrEmitterClosed = errors.New("event emitter closed")
	// ErrEmitterFull is returned when the buffer is full and the event was dropped.
	ErrEmitterFull = errors.New("event buffer full")
)

// SessionEvent is a typed event emitted by the agent loop.
type SessionEvent struct {
	Kind      EventKind              `json:"kind"`
	Timestamp time.Time              `json:"timestamp"`
	SessionID string                 `json:"session_id"`
	Data      map[string]interface{} `json:"data,omitempty"`
}

// EventEmitter delivers typed events to the host application via a channel.
// Emission never blocks the agent loop.
type EventEmitter struct {
	sessionID string
	ch        chan SessionEvent
	closed    bool
	mu        sync.Mutex
}

// NewEventEmitter creates a new EventEmitter with a buffered channel.
func NewEventEmitter(sessionID string, bufferSize int) *EventEmitter {
	if bufferSize <= 0 {
		bufferSize = 256
	}
	return &EventEmitter{
		sessionID: sessionID,
		ch:        make(chan SessionEvent, bufferSize),
	}
}

// Emit sends an event to the channel. It fails when the emitter is closed or
// the buffer is full; in both cases the event is dropped.
func (e *EventEmitter) Emit(kind EventKind, data map[string]interface{}) error {
	return e.send(SessionEvent{Kind: kind, Data: data})
}

func (e *EventEmitter) send(event SessionEvent) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ErrEmitterClosed
	}
	event.Timestamp = time.Now()
	event.SessionID = e.sessionID
	select {
	case e.ch <- event:
		return nil
	default:
		return ErrEmitterFull
	}
}

// Sink adapts the emitter to a unifiedllm.EventSink, fanning each stream
// event out to session events.
func (e *EventEmitter) Sink() unifiedllm.EventSink {
	return unifiedllm.SinkFunc(func(_ context.Context, ev unifiedllm.StreamEvent) error {
		var errs []error
		for _, out := range FanOut(ev) {
			if err := e.send(out); err != nil {
				errs = append(errs, err)
			}
		}
		return errors.Join(errs...)
	})
}

// Events returns the read-only event channel.
func (e *EventEmitter) Events() <-chan SessionEvent {
	return e.ch
}

// Close closes the event channel. Safe to call multiple times.
func (e *EventEmitter) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.closed {
		e.closed = true
		close(e.ch)
	}
}

// FanOut maps one canonical stream event to the UI events it produces.
// Session id and timestamp are filled in on emission.
func FanOut(ev unifiedllm.StreamEvent) []SessionEvent {
	switch ev := ev.(type) {
	case unifiedllm.TextDelta:
		return []SessionEvent{{Kind: EventTextDelta, Data: map[string]interface{}{"text": ev.Text}}}
	case unifiedllm.ThinkingDelta:
		return []SessionEvent{{Kind: EventThinkingDelta, Data: map[string]interface{}{"text": ev.Text}}}
	case unifiedllm.ToolStart:
		return []SessionEvent{{Kind: EventToolStart, Data: map[string]interface{}{
			"tool_id":   ev.ID,
			"tool_name": ev.Name,
		}}}
	case unifiedllm.ToolArgsDelta:
		return []SessionEvent{{Kind: EventToolArgsDelta, Data: map[string]interface{}{
			"tool_id": ev.ID,
			"delta":   ev.Delta,
		}}}
	case unifiedllm.Done:
		data := map[string]interface{}{}
		if ev.Usage != nil {
			data["usage"] = *ev.Usage
		}
		return []SessionEvent{{Kind: EventDone, Data: data}}
	case unifiedllm.ErrorEvent:
		return []SessionEvent{{Kind: EventError, Data: map[string]interface{}{"message": ev.Message}}}
	default:
		return []SessionEvent{{Kind: EventWarning, Data: map[string]interface{}{
			"message": unifiedllm.CheckEvent(ev).Error(),
		}}}
	}
}
