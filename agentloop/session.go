package agentloop

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/martinemde/streamloop/unifiedllm"
)

// SessionState represents the current lifecycle state of a session.
type SessionState string

const (
	SessionIdle       SessionState = "idle"
	SessionProcessing SessionState = "processing"
	SessionClosed     SessionState = "closed"
)

var (
	// ErrSessionClosed is returned by Submit after Close.
	ErrSessionClosed = errors.New("session is closed")
	// ErrSessionBusy is returned by Submit while another turn is running.
	ErrSessionBusy = errors.New("session is processing another turn")
)

// SessionConfig holds configuration for a session.
type SessionConfig struct {
	// Engine defaults to DefaultEngineConfig when nil.
	Engine      *EngineConfig
	Options     unifiedllm.TurnOptions
	EventBuffer int
	Logger      *slog.Logger
}

// Session is the application-facing entry point. It owns the working
// history, the event stream and the cancel signal of the in-flight turn.
type Session struct {
	id      string
	engine  *Engine
	emitter *EventEmitter
	options unifiedllm.TurnOptions
	logger  *slog.Logger

	history []unifiedllm.Message
	state   SessionState
	cancel  *CancelSignal
	mu      sync.Mutex
}

// NewSession creates a session that runs turns through adapter with the
// tools in registry.
func NewSession(adapter unifiedllm.ProtocolAdapter, registry *ToolRegistry, cfg SessionConfig) *Session {
	sessionID := uuid.New().String()
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("session_id", sessionID)

	emitter := NewEventEmitter(sessionID, cfg.EventBuffer)
	engineCfg := DefaultEngineConfig()
	if cfg.Engine != nil {
		engineCfg = *cfg.Engine
	}
	return &Session{
		id:      sessionID,
		engine:  NewEngine(adapter, registry, WithEmitter(emitter), WithEngineConfig(engineCfg), WithEngineLogger(logger)),
		emitter: emitter,
		options: cfg.Options,
		logger:  logger,
		state:   SessionIdle,
	}
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// State returns the current session state.
func (s *Session) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// History returns a copy of the conversation history.
func (s *Session) History() []unifiedllm.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	h := make([]unifiedllm.Message, len(s.history))
	copy(h, s.history)
	return h
}

// SetHistory replaces the working history, e.g. when resuming a stored
// conversation.
func (s *Session) SetHistory(history []unifiedllm.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = append([]unifiedllm.Message(nil), history...)
}

// Events returns the event channel for the host application.
func (s *Session) Events() <-chan SessionEvent {
	return s.emitter.Events()
}

// Submit runs one turn with the given user input. The working history is
// updated with everything the turn produced, including on cancellation and
// failure.
func (s *Session) Submit(ctx context.Context, text string, images []unifiedllm.ImageData) (*unifiedllm.StreamResult, error) {
	s.mu.Lock()
	switch s.state {
	case SessionClosed:
		s.mu.Unlock()
		return nil, ErrSessionClosed
	case SessionProcessing:
		s.mu.Unlock()
		return nil, ErrSessionBusy
	}
	s.state = SessionProcessing
	cancel := NewCancelSignal(ctx)
	s.cancel = cancel
	history := make([]unifiedllm.Message, len(s.history))
	copy(history, s.history)
	s.mu.Unlock()

	s.emit(EventUserInput, map[string]interface{}{
		"content": text,
		"images":  len(images),
	})

	res, err := s.engine.Run(ctx, TurnInput{
		History:  history,
		UserText: text,
		Images:   images,
		Options:  s.options,
		Cancel:   cancel,
	})

	s.mu.Lock()
	if res != nil {
		s.history = res.History
	}
	if s.state == SessionProcessing {
		s.state = SessionIdle
	}
	s.cancel = nil
	s.mu.Unlock()
	cancel.Cancel()

	if err != nil {
		if errors.Is(err, ErrCancelled) {
			return resultOf(res), err
		}
		return resultOf(res), fmt.Errorf("session %s: %w", s.id, err)
	}
	return res.Result, nil
}

func resultOf(res *TurnResult) *unifiedllm.StreamResult {
	if res == nil {
		return nil
	}
	return res.Result
}

// Abort cancels the in-flight turn, if any. Repeated calls are no-ops.
func (s *Session) Abort() {
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()
	if cancel != nil {
		cancel.Cancel()
	}
}

// ActionRequired asks the host to act on an externally mediated request,
// such as approving a terminal command. It fails when the event could not be
// delivered.
func (s *Session) ActionRequired(_ context.Context, requestID, actionType string, data interface{}) error {
	return s.emitter.Emit(EventActionRequired, map[string]interface{}{
		"request_id":  requestID,
		"action_type": actionType,
		"data":        data,
	})
}

// Close aborts any running turn and closes the event stream.
func (s *Session) Close() {
	s.Abort()
	s.mu.Lock()
	if s.state == SessionClosed {
		s.mu.Unlock()
		return
	}
	s.state = SessionClosed
	s.mu.Unlock()

	s.emit(EventSessionEnd, map[string]interface{}{
		"state": string(SessionClosed),
	})
	s.emitter.Close()
}

func (s *Session) emit(kind EventKind, data map[string]interface{}) {
	if err := s.emitter.Emit(kind, data); err != nil {
		s.logger.Debug("session event dropped", "kind", kind, "error", err)
	}
}
