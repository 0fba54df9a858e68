package agentloop

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/martinemde/streamloop/unifiedllm"
)

// DefaultMaxIterations bounds tool rounds per turn when unset.
const DefaultMaxIterations = 25

var (
	// ErrMaxIterations is returned when the model keeps requesting tools
	// past EngineConfig.MaxIterations rounds.
	ErrMaxIterations = errors.New("tool loop exceeded max iterations")
	// ErrCancelled is returned when the turn's CancelSignal fired.
	ErrCancelled = errors.New("turn cancelled")
)

// TurnState is a state of the tool-call loop.
type TurnState string

const (
	StateAwaitingModel TurnState = "awaiting_model"
	StateHasText       TurnState = "has_text"
	StateHasToolCalls  TurnState = "has_tool_calls"
	StateAwaitingTools TurnState = "awaiting_tools"
	StateDone          TurnState = "done"
	StateError         TurnState = "error"
	StateCancelled     TurnState = "cancelled"
)

// ToolPolicy selects how a batch of tool calls is executed.
type ToolPolicy string

const (
	SequentialPolicy ToolPolicy = "sequential"
	// ConcurrentPolicy runs a batch concurrently only when every tool in it
	// is declared SideEffectFree. Other batches stay sequential.
	ConcurrentPolicy ToolPolicy = "concurrent"
)

// EngineConfig holds the loop limits and tool execution policy.
type EngineConfig struct {
	MaxIterations       int            `json:"max_iterations"`
	ToolPolicy          ToolPolicy     `json:"tool_policy"`
	MaxConcurrency      int            `json:"max_concurrency"`
	FailFast            bool           `json:"fail_fast"`
	ToolOutputLimits    map[string]int `json:"tool_output_limits,omitempty"`
	ToolLineLimits      map[string]int `json:"tool_line_limits,omitempty"`
	EnableLoopDetection bool           `json:"enable_loop_detection"`
	LoopDetectionWindow int            `json:"loop_detection_window"`
}

// DefaultEngineConfig returns the default configuration.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		MaxIterations:       DefaultMaxIterations,
		ToolPolicy:          SequentialPolicy,
		MaxConcurrency:      4,
		EnableLoopDetection: true,
		LoopDetectionWindow: 10,
	}
}

// Engine drives model/tool rounds for one turn at a time. It holds no
// per-turn state, so one Engine may serve several sessions.
type Engine struct {
	adapter unifiedllm.ProtocolAdapter
	tools   *ToolRegistry
	emitter *EventEmitter
	config  EngineConfig
	logger  *slog.Logger
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithEmitter routes stream and loop events to emitter.
func WithEmitter(emitter *EventEmitter) EngineOption {
	return func(e *Engine) {
		e.emitter = emitter
	}
}

// WithEngineConfig replaces the default configuration.
func WithEngineConfig(cfg EngineConfig) EngineOption {
	return func(e *Engine) {
		e.config = cfg
	}
}

// WithEngineLogger sets the engine logger.
func WithEngineLogger(logger *slog.Logger) EngineOption {
	return func(e *Engine) {
		e.logger = logger
	}
}

// NewEngine creates an engine calling adapter and executing tools from tools.
func NewEngine(adapter unifiedllm.ProtocolAdapter, tools *ToolRegistry, opts ...EngineOption) *Engine {
	if tools == nil {
		tools = NewToolRegistry()
	}
	e := &Engine{
		adapter: adapter,
		tools:   tools,
		config:  DefaultEngineConfig(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.logger == nil {
		e.logger = slog.Default()
	}
	if e.config.MaxIterations <= 0 {
		e.config.MaxIterations = DefaultMaxIterations
	}
	if e.config.MaxConcurrency <= 0 {
		e.config.MaxConcurrency = 1
	}
	if e.config.ToolPolicy == "" {
		e.config.ToolPolicy = SequentialPolicy
	}
	return e
}

// Tools returns the engine's registry.
func (e *Engine) Tools() *ToolRegistry { return e.tools }

// TurnInput is everything run_turn needs from the application layer.
type TurnInput struct {
	History  []unifiedllm.Message
	UserText string
	Images   []unifiedllm.ImageData
	// Options.Tools defaults to the registry's definitions when nil.
	Options unifiedllm.TurnOptions
	// Cancel may be shared with the caller. A fresh signal bound to the Run
	// context is used when nil.
	Cancel *CancelSignal
}

// TurnResult is the outcome of Run. It is returned, possibly partial, on
// every exit path.
type TurnResult struct {
	// Result is the last model response.
	Result *unifiedllm.StreamResult
	// History is the input history plus the user message and every
	// assistant and tool message produced during the turn.
	History    []unifiedllm.Message
	States     []TurnState
	Iterations int
	Usage      unifiedllm.Usage
}

// FinalState returns the last recorded state.
func (r *TurnResult) FinalState() TurnState {
	if r == nil || len(r.States) == 0 {
		return ""
	}
	return r.States[len(r.States)-1]
}

// Run executes one turn: it opens the turn with the user input, executes any
// requested tools, continues the model with their results and repeats until
// the model answers without tool calls. The cancel signal is checked before
// every model call and every tool dispatch.
func (e *Engine) Run(ctx context.Context, in TurnInput) (*TurnResult, error) {
	cancel := in.Cancel
	if cancel == nil {
		cancel = NewCancelSignal(ctx)
	}
	ctx, stop := cancel.Bind(ctx)
	defer stop()
	stopped := func() bool { return ctx.Err() != nil || cancel.Cancelled() }

	opts := in.Options
	if opts.Tools == nil {
		opts.Tools = e.tools.Definitions()
	}
	input := unifiedllm.UserInput{Text: in.UserText, Images: in.Images}

	res := &TurnResult{History: make([]unifiedllm.Message, 0, len(in.History)+1)}
	res.History = append(res.History, in.History...)
	res.History = append(res.History, input.Message())
	sink := e.sink()

	for round := 0; ; round++ {
		if stopped() {
			return e.cancelled(res)
		}
		e.transition(res, StateAwaitingModel)

		var (
			sr  *unifiedllm.StreamResult
			err error
		)
		if round == 0 {
			sr, err = e.adapter.BeginTurn(ctx, in.History, input, opts, sink)
		} else {
			sr, err = e.adapter.ContinueTurn(ctx, res.History, opts, sink)
		}
		if err != nil {
			if stopped() {
				return e.cancelled(res)
			}
			phase := "begin turn"
			if round > 0 {
				phase = "continue turn"
			}
			return e.fail(res, fmt.Errorf("%s: %w", phase, err))
		}
		if sr == nil {
			sr = &unifiedllm.StreamResult{}
		}

		res.Result = sr
		if sr.Usage != nil {
			res.Usage = res.Usage.Add(*sr.Usage)
		}
		if msg := sr.AssistantMessage(); len(msg.Content) > 0 {
			res.History = append(res.History, msg)
		}

		if !sr.HasToolCalls() {
			e.transition(res, StateHasText)
			e.transition(res, StateDone)
			e.emit(EventFinalDone, map[string]interface{}{
				"usage":      res.Usage,
				"iterations": res.Iterations,
			})
			return res, nil
		}
		e.transition(res, StateHasToolCalls)

		if res.Iterations >= e.config.MaxIterations {
			e.emit(EventTurnLimit, map[string]interface{}{
				"max_iterations": e.config.MaxIterations,
			})
			return e.fail(res, ErrMaxIterations)
		}
		res.Iterations++

		if stopped() {
			for _, call := range sr.ToolCalls {
				res.History = append(res.History, e.skip(call, cancelledResult))
			}
			return e.cancelled(res)
		}
		e.transition(res, StateAwaitingTools)
		res.History = append(res.History, e.executeTools(ctx, stopped, sr.ToolCalls)...)
		e.checkLoop(res.History)
	}
}

func (e *Engine) transition(res *TurnResult, state TurnState) {
	res.States = append(res.States, state)
	e.emit(EventState, map[string]interface{}{"state": string(state)})
}

func (e *Engine) fail(res *TurnResult, err error) (*TurnResult, error) {
	e.logger.Warn("turn failed", "error", err, "iterations", res.Iterations)
	data := map[string]interface{}{"message": err.Error()}
	if status, body, ok := unifiedllm.StatusOf(err); ok {
		data["status"] = status
		data["body"] = body
	}
	e.emit(EventError, data)
	e.transition(res, StateError)
	return res, err
}

func (e *Engine) cancelled(res *TurnResult) (*TurnResult, error) {
	e.logger.Info("turn cancelled", "iterations", res.Iterations)
	e.transition(res, StateCancelled)
	return res, ErrCancelled
}

func (e *Engine) checkLoop(history []unifiedllm.Message) {
	if !e.config.EnableLoopDetection || !DetectLoop(history, e.config.LoopDetectionWindow) {
		return
	}
	warning := fmt.Sprintf("Loop detected: the last %d tool calls follow a repeating pattern.", e.config.LoopDetectionWindow)
	e.logger.Warn(warning)
	e.emit(EventLoopDetection, map[string]interface{}{"message": warning})
}

func (e *Engine) sink() unifiedllm.EventSink {
	if e.emitter == nil {
		return unifiedllm.DiscardSink
	}
	return e.emitter.Sink()
}

func (e *Engine) emit(kind EventKind, data map[string]interface{}) {
	if e.emitter == nil {
		return
	}
	if err := e.emitter.Emit(kind, data); err != nil {
		e.logger.Debug("session event dropped", "kind", kind, "error", err)
	}
}
