package remote

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultTimeout bounds how long a request waits for its fulfillment.
const DefaultTimeout = 120 * time.Second

var (
	// ErrTimeout is returned when no fulfillment arrived in time.
	ErrTimeout = errors.New("remote request timed out")
	// ErrChannelClosed is returned when the bridge closed before fulfillment.
	ErrChannelClosed = errors.New("remote channel closed")
	// ErrNotifyFailed is returned when the external actor could not be told
	// about the request.
	ErrNotifyFailed = errors.New("notify external actor failed")
)

// Notification is sent to the external actor for every request.
type Notification struct {
	Name      string      `json:"name"`
	RequestID string      `json:"request_id"`
	Payload   interface{} `json:"payload"`
}

// Notifier delivers notifications to the external actor.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, n Notification) error

// Notify calls f.
func (f NotifierFunc) Notify(ctx context.Context, n Notification) error {
	return f(ctx, n)
}

// Clock abstracts timers so tests can control expiry.
type Clock interface {
	After(d time.Duration) <-chan time.Time
}

type realClock struct{}

func (realClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

// BridgeOption configures a Bridge.
type BridgeOption func(*bridgeConfig)

type bridgeConfig struct {
	timeout time.Duration
	newID   func() string
	logger  *slog.Logger
	clock   Clock
}

// WithTimeout sets the default request timeout.
func WithTimeout(d time.Duration) BridgeOption {
	return func(c *bridgeConfig) {
		c.timeout = d
	}
}

// WithIDGenerator replaces the uuid request id generator.
func WithIDGenerator(fn func() string) BridgeOption {
	return func(c *bridgeConfig) {
		c.newID = fn
	}
}

// WithLogger sets the bridge logger.
func WithLogger(logger *slog.Logger) BridgeOption {
	return func(c *bridgeConfig) {
		c.logger = logger
	}
}

// WithClock sets the clock used for timeouts.
func WithClock(clock Clock) BridgeOption {
	return func(c *bridgeConfig) {
		c.clock = clock
	}
}

// Bridge pairs requests handed to an external actor with the responses that
// actor later delivers through Fulfill. Each request id is registered once
// and resolved at most once; every exit path of a request removes its entry.
type Bridge[Req, Resp any] struct {
	name string
	cfg  bridgeConfig

	mu       sync.Mutex
	notifier Notifier
	pending  map[string]chan Resp
	closed   bool
	done     chan struct{}
}

// NewBridge creates a bridge whose notifications carry name. notifier may be
// nil and attached later with SetNotifier.
func NewBridge[Req, Resp any](name string, notifier Notifier, opts ...BridgeOption) *Bridge[Req, Resp] {
	cfg := bridgeConfig{
		timeout: DefaultTimeout,
		newID:   func() string { return uuid.New().String() },
		clock:   realClock{},
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.logger == nil {
		cfg.logger = slog.Default()
	}
	cfg.logger = cfg.logger.With("bridge", name)
	return &Bridge[Req, Resp]{
		name:     name,
		cfg:      cfg,
		notifier: notifier,
		pending:  make(map[string]chan Resp),
		done:     make(chan struct{}),
	}
}

// SetNotifier attaches or replaces the external actor.
func (b *Bridge[Req, Resp]) SetNotifier(n Notifier) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.notifier = n
}

// Request sends payload with the default timeout and waits for its response.
func (b *Bridge[Req, Resp]) Request(ctx context.Context, payload Req) (Resp, error) {
	return b.RequestWithTimeout(ctx, payload, b.cfg.timeout)
}

// RequestWithTimeout is Request with an explicit timeout.
func (b *Bridge[Req, Resp]) RequestWithTimeout(ctx context.Context, payload Req, timeout time.Duration) (Resp, error) {
	return b.RequestFunc(ctx, timeout, func(string) Req { return payload })
}

// RequestFunc builds the payload from the generated request id, for payloads
// that carry their own id.
func (b *Bridge[Req, Resp]) RequestFunc(ctx context.Context, timeout time.Duration, build func(requestID string) Req) (Resp, error) {
	var zero Resp
	if timeout <= 0 {
		timeout = b.cfg.timeout
	}

	id := b.cfg.newID()
	slot := make(chan Resp, 1)

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return zero, ErrChannelClosed
	}
	if _, exists := b.pending[id]; exists {
		b.mu.Unlock()
		return zero, fmt.Errorf("request id %s already in flight", id)
	}
	b.pending[id] = slot
	notifier := b.notifier
	b.mu.Unlock()

	logger := b.cfg.logger.With("request_id", id)
	if notifier == nil {
		b.remove(id)
		logger.Warn("no external actor attached")
		return zero, fmt.Errorf("%w: no notifier attached", ErrNotifyFailed)
	}
	if err := notifier.Notify(ctx, Notification{Name: b.name, RequestID: id, Payload: build(id)}); err != nil {
		b.remove(id)
		logger.Warn("notify failed", "error", err)
		return zero, fmt.Errorf("%w: %w", ErrNotifyFailed, err)
	}
	logger.Debug("request dispatched", "timeout", timeout)

	select {
	case resp := <-slot:
		return resp, nil
	case <-b.cfg.clock.After(timeout):
		if !b.remove(id) {
			return b.settle(slot)
		}
		logger.Warn("request timed out", "timeout", timeout)
		return zero, ErrTimeout
	case <-ctx.Done():
		if !b.remove(id) {
			return b.settle(slot)
		}
		return zero, ctx.Err()
	case <-b.done:
		return zero, ErrChannelClosed
	}
}

// settle waits for a slot that left the pending map without this request
// removing it: either Fulfill is delivering into it or Close discarded it.
func (b *Bridge[Req, Resp]) settle(slot <-chan Resp) (Resp, error) {
	select {
	case resp := <-slot:
		return resp, nil
	case <-b.done:
		select {
		case resp := <-slot:
			return resp, nil
		default:
			var zero Resp
			return zero, ErrChannelClosed
		}
	}
}

// Fulfill resolves the pending request id with resp. It returns false, and
// drops resp, when id is unknown or already resolved.
func (b *Bridge[Req, Resp]) Fulfill(id string, resp Resp) bool {
	b.mu.Lock()
	slot, ok := b.pending[id]
	delete(b.pending, id)
	b.mu.Unlock()

	if !ok {
		b.cfg.logger.Warn("dropping response for unknown or resolved request", "request_id", id)
		return false
	}
	slot <- resp
	return true
}

// Pending returns the number of requests awaiting fulfillment.
func (b *Bridge[Req, Resp]) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}

// Close resolves every pending request with ErrChannelClosed and rejects new
// ones. Safe to call multiple times.
func (b *Bridge[Req, Resp]) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	b.pending = make(map[string]chan Resp)
	close(b.done)
}

// remove unregisters id and reports whether it was still registered.
func (b *Bridge[Req, Resp]) remove(id string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.pending[id]
	delete(b.pending, id)
	return ok
}
