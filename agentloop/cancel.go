package agentloop

import "context"

// CancelSignal is a shareable, idempotent cancellation flag for one turn. It
// fires when Cancel is called or when the parent context ends.
type CancelSignal struct {
	ctx    context.Context
	cancel context.CancelFunc
}

// NewCancelSignal creates a signal tied to parent.
func NewCancelSignal(parent context.Context) *CancelSignal {
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithCancel(parent)
	return &CancelSignal{ctx: ctx, cancel: cancel}
}

// Cancel fires the signal. Repeated calls are no-ops.
func (c *CancelSignal) Cancel() { c.cancel() }

// Cancelled reports whether the signal has fired.
func (c *CancelSignal) Cancelled() bool { return c.ctx.Err() != nil }

// Done is closed once the signal fires.
func (c *CancelSignal) Done() <-chan struct{} { return c.ctx.Done() }

// Bind derives a context from ctx that is also cancelled by the signal.
// Callers must call the returned stop function.
func (c *CancelSignal) Bind(ctx context.Context) (context.Context, context.CancelFunc) {
	bound, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(c.ctx, cancel)
	return bound, func() {
		stop()
		cancel()
	}
}
