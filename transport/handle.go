package transport

import (
	"context"

	"github.com/google/uuid"
)

// Handle is the transfer resource owned by exactly one request. It carries
// the prepared Descriptor and, once performed, the transfer outcome.
//
// A Handle is not safe for concurrent use. A Multiplexer performs it on its
// own goroutine and hands it back through PollFinished, which orders the
// write of the outcome before the caller reads it.
type Handle struct {
	id     uuid.UUID
	desc   *Descriptor
	result *Result
	err    error
	done   bool
	closed bool
}

// NewHandle returns an open handle with a fresh identity.
func NewHandle() *Handle {
	return &Handle{id: uuid.New()}
}

// ID identifies the handle inside a Multiplexer. It stays valid after Close.
func (h *Handle) ID() uuid.UUID { return h.id }

// Configure attaches a prepared descriptor and clears any previous outcome.
func (h *Handle) Configure(d *Descriptor) error {
	if h.closed {
		return ErrHandleClosed
	}
	h.desc = d
	h.result, h.err, h.done = nil, nil, false
	return nil
}

// Descriptor returns the attached descriptor, nil before Configure.
func (h *Handle) Descriptor() *Descriptor { return h.desc }

// Perform runs the transfer synchronously and stores its outcome.
func (h *Handle) Perform(ctx context.Context, t Transport) {
	switch {
	case h.closed:
		h.result, h.err = nil, &Error{Code: CodeFailed, Message: ErrHandleClosed.Error()}
	case h.desc == nil:
		h.result, h.err = nil, &Error{Code: CodeFailed, Message: ErrHandleNotPrepared.Error()}
	default:
		h.result, h.err = t.Transfer(ctx, h.desc)
	}
	h.done = true
}

// Result returns the outcome of the last Perform. The result is nil when the
// transfer failed before any metadata was collected.
func (h *Handle) Result() (*Result, error) { return h.result, h.err }

// Done reports whether Perform has completed since the last Configure.
func (h *Handle) Done() bool { return h.done }

// Close releases the handle. Closing twice is a no-op.
func (h *Handle) Close() {
	h.closed = true
	h.desc = nil
	h.result = nil
	h.err = nil
}

// Closed reports whether Close was called.
func (h *Handle) Closed() bool { return h.closed }
