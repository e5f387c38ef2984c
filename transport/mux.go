package transport

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Multiplexer drives many transfers at once while its owner consumes the
// outcomes on a single goroutine.
//
//   - Register starts the transfer of a configured handle.
//   - Step collects finished transfers without blocking and reports whether
//     any handle is still registered.
//   - PollFinished returns the handles collected by Step or Wait, in
//     completion order.
//   - Wait blocks until a transfer finishes or the timeout elapses.
//   - Deregister forgets a handle, aborting its transfer if still running.
type Multiplexer interface {
	Register(h *Handle) error
	Deregister(h *Handle)
	Step() bool
	PollFinished() []*Handle
	Wait(timeout time.Duration)
	Active() int
	Close()
}

// MultiplexerFactory builds a Multiplexer bound to ctx and t.
type MultiplexerFactory func(ctx context.Context, t Transport) Multiplexer

// Mux is the goroutine-backed Multiplexer: every registered handle is
// performed on its own goroutine and reported back over a channel.
// All methods must be called from the owning goroutine.
type Mux struct {
	ctx       context.Context
	cancel    context.CancelFunc
	transport Transport

	handles  map[uuid.UUID]*Handle
	cancels  map[uuid.UUID]context.CancelFunc
	running  int
	finished []*Handle

	done   chan *Handle
	stop   chan struct{}
	wg     sync.WaitGroup
	closed bool
}

var _ Multiplexer = (*Mux)(nil)

// NewMultiplexer returns a Mux performing transfers with t.
func NewMultiplexer(ctx context.Context, t Transport) *Mux {
	ctx, cancel := context.WithCancel(ctx)
	return &Mux{
		ctx:       ctx,
		cancel:    cancel,
		transport: t,
		handles:   make(map[uuid.UUID]*Handle),
		cancels:   make(map[uuid.UUID]context.CancelFunc),
		done:      make(chan *Handle),
		stop:      make(chan struct{}),
	}
}

// DefaultMultiplexer is the MultiplexerFactory producing a Mux.
func DefaultMultiplexer(ctx context.Context, t Transport) Multiplexer {
	return NewMultiplexer(ctx, t)
}

// Register starts performing h on its own goroutine. h must be prepared
// and not registered already.
func (m *Mux) Register(h *Handle) error {
	switch {
	case m.closed:
		return ErrMultiplexerClosed
	case h.Closed():
		return ErrHandleClosed
	case h.Descriptor() == nil:
		return ErrHandleNotPrepared
	}
	if _, ok := m.handles[h.ID()]; ok {
		return ErrAlreadyRegistered
	}

	ctx, cancel := context.WithCancel(m.ctx)
	m.handles[h.ID()] = h
	m.cancels[h.ID()] = cancel
	m.running++
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		h.Perform(ctx, m.transport)
		select {
		case m.done <- h:
		case <-m.stop:
		}
	}()
	return nil
}

// Deregister removes h. A transfer still running is cancelled.
func (m *Mux) Deregister(h *Handle) {
	id := h.ID()
	if cancel, ok := m.cancels[id]; ok {
		cancel()
		delete(m.cancels, id)
	}
	delete(m.handles, id)
}

// Step collects finished transfers without blocking and reports whether
// any handle is still registered.
func (m *Mux) Step() bool {
	for {
		select {
		case h := <-m.done:
			m.collect(h)
		default:
			return len(m.handles) > 0
		}
	}
}

// PollFinished returns the handles finished since the last call.
func (m *Mux) PollFinished() []*Handle {
	f := m.finished
	m.finished = nil
	return f
}

// Wait blocks until a transfer finishes or timeout elapses. A zero
// timeout waits without bound.
func (m *Mux) Wait(timeout time.Duration) {
	if len(m.finished) > 0 || m.running == 0 {
		return
	}
	if timeout <= 0 {
		m.collect(<-m.done)
		return
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case h := <-m.done:
		m.collect(h)
	case <-timer.C:
	}
}

// Active returns the number of registered handles, finished or not.
func (m *Mux) Active() int { return len(m.handles) }

// Close aborts running transfers and waits for their goroutines to exit.
func (m *Mux) Close() {
	if m.closed {
		return
	}
	m.closed = true
	m.cancel()
	close(m.stop)
	m.wg.Wait()
	m.handles = map[uuid.UUID]*Handle{}
	m.cancels = map[uuid.UUID]context.CancelFunc{}
	m.finished = nil
}

func (m *Mux) collect(h *Handle) {
	m.running--
	if _, ok := m.handles[h.ID()]; ok {
		m.finished = append(m.finished, h)
	}
}
