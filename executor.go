package multireq

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/egorkaBurkenya/multireq-go/internal/logutil"
	"github.com/egorkaBurkenya/multireq-go/transport"
)

// ExecState tells whether an Executor is inside its scheduling loop.
type ExecState int

const (
	Idle ExecState = iota
	Running
)

// String returns "running" or "idle".
func (s ExecState) String() string {
	if s == Running {
		return "running"
	}
	return "idle"
}

// Execution describes the last Execute call.
type Execution struct {
	Duration  time.Duration
	Completed int
}

// ExecutorStats holds cumulative executor counters.
type ExecutorStats struct {
	Batches     uint64
	Completed   uint64
	Failed      uint64
	MaxInFlight uint64
}

// ExecutorStatsProvider exposes executor counters for external collectors.
type ExecutorStatsProvider interface {
	Stats() ExecutorStats
}

// Executor runs a backlog of requests with bounded concurrency over a
// shared transport. As each transfer finishes its request is completed
// (response built, events fired, handle closed) and the next request from
// the backlog takes the free slot.
//
// An Executor is driven from a single goroutine. Event handlers run on that
// goroutine and may add requests while a batch runs; such requests are kept
// for the next Execute call.
type Executor struct {
	cfg *config

	requests []*Request
	deferred []*Request
	common   map[string]any

	state ExecState
	last  Execution

	batches     atomic.Uint64
	completed   atomic.Uint64
	failed      atomic.Uint64
	maxInFlight atomic.Uint64
}

// Compile-time interface check.
var _ ExecutorStatsProvider = (*Executor)(nil)

// NewExecutor creates an Executor with the given options.
func NewExecutor(opts ...Option) *Executor {
	cfg := defaultConfig()
	for _, o := range opts {
		o(cfg)
	}
	cfg.logger = logutil.NoopIfNil(cfg.logger)
	if cfg.multiplexer == nil {
		cfg.multiplexer = transport.DefaultMultiplexer
	}
	return &Executor{cfg: cfg}
}

// AddRequest applies the common request options to r and appends it to the
// backlog. While a batch runs, r is held back until the batch is over.
func (e *Executor) AddRequest(r *Request) *Executor {
	if len(e.common) > 0 {
		applyCommonOptions(r, e.common, e.cfg.logger)
	}
	if e.state == Running {
		e.deferred = append(e.deferred, r)
		return e
	}
	e.requests = append(e.requests, r)
	return e
}

// SetCommonRequestOptions sets options applied to every request added
// afterwards. See applyCommonOptions for the accepted keys.
func (e *Executor) SetCommonRequestOptions(opts map[string]any) *Executor {
	e.common = maps.Clone(opts)
	return e
}

// CommonRequestOptions returns a copy of the common request options.
func (e *Executor) CommonRequestOptions() map[string]any { return maps.Clone(e.common) }

// SetConcurrentRequestsLimit sets the concurrency limit, at least 1.
func (e *Executor) SetConcurrentRequestsLimit(n int) *Executor {
	e.cfg.concurrency = max(1, n)
	return e
}

// ConcurrentRequestsLimit returns the concurrency limit.
func (e *Executor) ConcurrentRequestsLimit() int { return e.cfg.concurrency }

// SetRequestTimeout sets the bound, in seconds, of each wait for a
// finished transfer.
func (e *Executor) SetRequestTimeout(seconds int) *Executor {
	e.cfg.requestTimeout = time.Duration(max(0, seconds)) * time.Second
	return e
}

// IsRunning reports whether Execute is inside its scheduling loop.
func (e *Executor) IsRunning() bool { return e.state == Running }

// State returns the execution state.
func (e *Executor) State() ExecState { return e.state }

// RequestCount returns the number of requests not dispatched yet,
// including those added while a batch runs.
func (e *Executor) RequestCount() int { return len(e.requests) + len(e.deferred) }

// Reset empties the backlog and, with clearCommon, the common options.
// Called from a handler during a batch, it stops further dispatch; transfers
// already in flight still complete.
func (e *Executor) Reset(clearCommon bool) *Executor {
	e.requests = nil
	e.deferred = nil
	if clearCommon {
		e.common = nil
	}
	return e
}

// LastExecution describes the last Execute call.
func (e *Executor) LastExecution() Execution { return e.last }

// Stats returns a snapshot of executor counters.
func (e *Executor) Stats() ExecutorStats {
	return ExecutorStats{
		Batches:     e.batches.Load(),
		Completed:   e.completed.Load(),
		Failed:      e.failed.Load(),
		MaxInFlight: e.maxInFlight.Load(),
	}
}

// Execute runs the backlog and returns the number of completed requests.
//
// A single request is sent directly. Two or more go through the
// multiplexer. Transfer failures never abort a batch: they are reported by
// each request's response and events. The returned error is set only when a
// request cannot be prepared (for instance an empty URL) or its response
// cannot be built, which stops the batch and drops that request.
func (e *Executor) Execute(ctx context.Context) (int, error) {
	if e.state == Running {
		e.cfg.logger.Warn("execute called while a batch is running")
		return 0, nil
	}
	e.requests = append(e.requests, e.deferred...)
	e.deferred = nil

	switch len(e.requests) {
	case 0:
		e.last = Execution{}
		return 0, nil
	case 1:
		return e.executeSingle(ctx)
	}
	return e.executeMulti(ctx)
}

func (e *Executor) executeSingle(ctx context.Context) (int, error) {
	start := time.Now()
	r := e.requests[0]
	e.requests = e.requests[1:]
	e.batchStarted(1)

	if _, err := r.send(ctx, e.transport(r)); err != nil {
		return 0, err
	}
	e.requestCompleted(r)
	e.finish(start, 1)

	completed := 1
	if n := e.RequestCount(); n > 0 && e.state != Running {
		if n == 1 {
			e.cfg.logger.Warn("only one request queued, multiplexed execution needs at least two")
		}
		more, err := e.Execute(ctx)
		completed += more
		if err != nil {
			return completed, err
		}
	}
	return completed, nil
}

// inflightReq is a registered request and its position in the batch.
type inflightReq struct {
	req *Request
	seq int
}

func (e *Executor) executeMulti(ctx context.Context) (completed int, err error) {
	start := time.Now()
	e.batchStarted(len(e.requests))

	mux := e.cfg.multiplexer(ctx, e.batchTransport())
	inflight := make(map[uuid.UUID]inflightReq)
	seq := 0

	// A batch stopped by an error keeps its unfinished requests, in backlog
	// order, for the next Execute.
	defer func() {
		mux.Close()
		e.state = Idle
		slots := slices.SortedFunc(maps.Values(inflight), func(a, b inflightReq) int { return a.seq - b.seq })
		rest := make([]*Request, 0, len(slots)+len(e.requests)+len(e.deferred))
		for _, s := range slots {
			rest = append(rest, s.req)
		}
		rest = append(rest, e.requests...)
		e.requests = append(rest, e.deferred...)
		e.deferred = nil
		e.finish(start, completed)
	}()

	// e.requests holds the requests not dispatched yet, so RequestCount
	// falls as the batch drains and Reset from a handler stops refills.
	schedule := func() error {
		r := e.requests[0]
		e.requests = e.requests[1:]
		if err := r.Prepare(); err != nil {
			return fmt.Errorf("multireq: prepare %s: %w", r.url, err)
		}
		if err := mux.Register(r.handle); err != nil {
			return fmt.Errorf("multireq: register %s: %w", r.url, err)
		}
		inflight[r.handle.ID()] = inflightReq{req: r, seq: seq}
		seq++
		r.state = StateSent
		if n := uint64(len(inflight)); n > e.maxInFlight.Load() {
			e.maxInFlight.Store(n)
		}
		return nil
	}

	// The initial fan-out starts one transfer more than the limit unless
	// the strict limit is set; refills keep the in-flight count constant.
	fanout := e.cfg.concurrency + 1
	if e.cfg.strictLimit {
		fanout = e.cfg.concurrency
	}
	for len(e.requests) > 0 && len(inflight) < fanout {
		if err := schedule(); err != nil {
			return completed, err
		}
	}

	e.state = Running
	for {
		mux.Step()
		for _, h := range mux.PollFinished() {
			slot, ok := inflight[h.ID()]
			if !ok {
				mux.Deregister(h)
				continue
			}
			r := slot.req
			delete(inflight, h.ID())

			// before-send fires when the result is consumed, not at dispatch.
			r.Trigger(EventBeforeSend)
			res, terr := h.Result()
			if err := r.SetResponse(res, terr, true); err != nil {
				mux.Deregister(h)
				return completed, fmt.Errorf("multireq: complete %s: %w", r.url, err)
			}
			completed++
			e.requestCompleted(r)

			if len(e.requests) > 0 {
				if err := schedule(); err != nil {
					mux.Deregister(h)
					return completed, err
				}
			}
			mux.Deregister(h)
		}
		if len(inflight) == 0 {
			break
		}
		mux.Wait(e.cfg.requestTimeout)
	}
	return completed, nil
}

func (e *Executor) transport(r *Request) transport.Transport {
	if e.cfg.transport != nil {
		return e.cfg.transport
	}
	return r.transportOrDefault()
}

func (e *Executor) batchTransport() transport.Transport {
	if e.cfg.transport != nil {
		return e.cfg.transport
	}
	return DefaultTransport
}

func (e *Executor) batchStarted(n int) {
	e.batches.Add(1)
	e.cfg.logger.Debug("batch started", slog.Int("requests", n), slog.Int("concurrency", e.cfg.concurrency))
	if e.cfg.onBatchStart != nil {
		e.cfg.onBatchStart(n)
	}
}

func (e *Executor) requestCompleted(r *Request) {
	e.completed.Add(1)
	if resp := r.Response(); resp != nil && resp.HasError() {
		e.failed.Add(1)
	}
}

func (e *Executor) finish(start time.Time, completed int) {
	e.last = Execution{Duration: time.Since(start), Completed: completed}
	e.cfg.logger.Debug("batch finished", slog.Int("completed", completed), slog.Duration("elapsed", e.last.Duration))
	if e.cfg.onBatchComplete != nil {
		e.cfg.onBatchComplete(e.last)
	}
}
