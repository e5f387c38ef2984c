package multireq

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/egorkaBurkenya/multireq-go/response"
	"github.com/egorkaBurkenya/multireq-go/transport"
)

// fakeTransport answers every transfer after delay and tracks how many
// transfers run at once. URLs containing "fail" report a connect error.
type fakeTransport struct {
	delay time.Duration

	mu       sync.Mutex
	inflight int
	peak     int
	seen     []*transport.Descriptor
}

func (f *fakeTransport) Transfer(ctx context.Context, d *transport.Descriptor) (*transport.Result, error) {
	f.mu.Lock()
	f.inflight++
	f.peak = max(f.peak, f.inflight)
	f.seen = append(f.seen, d)
	f.mu.Unlock()
	defer func() {
		f.mu.Lock()
		f.inflight--
		f.mu.Unlock()
	}()

	select {
	case <-time.After(f.delay):
	case <-ctx.Done():
		return nil, &transport.Error{Code: transport.CodeAborted, Message: ctx.Err().Error()}
	}
	if strings.Contains(d.URL, "fail") {
		return nil, &transport.Error{Code: transport.CodeCouldNotConnect, Message: "connection refused"}
	}
	return &transport.Result{Body: []byte(d.URL), Info: transport.Info{URL: d.URL, StatusCode: 200}}, nil
}

func (f *fakeTransport) maxConcurrent() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.peak
}

// countingMultiplexer wraps the default multiplexer and counts factory calls
// and registrations.
type countingMultiplexer struct {
	transport.Multiplexer
	registered *atomic.Int32
}

func (m countingMultiplexer) Register(h *transport.Handle) error {
	m.registered.Add(1)
	return m.Multiplexer.Register(h)
}

type muxCounter struct {
	built      atomic.Int32
	registered atomic.Int32
}

func (c *muxCounter) factory(ctx context.Context, t transport.Transport) transport.Multiplexer {
	c.built.Add(1)
	return countingMultiplexer{Multiplexer: transport.DefaultMultiplexer(ctx, t), registered: &c.registered}
}

func addRequests(e *Executor, n int, prefix string) []*Request {
	reqs := make([]*Request, n)
	for i := range reqs {
		reqs[i] = New(fmt.Sprintf("http://%s-%d.test/", prefix, i))
		e.AddRequest(reqs[i])
	}
	return reqs
}

func TestExecuteEmpty(t *testing.T) {
	var mc muxCounter
	e := NewExecutor(WithMultiplexer(mc.factory), WithLogger(nil))
	n, err := e.Execute(context.Background())
	if err != nil || n != 0 {
		t.Fatalf("expected 0, nil; got %d, %v", n, err)
	}
	if e.IsRunning() || mc.built.Load() != 0 {
		t.Fatal("an empty backlog must not start a batch")
	}
}

func TestExecuteSingleSkipsMultiplexer(t *testing.T) {
	var mc muxCounter
	ft := &fakeTransport{}
	e := NewExecutor(WithTransport(ft), WithMultiplexer(mc.factory), WithLogger(nil))
	reqs := addRequests(e, 1, "single")

	n, err := e.Execute(context.Background())
	if err != nil || n != 1 {
		t.Fatalf("expected 1, nil; got %d, %v", n, err)
	}
	if mc.built.Load() != 0 {
		t.Fatal("a single request must be sent directly")
	}
	if reqs[0].Response() == nil || reqs[0].Response().String() != "http://single-0.test/" {
		t.Fatalf("unexpected response %v", reqs[0].Response())
	}
	if e.RequestCount() != 0 {
		t.Fatalf("backlog must be drained, %d left", e.RequestCount())
	}
}

func TestExecuteBatchBoundsConcurrency(t *testing.T) {
	tests := []struct {
		name   string
		strict bool
		limit  int
		want   int
	}{
		{"default", false, 3, 4},
		{"strict", true, 3, 3},
		{"limit one", true, 1, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var mc muxCounter
			ft := &fakeTransport{delay: 20 * time.Millisecond}
			opts := []Option{WithTransport(ft), WithMultiplexer(mc.factory), WithConcurrency(tt.limit), WithLogger(nil)}
			if tt.strict {
				opts = append(opts, WithStrictConcurrencyLimit())
			}
			e := NewExecutor(opts...)

			var completes atomic.Int32
			reqs := addRequests(e, 12, "batch")
			for _, r := range reqs {
				r.SetCallback(HandlerFunc(func(response.Response, *Request, ...any) { completes.Add(1) }))
			}

			n, err := e.Execute(context.Background())
			if err != nil {
				t.Fatal(err)
			}
			if n != 12 || completes.Load() != 12 {
				t.Fatalf("expected 12 completions, got %d (events %d)", n, completes.Load())
			}
			if got := ft.maxConcurrent(); got > tt.want {
				t.Fatalf("expected at most %d concurrent transfers, got %d", tt.want, got)
			}
			if got := e.Stats().MaxInFlight; got > uint64(tt.want) {
				t.Fatalf("expected max in flight <= %d, got %d", tt.want, got)
			}
			if mc.built.Load() != 1 || mc.registered.Load() != 12 {
				t.Fatalf("expected one multiplexer with 12 registrations, got %d/%d", mc.built.Load(), mc.registered.Load())
			}
			for _, r := range reqs {
				if r.State() != StateClosed || r.Response() == nil {
					t.Fatalf("request %s not completed", r)
				}
			}
		})
	}
}

func TestExecuteFailuresDoNotAbortBatch(t *testing.T) {
	ft := &fakeTransport{}
	e := NewExecutor(WithTransport(ft), WithConcurrency(2), WithLogger(nil))
	ok := addRequests(e, 3, "ok")
	bad := addRequests(e, 2, "fail")

	n, err := e.Execute(context.Background())
	if err != nil || n != 5 {
		t.Fatalf("expected 5, nil; got %d, %v", n, err)
	}
	for _, r := range ok {
		if r.Response().HasError() {
			t.Fatalf("%s: unexpected error %v", r, r.Response().Err())
		}
	}
	for _, r := range bad {
		if !r.Response().HasError() || r.Response().Err().Code != transport.CodeCouldNotConnect {
			t.Fatalf("%s: expected connect error, got %v", r, r.Response().Err())
		}
	}
	st := e.Stats()
	if st.Completed != 5 || st.Failed != 2 || st.Batches != 1 {
		t.Fatalf("unexpected stats %+v", st)
	}
}

func TestAddRequestDuringBatchIsDeferred(t *testing.T) {
	ft := &fakeTransport{}
	var logs bytes.Buffer
	e := NewExecutor(WithTransport(ft), WithLogger(recordLogger(&logs)))
	reqs := addRequests(e, 2, "first")

	late := New("http://late.test/")
	var running bool
	var reentrant int
	reqs[0].SetCallback(HandlerFunc(func(response.Response, *Request, ...any) {
		running = e.IsRunning()
		e.AddRequest(late)
		reentrant, _ = e.Execute(context.Background())
	}))

	n, err := e.Execute(context.Background())
	if err != nil || n != 2 {
		t.Fatalf("expected 2, nil; got %d, %v", n, err)
	}
	if !running {
		t.Fatal("executor must report running inside handlers")
	}
	if reentrant != 0 || !strings.Contains(logs.String(), "execute called while a batch is running") {
		t.Fatalf("reentrant execute must be refused, got %d", reentrant)
	}
	if late.Response() != nil || e.RequestCount() != 1 {
		t.Fatalf("late request must wait for the next run, backlog %d", e.RequestCount())
	}

	n, err = e.Execute(context.Background())
	if err != nil || n != 1 || late.Response() == nil {
		t.Fatalf("expected the late request to run, got %d, %v", n, err)
	}
}

func TestExecutePrepareErrorStopsBatch(t *testing.T) {
	ft := &fakeTransport{delay: 50 * time.Millisecond}
	e := NewExecutor(WithTransport(ft), WithConcurrency(5), WithLogger(nil))
	e.AddRequest(New("http://a.test/"))
	e.AddRequest(New(""))
	e.AddRequest(New("http://b.test/"))

	n, err := e.Execute(context.Background())
	if !errors.Is(err, ErrEmptyURL) {
		t.Fatalf("expected empty url error, got %v", err)
	}
	if n != 0 || e.IsRunning() {
		t.Fatalf("unexpected completed %d running %v", n, e.IsRunning())
	}
	if e.RequestCount() != 2 {
		t.Fatalf("valid requests must stay queued, got %d", e.RequestCount())
	}
}

func TestCommonRequestOptionsApplied(t *testing.T) {
	ft := &fakeTransport{}
	e := NewExecutor(WithTransport(ft), WithLogger(nil))
	e.SetCommonRequestOptions(map[string]any{"userAgent": "batch-agent", "timeout": 5})
	addRequests(e, 3, "common")

	if _, err := e.Execute(context.Background()); err != nil {
		t.Fatal(err)
	}
	ft.mu.Lock()
	defer ft.mu.Unlock()
	if len(ft.seen) != 3 {
		t.Fatalf("expected 3 transfers, got %d", len(ft.seen))
	}
	for _, d := range ft.seen {
		if d.UserAgent != "batch-agent" || d.Timeout != 5*time.Second {
			t.Fatalf("common options not applied: %+v", d)
		}
	}

	e.Reset(true)
	if e.CommonRequestOptions() != nil || e.RequestCount() != 0 {
		t.Fatal("reset must clear the backlog and common options")
	}
}

func TestBatchCallbacksAndLastExecution(t *testing.T) {
	var started int
	var done Execution
	e := NewExecutor(
		WithTransport(&fakeTransport{delay: time.Millisecond}),
		WithLogger(nil),
		WithOnBatchStart(func(n int) { started = n }),
		WithOnBatchComplete(func(x Execution) { done = x }),
	)
	addRequests(e, 4, "cb")

	if _, err := e.Execute(context.Background()); err != nil {
		t.Fatal(err)
	}
	if started != 4 || done.Completed != 4 {
		t.Fatalf("unexpected callbacks: started %d, done %+v", started, done)
	}
	if e.LastExecution() != done || done.Duration <= 0 {
		t.Fatalf("unexpected last execution %+v", e.LastExecution())
	}
}

func TestExecutorSetters(t *testing.T) {
	e := NewExecutor()
	if e.ConcurrentRequestsLimit() != 5 {
		t.Fatalf("default limit %d", e.ConcurrentRequestsLimit())
	}
	e.SetConcurrentRequestsLimit(0)
	if e.ConcurrentRequestsLimit() != 1 {
		t.Fatalf("limit must be at least 1, got %d", e.ConcurrentRequestsLimit())
	}
	e.SetRequestTimeout(2)
	if e.cfg.requestTimeout != 2*time.Second {
		t.Fatalf("request timeout %v", e.cfg.requestTimeout)
	}
	if e.State() != Idle || e.State().String() != "idle" {
		t.Fatalf("unexpected state %s", e.State())
	}
}

func TestExecuteOverHTTP(t *testing.T) {
	var hits atomic.Int32
	srv := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		time.Sleep(5 * time.Millisecond)
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"path":%q}`, r.URL.Path)
	})

	e := NewExecutor(WithTransport(transport.NewHTTP()), WithConcurrency(2), WithLogger(nil))
	e.SetCommonRequestOptions(map[string]any{"responseType": "json"})
	reqs := make([]*Request, 6)
	for i := range reqs {
		reqs[i] = New(fmt.Sprintf("%s/item/%d", srv.URL, i))
		e.AddRequest(reqs[i])
	}

	n, err := e.Execute(context.Background())
	if err != nil || n != 6 {
		t.Fatalf("expected 6, nil; got %d, %v", n, err)
	}
	if hits.Load() != 6 {
		t.Fatalf("expected 6 hits, got %d", hits.Load())
	}
	for i, r := range reqs {
		m, err := r.Response().(*response.JSON).ToMap()
		if err != nil {
			t.Fatal(err)
		}
		if m["path"] != fmt.Sprintf("/item/%d", i) {
			t.Fatalf("request %d got %v", i, m)
		}
	}
}

func TestRequestCountFallsDuringBatch(t *testing.T) {
	ft := &fakeTransport{}
	e := NewExecutor(WithTransport(ft), WithConcurrency(1), WithStrictConcurrencyLimit(), WithLogger(nil))
	var seen []int
	record := HandlerFunc(func(response.Response, *Request, ...any) { seen = append(seen, e.RequestCount()) })
	for _, r := range addRequests(e, 4, "count") {
		r.On(EventComplete, record)
	}

	n, err := e.Execute(context.Background())
	if err != nil || n != 4 {
		t.Fatalf("expected 4, nil; got %d, %v", n, err)
	}
	want := []int{3, 2, 1, 0}
	if fmt.Sprint(seen) != fmt.Sprint(want) {
		t.Fatalf("RequestCount in handlers = %v, want %v", seen, want)
	}
}

func TestResetDuringBatchStopsDispatch(t *testing.T) {
	ft := &fakeTransport{}
	e := NewExecutor(WithTransport(ft), WithConcurrency(1), WithStrictConcurrencyLimit(), WithLogger(nil))
	reqs := addRequests(e, 5, "reset")
	reqs[0].SetCallback(HandlerFunc(func(response.Response, *Request, ...any) { e.Reset(false) }))

	n, err := e.Execute(context.Background())
	if err != nil || n != 1 {
		t.Fatalf("expected 1, nil; got %d, %v", n, err)
	}
	if e.RequestCount() != 0 {
		t.Fatalf("reset must survive the end of the batch, %d left", e.RequestCount())
	}
	for _, r := range reqs[1:] {
		if r.Response() != nil {
			t.Fatalf("%s was dispatched after reset", r.URL())
		}
	}
}

func TestExecuteSingleDrainsAddedRequests(t *testing.T) {
	ft := &fakeTransport{}
	var logs bytes.Buffer
	e := NewExecutor(WithTransport(ft), WithLogger(recordLogger(&logs)))
	first := addRequests(e, 1, "single")[0]
	a, b := New("http://added-a.test/"), New("http://added-b.test/")
	first.SetCallback(HandlerFunc(func(response.Response, *Request, ...any) {
		if e.IsRunning() {
			t.Error("a single send must not mark the executor running")
		}
		e.AddRequest(a).AddRequest(b)
	}))

	n, err := e.Execute(context.Background())
	if err != nil || n != 3 {
		t.Fatalf("expected 3, nil; got %d, %v", n, err)
	}
	if a.Response() == nil || b.Response() == nil {
		t.Fatal("requests added during a single send must run in the same Execute")
	}
	if e.RequestCount() != 0 {
		t.Fatalf("backlog must be drained, %d left", e.RequestCount())
	}

	// One added request takes the single path again and is reported.
	c := New("http://added-c.test/")
	solo := New("http://solo.test/")
	solo.SetCallback(HandlerFunc(func(response.Response, *Request, ...any) { e.AddRequest(c) }))
	e.AddRequest(solo)
	n, err = e.Execute(context.Background())
	if err != nil || n != 2 || c.Response() == nil {
		t.Fatalf("expected 2, nil with c sent; got %d, %v", n, err)
	}
	if !strings.Contains(logs.String(), "only one request queued") {
		t.Fatalf("expected a diagnostic for the lone follow-up request:\n%s", logs.String())
	}
}

func TestExecuteDropsRequestWithBrokenFactory(t *testing.T) {
	ft := &fakeTransport{}
	e := NewExecutor(WithTransport(ft), WithConcurrency(5), WithLogger(nil))
	reqs := addRequests(e, 3, "factory")
	if err := reqs[1].SetResponseFactory(func() response.Response { return nil }); err != nil {
		t.Fatal(err)
	}

	n, err := e.Execute(context.Background())
	if !errors.Is(err, ErrInvalidResponseFactory) || !errors.Is(err, ErrConfiguration) {
		t.Fatalf("expected a response factory error, got %v", err)
	}
	if e.RequestCount() != 2-n {
		t.Fatalf("only unfinished valid requests may stay queued: completed %d, backlog %d", n, e.RequestCount())
	}

	more, err := e.Execute(context.Background())
	if err != nil {
		t.Fatalf("the failing request must not be retried, got %v", err)
	}
	if n+more != 2 || reqs[0].Response() == nil || reqs[2].Response() == nil {
		t.Fatalf("valid requests must complete across runs, got %d+%d", n, more)
	}
}
