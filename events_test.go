package multireq

import (
	"errors"
	"strings"
	"testing"

	"github.com/egorkaBurkenya/multireq-go/response"
)

type countingHandler struct{ calls int }

func (h *countingHandler) Handle(response.Response, *Request, ...any) { h.calls++ }

func TestEventBusOrderAndArgs(t *testing.T) {
	bus := NewEventBus(nil)
	var got []string
	for _, name := range []string{"a", "b", "c"} {
		name := name
		if err := bus.On("custom", HandlerFunc(func(_ response.Response, _ *Request, args ...any) {
			got = append(got, name+args[0].(string))
		})); err != nil {
			t.Fatal(err)
		}
	}
	bus.Trigger("CUSTOM", nil, nil, "!")
	if strings.Join(got, ",") != "a!,b!,c!" {
		t.Fatalf("handlers must run in registration order, got %v", got)
	}
}

func TestEventBusOff(t *testing.T) {
	bus := NewEventBus(nil)
	h1, h2 := &countingHandler{}, &countingHandler{}
	bus.On(EventSuccess, h1)
	bus.On(EventSuccess, h2)

	bus.Off(EventSuccess, h1)
	bus.Off(EventSuccess, h1)
	bus.Off(EventError, h2)
	bus.Trigger(EventSuccess, nil, nil)

	if h1.calls != 0 || h2.calls != 1 {
		t.Fatalf("expected only h2 to run, got h1=%d h2=%d", h1.calls, h2.calls)
	}
	if n := len(bus.Handlers(EventSuccess)); n != 1 {
		t.Fatalf("expected one handler left, got %d", n)
	}
}

func TestEventBusNewHandlerDetach(t *testing.T) {
	bus := NewEventBus(nil)
	calls := 0
	h := NewHandler(func(response.Response, *Request, ...any) { calls++ })
	bus.On(EventComplete, h)
	bus.Trigger(EventComplete, nil, nil)
	bus.Off(EventComplete, h)
	bus.Trigger(EventComplete, nil, nil)
	if calls != 1 {
		t.Fatalf("expected one call, got %d", calls)
	}
}

func TestEventBusHandlerFuncCannotBeDetached(t *testing.T) {
	bus := NewEventBus(nil)
	calls := 0
	fn := HandlerFunc(func(response.Response, *Request, ...any) { calls++ })
	bus.On(EventComplete, fn)
	if err := bus.Off(EventComplete, fn); !errors.Is(err, ErrHandlerNotDetachable) || !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("expected a not detachable error, got %v", err)
	}
	bus.Trigger(EventComplete, nil, nil)
	if calls != 1 {
		t.Fatalf("function handlers are not comparable and stay registered, got %d calls", calls)
	}
}

func TestRequestOffHandlerFuncIsLogged(t *testing.T) {
	var logs strings.Builder
	req := New("http://example.com")
	req.SetLogger(recordLoggerTo(&logs))
	fn := HandlerFunc(func(response.Response, *Request, ...any) {})
	req.On(EventSuccess, fn).Off(EventSuccess, fn)
	if len(req.Events().Handlers(EventSuccess)) != 1 {
		t.Fatal("a function handler stays registered")
	}
	if !strings.Contains(logs.String(), "event handler not detached") || !strings.Contains(logs.String(), "NewHandler") {
		t.Fatalf("expected a diagnostic, got %q", logs.String())
	}

	h := NewHandler(func(response.Response, *Request, ...any) {})
	logs.Reset()
	req.On(EventSuccess, h).Off(EventSuccess, h)
	if len(req.Events().Handlers(EventSuccess)) != 1 || logs.Len() != 0 {
		t.Fatalf("NewHandler registrations detach quietly, log %q", logs.String())
	}
}

func TestEventBusNilHandler(t *testing.T) {
	bus := NewEventBus(nil)
	if err := bus.On(EventSuccess, nil); !errors.Is(err, ErrNilHandler) {
		t.Fatalf("expected nil handler error, got %v", err)
	}
	var fn HandlerFunc
	if err := bus.On(EventSuccess, fn); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("expected invalid argument for nil func, got %v", err)
	}
	var ptr *countingHandler
	if err := bus.On(EventSuccess, ptr); !errors.Is(err, ErrNilHandler) {
		t.Fatalf("expected nil handler error for nil pointer, got %v", err)
	}
	if len(bus.Handlers(EventSuccess)) != 0 {
		t.Fatal("nil handlers must not be registered")
	}
}

func TestEventBusMutationDuringTrigger(t *testing.T) {
	bus := NewEventBus(nil)
	late := &countingHandler{}
	bus.On(EventSuccess, HandlerFunc(func(response.Response, *Request, ...any) {
		bus.On(EventSuccess, late)
	}))
	bus.Trigger(EventSuccess, nil, nil)
	if late.calls != 0 {
		t.Fatal("handlers added during delivery run from the next trigger")
	}
	bus.Trigger(EventSuccess, nil, nil)
	if late.calls != 1 {
		t.Fatalf("expected late handler to run once, got %d", late.calls)
	}
}

func TestNormalizeEventKind(t *testing.T) {
	tests := map[string]string{
		"beforeSend":  EventBeforeSend,
		"before_send": EventBeforeSend,
		"before-send": EventBeforeSend,
		"Complete":    EventComplete,
		"success":     EventSuccess,
	}
	for in, want := range tests {
		if got := NormalizeEventKind(in); got != want {
			t.Errorf("NormalizeEventKind(%q) = %q, want %q", in, got, want)
		}
	}
	if len(AvailableEventKinds()) != 4 {
		t.Fatal("expected four built-in event kinds")
	}
}

func TestRequestOnNilHandlerIsLogged(t *testing.T) {
	var logs strings.Builder
	req := New("http://example.com")
	req.SetLogger(recordLoggerTo(&logs))
	req.On(EventError, nil)
	if len(req.Events().Handlers(EventError)) != 0 {
		t.Fatal("nil handler must be skipped")
	}
	if !strings.Contains(logs.String(), "invalid event handler") {
		t.Fatalf("expected a diagnostic, got %q", logs.String())
	}
}
