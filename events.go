package multireq

import (
	"log/slog"
	"reflect"
	"strings"
	"unicode"

	"github.com/egorkaBurkenya/multireq-go/internal/logutil"
	"github.com/egorkaBurkenya/multireq-go/response"
)

// Built-in event kinds.
const (
	EventBeforeSend = "before-send"
	EventSuccess    = "success"
	EventError      = "error"
	EventComplete   = "complete"
)

// AvailableEventKinds returns the built-in event kinds with a short
// description of each.
func AvailableEventKinds() map[string]string {
	return map[string]string{
		EventBeforeSend: "Before send",
		EventSuccess:    "Success. Response has no error",
		EventError:      "Error. Response has an error",
		EventComplete:   "Complete",
	}
}

// NormalizeEventKind lowercases kind and turns camelCase or snake_case
// spellings into the dashed form, so "beforeSend" and "before_send" both
// become "before-send".
func NormalizeEventKind(kind string) string {
	var sb strings.Builder
	for i, r := range strings.TrimSpace(kind) {
		switch {
		case r == '_' || r == ' ':
			sb.WriteByte('-')
		case unicode.IsUpper(r):
			if i > 0 {
				sb.WriteByte('-')
			}
			sb.WriteRune(unicode.ToLower(r))
		default:
			sb.WriteRune(r)
		}
	}
	return strings.ReplaceAll(sb.String(), "--", "-")
}

// Handler receives an event. resp is nil for events fired before a response
// exists. args carries the custom arguments given to Trigger.
type Handler interface {
	Handle(resp response.Response, req *Request, args ...any)
}

// HandlerFunc adapts a function to Handler. Function values cannot be
// compared, so a HandlerFunc cannot be detached with Off; wrap it with
// NewHandler to get a detachable handler.
type HandlerFunc func(resp response.Response, req *Request, args ...any)

// Handle calls f.
func (f HandlerFunc) Handle(resp response.Response, req *Request, args ...any) {
	f(resp, req, args...)
}

type funcHandler struct{ fn HandlerFunc }

func (h *funcHandler) Handle(resp response.Response, req *Request, args ...any) {
	h.fn(resp, req, args...)
}

// NewHandler wraps fn in a handler with pointer identity, usable with Off.
func NewHandler(fn HandlerFunc) Handler {
	return &funcHandler{fn: fn}
}

// EventBus maps event kinds to ordered handler lists. Handlers run
// synchronously on the goroutine calling Trigger, in registration order.
type EventBus struct {
	handlers map[string][]Handler
	logger   *slog.Logger
}

// NewEventBus returns an empty bus. A nil logger discards diagnostics.
func NewEventBus(logger *slog.Logger) *EventBus {
	return &EventBus{
		handlers: make(map[string][]Handler),
		logger:   logutil.NoopIfNil(logger),
	}
}

// On appends h to the handlers of kind.
func (b *EventBus) On(kind string, h Handler) error {
	if isNilHandler(h) {
		return ErrNilHandler
	}
	k := strings.ToLower(kind)
	b.handlers[k] = append(b.handlers[k], h)
	return nil
}

// Off removes the first registration of h for kind. Removing a handler that
// is not registered is a no-op. Handlers of a non-comparable type, such as a
// HandlerFunc, cannot be found again and yield ErrHandlerNotDetachable.
func (b *EventBus) Off(kind string, h Handler) error {
	if h != nil && !reflect.TypeOf(h).Comparable() {
		return ErrHandlerNotDetachable
	}
	k := strings.ToLower(kind)
	list := b.handlers[k]
	for i, cur := range list {
		if sameHandler(cur, h) {
			list = append(list[:i:i], list[i+1:]...)
			break
		}
	}
	if len(list) == 0 {
		delete(b.handlers, k)
		return nil
	}
	b.handlers[k] = list
	return nil
}

// Trigger calls the handlers of kind. Handlers added or removed while the
// event is being delivered take effect from the next Trigger.
func (b *EventBus) Trigger(kind string, resp response.Response, req *Request, args ...any) {
	list := b.handlers[strings.ToLower(kind)]
	if len(list) == 0 {
		return
	}
	b.logger.Debug("trigger event", slog.String("event", kind), slog.Int("handlers", len(list)))
	for _, h := range append([]Handler(nil), list...) {
		h.Handle(resp, req, args...)
	}
}

// Handlers returns a copy of the handlers registered for kind.
func (b *EventBus) Handlers(kind string) []Handler {
	return append([]Handler(nil), b.handlers[strings.ToLower(kind)]...)
}

func (b *EventBus) clone(logger *slog.Logger) *EventBus {
	c := NewEventBus(logger)
	for k, list := range b.handlers {
		c.handlers[k] = append([]Handler(nil), list...)
	}
	return c
}

func isNilHandler(h Handler) bool {
	if h == nil {
		return true
	}
	v := reflect.ValueOf(h)
	switch v.Kind() {
	case reflect.Func, reflect.Pointer, reflect.Map, reflect.Interface, reflect.Slice, reflect.Chan:
		return v.IsNil()
	}
	return false
}

func sameHandler(a, b Handler) bool {
	if a == nil || b == nil {
		return false
	}
	ta, tb := reflect.TypeOf(a), reflect.TypeOf(b)
	if ta != tb || !ta.Comparable() {
		return false
	}
	return a == b
}
