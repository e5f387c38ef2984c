package multireq

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"strings"

	"github.com/egorkaBurkenya/multireq-go/internal/logutil"
	"github.com/egorkaBurkenya/multireq-go/response"
	"github.com/egorkaBurkenya/multireq-go/transport"
)

// HTTP methods with dedicated transfer options. Any other method is sent as
// a custom verb.
const (
	MethodGet    = "GET"
	MethodPost   = "POST"
	MethodPut    = "PUT"
	MethodDelete = "DELETE"
	MethodHead   = "HEAD"
)

// State is a point in the request lifecycle.
type State int

const (
	StateCreated State = iota
	StatePrepared
	StateSent
	StateCompleted
	StateClosed
)

// String returns the lower-case state name.
func (s State) String() string {
	switch s {
	case StatePrepared:
		return "prepared"
	case StateSent:
		return "sent"
	case StateCompleted:
		return "completed"
	case StateClosed:
		return "closed"
	}
	return "created"
}

// DefaultTransport performs transfers for requests without their own
// transport.
var DefaultTransport transport.Transport = transport.NewHTTP()

// Request is a configurable HTTP request with an event bus and a lifecycle:
// Created, Prepared, Sent, Completed and finally Closed once its transfer
// handle is released.
//
// Setters return the request for chaining. A Request is not safe for
// concurrent use.
type Request struct {
	url        string
	method     string
	headers    []string
	postParams map[string]any
	files      []attachment
	cookies    map[string]string

	referer        string
	userAgent      string
	proxy          transport.ProxyConfig
	timeout        int
	connectTimeout int
	allowRedirect  bool
	redirectLimit  int
	cookieFile     string
	cookieWritable bool
	options        map[transport.Option]any

	responseFactory response.Factory
	responseOptions []response.Option
	customData      map[string]any

	events    *EventBus
	logger    *slog.Logger
	transport transport.Transport

	state  State
	handle *transport.Handle
	desc   *transport.Descriptor
	resp   response.Response
}

// New returns a GET request for url.
func New(url string) *Request {
	r := &Request{
		url:             url,
		method:          MethodGet,
		postParams:      make(map[string]any),
		cookies:         make(map[string]string),
		options:         make(map[transport.Option]any),
		customData:      make(map[string]any),
		allowRedirect:   true,
		responseFactory: response.KindPlain.Factory(),
		logger:          slog.Default(),
	}
	r.events = NewEventBus(r.logger)
	r.Init()
	return r
}

// NewRequest returns a request for url with the given method, body
// parameters and complete handler. params and callback may be nil.
func NewRequest(url, method string, params map[string]any, callback Handler) *Request {
	r := New(url).SetMethod(method)
	if params != nil {
		r.SetPostParams(params)
	}
	if callback != nil {
		r.SetCallback(callback)
	}
	return r
}

// Init gives the request a fresh transfer handle and drops any response,
// returning it to Created. It reopens a closed request.
func (r *Request) Init() *Request {
	if r.handle != nil {
		r.handle.Close()
	}
	r.handle = transport.NewHandle()
	r.desc = nil
	r.resp = nil
	r.state = StateCreated
	return r
}

// Clone returns a copy of the configuration and event handlers with a
// fresh transfer handle and no response.
func (r *Request) Clone() *Request {
	c := *r
	c.headers = append([]string(nil), r.headers...)
	c.postParams = maps.Clone(r.postParams)
	c.files = append([]attachment(nil), r.files...)
	c.cookies = maps.Clone(r.cookies)
	c.options = maps.Clone(r.options)
	c.customData = maps.Clone(r.customData)
	c.responseOptions = append([]response.Option(nil), r.responseOptions...)
	c.events = r.events.clone(r.logger)
	c.handle = nil
	c.Init()
	return &c
}

// State returns the lifecycle state.
func (r *Request) State() State { return r.state }

// Handle returns the transfer handle owned by the request.
func (r *Request) Handle() *transport.Handle { return r.handle }

// Descriptor returns the descriptor computed by the last Prepare.
func (r *Request) Descriptor() *transport.Descriptor { return r.desc }

// Response returns the response of the last completed transfer, or nil.
func (r *Request) Response() response.Response { return r.resp }

// SetURL sets the target URL.
func (r *Request) SetURL(url string) *Request {
	r.url = url
	return r
}

// URL returns the target URL.
func (r *Request) URL() string { return r.url }

// SetMethod sets the HTTP method. It is uppercased; empty means GET.
func (r *Request) SetMethod(method string) *Request {
	method = strings.ToUpper(strings.TrimSpace(method))
	if method == "" {
		method = MethodGet
	}
	r.method = method
	return r
}

// Method returns the configured HTTP method.
func (r *Request) Method() string { return r.method }

// SetHeaders replaces the header lines ("Name: Value").
func (r *Request) SetHeaders(lines ...string) *Request {
	r.headers = append([]string(nil), lines...)
	return r
}

// AddHeaders puts lines in front of the existing headers. Existing lines
// with the same header name are dropped.
func (r *Request) AddHeaders(lines ...string) *Request {
	names := make(map[string]bool, len(lines))
	for _, l := range lines {
		names[headerName(l)] = true
	}
	merged := append([]string(nil), lines...)
	for _, l := range r.headers {
		if !names[headerName(l)] {
			merged = append(merged, l)
		}
	}
	r.headers = merged
	return r
}

// Headers returns a copy of the "Name: value" header lines.
func (r *Request) Headers() []string { return append([]string(nil), r.headers...) }

// SetPostParams replaces the body parameters. Values may be scalars, nested
// maps, slices or structs; they are flattened to "parent[child]" keys.
func (r *Request) SetPostParams(params map[string]any) *Request {
	r.postParams = maps.Clone(params)
	if r.postParams == nil {
		r.postParams = make(map[string]any)
	}
	return r
}

// AddPostParams merges params into the body parameters; params win.
func (r *Request) AddPostParams(params map[string]any) *Request {
	maps.Copy(r.postParams, params)
	return r
}

// PostParams returns a copy of the body parameters.
func (r *Request) PostParams() map[string]any { return maps.Clone(r.postParams) }

// SetCookies replaces the cookies sent with the request.
func (r *Request) SetCookies(cookies map[string]string) *Request {
	r.cookies = maps.Clone(cookies)
	if r.cookies == nil {
		r.cookies = make(map[string]string)
	}
	return r
}

// AddCookies merges cookies into the request cookies; cookies win.
func (r *Request) AddCookies(cookies map[string]string) *Request {
	maps.Copy(r.cookies, cookies)
	return r
}

// Cookies returns a copy of the request cookies.
func (r *Request) Cookies() map[string]string { return maps.Clone(r.cookies) }

// SetOptions replaces the raw transport options. Raw options override the
// values computed from the other settings.
func (r *Request) SetOptions(opts map[transport.Option]any) *Request {
	r.options = maps.Clone(opts)
	if r.options == nil {
		r.options = make(map[transport.Option]any)
	}
	return r
}

// AddOptions merges raw transport options; opts win.
func (r *Request) AddOptions(opts map[transport.Option]any) *Request {
	maps.Copy(r.options, opts)
	return r
}

// Options returns a copy of the raw transfer options set on the request.
func (r *Request) Options() map[transport.Option]any { return maps.Clone(r.options) }

// SetTimeout sets the whole-transfer timeout in seconds; 0 disables it.
func (r *Request) SetTimeout(seconds int) *Request {
	r.timeout = max(0, seconds)
	return r
}

// SetConnectionTimeout sets the connect timeout in seconds; 0 disables it.
func (r *Request) SetConnectionTimeout(seconds int) *Request {
	r.connectTimeout = max(0, seconds)
	return r
}

// SetAllowRedirect enables or disables following redirects.
func (r *Request) SetAllowRedirect(allow bool) *Request {
	r.allowRedirect = allow
	return r
}

// SetRedirectLimit bounds the number of redirects followed; 0 is unlimited.
func (r *Request) SetRedirectLimit(limit int) *Request {
	r.redirectLimit = max(0, limit)
	return r
}

// SetRefererURL sets the Referer header.
func (r *Request) SetRefererURL(url string) *Request {
	r.referer = url
	return r
}

// SetUserAgent sets the User-Agent header.
func (r *Request) SetUserAgent(ua string) *Request {
	r.userAgent = ua
	return r
}

// SetProxy routes the request through host:port. A zero port keeps the
// port given in host or falls back to 1080.
func (r *Request) SetProxy(host string, port int, typ transport.ProxyType) *Request {
	r.proxy.Host = host
	r.proxy.Port = port
	r.proxy.Type = typ
	return r
}

// SetProxyUserPwd sets the proxy credentials.
func (r *Request) SetProxyUserPwd(user, password string) *Request {
	r.proxy.UserPwd = user + ":" + password
	return r
}

// SetCookieFile reads cookies from a Netscape cookie file. With writable
// set, cookies received are written back to it. An unusable path is logged
// and ignored.
func (r *Request) SetCookieFile(path string, writable bool) *Request {
	if err := checkCookieFile(path, writable); err != nil {
		r.logger.Warn("ignoring cookie file", slog.String("url", r.url), slog.String("path", path), slog.Any("error", err))
		return r
	}
	r.cookieFile = path
	r.cookieWritable = writable
	return r
}

// SetCustomData attaches caller data to the request; it is not sent.
func (r *Request) SetCustomData(data map[string]any) *Request {
	r.customData = maps.Clone(data)
	if r.customData == nil {
		r.customData = make(map[string]any)
	}
	return r
}

// CustomData returns the caller data attached with SetCustomData. The map
// is shared, not copied.
func (r *Request) CustomData() map[string]any { return r.customData }

// SetResponseType selects a built-in response variant by name (json, xml,
// text, plain, default). Unknown names are logged and select plain.
func (r *Request) SetResponseType(name string) *Request {
	kind, err := response.ParseKind(name)
	if err != nil {
		r.logger.Warn("unsupported response type, using plain", slog.String("url", r.url), slog.Any("error", err))
	}
	r.responseFactory = kind.Factory()
	return r
}

// SetResponseFactory installs a custom response constructor.
func (r *Request) SetResponseFactory(f response.Factory) error {
	if f == nil {
		return ErrInvalidResponseFactory
	}
	r.responseFactory = f
	return nil
}

// SetResponseOptions sets options applied to every new response before Init.
func (r *Request) SetResponseOptions(opts ...response.Option) *Request {
	r.responseOptions = append([]response.Option(nil), opts...)
	return r
}

// SetLogger sets the diagnostics logger. nil discards diagnostics.
func (r *Request) SetLogger(l *slog.Logger) *Request {
	r.logger = logutil.NoopIfNil(l)
	r.events.logger = r.logger
	return r
}

// SetTransport sets the transport used by Send. nil restores DefaultTransport.
func (r *Request) SetTransport(t transport.Transport) *Request {
	r.transport = t
	return r
}

// On registers h for kind. A nil handler is logged and skipped.
func (r *Request) On(kind string, h Handler) *Request {
	if err := r.events.On(kind, h); err != nil {
		r.logger.Warn("invalid event handler", slog.String("url", r.url), slog.String("event", kind), slog.Any("error", err))
	}
	return r
}

// Off detaches h from kind. A handler that cannot be detached is logged
// and stays registered.
func (r *Request) Off(kind string, h Handler) *Request {
	if err := r.events.Off(kind, h); err != nil {
		r.logger.Warn("event handler not detached", slog.String("url", r.url), slog.String("event", kind), slog.Any("error", err))
	}
	return r
}

// SetCallback registers h for the complete event.
func (r *Request) SetCallback(h Handler) *Request {
	return r.On(EventComplete, h)
}

// Trigger fires kind with the current response and args.
func (r *Request) Trigger(kind string, args ...any) *Request {
	r.events.Trigger(kind, r.resp, r, args...)
	return r
}

// Events returns the request's event bus.
func (r *Request) Events() *EventBus { return r.events }

// Send prepares the request, fires before-send, performs the transfer on
// the calling goroutine and stores the response. Transfer failures are
// reported by the response, not by the returned error.
func (r *Request) Send(ctx context.Context) (response.Response, error) {
	return r.send(ctx, r.transportOrDefault())
}

func (r *Request) send(ctx context.Context, t transport.Transport) (response.Response, error) {
	if err := r.Prepare(); err != nil {
		return nil, err
	}
	r.Trigger(EventBeforeSend)
	r.state = StateSent
	r.handle.Perform(ctx, t)
	res, err := r.handle.Result()
	if err := r.SetResponse(res, err, true); err != nil {
		return nil, err
	}
	return r.resp, nil
}

// GetResponse returns the response, sending the request first if it has
// none yet.
func (r *Request) GetResponse(ctx context.Context) (response.Response, error) {
	if r.resp != nil {
		return r.resp, nil
	}
	return r.Send(ctx)
}

// SetResponse builds the response from a transfer outcome and fires error
// or success, then complete. With autoClose the transfer handle is released
// afterwards.
func (r *Request) SetResponse(res *transport.Result, transferErr error, autoClose bool) error {
	resp := r.responseFactory()
	if resp == nil {
		return ErrInvalidResponseFactory
	}
	for _, o := range r.responseOptions {
		o(resp)
	}

	var (
		body []byte
		info transport.Info
	)
	if res != nil {
		body, info = res.Body, res.Info
	}
	resp.Init(body, info, transferErr)
	r.resp = resp
	r.state = StateCompleted

	if resp.HasError() {
		r.logger.Debug("request failed", slog.String("url", r.url), slog.Any("error", resp.Err()))
		r.Trigger(EventError)
	} else {
		r.Trigger(EventSuccess)
	}
	r.Trigger(EventComplete)

	if autoClose {
		r.Close()
	}
	return nil
}

// Close releases the transfer handle. The response stays readable.
func (r *Request) Close() *Request {
	r.handle.Close()
	r.state = StateClosed
	return r
}

func (r *Request) transportOrDefault() transport.Transport {
	if r.transport != nil {
		return r.transport
	}
	return DefaultTransport
}

// String returns the method, URL and state, for logs.
func (r *Request) String() string {
	return fmt.Sprintf("%s %s (%s)", r.method, r.url, r.state)
}

func headerName(line string) string {
	name, _, _ := strings.Cut(line, ":")
	return strings.ToLower(strings.TrimSpace(name))
}
