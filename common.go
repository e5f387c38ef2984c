package multireq

import (
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"

	"github.com/mitchellh/mapstructure"

	"github.com/egorkaBurkenya/multireq-go/response"
	"github.com/egorkaBurkenya/multireq-go/transport"
)

// commonSetter applies one common option value to a request.
type commonSetter func(r *Request, v any) error

// commonSetters is the closed set of common option keys. Keys are matched
// after normalizeOptionKey, so "connection_timeout", "connectionTimeout"
// and "ConnectionTimeout" name the same option.
var commonSetters = map[string]commonSetter{
	"url":               stringSetter((*Request).SetURL),
	"method":            stringSetter((*Request).SetMethod),
	"refererurl":        stringSetter((*Request).SetRefererURL),
	"useragent":         stringSetter((*Request).SetUserAgent),
	"responsetype":      stringSetter((*Request).SetResponseType),
	"timeout":           intSetter((*Request).SetTimeout),
	"connectiontimeout": intSetter((*Request).SetConnectionTimeout),
	"redirectlimit":     intSetter((*Request).SetRedirectLimit),
	"allowredirect":     setAllowRedirect,
	"headers":           setHeaders,
	"postparams":        setPostParams,
	"cookies":           setCookies,
	"cookiefile":        setCookieFile,
	"proxy":             setProxy,
	"proxyuserpwd":      setProxyUserPwd,
	"options":           setRawOptions,
	"responseoptions":   setResponseOptions,
	"customdata":        setCustomData,
	"callback":          setCallback,
	"logger":            setLogger,
	"transport":         setTransport,
}

// CommonOptionKeys returns the recognised common option keys, sorted.
func CommonOptionKeys() []string {
	keys := make([]string, 0, len(commonSetters))
	for k := range commonSetters {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// applyCommonOptions configures r from opts. String keys name a setter or
// an event kind; numeric keys are raw transport options, which only fill
// options the request does not set itself. Failures are logged and the
// remaining options still apply.
func applyCommonOptions(r *Request, opts map[string]any, logger *slog.Logger) {
	keys := make([]string, 0, len(opts))
	for k := range opts {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	raw := make(map[transport.Option]any)
	events := AvailableEventKinds()
	for _, k := range keys {
		v := opts[k]
		if n, err := strconv.Atoi(strings.TrimSpace(k)); err == nil {
			raw[transport.Option(n)] = v
			continue
		}

		var err error
		if set, ok := commonSetters[normalizeOptionKey(k)]; ok {
			err = set(r, v)
		} else if kind := NormalizeEventKind(k); events[kind] != "" {
			err = attachCommonHandler(r, kind, v)
		} else {
			err = fmt.Errorf("%w: unknown key %q", ErrBadOption, k)
		}
		if err != nil {
			logger.Warn("invalid common option", slog.String("option", k), slog.String("url", r.url), slog.Any("error", err))
		}
	}

	for opt, v := range raw {
		if _, set := r.options[opt]; !set {
			r.options[opt] = v
		}
	}
}

func normalizeOptionKey(k string) string {
	k = strings.ToLower(strings.TrimSpace(k))
	return strings.NewReplacer("_", "", "-", "", " ", "").Replace(k)
}

func decode[T any](v any) (T, error) {
	if t, ok := v.(T); ok {
		return t, nil
	}
	var out T
	if err := mapstructure.WeakDecode(v, &out); err != nil {
		return out, fmt.Errorf("%w: %v", ErrBadOption, err)
	}
	return out, nil
}

func stringSetter(set func(*Request, string) *Request) commonSetter {
	return func(r *Request, v any) error {
		s, err := decode[string](v)
		if err == nil {
			set(r, s)
		}
		return err
	}
}

func intSetter(set func(*Request, int) *Request) commonSetter {
	return func(r *Request, v any) error {
		n, err := decode[int](v)
		if err == nil {
			set(r, n)
		}
		return err
	}
}

// setAllowRedirect accepts a bool or a [bool, limit] pair.
func setAllowRedirect(r *Request, v any) error {
	if pair, err := decode[[]any](v); err == nil && len(pair) == 2 {
		allow, err := decode[bool](pair[0])
		if err != nil {
			return err
		}
		limit, err := decode[int](pair[1])
		if err != nil {
			return err
		}
		r.SetAllowRedirect(allow).SetRedirectLimit(limit)
		return nil
	}
	allow, err := decode[bool](v)
	if err == nil {
		r.SetAllowRedirect(allow)
	}
	return err
}

// setHeaders accepts header lines or a name to value map.
func setHeaders(r *Request, v any) error {
	if m, ok := v.(map[string]any); ok {
		lines := make([]string, 0, len(m))
		for _, name := range sortedKeys(m) {
			lines = append(lines, name+": "+transport.FormatValue(m[name]))
		}
		r.SetHeaders(lines...)
		return nil
	}
	if m, ok := v.(map[string]string); ok {
		conv := make(map[string]any, len(m))
		for k, s := range m {
			conv[k] = s
		}
		return setHeaders(r, conv)
	}
	lines, err := decode[[]string](v)
	if err == nil {
		r.SetHeaders(lines...)
	}
	return err
}

func setPostParams(r *Request, v any) error {
	m, err := decode[map[string]any](v)
	if err == nil {
		r.SetPostParams(m)
	}
	return err
}

func setCookies(r *Request, v any) error {
	m, err := decode[map[string]string](v)
	if err == nil {
		r.SetCookies(m)
	}
	return err
}

type cookieFileSpec struct {
	Path     string `mapstructure:"path"`
	Writable bool   `mapstructure:"writable"`
}

// setCookieFile accepts a path or {path, writable}.
func setCookieFile(r *Request, v any) error {
	if s, ok := v.(string); ok {
		r.SetCookieFile(s, false)
		return nil
	}
	spec, err := decode[cookieFileSpec](v)
	if err == nil {
		r.SetCookieFile(spec.Path, spec.Writable)
	}
	return err
}

type proxySpec struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Type     string `mapstructure:"type"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
}

// setProxy accepts "host[:port]" or {host, port, type, user, password}.
func setProxy(r *Request, v any) error {
	if s, ok := v.(string); ok {
		r.SetProxy(s, 0, transport.ProxyHTTP)
		return nil
	}
	spec, err := decode[proxySpec](v)
	if err != nil {
		return err
	}
	typ, err := transport.ParseProxyType(spec.Type)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBadOption, err)
	}
	r.SetProxy(spec.Host, spec.Port, typ)
	if spec.User != "" {
		r.SetProxyUserPwd(spec.User, spec.Password)
	}
	return nil
}

// setProxyUserPwd accepts "user:password" or {user, password}.
func setProxyUserPwd(r *Request, v any) error {
	if s, ok := v.(string); ok {
		user, password, _ := strings.Cut(s, ":")
		r.SetProxyUserPwd(user, password)
		return nil
	}
	spec, err := decode[proxySpec](v)
	if err == nil {
		r.SetProxyUserPwd(spec.User, spec.Password)
	}
	return err
}

// setRawOptions accepts transport options keyed by name or number.
func setRawOptions(r *Request, v any) error {
	if m, ok := v.(map[transport.Option]any); ok {
		r.AddOptions(m)
		return nil
	}
	m, err := decode[map[string]any](v)
	if err != nil {
		return err
	}
	opts := make(map[transport.Option]any, len(m))
	for k, val := range m {
		opt, ok := transport.ParseOption(k)
		if !ok {
			return fmt.Errorf("%w: unknown transport option %q", ErrBadOption, k)
		}
		opts[opt] = val
	}
	r.AddOptions(opts)
	return nil
}

func setResponseOptions(r *Request, v any) error {
	if opts, ok := v.([]response.Option); ok {
		r.SetResponseOptions(opts...)
		return nil
	}
	m, err := decode[map[string]any](v)
	if err != nil {
		return err
	}
	opts, err := response.OptionsFromMap(m)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrBadOption, err)
	}
	r.SetResponseOptions(opts...)
	return nil
}

func setCustomData(r *Request, v any) error {
	m, err := decode[map[string]any](v)
	if err == nil {
		r.SetCustomData(m)
	}
	return err
}

func setCallback(r *Request, v any) error {
	return attachCommonHandler(r, EventComplete, v)
}

func setLogger(r *Request, v any) error {
	l, ok := v.(*slog.Logger)
	if !ok {
		return fmt.Errorf("%w: logger must be *slog.Logger, got %T", ErrBadOption, v)
	}
	r.SetLogger(l)
	return nil
}

func setTransport(r *Request, v any) error {
	t, ok := v.(transport.Transport)
	if !ok {
		return fmt.Errorf("%w: transport must implement transport.Transport, got %T", ErrBadOption, v)
	}
	r.SetTransport(t)
	return nil
}

func attachCommonHandler(r *Request, kind string, v any) error {
	var h Handler
	switch fn := v.(type) {
	case Handler:
		h = fn
	case func(response.Response, *Request, ...any):
		h = HandlerFunc(fn)
	default:
		return fmt.Errorf("%w: handler for %s has type %T", ErrNilHandler, kind, v)
	}
	return r.events.On(kind, h)
}
