package transport

import (
	"errors"
	"fmt"
	"net"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
)

// Option identifies one transfer setting of a Descriptor.
type Option int

// Transfer options. Build applies them in ascending identifier order.
const (
	OptURL Option = iota + 1
	OptReferer
	OptUserAgent
	OptReturnTransfer
	OptSSLVerifyPeer
	OptFollowLocation
	OptMaxRedirs
	OptCookieFile
	OptCookieJar
	OptCookie
	OptProxy
	OptProxyPort
	OptProxyType
	OptProxyUserPwd
	OptTimeout
	OptConnectTimeout
	OptHTTPHeader
	OptNoBody
	OptHTTPGet
	OptPost
	OptCustomRequest
	OptPostFields
	OptMultipart
	OptHeaderOut
)

var optionNames = map[Option]string{
	OptURL:            "url",
	OptReferer:        "referer",
	OptUserAgent:      "user_agent",
	OptReturnTransfer: "return_transfer",
	OptSSLVerifyPeer:  "ssl_verify_peer",
	OptFollowLocation: "follow_location",
	OptMaxRedirs:      "max_redirs",
	OptCookieFile:     "cookie_file",
	OptCookieJar:      "cookie_jar",
	OptCookie:         "cookie",
	OptProxy:          "proxy",
	OptProxyPort:      "proxy_port",
	OptProxyType:      "proxy_type",
	OptProxyUserPwd:   "proxy_user_pwd",
	OptTimeout:        "timeout",
	OptConnectTimeout: "connect_timeout",
	OptHTTPHeader:     "http_header",
	OptNoBody:         "no_body",
	OptHTTPGet:        "http_get",
	OptPost:           "post",
	OptCustomRequest:  "custom_request",
	OptPostFields:     "post_fields",
	OptMultipart:      "multipart",
	OptHeaderOut:      "header_out",
}

// String returns the option name accepted by ParseOption.
func (o Option) String() string {
	if n, ok := optionNames[o]; ok {
		return n
	}
	return "option(" + strconv.Itoa(int(o)) + ")"
}

// ParseOption resolves an option by name ("timeout") or numeric identifier ("15").
func ParseOption(s string) (Option, bool) {
	s = strings.TrimSpace(s)
	if n, err := strconv.Atoi(s); err == nil {
		_, ok := optionNames[Option(n)]
		return Option(n), ok
	}
	s = strings.ToLower(s)
	for o, n := range optionNames {
		if n == s {
			return o, true
		}
	}
	return 0, false
}

// ProxyType selects the proxy protocol.
type ProxyType int

const (
	ProxyHTTP ProxyType = iota
	ProxySOCKS5
)

// String returns the proxy scheme name.
func (p ProxyType) String() string {
	if p == ProxySOCKS5 {
		return "socks5"
	}
	return "http"
}

// ParseProxyType accepts "http" and "socks5" (case-insensitive).
func ParseProxyType(s string) (ProxyType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "http":
		return ProxyHTTP, nil
	case "socks5", "socks":
		return ProxySOCKS5, nil
	}
	return ProxyHTTP, fmt.Errorf("unknown proxy type %q", s)
}

// ProxyConfig describes an outbound proxy.
type ProxyConfig struct {
	Host    string
	Port    int
	Type    ProxyType
	UserPwd string
}

const defaultProxyPort = 1080

// Addr returns host:port of the proxy with any scheme prefix removed.
func (p ProxyConfig) Addr() string {
	host := p.Host
	if i := strings.Index(host, "://"); i >= 0 {
		host = host[i+3:]
	}
	host = strings.TrimSuffix(host, "/")
	if _, _, err := net.SplitHostPort(host); err == nil {
		return host
	}
	port := p.Port
	if port <= 0 {
		port = defaultProxyPort
	}
	return net.JoinHostPort(host, strconv.Itoa(port))
}

// Credentials splits UserPwd ("user:password").
func (p ProxyConfig) Credentials() (user, password string, ok bool) {
	if p.UserPwd == "" {
		return "", "", false
	}
	user, password, _ = strings.Cut(p.UserPwd, ":")
	return user, password, true
}

// File marks a body field as a file upload. Its string form is the
// "@path" marker.
type File string

// String returns the path prefixed with "@".
func (f File) String() string { return "@" + string(f) }

// Path returns the file path without the marker.
func (f File) Path() string { return string(f) }

// Field is one flattened body parameter.
type Field struct {
	Name  string
	Value any
}

// Descriptor is the finalized, transport-ready form of a request.
// Build it with Build; it is not modified afterwards.
type Descriptor struct {
	URL                string
	Method             string
	Header             []string
	Fields             []Field
	Multipart          bool
	NoBody             bool
	Referer            string
	UserAgent          string
	InsecureSkipVerify bool
	FollowRedirects    bool
	MaxRedirects       int
	Cookie             string
	CookieFile         string
	CookieJar          string
	Proxy              ProxyConfig
	Timeout            time.Duration
	ConnectTimeout     time.Duration
	HeaderOut          bool
}

// ErrBadOption reports an option value that cannot be applied.
var ErrBadOption = errors.New("transport: bad option")

// Build applies opts in ascending identifier order and returns the resulting
// Descriptor. Unknown identifiers are rejected.
func Build(opts map[Option]any) (*Descriptor, error) {
	keys := make([]Option, 0, len(opts))
	for k := range opts {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })

	d := &Descriptor{Method: "GET", FollowRedirects: true}
	for _, k := range keys {
		if err := d.apply(k, opts[k]); err != nil {
			return nil, err
		}
	}
	if d.URL == "" {
		return nil, fmt.Errorf("%w: %s is empty", ErrBadOption, OptURL)
	}
	return d, nil
}

func (d *Descriptor) apply(opt Option, v any) error {
	var err error
	switch opt {
	case OptURL:
		d.URL, err = coerce[string](opt, v)
	case OptReferer:
		d.Referer, err = coerce[string](opt, v)
	case OptUserAgent:
		d.UserAgent, err = coerce[string](opt, v)
	case OptReturnTransfer:
		// Bodies are always returned to the caller.
		_, err = coerce[bool](opt, v)
	case OptSSLVerifyPeer:
		var verify bool
		verify, err = coerce[bool](opt, v)
		d.InsecureSkipVerify = !verify
	case OptFollowLocation:
		d.FollowRedirects, err = coerce[bool](opt, v)
	case OptMaxRedirs:
		d.MaxRedirects, err = coerce[int](opt, v)
		if d.MaxRedirects < 0 {
			d.MaxRedirects = 0
		}
	case OptCookieFile:
		d.CookieFile, err = coerce[string](opt, v)
	case OptCookieJar:
		d.CookieJar, err = coerce[string](opt, v)
	case OptCookie:
		d.Cookie, err = coerce[string](opt, v)
	case OptProxy:
		d.Proxy.Host, err = coerce[string](opt, v)
	case OptProxyPort:
		d.Proxy.Port, err = coerce[int](opt, v)
	case OptProxyType:
		d.Proxy.Type, err = coerceProxyType(opt, v)
	case OptProxyUserPwd:
		d.Proxy.UserPwd, err = coerce[string](opt, v)
	case OptTimeout:
		var secs int
		secs, err = coerce[int](opt, v)
		d.Timeout = time.Duration(secs) * time.Second
	case OptConnectTimeout:
		var secs int
		secs, err = coerce[int](opt, v)
		d.ConnectTimeout = time.Duration(secs) * time.Second
	case OptHTTPHeader:
		d.Header, err = coerce[[]string](opt, v)
	case OptNoBody:
		var on bool
		if on, err = coerce[bool](opt, v); on {
			d.NoBody = true
			d.Method = "HEAD"
		}
	case OptHTTPGet:
		var on bool
		if on, err = coerce[bool](opt, v); on {
			d.Method = "GET"
		}
	case OptPost:
		var on bool
		if on, err = coerce[bool](opt, v); on {
			d.Method = "POST"
		}
	case OptCustomRequest:
		var m string
		if m, err = coerce[string](opt, v); m != "" {
			d.Method = strings.ToUpper(m)
		}
	case OptPostFields:
		d.Fields, err = coerceFields(opt, v)
	case OptMultipart:
		d.Multipart, err = coerce[bool](opt, v)
	case OptHeaderOut:
		d.HeaderOut, err = coerce[bool](opt, v)
	default:
		return fmt.Errorf("%w: unknown option %s", ErrBadOption, opt)
	}
	return err
}

func coerce[T any](opt Option, v any) (T, error) {
	if t, ok := v.(T); ok {
		return t, nil
	}
	var out T
	if err := mapstructure.WeakDecode(v, &out); err != nil {
		return out, fmt.Errorf("%w: %s: %v", ErrBadOption, opt, err)
	}
	return out, nil
}

func coerceProxyType(opt Option, v any) (ProxyType, error) {
	if s, ok := v.(string); ok {
		pt, err := ParseProxyType(s)
		if err != nil {
			return pt, fmt.Errorf("%w: %s: %v", ErrBadOption, opt, err)
		}
		return pt, nil
	}
	n, err := coerce[int](opt, v)
	return ProxyType(n), err
}

func coerceFields(opt Option, v any) ([]Field, error) {
	switch t := v.(type) {
	case []Field:
		return t, nil
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		fields := make([]Field, 0, len(keys))
		for _, k := range keys {
			fields = append(fields, Field{Name: k, Value: t[k]})
		}
		return fields, nil
	case map[string]string:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		fields := make([]Field, 0, len(keys))
		for _, k := range keys {
			fields = append(fields, Field{Name: k, Value: t[k]})
		}
		return fields, nil
	}
	return nil, fmt.Errorf("%w: %s: unsupported value %T", ErrBadOption, opt, v)
}
