package transport

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptrace"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/net/proxy"
)

// DefaultMaxRedirects bounds redirect chains when a descriptor asks for
// unlimited redirects (MaxRedirects == 0).
const DefaultMaxRedirects = 30

// HTTP is the net/http engine. Connection pools are shared between transfers
// with the same TLS, proxy and connect-timeout settings.
type HTTP struct {
	cfg *engineConfig
	lim *limiter

	mu    sync.Mutex
	pools map[poolKey]*http.Transport

	stats counters
}

type poolKey struct {
	insecure       bool
	proxy          ProxyConfig
	connectTimeout time.Duration
}

// Compile-time interface checks.
var (
	_ Transport     = (*HTTP)(nil)
	_ StatsProvider = (*HTTP)(nil)
)

// NewHTTP creates an HTTP engine with the given options.
func NewHTTP(opts ...EngineOption) *HTTP {
	cfg := newEngineConfig(opts)
	return &HTTP{
		cfg:   cfg,
		lim:   newLimiter(cfg.rps, cfg.burst),
		pools: make(map[poolKey]*http.Transport),
	}
}

// Stats returns a snapshot of transfer statistics.
func (t *HTTP) Stats() Stats { return t.stats.snapshot() }

// SetRateLimit dynamically adjusts the rate limit. A non-positive rps
// disables limiting.
func (t *HTTP) SetRateLimit(rps float64, burst int) {
	if burst <= 0 {
		burst = 1
	}
	t.lim.set(rps, burst)
}

// Close drops idle pooled connections.
func (t *HTTP) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, p := range t.pools {
		p.CloseIdleConnections()
	}
}

// Transfer performs d and returns the body with its metadata.
func (t *HTTP) Transfer(ctx context.Context, d *Descriptor) (*Result, error) {
	throttled, err := t.lim.wait(ctx)
	if throttled {
		t.stats.throttled.Add(1)
	}
	if err != nil {
		return nil, t.stats.fail(classify(err))
	}
	t.stats.transfers.Add(1)

	start := time.Now()
	req, err := t.newRequest(ctx, d)
	if err != nil {
		return nil, t.stats.fail(classify(err))
	}
	if d.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(req.Context(), d.Timeout)
		defer cancel()
		req = req.WithContext(ctx)
	}

	pool, err := t.pool(d)
	if err != nil {
		return nil, t.stats.fail(classify(err))
	}

	var jar *CookieFile
	if d.CookieFile != "" || d.CookieJar != "" {
		if jar, err = LoadCookieFile(d.CookieFile); err != nil {
			return nil, t.stats.fail(&Error{Code: CodeReadError, Message: err.Error()})
		}
	}

	var trace *headerTrace
	if d.HeaderOut {
		trace = &headerTrace{}
		req = req.WithContext(httptrace.WithClientTrace(req.Context(), trace.clientTrace()))
	}

	redirects := 0
	client := &http.Client{
		Transport:     pool,
		CheckRedirect: redirectPolicy(d, &redirects),
	}
	if jar != nil {
		client.Jar = jar
	}

	if t.cfg.requestHook != nil {
		t.cfg.requestHook(req)
	}

	resp, err := client.Do(req)
	if resp == nil {
		return nil, t.stats.fail(classify(err))
	}
	defer resp.Body.Close()

	if t.cfg.responseHook != nil {
		t.cfg.responseHook(resp)
	}

	res := &Result{Info: Info{
		URL:           resp.Request.URL.String(),
		StatusCode:    resp.StatusCode,
		ContentType:   resp.Header.Get("Content-Type"),
		Header:        resp.Header,
		RedirectCount: redirects,
	}}
	if trace != nil {
		res.Info.RequestHeader = trace.String(resp.Request, resp.Proto)
	}

	// A rejected redirect still returns the last response, body closed.
	if err != nil {
		res.Info.TotalTime = time.Since(start)
		return res, t.stats.fail(classify(err))
	}

	var src io.Reader = resp.Body
	if t.cfg.maxResponseSize > 0 {
		src = io.LimitReader(resp.Body, t.cfg.maxResponseSize)
	}
	res.Body, err = io.ReadAll(src)
	res.Info.SizeDownload = int64(len(res.Body))
	res.Info.TotalTime = time.Since(start)
	if err != nil {
		e := classify(err)
		if e.Code == CodeFailed {
			e.Code = CodeRecvError
		}
		return res, t.stats.fail(e)
	}

	if jar != nil && d.CookieJar != "" {
		if err := jar.Save(d.CookieJar); err != nil {
			t.cfg.logger.Warn("save cookie jar", slog.String("path", d.CookieJar), slog.Any("error", err))
		}
	}
	return res, nil
}

func (t *HTTP) newRequest(ctx context.Context, d *Descriptor) (*http.Request, error) {
	u, err := url.Parse(d.URL)
	if err != nil {
		return nil, err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, &Error{Code: CodeUnsupportedProtocol, Message: fmt.Sprintf("unsupported protocol %q", u.Scheme)}
	}

	var (
		body        io.Reader
		contentType string
	)
	if !d.NoBody {
		raw, ct, err := EncodeBody(d)
		if err != nil {
			return nil, &Error{Code: CodeReadError, Message: err.Error()}
		}
		if raw != nil {
			body = bytes.NewReader(raw)
			contentType = ct
		}
	}

	req, err := http.NewRequestWithContext(ctx, d.Method, u.String(), body)
	if err != nil {
		return nil, err
	}
	for _, line := range d.Header {
		name, value, ok := headerLine(line)
		if !ok {
			continue
		}
		switch http.CanonicalHeaderKey(name) {
		case "Content-Length":
			// Derived from the body.
		case "Host":
			req.Host = value
		default:
			req.Header.Add(name, value)
		}
	}
	switch {
	case d.Multipart && contentType != "":
		req.Header.Set("Content-Type", contentType)
	case contentType != "" && req.Header.Get("Content-Type") == "":
		req.Header.Set("Content-Type", contentType)
	}
	if d.Referer != "" {
		req.Header.Set("Referer", d.Referer)
	}
	if d.UserAgent != "" {
		req.Header.Set("User-Agent", d.UserAgent)
	}
	if d.Cookie != "" {
		req.Header.Add("Cookie", d.Cookie)
	}
	return req, nil
}

func (t *HTTP) pool(d *Descriptor) (*http.Transport, error) {
	key := poolKey{insecure: d.InsecureSkipVerify, proxy: d.Proxy, connectTimeout: d.ConnectTimeout}

	t.mu.Lock()
	defer t.mu.Unlock()
	if p, ok := t.pools[key]; ok {
		return p, nil
	}

	dialer := &net.Dialer{Timeout: d.ConnectTimeout, KeepAlive: 30 * time.Second}
	p := &http.Transport{
		DialContext:         dialer.DialContext,
		TLSClientConfig:     &tls.Config{InsecureSkipVerify: d.InsecureSkipVerify}, //nolint:gosec
		TLSHandshakeTimeout: d.ConnectTimeout,
		MaxConnsPerHost:     t.cfg.maxConnsPerHost,
		MaxIdleConnsPerHost: t.cfg.maxConnsPerHost,
		IdleConnTimeout:     t.cfg.idleConnTimeout,
		ForceAttemptHTTP2:   true,
	}

	if d.Proxy.Host != "" {
		user, password, hasAuth := d.Proxy.Credentials()
		switch d.Proxy.Type {
		case ProxySOCKS5:
			var auth *proxy.Auth
			if hasAuth {
				auth = &proxy.Auth{User: user, Password: password}
			}
			sd, err := proxy.SOCKS5("tcp", d.Proxy.Addr(), auth, dialer)
			if err != nil {
				return nil, &Error{Code: CodeCouldNotResolveProxy, Message: err.Error()}
			}
			if cd, ok := sd.(proxy.ContextDialer); ok {
				p.DialContext = cd.DialContext
			} else {
				p.DialContext = func(_ context.Context, network, addr string) (net.Conn, error) {
					return sd.Dial(network, addr)
				}
			}
		default:
			pu := &url.URL{Scheme: "http", Host: d.Proxy.Addr()}
			if hasAuth {
				pu.User = url.UserPassword(user, password)
			}
			p.Proxy = http.ProxyURL(pu)
		}
	}

	t.pools[key] = p
	return p, nil
}

// redirectPolicy enforces d's redirect settings and records the number of
// redirects followed in count.
func redirectPolicy(d *Descriptor, count *int) func(*http.Request, []*http.Request) error {
	limit := d.MaxRedirects
	if limit == 0 {
		limit = DefaultMaxRedirects
	}
	return func(_ *http.Request, via []*http.Request) error {
		if !d.FollowRedirects {
			return http.ErrUseLastResponse
		}
		if len(via) > limit {
			return fmt.Errorf("%w (%d)", errTooManyRedirects, limit)
		}
		*count = len(via)
		return nil
	}
}

// headerTrace records the header fields written for the last request of a
// redirect chain.
type headerTrace struct {
	mu      sync.Mutex
	current []string
	last    []string
}

func (h *headerTrace) clientTrace() *httptrace.ClientTrace {
	return &httptrace.ClientTrace{
		WroteHeaderField: func(key string, values []string) {
			h.mu.Lock()
			defer h.mu.Unlock()
			for _, v := range values {
				h.current = append(h.current, key+": "+v)
			}
		},
		WroteHeaders: func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			h.last, h.current = h.current, nil
		},
	}
}

// String renders the trace as a raw header block.
func (h *headerTrace) String(req *http.Request, proto string) string {
	h.mu.Lock()
	fields := append([]string(nil), h.last...)
	h.mu.Unlock()

	if proto == "" {
		proto = "HTTP/1.1"
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s %s %s\r\n", req.Method, req.URL.RequestURI(), proto)
	if len(fields) == 0 {
		// No trace events (e.g. HTTP/2 pseudo headers only); fall back to the
		// headers set on the request.
		keys := make([]string, 0, len(req.Header))
		for k := range req.Header {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		fields = append(fields, "Host: "+req.Host)
		for _, k := range keys {
			for _, v := range req.Header[k] {
				fields = append(fields, k+": "+v)
			}
		}
	}
	for _, f := range fields {
		sb.WriteString(f)
		sb.WriteString("\r\n")
	}
	sb.WriteString("\r\n")
	return sb.String()
}

// IsTimeout reports whether err is a transfer timeout.
func IsTimeout(err error) bool {
	var te *Error
	return errors.As(err, &te) && te.Code == CodeOperationTimedOut
}
