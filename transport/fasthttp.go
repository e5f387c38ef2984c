package transport

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttpproxy"
)

// FastHTTP is the valyala/fasthttp engine. It trades a few features for
// lower allocation overhead: cookie files are not supported, and a running
// transfer is bounded by the context deadline rather than cancelled.
type FastHTTP struct {
	cfg *engineConfig
	lim *limiter

	mu      sync.Mutex
	clients map[poolKey]*fasthttp.Client

	stats counters
}

var (
	_ Transport     = (*FastHTTP)(nil)
	_ StatsProvider = (*FastHTTP)(nil)
)

// NewFastHTTP creates a FastHTTP engine with the given options.
func NewFastHTTP(opts ...EngineOption) *FastHTTP {
	cfg := newEngineConfig(opts)
	return &FastHTTP{
		cfg:     cfg,
		lim:     newLimiter(cfg.rps, cfg.burst),
		clients: make(map[poolKey]*fasthttp.Client),
	}
}

// Stats returns a snapshot of transfer counters.
func (t *FastHTTP) Stats() Stats { return t.stats.snapshot() }

// SetRateLimit dynamically adjusts the rate limit.
func (t *FastHTTP) SetRateLimit(rps float64, burst int) {
	if burst <= 0 {
		burst = 1
	}
	t.lim.set(rps, burst)
}

// Close drops idle pooled connections.
func (t *FastHTTP) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, c := range t.clients {
		c.CloseIdleConnections()
	}
}

// Transfer performs d with fasthttp. Redirects are followed by hand so the
// limit and the header trace match the net/http engine.
func (t *FastHTTP) Transfer(ctx context.Context, d *Descriptor) (*Result, error) {
	throttled, err := t.lim.wait(ctx)
	if throttled {
		t.stats.throttled.Add(1)
	}
	if err != nil {
		return nil, t.stats.fail(classify(err))
	}
	t.stats.transfers.Add(1)

	start := time.Now()
	if d.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.Timeout)
		defer cancel()
	}
	if d.CookieFile != "" || d.CookieJar != "" {
		t.cfg.logger.Debug("cookie files are not supported by the fasthttp engine", slog.String("url", d.URL))
	}

	current, err := url.Parse(d.URL)
	if err != nil {
		return nil, t.stats.fail(&Error{Code: CodeURLMalformat, Message: err.Error()})
	}
	if current.Scheme != "http" && current.Scheme != "https" {
		return nil, t.stats.fail(&Error{Code: CodeUnsupportedProtocol, Message: fmt.Sprintf("unsupported protocol %q", current.Scheme)})
	}

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	if err := fillRequest(req, d); err != nil {
		return nil, t.stats.fail(err)
	}
	client := t.client(d)

	limit := d.MaxRedirects
	if limit == 0 {
		limit = DefaultMaxRedirects
	}
	redirects := 0
	for {
		req.SetRequestURI(current.String())
		if err := do(ctx, client, req, resp); err != nil {
			return nil, t.stats.fail(classify(err))
		}
		loc := resp.Header.Peek("Location")
		if !d.FollowRedirects || !isRedirect(resp.StatusCode()) || len(loc) == 0 {
			break
		}
		if redirects >= limit {
			res := fastResult(req, resp, current, redirects, d.HeaderOut)
			res.Info.TotalTime = time.Since(start)
			return res, t.stats.fail(&Error{
				Code:    CodeTooManyRedirects,
				Message: fmt.Sprintf("%v (%d)", errTooManyRedirects, limit),
			})
		}
		next, err := current.Parse(string(loc))
		if err != nil {
			return nil, t.stats.fail(&Error{Code: CodeURLMalformat, Message: err.Error()})
		}
		redirects++
		current = next

		code := resp.StatusCode()
		method := string(req.Header.Method())
		if code == http.StatusSeeOther || ((code == http.StatusMovedPermanently || code == http.StatusFound) && method == http.MethodPost) {
			req.Header.SetMethod(http.MethodGet)
			req.ResetBody()
			req.Header.Del("Content-Type")
		}
	}

	res := fastResult(req, resp, current, redirects, d.HeaderOut)
	res.Body = append([]byte(nil), resp.Body()...)
	res.Info.SizeDownload = int64(len(res.Body))
	res.Info.TotalTime = time.Since(start)
	return res, nil
}

func (t *FastHTTP) client(d *Descriptor) *fasthttp.Client {
	key := poolKey{insecure: d.InsecureSkipVerify, proxy: d.Proxy, connectTimeout: d.ConnectTimeout}

	t.mu.Lock()
	defer t.mu.Unlock()
	if c, ok := t.clients[key]; ok {
		return c
	}

	c := &fasthttp.Client{
		MaxConnsPerHost:     t.cfg.maxConnsPerHost,
		MaxIdleConnDuration: t.cfg.idleConnTimeout,
		TLSConfig:           &tls.Config{InsecureSkipVerify: d.InsecureSkipVerify}, //nolint:gosec
		MaxResponseBodySize: int(t.cfg.maxResponseSize),
	}
	switch {
	case d.Proxy.Host != "":
		addr := d.Proxy.Addr()
		if user, password, ok := d.Proxy.Credentials(); ok {
			addr = url.UserPassword(user, password).String() + "@" + addr
		}
		if d.Proxy.Type == ProxySOCKS5 {
			c.Dial = fasthttpproxy.FasthttpSocksDialer("socks5://" + addr)
		} else {
			c.Dial = fasthttpproxy.FasthttpHTTPDialer(addr)
		}
	case d.ConnectTimeout > 0:
		timeout := d.ConnectTimeout
		c.Dial = func(addr string) (net.Conn, error) {
			return fasthttp.DialTimeout(addr, timeout)
		}
	}
	t.clients[key] = c
	return c
}

func fillRequest(req *fasthttp.Request, d *Descriptor) *Error {
	req.Header.SetMethod(d.Method)
	for _, line := range d.Header {
		name, value, ok := headerLine(line)
		if !ok || strings.EqualFold(name, "Content-Length") {
			continue
		}
		req.Header.Add(name, value)
	}
	if !d.NoBody {
		body, ct, err := EncodeBody(d)
		if err != nil {
			return &Error{Code: CodeReadError, Message: err.Error()}
		}
		if body != nil {
			req.SetBody(body)
			if d.Multipart || len(req.Header.ContentType()) == 0 {
				req.Header.SetContentType(ct)
			}
		}
	}
	if d.Referer != "" {
		req.Header.SetReferer(d.Referer)
	}
	if d.UserAgent != "" {
		req.Header.SetUserAgent(d.UserAgent)
	}
	if d.Cookie != "" {
		req.Header.Set("Cookie", d.Cookie)
	}
	return nil
}

func do(ctx context.Context, c *fasthttp.Client, req *fasthttp.Request, resp *fasthttp.Response) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	var err error
	if deadline, ok := ctx.Deadline(); ok {
		err = c.DoDeadline(req, resp, deadline)
	} else {
		err = c.Do(req, resp)
	}
	if errors.Is(err, fasthttp.ErrTimeout) {
		return context.DeadlineExceeded
	}
	if errors.Is(err, fasthttp.ErrBodyTooLarge) {
		return &Error{Code: CodeRecvError, Message: err.Error()}
	}
	return err
}

func fastResult(req *fasthttp.Request, resp *fasthttp.Response, u *url.URL, redirects int, headerOut bool) *Result {
	h := make(http.Header)
	resp.Header.VisitAll(func(k, v []byte) {
		h.Add(string(k), string(v))
	})
	res := &Result{Info: Info{
		URL:           u.String(),
		StatusCode:    resp.StatusCode(),
		ContentType:   string(resp.Header.ContentType()),
		Header:        h,
		RedirectCount: redirects,
	}}
	if headerOut {
		res.Info.RequestHeader = string(req.Header.Header())
	}
	return res
}

func isRedirect(code int) bool {
	switch code {
	case http.StatusMovedPermanently, http.StatusFound, http.StatusSeeOther,
		http.StatusTemporaryRedirect, http.StatusPermanentRedirect:
		return true
	}
	return false
}
