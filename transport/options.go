package transport

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/egorkaBurkenya/multireq-go/internal/logutil"
)

// EngineOption configures an HTTP or FastHTTP engine.
type EngineOption func(*engineConfig)

type engineConfig struct {
	rps             float64
	burst           int
	maxConnsPerHost int
	idleConnTimeout time.Duration
	maxResponseSize int64
	logger          *slog.Logger

	requestHook  func(req *http.Request)
	responseHook func(resp *http.Response)
}

func defaultEngineConfig() *engineConfig {
	return &engineConfig{
		rps:             0, // no rate limiting by default
		burst:           1,
		maxConnsPerHost: 16,
		idleConnTimeout: 90 * time.Second,
		maxResponseSize: 0, // unlimited
	}
}

func newEngineConfig(opts []EngineOption) *engineConfig {
	cfg := defaultEngineConfig()
	for _, o := range opts {
		o(cfg)
	}
	cfg.logger = logutil.NoopIfNil(cfg.logger)
	return cfg
}

// WithRateLimit sets the token bucket rate limit in transfers per second and burst size.
func WithRateLimit(rps float64, burst int) EngineOption {
	return func(c *engineConfig) {
		c.rps = rps
		if burst > 0 {
			c.burst = burst
		}
	}
}

// WithMaxConnsPerHost bounds the pooled connections per host.
func WithMaxConnsPerHost(n int) EngineOption {
	return func(c *engineConfig) {
		if n > 0 {
			c.maxConnsPerHost = n
		}
	}
}

// WithIdleConnTimeout sets how long idle pooled connections are kept.
func WithIdleConnTimeout(d time.Duration) EngineOption {
	return func(c *engineConfig) { c.idleConnTimeout = d }
}

// WithMaxResponseSize caps the number of body bytes read per transfer.
// Zero means unlimited.
func WithMaxResponseSize(n int64) EngineOption {
	return func(c *engineConfig) { c.maxResponseSize = n }
}

// WithLogger sets the logger for engine diagnostics.
func WithLogger(l *slog.Logger) EngineOption {
	return func(c *engineConfig) { c.logger = l }
}

// WithRequestHook sets a hook called before each request is sent.
// Only the HTTP engine calls it.
func WithRequestHook(fn func(req *http.Request)) EngineOption {
	return func(c *engineConfig) { c.requestHook = fn }
}

// WithResponseHook sets a hook called after each response is received,
// before its body is read. Only the HTTP engine calls it.
func WithResponseHook(fn func(resp *http.Response)) EngineOption {
	return func(c *engineConfig) { c.responseHook = fn }
}

// limiter is a token bucket that can be installed or adjusted at runtime.
type limiter struct {
	mu  sync.Mutex
	lim *rate.Limiter
}

func newLimiter(rps float64, burst int) *limiter {
	l := &limiter{}
	if rps > 0 {
		l.lim = rate.NewLimiter(rate.Limit(rps), burst)
	}
	return l
}

func (l *limiter) set(rps float64, burst int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if rps <= 0 {
		l.lim = nil
		return
	}
	if l.lim == nil {
		l.lim = rate.NewLimiter(rate.Limit(rps), burst)
		return
	}
	l.lim.SetLimit(rate.Limit(rps))
	l.lim.SetBurst(burst)
}

// wait blocks until a token is available. It reports whether the caller
// had to wait.
func (l *limiter) wait(ctx context.Context) (bool, error) {
	l.mu.Lock()
	lim := l.lim
	l.mu.Unlock()
	if lim == nil {
		return false, nil
	}
	throttled := lim.Tokens() < 1
	return throttled, lim.Wait(ctx)
}

func (l *limiter) limit() rate.Limit {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.lim == nil {
		return 0
	}
	return l.lim.Limit()
}
