// Package transport performs the network side of a request: it turns a
// prepared Descriptor into raw response bytes plus transfer metadata, either
// one transfer at a time (Transport.Transfer) or many at once through a
// Multiplexer.
//
// Two engines are provided: HTTP (net/http) and FastHTTP (valyala/fasthttp).
// Both share connection pools across transfers, honor an optional token
// bucket rate limit and report transfer statistics.
package transport

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"
)

// Transport executes a single prepared transfer synchronously.
//
// A Transport never panics on network failures: the returned error is a
// *Error carrying a transfer error code, and the Result (when non-nil) holds
// whatever metadata was collected before the failure.
type Transport interface {
	Transfer(ctx context.Context, d *Descriptor) (*Result, error)
}

// Result is the raw outcome of a transfer.
type Result struct {
	Body []byte
	Info Info
}

// Info is the transfer metadata reported alongside the body.
type Info struct {
	// URL is the effective URL after redirects.
	URL           string
	StatusCode    int
	ContentType   string
	Header        http.Header
	RedirectCount int
	TotalTime     time.Duration
	SizeDownload  int64

	// RequestHeader is the outgoing header block of the last request.
	// Only recorded when OptHeaderOut is set.
	RequestHeader string
}

// Transfer error codes. The numbering follows the widely used libcurl codes
// so that callers migrating from curl-based tooling see familiar values.
const (
	CodeOK                   = 0
	CodeUnsupportedProtocol  = 1
	CodeFailed               = 2
	CodeURLMalformat         = 3
	CodeCouldNotResolveProxy = 5
	CodeCouldNotResolveHost  = 6
	CodeCouldNotConnect      = 7
	CodeReadError            = 26
	CodeOperationTimedOut    = 28
	CodeSSLConnectError      = 35
	CodeAborted              = 42
	CodeTooManyRedirects     = 47
	CodeSendError            = 55
	CodeRecvError            = 56
)

// Error is a transfer failure.
type Error struct {
	Code    int
	Message string
}

// Error formats the code and message.
func (e *Error) Error() string {
	return fmt.Sprintf("transport: error %d: %s", e.Code, e.Message)
}

var (
	ErrHandleClosed      = errors.New("transport: handle is closed")
	ErrHandleNotPrepared = errors.New("transport: handle has no descriptor")
	ErrAlreadyRegistered = errors.New("transport: handle already registered")
	ErrMultiplexerClosed = errors.New("transport: multiplexer is closed")
	errTooManyRedirects  = errors.New("maximum redirects followed")
)

// Stats holds transfer counters.
type Stats struct {
	Transfers uint64
	Errors    uint64
	Throttled uint64
}

// StatsProvider exposes transfer counters for external collectors.
type StatsProvider interface {
	Stats() Stats
}

type counters struct {
	transfers atomic.Uint64
	errors    atomic.Uint64
	throttled atomic.Uint64
}

func (c *counters) snapshot() Stats {
	return Stats{
		Transfers: c.transfers.Load(),
		Errors:    c.errors.Load(),
		Throttled: c.throttled.Load(),
	}
}

func (c *counters) fail(e *Error) error {
	c.errors.Add(1)
	return e
}
