package multireq

import (
	"log/slog"
	"time"

	"github.com/egorkaBurkenya/multireq-go/transport"
)

// Option configures an Executor.
type Option func(*config)

type config struct {
	concurrency    int
	requestTimeout time.Duration
	strictLimit    bool
	transport      transport.Transport
	multiplexer    transport.MultiplexerFactory
	logger         *slog.Logger

	onBatchStart    func(requests int)
	onBatchComplete func(e Execution)
}

func defaultConfig() *config {
	return &config{
		concurrency:    5,
		requestTimeout: 10 * time.Second,
		multiplexer:    transport.DefaultMultiplexer,
		logger:         slog.Default(),
	}
}

// WithConcurrency sets how many transfers run at once. Values below 1 are
// raised to 1.
func WithConcurrency(n int) Option {
	return func(c *config) { c.concurrency = max(1, n) }
}

// WithRequestTimeout bounds each wait for a finished transfer. It is a
// polling interval, not a deadline for the batch.
func WithRequestTimeout(d time.Duration) Option {
	return func(c *config) { c.requestTimeout = d }
}

// WithStrictConcurrencyLimit keeps the initial fan-out at exactly the
// concurrency limit. By default one extra transfer is started, matching
// the scheduling of earlier releases.
func WithStrictConcurrencyLimit() Option {
	return func(c *config) { c.strictLimit = true }
}

// WithTransport sets the transport used for all transfers of the executor.
func WithTransport(t transport.Transport) Option {
	return func(c *config) { c.transport = t }
}

// WithMultiplexer replaces the multiplexer used for batches of two or more.
func WithMultiplexer(f transport.MultiplexerFactory) Option {
	return func(c *config) { c.multiplexer = f }
}

// WithLogger sets the logger for executor diagnostics. nil discards them.
func WithLogger(l *slog.Logger) Option {
	return func(c *config) { c.logger = l }
}

// WithOnBatchStart sets a callback invoked when Execute starts a batch.
func WithOnBatchStart(fn func(requests int)) Option {
	return func(c *config) { c.onBatchStart = fn }
}

// WithOnBatchComplete sets a callback invoked when Execute finishes a batch.
func WithOnBatchComplete(fn func(e Execution)) Option {
	return func(c *config) { c.onBatchComplete = fn }
}
