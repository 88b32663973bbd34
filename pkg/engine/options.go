package engine

import (
	"time"

	"go.uber.org/zap"
)

// Options configures the connection engine's timing, framing, and handshake
// behavior. It is built via functional Option constructors, following the
// teacher's pattern of small typed constructors (e.g.
// NewReliableClientHandlerWithTimeout) generalized to the standard Go
// "functional options" idiom.
type Options struct {
	ReadTimeout    time.Duration
	AckDelay       time.Duration
	MaxRetries     int
	MaxPayloadSize int
	NoSync         bool
	NoAck          bool
	SingleAck      bool
	Logger         *zap.Logger
}

// DefaultOptions returns the spec-mandated defaults: a 50ms socket read
// timeout, a 2s ack delay, 8 max retries, and a 2048-octet max fragment size.
func DefaultOptions() Options {
	return Options{
		ReadTimeout:    50 * time.Millisecond,
		AckDelay:       2 * time.Second,
		MaxRetries:     8,
		MaxPayloadSize: 2048,
		Logger:         zap.NewNop(),
	}
}

// Option mutates an Options value under construction.
type Option func(*Options)

// WithReadTimeout sets the socket read timeout bounding each drive iteration.
func WithReadTimeout(d time.Duration) Option {
	return func(o *Options) { o.ReadTimeout = d }
}

// WithAckDelay sets how long the transmission table waits before retrying
// an unacked fragment.
func WithAckDelay(d time.Duration) Option {
	return func(o *Options) { o.AckDelay = d }
}

// WithMaxRetries sets how many retransmissions a fragment gets before its
// delivery is considered failed.
func WithMaxRetries(n int) Option {
	return func(o *Options) { o.MaxRetries = n }
}

// WithMaxPayloadSize sets the per-fragment payload size ceiling used when
// splitting outbound messages.
func WithMaxPayloadSize(n int) Option {
	return func(o *Options) { o.MaxPayloadSize = n }
}

// WithNoSync skips the synchronization handshake, setting lastId=0
// immediately on Start.
func WithNoSync(skip bool) Option {
	return func(o *Options) { o.NoSync = skip }
}

// WithNoAck sets the noAck header flag on outgoing messages, requesting no
// acknowledgement from the peer.
func WithNoAck(noAck bool) Option {
	return func(o *Options) { o.NoAck = noAck }
}

// WithSingleAck sets the singleAck header flag on outgoing messages.
func WithSingleAck(singleAck bool) Option {
	return func(o *Options) { o.SingleAck = singleAck }
}

// WithLogger injects the logger handle used by the engine. The transmission
// and reassembly tables do not log.
func WithLogger(logger *zap.Logger) Option {
	return func(o *Options) {
		if logger != nil {
			o.Logger = logger
		}
	}
}
