package coaptcp

import (
	"time"
)

// Default configuration values.
const (
	// defaultBufferSize is the default size of the send channel buffer.
	defaultBufferSize = 1
	// defaultMaxMessageSize is the default maximum size of a single
	// frame (1MB), announced to the peer in the initial capability frame.
	defaultMaxMessageSize = 1024 * 1024
	// defaultDialTimeout bounds client connection establishment.
	defaultDialTimeout = 10 * time.Second
)

// options holds the configuration shared by connections and pools.
type options struct {
	logger      Logger
	optionCodec OptionCodec

	bufferSize     int           // size of the send channel
	maxMessageSize int           // local maximum frame size
	dialTimeout    time.Duration // client connect timeout
	keepalive      time.Duration // ping interval, 0 disables keepalive
}

// Option is a function that configures transport options.
type Option func(*options)

// checkOptions fills in default values for unset options.
func checkOptions(opts *options) {
	if opts.bufferSize <= 0 {
		opts.bufferSize = defaultBufferSize
	}
	if opts.maxMessageSize <= 0 {
		opts.maxMessageSize = defaultMaxMessageSize
	}
	if opts.dialTimeout <= 0 {
		opts.dialTimeout = defaultDialTimeout
	}
	if opts.optionCodec == nil {
		opts.optionCodec = DefaultOptionCodec()
	}
	if opts.logger == nil {
		opts.logger = defaultLogger()
	}
}

// BufferSizeOption sets the size of the send channel buffer. A larger
// buffer allows more messages to be queued before Write reports
// ErrBufferFull.
func BufferSizeOption(size int) Option {
	return func(o *options) {
		o.bufferSize = size
	}
}

// MaxMessageSizeOption sets the maximum frame size accepted from the
// peer. Frames announcing a larger length abort the connection.
func MaxMessageSizeOption(size int) Option {
	return func(o *options) {
		o.maxMessageSize = size
	}
}

// DialTimeoutOption sets the timeout for client connection
// establishment.
func DialTimeoutOption(timeout time.Duration) Option {
	return func(o *options) {
		o.dialTimeout = timeout
	}
}

// KeepaliveOption sets the interval at which idle connections emit Ping
// frames. Zero disables keepalive.
func KeepaliveOption(interval time.Duration) Option {
	return func(o *options) {
		o.keepalive = interval
	}
}

// OptionCodecOption replaces the options+payload region codec. The
// default implements the standard CoAP option wire encoding.
func OptionCodecOption(oc OptionCodec) Option {
	return func(o *options) {
		o.optionCodec = oc
	}
}

// LoggerOption sets the logger. If not set, the default slog logger
// will be used.
func LoggerOption(logger Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}
