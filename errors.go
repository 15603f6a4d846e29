package coaptcp

import "errors"

// Errors surfaced by the transport.
var (
	// ErrUnparsableMessage is returned when a frame's bytes cannot be
	// decoded into a message. The stream is presumed desynchronized and
	// the connection is aborted.
	ErrUnparsableMessage = errors.New("unparsable message")

	// ErrTokenTooLong is returned when encoding a message whose token
	// exceeds the 8 byte wire limit.
	ErrTokenTooLong = errors.New("overly long token")

	// ErrMessageTooLarge is returned when an inbound frame exceeds the
	// local maximum message size.
	ErrMessageTooLarge = errors.New("message too large")

	// ErrProtocolViolation is returned when the peer breaks the
	// signaling rules, for example by sending application messages
	// before its capability frame.
	ErrProtocolViolation = errors.New("protocol violation")

	// ErrNoLocation is returned when an outgoing message carries no
	// resolvable destination.
	ErrNoLocation = errors.New("no location found to send message to")
)

// ErrConnectionClosed is returned when operating on a closed connection.
var ErrConnectionClosed = errors.New("connection closed")

// ErrBufferFull is returned when the send buffer is full and cannot
// accept more messages. Callers that need delivery guarantees should
// use WriteBlocking instead.
var ErrBufferFull = errors.New("send buffer full")
