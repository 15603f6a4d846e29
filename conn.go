// Package coaptcp implements the CoAP-over-TCP transport binding
// (RFC 8323): length-prefixed message framing over a byte stream,
// the capability/ping/abort signaling sub-protocol, and connection
// pooling for both the client and server roles. Request/response
// matching is left to a TokenManager supplied by the application.
package coaptcp

import (
	"context"
	"encoding/binary"
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// RemoteSettings holds the limits the peer announced in its capability
// frame. It stays nil until the first such frame is processed; until
// then no application message may be dispatched.
type RemoteSettings struct {
	MaxMessageSize    uint64
	BlockWiseTransfer bool
}

// Conn is one duplex stream carrying framed messages. It owns the
// accumulation buffer for inbound reassembly and the remote settings
// negotiated with the peer. A Conn is created by a Server accept or a
// Client dial and is torn down on stream closure, abort, or pool
// shutdown.
type Conn struct {
	id      uuid.UUID
	ownerID uuid.UUID
	rawConn net.Conn
	logger  Logger
	bridge  dispatcher

	opts options

	sendMsg  chan []byte
	writeMu  sync.Mutex
	closed   atomic.Bool
	cancelMu sync.Mutex
	cancel   context.CancelFunc

	// Inbound state, owned exclusively by the read path.
	spool          []byte
	remoteSettings *RemoteSettings

	pingSeq  atomic.Uint32
	lossOnce sync.Once
}

// newConn wraps a raw stream. The bridge is the injected dispatch and
// eviction capability of the owning pool; ownerID identifies that pool
// so remote recognition can compare by value rather than by pointer.
func newConn(raw net.Conn, bridge dispatcher, ownerID uuid.UUID, opts options) *Conn {
	return &Conn{
		id:      uuid.New(),
		ownerID: ownerID,
		rawConn: raw,
		logger:  opts.logger,
		bridge:  bridge,
		opts:    opts,
		sendMsg: make(chan []byte, opts.bufferSize),
	}
}

// ID returns the connection's identity, stable for its lifetime.
func (c *Conn) ID() uuid.UUID {
	return c.id
}

// RemoteSettings returns the peer's announced settings, or nil while no
// capability frame has been received yet.
func (c *Conn) RemoteSettings() *RemoteSettings {
	return c.remoteSettings
}

// Run sends the initial capability frame and then drives the read and
// write loops until an error occurs or the context is canceled. The
// connection is closed and its loss reported to the owning pool when
// Run returns.
func (c *Conn) Run(ctx context.Context) error {
	c.logger.Info("connection established", "addr", c.Addr(), "id", c.id)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	c.cancelMu.Lock()
	c.cancel = cancel
	c.cancelMu.Unlock()

	if err := c.sendInitialCSM(); err != nil {
		c.closeConn()
		c.reportLoss(err)
		return err
	}

	group, child := errgroup.WithContext(ctx)

	group.Go(func() error {
		return c.readLoop(child)
	})

	group.Go(func() error {
		return c.writeLoop(child)
	})

	group.Go(func() error {
		// Unblock the pending Read once anything fails or the
		// context is canceled.
		<-child.Done()
		c.closeConn()
		return child.Err()
	})

	err := group.Wait()
	c.closeConn()

	if err != nil && !errors.Is(err, context.Canceled) {
		c.logger.Info("connection closed with error", "addr", c.Addr(), "error", err)
	} else {
		c.logger.Info("connection closed", "addr", c.Addr())
	}

	c.reportLoss(err)
	return err
}

// Close tears the connection down without sending an abort frame.
// Safe to call multiple times.
func (c *Conn) Close() error {
	if c.closed.Swap(true) {
		return nil // already closed
	}
	c.cancelMu.Lock()
	cancel := c.cancel
	c.cancelMu.Unlock()
	if cancel != nil {
		cancel()
	}
	return c.rawConn.Close()
}

// IsClosed returns true if the connection has been closed.
func (c *Conn) IsClosed() bool {
	return c.closed.Load()
}

// Write queues a message for sending without blocking. Returns
// ErrBufferFull when the send buffer is full; the message is then NOT
// queued. For guaranteed delivery use WriteBlocking.
func (c *Conn) Write(message *Message) error {
	if c.closed.Load() {
		return ErrConnectionClosed
	}

	frame, err := encodeFrame(message, c.opts.optionCodec)
	if err != nil {
		return err
	}

	select {
	case c.sendMsg <- frame:
		return nil
	default:
		return ErrBufferFull
	}
}

// WriteBlocking queues a message for sending, blocking until the
// message is queued or the context is canceled.
func (c *Conn) WriteBlocking(ctx context.Context, message *Message) error {
	if c.closed.Load() {
		return ErrConnectionClosed
	}

	frame, err := encodeFrame(message, c.opts.optionCodec)
	if err != nil {
		return err
	}

	select {
	case c.sendMsg <- frame:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Addr returns the remote address of the connection.
func (c *Conn) Addr() net.Addr {
	return c.rawConn.RemoteAddr()
}

// readLoop pulls bytes off the stream and feeds them to the
// reassembler. Returns when the stream fails or the reassembler aborts
// the connection.
func (c *Conn) readLoop(ctx context.Context) error {
	buf := make([]byte, 4096)
	for {
		n, err := c.rawConn.Read(buf)
		if n > 0 {
			if ferr := c.feed(buf[:n]); ferr != nil {
				return ferr
			}
		}
		if err != nil {
			if c.closed.Load() {
				return ErrConnectionClosed
			}
			return err
		}
	}
}

// feed appends newly received bytes to the spool and extracts every
// complete frame from it. Chunking must not matter: feeding a byte
// sequence one byte at a time or all at once yields the same decoded
// messages in the same order. A non-nil return means the connection was
// aborted and no further bytes may be processed.
func (c *Conn) feed(data []byte) error {
	c.spool = append(c.spool, data...)

	for {
		tokenOffset, tokenLen, bodyLen, ok := measureFrame(c.spool)
		if !ok {
			return nil // length prefix incomplete, wait for more bytes
		}

		frameLen := tokenOffset + tokenLen + bodyLen
		if frameLen > c.opts.maxMessageSize {
			c.spool = nil
			c.Abort("")
			return ErrMessageTooLarge
		}
		if len(c.spool) < frameLen {
			return nil // frame incomplete, wait for more bytes
		}

		// The decoded message keeps referencing the frame bytes, so
		// give it its own copy instead of a window into the spool.
		frame := append([]byte(nil), c.spool[:frameLen]...)
		msg, err := decodeFrame(frame, c.opts.optionCodec)
		if err != nil {
			c.logger.Warn("received unparsable stream, aborting", "addr", c.Addr())
			c.spool = nil
			c.Abort("Failed to parse message")
			return err
		}
		c.spool = c.spool[frameLen:]
		msg.Remote = c

		if msg.Code.IsSignaling() {
			if err := c.processSignaling(msg); err != nil {
				return err
			}
			continue
		}

		if c.remoteSettings == nil {
			c.spool = nil
			c.Abort("no capability frame received")
			return ErrProtocolViolation
		}

		c.bridge.dispatchIncoming(c, msg)
	}
}

// writeLoop drains the send channel and emits keepalive pings when
// configured. Returns when the context is canceled or a write fails.
func (c *Conn) writeLoop(ctx context.Context) error {
	var keepalive <-chan time.Time
	if c.opts.keepalive > 0 {
		ticker := time.NewTicker(c.opts.keepalive)
		defer ticker.Stop()
		keepalive = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case frame := <-c.sendMsg:
			if err := c.write(frame); err != nil {
				return err
			}
		case <-keepalive:
			if err := c.sendPing(); err != nil {
				return err
			}
		}
	}
}

// sendPing emits one Ping frame with a fresh counter token. The pong
// reply is consumed by the signaling handler as a no-op.
func (c *Conn) sendPing() error {
	var token [4]byte
	binary.BigEndian.PutUint32(token[:], c.pingSeq.Add(1))
	return c.sendDirect(NewMessage(CodePing, token[:]))
}

// sendDirect encodes and writes a frame bypassing the send channel.
// Used for signaling frames that must not queue behind application
// traffic.
func (c *Conn) sendDirect(message *Message) error {
	frame, err := encodeFrame(message, c.opts.optionCodec)
	if err != nil {
		return err
	}
	return c.write(frame)
}

// write sends raw frame bytes on the stream. Serialized because both
// the write loop and the signaling handler write.
func (c *Conn) write(frame []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.closed.Load() {
		return ErrConnectionClosed
	}
	_, err := c.rawConn.Write(frame)
	if err != nil {
		c.logger.Debug("write error", "addr", c.Addr(), "error", err)
	}
	return err
}

// closeConn marks the connection as closed and closes the underlying
// stream.
func (c *Conn) closeConn() {
	c.closed.Store(true)
	c.rawConn.Close()
}

// reportLoss forwards the connection loss to the owning pool exactly
// once; the pool evicts the connection and notifies the token manager.
func (c *Conn) reportLoss(err error) {
	c.lossOnce.Do(func() {
		if c.bridge != nil {
			c.bridge.dispatchError(c, err)
		}
	})
}
