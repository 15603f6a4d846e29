package coaptcp

import (
	"context"
	"net"
	"net/url"
	"strconv"
	"strings"
	"sync"

	"github.com/google/uuid"
	pkgerrors "github.com/pkg/errors"
)

// DefaultPort is the port used when a destination names none.
const DefaultPort = 5683

// hostPort keys the client pool. It holds the literal hostname rather
// than a resolved address: two names for the same address get
// independent connections, which keeps name-based session separation
// possible once encrypted transports enter the picture.
type hostPort struct {
	host string
	port int
}

// Client owns outgoing connections, at most one per (host, port)
// destination. Connections are established lazily when a message needs
// one and evicted on loss.
type Client struct {
	pooling

	id   uuid.UUID
	opts options

	ctx    context.Context
	cancel context.CancelFunc

	poolMu   sync.Mutex
	pool     map[hostPort]*Conn
	shutdown bool
}

// NewClient creates a client transport bound to the token manager.
func NewClient(tm TokenManager, opt ...Option) *Client {
	var opts options
	for _, o := range opt {
		o(&opts)
	}
	checkOptions(&opts)

	c := &Client{
		id:   uuid.New(),
		opts: opts,
		pool: make(map[hostPort]*Conn),
	}
	c.pooling = pooling{tm: tm, logger: opts.logger, evict: c.evictFromPool}
	c.ctx, c.cancel = context.WithCancel(context.Background())
	return c
}

// ResolveRemote returns the connection an outgoing message should
// travel on. A remote already belonging to this client is reused as is;
// otherwise the destination is derived from the message, the pool is
// consulted, and a new connection is dialed only when none exists for
// that (host, port). Fails with ErrNoLocation when the message names no
// destination at all.
func (c *Client) ResolveRemote(ctx context.Context, msg *Message) (*Conn, error) {
	if msg.Remote != nil && msg.Remote.ownerID == c.id {
		return msg.Remote, nil
	}

	host, port, err := destination(msg)
	if err != nil {
		return nil, err
	}
	key := hostPort{host: host, port: port}

	c.poolMu.Lock()
	if c.shutdown {
		c.poolMu.Unlock()
		return nil, ErrConnectionClosed
	}
	if conn, ok := c.pool[key]; ok {
		c.poolMu.Unlock()
		msg.Remote = conn
		return conn, nil
	}
	c.poolMu.Unlock()

	dialer := net.Dialer{Timeout: c.opts.dialTimeout}
	raw, err := dialer.DialContext(ctx, "tcp", net.JoinHostPort(host, strconv.Itoa(port)))
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "dial %s:%d", host, port)
	}
	if tcpConn, ok := raw.(*net.TCPConn); ok {
		_ = tcpConn.SetNoDelay(true)
	}

	conn := newConn(raw, &c.pooling, c.id, c.opts)

	c.poolMu.Lock()
	if existing, ok := c.pool[key]; ok {
		// Lost a dial race; keep the pooled connection.
		c.poolMu.Unlock()
		raw.Close()
		msg.Remote = existing
		return existing, nil
	}
	c.pool[key] = conn
	c.poolMu.Unlock()

	go func() {
		_ = conn.Run(c.ctx)
	}()

	msg.Remote = conn
	return conn, nil
}

// destination derives (host, port) from the unresolved remote-location
// string or, failing that, from the Uri-Host and Uri-Port options.
func destination(msg *Message) (string, int, error) {
	if msg.UnresolvedRemote != "" {
		raw := msg.UnresolvedRemote
		if !strings.Contains(raw, "://") {
			raw = "//" + raw
		}
		u, err := url.Parse(raw)
		if err != nil || u.Hostname() == "" {
			return "", 0, ErrNoLocation
		}
		port := DefaultPort
		if u.Port() != "" {
			port, err = strconv.Atoi(u.Port())
			if err != nil {
				return "", 0, ErrNoLocation
			}
		}
		return u.Hostname(), port, nil
	}

	if host, ok := msg.Options.Get(OptionURIHost); ok && len(host.Value) > 0 {
		port := DefaultPort
		if p, ok := msg.Options.Get(OptionURIPort); ok {
			port = int(p.Uint())
		}
		return string(host.Value), port, nil
	}

	return "", 0, ErrNoLocation
}

// evictFromPool removes a lost connection. Matching is by connection
// identity, so a connection that lost a dial race is never confused
// with the pooled one for the same destination.
func (c *Client) evictFromPool(conn *Conn) {
	c.poolMu.Lock()
	defer c.poolMu.Unlock()
	for key, pooled := range c.pool {
		if pooled.id == conn.id {
			delete(c.pool, key)
		}
	}
}

// connCount reports the number of pooled connections.
func (c *Client) connCount() int {
	c.poolMu.Lock()
	defer c.poolMu.Unlock()
	return len(c.pool)
}

// Shutdown aborts every pooled connection and drops the token-manager
// reference. Safe to call multiple times.
func (c *Client) Shutdown() error {
	c.poolMu.Lock()
	if c.shutdown {
		c.poolMu.Unlock()
		return nil
	}
	c.shutdown = true
	conns := make([]*Conn, 0, len(c.pool))
	for _, conn := range c.pool {
		conns = append(conns, conn)
	}
	c.poolMu.Unlock()

	for _, conn := range conns {
		conn.Abort("Server shutdown")
	}
	c.cancel()
	c.releaseTokenManager()
	return nil
}
