package coaptcp

import (
	"context"
	"errors"
	"net"
	"sync"

	"github.com/google/uuid"
	pkgerrors "github.com/pkg/errors"
)

// Server accepts stream connections on a listening endpoint and runs
// each one independently. Accepted connections live in a pool until
// they are lost or the server shuts down.
type Server struct {
	pooling

	id       uuid.UUID
	listener *net.TCPListener
	opts     options

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{} // closed when the accept loop has released

	poolMu   sync.Mutex
	pool     map[uuid.UUID]*Conn
	shutdown bool
}

// NewServer binds the address, starts the accept loop and returns. The
// token manager receives every decoded application message and every
// connection loss.
func NewServer(addr *net.TCPAddr, tm TokenManager, opt ...Option) (*Server, error) {
	var opts options
	for _, o := range opt {
		o(&opts)
	}
	checkOptions(&opts)

	listener, err := net.ListenTCP(addr.Network(), addr)
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "listen %s", addr)
	}

	s := &Server{
		id:       uuid.New(),
		listener: listener,
		opts:     opts,
		done:     make(chan struct{}),
		pool:     make(map[uuid.UUID]*Conn),
	}
	s.pooling = pooling{tm: tm, logger: opts.logger, evict: s.evictFromPool}
	s.ctx, s.cancel = context.WithCancel(context.Background())

	s.opts.logger.Info("server started", "addr", listener.Addr())
	go s.serve()

	return s, nil
}

// Addr returns the listener's network address.
func (s *Server) Addr() net.Addr {
	return s.listener.Addr()
}

// RecognizeRemote reports whether a message's remote is a live
// connection accepted by this server. The server never creates
// outgoing connections; it only recognizes existing ones.
func (s *Server) RecognizeRemote(msg *Message) bool {
	return msg.Remote != nil && msg.Remote.ownerID == s.id
}

// serve accepts connections until the listener is closed.
func (s *Server) serve() {
	defer close(s.done)

	for {
		raw, err := s.listener.AcceptTCP()
		if err != nil {
			s.poolMu.Lock()
			stopped := s.shutdown
			s.poolMu.Unlock()

			if stopped {
				s.opts.logger.Info("server stopped", "addr", s.listener.Addr())
				return
			}

			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			s.opts.logger.Error("accept error", "error", err)
			return
		}

		s.opts.logger.Debug("accepted connection", "remote_addr", raw.RemoteAddr())
		_ = raw.SetNoDelay(true)

		conn := newConn(raw, &s.pooling, s.id, s.opts)

		s.poolMu.Lock()
		if s.shutdown {
			s.poolMu.Unlock()
			raw.Close()
			return
		}
		s.pool[conn.id] = conn
		s.poolMu.Unlock()

		go func() {
			_ = conn.Run(s.ctx)
		}()
	}
}

func (s *Server) evictFromPool(conn *Conn) {
	s.poolMu.Lock()
	defer s.poolMu.Unlock()
	delete(s.pool, conn.id)
}

// connCount reports the number of pooled connections.
func (s *Server) connCount() int {
	s.poolMu.Lock()
	defer s.poolMu.Unlock()
	return len(s.pool)
}

// Shutdown closes the listening endpoint, aborts every pooled
// connection, waits for the accept loop to release, and drops the
// token-manager reference. Safe to call multiple times.
func (s *Server) Shutdown() error {
	s.poolMu.Lock()
	if s.shutdown {
		s.poolMu.Unlock()
		<-s.done
		return nil
	}
	s.shutdown = true
	conns := make([]*Conn, 0, len(s.pool))
	for _, c := range s.pool {
		conns = append(conns, c)
	}
	s.poolMu.Unlock()

	err := s.listener.Close()

	for _, c := range conns {
		c.Abort("Server shutdown")
	}
	s.cancel()

	<-s.done
	s.releaseTokenManager()
	return err
}
