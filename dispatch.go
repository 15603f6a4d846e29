package coaptcp

import (
	"errors"
	"sync"
	"syscall"
)

// TokenManager is the application-layer consumer of decoded messages.
// It owns request/response matching, retransmission and timeouts; this
// transport only routes. DispatchError reports a connection loss with a
// best-effort OS error number, or 0 when none is available.
type TokenManager interface {
	ProcessRequest(msg *Message)
	ProcessResponse(msg *Message)
	DispatchError(code int, conn *Conn)
}

// dispatcher is the narrow capability handed to each connection:
// forward a decoded application message, or report the connection lost.
type dispatcher interface {
	dispatchIncoming(conn *Conn, msg *Message)
	dispatchError(conn *Conn, err error)
}

// pooling is the dispatch bridge shared by the client and server pools.
// The evict hook is injected by the owning pool so connections never
// touch pool internals directly.
type pooling struct {
	mu     sync.Mutex
	tm     TokenManager
	logger Logger
	evict  func(conn *Conn)
}

func (p *pooling) tokenManager() TokenManager {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.tm
}

// releaseTokenManager drops the token-manager reference on shutdown.
func (p *pooling) releaseTokenManager() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.tm = nil
}

// SendMessage writes a message on the connection it is bound to.
func (p *pooling) SendMessage(msg *Message) error {
	if msg.Remote == nil {
		return ErrNoLocation
	}
	return msg.Remote.Write(msg)
}

func (p *pooling) dispatchIncoming(conn *Conn, msg *Message) {
	tm := p.tokenManager()
	if tm == nil {
		return
	}

	if msg.Code.IsResponse() {
		// An unexpected response can be the late result of a
		// cancelled exchange; the token manager's verdict is ignored.
		tm.ProcessResponse(msg)
		return
	}
	tm.ProcessRequest(msg)
}

func (p *pooling) dispatchError(conn *Conn, err error) {
	p.evict(conn)

	tm := p.tokenManager()
	if tm == nil {
		return
	}

	var errno syscall.Errno
	if err != nil && errors.As(err, &errno) {
		tm.DispatchError(int(errno), conn)
		return
	}
	if err != nil {
		p.logger.Info("expressing connection error as errno 0", "error", err)
	}
	tm.DispatchError(0, conn)
}
