package coaptcp

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"testing"
	"time"
)

// sinkServer accepts connections and discards whatever arrives, keeping
// the accepted sockets around so tests can kill them.
type sinkServer struct {
	listener net.Listener

	mu       sync.Mutex
	accepted []net.Conn
}

func startSinkServer(t *testing.T) *sinkServer {
	t.Helper()

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to create sink listener: %v", err)
	}

	s := &sinkServer{listener: listener}
	go func() {
		for {
			conn, err := listener.Accept()
			if err != nil {
				return
			}
			s.mu.Lock()
			s.accepted = append(s.accepted, conn)
			s.mu.Unlock()
			go func() {
				_, _ = io.Copy(io.Discard, conn)
			}()
		}
	}()

	t.Cleanup(func() {
		listener.Close()
		s.mu.Lock()
		defer s.mu.Unlock()
		for _, conn := range s.accepted {
			conn.Close()
		}
	})
	return s
}

func (s *sinkServer) addr() string {
	return s.listener.Addr().String()
}

func (s *sinkServer) port() int {
	return s.listener.Addr().(*net.TCPAddr).Port
}

func (s *sinkServer) acceptedCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.accepted)
}

func (s *sinkServer) closeAccepted() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, conn := range s.accepted {
		conn.Close()
	}
}

func TestClient_PoolReuse(t *testing.T) {
	sinkA := startSinkServer(t)
	sinkB := startSinkServer(t)

	tm := &mockTokenManager{}
	client := NewClient(tm)
	defer client.Shutdown()

	ctx := context.Background()

	first, err := client.ResolveRemote(ctx, &Message{Code: 1, UnresolvedRemote: sinkA.addr()})
	if err != nil {
		t.Fatalf("first resolve failed: %v", err)
	}
	second, err := client.ResolveRemote(ctx, &Message{Code: 1, UnresolvedRemote: sinkA.addr()})
	if err != nil {
		t.Fatalf("second resolve failed: %v", err)
	}
	if first.ID() != second.ID() {
		t.Error("same destination resolved to different connections")
	}

	third, err := client.ResolveRemote(ctx, &Message{Code: 1, UnresolvedRemote: sinkB.addr()})
	if err != nil {
		t.Fatalf("third resolve failed: %v", err)
	}
	if third.ID() == first.ID() {
		t.Error("different destination reused a connection")
	}

	if client.connCount() != 2 {
		t.Errorf("pool size = %d, want 2", client.connCount())
	}
}

func TestClient_ResolveByURIOptions(t *testing.T) {
	sink := startSinkServer(t)

	tm := &mockTokenManager{}
	client := NewClient(tm)
	defer client.Shutdown()

	msg := &Message{Code: 1, Options: Options{
		StringOption(OptionURIHost, "127.0.0.1"),
		UintOption(OptionURIPort, uint64(sink.port())),
	}}

	conn, err := client.ResolveRemote(context.Background(), msg)
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if msg.Remote != conn {
		t.Error("message not bound to the resolved connection")
	}
}

func TestClient_RecognizesOwnRemote(t *testing.T) {
	sink := startSinkServer(t)

	tm := &mockTokenManager{}
	client := NewClient(tm)
	defer client.Shutdown()

	first, err := client.ResolveRemote(context.Background(), &Message{Code: 1, UnresolvedRemote: sink.addr()})
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}

	// A message already carrying one of our connections reuses it, even
	// without any destination fields.
	again, err := client.ResolveRemote(context.Background(), &Message{Code: 1, Remote: first})
	if err != nil {
		t.Fatalf("re-resolve failed: %v", err)
	}
	if again != first {
		t.Error("established remote not reused")
	}
}

func TestClient_NoLocation(t *testing.T) {
	tm := &mockTokenManager{}
	client := NewClient(tm)
	defer client.Shutdown()

	_, err := client.ResolveRemote(context.Background(), &Message{Code: 1})
	if !errors.Is(err, ErrNoLocation) {
		t.Errorf("err = %v, want ErrNoLocation", err)
	}
}

func TestDestination(t *testing.T) {
	tests := []struct {
		name    string
		msg     *Message
		host    string
		port    int
		wantErr bool
	}{
		{
			"authority with port",
			&Message{UnresolvedRemote: "device.example:9000"},
			"device.example", 9000, false,
		},
		{
			"authority without port",
			&Message{UnresolvedRemote: "device.example"},
			"device.example", DefaultPort, false,
		},
		{
			"full url",
			&Message{UnresolvedRemote: "coap+tcp://device.example:9000"},
			"device.example", 9000, false,
		},
		{
			"ipv6 authority",
			&Message{UnresolvedRemote: "[::1]:9000"},
			"::1", 9000, false,
		},
		{
			"uri options",
			&Message{Options: Options{
				StringOption(OptionURIHost, "device.example"),
				UintOption(OptionURIPort, 7000),
			}},
			"device.example", 7000, false,
		},
		{
			"uri host only",
			&Message{Options: Options{StringOption(OptionURIHost, "device.example")}},
			"device.example", DefaultPort, false,
		},
		{"nothing", &Message{}, "", 0, true},
		{"empty host", &Message{UnresolvedRemote: ":9000"}, "", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			host, port, err := destination(tt.msg)
			if tt.wantErr {
				if !errors.Is(err, ErrNoLocation) {
					t.Fatalf("err = %v, want ErrNoLocation", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("destination failed: %v", err)
			}
			if host != tt.host || port != tt.port {
				t.Errorf("destination = (%s, %d), want (%s, %d)", host, port, tt.host, tt.port)
			}
		})
	}
}

func TestClient_EvictionOnLoss(t *testing.T) {
	sink := startSinkServer(t)

	tm := &mockTokenManager{}
	client := NewClient(tm)
	defer client.Shutdown()

	conn, err := client.ResolveRemote(context.Background(), &Message{Code: 1, UnresolvedRemote: sink.addr()})
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	waitFor(t, 2*time.Second, func() bool {
		return sink.acceptedCount() == 1
	}, "sink never saw the connection")

	sink.closeAccepted()

	waitFor(t, 2*time.Second, func() bool {
		return client.connCount() == 0 && tm.errorCount() == 1
	}, "connection loss not propagated")

	tm.mu.Lock()
	code, lostConn := tm.errorCodes[0], tm.errorConns[0]
	tm.mu.Unlock()

	if code != 0 {
		t.Errorf("dispatch error code = %d, want 0", code)
	}
	if lostConn.ID() != conn.ID() {
		t.Error("dispatch error names the wrong connection")
	}

	// Exactly one notification for one loss.
	time.Sleep(50 * time.Millisecond)
	if tm.errorCount() != 1 {
		t.Errorf("error notifications = %d, want 1", tm.errorCount())
	}
}

func TestClient_SendMessage(t *testing.T) {
	tm := &mockTokenManager{}
	client := NewClient(tm)
	defer client.Shutdown()

	if err := client.SendMessage(&Message{Code: 1}); !errors.Is(err, ErrNoLocation) {
		t.Errorf("SendMessage without remote: err = %v, want ErrNoLocation", err)
	}
}

func TestClient_Shutdown(t *testing.T) {
	sink := startSinkServer(t)

	tm := &mockTokenManager{}
	client := NewClient(tm)

	conn, err := client.ResolveRemote(context.Background(), &Message{Code: 1, UnresolvedRemote: sink.addr()})
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}

	if err := client.Shutdown(); err != nil {
		t.Fatalf("Shutdown failed: %v", err)
	}
	if !conn.IsClosed() {
		t.Error("pooled connection not closed by shutdown")
	}

	if _, err := client.ResolveRemote(context.Background(), &Message{Code: 1, UnresolvedRemote: sink.addr()}); !errors.Is(err, ErrConnectionClosed) {
		t.Errorf("resolve after shutdown: err = %v, want ErrConnectionClosed", err)
	}

	// Safe to call again.
	if err := client.Shutdown(); err != nil {
		t.Errorf("second Shutdown failed: %v", err)
	}
}
