package main

import (
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/Zereker/coaptcp"
)

// echoManager answers every request with a 2.05 Content response
// carrying the request payload back.
type echoManager struct {
	logger coaptcp.Logger
}

func (m *echoManager) ProcessRequest(msg *coaptcp.Message) {
	reply := coaptcp.NewMessage(2<<5|5, msg.Token)
	reply.Payload = msg.Payload
	reply.Remote = msg.Remote

	if err := msg.Remote.Write(reply); err != nil {
		m.logger.Error("echo reply failed", "error", err)
	}
}

func (m *echoManager) ProcessResponse(msg *coaptcp.Message) {
	m.logger.Info("response received", "code", msg.Code, "token", msg.Token)
}

func (m *echoManager) DispatchError(code int, conn *coaptcp.Conn) {
	m.logger.Info("connection lost", "errno", code, "id", conn.ID())
}

func main() {
	output := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	logger := coaptcp.NewZerologLogger(
		zerolog.New(output).With().Timestamp().Str("app", "coap-echo").Logger())

	cfg := coaptcp.DefaultConfig()
	if len(os.Args) > 1 {
		loaded, err := coaptcp.LoadConfig(os.Args[1])
		if err != nil {
			logger.Error("failed to load config", "error", err)
			return
		}
		cfg = loaded
	}

	addr, err := net.ResolveTCPAddr("tcp", cfg.ListenAddr)
	if err != nil {
		logger.Error("invalid listen address", "error", err)
		return
	}

	opts := append(cfg.Options(), coaptcp.LoggerOption(logger))
	server, err := coaptcp.NewServer(addr, &echoManager{logger: logger}, opts...)
	if err != nil {
		logger.Error("failed to create server", "error", err)
		return
	}

	logger.Info("server start", "addr", server.Addr())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logger.Info("shutting down server...")
	if err := server.Shutdown(); err != nil {
		logger.Error("shutdown error", "error", err)
	}
}
