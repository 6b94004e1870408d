package main

import (
	"context"
	"log/slog"
	"net"

	"streamline/internal/core"
)

// Server is the plain-TCP chat listener. No TLS, no WebSocket: the wire
// protocol is newline-delimited JSON over a bare socket.
type Server struct {
	addr string
	disp *core.Dispatcher
	log  *slog.Logger
}

func NewServer(addr string, disp *core.Dispatcher, log *slog.Logger) *Server {
	return &Server{addr: addr, disp: disp, log: log}
}

// Run listens on s.addr and spawns a handleConn goroutine per accepted
// connection until ctx is canceled.
func (s *Server) Run(ctx context.Context) error {
	lc := net.ListenConfig{}
	ln, err := lc.Listen(ctx, "tcp", s.addr)
	if err != nil {
		return err
	}
	s.log.Info("listening", "addr", s.addr)

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				s.log.Warn("accept error", "err", err)
				continue
			}
		}
		go handleConn(ctx, conn, s.disp, s.log)
	}
}
