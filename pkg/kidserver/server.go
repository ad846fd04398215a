// Copyright 2025 KrakLabs
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package kidserver accepts agent connections on a loopback TCP port and
// arbitrates the single authorized-agent slot, grounded on the reference
// tcp::Server/KidmonServer/AgentManager trio.
package kidserver

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/kraklabs/kidmon/pkg/comm"
	"github.com/kraklabs/kidmon/pkg/netconn"
)

// CreateConnectionFunc builds the per-connection object a newly-accepted
// socket is handed to, mirroring tcp::Server::CreateConnectionCb — the
// pluggable factory that lets a caller substitute its own Connection
// subclass (here, always an *comm.AgentConnection wired by AgentManager).
type CreateConnectionFunc func(socket net.Conn) *comm.AgentConnection

// Server accepts TCP connections on 127.0.0.1:<port> and hands each one
// to a CreateConnectionFunc. It never binds beyond loopback — the agent
// and server are expected to run on the same host.
type Server struct {
	logger      *slog.Logger
	createConn  CreateConnectionFunc
	idleTimeout time.Duration
	readBufSize int
	onListening func(port int)
}

// Option configures a Server.
type Option func(*Server)

// WithIdleTimeout sets the per-connection idle timer passed to netconn.New.
func WithIdleTimeout(d time.Duration) Option { return func(s *Server) { s.idleTimeout = d } }

// WithReadBufferSize overrides netconn's default 4 KiB read buffer.
func WithReadBufferSize(n int) Option { return func(s *Server) { s.readBufSize = n } }

// WithOnListening registers a callback fired once the listener is bound,
// receiving the actual port (useful when port 0 requests an ephemeral one).
func WithOnListening(f func(port int)) Option { return func(s *Server) { s.onListening = f } }

// IdleTimeout returns the configured per-connection idle timer, for a
// CreateConnectionFunc to pass along to netconn.New.
func (s *Server) IdleTimeout() time.Duration { return s.idleTimeout }

// ReadBufferSize returns the configured read-buffer size, for a
// CreateConnectionFunc to pass along to netconn.New.
func (s *Server) ReadBufferSize() int { return s.readBufSize }

// New builds a Server that hands every accepted socket to createConn.
func New(createConn CreateConnectionFunc, logger *slog.Logger, opts ...Option) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{logger: logger, createConn: createConn, readBufSize: netconn.DefaultBufferSize}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Listen binds 127.0.0.1:port (port 0 picks an ephemeral one) and accepts
// connections until ctx is cancelled or a non-temporary accept error
// occurs. Each accepted connection gets its own goroutine via
// AgentConnection's internal read loop; Listen itself blocks until the
// accept loop exits.
func (s *Server) Listen(ctx context.Context, port int) error {
	ln, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", port))
	if err != nil {
		return fmt.Errorf("kidserver: listen: %w", err)
	}
	defer ln.Close()

	if tcpAddr, ok := ln.Addr().(*net.TCPAddr); ok {
		s.logger.Info("kidserver.listening", "port", tcpAddr.Port)
		if s.onListening != nil {
			s.onListening(tcpAddr.Port)
		}
	}

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			s.logger.Error("kidserver.accept_error", "err", err)
			return err
		}
		s.logger.Info("kidserver.accepted", "remote", conn.RemoteAddr())
		ac := s.createConn(conn)
		ac.Start()
	}
}
