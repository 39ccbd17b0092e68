// Copyright 2025 Edgeo SCADA
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package modbus

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"
)

// Server is a Modbus TCP server. Each accepted connection is served by its
// own goroutine; all of them share one Dispatcher.
type Server struct {
	dispatcher *Dispatcher
	opts       *serverOptions

	mu       sync.Mutex
	listener net.Listener
	conns    map[net.Conn]struct{}
	closed   int32
	wg       sync.WaitGroup
}

// NewServer creates a new Modbus TCP server.
func NewServer(dispatcher *Dispatcher, opts ...ServerOption) *Server {
	options := defaultServerOptions()
	for _, opt := range opts {
		opt(options)
	}

	return &Server{
		dispatcher: dispatcher,
		opts:       options,
		conns:      make(map[net.Conn]struct{}),
	}
}

// Metrics returns the server metrics.
func (s *Server) Metrics() *ServerMetrics {
	return s.dispatcher.Metrics()
}

// ListenAndServe starts the server on the given address.
func (s *Server) ListenAndServe(addr string) error {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(listener)
}

// ListenAndServeContext starts the server with context support.
func (s *Server) ListenAndServeContext(ctx context.Context, addr string) error {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}

	go func() {
		<-ctx.Done()
		s.Close()
	}()

	return s.Serve(listener)
}

// Serve starts serving connections on the given listener. It returns nil
// once Close has been called.
func (s *Server) Serve(listener net.Listener) error {
	s.mu.Lock()
	s.listener = listener
	s.mu.Unlock()
	if atomic.LoadInt32(&s.closed) == 1 {
		listener.Close()
		return nil
	}
	s.opts.logger.Info("server started", slog.String("addr", listener.Addr().String()))

	for {
		conn, err := listener.Accept()
		if err != nil {
			if atomic.LoadInt32(&s.closed) == 1 {
				return nil
			}
			s.opts.logger.Error("accept error", slog.String("error", err.Error()))
			time.Sleep(5 * time.Millisecond)
			continue
		}

		s.mu.Lock()
		if atomic.LoadInt32(&s.closed) == 1 {
			s.mu.Unlock()
			conn.Close()
			return nil
		}
		if s.opts.maxConns > 0 && len(s.conns) >= s.opts.maxConns {
			s.mu.Unlock()
			s.opts.logger.Warn("max connections reached, rejecting",
				slog.String("remote", conn.RemoteAddr().String()))
			conn.Close()
			continue
		}
		s.conns[conn] = struct{}{}
		s.Metrics().ActiveConns.Add(1)
		s.Metrics().TotalConns.Add(1)
		s.wg.Add(1)
		s.mu.Unlock()

		if tcpConn, ok := conn.(*net.TCPConn); ok {
			tcpConn.SetKeepAlive(true)
			tcpConn.SetKeepAlivePeriod(30 * time.Second)
			tcpConn.SetNoDelay(true)
		}

		go s.handleConn(conn)
	}
}

// Close stops accepting, closes every open session and waits for their
// goroutines to exit.
func (s *Server) Close() error {
	if !atomic.CompareAndSwapInt32(&s.closed, 0, 1) {
		return nil
	}

	s.mu.Lock()
	var err error
	if s.listener != nil {
		err = s.listener.Close()
	}
	for conn := range s.conns {
		conn.Close()
	}
	s.mu.Unlock()

	s.wg.Wait()
	s.opts.logger.Info("server stopped")
	return err
}

// Addr returns the server's address.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return s.listener.Addr()
	}
	return nil
}

// ActiveConnections returns the number of active connections.
func (s *Server) ActiveConnections() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

func (s *Server) handleConn(conn net.Conn) {
	remote := conn.RemoteAddr().String()
	defer func() {
		// Recover from panic to prevent server crash
		if r := recover(); r != nil {
			s.opts.logger.Error("panic in connection handler",
				slog.String("remote", remote),
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())))
		}

		conn.Close()
		s.mu.Lock()
		delete(s.conns, conn)
		s.Metrics().ActiveConns.Add(-1)
		s.mu.Unlock()
		s.wg.Done()
	}()

	s.opts.logger.Debug("connection accepted", slog.String("remote", remote))

	for {
		if atomic.LoadInt32(&s.closed) == 1 {
			return
		}

		if s.opts.readTimeout > 0 {
			conn.SetReadDeadline(timeNow().Add(s.opts.readTimeout))
		}

		frame, err := ReadFrame(conn)
		if err != nil {
			s.readFailed(remote, err)
			return
		}
		s.Metrics().FramesTotal.Add(1)

		pdu, err := s.dispatcher.Handle(frame.Header.UnitID, frame.PDU)
		if err != nil {
			if s.opts.ignoreMissingUnits {
				s.Metrics().NoResponse.Add(1)
				s.opts.logger.Debug("ignoring request for unknown unit",
					slog.String("remote", remote),
					slog.Uint64("unit_id", uint64(frame.Header.UnitID)))
				continue
			}
			pdu = NewModbusError(FunctionCode(frame.PDU[0]), ExceptionCodeOf(err)).PDU()
		}

		if s.opts.readTimeout > 0 {
			conn.SetWriteDeadline(timeNow().Add(s.opts.readTimeout))
		}

		if _, err := conn.Write(frame.Reply(pdu).Encode()); err != nil {
			s.opts.logger.Debug("write error",
				slog.String("remote", remote),
				slog.String("error", err.Error()))
			return
		}
	}
}

// readFailed logs why a session ends. A malformed header leaves the stream
// unsynchronized, so the connection is closed rather than answered.
func (s *Server) readFailed(remote string, err error) {
	if atomic.LoadInt32(&s.closed) == 1 {
		return
	}
	switch {
	case errors.Is(err, io.EOF):
		s.opts.logger.Debug("connection closed by peer", slog.String("remote", remote))
	case errors.Is(err, ErrInvalidFrame):
		s.Metrics().FramesTotal.Add(1)
		s.Metrics().FramesDropped.Add(1)
		s.opts.logger.Warn("malformed frame, closing connection",
			slog.String("remote", remote),
			slog.String("error", err.Error()))
	default:
		// Don't log timeout errors as they're expected for idle connections
		if netErr, ok := err.(net.Error); !ok || !netErr.Timeout() {
			s.opts.logger.Debug("read error",
				slog.String("remote", remote),
				slog.String("error", err.Error()))
		}
	}
}
