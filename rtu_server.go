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
	"log/slog"
	"runtime/debug"
	"sync/atomic"
)

// RTUServer serves Modbus RTU requests on a single serial line. Frames are
// delimited by t3.5 of line silence; corrupt frames are dropped without a
// reply and the server keeps listening.
type RTUServer struct {
	dispatcher *Dispatcher
	line       Line
	baud       int
	opts       *serverOptions
	framer     *rtuFramer
	closed     int32
}

// NewRTUServer creates an RTU server on line, running at baud.
func NewRTUServer(dispatcher *Dispatcher, line Line, baud int, opts ...ServerOption) *RTUServer {
	options := defaultServerOptions()
	for _, opt := range opts {
		opt(options)
	}
	if baud <= 0 {
		baud = DefaultBaudRate
	}

	return &RTUServer{
		dispatcher: dispatcher,
		line:       line,
		baud:       baud,
		opts:       options,
		framer:     newRTUFramer(line, baud, options.pollInterval),
	}
}

// Metrics returns the server metrics.
func (s *RTUServer) Metrics() *ServerMetrics {
	return s.dispatcher.Metrics()
}

// Serve reads and answers frames until ctx is cancelled or Close is called,
// in which case it returns nil. Any other line error is returned.
func (s *RTUServer) Serve(ctx context.Context) error {
	s.opts.logger.Info("rtu server started",
		slog.Int("baud", s.baud),
		slog.Duration("t35", s.framer.silence))

	for {
		adu, err := s.framer.readADU(ctx)
		if err != nil {
			if atomic.LoadInt32(&s.closed) == 1 || ctx.Err() != nil {
				s.opts.logger.Info("rtu server stopped")
				return nil
			}
			if errors.Is(err, ErrInvalidFrame) {
				s.drop(err)
				continue
			}
			return err
		}
		if err := s.serveFrame(adu); err != nil {
			if atomic.LoadInt32(&s.closed) == 1 {
				return nil
			}
			return err
		}
	}
}

// Close stops Serve and closes the line.
func (s *RTUServer) Close() error {
	if !atomic.CompareAndSwapInt32(&s.closed, 0, 1) {
		return nil
	}
	return s.line.Close()
}

func (s *RTUServer) drop(err error) {
	s.Metrics().FramesTotal.Add(1)
	s.Metrics().FramesDropped.Add(1)
	s.opts.logger.Debug("dropping frame", slog.String("error", err.Error()))
}

// serveFrame handles one delimited ADU. Only a failed write is returned.
func (s *RTUServer) serveFrame(adu []byte) (err error) {
	defer func() {
		if r := recover(); r != nil {
			s.opts.logger.Error("panic in rtu handler",
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())))
		}
	}()

	frame, err := DecodeRTUFrame(adu)
	if err != nil {
		s.drop(err)
		return nil
	}
	s.Metrics().FramesTotal.Add(1)

	// single mode routes every unit id, including 0, to its one slave
	if frame.UnitID == BroadcastUnitID && !s.dispatcher.Context().Single() {
		s.dispatcher.Broadcast(frame.PDU)
		return nil
	}

	pdu, err := s.dispatcher.Handle(frame.UnitID, frame.PDU)
	if err != nil {
		// another device on the bus owns this unit id
		s.opts.logger.Debug("ignoring frame for unknown unit",
			slog.Uint64("unit_id", uint64(frame.UnitID)))
		return nil
	}

	reply := &RTUFrame{UnitID: frame.UnitID, PDU: pdu}
	if _, err := s.line.Write(reply.Encode()); err != nil {
		s.opts.logger.Debug("write error", slog.String("error", err.Error()))
		return err
	}
	return nil
}
