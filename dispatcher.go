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
	"fmt"
	"log/slog"
	"runtime/debug"
)

// Dispatcher executes decoded requests against a ServerContext and builds
// response PDUs. It is transport independent and safe for concurrent use;
// the TCP and RTU servers share one.
type Dispatcher struct {
	ctx      *ServerContext
	logger   *slog.Logger
	metrics  *ServerMetrics
	serverID []byte
}

// DispatcherOption is a functional option for configuring the dispatcher.
type DispatcherOption func(*Dispatcher)

// WithLogger sets the logger for the dispatcher.
func WithLogger(logger *slog.Logger) DispatcherOption {
	return func(d *Dispatcher) {
		d.logger = logger
	}
}

// WithServerID sets the identifier returned by Report Server ID.
func WithServerID(id []byte) DispatcherOption {
	return func(d *Dispatcher) {
		d.serverID = append([]byte(nil), id...)
	}
}

// WithMetrics shares an existing metrics instance.
func WithMetrics(m *ServerMetrics) DispatcherOption {
	return func(d *Dispatcher) {
		d.metrics = m
	}
}

// NewDispatcher creates a dispatcher serving ctx.
func NewDispatcher(ctx *ServerContext, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		ctx:      ctx,
		logger:   slog.Default(),
		serverID: []byte(DefaultServerID),
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.metrics == nil {
		d.metrics = NewServerMetrics()
	}
	return d
}

// Context returns the server context.
func (d *Dispatcher) Context() *ServerContext {
	return d.ctx
}

// Metrics returns the dispatcher metrics.
func (d *Dispatcher) Metrics() *ServerMetrics {
	return d.metrics
}

// Handle executes one request PDU addressed to unit and returns the
// response PDU. Request and store faults become exception PDUs. The only
// error is ErrUnknownUnit, for which no PDU is built and the transport
// decides whether to answer.
func (d *Dispatcher) Handle(unit UnitID, pdu []byte) ([]byte, error) {
	start := timeNow()
	slave, err := d.ctx.Slave(unit)
	if err != nil {
		return nil, err
	}
	d.metrics.RequestsTotal.Add(1)

	var fc FunctionCode
	if len(pdu) > 0 {
		fc = FunctionCode(pdu[0])
	}
	fm := d.metrics.ForFunction(fc)
	fm.Requests.Add(1)

	d.logger.Debug("processing request",
		slog.Uint64("unit_id", uint64(unit)),
		slog.String("func", fc.String()))

	resp, err := d.execute(slave, pdu)
	if err != nil {
		resp = d.exception(fc, err)
		d.metrics.Exceptions.Add(1)
		fm.Exceptions.Add(1)
	} else {
		d.metrics.RequestsSuccess.Add(1)
	}

	elapsed := timeNow().Sub(start)
	d.metrics.Latency.Observe(elapsed)
	fm.Latency.Observe(elapsed)
	return resp, nil
}

// Broadcast executes pdu on every slave context without building a
// response.
func (d *Dispatcher) Broadcast(pdu []byte) {
	d.metrics.RequestsTotal.Add(1)
	d.metrics.NoResponse.Add(1)
	for _, slave := range d.ctx.Slaves() {
		if _, err := d.execute(slave, pdu); err != nil {
			d.logger.Debug("broadcast request failed",
				slog.Uint64("unit_id", uint64(slave.Unit())),
				slog.String("error", err.Error()))
		}
	}
}

func (d *Dispatcher) exception(fc FunctionCode, err error) []byte {
	ec := ExceptionCodeOf(err)
	if ec == ExceptionServerDeviceFailure {
		d.logger.Error("handler error",
			slog.String("func", fc.String()),
			slog.String("error", err.Error()))
	} else {
		d.logger.Debug("exception response",
			slog.String("func", fc.String()),
			slog.String("exception", ec.String()),
			slog.String("error", err.Error()))
	}
	return NewModbusError(fc, ec).PDU()
}

func (d *Dispatcher) execute(slave *SlaveContext, pdu []byte) (resp []byte, err error) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("panic in request handler",
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())))
			resp, err = nil, fmt.Errorf("%w: %v", ErrServerDeviceFailure, r)
		}
	}()

	req, err := DecodeRequest(pdu)
	if err != nil {
		return nil, err
	}

	switch req.Function {
	case FuncReadCoils, FuncReadDiscreteInputs:
		kind, _ := BankKindFor(req.Function)
		values, err := slave.Read(kind, req.Address, int(req.Quantity))
		if err != nil {
			return nil, err
		}
		data := packBits(values)
		return append([]byte{byte(req.Function), byte(len(data))}, data...), nil

	case FuncReadHoldingRegisters, FuncReadInputRegisters:
		kind, _ := BankKindFor(req.Function)
		values, err := slave.Read(kind, req.Address, int(req.Quantity))
		if err != nil {
			return nil, err
		}
		return wordsResponse(req.Function, values), nil

	case FuncWriteSingleCoil:
		if err := slave.Write(Coils, req.Address, []uint16{bitValue(req.Value)}); err != nil {
			return nil, err
		}
		return req.Encode(), nil

	case FuncWriteSingleRegister:
		if err := slave.Write(HoldingRegisters, req.Address, []uint16{req.Value}); err != nil {
			return nil, err
		}
		return req.Encode(), nil

	case FuncWriteMultipleCoils, FuncWriteMultipleRegisters:
		kind, _ := BankKindFor(req.Function)
		if err := slave.Write(kind, req.Address, req.Values); err != nil {
			return nil, err
		}
		return put16s(req.Function, req.Address, req.Quantity), nil

	case FuncMaskWriteRegister:
		if _, err := slave.MaskWrite(req.Address, req.AndMask, req.OrMask); err != nil {
			return nil, err
		}
		return req.Encode(), nil

	case FuncReadWriteMultipleRegisters:
		values, err := slave.ReadWrite(req.Address, int(req.Quantity), req.WriteAddress, req.Values)
		if err != nil {
			return nil, err
		}
		return wordsResponse(req.Function, values), nil

	case FuncReadExceptionStatus:
		return []byte{byte(FuncReadExceptionStatus), 0x00}, nil

	case FuncDiagnostics:
		return d.diagnostics(req)

	case FuncGetCommEventCounter:
		return put16s(FuncGetCommEventCounter, 0x0000, uint16(d.metrics.RequestsSuccess.Value())), nil

	case FuncReportServerID:
		id := d.serverID
		if len(id) > MaxPDUSize-3 {
			id = id[:MaxPDUSize-3]
		}
		resp := make([]byte, 0, 3+len(id))
		resp = append(resp, byte(FuncReportServerID), byte(len(id)+1))
		resp = append(resp, id...)
		return append(resp, 0xFF), nil // run indicator: ON
	}

	return nil, fmt.Errorf("%w: function code 0x%02X", ErrIllegalFunction, uint8(req.Function))
}

func (d *Dispatcher) diagnostics(req *Request) ([]byte, error) {
	echo := func() []byte {
		return append(put16s(FuncDiagnostics, req.SubFunction), req.Data...)
	}
	counter := func(c *Counter) []byte {
		return put16s(FuncDiagnostics, req.SubFunction, uint16(c.Value()))
	}

	switch req.SubFunction {
	case DiagReturnQueryData:
		return echo(), nil
	case DiagRestartCommunications, DiagClearCountersAndDiagnosticRegister:
		d.metrics.ResetCounters()
		return echo(), nil
	case DiagReturnBusMessageCount:
		return counter(&d.metrics.FramesTotal), nil
	case DiagReturnBusCommunicationErrorCount:
		return counter(&d.metrics.FramesDropped), nil
	case DiagReturnBusExceptionErrorCount:
		return counter(&d.metrics.Exceptions), nil
	case DiagReturnServerMessageCount:
		return counter(&d.metrics.RequestsTotal), nil
	case DiagReturnServerNoResponseCount:
		return counter(&d.metrics.NoResponse), nil
	default:
		return nil, fmt.Errorf("%w: diagnostics sub-function 0x%04X", ErrIllegalFunction, req.SubFunction)
	}
}

func wordsResponse(fc FunctionCode, values []uint16) []byte {
	data := packWords(values)
	return append([]byte{byte(fc), byte(len(data))}, data...)
}
