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
	"errors"
	"fmt"
)

// ExceptionCode represents a Modbus exception code.
type ExceptionCode uint8

// Modbus exception codes.
const (
	ExceptionIllegalFunction                    ExceptionCode = 0x01
	ExceptionIllegalDataAddress                 ExceptionCode = 0x02
	ExceptionIllegalDataValue                   ExceptionCode = 0x03
	ExceptionServerDeviceFailure                ExceptionCode = 0x04
	ExceptionAcknowledge                        ExceptionCode = 0x05
	ExceptionServerDeviceBusy                   ExceptionCode = 0x06
	ExceptionMemoryParityError                  ExceptionCode = 0x08
	ExceptionGatewayPathUnavailable             ExceptionCode = 0x0A
	ExceptionGatewayTargetDeviceFailedToRespond ExceptionCode = 0x0B
)

// String returns the string representation of the exception code.
func (e ExceptionCode) String() string {
	switch e {
	case ExceptionIllegalFunction:
		return "illegal function"
	case ExceptionIllegalDataAddress:
		return "illegal data address"
	case ExceptionIllegalDataValue:
		return "illegal data value"
	case ExceptionServerDeviceFailure:
		return "server device failure"
	case ExceptionAcknowledge:
		return "acknowledge"
	case ExceptionServerDeviceBusy:
		return "server device busy"
	case ExceptionMemoryParityError:
		return "memory parity error"
	case ExceptionGatewayPathUnavailable:
		return "gateway path unavailable"
	case ExceptionGatewayTargetDeviceFailedToRespond:
		return "gateway target device failed to respond"
	default:
		return fmt.Sprintf("unknown exception (0x%02X)", uint8(e))
	}
}

// ModbusError represents a Modbus protocol error (exception response).
type ModbusError struct {
	FunctionCode  FunctionCode
	ExceptionCode ExceptionCode
}

// Error implements the error interface.
func (e *ModbusError) Error() string {
	return fmt.Sprintf("modbus: exception %s (FC=%02X)", e.ExceptionCode, uint8(e.FunctionCode))
}

// Is checks if the error matches the target.
func (e *ModbusError) Is(target error) bool {
	t, ok := target.(*ModbusError)
	if !ok {
		return false
	}
	return e.ExceptionCode == t.ExceptionCode
}

// PDU encodes the exception as a response PDU.
func (e *ModbusError) PDU() []byte {
	return []byte{byte(e.FunctionCode) | 0x80, byte(e.ExceptionCode)}
}

// NewModbusError creates a new Modbus exception error.
func NewModbusError(fc FunctionCode, ec ExceptionCode) *ModbusError {
	return &ModbusError{
		FunctionCode:  fc,
		ExceptionCode: ec,
	}
}

// Errors raised by the store, the codecs and the dispatcher.
var (
	// ErrIllegalFunction indicates an unsupported function code.
	ErrIllegalFunction = errors.New("modbus: illegal function")

	// ErrIllegalDataAddress indicates an address range outside a bank, or a
	// bank the addressed unit does not have.
	ErrIllegalDataAddress = errors.New("modbus: illegal data address")

	// ErrIllegalDataValue indicates a malformed request field such as a bad
	// quantity or byte count.
	ErrIllegalDataValue = errors.New("modbus: illegal data value")

	// ErrServerDeviceFailure indicates an unexpected internal failure.
	ErrServerDeviceFailure = errors.New("modbus: server device failure")

	// ErrInvalidFrame indicates a malformed frame.
	ErrInvalidFrame = errors.New("modbus: invalid frame")

	// ErrInvalidCRC indicates a CRC validation failure (RTU mode).
	ErrInvalidCRC = errors.New("modbus: invalid CRC")

	// ErrUnknownUnit indicates a unit id with no slave context in
	// multi-slave mode.
	ErrUnknownUnit = errors.New("modbus: unknown unit")

	// ErrInvalidConfig indicates a rejected static configuration.
	ErrInvalidConfig = errors.New("modbus: invalid configuration")
)

// ExceptionCodeOf maps an error to the exception code sent to the client.
// Errors outside the taxonomy become server device failures.
func ExceptionCodeOf(err error) ExceptionCode {
	var modbusErr *ModbusError
	switch {
	case errors.As(err, &modbusErr):
		return modbusErr.ExceptionCode
	case errors.Is(err, ErrIllegalFunction):
		return ExceptionIllegalFunction
	case errors.Is(err, ErrIllegalDataAddress):
		return ExceptionIllegalDataAddress
	case errors.Is(err, ErrIllegalDataValue):
		return ExceptionIllegalDataValue
	case errors.Is(err, ErrUnknownUnit):
		return ExceptionGatewayTargetDeviceFailedToRespond
	default:
		return ExceptionServerDeviceFailure
	}
}

// IsException checks if an error is a specific Modbus exception.
func IsException(err error, code ExceptionCode) bool {
	var modbusErr *ModbusError
	if errors.As(err, &modbusErr) {
		return modbusErr.ExceptionCode == code
	}
	return false
}

// IsFramingError reports whether err was raised below the PDU layer, where
// no exception response can be built.
func IsFramingError(err error) bool {
	return errors.Is(err, ErrInvalidFrame) || errors.Is(err, ErrInvalidCRC)
}
