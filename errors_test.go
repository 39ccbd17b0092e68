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
	"bytes"
	"errors"
	"fmt"
	"testing"
)

func TestExceptionCode_String(t *testing.T) {
	tests := []struct {
		code     ExceptionCode
		expected string
	}{
		{ExceptionIllegalFunction, "illegal function"},
		{ExceptionIllegalDataAddress, "illegal data address"},
		{ExceptionIllegalDataValue, "illegal data value"},
		{ExceptionServerDeviceFailure, "server device failure"},
		{ExceptionGatewayTargetDeviceFailedToRespond, "gateway target device failed to respond"},
		{ExceptionCode(0xFF), "unknown exception (0xFF)"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			if tt.code.String() != tt.expected {
				t.Errorf("Expected %s, got %s", tt.expected, tt.code.String())
			}
		})
	}
}

func TestModbusError(t *testing.T) {
	err := NewModbusError(FuncReadHoldingRegisters, ExceptionIllegalDataAddress)

	if err.FunctionCode != FuncReadHoldingRegisters {
		t.Errorf("FunctionCode: expected %d, got %d", FuncReadHoldingRegisters, err.FunctionCode)
	}
	if err.ExceptionCode != ExceptionIllegalDataAddress {
		t.Errorf("ExceptionCode: expected %d, got %d", ExceptionIllegalDataAddress, err.ExceptionCode)
	}
	if !bytes.Equal(err.PDU(), []byte{0x83, 0x02}) {
		t.Errorf("PDU: expected 8302, got %x", err.PDU())
	}
}

func TestIsException(t *testing.T) {
	err := fmt.Errorf("wrapped: %w", NewModbusError(FuncReadCoils, ExceptionIllegalFunction))

	if !IsException(err, ExceptionIllegalFunction) {
		t.Error("IsException should return true for matching exception")
	}
	if IsException(err, ExceptionIllegalDataAddress) {
		t.Error("IsException should return false for non-matching exception")
	}
	if IsException(errors.New("other error"), ExceptionIllegalFunction) {
		t.Error("IsException should return false for non-Modbus error")
	}
}

func TestModbusError_Is(t *testing.T) {
	err1 := NewModbusError(FuncReadCoils, ExceptionIllegalFunction)
	err2 := NewModbusError(FuncWriteSingleCoil, ExceptionIllegalFunction)
	err3 := NewModbusError(FuncReadCoils, ExceptionIllegalDataAddress)

	// Same exception code, different function code
	if !errors.Is(err1, err2) {
		t.Error("Errors with same exception code should match")
	}

	// Different exception code
	if errors.Is(err1, err3) {
		t.Error("Errors with different exception codes should not match")
	}
}

func TestExceptionCodeOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ExceptionCode
	}{
		{"illegal function", fmt.Errorf("%w: x", ErrIllegalFunction), ExceptionIllegalFunction},
		{"illegal address", fmt.Errorf("%w: x", ErrIllegalDataAddress), ExceptionIllegalDataAddress},
		{"illegal value", fmt.Errorf("%w: x", ErrIllegalDataValue), ExceptionIllegalDataValue},
		{"device failure", ErrServerDeviceFailure, ExceptionServerDeviceFailure},
		{"unknown unit", ErrUnknownUnit, ExceptionGatewayTargetDeviceFailedToRespond},
		{"modbus error", NewModbusError(FuncReadCoils, ExceptionServerDeviceBusy), ExceptionServerDeviceBusy},
		{"anything else", errors.New("disk on fire"), ExceptionServerDeviceFailure},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ExceptionCodeOf(tt.err); got != tt.want {
				t.Errorf("Expected %s, got %s", tt.want, got)
			}
		})
	}
}

func TestIsFramingError(t *testing.T) {
	if !IsFramingError(fmt.Errorf("%w: bad", ErrInvalidCRC)) {
		t.Error("ErrInvalidCRC should be a framing error")
	}
	if !IsFramingError(ErrInvalidFrame) {
		t.Error("ErrInvalidFrame should be a framing error")
	}
	if IsFramingError(ErrIllegalDataValue) {
		t.Error("ErrIllegalDataValue should not be a framing error")
	}
}
