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

// Package modbus implements a Modbus server simulator: an in-memory register
// store answering requests over Modbus TCP and Modbus RTU.
package modbus

import (
	"fmt"
	"strings"
	"time"
)

// UnitID represents the Modbus unit identifier (slave address).
type UnitID uint8

// BroadcastUnitID addresses every slave on an RTU line. In multi-slave mode
// broadcast requests are executed but never answered; a single-slave context
// answers unit 0 like any other id.
const BroadcastUnitID UnitID = 0

// FunctionCode represents a Modbus function code.
type FunctionCode uint8

// Function codes answered by the simulator.
const (
	FuncReadCoils                  FunctionCode = 0x01
	FuncReadDiscreteInputs         FunctionCode = 0x02
	FuncReadHoldingRegisters       FunctionCode = 0x03
	FuncReadInputRegisters         FunctionCode = 0x04
	FuncWriteSingleCoil            FunctionCode = 0x05
	FuncWriteSingleRegister        FunctionCode = 0x06
	FuncReadExceptionStatus        FunctionCode = 0x07
	FuncDiagnostics                FunctionCode = 0x08
	FuncGetCommEventCounter        FunctionCode = 0x0B
	FuncWriteMultipleCoils         FunctionCode = 0x0F
	FuncWriteMultipleRegisters     FunctionCode = 0x10
	FuncReportServerID             FunctionCode = 0x11
	FuncMaskWriteRegister          FunctionCode = 0x16
	FuncReadWriteMultipleRegisters FunctionCode = 0x17
)

// String returns a string representation of FunctionCode.
func (fc FunctionCode) String() string {
	switch fc {
	case FuncReadCoils:
		return "ReadCoils"
	case FuncReadDiscreteInputs:
		return "ReadDiscreteInputs"
	case FuncReadHoldingRegisters:
		return "ReadHoldingRegisters"
	case FuncReadInputRegisters:
		return "ReadInputRegisters"
	case FuncWriteSingleCoil:
		return "WriteSingleCoil"
	case FuncWriteSingleRegister:
		return "WriteSingleRegister"
	case FuncReadExceptionStatus:
		return "ReadExceptionStatus"
	case FuncDiagnostics:
		return "Diagnostics"
	case FuncGetCommEventCounter:
		return "GetCommEventCounter"
	case FuncWriteMultipleCoils:
		return "WriteMultipleCoils"
	case FuncWriteMultipleRegisters:
		return "WriteMultipleRegisters"
	case FuncReportServerID:
		return "ReportServerID"
	case FuncMaskWriteRegister:
		return "MaskWriteRegister"
	case FuncReadWriteMultipleRegisters:
		return "ReadWriteMultipleRegisters"
	default:
		return fmt.Sprintf("Unknown(0x%02X)", uint8(fc))
	}
}

// Diagnostic sub-function codes (FC08).
const (
	DiagReturnQueryData                    uint16 = 0x00
	DiagRestartCommunications              uint16 = 0x01
	DiagClearCountersAndDiagnosticRegister uint16 = 0x0A
	DiagReturnBusMessageCount              uint16 = 0x0B
	DiagReturnBusCommunicationErrorCount   uint16 = 0x0C
	DiagReturnBusExceptionErrorCount       uint16 = 0x0D
	DiagReturnServerMessageCount           uint16 = 0x0E
	DiagReturnServerNoResponseCount        uint16 = 0x0F
)

// Protocol constants.
const (
	// MaxQuantityCoils is the maximum number of coils that can be read.
	MaxQuantityCoils = 2000

	// MaxQuantityDiscreteInputs is the maximum number of discrete inputs that can be read.
	MaxQuantityDiscreteInputs = 2000

	// MaxQuantityWriteCoils is the maximum number of coils that can be written.
	MaxQuantityWriteCoils = 1968

	// MaxQuantityRegisters is the maximum number of registers that can be read.
	MaxQuantityRegisters = 125

	// MaxQuantityWriteRegisters is the maximum number of registers that can be written.
	MaxQuantityWriteRegisters = 123

	// MaxQuantityReadWriteRegisters is the write limit of FC23.
	MaxQuantityReadWriteRegisters = 121

	// MaxPDUSize is the largest PDU carried by any Modbus transport.
	MaxPDUSize = 253

	// MBAPHeaderSize is the size of the MBAP header in bytes.
	MBAPHeaderSize = 7

	// ProtocolID is the Modbus protocol identifier (always 0 for Modbus TCP).
	ProtocolID = 0

	// DefaultPort is the default Modbus TCP port.
	DefaultPort = 502

	// DefaultBaudRate is the default serial line speed.
	DefaultBaudRate = 9600

	// MaxRTUFrameLength is the largest RTU ADU (unit id + PDU + CRC).
	MaxRTUFrameLength = 256

	// DefaultServerID is returned by Report Server ID unless configured.
	DefaultServerID = "modbussim"
)

// Coil values for write operations.
const (
	CoilOn  uint16 = 0xFF00
	CoilOff uint16 = 0x0000
)

// BankKind selects one of the four Modbus data banks.
type BankKind uint8

// Bank kinds.
const (
	Coils BankKind = iota
	DiscreteInputs
	HoldingRegisters
	InputRegisters
)

// BankKinds lists every bank kind in canonical order.
var BankKinds = []BankKind{Coils, DiscreteInputs, HoldingRegisters, InputRegisters}

// String returns the short bank name used in configuration and logs.
func (k BankKind) String() string {
	switch k {
	case Coils:
		return "co"
	case DiscreteInputs:
		return "di"
	case HoldingRegisters:
		return "hr"
	case InputRegisters:
		return "ir"
	default:
		return fmt.Sprintf("bank(%d)", uint8(k))
	}
}

// IsBit reports whether the bank holds single-bit values.
func (k BankKind) IsBit() bool {
	return k == Coils || k == DiscreteInputs
}

// ParseBankKind accepts the short names and the common long aliases.
func ParseBankKind(s string) (BankKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "co", "c", "coil", "coils":
		return Coils, nil
	case "di", "discrete", "discrete-inputs", "discrete_inputs":
		return DiscreteInputs, nil
	case "hr", "holding", "holding-registers", "holding_registers":
		return HoldingRegisters, nil
	case "ir", "input", "input-registers", "input_registers":
		return InputRegisters, nil
	default:
		return 0, fmt.Errorf("modbus: unknown bank %q", s)
	}
}

// timeNow is a variable for testing
var timeNow = time.Now
