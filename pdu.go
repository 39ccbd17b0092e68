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
	"encoding/binary"
	"fmt"
)

// Request is a decoded request PDU. Which fields are meaningful depends on
// Function:
//
//	FC01-04     Address, Quantity
//	FC05, FC06  Address, Value (FC05 carries the raw 0xFF00/0x0000 word)
//	FC0F, FC10  Address, Quantity, Values (coils as 0/1)
//	FC08        SubFunction, Data
//	FC16        Address, AndMask, OrMask
//	FC17        Address, Quantity (read side), WriteAddress, Values
//	FC07, FC0B, FC11 carry no payload.
type Request struct {
	Function     FunctionCode
	Address      uint16
	Quantity     uint16
	Value        uint16
	WriteAddress uint16
	Values       []uint16
	AndMask      uint16
	OrMask       uint16
	SubFunction  uint16
	Data         []byte
}

// DecodeRequest parses a request PDU. Unsupported function codes fail with
// ErrIllegalFunction; truncated payloads, bad quantities and inconsistent
// byte counts fail with ErrIllegalDataValue.
func DecodeRequest(pdu []byte) (*Request, error) {
	if len(pdu) == 0 {
		return nil, fmt.Errorf("%w: empty PDU", ErrInvalidFrame)
	}
	req := &Request{Function: FunctionCode(pdu[0])}
	body := pdu[1:]

	switch req.Function {
	case FuncReadCoils, FuncReadDiscreteInputs:
		if err := req.decodeRange(body, MaxQuantityCoils); err != nil {
			return nil, err
		}
	case FuncReadHoldingRegisters, FuncReadInputRegisters:
		if err := req.decodeRange(body, MaxQuantityRegisters); err != nil {
			return nil, err
		}
	case FuncWriteSingleCoil, FuncWriteSingleRegister:
		if len(body) < 4 {
			return nil, shortPDU(req.Function, len(pdu))
		}
		req.Address = binary.BigEndian.Uint16(body[0:2])
		req.Value = binary.BigEndian.Uint16(body[2:4])
		if req.Function == FuncWriteSingleCoil && req.Value != CoilOn && req.Value != CoilOff {
			return nil, fmt.Errorf("%w: coil value 0x%04X", ErrIllegalDataValue, req.Value)
		}
	case FuncWriteMultipleCoils:
		if len(body) < 5 {
			return nil, shortPDU(req.Function, len(pdu))
		}
		req.Address = binary.BigEndian.Uint16(body[0:2])
		req.Quantity = binary.BigEndian.Uint16(body[2:4])
		if req.Quantity < 1 || req.Quantity > MaxQuantityWriteCoils {
			return nil, badQuantity(req.Function, req.Quantity)
		}
		data, err := byteCounted(body[4:], int(req.Quantity+7)/8)
		if err != nil {
			return nil, err
		}
		req.Values = unpackBits(data, int(req.Quantity))
	case FuncWriteMultipleRegisters:
		if len(body) < 5 {
			return nil, shortPDU(req.Function, len(pdu))
		}
		req.Address = binary.BigEndian.Uint16(body[0:2])
		req.Quantity = binary.BigEndian.Uint16(body[2:4])
		if req.Quantity < 1 || req.Quantity > MaxQuantityWriteRegisters {
			return nil, badQuantity(req.Function, req.Quantity)
		}
		data, err := byteCounted(body[4:], int(req.Quantity)*2)
		if err != nil {
			return nil, err
		}
		req.Values = unpackWords(data)
	case FuncMaskWriteRegister:
		if len(body) < 6 {
			return nil, shortPDU(req.Function, len(pdu))
		}
		req.Address = binary.BigEndian.Uint16(body[0:2])
		req.AndMask = binary.BigEndian.Uint16(body[2:4])
		req.OrMask = binary.BigEndian.Uint16(body[4:6])
	case FuncReadWriteMultipleRegisters:
		if len(body) < 9 {
			return nil, shortPDU(req.Function, len(pdu))
		}
		req.Address = binary.BigEndian.Uint16(body[0:2])
		req.Quantity = binary.BigEndian.Uint16(body[2:4])
		req.WriteAddress = binary.BigEndian.Uint16(body[4:6])
		writeQty := binary.BigEndian.Uint16(body[6:8])
		if req.Quantity < 1 || req.Quantity > MaxQuantityRegisters {
			return nil, badQuantity(req.Function, req.Quantity)
		}
		if writeQty < 1 || writeQty > MaxQuantityReadWriteRegisters {
			return nil, badQuantity(req.Function, writeQty)
		}
		data, err := byteCounted(body[8:], int(writeQty)*2)
		if err != nil {
			return nil, err
		}
		req.Values = unpackWords(data)
	case FuncDiagnostics:
		if len(body) < 2 {
			return nil, shortPDU(req.Function, len(pdu))
		}
		req.SubFunction = binary.BigEndian.Uint16(body[0:2])
		req.Data = append([]byte(nil), body[2:]...)
	case FuncReadExceptionStatus, FuncGetCommEventCounter, FuncReportServerID:
	default:
		return nil, fmt.Errorf("%w: function code 0x%02X", ErrIllegalFunction, uint8(req.Function))
	}
	return req, nil
}

func (r *Request) decodeRange(body []byte, maxQty uint16) error {
	if len(body) < 4 {
		return shortPDU(r.Function, len(body)+1)
	}
	r.Address = binary.BigEndian.Uint16(body[0:2])
	r.Quantity = binary.BigEndian.Uint16(body[2:4])
	if r.Quantity < 1 || r.Quantity > maxQty {
		return badQuantity(r.Function, r.Quantity)
	}
	return nil
}

// Encode serializes the request back into a PDU.
func (r *Request) Encode() []byte {
	switch r.Function {
	case FuncReadCoils, FuncReadDiscreteInputs, FuncReadHoldingRegisters, FuncReadInputRegisters:
		return put16s(r.Function, r.Address, r.Quantity)
	case FuncWriteSingleCoil, FuncWriteSingleRegister:
		return put16s(r.Function, r.Address, r.Value)
	case FuncWriteMultipleCoils:
		data := packBits(r.Values)
		pdu := put16s(r.Function, r.Address, uint16(len(r.Values)))
		pdu = append(pdu, byte(len(data)))
		return append(pdu, data...)
	case FuncWriteMultipleRegisters:
		data := packWords(r.Values)
		pdu := put16s(r.Function, r.Address, uint16(len(r.Values)))
		pdu = append(pdu, byte(len(data)))
		return append(pdu, data...)
	case FuncMaskWriteRegister:
		return put16s(r.Function, r.Address, r.AndMask, r.OrMask)
	case FuncReadWriteMultipleRegisters:
		data := packWords(r.Values)
		pdu := put16s(r.Function, r.Address, r.Quantity, r.WriteAddress, uint16(len(r.Values)))
		pdu = append(pdu, byte(len(data)))
		return append(pdu, data...)
	case FuncDiagnostics:
		return append(put16s(r.Function, r.SubFunction), r.Data...)
	default:
		return []byte{byte(r.Function)}
	}
}

// BankKindFor returns the bank a function code addresses.
func BankKindFor(fc FunctionCode) (BankKind, bool) {
	switch fc {
	case FuncReadCoils, FuncWriteSingleCoil, FuncWriteMultipleCoils:
		return Coils, true
	case FuncReadDiscreteInputs:
		return DiscreteInputs, true
	case FuncReadHoldingRegisters, FuncWriteSingleRegister, FuncWriteMultipleRegisters,
		FuncMaskWriteRegister, FuncReadWriteMultipleRegisters:
		return HoldingRegisters, true
	case FuncReadInputRegisters:
		return InputRegisters, true
	default:
		return 0, false
	}
}

func shortPDU(fc FunctionCode, n int) error {
	return fmt.Errorf("%w: %s PDU too short (%d bytes)", ErrIllegalDataValue, fc, n)
}

func badQuantity(fc FunctionCode, qty uint16) error {
	return fmt.Errorf("%w: %s quantity %d out of range", ErrIllegalDataValue, fc, qty)
}

// byteCounted validates a byte count prefix against the expected length.
func byteCounted(b []byte, expected int) ([]byte, error) {
	if len(b) < 1 {
		return nil, fmt.Errorf("%w: missing byte count", ErrIllegalDataValue)
	}
	count := int(b[0])
	if count != expected || len(b)-1 < count {
		return nil, fmt.Errorf("%w: byte count %d, expected %d with %d available",
			ErrIllegalDataValue, count, expected, len(b)-1)
	}
	return b[1 : 1+count], nil
}

func put16s(fc FunctionCode, words ...uint16) []byte {
	pdu := make([]byte, 1+2*len(words))
	pdu[0] = byte(fc)
	for i, w := range words {
		binary.BigEndian.PutUint16(pdu[1+2*i:], w)
	}
	return pdu
}

// packBits packs 0/1 values LSB first, as coils travel on the wire.
func packBits(values []uint16) []byte {
	out := make([]byte, (len(values)+7)/8)
	for i, v := range values {
		if v != 0 {
			out[i/8] |= 1 << (i % 8)
		}
	}
	return out
}

func unpackBits(data []byte, qty int) []uint16 {
	values := make([]uint16, qty)
	for i := 0; i < qty; i++ {
		if data[i/8]&(1<<(i%8)) != 0 {
			values[i] = 1
		}
	}
	return values
}

func packWords(values []uint16) []byte {
	out := make([]byte, 2*len(values))
	for i, v := range values {
		binary.BigEndian.PutUint16(out[2*i:], v)
	}
	return out
}

func unpackWords(data []byte) []uint16 {
	values := make([]uint16, len(data)/2)
	for i := range values {
		values[i] = binary.BigEndian.Uint16(data[2*i:])
	}
	return values
}
