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
	"reflect"
	"testing"
)

func TestDecodeRequest(t *testing.T) {
	tests := []struct {
		name string
		pdu  []byte
		want Request
	}{
		{
			name: "read coils",
			pdu:  []byte{0x01, 0x00, 0x13, 0x00, 0x25},
			want: Request{Function: FuncReadCoils, Address: 0x13, Quantity: 0x25},
		},
		{
			name: "read holding registers",
			pdu:  []byte{0x03, 0x00, 0x6B, 0x00, 0x03},
			want: Request{Function: FuncReadHoldingRegisters, Address: 0x6B, Quantity: 3},
		},
		{
			name: "read discrete inputs",
			pdu:  []byte{0x02, 0x00, 0x10, 0x00, 0x08},
			want: Request{Function: FuncReadDiscreteInputs, Address: 0x10, Quantity: 8},
		},
		{
			name: "read input registers",
			pdu:  []byte{0x04, 0x00, 0x08, 0x00, 0x01},
			want: Request{Function: FuncReadInputRegisters, Address: 8, Quantity: 1},
		},
		{
			name: "write single coil on",
			pdu:  []byte{0x05, 0x00, 0xAC, 0xFF, 0x00},
			want: Request{Function: FuncWriteSingleCoil, Address: 0xAC, Value: CoilOn},
		},
		{
			name: "write single register",
			pdu:  []byte{0x06, 0x00, 0x01, 0x00, 0x03},
			want: Request{Function: FuncWriteSingleRegister, Address: 1, Value: 3},
		},
		{
			name: "write multiple coils",
			pdu:  []byte{0x0F, 0x00, 0x13, 0x00, 0x0A, 0x02, 0xCD, 0x01},
			want: Request{
				Function: FuncWriteMultipleCoils, Address: 0x13, Quantity: 10,
				Values: []uint16{1, 0, 1, 1, 0, 0, 1, 1, 1, 0},
			},
		},
		{
			name: "write multiple registers",
			pdu:  []byte{0x10, 0x00, 0x01, 0x00, 0x02, 0x04, 0x00, 0x0A, 0x01, 0x02},
			want: Request{
				Function: FuncWriteMultipleRegisters, Address: 1, Quantity: 2,
				Values: []uint16{0x000A, 0x0102},
			},
		},
		{
			name: "mask write register",
			pdu:  []byte{0x16, 0x00, 0x04, 0x00, 0xF2, 0x00, 0x25},
			want: Request{Function: FuncMaskWriteRegister, Address: 4, AndMask: 0xF2, OrMask: 0x25},
		},
		{
			name: "read write multiple registers",
			pdu:  []byte{0x17, 0x00, 0x03, 0x00, 0x06, 0x00, 0x0E, 0x00, 0x03, 0x06, 0x00, 0xFF, 0x00, 0xFF, 0x00, 0xFF},
			want: Request{
				Function: FuncReadWriteMultipleRegisters, Address: 3, Quantity: 6,
				WriteAddress: 0x0E, Values: []uint16{0xFF, 0xFF, 0xFF},
			},
		},
		{
			name: "diagnostics echo",
			pdu:  []byte{0x08, 0x00, 0x00, 0xA5, 0x37},
			want: Request{Function: FuncDiagnostics, SubFunction: DiagReturnQueryData, Data: []byte{0xA5, 0x37}},
		},
		{
			name: "report server id",
			pdu:  []byte{0x11},
			want: Request{Function: FuncReportServerID},
		},
		{
			name: "read exception status",
			pdu:  []byte{0x07},
			want: Request{Function: FuncReadExceptionStatus},
		},
		{
			name: "get comm event counter",
			pdu:  []byte{0x0B},
			want: Request{Function: FuncGetCommEventCounter},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, err := DecodeRequest(tt.pdu)
			if err != nil {
				t.Fatalf("DecodeRequest failed: %v", err)
			}
			if !reflect.DeepEqual(*req, tt.want) {
				t.Errorf("Expected %+v, got %+v", tt.want, *req)
			}
			if got := req.Encode(); !bytes.Equal(got, tt.pdu) {
				t.Errorf("Encode: expected %x, got %x", tt.pdu, got)
			}
		})
	}
}

func TestDecodeRequest_Errors(t *testing.T) {
	tests := []struct {
		name string
		pdu  []byte
		want error
	}{
		{"empty", nil, ErrInvalidFrame},
		{"unknown function", []byte{0x2B, 0x0E, 0x01, 0x00}, ErrIllegalFunction},
		{"exception bit set", []byte{0x83, 0x02}, ErrIllegalFunction},
		{"short read", []byte{0x03, 0x00, 0x00, 0x00}, ErrIllegalDataValue},
		{"zero quantity", []byte{0x03, 0x00, 0x00, 0x00, 0x00}, ErrIllegalDataValue},
		{"too many registers", []byte{0x03, 0x00, 0x00, 0x00, 0x7E}, ErrIllegalDataValue},
		{"too many coils", []byte{0x01, 0x00, 0x00, 0x07, 0xD1}, ErrIllegalDataValue},
		{"bad coil value", []byte{0x05, 0x00, 0x01, 0x12, 0x34}, ErrIllegalDataValue},
		{"coil byte count mismatch", []byte{0x0F, 0x00, 0x00, 0x00, 0x0A, 0x01, 0xFF}, ErrIllegalDataValue},
		{"register byte count mismatch", []byte{0x10, 0x00, 0x00, 0x00, 0x02, 0x02, 0x00, 0x01}, ErrIllegalDataValue},
		{"register data short", []byte{0x10, 0x00, 0x00, 0x00, 0x02, 0x04, 0x00, 0x01}, ErrIllegalDataValue},
		{"too many written registers", []byte{0x10, 0x00, 0x00, 0x00, 0x7C, 0xF8}, ErrIllegalDataValue},
		{"short mask write", []byte{0x16, 0x00, 0x04, 0x00, 0xF2}, ErrIllegalDataValue},
		{"read write too many writes", []byte{0x17, 0x00, 0x00, 0x00, 0x01, 0x00, 0x00, 0x00, 0x7A, 0xF4}, ErrIllegalDataValue},
		{"short diagnostics", []byte{0x08, 0x00}, ErrIllegalDataValue},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeRequest(tt.pdu)
			if !errors.Is(err, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestDecodeRequest_MaxQuantities(t *testing.T) {
	tests := []struct {
		name string
		pdu  []byte
	}{
		{"2000 coils", []byte{0x01, 0x00, 0x00, 0x07, 0xD0}},
		{"2000 discrete inputs", []byte{0x02, 0x00, 0x00, 0x07, 0xD0}},
		{"125 holding registers", []byte{0x03, 0x00, 0x00, 0x00, 0x7D}},
		{"125 input registers", []byte{0x04, 0x00, 0x00, 0x00, 0x7D}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := DecodeRequest(tt.pdu); err != nil {
				t.Errorf("DecodeRequest failed: %v", err)
			}
		})
	}
}

func TestPackBits(t *testing.T) {
	values := []uint16{1, 0, 1, 1, 0, 0, 1, 1, 1, 0}
	packed := packBits(values)

	expected := []byte{0xCD, 0x01}
	if !bytes.Equal(packed, expected) {
		t.Errorf("Expected %x, got %x", expected, packed)
	}

	unpacked := unpackBits(packed, len(values))
	if !reflect.DeepEqual(unpacked, values) {
		t.Errorf("Expected %v, got %v", values, unpacked)
	}
}

func TestBankKindFor(t *testing.T) {
	tests := []struct {
		fc   FunctionCode
		kind BankKind
		ok   bool
	}{
		{FuncReadCoils, Coils, true},
		{FuncWriteMultipleCoils, Coils, true},
		{FuncReadDiscreteInputs, DiscreteInputs, true},
		{FuncMaskWriteRegister, HoldingRegisters, true},
		{FuncReadInputRegisters, InputRegisters, true},
		{FuncDiagnostics, 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.fc.String(), func(t *testing.T) {
			kind, ok := BankKindFor(tt.fc)
			if ok != tt.ok || (ok && kind != tt.kind) {
				t.Errorf("BankKindFor(%s) = %v, %v; expected %v, %v", tt.fc, kind, ok, tt.kind, tt.ok)
			}
		})
	}
}
