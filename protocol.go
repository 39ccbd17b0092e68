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
	"errors"
	"fmt"
	"io"
)

// MBAPHeader represents the Modbus Application Protocol header for TCP.
type MBAPHeader struct {
	TransactionID uint16 // Transaction identifier
	ProtocolID    uint16 // Protocol identifier (always 0 for Modbus)
	Length        uint16 // Number of following bytes (Unit ID + PDU)
	UnitID        UnitID // Unit identifier (slave address)
}

// Encode encodes the MBAP header to bytes.
func (h *MBAPHeader) Encode() []byte {
	buf := make([]byte, MBAPHeaderSize)
	binary.BigEndian.PutUint16(buf[0:2], h.TransactionID)
	binary.BigEndian.PutUint16(buf[2:4], h.ProtocolID)
	binary.BigEndian.PutUint16(buf[4:6], h.Length)
	buf[6] = byte(h.UnitID)
	return buf
}

// Decode decodes the MBAP header from bytes.
func (h *MBAPHeader) Decode(data []byte) error {
	if len(data) < MBAPHeaderSize {
		return fmt.Errorf("%w: MBAP header too short", ErrInvalidFrame)
	}
	h.TransactionID = binary.BigEndian.Uint16(data[0:2])
	h.ProtocolID = binary.BigEndian.Uint16(data[2:4])
	h.Length = binary.BigEndian.Uint16(data[4:6])
	h.UnitID = UnitID(data[6])
	return nil
}

// validate checks the fields a server relies on before reading the PDU.
func (h *MBAPHeader) validate() error {
	if h.ProtocolID != ProtocolID {
		return fmt.Errorf("%w: invalid protocol ID %d", ErrInvalidFrame, h.ProtocolID)
	}
	// Length covers the unit id plus at least a function code.
	if h.Length < 2 || int(h.Length)-1 > MaxPDUSize {
		return fmt.Errorf("%w: invalid length field %d", ErrInvalidFrame, h.Length)
	}
	return nil
}

// Frame represents a complete Modbus TCP frame (MBAP header + PDU).
type Frame struct {
	Header MBAPHeader
	PDU    []byte
}

// Encode encodes the frame to bytes.
func (f *Frame) Encode() []byte {
	f.Header.Length = uint16(len(f.PDU) + 1) // PDU length + Unit ID
	buf := make([]byte, MBAPHeaderSize+len(f.PDU))
	copy(buf, f.Header.Encode())
	copy(buf[MBAPHeaderSize:], f.PDU)
	return buf
}

// Decode decodes a frame from bytes.
func (f *Frame) Decode(data []byte) error {
	if err := f.Header.Decode(data); err != nil {
		return err
	}
	if err := f.Header.validate(); err != nil {
		return err
	}
	pduLen := int(f.Header.Length) - 1
	if len(data) < MBAPHeaderSize+pduLen {
		return fmt.Errorf("%w: incomplete frame", ErrInvalidFrame)
	}
	f.PDU = make([]byte, pduLen)
	copy(f.PDU, data[MBAPHeaderSize:MBAPHeaderSize+pduLen])
	return nil
}

// Reply builds the response frame for a request, echoing the transaction
// and unit identifiers.
func (f *Frame) Reply(pdu []byte) *Frame {
	return &Frame{
		Header: MBAPHeader{
			TransactionID: f.Header.TransactionID,
			ProtocolID:    ProtocolID,
			UnitID:        f.Header.UnitID,
		},
		PDU: pdu,
	}
}

// ReadFrame reads a complete Modbus TCP frame from a reader. A clean close
// before the first header byte returns io.EOF; a close inside a frame and
// any header inconsistency return ErrInvalidFrame.
func ReadFrame(r io.Reader) (*Frame, error) {
	header := make([]byte, MBAPHeaderSize)
	if _, err := io.ReadFull(r, header); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, fmt.Errorf("%w: truncated header", ErrInvalidFrame)
		}
		return nil, err
	}

	var f Frame
	if err := f.Header.Decode(header); err != nil {
		return nil, err
	}
	if err := f.Header.validate(); err != nil {
		return nil, err
	}

	f.PDU = make([]byte, int(f.Header.Length)-1)
	if _, err := io.ReadFull(r, f.PDU); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, fmt.Errorf("%w: truncated PDU", ErrInvalidFrame)
		}
		return nil, err
	}

	return &f, nil
}
