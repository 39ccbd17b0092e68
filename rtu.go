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
	"fmt"
	"io"
	"time"

	"github.com/sigurn/crc16"
)

var crcTable = crc16.MakeTable(crc16.CRC16_MODBUS)

// CRC16 computes the Modbus RTU checksum (reflected polynomial 0xA001,
// initial value 0xFFFF).
func CRC16(data []byte) uint16 {
	return crc16.Checksum(data, crcTable)
}

// RTUFrame is a Modbus RTU application data unit without its checksum.
type RTUFrame struct {
	UnitID UnitID
	PDU    []byte
}

// Encode appends the CRC, low byte first.
func (f *RTUFrame) Encode() []byte {
	adu := make([]byte, 0, len(f.PDU)+3)
	adu = append(adu, byte(f.UnitID))
	adu = append(adu, f.PDU...)
	crc := CRC16(adu)
	return append(adu, byte(crc), byte(crc>>8))
}

// DecodeRTUFrame validates and splits a delimited ADU.
func DecodeRTUFrame(adu []byte) (*RTUFrame, error) {
	// unit id, function code and two CRC bytes at minimum
	if len(adu) < 4 {
		return nil, fmt.Errorf("%w: RTU frame of %d bytes", ErrInvalidFrame, len(adu))
	}
	if len(adu) > MaxRTUFrameLength {
		return nil, fmt.Errorf("%w: RTU frame of %d bytes", ErrInvalidFrame, len(adu))
	}
	body := adu[:len(adu)-2]
	want := uint16(adu[len(adu)-2]) | uint16(adu[len(adu)-1])<<8
	if got := CRC16(body); got != want {
		return nil, fmt.Errorf("%w: computed 0x%04X, frame carries 0x%04X", ErrInvalidCRC, got, want)
	}
	pdu := make([]byte, len(body)-1)
	copy(pdu, body[1:])
	return &RTUFrame{UnitID: UnitID(adu[0]), PDU: pdu}, nil
}

// CharTime returns how long one RTU character (start bit, 8 data bits,
// parity or second stop bit, stop bit) occupies the line.
func CharTime(baud int) time.Duration {
	if baud <= 0 {
		baud = DefaultBaudRate
	}
	return 11 * time.Second / time.Duration(baud)
}

// SilenceInterval returns the t3.5 inter-frame delay. Above 19200 baud the
// fixed value of 1750us applies.
func SilenceInterval(baud int) time.Duration {
	if baud >= 19200 {
		return 1750 * time.Microsecond
	}
	return CharTime(baud) * 35 / 10
}

// Line is a serial line. Read must return (0, nil) once the read timeout
// expires without data, which is how go.bug.st/serial ports behave.
type Line interface {
	io.ReadWriteCloser
	SetReadTimeout(t time.Duration) error
}

// rtuFramer delimits frames on a Line by inter-character silence.
type rtuFramer struct {
	line    Line
	silence time.Duration
	poll    time.Duration
	chunk   []byte
}

func newRTUFramer(line Line, baud int, poll time.Duration) *rtuFramer {
	return &rtuFramer{
		line:    line,
		silence: SilenceInterval(baud),
		poll:    poll,
		chunk:   make([]byte, MaxRTUFrameLength),
	}
}

// readADU blocks until a frame followed by t3.5 of silence has arrived. An
// oversized burst is consumed up to the next silence and reported as
// ErrInvalidFrame so the caller can resynchronize.
func (r *rtuFramer) readADU(ctx context.Context) ([]byte, error) {
	if err := r.line.SetReadTimeout(r.poll); err != nil {
		return nil, err
	}
	var adu []byte
	for len(adu) == 0 {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		n, err := r.line.Read(r.chunk)
		if err != nil {
			return nil, err
		}
		adu = append(adu, r.chunk[:n]...)
	}

	if err := r.line.SetReadTimeout(r.silence); err != nil {
		return nil, err
	}
	overrun := false
	for {
		n, err := r.line.Read(r.chunk)
		if err != nil {
			return nil, err
		}
		if n == 0 {
			break
		}
		if overrun {
			continue
		}
		adu = append(adu, r.chunk[:n]...)
		if len(adu) > MaxRTUFrameLength {
			overrun = true
		}
	}
	if overrun || len(adu) > MaxRTUFrameLength {
		return nil, fmt.Errorf("%w: RTU burst exceeds %d bytes", ErrInvalidFrame, MaxRTUFrameLength)
	}
	return adu, nil
}
