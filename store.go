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

import "fmt"

// RegisterBank is a fixed-length sequence of bit or 16-bit word values
// addressed by a zero-based offset. It does no locking of its own; the
// owning SlaveContext serializes access.
type RegisterBank struct {
	kind   BankKind
	values []uint16
}

// NewRegisterBank allocates a bank of the given length. Initial values are
// copied in order; a shorter slice leaves the tail zeroed. Bit banks store
// any non-zero value as 1.
func NewRegisterBank(kind BankKind, length int, initial []uint16) *RegisterBank {
	if length < 0 {
		length = 0
	}
	b := &RegisterBank{
		kind:   kind,
		values: make([]uint16, length),
	}
	n := copy(b.values, initial)
	if kind.IsBit() {
		for i := 0; i < n; i++ {
			b.values[i] = bitValue(b.values[i])
		}
	}
	return b
}

// Kind returns the bank kind.
func (b *RegisterBank) Kind() BankKind {
	return b.kind
}

// Len returns the number of addressable values.
func (b *RegisterBank) Len() int {
	return len(b.values)
}

func (b *RegisterBank) checkRange(addr uint16, count int) error {
	if count < 0 || int(addr)+count > len(b.values) {
		return fmt.Errorf("%w: %s range %d+%d exceeds length %d",
			ErrIllegalDataAddress, b.kind, addr, count, len(b.values))
	}
	return nil
}

// Read returns a copy of count values starting at addr.
func (b *RegisterBank) Read(addr uint16, count int) ([]uint16, error) {
	if err := b.checkRange(addr, count); err != nil {
		return nil, err
	}
	result := make([]uint16, count)
	copy(result, b.values[int(addr):int(addr)+count])
	return result, nil
}

// Write stores values starting at addr. The whole range is checked before
// anything is modified, so a failed write leaves the bank untouched.
func (b *RegisterBank) Write(addr uint16, values []uint16) error {
	if err := b.checkRange(addr, len(values)); err != nil {
		return err
	}
	dst := b.values[int(addr) : int(addr)+len(values)]
	if b.kind.IsBit() {
		for i, v := range values {
			dst[i] = bitValue(v)
		}
		return nil
	}
	copy(dst, values)
	return nil
}

// Snapshot returns a copy of the whole bank.
func (b *RegisterBank) Snapshot() []uint16 {
	result := make([]uint16, len(b.values))
	copy(result, b.values)
	return result
}

func bitValue(v uint16) uint16 {
	if v != 0 {
		return 1
	}
	return 0
}
