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
	"sort"
	"sync"
)

// SlaveContext binds a unit identifier to up to four register banks. A
// single RWMutex serializes every access, so a multi-value write is either
// fully visible or fully absent to concurrent readers.
type SlaveContext struct {
	unit     UnitID
	observer Observer
	logger   *slog.Logger

	mu    sync.RWMutex
	banks [4]*RegisterBank
}

// SlaveOption is a functional option for configuring a SlaveContext.
type SlaveOption func(*SlaveContext)

// WithObserver installs the hook notified after each successful access.
func WithObserver(obs Observer) SlaveOption {
	return func(c *SlaveContext) {
		c.observer = obs
	}
}

// WithSlaveLogger sets the logger used to report observer failures.
func WithSlaveLogger(logger *slog.Logger) SlaveOption {
	return func(c *SlaveContext) {
		c.logger = logger
	}
}

// WithBank attaches a bank. A later bank of the same kind replaces an
// earlier one.
func WithBank(b *RegisterBank) SlaveOption {
	return func(c *SlaveContext) {
		if b != nil && int(b.kind) < len(c.banks) {
			c.banks[b.kind] = b
		}
	}
}

// NewSlaveContext creates a slave context for unit.
func NewSlaveContext(unit UnitID, opts ...SlaveOption) *SlaveContext {
	c := &SlaveContext{
		unit:   unit,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Unit returns the unit identifier.
func (c *SlaveContext) Unit() UnitID {
	return c.unit
}

// Bank returns the bank of the given kind. A missing bank is an addressing
// fault.
func (c *SlaveContext) Bank(kind BankKind) (*RegisterBank, error) {
	if int(kind) >= len(c.banks) || c.banks[kind] == nil {
		return nil, fmt.Errorf("%w: unit %d has no %s bank", ErrIllegalDataAddress, c.unit, kind)
	}
	return c.banks[kind], nil
}

// HasBank reports whether a bank of the given kind is configured.
func (c *SlaveContext) HasBank(kind BankKind) bool {
	_, err := c.Bank(kind)
	return err == nil
}

// Read returns count values of bank kind starting at addr.
func (c *SlaveContext) Read(kind BankKind, addr uint16, count int) ([]uint16, error) {
	c.mu.RLock()
	values, err := c.readLocked(kind, addr, count)
	c.mu.RUnlock()
	if err != nil {
		return nil, err
	}
	c.notify(OpRead, kind, addr, values)
	return values, nil
}

// Write stores values into bank kind starting at addr.
func (c *SlaveContext) Write(kind BankKind, addr uint16, values []uint16) error {
	c.mu.Lock()
	err := c.writeLocked(kind, addr, values)
	c.mu.Unlock()
	if err != nil {
		return err
	}
	c.notify(OpWrite, kind, addr, values)
	return nil
}

// MaskWrite applies (current AND andMask) OR (orMask AND NOT andMask) to one
// holding register and returns the stored result.
func (c *SlaveContext) MaskWrite(addr uint16, andMask, orMask uint16) (uint16, error) {
	c.mu.Lock()
	cur, err := c.readLocked(HoldingRegisters, addr, 1)
	if err != nil {
		c.mu.Unlock()
		return 0, err
	}
	next := []uint16{(cur[0] & andMask) | (orMask &^ andMask)}
	err = c.writeLocked(HoldingRegisters, addr, next)
	c.mu.Unlock()
	if err != nil {
		return 0, err
	}
	c.notify(OpWrite, HoldingRegisters, addr, next)
	return next[0], nil
}

// ReadWrite writes values at writeAddr and then reads readCount registers
// at readAddr, both under one lock. Both ranges are validated before the
// write is applied.
func (c *SlaveContext) ReadWrite(readAddr uint16, readCount int, writeAddr uint16, values []uint16) ([]uint16, error) {
	c.mu.Lock()
	bank, err := c.Bank(HoldingRegisters)
	if err == nil {
		err = bank.checkRange(readAddr, readCount)
	}
	if err == nil {
		err = bank.Write(writeAddr, values)
	}
	var result []uint16
	if err == nil {
		result, err = bank.Read(readAddr, readCount)
	}
	c.mu.Unlock()
	if err != nil {
		return nil, err
	}
	c.notify(OpWrite, HoldingRegisters, writeAddr, values)
	c.notify(OpRead, HoldingRegisters, readAddr, result)
	return result, nil
}

// Seed writes values without notifying the observer. It is meant for
// simulation code updating read-only banks.
func (c *SlaveContext) Seed(kind BankKind, addr uint16, values []uint16) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.writeLocked(kind, addr, values)
}

// Snapshot returns a copy of a whole bank.
func (c *SlaveContext) Snapshot(kind BankKind) ([]uint16, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	bank, err := c.Bank(kind)
	if err != nil {
		return nil, err
	}
	return bank.Snapshot(), nil
}

func (c *SlaveContext) readLocked(kind BankKind, addr uint16, count int) ([]uint16, error) {
	bank, err := c.Bank(kind)
	if err != nil {
		return nil, err
	}
	return bank.Read(addr, count)
}

func (c *SlaveContext) writeLocked(kind BankKind, addr uint16, values []uint16) error {
	bank, err := c.Bank(kind)
	if err != nil {
		return err
	}
	return bank.Write(addr, values)
}

func (c *SlaveContext) notify(op Op, kind BankKind, addr uint16, values []uint16) {
	if c.observer == nil {
		return
	}
	cp := make([]uint16, len(values))
	copy(cp, values)
	if kind.IsBit() {
		for i, v := range cp {
			cp[i] = bitValue(v)
		}
	}
	notify(c.observer, c.logger, Event{
		Op:      op,
		Unit:    c.unit,
		Bank:    kind,
		Address: addr,
		Count:   len(cp),
		Values:  cp,
	})
}

// ServerContext maps unit identifiers to slave contexts. It is immutable
// once built and safe for concurrent use.
type ServerContext struct {
	single bool
	slaves map[UnitID]*SlaveContext
}

// NewSingleServerContext routes every unit id to slave.
func NewSingleServerContext(slave *SlaveContext) *ServerContext {
	return &ServerContext{
		single: true,
		slaves: map[UnitID]*SlaveContext{slave.Unit(): slave},
	}
}

// NewServerContext creates a multi-slave context keyed by each slave's unit
// id. Requests for any other unit fail with ErrUnknownUnit.
func NewServerContext(slaves ...*SlaveContext) *ServerContext {
	m := make(map[UnitID]*SlaveContext, len(slaves))
	for _, s := range slaves {
		m[s.Unit()] = s
	}
	return &ServerContext{slaves: m}
}

// Single reports whether the context is in single-slave mode.
func (s *ServerContext) Single() bool {
	return s.single
}

// Slave resolves a unit identifier to its slave context.
func (s *ServerContext) Slave(unit UnitID) (*SlaveContext, error) {
	if s.single {
		for _, slave := range s.slaves {
			return slave, nil
		}
	}
	slave, ok := s.slaves[unit]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownUnit, unit)
	}
	return slave, nil
}

// Slaves returns all slave contexts ordered by unit id.
func (s *ServerContext) Slaves() []*SlaveContext {
	result := make([]*SlaveContext, 0, len(s.slaves))
	for _, slave := range s.slaves {
		result = append(result, slave)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].Unit() < result[j].Unit()
	})
	return result
}
