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
	"strings"
	"time"
)

// Slave routing modes.
const (
	ModeSingle = "single"
	ModeMulti  = "multi"
)

// BankConfig describes one register bank. Values is a pattern repeated
// until Size entries are filled; a zero Size takes the pattern length. A
// bank with neither is not configured.
type BankConfig struct {
	Size   int      `mapstructure:"size" yaml:"size,omitempty"`
	Values []uint16 `mapstructure:"values" yaml:"values,omitempty,flow"`
}

// Enabled reports whether the bank exists.
func (b BankConfig) Enabled() bool {
	return b.Size > 0 || len(b.Values) > 0
}

// Length returns the number of addressable values.
func (b BankConfig) Length() int {
	if b.Size > 0 {
		return b.Size
	}
	return len(b.Values)
}

// Initial expands the pattern to the bank length.
func (b BankConfig) Initial() []uint16 {
	n := b.Length()
	out := make([]uint16, n)
	if len(b.Values) == 0 {
		return out
	}
	for i := range out {
		out[i] = b.Values[i%len(b.Values)]
	}
	return out
}

// Repeat builds a BankConfig holding pattern repeated n times.
func Repeat(pattern []uint16, n int) BankConfig {
	return BankConfig{Size: len(pattern) * n, Values: pattern}
}

// UnitConfig describes one slave context.
type UnitConfig struct {
	ID               uint8      `mapstructure:"id" yaml:"id"`
	Coils            BankConfig `mapstructure:"coils" yaml:"coils,omitempty"`
	DiscreteInputs   BankConfig `mapstructure:"discrete_inputs" yaml:"discrete_inputs,omitempty"`
	HoldingRegisters BankConfig `mapstructure:"holding_registers" yaml:"holding_registers,omitempty"`
	InputRegisters   BankConfig `mapstructure:"input_registers" yaml:"input_registers,omitempty"`
}

// Bank returns the configuration of one bank kind.
func (u UnitConfig) Bank(kind BankKind) BankConfig {
	switch kind {
	case Coils:
		return u.Coils
	case DiscreteInputs:
		return u.DiscreteInputs
	case HoldingRegisters:
		return u.HoldingRegisters
	case InputRegisters:
		return u.InputRegisters
	default:
		return BankConfig{}
	}
}

// TCPConfig configures the Modbus TCP listener.
type TCPConfig struct {
	Address            string        `mapstructure:"address" yaml:"address"`
	MaxConns           int           `mapstructure:"max_conns" yaml:"max_conns"` // 0 = unlimited
	ReadTimeout        time.Duration `mapstructure:"read_timeout" yaml:"read_timeout"`
	IgnoreMissingUnits bool          `mapstructure:"ignore_missing_units" yaml:"ignore_missing_units"`
}

// SerialConfig configures the Modbus RTU line.
type SerialConfig struct {
	Device   string `mapstructure:"device" yaml:"device"`
	BaudRate int    `mapstructure:"baud_rate" yaml:"baud_rate"`
	DataBits int    `mapstructure:"data_bits" yaml:"data_bits"`
	Parity   string `mapstructure:"parity" yaml:"parity"`
	StopBits int    `mapstructure:"stop_bits" yaml:"stop_bits"`
}

// Config is the static configuration handed to the simulator at startup.
type Config struct {
	Mode     string       `mapstructure:"mode" yaml:"mode"`
	ServerID string       `mapstructure:"server_id" yaml:"server_id"`
	Units    []UnitConfig `mapstructure:"units" yaml:"units"`
	TCP      TCPConfig    `mapstructure:"tcp" yaml:"tcp"`
	Serial   SerialConfig `mapstructure:"serial" yaml:"serial"`
}

// DefaultConfig returns a single-slave simulator with all four banks
// seeded with distinct repeating patterns.
func DefaultConfig() Config {
	return Config{
		Mode:     ModeSingle,
		ServerID: DefaultServerID,
		Units: []UnitConfig{{
			ID:               1,
			Coils:            Repeat([]uint16{1, 0, 1, 1, 0}, 10),
			DiscreteInputs:   Repeat([]uint16{0, 1, 0, 1, 1}, 10),
			InputRegisters:   Repeat([]uint16{100, 200, 300, 400}, 25),
			HoldingRegisters: Repeat([]uint16{11, 22, 33, 44}, 25),
		}},
		TCP: TCPConfig{
			Address:  "localhost:8080",
			MaxConns: 100,
		},
		Serial: SerialConfig{
			Device:   "/dev/ttyUSB0",
			BaudRate: DefaultBaudRate,
			DataBits: 8,
			Parity:   "N",
			StopBits: 1,
		},
	}
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	switch c.Mode {
	case ModeSingle:
		if len(c.Units) != 1 {
			return fmt.Errorf("%w: single mode needs exactly one unit, got %d", ErrInvalidConfig, len(c.Units))
		}
	case ModeMulti:
		if len(c.Units) == 0 {
			return fmt.Errorf("%w: multi mode needs at least one unit", ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: unknown mode %q", ErrInvalidConfig, c.Mode)
	}

	seen := make(map[uint8]bool, len(c.Units))
	for _, u := range c.Units {
		if c.Mode == ModeMulti && u.ID == uint8(BroadcastUnitID) {
			return fmt.Errorf("%w: unit id 0 is reserved for broadcast", ErrInvalidConfig)
		}
		if seen[u.ID] {
			return fmt.Errorf("%w: duplicate unit id %d", ErrInvalidConfig, u.ID)
		}
		seen[u.ID] = true
		for _, kind := range BankKinds {
			b := u.Bank(kind)
			if b.Size < 0 || b.Length() > 65536 {
				return fmt.Errorf("%w: unit %d %s size %d out of range", ErrInvalidConfig, u.ID, kind, b.Size)
			}
			if b.Size > 0 && len(b.Values) > b.Size {
				return fmt.Errorf("%w: unit %d %s has %d values for size %d",
					ErrInvalidConfig, u.ID, kind, len(b.Values), b.Size)
			}
		}
	}

	if c.TCP.MaxConns < 0 {
		return fmt.Errorf("%w: negative max_conns", ErrInvalidConfig)
	}
	if c.TCP.ReadTimeout < 0 {
		return fmt.Errorf("%w: negative read_timeout", ErrInvalidConfig)
	}
	return c.Serial.Validate()
}

// Validate checks the serial line settings.
func (s *SerialConfig) Validate() error {
	if s.BaudRate <= 0 {
		return fmt.Errorf("%w: baud rate %d", ErrInvalidConfig, s.BaudRate)
	}
	if s.DataBits < 5 || s.DataBits > 8 {
		return fmt.Errorf("%w: data bits %d", ErrInvalidConfig, s.DataBits)
	}
	if s.StopBits != 1 && s.StopBits != 2 {
		return fmt.Errorf("%w: stop bits %d", ErrInvalidConfig, s.StopBits)
	}
	switch strings.ToUpper(s.Parity) {
	case "N", "E", "O", "M", "S":
	default:
		return fmt.Errorf("%w: parity %q", ErrInvalidConfig, s.Parity)
	}
	return nil
}

// NewServerContext validates the configuration and allocates every bank.
// opts are applied to each slave context, typically WithObserver.
func (c *Config) NewServerContext(opts ...SlaveOption) (*ServerContext, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}

	slaves := make([]*SlaveContext, 0, len(c.Units))
	for _, u := range c.Units {
		slaveOpts := append([]SlaveOption(nil), opts...)
		for _, kind := range BankKinds {
			if b := u.Bank(kind); b.Enabled() {
				slaveOpts = append(slaveOpts, WithBank(NewRegisterBank(kind, b.Length(), b.Initial())))
			}
		}
		slaves = append(slaves, NewSlaveContext(UnitID(u.ID), slaveOpts...))
	}

	if c.Mode == ModeSingle {
		return NewSingleServerContext(slaves[0]), nil
	}
	return NewServerContext(slaves...), nil
}

// ServerIDBytes returns the Report Server ID payload.
func (c *Config) ServerIDBytes() []byte {
	if c.ServerID == "" {
		return []byte(DefaultServerID)
	}
	return []byte(c.ServerID)
}
