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

// Package serialport opens the serial line an RTU server runs on.
package serialport

import (
	"fmt"
	"strings"

	"go.bug.st/serial"

	"github.com/edgeo-scada/modbussim"
)

// Open opens and configures the device described by cfg. Bytes already
// buffered by the driver are discarded so the first frame starts clean.
func Open(cfg modbus.SerialConfig) (serial.Port, error) {
	mode, err := Mode(cfg)
	if err != nil {
		return nil, err
	}
	port, err := serial.Open(cfg.Device, mode)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", cfg.Device, err)
	}
	if err := port.ResetInputBuffer(); err != nil {
		port.Close()
		return nil, fmt.Errorf("reset %s: %w", cfg.Device, err)
	}
	return port, nil
}

// Mode converts the line settings to a serial.Mode.
func Mode(cfg modbus.SerialConfig) (*serial.Mode, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	mode := &serial.Mode{
		BaudRate: cfg.BaudRate,
		DataBits: cfg.DataBits,
		StopBits: serial.OneStopBit,
	}
	if cfg.StopBits == 2 {
		mode.StopBits = serial.TwoStopBits
	}
	switch strings.ToUpper(cfg.Parity) {
	case "N":
		mode.Parity = serial.NoParity
	case "E":
		mode.Parity = serial.EvenParity
	case "O":
		mode.Parity = serial.OddParity
	case "M":
		mode.Parity = serial.MarkParity
	case "S":
		mode.Parity = serial.SpaceParity
	}
	return mode, nil
}

// List returns the serial devices present on the system.
func List() ([]string, error) {
	return serial.GetPortsList()
}

var _ modbus.Line = serial.Port(nil)
