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
	"log/slog"
	"runtime/debug"
	"strings"
)

// Op is the kind of store access reported to an Observer.
type Op uint8

// Store operations.
const (
	OpRead Op = iota + 1
	OpWrite
)

// String returns the operation name.
func (o Op) String() string {
	switch o {
	case OpRead:
		return "read"
	case OpWrite:
		return "write"
	default:
		return "unknown"
	}
}

// Event describes one successful store access. Values is a private copy:
// for reads the values returned, for writes the values committed.
type Event struct {
	Op      Op
	Unit    UnitID
	Bank    BankKind
	Address uint16
	Count   int
	Values  []uint16
}

// Observer receives an Event after every successful read or write. It is
// called synchronously on the session goroutine, after the slave context
// lock has been released.
type Observer interface {
	Observe(ev Event)
}

// ObserverFunc adapts a function to the Observer interface.
type ObserverFunc func(ev Event)

// Observe calls f(ev).
func (f ObserverFunc) Observe(ev Event) {
	f(ev)
}

// MultiObserver fans an event out to several observers in order.
type MultiObserver []Observer

// Observe implements Observer.
func (m MultiObserver) Observe(ev Event) {
	for _, o := range m {
		if o != nil {
			o.Observe(ev)
		}
	}
}

// LogObserver logs every store access. Writes to word banks carry the
// ASCII decoding of the written registers.
type LogObserver struct {
	Logger *slog.Logger
}

// NewLogObserver creates a LogObserver. A nil logger uses slog.Default().
func NewLogObserver(logger *slog.Logger) *LogObserver {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogObserver{Logger: logger}
}

// Observe implements Observer.
func (o *LogObserver) Observe(ev Event) {
	attrs := []any{
		slog.Uint64("unit_id", uint64(ev.Unit)),
		slog.String("bank", ev.Bank.String()),
		slog.Uint64("address", uint64(ev.Address)),
		slog.Int("count", ev.Count),
		slog.Any("values", ev.Values),
	}
	switch ev.Op {
	case OpRead:
		o.Logger.Info("client read", attrs...)
	case OpWrite:
		if !ev.Bank.IsBit() {
			attrs = append(attrs, slog.String("decoded", strings.TrimSpace(DecodeASCII(ev.Values))))
		}
		o.Logger.Info("client write", attrs...)
	}
}

// DecodeASCII renders register values as text: two bytes per register,
// high byte first. Bytes outside printable ASCII are dropped.
func DecodeASCII(values []uint16) string {
	var sb strings.Builder
	sb.Grow(len(values) * 2)
	for _, v := range values {
		for _, c := range [2]byte{byte(v >> 8), byte(v)} {
			if c == '\t' || c == '\n' || c == '\r' || (c >= 0x20 && c < 0x7F) {
				sb.WriteByte(c)
			}
		}
	}
	return sb.String()
}

// notify delivers ev to obs. A panicking observer is logged and otherwise
// ignored; the store access it reports has already succeeded.
func notify(obs Observer, logger *slog.Logger, ev Event) {
	if obs == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			logger.Error("panic in observer",
				slog.String("op", ev.Op.String()),
				slog.String("bank", ev.Bank.String()),
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())))
		}
	}()
	obs.Observe(ev)
}
