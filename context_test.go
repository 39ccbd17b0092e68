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
	"io"
	"log/slog"
	"reflect"
	"strings"
	"sync"
	"testing"
)

// recorder collects observer events.
type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) Observe(ev Event) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

func (r *recorder) all() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestSlave(unit UnitID, opts ...SlaveOption) *SlaveContext {
	base := []SlaveOption{
		WithSlaveLogger(discardLogger()),
		WithBank(NewRegisterBank(Coils, 50, Repeat([]uint16{1, 0, 1, 1, 0}, 10).Initial())),
		WithBank(NewRegisterBank(DiscreteInputs, 50, Repeat([]uint16{0, 1, 0, 1, 1}, 10).Initial())),
		WithBank(NewRegisterBank(HoldingRegisters, 100, Repeat([]uint16{11, 22, 33, 44}, 25).Initial())),
		WithBank(NewRegisterBank(InputRegisters, 100, Repeat([]uint16{100, 200, 300, 400}, 25).Initial())),
	}
	return NewSlaveContext(unit, append(base, opts...)...)
}

func TestSlaveContext_ReadWrite(t *testing.T) {
	slave := newTestSlave(1)

	values, err := slave.Read(InputRegisters, 0, 4)
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if !reflect.DeepEqual(values, []uint16{100, 200, 300, 400}) {
		t.Errorf("Unexpected input registers %v", values)
	}

	if err := slave.Write(HoldingRegisters, 0, []uint16{72, 105}); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	values, _ = slave.Read(HoldingRegisters, 0, 3)
	if !reflect.DeepEqual(values, []uint16{72, 105, 33}) {
		t.Errorf("Unexpected holding registers %v", values)
	}
}

func TestSlaveContext_MissingBank(t *testing.T) {
	slave := NewSlaveContext(3,
		WithSlaveLogger(discardLogger()),
		WithBank(NewRegisterBank(HoldingRegisters, 10, nil)),
	)

	if slave.HasBank(Coils) {
		t.Error("HasBank(Coils) should be false")
	}
	_, err := slave.Read(Coils, 0, 1)
	if !errors.Is(err, ErrIllegalDataAddress) {
		t.Errorf("Expected ErrIllegalDataAddress, got %v", err)
	}
	if code := ExceptionCodeOf(err); code != ExceptionIllegalDataAddress {
		t.Errorf("Expected exception 02, got %s", code)
	}
	if _, err := slave.Snapshot(InputRegisters); !errors.Is(err, ErrIllegalDataAddress) {
		t.Errorf("Snapshot: expected ErrIllegalDataAddress, got %v", err)
	}
}

func TestSlaveContext_Observer(t *testing.T) {
	rec := &recorder{}
	slave := newTestSlave(7, WithObserver(rec))

	if err := slave.Write(HoldingRegisters, 0, []uint16{72, 105}); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if _, err := slave.Read(Coils, 1, 3); err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	// Failed accesses are not reported.
	slave.Read(HoldingRegisters, 99, 2)
	slave.Write(HoldingRegisters, 100, []uint16{1})

	events := rec.all()
	if len(events) != 2 {
		t.Fatalf("Expected 2 events, got %d", len(events))
	}

	w := events[0]
	if w.Op != OpWrite || w.Unit != 7 || w.Bank != HoldingRegisters || w.Address != 0 || w.Count != 2 {
		t.Errorf("Unexpected write event %+v", w)
	}
	if !reflect.DeepEqual(w.Values, []uint16{72, 105}) {
		t.Errorf("Write values: expected [72 105], got %v", w.Values)
	}
	if got := DecodeASCII(w.Values); got != "Hi" {
		t.Errorf("DecodeASCII: expected %q, got %q", "Hi", got)
	}

	r := events[1]
	if r.Op != OpRead || r.Bank != Coils || r.Address != 1 || !reflect.DeepEqual(r.Values, []uint16{0, 1, 1}) {
		t.Errorf("Unexpected read event %+v", r)
	}
}

func TestSlaveContext_ObserverGetsCopy(t *testing.T) {
	var seen []uint16
	slave := newTestSlave(1, WithObserver(ObserverFunc(func(ev Event) {
		seen = ev.Values
		ev.Values[0] = 0xDEAD
	})))

	written := []uint16{1, 2}
	if err := slave.Write(HoldingRegisters, 0, written); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if seen == nil {
		t.Fatal("observer not called")
	}
	if written[0] != 1 {
		t.Error("observer mutated the caller's slice")
	}
	if v, _ := slave.Read(HoldingRegisters, 0, 1); v[0] != 1 {
		t.Errorf("observer mutated the store: got %d", v[0])
	}
}

func TestSlaveContext_ObserverCanReenter(t *testing.T) {
	var slave *SlaveContext
	done := false
	slave = newTestSlave(1, WithObserver(ObserverFunc(func(ev Event) {
		if ev.Op == OpWrite {
			// Would deadlock if the lock were still held.
			slave.Read(HoldingRegisters, ev.Address, ev.Count)
			done = true
		}
	})))

	if err := slave.Write(HoldingRegisters, 5, []uint16{9}); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if !done {
		t.Error("observer did not run")
	}
}

func TestSlaveContext_ObserverPanic(t *testing.T) {
	var logs bytes.Buffer
	slave := NewSlaveContext(1,
		WithSlaveLogger(slog.New(slog.NewTextHandler(&logs, nil))),
		WithBank(NewRegisterBank(HoldingRegisters, 4, nil)),
		WithObserver(ObserverFunc(func(Event) { panic("boom") })),
	)

	if err := slave.Write(HoldingRegisters, 0, []uint16{1}); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if v, _ := slave.Snapshot(HoldingRegisters); v[0] != 1 {
		t.Errorf("write lost after observer panic: %v", v)
	}
	if !strings.Contains(logs.String(), "panic in observer") {
		t.Errorf("panic not logged: %s", logs.String())
	}
}

func TestSlaveContext_SeedDoesNotNotify(t *testing.T) {
	rec := &recorder{}
	slave := newTestSlave(1, WithObserver(rec))

	if err := slave.Seed(InputRegisters, 0, []uint16{5}); err != nil {
		t.Fatalf("Seed failed: %v", err)
	}
	if n := len(rec.all()); n != 0 {
		t.Errorf("Expected no events, got %d", n)
	}
}

func TestSlaveContext_MaskWrite(t *testing.T) {
	slave := newTestSlave(1)
	slave.Write(HoldingRegisters, 4, []uint16{0x12})

	got, err := slave.MaskWrite(4, 0xF2, 0x25)
	if err != nil {
		t.Fatalf("MaskWrite failed: %v", err)
	}
	if got != 0x17 {
		t.Errorf("Expected 0x17, got 0x%04X", got)
	}
	if v, _ := slave.Read(HoldingRegisters, 4, 1); v[0] != 0x17 {
		t.Errorf("Stored: expected 0x17, got 0x%04X", v[0])
	}

	if _, err := slave.MaskWrite(100, 0, 0); !errors.Is(err, ErrIllegalDataAddress) {
		t.Errorf("Expected ErrIllegalDataAddress, got %v", err)
	}
}

func TestSlaveContext_ReadWriteRegisters(t *testing.T) {
	rec := &recorder{}
	slave := newTestSlave(1, WithObserver(rec))

	got, err := slave.ReadWrite(0, 4, 2, []uint16{7, 8})
	if err != nil {
		t.Fatalf("ReadWrite failed: %v", err)
	}
	// The write is applied before the read.
	if !reflect.DeepEqual(got, []uint16{11, 22, 7, 8}) {
		t.Errorf("Expected [11 22 7 8], got %v", got)
	}

	events := rec.all()
	if len(events) != 2 || events[0].Op != OpWrite || events[1].Op != OpRead {
		t.Errorf("Expected write then read events, got %+v", events)
	}

	// An invalid read range leaves the write unapplied.
	if _, err := slave.ReadWrite(99, 5, 0, []uint16{1}); !errors.Is(err, ErrIllegalDataAddress) {
		t.Fatalf("Expected ErrIllegalDataAddress, got %v", err)
	}
	if v, _ := slave.Read(HoldingRegisters, 0, 1); v[0] != 11 {
		t.Errorf("write applied despite bad read range: %d", v[0])
	}
}

func TestSlaveContext_ConcurrentWritesAreAtomic(t *testing.T) {
	slave := NewSlaveContext(1,
		WithSlaveLogger(discardLogger()),
		WithBank(NewRegisterBank(HoldingRegisters, 10, nil)),
	)

	patterns := [][]uint16{
		{1, 1, 1, 1, 1, 1, 1, 1, 1, 1},
		{2, 2, 2, 2, 2, 2, 2, 2, 2, 2},
	}

	var wg sync.WaitGroup
	stop := make(chan struct{})
	for _, p := range patterns {
		wg.Add(1)
		go func(p []uint16) {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
					slave.Write(HoldingRegisters, 0, p)
				}
			}
		}(p)
	}

	for i := 0; i < 1000; i++ {
		v, err := slave.Read(HoldingRegisters, 0, 10)
		if err != nil {
			t.Fatalf("Read failed: %v", err)
		}
		for _, x := range v[1:] {
			if x != v[0] {
				close(stop)
				wg.Wait()
				t.Fatalf("torn read: %v", v)
			}
		}
	}
	close(stop)
	wg.Wait()
}

func TestServerContext_Single(t *testing.T) {
	slave := newTestSlave(1)
	ctx := NewSingleServerContext(slave)

	if !ctx.Single() {
		t.Error("Single() should be true")
	}
	for _, unit := range []UnitID{0, 1, 17, 255} {
		got, err := ctx.Slave(unit)
		if err != nil {
			t.Fatalf("Slave(%d) failed: %v", unit, err)
		}
		if got != slave {
			t.Errorf("Slave(%d) returned a different context", unit)
		}
	}
}

func TestServerContext_Multi(t *testing.T) {
	a := newTestSlave(1)
	b := newTestSlave(2)
	ctx := NewServerContext(b, a)

	if ctx.Single() {
		t.Error("Single() should be false")
	}
	if got, _ := ctx.Slave(2); got != b {
		t.Error("Slave(2) should return unit 2")
	}
	if _, err := ctx.Slave(3); !errors.Is(err, ErrUnknownUnit) {
		t.Errorf("Expected ErrUnknownUnit, got %v", err)
	}

	slaves := ctx.Slaves()
	if len(slaves) != 2 || slaves[0] != a || slaves[1] != b {
		t.Error("Slaves() should be ordered by unit id")
	}

	// Units are isolated.
	a.Write(HoldingRegisters, 0, []uint16{999})
	if v, _ := b.Read(HoldingRegisters, 0, 1); v[0] != 11 {
		t.Errorf("unit 2 changed by a write to unit 1: %d", v[0])
	}
}

func TestDecodeASCII(t *testing.T) {
	tests := []struct {
		name   string
		values []uint16
		want   string
	}{
		{"single chars", []uint16{72, 105}, "Hi"},
		{"packed pairs", []uint16{0x4865, 0x6C6C, 0x6F00}, "Hello"},
		{"control bytes dropped", []uint16{0x0141, 0x0A42}, "A\nB"},
		{"empty", nil, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DecodeASCII(tt.values); got != tt.want {
				t.Errorf("Expected %q, got %q", tt.want, got)
			}
		})
	}
}

func TestLogObserver(t *testing.T) {
	var logs bytes.Buffer
	obs := NewLogObserver(slog.New(slog.NewTextHandler(&logs, nil)))

	obs.Observe(Event{Op: OpWrite, Unit: 1, Bank: HoldingRegisters, Count: 2, Values: []uint16{72, 105}})
	obs.Observe(Event{Op: OpRead, Unit: 1, Bank: Coils, Address: 3, Count: 1, Values: []uint16{1}})

	out := logs.String()
	for _, want := range []string{"client write", "decoded=Hi", "bank=hr", "client read", "bank=co", "address=3"} {
		if !strings.Contains(out, want) {
			t.Errorf("log output missing %q:\n%s", want, out)
		}
	}
}

func TestMultiObserver(t *testing.T) {
	a, b := &recorder{}, &recorder{}
	slave := newTestSlave(1, WithObserver(MultiObserver{a, nil, b}))

	slave.Write(InputRegisters, 0, []uint16{1})

	if len(a.all()) != 1 || len(b.all()) != 1 {
		t.Errorf("Expected one event per observer, got %d and %d", len(a.all()), len(b.all()))
	}
}
