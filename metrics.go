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
	"sync"
	"sync/atomic"
	"time"
)

// Counter is a simple atomic counter.
type Counter struct {
	value int64
}

// Add adds delta to the counter.
func (c *Counter) Add(delta int64) {
	atomic.AddInt64(&c.value, delta)
}

// Value returns the current counter value.
func (c *Counter) Value() int64 {
	return atomic.LoadInt64(&c.value)
}

// Reset resets the counter to zero.
func (c *Counter) Reset() {
	atomic.StoreInt64(&c.value, 0)
}

// LatencyHistogram tracks latency distribution.
type LatencyHistogram struct {
	mu      sync.Mutex
	buckets []int64   // count per bucket
	bounds  []float64 // upper bounds in ms
	sum     float64   // sum of all observations
	count   int64     // total count
	min     float64   // minimum observed value
	max     float64   // maximum observed value
}

// Request handling against an in-memory store is sub-millisecond, so the
// buckets start at 100us.
var (
	latencyBounds = []float64{0.1, 0.25, 0.5, 1, 5, 10, 50, 100, 500, 1000}
	latencyLabels = []string{"100us", "250us", "500us", "1ms", "5ms", "10ms", "50ms", "100ms", "500ms", "1s+"}
)

// NewLatencyHistogram creates a new latency histogram with default buckets.
func NewLatencyHistogram() *LatencyHistogram {
	return &LatencyHistogram{
		buckets: make([]int64, len(latencyBounds)),
		bounds:  latencyBounds,
		min:     -1,
		max:     -1,
	}
}

// Observe records a latency observation.
func (h *LatencyHistogram) Observe(d time.Duration) {
	ms := float64(d.Microseconds()) / 1000.0

	h.mu.Lock()
	defer h.mu.Unlock()

	h.sum += ms
	h.count++

	if h.min < 0 || ms < h.min {
		h.min = ms
	}
	if ms > h.max {
		h.max = ms
	}

	for i, bound := range h.bounds {
		if ms <= bound {
			h.buckets[i]++
			return
		}
	}
	// Greater than all bounds
	h.buckets[len(h.buckets)-1]++
}

// Stats returns histogram statistics.
func (h *LatencyHistogram) Stats() LatencyStats {
	h.mu.Lock()
	defer h.mu.Unlock()

	stats := LatencyStats{
		Count:   h.count,
		Sum:     h.sum,
		Buckets: make(map[string]int64),
	}

	if h.count > 0 {
		stats.Avg = h.sum / float64(h.count)
		stats.Min = h.min
		stats.Max = h.max
	}

	// Copy bucket counts
	for i, count := range h.buckets {
		if i < len(latencyLabels) {
			stats.Buckets[latencyLabels[i]] = count
		}
	}

	return stats
}

// Reset resets the histogram.
func (h *LatencyHistogram) Reset() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for i := range h.buckets {
		h.buckets[i] = 0
	}
	h.sum = 0
	h.count = 0
	h.min = -1
	h.max = -1
}

// LatencyStats holds latency statistics.
type LatencyStats struct {
	Count   int64
	Sum     float64
	Avg     float64
	Min     float64
	Max     float64
	Buckets map[string]int64
}

// ServerMetrics holds the counters of one dispatcher and the transports
// serving it. The FC08 diagnostic counters are read from here.
type ServerMetrics struct {
	FramesTotal     Counter // every frame seen on the wire, good or bad
	FramesDropped   Counter // malformed or corrupt frames, never answered
	RequestsTotal   Counter // frames addressed to this server
	RequestsSuccess Counter
	Exceptions      Counter
	NoResponse      Counter // broadcasts and ignored unit ids
	ActiveConns     Counter
	TotalConns      Counter
	Latency         *LatencyHistogram

	// Per-function code metrics
	funcMetrics sync.Map // FunctionCode -> *FunctionMetrics
}

// FunctionMetrics holds metrics for a specific function code.
type FunctionMetrics struct {
	Requests   Counter
	Exceptions Counter
	Latency    *LatencyHistogram
}

// NewServerMetrics creates a new ServerMetrics instance.
func NewServerMetrics() *ServerMetrics {
	return &ServerMetrics{
		Latency: NewLatencyHistogram(),
	}
}

// ForFunction returns metrics for a specific function code.
func (m *ServerMetrics) ForFunction(fc FunctionCode) *FunctionMetrics {
	if val, ok := m.funcMetrics.Load(fc); ok {
		return val.(*FunctionMetrics)
	}

	fm := &FunctionMetrics{
		Latency: NewLatencyHistogram(),
	}
	actual, _ := m.funcMetrics.LoadOrStore(fc, fm)
	return actual.(*FunctionMetrics)
}

// Collect returns all metrics as a map (compatible with expvar/prometheus).
func (m *ServerMetrics) Collect() map[string]interface{} {
	result := map[string]interface{}{
		"frames_total":     m.FramesTotal.Value(),
		"frames_dropped":   m.FramesDropped.Value(),
		"requests_total":   m.RequestsTotal.Value(),
		"requests_success": m.RequestsSuccess.Value(),
		"exceptions":       m.Exceptions.Value(),
		"no_response":      m.NoResponse.Value(),
		"active_conns":     m.ActiveConns.Value(),
		"total_conns":      m.TotalConns.Value(),
		"latency":          m.Latency.Stats(),
	}

	funcStats := make(map[string]interface{})
	m.funcMetrics.Range(func(key, value interface{}) bool {
		fc := key.(FunctionCode)
		fm := value.(*FunctionMetrics)
		funcStats[fc.String()] = map[string]interface{}{
			"requests":   fm.Requests.Value(),
			"exceptions": fm.Exceptions.Value(),
			"latency":    fm.Latency.Stats(),
		}
		return true
	})
	if len(funcStats) > 0 {
		result["functions"] = funcStats
	}

	return result
}

// ResetCounters clears the traffic counters. Connection gauges are left
// alone since they describe live state.
func (m *ServerMetrics) ResetCounters() {
	m.FramesTotal.Reset()
	m.FramesDropped.Reset()
	m.RequestsTotal.Reset()
	m.RequestsSuccess.Reset()
	m.Exceptions.Reset()
	m.NoResponse.Reset()
	m.Latency.Reset()

	m.funcMetrics.Range(func(key, value interface{}) bool {
		fm := value.(*FunctionMetrics)
		fm.Requests.Reset()
		fm.Exceptions.Reset()
		fm.Latency.Reset()
		return true
	})
}
