package service

import (
	"sort"
	"sync"
	"time"

	"github.com/montanaflynn/stats"
)

// MetricsCollector records durations of named operations.
type MetricsCollector struct {
	mu      sync.RWMutex
	samples map[string][]time.Duration
}

// OperationMetrics summarizes one operation. Times are in microseconds.
type OperationMetrics struct {
	Count  int     `json:"count" yaml:"count"`
	Mean   float64 `json:"mean_us" yaml:"mean_us"`
	Median float64 `json:"median_us" yaml:"median_us"`
	P95    float64 `json:"p95_us" yaml:"p95_us"`
	StdDev float64 `json:"stddev_us" yaml:"stddev_us"`
	Min    float64 `json:"min_us" yaml:"min_us"`
	Max    float64 `json:"max_us" yaml:"max_us"`
}

// NewMetricsCollector creates a new metrics collector
func NewMetricsCollector() *MetricsCollector {
	return &MetricsCollector{samples: make(map[string][]time.Duration)}
}

// Record adds one sample for op.
func (mc *MetricsCollector) Record(op string, d time.Duration) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	mc.samples[op] = append(mc.samples[op], d)
}

// Time runs fn and records its duration under op.
func (mc *MetricsCollector) Time(op string, fn func() error) error {
	start := time.Now()
	err := fn()
	if err == nil {
		mc.Record(op, time.Since(start))
	}
	return err
}

// Operations lists the recorded operation names in order.
func (mc *MetricsCollector) Operations() []string {
	mc.mu.RLock()
	defer mc.mu.RUnlock()

	ops := make([]string, 0, len(mc.samples))
	for op := range mc.samples {
		ops = append(ops, op)
	}
	sort.Strings(ops)
	return ops
}

// GetMetrics summarizes the samples of op. An unknown op yields the zero
// summary.
func (mc *MetricsCollector) GetMetrics(op string) OperationMetrics {
	mc.mu.RLock()
	samples := mc.samples[op]
	data := make(stats.Float64Data, len(samples))
	for i, d := range samples {
		data[i] = float64(d.Nanoseconds()) / 1e3
	}
	mc.mu.RUnlock()

	if len(data) == 0 {
		return OperationMetrics{}
	}

	m := OperationMetrics{Count: len(data)}
	// Errors only arise for empty input, handled above.
	m.Mean, _ = stats.Mean(data)
	m.Median, _ = stats.Median(data)
	m.P95, _ = stats.Percentile(data, 95)
	m.StdDev, _ = stats.StandardDeviation(data)
	m.Min, _ = stats.Min(data)
	m.Max, _ = stats.Max(data)
	return m
}

// Reset clears all metrics
func (mc *MetricsCollector) Reset() {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	mc.samples = make(map[string][]time.Duration)
}
