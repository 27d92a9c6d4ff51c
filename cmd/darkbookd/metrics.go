// metrics.go - Metrics collection for the exchange daemon
package main

import (
	"fmt"
	"sort"
	"sync"
	"time"
)

// MetricType represents the type of metric
type MetricType string

const (
	Counter   MetricType = "counter"
	Gauge     MetricType = "gauge"
	Histogram MetricType = "histogram"
)

// Metric represents a single metric
type Metric struct {
	Name      string            `json:"name"`
	Type      MetricType        `json:"type"`
	Value     float64           `json:"value"`
	Labels    map[string]string `json:"labels,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
}

// MetricsCollector manages metrics collection
type MetricsCollector struct {
	mu         sync.RWMutex
	metrics    map[string]*Metric
	counters   map[string]int64
	gauges     map[string]float64
	histograms map[string][]float64
}

// NewMetricsCollector creates a new metrics collector
func NewMetricsCollector() *MetricsCollector {
	return &MetricsCollector{
		metrics:    make(map[string]*Metric),
		counters:   make(map[string]int64),
		gauges:     make(map[string]float64),
		histograms: make(map[string][]float64),
	}
}

// IncrementCounter increments a counter metric
func (mc *MetricsCollector) IncrementCounter(name string, labels map[string]string) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	key := mc.makeKey(name, labels)
	mc.counters[key]++
	mc.updateMetric(name, Counter, float64(mc.counters[key]), labels)
}

// SetGauge sets a gauge metric value
func (mc *MetricsCollector) SetGauge(name string, value float64, labels map[string]string) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	key := mc.makeKey(name, labels)
	mc.gauges[key] = value
	mc.updateMetric(name, Gauge, value, labels)
}

// RecordHistogram records a value in a histogram
func (mc *MetricsCollector) RecordHistogram(name string, value float64, labels map[string]string) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	key := mc.makeKey(name, labels)
	mc.histograms[key] = append(mc.histograms[key], value)

	// Keep only last 1000 values for memory efficiency
	if len(mc.histograms[key]) > 1000 {
		mc.histograms[key] = mc.histograms[key][len(mc.histograms[key])-1000:]
	}
	mc.updateMetric(name, Histogram, value, labels)
}

// GetMetricsSummary returns a summary of all metrics
func (mc *MetricsCollector) GetMetricsSummary() map[string]interface{} {
	mc.mu.RLock()
	defer mc.mu.RUnlock()

	summary := make(map[string]interface{})

	counters := make(map[string]int64, len(mc.counters))
	for key, v := range mc.counters {
		counters[key] = v
	}
	summary["counters"] = counters

	gauges := make(map[string]float64, len(mc.gauges))
	for key, v := range mc.gauges {
		gauges[key] = v
	}
	summary["gauges"] = gauges

	histograms := make(map[string]map[string]float64)
	for key, values := range mc.histograms {
		if len(values) == 0 {
			continue
		}
		h := map[string]float64{
			"count": float64(len(values)),
			"min":   values[0],
			"max":   values[0],
			"sum":   0,
		}
		for _, value := range values {
			if value < h["min"] {
				h["min"] = value
			}
			if value > h["max"] {
				h["max"] = value
			}
			h["sum"] += value
		}
		h["avg"] = h["sum"] / h["count"]
		histograms[key] = h
	}
	summary["histograms"] = histograms

	return summary
}

// makeKey creates a deterministic key for a metric name and labels
func (mc *MetricsCollector) makeKey(name string, labels map[string]string) string {
	if len(labels) == 0 {
		return name
	}
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	key := name
	for _, k := range keys {
		key += fmt.Sprintf("_%s_%s", k, labels[k])
	}
	return key
}

// updateMetric updates or creates a metric
func (mc *MetricsCollector) updateMetric(name string, metricType MetricType, value float64, labels map[string]string) {
	key := mc.makeKey(name, labels)
	mc.metrics[key] = &Metric{
		Name:      name,
		Type:      metricType,
		Value:     value,
		Labels:    labels,
		Timestamp: time.Now(),
	}
}

// Predefined metric names
const (
	MetricOrdersSubmitted    = "orders_submitted"
	MetricOrdersRejected     = "orders_rejected"
	MetricOrdersCancelled    = "orders_cancelled"
	MetricSettlements        = "settlements"
	MetricSettlementFailures = "settlement_failures"
	MetricDeposits           = "deposits"
	MetricWithdrawals        = "withdrawals"
	MetricActiveOrders       = "active_orders"
	MetricSettleLatency      = "settle_latency_seconds"
	MetricRateLimited        = "rate_limited_requests"
)

// Convenience methods for common metrics
func (mc *MetricsCollector) RecordSubmission(marketID uint32) {
	mc.IncrementCounter(MetricOrdersSubmitted, map[string]string{"market": fmt.Sprint(marketID)})
}

func (mc *MetricsCollector) RecordRejection(reason string) {
	mc.IncrementCounter(MetricOrdersRejected, map[string]string{"reason": reason})
}

func (mc *MetricsCollector) RecordCancellation(marketID uint32) {
	mc.IncrementCounter(MetricOrdersCancelled, map[string]string{"market": fmt.Sprint(marketID)})
}

func (mc *MetricsCollector) RecordSettlement(duration time.Duration, failed bool) {
	if failed {
		mc.IncrementCounter(MetricSettlementFailures, nil)
		return
	}
	mc.IncrementCounter(MetricSettlements, nil)
	mc.RecordHistogram(MetricSettleLatency, duration.Seconds(), nil)
}

func (mc *MetricsCollector) RecordActiveOrders(marketID uint32, count int) {
	mc.SetGauge(MetricActiveOrders, float64(count), map[string]string{"market": fmt.Sprint(marketID)})
}
