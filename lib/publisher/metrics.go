// Copyright 2026 The VMS Authors
// SPDX-License-Identifier: Apache-2.0

package publisher

import (
	"cmp"
	"slices"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/vms-broker/vms/lib/vms"
)

// PacketStats is a cumulative packet count and byte total.
type PacketStats struct {
	Count int64
	Bytes int64
}

// FailureKey identifies a failed delivery bucket. Subscriber is empty
// when a publication had no subscribers at all.
type FailureKey struct {
	Layer      vms.Layer
	Publisher  string
	Subscriber string
}

// LayerStats pairs a layer with its publish totals.
type LayerStats struct {
	Layer vms.Layer
	PacketStats
}

// FailureStats pairs a failure bucket with its totals.
type FailureStats struct {
	FailureKey
	PacketStats
}

// MetricsSnapshot is a point-in-time copy of a [Metrics] store, sorted
// by layer, then publisher, then subscriber.
type MetricsSnapshot struct {
	Packets  []LayerStats
	Failures []FailureStats
}

// Metrics accumulates publish throughput per layer and delivery
// failures per (layer, publisher, subscriber). It also serves as a
// Prometheus collector. Safe for concurrent use.
type Metrics struct {
	mu       sync.Mutex
	packets  map[vms.Layer]*PacketStats
	failures map[FailureKey]*PacketStats

	packetsDesc     *prometheus.Desc
	bytesDesc       *prometheus.Desc
	failuresDesc    *prometheus.Desc
	failedBytesDesc *prometheus.Desc
}

// NewMetrics returns an empty store.
func NewMetrics() *Metrics {
	layerLabels := []string{"layer"}
	failureLabels := []string{"layer", "publisher", "subscriber"}
	return &Metrics{
		packets:  make(map[vms.Layer]*PacketStats),
		failures: make(map[FailureKey]*PacketStats),

		packetsDesc: prometheus.NewDesc("vms_publish_packets_total",
			"Publish calls accepted, per layer.", layerLabels, nil),
		bytesDesc: prometheus.NewDesc("vms_publish_bytes_total",
			"Payload bytes accepted, per layer.", layerLabels, nil),
		failuresDesc: prometheus.NewDesc("vms_publish_failures_total",
			"Failed deliveries, per layer, publisher and subscriber. An empty subscriber means no subscribers.",
			failureLabels, nil),
		failedBytesDesc: prometheus.NewDesc("vms_publish_failed_bytes_total",
			"Payload bytes of failed deliveries.", failureLabels, nil),
	}
}

// RecordPacket counts one accepted publication of size bytes.
func (m *Metrics) RecordPacket(layer vms.Layer, size int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	stats := m.packets[layer]
	if stats == nil {
		stats = &PacketStats{}
		m.packets[layer] = stats
	}
	stats.Count++
	stats.Bytes += int64(size)
}

// RecordFailure counts one failed delivery of size bytes.
func (m *Metrics) RecordFailure(key FailureKey, size int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	stats := m.failures[key]
	if stats == nil {
		stats = &PacketStats{}
		m.failures[key] = stats
	}
	stats.Count++
	stats.Bytes += int64(size)
}

// Snapshot copies the current totals.
func (m *Metrics) Snapshot() MetricsSnapshot {
	m.mu.Lock()
	snapshot := MetricsSnapshot{
		Packets:  make([]LayerStats, 0, len(m.packets)),
		Failures: make([]FailureStats, 0, len(m.failures)),
	}
	for layer, stats := range m.packets {
		snapshot.Packets = append(snapshot.Packets, LayerStats{Layer: layer, PacketStats: *stats})
	}
	for key, stats := range m.failures {
		snapshot.Failures = append(snapshot.Failures, FailureStats{FailureKey: key, PacketStats: *stats})
	}
	m.mu.Unlock()

	slices.SortFunc(snapshot.Packets, func(a, b LayerStats) int {
		return vms.CompareLayers(a.Layer, b.Layer)
	})
	slices.SortFunc(snapshot.Failures, func(a, b FailureStats) int {
		return cmp.Or(
			vms.CompareLayers(a.Layer, b.Layer),
			cmp.Compare(a.Publisher, b.Publisher),
			cmp.Compare(a.Subscriber, b.Subscriber),
		)
	})
	return snapshot
}

// Reset discards every total.
func (m *Metrics) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	clear(m.packets)
	clear(m.failures)
}

// Describe implements [prometheus.Collector].
func (m *Metrics) Describe(ch chan<- *prometheus.Desc) {
	ch <- m.packetsDesc
	ch <- m.bytesDesc
	ch <- m.failuresDesc
	ch <- m.failedBytesDesc
}

// Collect implements [prometheus.Collector].
func (m *Metrics) Collect(ch chan<- prometheus.Metric) {
	snapshot := m.Snapshot()
	for _, stats := range snapshot.Packets {
		layer := stats.Layer.String()
		ch <- prometheus.MustNewConstMetric(m.packetsDesc, prometheus.CounterValue, float64(stats.Count), layer)
		ch <- prometheus.MustNewConstMetric(m.bytesDesc, prometheus.CounterValue, float64(stats.Bytes), layer)
	}
	for _, stats := range snapshot.Failures {
		labels := []string{stats.Layer.String(), stats.Publisher, stats.Subscriber}
		ch <- prometheus.MustNewConstMetric(m.failuresDesc, prometheus.CounterValue, float64(stats.Count), labels...)
		ch <- prometheus.MustNewConstMetric(m.failedBytesDesc, prometheus.CounterValue, float64(stats.Bytes), labels...)
	}
}
