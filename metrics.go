package automaton

import (
	"sync/atomic"
	"time"
)

// LatencyBuckets defines the latency histogram buckets in nanoseconds.
// Buckets cover from 1us to 10s with logarithmic spacing.
var LatencyBuckets = []uint64{
	1_000,          // 1us
	10_000,         // 10us
	100_000,        // 100us
	1_000_000,      // 1ms
	10_000_000,     // 10ms
	100_000_000,    // 100ms
	1_000_000_000,  // 1s
	10_000_000_000, // 10s
}

const numLatencyBuckets = 8

// Metrics tracks connection and I/O statistics for a runtime instance:
// connects/accepts, bytes sent/received, and handshake outcomes.
type Metrics struct {
	// Connection lifecycle counters
	ConnectOps atomic.Uint64 // Total outbound connect attempts
	AcceptOps  atomic.Uint64 // Total inbound accepts
	CloseOps   atomic.Uint64 // Total connection closes

	// I/O counters
	SendOps atomic.Uint64 // Total send requests
	RecvOps atomic.Uint64 // Total recv requests

	// Byte counters
	SendBytes atomic.Uint64 // Total bytes sent
	RecvBytes atomic.Uint64 // Total bytes received

	// Error counters
	ConnectErrors atomic.Uint64 // Failed connect attempts
	AcceptErrors  atomic.Uint64 // Failed accepts
	SendErrors    atomic.Uint64 // Failed/timed-out sends
	RecvErrors    atomic.Uint64 // Failed/timed-out recvs

	// PNet handshake counters
	HandshakeOps    atomic.Uint64 // Total PNet handshakes attempted
	HandshakeErrors atomic.Uint64 // Failed PNet handshakes

	// Performance tracking
	TotalLatencyNs atomic.Uint64 // Cumulative operation latency in nanoseconds
	OpCount        atomic.Uint64 // Total operations (for average latency calculation)

	// Latency histogram buckets (cumulative counts)
	// Each bucket[i] contains the count of operations with latency <= LatencyBuckets[i]
	LatencyBuckets [numLatencyBuckets]atomic.Uint64

	// Runtime lifecycle
	StartTime atomic.Int64 // Instance start timestamp (UnixNano)
	StopTime  atomic.Int64 // Instance stop timestamp (UnixNano)
}

// NewMetrics creates a new metrics instance.
func NewMetrics() *Metrics {
	m := &Metrics{}
	m.StartTime.Store(time.Now().UnixNano())
	return m
}

// RecordConnect records an outbound connect attempt.
func (m *Metrics) RecordConnect(latencyNs uint64, success bool) {
	m.ConnectOps.Add(1)
	if !success {
		m.ConnectErrors.Add(1)
	}
	m.recordLatency(latencyNs)
}

// RecordAccept records an inbound accept.
func (m *Metrics) RecordAccept(latencyNs uint64, success bool) {
	m.AcceptOps.Add(1)
	if !success {
		m.AcceptErrors.Add(1)
	}
	m.recordLatency(latencyNs)
}

// RecordSend records a send request.
func (m *Metrics) RecordSend(bytes uint64, latencyNs uint64, success bool) {
	m.SendOps.Add(1)
	if success {
		m.SendBytes.Add(bytes)
	} else {
		m.SendErrors.Add(1)
	}
	m.recordLatency(latencyNs)
}

// RecordRecv records a recv request.
func (m *Metrics) RecordRecv(bytes uint64, latencyNs uint64, success bool) {
	m.RecvOps.Add(1)
	if success {
		m.RecvBytes.Add(bytes)
	} else {
		m.RecvErrors.Add(1)
	}
	m.recordLatency(latencyNs)
}

// RecordClose records a connection teardown.
func (m *Metrics) RecordClose() {
	m.CloseOps.Add(1)
}

// RecordHandshake records a PNet nonce handshake attempt.
func (m *Metrics) RecordHandshake(latencyNs uint64, success bool) {
	m.HandshakeOps.Add(1)
	if !success {
		m.HandshakeErrors.Add(1)
	}
	m.recordLatency(latencyNs)
}

// recordLatency records operation latency and updates the histogram.
func (m *Metrics) recordLatency(latencyNs uint64) {
	m.TotalLatencyNs.Add(latencyNs)
	m.OpCount.Add(1)

	for i, bucket := range LatencyBuckets {
		if latencyNs <= bucket {
			m.LatencyBuckets[i].Add(1)
		}
	}
}

// Stop marks the instance as stopped.
func (m *Metrics) Stop() {
	m.StopTime.Store(time.Now().UnixNano())
}

// MetricsSnapshot is a point-in-time snapshot of Metrics.
type MetricsSnapshot struct {
	ConnectOps uint64
	AcceptOps  uint64
	CloseOps   uint64
	SendOps    uint64
	RecvOps    uint64

	SendBytes uint64
	RecvBytes uint64

	ConnectErrors   uint64
	AcceptErrors    uint64
	SendErrors      uint64
	RecvErrors      uint64
	HandshakeOps    uint64
	HandshakeErrors uint64

	AvgLatencyNs uint64
	UptimeNs     uint64

	LatencyP50Ns  uint64
	LatencyP99Ns  uint64
	LatencyP999Ns uint64

	LatencyHistogram [numLatencyBuckets]uint64

	SendBandwidth float64 // Bytes per second
	RecvBandwidth float64
	TotalOps      uint64
	TotalBytes    uint64
	ErrorRate     float64 // Percentage of failed operations
}

// Snapshot creates a point-in-time snapshot of metrics.
func (m *Metrics) Snapshot() MetricsSnapshot {
	snap := MetricsSnapshot{
		ConnectOps:      m.ConnectOps.Load(),
		AcceptOps:       m.AcceptOps.Load(),
		CloseOps:        m.CloseOps.Load(),
		SendOps:         m.SendOps.Load(),
		RecvOps:         m.RecvOps.Load(),
		SendBytes:       m.SendBytes.Load(),
		RecvBytes:       m.RecvBytes.Load(),
		ConnectErrors:   m.ConnectErrors.Load(),
		AcceptErrors:    m.AcceptErrors.Load(),
		SendErrors:      m.SendErrors.Load(),
		RecvErrors:      m.RecvErrors.Load(),
		HandshakeOps:    m.HandshakeOps.Load(),
		HandshakeErrors: m.HandshakeErrors.Load(),
	}

	snap.TotalOps = snap.ConnectOps + snap.AcceptOps + snap.SendOps + snap.RecvOps
	snap.TotalBytes = snap.SendBytes + snap.RecvBytes

	totalLatencyNs := m.TotalLatencyNs.Load()
	opCount := m.OpCount.Load()
	if opCount > 0 {
		snap.AvgLatencyNs = totalLatencyNs / opCount
	}

	startTime := m.StartTime.Load()
	stopTime := m.StopTime.Load()
	if stopTime > 0 {
		snap.UptimeNs = uint64(stopTime - startTime)
	} else {
		snap.UptimeNs = uint64(time.Now().UnixNano() - startTime)
	}

	if snap.UptimeNs > 0 {
		uptimeSeconds := float64(snap.UptimeNs) / 1e9
		snap.SendBandwidth = float64(snap.SendBytes) / uptimeSeconds
		snap.RecvBandwidth = float64(snap.RecvBytes) / uptimeSeconds
	}

	totalErrors := snap.ConnectErrors + snap.AcceptErrors + snap.SendErrors + snap.RecvErrors + snap.HandshakeErrors
	if snap.TotalOps > 0 {
		snap.ErrorRate = float64(totalErrors) / float64(snap.TotalOps) * 100.0
	}

	for i := 0; i < numLatencyBuckets; i++ {
		snap.LatencyHistogram[i] = m.LatencyBuckets[i].Load()
	}

	if opCount > 0 {
		snap.LatencyP50Ns = m.calculatePercentile(0.50)
		snap.LatencyP99Ns = m.calculatePercentile(0.99)
		snap.LatencyP999Ns = m.calculatePercentile(0.999)
	}

	return snap
}

// calculatePercentile estimates the latency at the given percentile (0.0-1.0)
// using linear interpolation between histogram buckets.
func (m *Metrics) calculatePercentile(percentile float64) uint64 {
	totalOps := m.OpCount.Load()
	if totalOps == 0 {
		return 0
	}

	targetCount := uint64(float64(totalOps) * percentile)

	prevBucket := uint64(0)
	for i, bucket := range LatencyBuckets {
		bucketCount := m.LatencyBuckets[i].Load()
		if bucketCount >= targetCount {
			prevCount := uint64(0)
			if i > 0 {
				prevCount = m.LatencyBuckets[i-1].Load()
			}
			if bucketCount == prevCount {
				return bucket
			}
			fraction := float64(targetCount-prevCount) / float64(bucketCount-prevCount)
			return prevBucket + uint64(fraction*float64(bucket-prevBucket))
		}
		prevBucket = bucket
	}

	return LatencyBuckets[numLatencyBuckets-1]
}

// Reset resets all metrics counters. Useful for testing.
func (m *Metrics) Reset() {
	m.ConnectOps.Store(0)
	m.AcceptOps.Store(0)
	m.CloseOps.Store(0)
	m.SendOps.Store(0)
	m.RecvOps.Store(0)
	m.SendBytes.Store(0)
	m.RecvBytes.Store(0)
	m.ConnectErrors.Store(0)
	m.AcceptErrors.Store(0)
	m.SendErrors.Store(0)
	m.RecvErrors.Store(0)
	m.HandshakeOps.Store(0)
	m.HandshakeErrors.Store(0)
	m.TotalLatencyNs.Store(0)
	m.OpCount.Store(0)
	for i := 0; i < numLatencyBuckets; i++ {
		m.LatencyBuckets[i].Store(0)
	}
	m.StartTime.Store(time.Now().UnixNano())
	m.StopTime.Store(0)
}

// Observer is a sink interface for connection/IO/handshake events;
// MetricsObserver forwards them to a Metrics. The runtime does not call
// an Observer: it records into Metrics directly.
type Observer interface {
	ObserveConnect(latencyNs uint64, success bool)
	ObserveAccept(latencyNs uint64, success bool)
	ObserveSend(bytes uint64, latencyNs uint64, success bool)
	ObserveRecv(bytes uint64, latencyNs uint64, success bool)
	ObserveClose()
	ObserveHandshake(latencyNs uint64, success bool)
}

// NoOpObserver is a no-op implementation of Observer.
type NoOpObserver struct{}

func (NoOpObserver) ObserveConnect(uint64, bool)      {}
func (NoOpObserver) ObserveAccept(uint64, bool)       {}
func (NoOpObserver) ObserveSend(uint64, uint64, bool) {}
func (NoOpObserver) ObserveRecv(uint64, uint64, bool) {}
func (NoOpObserver) ObserveClose()                    {}
func (NoOpObserver) ObserveHandshake(uint64, bool)    {}

// MetricsObserver implements Observer using the built-in Metrics.
type MetricsObserver struct {
	metrics *Metrics
}

// NewMetricsObserver creates an observer that records to the given metrics.
func NewMetricsObserver(m *Metrics) *MetricsObserver {
	return &MetricsObserver{metrics: m}
}

func (o *MetricsObserver) ObserveConnect(latencyNs uint64, success bool) {
	o.metrics.RecordConnect(latencyNs, success)
}

func (o *MetricsObserver) ObserveAccept(latencyNs uint64, success bool) {
	o.metrics.RecordAccept(latencyNs, success)
}

func (o *MetricsObserver) ObserveSend(bytes uint64, latencyNs uint64, success bool) {
	o.metrics.RecordSend(bytes, latencyNs, success)
}

func (o *MetricsObserver) ObserveRecv(bytes uint64, latencyNs uint64, success bool) {
	o.metrics.RecordRecv(bytes, latencyNs, success)
}

func (o *MetricsObserver) ObserveClose() {
	o.metrics.RecordClose()
}

func (o *MetricsObserver) ObserveHandshake(latencyNs uint64, success bool) {
	o.metrics.RecordHandshake(latencyNs, success)
}

var _ Observer = (*MetricsObserver)(nil)
var _ Observer = (*NoOpObserver)(nil)
