package automaton

import (
	"testing"
	"time"
)

func TestMetrics(t *testing.T) {
	m := NewMetrics()

	snap := m.Snapshot()
	if snap.TotalOps != 0 {
		t.Errorf("Expected 0 initial ops, got %d", snap.TotalOps)
	}

	m.RecordRecv(1024, 1000000, true) // 1KB recv, 1ms latency, success
	m.RecordSend(2048, 2000000, true) // 2KB send, 2ms latency, success
	m.RecordRecv(512, 500000, false)  // 512B recv, 0.5ms latency, error

	snap = m.Snapshot()

	if snap.RecvOps != 2 {
		t.Errorf("Expected 2 recv ops, got %d", snap.RecvOps)
	}
	if snap.SendOps != 1 {
		t.Errorf("Expected 1 send op, got %d", snap.SendOps)
	}

	if snap.RecvBytes != 1024 {
		t.Errorf("Expected 1024 recv bytes, got %d", snap.RecvBytes)
	}
	if snap.SendBytes != 2048 {
		t.Errorf("Expected 2048 send bytes, got %d", snap.SendBytes)
	}

	if snap.RecvErrors != 1 {
		t.Errorf("Expected 1 recv error, got %d", snap.RecvErrors)
	}
	if snap.SendErrors != 0 {
		t.Errorf("Expected 0 send errors, got %d", snap.SendErrors)
	}

	expectedErrorRate := float64(1) / float64(3) * 100.0
	if snap.ErrorRate < expectedErrorRate-0.1 || snap.ErrorRate > expectedErrorRate+0.1 {
		t.Errorf("Expected error rate ~%.1f%%, got %.1f%%", expectedErrorRate, snap.ErrorRate)
	}
}

func TestMetricsConnectAcceptHandshake(t *testing.T) {
	m := NewMetrics()

	m.RecordConnect(1_000_000, true)
	m.RecordConnect(2_000_000, false)
	m.RecordAccept(500_000, true)
	m.RecordHandshake(3_000_000, true)
	m.RecordClose()

	snap := m.Snapshot()
	if snap.ConnectOps != 2 || snap.ConnectErrors != 1 {
		t.Errorf("Expected 2 connect ops / 1 error, got %d/%d", snap.ConnectOps, snap.ConnectErrors)
	}
	if snap.AcceptOps != 1 {
		t.Errorf("Expected 1 accept op, got %d", snap.AcceptOps)
	}
	if snap.HandshakeOps != 1 || snap.HandshakeErrors != 0 {
		t.Errorf("Expected 1 handshake op / 0 errors, got %d/%d", snap.HandshakeOps, snap.HandshakeErrors)
	}
	if snap.CloseOps != 1 {
		t.Errorf("Expected 1 close op, got %d", snap.CloseOps)
	}
}

func TestMetricsLatency(t *testing.T) {
	m := NewMetrics()

	m.RecordRecv(1024, 1000000, true) // 1ms
	m.RecordSend(1024, 2000000, true) // 2ms

	snap := m.Snapshot()

	expectedAvgNs := uint64(1500000) // 1.5ms in nanoseconds
	if snap.AvgLatencyNs != expectedAvgNs {
		t.Errorf("Expected avg latency %d ns, got %d ns", expectedAvgNs, snap.AvgLatencyNs)
	}
}

func TestMetricsUptime(t *testing.T) {
	m := NewMetrics()

	time.Sleep(10 * time.Millisecond)

	snap := m.Snapshot()

	if snap.UptimeNs < 10*1000000 {
		t.Errorf("Expected uptime >= 10ms, got %d ns", snap.UptimeNs)
	}

	m.Stop()
	time.Sleep(5 * time.Millisecond)

	snap2 := m.Snapshot()

	if snap2.UptimeNs > snap.UptimeNs+2*1000000 { // Allow 2ms tolerance
		t.Errorf("Uptime increased too much after stop: %d -> %d", snap.UptimeNs, snap2.UptimeNs)
	}
}

func TestMetricsReset(t *testing.T) {
	m := NewMetrics()

	m.RecordRecv(1024, 1000000, true)
	m.RecordSend(2048, 2000000, true)

	snap := m.Snapshot()
	if snap.TotalOps == 0 {
		t.Error("Expected some operations before reset")
	}

	m.Reset()

	snap = m.Snapshot()
	if snap.TotalOps != 0 {
		t.Errorf("Expected 0 ops after reset, got %d", snap.TotalOps)
	}
	if snap.TotalBytes != 0 {
		t.Errorf("Expected 0 bytes after reset, got %d", snap.TotalBytes)
	}
}

func TestObserver(t *testing.T) {
	observer := &NoOpObserver{}
	observer.ObserveConnect(1_000_000, true)
	observer.ObserveAccept(1_000_000, true)
	observer.ObserveSend(1024, 1000000, true)
	observer.ObserveRecv(1024, 1000000, true)
	observer.ObserveClose()
	observer.ObserveHandshake(1_000_000, true)

	m := NewMetrics()
	metricsObserver := NewMetricsObserver(m)

	metricsObserver.ObserveRecv(1024, 1000000, true)
	metricsObserver.ObserveSend(2048, 2000000, true)

	snap := m.Snapshot()
	if snap.RecvOps != 1 {
		t.Errorf("Expected 1 recv op from observer, got %d", snap.RecvOps)
	}
	if snap.SendOps != 1 {
		t.Errorf("Expected 1 send op from observer, got %d", snap.SendOps)
	}
	if snap.RecvBytes != 1024 {
		t.Errorf("Expected 1024 recv bytes from observer, got %d", snap.RecvBytes)
	}
	if snap.SendBytes != 2048 {
		t.Errorf("Expected 2048 send bytes from observer, got %d", snap.SendBytes)
	}
}

func TestMetricsBandwidth(t *testing.T) {
	m := NewMetrics()

	startTime := time.Now()
	m.StartTime.Store(startTime.UnixNano())

	m.RecordRecv(1024, 1000000, true)
	m.RecordSend(2048, 2000000, true)

	stopTime := startTime.Add(1 * time.Second)
	m.StopTime.Store(stopTime.UnixNano())

	snap := m.Snapshot()

	if snap.RecvBandwidth < 1000 || snap.RecvBandwidth > 1050 {
		t.Errorf("Expected RecvBandwidth ~1024, got %.2f", snap.RecvBandwidth)
	}
	if snap.SendBandwidth < 2000 || snap.SendBandwidth > 2100 {
		t.Errorf("Expected SendBandwidth ~2048, got %.2f", snap.SendBandwidth)
	}
}

func TestMetricsHistogram(t *testing.T) {
	m := NewMetrics()

	for i := 0; i < 50; i++ {
		m.RecordRecv(1024, 500_000, true) // 500us
	}
	for i := 0; i < 49; i++ {
		m.RecordSend(1024, 5_000_000, true) // 5ms
	}
	m.RecordSend(1024, 50_000_000, true) // 50ms (the single slowest op)

	snap := m.Snapshot()

	if snap.TotalOps != 100 {
		t.Errorf("Expected 100 total ops, got %d", snap.TotalOps)
	}

	if snap.LatencyP50Ns < 100_000 || snap.LatencyP50Ns > 1_000_000 {
		t.Errorf("Expected P50 in 100us-1ms range, got %d ns", snap.LatencyP50Ns)
	}

	if snap.LatencyP99Ns < 5_000_000 || snap.LatencyP99Ns > 100_000_000 {
		t.Errorf("Expected P99 in 5ms-100ms range, got %d ns", snap.LatencyP99Ns)
	}

	totalInBuckets := uint64(0)
	for i := 0; i < len(snap.LatencyHistogram); i++ {
		totalInBuckets += snap.LatencyHistogram[i]
	}
	if totalInBuckets == 0 {
		t.Error("Expected histogram buckets to be populated")
	}
}
