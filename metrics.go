package nvmeqd

import (
	"sync/atomic"
	"time"

	"github.com/nvmeqd/nvmeqd/internal/interfaces"
	"github.com/nvmeqd/nvmeqd/internal/nvme"
)

// LatencyBuckets defines the latency histogram buckets in nanoseconds.
// Logarithmic spacing from
// 1us to 10s covers the whole range an NVMe completion can plausibly
// take.
var LatencyBuckets = []uint64{
	1_000,
	10_000,
	100_000,
	1_000_000,
	10_000_000,
	100_000_000,
	1_000_000_000,
	10_000_000_000,
}

const numLatencyBuckets = 8

// Metrics tracks performance and operational statistics for a driver
// instance: per-opcode read/write/other submit counters, error and
// verify-failure counters, and one latency histogram shared by all
// opcodes, since this system's unit of work is a submitted NVMe command.
type Metrics struct {
	ReadOps  atomic.Uint64
	WriteOps atomic.Uint64
	OtherOps atomic.Uint64

	ReadBytes  atomic.Uint64
	WriteBytes atomic.Uint64

	DeviceErrors   atomic.Uint64
	VerifyFailures atomic.Uint64

	TotalLatencyNs atomic.Uint64
	OpCount        atomic.Uint64

	LatencyBuckets [numLatencyBuckets]atomic.Uint64

	StartTime atomic.Int64
	StopTime  atomic.Int64
}

// NewMetrics creates a new metrics instance with StartTime set to now.
func NewMetrics() *Metrics {
	m := &Metrics{}
	m.StartTime.Store(time.Now().UnixNano())
	return m
}

// RecordSubmit records a command submission by opcode and byte count.
func (m *Metrics) RecordSubmit(opcode byte, bytes uint64) {
	switch opcode {
	case nvme.OpRead:
		m.ReadOps.Add(1)
		m.ReadBytes.Add(bytes)
	case nvme.OpWrite:
		m.WriteOps.Add(1)
		m.WriteBytes.Add(bytes)
	default:
		m.OtherOps.Add(1)
	}
}

// RecordComplete records a command completion's latency and status.
func (m *Metrics) RecordComplete(opcode byte, latencyNs uint64, status uint16) {
	if !nvme.IsSuccess(status) {
		m.DeviceErrors.Add(1)
	}
	m.recordLatency(latencyNs)
}

// RecordVerifyFailure records one oracle verification failure, by kind
// (oracle.Kind.String(): "uncorrectable", "lba_stamp_mismatch", "crc_mismatch").
func (m *Metrics) RecordVerifyFailure(kind string) {
	m.VerifyFailures.Add(1)
}

func (m *Metrics) recordLatency(latencyNs uint64) {
	m.TotalLatencyNs.Add(latencyNs)
	m.OpCount.Add(1)

	for i, bucket := range LatencyBuckets {
		if latencyNs <= bucket {
			m.LatencyBuckets[i].Add(1)
		}
	}
}

// Stop marks the driver instance as stopped.
func (m *Metrics) Stop() {
	m.StopTime.Store(time.Now().UnixNano())
}

// MetricsSnapshot is a point-in-time snapshot of Metrics.
type MetricsSnapshot struct {
	ReadOps  uint64
	WriteOps uint64
	OtherOps uint64

	ReadBytes  uint64
	WriteBytes uint64

	DeviceErrors   uint64
	VerifyFailures uint64

	AvgLatencyNs uint64
	UptimeNs     uint64

	LatencyP50Ns  uint64
	LatencyP99Ns  uint64
	LatencyP999Ns uint64

	LatencyHistogram [numLatencyBuckets]uint64

	ReadIOPS       float64
	WriteIOPS      float64
	ReadBandwidth  float64
	WriteBandwidth float64
	TotalOps       uint64
	TotalBytes     uint64
	ErrorRate      float64
}

// Snapshot creates a point-in-time snapshot of metrics.
func (m *Metrics) Snapshot() MetricsSnapshot {
	snap := MetricsSnapshot{
		ReadOps:        m.ReadOps.Load(),
		WriteOps:       m.WriteOps.Load(),
		OtherOps:       m.OtherOps.Load(),
		ReadBytes:      m.ReadBytes.Load(),
		WriteBytes:     m.WriteBytes.Load(),
		DeviceErrors:   m.DeviceErrors.Load(),
		VerifyFailures: m.VerifyFailures.Load(),
	}

	snap.TotalOps = snap.ReadOps + snap.WriteOps + snap.OtherOps
	snap.TotalBytes = snap.ReadBytes + snap.WriteBytes

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
		snap.ReadIOPS = float64(snap.ReadOps) / uptimeSeconds
		snap.WriteIOPS = float64(snap.WriteOps) / uptimeSeconds
		snap.ReadBandwidth = float64(snap.ReadBytes) / uptimeSeconds
		snap.WriteBandwidth = float64(snap.WriteBytes) / uptimeSeconds
	}

	if snap.TotalOps > 0 {
		snap.ErrorRate = float64(snap.DeviceErrors+snap.VerifyFailures) / float64(snap.TotalOps) * 100.0
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

// calculatePercentile estimates the latency at the given percentile
// (0.0-1.0) using linear interpolation between histogram buckets.
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
	m.ReadOps.Store(0)
	m.WriteOps.Store(0)
	m.OtherOps.Store(0)
	m.ReadBytes.Store(0)
	m.WriteBytes.Store(0)
	m.DeviceErrors.Store(0)
	m.VerifyFailures.Store(0)
	m.TotalLatencyNs.Store(0)
	m.OpCount.Store(0)
	for i := 0; i < numLatencyBuckets; i++ {
		m.LatencyBuckets[i].Store(0)
	}
	m.StartTime.Store(time.Now().UnixNano())
	m.StopTime.Store(0)
}

// NoOpObserver is a no-op implementation of interfaces.Observer.
type NoOpObserver struct{}

func (NoOpObserver) ObserveSubmit(byte, uint64)           {}
func (NoOpObserver) ObserveComplete(byte, uint64, uint16) {}
func (NoOpObserver) ObserveVerifyFailure(string)          {}

// MetricsObserver implements interfaces.Observer using the built-in Metrics.
type MetricsObserver struct {
	metrics *Metrics
}

// NewMetricsObserver creates an observer that records to the given metrics.
func NewMetricsObserver(m *Metrics) *MetricsObserver {
	return &MetricsObserver{metrics: m}
}

func (o *MetricsObserver) ObserveSubmit(opcode byte, bytes uint64) {
	o.metrics.RecordSubmit(opcode, bytes)
}

func (o *MetricsObserver) ObserveComplete(opcode byte, latencyNs uint64, status uint16) {
	o.metrics.RecordComplete(opcode, latencyNs, status)
}

func (o *MetricsObserver) ObserveVerifyFailure(kind string) {
	o.metrics.RecordVerifyFailure(kind)
}

var (
	_ interfaces.Observer = (*MetricsObserver)(nil)
	_ interfaces.Observer = (*NoOpObserver)(nil)
)
