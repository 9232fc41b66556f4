// Package metrics exposes Prometheus collectors for per-Connection and
// per-Channel counters, built directly against the prometheus client API.
/*
 * Copyright (c) 2018-2024, NVIDIA CORPORATION. All rights reserved.
 */
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

// Registry is the set of collectors a process registers once; callers
// that don't want Prometheus at all simply never call Register.
type Registry struct {
	FramesSent   *prometheus.CounterVec
	FramesRecv   *prometheus.CounterVec
	BytesSent    *prometheus.CounterVec
	BytesRecv    *prometheus.CounterVec
	RingUsed     *prometheus.GaugeVec
	RingCapacity *prometheus.GaugeVec
	FlushCalls   prometheus.Counter
	DialFailures *prometheus.CounterVec
}

const namespace = "rosetta_io"

// New builds an unregistered Registry; call Register to attach it to a
// prometheus.Registerer (or prometheus.DefaultRegisterer).
func New() *Registry {
	labels := []string{"peer_id"}
	return &Registry{
		FramesSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "frames_sent_total", Help: "Frames sent per peer connection.",
		}, labels),
		FramesRecv: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "frames_recv_total", Help: "Completed Recv calls per peer connection.",
		}, labels),
		BytesSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "bytes_sent_total", Help: "Raw bytes written to the socket per peer connection.",
		}, labels),
		BytesRecv: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "bytes_recv_total", Help: "Payload bytes delivered to Recv callers per peer connection.",
		}, labels),
		RingUsed: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Name: "ring_used_bytes", Help: "Bytes currently buffered in a connection's ring.",
		}, []string{"peer_id", "ring"}),
		RingCapacity: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Name: "ring_capacity_bytes", Help: "Current capacity of a connection's ring.",
		}, []string{"peer_id", "ring"}),
		FlushCalls: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "flush_calls_total", Help: "Calls to Channel.Flush.",
		}),
		DialFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "dial_failures_total", Help: "Failed outbound connect attempts per peer.",
		}, labels),
	}
}

// Register attaches every collector in r to reg. Duplicate registration
// (e.g. two Channels in the same process) is tolerated: the second
// caller's collectors are simply discarded in favor of the first's.
func (r *Registry) Register(reg prometheus.Registerer) {
	collectors := []prometheus.Collector{
		r.FramesSent, r.FramesRecv, r.BytesSent, r.BytesRecv,
		r.RingUsed, r.RingCapacity, r.FlushCalls, r.DialFailures,
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
				_ = are
				continue
			}
		}
	}
}

// Snapshot is a point-in-time read of one connection's counters, used by
// Channel's introspection surface without requiring a caller to scrape
// Prometheus.
type Snapshot struct {
	PeerID     string
	FramesSent uint64
	FramesRecv uint64
	BytesSent  uint64
	BytesRecv  uint64
	RingUsed   int
	RingCap    int
}

// Snapshot reads back this peer's counters (via the collector's own Write,
// the same mechanism prometheus.Registry.Gather uses internally) and pairs
// them with caller-supplied ring sizes, which the Registry has no way to
// know on its own since it doesn't own the rings.
func (r *Registry) Snapshot(peerID string, ringUsed, ringCap int) Snapshot {
	return Snapshot{
		PeerID:     peerID,
		FramesSent: counterValue(r.FramesSent, peerID),
		FramesRecv: counterValue(r.FramesRecv, peerID),
		BytesSent:  counterValue(r.BytesSent, peerID),
		BytesRecv:  counterValue(r.BytesRecv, peerID),
		RingUsed:   ringUsed,
		RingCap:    ringCap,
	}
}

func counterValue(cv *prometheus.CounterVec, peerID string) uint64 {
	c, err := cv.GetMetricWithLabelValues(peerID)
	if err != nil {
		return 0
	}
	var m dto.Metric
	if err := c.Write(&m); err != nil {
		return 0
	}
	return uint64(m.GetCounter().GetValue())
}
