package stcp

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/xid"
)

// MetricsCollector is a prometheus.Collector exposing per-connection
// retransmit-queue depth, in-flight bytes, advertised window sizes and
// the current state, scraped from a dynamic map of tracked connections on
// each Collect.
type MetricsCollector struct {
	mu    sync.Mutex
	conns map[xid.ID]*ControlBlock

	retransmits   *prometheus.Desc
	inFlightBytes *prometheus.Desc
	sendWindow    *prometheus.Desc
	recvWindow    *prometheus.Desc
	stateCode     *prometheus.Desc
}

// NewMetricsCollector constructs an unregistered MetricsCollector; pass it
// to a prometheus.Registry (or prometheus.MustRegister) to serve it.
func NewMetricsCollector() *MetricsCollector {
	const ns = "stcp"
	return &MetricsCollector{
		conns: make(map[xid.ID]*ControlBlock),
		retransmits: prometheus.NewDesc(
			ns+"_retransmit_queue_entries", "Unacknowledged retransmit-queue entries.",
			[]string{"conn"}, nil),
		inFlightBytes: prometheus.NewDesc(
			ns+"_in_flight_bytes", "Sequence-space bytes currently unacknowledged.",
			[]string{"conn"}, nil),
		sendWindow: prometheus.NewDesc(
			ns+"_send_window", "Peer-advertised send window, ceiling-clamped.",
			[]string{"conn"}, nil),
		recvWindow: prometheus.NewDesc(
			ns+"_recv_window", "Locally advertised receive window.",
			[]string{"conn"}, nil),
		stateCode: prometheus.NewDesc(
			ns+"_state", "Current connection state as an integer code.",
			[]string{"conn", "state"}, nil),
	}
}

// Track begins exposing metrics for cb under its connection id.
func (m *MetricsCollector) Track(cb *ControlBlock) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.conns[cb.ID()] = cb
}

// Untrack stops exposing metrics for a connection, e.g. once it reaches
// StateClosed.
func (m *MetricsCollector) Untrack(id xid.ID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.conns, id)
}

func (m *MetricsCollector) Describe(descs chan<- *prometheus.Desc) {
	descs <- m.retransmits
	descs <- m.inFlightBytes
	descs <- m.sendWindow
	descs <- m.recvWindow
	descs <- m.stateCode
}

func (m *MetricsCollector) Collect(metrics chan<- prometheus.Metric) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for id, cb := range m.conns {
		label := id.String()
		snap := cb.Snapshot()
		metrics <- prometheus.MustNewConstMetric(m.retransmits, prometheus.GaugeValue,
			float64(snap.RetransmitLen), label)
		metrics <- prometheus.MustNewConstMetric(m.inFlightBytes, prometheus.GaugeValue,
			float64(snap.InFlightBytes), label)
		metrics <- prometheus.MustNewConstMetric(m.sendWindow, prometheus.GaugeValue,
			float64(snap.SendWindow), label)
		metrics <- prometheus.MustNewConstMetric(m.recvWindow, prometheus.GaugeValue,
			float64(snap.RecvWindow), label)
		metrics <- prometheus.MustNewConstMetric(m.stateCode, prometheus.GaugeValue,
			float64(snap.State), label, snap.State.String())
	}
}
