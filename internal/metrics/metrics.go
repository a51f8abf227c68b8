// Package metrics exposes a protocol engine's diagnostic state as
// Prometheus metrics (SPEC_FULL §2), grounded on
// runZeroInc-sockstats's pkg/exporter/exporter.go: a Collector holding
// a table of {description, supplier} pairs, walked once for Describe
// and once per Collect rather than hand-writing a parallel method per
// metric.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// StatusSource is the narrow slice of *engine.Engine this package
// depends on (engine.Engine.StatusSync satisfies it directly), so
// internal/metrics never needs to import internal/engine's full
// surface.
type StatusSource interface {
	StatusSync(now time.Time) Status
}

// Status mirrors the fields of engine.Status this collector reports.
// Kept as a local struct, not a type alias, so callers adapt their own
// engine.Status into it explicitly (see cmd/meshd) rather than this
// package reaching into engine's internals.
type Status struct {
	Uptime          time.Duration
	EncryptEnabled  bool
	MACMode         string
	TimeStratum     uint8
	TimeSynced      bool
	NeighborCount   int
	RouteCount      int
	PendingAcks     int
	PartitionEvents uint64
	NonceExhausted  bool
}

var (
	descUptime          = prometheus.NewDesc("meshnode_uptime_seconds", "Seconds since the engine started.", nil, nil)
	descNeighborCount   = prometheus.NewDesc("meshnode_neighbor_count", "Current neighbor table size.", nil, nil)
	descRouteCount      = prometheus.NewDesc("meshnode_route_count", "Current route table size.", nil, nil)
	descPendingAcks     = prometheus.NewDesc("meshnode_pending_acks", "Unacknowledged ARQ packets awaiting retransmit or timeout.", nil, nil)
	descPartitionEvents = prometheus.NewDesc("meshnode_partition_events_total", "Route-partition detections since boot.", nil, nil)
	descTimeStratum     = prometheus.NewDesc("meshnode_time_stratum", "Current elected time-source stratum (0=GPS, 15=unsynced).", nil, nil)
	descTimeSynced      = prometheus.NewDesc("meshnode_time_synced", "1 if the elected time source is currently locked.", nil, nil)
	descEncryptEnabled  = prometheus.NewDesc("meshnode_encrypt_enabled", "1 if data-plane AEAD sealing is enabled.", nil, nil)
	descNonceExhausted  = prometheus.NewDesc("meshnode_nonce_exhausted", "1 if the AEAD nonce counter has wrapped and the node can no longer seal traffic.", nil, nil)
	descMACMode         = prometheus.NewDesc("meshnode_mac_mode", "MAC arbitration mode, 0=carrier-sense 1=slotted.", nil, nil)
)

type metricInfo struct {
	desc     *prometheus.Desc
	valType  prometheus.ValueType
	supplier func(s Status) float64
}

var infos = []metricInfo{
	{descUptime, prometheus.CounterValue, func(s Status) float64 { return s.Uptime.Seconds() }},
	{descNeighborCount, prometheus.GaugeValue, func(s Status) float64 { return float64(s.NeighborCount) }},
	{descRouteCount, prometheus.GaugeValue, func(s Status) float64 { return float64(s.RouteCount) }},
	{descPendingAcks, prometheus.GaugeValue, func(s Status) float64 { return float64(s.PendingAcks) }},
	{descPartitionEvents, prometheus.CounterValue, func(s Status) float64 { return float64(s.PartitionEvents) }},
	{descTimeStratum, prometheus.GaugeValue, func(s Status) float64 { return float64(s.TimeStratum) }},
	{descTimeSynced, prometheus.GaugeValue, func(s Status) float64 { return boolToFloat(s.TimeSynced) }},
	{descEncryptEnabled, prometheus.GaugeValue, func(s Status) float64 { return boolToFloat(s.EncryptEnabled) }},
	{descNonceExhausted, prometheus.GaugeValue, func(s Status) float64 { return boolToFloat(s.NonceExhausted) }},
	{descMACMode, prometheus.GaugeValue, func(s Status) float64 {
		if s.MACMode == "slotted" {
			return 1
		}
		return 0
	}},
}

func boolToFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

// Collector adapts a StatusSource into a prometheus.Collector, scraped
// by cmd/meshd's `/metrics` handler when MESH_METRICS_ADDR is set.
type Collector struct {
	source StatusSource
	now    func() time.Time
}

// NewCollector builds a Collector reporting source's status, using
// nowFn to timestamp each scrape (so tests can supply a fixed clock
// instead of wall time, matching the engine's own no-internal-clock
// discipline, spec §5).
func NewCollector(source StatusSource, nowFn func() time.Time) *Collector {
	return &Collector{source: source, now: nowFn}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	for _, info := range infos {
		ch <- info.desc
	}
}

// Collect implements prometheus.Collector: takes one status snapshot
// and emits every metric derived from it, matching
// runZeroInc-sockstats's one-poll-per-scrape discipline.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	s := c.source.StatusSync(c.now())
	for _, info := range infos {
		ch <- prometheus.MustNewConstMetric(info.desc, info.valType, info.supplier(s))
	}
}
