// Copyright 2025-2026 CERN. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

package health

import (
	"runtime"
	"strconv"
	"sync/atomic"
	"time"
)

// Stats tracks self-monitoring counters for the inspector.
type Stats struct {
	startTime time.Time

	PacketsSeen      atomic.Int64
	EventsProduced   atomic.Int64
	EventsEmitted    atomic.Int64
	SubEventsEmitted atomic.Int64
	DecodeErrors     atomic.Int64
	SinkErrors       atomic.Int64
	SinkDropped      atomic.Int64
	StateExpired     atomic.Int64
	StateDropped     atomic.Int64
}

// NewStats creates a new Stats instance.
func NewStats() *Stats {
	return &Stats{startTime: time.Now()}
}

// Uptime returns process uptime.
func (s *Stats) Uptime() time.Duration {
	return time.Since(s.startTime)
}

// Snapshot is a point-in-time copy of all counters.
type Snapshot struct {
	UptimeSeconds    float64 `json:"uptime_seconds"`
	Goroutines       int     `json:"goroutines"`
	MemorySysBytes   uint64  `json:"memory_sys_bytes"`
	PacketsSeen      int64   `json:"packets_seen"`
	EventsProduced   int64   `json:"events_produced"`
	EventsEmitted    int64   `json:"events_emitted"`
	SubEventsEmitted int64   `json:"sub_events_emitted"`
	DecodeErrors     int64   `json:"decode_errors"`
	SinkErrors       int64   `json:"sink_errors"`
	SinkDropped      int64   `json:"sink_dropped"`
	StateExpired     int64   `json:"state_expired"`
	StateDropped     int64   `json:"state_dropped"`
}

// Snapshot returns current stats.
func (s *Stats) Snapshot() Snapshot {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	return Snapshot{
		UptimeSeconds:    s.Uptime().Seconds(),
		Goroutines:       runtime.NumGoroutine(),
		MemorySysBytes:   memStats.Sys,
		PacketsSeen:      s.PacketsSeen.Load(),
		EventsProduced:   s.EventsProduced.Load(),
		EventsEmitted:    s.EventsEmitted.Load(),
		SubEventsEmitted: s.SubEventsEmitted.Load(),
		DecodeErrors:     s.DecodeErrors.Load(),
		SinkErrors:       s.SinkErrors.Load(),
		SinkDropped:      s.SinkDropped.Load(),
		StateExpired:     s.StateExpired.Load(),
		StateDropped:     s.StateDropped.Load(),
	}
}

// PrometheusMetrics returns stats in Prometheus text exposition format.
func (s *Stats) PrometheusMetrics() string {
	snap := s.Snapshot()
	var b []byte
	b = appendMetric(b, "hpi_uptime_seconds", "gauge", "Process uptime in seconds", snap.UptimeSeconds)
	b = appendMetric(b, "hpi_goroutines", "gauge", "Number of goroutines", float64(snap.Goroutines))
	b = appendMetric(b, "hpi_memory_sys_bytes", "gauge", "Memory obtained from the OS", float64(snap.MemorySysBytes))
	b = appendMetric(b, "hpi_packets_seen_total", "counter", "Packets read from the capture source", float64(snap.PacketsSeen))
	b = appendMetric(b, "hpi_events_produced_total", "counter", "Events decoded from RPC frames", float64(snap.EventsProduced))
	b = appendMetric(b, "hpi_events_emitted_total", "counter", "Events handed to sinks", float64(snap.EventsEmitted))
	b = appendMetric(b, "hpi_sub_events_emitted_total", "counter", "Per-action rows emitted for multi calls", float64(snap.SubEventsEmitted))
	b = appendMetric(b, "hpi_decode_errors_total", "counter", "Frames that failed to decode", float64(snap.DecodeErrors))
	b = appendMetric(b, "hpi_sink_errors_total", "counter", "Sink write failures", float64(snap.SinkErrors))
	b = appendMetric(b, "hpi_sink_dropped_total", "counter", "Events dropped by an open circuit breaker", float64(snap.SinkDropped))
	b = appendMetric(b, "hpi_state_expired_total", "counter", "State objects removed by the age sweep", float64(snap.StateExpired))
	b = appendMetric(b, "hpi_state_dropped_total", "counter", "State objects dropped by the memory cap", float64(snap.StateDropped))
	return string(b)
}

func appendMetric(b []byte, name, typ, help string, value float64) []byte {
	b = append(b, "# HELP "...)
	b = append(b, name...)
	b = append(b, ' ')
	b = append(b, help...)
	b = append(b, '\n')
	b = append(b, "# TYPE "...)
	b = append(b, name...)
	b = append(b, ' ')
	b = append(b, typ...)
	b = append(b, '\n')
	b = append(b, name...)
	b = append(b, ' ')
	b = strconv.AppendFloat(b, value, 'g', -1, 64)
	b = append(b, '\n')
	return b
}
