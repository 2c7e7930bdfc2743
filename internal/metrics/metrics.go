// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package metrics holds the dispatch core's Prometheus instrumentation:
// request counts by command code and protocol result, and request
// latency.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Collectors bundles the dispatch core's metric collectors. Register
// them on a *prometheus.Registry at bring-up.
type Collectors struct {
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	ClientsConnected prometheus.Gauge
	BroadcastsSent  prometheus.Counter
}

// NewCollectors constructs the collector set without registering it.
func NewCollectors() *Collectors {
	return &Collectors{
		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "fci",
			Subsystem: "endpoint",
			Name:      "requests_total",
			Help:      "Total commands processed by the dispatch core, labeled by command code and return code.",
		}, []string{"code", "return_code"}),

		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "fci",
			Subsystem: "endpoint",
			Name:      "request_duration_seconds",
			Help:      "Dispatch core command processing latency, labeled by command code.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"code"}),

		ClientsConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "fci",
			Subsystem: "endpoint",
			Name:      "clients_connected",
			Help:      "Current number of connected clients.",
		}),

		BroadcastsSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "fci",
			Subsystem: "endpoint",
			Name:      "broadcasts_sent_total",
			Help:      "Total broadcast messages fanned out to the connected clients, counted once per broadcast.",
		}),
	}
}

// MustRegister registers every collector on reg, panicking on a
// duplicate-registration error (bring-up only, matching the teacher's
// fail-fast metrics setup).
func (c *Collectors) MustRegister(reg *prometheus.Registry) {
	reg.MustRegister(c.RequestsTotal, c.RequestDuration, c.ClientsConnected, c.BroadcastsSent)
}
