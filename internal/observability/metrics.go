// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

// Package observability provides the Prometheus metrics of geonote and the HTTP server
// exposing them.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "geonote"

// Metrics holds the Prometheus counters and gauges of the application controller.
type Metrics struct {
	LocationFixes   *prometheus.CounterVec // labels: source={fetch,watch}, outcome={success,error,stale}
	GeocodeRequests *prometheus.CounterVec // labels: outcome={found,empty,error}
	GeocodeCache    *prometheus.CounterVec // labels: result={hit,miss}
	StoreOperations *prometheus.CounterVec // labels: op={insert,list}, outcome={success,error}
	Busy            prometheus.Gauge

	gatherer prometheus.Gatherer
}

// NewMetrics creates all metrics and registers them with reg. A nil reg uses a fresh registry.
func NewMetrics(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	m := &Metrics{
		LocationFixes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "location_fixes_total",
			Help:      "Location fixes by source and outcome.",
		}, []string{"source", "outcome"}),
		GeocodeRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "geocode_requests_total",
			Help:      "Reverse geocoding lookups by outcome.",
		}, []string{"outcome"}),
		GeocodeCache: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "geocode_cache_total",
			Help:      "Reverse geocoding cache lookups by result.",
		}, []string{"result"}),
		StoreOperations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "store_operations_total",
			Help:      "Persistence operations by operation and outcome.",
		}, []string{"op", "outcome"}),
		Busy: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "fetch_busy",
			Help:      "1 while a manual location fetch is running, 0 otherwise.",
		}),
		gatherer: reg,
	}

	reg.MustRegister(
		m.LocationFixes,
		m.GeocodeRequests,
		m.GeocodeCache,
		m.StoreOperations,
		m.Busy,
	)

	return m
}

// Gatherer returns the registry the metrics are registered with.
func (m *Metrics) Gatherer() prometheus.Gatherer {
	return m.gatherer
}

// Outcome maps an error to the success/error label value.
func Outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}
