// Copyright 2025 Ekjot Singh
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// See the License for the specific language governing permissions and
// limitations under the License.

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Label constants.
const (
	LblHit        = "hit"
	LblMiss       = "miss"
	LblLookup     = "lookup"
	LblInstall    = "install"
	LblInvalidate = "invalidate"
	LblOK         = "ok"
	LblError      = "error"
)

// Client metrics.
var (
	RegionCacheCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tablestore",
			Subsystem: "client",
			Name:      "region_cache_operations_total",
			Help:      "Counter of region directory cache operations.",
		}, []string{"type", "result"})

	StaleRegionCounter = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "tablestore",
			Subsystem: "client",
			Name:      "stale_region_retries_total",
			Help:      "Counter of request retries caused by stale region locations.",
		})

	MasterConnectCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tablestore",
			Subsystem: "client",
			Name:      "master_connect_total",
			Help:      "Counter of master connection attempts.",
		}, []string{"result"})

	ResolveDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "tablestore",
			Subsystem: "client",
			Name:      "resolve_duration_seconds",
			Help:      "Bucketed histogram of catalog resolution duration.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 18),
		}, []string{"kind"})

	ConnPoolGauge = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "tablestore",
			Subsystem: "client",
			Name:      "pooled_connections",
			Help:      "Number of pooled region server connections.",
		})

	ScannerRegionCounter = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "tablestore",
			Subsystem: "client",
			Name:      "scanner_regions_total",
			Help:      "Counter of regions visited by client scanners.",
		})
)

// RegisterMetrics registers the client metrics with the default registry.
func RegisterMetrics() {
	prometheus.MustRegister(RegionCacheCounter)
	prometheus.MustRegister(StaleRegionCounter)
	prometheus.MustRegister(MasterConnectCounter)
	prometheus.MustRegister(ResolveDuration)
	prometheus.MustRegister(ConnPoolGauge)
	prometheus.MustRegister(ScannerRegionCounter)
}
