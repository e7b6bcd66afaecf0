// Copyright (c) 2017 OysterPack, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package metrics wraps the prometheus collectors a Service registers for
// itself, labeled by service name the way pkg/service/metrics.go's
// AddServiceMetricLabels tags every service metric with its Descriptor
// fields.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// ServiceLabel is the label key every collector in this package is keyed
// by, mirroring pkg/service/metrics.go's METRIC_LABEL_COMPONENT.
const ServiceLabel = "service"

// ServiceMetrics is the set of collectors a single Service's tick loop
// updates once per iteration.
type ServiceMetrics struct {
	TickDuration   prometheus.Histogram
	Dispatched     prometheus.Counter
	SessionCount   prometheus.Gauge
	FrameOverruns  prometheus.Counter
}

// NewServiceMetrics registers (or re-fetches, if already registered) the
// collectors for a named service against reg. A nil reg is permitted for
// tests that don't care about exposition.
func NewServiceMetrics(reg prometheus.Registerer, serviceName string) *ServiceMetrics {
	labels := prometheus.Labels{ServiceLabel: serviceName}

	tickDuration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace:   "fabric",
		Subsystem:   "service",
		Name:        "tick_duration_seconds",
		Help:        "duration of a single service tick",
		ConstLabels: labels,
		Buckets:     prometheus.DefBuckets,
	})
	dispatched := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace:   "fabric",
		Subsystem:   "service",
		Name:        "packets_dispatched_total",
		Help:        "packets routed to a handler",
		ConstLabels: labels,
	})
	sessionCount := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace:   "fabric",
		Subsystem:   "service",
		Name:        "sessions",
		Help:        "currently open sessions",
		ConstLabels: labels,
	})
	frameOverruns := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace:   "fabric",
		Subsystem:   "service",
		Name:        "frame_overruns_total",
		Help:        "ticks whose work exceeded the fps frame budget",
		ConstLabels: labels,
	})

	m := &ServiceMetrics{
		TickDuration:  tickDuration,
		Dispatched:    dispatched,
		SessionCount:  sessionCount,
		FrameOverruns: frameOverruns,
	}

	if reg != nil {
		m.TickDuration = registerOrReuse(reg, tickDuration).(prometheus.Histogram)
		m.Dispatched = registerOrReuse(reg, dispatched).(prometheus.Counter)
		m.SessionCount = registerOrReuse(reg, sessionCount).(prometheus.Gauge)
		m.FrameOverruns = registerOrReuse(reg, frameOverruns).(prometheus.Counter)
	}
	return m
}

// registerOrReuse registers c, or returns the already registered
// collector on AlreadyRegisteredError, the way repeated service restarts
// in tests re-request the same collector.
func registerOrReuse(reg prometheus.Registerer, c prometheus.Collector) prometheus.Collector {
	if err := reg.Register(c); err != nil {
		are, ok := err.(prometheus.AlreadyRegisteredError)
		if !ok {
			panic(err)
		}
		return are.ExistingCollector
	}
	return c
}
