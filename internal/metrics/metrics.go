// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

// Package metrics exposes Prometheus counters for the authentication flows.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Outcome labels for auth events.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
	OutcomeError   = "error"
)

// Metrics holds the collectors of one server instance. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	registry     *prometheus.Registry
	authEvents   *prometheus.CounterVec
	guardDenials *prometheus.CounterVec
	hashWait     prometheus.Histogram
	hashDuration prometheus.Histogram
}

// New creates the collectors and registers them on a fresh registry together
// with the Go runtime and process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		authEvents: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "natours_auth_events_total",
				Help: "Credential lifecycle operations by outcome",
			},
			[]string{"operation", "outcome"},
		),
		guardDenials: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "natours_auth_guard_denials_total",
				Help: "Requests rejected by the route guard or role check",
			},
			[]string{"reason"},
		),
		hashWait: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "natours_password_hash_wait_seconds",
			Help:    "Time spent waiting for a free password hashing slot",
			Buckets: prometheus.DefBuckets,
		}),
		hashDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "natours_password_hash_duration_seconds",
			Help:    "Time spent hashing or comparing a password",
			Buckets: prometheus.DefBuckets,
		}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.authEvents,
		m.guardDenials,
		m.hashWait,
		m.hashDuration,
	)
	return m
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// RecordAuth counts a lifecycle operation such as "signin" or "reset_consume".
func (m *Metrics) RecordAuth(operation, outcome string) {
	if m == nil {
		return
	}
	m.authEvents.WithLabelValues(operation, outcome).Inc()
}

// RecordDenial counts a rejected request by reason (missing, invalid,
// expired, stale, forbidden).
func (m *Metrics) RecordDenial(reason string) {
	if m == nil {
		return
	}
	m.guardDenials.WithLabelValues(reason).Inc()
}

// ObserveHashWait records how long a caller queued for the hashing pool.
func (m *Metrics) ObserveHashWait(d time.Duration) {
	if m == nil {
		return
	}
	m.hashWait.Observe(d.Seconds())
}

// ObserveHashDuration records the time of one bcrypt operation.
func (m *Metrics) ObserveHashDuration(d time.Duration) {
	if m == nil {
		return
	}
	m.hashDuration.Observe(d.Seconds())
}
