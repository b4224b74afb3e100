// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package metrics exposes Prometheus instruments for the ledger services.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "conflend"

// Delivery outcomes for oracle callbacks.
const (
	DeliverySettled   = "settled"
	DeliveryDuplicate = "duplicate"
	DeliveryUnknown   = "unknown"
	DeliveryMalformed = "malformed"
	DeliveryFailed    = "failed"
)

type Metrics struct {
	operations  *prometheus.CounterVec
	deliveries  *prometheus.CounterVec
	pending     prometheus.Gauge
	settlements prometheus.Histogram
}

// New creates the instruments and registers them on reg.
func New(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "operations_total",
			Help:      "Ledger operations by name and result.",
		}, []string{"op", "result"}),
		deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "oracle",
			Name:      "deliveries_total",
			Help:      "Oracle callback deliveries by outcome.",
		}, []string{"outcome"}),
		pending: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "oracle",
			Name:      "pending_tickets",
			Help:      "Reveal tickets scheduled and not yet consumed.",
		}),
		settlements: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "oracle",
			Name:      "settlement_seconds",
			Help:      "Time from reveal request to settlement.",
			Buckets:   prometheus.DefBuckets,
		}),
	}
	for _, c := range []prometheus.Collector{m.operations, m.deliveries, m.pending, m.settlements} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// Observe counts one operation outcome.
func (m *Metrics) Observe(op string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.operations.WithLabelValues(op, result).Inc()
}

// Delivery counts one oracle callback.
func (m *Metrics) Delivery(outcome string) {
	if m == nil {
		return
	}
	m.deliveries.WithLabelValues(outcome).Inc()
}

// SetPending records the number of outstanding tickets.
func (m *Metrics) SetPending(n int) {
	if m == nil {
		return
	}
	m.pending.Set(float64(n))
}

// Settled records reveal-to-settlement latency.
func (m *Metrics) Settled(since time.Time) {
	if m == nil {
		return
	}
	m.settlements.Observe(time.Since(since).Seconds())
}
