// Package observability carries the metric instruments and tracing spans of
// the delivery pipeline. A nil *Metrics or *Tracer records nothing.
package observability

import (
	gu "github.com/xraph/go-utils/metrics"
)

// Metrics holds metric instruments for Courier, backed by any go-utils
// MetricFactory (e.g. the forge-managed metrics system via fapp.Metrics()).
type Metrics struct {
	EventsEmittedTotal  gu.Counter
	DeliveriesTotal     gu.Counter
	DeliveryLatency     gu.Histogram
	DeferredTotal       gu.Counter
	ClaimConflictsTotal gu.Counter
	BreakerTransitions  gu.Counter
	DLQReplaysTotal     gu.Counter
	InFlightDeliveries  gu.Gauge
	ScanDuration        gu.Histogram
}

// NewMetrics creates Courier metric instruments using the supplied factory.
func NewMetrics(factory gu.MetricFactory) *Metrics {
	return &Metrics{
		EventsEmittedTotal:  factory.Counter("courier_events_emitted_total"),
		DeliveriesTotal:     factory.Counter("courier_deliveries_total"),
		DeliveryLatency:     factory.Histogram("courier_delivery_latency_seconds"),
		DeferredTotal:       factory.Counter("courier_deliveries_deferred_total"),
		ClaimConflictsTotal: factory.Counter("courier_claim_conflicts_total"),
		BreakerTransitions:  factory.Counter("courier_breaker_transitions_total"),
		DLQReplaysTotal:     factory.Counter("courier_dlq_replays_total"),
		InFlightDeliveries:  factory.Gauge("courier_in_flight_deliveries"),
		ScanDuration:        factory.Histogram("courier_scan_duration_seconds"),
	}
}

// RecordEmission counts an emitted event and the records it fanned out to.
func (m *Metrics) RecordEmission(eventType string, deliveries int) {
	if m == nil {
		return
	}
	m.EventsEmittedTotal.WithLabels(map[string]string{
		"event_type": eventType,
		"fanned_out": fanout(deliveries),
	}).Inc()
}

func fanout(n int) string {
	if n == 0 {
		return "false"
	}
	return "true"
}

// RecordDelivery records a delivery attempt with the given outcome and latency.
func (m *Metrics) RecordDelivery(outcome string, latencySeconds float64) {
	if m == nil {
		return
	}
	m.DeliveriesTotal.WithLabels(map[string]string{"outcome": outcome}).Inc()
	m.DeliveryLatency.Observe(latencySeconds)
}

// RecordDeferred counts a claim returned to pending without an attempt.
func (m *Metrics) RecordDeferred(reason string) {
	if m == nil {
		return
	}
	m.DeferredTotal.WithLabels(map[string]string{"reason": reason}).Inc()
}

// RecordClaimConflict counts a claim lost to another worker.
func (m *Metrics) RecordClaimConflict() {
	if m == nil {
		return
	}
	m.ClaimConflictsTotal.Inc()
}

// RecordBreakerTransition counts a circuit breaker state change.
func (m *Metrics) RecordBreakerTransition(from, to string) {
	if m == nil {
		return
	}
	m.BreakerTransitions.WithLabels(map[string]string{"from": from, "to": to}).Inc()
}

// RecordReplay counts a dead letter requeued by hand.
func (m *Metrics) RecordReplay() {
	if m == nil {
		return
	}
	m.DLQReplaysTotal.Inc()
}

// AttemptStarted and AttemptFinished bracket an in-flight attempt.
func (m *Metrics) AttemptStarted() {
	if m == nil {
		return
	}
	m.InFlightDeliveries.Inc()
}

func (m *Metrics) AttemptFinished() {
	if m == nil {
		return
	}
	m.InFlightDeliveries.Dec()
}

// RecordScan observes the duration of one scan pass.
func (m *Metrics) RecordScan(seconds float64) {
	if m == nil {
		return
	}
	m.ScanDuration.Observe(seconds)
}
