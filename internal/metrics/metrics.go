// Package metrics defines the Prometheus collectors exported on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "printfleet"

var (
	// Ticks counts scheduler ticks by outcome (completed, skipped).
	Ticks = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "pulse",
		Name:      "ticks_total",
		Help:      "Scheduler ticks by outcome.",
	}, []string{"outcome"})

	// PassDuration observes how long each polling pass took.
	PassDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "pulse",
		Name:      "pass_duration_seconds",
		Help:      "Duration of a polling pass.",
		Buckets:   []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120},
	}, []string{"pass"})

	// ConnectivityChecks counts connectivity classifications by device kind and state.
	ConnectivityChecks = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "pulse",
		Name:      "connectivity_checks_total",
		Help:      "Connectivity checks by device kind and resulting state.",
	}, []string{"kind", "state"})

	// TonerDecisions counts toner classifications by kind.
	TonerDecisions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "pulse",
		Name:      "toner_decisions_total",
		Help:      "Toner telemetry classifications.",
	}, []string{"decision"})

	// DevicePanics counts recovered per-device panics.
	DevicePanics = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "pulse",
		Name:      "device_panics_total",
		Help:      "Panics recovered while checking a device.",
	})

	// Alerts counts low-toner alert dispatches by outcome (sent, failed).
	Alerts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "pulse",
		Name:      "alerts_total",
		Help:      "Low-toner alert dispatches.",
	}, []string{"outcome"})

	// PrintJobs counts print jobs by terminal stage and reason.
	PrintJobs = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "spool",
		Name:      "jobs_total",
		Help:      "Print jobs by outcome.",
	}, []string{"outcome"})

	// PrintBytes counts bytes written to printers.
	PrintBytes = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "spool",
		Name:      "bytes_sent_total",
		Help:      "Bytes streamed to printers over raw TCP.",
	})

	// JournalEvents counts domain events recorded by the journal.
	JournalEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "journal",
		Name:      "events_total",
		Help:      "Domain events recorded, by topic.",
	}, []string{"topic"})

	// JournalDropped counts events a slow stream subscriber missed.
	JournalDropped = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "journal",
		Name:      "stream_dropped_total",
		Help:      "Events dropped because a stream subscriber fell behind.",
	})
)
