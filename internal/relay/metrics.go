// ABOUTME: Prometheus instrumentation for relay calls.
// ABOUTME: Counts outcomes, tracks pending blocking waits, and times them.

package relay

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Outcome labels for relayTotal.
const (
	outcomeAccepted   = "accepted"
	outcomeSuccess    = "success"
	outcomeValidation = "validation_error"
	outcomeResolution = "resolution_error"
	outcomeTimeout    = "timeout"
	outcomeRemoteErr  = "remote_error"
	outcomeCancelled  = "cancelled"
	outcomeTransport  = "transport_error"
)

var (
	relayTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_requests_total",
		Help: "Relay calls by final outcome.",
	}, []string{"outcome"})

	relayPendingWaits = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "relay_pending_waits",
		Help: "Blocking relay calls currently waiting on a correlation channel.",
	})

	relayWaitSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "relay_wait_duration_seconds",
		Help:    "Time blocking relay calls spent waiting for an agent response.",
		Buckets: prometheus.DefBuckets,
	})
)
