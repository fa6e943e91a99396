// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package metrics defines the Prometheus instruments of the PPS camera.
// Instruments are registered with the default registry at init time and
// exposed by the status web server on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "ppscam"

// ── Position feed ─────────────────────────────────────────────────────────────

// NMEASentencesTotal counts lines seen by the position feed decoder.
// Label:
//   - result: "accepted", "malformed", "invalid" or "ignored"
var NMEASentencesTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "nmea_sentences_total",
		Help:      "Total number of NMEA lines read from the GPS receiver, by decode result.",
	},
	[]string{"result"},
)

// DecoderRunning is 1 while the position feed decoder is running.
var DecoderRunning = promauto.NewGauge(
	prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "decoder_running",
		Help:      "1 while the GPS decoder goroutine is running, 0 otherwise.",
	},
)

// FixValid is 1 while the shared fix holds a complete, valid fix.
var FixValid = promauto.NewGauge(
	prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "fix_valid",
		Help:      "1 when the latest GPS fix is valid, 0 otherwise.",
	},
)

// ── Pulse path ────────────────────────────────────────────────────────────────

// PulsesTotal counts rising edges handed to the capture orchestrator.
var PulsesTotal = promauto.NewCounter(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "pulses_total",
		Help:      "Total number of PPS rising edges handled.",
	},
)

// PulseEventsDroppedTotal counts edge events discarded because the event
// queue of the pulse line was full.
var PulseEventsDroppedTotal = promauto.NewCounter(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "pulse_events_dropped_total",
		Help:      "Total number of PPS edge events dropped on queue overflow.",
	},
)

// ── Captures ──────────────────────────────────────────────────────────────────

// CapturesTotal counts orchestrator outcomes per pulse.
// Label:
//   - outcome: "captured", "skipped" or "failed"
var CapturesTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "captures_total",
		Help:      "Total number of pulse-triggered capture attempts, by outcome.",
	},
	[]string{"outcome"},
)

// CaptureDuration measures the time from edge hand-off to persisted file.
var CaptureDuration = promauto.NewHistogram(
	prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "capture_duration_seconds",
		Help:      "Duration from pulse hand-off to geotagged file on disk.",
		Buckets:   []float64{.01, .025, .05, .1, .25, .5, .75, 1, 2},
	},
)
