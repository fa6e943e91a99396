// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package telemetry fans fixes and capture events out to observers:
// MQTT subscribers, the status web socket, the console tools.
package telemetry

import (
	"time"

	"github.com/relabs-tech/pps_camera/internal/gps"
)

// CaptureEvent is the record published for every handled pulse.
type CaptureEvent struct {
	Outcome    string    `json:"outcome"` // "captured", "skipped" or "failed"
	Path       string    `json:"path,omitempty"`
	Fix        gps.Fix   `json:"fix"`
	PulseNanos uint64    `json:"pulse_ns"`
	Seqno      uint32    `json:"seqno"`
	Error      string    `json:"error,omitempty"`
	At         time.Time `json:"at"`
}

// Publisher receives fixes and capture events. Implementations must not
// block the caller for longer than a publish round trip.
type Publisher interface {
	PublishFix(gps.Fix)
	PublishCapture(CaptureEvent)
	Close()
}

// Nop discards everything.
type Nop struct{}

func (Nop) PublishFix(gps.Fix)          {}
func (Nop) PublishCapture(CaptureEvent) {}
func (Nop) Close()                      {}

// Multi forwards to every publisher in order.
type Multi []Publisher

func (m Multi) PublishFix(f gps.Fix) {
	for _, p := range m {
		p.PublishFix(f)
	}
}

func (m Multi) PublishCapture(ev CaptureEvent) {
	for _, p := range m {
		p.PublishCapture(ev)
	}
}

func (m Multi) Close() {
	for _, p := range m {
		p.Close()
	}
}
