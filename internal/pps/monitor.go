// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package pps

import (
	"context"
	"errors"
	"log"
	"time"
)

// MaxPollInterval is the upper bound on edge detection latency.
const MaxPollInterval = 10 * time.Millisecond

// ErrSourceStopped is returned by Monitor.Run when the alive callback
// reports that the fix source has gone away.
var ErrSourceStopped = errors.New("pps: fix source stopped")

// Monitor polls a Line and hands each edge to a handler synchronously.
type Monitor struct {
	line     Line
	interval time.Duration
	after    func(time.Duration) <-chan time.Time
}

// NewMonitor returns a monitor polling line every interval. Intervals
// outside (0, MaxPollInterval] are clamped to MaxPollInterval.
func NewMonitor(line Line, interval time.Duration) *Monitor {
	if interval <= 0 || interval > MaxPollInterval {
		interval = MaxPollInterval
	}
	return &Monitor{line: line, interval: interval, after: time.After}
}

// Interval returns the effective poll interval.
func (m *Monitor) Interval() time.Duration {
	return m.interval
}

// Run polls until ctx is canceled or alive returns false. Each iteration
// checks alive, hands at most one pending edge to handle and then sleeps
// for the poll interval. handle runs on the caller's goroutine; a 1 Hz PPS
// leaves it one pulse period to finish.
func (m *Monitor) Run(ctx context.Context, alive func() bool, handle func(Event)) error {
	for {
		if alive != nil && !alive() {
			return ErrSourceStopped
		}
		if m.line.Pending() {
			ev, err := m.line.ReadEvent()
			if err != nil {
				log.Printf("pps: read edge event: %v", err)
			} else {
				handle(ev)
			}
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-m.after(m.interval):
		}
	}
}
