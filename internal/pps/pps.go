// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package pps watches the PPS output of a GPS receiver on a GPIO line and
// hands each rising edge to a callback.
package pps

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/relabs-tech/pps_camera/internal/metrics"
)

const defaultConsumer = "pps-cam-trigger"

// queueSize bounds the number of edges buffered between the kernel event
// handler and the poll loop. At 1 Hz the queue is normally empty.
const queueSize = 16

var (
	// ErrChipNotFound means the configured GPIO chip does not exist.
	ErrChipNotFound = errors.New("pps: gpio chip not found")
	// ErrLineNotFound means the configured pin is not known to the host.
	ErrLineNotFound = errors.New("pps: gpio line not found")
	// ErrNoEvent is returned by ReadEvent when nothing is pending.
	ErrNoEvent = errors.New("pps: no edge event pending")
)

// Event is one detected rising edge.
type Event struct {
	TimestampNanos uint64 `json:"timestamp_ns"`
	Seqno          uint32 `json:"seqno"`
	Offset         int    `json:"offset"`
}

// Line is an acquired GPIO input configured for rising-edge detection.
type Line interface {
	// Pending reports whether an edge event has been captured.
	Pending() bool
	// ReadEvent removes and returns the oldest captured edge.
	ReadEvent() (Event, error)
	// Close releases the line.
	Close() error
}

// Config selects the GPIO backend and line.
type Config struct {
	// Backend is "gpiocdev" (default), "periph" or "sim".
	Backend string
	// Chip is the gpiochip identifier for the gpiocdev backend,
	// gpiochip0 on a Raspberry Pi 4 and gpiochip4 on a Raspberry Pi 5.
	Chip string
	// Offset is the line offset on the chip, which is the BCM pin number
	// on a Raspberry Pi.
	Offset   int
	Consumer string
	// Period is the pulse interval of the sim backend, one second if zero.
	Period time.Duration
}

var openGPIOCDevFn = openGPIOCDev
var openPeriphFn = openPeriph

// Open acquires the configured line.
func Open(cfg Config) (Line, error) {
	if cfg.Offset < 0 {
		return nil, fmt.Errorf("pps: invalid line offset %d", cfg.Offset)
	}
	if cfg.Consumer == "" {
		cfg.Consumer = defaultConsumer
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Backend)) {
	case "", "gpiocdev":
		if cfg.Chip == "" {
			cfg.Chip = "gpiochip4"
		}
		return openGPIOCDevFn(cfg)
	case "periph":
		return openPeriphFn(cfg)
	case "sim":
		return openSim(cfg)
	default:
		return nil, fmt.Errorf("pps: unknown backend %q", cfg.Backend)
	}
}

// chipNotFound builds the diagnostic for a missing chip.
func chipNotFound(chip string, cause error) error {
	return fmt.Errorf("%w: %q (%v); on Raspberry Pi 4 it is 'gpiochip0', on Raspberry Pi 5 it is 'gpiochip4', check PPS_GPIO_CHIP",
		ErrChipNotFound, chip, cause)
}

// eventQueue is the bounded FIFO shared by the backends. Producers never
// block: on overflow the oldest edge is dropped.
type eventQueue struct {
	mu      sync.Mutex
	buf     []Event
	dropped uint64
}

func (q *eventQueue) push(ev Event) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.buf) >= queueSize {
		q.buf = q.buf[1:]
		q.dropped++
		metrics.PulseEventsDroppedTotal.Inc()
	}
	q.buf = append(q.buf, ev)
}

func (q *eventQueue) pending() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.buf) > 0
}

func (q *eventQueue) pop() (Event, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.buf) == 0 {
		return Event{}, ErrNoEvent
	}
	ev := q.buf[0]
	q.buf = q.buf[1:]
	return ev, nil
}

func (q *eventQueue) droppedCount() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dropped
}
