// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package pps

import (
	"fmt"
	"log"
	"sync"
	"time"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/host/v3"
)

// edgeWait bounds a single WaitForEdge call so Close is never blocked for
// longer than this.
const edgeWait = 100 * time.Millisecond

// periphLine watches a pin through periph's edge detection. Timestamps are
// taken when the watcher wakes, not latched by the kernel.
type periphLine struct {
	pin    gpio.PinIO
	offset int
	q      eventQueue

	stop chan struct{}
	wg   sync.WaitGroup
	once sync.Once
}

func openPeriph(cfg Config) (Line, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("pps: periph host init: %w", err)
	}
	name := fmt.Sprintf("GPIO%d", cfg.Offset)
	pin := gpioreg.ByName(name)
	if pin == nil {
		return nil, fmt.Errorf("%w: %q", ErrLineNotFound, name)
	}
	if err := pin.In(gpio.PullDown, gpio.RisingEdge); err != nil {
		return nil, fmt.Errorf("pps: configure %s for rising edge: %w", name, err)
	}

	l := &periphLine{pin: pin, offset: cfg.Offset, stop: make(chan struct{})}
	l.wg.Add(1)
	go l.watch()
	log.Printf("pps: watching %s for rising edges (periph)", name)
	return l, nil
}

func (l *periphLine) watch() {
	defer l.wg.Done()
	var seq uint32
	for {
		select {
		case <-l.stop:
			return
		default:
		}
		if !l.pin.WaitForEdge(edgeWait) {
			continue
		}
		seq++
		l.q.push(Event{
			TimestampNanos: uint64(time.Now().UnixNano()),
			Seqno:          seq,
			Offset:         l.offset,
		})
	}
}

func (l *periphLine) Pending() bool { return l.q.pending() }

func (l *periphLine) ReadEvent() (Event, error) { return l.q.pop() }

func (l *periphLine) Close() error {
	var err error
	l.once.Do(func() {
		close(l.stop)
		l.wg.Wait()
		err = l.pin.Halt()
	})
	return err
}
