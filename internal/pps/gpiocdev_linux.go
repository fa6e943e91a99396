// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

//go:build linux

package pps

import (
	"errors"
	"fmt"
	"io/fs"
	"log"

	"github.com/warthog618/go-gpiocdev"
)

// gpiocdevLine uses the GPIO character device. The kernel latches the edge
// timestamp, so Event.TimestampNanos does not depend on poll latency.
type gpiocdevLine struct {
	chip *gpiocdev.Chip
	line *gpiocdev.Line
	q    eventQueue
}

func openGPIOCDev(cfg Config) (Line, error) {
	chip, err := gpiocdev.NewChip(cfg.Chip, gpiocdev.WithConsumer(cfg.Consumer))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, chipNotFound(cfg.Chip, err)
		}
		return nil, fmt.Errorf("pps: open chip %q: %w", cfg.Chip, err)
	}

	l := &gpiocdevLine{chip: chip}
	line, err := chip.RequestLine(cfg.Offset,
		gpiocdev.AsInput,
		gpiocdev.WithRisingEdge,
		gpiocdev.WithEventHandler(l.handle),
	)
	if err != nil {
		_ = chip.Close()
		return nil, fmt.Errorf("pps: request line %d on %s: %w", cfg.Offset, cfg.Chip, err)
	}
	l.line = line
	log.Printf("pps: acquired %s line %d for rising-edge events", cfg.Chip, cfg.Offset)
	return l, nil
}

// handle runs on the gpiocdev watcher goroutine and must not block.
func (l *gpiocdevLine) handle(evt gpiocdev.LineEvent) {
	if evt.Type != gpiocdev.LineEventRisingEdge {
		return
	}
	l.q.push(Event{
		TimestampNanos: uint64(evt.Timestamp.Nanoseconds()),
		Seqno:          evt.LineSeqno,
		Offset:         evt.Offset,
	})
}

func (l *gpiocdevLine) Pending() bool { return l.q.pending() }

func (l *gpiocdevLine) ReadEvent() (Event, error) { return l.q.pop() }

func (l *gpiocdevLine) Close() error {
	var err error
	if l.line != nil {
		err = l.line.Close()
		l.line = nil
	}
	if l.chip != nil {
		_ = l.chip.Close()
		l.chip = nil
	}
	if n := l.q.droppedCount(); n > 0 {
		log.Printf("pps: %d edge events dropped on queue overflow", n)
	}
	return err
}
