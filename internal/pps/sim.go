// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package pps

import (
	"log"
	"sync"
	"time"
)

// simLine raises one edge at the start of every period, aligned to the wall
// clock, for bench runs without a receiver.
type simLine struct {
	period time.Duration
	q      eventQueue

	stop chan struct{}
	wg   sync.WaitGroup
	once sync.Once
}

func openSim(cfg Config) (Line, error) {
	period := cfg.Period
	if period <= 0 {
		period = time.Second
	}
	l := &simLine{period: period, stop: make(chan struct{})}
	l.wg.Add(1)
	go l.run()
	log.Printf("pps: simulating pulses every %v", period)
	return l, nil
}

func (l *simLine) run() {
	defer l.wg.Done()
	var seq uint32
	for {
		now := time.Now()
		next := now.Truncate(l.period).Add(l.period)
		t := time.NewTimer(next.Sub(now))
		select {
		case <-l.stop:
			t.Stop()
			return
		case fired := <-t.C:
			seq++
			l.q.push(Event{TimestampNanos: uint64(fired.UnixNano()), Seqno: seq})
		}
	}
}

func (l *simLine) Pending() bool { return l.q.pending() }

func (l *simLine) ReadEvent() (Event, error) { return l.q.pop() }

func (l *simLine) Close() error {
	l.once.Do(func() {
		close(l.stop)
		l.wg.Wait()
	})
	return nil
}
