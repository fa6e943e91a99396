// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package gps

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"sync"
	"testing"
	"time"
)

func nmeaLine(payload string) string {
	ck := byte(0)
	for i := 0; i < len(payload); i++ {
		ck ^= payload[i]
	}
	return fmt.Sprintf("$%s*%02X\r\n", payload, ck)
}

var (
	rmcLondon  = nmeaLine("GPRMC,120000.00,A,5130.0000,N,00007.2000,W,0.5,054.7,010524,003.1,W")
	ggaLondon  = nmeaLine("GPGGA,120001.00,5130.0000,N,00007.2000,W,1,08,0.9,45.0,M,46.9,M,,")
	ggaSydney  = nmeaLine("GNGGA,120002.00,3351.6000,S,15112.0000,E,2,10,0.8,12.0,M,20.1,M,,")
	rmcVoid    = nmeaLine("GPRMC,120000.00,V,5130.0000,N,00007.2000,W,0.5,054.7,010524,003.1,W")
	ggaNoFix   = nmeaLine("GPGGA,120001.00,5130.0000,N,00007.2000,W,0,00,99.9,45.0,M,46.9,M,,")
	gsvIgnored = nmeaLine("GPGSV,3,1,11,03,03,111,00,04,15,270,00,06,01,010,00,13,06,292,00")
)

func newTestDecoder() (*Decoder, *FixCell) {
	cell := &FixCell{}
	d := NewDecoder(cell, nil, DecoderConfig{Port: "/dev/null", Baud: 9600})
	d.now = func() time.Time { return time.Date(2024, 5, 1, 12, 0, 0, 500, time.UTC) }
	return d, cell
}

func TestDecoderApply_RMCSetsCompleteFix(t *testing.T) {
	d, cell := newTestDecoder()
	if !d.Apply(rmcLondon) {
		t.Fatalf("expected RMC to be accepted")
	}
	f := cell.Load()
	if !f.HasFix {
		t.Fatalf("expected has_fix after valid RMC")
	}
	want := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	if !f.Time.Equal(want) {
		t.Fatalf("time=%v want %v", f.Time, want)
	}
	if math.Abs(f.Latitude-51.5) > 1e-9 {
		t.Fatalf("lat=%v", f.Latitude)
	}
	if math.Abs(f.Longitude-(-0.12)) > 1e-9 {
		t.Fatalf("lon=%v", f.Longitude)
	}
	if f.Sentence != "RMC" {
		t.Fatalf("sentence=%q", f.Sentence)
	}
}

func TestDecoderApply_ChecksumMismatchLeavesFixUnchanged(t *testing.T) {
	d, cell := newTestDecoder()
	d.Apply(rmcLondon)
	before := cell.Load()

	bad := ggaSydney[:len(ggaSydney)-4] + "00\r\n"
	if d.Apply(bad) {
		t.Fatalf("expected checksum failure to be rejected")
	}
	if got := cell.Load(); got != before {
		t.Fatalf("fix changed on malformed line: %+v -> %+v", before, got)
	}
	if d.Stats().Malformed != 1 {
		t.Fatalf("malformed=%d want 1", d.Stats().Malformed)
	}
}

func TestDecoderApply_TruncatedSentenceIsMalformed(t *testing.T) {
	d, cell := newTestDecoder()
	if d.Apply(rmcLondon[:20]) {
		t.Fatalf("expected truncated line to be rejected")
	}
	if cell.Load().HasFix {
		t.Fatalf("expected no fix")
	}
	if d.Stats().Malformed != 1 {
		t.Fatalf("malformed=%d want 1", d.Stats().Malformed)
	}
}

func TestDecoderApply_InvalidSentencesDiscarded(t *testing.T) {
	d, cell := newTestDecoder()
	if d.Apply(rmcVoid) {
		t.Fatalf("void RMC must be discarded")
	}
	if d.Apply(ggaNoFix) {
		t.Fatalf("GGA quality 0 must be discarded")
	}
	if cell.Load().HasFix || cell.Load().HasPosition {
		t.Fatalf("expected empty fix, got %+v", cell.Load())
	}
	if d.Stats().Invalid != 2 {
		t.Fatalf("invalid=%d want 2", d.Stats().Invalid)
	}
}

func TestDecoderApply_OtherSentencesIgnored(t *testing.T) {
	d, _ := newTestDecoder()
	if d.Apply(gsvIgnored) {
		t.Fatalf("GSV must be ignored")
	}
	if d.Apply("garbage") {
		t.Fatalf("noise must be ignored")
	}
	if d.Stats().Ignored != 2 {
		t.Fatalf("ignored=%d want 2", d.Stats().Ignored)
	}
}

func TestDecoderApply_GGAAloneIsIncomplete(t *testing.T) {
	d, cell := newTestDecoder()
	if !d.Apply(ggaLondon) {
		t.Fatalf("expected GGA accepted")
	}
	f := cell.Load()
	if !f.HasPosition {
		t.Fatalf("expected position from GGA")
	}
	if f.HasFix {
		t.Fatalf("GGA carries no date; fix must stay incomplete")
	}

	d.Apply(rmcLondon)
	if !cell.Load().HasFix {
		t.Fatalf("expected fix after RMC")
	}
}

func TestDecoderApply_GGAOverwritesPositionKeepsTime(t *testing.T) {
	d, cell := newTestDecoder()
	d.Apply(rmcLondon)
	d.Apply(ggaSydney)

	f := cell.Load()
	if !f.HasFix {
		t.Fatalf("expected fix to remain valid")
	}
	if math.Abs(f.Latitude-(-33.86)) > 1e-9 || math.Abs(f.Longitude-151.2) > 1e-9 {
		t.Fatalf("expected GGA position, got lat=%v lon=%v", f.Latitude, f.Longitude)
	}
	if !f.Time.Equal(time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)) {
		t.Fatalf("GGA must not touch the RMC timestamp, got %v", f.Time)
	}
}

// scriptedReader replays lines, then blocks until closed.
type scriptedReader struct {
	mu     sync.Mutex
	items  []readItem
	closed chan struct{}
	once   sync.Once
}

type readItem struct {
	line string
	err  error
}

func newScriptedReader(items ...readItem) *scriptedReader {
	return &scriptedReader{items: items, closed: make(chan struct{})}
}

func (r *scriptedReader) ReadLine() (string, error) {
	r.mu.Lock()
	if len(r.items) > 0 {
		it := r.items[0]
		r.items = r.items[1:]
		r.mu.Unlock()
		return it.line, it.err
	}
	r.mu.Unlock()
	<-r.closed
	return "", io.ErrClosedPipe
}

func (r *scriptedReader) Close() error {
	r.once.Do(func() { close(r.closed) })
	return nil
}

func TestDecoderRun_OpenFailureInvalidatesFixPermanently(t *testing.T) {
	cell := &FixCell{}
	openErr := errors.New("no such device")
	d := NewDecoder(cell, func(string, int, time.Duration) (LineReader, error) {
		return nil, openErr
	}, DecoderConfig{Port: "/dev/ttyS0"})

	err := d.Run(context.Background())
	if !errors.Is(err, openErr) {
		t.Fatalf("err=%v want wrapped %v", err, openErr)
	}
	if d.Alive() {
		t.Fatalf("decoder must not be alive after open failure")
	}
	if !errors.Is(d.Err(), openErr) {
		t.Fatalf("Err()=%v", d.Err())
	}
	if cell.Load().HasFix {
		t.Fatalf("expected has_fix=false")
	}
	if cell.Store(Fix{HasFix: true}) {
		t.Fatalf("store after invalidation must be ignored")
	}
	if cell.Load().HasFix {
		t.Fatalf("has_fix must stay false permanently")
	}
}

func TestDecoderRun_SurvivesNoiseAndTimeouts(t *testing.T) {
	cell := &FixCell{}
	r := newScriptedReader(
		readItem{err: ErrReadTimeout},
		readItem{line: "$GPRMC,partial"},
		readItem{line: rmcVoid},
		readItem{err: ErrReadTimeout},
		readItem{line: rmcLondon},
	)
	d := NewDecoder(cell, func(string, int, time.Duration) (LineReader, error) { return r, nil }, DecoderConfig{Port: "fake"})

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- d.Run(ctx) }()

	deadline := time.After(2 * time.Second)
	for !cell.Load().HasFix {
		select {
		case <-deadline:
			cancel()
			t.Fatalf("decoder never produced a fix; stats=%+v", d.Stats())
		case <-time.After(5 * time.Millisecond):
		}
	}
	if !d.Alive() {
		t.Fatalf("decoder should still be running")
	}

	cancel()
	select {
	case err := <-errCh:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("err=%v want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("decoder did not stop on cancel")
	}
	if d.Alive() {
		t.Fatalf("decoder should have stopped")
	}
	st := d.Stats()
	if st.Malformed != 1 || st.Invalid != 1 || st.Accepted != 1 {
		t.Fatalf("unexpected stats %+v", st)
	}
}

func TestDecoderRun_ReadErrorStopsDecoder(t *testing.T) {
	cell := &FixCell{}
	readErr := errors.New("device unplugged")
	r := newScriptedReader(readItem{line: rmcLondon}, readItem{err: readErr})
	d := NewDecoder(cell, func(string, int, time.Duration) (LineReader, error) { return r, nil }, DecoderConfig{Port: "fake"})

	err := d.Run(context.Background())
	if !errors.Is(err, readErr) {
		t.Fatalf("err=%v want %v", err, readErr)
	}
	select {
	case <-d.Done():
	default:
		t.Fatalf("Done must be closed after Run returns")
	}
	if cell.Load().HasFix {
		t.Fatalf("expected fix invalidated after read failure")
	}
}

func TestDecoderRun_SecondRunRejected(t *testing.T) {
	cell := &FixCell{}
	d := NewDecoder(cell, func(string, int, time.Duration) (LineReader, error) {
		return nil, errors.New("nope")
	}, DecoderConfig{})
	_ = d.Run(context.Background())
	if err := d.Run(context.Background()); err == nil {
		t.Fatalf("expected error on second Run")
	}
}
