// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package gps

import (
	"errors"
	"io"
	"testing"
)

// chunkedPort returns one chunk per Read and io.EOF between chunks, the way
// a serial port with VMIN=0 reports an expired VTIME.
type chunkedPort struct {
	chunks []string
	closed bool
}

func (p *chunkedPort) Read(b []byte) (int, error) {
	if len(p.chunks) == 0 {
		return 0, io.EOF
	}
	c := p.chunks[0]
	if c == "" {
		p.chunks = p.chunks[1:]
		return 0, io.EOF
	}
	n := copy(b, c)
	if n < len(c) {
		p.chunks[0] = c[n:]
	} else {
		p.chunks = p.chunks[1:]
	}
	return n, nil
}

func (p *chunkedPort) Close() error {
	p.closed = true
	return nil
}

func TestLineReader_JoinsLinesAcrossTimeouts(t *testing.T) {
	port := &chunkedPort{chunks: []string{"$GPRMC,1", "", "23*00\r\n$GP", "", "GGA*11\r\n"}}
	r := newLineReader(port)

	var lines []string
	timeouts := 0
	for i := 0; i < 10 && len(lines) < 2; i++ {
		line, err := r.ReadLine()
		if errors.Is(err, ErrReadTimeout) {
			timeouts++
			continue
		}
		if err != nil {
			t.Fatalf("unexpected err: %v", err)
		}
		lines = append(lines, line)
	}
	if len(lines) != 2 {
		t.Fatalf("lines=%q", lines)
	}
	if lines[0] != "$GPRMC,123*00\r\n" || lines[1] != "$GPGGA*11\r\n" {
		t.Fatalf("unexpected lines %q", lines)
	}
	if timeouts == 0 {
		t.Fatalf("expected at least one timeout")
	}
	if err := r.Close(); err != nil || !port.closed {
		t.Fatalf("close: err=%v closed=%v", err, port.closed)
	}
}
