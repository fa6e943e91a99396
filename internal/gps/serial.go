// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package gps

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"time"

	serial "github.com/jacobsa/go-serial/serial"
)

// maxLineLen bounds a partial line kept across read timeouts.
// NMEA sentences are at most 82 characters.
const maxLineLen = 4096

// OpenSerial opens a GPS serial port in 8N1 mode with a read timeout.
// A read that times out surfaces as ErrReadTimeout.
func OpenSerial(port string, baud int, timeout time.Duration) (LineReader, error) {
	ms := timeout.Milliseconds()
	if ms < 100 {
		ms = 100
	}
	opts := serial.OpenOptions{
		PortName:        port,
		BaudRate:        uint(baud),
		DataBits:        8,
		StopBits:        1,
		ParityMode:      serial.PARITY_NONE,
		MinimumReadSize: 0,
		// VTIME read timeout; go-serial rounds to tenths of a second
		InterCharacterTimeout: uint(ms),
	}
	p, err := serial.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open %s at %d baud: %w", port, baud, err)
	}
	return newLineReader(p), nil
}

type lineReader struct {
	rc      io.ReadCloser
	br      *bufio.Reader
	pending []byte
}

func newLineReader(rc io.ReadCloser) *lineReader {
	return &lineReader{rc: rc, br: bufio.NewReaderSize(rc, 512)}
}

// ReadLine returns the next complete line. A zero-byte read (the serial
// timeout expiring) is reported as ErrReadTimeout and any partial line is
// kept for the next call.
func (l *lineReader) ReadLine() (string, error) {
	chunk, err := l.br.ReadString('\n')
	l.pending = append(l.pending, chunk...)
	if err == nil {
		line := string(l.pending)
		l.pending = l.pending[:0]
		return line, nil
	}
	if len(l.pending) > maxLineLen {
		l.pending = l.pending[:0]
	}
	if errors.Is(err, io.EOF) {
		return "", ErrReadTimeout
	}
	return "", err
}

func (l *lineReader) Close() error {
	return l.rc.Close()
}
