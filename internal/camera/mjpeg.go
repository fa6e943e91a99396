// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package camera

import "bytes"

var (
	soi = []byte{0xFF, 0xD8}
	eoi = []byte{0xFF, 0xD9}
)

// maxFrameSize caps a frame in flight; anything larger is treated as a
// corrupt stream and discarded.
const maxFrameSize = 32 << 20

// frameSplitter cuts a concatenated MJPEG byte stream into JPEG frames at
// SOI/EOI markers. Entropy-coded data byte-stuffs 0xFF, so EOI only appears
// at the end of a frame.
type frameSplitter struct {
	buf []byte
}

func (s *frameSplitter) feed(p []byte, emit func([]byte)) {
	s.buf = append(s.buf, p...)
	for {
		start := bytes.Index(s.buf, soi)
		if start < 0 {
			// keep a trailing 0xFF, it may be the first half of SOI
			if n := len(s.buf); n > 0 && s.buf[n-1] == 0xFF {
				s.buf = append(s.buf[:0], 0xFF)
			} else {
				s.buf = s.buf[:0]
			}
			return
		}
		if start > 0 {
			s.buf = append(s.buf[:0], s.buf[start:]...)
		}
		end := bytes.Index(s.buf[len(soi):], eoi)
		if end < 0 {
			if len(s.buf) > maxFrameSize {
				s.buf = s.buf[:0]
			}
			return
		}
		end += len(soi) + len(eoi)
		frame := make([]byte, end)
		copy(frame, s.buf[:end])
		emit(frame)
		s.buf = append(s.buf[:0], s.buf[end:]...)
	}
}
