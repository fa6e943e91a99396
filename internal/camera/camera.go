// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package camera is the boundary to the still-image pipeline.
package camera

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrNoFrame means the pipeline delivered no frame within CaptureTimeout.
	ErrNoFrame = errors.New("camera: no frame within capture timeout")
	// ErrNotStarted is returned by Capture before Start or after Stop.
	ErrNotStarted = errors.New("camera: pipeline not started")
)

// Config is the still configuration of the pipeline.
type Config struct {
	Width  int
	Height int
	// Warmup is how long Start waits for exposure and white balance to settle.
	Warmup time.Duration
	// CaptureTimeout bounds how long Capture waits for a frame.
	CaptureTimeout time.Duration
}

func (c Config) validate() error {
	if c.Width <= 0 || c.Height <= 0 {
		return fmt.Errorf("camera: invalid resolution %dx%d", c.Width, c.Height)
	}
	return nil
}

// Metadata describes a captured frame.
type Metadata struct {
	Backend    string    `json:"backend" yaml:"backend"`
	FrameSeq   uint64    `json:"frame_seq" yaml:"frame_seq"`
	Width      int       `json:"width" yaml:"width"`
	Height     int       `json:"height" yaml:"height"`
	CapturedAt time.Time `json:"captured_at" yaml:"captured_at"`
}

// Request is one completed capture. Callers copy what they need and then
// call Release.
type Request struct {
	Buffer   []byte
	Metadata Metadata
}

// Release drops the request's reference to the frame buffer.
func (r *Request) Release() {
	if r == nil {
		return
	}
	r.Buffer = nil
}

// Pipeline produces JPEG stills on request.
type Pipeline interface {
	Start(ctx context.Context, cfg Config) error
	Capture(ctx context.Context) (*Request, error)
	Stop() error
}

// New returns the pipeline for backend: "rpicam" runs command (rpicam-vid
// when empty) as an MJPEG source; "testpattern" renders synthetic frames.
func New(backend, command string) (Pipeline, error) {
	switch strings.ToLower(strings.TrimSpace(backend)) {
	case "", "rpicam":
		if command == "" {
			command = "rpicam-vid"
		}
		return newRPICam(command), nil
	case "testpattern":
		return NewTestPattern(), nil
	default:
		return nil, fmt.Errorf("camera: unknown backend %q", backend)
	}
}

// sleepCtx waits for d or until ctx is done.
func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
