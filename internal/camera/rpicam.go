// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package camera

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os/exec"
	"strconv"
	"sync"
	"time"
)

const defaultCaptureTimeout = 500 * time.Millisecond

// rpicamPipeline runs rpicam-vid (or libcamera-vid) as a continuous MJPEG
// source on stdout and serves the first frame that completes after a
// capture request.
type rpicamPipeline struct {
	command string

	mu       sync.Mutex
	cfg      Config
	cmd      *exec.Cmd
	running  bool
	latest   []byte
	latestAt time.Time
	seq      uint64
	notify   chan struct{}
	done     chan struct{}
}

func newRPICam(command string) *rpicamPipeline {
	return &rpicamPipeline{command: command, notify: make(chan struct{})}
}

func rpicamArgs(cfg Config) []string {
	return []string{
		"--codec", "mjpeg",
		"--width", strconv.Itoa(cfg.Width),
		"--height", strconv.Itoa(cfg.Height),
		"--timeout", "0",
		"--nopreview",
		"--output", "-",
	}
}

func (p *rpicamPipeline) Start(ctx context.Context, cfg Config) error {
	if err := cfg.validate(); err != nil {
		return err
	}

	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return errors.New("camera: already started")
	}
	cmd := exec.Command(p.command, rpicamArgs(cfg)...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		p.mu.Unlock()
		return fmt.Errorf("camera: stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		p.mu.Unlock()
		return fmt.Errorf("camera: start %s: %w", p.command, err)
	}
	p.cmd = cmd
	p.cfg = cfg
	p.running = true
	p.done = make(chan struct{})
	done := p.done
	p.mu.Unlock()

	go func() {
		defer close(done)
		p.consume(stdout)
	}()
	log.Printf("camera: %s started (%dx%d mjpeg)", p.command, cfg.Width, cfg.Height)

	if err := sleepCtx(ctx, cfg.Warmup); err != nil {
		_ = p.Stop()
		return err
	}
	return nil
}

// consume splits the stream into frames until it ends.
func (p *rpicamPipeline) consume(r io.Reader) {
	var split frameSplitter
	buf := make([]byte, 64<<10)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			split.feed(buf[:n], p.publish)
		}
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrClosedPipe) {
				log.Printf("camera: stream read error: %v", err)
			}
			return
		}
	}
}

func (p *rpicamPipeline) publish(frame []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.latest = frame
	p.latestAt = time.Now().UTC()
	p.seq++
	close(p.notify)
	p.notify = make(chan struct{})
}

// Capture waits for the next frame completed after the call.
func (p *rpicamPipeline) Capture(ctx context.Context) (*Request, error) {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil, ErrNotStarted
	}
	since := p.seq
	wait := p.notify
	done := p.done
	timeout := p.cfg.CaptureTimeout
	p.mu.Unlock()

	if timeout <= 0 {
		timeout = defaultCaptureTimeout
	}
	t := time.NewTimer(timeout)
	defer t.Stop()

	for {
		select {
		case <-wait:
			p.mu.Lock()
			if p.seq > since {
				req := &Request{
					Buffer: p.latest,
					Metadata: Metadata{
						Backend:    "rpicam",
						FrameSeq:   p.seq,
						Width:      p.cfg.Width,
						Height:     p.cfg.Height,
						CapturedAt: p.latestAt,
					},
				}
				p.mu.Unlock()
				return req, nil
			}
			wait = p.notify
			p.mu.Unlock()
		case <-done:
			return nil, fmt.Errorf("camera: %s stream ended", p.command)
		case <-t.C:
			return nil, ErrNoFrame
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func (p *rpicamPipeline) Stop() error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	p.running = false
	cmd := p.cmd
	done := p.done
	p.cmd = nil
	p.mu.Unlock()

	if cmd != nil && cmd.Process != nil {
		_ = cmd.Process.Kill()
	}
	<-done
	if cmd != nil {
		// exit status after Kill is always non-nil
		_ = cmd.Wait()
	}
	log.Printf("camera: %s stopped", p.command)
	return nil
}
