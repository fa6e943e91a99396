// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package camera

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"log"
	"sync"
	"time"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

// TestPattern renders a gradient frame captioned with the frame number and
// UTC time. It stands in for the sensor on benches without a camera.
type TestPattern struct {
	mu      sync.Mutex
	cfg     Config
	started bool
	seq     uint64
	now     func() time.Time
}

// NewTestPattern returns a stopped test-pattern pipeline.
func NewTestPattern() *TestPattern {
	return &TestPattern{now: func() time.Time { return time.Now().UTC() }}
}

func (p *TestPattern) Start(ctx context.Context, cfg Config) error {
	if err := cfg.validate(); err != nil {
		return err
	}
	p.mu.Lock()
	p.cfg = cfg
	p.started = true
	p.mu.Unlock()
	log.Printf("camera: test pattern started (%dx%d)", cfg.Width, cfg.Height)
	return sleepCtx(ctx, cfg.Warmup)
}

func (p *TestPattern) Capture(ctx context.Context) (*Request, error) {
	p.mu.Lock()
	if !p.started {
		p.mu.Unlock()
		return nil, ErrNotStarted
	}
	p.seq++
	seq := p.seq
	cfg := p.cfg
	p.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	at := p.now()
	img := renderPattern(cfg.Width, cfg.Height, fmt.Sprintf("frame %d  %s", seq, at.Format(time.RFC3339Nano)))
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 85}); err != nil {
		return nil, fmt.Errorf("camera: encode test frame: %w", err)
	}
	return &Request{
		Buffer: buf.Bytes(),
		Metadata: Metadata{
			Backend:    "testpattern",
			FrameSeq:   seq,
			Width:      cfg.Width,
			Height:     cfg.Height,
			CapturedAt: at,
		},
	}, nil
}

func (p *TestPattern) Stop() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.started = false
	return nil
}

func renderPattern(w, h int, caption string) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Pix[img.PixOffset(x, y)+0] = uint8(x * 255 / w)
			img.Pix[img.PixOffset(x, y)+1] = uint8(y * 255 / h)
			img.Pix[img.PixOffset(x, y)+2] = 96
			img.Pix[img.PixOffset(x, y)+3] = 255
		}
	}

	drawer := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(color.White),
		Face: basicfont.Face7x13,
	}
	drawer.Dot = fixed.P(8, 20)
	drawer.DrawString("PPS CAMERA TEST FRAME")
	drawer.Dot = fixed.P(8, 36)
	drawer.DrawString(caption)
	return img
}
