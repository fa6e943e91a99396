// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"context"
	"fmt"
	"image"
	"log"
	"path/filepath"
	"time"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/devices/v3/ssd1306"
	"periph.io/x/devices/v3/ssd1306/image1bit"
	"periph.io/x/host/v3"
)

const (
	displayW     = 128
	displayH     = 64
	displayLineH = 13
)

// panel is the part of *ssd1306.Dev the status loop draws on.
type panel interface {
	Bounds() image.Rectangle
	Draw(r image.Rectangle, src image.Image, sp image.Point) error
}

// openDisplay opens the SSD1306 at the default address on bus ("" selects
// the first I2C bus). The returned func releases the bus.
func openDisplay(bus string) (panel, func(), error) {
	if _, err := host.Init(); err != nil {
		return nil, nil, fmt.Errorf("failed to initialize periph: %w", err)
	}
	b, err := i2creg.Open(bus)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open I2C bus %q: %w", bus, err)
	}
	dev, err := ssd1306.NewI2C(b, &ssd1306.DefaultOpts)
	if err != nil {
		b.Close()
		return nil, nil, fmt.Errorf("failed to initialize display: %w", err)
	}
	log.Printf("display: SSD1306 initialized on I2C bus %q", bus)
	closeFn := func() {
		_ = dev.Halt()
		_ = b.Close()
	}
	return dev, closeFn, nil
}

var openDisplayFn = openDisplay

// runDisplay redraws the status panel every interval until ctx ends.
func runDisplay(ctx context.Context, dev panel, interval time.Duration, status func() Status) {
	if err := dev.Draw(dev.Bounds(), renderLines("PPS Camera", "Waiting for", "GPS fix..."), image.Point{}); err != nil {
		log.Printf("display: error showing splash: %v", err)
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	log.Println("display: starting update loop")

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := dev.Draw(dev.Bounds(), renderStatus(status()), image.Point{}); err != nil {
				log.Printf("display: error updating display: %v", err)
			}
		}
	}
}

// statusLines formats the four panel lines.
func statusLines(st Status) [4]string {
	var l [4]string
	switch {
	case !st.DecoderAlive:
		l[0] = "GPS: STOPPED"
	case !st.Fix.HasFix:
		l[0] = "GPS: no fix"
	default:
		l[0] = "GPS: " + st.Fix.Time.UTC().Format("15:04:05") + "Z"
	}
	if st.Fix.HasPosition {
		l[1] = hemi(st.Fix.Latitude, 'N', 'S') + " " + hemi(st.Fix.Longitude, 'E', 'W')
	} else {
		l[1] = "--"
	}
	l[2] = fmt.Sprintf("ok%d sk%d er%d", st.Captures.Captured, st.Captures.Skipped, st.Captures.Failed)
	if st.Captures.LastPath != "" {
		l[3] = filepath.Base(st.Captures.LastPath)
		// capture_YYYYMMDD_HHMMSS.jpg does not fit; keep the time part.
		if len(l[3]) > 18 {
			l[3] = "last " + l[3][len(l[3])-10:len(l[3])-4]
		}
	} else {
		l[3] = st.State
	}
	return l
}

func hemi(v float64, pos, neg byte) string {
	ref := pos
	if v <= 0 {
		ref = neg
		v = -v
	}
	return fmt.Sprintf("%.3f%c", v, ref)
}

func renderStatus(st Status) *image1bit.VerticalLSB {
	l := statusLines(st)
	return renderLines(l[:]...)
}

func renderLines(lines ...string) *image1bit.VerticalLSB {
	img := image1bit.NewVerticalLSB(image.Rect(0, 0, displayW, displayH))
	drawer := &font.Drawer{
		Dst:  img,
		Src:  &image.Uniform{image1bit.On},
		Face: basicfont.Face7x13,
	}
	for i, line := range lines {
		drawer.Dot = fixed.P(0, displayLineH*(i+1)+2*i)
		drawer.DrawString(line)
	}
	return img
}
