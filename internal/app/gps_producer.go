// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"context"
	"fmt"
	"log"

	"github.com/relabs-tech/pps_camera/internal/config"
	"github.com/relabs-tech/pps_camera/internal/gps"
	"github.com/relabs-tech/pps_camera/internal/telemetry"
)

// RunGPSProducer decodes the GPS serial feed without the camera and
// publishes every accepted fix to the fix topic. It is the field check for
// wiring and antenna placement before the capture daemon is started.
func RunGPSProducer(ctx context.Context, cfg *config.Config) error {
	var pub telemetry.Publisher = telemetry.Nop{}
	if cfg.MQTTBroker != "" {
		p, err := newMQTTFn(cfg)
		if err != nil {
			return err
		}
		pub = p
	} else {
		log.Println("gps_producer: MQTT_BROKER not set, printing fixes only")
	}
	defer pub.Close()

	cell := &gps.FixCell{}
	dec := gps.NewDecoder(cell, openSerialFn, gps.DecoderConfig{
		Port:        cfg.GPSSerialPort,
		Baud:        cfg.GPSBaudRate,
		ReadTimeout: cfg.ReadTimeout(),
	})
	dec.OnFix(func(f gps.Fix) {
		log.Printf("gps_producer: %s", formatFix(f))
		pub.PublishFix(f)
	})

	err := dec.Run(ctx)
	st := dec.Stats()
	log.Printf("gps_producer: %d lines, %d accepted, %d malformed, %d invalid, %d ignored",
		st.Lines, st.Accepted, st.Malformed, st.Invalid, st.Ignored)
	if ctx.Err() != nil {
		return nil
	}
	return err
}

// formatFix renders a fix on one line.
func formatFix(f gps.Fix) string {
	t := "--:--:--"
	if f.HasTime {
		t = f.Time.UTC().Format("2006-01-02 15:04:05Z")
	}
	pos := "no position"
	if f.HasPosition {
		pos = fmt.Sprintf("lat=%.6f lon=%.6f", f.Latitude, f.Longitude)
	}
	return fmt.Sprintf("[%s] fix=%t time=%s %s", f.Sentence, f.HasFix, t, pos)
}
