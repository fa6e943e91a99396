// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/relabs-tech/pps_camera/internal/camera"
	"github.com/relabs-tech/pps_camera/internal/capture"
	"github.com/relabs-tech/pps_camera/internal/config"
	"github.com/relabs-tech/pps_camera/internal/geotag"
	"github.com/relabs-tech/pps_camera/internal/gps"
	"github.com/relabs-tech/pps_camera/internal/pps"
	"github.com/relabs-tech/pps_camera/internal/telemetry"
)

// Hardware seams, replaced in tests.
var (
	openSerialFn  gps.OpenFunc = gps.Open
	openLineFn                 = pps.Open
	newPipelineFn              = camera.New
	newMQTTFn                  = func(cfg *config.Config) (telemetry.Publisher, error) {
		m, err := telemetry.NewMQTT(cfg.MQTTBroker, cfg.MQTTClientID, cfg.TopicFix, cfg.TopicCapture)
		if err != nil {
			return nil, err
		}
		return m, nil
	}
)

const decoderStopWait = 2 * time.Second

// RunPPSCamera runs the capture daemon until ctx is canceled or the GPS
// decoder stops. Whatever was acquired is released on every return path:
// pulse line, camera, decoder, publishers.
func RunPPSCamera(ctx context.Context, cfg *config.Config) error {
	return runPPSCamera(ctx, cfg, nil)
}

func runPPSCamera(ctx context.Context, cfg *config.Config, extra telemetry.Publisher) (err error) {
	var cleanups []func()
	defer func() {
		log.Println("main: cleaning up...")
		for i := len(cleanups) - 1; i >= 0; i-- {
			cleanups[i]()
		}
		log.Println("main: exited.")
	}()

	// Telemetry sinks. MQTT is optional; a broker that is down does not
	// keep the camera from running.
	pubs := telemetry.Multi{}
	if extra != nil {
		pubs = append(pubs, extra)
	}
	if cfg.MQTTBroker != "" {
		p, err := newMQTTFn(cfg)
		if err != nil {
			log.Printf("main: telemetry disabled: %v", err)
		} else {
			pubs = append(pubs, p)
		}
	}
	var web *StatusServer
	if cfg.WebServerPort > 0 {
		web = NewStatusServer(cfg.WebServerPort, nil)
		pubs = append(pubs, web.Publisher())
	}
	cleanups = append(cleanups, pubs.Close)

	// 1) Position feed decoder.
	cell := &gps.FixCell{}
	dec := gps.NewDecoder(cell, openSerialFn, gps.DecoderConfig{
		Port:        cfg.GPSSerialPort,
		Baud:        cfg.GPSBaudRate,
		ReadTimeout: cfg.ReadTimeout(),
	})
	dec.OnFix(pubs.PublishFix)
	decCtx, cancelDec := context.WithCancel(ctx)
	go func() { _ = dec.Run(decCtx) }()
	cleanups = append(cleanups, func() {
		cancelDec()
		select {
		case <-dec.Done():
		case <-time.After(decoderStopWait):
			log.Println("main: GPS decoder did not stop in time")
		}
	})
	log.Println("main: GPS thread started")

	// 2) Camera.
	cam, err := newPipelineFn(cfg.CameraBackend, cfg.CameraCommand)
	if err != nil {
		return err
	}
	camCfg := camera.Config{
		Width:          cfg.CameraWidth,
		Height:         cfg.CameraHeight,
		Warmup:         cfg.Warmup(),
		CaptureTimeout: cfg.CaptureTimeout(),
	}
	if err := cam.Start(ctx, camCfg); err != nil {
		return fmt.Errorf("camera init: %w", err)
	}
	cleanups = append(cleanups, func() {
		if err := cam.Stop(); err != nil {
			log.Printf("main: camera stop: %v", err)
		}
	})
	log.Printf("main: camera initialised (%s %dx%d)", cfg.CameraBackend, cfg.CameraWidth, cfg.CameraHeight)

	// 3) PPS line.
	line, err := openLineFn(pps.Config{
		Backend: cfg.PPSBackend,
		Chip:    cfg.PPSGPIOChip,
		Offset:  cfg.PPSGPIOLine,
	})
	if err != nil {
		if errors.Is(err, pps.ErrChipNotFound) {
			log.Printf("main: FATAL: %v", err)
		}
		return err
	}
	cleanups = append(cleanups, func() {
		if err := line.Close(); err != nil {
			log.Printf("main: release GPIO line: %v", err)
		}
	})

	orch := capture.New(cell, cam, geotag.Store{Dir: cfg.OutputDir},
		capture.WithPublisher(pubs),
		capture.WithSidecar(cfg.SidecarEnable),
	)

	status := statusSource{cell: cell, dec: dec, orch: orch, started: time.Now()}
	if web != nil {
		web.status = status.Snapshot
		web.Start()
		cleanups = append(cleanups, func() {
			sctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			_ = web.Shutdown(sctx)
		})
	}

	if cfg.DisplayEnable {
		dev, closeDisplay, err := openDisplayFn(cfg.DisplayI2CBus)
		if err != nil {
			log.Printf("main: display disabled: %v", err)
		} else {
			dctx, cancelDisplay := context.WithCancel(ctx)
			done := make(chan struct{})
			go func() {
				defer close(done)
				runDisplay(dctx, dev, cfg.DisplayInterval(), status.Snapshot)
			}()
			cleanups = append(cleanups, func() {
				cancelDisplay()
				<-done
				closeDisplay()
			})
		}
	}

	// 4) Pulse loop. Captures run synchronously inside it; at 1 Hz a
	// capture finishes well within one pulse period.
	mon := pps.NewMonitor(line, cfg.PollInterval())
	log.Printf("main: monitoring GPIO %d on %s for PPS signal", cfg.PPSGPIOLine, cfg.PPSGPIOChip)

	err = mon.Run(ctx, dec.Alive, func(ev pps.Event) {
		orch.HandlePulse(ctx, ev)
	})

	switch {
	case errors.Is(err, pps.ErrSourceStopped):
		log.Println("main: GPS thread stopped, shutting down")
		return fmt.Errorf("gps decoder stopped: %w", dec.Err())
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		log.Println("main: interrupted")
		return nil
	default:
		return err
	}
}
