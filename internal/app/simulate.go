// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/relabs-tech/pps_camera/internal/config"
	"github.com/relabs-tech/pps_camera/internal/gps"
	"github.com/relabs-tech/pps_camera/internal/telemetry"
)

// SimulationConfig returns a copy of cfg with the receiver, pulse line and
// camera replaced by their software stand-ins.
func SimulationConfig(cfg *config.Config) *config.Config {
	sim := *cfg
	sim.GPSSerialPort = gps.SimulatedPort
	sim.PPSBackend = "sim"
	sim.CameraBackend = "testpattern"
	return &sim
}

// RunSimulation runs the full capture pipeline against a simulated receiver
// and prints one line per pulse to out.
func RunSimulation(ctx context.Context, cfg *config.Config, out io.Writer) error {
	return runPPSCamera(ctx, SimulationConfig(cfg), &consolePublisher{out: out})
}

// consolePublisher prints capture outcomes. Fixes are not printed since the
// simulated receiver reports two per second.
type consolePublisher struct {
	telemetry.Nop
	mu  sync.Mutex
	out io.Writer
}

func (c *consolePublisher) PublishCapture(ev telemetry.CaptureEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()
	line := formatCapture(ev)
	if ev.Fix.HasPosition {
		line += fmt.Sprintf(" @ %.6f,%.6f", ev.Fix.Latitude, ev.Fix.Longitude)
	}
	fmt.Fprintln(c.out, line)
}
