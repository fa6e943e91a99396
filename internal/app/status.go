// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"time"

	"github.com/relabs-tech/pps_camera/internal/capture"
	"github.com/relabs-tech/pps_camera/internal/gps"
)

// Status is the snapshot served on /api/status and drawn on the display.
type Status struct {
	Fix          gps.Fix       `json:"fix"`
	DecoderAlive bool          `json:"decoder_alive"`
	DecoderError string        `json:"decoder_error,omitempty"`
	Decoder      gps.Stats     `json:"decoder"`
	State        string        `json:"state"`
	Captures     capture.Stats `json:"captures"`
	Uptime       string        `json:"uptime"`
}

type statusSource struct {
	cell    *gps.FixCell
	dec     *gps.Decoder
	orch    *capture.Orchestrator
	started time.Time
}

func (s statusSource) Snapshot() Status {
	st := Status{
		Fix:          s.cell.Load(),
		DecoderAlive: s.dec.Alive(),
		Decoder:      s.dec.Stats(),
		State:        s.orch.State().String(),
		Captures:     s.orch.Stats(),
		Uptime:       time.Since(s.started).Truncate(time.Second).String(),
	}
	if err := s.dec.Err(); err != nil {
		st.DecoderError = err.Error()
	}
	return st
}
