// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package gps

import (
	"sync/atomic"
	"time"
)

// Fix is a point-in-time position estimate.
//
// A Fix is a value: the decoder builds a new one for every accepted sentence
// and swaps it into a FixCell, so readers never see a half-updated record.
// Time and position may still come from different sentences (RMC carries
// both, GGA only position), with no bound on the gap between them.
type Fix struct {
	HasFix bool `json:"has_fix"`

	Time    time.Time `json:"time,omitempty"` // UTC, from the last valid RMC
	HasTime bool      `json:"has_time"`

	Latitude    float64 `json:"lat"` // signed decimal degrees
	Longitude   float64 `json:"lon"` // signed decimal degrees
	HasPosition bool    `json:"has_position"`

	Sentence  string    `json:"sentence,omitempty"` // type of the last sentence applied
	UpdatedAt time.Time `json:"updated_at,omitempty"`
}

// Complete reports whether timestamp, latitude and longitude are all present.
func (f Fix) Complete() bool {
	return f.HasTime && f.HasPosition
}

// FixCell is the single process-wide latest-value cell for the current fix.
// One goroutine writes (the decoder), any number read.
type FixCell struct {
	cur    atomic.Pointer[Fix]
	frozen atomic.Bool
}

// Load returns a consistent snapshot of the latest fix.
func (c *FixCell) Load() Fix {
	if f := c.cur.Load(); f != nil {
		return *f
	}
	return Fix{}
}

// Store publishes f. It returns false once the cell has been invalidated.
func (c *FixCell) Store(f Fix) bool {
	if c.frozen.Load() {
		return false
	}
	c.cur.Store(&f)
	return true
}

// Invalidate clears HasFix and freezes the cell; later stores are ignored.
func (c *FixCell) Invalidate() {
	c.frozen.Store(true)
	f := c.Load()
	f.HasFix = false
	c.cur.Store(&f)
}

// Invalidated reports whether Invalidate has been called.
func (c *FixCell) Invalidated() bool {
	return c.frozen.Load()
}
