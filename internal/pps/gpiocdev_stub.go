// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

//go:build !linux

package pps

import "fmt"

// Stub implementation for non-Linux platforms.
func openGPIOCDev(cfg Config) (Line, error) {
	return nil, fmt.Errorf("pps: gpio character device unsupported on this platform, use PPS_BACKEND=periph")
}
