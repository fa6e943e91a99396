// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package capture

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/relabs-tech/pps_camera/internal/camera"
)

// Sidecar is the YAML record stored next to an image. It keeps the pulse
// timing and sensor metadata that EXIF has no room for.
type Sidecar struct {
	File  string `yaml:"file"`
	Pulse struct {
		TimestampNanos uint64 `yaml:"timestamp_ns"`
		Seqno          uint32 `yaml:"seqno"`
		Offset         int    `yaml:"offset"`
	} `yaml:"pulse"`
	Fix struct {
		Time      time.Time `yaml:"time"`
		Latitude  float64   `yaml:"lat"`
		Longitude float64   `yaml:"lon"`
		Sentence  string    `yaml:"sentence,omitempty"`
	} `yaml:"fix"`
	Sensor camera.Metadata `yaml:"sensor"`
}

// SidecarPath maps capture_X.jpg to capture_X.yaml.
func SidecarPath(imagePath string) string {
	return strings.TrimSuffix(imagePath, filepath.Ext(imagePath)) + ".yaml"
}

func writeSidecar(imagePath string, res Result) error {
	var s Sidecar
	s.File = filepath.Base(imagePath)
	s.Pulse.TimestampNanos = res.Pulse.TimestampNanos
	s.Pulse.Seqno = res.Pulse.Seqno
	s.Pulse.Offset = res.Pulse.Offset
	s.Fix.Time = res.Fix.Time.UTC()
	s.Fix.Latitude = res.Fix.Latitude
	s.Fix.Longitude = res.Fix.Longitude
	s.Fix.Sentence = res.Fix.Sentence
	s.Sensor = res.Metadata

	out, err := yaml.Marshal(&s)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}
	return os.WriteFile(SidecarPath(imagePath), out, 0o644)
}

// ReadSidecar loads the record written for imagePath.
func ReadSidecar(imagePath string) (Sidecar, error) {
	var s Sidecar
	raw, err := os.ReadFile(SidecarPath(imagePath))
	if err != nil {
		return s, err
	}
	if err := yaml.Unmarshal(raw, &s); err != nil {
		return s, fmt.Errorf("capture: sidecar %s: %w", SidecarPath(imagePath), err)
	}
	return s, nil
}
