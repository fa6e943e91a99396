// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestParse_DefaultsForMissingKeys(t *testing.T) {
	cfg, err := Parse(strings.NewReader("# only a comment\n\n"))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	want := Default()
	if *cfg != *want {
		t.Fatalf("got %+v want %+v", cfg, want)
	}
	if cfg.PollInterval() != 10*time.Millisecond || cfg.Warmup() != 2*time.Second {
		t.Fatalf("durations %v %v", cfg.PollInterval(), cfg.Warmup())
	}
}

func TestParse_OverridesValues(t *testing.T) {
	src := `
GPS_SERIAL_PORT = /dev/ttyAMA0
GPS_BAUD_RATE=115200
PPS_BACKEND=Periph
PPS_GPIO_LINE=18
PPS_POLL_INTERVAL=5
CAMERA_BACKEND=testpattern
SIDECAR_ENABLE=true
MQTT_BROKER=tcp://localhost:1883
WEB_SERVER_PORT=8080
`
	cfg, err := Parse(strings.NewReader(src))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.GPSSerialPort != "/dev/ttyAMA0" || cfg.GPSBaudRate != 115200 {
		t.Fatalf("gps %q %d", cfg.GPSSerialPort, cfg.GPSBaudRate)
	}
	if cfg.PPSBackend != "periph" || cfg.PPSGPIOLine != 18 || cfg.PollInterval() != 5*time.Millisecond {
		t.Fatalf("pps %+v", cfg)
	}
	if cfg.CameraBackend != "testpattern" || !cfg.SidecarEnable || cfg.WebServerPort != 8080 {
		t.Fatalf("misc %+v", cfg)
	}
	if cfg.TopicFix != "ppscam/fix" {
		t.Fatalf("default topic lost: %q", cfg.TopicFix)
	}
}

func TestParse_Rejects(t *testing.T) {
	cases := map[string]string{
		"unknown key":        "SOMETHING=1",
		"missing equals":     "GPS_BAUD_RATE",
		"non-numeric":        "CAMERA_WIDTH=wide",
		"poll zero":          "PPS_POLL_INTERVAL=0",
		"poll too slow":      "PPS_POLL_INTERVAL=11",
		"bad baud":           "GPS_BAUD_RATE=1234",
		"bad pps backend":    "PPS_BACKEND=sysfs",
		"bad camera backend": "CAMERA_BACKEND=v4l2",
		"zero height":        "CAMERA_HEIGHT=0",
		"bad bool":           "DISPLAY_ENABLE=maybe",
		"empty topic":        "MQTT_BROKER=tcp://x:1883\nTOPIC_FIX=",
	}
	for name, src := range cases {
		if _, err := Parse(strings.NewReader(src)); err == nil {
			t.Fatalf("%s: expected error for %q", name, src)
		}
	}
}

func TestLoad_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), DefaultPath)
	if err := os.WriteFile(path, []byte("OUTPUT_DIR=/data/photos\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.OutputDir != "/data/photos" {
		t.Fatalf("OutputDir=%q", cfg.OutputDir)
	}
	if _, err := Load(filepath.Join(t.TempDir(), "missing.txt")); err == nil {
		t.Fatalf("expected error for missing file")
	}
}
