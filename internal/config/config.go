// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package config

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"
)

// DefaultPath is the file the tools read when no other path is given.
const DefaultPath = "pps_camera_config.txt"

// Config holds all application configuration values.
type Config struct {
	// GPS
	GPSSerialPort  string
	GPSBaudRate    int
	GPSReadTimeout int // milliseconds

	// PPS
	PPSBackend      string // "gpiocdev", "periph" or "sim"
	PPSGPIOChip     string
	PPSGPIOLine     int
	PPSPollInterval int // milliseconds, 1..10

	// Camera
	CameraBackend        string // "rpicam" or "testpattern"
	CameraCommand        string
	CameraWidth          int
	CameraHeight         int
	CameraWarmup         int // milliseconds
	CameraCaptureTimeout int // milliseconds

	// Output
	OutputDir     string
	SidecarEnable bool

	// MQTT
	MQTTBroker   string // empty disables telemetry
	MQTTClientID string
	TopicFix     string
	TopicCapture string

	// Web Server
	WebServerPort int // 0 disables the status server

	// Display
	DisplayEnable         bool
	DisplayI2CBus         string
	DisplayUpdateInterval int // milliseconds
}

// Default returns the configuration of the reference rig: u-blox receiver on
// the Pi UART, PPS on BCM 17 of a Raspberry Pi 5, full-HD stills.
func Default() *Config {
	return &Config{
		GPSSerialPort:  "/dev/ttyS0",
		GPSBaudRate:    9600,
		GPSReadTimeout: 1000,

		PPSBackend:      "gpiocdev",
		PPSGPIOChip:     "gpiochip4",
		PPSGPIOLine:     17,
		PPSPollInterval: 10,

		CameraBackend:        "rpicam",
		CameraCommand:        "rpicam-vid",
		CameraWidth:          1920,
		CameraHeight:         1080,
		CameraWarmup:         2000,
		CameraCaptureTimeout: 500,

		OutputDir: "gps_photos",

		MQTTClientID: "pps-camera",
		TopicFix:     "ppscam/fix",
		TopicCapture: "ppscam/capture",

		DisplayUpdateInterval: 500,
	}
}

var supportedBaudRates = map[int]bool{
	4800: true, 9600: true, 19200: true, 38400: true,
	57600: true, 115200: true, 230400: true, 460800: true, 921600: true,
}

// Package-level singleton, set once by InitGlobal and read through Get.
var (
	globalConfig *Config
	configOnce   sync.Once
	configMu     sync.RWMutex
)

// Load reads the configuration file and returns a Config struct. Keys not
// present in the file keep their defaults.
func Load(configPath string) (*Config, error) {
	file, err := os.Open(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer file.Close()
	return Parse(file)
}

// Parse reads KEY=VALUE lines from r on top of Default().
func Parse(r io.Reader) (*Config, error) {
	cfg := Default()
	scanner := bufio.NewScanner(r)
	lineNum := 0

	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())

		// Skip empty lines and comments
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("invalid config line %d: %q", lineNum, line)
		}

		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])

		if err := cfg.setValue(key, value); err != nil {
			return nil, fmt.Errorf("config line %d: %w", lineNum, err)
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func atoi(key, value string) (int, error) {
	v, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, value, err)
	}
	return v, nil
}

func parseBool(key, value string) (bool, error) {
	v, err := strconv.ParseBool(value)
	if err != nil {
		return false, fmt.Errorf("invalid %s %q: %w", key, value, err)
	}
	return v, nil
}

// setValue sets a config value based on the key.
func (c *Config) setValue(key, value string) error {
	var err error
	switch key {
	// GPS
	case "GPS_SERIAL_PORT":
		c.GPSSerialPort = value
	case "GPS_BAUD_RATE":
		c.GPSBaudRate, err = atoi(key, value)
	case "GPS_READ_TIMEOUT":
		c.GPSReadTimeout, err = atoi(key, value)

	// PPS
	case "PPS_BACKEND":
		c.PPSBackend = strings.ToLower(value)
	case "PPS_GPIO_CHIP":
		c.PPSGPIOChip = value
	case "PPS_GPIO_LINE":
		c.PPSGPIOLine, err = atoi(key, value)
	case "PPS_POLL_INTERVAL":
		c.PPSPollInterval, err = atoi(key, value)

	// Camera
	case "CAMERA_BACKEND":
		c.CameraBackend = strings.ToLower(value)
	case "CAMERA_COMMAND":
		c.CameraCommand = value
	case "CAMERA_WIDTH":
		c.CameraWidth, err = atoi(key, value)
	case "CAMERA_HEIGHT":
		c.CameraHeight, err = atoi(key, value)
	case "CAMERA_WARMUP":
		c.CameraWarmup, err = atoi(key, value)
	case "CAMERA_CAPTURE_TIMEOUT":
		c.CameraCaptureTimeout, err = atoi(key, value)

	// Output
	case "OUTPUT_DIR":
		c.OutputDir = value
	case "SIDECAR_ENABLE":
		c.SidecarEnable, err = parseBool(key, value)

	// MQTT
	case "MQTT_BROKER":
		c.MQTTBroker = value
	case "MQTT_CLIENT_ID":
		c.MQTTClientID = value
	case "TOPIC_FIX":
		c.TopicFix = value
	case "TOPIC_CAPTURE":
		c.TopicCapture = value

	// Web Server
	case "WEB_SERVER_PORT":
		c.WebServerPort, err = atoi(key, value)

	// Display
	case "DISPLAY_ENABLE":
		c.DisplayEnable, err = parseBool(key, value)
	case "DISPLAY_I2C_BUS":
		c.DisplayI2CBus = value
	case "DISPLAY_UPDATE_INTERVAL":
		c.DisplayUpdateInterval, err = atoi(key, value)

	default:
		return fmt.Errorf("unknown config key: %q", key)
	}
	return err
}

// validate checks ranges and enumerations.
func (c *Config) validate() error {
	if c.GPSSerialPort == "" {
		return fmt.Errorf("GPS_SERIAL_PORT is required")
	}
	if !supportedBaudRates[c.GPSBaudRate] {
		return fmt.Errorf("GPS_BAUD_RATE %d is not a supported serial rate", c.GPSBaudRate)
	}
	if c.GPSReadTimeout <= 0 {
		return fmt.Errorf("GPS_READ_TIMEOUT must be positive, got %d", c.GPSReadTimeout)
	}
	switch c.PPSBackend {
	case "gpiocdev", "periph", "sim":
	default:
		return fmt.Errorf("PPS_BACKEND must be gpiocdev, periph or sim, got %q", c.PPSBackend)
	}
	if c.PPSGPIOLine < 0 {
		return fmt.Errorf("PPS_GPIO_LINE must be >= 0, got %d", c.PPSGPIOLine)
	}
	if c.PPSPollInterval < 1 || c.PPSPollInterval > 10 {
		return fmt.Errorf("PPS_POLL_INTERVAL must be 1-10 ms, got %d", c.PPSPollInterval)
	}
	switch c.CameraBackend {
	case "rpicam", "testpattern":
	default:
		return fmt.Errorf("CAMERA_BACKEND must be rpicam or testpattern, got %q", c.CameraBackend)
	}
	if c.CameraWidth <= 0 || c.CameraHeight <= 0 {
		return fmt.Errorf("CAMERA_WIDTH/CAMERA_HEIGHT must be positive, got %dx%d", c.CameraWidth, c.CameraHeight)
	}
	if c.CameraWarmup < 0 {
		return fmt.Errorf("CAMERA_WARMUP must be >= 0, got %d", c.CameraWarmup)
	}
	if c.CameraCaptureTimeout <= 0 {
		return fmt.Errorf("CAMERA_CAPTURE_TIMEOUT must be positive, got %d", c.CameraCaptureTimeout)
	}
	if c.OutputDir == "" {
		return fmt.Errorf("OUTPUT_DIR is required")
	}
	if c.MQTTBroker != "" && (c.TopicFix == "" || c.TopicCapture == "") {
		return fmt.Errorf("TOPIC_FIX and TOPIC_CAPTURE are required when MQTT_BROKER is set")
	}
	if c.WebServerPort < 0 || c.WebServerPort > 65535 {
		return fmt.Errorf("WEB_SERVER_PORT out of range: %d", c.WebServerPort)
	}
	if c.DisplayUpdateInterval <= 0 {
		return fmt.Errorf("DISPLAY_UPDATE_INTERVAL must be positive, got %d", c.DisplayUpdateInterval)
	}
	return nil
}

func ms(v int) time.Duration { return time.Duration(v) * time.Millisecond }

// ReadTimeout is GPS_READ_TIMEOUT as a duration.
func (c *Config) ReadTimeout() time.Duration { return ms(c.GPSReadTimeout) }

// PollInterval is PPS_POLL_INTERVAL as a duration.
func (c *Config) PollInterval() time.Duration { return ms(c.PPSPollInterval) }

// Warmup is CAMERA_WARMUP as a duration.
func (c *Config) Warmup() time.Duration { return ms(c.CameraWarmup) }

// CaptureTimeout is CAMERA_CAPTURE_TIMEOUT as a duration.
func (c *Config) CaptureTimeout() time.Duration { return ms(c.CameraCaptureTimeout) }

// DisplayInterval is DISPLAY_UPDATE_INTERVAL as a duration.
func (c *Config) DisplayInterval() time.Duration { return ms(c.DisplayUpdateInterval) }

// InitGlobal initializes the global configuration from file. It only runs
// once. A missing file is not an error: the defaults are used instead.
func InitGlobal(configPath string) error {
	var err error
	configOnce.Do(func() {
		configMu.Lock()
		defer configMu.Unlock()
		globalConfig, err = Load(configPath)
		if errors.Is(err, fs.ErrNotExist) {
			log.Printf("config: %s not found, using defaults", configPath)
			globalConfig, err = Default(), nil
		}
	})
	return err
}

// Get returns the global configuration instance.
// InitGlobal must be called first, or this will return nil.
func Get() *Config {
	configMu.RLock()
	defer configMu.RUnlock()
	return globalConfig
}
