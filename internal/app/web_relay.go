// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/relabs-tech/pps_camera/internal/capture"
	"github.com/relabs-tech/pps_camera/internal/config"
	"github.com/relabs-tech/pps_camera/internal/gps"
	"github.com/relabs-tech/pps_camera/internal/telemetry"
)

// fixSilence is how long the relay waits for a fix message before it
// reports the remote decoder as down.
const fixSilence = 5 * time.Second

// relayState rebuilds a Status from the daemon's MQTT messages.
type relayState struct {
	mu       sync.RWMutex
	fix      gps.Fix
	lastFix  time.Time
	captures capture.Stats
	started  time.Time
	now      func() time.Time
}

func newRelayState() *relayState {
	return &relayState{started: time.Now(), now: time.Now}
}

func (r *relayState) applyFix(payload []byte) error {
	var f gps.Fix
	if err := json.Unmarshal(payload, &f); err != nil {
		return err
	}
	r.mu.Lock()
	r.fix = f
	r.lastFix = r.now()
	r.mu.Unlock()
	return nil
}

func (r *relayState) applyCapture(payload []byte) (telemetry.CaptureEvent, error) {
	var ev telemetry.CaptureEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		return ev, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.captures.Pulses++
	switch ev.Outcome {
	case capture.Skipped.String():
		r.captures.Skipped++
	case capture.Captured.String():
		r.captures.Captured++
		r.captures.LastPath = ev.Path
		r.captures.LastAt = ev.At
	case capture.Failed.String():
		r.captures.Failed++
	}
	return ev, nil
}

func (r *relayState) Snapshot() Status {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return Status{
		Fix:          r.fix,
		DecoderAlive: !r.lastFix.IsZero() && r.now().Sub(r.lastFix) < fixSilence,
		State:        "remote",
		Captures:     r.captures,
		Uptime:       r.now().Sub(r.started).Truncate(time.Second).String(),
	}
}

// RunWebRelay serves the status API for a daemon running elsewhere, fed by
// its MQTT topics, until ctx is canceled.
func RunWebRelay(ctx context.Context, cfg *config.Config) error {
	if cfg.MQTTBroker == "" {
		return fmt.Errorf("MQTT_BROKER is required for the web relay")
	}
	port := cfg.WebServerPort
	if port == 0 {
		port = 8080
	}

	state := newRelayState()
	web := NewStatusServer(port, state.Snapshot)
	hub := web.Publisher()

	opts := mqtt.NewClientOptions().
		AddBroker(cfg.MQTTBroker).
		SetClientID(cfg.MQTTClientID + "-web").
		SetAutoReconnect(true)
	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return token.Error()
	}
	log.Printf("web: connected to MQTT broker at %s", cfg.MQTTBroker)
	defer client.Disconnect(250)

	subs := map[string]mqtt.MessageHandler{
		cfg.TopicFix: func(_ mqtt.Client, msg mqtt.Message) {
			if err := state.applyFix(msg.Payload()); err != nil {
				log.Printf("web: fix unmarshal error: %v", err)
			}
		},
		cfg.TopicCapture: func(_ mqtt.Client, msg mqtt.Message) {
			ev, err := state.applyCapture(msg.Payload())
			if err != nil {
				log.Printf("web: capture unmarshal error: %v", err)
				return
			}
			hub.PublishCapture(ev)
		},
	}
	for topic, handler := range subs {
		token := client.Subscribe(topic, 0, handler)
		token.Wait()
		if token.Error() != nil {
			return token.Error()
		}
		log.Printf("web: subscribed to %s", topic)
	}

	web.Start()
	<-ctx.Done()
	shutCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return web.Shutdown(shutCtx)
}
