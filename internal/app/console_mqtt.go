// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/relabs-tech/pps_camera/internal/config"
	"github.com/relabs-tech/pps_camera/internal/gps"
	"github.com/relabs-tech/pps_camera/internal/telemetry"
)

// RunConsoleMQTT prints fixes and capture events published by the daemon
// until ctx is canceled.
func RunConsoleMQTT(ctx context.Context, cfg *config.Config) error {
	if cfg.MQTTBroker == "" {
		return fmt.Errorf("MQTT_BROKER is required for the console")
	}
	opts := mqtt.NewClientOptions().
		AddBroker(cfg.MQTTBroker).
		SetClientID(cfg.MQTTClientID + "-console")

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return token.Error()
	}
	log.Printf("console: connected to MQTT broker at %s", cfg.MQTTBroker)
	defer client.Disconnect(250)

	subs := map[string]mqtt.MessageHandler{
		cfg.TopicFix: func(_ mqtt.Client, msg mqtt.Message) {
			line, err := fixLine(msg.Payload())
			if err != nil {
				log.Printf("console: fix unmarshal error: %v", err)
				return
			}
			fmt.Println(line)
		},
		cfg.TopicCapture: func(_ mqtt.Client, msg mqtt.Message) {
			line, err := captureLine(msg.Payload())
			if err != nil {
				log.Printf("console: capture unmarshal error: %v", err)
				return
			}
			fmt.Println(line)
		},
	}
	for topic, handler := range subs {
		token := client.Subscribe(topic, 0, handler)
		token.Wait()
		if token.Error() != nil {
			return token.Error()
		}
		log.Printf("console: subscribed to %s", topic)
	}

	<-ctx.Done()
	log.Println("console: shutting down")
	return nil
}

func fixLine(payload []byte) (string, error) {
	var f gps.Fix
	if err := json.Unmarshal(payload, &f); err != nil {
		return "", err
	}
	return "[GPS ] " + formatFix(f), nil
}

func captureLine(payload []byte) (string, error) {
	var ev telemetry.CaptureEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		return "", err
	}
	return formatCapture(ev), nil
}

func formatCapture(ev telemetry.CaptureEvent) string {
	line := fmt.Sprintf("[PPS ] seq=%d t=%dns %-8s", ev.Seqno, ev.PulseNanos, ev.Outcome)
	switch {
	case ev.Path != "":
		line += " " + ev.Path
	case ev.Error != "":
		line += " " + ev.Error
	}
	return line
}
