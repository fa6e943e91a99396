// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package telemetry

import (
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/relabs-tech/pps_camera/internal/gps"
)

const publishTimeout = 2 * time.Second

// publishFunc sends one message; it is the seam tests replace.
type publishFunc func(topic string, retained bool, payload []byte) error

// MQTT publishes fixes (retained, so late subscribers see the last one) and
// capture events (not retained) as JSON.
type MQTT struct {
	fixTopic     string
	captureTopic string
	publish      publishFunc
	disconnect   func()

	mu        sync.Mutex
	lastFixAt time.Time
	minGap    time.Duration
}

// NewMQTT connects to broker and returns a publisher for the two topics.
func NewMQTT(broker, clientID, fixTopic, captureTopic string) (*MQTT, error) {
	opts := mqtt.NewClientOptions().
		AddBroker(broker).
		SetClientID(clientID).
		SetAutoReconnect(true).
		SetConnectTimeout(5 * time.Second)

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("mqtt: connect %s: %w", broker, token.Error())
	}
	log.Printf("mqtt: connected to %s as %s", broker, clientID)

	pub := func(topic string, retained bool, payload []byte) error {
		token := client.Publish(topic, 0, retained, payload)
		if !token.WaitTimeout(publishTimeout) {
			return fmt.Errorf("publish to %s timed out", topic)
		}
		return token.Error()
	}
	return newMQTT(fixTopic, captureTopic, pub, func() { client.Disconnect(250) }), nil
}

func newMQTT(fixTopic, captureTopic string, publish publishFunc, disconnect func()) *MQTT {
	return &MQTT{
		fixTopic:     fixTopic,
		captureTopic: captureTopic,
		publish:      publish,
		disconnect:   disconnect,
		minGap:       200 * time.Millisecond,
	}
}

// PublishFix sends f unless another fix went out less than 200 ms ago; the
// receiver emits several sentences per second and subscribers only need the
// latest.
func (m *MQTT) PublishFix(f gps.Fix) {
	m.mu.Lock()
	if !f.UpdatedAt.IsZero() && f.UpdatedAt.Sub(m.lastFixAt) < m.minGap {
		m.mu.Unlock()
		return
	}
	m.lastFixAt = f.UpdatedAt
	m.mu.Unlock()
	m.send(m.fixTopic, true, f)
}

// PublishCapture sends ev on the capture topic.
func (m *MQTT) PublishCapture(ev CaptureEvent) {
	m.send(m.captureTopic, false, ev)
}

func (m *MQTT) send(topic string, retained bool, v any) {
	payload, err := json.Marshal(v)
	if err != nil {
		log.Printf("mqtt: marshal for %s: %v", topic, err)
		return
	}
	if err := m.publish(topic, retained, payload); err != nil {
		log.Printf("mqtt: publish error: %v", err)
	}
}

// Close disconnects from the broker.
func (m *MQTT) Close() {
	if m.disconnect != nil {
		m.disconnect()
	}
}
