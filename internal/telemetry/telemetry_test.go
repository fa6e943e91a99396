// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package telemetry

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/relabs-tech/pps_camera/internal/gps"
)

type sent struct {
	topic    string
	retained bool
	payload  []byte
}

func recorder(out *[]sent, err error) publishFunc {
	return func(topic string, retained bool, payload []byte) error {
		*out = append(*out, sent{topic, retained, payload})
		return err
	}
}

func TestMQTT_FixRetainedAndThrottled(t *testing.T) {
	var got []sent
	m := newMQTT("ppscam/fix", "ppscam/capture", recorder(&got, nil), nil)

	t0 := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	m.PublishFix(gps.Fix{HasFix: true, Latitude: 51.5, UpdatedAt: t0})
	m.PublishFix(gps.Fix{HasFix: true, Latitude: 51.6, UpdatedAt: t0.Add(50 * time.Millisecond)})
	m.PublishFix(gps.Fix{HasFix: true, Latitude: 51.7, UpdatedAt: t0.Add(time.Second)})

	if len(got) != 2 {
		t.Fatalf("published=%d want 2", len(got))
	}
	if got[0].topic != "ppscam/fix" || !got[0].retained {
		t.Fatalf("first=%+v", got[0])
	}
	var f gps.Fix
	if err := json.Unmarshal(got[1].payload, &f); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if f.Latitude != 51.7 {
		t.Fatalf("lat=%v", f.Latitude)
	}
}

func TestMQTT_CaptureNotRetained(t *testing.T) {
	var got []sent
	closed := false
	m := newMQTT("f", "c", recorder(&got, errors.New("broker down")), func() { closed = true })

	m.PublishCapture(CaptureEvent{Outcome: "captured", Path: "gps_photos/capture_20240501_120000.jpg"})
	if len(got) != 1 || got[0].topic != "c" || got[0].retained {
		t.Fatalf("got %+v", got)
	}
	var ev CaptureEvent
	if err := json.Unmarshal(got[0].payload, &ev); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if ev.Outcome != "captured" {
		t.Fatalf("event=%+v", ev)
	}
	m.Close()
	if !closed {
		t.Fatalf("Close did not disconnect")
	}
}

type countingPublisher struct{ fixes, captures, closes int }

func (c *countingPublisher) PublishFix(gps.Fix)          { c.fixes++ }
func (c *countingPublisher) PublishCapture(CaptureEvent) { c.captures++ }
func (c *countingPublisher) Close()                      { c.closes++ }

func TestMulti_ForwardsToAll(t *testing.T) {
	a, b := &countingPublisher{}, &countingPublisher{}
	m := Multi{a, Nop{}, b}
	m.PublishFix(gps.Fix{})
	m.PublishCapture(CaptureEvent{})
	m.PublishCapture(CaptureEvent{})
	m.Close()
	for _, c := range []*countingPublisher{a, b} {
		if c.fixes != 1 || c.captures != 2 || c.closes != 1 {
			t.Fatalf("counts %+v", c)
		}
	}
}
