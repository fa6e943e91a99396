// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package capture

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/jpeg"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/relabs-tech/pps_camera/internal/camera"
	"github.com/relabs-tech/pps_camera/internal/geotag"
	"github.com/relabs-tech/pps_camera/internal/gps"
	"github.com/relabs-tech/pps_camera/internal/pps"
	"github.com/relabs-tech/pps_camera/internal/telemetry"
)

// fakeCamera hands out one shared buffer; recycle scribbles over it the way
// a real pipeline reuses its buffers once a request is released.
type fakeCamera struct {
	frame    []byte
	err      error
	calls    int
	recycled int
}

func (c *fakeCamera) Start(context.Context, camera.Config) error { return nil }
func (c *fakeCamera) Stop() error                                { return nil }

func (c *fakeCamera) Capture(context.Context) (*camera.Request, error) {
	c.calls++
	if c.err != nil {
		return nil, c.err
	}
	return &camera.Request{
		Buffer:   c.frame,
		Metadata: camera.Metadata{Backend: "fake", FrameSeq: uint64(c.calls), Width: 8, Height: 8},
	}, nil
}

func (c *fakeCamera) recycle() {
	c.recycled++
	for i := range c.frame {
		c.frame[i] = 0
	}
}

type fixedFix gps.Fix

func (f fixedFix) Load() gps.Fix { return gps.Fix(f) }

type recordingPublisher struct {
	telemetry.Nop
	events []telemetry.CaptureEvent
}

func (p *recordingPublisher) PublishCapture(ev telemetry.CaptureEvent) {
	p.events = append(p.events, ev)
}

type recordingStore struct {
	images [][]byte
	err    error
	onCall func()
}

func (s *recordingStore) Persist(image []byte, fix gps.Fix) (string, error) {
	if s.onCall != nil {
		s.onCall()
	}
	s.images = append(s.images, image)
	if s.err != nil {
		return "", s.err
	}
	return geotag.FileName(fix.Time), nil
}

func testJPEG(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, image.NewGray(image.Rect(0, 0, 8, 8)), nil); err != nil {
		t.Fatalf("encode: %v", err)
	}
	return buf.Bytes()
}

var londonFix = gps.Fix{
	HasFix: true, HasTime: true, HasPosition: true,
	Time:     time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
	Latitude: 51.5, Longitude: -0.12, Sentence: "RMC",
}

func TestHandlePulse_NoFixSkipsWithoutSideEffects(t *testing.T) {
	dir := t.TempDir()
	cam := &fakeCamera{frame: testJPEG(t)}
	pub := &recordingPublisher{}
	o := New(fixedFix(gps.Fix{}), cam, geotag.Store{Dir: filepath.Join(dir, "out")}, WithPublisher(pub))

	res := o.HandlePulse(context.Background(), pps.Event{TimestampNanos: 1, Seqno: 1})
	if res.Outcome != Skipped || res.Err != nil {
		t.Fatalf("result=%+v", res)
	}
	if cam.calls != 0 {
		t.Fatalf("camera called %d times", cam.calls)
	}
	if _, err := os.Stat(filepath.Join(dir, "out")); !os.IsNotExist(err) {
		t.Fatalf("output directory created for a skipped pulse")
	}
	if o.State() != Idle {
		t.Fatalf("state=%v", o.State())
	}
	st := o.Stats()
	if st.Pulses != 1 || st.Skipped != 1 || st.Captured != 0 {
		t.Fatalf("stats=%+v", st)
	}
	if len(pub.events) != 1 || pub.events[0].Outcome != "skipped" {
		t.Fatalf("events=%+v", pub.events)
	}
}

func TestHandlePulse_ValidFixWritesOneGeotaggedFile(t *testing.T) {
	dir := t.TempDir()
	cam := &fakeCamera{frame: testJPEG(t)}
	o := New(fixedFix(londonFix), cam, geotag.Store{Dir: dir})

	res := o.HandlePulse(context.Background(), pps.Event{TimestampNanos: 1_714_564_800_000_000_000, Seqno: 7})
	if res.Outcome != Captured || res.Err != nil {
		t.Fatalf("result=%+v", res)
	}
	if filepath.Base(res.Path) != "capture_20240501_120000.jpg" {
		t.Fatalf("path=%s", res.Path)
	}
	entries, _ := os.ReadDir(dir)
	if len(entries) != 1 {
		t.Fatalf("files=%d want 1", len(entries))
	}
	tag, err := geotag.ReadFile(res.Path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if tag.LatRef != 'N' || tag.LonRef != 'W' || tag.DateStamp != "2024:05:01" || tag.TimeStamp != [3]uint32{12, 0, 0} {
		t.Fatalf("tag=%+v", tag)
	}
	if st := o.Stats(); st.Captured != 1 || st.LastPath != res.Path {
		t.Fatalf("stats=%+v", st)
	}
}

func TestHandlePulse_CopiesBufferBeforeRelease(t *testing.T) {
	frame := testJPEG(t)
	want := append([]byte(nil), frame...)
	cam := &fakeCamera{frame: frame}
	// The store runs after Release; scribble over the pipeline's memory first.
	store := &recordingStore{onCall: cam.recycle}
	o := New(fixedFix(londonFix), cam, store)

	res := o.HandlePulse(context.Background(), pps.Event{Seqno: 1})
	if res.Outcome != Captured {
		t.Fatalf("result=%+v", res)
	}
	if cam.recycled != 1 {
		t.Fatalf("recycled=%d", cam.recycled)
	}
	if !bytes.Equal(store.images[0], want) {
		t.Fatalf("persisted bytes alias the pipeline buffer")
	}
	if res.Metadata.Backend != "fake" || res.Metadata.FrameSeq != 1 {
		t.Fatalf("metadata=%+v", res.Metadata)
	}
}

func TestHandlePulse_FailuresAreReportedNotFatal(t *testing.T) {
	cam := &fakeCamera{err: camera.ErrNoFrame}
	store := &recordingStore{}
	pub := &recordingPublisher{}
	o := New(fixedFix(londonFix), cam, store, WithPublisher(pub))

	res := o.HandlePulse(context.Background(), pps.Event{Seqno: 1})
	if res.Outcome != Failed || !errors.Is(res.Err, camera.ErrNoFrame) {
		t.Fatalf("result=%+v", res)
	}
	if len(store.images) != 0 {
		t.Fatalf("store called after camera failure")
	}

	cam.err = nil
	cam.frame = nil
	if res := o.HandlePulse(context.Background(), pps.Event{Seqno: 2}); !errors.Is(res.Err, ErrEmptyFrame) {
		t.Fatalf("empty frame result=%+v", res)
	}

	cam.frame = testJPEG(t)
	store.err = errors.New("disk full")
	if res := o.HandlePulse(context.Background(), pps.Event{Seqno: 3}); res.Outcome != Failed {
		t.Fatalf("persist failure result=%+v", res)
	}

	st := o.Stats()
	if st.Pulses != 3 || st.Failed != 3 {
		t.Fatalf("stats=%+v", st)
	}
	if len(pub.events) != 3 || pub.events[2].Error == "" {
		t.Fatalf("events=%+v", pub.events)
	}
}

func TestHandlePulse_UntaggableFrameProducesNoFile(t *testing.T) {
	dir := t.TempDir()
	cam := &fakeCamera{frame: []byte("raw sensor dump, not a jpeg")}
	o := New(fixedFix(londonFix), cam, geotag.Store{Dir: dir})

	res := o.HandlePulse(context.Background(), pps.Event{Seqno: 1})
	if res.Outcome != Failed || !errors.Is(res.Err, geotag.ErrNotJPEG) || res.Path != "" {
		t.Fatalf("result=%+v", res)
	}
	if entries, _ := os.ReadDir(dir); len(entries) != 0 {
		t.Fatalf("untagged files written: %v", entries)
	}
}

func TestHandlePulse_WritesSidecar(t *testing.T) {
	dir := t.TempDir()
	cam := &fakeCamera{frame: testJPEG(t)}
	o := New(fixedFix(londonFix), cam, geotag.Store{Dir: dir}, WithSidecar(true))

	res := o.HandlePulse(context.Background(), pps.Event{TimestampNanos: 42, Seqno: 9, Offset: 17})
	if res.Outcome != Captured {
		t.Fatalf("result=%+v", res)
	}
	s, err := ReadSidecar(res.Path)
	if err != nil {
		t.Fatalf("ReadSidecar: %v", err)
	}
	if s.File != "capture_20240501_120000.jpg" || s.Pulse.TimestampNanos != 42 || s.Pulse.Offset != 17 {
		t.Fatalf("sidecar=%+v", s)
	}
	if s.Fix.Latitude != 51.5 || !s.Fix.Time.Equal(londonFix.Time) {
		t.Fatalf("sidecar fix=%+v", s.Fix)
	}
	if s.Sensor.Backend != "fake" || s.Sensor.Width != 8 {
		t.Fatalf("sidecar sensor=%+v", s.Sensor)
	}
}

func TestStateStrings(t *testing.T) {
	for s, want := range map[State]string{Idle: "idle", CheckFix: "check_fix", Capturing: "capturing", Persisting: "persisting"} {
		if s.String() != want {
			t.Fatalf("%d => %q", s, s.String())
		}
	}
	if Captured.String() != "captured" || Skipped.String() != "skipped" || Failed.String() != "failed" {
		t.Fatalf("outcome strings")
	}
}
