// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package capture turns PPS edges into geotagged stills.
//
// Each edge walks Idle → CheckFix → Capturing → Persisting → Idle. A pulse
// that arrives without a valid fix goes straight back to Idle: no image is
// ever written without a geotag.
package capture

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/relabs-tech/pps_camera/internal/camera"
	"github.com/relabs-tech/pps_camera/internal/gps"
	"github.com/relabs-tech/pps_camera/internal/metrics"
	"github.com/relabs-tech/pps_camera/internal/pps"
	"github.com/relabs-tech/pps_camera/internal/telemetry"
)

// ErrEmptyFrame is reported when the pipeline hands back no image bytes.
var ErrEmptyFrame = errors.New("capture: empty frame")

// State is the orchestrator's position in the per-pulse cycle.
type State int32

const (
	Idle State = iota
	CheckFix
	Capturing
	Persisting
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case CheckFix:
		return "check_fix"
	case Capturing:
		return "capturing"
	case Persisting:
		return "persisting"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Outcome of one pulse.
type Outcome int

const (
	Skipped Outcome = iota
	Captured
	Failed
)

func (o Outcome) String() string {
	switch o {
	case Skipped:
		return "skipped"
	case Captured:
		return "captured"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// FixSource yields the latest fix snapshot. *gps.FixCell implements it.
type FixSource interface {
	Load() gps.Fix
}

// Persister writes a geotagged image. geotag.Store implements it.
type Persister interface {
	Persist(image []byte, fix gps.Fix) (string, error)
}

// Result describes what happened to one pulse.
type Result struct {
	Outcome  Outcome
	Path     string
	Fix      gps.Fix
	Pulse    pps.Event
	Metadata camera.Metadata
	Err      error
	Duration time.Duration
}

// Event converts r into its telemetry record.
func (r Result) Event(at time.Time) telemetry.CaptureEvent {
	ev := telemetry.CaptureEvent{
		Outcome:    r.Outcome.String(),
		Path:       r.Path,
		Fix:        r.Fix,
		PulseNanos: r.Pulse.TimestampNanos,
		Seqno:      r.Pulse.Seqno,
		At:         at,
	}
	if r.Err != nil {
		ev.Error = r.Err.Error()
	}
	return ev
}

// Stats are running counters of the orchestrator.
type Stats struct {
	Pulses   uint64    `json:"pulses"`
	Skipped  uint64    `json:"skipped"`
	Captured uint64    `json:"captured"`
	Failed   uint64    `json:"failed"`
	LastPath string    `json:"last_path,omitempty"`
	LastAt   time.Time `json:"last_at,omitempty"`
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithPublisher sends every Result to p.
func WithPublisher(p telemetry.Publisher) Option {
	return func(o *Orchestrator) { o.pub = p }
}

// WithSidecar writes a YAML record next to every saved image.
func WithSidecar(enabled bool) Option {
	return func(o *Orchestrator) { o.sidecar = enabled }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// Orchestrator binds each pulse to the fix valid at that instant.
// HandlePulse is called from a single goroutine; State and Stats may be read
// from any goroutine.
type Orchestrator struct {
	fixes   FixSource
	cam     camera.Pipeline
	store   Persister
	pub     telemetry.Publisher
	sidecar bool
	now     func() time.Time

	state atomic.Int32

	mu    sync.Mutex
	stats Stats
}

// New returns an orchestrator reading fixes, capturing from cam and
// persisting through store.
func New(fixes FixSource, cam camera.Pipeline, store Persister, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		fixes: fixes,
		cam:   cam,
		store: store,
		pub:   telemetry.Nop{},
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// State reports where the orchestrator is in the current cycle.
func (o *Orchestrator) State() State {
	return State(o.state.Load())
}

func (o *Orchestrator) enter(s State) {
	o.state.Store(int32(s))
}

// Stats returns a copy of the counters.
func (o *Orchestrator) Stats() Stats {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.stats
}

// HandlePulse runs one capture cycle for ev. Per-pulse failures are logged,
// counted and reported in the Result; they never stop the caller.
func (o *Orchestrator) HandlePulse(ctx context.Context, ev pps.Event) Result {
	start := o.now()
	metrics.PulsesTotal.Inc()
	log.Printf("capture: PPS edge detected at %d ns (seq %d)", ev.TimestampNanos, ev.Seqno)

	res := o.cycle(ctx, ev)
	res.Duration = o.now().Sub(start)
	o.enter(Idle)

	o.record(res)
	metrics.CapturesTotal.WithLabelValues(res.Outcome.String()).Inc()
	if res.Outcome == Captured {
		metrics.CaptureDuration.Observe(res.Duration.Seconds())
	}
	o.pub.PublishCapture(res.Event(o.now().UTC()))
	return res
}

func (o *Orchestrator) cycle(ctx context.Context, ev pps.Event) Result {
	res := Result{Pulse: ev}

	// The snapshot taken here is the one written into the image.
	o.enter(CheckFix)
	fix := o.fixes.Load()
	res.Fix = fix
	if !fix.HasFix {
		log.Printf("capture: no GPS fix, skipping pulse")
		res.Outcome = Skipped
		return res
	}

	o.enter(Capturing)
	req, err := o.cam.Capture(ctx)
	if err != nil {
		return o.fail(res, fmt.Errorf("capture: camera: %w", err))
	}
	image := make([]byte, len(req.Buffer))
	copy(image, req.Buffer)
	res.Metadata = req.Metadata
	req.Release()
	if len(image) == 0 {
		return o.fail(res, ErrEmptyFrame)
	}

	o.enter(Persisting)
	path, err := o.store.Persist(image, fix)
	res.Path = path
	if err != nil {
		return o.fail(res, fmt.Errorf("capture: persist: %w", err))
	}
	if o.sidecar {
		if err := writeSidecar(path, res); err != nil {
			log.Printf("capture: sidecar for %s: %v", path, err)
		}
	}
	log.Printf("capture: saved %s", path)
	res.Outcome = Captured
	return res
}

func (o *Orchestrator) fail(res Result, err error) Result {
	log.Printf("capture: failed: %v", err)
	res.Outcome = Failed
	res.Err = err
	return res
}

func (o *Orchestrator) record(res Result) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.stats.Pulses++
	switch res.Outcome {
	case Skipped:
		o.stats.Skipped++
	case Captured:
		o.stats.Captured++
		o.stats.LastPath = res.Path
		o.stats.LastAt = res.Fix.Time
	case Failed:
		o.stats.Failed++
	}
}
