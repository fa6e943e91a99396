// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package gps

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	nmea "github.com/adrianmo/go-nmea"

	"github.com/relabs-tech/pps_camera/internal/metrics"
)

var (
	// ErrReadTimeout is returned by a LineReader when no complete line
	// arrived within the transport timeout. The decoder keeps reading.
	ErrReadTimeout = errors.New("gps: read timeout")

	// ErrDecoderStopped is reported by Err once the decoder has terminated
	// without a more specific cause.
	ErrDecoderStopped = errors.New("gps: decoder stopped")
)

// sentencePrefixes are the only lines the decoder looks at. GN is the
// multi-constellation talker used by u-blox 8 and later receivers.
var sentencePrefixes = []string{"$GPRMC", "$GPGGA", "$GNRMC", "$GNGGA"}

// LineReader yields NMEA lines from a transport.
type LineReader interface {
	ReadLine() (string, error)
	io.Closer
}

// OpenFunc opens the transport of the position feed.
type OpenFunc func(port string, baud int, timeout time.Duration) (LineReader, error)

// DecoderConfig names the serial transport of the position feed.
type DecoderConfig struct {
	Port        string
	Baud        int
	ReadTimeout time.Duration
}

// Stats are running counters of the decoder.
type Stats struct {
	Lines     uint64 `json:"lines"`
	Accepted  uint64 `json:"accepted"`
	Malformed uint64 `json:"malformed"`
	Invalid   uint64 `json:"invalid"`
	Ignored   uint64 `json:"ignored"`
}

// Decoder reads the position feed and keeps a FixCell up to date.
type Decoder struct {
	cfg  DecoderConfig
	cell *FixCell
	open OpenFunc
	now  func() time.Time

	onFix func(Fix)

	started atomic.Bool
	done    chan struct{}
	errMu   sync.Mutex
	err     error

	lines, accepted, malformed, invalid, ignored atomic.Uint64
}

// NewDecoder returns a decoder writing into cell. A nil open uses Open.
func NewDecoder(cell *FixCell, open OpenFunc, cfg DecoderConfig) *Decoder {
	if open == nil {
		open = Open
	}
	if cfg.Baud == 0 {
		cfg.Baud = 9600
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = time.Second
	}
	return &Decoder{
		cfg:  cfg,
		cell: cell,
		open: open,
		now:  func() time.Time { return time.Now().UTC() },
		done: make(chan struct{}),
	}
}

// OnFix registers fn to be called after every accepted sentence.
// It must be set before Run and must not block.
func (d *Decoder) OnFix(fn func(Fix)) {
	d.onFix = fn
}

// Alive reports whether the decoder has not yet terminated.
func (d *Decoder) Alive() bool {
	select {
	case <-d.done:
		return false
	default:
		return true
	}
}

// Done is closed when Run returns.
func (d *Decoder) Done() <-chan struct{} {
	return d.done
}

// Err returns why the decoder stopped, or nil while it is running.
func (d *Decoder) Err() error {
	d.errMu.Lock()
	defer d.errMu.Unlock()
	return d.err
}

// Stats returns a copy of the decoder counters.
func (d *Decoder) Stats() Stats {
	return Stats{
		Lines:     d.lines.Load(),
		Accepted:  d.accepted.Load(),
		Malformed: d.malformed.Load(),
		Invalid:   d.invalid.Load(),
		Ignored:   d.ignored.Load(),
	}
}

// Run opens the transport and decodes lines until ctx is canceled or the
// transport fails. On every exit path the fix cell is invalidated, so the
// orchestrator stops producing artifacts once the feed is gone.
func (d *Decoder) Run(ctx context.Context) (err error) {
	if !d.started.CompareAndSwap(false, true) {
		return fmt.Errorf("gps: decoder already started")
	}
	metrics.DecoderRunning.Set(1)
	defer func() {
		d.cell.Invalidate()
		metrics.FixValid.Set(0)
		metrics.DecoderRunning.Set(0)
		if err == nil {
			err = ErrDecoderStopped
		}
		d.errMu.Lock()
		d.err = err
		d.errMu.Unlock()
		close(d.done)
	}()

	log.Printf("gps: decoder started, reading %s at %d baud", d.cfg.Port, d.cfg.Baud)

	r, err := d.open(d.cfg.Port, d.cfg.Baud, d.cfg.ReadTimeout)
	if err != nil {
		log.Printf("gps: FATAL: could not open serial port %s: %v", d.cfg.Port, err)
		log.Println("gps: decoder exiting")
		return fmt.Errorf("gps: open %s: %w", d.cfg.Port, err)
	}

	// Closing the port is the only way to interrupt a blocked read.
	var closeOnce sync.Once
	closePort := func() { closeOnce.Do(func() { _ = r.Close() }) }
	defer closePort()
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			closePort()
		case <-stop:
		}
	}()

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		line, err := r.ReadLine()
		if err != nil {
			if errors.Is(err, ErrReadTimeout) {
				continue
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			log.Printf("gps: FATAL: serial read failed on %s: %v", d.cfg.Port, err)
			log.Println("gps: decoder exiting")
			return fmt.Errorf("gps: read %s: %w", d.cfg.Port, err)
		}
		d.Apply(line)
	}
}

// Apply decodes one line and, if it is a valid RMC or GGA sentence, publishes
// the updated fix. It reports whether the fix cell changed.
func (d *Decoder) Apply(line string) bool {
	d.lines.Add(1)
	line = strings.TrimSpace(line)
	if !recognised(line) {
		d.ignored.Add(1)
		metrics.NMEASentencesTotal.WithLabelValues("ignored").Inc()
		return false
	}

	sentence, err := nmea.Parse(line)
	if err != nil {
		// noisy receivers emit partial sentences; drop them quietly
		d.malformed.Add(1)
		metrics.NMEASentencesTotal.WithLabelValues("malformed").Inc()
		return false
	}

	next, ok := applySentence(d.cell.Load(), sentence)
	if !ok {
		d.invalid.Add(1)
		metrics.NMEASentencesTotal.WithLabelValues("invalid").Inc()
		return false
	}
	next.UpdatedAt = d.now()
	if !d.cell.Store(next) {
		return false
	}

	d.accepted.Add(1)
	metrics.NMEASentencesTotal.WithLabelValues("accepted").Inc()
	if next.HasFix {
		metrics.FixValid.Set(1)
	}
	if d.onFix != nil {
		d.onFix(next)
	}
	return true
}

func recognised(line string) bool {
	for _, p := range sentencePrefixes {
		if strings.HasPrefix(line, p) {
			return true
		}
	}
	return false
}

// applySentence returns cur updated with a validated sentence.
// RMC carries date, time and position; GGA only position.
func applySentence(cur Fix, s nmea.Sentence) (Fix, bool) {
	next := cur
	switch m := s.(type) {
	case nmea.RMC:
		if m.Validity != nmea.ValidRMC {
			return cur, false
		}
		if t, ok := rmcTime(m); ok {
			next.Time = t
			next.HasTime = true
		}
		next.Latitude = m.Latitude
		next.Longitude = m.Longitude
		next.HasPosition = true
		next.Sentence = nmea.TypeRMC
	case nmea.GGA:
		if !validQuality(m.FixQuality) {
			return cur, false
		}
		next.Latitude = m.Latitude
		next.Longitude = m.Longitude
		next.HasPosition = true
		next.Sentence = nmea.TypeGGA
	default:
		return cur, false
	}
	next.HasFix = next.Complete()
	return next, true
}

func validQuality(q string) bool {
	switch q {
	case nmea.GPS, nmea.DGPS, nmea.PPS, nmea.RTK, nmea.FRTK:
		return true
	}
	return false
}

func rmcTime(m nmea.RMC) (time.Time, bool) {
	if !m.Date.Valid || !m.Time.Valid {
		return time.Time{}, false
	}
	return time.Date(
		2000+m.Date.YY, time.Month(m.Date.MM), m.Date.DD,
		m.Time.Hour, m.Time.Minute, m.Time.Second,
		m.Time.Millisecond*int(time.Millisecond),
		time.UTC,
	), true
}
