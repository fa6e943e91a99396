// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package gps

import (
	"fmt"
	"math"
	"os"
	"sync"
	"time"
)

// SimulatedPort is the GPS_SERIAL_PORT value that selects the built-in
// NMEA generator instead of a serial device.
const SimulatedPort = "sim"

// Open opens the serial port, or the NMEA generator for SimulatedPort.
func Open(port string, baud int, timeout time.Duration) (LineReader, error) {
	if port == SimulatedPort {
		return NewSimulatedFeed(51.5, -0.12, 3, 90), nil
	}
	return OpenSerial(port, baud, timeout)
}

const (
	metersPerDegree = 111320.0
	knotsToMPS      = 0.514444
)

// SimulatedFeed emits one RMC and one GGA sentence at the start of every
// UTC second for a receiver moving at a constant speed and course.
type SimulatedFeed struct {
	mu         sync.Mutex
	lat, lon   float64
	speedKnots float64
	course     float64
	last       time.Time
	pending    []string

	now    func() time.Time
	after  func(time.Duration) <-chan time.Time
	closed chan struct{}
	once   sync.Once
}

// NewSimulatedFeed starts a track at lat/lon.
func NewSimulatedFeed(lat, lon, speedKnots, course float64) *SimulatedFeed {
	return &SimulatedFeed{
		lat:        lat,
		lon:        lon,
		speedKnots: speedKnots,
		course:     course,
		now:        func() time.Time { return time.Now().UTC() },
		after:      time.After,
		closed:     make(chan struct{}),
	}
}

func (s *SimulatedFeed) ReadLine() (string, error) {
	s.mu.Lock()
	if len(s.pending) > 0 {
		l := s.pending[0]
		s.pending = s.pending[1:]
		s.mu.Unlock()
		return l, nil
	}
	first := s.last.IsZero()
	s.mu.Unlock()

	now := s.now()
	if !first {
		next := now.Truncate(time.Second).Add(time.Second)
		select {
		case <-s.closed:
			return "", os.ErrClosed
		case <-s.after(next.Sub(now)):
		}
		now = next
	}
	select {
	case <-s.closed:
		return "", os.ErrClosed
	default:
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.advance(now)
	t := now.Truncate(time.Second)
	s.pending = []string{
		FormatGGA(t, s.lat, s.lon),
	}
	return FormatRMC(t, s.lat, s.lon, s.speedKnots, s.course), nil
}

func (s *SimulatedFeed) advance(now time.Time) {
	if !s.last.IsZero() {
		d := now.Sub(s.last).Seconds() * s.speedKnots * knotsToMPS
		rad := s.course * math.Pi / 180
		s.lat += d * math.Cos(rad) / metersPerDegree
		s.lon += d * math.Sin(rad) / (metersPerDegree * math.Cos(s.lat*math.Pi/180))
	}
	s.last = now
}

func (s *SimulatedFeed) Close() error {
	s.once.Do(func() { close(s.closed) })
	return nil
}

// FormatRMC builds a valid $GPRMC sentence, checksum included.
func FormatRMC(t time.Time, lat, lon, speedKnots, course float64) string {
	t = t.UTC()
	la, ns := nmeaCoord(lat, 2, 'N', 'S')
	lo, ew := nmeaCoord(lon, 3, 'E', 'W')
	return withChecksum(fmt.Sprintf("GPRMC,%s,A,%s,%c,%s,%c,%.1f,%05.1f,%s,000.0,E",
		t.Format("150405.00"), la, ns, lo, ew, speedKnots, course, t.Format("020106")))
}

// FormatGGA builds a $GPGGA sentence with GPS quality and eight satellites.
func FormatGGA(t time.Time, lat, lon float64) string {
	la, ns := nmeaCoord(lat, 2, 'N', 'S')
	lo, ew := nmeaCoord(lon, 3, 'E', 'W')
	return withChecksum(fmt.Sprintf("GPGGA,%s,%s,%c,%s,%c,1,08,0.9,45.0,M,46.9,M,,",
		t.UTC().Format("150405.00"), la, ns, lo, ew))
}

// nmeaCoord renders |v| as (d)ddmm.mmmm.
func nmeaCoord(v float64, degDigits int, pos, neg byte) (string, byte) {
	ref := pos
	if v < 0 {
		ref = neg
		v = -v
	}
	deg := math.Floor(v)
	mins := (v - deg) * 60
	return fmt.Sprintf("%0*d%07.4f", degDigits, int(deg), mins), ref
}

func withChecksum(payload string) string {
	var ck byte
	for i := 0; i < len(payload); i++ {
		ck ^= payload[i]
	}
	return fmt.Sprintf("$%s*%02X", payload, ck)
}
