// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package geotag builds the EXIF GPS block of a capture and writes
// geotagged JPEG files.
package geotag

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/relabs-tech/pps_camera/internal/gps"
)

// ErrIncompleteFix is returned when a fix lacks time or position.
var ErrIncompleteFix = errors.New("geotag: fix has no valid time and position")

// DMS is a coordinate magnitude in degrees, minutes and hundredths of an
// arc second, the fixed-point form stored in EXIF rationals.
type DMS struct {
	Degrees           uint32 `json:"degrees"`
	Minutes           uint32 `json:"minutes"`
	SecondsHundredths uint32 `json:"seconds_hundredths"`
}

// Decimal converts back to unsigned decimal degrees.
func (d DMS) Decimal() float64 {
	return float64(d.Degrees) + float64(d.Minutes)/60 + float64(d.SecondsHundredths)/360000
}

// EncodeCoordinate converts decimal degrees to degrees, minutes and seconds
// scaled by 100. Degrees and minutes are truncated; seconds are multiplied
// by 100 and truncated. The sign is dropped; it lives in the reference
// character.
func EncodeCoordinate(decimalDegrees float64) (deg, min, secHundredths uint32) {
	d := math.Abs(decimalDegrees)
	fd := math.Trunc(d)
	fm := math.Trunc((d - fd) * 60)
	s := (d - fd - fm/60) * 3600
	hs := math.Trunc(s * 100)
	switch {
	case hs < 0:
		hs = 0
	case hs > 5999:
		hs = 5999
	}
	return uint32(fd), uint32(fm), uint32(hs)
}

// LatitudeRef is 'N' for latitudes above zero and 'S' otherwise, so the
// equator itself is tagged 'S'.
func LatitudeRef(lat float64) byte {
	if lat > 0 {
		return 'N'
	}
	return 'S'
}

// LongitudeRef is 'E' for longitudes above zero and 'W' otherwise, so the
// prime meridian itself is tagged 'W'.
func LongitudeRef(lon float64) byte {
	if lon > 0 {
		return 'E'
	}
	return 'W'
}

// Tag is the geotag block of one capture.
type Tag struct {
	LatRef    byte      `json:"lat_ref"`
	Lat       DMS       `json:"lat"`
	LonRef    byte      `json:"lon_ref"`
	Lon       DMS       `json:"lon"`
	DateStamp string    `json:"date_stamp"` // YYYY:MM:DD
	TimeStamp [3]uint32 `json:"time_stamp"` // hour, minute, second (UTC)
}

// FromFix builds the tag for a complete fix.
func FromFix(f gps.Fix) (Tag, error) {
	if !f.HasFix || !f.Complete() {
		return Tag{}, ErrIncompleteFix
	}
	t := f.Time.UTC()
	var tag Tag
	tag.LatRef = LatitudeRef(f.Latitude)
	tag.Lat.Degrees, tag.Lat.Minutes, tag.Lat.SecondsHundredths = EncodeCoordinate(f.Latitude)
	tag.LonRef = LongitudeRef(f.Longitude)
	tag.Lon.Degrees, tag.Lon.Minutes, tag.Lon.SecondsHundredths = EncodeCoordinate(f.Longitude)
	tag.DateStamp = t.Format("2006:01:02")
	tag.TimeStamp = [3]uint32{uint32(t.Hour()), uint32(t.Minute()), uint32(t.Second())}
	return tag, nil
}

// Latitude returns the signed decimal latitude.
func (t Tag) Latitude() float64 {
	if t.LatRef == 'S' {
		return -t.Lat.Decimal()
	}
	return t.Lat.Decimal()
}

// Longitude returns the signed decimal longitude.
func (t Tag) Longitude() float64 {
	if t.LonRef == 'W' {
		return -t.Lon.Decimal()
	}
	return t.Lon.Decimal()
}

func (t Tag) String() string {
	return fmt.Sprintf("%d°%02d'%05.2f\"%c %d°%02d'%05.2f\"%c %s %02d:%02d:%02d",
		t.Lat.Degrees, t.Lat.Minutes, float64(t.Lat.SecondsHundredths)/100, t.LatRef,
		t.Lon.Degrees, t.Lon.Minutes, float64(t.Lon.SecondsHundredths)/100, t.LonRef,
		t.DateStamp, t.TimeStamp[0], t.TimeStamp[1], t.TimeStamp[2])
}

// FileName is the capture file name for a fix timestamp. Names are unique
// per UTC second only.
func FileName(ts time.Time) string {
	return "capture_" + ts.UTC().Format("20060102_150405") + ".jpg"
}
