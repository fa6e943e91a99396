// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package geotag

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"

	exif "github.com/dsoprea/go-exif/v3"
	exifcommon "github.com/dsoprea/go-exif/v3/common"
	jis "github.com/dsoprea/go-jpeg-image-structure/v2"
)

var (
	// ErrNotJPEG is returned for data that does not start with SOI.
	ErrNotJPEG = errors.New("geotag: not a JPEG stream")
	// ErrNoEXIF is returned by ReadTag when the image carries no GPS block.
	ErrNoEXIF = errors.New("geotag: no Exif GPS block")
)

const gpsIfdPath = "IFD/GPSInfo"

// builder returns IFD0 with a GPS child IFD holding the tag.
func (t Tag) builder(bo binary.ByteOrder) (*exif.IfdBuilder, error) {
	im, err := exifcommon.NewIfdMappingWithStandard()
	if err != nil {
		return nil, fmt.Errorf("geotag: ifd mapping: %w", err)
	}
	root := exif.NewIfdBuilder(im, exif.NewTagIndex(), exifcommon.IfdStandardIfdIdentity, bo)
	gpsIb, err := exif.GetOrCreateIbFromRootIb(root, gpsIfdPath)
	if err != nil {
		return nil, fmt.Errorf("geotag: gps ifd: %w", err)
	}

	fields := []struct {
		name  string
		value interface{}
	}{
		{"GPSVersionID", []byte{2, 2, 0, 0}},
		{"GPSLatitudeRef", string(t.LatRef)},
		{"GPSLatitude", dmsRationals(t.Lat)},
		{"GPSLongitudeRef", string(t.LonRef)},
		{"GPSLongitude", dmsRationals(t.Lon)},
		{"GPSTimeStamp", []exifcommon.Rational{
			{Numerator: t.TimeStamp[0], Denominator: 1},
			{Numerator: t.TimeStamp[1], Denominator: 1},
			{Numerator: t.TimeStamp[2], Denominator: 1},
		}},
		{"GPSDateStamp", t.DateStamp},
	}
	for _, f := range fields {
		if err := gpsIb.AddStandardWithName(f.name, f.value); err != nil {
			return nil, fmt.Errorf("geotag: set %s: %w", f.name, err)
		}
	}
	return root, nil
}

func dmsRationals(d DMS) []exifcommon.Rational {
	return []exifcommon.Rational{
		{Numerator: d.Degrees, Denominator: 1},
		{Numerator: d.Minutes, Denominator: 1},
		{Numerator: d.SecondsHundredths, Denominator: 100},
	}
}

func parseJPEG(b []byte) (*jis.SegmentList, error) {
	if len(b) < 2 || b[0] != 0xFF || b[1] != jis.MARKER_SOI {
		return nil, ErrNotJPEG
	}
	mc, err := jis.NewJpegMediaParser().ParseBytes(b)
	if err != nil {
		return nil, fmt.Errorf("geotag: parse jpeg: %w", err)
	}
	sl, ok := mc.(*jis.SegmentList)
	if !ok {
		return nil, fmt.Errorf("geotag: unexpected media context %T", mc)
	}
	return sl, nil
}

func countExif(sl *jis.SegmentList) int {
	n := 0
	for _, s := range sl.Segments() {
		if s.IsExif() {
			n++
		}
	}
	return n
}

// InsertTag returns jpeg with tag as its only Exif segment, placed right
// after SOI. Image data is left untouched.
func InsertTag(jpeg []byte, tag Tag) ([]byte, error) {
	return insertTag(jpeg, tag, exifcommon.EncodeDefaultByteOrder)
}

func insertTag(jpeg []byte, tag Tag, bo binary.ByteOrder) ([]byte, error) {
	parsed, err := parseJPEG(jpeg)
	if err != nil {
		return nil, err
	}
	kept := make([]*jis.Segment, 0, len(parsed.Segments()))
	for _, s := range parsed.Segments() {
		if !s.IsExif() {
			kept = append(kept, s)
		}
	}
	sl := jis.NewSegmentList(kept)
	ib, err := tag.builder(bo)
	if err != nil {
		return nil, err
	}
	if err := sl.SetExif(ib); err != nil {
		return nil, fmt.Errorf("geotag: set exif: %w", err)
	}
	var out bytes.Buffer
	if err := sl.Write(&out); err != nil {
		return nil, fmt.Errorf("geotag: write jpeg: %w", err)
	}
	return out.Bytes(), nil
}

// ReadTag parses the GPS block of a JPEG. Both TIFF byte orders are
// accepted.
func ReadTag(jpeg []byte) (Tag, error) {
	sl, err := parseJPEG(jpeg)
	if err != nil {
		return Tag{}, err
	}
	if countExif(sl) == 0 {
		return Tag{}, ErrNoEXIF
	}
	root, _, err := sl.Exif()
	if err != nil {
		return Tag{}, fmt.Errorf("geotag: parse exif: %w", err)
	}
	gpsIfd, err := exif.FindIfdFromRootIfd(root, gpsIfdPath)
	if err != nil {
		return Tag{}, fmt.Errorf("%w: %v", ErrNoEXIF, err)
	}

	var t Tag
	if t.LatRef, err = refOf(gpsIfd, "GPSLatitudeRef"); err != nil {
		return Tag{}, err
	}
	if t.Lat, err = dmsOf(gpsIfd, "GPSLatitude"); err != nil {
		return Tag{}, err
	}
	if t.LonRef, err = refOf(gpsIfd, "GPSLongitudeRef"); err != nil {
		return Tag{}, err
	}
	if t.Lon, err = dmsOf(gpsIfd, "GPSLongitude"); err != nil {
		return Tag{}, err
	}
	// Time and date are optional in files written by other tools.
	if r, err := rationalsOf(gpsIfd, "GPSTimeStamp"); err == nil {
		for i := range t.TimeStamp {
			t.TimeStamp[i] = ratio(r[i], 1)
		}
	}
	if v, err := valueOf(gpsIfd, "GPSDateStamp"); err == nil {
		if s, ok := v.(string); ok {
			t.DateStamp = s
		}
	}
	return t, nil
}

func valueOf(ifd *exif.Ifd, name string) (interface{}, error) {
	results, err := ifd.FindTagWithName(name)
	if err != nil {
		return nil, fmt.Errorf("geotag: %s: %w", name, err)
	}
	if len(results) == 0 {
		return nil, fmt.Errorf("geotag: %s missing", name)
	}
	v, err := results[0].Value()
	if err != nil {
		return nil, fmt.Errorf("geotag: %s: %w", name, err)
	}
	return v, nil
}

func refOf(ifd *exif.Ifd, name string) (byte, error) {
	v, err := valueOf(ifd, name)
	if err != nil {
		return 0, err
	}
	s, ok := v.(string)
	if !ok || s == "" {
		return 0, fmt.Errorf("geotag: %s: unexpected value %v", name, v)
	}
	return s[0], nil
}

func rationalsOf(ifd *exif.Ifd, name string) ([]exifcommon.Rational, error) {
	v, err := valueOf(ifd, name)
	if err != nil {
		return nil, err
	}
	r, ok := v.([]exifcommon.Rational)
	if !ok || len(r) != 3 {
		return nil, fmt.Errorf("geotag: %s: unexpected value %v", name, v)
	}
	return r, nil
}

// dmsOf reads a degrees/minutes/seconds triple, rescaling seconds to
// hundredths whatever denominator the writer used.
func dmsOf(ifd *exif.Ifd, name string) (DMS, error) {
	r, err := rationalsOf(ifd, name)
	if err != nil {
		return DMS{}, err
	}
	return DMS{
		Degrees:           ratio(r[0], 1),
		Minutes:           ratio(r[1], 1),
		SecondsHundredths: ratio(r[2], 100),
	}, nil
}

func ratio(r exifcommon.Rational, scale uint64) uint32 {
	if r.Denominator == 0 {
		return 0
	}
	return uint32(uint64(r.Numerator) * scale / uint64(r.Denominator))
}
