// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package geotag

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/relabs-tech/pps_camera/internal/gps"
)

// Store writes geotagged captures into a directory.
type Store struct {
	Dir string
}

// Persist writes image as <Dir>/capture_YYYYMMDD_HHMMSS.jpg with the EXIF
// GPS block for fix. The tag is inserted in memory and the file appears only
// once fully written, so a frame that cannot be tagged leaves nothing behind
// and a file from the same UTC second is replaced only by a tagged one.
func (s Store) Persist(image []byte, fix gps.Fix) (string, error) {
	tag, err := FromFix(fix)
	if err != nil {
		return "", err
	}
	tagged, err := InsertTag(image, tag)
	if err != nil {
		return "", err
	}
	dir := s.Dir
	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("geotag: create %s: %w", dir, err)
	}
	path := filepath.Join(dir, FileName(fix.Time))
	if err := writeReplace(path, tagged); err != nil {
		return "", err
	}
	return path, nil
}

// writeReplace writes data to a temporary file next to path and renames it
// over path.
func writeReplace(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("geotag: write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("geotag: replace %s: %w", path, err)
	}
	return nil
}

// ReadFile returns the GPS tag stored in the JPEG at path.
func ReadFile(path string) (Tag, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Tag{}, fmt.Errorf("geotag: read %s: %w", path, err)
	}
	return ReadTag(raw)
}
