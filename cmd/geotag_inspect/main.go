// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// geotag_inspect prints the GPS block, and the sidecar when one exists, of
// capture files.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/relabs-tech/pps_camera/internal/capture"
	"github.com/relabs-tech/pps_camera/internal/geotag"
)

func main() {
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "usage: %s capture_YYYYMMDD_HHMMSS.jpg...\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()
	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}

	failed := false
	for _, path := range flag.Args() {
		tag, err := geotag.ReadFile(path)
		if err != nil {
			log.Printf("%s: %v", path, err)
			failed = true
			continue
		}
		fmt.Printf("%s: %s (%.6f, %.6f)\n", path, tag, tag.Latitude(), tag.Longitude())

		if s, err := capture.ReadSidecar(path); err == nil {
			fmt.Printf("  pulse seq=%d t=%dns  sensor=%s frame %d %dx%d\n",
				s.Pulse.Seqno, s.Pulse.TimestampNanos,
				s.Sensor.Backend, s.Sensor.FrameSeq, s.Sensor.Width, s.Sensor.Height)
		}
	}
	if failed {
		os.Exit(1)
	}
}
