// SPDX-License-Identifier: BSD-2-Clause
// Copyright (C) 2024 Emir Aganovic

package airplay2

import (
	"fmt"
	"time"

	"github.com/kavlab/airplay2/rtp"
)

// Delay constants from spec.md §4.9: the display position leads the
// computed start position by one packet-buffer's worth on a plain item
// start, or two on a switch between items.
const (
	delaySamplesStartup = 15360
	delaySamplesSwitch  = 30720
)

// Metadata is one piece of playback-synchronized metadata the player hands
// to metadata_send (spec.md §4.8/§4.9/§6).
type Metadata struct {
	// PTS is the player-thread monotonic timestamp this metadata was
	// captured at.
	PTS time.Time
	// PosMS and LenMS are the track position and length in milliseconds;
	// LenMS == 0 means "unknown length".
	PosMS int64
	LenMS int64
	// Startup is true on item start, false when switching between already
	// playing items (spec.md §4.9 display delay).
	Startup bool

	// Text and Artwork bodies are produced externally (spec.md §1); a nil
	// slice means "don't send this SET_PARAMETER". The progress body is
	// computed from PTS/PosMS/LenMS and is sent on every MetadataSend.
	Text            []byte
	ArtworkContentType string
	Artwork         []byte
}

// timestampAlgebra computes (display, pos, end) sample positions for a
// progress report, per spec.md §4.9. All arithmetic is signed 64-bit to
// avoid wrap surprises before any cast back to a 32-bit RTP timestamp.
func timestampAlgebra(cur rtp.Stamp, md Metadata, sampleRate int64) (display, pos, end int64) {
	diffMS := cur.Time.Sub(md.PTS).Milliseconds()
	elapsedMS := md.PosMS + diffMS
	elapsedSamples := elapsedMS * sampleRate / 1000

	start := cur.Pos - elapsedSamples

	delay := int64(delaySamplesStartup)
	if !md.Startup {
		delay = delaySamplesSwitch
	}
	display = start - delay

	pos = cur.Pos
	if start > pos {
		pos = start
	}

	end = pos
	if md.LenMS != 0 {
		lenSamples := md.LenMS * sampleRate / 1000
		end = start + lenSamples
	}

	return display, pos, end
}

// ProgressParameterBody renders the "progress: D/P/E\r\n" SET_PARAMETER
// body (spec.md §4.8, §4.9, and the exact format of §8 property 7).
func ProgressParameterBody(cur rtp.Stamp, md Metadata, sampleRate int) string {
	display, pos, end := timestampAlgebra(cur, md, int64(sampleRate))
	return fmt.Sprintf("progress: %d/%d/%d\r\n", display, pos, end)
}
