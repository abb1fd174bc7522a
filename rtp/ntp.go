// SPDX-License-Identifier: BSD-2-Clause
// Copyright (C) 2024 Emir Aganovic

// Package rtp implements the audio transport: ALAC packetization, the RTP
// sequence/retransmit ring, per-packet ChaCha20-Poly1305 encryption, and the
// timing/control UDP services. It mirrors the role the teacher's `media`
// package plays for diago's SIP dialogs, adapted to AirPlay's NTP-style
// synchronization instead of RTCP sender/receiver reports.
package rtp

import "time"

// ntpEpochOffset is the number of seconds between the NTP epoch (1900-01-01)
// and the Unix epoch (1970-01-01).
const ntpEpochOffset = 2208988800

// Stamp is a wall-clock anchor: "at wall time Time, RTP sample position Pos
// is being played" (spec.md §3, MasterSession.cur_stamp).
type Stamp struct {
	Time time.Time
	Pos  int64
}

// Now is the monotonic clock source used throughout the package. It is a var
// so tests can substitute a deterministic clock, the way the teacher makes
// package-level tunables (RTPPortStart, RTPBufSize) overridable.
var Now = time.Now

// TimespecToNTP converts a monotonic timestamp into a 64-bit NTP timestamp:
// the upper 32 bits are seconds since the NTP epoch, the lower 32 bits are
// the fractional second, computed with integer arithmetic (not the teacher's
// float64 version) so that NTPToTimespec is a round trip within 1ns as
// required by spec.md §8 property 6.
func TimespecToNTP(t time.Time) uint64 {
	sec := uint64(t.Unix() + ntpEpochOffset)
	frac := uint64(t.Nanosecond()) << 32 / 1_000_000_000
	return sec<<32 | frac
}

// NTPToTimespec is the inverse of TimespecToNTP.
func NTPToTimespec(ntp uint64) time.Time {
	sec := int64(ntp>>32) - ntpEpochOffset
	frac := ntp & 0xffffffff
	nsec := frac * 1_000_000_000 >> 32
	return time.Unix(sec, int64(nsec))
}

// CurrentNTP is a convenience wrapping TimespecToNTP(Now()), used by the
// timing service (spec.md §4.7) to stamp the receive/transmit NTP fields.
func CurrentNTP() uint64 {
	return TimespecToNTP(Now())
}
