// SPDX-License-Identifier: BSD-2-Clause
// Copyright (C) 2024 Emir Aganovic

package airplay2

import "fmt"

// MinMaxVolume and MaxMaxVolume bound the per-device max_volume config knob
// (spec.md §4.11): outside this range the value is clamped to the maximum
// (PercentToDB logs a warning when it does so), rather than rejected
// outright (SPEC_FULL.md §5
// supplemented behavior, following original_source's airplay_set_volume_one
// which warns and clamps instead of failing device_start).
const (
	MinMaxVolume = 1
	MaxMaxVolume = 11

	// MuteDB is what percent 0 always maps to, regardless of max_volume.
	MuteDB = -144.0
)

// ClampMaxVolume enforces MinMaxVolume..MaxMaxVolume, returning the clamped
// value and whether clamping happened (so the caller can log a warning with
// the device name attached).
func ClampMaxVolume(v int) (clamped int, wasClamped bool) {
	if v < MinMaxVolume || v > MaxMaxVolume {
		return MaxMaxVolume, true
	}
	return v, false
}

// PercentToDB converts a 0-100 volume percent to the dB value this device
// should be told to use, per spec.md §4.11: 0 is always mute; 1..100 maps
// onto [-30, 0] scaled by maxVolume.
func PercentToDB(pct int, maxVolume int) float64 {
	if pct <= 0 {
		return MuteDB
	}
	if pct > 100 {
		pct = 100
	}
	maxVolume, wasClamped := ClampMaxVolume(maxVolume)
	if wasClamped {
		log.Warn().Int("max_volume", maxVolume).Msg("airplay2: max_volume outside 1..11, clamped")
	}
	return -30 + float64(maxVolume)*float64(pct)*30/(100*11)
}

// DBToPercent is the inverse of PercentToDB, used to translate a
// device-reported dB value back into the percent the player displays
// (spec.md §4.11). dB values outside (-30, 0] map to 0, matching the
// source's handling of an out-of-range report as "effectively muted".
func DBToPercent(db float64, maxVolume int) int {
	if db <= -30 || db > 0 {
		return 0
	}
	maxVolume, _ = ClampMaxVolume(maxVolume)

	// Inverse of dB = -30 + maxVolume*pct*30/(100*11):
	// pct = (dB + 30) * 100 * 11 / (maxVolume * 30)
	pct := (db + 30) * (100 * 11) / (float64(maxVolume) * 30)
	rounded := int(pct + 0.5)
	if rounded < 0 {
		return 0
	}
	if rounded > 100 {
		return 100
	}
	return rounded
}

// FormatDB renders a dB value the way SET_PARAMETER volume bodies require:
// locale-independent, sign/integer/fraction split by hand so "-0.3" is
// never emitted as "0.3" or using a comma decimal separator under a
// non-English locale (spec.md §4.8).
func FormatDB(db float64) string {
	sign := ""
	if db < 0 {
		sign = "-"
		db = -db
	}
	whole := int64(db)
	frac := int64((db-float64(whole))*1e6 + 0.5)
	if frac >= 1_000_000 {
		whole++
		frac -= 1_000_000
	}
	return fmt.Sprintf("%s%d.%06d", sign, whole, frac)
}

// VolumeParameterBody renders the full SET_PARAMETER body for a volume
// update (spec.md §4.8): "volume: <dB>\r\n".
func VolumeParameterBody(db float64) string {
	return fmt.Sprintf("volume: %s\r\n", FormatDB(db))
}
