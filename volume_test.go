// SPDX-License-Identifier: BSD-2-Clause
// Copyright (C) 2024 Emir Aganovic

package airplay2

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPercentToDBMute(t *testing.T) {
	require.Equal(t, MuteDB, PercentToDB(0, 11))
	require.Equal(t, MuteDB, PercentToDB(-5, 11))
}

func TestPercentToDBFullScale(t *testing.T) {
	require.InDelta(t, 0.0, PercentToDB(100, 11), 0.001)
}

func TestVolumeRoundTrip(t *testing.T) {
	for _, maxVolume := range []int{1, 5, 11} {
		for pct := 1; pct <= 100; pct++ {
			db := PercentToDB(pct, maxVolume)
			back := DBToPercent(db, maxVolume)
			require.InDelta(t, pct, back, 1, "maxVolume=%d pct=%d db=%f", maxVolume, pct, db)
		}
	}
}

func TestClampMaxVolume(t *testing.T) {
	v, clamped := ClampMaxVolume(0)
	require.True(t, clamped)
	require.Equal(t, MaxMaxVolume, v)

	v, clamped = ClampMaxVolume(12)
	require.True(t, clamped)
	require.Equal(t, MaxMaxVolume, v)

	v, clamped = ClampMaxVolume(5)
	require.False(t, clamped)
	require.Equal(t, 5, v)
}

func TestFormatDBNegative(t *testing.T) {
	require.Equal(t, "-30.000000", FormatDB(-30))
	require.Equal(t, "0.000000", FormatDB(0))
}

func TestVolumeParameterBody(t *testing.T) {
	require.Equal(t, "volume: -30.000000\r\n", VolumeParameterBody(-30))
}
