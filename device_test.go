// SPDX-License-Identifier: BSD-2-Clause
// Copyright (C) 2024 Emir Aganovic

package airplay2

import (
	"net"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseDeviceID(t *testing.T) {
	id, err := ParseDeviceID("AA:BB:CC:DD:EE:FF")
	require.NoError(t, err)
	require.Equal(t, uint64(0xAABBCCDDEEFF), id)
}

func TestParseFeatures(t *testing.T) {
	f, err := ParseFeatures("0x445F8A00,0x1C340")
	require.NoError(t, err)
	require.True(t, f.Has(FeatureSupportsAirPlayAudio))
}

func TestParseFeaturesMalformed(t *testing.T) {
	_, err := ParseFeatures("garbage")
	require.Error(t, err)
}

func TestTranslateDeviceDiscardsWithoutAudioSupport(t *testing.T) {
	rec := DiscoveryRecord{
		Name:    "kitchen",
		Address: net.ParseIP("192.168.1.10"),
		Port:    7000,
		TXT: map[string]string{
			"deviceid": "00:11:22:33:44:55",
			"features": "0x00000000,0x00000000",
		},
	}
	d, err := TranslateDevice(rec)
	require.NoError(t, err)
	require.Nil(t, d)
}

func TestTranslateDeviceMissingDeviceID(t *testing.T) {
	rec := DiscoveryRecord{TXT: map[string]string{"features": "0x200,0x0"}}
	_, err := TranslateDevice(rec)
	require.Error(t, err)
}
