// SPDX-License-Identifier: BSD-2-Clause
// Copyright (C) 2024 Emir Aganovic

package rtp

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEncodeALACDeterministic(t *testing.T) {
	samples := make([]byte, SamplesPerPacket*BytesPerSample)
	for i := range samples {
		samples[i] = byte(i * 7)
	}

	dst1 := make([]byte, EncodedLen(len(samples)))
	dst2 := make([]byte, EncodedLen(len(samples)))

	n1 := EncodeALAC(dst1, samples)
	n2 := EncodeALAC(dst2, samples)

	require.Equal(t, n1, n2)
	require.Equal(t, dst1[:n1], dst2[:n2])
}

func TestEncodeALACHeaderBits(t *testing.T) {
	samples := make([]byte, BytesPerSample)
	dst := make([]byte, EncodedLen(len(samples)))

	EncodeALAC(dst, samples)

	// channel=1 (stereo) occupies the top 3 bits of byte 0: 0b001xxxxx.
	require.Equal(t, byte(1), dst[0]>>5)
}

func TestEncodedLen(t *testing.T) {
	require.Equal(t, ALACHeaderLen+100, EncodedLen(100))
}
