// SPDX-License-Identifier: BSD-2-Clause
// Copyright (C) 2024 Emir Aganovic

package rtp

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSequencerAdvance(t *testing.T) {
	s := NewSequencer(65534, 1000)

	seq, pos := s.Advance(352)
	require.Equal(t, uint16(65534), seq)
	require.Equal(t, int64(1000), pos)
	require.Equal(t, uint16(65535), s.Seq())
	require.Equal(t, int64(1352), s.Pos())

	seq, pos = s.Advance(352)
	require.Equal(t, uint16(65535), seq)
	require.Equal(t, int64(1352), pos)
	require.Equal(t, uint16(0), s.Seq(), "sequence number must wrap modulo 2^16")
}

func TestSequencerSyncDue(t *testing.T) {
	s := NewSequencer(0, 0)
	dueCount := 0
	for i := 0; i < SyncInterval*3; i++ {
		s.Advance(SamplesPerPacket)
		if s.SyncDue() {
			dueCount++
		}
	}
	require.Equal(t, 3, dueCount)
}
