// SPDX-License-Identifier: BSD-2-Clause
// Copyright (C) 2024 Emir Aganovic

package rtp

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRingGetMiss(t *testing.T) {
	r := NewRing()
	_, ok := r.Get(42)
	require.False(t, ok)
}

func TestRingPutGet(t *testing.T) {
	r := NewRing()
	r.Put(Packet{Seq: 5, Payload: []byte("hello")})

	got, ok := r.Get(5)
	require.True(t, ok)
	require.Equal(t, []byte("hello"), got.Payload)
}

func TestRingWraparoundStaleEntry(t *testing.T) {
	r := NewRing()
	r.Put(Packet{Seq: 7})
	r.Put(Packet{Seq: 7 + RingCapacity})

	_, ok := r.Get(7)
	require.False(t, ok, "overwritten slot must not return the stale sequence number's packet")

	got, ok := r.Get(7 + RingCapacity)
	require.True(t, ok)
	require.Equal(t, uint16(7+RingCapacity), got.Seq)
}
