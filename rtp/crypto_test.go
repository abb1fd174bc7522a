// SPDX-License-Identifier: BSD-2-Clause
// Copyright (C) 2024 Emir Aganovic

package rtp

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEncryptDecryptRoundTrip(t *testing.T) {
	key := make([]byte, 32)
	for i := range key {
		key[i] = byte(i)
	}
	enc, err := NewEncryptor(key)
	require.NoError(t, err)

	header := make([]byte, 12)
	for i := range header {
		header[i] = byte(i + 1)
	}
	payload := []byte("some alac framed audio payload")

	wire, err := enc.EncryptPacket(header, payload, 42)
	require.NoError(t, err)

	got, err := enc.DecryptPacket(header, wire)
	require.NoError(t, err)
	require.Equal(t, payload, got)
}

func TestEncryptPacketDeterministicForRetransmit(t *testing.T) {
	key := make([]byte, 32)
	enc, err := NewEncryptor(key)
	require.NoError(t, err)

	header := make([]byte, 12)
	payload := []byte("payload")

	first, err := enc.EncryptPacket(header, payload, 7)
	require.NoError(t, err)
	second, err := enc.EncryptPacket(header, payload, 7)
	require.NoError(t, err)

	require.Equal(t, first, second, "retransmitting the same packet must re-encrypt to identical bytes")
}

func TestNewEncryptorRejectsBadKeySize(t *testing.T) {
	_, err := NewEncryptor(make([]byte, 16))
	require.Error(t, err)
}
