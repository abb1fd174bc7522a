// SPDX-License-Identifier: BSD-2-Clause
// Copyright (C) 2024 Emir Aganovic

package rtp

import (
	"encoding/binary"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
)

// TagLen is the ChaCha20-Poly1305 authentication tag length.
const TagLen = chacha20poly1305.Overhead // 16

// NonceSuffixLen is how many bytes of the 12-byte nonce are appended to the
// wire packet so the receiver can reconstruct it (spec.md §4.5).
const NonceSuffixLen = 8

// Encryptor performs per-packet ChaCha20-Poly1305 AEAD encryption for one
// direction of one Session's RTP stream. The key is frozen once pairing
// derives the shared secret (spec.md §4.1 "Encryption transition"); there is
// no shared mutable state across packets beyond that key, so one Encryptor
// is safe to share across goroutines sending on behalf of the same session.
type Encryptor struct {
	aead interface {
		Seal(dst, nonce, plaintext, additionalData []byte) []byte
		Open(dst, nonce, ciphertext, additionalData []byte) ([]byte, error)
	}
}

// NewEncryptor builds an Encryptor from a 32-byte key.
func NewEncryptor(key []byte) (*Encryptor, error) {
	if len(key) != chacha20poly1305.KeySize {
		return nil, fmt.Errorf("airplay2/rtp: chacha20poly1305 key must be %d bytes, got %d", chacha20poly1305.KeySize, len(key))
	}
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, fmt.Errorf("airplay2/rtp: create aead: %w", err)
	}
	return &Encryptor{aead: aead}, nil
}

// nonce builds the deterministic 12-byte nonce for an RTP packet whose
// sequence number is seq: four zero bytes, then the seqnum stored
// little-endian, padded with zeros to fill the remaining 6 bytes.
func nonce(seq uint16) [chacha20poly1305.NonceSize]byte {
	var n [chacha20poly1305.NonceSize]byte
	binary.LittleEndian.PutUint16(n[4:6], seq)
	return n
}

// EncryptPacket encrypts an RTP payload into a newly allocated slice; payload
// itself is not modified.
//
// header is the 12-byte RTP header already written for this packet (used
// only to read, never copied into the output — the header stays cleartext
// on the wire ahead of what this returns). payload is the ALAC bytes.
//
// Returns ciphertext || 16-byte tag || 8-byte nonce suffix, the exact bytes
// that follow the cleartext RTP header on the wire (spec.md §4.5). Because
// the nonce is a pure function of seq, encrypting the same (header, seq,
// payload) twice (a retransmit) yields byte-identical output — spec.md §8
// property 2.
func (e *Encryptor) EncryptPacket(header []byte, payload []byte, seq uint16) ([]byte, error) {
	if len(header) < 12 {
		return nil, fmt.Errorf("airplay2/rtp: short rtp header (%d bytes)", len(header))
	}
	n := nonce(seq)
	ad := header[4:12]

	out := e.aead.Seal(nil, n[:], payload, ad)
	out = append(out, n[4:]...)
	return out, nil
}

// DecryptPacket is the receive-side inverse, used by tests and by any
// collaborator (e.g. a future AirPlay receiver) that needs to validate what
// was sent. wire is ciphertext||tag||nonce-suffix as produced above.
func (e *Encryptor) DecryptPacket(header []byte, wire []byte) ([]byte, error) {
	if len(wire) < NonceSuffixLen {
		return nil, fmt.Errorf("airplay2/rtp: short encrypted payload")
	}
	suffix := wire[len(wire)-NonceSuffixLen:]
	ciphertext := wire[:len(wire)-NonceSuffixLen]

	var n [chacha20poly1305.NonceSize]byte
	copy(n[4:], suffix)

	ad := header[4:12]
	return e.aead.Open(nil, n[:], ciphertext, ad)
}
