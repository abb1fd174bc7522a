// SPDX-License-Identifier: BSD-2-Clause
// Copyright (C) 2024 Emir Aganovic

package rtp

// RingCapacity is the fixed number of retained packets for retransmit
// (spec.md §3, PacketRing).
const RingCapacity = 1000

// Packet is one framed-but-unencrypted RTP audio packet: the 12-byte RTP
// header plus the ALAC payload. Encryption happens at send time (including
// retransmit time) so the ring only ever stores plaintext, matching spec.md
// §3/§4.6: "The ring stores already-framed plaintext; encryption is
// deterministic by construction so retransmits are indistinguishable."
type Packet struct {
	Seq     uint16
	Header  [12]byte
	Payload []byte
}

// Ring is a fixed-capacity retransmit buffer keyed by sequence number modulo
// capacity, with the stored seqnum kept alongside each slot so a stale entry
// (from 1000+ packets ago, after wraparound) is never mistaken for the one
// being looked up. It plays the same "last N" role as the teacher's
// RTPReadStats/RTPWriteStats windows, but keyed for retransmit lookup
// instead of jitter accounting.
type Ring struct {
	slots    [RingCapacity]Packet
	occupied [RingCapacity]bool
}

// NewRing constructs an empty retransmit ring.
func NewRing() *Ring {
	return &Ring{}
}

// Put stores p, keyed by p.Seq mod RingCapacity.
func (r *Ring) Put(p Packet) {
	idx := int(p.Seq) % RingCapacity
	r.slots[idx] = p
	r.occupied[idx] = true
}

// Get returns the packet stored for seq, if the slot at seq%RingCapacity is
// both occupied and still tagged with seq (i.e. it hasn't been overwritten
// by a later packet that wrapped around to the same slot).
func (r *Ring) Get(seq uint16) (Packet, bool) {
	idx := int(seq) % RingCapacity
	if !r.occupied[idx] || r.slots[idx].Seq != seq {
		return Packet{}, false
	}
	return r.slots[idx], true
}
