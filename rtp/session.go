// SPDX-License-Identifier: BSD-2-Clause
// Copyright (C) 2024 Emir Aganovic

package rtp

import (
	"encoding/binary"
	"fmt"
	"math/rand"

	pionrtp "github.com/pion/rtp"
)

// SamplesPerPacket is the fixed ALAC frame size used by this core (spec.md
// §3).
const SamplesPerPacket = 352

// BytesPerSample is 16-bit stereo: 2 channels * 2 bytes.
const BytesPerSample = 4

// AudioPayloadType is the RTP payload type carried by every audio packet
// (spec.md §4.2).
const AudioPayloadType = 0x60

// Session is the per-MasterSession RTP state: sequence/timestamp cursor,
// SSRC, and the retransmit ring. It is the audio-side counterpart of the
// teacher's RTPSession (media/rtp_session.go), minus RTCP bookkeeping —
// AirPlay's sync/timing packets (§4.3, §4.7) replace sender/receiver
// reports entirely, so there is no RTCP reader/writer goroutine pair here.
type Session struct {
	SSRC uint32
	Seq  *Sequencer
	Ring *Ring
}

// NewSession creates an RTP session with a random initial sequence number
// and timestamp, matching forked-daapd's rtp_session_new and the teacher's
// NewRTPSequencer: starting from zero would let a restarted stream collide
// on sequence numbers a device associates with the prior stream.
func NewSession() *Session {
	return &Session{
		SSRC: rand.Uint32(),
		Seq:  NewSequencer(uint16(rand.Uint32()), int64(rand.Uint32())),
		Ring: NewRing(),
	}
}

// BuildAudioHeader marshals the 12-byte cleartext RTP header for the next
// audio packet (without advancing the sequencer — call CommitAudioPacket to
// do that once the payload is encoded and ready to store in the ring).
func (s *Session) BuildAudioHeader(marker bool) (header [12]byte, seq uint16, pos int64) {
	seq, pos = s.Seq.Seq(), s.Seq.Pos()
	h := pionrtp.Header{
		Version:        2,
		Marker:         marker,
		PayloadType:    AudioPayloadType,
		SequenceNumber: seq,
		Timestamp:      uint32(pos),
		SSRC:           s.SSRC,
	}
	n, err := h.MarshalTo(header[:])
	if err != nil || n != 12 {
		// Header has no extensions/CSRC, so this can only happen on a
		// programmer error (buffer too small) — a FATAL_BUG per spec.md §3.
		panic(fmt.Sprintf("airplay2/rtp: unexpected rtp header marshal: n=%d err=%v", n, err))
	}
	return header, seq, pos
}

// CommitAudioPacket advances the sequencer by SamplesPerPacket and stores
// the plaintext packet (header+payload) into the retransmit ring. Returns
// whether an ongoing sync packet is due after this packet (spec.md §4.3).
func (s *Session) CommitAudioPacket(header [12]byte, payload []byte) (syncDue bool) {
	seq, _ := s.Seq.Advance(SamplesPerPacket)
	s.Ring.Put(Packet{Seq: seq, Header: header, Payload: payload})
	return s.Seq.SyncDue()
}

// SyncPacketFlagInitial and SyncPacketFlagOngoing are the two sync-packet
// flag bytes from spec.md §4.3.
const (
	SyncPacketFlagInitial = 0x90
	SyncPacketFlagOngoing = 0x80
)

// syncPacketMarker is a fixed constant placed in byte 1 of every sync
// packet. Its exact value is not pinned by spec.md (only the flags byte and
// payload layout are); original_source's rtp_sync_packet_next() was not one
// of the kept files, so this follows the publicly documented AirPlay time
// announce packet shape (type 0xd4).
const syncPacketMarker = 0xd4

// SyncPacketLen is the fixed wire size of a sync packet (spec.md §6: "20
// byte RTP-like header + NTP-style fields").
const SyncPacketLen = 20

// BuildSyncPacket renders a sync packet for the given flags byte
// (SyncPacketFlagInitial or SyncPacketFlagOngoing), current wall-clock
// anchor stamp, and output-buffer lead in samples (spec.md §4.2/§4.3/§6).
func (s *Session) BuildSyncPacket(flags byte, stamp Stamp, outputBufferSamples int64) [SyncPacketLen]byte {
	var pkt [SyncPacketLen]byte
	pkt[0] = flags
	pkt[1] = syncPacketMarker
	// bytes 2-3 reserved, left zero

	currentPos := uint32(stamp.Pos - outputBufferSamples)
	binary.BigEndian.PutUint32(pkt[4:8], currentPos)
	binary.BigEndian.PutUint64(pkt[8:16], TimespecToNTP(stamp.Time))
	binary.BigEndian.PutUint32(pkt[16:20], uint32(s.Seq.Pos()))

	return pkt
}
