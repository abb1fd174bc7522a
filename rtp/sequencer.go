// SPDX-License-Identifier: BSD-2-Clause
// Copyright (C) 2024 Emir Aganovic

package rtp

// SyncInterval is how many audio packets elapse between ongoing ("flags
// 0x80") sync packets for a STREAMING session, per spec.md §4.3. The
// original source's rtp_sync_is_time() is not part of the kept C sources, so
// this follows its approximate cadence: ~1 second of audio at 352
// samples/packet and 44100Hz (44100/352 ≈ 125.3 packets/sec).
const SyncInterval = 126

// Sequencer generates the monotonically increasing (modulo 2^16) RTP
// sequence numbers and sample-unit timestamp cursor for one MasterSession's
// audio stream. It is the audio-side analogue of the teacher's
// RTPExtendedSequenceNumber (media/rtp_sequencer.go), simplified: AirPlay
// does not need wraparound-cycle tracking for jitter math, only "does this
// seqnum keep increasing" for the retransmit ring and invariant checking.
type Sequencer struct {
	seq    uint16
	pos    int64 // RTP timestamp, in samples
	pktCnt uint32
}

// NewSequencer starts from the given seqnum and timestamp. NewSession passes
// random ones, as the teacher's NewRTPSequencer and forked-daapd's
// rtp_session_new both do, so a restarted session cannot be mistaken for a
// continuation of a prior one by a retransmit-ring lookup on the device side.
func NewSequencer(startSeq uint16, startPos int64) *Sequencer {
	return &Sequencer{seq: startSeq, pos: startPos}
}

// Seq returns the sequence number of the next packet to be sent, without
// advancing.
func (s *Sequencer) Seq() uint16 { return s.seq }

// Pos returns the current RTP timestamp cursor (samples).
func (s *Sequencer) Pos() int64 { return s.pos }

// Advance commits one packet of sampleCount samples: the sequence number
// increments by one (mod 2^16) and the position advances by sampleCount.
// Returns the (seq, pos) the just-committed packet was stamped with.
func (s *Sequencer) Advance(sampleCount int64) (seq uint16, pos int64) {
	seq, pos = s.seq, s.pos
	s.seq++
	s.pos += sampleCount
	s.pktCnt++
	return seq, pos
}

// SyncDue reports whether an ongoing sync packet (spec.md §4.3) should be
// sent after the packet just committed by Advance.
func (s *Sequencer) SyncDue() bool {
	return s.pktCnt%SyncInterval == 0
}
