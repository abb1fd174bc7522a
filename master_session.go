// SPDX-License-Identifier: BSD-2-Clause
// Copyright (C) 2024 Emir Aganovic

package airplay2

import (
	"net"
	"sync"
	"time"

	"github.com/kavlab/airplay2/rtp"
)

// Quality identifies one (audio quality, encryption) tuple; MasterSessions
// are shared by every Session whose negotiated quality matches (spec.md
// §3). The first implementation fixes sample rate/bits/channels (spec.md
// §1 Non-goals), so Quality's only real axis today is Encrypt, but the
// struct is shaped to carry more without changing callers.
type Quality struct {
	SampleRate int
	BitsPerSample int
	Channels      int
	Encrypt       bool
}

// DefaultQuality is 44.1kHz/16-bit/stereo, the only quality this core
// produces (spec.md §1).
func DefaultQuality(encrypt bool) Quality {
	return Quality{SampleRate: 44100, BitsPerSample: 16, Channels: 2, Encrypt: encrypt}
}

type masterAttachment struct {
	session         *Session
	sentInitialSync bool
}

// MasterSession is the shared per-quality audio pipeline aggregator
// (spec.md §3): one ALAC encode + packetize + sync-schedule feeding every
// attached device, so N devices playing the same stream don't each carry
// their own encoder.
type MasterSession struct {
	quality Quality

	rtp *rtp.Session

	rawBuf []byte
	evbuf  []byte

	outputBufferSamples int64
	curStamp            rtp.Stamp

	samplesPerPacket int
	bytesPerFrame    int // bytesPerSample * channels

	control *rtp.ControlService

	mu          sync.Mutex
	attachments map[uint64]*masterAttachment
}

// NewMasterSession builds an empty MasterSession for quality, sharing ctrl
// for sync-packet emission (spec.md §4.3: "sent over the global
// control-service UDP socket").
func NewMasterSession(quality Quality, outputBufferSamples int64, ctrl *rtp.ControlService) *MasterSession {
	bytesPerFrame := (quality.BitsPerSample / 8) * quality.Channels
	return &MasterSession{
		quality:              quality,
		rtp:                  rtp.NewSession(),
		rawBuf:               make([]byte, rtp.SamplesPerPacket*bytesPerFrame),
		samplesPerPacket:     rtp.SamplesPerPacket,
		bytesPerFrame:        bytesPerFrame,
		outputBufferSamples:  outputBufferSamples,
		control:              ctrl,
		attachments:          make(map[uint64]*masterAttachment),
	}
}

// Attach adds a session to this pipeline (spec.md §3 "Reference to a
// MasterSession"). Backend.DeviceStart attaches a session right after
// creating it, before pairing and SETUP; the session receives no audio or
// sync packets until its state reaches CONNECTED.
func (m *MasterSession) Attach(s *Session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.attachments[s.Device.ID] = &masterAttachment{session: s}
	s.Master = m
}

// detach removes a session, e.g. on failure or TEARDOWN (spec.md §3
// lifecycle: "Session destruction cascades to MasterSession cleanup if it
// was the last user" — here that cleanup is just removing the map entry;
// the MasterSession itself stays in the Backend's registry).
func (m *MasterSession) detach(s *Session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.attachments, s.Device.ID)
}

// Empty reports whether no session references this master session any
// longer (spec.md §3 lifecycle). Backend does not call it: a master session,
// once created, stays in the Backend's registry even when empty.
func (m *MasterSession) Empty() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.attachments) == 0
}

// Write is the per-write entry point from the player thread (spec.md §4.2):
// stamp the wall-clock anchor, fan out sync packets, buffer the PCM, and
// drain whole packets out to every attached device.
func (m *MasterSession) Write(pcm []byte, pts time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()

	evbufSamples := int64(len(m.evbuf) / m.bytesPerFrame)
	m.curStamp = rtp.Stamp{
		Time: pts,
		Pos:  m.rtp.Seq.Pos() + evbufSamples - m.outputBufferSamples,
	}

	m.sendInitialSyncLocked()

	m.evbuf = append(m.evbuf, pcm...)

	for len(m.evbuf) >= m.samplesPerPacket*m.bytesPerFrame {
		frameLen := m.samplesPerPacket * m.bytesPerFrame
		copy(m.rawBuf, m.evbuf[:frameLen])
		m.evbuf = m.evbuf[frameLen:]
		m.emitPacketLocked()
	}
}

// sendInitialSyncLocked sends a flags-0x90 sync packet to every
// just-CONNECTED attachment that hasn't had one yet (spec.md §4.3).
func (m *MasterSession) sendInitialSyncLocked() {
	for _, att := range m.attachments {
		if att.session.getState() != StateConnected || att.sentInitialSync {
			continue
		}
		pkt := m.rtp.BuildSyncPacket(rtp.SyncPacketFlagInitial, m.curStamp, m.outputBufferSamples)
		m.sendControl(att.session, pkt[:])
		att.sentInitialSync = true
	}
}

// emitPacketLocked ALAC-encodes one packet from rawBuf and sends it to
// every attached session, then sends an ongoing sync packet if due
// (spec.md §4.2, §4.3).
func (m *MasterSession) emitPacketLocked() {
	payload := make([]byte, rtp.EncodedLen(len(m.rawBuf)))
	n := rtp.EncodeALAC(payload, m.rawBuf)
	payload = payload[:n]

	header, seq, _ := m.rtp.BuildAudioHeader(false)

	for _, att := range m.attachments {
		s := att.session
		state := s.getState()
		if state != StateConnected && state != StateStreaming {
			continue
		}

		h := header
		if state == StateConnected {
			h[1] |= 0x80 // marker bit on this session's first packet
		}

		s.sendAudio(h[:], payload, seq)

		if state == StateConnected && att.sentInitialSync {
			s.setState(StateStreaming)
		}
	}

	syncDue := m.rtp.CommitAudioPacket(header, payload)
	if syncDue {
		pkt := m.rtp.BuildSyncPacket(rtp.SyncPacketFlagOngoing, m.curStamp, m.outputBufferSamples)
		for _, att := range m.attachments {
			if att.session.getState() == StateStreaming {
				m.sendControl(att.session, pkt[:])
			}
		}
	}
}

func (m *MasterSession) sendControl(s *Session, payload []byte) {
	addr := &net.UDPAddr{IP: s.Device.Address, Port: s.ControlPort}
	if err := m.control.WriteTo(payload, addr); err != nil {
		deviceLogger(s.Device).Warn().Err(err).Msg("airplay2: sync packet send failed")
	}
}

// currentCursor returns the (next sequence number, current sample position)
// pair for the RTP-Info header RECORD/FLUSH attach (spec.md §6).
func (m *MasterSession) currentCursor() (seq uint16, pos int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rtp.Seq.Seq(), m.rtp.Seq.Pos()
}

// Retransmit satisfies rtp.RetransmitLookup by resolving a request's source
// address to the attached session that owns it, then to this master
// session's ring (spec.md §4.6).
func (m *MasterSession) Retransmit(srcAddr *net.UDPAddr, seq uint16) (rtp.Packet, *rtp.Encryptor, bool) {
	m.mu.Lock()
	var found *Session
	for _, att := range m.attachments {
		if att.session.Device.Address.Equal(srcAddr.IP) {
			found = att.session
			break
		}
	}
	m.mu.Unlock()

	if found == nil {
		return rtp.Packet{}, nil, false
	}
	pkt, ok := m.rtp.Ring.Get(seq)
	if !ok {
		return rtp.Packet{}, nil, false
	}
	return pkt, found.encryptor, true
}
