// SPDX-License-Identifier: BSD-2-Clause
// Copyright (C) 2024 Emir Aganovic

package rtp

import (
	"encoding/binary"
	"fmt"
	"net"

	"github.com/rs/zerolog/log"
)

const (
	timingRequestLen  = 32
	timingReplyLen    = 32
	timingReqHeader0  = 0x80
	timingReqHeader1  = 0xd2
	timingReplyHdr0   = 0x80
	timingReplyHdr1   = 0xd3
)

// TimingService answers NTP-style timing requests (spec.md §4.7) on a bound
// UDP port shared by every session, the way the teacher's control service
// (§4.6) and timing service are both process-wide state bound to the
// backend's lifecycle rather than per-device.
type TimingService struct {
	conn *net.UDPConn
	done chan struct{}
}

// ListenTiming binds the timing UDP socket. port == 0 picks an ephemeral
// port, matching how the teacher's MediaSession lets the OS choose a port
// when none is configured.
func ListenTiming(bindIP net.IP, port int) (*TimingService, error) {
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: bindIP, Port: port})
	if err != nil {
		return nil, fmt.Errorf("airplay2/rtp: listen timing: %w", err)
	}
	return &TimingService{conn: conn, done: make(chan struct{})}, nil
}

// Port returns the bound local port, useful when the caller asked for an
// ephemeral port (0) and must advertise the chosen one in SETUP responses.
func (t *TimingService) Port() int {
	return t.conn.LocalAddr().(*net.UDPAddr).Port
}

// Close stops the service and releases the socket.
func (t *TimingService) Close() error {
	close(t.done)
	return t.conn.Close()
}

// Serve reads timing requests until Close is called, replying inline. It
// blocks the caller's goroutine, the same way the teacher's
// RTPSession.MonitorBackground spawns a dedicated reader goroutine per
// concern rather than multiplexing everything onto one select loop.
func (t *TimingService) Serve() {
	buf := make([]byte, 1500)
	for {
		n, addr, err := t.conn.ReadFromUDP(buf)
		if err != nil {
			select {
			case <-t.done:
				return
			default:
				log.Error().Err(err).Msg("airplay2/rtp: timing service read error")
				continue
			}
		}
		if n != timingRequestLen || buf[0] != timingReqHeader0 || buf[1] != timingReqHeader1 {
			continue
		}

		reply := BuildTimingReply(buf[:n])
		if _, err := t.conn.WriteToUDP(reply[:], addr); err != nil {
			log.Warn().Err(err).Str("addr", addr.String()).Msg("airplay2/rtp: timing reply send failed")
		}
	}
}

// BuildTimingReply computes the 32-byte reply to a 32-byte timing request,
// per spec.md §4.7: header 0x80 0xd3, byte 2 copied from the request, byte 3
// and bytes 4-7 zero, bytes 8-15 the client originate timestamp copied from
// request bytes 24-31, bytes 16-23 the server receive NTP stamp, bytes 24-31
// the server transmit NTP stamp.
func BuildTimingReply(req []byte) [timingReplyLen]byte {
	recv := CurrentNTP()

	var reply [timingReplyLen]byte
	reply[0] = timingReplyHdr0
	reply[1] = timingReplyHdr1
	reply[2] = req[2]
	reply[3] = 0
	// bytes 4-7 zero

	copy(reply[8:16], req[24:32])
	binary.BigEndian.PutUint64(reply[16:24], recv)

	xmit := CurrentNTP()
	binary.BigEndian.PutUint64(reply[24:32], xmit)

	return reply
}
