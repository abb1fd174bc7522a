// SPDX-License-Identifier: BSD-2-Clause
// Copyright (C) 2024 Emir Aganovic

package rtp

import (
	"encoding/binary"
	"fmt"
	"net"
	"sync"

	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

const (
	controlRequestLen = 8
	controlReqHeader0 = 0x80
	controlReqHeader1 = 0xd5
)

// RetransmitLookup resolves a retransmit request for one sequence number
// against the session owning srcAddr, returning the plaintext packet and
// whether it is still held in that session's ring.
type RetransmitLookup func(srcAddr *net.UDPAddr, seq uint16) (Packet, *Encryptor, bool)

// ControlService answers retransmit requests (spec.md §4.6) on a single UDP
// socket shared by every session, mirroring forked-daapd's single process-
// wide "control" fd. Retransmit storms from a single flaky device must not
// starve every other device sharing the socket, so requests are rate
// limited per source address — grounded on flowpbx's per-key
// golang.org/x/time/rate limiter (internal/pushgw/ratelimit.go), adapted
// from "per API key" to "per device address".
type ControlService struct {
	conn   *net.UDPConn
	lookup RetransmitLookup
	done   chan struct{}

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// RetransmitRateLimit and RetransmitRateBurst bound how many retransmit
// requests a single device address may issue per second before this service
// starts silently dropping them. A well-behaved device only retransmits
// after a genuine loss, so these are generous relative to normal operation
// and only bite during a true retransmit storm.
const (
	RetransmitRateLimit = rate.Limit(50)
	RetransmitRateBurst = 100
)

// ListenControl binds the control UDP socket.
func ListenControl(bindIP net.IP, port int, lookup RetransmitLookup) (*ControlService, error) {
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: bindIP, Port: port})
	if err != nil {
		return nil, fmt.Errorf("airplay2/rtp: listen control: %w", err)
	}
	return &ControlService{
		conn:     conn,
		lookup:   lookup,
		done:     make(chan struct{}),
		limiters: make(map[string]*rate.Limiter),
	}, nil
}

// WriteTo sends payload to addr over the shared control socket, used for
// outbound sync packets (spec.md §4.3) as well as retransmit replies.
func (c *ControlService) WriteTo(payload []byte, addr *net.UDPAddr) error {
	_, err := c.conn.WriteToUDP(payload, addr)
	return err
}

// Port returns the bound local port.
func (c *ControlService) Port() int {
	return c.conn.LocalAddr().(*net.UDPAddr).Port
}

// Close stops the service and releases the socket.
func (c *ControlService) Close() error {
	close(c.done)
	return c.conn.Close()
}

// Serve reads retransmit requests until Close is called.
func (c *ControlService) Serve() {
	buf := make([]byte, 1500)
	for {
		n, addr, err := c.conn.ReadFromUDP(buf)
		if err != nil {
			select {
			case <-c.done:
				return
			default:
				log.Error().Err(err).Msg("airplay2/rtp: control service read error")
				continue
			}
		}
		if n != controlRequestLen || buf[0] != controlReqHeader0 || buf[1] != controlReqHeader1 {
			continue
		}
		if !c.allow(addr) {
			continue
		}

		seqStart := binary.BigEndian.Uint16(buf[4:6])
		seqLen := binary.BigEndian.Uint16(buf[6:8])
		c.retransmit(addr, seqStart, seqLen)
	}
}

func (c *ControlService) allow(addr *net.UDPAddr) bool {
	key := addr.IP.String()

	c.mu.Lock()
	lim, ok := c.limiters[key]
	if !ok {
		lim = rate.NewLimiter(RetransmitRateLimit, RetransmitRateBurst)
		c.limiters[key] = lim
	}
	c.mu.Unlock()

	return lim.Allow()
}

func (c *ControlService) retransmit(addr *net.UDPAddr, seqStart, seqLen uint16) {
	for i := uint16(0); i < seqLen; i++ {
		seq := seqStart + i
		pkt, enc, ok := c.lookup(addr, seq)
		if !ok {
			log.Debug().Str("addr", addr.String()).Uint16("seq", seq).Msg("airplay2/rtp: retransmit miss, packet aged out of ring")
			continue
		}

		wire := pkt.Header[:]
		if enc != nil {
			ciphertext, err := enc.EncryptPacket(pkt.Header[:], pkt.Payload, pkt.Seq)
			if err != nil {
				log.Warn().Err(err).Uint16("seq", seq).Msg("airplay2/rtp: retransmit encrypt failed")
				continue
			}
			wire = append(append([]byte{}, pkt.Header[:]...), ciphertext...)
		} else {
			wire = append(append([]byte{}, pkt.Header[:]...), pkt.Payload...)
		}

		if _, err := c.conn.WriteToUDP(wire, addr); err != nil {
			log.Warn().Err(err).Str("addr", addr.String()).Msg("airplay2/rtp: retransmit send failed")
		}
	}
}
