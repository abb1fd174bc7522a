// SPDX-License-Identifier: BSD-2-Clause
// Copyright (C) 2024 Emir Aganovic

package airplay2

import (
	"fmt"
	"math/rand"
	"net"
	"sync"

	"github.com/kavlab/airplay2/rtp"
)

// StateChangeFunc is notified whenever a Session transitions state, the Go
// analogue of the source's device callback id (spec.md §3 "callback id to
// notify on state change").
type StateChangeFunc func(s *Session, state State)

// Session is the per-device protocol and transport state (spec.md §3). It
// is created by device_start/device_probe and destroyed on success,
// failure, or TEARDOWN — matching the teacher's DialogClientSession as a
// thin, short-lived wrapper around one control connection, generalized here
// to own the RTSP state machine instead of a SIP dialog.
type Session struct {
	Device *Device
	Master *MasterSession

	rtsp   *RTSPClient
	engine *Engine

	mu              sync.Mutex
	State           State
	NextSeq         SequenceType
	CurrentSequence SequenceType

	// runMu serializes sequence execution on this session (spec.md §5: "no
	// sequence step executes while another request on the same session is
	// outstanding"). Engine.Run holds it for the whole chained run (every
	// JumpTo and OnSuccess-triggered continuation); only one RTSPClient.Do
	// call is ever outstanding on s.rtsp at a time. Acquired by whichever
	// goroutine calls Engine.Run first: the keepalive ticker and player-driven
	// calls (DeviceVolumeSet, MetadataSend, DeviceFlush, ...) all reach the
	// same session from different goroutines.
	runMu sync.Mutex

	SessionID uint32
	localAddr net.IP

	PairType     PairType
	sharedSecret []byte

	DataPort    int
	ControlPort int
	EventsPort  int
	TimingPort  int

	UserAgent      string
	ActiveRemote   string
	ClientInstance string

	digest  *digestClient
	Pairing PairingProvider

	// lastPairingResponse carries one pairing step's response body into the
	// payload maker for the next step (spec.md §4.1 PAIR_SETUP/PAIR_VERIFY/
	// PAIR_TRANSIENT, which each thread a prior response into the next
	// request).
	lastPairingResponse []byte

	onStateChange StateChangeFunc

	// OnlyProbe is true for sessions opened by Backend.DeviceProbe (spec.md
	// §6 device_probe): PROBE-only sessions never run START_AP2.
	OnlyProbe bool

	dataConn  *net.UDPConn
	encryptor *rtp.Encryptor
}

// NewSession constructs a Session bound to device, dialing its RTSP control
// connection. The caller (Backend.DeviceStart/DeviceProbe) is responsible
// for running the appropriate orchestration sequence afterward.
func NewSession(device *Device, engine *Engine, userAgent string) (*Session, error) {
	addr := fmt.Sprintf("%s:%d", device.URLHost(), device.Port)
	rtsp, err := DialRTSP(addr, 0)
	if err != nil {
		return nil, err
	}

	local, _, _ := net.SplitHostPort(rtsp.conn.LocalAddr().String())
	localIP := net.ParseIP(local)

	s := &Session{
		Device:         device,
		rtsp:           rtsp,
		engine:         engine,
		State:          StateStartup,
		SessionID:      rand.Uint32(),
		localAddr:      localIP,
		UserAgent:      userAgent,
		ActiveRemote:   fmt.Sprintf("%d", rand.Uint32()),
		ClientInstance: fmt.Sprintf("%016X", rand.Uint64()),
		digest:         newDigestClient("", ""),
	}

	rtsp.SetCloseCallback(func(err error) {
		s.fail(newError(ErrTransport, device.ID, s.CurrentSequence.String(), err))
	})

	return s, nil
}

// SessionURL renders "rtsp://<local-ip>/<session_id>" (spec.md §6).
func (s *Session) SessionURL() string {
	host := s.localAddr.String()
	if s.localAddr.To4() == nil {
		host = "[" + host + "]"
	}
	return fmt.Sprintf("rtsp://%s/%d", host, s.SessionID)
}

func (s *Session) setState(state State) {
	s.mu.Lock()
	s.State = state
	cb := s.onStateChange
	s.mu.Unlock()

	deviceLogger(s.Device).Info().Str("state", state.String()).Msg("airplay2: session state change")
	if cb != nil {
		cb(s, state)
	}
}

// SetOnStateChange installs the Backend's notification callback.
func (s *Session) SetOnStateChange(cb StateChangeFunc) {
	s.mu.Lock()
	s.onStateChange = cb
	s.mu.Unlock()
}

func (s *Session) getState() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.State
}

// fail tears the session down into FAILED, notifying and detaching from its
// master session. This is the Go equivalent of "deferred_session_failure"
// (spec.md §5): since each Session's sequences run on their own goroutine
// rather than a shared reactor tick, there is no mid-iteration collection
// to protect here — MasterSession.detach takes its own lock.
func (s *Session) fail(err error) {
	deviceLogger(s.Device).Error().Err(err).Msg("airplay2: session failed")
	s.setState(StateFailed)
	if s.Master != nil {
		s.Master.detach(s)
	}
	_ = s.rtsp.Close()
}

// installCiphers derives the two stream ciphers from sharedSecret and
// installs the control-channel one on the RTSP transport (spec.md §4.1
// "Encryption transition"). The events-channel cipher is handed back for
// the caller to attach to the reverse events socket, which is out of this
// package's core scope (spec.md §1 lists it only as a negotiated port).
func (s *Session) installCiphers(sharedSecret []byte) (events StreamCipher, err error) {
	if s.Pairing.Ciphers == nil {
		return nil, newError(ErrFatalBug, s.Device.ID, "", fmt.Errorf("no cipher factory configured"))
	}
	control, err := s.Pairing.Ciphers.NewControlCipher(sharedSecret)
	if err != nil {
		return nil, newError(ErrEncryption, s.Device.ID, "", err)
	}
	events, err = s.Pairing.Ciphers.NewEventsCipher(sharedSecret)
	if err != nil {
		return nil, newError(ErrEncryption, s.Device.ID, "", err)
	}
	s.sharedSecret = sharedSecret
	s.rtsp.InstallCipher(control)

	enc, err := rtp.NewEncryptor(sharedSecret[:32])
	if err != nil {
		return nil, newError(ErrEncryption, s.Device.ID, "", err)
	}
	s.encryptor = enc

	return events, nil
}

// dialData opens the per-device audio data socket once SETUP(stream)
// negotiates the device's data_port (spec.md §3 Session.Transport: "UDP
// sockets for data (bound by device)").
func (s *Session) dialData() error {
	conn, err := net.DialUDP("udp", nil, &net.UDPAddr{IP: s.Device.Address, Port: s.DataPort})
	if err != nil {
		return newError(ErrTransport, s.Device.ID, "", err)
	}
	s.dataConn = conn
	return nil
}

// sendAudio encrypts and emits one RTP audio packet to this device's data
// socket (spec.md §4.2 step 3). A send error triggers deferred session
// failure, same as any other transport error (spec.md §4.2, §7 TRANSPORT):
// fail runs on its own goroutine, because sendAudio is called with the
// MasterSession lock held and fail's detach takes that lock.
func (s *Session) sendAudio(header []byte, payload []byte, seq uint16) {
	if s.encryptor == nil || s.dataConn == nil {
		return
	}
	ciphertext, err := s.encryptor.EncryptPacket(header, payload, seq)
	if err != nil {
		go s.fail(newError(ErrEncryption, s.Device.ID, "", err))
		return
	}
	wire := append(append([]byte{}, header...), ciphertext...)
	if _, err := s.dataConn.Write(wire); err != nil {
		go s.fail(newError(ErrTransport, s.Device.ID, "", err))
	}
}
