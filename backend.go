// SPDX-License-Identifier: BSD-2-Clause
// Copyright (C) 2024 Emir Aganovic

package airplay2

import (
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/kavlab/airplay2/rtp"
)

// BackendOption configures a Backend at construction time, the same
// functional-options shape as the teacher's DiagoOption (diago.go
// WithClientOptions/WithTransport/...), generalized from "SIP transports and
// media formats" to "AirPlay pairing collaborators and network binding".
type BackendOption func(*Backend)

// WithUserAgent overrides the RTSP User-Agent header (spec.md §6).
func WithUserAgent(ua string) BackendOption {
	return func(b *Backend) { b.userAgent = ua }
}

// WithBindIP selects the local interface the timing/control UDP sockets bind
// to. The RTSP control connection is dialed without a local address and
// does not use it.
func WithBindIP(ip net.IP) BackendOption {
	return func(b *Backend) { b.bindIP = ip }
}

// WithPairing installs the pairing collaborators every Session.Pairing is
// populated from (spec.md §1: "supplied by the embedding application").
func WithPairing(p PairingProvider) BackendOption {
	return func(b *Backend) { b.pairing = p }
}

// WithOutputBufferSamples overrides the playback lead time new
// MasterSessions are created with (spec.md §3 output_buffer_samples).
func WithOutputBufferSamples(n int64) BackendOption {
	return func(b *Backend) { b.outputBufferSamples = n }
}

// DeviceEventFunc is notified whenever a device's Session changes state,
// the Go analogue of the source's device_cb_set callback id (spec.md §6).
type DeviceEventFunc func(device *Device, state State)

// Backend is the output-backend shim (spec.md §6 C14): the thing an
// embedding player registers once and then drives through init/deinit,
// device_probe/device_start/device_stop/device_flush, write and the
// metadata_* calls. It owns the cross-session state a lone Session or
// MasterSession has no business holding: the sequence engine, the shared
// timing/control sockets, and the registry of MasterSessions keyed by
// Quality. Grounded on the teacher's Diago (diago.go): a long-lived
// constructed-once object with functional options that then `Serve`s and
// hands out per-connection sessions, generalized from SIP dialogs to
// AirPlay sessions.
type Backend struct {
	userAgent           string
	bindIP              net.IP
	pairing             PairingProvider
	outputBufferSamples int64

	engine  *Engine
	timing  *rtp.TimingService
	control *rtp.ControlService

	onDeviceEvent DeviceEventFunc

	mu       sync.Mutex
	sessions map[uint64]*Session
	masters  map[Quality]*MasterSession

	keepalive *keepaliveLoop
}

// NewBackend constructs and starts a Backend: binds the shared timing and
// control UDP sockets and builds the sequence table (spec.md §6 init).
func NewBackend(opts ...BackendOption) (*Backend, error) {
	b := &Backend{
		userAgent:           "AirPlay/665.13",
		bindIP:              net.IPv4zero,
		outputBufferSamples: 88200,
		sessions:            make(map[uint64]*Session),
		masters:             make(map[Quality]*MasterSession),
	}
	for _, o := range opts {
		o(b)
	}

	timing, err := rtp.ListenTiming(b.bindIP, 0)
	if err != nil {
		return nil, fmt.Errorf("airplay2: init timing service: %w", err)
	}
	b.timing = timing
	go timing.Serve()

	control, err := rtp.ListenControl(b.bindIP, 0, b.retransmitLookup)
	if err != nil {
		timing.Close()
		return nil, fmt.Errorf("airplay2: init control service: %w", err)
	}
	b.control = control
	go control.Serve()

	b.engine = NewEngine(BuildSequenceTable(b))
	b.keepalive = newKeepaliveLoop(b)
	go b.keepalive.run()

	return b, nil
}

// Deinit stops the shared services and every running session (spec.md §6
// deinit).
func (b *Backend) Deinit() {
	b.keepalive.stop()
	b.timing.Close()
	b.control.Close()

	b.mu.Lock()
	sessions := make([]*Session, 0, len(b.sessions))
	for _, s := range b.sessions {
		sessions = append(sessions, s)
	}
	b.mu.Unlock()

	for _, s := range sessions {
		b.engine.Run(s, SeqStop, nil)
	}
}

// SetOnDeviceEvent installs the state-change notification callback (spec.md
// §6 device_cb_set).
func (b *Backend) SetOnDeviceEvent(cb DeviceEventFunc) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onDeviceEvent = cb
}

func (b *Backend) timingPort() int   { return b.timing.Port() }
func (b *Backend) controlPort() int  { return b.control.Port() }

func (b *Backend) initialVolumePercent(d *Device) int {
	if d.MaxVolume == 0 {
		return 100
	}
	return 100
}

// DeviceProbe opens a PROBE-only session against device (spec.md §6
// device_probe): a lightweight "is this device reachable" check that never
// reaches START_AP2.
func (b *Backend) DeviceProbe(device *Device) (*Session, error) {
	if device.Excluded {
		return nil, newError(ErrFatalBug, device.ID, "", fmt.Errorf("device is excluded by configuration"))
	}

	s, err := b.newSession(device, true)
	if err != nil {
		return nil, err
	}
	b.engine.Run(s, SeqProbe, nil)
	return s, nil
}

// DeviceStart begins a playback session against device, choosing the
// pairing sequence per spec.md §4.1's device_start orchestration: a stored
// auth key runs PAIR_VERIFY, else a device advertising transient pairing
// runs PAIR_TRANSIENT, else the user is prompted through PIN_START.
func (b *Backend) DeviceStart(device *Device) (*Session, error) {
	if device.Excluded {
		return nil, newError(ErrFatalBug, device.ID, "", fmt.Errorf("device is excluded by configuration"))
	}
	if device.OnlyProbe {
		return nil, newError(ErrFatalBug, device.ID, "", fmt.Errorf("device is restricted to probing by configuration"))
	}

	s, err := b.newSession(device, false)
	if err != nil {
		return nil, err
	}

	quality := DefaultQuality(true)
	b.mu.Lock()
	m, ok := b.masters[quality]
	if !ok {
		m = NewMasterSession(quality, b.outputBufferSamples, b.control)
		b.masters[quality] = m
	}
	b.mu.Unlock()
	m.Attach(s)

	s.NextSeq = SeqStartAP2

	switch {
	case len(device.AuthKey) > 0:
		b.engine.Run(s, SeqPairVerify, nil)
	case device.Features.SupportsTransientPairing():
		s.PairType = PairHomeKitTransient
		b.engine.Run(s, SeqPairTransient, nil)
	default:
		device.RequiresAuth = true
		s.PairType = PairHomeKitNormal
		b.engine.Run(s, SeqPinStart, nil)
	}

	return s, nil
}

func (b *Backend) newSession(device *Device, onlyProbe bool) (*Session, error) {
	s, err := NewSession(device, b.engine, b.userAgent)
	if err != nil {
		return nil, err
	}
	s.OnlyProbe = onlyProbe
	s.Pairing = b.pairing

	b.mu.Lock()
	b.sessions[device.ID] = s
	b.mu.Unlock()

	s.SetOnStateChange(func(sess *Session, state State) {
		b.mu.Lock()
		cb := b.onDeviceEvent
		b.mu.Unlock()
		if cb != nil {
			cb(sess.Device, state)
		}
		if state == StateFailed || state == StateStopped {
			b.forgetSession(sess)
		}
	})

	return s, nil
}

func (b *Backend) forgetSession(s *Session) {
	b.mu.Lock()
	delete(b.sessions, s.Device.ID)
	b.mu.Unlock()
}

// DeviceStop tears down a running session (spec.md §6 device_stop).
func (b *Backend) DeviceStop(s *Session) {
	b.engine.Run(s, SeqStop, nil)
}

// DeviceFlush discards buffered audio on one session (spec.md §6
// device_flush).
func (b *Backend) DeviceFlush(s *Session) {
	b.engine.Run(s, SeqFlush, nil)
}

// DeviceVolumeSet pushes a volume percent to one device (spec.md §4.11, §6
// device_volume_set).
func (b *Backend) DeviceVolumeSet(s *Session, pct int) {
	b.engine.Run(s, SeqSendVolume, pct)
}

// DeviceVolumeToPercent is the pure conversion half of device_volume_set,
// exposed so a player can display a device-reported dB value without
// round-tripping it through a session (spec.md §4.11, §6
// device_volume_to_pct).
func (b *Backend) DeviceVolumeToPercent(db float64, maxVolume int) int {
	return DBToPercent(db, maxVolume)
}

// Write hands one buffer of PCM audio to the master session of the given
// quality, which fans it out to every device attached to it (spec.md §6
// write). It is a no-op if no master session of that quality exists.
func (b *Backend) Write(quality Quality, pcm []byte, pts time.Time) {
	b.mu.Lock()
	m, ok := b.masters[quality]
	b.mu.Unlock()
	if !ok {
		return
	}
	m.Write(pcm, pts)
}

// MetadataSend pushes one metadata item to a single device (spec.md §6
// metadata_send): text and artwork are sent as-is, progress is computed
// against the wall-clock anchor of the device's master session.
func (b *Backend) MetadataSend(s *Session, md Metadata) {
	if md.Text != nil {
		b.engine.Run(s, SeqSendText, md.Text)
	}
	if md.Artwork != nil {
		b.engine.Run(s, SeqSendArtwork, md.Artwork)
	}
	b.engine.Run(s, SeqSendProgress, md)
}

// MetadataPrepare is a no-op seam kept for API symmetry with
// metadata_send/metadata_purge (spec.md §6): nothing in this core needs to
// pre-stage metadata before a device is attached, but an embedding player
// that queues metadata ahead of DeviceStart can call this without special
// casing "no session yet".
func (b *Backend) MetadataPrepare(md Metadata) Metadata { return md }

// MetadataPurge clears a device's in-flight metadata by re-sending an
// empty progress report (spec.md §6 metadata_purge).
func (b *Backend) MetadataPurge(s *Session) {
	b.engine.Run(s, SeqSendProgress, Metadata{})
}

// DeviceAuthorize supplies a user-entered PIN or password and resumes
// pairing (spec.md §6 device_authorize): PIN_START's completion always
// feeds into PAIR_SETUP; a stored-key rejection (PASSWORD state) retries
// PAIR_VERIFY-adjacent flow through a fresh PAIR_SETUP instead.
func (b *Backend) DeviceAuthorize(s *Session, pin string) {
	b.engine.Run(s, SeqPairSetup, pin)
}

func (b *Backend) retransmitLookup(srcAddr *net.UDPAddr, seq uint16) (rtp.Packet, *rtp.Encryptor, bool) {
	b.mu.Lock()
	masters := make([]*MasterSession, 0, len(b.masters))
	for _, m := range b.masters {
		masters = append(masters, m)
	}
	b.mu.Unlock()

	for _, m := range masters {
		if pkt, enc, ok := m.Retransmit(srcAddr, seq); ok {
			return pkt, enc, true
		}
	}
	return rtp.Packet{}, nil, false
}

// onSequenceError is the shared OnError terminator most sequences install:
// log and fail the session, matching spec.md §4.1's "any error not handled
// more specifically triggers deferred session failure".
func (b *Backend) onSequenceError(s *Session, err error) {
	s.fail(err)
}

func (b *Backend) onSessionConnected(s *Session) {
	// State already transitioned to CONNECTED by RECORD's response handler;
	// nothing further to orchestrate here until the first Write().
}

func (b *Backend) onProbeSuccess(s *Session) {
	s.fail(nil)
}

func (b *Backend) onAuthRequired(s *Session) {
	s.setState(StatePassword)
	b.notifyPassword(s)
}

func (b *Backend) onPairSetupSuccess(s *Session) {
	b.engine.runLocked(s, s.NextSeq, nil)
}

func (b *Backend) notifyPassword(s *Session) {
	b.mu.Lock()
	cb := b.onDeviceEvent
	b.mu.Unlock()
	if cb != nil {
		cb(s.Device, StatePassword)
	}
}
