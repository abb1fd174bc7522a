// SPDX-License-Identifier: BSD-2-Clause
// Copyright (C) 2024 Emir Aganovic

// Package plist is a thin wrapper over howett.net/plist for the binary
// property-list bodies AirPlay 2 RTSP requests carry (spec.md §6): SETUP,
// SETPEERS and their responses. Keeping this as its own package mirrors the
// teacher's media/sdp subpackage — a small, independently testable codec
// the main state machine calls into rather than owns.
package plist

import (
	"bytes"
	"fmt"

	"howett.net/plist"
)

// Marshal encodes v as a binary property list, the format every AirPlay 2
// RTSP request body in this protocol uses (spec.md §6
// "application/x-apple-binary-plist").
func Marshal(v interface{}) ([]byte, error) {
	buf := new(bytes.Buffer)
	enc := plist.NewBinaryEncoder(buf)
	if err := enc.Encode(v); err != nil {
		return nil, fmt.Errorf("airplay2/plist: marshal: %w", err)
	}
	return buf.Bytes(), nil
}

// Unmarshal decodes a binary (or XML, which howett.net/plist also accepts)
// property list body into v.
func Unmarshal(data []byte, v interface{}) error {
	if _, err := plist.Unmarshal(data, v); err != nil {
		return fmt.Errorf("airplay2/plist: unmarshal: %w", err)
	}
	return nil
}

// SessionSetup is the SETUP(session) request body (spec.md §6).
type SessionSetup struct {
	SessionUUID    string `plist:"sessionUUID"`
	TimingPort     int    `plist:"timingPort"`
	TimingProtocol string `plist:"timingProtocol"`
}

// SessionSetupResponse is SETUP(session)'s response body.
type SessionSetupResponse struct {
	EventPort  int `plist:"eventPort"`
	TimingPort int `plist:"timingPort"`
}

// StreamSetup is one entry of the SETUP(stream) request's "streams" array
// (spec.md §6).
type StreamSetup struct {
	AudioFormat             int    `plist:"audioFormat"`
	AudioMode               string `plist:"audioMode"`
	CT                      int    `plist:"ct"`
	SPF                     int    `plist:"spf"`
	SR                      int    `plist:"sr"`
	Type                    int    `plist:"type"`
	SharedKey               []byte `plist:"shk"`
	ControlPort             int    `plist:"controlPort"`
	LatencyMin              int    `plist:"latencyMin"`
	LatencyMax              int    `plist:"latencyMax"`
	StreamConnectionID      int64  `plist:"streamConnectionID"`
	IsMedia                 bool   `plist:"isMedia"`
	SupportsDynamicStreamID bool   `plist:"supportsDynamicStreamID"`
}

// StreamSetupRequest wraps StreamSetup in the "streams" array the device
// expects.
type StreamSetupRequest struct {
	Streams []StreamSetup `plist:"streams"`
}

// StreamSetupResponseEntry is one entry of the SETUP(stream) response's
// "streams" array, carrying the negotiated data/control ports.
type StreamSetupResponseEntry struct {
	DataPort    int `plist:"dataPort"`
	ControlPort int `plist:"controlPort"`
}

// StreamSetupResponse is SETUP(stream)'s response body.
type StreamSetupResponse struct {
	Streams []StreamSetupResponseEntry `plist:"streams"`
}

// Peers is the SETPEERS request body: an array of this host's IP addresses
// (spec.md §6).
type Peers []string
