// SPDX-License-Identifier: BSD-2-Clause
// Copyright (C) 2024 Emir Aganovic

package airplay2

// State is a Session's place in the RTSP/pairing protocol state machine
// (spec.md §3).
type State int

const (
	StateStopped State = iota
	StateStartup
	StateOptions
	StateAnnounce
	StateSetup
	StateRecord
	StateConnected
	StateStreaming
	StateTeardown
	StateFailed
	StatePassword
)

func (s State) String() string {
	switch s {
	case StateStopped:
		return "STOPPED"
	case StateStartup:
		return "STARTUP"
	case StateOptions:
		return "OPTIONS"
	case StateAnnounce:
		return "ANNOUNCE"
	case StateSetup:
		return "SETUP"
	case StateRecord:
		return "RECORD"
	case StateConnected:
		return "CONNECTED"
	case StateStreaming:
		return "STREAMING"
	case StateTeardown:
		return "TEARDOWN"
	case StateFailed:
		return "FAILED"
	case StatePassword:
		return "PASSWORD"
	default:
		return "UNKNOWN"
	}
}

// PairType selects which HomeKit pairing flavor a device uses (spec.md §3).
type PairType int

const (
	PairHomeKitNormal PairType = iota
	PairHomeKitTransient
)
