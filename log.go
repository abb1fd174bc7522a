// SPDX-License-Identifier: BSD-2-Clause
// Copyright (C) 2024 Emir Aganovic

package airplay2

import (
	"os"

	"github.com/rs/zerolog"
)

// Debug toggles mirror the teacher's package-level media.RTPDebug /
// media.RTCPDebug switches: cheap to check, off by default, flippable by an
// embedding application without touching the logger configuration.
var (
	RTSPDebug = false
	RTPDebug  = false
)

var log = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()

// SetLogger replaces the package logger. Embedding applications that already
// run zerolog elsewhere should call this once during startup.
func SetLogger(l zerolog.Logger) {
	log = l
}

func deviceLogger(d *Device) zerolog.Logger {
	return log.With().
		Uint64("device_id", d.ID).
		Str("device_name", d.Name).
		Str("address", d.Address.String()).
		Logger()
}
