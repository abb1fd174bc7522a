// SPDX-License-Identifier: BSD-2-Clause
// Copyright (C) 2024 Emir Aganovic

package airplay2

// This package dictates *when* each HomeKit pairing step runs and how the
// resulting byte strings feed the rest of the state machine, but never how
// they're computed (spec.md §1). PairSetup, PairVerify, PairTransient and
// CipherFactory are the seams a real SRP/Curve25519/Ed25519 implementation
// plugs into; PAIR_SETUP/PAIR_VERIFY/PAIR_TRANSIENT in sequences_table.go
// call these, never crypto primitives directly.

// PairSetup drives the 3-request normal (pin-based) pairing flow.
type PairSetup interface {
	// SetupStep1 returns the body for the first /pair-setup POST.
	SetupStep1() ([]byte, error)
	// SetupStep2 consumes step 1's response body and the user-supplied pin,
	// returning the body for the second /pair-setup POST.
	SetupStep2(step1Response []byte, pin string) ([]byte, error)
	// SetupStep3 consumes step 2's response body and returns the body for
	// the third /pair-setup POST.
	SetupStep3(step2Response []byte) ([]byte, error)
	// AuthKey consumes step 3's response body and returns the persistent
	// device key to be stored on Device.AuthKey.
	AuthKey(step3Response []byte) ([]byte, error)
}

// PairVerify drives the 2-request normal pair-verify flow, run once per
// session against a previously stored Device.AuthKey.
type PairVerify interface {
	// VerifyStep1 returns the body for the first /pair-verify POST, given
	// the stored auth key.
	VerifyStep1(authKey []byte) ([]byte, error)
	// VerifyStep2 consumes step 1's response. A non-nil error here is
	// AUTH_BAD (spec.md §7): the key is rejected and must be cleared.
	VerifyStep2(step1Response []byte) ([]byte, error)
	// SharedSecret consumes step 2's response and returns the 32-byte
	// derived shared secret.
	SharedSecret(step2Response []byte) ([]byte, error)
}

// PairTransient drives the 2-request transient (SRP, no persisted key)
// pairing flow.
type PairTransient interface {
	TransientStep1() ([]byte, error)
	TransientStep2(step1Response []byte) ([]byte, error)
	// SharedSecret consumes step 2's response and returns a 64-byte buffer;
	// the first 32 bytes become the session's shared secret (spec.md §4.1).
	SharedSecret(step2Response []byte) ([]byte, error)
}

// PinStart begins pin-entry pairing (POST /pair-pin-start), prompting the
// device to display a PIN for the user.
type PinStart interface {
	Start() ([]byte, error)
}

// CipherFactory builds the two AEAD stream ciphers installed after pairing
// completes: one for the RTSP control channel, one for the reverse events
// channel (spec.md §3, §4.1 "Encryption transition").
type CipherFactory interface {
	NewControlCipher(sharedSecret []byte) (StreamCipher, error)
	NewEventsCipher(sharedSecret []byte) (StreamCipher, error)
}

// PairingProvider bundles the collaborators a Backend wires in. Devices
// that can't be paired at all (no collaborator configured) simply can't
// run PAIR_SETUP/PAIR_VERIFY/PAIR_TRANSIENT; PIN_START-only operation is
// still possible with just PinStart set.
type PairingProvider struct {
	Setup     PairSetup
	Verify    PairVerify
	Transient PairTransient
	Pin       PinStart
	Ciphers   CipherFactory
}
