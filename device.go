// SPDX-License-Identifier: BSD-2-Clause
// Copyright (C) 2024 Emir Aganovic

package airplay2

import (
	"encoding/hex"
	"fmt"
	"net"
	"strconv"
	"strings"
)

// Family identifies the IP family a device was announced on, mirroring the
// source's explicit AF_INET/AF_INET6 split (spec.md §3 Session.family):
// the startup sequence needs to branch on it for the IPv6 fallback (§4.1).
type Family int

const (
	FamilyIPv4 Family = iota
	FamilyIPv6
)

func (f Family) String() string {
	if f == FamilyIPv6 {
		return "ipv6"
	}
	return "ipv4"
}

// Feature bits of interest in the mDNS "features" TXT value (spec.md §6).
const (
	FeatureMFi                          = 14
	FeatureSupportsAirPlayAudio         = 9
	FeatureLegacyPairing                = 27
	FeatureSystemPairing                = 43
	FeatureHKPairingAndAccessControl    = 46
	FeatureCoreUtilsPairingAndEncryption = 48
	FeatureWantsArtwork                 = 15
	FeatureWantsProgress                = 16
	FeatureWantsText                    = 17
	// FeatureIsCarPlay and the negated "SupportsVolume" reading of the same
	// bit both appear in discovery code that inspired this design; spec.md
	// §9 Open Question 1 flags this as unresolved polarity. We only read
	// FeatureIsCarPlay and treat volume support as assumed-present, since
	// nothing downstream currently branches on !32.
	FeatureIsCarPlay = 32
)

// Features is the decoded two-word feature bitmap (bits 0-63, each TXT word
// being 32 bits) advertised by a device.
type Features uint64

// Has reports whether bit is set.
func (f Features) Has(bit uint) bool {
	return f&(1<<bit) != 0
}

func (f Features) WantsText() bool    { return f.Has(FeatureWantsText) }
func (f Features) WantsArtwork() bool { return f.Has(FeatureWantsArtwork) }
func (f Features) WantsProgress() bool { return f.Has(FeatureWantsProgress) }

// SupportsTransientPairing reports whether the device advertises the
// "CoreUtils pairing and encryption" bit, the signal device_start uses to
// prefer PAIR_TRANSIENT over PIN_START (spec.md §4.1).
func (f Features) SupportsTransientPairing() bool {
	return f.Has(FeatureCoreUtilsPairingAndEncryption)
}

// ParseFeatures decodes the mDNS "features" TXT value, two comma-separated
// 32-bit hex words, low word first (spec.md §6). This is the one piece of
// "device registry hook" (C13) translation logic that has real parsing work;
// the rest of the TXT record is carried through as plain strings.
func ParseFeatures(txt string) (Features, error) {
	parts := strings.SplitN(txt, ",", 2)
	if len(parts) != 2 {
		return 0, fmt.Errorf("airplay2: malformed features TXT value %q", txt)
	}
	lo, err := strconv.ParseUint(strings.TrimPrefix(parts[0], "0x"), 16, 32)
	if err != nil {
		return 0, fmt.Errorf("airplay2: malformed features low word %q: %w", parts[0], err)
	}
	hi, err := strconv.ParseUint(strings.TrimPrefix(parts[1], "0x"), 16, 32)
	if err != nil {
		return 0, fmt.Errorf("airplay2: malformed features high word %q: %w", parts[1], err)
	}
	return Features(hi<<32 | lo), nil
}

// ParseDeviceID parses the mDNS "deviceid" TXT value, a colon-separated MAC
// address, into the uint64 identity used throughout this package (spec.md
// §3 Session.device_id).
func ParseDeviceID(txt string) (uint64, error) {
	clean := strings.ReplaceAll(txt, ":", "")
	raw, err := hex.DecodeString(clean)
	if err != nil || len(raw) == 0 || len(raw) > 8 {
		return 0, fmt.Errorf("airplay2: malformed deviceid TXT value %q", txt)
	}
	var id uint64
	for _, b := range raw {
		id = id<<8 | uint64(b)
	}
	return id, nil
}

// Device is the persistent, cross-session descriptor for one AirPlay
// speaker: everything that survives a Session's destruction (spec.md §3
// distinguishes this from the per-connection Session). It is populated by
// translating an mDNS announcement (DiscoveryRecord) and updated in place as
// config and pairing state change.
type Device struct {
	ID      uint64
	Name    string
	Model   string
	Address net.IP
	Family  Family
	Port    int

	Features Features

	// RequiresAuth persists across reconnects once a 403/470 has been seen
	// (spec.md §7 AUTH_REQUIRED: "set persistently until a successful
	// pair-setup"), unlike Session state which is destroyed on teardown.
	RequiresAuth bool

	// V6Disabled is a per-device flag for disabling IPv6 control
	// connections. Nothing in this package sets or reads it: DeviceStart
	// dials the device's Family/Address as given and performs no
	// IPv6->IPv4 fallback.
	V6Disabled bool

	// AuthKey is the persistent HomeKit pair-setup key, opaque to this
	// package (owned by the pairing collaborator, spec.md §1). Nil means
	// "no stored key", driving device_start's PAIR_VERIFY vs PAIR_TRANSIENT
	// vs PIN_START choice (spec.md §4.1).
	AuthKey []byte

	// MaxVolume bounds this device's usable dB range (spec.md §4.11),
	// sourced from airplay.<name>.max_volume config. Clamped to [1,11].
	MaxVolume int

	// Excluded and Permanent mirror the airplay.<name>.exclude and
	// .permanent config keys (SPEC_FULL.md §3): excluded devices are never
	// probed or started. Permanent is carried but not read by this package;
	// a failed session is not retried, whatever its value.
	Excluded  bool
	Permanent bool

	// OnlyProbe restricts this device to device_probe, never device_start,
	// matching forked-daapd's per-device "only_probe" flag surfaced through
	// config (SPEC_FULL.md §5 supplemented feature).
	OnlyProbe bool
}

// DiscoveryRecord is the shape handed to the device registry hook by the
// external mDNS collaborator (spec.md §6 browse callback), before
// translation into a Device.
type DiscoveryRecord struct {
	Name     string
	Type     string
	Domain   string
	Hostname string
	Family   Family
	Address  net.IP
	Port     int
	TXT      map[string]string
}

// TranslateDevice converts a raw mDNS announcement into a Device, applying
// the required-TXT-key and SupportsAirPlayAudio checks from spec.md §6. A
// nil, nil return (no error, no device) means the record should be silently
// discarded, matching "devices without [SupportsAirPlayAudio] are
// discarded" — that is expected input, not a protocol error.
func TranslateDevice(rec DiscoveryRecord) (*Device, error) {
	if rec.Port < 0 {
		return nil, nil // device went away; caller handles removal by name/ID separately
	}

	idTXT, ok := rec.TXT["deviceid"]
	if !ok {
		return nil, fmt.Errorf("airplay2: mdns record %q missing deviceid", rec.Name)
	}
	id, err := ParseDeviceID(idTXT)
	if err != nil {
		return nil, err
	}

	featuresTXT, ok := rec.TXT["features"]
	if !ok {
		return nil, fmt.Errorf("airplay2: mdns record %q missing features", rec.Name)
	}
	features, err := ParseFeatures(featuresTXT)
	if err != nil {
		return nil, err
	}

	if !features.Has(FeatureSupportsAirPlayAudio) {
		return nil, nil
	}

	return &Device{
		ID:        id,
		Name:      rec.Name,
		Model:     rec.TXT["model"],
		Address:   rec.Address,
		Family:    rec.Family,
		Port:      rec.Port,
		Features:  features,
		MaxVolume: 11,
	}, nil
}

// URLHost formats the device's control-connection host, bracketing IPv6
// addresses the way net/url and RTSP request lines require.
func (d *Device) URLHost() string {
	if d.Family == FamilyIPv6 {
		return "[" + d.Address.String() + "]"
	}
	return d.Address.String()
}
