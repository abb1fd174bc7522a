// SPDX-License-Identifier: BSD-2-Clause
// Copyright (C) 2024 Emir Aganovic

// Package config loads the layered configuration SPEC_FULL.md §3
// describes: a YAML file for persistent per-device settings, overridable
// by command-line flags for the handful of knobs worth flipping per-run.
// Grounded on flowpbx-flowpbx's internal/config (config.go Load/flag
// precedence shape), adapted from stdlib flag+env to spf13/pflag+yaml.v3
// since nothing else in this module's domain stack reaches for flag
// parsing or YAML otherwise.
package config

import (
	"fmt"
	"os"

	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"
)

// General holds the airplay2.general.* keys (SPEC_FULL.md §3).
type General struct {
	IPv6      bool   `yaml:"ipv6"`
	UserAgent string `yaml:"user_agent"`
}

// Shared holds the airplay2.airplay_shared.* keys: local UDP ports for the
// timing/control services shared across every device (spec.md §3).
// airplay2.NewBackend does not take them; it always binds ephemeral ports.
type Shared struct {
	TimingPort  int `yaml:"timing_port"`
	ControlPort int `yaml:"control_port"`
}

// Device holds one airplay2.airplay.<name>.* entry (spec.md §4.11,
// SPEC_FULL.md §5 supplemented per-device knobs).
type Device struct {
	Exclude    bool `yaml:"exclude"`
	Permanent  bool `yaml:"permanent"`
	MaxVolume  int  `yaml:"max_volume"`
	Reconnect  bool `yaml:"reconnect"`
	OnlyProbe  bool `yaml:"only_probe"`
}

// Config is the full layered configuration tree.
type Config struct {
	General General           `yaml:"general"`
	Shared  Shared            `yaml:"airplay_shared"`
	Devices map[string]Device `yaml:"airplay"`
}

// defaults mirror the source's documented defaults for these knobs
// (SPEC_FULL.md §3).
func defaults() *Config {
	return &Config{
		General: General{IPv6: true, UserAgent: "AirPlay/665.13"},
		Shared:  Shared{TimingPort: 0, ControlPort: 0},
		Devices: make(map[string]Device),
	}
}

// Load reads path (if it exists) into a Config seeded with defaults, then
// applies any pflag overrides parsed from args. A missing path is not an
// error: a fresh install has nothing to load yet (spec.md §6 init).
func Load(path string, args []string) (*Config, error) {
	cfg := defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("airplay2/config: parse %s: %w", path, err)
			}
		case os.IsNotExist(err):
			// fall through with defaults
		default:
			return nil, fmt.Errorf("airplay2/config: read %s: %w", path, err)
		}
	}

	fs := pflag.NewFlagSet("airplay2", pflag.ContinueOnError)
	// Callers (cmd/airplay2ctl and friends) register their own flags on a
	// separate FlagSet parsing the same argv; each set must ignore the
	// other's flags rather than error on them.
	fs.ParseErrorsWhitelist = pflag.ParseErrorsWhitelist{UnknownFlags: true}
	ipv6 := fs.Bool("ipv6", cfg.General.IPv6, "prefer IPv6 control connections where a device advertises both families")
	userAgent := fs.String("user-agent", cfg.General.UserAgent, "RTSP User-Agent header sent on every request")
	timingPort := fs.Int("timing-port", cfg.Shared.TimingPort, "local UDP port for the timing service (0 = ephemeral)")
	controlPort := fs.Int("control-port", cfg.Shared.ControlPort, "local UDP port for the control/retransmit service (0 = ephemeral)")

	if err := fs.Parse(args); err != nil {
		return nil, fmt.Errorf("airplay2/config: parse flags: %w", err)
	}

	cfg.General.IPv6 = *ipv6
	cfg.General.UserAgent = *userAgent
	cfg.Shared.TimingPort = *timingPort
	cfg.Shared.ControlPort = *controlPort

	for name, d := range cfg.Devices {
		if clamped, wasClamped := clampMaxVolume(d.MaxVolume); wasClamped {
			d.MaxVolume = clamped
			cfg.Devices[name] = d
		}
	}

	return cfg, nil
}

// clampMaxVolume keeps invalid config values from disabling a device
// (SPEC_FULL.md §5, mirroring original_source's airplay_set_volume_one
// clamp behavior): zero (unset) and any value outside 1..11 become 11,
// the same bound as the root package's ClampMaxVolume. It logs nothing;
// the bool result reports whether the value was replaced.
func clampMaxVolume(v int) (int, bool) {
	if v == 0 {
		return 11, true
	}
	if v < 1 || v > 11 {
		return 11, true
	}
	return v, false
}

// DeviceFor looks up a device's config entry by name, returning the zero
// Device (no exclusions, max volume unset) if none is configured.
func (c *Config) DeviceFor(name string) Device {
	return c.Devices[name]
}
