// SPDX-License-Identifier: BSD-2-Clause
// Copyright (C) 2024 Emir Aganovic

// Command airplay2ctl is a minimal manual-test harness for the airplay2
// core: point it at one device's address and a 44.1kHz/16-bit/stereo WAV
// file and it streams the file to that device, driving the same
// Backend/Session/MasterSession machinery a full player would.
package main

import (
	"fmt"
	"net"
	"os"
	"time"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/spf13/pflag"

	"github.com/kavlab/airplay2"
	"github.com/kavlab/airplay2/internal/config"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "airplay2ctl:", err)
		os.Exit(1)
	}
}

func run() error {
	args, err := parseArgs(os.Args[1:])
	if err != nil {
		return err
	}

	cfg, err := config.Load(os.Getenv("AIRPLAY2_CONFIG"), os.Args[1:])
	if err != nil {
		return err
	}

	if args.address == "" || args.wavPath == "" {
		return fmt.Errorf("usage: airplay2ctl --address <ip> --port <n> --wav <file>")
	}

	f, err := os.Open(args.wavPath)
	if err != nil {
		return err
	}
	defer f.Close()

	dec := wav.NewDecoder(f)
	if !dec.IsValidFile() {
		return fmt.Errorf("%s is not a valid WAV file", args.wavPath)
	}

	backend, err := airplay2.NewBackend(
		airplay2.WithUserAgent(cfg.General.UserAgent),
		airplay2.WithBindIP(net.IPv4zero),
	)
	if err != nil {
		return err
	}
	defer backend.Deinit()

	device := &airplay2.Device{
		ID:        1,
		Name:      "airplay2ctl-target",
		Address:   net.ParseIP(args.address),
		Family:    airplay2.FamilyIPv4,
		Port:      args.port,
		MaxVolume: 11,
	}

	backend.SetOnDeviceEvent(func(d *airplay2.Device, state airplay2.State) {
		fmt.Fprintf(os.Stderr, "device %s: %s\n", d.Name, state)
	})

	if _, err := backend.DeviceStart(device); err != nil {
		return err
	}

	quality := airplay2.DefaultQuality(true)
	buf := &audio.IntBuffer{
		Format: &audio.Format{NumChannels: 2, SampleRate: 44100},
		Data:   make([]int, 4096),
	}

	for {
		if err := dec.PCMBuffer(buf); err != nil || len(buf.Data) == 0 {
			break
		}
		backend.Write(quality, encodeInt16LE(buf.Data), time.Now())
	}

	return nil
}

// encodeInt16LE packs decoded PCM samples into the little-endian 16-bit
// stereo byte stream MasterSession.Write expects (spec.md §3, §4.2).
func encodeInt16LE(samples []int) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		out[i*2] = byte(s)
		out[i*2+1] = byte(s >> 8)
	}
	return out
}

type cliArgs struct {
	address string
	port    int
	wavPath string
}

// parseArgs reads this command's own flags with spf13/pflag (SPEC_FULL.md
// §4's cmd/airplay2ctl flag-parsing entry), the same library
// internal/config.Load uses for its layer of overrides. Both flag sets
// parse the same argv, so unknown flags (the other set's) are whitelisted
// rather than treated as errors.
func parseArgs(args []string) (cliArgs, error) {
	fs := pflag.NewFlagSet("airplay2ctl", pflag.ContinueOnError)
	fs.ParseErrorsWhitelist = pflag.ParseErrorsWhitelist{UnknownFlags: true}

	address := fs.String("address", "", "target device IP address")
	port := fs.Int("port", 7000, "target device RTSP control port")
	wavPath := fs.String("wav", "", "path to a 44.1kHz/16-bit/stereo WAV file to stream")

	if err := fs.Parse(args); err != nil {
		return cliArgs{}, err
	}

	return cliArgs{address: *address, port: *port, wavPath: *wavPath}, nil
}
