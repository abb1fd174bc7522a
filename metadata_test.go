// SPDX-License-Identifier: BSD-2-Clause
// Copyright (C) 2024 Emir Aganovic

package airplay2

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/kavlab/airplay2/rtp"
)

func TestTimestampAlgebraStartupAtAnchor(t *testing.T) {
	now := time.Unix(1_700_000_000, 0).UTC()
	cur := rtp.Stamp{Time: now, Pos: 100_000}

	md := Metadata{PTS: now, PosMS: 0, LenMS: 10_000, Startup: true}

	display, pos, end := timestampAlgebra(cur, md, 44100)

	require.Equal(t, cur.Pos-delaySamplesStartup, display)
	require.Equal(t, cur.Pos, pos)
	require.Equal(t, cur.Pos+10_000*44100/1000, end)
}

func TestTimestampAlgebraSwitchUsesLargerDelay(t *testing.T) {
	now := time.Unix(1_700_000_000, 0).UTC()
	cur := rtp.Stamp{Time: now, Pos: 50_000}
	md := Metadata{PTS: now, Startup: false}

	display, _, _ := timestampAlgebra(cur, md, 44100)
	require.Equal(t, cur.Pos-delaySamplesSwitch, display)
}

func TestProgressParameterBodyFormat(t *testing.T) {
	now := time.Unix(1_700_000_000, 0).UTC()
	cur := rtp.Stamp{Time: now, Pos: 100_000}
	md := Metadata{PTS: now, LenMS: 10_000, Startup: true}

	got := ProgressParameterBody(cur, md, 44100)
	display, pos, end := timestampAlgebra(cur, md, 44100)
	want := fmt.Sprintf("progress: %d/%d/%d\r\n", display, pos, end)
	require.Equal(t, want, got)
}
