// SPDX-License-Identifier: BSD-2-Clause
// Copyright (C) 2024 Emir Aganovic

package rtp

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestNTPRoundTrip(t *testing.T) {
	cases := []time.Time{
		time.Unix(0, 0).UTC(),
		time.Unix(1_700_000_000, 500_000_000).UTC(),
		time.Unix(1_700_000_000, 999_999_999).UTC(),
	}

	for _, tt := range cases {
		ntp := TimespecToNTP(tt)
		back := NTPToTimespec(ntp)
		require.InDelta(t, tt.UnixNano(), back.UnixNano(), 1, "round trip for %v", tt)
	}
}

func TestCurrentNTPMonotonic(t *testing.T) {
	Now = func() time.Time { return time.Unix(1_700_000_000, 0).UTC() }
	defer func() { Now = time.Now }()

	a := CurrentNTP()
	b := CurrentNTP()
	require.Equal(t, a, b)
}
