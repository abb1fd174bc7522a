// SPDX-License-Identifier: BSD-2-Clause
// Copyright (C) 2024 Emir Aganovic

package airplay2

import "time"

// FeedbackInterval is how often a CONNECTED/STREAMING session must see a
// FEEDBACK POST, the AirPlay analogue of a SIP registration's qualify
// interval (spec.md §4.1 supplemented feature, §6 C10.10).
const FeedbackInterval = 25 * time.Second

// keepaliveLoop periodically POSTs /feedback to every session still
// connected, grounded on the teacher's RegisterTransaction.reregisterLoop
// (register_transaction.go): a single ticker walking a set of live
// handles rather than one timer per handle, generalized from "one
// REGISTER binding" to "every attached device".
type keepaliveLoop struct {
	backend *Backend
	ticker  *time.Ticker
	done    chan struct{}
}

func newKeepaliveLoop(b *Backend) *keepaliveLoop {
	return &keepaliveLoop{
		backend: b,
		ticker:  time.NewTicker(FeedbackInterval),
		done:    make(chan struct{}),
	}
}

func (k *keepaliveLoop) run() {
	for {
		select {
		case <-k.done:
			k.ticker.Stop()
			return
		case <-k.ticker.C:
			k.tick()
		}
	}
}

func (k *keepaliveLoop) stop() {
	close(k.done)
}

func (k *keepaliveLoop) tick() {
	k.backend.mu.Lock()
	sessions := make([]*Session, 0, len(k.backend.sessions))
	for _, s := range k.backend.sessions {
		sessions = append(sessions, s)
	}
	k.backend.mu.Unlock()

	for _, s := range sessions {
		state := s.getState()
		if state != StateConnected && state != StateStreaming {
			continue
		}
		k.backend.engine.Run(s, SeqFeedback, nil)
	}
}
