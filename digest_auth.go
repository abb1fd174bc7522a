// SPDX-License-Identifier: BSD-2-Clause
// Copyright (C) 2024 Emir Aganovic

package airplay2

import (
	"fmt"

	"github.com/icholy/digest"
)

// digestClient holds the one challenge a Session has seen from its device
// and renders the Authorization header for every subsequent request in the
// sequence. It is the client-side mirror of the teacher's DigestAuthServer
// (the file this replaces challenged SIP callers); both lean on
// icholy/digest for the RFC 2617 arithmetic rather than hand-rolling MD5.
type digestClient struct {
	username string
	password string
	chal     *digest.Challenge
}

// newDigestClient starts with no challenge, matching spec.md §4.1's "if the
// session has not yet set an auth header" check on the first 401.
func newDigestClient(username, password string) *digestClient {
	return &digestClient{username: username, password: password}
}

// Challenged reports whether a WWW-Authenticate header has already been
// parsed into this client. OPTIONS's response handler uses this to decide
// between START_RERUN (first 401) and PASSWORD (401 despite an auth header
// already sent — spec.md §4.1/§7 AUTH_BAD).
func (d *digestClient) Challenged() bool {
	return d.chal != nil
}

// ParseChallenge parses a WWW-Authenticate header value into the stored
// challenge.
func (d *digestClient) ParseChallenge(header string) error {
	chal, err := digest.ParseChallenge(header)
	if err != nil {
		return newError(ErrProtocol, 0, "", fmt.Errorf("parse WWW-Authenticate: %w", err))
	}
	d.chal = chal
	return nil
}

// Authorization renders the Authorization header value for method/uri given
// the previously parsed challenge. Returns "" with no error if no challenge
// has been seen yet, so the caller can send the request without the header.
func (d *digestClient) Authorization(method, uri string) (string, error) {
	if d.chal == nil {
		return "", nil
	}
	cred, err := digest.Digest(d.chal, digest.Options{
		Method:   method,
		URI:      uri,
		Username: d.username,
		Password: d.password,
	})
	if err != nil {
		return "", newError(ErrProtocol, 0, "", fmt.Errorf("compute digest: %w", err))
	}
	return cred.String(), nil
}
