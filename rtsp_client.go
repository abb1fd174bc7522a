// SPDX-License-Identifier: BSD-2-Clause
// Copyright (C) 2024 Emir Aganovic

package airplay2

import (
	"bufio"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// RTSPRequest is one outbound RTSP/1.0 request. Header is an ordered slice
// rather than a map so that request construction (sequence payload makers,
// spec.md §4.1) controls header order the same way every real RTSP/HTTP
// client does, instead of Go map iteration order.
type RTSPRequest struct {
	Method string
	URI    string
	Header []HeaderField
	Body   []byte
}

// HeaderField is one ordered RTSP header line.
type HeaderField struct {
	Name  string
	Value string
}

func (r *RTSPRequest) setHeader(name, value string) {
	for i := range r.Header {
		if strings.EqualFold(r.Header[i].Name, name) {
			r.Header[i].Value = value
			return
		}
	}
	r.Header = append(r.Header, HeaderField{Name: name, Value: value})
}

// RTSPResponse is a parsed RTSP/1.0 response.
type RTSPResponse struct {
	StatusCode int
	Reason     string
	Header     map[string]string
	Body       []byte
}

// GetHeader looks up a response header case-insensitively (RTSP headers, like
// HTTP's, are case-insensitive; the wire always sends them in a canonical
// case we don't control).
func (r *RTSPResponse) GetHeader(name string) (string, bool) {
	for k, v := range r.Header {
		if strings.EqualFold(k, name) {
			return v, true
		}
	}
	return "", false
}

// StreamCipher is the transport adapter a pairing collaborator installs on
// an RTSPClient once pair-verify/pair-transient completes (spec.md §4.1
// "Encryption transition", §9 "Cipher hook on the RTSP byte stream"). This
// package only defines the seam; computing the actual AEAD framing is out
// of scope (spec.md §1).
type StreamCipher interface {
	// EncryptFrame wraps one outbound write into whatever length-prefixed
	// AEAD framing the pairing collaborator uses.
	EncryptFrame(plaintext []byte) ([]byte, error)
	// DecryptFrame reads and unwraps exactly one inbound frame from r,
	// blocking until a full frame is available.
	DecryptFrame(r io.Reader) ([]byte, error)
}

// RTSPClient is a single-connection RTSP/1.0 client with a pluggable
// stream-cipher hook, grounded on the hand-rolled RTSP client in
// other_examples' camsRelay rtsp-client.go (bufio.Reader framing,
// CSeq/Session bookkeeping) since the teacher's transport (sipgo) speaks
// SIP, not RTSP. Responses are matched strictly by arrival order, not by
// CSeq (spec.md §4.1: "CSeq on responses is deliberately not checked"),
// because the sequence engine never has more than one request outstanding
// on a given session.
type RTSPClient struct {
	conn   net.Conn
	reader *bufio.Reader
	cipher StreamCipher

	writeMu sync.Mutex

	cseq    uint32
	pending int32 // "reqs_in_flight"

	respCh chan rtspReadResult

	closeMu sync.Mutex
	onClose func(error)
	closed  bool
}

type rtspReadResult struct {
	resp *RTSPResponse
	err  error
}

// DialRTSP connects to an AirPlay device's control port and starts the
// background response reader.
func DialRTSP(addr string, timeout time.Duration) (*RTSPClient, error) {
	conn, err := net.DialTimeout("tcp", addr, timeout)
	if err != nil {
		return nil, newError(ErrTransport, 0, "", fmt.Errorf("dial %s: %w", addr, err))
	}
	if tc, ok := conn.(*net.TCPConn); ok {
		_ = tc.SetNoDelay(true)
	}

	c := &RTSPClient{
		conn:   conn,
		reader: bufio.NewReaderSize(conn, 8192),
		respCh: make(chan rtspReadResult, 1),
	}
	go c.readLoop()
	return c, nil
}

// InstallCipher switches the client onto a paired, encrypted byte stream.
// After this call every write is framed through cipher.EncryptFrame and
// every response read through cipher.DecryptFrame (spec.md §4.1 "Encryption
// transition").
func (c *RTSPClient) InstallCipher(cipher StreamCipher) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.cipher = cipher
}

// SetCloseCallback installs the callback invoked when the connection closes
// or errors while no request is outstanding. The client itself tracks the
// in-flight count ("reqs_in_flight", spec.md §4.1): while it is non-zero a
// close surfaces as the pending request's error from Do and the callback
// is not invoked, so there is no duplicate notification.
func (c *RTSPClient) SetCloseCallback(cb func(error)) {
	c.closeMu.Lock()
	defer c.closeMu.Unlock()
	c.onClose = cb
}

// Close closes the underlying connection.
func (c *RTSPClient) Close() error {
	c.closeMu.Lock()
	c.closed = true
	c.closeMu.Unlock()
	return c.conn.Close()
}

// Do sends req and blocks for the next response on the wire. It counts
// itself as in flight for its whole duration, which keeps the close
// callback from firing while it waits (spec.md §4.1).
func (c *RTSPClient) Do(req *RTSPRequest) (*RTSPResponse, error) {
	atomic.AddInt32(&c.pending, 1)
	defer atomic.AddInt32(&c.pending, -1)

	if err := c.write(req); err != nil {
		return nil, err
	}

	result, ok := <-c.respCh
	if !ok {
		return nil, newError(ErrTransport, 0, "", fmt.Errorf("rtsp connection closed"))
	}
	if result.err != nil {
		return nil, newError(ErrTransport, 0, "", result.err)
	}
	return result.resp, nil
}

func (c *RTSPClient) nextCSeq() uint32 {
	return atomic.AddUint32(&c.cseq, 1)
}

// write serializes and sends one request, through the cipher if installed.
func (c *RTSPClient) write(req *RTSPRequest) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	var b strings.Builder
	fmt.Fprintf(&b, "%s %s RTSP/1.0\r\n", req.Method, req.URI)
	fmt.Fprintf(&b, "CSeq: %d\r\n", c.nextCSeq())
	for _, h := range req.Header {
		fmt.Fprintf(&b, "%s: %s\r\n", h.Name, h.Value)
	}
	if len(req.Body) > 0 {
		fmt.Fprintf(&b, "Content-Length: %d\r\n", len(req.Body))
	}
	b.WriteString("\r\n")

	out := []byte(b.String())
	out = append(out, req.Body...)

	if RTSPDebug {
		log.Debug().Str("method", req.Method).Str("uri", req.URI).Msg("rtsp >>")
	}

	if c.cipher != nil {
		framed, err := c.cipher.EncryptFrame(out)
		if err != nil {
			return newError(ErrEncryption, 0, "", err)
		}
		out = framed
	}

	_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	if _, err := c.conn.Write(out); err != nil {
		return newError(ErrTransport, 0, "", err)
	}
	return nil
}

// readLoop continuously parses responses off the wire (or decrypted
// frames, once a cipher is installed) and delivers them to Do's caller, or
// invokes the close callback if nothing is outstanding.
func (c *RTSPClient) readLoop() {
	for {
		resp, err := c.readOne()
		if err != nil {
			c.closeMu.Lock()
			closed := c.closed
			cb := c.onClose
			c.closeMu.Unlock()

			if atomic.LoadInt32(&c.pending) == 0 {
				close(c.respCh)
				if !closed && cb != nil {
					cb(err)
				}
				return
			}
			c.respCh <- rtspReadResult{err: err}
			close(c.respCh)
			return
		}
		c.respCh <- rtspReadResult{resp: resp}
	}
}

func (c *RTSPClient) readOne() (*RTSPResponse, error) {
	var src io.Reader = c.reader
	if c.cipher != nil {
		frame, err := c.cipher.DecryptFrame(c.reader)
		if err != nil {
			return nil, err
		}
		src = newByteReader(frame)
	}

	br := bufio.NewReader(src)
	statusLine, err := br.ReadString('\n')
	if err != nil {
		return nil, err
	}
	parts := strings.SplitN(strings.TrimRight(statusLine, "\r\n"), " ", 3)
	if len(parts) < 2 {
		return nil, fmt.Errorf("airplay2: malformed RTSP status line %q", statusLine)
	}
	code, err := strconv.Atoi(parts[1])
	if err != nil {
		return nil, fmt.Errorf("airplay2: malformed RTSP status code %q", parts[1])
	}
	reason := ""
	if len(parts) == 3 {
		reason = parts[2]
	}

	resp := &RTSPResponse{StatusCode: code, Reason: reason, Header: make(map[string]string)}

	contentLength := 0
	for {
		line, err := br.ReadString('\n')
		if err != nil {
			return nil, err
		}
		line = strings.TrimRight(line, "\r\n")
		if line == "" {
			break
		}
		idx := strings.IndexByte(line, ':')
		if idx < 0 {
			continue
		}
		name := strings.TrimSpace(line[:idx])
		value := strings.TrimSpace(line[idx+1:])
		resp.Header[name] = value
		if strings.EqualFold(name, "Content-Length") {
			contentLength, _ = strconv.Atoi(value)
		}
	}

	if contentLength > 0 {
		body := make([]byte, contentLength)
		if _, err := io.ReadFull(br, body); err != nil {
			return nil, err
		}
		resp.Body = body
	}

	if RTSPDebug {
		log.Debug().Int("status", code).Msg("rtsp <<")
	}

	return resp, nil
}

// byteReader adapts a plaintext decrypted frame to an io.Reader so readOne
// can reuse the same bufio-based parser whether or not a cipher is active.
type byteReader struct {
	b   []byte
	pos int
}

func newByteReader(b []byte) *byteReader { return &byteReader{b: b} }

func (r *byteReader) Read(p []byte) (int, error) {
	if r.pos >= len(r.b) {
		return 0, io.EOF
	}
	n := copy(p, r.b[r.pos:])
	r.pos += n
	return n, nil
}
