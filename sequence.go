// SPDX-License-Identifier: BSD-2-Clause
// Copyright (C) 2024 Emir Aganovic

package airplay2

import "fmt"

// SequenceType names one of the table-driven RTSP sequences (spec.md §4.1).
type SequenceType int

const (
	SeqStart SequenceType = iota
	SeqStartRerun
	SeqStartAP2
	SeqProbe
	SeqFlush
	SeqStop
	SeqFailure
	SeqPinStart
	SeqPairSetup
	SeqPairVerify
	SeqPairTransient
	SeqSendVolume
	SeqSendText
	SeqSendProgress
	SeqSendArtwork
	SeqFeedback
)

func (t SequenceType) String() string {
	switch t {
	case SeqStart:
		return "START"
	case SeqStartRerun:
		return "START_RERUN"
	case SeqStartAP2:
		return "START_AP2"
	case SeqProbe:
		return "PROBE"
	case SeqFlush:
		return "FLUSH"
	case SeqStop:
		return "STOP"
	case SeqFailure:
		return "FAILURE"
	case SeqPinStart:
		return "PIN_START"
	case SeqPairSetup:
		return "PAIR_SETUP"
	case SeqPairVerify:
		return "PAIR_VERIFY"
	case SeqPairTransient:
		return "PAIR_TRANSIENT"
	case SeqSendVolume:
		return "SEND_VOLUME"
	case SeqSendText:
		return "SEND_TEXT"
	case SeqSendProgress:
		return "SEND_PROGRESS"
	case SeqSendArtwork:
		return "SEND_ARTWORK"
	case SeqFeedback:
		return "FEEDBACK"
	default:
		return "UNKNOWN"
	}
}

// StepResult is what a payloadMaker returns (spec.md §4.1).
type StepResult int

const (
	StepOK StepResult = iota
	StepSkip
	StepErr
)

// StepAction is what a responseHandler returns: continue to the next step,
// abort the sequence, or jump to replace the running sequence with another
// (same session), per spec.md §4.1.
type StepAction struct {
	abort bool
	jump  SequenceType
	hasJump bool
}

// Continue advances the sequence cursor to the next step.
func Continue() StepAction { return StepAction{} }

// Abort fails the sequence, invoking its on_error terminator.
func Abort() StepAction { return StepAction{abort: true} }

// JumpTo replaces the running sequence with seq on the same session.
func JumpTo(seq SequenceType) StepAction { return StepAction{hasJump: true, jump: seq} }

// payloadMaker builds one request's body/headers, or reports SKIP/ERR
// (spec.md §4.1).
type payloadMaker func(req *RTSPRequest, s *Session, arg interface{}) (StepResult, error)

// responseHandler inspects one response and decides what happens next.
type responseHandler func(resp *RTSPResponse, s *Session, arg interface{}) (StepAction, error)

// Step is one request/response pair in a Sequence.
type Step struct {
	Method         string
	ContentType    string
	URIOverride    string // empty means use the session URL
	PayloadMaker   payloadMaker
	ResponseHandler responseHandler
	ProceedOnNotOK bool // if true, a non-200 still runs ResponseHandler instead of auto-aborting
}

// Sequence is a named, ordered list of RTSP request/response steps (spec.md
// §4.1, §9 "table-driven sequences").
type Sequence struct {
	Name    string
	Steps   []Step
	OnSuccess func(s *Session, arg interface{})
	OnError   func(s *Session, err error, arg interface{})
}

// SequenceTable maps every SequenceType to its declarative Sequence.
type SequenceTable map[SequenceType]*Sequence

// Engine runs sequences against a Session's RTSP transport (spec.md §4.1,
// the "heart of the state machine"). It holds no per-session mutable state
// of its own; everything it touches lives on the Session passed to Run.
type Engine struct {
	table SequenceTable
}

// NewEngine builds an engine from a sequence table. A table missing any
// SequenceType is a FATAL_BUG (spec.md §3 ErrorKind) and panics here, so
// NewBackend fails at construction instead of at the first run of the
// missing sequence.
func NewEngine(table SequenceTable) *Engine {
	for t := SeqStart; t <= SeqFeedback; t++ {
		if _, ok := table[t]; !ok {
			panic(newError(ErrFatalBug, 0, t.String(), fmt.Errorf("sequence missing from table")))
		}
	}
	return &Engine{table: table}
}

// Run executes seqType against s, replacing any sequence currently assigned
// to s.CurrentSequence. arg is passed through to every payload maker and
// response handler unchanged, carrying per-invocation data (a pin, a volume
// percent, a metadata item) the table's closures need.
//
// Run is the external entry point and holds s.runMu for the duration of the
// whole chained run, serializing every caller that can reach this session
// (the keepalive loop, player-driven calls, RTSP responses triggering a
// JumpTo or an OnSuccess continuation) so only one request is ever
// outstanding on s.rtsp at a time (spec.md §5).
func (e *Engine) Run(s *Session, seqType SequenceType, arg interface{}) {
	s.runMu.Lock()
	defer s.runMu.Unlock()
	e.runLocked(s, seqType, arg)
}

// runLocked is the chaining entry point: JumpTo and a sequence's OnSuccess
// continuing into another sequence on the same session both happen on the
// goroutine that already holds s.runMu via Run, so they call this instead of
// Run to avoid re-locking (sync.Mutex is not reentrant).
func (e *Engine) runLocked(s *Session, seqType SequenceType, arg interface{}) {
	seq, ok := e.table[seqType]
	if !ok {
		s.fail(newError(ErrFatalBug, s.Device.ID, seqType.String(), fmt.Errorf("no such sequence in table")))
		return
	}

	s.CurrentSequence = seqType
	e.runSteps(s, seq, 0, arg)
}

func (e *Engine) runSteps(s *Session, seq *Sequence, idx int, arg interface{}) {
	for i := idx; i < len(seq.Steps); i++ {
		step := seq.Steps[i]

		req := &RTSPRequest{Method: step.Method, URI: e.uri(s, step)}
		if step.ContentType != "" {
			req.setHeader("Content-Type", step.ContentType)
		}

		if step.PayloadMaker != nil {
			result, err := step.PayloadMaker(req, s, arg)
			switch result {
			case StepSkip:
				continue
			case StepErr:
				if _, ok := err.(*Error); !ok {
					err = newError(ErrProtocol, s.Device.ID, seq.Name, err)
				}
				e.abort(s, seq, err, arg)
				return
			}
		}

		e.standardHeaders(req, s)

		resp, err := s.rtsp.Do(req)
		if err != nil {
			e.abort(s, seq, err, arg)
			return
		}

		if !step.ProceedOnNotOK && resp.StatusCode != 200 {
			e.abort(s, seq, newError(ErrProtocol, s.Device.ID, seq.Name, fmt.Errorf("%s %s: %d %s", step.Method, req.URI, resp.StatusCode, resp.Reason)), arg)
			return
		}

		if step.ResponseHandler == nil {
			continue
		}

		action, err := step.ResponseHandler(resp, s, arg)
		if err != nil {
			e.abort(s, seq, err, arg)
			return
		}
		if action.abort {
			e.abort(s, seq, newError(ErrProtocol, s.Device.ID, seq.Name, fmt.Errorf("aborted by response handler")), arg)
			return
		}
		if action.hasJump {
			e.runLocked(s, action.jump, arg)
			return
		}
	}

	if seq.OnSuccess != nil {
		seq.OnSuccess(s, arg)
	}
}

func (e *Engine) abort(s *Session, seq *Sequence, err error, arg interface{}) {
	if seq.OnError != nil {
		seq.OnError(s, err, arg)
		return
	}
	s.fail(err)
}

func (e *Engine) uri(s *Session, step Step) string {
	if step.URIOverride != "" {
		return step.URIOverride
	}
	return s.SessionURL()
}

// standardHeaders attaches the headers every RTSP request carries (spec.md
// §4.1): CSeq is added by RTSPClient itself; here we add User-Agent,
// Session, Active-Remote, Client-Instance/DACP-ID, and a Digest
// Authorization header if a prior challenge was seen.
func (e *Engine) standardHeaders(req *RTSPRequest, s *Session) {
	req.setHeader("User-Agent", s.UserAgent)
	if s.SessionID != 0 {
		req.setHeader("Session", fmt.Sprintf("%d", s.SessionID))
	}
	req.setHeader("Active-Remote", s.ActiveRemote)
	req.setHeader("Client-Instance", s.ClientInstance)
	req.setHeader("DACP-ID", s.ClientInstance)

	if auth, err := s.digest.Authorization(req.Method, req.URI); err == nil && auth != "" {
		req.setHeader("Authorization", auth)
	}
}
