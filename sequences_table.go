// SPDX-License-Identifier: BSD-2-Clause
// Copyright (C) 2024 Emir Aganovic

package airplay2

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/kavlab/airplay2/plist"
)

// BuildSequenceTable returns the minimum set of sequences spec.md §4.1
// requires. backend supplies the cross-session state (master session
// registry, metadata worker) a handful of response handlers need.
func BuildSequenceTable(backend *Backend) SequenceTable {
	t := SequenceTable{}

	t[SeqStart] = &Sequence{
		Name: "START",
		Steps: []Step{
			{
				Method:         "OPTIONS",
				ProceedOnNotOK: true,
				ResponseHandler: func(resp *RTSPResponse, s *Session, arg interface{}) (StepAction, error) {
					switch resp.StatusCode {
					case 200:
						return Continue(), nil
					case 401:
						if s.digest.Challenged() {
							return StepAction{}, newError(ErrAuthBad, s.Device.ID, "START", fmt.Errorf("bad password"))
						}
						www, _ := resp.GetHeader("WWW-Authenticate")
						if err := s.digest.ParseChallenge(www); err != nil {
							return StepAction{}, err
						}
						return JumpTo(SeqStartRerun), nil
					case 403:
						s.Device.RequiresAuth = true
						return JumpTo(SeqPinStart), nil
					default:
						return StepAction{}, newError(ErrProtocol, s.Device.ID, "START", fmt.Errorf("unexpected OPTIONS status %d", resp.StatusCode))
					}
				},
			},
		},
		OnSuccess: func(s *Session, arg interface{}) { backend.engine.runLocked(s, SeqStartAP2, arg) },
		OnError: func(s *Session, err error, arg interface{}) {
			if ae, ok := err.(*Error); ok && ae.Kind == ErrAuthBad {
				s.setState(StatePassword)
				backend.notifyPassword(s)
				return
			}
			backend.onSequenceError(s, err)
		},
	}

	t[SeqStartRerun] = &Sequence{
		Name: "START_RERUN",
		Steps: []Step{
			{Method: "OPTIONS"},
		},
		OnSuccess: func(s *Session, arg interface{}) { backend.engine.runLocked(s, SeqStartAP2, arg) },
		OnError:   func(s *Session, err error, arg interface{}) { backend.onSequenceError(s, err) },
	}

	t[SeqStartAP2] = &Sequence{
		Name: "START_AP2",
		Steps: []Step{
			{
				Method:      "SETUP",
				ContentType: "application/x-apple-binary-plist",
				URIOverride: "",
				PayloadMaker: func(req *RTSPRequest, s *Session, arg interface{}) (StepResult, error) {
					body, err := plist.Marshal(plist.SessionSetup{
						SessionUUID:    uuid.NewString(),
						TimingPort:     backend.timingPort(),
						TimingProtocol: "NTP",
					})
					if err != nil {
						return StepErr, err
					}
					req.Body = body
					return StepOK, nil
				},
				ResponseHandler: func(resp *RTSPResponse, s *Session, arg interface{}) (StepAction, error) {
					var out plist.SessionSetupResponse
					if err := plist.Unmarshal(resp.Body, &out); err != nil {
						return StepAction{}, newError(ErrProtocol, s.Device.ID, "START_AP2", err)
					}
					s.EventsPort = out.EventPort
					return Continue(), nil
				},
			},
			{
				Method:      "SETPEERS",
				ContentType: "application/x-apple-binary-plist",
				PayloadMaker: func(req *RTSPRequest, s *Session, arg interface{}) (StepResult, error) {
					body, err := plist.Marshal(plist.Peers{s.localAddr.String(), s.Device.Address.String()})
					if err != nil {
						return StepErr, err
					}
					req.Body = body
					return StepOK, nil
				},
			},
			{
				Method:      "SETUP",
				ContentType: "application/x-apple-binary-plist",
				PayloadMaker: func(req *RTSPRequest, s *Session, arg interface{}) (StepResult, error) {
					if len(s.sharedSecret) < 32 {
						return StepErr, newError(ErrFatalBug, s.Device.ID, "START_AP2", fmt.Errorf("no shared secret derived before SETUP(stream)"))
					}
					body, err := plist.Marshal(plist.StreamSetupRequest{Streams: []plist.StreamSetup{{
						AudioFormat:        262144,
						AudioMode:          "default",
						CT:                 2,
						SPF:                352,
						SR:                 44100,
						Type:               96,
						SharedKey:          s.sharedSecret[:32],
						ControlPort:        backend.controlPort(),
						LatencyMin:         11025,
						LatencyMax:         88200,
						StreamConnectionID: int64(s.SessionID),
						IsMedia:            true,
					}}})
					if err != nil {
						return StepErr, err
					}
					req.Body = body
					return StepOK, nil
				},
				ResponseHandler: func(resp *RTSPResponse, s *Session, arg interface{}) (StepAction, error) {
					var out plist.StreamSetupResponse
					if err := plist.Unmarshal(resp.Body, &out); err != nil {
						return StepAction{}, newError(ErrProtocol, s.Device.ID, "START_AP2", err)
					}
					if len(out.Streams) == 0 || out.Streams[0].DataPort == 0 || out.Streams[0].ControlPort == 0 {
						return StepAction{}, newError(ErrProtocol, s.Device.ID, "START_AP2", fmt.Errorf("missing data_port/control_port in SETUP(stream) response"))
					}
					s.DataPort = out.Streams[0].DataPort
					s.ControlPort = out.Streams[0].ControlPort
					if err := s.dialData(); err != nil {
						return StepAction{}, err
					}
					return Continue(), nil
				},
			},
			{
				Method:      "SET_PARAMETER",
				ContentType: "text/parameters",
				PayloadMaker: func(req *RTSPRequest, s *Session, arg interface{}) (StepResult, error) {
					req.Body = []byte(VolumeParameterBody(PercentToDB(backend.initialVolumePercent(s.Device), s.Device.MaxVolume)))
					return StepOK, nil
				},
			},
			{
				Method: "RECORD",
				PayloadMaker: func(req *RTSPRequest, s *Session, arg interface{}) (StepResult, error) {
					req.setHeader("X-Apple-ProtocolVersion", "1")
					req.setHeader("Range", "npt=0-")
					req.setHeader("RTP-Info", rtpInfoHeader(s.Master))
					return StepOK, nil
				},
				ResponseHandler: func(resp *RTSPResponse, s *Session, arg interface{}) (StepAction, error) {
					s.setState(StateConnected)
					return Continue(), nil
				},
			},
		},
		OnSuccess: func(s *Session, arg interface{}) { backend.onSessionConnected(s) },
		OnError:   func(s *Session, err error, arg interface{}) { backend.onSequenceError(s, err) },
	}

	t[SeqProbe] = &Sequence{
		Name:      "PROBE",
		Steps:     []Step{{Method: "OPTIONS"}},
		OnSuccess: func(s *Session, arg interface{}) { backend.onProbeSuccess(s) },
		OnError:   func(s *Session, err error, arg interface{}) { backend.onSequenceError(s, err) },
	}

	t[SeqFlush] = &Sequence{
		Name: "FLUSH",
		Steps: []Step{{
			Method: "FLUSH",
			PayloadMaker: func(req *RTSPRequest, s *Session, arg interface{}) (StepResult, error) {
				req.setHeader("RTP-Info", rtpInfoHeader(s.Master))
				return StepOK, nil
			},
			ResponseHandler: func(resp *RTSPResponse, s *Session, arg interface{}) (StepAction, error) {
				s.setState(StateConnected)
				return Continue(), nil
			},
		}},
		OnError: func(s *Session, err error, arg interface{}) { backend.onSequenceError(s, err) },
	}

	teardown := Step{Method: "TEARDOWN"}
	t[SeqStop] = &Sequence{
		Name:      "STOP",
		Steps:     []Step{teardown},
		OnSuccess: func(s *Session, arg interface{}) { s.fail(nil) },
		OnError:   func(s *Session, err error, arg interface{}) { s.fail(err) },
	}
	t[SeqFailure] = &Sequence{
		Name:      "FAILURE",
		Steps:     []Step{teardown},
		OnSuccess: func(s *Session, arg interface{}) { s.fail(nil) },
		OnError:   func(s *Session, err error, arg interface{}) { s.fail(err) },
	}

	t[SeqPinStart] = &Sequence{
		Name: "PIN_START",
		Steps: []Step{{
			Method:      "POST",
			URIOverride: "/pair-pin-start",
			ContentType: "application/octet-stream",
			PayloadMaker: func(req *RTSPRequest, s *Session, arg interface{}) (StepResult, error) {
				if s.Pairing.Pin == nil {
					return StepErr, newError(ErrFatalBug, s.Device.ID, "PIN_START", fmt.Errorf("no pin-start collaborator configured"))
				}
				body, err := s.Pairing.Pin.Start()
				if err != nil {
					return StepErr, err
				}
				req.Body = body
				return StepOK, nil
			},
		}},
		OnSuccess: func(s *Session, arg interface{}) { backend.onAuthRequired(s) },
		OnError:   func(s *Session, err error, arg interface{}) { backend.onSequenceError(s, err) },
	}

	t[SeqPairSetup] = pairSetupSequence(backend)
	t[SeqPairVerify] = pairVerifySequence(backend)
	t[SeqPairTransient] = pairTransientSequence(backend)

	t[SeqSendVolume] = singleParamSequence("SEND_VOLUME", "text/parameters", func(s *Session, arg interface{}) ([]byte, error) {
		pct, ok := arg.(int)
		if !ok {
			return nil, fmt.Errorf("airplay2: SEND_VOLUME expects an int percent arg")
		}
		return []byte(VolumeParameterBody(PercentToDB(pct, s.Device.MaxVolume))), nil
	})

	t[SeqSendText] = singleParamSequence("SEND_TEXT", "application/x-dmap-tagged", func(s *Session, arg interface{}) ([]byte, error) {
		body, ok := arg.([]byte)
		if !ok {
			return nil, fmt.Errorf("airplay2: SEND_TEXT expects a []byte arg")
		}
		return body, nil
	})

	t[SeqSendArtwork] = singleParamSequence("SEND_ARTWORK", "image/jpeg", func(s *Session, arg interface{}) ([]byte, error) {
		body, ok := arg.([]byte)
		if !ok {
			return nil, fmt.Errorf("airplay2: SEND_ARTWORK expects a []byte arg")
		}
		return body, nil
	})

	t[SeqSendProgress] = singleParamSequence("SEND_PROGRESS", "text/parameters", func(s *Session, arg interface{}) ([]byte, error) {
		md, ok := arg.(Metadata)
		if !ok {
			return nil, fmt.Errorf("airplay2: SEND_PROGRESS expects a Metadata arg")
		}
		return []byte(ProgressParameterBody(s.Master.curStamp, md, s.Master.quality.SampleRate)), nil
	})

	t[SeqFeedback] = &Sequence{
		Name:  "FEEDBACK",
		Steps: []Step{{Method: "POST", URIOverride: "/feedback"}},
	}

	return t
}

// singleParamSequence builds a one-step SET_PARAMETER sequence, covering
// SEND_VOLUME/SEND_TEXT/SEND_PROGRESS/SEND_ARTWORK (spec.md §4.1, §4.8),
// which differ only in content type and body construction.
func singleParamSequence(name, contentType string, body func(s *Session, arg interface{}) ([]byte, error)) *Sequence {
	return &Sequence{
		Name: name,
		Steps: []Step{{
			Method:      "SET_PARAMETER",
			ContentType: contentType,
			PayloadMaker: func(req *RTSPRequest, s *Session, arg interface{}) (StepResult, error) {
				b, err := body(s, arg)
				if err != nil {
					return StepErr, err
				}
				req.Body = b
				if s.Master != nil {
					req.setHeader("RTP-Info", rtpInfoHeader(s.Master))
				}
				return StepOK, nil
			},
		}},
	}
}

func pairSetupSequence(backend *Backend) *Sequence {
	return &Sequence{
		Name: "PAIR_SETUP",
		Steps: []Step{
			{
				Method: "POST", URIOverride: "/pair-setup", ContentType: "application/octet-stream",
				PayloadMaker: func(req *RTSPRequest, s *Session, arg interface{}) (StepResult, error) {
					body, err := s.Pairing.Setup.SetupStep1()
					if err != nil {
						return StepErr, err
					}
					req.Body = body
					return StepOK, nil
				},
				ResponseHandler: func(resp *RTSPResponse, s *Session, arg interface{}) (StepAction, error) {
					s.lastPairingResponse = resp.Body
					return Continue(), nil
				},
			},
			{
				Method: "POST", URIOverride: "/pair-setup", ContentType: "application/octet-stream",
				PayloadMaker: func(req *RTSPRequest, s *Session, arg interface{}) (StepResult, error) {
					pin, _ := arg.(string)
					body, err := s.Pairing.Setup.SetupStep2(s.lastPairingResponse, pin)
					if err != nil {
						return StepErr, err
					}
					req.Body = body
					return StepOK, nil
				},
				ResponseHandler: func(resp *RTSPResponse, s *Session, arg interface{}) (StepAction, error) {
					s.lastPairingResponse = resp.Body
					return Continue(), nil
				},
			},
			{
				Method: "POST", URIOverride: "/pair-setup", ContentType: "application/octet-stream",
				PayloadMaker: func(req *RTSPRequest, s *Session, arg interface{}) (StepResult, error) {
					body, err := s.Pairing.Setup.SetupStep3(s.lastPairingResponse)
					if err != nil {
						return StepErr, err
					}
					req.Body = body
					return StepOK, nil
				},
				ResponseHandler: func(resp *RTSPResponse, s *Session, arg interface{}) (StepAction, error) {
					key, err := s.Pairing.Setup.AuthKey(resp.Body)
					if err != nil {
						return StepAction{}, err
					}
					s.Device.AuthKey = key
					s.Device.RequiresAuth = false
					return Continue(), nil
				},
			},
		},
		OnSuccess: func(s *Session, arg interface{}) { backend.onPairSetupSuccess(s) },
		OnError:   func(s *Session, err error, arg interface{}) { backend.onSequenceError(s, err) },
	}
}

func pairVerifySequence(backend *Backend) *Sequence {
	return &Sequence{
		Name: "PAIR_VERIFY",
		Steps: []Step{
			{
				Method: "POST", URIOverride: "/pair-verify", ContentType: "application/octet-stream",
				ProceedOnNotOK: true,
				PayloadMaker: func(req *RTSPRequest, s *Session, arg interface{}) (StepResult, error) {
					body, err := s.Pairing.Verify.VerifyStep1(s.Device.AuthKey)
					if err != nil {
						return StepErr, err
					}
					req.Body = body
					return StepOK, nil
				},
				ResponseHandler: func(resp *RTSPResponse, s *Session, arg interface{}) (StepAction, error) {
					if resp.StatusCode != 200 {
						return StepAction{}, newError(ErrAuthBad, s.Device.ID, "PAIR_VERIFY", fmt.Errorf("pair-verify step 1: status %d", resp.StatusCode))
					}
					s.lastPairingResponse = resp.Body
					return Continue(), nil
				},
			},
			{
				Method: "POST", URIOverride: "/pair-verify", ContentType: "application/octet-stream",
				PayloadMaker: func(req *RTSPRequest, s *Session, arg interface{}) (StepResult, error) {
					body, err := s.Pairing.Verify.VerifyStep2(s.lastPairingResponse)
					if err != nil {
						return StepErr, newError(ErrAuthBad, s.Device.ID, "PAIR_VERIFY", err)
					}
					req.Body = body
					return StepOK, nil
				},
				ResponseHandler: func(resp *RTSPResponse, s *Session, arg interface{}) (StepAction, error) {
					secret, err := s.Pairing.Verify.SharedSecret(resp.Body)
					if err != nil {
						return StepAction{}, err
					}
					if _, err := s.installCiphers(secret); err != nil {
						return StepAction{}, err
					}
					return Continue(), nil
				},
			},
		},
		OnSuccess: func(s *Session, arg interface{}) { backend.engine.runLocked(s, s.NextSeq, arg) },
		OnError: func(s *Session, err error, arg interface{}) {
			if ae, ok := err.(*Error); ok && ae.Kind == ErrAuthBad {
				s.Device.AuthKey = nil
				s.setState(StatePassword)
				backend.notifyPassword(s)
				return
			}
			backend.onSequenceError(s, err)
		},
	}
}

func pairTransientSequence(backend *Backend) *Sequence {
	return &Sequence{
		Name: "PAIR_TRANSIENT",
		Steps: []Step{
			{
				Method: "POST", URIOverride: "/pair-setup", ContentType: "application/octet-stream",
				ProceedOnNotOK: true,
				PayloadMaker: func(req *RTSPRequest, s *Session, arg interface{}) (StepResult, error) {
					body, err := s.Pairing.Transient.TransientStep1()
					if err != nil {
						return StepErr, err
					}
					req.Body = body
					return StepOK, nil
				},
				ResponseHandler: func(resp *RTSPResponse, s *Session, arg interface{}) (StepAction, error) {
					if resp.StatusCode == 470 {
						s.Device.RequiresAuth = true
						s.PairType = PairHomeKitNormal
						return JumpTo(SeqPinStart), nil
					}
					if resp.StatusCode != 200 {
						return StepAction{}, newError(ErrProtocol, s.Device.ID, "PAIR_TRANSIENT", fmt.Errorf("pair-setup step 1: status %d", resp.StatusCode))
					}
					s.lastPairingResponse = resp.Body
					return Continue(), nil
				},
			},
			{
				Method: "POST", URIOverride: "/pair-setup", ContentType: "application/octet-stream",
				PayloadMaker: func(req *RTSPRequest, s *Session, arg interface{}) (StepResult, error) {
					body, err := s.Pairing.Transient.TransientStep2(s.lastPairingResponse)
					if err != nil {
						return StepErr, err
					}
					req.Body = body
					return StepOK, nil
				},
				ResponseHandler: func(resp *RTSPResponse, s *Session, arg interface{}) (StepAction, error) {
					buf64, err := s.Pairing.Transient.SharedSecret(resp.Body)
					if err != nil {
						return StepAction{}, err
					}
					if len(buf64) < 32 {
						return StepAction{}, newError(ErrFatalBug, s.Device.ID, "PAIR_TRANSIENT", fmt.Errorf("transient shared secret shorter than 32 bytes"))
					}
					if _, err := s.installCiphers(buf64[:32]); err != nil {
						return StepAction{}, err
					}
					return Continue(), nil
				},
			},
		},
		OnSuccess: func(s *Session, arg interface{}) { backend.engine.runLocked(s, s.NextSeq, arg) },
		OnError:   func(s *Session, err error, arg interface{}) { backend.onSequenceError(s, err) },
	}
}

// rtpInfoHeader renders "seq=<next>;rtptime=<pos>" for RECORD/FLUSH
// (spec.md §6).
func rtpInfoHeader(m *MasterSession) string {
	if m == nil {
		return ""
	}
	seq, pos := m.currentCursor()
	return fmt.Sprintf("seq=%d;rtptime=%d", seq, pos)
}

