// Package signaling manages one-to-one call setup, negotiation and teardown
// over the channel transport, using the standard offer/answer/ICE-candidate
// exchange. Every signaling message is scoped to its call via a dedicated
// per-call channel, so two calls' messages can never interleave.
package signaling

import (
	"fmt"
	"sync"

	"github.com/caretransit/commlink/pkg/internal/models"
	"github.com/caretransit/commlink/pkg/internal/transport"
	"github.com/rs/zerolog/log"
)

type State = string

const (
	StateConnecting = State("connecting")
	StateActive     = State("active")
	StateEnded      = State("ended")
)

type ConnectionState = string

const (
	ConnectionConnected    = ConnectionState("connected")
	ConnectionDisconnected = ConnectionState("disconnected")
	ConnectionFailed       = ConnectionState("failed")
)

// Session owns one side of one call: the peer connection, the local media and
// the per-call channel subscription. All state lives on the session object so
// concurrent calls stay isolated.
type Session struct {
	callId   string
	self     uint
	hub      *transport.Hub
	sub      *transport.Subscription
	pc       PeerConnection
	media    MediaStream
	recorder Recorder
	onState  func(State)

	mu        sync.Mutex
	state     State
	remoteSet bool
	// Candidates routinely arrive before the remote description; they are
	// buffered here and flushed in receipt order once it lands.
	pending   []models.ICECandidate
	endReason string
	closed    bool
}

func newSession(hub *transport.Hub, callId string, self uint, pc PeerConnection, media MediaStream, recorder Recorder, onState func(State)) *Session {
	if recorder == nil {
		recorder = NoopRecorder{}
	}
	if onState == nil {
		onState = func(State) {}
	}
	session := &Session{
		callId:   callId,
		self:     self,
		hub:      hub,
		sub:      hub.Open(channelName(callId)),
		pc:       pc,
		media:    media,
		recorder: recorder,
		onState:  onState,
		state:    StateConnecting,
	}

	go session.receiveLoop()

	return session
}

func channelName(callId string) string {
	return fmt.Sprintf("video-call-%s", callId)
}

// StartCall runs the caller side: create and publish the offer, then wait for
// the answer on the per-call channel. A failed offer is fatal to the attempt
// and tears the session down with a connection_error.
func StartCall(hub *transport.Hub, callId string, self uint, pc PeerConnection, media MediaStream, recorder Recorder, onState func(State)) (*Session, error) {
	session := newSession(hub, callId, self, pc, media, recorder, onState)

	offer, err := pc.CreateOffer()
	if err != nil {
		session.end(models.CallEndReasonConnection, false)
		return nil, fmt.Errorf("unable to create offer: %v", err)
	}
	if err := pc.SetLocalDescription(offer); err != nil {
		session.end(models.CallEndReasonConnection, false)
		return nil, fmt.Errorf("unable to set local description: %v", err)
	}

	session.broadcast(models.SignalPayload{
		CallID: callId,
		Type:   models.SignalOffer,
		Offer:  &offer,
	})

	return session, nil
}

// AnswerCall runs the callee side after the user accepted: apply the offer,
// create and publish the answer.
func AnswerCall(hub *transport.Hub, callId string, self uint, pc PeerConnection, media MediaStream, recorder Recorder, offer models.SessionDescription, onState func(State)) (*Session, error) {
	session := newSession(hub, callId, self, pc, media, recorder, onState)

	if err := pc.SetRemoteDescription(offer); err != nil {
		session.end(models.CallEndReasonConnection, false)
		return nil, fmt.Errorf("unable to apply offer: %v", err)
	}

	session.mu.Lock()
	session.remoteSet = true
	session.flushPendingLocked()
	session.mu.Unlock()

	answer, err := pc.CreateAnswer()
	if err != nil {
		session.end(models.CallEndReasonConnection, false)
		return nil, fmt.Errorf("unable to create answer: %v", err)
	}
	if err := pc.SetLocalDescription(answer); err != nil {
		session.end(models.CallEndReasonConnection, false)
		return nil, fmt.Errorf("unable to set local description: %v", err)
	}

	session.broadcast(models.SignalPayload{
		CallID: callId,
		Type:   models.SignalAnswer,
		Answer: &answer,
	})

	return session, nil
}

// Decline rejects a ringing call without ever establishing media: no peer
// connection, no capture, just the end-call signal and the audit write.
func Decline(hub *transport.Hub, callId string, self uint, recorder Recorder) {
	if recorder == nil {
		recorder = NoopRecorder{}
	}
	hub.Broadcast(channelName(callId), models.NewEnvelope(self, models.SignalPayload{
		CallID: callId,
		Type:   models.SignalEndCall,
		Reason: models.CallEndReasonDeclined,
	}))
	recorder.MarkEnded(callId, models.CallEndReasonDeclined)
}

func (s *Session) CallID() string {
	return s.callId
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) EndReason() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.endReason
}

// AddLocalCandidate publishes a locally discovered ICE candidate to the peer.
func (s *Session) AddLocalCandidate(candidate models.ICECandidate) {
	s.broadcast(models.SignalPayload{
		CallID:    s.callId,
		Type:      models.SignalCandidate,
		Candidate: &candidate,
	})
}

// HandleConnectionState is the peer connection's state callback.
// Connected flips the call active; disconnection or failure ends it within
// the same callback cycle.
func (s *Session) HandleConnectionState(state ConnectionState) {
	switch state {
	case ConnectionConnected:
		s.mu.Lock()
		if s.state != StateConnecting {
			s.mu.Unlock()
			return
		}
		s.state = StateActive
		s.mu.Unlock()
		s.recorder.MarkAnswered(s.callId)
		s.onState(StateActive)
	case ConnectionDisconnected, ConnectionFailed:
		s.end(models.CallEndReasonConnection, true)
	}
}

// SetMuted and SetVideoEnabled are local track toggles; the state machine is
// not involved.
func (s *Session) SetMuted(muted bool) {
	s.media.SetAudioEnabled(!muted)
}

func (s *Session) SetVideoEnabled(enabled bool) {
	s.media.SetVideoEnabled(enabled)
}

// ShareScreen swaps the outgoing video track on the live connection.
func (s *Session) ShareScreen(trackId string) error {
	return s.pc.ReplaceVideoTrack(trackId)
}

// End hangs up locally and notifies the peer.
func (s *Session) End(reason string) {
	if len(reason) == 0 {
		reason = models.CallEndReasonHangup
	}
	s.end(reason, true)
}

func (s *Session) broadcast(payload models.SignalPayload) {
	s.hub.Broadcast(channelName(s.callId), models.NewEnvelope(s.self, payload))
}

func (s *Session) receiveLoop() {
	for envelope := range s.sub.C() {
		s.handle(envelope)
	}
}

func (s *Session) handle(envelope models.Envelope) {
	if envelope.SenderID == s.self {
		return
	}

	payload, err := envelope.Decode()
	if err != nil {
		log.Warn().Err(err).Str("call", s.callId).Msg("Dropping malformed signaling message...")
		return
	}

	signal, ok := payload.(*models.SignalPayload)
	if !ok || signal.CallID != s.callId {
		return
	}

	switch signal.Type {
	case models.SignalOffer:
		// The offer is consumed before the session exists (AnswerCall);
		// receiving one here means it is our own leg's echo or a stray.
	case models.SignalAnswer:
		if signal.Answer == nil {
			return
		}
		if err := s.pc.SetRemoteDescription(*signal.Answer); err != nil {
			log.Error().Err(err).Str("call", s.callId).Msg("Unable to apply answer, ending call...")
			s.end(models.CallEndReasonConnection, true)
			return
		}
		s.mu.Lock()
		s.remoteSet = true
		s.flushPendingLocked()
		s.mu.Unlock()
	case models.SignalCandidate:
		if signal.Candidate == nil {
			return
		}
		s.mu.Lock()
		if !s.remoteSet {
			s.pending = append(s.pending, *signal.Candidate)
			s.mu.Unlock()
			return
		}
		s.mu.Unlock()
		if err := s.pc.AddCandidate(*signal.Candidate); err != nil {
			log.Warn().Err(err).Str("call", s.callId).Msg("Dropping unusable ICE candidate...")
		}
	case models.SignalEndCall:
		reason := signal.Reason
		if len(reason) == 0 {
			reason = models.CallEndReasonHangup
		}
		s.end(reason, false)
	}
}

// flushPendingLocked applies buffered candidates in receipt order, exactly
// once. Caller holds s.mu.
func (s *Session) flushPendingLocked() {
	for _, candidate := range s.pending {
		if err := s.pc.AddCandidate(candidate); err != nil {
			log.Warn().Err(err).Str("call", s.callId).Msg("Dropping unusable ICE candidate...")
		}
	}
	s.pending = nil
}

// end is the single teardown path: close the peer connection, stop local
// media, unsubscribe, land the audit status. Ended is terminal; a second call
// is a no-op.
func (s *Session) end(reason string, notifyPeer bool) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.state = StateEnded
	s.endReason = reason
	s.mu.Unlock()

	if notifyPeer {
		s.broadcast(models.SignalPayload{
			CallID: s.callId,
			Type:   models.SignalEndCall,
			Reason: reason,
		})
	}

	s.pc.Close()
	s.media.Close()
	s.sub.Close()

	s.recorder.MarkEnded(s.callId, reason)
	s.onState(StateEnded)
}
