package models

import (
	"fmt"

	jsoniter "github.com/json-iterator/go"
)

// Broadcast event names carried by the channel transport. The set is closed;
// receivers handle every variant exhaustively and drop anything else as a
// decode error.
const (
	EventUserJoined = "user-joined"
	EventUserLeft   = "user-left"
	EventAudioStart = "audio-start"
	EventAudioStop  = "audio-stop"
	EventAudioChunk = "audio-chunk"
	EventSignal     = "signal"
)

type EventPayload interface {
	EventName() string
}

type UserJoinedPayload struct {
	UserID uint        `json:"userId"`
	Name   string      `json:"name"`
	Role   AccountRole `json:"role,omitempty"`
}

func (UserJoinedPayload) EventName() string { return EventUserJoined }

type UserLeftPayload struct {
	UserID uint `json:"userId"`
}

func (UserLeftPayload) EventName() string { return EventUserLeft }

type AudioStartPayload struct {
	UserID uint   `json:"userId"`
	Name   string `json:"name"`
}

func (AudioStartPayload) EventName() string { return EventAudioStart }

type AudioStopPayload struct {
	UserID uint `json:"userId"`
}

func (AudioStopPayload) EventName() string { return EventAudioStop }

type AudioChunkPayload struct {
	UserID uint `json:"userId"`
	// AudioData is one base64-encoded PCM frame.
	AudioData string `json:"audioData"`
}

func (AudioChunkPayload) EventName() string { return EventAudioChunk }

type SignalType = string

const (
	SignalOffer     = SignalType("offer")
	SignalAnswer    = SignalType("answer")
	SignalCandidate = SignalType("ice-candidate")
	SignalEndCall   = SignalType("end-call")
)

type SessionDescription struct {
	Type string `json:"type"`
	SDP  string `json:"sdp"`
}

type ICECandidate struct {
	Candidate     string  `json:"candidate"`
	SDPMid        *string `json:"sdpMid,omitempty"`
	SDPMLineIndex *uint16 `json:"sdpMLineIndex,omitempty"`
}

// SignalPayload is the wire shape of one signaling message, always scoped to
// exactly one call via CallID.
type SignalPayload struct {
	CallID    string              `json:"callId"`
	Type      SignalType          `json:"type"`
	Offer     *SessionDescription `json:"offer,omitempty"`
	Answer    *SessionDescription `json:"answer,omitempty"`
	Candidate *ICECandidate       `json:"candidate,omitempty"`
	Reason    string              `json:"reason,omitempty"`
}

func (SignalPayload) EventName() string { return EventSignal }

// Envelope is what actually travels on a channel: the event name, the sender
// (stamped by the transport edge, never trusted from the client body), and the
// encoded payload.
type Envelope struct {
	Event    string              `json:"event"`
	SenderID uint                `json:"sender_id"`
	Payload  jsoniter.RawMessage `json:"payload"`
}

func NewEnvelope(senderId uint, payload EventPayload) Envelope {
	raw, _ := jsoniter.Marshal(payload)
	return Envelope{
		Event:    payload.EventName(),
		SenderID: senderId,
		Payload:  raw,
	}
}

func (v Envelope) Marshal() []byte {
	raw, _ := jsoniter.Marshal(v)
	return raw
}

// Decode maps the envelope back onto its typed payload. Unknown event names
// and malformed payloads are errors; callers drop the single message and keep
// the session alive.
func (v Envelope) Decode() (EventPayload, error) {
	var out EventPayload
	switch v.Event {
	case EventUserJoined:
		out = &UserJoinedPayload{}
	case EventUserLeft:
		out = &UserLeftPayload{}
	case EventAudioStart:
		out = &AudioStartPayload{}
	case EventAudioStop:
		out = &AudioStopPayload{}
	case EventAudioChunk:
		out = &AudioChunkPayload{}
	case EventSignal:
		out = &SignalPayload{}
	default:
		return nil, fmt.Errorf("unknown broadcast event: %s", v.Event)
	}
	if err := jsoniter.Unmarshal(v.Payload, out); err != nil {
		return nil, fmt.Errorf("unable to decode %s payload: %v", v.Event, err)
	}
	return out, nil
}
