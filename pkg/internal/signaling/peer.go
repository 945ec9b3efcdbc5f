package signaling

import "github.com/caretransit/commlink/pkg/internal/models"

// PeerConnection abstracts the platform media stack doing the actual
// offer/answer negotiation. The session owns exactly one and never shares it
// across calls.
type PeerConnection interface {
	CreateOffer() (models.SessionDescription, error)
	CreateAnswer() (models.SessionDescription, error)
	SetLocalDescription(models.SessionDescription) error
	SetRemoteDescription(models.SessionDescription) error
	AddCandidate(models.ICECandidate) error
	// ReplaceVideoTrack swaps the outgoing video track in place, which is how
	// screen share works: no renegotiation.
	ReplaceVideoTrack(trackId string) error
	Close()
}

// MediaStream is the local camera+microphone bundle. Mute and camera toggles
// are track-level and never touch the signaling state machine.
type MediaStream interface {
	SetAudioEnabled(enabled bool)
	SetVideoEnabled(enabled bool)
	Close()
}

// Recorder lands call status transitions in the audit row. Implementations
// must be fire-and-forget: the live call never blocks on a failed write.
type Recorder interface {
	MarkAnswered(callId string)
	MarkEnded(callId string, reason string)
}

// NoopRecorder is for sessions whose audit trail is handled elsewhere.
type NoopRecorder struct{}

func (NoopRecorder) MarkAnswered(string) {}

func (NoopRecorder) MarkEnded(string, string) {}
